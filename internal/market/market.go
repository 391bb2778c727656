// Package market owns marketplace listings and settles purchases against
// the ledger. A listing settles at most once: the status flip and the funds
// transfer happen under one lock, so two concurrent purchases of the same
// listing can never both succeed.
package market

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/talgya/crossroads-economy/internal/ledger"
)

// ErrInvalidPrice rejects listings with a non-positive price.
var ErrInvalidPrice = errors.New("invalid price")

// Status is the lifecycle state of a listing.
type Status string

const (
	StatusActive    Status = "active"
	StatusSold      Status = "sold"
	StatusCancelled Status = "cancelled"
)

// Listing is a fixed-price marketplace offer. Immutable once sold.
type Listing struct {
	ID          string            `json:"id"`
	Seller      string            `json:"seller"`
	Title       string            `json:"title"`
	Description string            `json:"description"`
	Price       int64             `json:"price"`
	Category    string            `json:"category"`
	Properties  map[string]string `json:"properties,omitempty"`
	Status      Status            `json:"status"`
	Buyer       string            `json:"buyer,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}

// Market holds listings keyed by id, in stable creation order.
type Market struct {
	mu       sync.Mutex
	ledger   *ledger.Ledger
	listings map[string]*Listing
	order    []string
}

// New creates a marketplace settling through the given ledger.
func New(l *ledger.Ledger) *Market {
	return &Market{
		ledger:   l,
		listings: make(map[string]*Listing),
	}
}

// CreateListing publishes a new active listing and returns a copy of it.
func (m *Market) CreateListing(seller, title, description string, price int64, category string, properties map[string]string) (Listing, error) {
	if price <= 0 {
		return Listing{}, ErrInvalidPrice
	}

	var props map[string]string
	if len(properties) > 0 {
		props = make(map[string]string, len(properties))
		for k, v := range properties {
			props[k] = v
		}
	}

	l := &Listing{
		ID:          "lst_" + uuid.NewString(),
		Seller:      seller,
		Title:       title,
		Description: description,
		Price:       price,
		Category:    category,
		Properties:  props,
		Status:      StatusActive,
		CreatedAt:   time.Now().UTC(),
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.listings[l.ID] = l
	m.order = append(m.order, l.ID)
	return *l, nil
}

// Listing returns a copy of the listing with the given id.
func (m *Market) Listing(id string) (Listing, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.listings[id]
	if !ok {
		return Listing{}, false
	}
	return *l, true
}

// ActiveListings returns copies of all active listings in creation order.
func (m *Market) ActiveListings() []Listing {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Listing, 0, len(m.order))
	for _, id := range m.order {
		if l := m.listings[id]; l.Status == StatusActive {
			out = append(out, *l)
		}
	}
	return out
}

// Listings returns copies of all listings in creation order, any status.
func (m *Market) Listings() []Listing {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Listing, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, *m.listings[id])
	}
	return out
}

// Cancel withdraws an active listing. Only the seller may cancel; sold or
// already-cancelled listings are left untouched. Returns whether the
// listing was cancelled.
func (m *Market) Cancel(id, seller string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.listings[id]
	if !ok || l.Status != StatusActive || l.Seller != seller {
		return false
	}
	l.Status = StatusCancelled
	return true
}

// Purchase settles a listing for the buyer. It reports false, never an
// error, when the listing is unknown or inactive, when the buyer is the
// seller, or when the buyer cannot cover the price. On success the listing
// flips to sold and one ledger transfer moves the full price from buyer to
// seller. The market lock is held across the status check and the
// transfer, so at most one purchase ever succeeds per listing.
func (m *Market) Purchase(id, buyer string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.listings[id]
	if !ok || l.Status != StatusActive || l.Seller == buyer || buyer == "" {
		return false
	}

	if _, err := m.ledger.Transfer(buyer, l.Seller, l.Price, "purchase: "+l.Title); err != nil {
		return false
	}

	l.Status = StatusSold
	l.Buyer = buyer
	return true
}
