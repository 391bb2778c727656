// Package economy composes the ledger, the marketplace, and the collective
// task engines into one unit for the simulation driver, and carries the
// economy event feed the API stream and the archive consume.
package economy

import (
	"sync"

	"github.com/talgya/crossroads-economy/internal/collective"
	"github.com/talgya/crossroads-economy/internal/entropy"
	"github.com/talgya/crossroads-economy/internal/ledger"
	"github.com/talgya/crossroads-economy/internal/market"
)

// Event is a notable economy occurrence, published by the driver after
// each operation. The core components themselves stay silent.
type Event struct {
	Tick        uint64 `json:"tick"`
	Category    string `json:"category"` // "transfer", "market", "task", "interest"
	Description string `json:"description"`
}

// Economy is the facade over the token economy core. One ledger and one
// marketplace serve all collectives; task engines are created per
// collective on first use and share the economy's entropy source.
type Economy struct {
	Ledger *ledger.Ledger
	Market *market.Market

	rng    entropy.Source
	skills collective.SkillLookup
	roles  collective.RoleLookup

	mu      sync.Mutex
	engines map[string]*collective.Engine
	order   []string
	events  []Event
	dropped int // events trimmed off the front of the window
	subs    []chan Event
}

// New wires a fresh economy around the given registry lookups and entropy
// source.
func New(skills collective.SkillLookup, roles collective.RoleLookup, rng entropy.Source) *Economy {
	l := ledger.New()
	return &Economy{
		Ledger:  l,
		Market:  market.New(l),
		rng:     rng,
		skills:  skills,
		roles:   roles,
		engines: make(map[string]*collective.Engine),
	}
}

// EngineFor returns the task engine of a collective, creating it on first
// use.
func (e *Economy) EngineFor(collectiveID string) *collective.Engine {
	e.mu.Lock()
	defer e.mu.Unlock()
	eng, ok := e.engines[collectiveID]
	if !ok {
		eng = collective.NewEngine(collectiveID, e.Ledger, e.skills, e.roles, e.rng)
		e.engines[collectiveID] = eng
		e.order = append(e.order, collectiveID)
	}
	return eng
}

// Engines returns all task engines in creation order.
func (e *Economy) Engines() []*collective.Engine {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*collective.Engine, 0, len(e.order))
	for _, id := range e.order {
		out = append(out, e.engines[id])
	}
	return out
}

// Tasks returns copies of every collective's tasks, engines in creation
// order.
func (e *Economy) Tasks() []collective.Task {
	var out []collective.Task
	for _, eng := range e.Engines() {
		out = append(out, eng.Tasks()...)
	}
	return out
}

// Publish records an economy event and fans it out to subscribers. Slow
// subscribers drop events rather than block the simulation. The sends stay
// under the mutex: they can never block, and cancel closes subscriber
// channels under the same mutex, so a send can never hit a closed channel.
func (e *Economy) Publish(tick uint64, category, description string) {
	ev := Event{Tick: tick, Category: category, Description: description}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.events = append(e.events, ev)
	if over := len(e.events) - maxEvents; over > 0 {
		e.dropped += over
		e.events = e.events[over:]
	}
	for _, ch := range e.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// maxEvents bounds the in-memory event window served by the API.
const maxEvents = 2048

// RecentEvents returns up to limit of the most recent events, oldest
// first.
func (e *Economy) RecentEvents(limit int) []Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := len(e.events)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]Event, n)
	copy(out, e.events[len(e.events)-n:])
	return out
}

// EventsSince returns a copy of every event at absolute position n and
// beyond, oldest first. Positions count all events ever published; events
// trimmed out of the window are gone. Used by the archive to flush
// incrementally, mirroring the ledger's TransfersSince.
func (e *Economy) EventsSince(n int) []Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	if n < e.dropped {
		n = e.dropped
	}
	i := n - e.dropped
	if i >= len(e.events) {
		return nil
	}
	out := make([]Event, len(e.events)-i)
	copy(out, e.events[i:])
	return out
}

// Subscribe registers an event channel. The returned cancel func removes
// it; the channel is closed on cancel.
func (e *Economy) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 64)

	e.mu.Lock()
	e.subs = append(e.subs, ch)
	e.mu.Unlock()

	cancel := func() {
		e.mu.Lock()
		for i, sub := range e.subs {
			if sub == ch {
				e.subs = append(e.subs[:i], e.subs[i+1:]...)
				close(ch)
				break
			}
		}
		e.mu.Unlock()
	}
	return ch, cancel
}
