// Package ledger is the authoritative balance and transfer store for the
// token economy. It is the sole mutator of balances and staking state; every
// mutation appends to an append-only transfer log whose order matches the
// serialization order of the mutations that produced it.
package ledger

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// SystemAccount is the sentinel sender recorded on minted tokens (initial
// credits, interest accrual). It holds no balance of its own.
const SystemAccount = "system:mint"

var (
	// ErrInvalidAmount rejects non-positive amounts and self-transfers.
	ErrInvalidAmount = errors.New("invalid amount")
	// ErrInsufficientFunds rejects debits beyond the available balance.
	ErrInsufficientFunds = errors.New("insufficient funds")
)

// Transfer is an immutable record of one balance mutation. Minted tokens
// carry SystemAccount as the sender.
type Transfer struct {
	ID        string    `json:"id"`
	Sender    string    `json:"sender"`
	Recipient string    `json:"recipient"`
	Amount    int64     `json:"amount"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

// StakeRecord tracks one agent's staked tokens. Interest accrues onto
// Amount; AccruedTotal counts lifetime interest for reporting.
type StakeRecord struct {
	Agent        string `json:"agent"`
	Amount       int64  `json:"amount"`
	AccruedTotal int64  `json:"accrued_total"`
}

// Ledger owns balances, stakes, and the transfer log. All mutations are
// serialized under one mutex, so concurrent transfers touching the same
// account can never interleave into a negative or doubly-credited balance.
type Ledger struct {
	mu       sync.Mutex
	balances map[string]int64
	stakes   map[string]*StakeRecord
	log      []Transfer
}

// New creates an empty ledger.
func New() *Ledger {
	return &Ledger{
		balances: make(map[string]int64),
		stakes:   make(map[string]*StakeRecord),
	}
}

// Balance returns an agent's spendable balance. Unknown agents have 0; no
// account is created implicitly.
func (l *Ledger) Balance(agent string) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[agent]
}

// Staked returns an agent's staked amount.
func (l *Ledger) Staked(agent string) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	if rec, ok := l.stakes[agent]; ok {
		return rec.Amount
	}
	return 0
}

// TotalSupply returns the sum of all balances plus all staked amounts.
// It changes only through Credit and ApplyInterest.
func (l *Ledger) TotalSupply() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	var total int64
	for _, b := range l.balances {
		total += b
	}
	for _, rec := range l.stakes {
		total += rec.Amount
	}
	return total
}

// Balances returns a copy of every non-zero balance keyed by agent.
func (l *Ledger) Balances() map[string]int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]int64, len(l.balances))
	for agent, b := range l.balances {
		if b != 0 {
			out[agent] = b
		}
	}
	return out
}

// Stakes returns a copy of every stake record, sorted by agent id.
func (l *Ledger) Stakes() []StakeRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]StakeRecord, 0, len(l.stakes))
	for _, rec := range l.stakes {
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Agent < out[j].Agent })
	return out
}

// Credit mints tokens into an agent's balance and logs a system transfer.
func (l *Ledger) Credit(agent string, amount int64, reason string) (Transfer, error) {
	if amount <= 0 || agent == "" {
		return Transfer{}, ErrInvalidAmount
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.balances[agent] += amount
	return l.append(SystemAccount, agent, amount, reason), nil
}

// Transfer moves tokens between two agents. The debit, credit, and log
// append happen atomically: either all three take effect or none do.
func (l *Ledger) Transfer(sender, recipient string, amount int64, reason string) (Transfer, error) {
	if amount <= 0 || sender == recipient || sender == "" || recipient == "" {
		return Transfer{}, ErrInvalidAmount
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.balances[sender] < amount {
		return Transfer{}, ErrInsufficientFunds
	}

	l.balances[sender] -= amount
	l.balances[recipient] += amount
	return l.append(sender, recipient, amount, reason), nil
}

// Stake moves tokens from an agent's balance into its stake record,
// creating the record on first stake.
func (l *Ledger) Stake(agent string, amount int64) error {
	if amount <= 0 || agent == "" {
		return ErrInvalidAmount
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.balances[agent] < amount {
		return ErrInsufficientFunds
	}

	l.balances[agent] -= amount
	rec, ok := l.stakes[agent]
	if !ok {
		rec = &StakeRecord{Agent: agent}
		l.stakes[agent] = rec
	}
	rec.Amount += amount
	return nil
}

// Unstake returns staked tokens to the agent's balance. Fully unstaked
// records are removed.
func (l *Ledger) Unstake(agent string, amount int64) error {
	if amount <= 0 || agent == "" {
		return ErrInvalidAmount
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.stakes[agent]
	if !ok || rec.Amount < amount {
		return ErrInsufficientFunds
	}

	rec.Amount -= amount
	l.balances[agent] += amount
	if rec.Amount == 0 {
		delete(l.stakes, agent)
	}
	return nil
}

// ApplyInterest accrues one pass of interest onto every staked balance and
// returns the total minted. The pass works from a snapshot of the stakes at
// call time: accrual is floor(stake * rate), minimum 1 token per staked
// account, minted as a system transfer with reason "interest". An agent
// staking concurrently with the pass sees no interest until the next pass.
func (l *Ledger) ApplyInterest(rate float64) int64 {
	if rate <= 0 {
		return 0
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	// Snapshot, sorted for a deterministic log order.
	agents := make([]string, 0, len(l.stakes))
	for agent := range l.stakes {
		agents = append(agents, agent)
	}
	sort.Strings(agents)

	var minted int64
	for _, agent := range agents {
		rec := l.stakes[agent]
		accrual := int64(float64(rec.Amount) * rate)
		if accrual < 1 {
			accrual = 1
		}
		rec.Amount += accrual
		rec.AccruedTotal += accrual
		minted += accrual
		l.append(SystemAccount, agent, accrual, "interest")
	}
	return minted
}

// Transfers returns a copy of the full transfer log in serialization order.
func (l *Ledger) Transfers() []Transfer {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Transfer, len(l.log))
	copy(out, l.log)
	return out
}

// TransfersSince returns a copy of the log entries at index n and beyond.
// Used by the archive to flush incrementally.
func (l *Ledger) TransfersSince(n int) []Transfer {
	l.mu.Lock()
	defer l.mu.Unlock()
	if n < 0 {
		n = 0
	}
	if n >= len(l.log) {
		return nil
	}
	out := make([]Transfer, len(l.log)-n)
	copy(out, l.log[n:])
	return out
}

// LogLen returns the number of logged transfers.
func (l *Ledger) LogLen() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.log)
}

// append records a transfer. Caller must hold l.mu.
func (l *Ledger) append(sender, recipient string, amount int64, reason string) Transfer {
	t := Transfer{
		ID:        "tx_" + uuid.NewString(),
		Sender:    sender,
		Recipient: recipient,
		Amount:    amount,
		Reason:    reason,
		Timestamp: time.Now().UTC(),
	}
	l.log = append(l.log, t)
	return t
}
