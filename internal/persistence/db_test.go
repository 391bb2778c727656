package persistence

import (
	"path/filepath"
	"testing"

	"github.com/talgya/crossroads-economy/internal/collective"
	"github.com/talgya/crossroads-economy/internal/economy"
	"github.com/talgya/crossroads-economy/internal/entropy"
	"github.com/talgya/crossroads-economy/internal/ledger"
	"github.com/talgya/crossroads-economy/internal/market"
	"github.com/talgya/crossroads-economy/internal/registry"
)

func openTemp(t *testing.T) *Archive {
	t.Helper()
	a, err := Open(filepath.Join(t.TempDir(), "audit.db"))
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

func TestTransferArchiveRoundTrip(t *testing.T) {
	a := openTemp(t)

	l := ledger.New()
	l.Credit("A", 100, "seed")
	l.Transfer("A", "B", 30, "gift")

	if err := a.AppendTransfers(l.Transfers()); err != nil {
		t.Fatalf("append: %v", err)
	}
	// Re-appending the same batch is idempotent (primary key).
	if err := a.AppendTransfers(l.Transfers()); err != nil {
		t.Fatalf("re-append: %v", err)
	}

	rows, err := a.RecentTransfers("", 10)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(rows))
	}
	// Most recent first.
	if rows[0].Reason != "gift" || rows[0].Amount != 30 {
		t.Fatalf("rows[0] = %+v", rows[0])
	}

	byAgent, err := a.RecentTransfers("B", 10)
	if err != nil {
		t.Fatalf("query by agent: %v", err)
	}
	if len(byAgent) != 1 || byAgent[0].Recipient != "B" {
		t.Fatalf("byAgent = %+v", byAgent)
	}
}

func TestListingsFullReplace(t *testing.T) {
	a := openTemp(t)

	led := ledger.New()
	m := market.New(led)
	led.Credit("B", 50, "seed")

	l1, _ := m.CreateListing("S", "tools", "", 10, "tools", map[string]string{"k": "v"})
	m.CreateListing("S", "maps", "", 20, "maps", nil)

	if err := a.SaveListings(m.Listings()); err != nil {
		t.Fatalf("save: %v", err)
	}

	// Settle one and save again; the archive must show the new status.
	if !m.Purchase(l1.ID, "B") {
		t.Fatalf("purchase failed")
	}
	if err := a.SaveListings(m.Listings()); err != nil {
		t.Fatalf("re-save: %v", err)
	}

	var statuses []string
	if err := a.conn.Select(&statuses, "SELECT status FROM listings ORDER BY rowid"); err != nil {
		t.Fatalf("select: %v", err)
	}
	if len(statuses) != 2 || statuses[0] != "sold" || statuses[1] != "active" {
		t.Fatalf("statuses = %v", statuses)
	}
}

func TestOutcomesAndEvents(t *testing.T) {
	a := openTemp(t)

	res := collective.Result{
		TaskID:       "task_1",
		Success:      true,
		Participants: map[string]string{"scout": "agent-a"},
		SkillMean:    0.8,
		Probability:  0.7,
		RewardPaid:   30,
	}
	if err := a.AppendTaskOutcome("collective-00", res); err != nil {
		t.Fatalf("append outcome: %v", err)
	}
	if err := a.AppendTaskOutcome("collective-00", collective.Result{TaskID: "task_2"}); err != nil {
		t.Fatalf("append outcome 2: %v", err)
	}

	rows, err := a.RecentOutcomes(10)
	if err != nil {
		t.Fatalf("query outcomes: %v", err)
	}
	if len(rows) != 2 || rows[0].TaskID != "task_2" || rows[1].Success != 1 {
		t.Fatalf("outcomes = %+v", rows)
	}

	events := []economy.Event{
		{Tick: 1, Category: "market", Description: "listed"},
		{Tick: 2, Category: "task", Description: "executed"},
	}
	if err := a.AppendEvents(events); err != nil {
		t.Fatalf("append events: %v", err)
	}
	var n int
	if err := a.conn.Get(&n, "SELECT COUNT(*) FROM events"); err != nil {
		t.Fatalf("count events: %v", err)
	}
	if n != 2 {
		t.Fatalf("events = %d, want 2", n)
	}
}

func TestFlushArchivesEventBurstInFull(t *testing.T) {
	// A burst far larger than any subscriber buffer must reach the
	// archive complete when flushed by position.
	a := openTemp(t)

	reg := registry.New()
	econ := economy.New(reg, reg, entropy.NewSeeded(1))
	const burst = 150
	for i := uint64(1); i <= burst; i++ {
		econ.Publish(i, "market", "burst")
	}

	pos, err := a.Flush(econ.Ledger, econ.Market, econ.EventsSince(0), 0)
	if err != nil {
		t.Fatalf("flush: %v", err)
	}
	if pos != 0 {
		t.Fatalf("transfer pos = %d, want 0 (no transfers)", pos)
	}

	var n int
	if err := a.conn.Get(&n, "SELECT COUNT(*) FROM events"); err != nil {
		t.Fatalf("count events: %v", err)
	}
	if n != burst {
		t.Fatalf("archived events = %d, want %d", n, burst)
	}

	// A second flush from the advanced position appends only the new tail.
	econ.Publish(burst+1, "task", "late")
	if _, err := a.Flush(econ.Ledger, econ.Market, econ.EventsSince(burst), 0); err != nil {
		t.Fatalf("second flush: %v", err)
	}
	if err := a.conn.Get(&n, "SELECT COUNT(*) FROM events"); err != nil {
		t.Fatalf("count events: %v", err)
	}
	if n != burst+1 {
		t.Fatalf("archived events = %d, want %d", n, burst+1)
	}
}

func TestFlushTracksLogPosition(t *testing.T) {
	a := openTemp(t)

	led := ledger.New()
	m := market.New(led)
	led.Credit("A", 100, "seed")
	led.Transfer("A", "B", 10, "t1")

	pos, err := a.Flush(led, m, nil, 0)
	if err != nil {
		t.Fatalf("flush: %v", err)
	}
	if pos != 2 {
		t.Fatalf("pos = %d, want 2", pos)
	}

	led.Transfer("A", "B", 5, "t2")
	pos, err = a.Flush(led, m, nil, pos)
	if err != nil {
		t.Fatalf("second flush: %v", err)
	}
	if pos != 3 {
		t.Fatalf("pos = %d, want 3", pos)
	}

	rows, err := a.RecentTransfers("", 10)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("rows = %d, want 3 (no duplicates)", len(rows))
	}

	if v, err := a.GetMeta("transfer_log_pos"); err != nil || v != "3" {
		t.Fatalf("meta = %q err=%v, want 3", v, err)
	}
}
