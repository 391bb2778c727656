// Package persistence provides the SQLite audit archive of the economy:
// transfers, listings, and task outcomes appended for offline inspection.
// It is a journal, not a save file; nothing is ever restored from it.
package persistence

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/talgya/crossroads-economy/internal/collective"
	"github.com/talgya/crossroads-economy/internal/economy"
	"github.com/talgya/crossroads-economy/internal/ledger"
	"github.com/talgya/crossroads-economy/internal/market"
)

// Archive wraps a SQLite connection for economy audit storage.
type Archive struct {
	conn *sqlx.DB
}

// Open opens or creates a SQLite archive at the given path.
func Open(path string) (*Archive, error) {
	conn, err := sqlx.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}

	a := &Archive{conn: conn}
	if err := a.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return a, nil
}

// Close closes the database connection.
func (a *Archive) Close() error {
	return a.conn.Close()
}

func (a *Archive) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS transfers (
		id TEXT PRIMARY KEY,
		sender TEXT NOT NULL,
		recipient TEXT NOT NULL,
		amount INTEGER NOT NULL,
		reason TEXT NOT NULL,
		timestamp TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS listings (
		id TEXT PRIMARY KEY,
		seller TEXT NOT NULL,
		title TEXT NOT NULL,
		description TEXT NOT NULL,
		price INTEGER NOT NULL,
		category TEXT NOT NULL,
		status TEXT NOT NULL,
		buyer TEXT,
		properties_json TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS task_outcomes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		task_id TEXT NOT NULL,
		collective_id TEXT NOT NULL,
		success INTEGER NOT NULL,
		skill_mean REAL NOT NULL,
		probability REAL NOT NULL,
		reward_paid INTEGER NOT NULL,
		participants_json TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		tick INTEGER NOT NULL,
		category TEXT NOT NULL,
		description TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_transfers_sender ON transfers(sender);
	CREATE INDEX IF NOT EXISTS idx_transfers_recipient ON transfers(recipient);
	CREATE INDEX IF NOT EXISTS idx_events_tick ON events(tick);
	`
	_, err := a.conn.Exec(schema)
	return err
}

// AppendTransfers writes a batch of transfer records.
func (a *Archive) AppendTransfers(transfers []ledger.Transfer) error {
	if len(transfers) == 0 {
		return nil
	}

	tx, err := a.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Preparex(`INSERT OR IGNORE INTO transfers
		(id, sender, recipient, amount, reason, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, t := range transfers {
		_, err := stmt.Exec(t.ID, t.Sender, t.Recipient, t.Amount, t.Reason, t.Timestamp.Format("2006-01-02T15:04:05.000Z07:00"))
		if err != nil {
			return fmt.Errorf("insert transfer %s: %w", t.ID, err)
		}
	}

	return tx.Commit()
}

// SaveListings writes all listings (full replace) so the archive reflects
// the latest status of each.
func (a *Archive) SaveListings(listings []market.Listing) error {
	tx, err := a.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM listings"); err != nil {
		return err
	}

	stmt, err := tx.Preparex(`INSERT INTO listings
		(id, seller, title, description, price, category, status, buyer, properties_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, l := range listings {
		propsJSON, _ := json.Marshal(l.Properties)
		_, err := stmt.Exec(
			l.ID, l.Seller, l.Title, l.Description, l.Price,
			l.Category, string(l.Status), l.Buyer, string(propsJSON),
			l.CreatedAt.Format("2006-01-02T15:04:05.000Z07:00"),
		)
		if err != nil {
			return fmt.Errorf("insert listing %s: %w", l.ID, err)
		}
	}

	return tx.Commit()
}

// AppendTaskOutcome records one task execution result.
func (a *Archive) AppendTaskOutcome(collectiveID string, res collective.Result) error {
	participantsJSON, _ := json.Marshal(res.Participants)
	success := 0
	if res.Success {
		success = 1
	}
	_, err := a.conn.Exec(`INSERT INTO task_outcomes
		(task_id, collective_id, success, skill_mean, probability, reward_paid, participants_json)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		res.TaskID, collectiveID, success, res.SkillMean, res.Probability,
		res.RewardPaid, string(participantsJSON),
	)
	return err
}

// AppendEvents writes a batch of economy events.
func (a *Archive) AppendEvents(events []economy.Event) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := a.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, e := range events {
		_, err := tx.Exec(
			"INSERT INTO events (tick, category, description) VALUES (?, ?, ?)",
			e.Tick, e.Category, e.Description,
		)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// SaveMeta stores a key-value pair in archive metadata.
func (a *Archive) SaveMeta(key, value string) error {
	_, err := a.conn.Exec(
		"INSERT OR REPLACE INTO meta (key, value) VALUES (?, ?)",
		key, value,
	)
	return err
}

// GetMeta retrieves a metadata value.
func (a *Archive) GetMeta(key string) (string, error) {
	var value string
	err := a.conn.Get(&value, "SELECT value FROM meta WHERE key = ?", key)
	return value, err
}

// TransferRow is a transfer as read back from the archive.
type TransferRow struct {
	ID        string `db:"id" json:"id"`
	Sender    string `db:"sender" json:"sender"`
	Recipient string `db:"recipient" json:"recipient"`
	Amount    int64  `db:"amount" json:"amount"`
	Reason    string `db:"reason" json:"reason"`
	Timestamp string `db:"timestamp" json:"timestamp"`
}

// RecentTransfers returns the most recent N archived transfers involving
// the given agent, or any agent when agent is empty.
func (a *Archive) RecentTransfers(agent string, limit int) ([]TransferRow, error) {
	var rows []TransferRow
	var err error
	if agent == "" {
		err = a.conn.Select(&rows,
			"SELECT id, sender, recipient, amount, reason, timestamp FROM transfers ORDER BY rowid DESC LIMIT ?",
			limit,
		)
	} else {
		err = a.conn.Select(&rows,
			`SELECT id, sender, recipient, amount, reason, timestamp FROM transfers
			 WHERE sender = ? OR recipient = ? ORDER BY rowid DESC LIMIT ?`,
			agent, agent, limit,
		)
	}
	return rows, err
}

// OutcomeRow is a task outcome as read back from the archive.
type OutcomeRow struct {
	TaskID       string  `db:"task_id" json:"task_id"`
	CollectiveID string  `db:"collective_id" json:"collective_id"`
	Success      int     `db:"success" json:"success"`
	SkillMean    float64 `db:"skill_mean" json:"skill_mean"`
	Probability  float64 `db:"probability" json:"probability"`
	RewardPaid   int64   `db:"reward_paid" json:"reward_paid"`
}

// RecentOutcomes returns the most recent N archived task outcomes.
func (a *Archive) RecentOutcomes(limit int) ([]OutcomeRow, error) {
	var rows []OutcomeRow
	err := a.conn.Select(&rows,
		`SELECT task_id, collective_id, success, skill_mean, probability, reward_paid
		 FROM task_outcomes ORDER BY id DESC LIMIT ?`,
		limit,
	)
	return rows, err
}

// Flush writes one incremental snapshot: new transfers since the last
// flush, the current listing table, and buffered events. Returns the new
// transfer log position.
func (a *Archive) Flush(l *ledger.Ledger, m *market.Market, events []economy.Event, sinceTransfer int) (int, error) {
	transfers := l.TransfersSince(sinceTransfer)
	if err := a.AppendTransfers(transfers); err != nil {
		return sinceTransfer, fmt.Errorf("flush transfers: %w", err)
	}
	if err := a.SaveListings(m.Listings()); err != nil {
		return sinceTransfer, fmt.Errorf("flush listings: %w", err)
	}
	if err := a.AppendEvents(events); err != nil {
		return sinceTransfer, fmt.Errorf("flush events: %w", err)
	}

	pos := sinceTransfer + len(transfers)
	if err := a.SaveMeta("transfer_log_pos", fmt.Sprintf("%d", pos)); err != nil {
		return pos, fmt.Errorf("flush meta: %w", err)
	}

	slog.Debug("archive flushed", "new_transfers", len(transfers), "events", len(events))
	return pos, nil
}
