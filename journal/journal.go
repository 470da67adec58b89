// Package journal keeps a local audit trail of every transaction this
// client submits: one row per submission, updated in place as the outcome
// arrives. It records the client's own actions only; chain-wide trade
// history belongs to the external indexer.
package journal

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"perpx/logger"
	"perpx/trader"
)

// Entry is one submitted transaction and its recorded outcome.
type Entry struct {
	ID        int64     `json:"id"`
	ClientRef string    `json:"client_ref"`
	Network   string    `json:"network"`
	Wallet    string    `json:"wallet"`
	Op        string    `json:"op"`
	PairIndex int       `json:"pair_index"`
	TxHash    string    `json:"tx_hash"`
	Status    string    `json:"status"`
	Block     int64     `json:"block"`
	GasUsed   int64     `json:"gas_used"`
	Detail    string    `json:"detail"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Journal is a sqlite-backed submission log.
type Journal struct {
	db *sql.DB
}

// Open opens (or creates) the journal database at path.
func Open(path string) (*Journal, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create journal directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal database: %w", err)
	}

	j := &Journal{db: db}
	if err := j.initTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize journal tables: %w", err)
	}

	logger.Infof("✅ Submission journal ready at %s", path)
	return j, nil
}

func (j *Journal) initTables() error {
	_, err := j.db.Exec(`
		CREATE TABLE IF NOT EXISTS submissions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			client_ref TEXT NOT NULL,
			network TEXT NOT NULL,
			wallet TEXT NOT NULL,
			op TEXT NOT NULL,
			pair_index INTEGER DEFAULT 0,
			tx_hash TEXT NOT NULL,
			status TEXT NOT NULL,
			block INTEGER DEFAULT 0,
			gas_used INTEGER DEFAULT 0,
			detail TEXT DEFAULT '',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(client_ref)
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create submissions table: %w", err)
	}

	indices := []string{
		`CREATE INDEX IF NOT EXISTS idx_submissions_wallet ON submissions(network, wallet)`,
		`CREATE INDEX IF NOT EXISTS idx_submissions_tx ON submissions(tx_hash)`,
		`CREATE INDEX IF NOT EXISTS idx_submissions_status ON submissions(network, status)`,
	}
	for _, idx := range indices {
		if _, err := j.db.Exec(idx); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}
	return nil
}

// RecordSubmitted inserts the submitted row. Journal trouble never fails
// the submission itself; it is logged and dropped.
func (j *Journal) RecordSubmitted(rec *trader.SubmissionRecord) {
	if err := j.insert(rec); err != nil {
		logger.Warnf("⚠️ Failed to journal submission %s: %v", rec.TxHash, err)
	}
}

// RecordOutcome updates the row with the final status.
func (j *Journal) RecordOutcome(rec *trader.SubmissionRecord) {
	if err := j.update(rec); err != nil {
		logger.Warnf("⚠️ Failed to journal outcome of %s: %v", rec.TxHash, err)
	}
}

func (j *Journal) insert(rec *trader.SubmissionRecord) error {
	now := time.Now().Format(time.RFC3339)
	_, err := j.db.Exec(`
		INSERT INTO submissions (
			client_ref, network, wallet, op, pair_index, tx_hash, status,
			block, gas_used, detail, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rec.ClientRef, rec.Network, rec.Wallet, rec.Op, rec.PairIndex,
		rec.TxHash, rec.Status, rec.Block, rec.GasUsed, rec.Detail, now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to insert submission row: %w", err)
	}
	return nil
}

func (j *Journal) update(rec *trader.SubmissionRecord) error {
	now := time.Now().Format(time.RFC3339)
	_, err := j.db.Exec(`
		UPDATE submissions SET
			status = ?, block = ?, gas_used = ?, detail = ?, updated_at = ?
		WHERE client_ref = ?
	`,
		rec.Status, rec.Block, rec.GasUsed, rec.Detail, now, rec.ClientRef,
	)
	if err != nil {
		return fmt.Errorf("failed to update submission row: %w", err)
	}
	return nil
}

// ByTxHash returns the entry for a transaction hash, or nil when unknown.
func (j *Journal) ByTxHash(txHash string) (*Entry, error) {
	row := j.db.QueryRow(selectColumns+` FROM submissions WHERE tx_hash = ?`, txHash)
	entry, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return entry, err
}

// Recent returns the latest entries for a network, newest first.
func (j *Journal) Recent(network string, limit int) ([]*Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := j.db.Query(selectColumns+`
		FROM submissions WHERE network = ?
		ORDER BY id DESC LIMIT ?
	`, network, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent submissions: %w", err)
	}
	defer rows.Close()
	return collectEntries(rows)
}

// Unresolved returns entries whose outcome was never observed (still
// submitted, or timed out). These are the rows to reconcile against the
// chain after a crash or a patience-window expiry.
func (j *Journal) Unresolved(network string) ([]*Entry, error) {
	rows, err := j.db.Query(selectColumns+`
		FROM submissions WHERE network = ? AND status IN (?, ?)
		ORDER BY id ASC
	`, network, trader.StatusSubmitted, trader.StatusTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to query unresolved submissions: %w", err)
	}
	defer rows.Close()
	return collectEntries(rows)
}

// Close closes the underlying database.
func (j *Journal) Close() error {
	return j.db.Close()
}

const selectColumns = `
	SELECT id, client_ref, network, wallet, op, pair_index, tx_hash,
		status, block, gas_used, detail, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEntry(row rowScanner) (*Entry, error) {
	var e Entry
	var createdAt, updatedAt sql.NullString
	err := row.Scan(
		&e.ID, &e.ClientRef, &e.Network, &e.Wallet, &e.Op, &e.PairIndex,
		&e.TxHash, &e.Status, &e.Block, &e.GasUsed, &e.Detail,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}
	if createdAt.Valid {
		e.CreatedAt, _ = time.Parse(time.RFC3339, createdAt.String)
	}
	if updatedAt.Valid {
		e.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt.String)
	}
	return &e, nil
}

func collectEntries(rows *sql.Rows) ([]*Entry, error) {
	var out []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan submission row: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
