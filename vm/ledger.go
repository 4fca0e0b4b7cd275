package vm

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/tliron/commonlog"
	_ "modernc.org/sqlite"

	"github.com/chazu/tiervm/ir"
)

// Ledger persists the content keys of bodies that failed native
// compilation, so an identical body is never submitted again, even after
// a restart. A nil *Ledger is a valid, empty ledger.
type Ledger struct {
	db   *sql.DB
	path string
	mu   sync.Mutex
	log  commonlog.Logger
}

// FailureRecord is one ledger row.
type FailureRecord struct {
	Key        ir.Key
	Unit       string
	Reason     string
	RecordedAt time.Time
}

// OpenLedger opens (creating if needed) the ledger database at path.
func OpenLedger(path string) (*Ledger, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating ledger directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening ledger: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS compile_failures (
		key TEXT PRIMARY KEY,
		unit TEXT NOT NULL,
		reason TEXT NOT NULL,
		recorded_at INTEGER NOT NULL
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating table: %w", err)
	}
	return &Ledger{db: db, path: path, log: commonlog.GetLogger("tiervm.ledger")}, nil
}

// Path returns the database path.
func (l *Ledger) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// Record stores a failure for k, replacing any previous row.
func (l *Ledger) Record(k ir.Key, unit, reason string) error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	_, err := l.db.Exec(
		"INSERT OR REPLACE INTO compile_failures (key, unit, reason, recorded_at) VALUES (?, ?, ?, ?)",
		k.String(), unit, reason, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("recording failure for %s: %w", unit, err)
	}
	l.log.Debugf("recorded failure %s for %s", k, unit)
	return nil
}

// Failed reports whether k has a recorded failure.
func (l *Ledger) Failed(k ir.Key) (bool, error) {
	if l == nil {
		return false, nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	var one int
	err := l.db.QueryRow("SELECT 1 FROM compile_failures WHERE key = ?", k.String()).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("querying ledger: %w", err)
	}
	return true, nil
}

// Lookup returns the record for k.
func (l *Ledger) Lookup(k ir.Key) (*FailureRecord, error) {
	if l == nil {
		return nil, nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	rec := &FailureRecord{Key: k}
	var at int64
	err := l.db.QueryRow("SELECT unit, reason, recorded_at FROM compile_failures WHERE key = ?", k.String()).
		Scan(&rec.Unit, &rec.Reason, &at)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying ledger: %w", err)
	}
	rec.RecordedAt = time.Unix(at, 0)
	return rec, nil
}

// Count returns the number of recorded failures.
func (l *Ledger) Count() (int, error) {
	if l == nil {
		return 0, nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	var n int
	if err := l.db.QueryRow("SELECT COUNT(*) FROM compile_failures").Scan(&n); err != nil {
		return 0, fmt.Errorf("counting ledger: %w", err)
	}
	return n, nil
}

// Close closes the database.
func (l *Ledger) Close() error {
	if l == nil {
		return nil
	}
	return l.db.Close()
}
