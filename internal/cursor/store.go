// Package cursor persists per-folder sync positions so incremental IMAP
// syncs survive process restarts.
package cursor

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS sync_cursors (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    account TEXT NOT NULL,
    folder TEXT NOT NULL,
    last_uid INTEGER NOT NULL DEFAULT 0,
    uid_validity INTEGER NOT NULL DEFAULT 0,
    synced_at DATETIME,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    UNIQUE(account, folder)
);

CREATE INDEX IF NOT EXISTS idx_cursors_account ON sync_cursors(account);
`

// ErrNotFound is returned when no cursor exists for the account and folder.
var ErrNotFound = errors.New("cursor not found")

// Cursor records where one folder's incremental sync left off.
type Cursor struct {
	ID          int64     `db:"id"`
	Account     string    `db:"account"`
	Folder      string    `db:"folder"`
	LastUID     uint32    `db:"last_uid"`
	UIDValidity uint32    `db:"uid_validity"`
	SyncedAt    time.Time `db:"synced_at"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

// Store wraps sqlx.DB
type Store struct {
	*sqlx.DB
}

// Open creates a new cursor store at path
func Open(path string) (*Store, error) {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// Connect with WAL mode and a busy timeout
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000", path)
	db, err := sqlx.Connect("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return &Store{db}, nil
}

// Migrate runs database migrations
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// Get returns the cursor for one folder of one account.
func (s *Store) Get(ctx context.Context, account, folder string) (*Cursor, error) {
	var c Cursor
	query := `SELECT * FROM sync_cursors WHERE account = ? AND folder = ?`
	err := s.GetContext(ctx, &c, query, account, folder)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cursor: %w", err)
	}
	return &c, nil
}

// Save upserts the cursor after a completed sync.
func (s *Store) Save(ctx context.Context, account, folder string, lastUID, uidValidity uint32) error {
	query := `
		INSERT INTO sync_cursors (account, folder, last_uid, uid_validity, synced_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(account, folder) DO UPDATE SET
			last_uid = excluded.last_uid,
			uid_validity = excluded.uid_validity,
			synced_at = excluded.synced_at,
			updated_at = excluded.updated_at
	`
	now := time.Now()
	if _, err := s.ExecContext(ctx, query, account, folder, lastUID, uidValidity, now, now); err != nil {
		return fmt.Errorf("failed to save cursor: %w", err)
	}
	return nil
}

// Reset drops the cursor, forcing the next sync of the folder to start
// from scratch. Used when the server reports a new UIDVALIDITY.
func (s *Store) Reset(ctx context.Context, account, folder string) error {
	if _, err := s.ExecContext(ctx, `DELETE FROM sync_cursors WHERE account = ? AND folder = ?`, account, folder); err != nil {
		return fmt.Errorf("failed to reset cursor: %w", err)
	}
	return nil
}

// ListByAccount returns every folder cursor for one account.
func (s *Store) ListByAccount(ctx context.Context, account string) ([]Cursor, error) {
	var out []Cursor
	query := `SELECT * FROM sync_cursors WHERE account = ? ORDER BY folder`
	if err := s.SelectContext(ctx, &out, query, account); err != nil {
		return nil, fmt.Errorf("failed to list cursors: %w", err)
	}
	return out, nil
}
