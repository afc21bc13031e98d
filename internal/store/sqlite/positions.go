// Package sqlite persists option positions. Single-writer WAL setup:
// the tracker is the only process touching the file.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"sync"
	"time"

	"optionledger/internal/model"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// Config configures the SQLite position store.
type Config struct {
	DBPath string // e.g. "data/positions.db"
}

// Store implements model.PositionStore on SQLite.
type Store struct {
	db *sql.DB

	mu      sync.Mutex
	subs    map[int]func()
	nextSub int
}

// DB returns the underlying sql.DB for health checks.
func (s *Store) DB() *sql.DB { return s.db }

// New opens the database, applies WAL mode, and creates the schema.
func New(cfg Config) (*Store, error) {
	db, err := sql.Open("sqlite3", cfg.DBPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// Single-writer connection pool
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log.Printf("[sqlite] opened database at %s", cfg.DBPath)
	return &Store{db: db, subs: make(map[int]func())}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS positions (
			id          TEXT    PRIMARY KEY,
			symbol      TEXT    NOT NULL,
			kind        TEXT    NOT NULL,
			quantity    INTEGER NOT NULL,
			entry_price REAL    NOT NULL,
			strike      REAL    NOT NULL,
			expiration  TEXT    NOT NULL,
			created_at  INTEGER NOT NULL
		);
	`)
	return err
}

const dateLayout = "2006-01-02"

func (s *Store) List(ctx context.Context) ([]model.OptionPosition, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, symbol, kind, quantity, entry_price, strike, expiration, created_at
		FROM positions ORDER BY created_at, id
	`)
	if err != nil {
		return nil, fmt.Errorf("sqlite list: %w", err)
	}
	defer rows.Close()

	var out []model.OptionPosition
	for rows.Next() {
		var (
			p       model.OptionPosition
			exp     string
			created int64
		)
		if err := rows.Scan(&p.ID, &p.Symbol, &p.Kind, &p.Quantity, &p.EntryPrice, &p.Strike, &exp, &created); err != nil {
			return nil, fmt.Errorf("sqlite scan: %w", err)
		}
		p.Expiration, err = time.Parse(dateLayout, exp)
		if err != nil {
			return nil, fmt.Errorf("sqlite: bad expiration %q for %s: %w", exp, p.ID, err)
		}
		p.CreatedAt = time.Unix(created, 0)
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) Add(ctx context.Context, p model.OptionPosition) (model.OptionPosition, error) {
	if err := p.Validate(time.Now()); err != nil {
		return model.OptionPosition{}, err
	}
	p.ID = uuid.NewString()
	p.CreatedAt = time.Now()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO positions (id, symbol, kind, quantity, entry_price, strike, expiration, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, p.ID, p.Symbol, string(p.Kind), p.Quantity, p.EntryPrice, p.Strike,
		p.Expiration.Format(dateLayout), p.CreatedAt.Unix())
	if err != nil {
		return model.OptionPosition{}, fmt.Errorf("sqlite insert: %w", err)
	}

	s.notify()
	return p, nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM positions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("sqlite delete: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("position %s not found", id)
	}

	s.notify()
	return nil
}

// OnChange registers a callback fired after every successful add or
// delete. Callbacks run synchronously on the mutating goroutine and
// must be fast; the tracker's is a non-blocking channel send.
func (s *Store) OnChange(fn func()) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
}

func (s *Store) notify() {
	s.mu.Lock()
	fns := make([]func(), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
