// Package directory is the Postgres store for the provider directory:
// providers, locations, insurance plans, plan acceptances and the
// verification logs that back them.
package directory

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/verifymyprovider/vmp/internal/db"
)

// Schema is the Postgres schema holding every directory table.
const Schema = "directory"

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("directory: not found")

// Store reads and writes directory records. A Store obtained from InTx runs
// every statement inside that transaction.
type Store struct {
	pool db.Pool
	q    db.Querier
}

// NewStore wraps a pool.
func NewStore(pool db.Pool) *Store {
	return &Store{pool: pool, q: pool}
}

// Pool returns the underlying pool for bulk operations.
func (s *Store) Pool() db.Pool {
	return s.pool
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "directory: ping")
}

// InTx runs fn against a Store bound to a new transaction. The transaction
// commits when fn returns nil and rolls back otherwise.
func (s *Store) InTx(ctx context.Context, fn func(tx *Store) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "directory: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := fn(&Store{pool: s.pool, q: tx}); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(ctx), "directory: commit tx")
}

// notFound maps pgx.ErrNoRows onto ErrNotFound and wraps anything else.
func notFound(err error, msg string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return eris.Wrap(ErrNotFound, msg)
	}
	return eris.Wrap(err, msg)
}

// Page bounds a list query.
type Page struct {
	Limit  int
	Offset int
}

// normalize clamps the page to sane bounds.
func (p Page) normalize() Page {
	if p.Limit <= 0 {
		p.Limit = 20
	}
	if p.Limit > 100 {
		p.Limit = 100
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}
