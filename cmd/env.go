package main

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/verifymyprovider/vmp/internal/config"
	"github.com/verifymyprovider/vmp/internal/confidence"
	"github.com/verifymyprovider/vmp/internal/db"
	"github.com/verifymyprovider/vmp/internal/directory"
	"github.com/verifymyprovider/vmp/internal/freshness"
	"github.com/verifymyprovider/vmp/internal/store"
)

// env holds the shared dependencies of a directory command.
type env struct {
	Pool      *pgxpool.Pool
	Directory *directory.Store
	Runs      store.Store
	Scorer    *confidence.Scorer
	Freshness *freshness.Evaluator

	runsPool *pgxpool.Pool
}

// initEnv connects to the directory database and opens the run log.
func initEnv(ctx context.Context) (*env, error) {
	if err := cfg.Validate("directory"); err != nil {
		return nil, err
	}
	pool, err := db.Connect(ctx, cfg.Directory.DatabaseURL, db.PoolConfig{
		MaxConns: cfg.Directory.MaxConns,
		MinConns: cfg.Directory.MinConns,
	})
	if err != nil {
		return nil, eris.Wrap(err, "connect directory")
	}

	e := &env{
		Pool:      pool,
		Directory: directory.NewStore(pool),
		Scorer:    confidence.NewScorer(cfg.Confidence),
		Freshness: freshness.NewEvaluator(cfg.Freshness),
	}
	if err := e.openRuns(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return e, nil
}

func (e *env) openRuns(ctx context.Context) error {
	if err := cfg.Validate("store"); err != nil {
		return err
	}
	if cfg.Store.Driver == "postgres" && cfg.Store.DatabaseURL != "" && cfg.Store.DatabaseURL != cfg.Directory.DatabaseURL {
		pool, err := db.Connect(ctx, cfg.Store.DatabaseURL, db.PoolConfig{MaxConns: 2})
		if err != nil {
			return eris.Wrap(err, "connect run store")
		}
		e.runsPool = pool
		e.Runs = store.NewPostgres(pool)
	} else {
		st, err := initStore(cfg.Store, e.Pool)
		if err != nil {
			return err
		}
		e.Runs = st
	}
	if err := e.Runs.Migrate(ctx); err != nil {
		e.closeRuns()
		return err
	}
	return nil
}

func (e *env) closeRuns() {
	if e.Runs != nil {
		_ = e.Runs.Close()
	}
	if e.runsPool != nil {
		e.runsPool.Close()
	}
}

// Close releases the run store and the directory pool.
func (e *env) Close() {
	e.closeRuns()
	e.Pool.Close()
}

// initStore opens the run log backend. The postgres driver shares the
// directory pool.
func initStore(sc config.StoreConfig, pool db.Pool) (store.Store, error) {
	switch sc.Driver {
	case "sqlite":
		dsn := sc.DatabaseURL
		if dsn == "" {
			dsn = "vmp-runs.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		if pool == nil {
			return nil, eris.New("postgres run store requires a database pool")
		}
		return store.NewPostgres(pool), nil
	default:
		return nil, eris.Errorf("unsupported store driver: %s", sc.Driver)
	}
}
