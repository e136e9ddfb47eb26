package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/report-tracker/internal/config"
	"github.com/sells-group/report-tracker/internal/fetcher"
	"github.com/sells-group/report-tracker/internal/store"
	"github.com/sells-group/report-tracker/internal/tracker"
)

func initStore(ctx context.Context) (store.Store, error) {
	return openStore(ctx, cfg.Store)
}

func openStore(ctx context.Context, sc config.StoreConfig) (store.Store, error) {
	switch sc.Driver {
	case "sqlite":
		path := sc.Path
		if path == "" {
			path = "report-tracker.db"
		}
		return store.NewSQLite(path)
	case "postgres":
		if sc.DatabaseURL == "" {
			return nil, eris.New("postgres database URL is required (TRACKER_STORE_DATABASE_URL)")
		}
		return store.NewPostgres(ctx, sc.DatabaseURL, &store.PoolConfig{
			MaxConns: sc.MaxConns,
			MinConns: sc.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", sc.Driver)
	}
}

// env bundles what most commands need. Close releases the store.
type env struct {
	Store   store.Store
	Tracker *tracker.Tracker
}

func (e *env) Close() {
	if err := e.Store.Close(); err != nil {
		zap.L().Warn("close store", zap.Error(err))
	}
}

// initEnv opens and migrates the store and builds a tracker over it.
func initEnv(ctx context.Context, mode string) (*env, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, err
	}
	return &env{Store: st, Tracker: tracker.New(st, nil, tracker.Options{})}, nil
}

func newFetcher(fc config.FetchConfig) *fetcher.HTTPFetcher {
	return fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
		UserAgent:    fc.UserAgent,
		Timeout:      fc.Timeout(),
		MaxBodyBytes: fc.MaxBodyBytes,
		Throttle:     fetcher.NewThrottle(fc.MinInterval()),
	})
}
