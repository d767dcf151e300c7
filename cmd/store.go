package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/dark30-ventures/intent-cli/internal/state"
)

func initStore(ctx context.Context) (state.Store, error) {
	switch cfg.State.Driver {
	case "sqlite":
		path := cfg.State.Path
		if path == "" {
			path = "data/intent.db"
		}
		return state.NewSQLite(path)
	case "postgres":
		return state.NewPostgres(ctx, cfg.State.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("unsupported state driver: %s", cfg.State.Driver)
	}
}
