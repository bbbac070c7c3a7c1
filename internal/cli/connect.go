package cli

import (
	"context"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/axelsamuelson/crowdvine-sub005/internal/app"
	"github.com/axelsamuelson/crowdvine-sub005/internal/config"
	"github.com/axelsamuelson/crowdvine-sub005/internal/engine"
	"github.com/axelsamuelson/crowdvine-sub005/internal/logging"
	"github.com/axelsamuelson/crowdvine-sub005/internal/storage/postgres"
)

type postgresBackend struct {
	eng     *engine.Engine
	pool    *pgxpool.Pool
	loggers *logging.Loggers
}

func (b *postgresBackend) Reconcile(ctx context.Context, palletID *string) (app.ReconciliationReport, error) {
	return b.eng.Reconciler.Reconcile(ctx, palletID)
}

func (b *postgresBackend) Evaluate(ctx context.Context, palletID string) (app.CompletionReport, error) {
	return b.eng.Lifecycle.Evaluate(ctx, palletID)
}

func (b *postgresBackend) ReverseCompletion(ctx context.Context, palletID, confirm, actor string) (app.ReversalResult, error) {
	res, err := b.eng.Lifecycle.ReverseCompletion(ctx, palletID, confirm, actor)
	if err == nil {
		logging.Action(b.loggers.Audit, actor, "reverse_completion", "pallet", palletID, nil)
	}
	return res, err
}

func (b *postgresBackend) Collisions(ctx context.Context) ([]app.PairCollision, error) {
	return b.eng.Registry.Collisions(ctx)
}

func (b *postgresBackend) Close() {
	b.pool.Close()
	_ = b.loggers.Close()
}

// PostgresConnector loads the same configuration as the API and wires the
// services over its database. Logs go to stderr.
func PostgresConnector(ctx context.Context, opts *RootOptions, cmd *cobra.Command) (Backend, error) {
	envFile := opts.EnvFile
	if envFile == "" {
		if wd, err := os.Getwd(); err == nil {
			envFile = config.FindEnvFile(wd)
		}
	}
	var files []string
	if envFile != "" {
		files = append(files, envFile)
	}
	cfg, err := config.Load(files...)
	if err != nil {
		return nil, err
	}

	loggers, err := logging.New(cfg, logging.WithConsole(cmd.ErrOrStderr()))
	if err != nil {
		return nil, err
	}
	pool, err := engine.Open(ctx, cfg.DatabaseURL, loggers.App)
	if err != nil {
		_ = loggers.Close()
		return nil, err
	}
	deps, err := engine.DepsFromConfig(cfg, loggers.App, loggers.Audit)
	if err != nil {
		pool.Close()
		_ = loggers.Close()
		return nil, err
	}
	deps.Geocoder = nil
	return &postgresBackend{
		eng:     engine.New(postgres.NewStore(pool), deps),
		pool:    pool,
		loggers: loggers,
	}, nil
}
