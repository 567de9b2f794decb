package app

import (
	"context"
	"errors"
	"fmt"

	"caseflow/internal/config"
	"caseflow/internal/db"
	"caseflow/internal/engine"
	"caseflow/internal/lock"
	"caseflow/internal/logger"
	"caseflow/internal/migrate"
)

type Options struct {
	Workspace     string
	BusyTimeoutMS int
	// ActorID receives the admin role when the workspace is seeded.
	ActorID string
}

// Open prepares a workspace for use: database, migrations, config, subject
// locker and, on first use, the catalog from config. The returned func
// releases everything Open acquired.
func Open(ctx context.Context, opts Options) (engine.Engine, func() error, error) {
	cfg, err := config.LoadOptional(opts.Workspace)
	if err != nil {
		return engine.Engine{}, nil, err
	}
	conn, err := db.Open(db.Config{Workspace: opts.Workspace, BusyTimeoutMS: opts.BusyTimeoutMS})
	if err != nil {
		return engine.Engine{}, nil, err
	}
	closers := []func() error{conn.Close}
	closeAll := func() error {
		var errs []error
		for i := len(closers) - 1; i >= 0; i-- {
			errs = append(errs, closers[i]())
		}
		return errors.Join(errs...)
	}
	if err := migrate.MigrateContext(ctx, conn); err != nil {
		_ = closeAll()
		return engine.Engine{}, nil, fmt.Errorf("migrate: %w", err)
	}
	eng := engine.New(conn, cfg)
	ctx = logger.With(ctx, eng.Log)

	if cfg.Redis.Addr != "" {
		client, err := lock.OpenRedis(ctx, lock.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			_ = closeAll()
			return engine.Engine{}, nil, err
		}
		closers = append(closers, client.Close)
		eng.Locker = lock.NewRedis(client, cfg.LockTTL(), cfg.LockWait())
	}

	if err := Seed(ctx, eng, opts.ActorID); err != nil {
		_ = closeAll()
		return engine.Engine{}, nil, err
	}
	return eng, closeAll, nil
}

// Seed imports the configured catalog into an empty workspace and makes
// actorID an admin when nobody holds a role yet.
func Seed(ctx context.Context, eng engine.Engine, actorID string) error {
	rules, err := eng.Repo.ListRules(ctx, false, "")
	if err != nil {
		return err
	}
	if len(rules) > 0 {
		return nil
	}
	summary, err := eng.ImportCatalog(ctx, eng.Config, actorID)
	if err != nil {
		return fmt.Errorf("seed catalog: %w", err)
	}
	logger.From(ctx).Info("workspace seeded",
		"rules", summary.Rules, "questions", summary.Questions, "templates", summary.Templates, "roles", summary.Roles)
	if actorID == "" {
		return nil
	}
	roles, err := eng.Auth.ActorRoles(ctx, actorID)
	if err != nil {
		return err
	}
	if len(roles) > 0 {
		return nil
	}
	return eng.GrantRole(ctx, actorID, "admin")
}
