package maintainer

import (
	"context"
	"log/slog"

	"github.com/dbmaintain/dbmaintain/internal/config"
	"github.com/dbmaintain/dbmaintain/internal/db"
	"github.com/dbmaintain/dbmaintain/internal/ledger"
	"github.com/dbmaintain/dbmaintain/internal/repository"
	"github.com/dbmaintain/dbmaintain/internal/runner"
)

// Open connects to the configured databases, loads the script locations and
// wires a maintainer. Close releases the connections.
func Open(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Maintainer, error) {
	dbs, err := db.Open(ctx, cfg.Databases)
	if err != nil {
		return nil, err
	}
	m, err := build(cfg, dbs, logger)
	if err != nil {
		_ = dbs.Close()
		return nil, err
	}
	return m, nil
}

func build(cfg config.Config, dbs *db.Databases, logger *slog.Logger) (*Maintainer, error) {
	settings := repository.SettingsFromConfig(cfg.Scripts)
	var locations []repository.Location
	for _, p := range cfg.Scripts.Locations {
		loc, err := repository.Open(p, settings)
		if err != nil {
			return nil, err
		}
		locations = append(locations, loc)
	}
	repo, err := repository.New(locations, dbs.Names())
	if err != nil {
		return nil, err
	}
	// ledger rows are rebuilt with the conventions the scripts were loaded with
	if effective, ok := repo.Settings(); ok {
		settings = effective
	}
	factory, err := settings.Factory()
	if err != nil {
		return nil, err
	}

	l := ledger.New(dbs.Default(), cfg.Ledger, factory)
	dispatcher := runner.NewDispatcher(dbs,
		runner.NewSQLRunner(dbs, cfg.Scripts.Parameters, logger),
		runner.NewLoaderRunner(dbs, cfg.Native.LoaderCommand, logger),
		runner.NewShellRunner(dbs, cfg.Native.Shell, logger),
		logger)
	return New(cfg.Maintainer, cfg.Preserve, dbs, repo, l, dispatcher, logger)
}
