package main

import (
	"context"
	"database/sql"
	"fmt"

	"curator/internal/config"
	"curator/internal/core"
	"curator/internal/database"
	"curator/internal/utils"
)

// appContext opens the configuration, data lock, database and manager on
// first use and releases them when the command finishes.
type appContext struct {
	configFlag *string
	debugFlag  *bool

	config  *config.Config
	logger  *utils.Logger
	lock    *utils.DataLock
	db      *sql.DB
	manager *core.Manager
}

func newAppContext(configFlag *string, debugFlag *bool) *appContext {
	return &appContext{configFlag: configFlag, debugFlag: debugFlag}
}

func (a *appContext) configPath() string {
	if a.configFlag == nil || *a.configFlag == "" {
		return "config.yml"
	}
	return *a.configFlag
}

func (a *appContext) open(ctx context.Context) (*core.Manager, error) {
	if a.manager != nil {
		return a.manager, nil
	}

	cfg, err := config.Load(a.configPath())
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if a.debugFlag != nil && *a.debugFlag {
		cfg.App.Debug = true
	}
	a.config = cfg
	a.logger = utils.NewLogger(cfg.App.Debug)

	lock, err := utils.AcquireDataLock(cfg.App.DataPath)
	if err != nil {
		return nil, err
	}
	a.lock = lock

	db, err := database.Open(ctx, cfg.Database.Path, a.logger)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("open database: %w", err)
	}
	a.db = db

	a.manager = core.NewManager(cfg, a.configPath(), db, a.logger)
	return a.manager, nil
}

func (a *appContext) close() {
	if a.manager != nil {
		a.manager.Stop()
		a.manager = nil
	}
	if a.db != nil {
		a.db.Close()
		a.db = nil
	}
	if a.lock != nil {
		if err := a.lock.Release(); err != nil && a.logger != nil {
			a.logger.Warn("Failed to release data lock:", err)
		}
		a.lock = nil
	}
}
