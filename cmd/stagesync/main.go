// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

// Command stagesync drives the dump-and-sync engine: one-shot sync runs,
// a cron-scheduled daemon mode, cache-flush dispatch over pending token
// files, and the HTTP cache-flush endpoint.
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/caarlos0/env/v11"
	_ "github.com/go-sql-driver/mysql"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"github.com/netresearch/t3x-sync-sub000/syncarea"
	"github.com/netresearch/t3x-sync-sub000/syncdump"
	"github.com/netresearch/t3x-sync-sub000/syncflush"
)

// AppConfig is the environment configuration of the binary
type AppConfig struct {
	DSN        string `env:"DB_DSN,required"`
	StagingDir string `env:"STAGING_DIR" envDefault:"/var/lib/stagesync/staging"`
	TargetRoot string `env:"TARGET_ROOT" envDefault:"/var/lib/stagesync/targets"`

	SchemaConfigPath string `env:"SCHEMA_CONFIG"`          // JSON: syncdump.SchemaConfig
	AreasConfigPath  string `env:"AREAS_CONFIG,required"`  // JSON: []syncarea.Area
	SnapshotPath     string `env:"SNAPSHOT_PATH" envDefault:"/var/lib/stagesync/schema.json"`
	ModuleLockPath   string `env:"MODULE_LOCK_PATH" envDefault:"/var/lib/stagesync/.module.lock"`

	Tables        string `env:"TABLES,required"` // comma-joined table names
	ReplaceTables string `env:"REPLACE_TABLES"`
	AreaName      string `env:"AREA" envDefault:"all"`
	Filename      string `env:"DUMP_FILENAME" envDefault:"dump.sql"`
	ForceFull     bool   `env:"FORCE_FULL" envDefault:"false"`
	DeleteObs     bool   `env:"DELETE_OBSOLETE" envDefault:"true"`

	Schedule  string `env:"SCHEDULE" envDefault:"*/15 * * * *"` // daemon mode
	JWTSecret string `env:"JWT_SECRET"`
	HTTPAddr  string `env:"HTTP_ADDR" envDefault:":8080"`
	FlushDir  string `env:"FLUSH_DIR"` // pending token files for the flush command
}

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warn("Failed to load .env file", "error", err)
	}

	cfg := AppConfig{}
	if err := env.Parse(&cfg); err != nil {
		logger.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	command := "sync"
	if len(os.Args) > 1 {
		command = os.Args[1]
	}

	if err := run(command, &cfg, logger); err != nil {
		switch {
		case errors.Is(err, syncdump.ErrNothingToSync):
			logger.Info("Nothing to sync")
		case errors.Is(err, syncdump.ErrSyncInProgress):
			logger.Warn("Previous sync still in progress, retry later")
		default:
			logger.Error("Command failed", "command", command, "error", err)
			os.Exit(1)
		}
	}
}

func run(command string, cfg *AppConfig, logger *slog.Logger) error {
	switch command {
	case "sync":
		engine, db, err := buildEngine(cfg, logger)
		if err != nil {
			return err
		}
		defer db.Close()
		return engine.CreateDumpToAreas(context.Background(), syncRequest(cfg))

	case "daemon":
		return runDaemon(cfg, logger)

	case "flush":
		if cfg.FlushDir == "" {
			return fmt.Errorf("FLUSH_DIR must be set for the flush command")
		}
		dispatcher := syncflush.NewDispatcher(nil, nil, logger)
		flushed, err := dispatcher.DispatchDir(context.Background(), cfg.FlushDir)
		logger.Info("Flush dispatch finished", "flushed", flushed)
		return err

	case "serve":
		return runServer(cfg, logger)

	default:
		return fmt.Errorf("unknown command %q (want sync, daemon, flush or serve)", command)
	}
}

func runDaemon(cfg *AppConfig, logger *slog.Logger) error {
	engine, db, err := buildEngine(cfg, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	c := cron.New()
	_, err = c.AddFunc(cfg.Schedule, func() {
		err := engine.CreateDumpToAreas(context.Background(), syncRequest(cfg))
		switch {
		case err == nil:
			logger.Info("Scheduled sync complete")
		case errors.Is(err, syncdump.ErrNothingToSync):
			logger.Info("Scheduled sync: nothing to sync")
		case errors.Is(err, syncdump.ErrSyncInProgress):
			logger.Warn("Scheduled sync skipped, previous run still in progress")
		default:
			logger.Error("Scheduled sync failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule sync job: %w", err)
	}

	logger.Info("Starting sync daemon", "schedule", cfg.Schedule)
	c.Start()
	defer c.Stop()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Info("Shutting down sync daemon")
	return nil
}

func runServer(cfg *AppConfig, logger *slog.Logger) error {
	var auth *syncflush.JWTAuth
	if cfg.JWTSecret != "" {
		auth = syncflush.NewJWTAuth(cfg.JWTSecret)
	}
	dispatcher := syncflush.NewDispatcher(nil, nil, logger)
	handlers := syncflush.NewHTTPFlushHandlers(dispatcher, auth, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/flush", handlers.HandleClearCache)

	logger.Info("Starting flush endpoint", "addr", cfg.HTTPAddr)
	return http.ListenAndServe(cfg.HTTPAddr, mux)
}

func buildEngine(cfg *AppConfig, logger *slog.Logger) (*syncdump.Engine, *sql.DB, error) {
	db, err := sql.Open("mysql", cfg.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to reach database: %w", err)
	}

	var schemaCfg syncdump.SchemaConfig
	if cfg.SchemaConfigPath != "" {
		if err := loadJSON(cfg.SchemaConfigPath, &schemaCfg); err != nil {
			db.Close()
			return nil, nil, err
		}
	}

	var areas []syncarea.Area
	if err := loadJSON(cfg.AreasConfigPath, &areas); err != nil {
		db.Close()
		return nil, nil, err
	}

	if err := os.MkdirAll(cfg.StagingDir, 0o755); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to create staging dir: %w", err)
	}

	provider := syncdump.NewDBSchemaProvider(db, schemaCfg)
	locks := syncarea.NewLockManager(cfg.ModuleLockPath, logger)
	notifier := syncarea.NewFTPNotifier(0, logger)

	engine, err := syncdump.NewEngine(db, &syncdump.Config{
		StagingDir:    cfg.StagingDir,
		TargetRoot:    cfg.TargetRoot,
		SnapshotPath:  cfg.SnapshotPath,
		ReplaceTables: splitList(cfg.ReplaceTables),
		Areas:         areas,
	}, provider, locks, notifier, logger)
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	return engine, db, nil
}

func syncRequest(cfg *AppConfig) *syncdump.SyncRequest {
	var tables []syncdump.Table
	for _, name := range splitList(cfg.Tables) {
		tables = append(tables, syncdump.Table{
			Name:               name,
			DeleteObsoleteRows: cfg.DeleteObs,
		})
	}
	return &syncdump.SyncRequest{
		Tables:             tables,
		Filename:           cfg.Filename,
		AreaName:           cfg.AreaName,
		ForceFullSync:      cfg.ForceFull,
		DeleteObsoleteRows: cfg.DeleteObs,
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func loadJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return nil
}
