package main

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"

	"fitledger/internal/adapter/memory"
	"fitledger/internal/adapter/postgres"
	"fitledger/internal/adapter/sqlite"
	"fitledger/internal/config"
	"fitledger/internal/domain"
)

// setupLogging tees the standard logger to the rotating log file when one
// is configured and returns the writer component loggers should use.
func setupLogging(cfg config.LogConfig) (io.Writer, func()) {
	if cfg.File == "" {
		return os.Stderr, func() {}
	}
	file := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   true,
	}
	out := io.MultiWriter(os.Stderr, file)
	log.SetOutput(out)
	return out, func() { _ = file.Close() }
}

func newLogger(out io.Writer, component string) *log.Logger {
	return log.New(out, "["+component+"] ", log.LstdFlags)
}

// stores bundles the persistence adapters selected by the configuration.
type stores struct {
	users    domain.UserRepository
	sessions domain.SessionRepository
	mirror   domain.RemoteMirror
	prefs    domain.PreferenceSource
	cache    *sqlite.Cache

	closers []func() error
}

// openStores opens the local cache and the remote store. Without a
// database the server runs local-only with in-memory accounts.
func openStores(cfg *config.Config) (*stores, error) {
	cache, err := sqlite.Open(cfg.LocalCachePath)
	if err != nil {
		return nil, fmt.Errorf("open local cache: %w", err)
	}
	st := &stores{cache: cache, closers: []func() error{cache.Close}}

	var db *postgres.DB
	switch {
	case cfg.DatabaseURL != "":
		db, err = postgres.Open(cfg.DatabaseURL)
	case cfg.EmbeddedPostgres:
		db, err = postgres.OpenEmbedded(postgres.EmbeddedConfig{
			DataPath: cfg.EmbeddedDir,
			Port:     cfg.EmbeddedPort,
			Database: "fitledger",
			Username: "fitledger",
			Password: "fitledger",
		})
	}
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("open database: %w", err)
	}

	if db == nil {
		log.Printf("no database configured, running local-only")
		mem := memory.New()
		st.users = mem
		st.sessions = mem.NewSessionRepo()
		st.prefs = memory.NewPreferences(cfg.FitnessSyncDefault)
		return st, nil
	}

	st.users = db
	st.sessions = postgres.NewSessionRepo(db)
	st.mirror = postgres.NewMirror(db)
	st.prefs = postgres.NewPreferences(db, cfg.FitnessSyncDefault)
	st.closers = append(st.closers, db.Close)
	return st, nil
}

// Close releases the stores in reverse order of opening.
func (s *stores) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
