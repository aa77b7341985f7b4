// Package config loads server settings from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"fitledger/internal/domain"
)

// Config holds all application configuration.
type Config struct {
	Addr string

	DatabaseURL      string
	EmbeddedPostgres bool
	EmbeddedDir      string
	EmbeddedPort     uint32

	LocalCachePath string
	Location       *time.Location

	RolloverInterval   time.Duration
	RemoteTimeout      time.Duration
	FitnessSyncDefault bool

	Goals domain.Goals

	// DevUser disables authentication and serves every request as this user.
	DevUser string

	Log  LogConfig
	OIDC OIDCConfig
}

// LogConfig controls the optional rotating log file.
type LogConfig struct {
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// OIDCConfig holds single sign-on settings. SSO is on when Issuer is set.
type OIDCConfig struct {
	Issuer       string
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

// Enabled reports whether SSO is configured.
func (c OIDCConfig) Enabled() bool {
	return c.Issuer != ""
}

// Load reads configuration from the environment, after loading a .env file
// if one exists.
func Load() (*Config, error) {
	_ = godotenv.Load()

	p := &parser{}
	cfg := &Config{
		Addr:               getenv("ADDR", ":8080"),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		EmbeddedPostgres:   p.boolVar("EMBEDDED_POSTGRES", false),
		EmbeddedDir:        getenv("EMBEDDED_POSTGRES_DIR", "data/postgres"),
		EmbeddedPort:       uint32(p.intVar("EMBEDDED_POSTGRES_PORT", 5433)),
		LocalCachePath:     getenv("LOCAL_CACHE_PATH", "data/cache.db"),
		RolloverInterval:   p.durationVar("ROLLOVER_INTERVAL", time.Minute),
		RemoteTimeout:      p.durationVar("REMOTE_TIMEOUT", 5*time.Second),
		FitnessSyncDefault: p.boolVar("FITNESS_SYNC_DEFAULT", true),
		Goals: domain.Goals{
			Calories: p.floatVar("GOAL_CALORIES", 2000),
			Protein:  p.floatVar("GOAL_PROTEIN", 150),
			Carbs:    p.floatVar("GOAL_CARBS", 250),
			Fat:      p.floatVar("GOAL_FAT", 70),
		},
		DevUser: os.Getenv("AUTH_DISABLED_USER"),
		Log: LogConfig{
			File:       os.Getenv("LOG_FILE"),
			MaxSizeMB:  p.intVar("LOG_MAX_SIZE_MB", 20),
			MaxBackups: p.intVar("LOG_MAX_BACKUPS", 3),
			MaxAgeDays: p.intVar("LOG_MAX_AGE_DAYS", 28),
		},
		OIDC: OIDCConfig{
			Issuer:       os.Getenv("OIDC_ISSUER"),
			ClientID:     os.Getenv("OIDC_CLIENT_ID"),
			ClientSecret: os.Getenv("OIDC_CLIENT_SECRET"),
			RedirectURL:  os.Getenv("OIDC_REDIRECT_URL"),
		},
	}

	cfg.Location = time.Local
	if name := getenv("TZ_NAME", ""); name != "" {
		loc, err := time.LoadLocation(name)
		if err != nil {
			p.fail("TZ_NAME", name, err)
		} else {
			cfg.Location = loc
		}
	}

	if p.err != nil {
		return nil, p.err
	}
	if cfg.RolloverInterval <= 0 {
		return nil, fmt.Errorf("ROLLOVER_INTERVAL must be positive")
	}
	if cfg.OIDC.Enabled() && (cfg.OIDC.ClientID == "" || cfg.OIDC.RedirectURL == "") {
		return nil, fmt.Errorf("OIDC_ISSUER requires OIDC_CLIENT_ID and OIDC_REDIRECT_URL")
	}
	return cfg, nil
}

func getenv(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

// parser records the first malformed variable.
type parser struct {
	err error
}

func (p *parser) fail(key, value string, err error) {
	if p.err == nil {
		p.err = fmt.Errorf("invalid %s=%q: %w", key, value, err)
	}
}

func (p *parser) intVar(key string, def int) int {
	v := getenv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.fail(key, v, err)
		return def
	}
	if n < 0 {
		p.fail(key, v, fmt.Errorf("must be >= 0"))
		return def
	}
	return n
}

func (p *parser) floatVar(key string, def float64) float64 {
	v := getenv(key, "")
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		p.fail(key, v, err)
		return def
	}
	if f < 0 {
		p.fail(key, v, fmt.Errorf("must be >= 0"))
		return def
	}
	return f
}

func (p *parser) boolVar(key string, def bool) bool {
	v := getenv(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.fail(key, v, err)
		return def
	}
	return b
}

func (p *parser) durationVar(key string, def time.Duration) time.Duration {
	v := getenv(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.fail(key, v, err)
		return def
	}
	return d
}
