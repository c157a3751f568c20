package counts

import (
	"bufio"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/RENCI-NRIG/impact-smc/protocol"
)

// Resolver produces the local count of one party for a criterion.
type Resolver interface {
	Resolve(ctx context.Context, criterion protocol.Criterion) (protocol.Count, error)
}

// ResolverFunc adapts a function to the Resolver interface.
type ResolverFunc func(ctx context.Context, criterion protocol.Criterion) (protocol.Count, error)

// Resolve calls f.
func (f ResolverFunc) Resolve(ctx context.Context, criterion protocol.Criterion) (protocol.Count, error) {
	return f(ctx, criterion)
}

// Mode selects where local counts come from.
type Mode string

const (
	ModeStore     Mode = "store"
	ModeAnalytics Mode = "analytics"
)

// Valid returns true if the mode is recognized.
func (m Mode) Valid() bool {
	switch m {
	case ModeStore, ModeAnalytics:
		return true
	}
	return false
}

// Config configures the resolver of a node.
type Config struct {
	Mode Mode `yaml:"mode" toml:"mode"`
	// ModeFile is a legacy flag file; a first line of "True" selects
	// ModeAnalytics. It is read once, at startup, and overrides Mode.
	ModeFile  string          `yaml:"mode_file" toml:"mode_file"`
	Timeout   time.Duration   `yaml:"timeout" toml:"timeout"`
	Store     StoreConfig     `yaml:"store" toml:"store"`
	Analytics AnalyticsConfig `yaml:"analytics" toml:"analytics"`
}

// DefaultConfig returns a store-backed configuration using a local SQLite file.
func DefaultConfig() Config {
	return Config{
		Mode:    ModeStore,
		Timeout: 30 * time.Second,
		Store: StoreConfig{
			Driver: DriverSQLite,
			DSN:    "flaskr.db",
		},
	}
}

// ModeFromFlagFile reads the legacy mode flag file.
func ModeFromFlagFile(path string) (Mode, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening mode file: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	if scanner.Scan() && strings.TrimSpace(scanner.Text()) == "True" {
		return ModeAnalytics, nil
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("reading mode file: %w", err)
	}
	return ModeStore, nil
}

// EffectiveMode resolves the configured mode, consulting the flag file if set.
func (c *Config) EffectiveMode() (Mode, error) {
	if c.ModeFile != "" {
		return ModeFromFlagFile(c.ModeFile)
	}
	if c.Mode == "" {
		return ModeStore, nil
	}
	if !c.Mode.Valid() {
		return "", fmt.Errorf("unknown resolver mode %q", c.Mode)
	}
	return c.Mode, nil
}

// New builds the resolver selected by cfg. db is required in ModeStore and
// ignored otherwise.
func New(cfg Config, db *sql.DB, log *slog.Logger) (Resolver, error) {
	if log == nil {
		log = slog.Default()
	}

	mode, err := cfg.EffectiveMode()
	if err != nil {
		return nil, err
	}

	var inner Resolver
	switch mode {
	case ModeStore:
		if db == nil {
			return nil, errors.New("store mode requires a database")
		}
		inner = NewStoreResolver(db, cfg.Store.Driver)
	case ModeAnalytics:
		analytics, err := NewAnalyticsResolver(cfg.Analytics, log)
		if err != nil {
			return nil, err
		}
		inner = analytics
	}

	log.Info("count resolver configured", "mode", mode)
	return WithTimeout(inner, cfg.Timeout), nil
}

// WithTimeout bounds every resolution of r by d. A non-positive d returns r.
func WithTimeout(r Resolver, d time.Duration) Resolver {
	if d <= 0 {
		return r
	}
	return ResolverFunc(func(ctx context.Context, criterion protocol.Criterion) (protocol.Count, error) {
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()

		count, err := r.Resolve(ctx, criterion)
		if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) && !errors.Is(err, protocol.ErrResolverFailure) {
			return 0, fmt.Errorf("%w: timed out after %s", protocol.ErrResolverFailure, d)
		}
		return count, err
	})
}
