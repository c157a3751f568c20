package counts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/RENCI-NRIG/impact-smc/protocol"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// Supported database/sql driver names.
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

// StoreConfig locates the candidates table.
type StoreConfig struct {
	Driver string `yaml:"driver" toml:"driver"`
	// DSN is passed to sql.Open. When empty and Driver is postgres, the
	// Postgres section is used to build one.
	DSN      string         `yaml:"dsn" toml:"dsn"`
	Postgres PostgresConfig `yaml:"postgres" toml:"postgres"`
	// Migrate creates the candidates table if it does not exist.
	Migrate bool `yaml:"migrate" toml:"migrate"`
}

// PostgresConfig contains PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string `yaml:"host" toml:"host"`
	Port     int    `yaml:"port" toml:"port"`
	User     string `yaml:"user" toml:"user"`
	Password string `yaml:"password" toml:"password"`
	Database string `yaml:"database" toml:"database"`
	SSLMode  string `yaml:"sslmode" toml:"sslmode"`
}

// ConnectionString returns the PostgreSQL connection string.
func (c *PostgresConfig) ConnectionString() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, sslMode)
}

func (c *StoreConfig) dataSourceName() string {
	if c.DSN == "" && c.Driver == DriverPostgres {
		return c.Postgres.ConnectionString()
	}
	return c.DSN
}

// OpenStore opens and pings the configured database.
func OpenStore(config StoreConfig) (*sql.DB, error) {
	switch config.Driver {
	case DriverSQLite, DriverPostgres:
	default:
		return nil, fmt.Errorf("unsupported store driver %q", config.Driver)
	}

	db, err := sql.Open(config.Driver, config.dataSourceName())
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	if config.Migrate {
		if err := Migrate(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("running migrations: %w", err)
		}
	}

	return db, nil
}

// Migrate creates the candidates table.
func Migrate(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS candidates (
		study VARCHAR(256) PRIMARY KEY,
		candidatecount BIGINT NOT NULL
	)`

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	_, err := db.ExecContext(ctx, schema)
	return err
}

// rebind rewrites ? placeholders to $n for PostgreSQL.
func rebind(driver, query string) string {
	if driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// SeedCount inserts or replaces the count of a criterion.
func SeedCount(ctx context.Context, db *sql.DB, driver string, criterion protocol.Criterion, count protocol.Count) error {
	query := rebind(driver, `
	INSERT INTO candidates (study, candidatecount) VALUES (?, ?)
	ON CONFLICT (study) DO UPDATE SET candidatecount = excluded.candidatecount`)

	_, err := db.ExecContext(ctx, query, criterion.String(), int64(count))
	return err
}

// StoreResolver resolves counts from the candidates table.
type StoreResolver struct {
	db    *sql.DB
	query string
}

// NewStoreResolver creates a resolver over db. driver selects the placeholder style.
func NewStoreResolver(db *sql.DB, driver string) *StoreResolver {
	return &StoreResolver{
		db:    db,
		query: rebind(driver, "SELECT candidatecount FROM candidates WHERE study = ?"),
	}
}

// Resolve returns the stored count, or protocol.SentinelCount if the
// criterion has no row.
func (s *StoreResolver) Resolve(ctx context.Context, criterion protocol.Criterion) (protocol.Count, error) {
	var count sql.NullInt64
	err := s.db.QueryRowContext(ctx, s.query, criterion.String()).Scan(&count)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return protocol.SentinelCount, nil
	case err != nil:
		return 0, fmt.Errorf("%w: querying store: %v", protocol.ErrResolverFailure, err)
	case !count.Valid || count.Int64 < 0:
		return 0, fmt.Errorf("%w: invalid stored count for %q", protocol.ErrResolverFailure, criterion)
	}
	return protocol.Count(count.Int64), nil
}
