package helper

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
)

// DatabaseConfiguration holds the connection settings of the Postgres store.
// Values are read from the environment (and an optional .env file).
type DatabaseConfiguration struct {
	Host     string `env:"RETRIEVER_DB_HOST" envDefault:"localhost"`
	Port     string `env:"RETRIEVER_DB_PORT" envDefault:"5432"`
	Database string `env:"RETRIEVER_DB_DATABASE" envDefault:"retriever"`
	Username string `env:"RETRIEVER_DB_USERNAME" envDefault:"postgres"`
	Password string `env:"RETRIEVER_DB_PASSWORD"`
	Schema   string `env:"RETRIEVER_DB_SCHEMA" envDefault:"public"`
	SSLMode  string `env:"RETRIEVER_DB_SSLMODE" envDefault:"disable"`

	MaxOpenConns    int           `env:"RETRIEVER_DB_MAX_OPEN_CONNS" envDefault:"25"`
	MaxIdleConns    int           `env:"RETRIEVER_DB_MAX_IDLE_CONNS" envDefault:"5"`
	ConnMaxLifetime time.Duration `env:"RETRIEVER_DB_CONN_MAX_LIFETIME" envDefault:"5m"`

	// Health check performed on connect and on Refresh.
	HealthCheckAttempts int           `env:"RETRIEVER_DB_HEALTHCHECK_ATTEMPTS" envDefault:"5"`
	HealthCheckBackoff  time.Duration `env:"RETRIEVER_DB_HEALTHCHECK_BACKOFF" envDefault:"2s"`
}

// NewDatabaseConfiguration loads a .env file if present and parses the environment.
func NewDatabaseConfiguration() (*DatabaseConfiguration, error) {
	_ = godotenv.Load()

	config := &DatabaseConfiguration{}
	if err := env.Parse(config); err != nil {
		return nil, NewError("parse database configuration", err)
	}
	if config.HealthCheckAttempts < 1 {
		return nil, NewError("parse database configuration", fmt.Errorf("health check attempts must be at least 1, got %d", config.HealthCheckAttempts))
	}

	return config, nil
}

// DSN returns the lib/pq connection string.
func (c *DatabaseConfiguration) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s search_path=%s",
		c.Host, c.Port, c.Username, c.Password, c.Database, c.SSLMode, c.Schema,
	)
}

// Database is the explicitly injected store client.
// There is no package level connection: every handler receives a *Database.
type Database struct {
	Name   string
	Logger *slog.Logger

	instance *sql.DB
	config   *DatabaseConfiguration
	open     func(dsn string) (*sql.DB, error)
	mu       sync.RWMutex
}

// NewDatabase opens a connection pool and waits until the database answers
// a ping, retrying a fixed number of times with a fixed backoff.
func NewDatabase(name string, config *DatabaseConfiguration, logger *slog.Logger) (*Database, error) {
	if config == nil {
		return nil, NewError("database configuration validation", fmt.Errorf("configuration is nil"))
	}

	db := &Database{
		Name:   name,
		Logger: logger,
		config: config,
		open: func(dsn string) (*sql.DB, error) {
			return sql.Open("postgres", dsn)
		},
	}

	if _, err := db.connect(context.Background()); err != nil {
		return nil, err
	}

	return db, nil
}

// NewDatabaseWithInstance wraps an already opened pool, used for tests and
// for callers managing the pool themselves. Refresh is not supported on it.
func NewDatabaseWithInstance(name string, instance *sql.DB, logger *slog.Logger) *Database {
	return &Database{
		Name:     name,
		Logger:   logger,
		instance: instance,
	}
}

// Instance returns the current connection pool. Callers fetch it per query
// so a Refresh is picked up by the next statement.
func (d *Database) Instance() *sql.DB {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.instance
}

// Refresh reconnects with the health-check loop and swaps in the new pool.
// The previous pool is closed afterwards; sql.DB.Close lets queries already
// running on it finish.
func (d *Database) Refresh(ctx context.Context) error {
	if d.config == nil || d.open == nil {
		return NewError("refresh database", fmt.Errorf("database %s was not created from a configuration", d.Name))
	}

	old, err := d.connect(ctx)
	if err != nil {
		return err
	}

	if old != nil {
		if err := old.Close(); err != nil {
			d.Logger.Warn("Error closing previous connection pool", slog.String("database", d.Name), slog.String("error", err.Error()))
		}
	}

	d.Logger.Info("Refreshed database connection", slog.String("database", d.Name))
	return nil
}

// Close closes the connection pool.
func (d *Database) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.instance == nil {
		return nil
	}
	return d.instance.Close()
}

// connect opens and checks a new pool, swaps it in and returns the previous one.
func (d *Database) connect(ctx context.Context) (*sql.DB, error) {
	instance, err := d.open(d.config.DSN())
	if err != nil {
		return nil, NewError("open database", err)
	}

	instance.SetMaxOpenConns(d.config.MaxOpenConns)
	instance.SetMaxIdleConns(d.config.MaxIdleConns)
	instance.SetConnMaxLifetime(d.config.ConnMaxLifetime)

	if err := healthCheck(ctx, instance, d.config.HealthCheckAttempts, d.config.HealthCheckBackoff, d.Logger); err != nil {
		instance.Close()
		return nil, NewError("health check", err)
	}

	d.mu.Lock()
	old := d.instance
	d.instance = instance
	d.mu.Unlock()

	d.Logger.Info("Connected to database", slog.String("database", d.Name), slog.String("host", d.config.Host))
	return old, nil
}

// healthCheck pings up to attempts times, sleeping backoff between tries.
func healthCheck(ctx context.Context, instance *sql.DB, attempts int, backoff time.Duration, logger *slog.Logger) error {
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = instance.PingContext(pingCtx)
		cancel()
		if err == nil {
			return nil
		}

		logger.Warn("Database not ready", slog.Int("attempt", attempt), slog.Int("attempts", attempts), slog.String("error", err.Error()))
		if attempt == attempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}

	return fmt.Errorf("database not reachable after %d attempts: %w", attempts, err)
}
