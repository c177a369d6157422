// Package postgresql provides PostgreSQL persistence implementation for processes and checklists.
package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/portal-processes/pkg/models"
	"github.com/dukex/portal-processes/pkg/persistence/sqlbase"
	"github.com/jonboulle/clockwork"
	"github.com/lib/pq"
)

const (
	pqUniqueViolation = "23505"
	pqInvalidTextRepr = "22P02"
)

// Persistence implements the persistence layer for PostgreSQL.
type Persistence struct {
	*ProcessRepository
	*ChecklistRepository

	db     *sql.DB
	logger *slog.Logger
}

type options struct {
	clock clockwork.Clock
	table *models.LegalityTable
}

// Option configures the PostgreSQL persistence.
type Option func(*options)

// WithClock sets the clock used for timestamps and lease expiry instead of the database clock.
func WithClock(clock clockwork.Clock) Option {
	return func(o *options) { o.clock = clock }
}

// WithLegalityTable sets the table step creation is validated against.
func WithLegalityTable(table *models.LegalityTable) Option {
	return func(o *options) { o.table = table }
}

// NewPersistence creates a new PostgreSQL persistence layer.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string, opts ...Option) (*Persistence, error) {
	config := options{
		clock: clockwork.NewRealClock(),
		table: models.DefaultLegalityTable(),
	}

	for _, opt := range opts {
		opt(&config)
	}

	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	err = database.PingContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	migrationManager := sqlbase.NewMigrationManager(logger, database, migrations())

	// Run migrations on initialization
	err = migrationManager.RunMigrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Persistence{
		ProcessRepository:   NewProcessRepository(database, logger, config.clock, config.table),
		ChecklistRepository: NewChecklistRepository(database, logger),
		db:                  database,
		logger:              logger,
	}, nil
}

// Close closes the database connection.
func (p *Persistence) Close(_ context.Context) error {
	if p.db != nil {
		err := p.db.Close()
		if err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}

	return nil
}

// HealthCheck verifies the database connection is healthy.
func (p *Persistence) HealthCheck(ctx context.Context) error {
	err := p.db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == pqUniqueViolation
	}

	return false
}

// isMalformedID reports a value Postgres could not parse, e.g. a non-UUID id.
func isMalformedID(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == pqInvalidTextRepr
	}

	return false
}
