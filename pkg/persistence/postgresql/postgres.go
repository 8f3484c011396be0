// Package postgresql provides PostgreSQL persistence for the orchestration
// store.
package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "github.com/lib/pq" // postgres driver

	"github.com/dmateus/botherd/pkg/persistence"
)

// querier abstracts *sql.DB and *sql.Tx so the same repositories serve
// direct access and transactions.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Persistence implements the persistence layer for PostgreSQL.
type Persistence struct {
	db     *sql.DB
	logger *slog.Logger
	store
}

// store binds the repositories to one querier: the pool for direct access,
// an open transaction inside InTransaction.
type store struct {
	q      querier
	logger *slog.Logger
}

func (s *store) Bots() persistence.BotRepository                { return &botRepo{s} }
func (s *store) Tasks() persistence.TaskRepository              { return &taskRepo{s} }
func (s *store) Dependencies() persistence.DependencyRepository { return &dependencyRepo{s} }
func (s *store) BotTasks() persistence.BotTaskRepository        { return &botTaskRepo{s} }
func (s *store) Workflows() persistence.WorkflowRepository      { return &workflowRepo{s} }
func (s *store) Runs() persistence.RunRepository                { return &runRepo{s} }
func (s *store) RunSteps() persistence.RunStepRepository        { return &runStepRepo{s} }
func (s *store) Audit() persistence.AuditRepository             { return &auditRepo{s} }

// NewPersistence connects, runs migrations and returns the store.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (*Persistence, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	err = database.PingContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	migrationManager := NewMigrationManager(logger, database)

	err = migrationManager.RunMigrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Persistence{
		db:     database,
		logger: logger,
		store:  store{q: database, logger: logger},
	}, nil
}

// InTransaction runs fn inside one serializable transaction, which gives
// every top-level orchestration operation its atomic read-then-write unit.
func (p *Persistence) InTransaction(ctx context.Context, fn func(ctx context.Context, store persistence.Store) error) error {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(ctx, &store{q: tx, logger: p.logger}); err != nil {
		if rollbackErr := tx.Rollback(); rollbackErr != nil {
			p.logger.ErrorContext(ctx, "failed to roll back transaction", "error", rollbackErr)
		}

		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
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
