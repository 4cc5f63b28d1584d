package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/durableflow/engine/internal/models"
)

// conn is the subset of *sqlx.DB / *sqlx.Tx the Postgres gateway needs. It
// lets the same query methods run against either a plain connection or an
// open transaction.
type conn interface {
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	NamedExecContext(ctx context.Context, query string, arg interface{}) (sql.Result, error)
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// PostgresGateway implements Gateway against a Postgres database via sqlx.
type PostgresGateway struct {
	db     *sqlx.DB
	c      conn
	logger *zap.Logger
}

// NewPostgresGateway connects to Postgres and configures the connection
// pool, following the teacher repository's defaults.
func NewPostgresGateway(databaseURL string, logger *zap.Logger) (*PostgresGateway, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	return &PostgresGateway{
		db:     db,
		c:      db,
		logger: logger.With(zap.String("component", "postgres_gateway")),
	}, nil
}

// Close closes the underlying database connection.
func (g *PostgresGateway) Close() error {
	return g.db.Close()
}

func (g *PostgresGateway) CreateWorkflowInstance(ctx context.Context, wi *models.WorkflowInstance) error {
	const q = `
		INSERT INTO workflow_instances (id, name, status, input, created_at, updated_at)
		VALUES (:id, :name, :status, :input, :created_at, :updated_at)
	`
	_, err := g.c.NamedExecContext(ctx, q, wi)
	if err != nil {
		return fmt.Errorf("create workflow instance: %w", err)
	}
	return nil
}

func (g *PostgresGateway) UpdateWorkflowInstance(ctx context.Context, wi *models.WorkflowInstance) error {
	const q = `
		UPDATE workflow_instances
		SET status = :status, output = :output, failed_reason = :failed_reason,
		    updated_at = :updated_at, completed_at = :completed_at
		WHERE id = :id
	`
	_, err := g.c.NamedExecContext(ctx, q, wi)
	if err != nil {
		return fmt.Errorf("update workflow instance: %w", err)
	}
	return nil
}

func (g *PostgresGateway) GetWorkflowInstance(ctx context.Context, id uuid.UUID) (*models.WorkflowInstance, error) {
	var wi models.WorkflowInstance
	const q = `SELECT * FROM workflow_instances WHERE id = $1`
	if err := g.c.GetContext(ctx, &wi, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get workflow instance: %w", err)
	}
	return &wi, nil
}

func (g *PostgresGateway) GetWorkflowInstanceWithSteps(ctx context.Context, id uuid.UUID) (*WorkflowSnapshot, error) {
	wi, err := g.GetWorkflowInstance(ctx, id)
	if err != nil {
		return nil, err
	}

	var steps []*models.Step
	if err := g.c.SelectContext(ctx, &steps, `SELECT * FROM steps WHERE workflow_instance_id = $1`, id); err != nil {
		return nil, fmt.Errorf("list steps: %w", err)
	}

	stepIDs := make([]uuid.UUID, len(steps))
	for i, s := range steps {
		stepIDs[i] = s.ID
	}

	var stepInstances []*models.StepInstance
	if len(stepIDs) > 0 {
		const q = `SELECT * FROM step_instances WHERE step_id = ANY($1) ORDER BY started_at`
		if err := g.c.SelectContext(ctx, &stepInstances, q, pq.Array(stepIDs)); err != nil {
			return nil, fmt.Errorf("list step instances: %w", err)
		}
	}

	var sleeps []*models.SleepInstance
	const sq = `SELECT * FROM sleep_instances WHERE workflow_instance_id = $1 ORDER BY started_at`
	if err := g.c.SelectContext(ctx, &sleeps, sq, id); err != nil {
		return nil, fmt.Errorf("list sleep instances: %w", err)
	}

	return &WorkflowSnapshot{
		Workflow:       wi,
		Steps:          steps,
		StepInstances:  stepInstances,
		SleepInstances: sleeps,
	}, nil
}

func (g *PostgresGateway) FindStepByName(ctx context.Context, workflowInstanceID uuid.UUID, name string) (*models.Step, error) {
	var s models.Step
	const q = `SELECT * FROM steps WHERE workflow_instance_id = $1 AND name = $2`
	if err := g.c.GetContext(ctx, &s, q, workflowInstanceID, name); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find step by name: %w", err)
	}
	return &s, nil
}

func (g *PostgresGateway) CreateStep(ctx context.Context, s *models.Step) error {
	const q = `
		INSERT INTO steps (id, workflow_instance_id, name, created_at)
		VALUES (:id, :workflow_instance_id, :name, :created_at)
	`
	_, err := g.c.NamedExecContext(ctx, q, s)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("create step: %w", err)
	}
	return nil
}

func (g *PostgresGateway) FindCompletedStepInstance(ctx context.Context, stepID uuid.UUID) (*models.StepInstance, error) {
	var si models.StepInstance
	const q = `SELECT * FROM step_instances WHERE step_id = $1 AND status = 'COMPLETED' LIMIT 1`
	if err := g.c.GetContext(ctx, &si, q, stepID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find completed step instance: %w", err)
	}
	return &si, nil
}

func (g *PostgresGateway) FindNonTerminalStepInstance(ctx context.Context, stepID uuid.UUID) (*models.StepInstance, error) {
	var si models.StepInstance
	const q = `
		SELECT * FROM step_instances
		WHERE step_id = $1 AND status IN ('PENDING', 'RUNNING', 'RETRYING')
		ORDER BY started_at DESC LIMIT 1
	`
	if err := g.c.GetContext(ctx, &si, q, stepID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find non-terminal step instance: %w", err)
	}
	return &si, nil
}

func (g *PostgresGateway) CreateStepInstance(ctx context.Context, si *models.StepInstance) error {
	const q = `
		INSERT INTO step_instances (id, step_id, status, output, retries, started_at, completed_at, failed_reason)
		VALUES (:id, :step_id, :status, :output, :retries, :started_at, :completed_at, :failed_reason)
	`
	_, err := g.c.NamedExecContext(ctx, q, si)
	if err != nil {
		return fmt.Errorf("create step instance: %w", err)
	}
	return nil
}

func (g *PostgresGateway) UpdateStepInstance(ctx context.Context, si *models.StepInstance) error {
	const q = `
		UPDATE step_instances
		SET status = :status, output = :output, retries = :retries,
		    completed_at = :completed_at, failed_reason = :failed_reason
		WHERE id = :id
	`
	_, err := g.c.NamedExecContext(ctx, q, si)
	if err != nil {
		return fmt.Errorf("update step instance: %w", err)
	}
	return nil
}

func (g *PostgresGateway) FindSleepInstance(ctx context.Context, workflowInstanceID uuid.UUID, name string) (*models.SleepInstance, error) {
	var sl models.SleepInstance
	const q = `SELECT * FROM sleep_instances WHERE workflow_instance_id = $1 AND name = $2`
	if err := g.c.GetContext(ctx, &sl, q, workflowInstanceID, name); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find sleep instance: %w", err)
	}
	return &sl, nil
}

func (g *PostgresGateway) CreateSleepInstance(ctx context.Context, sl *models.SleepInstance) error {
	const q = `
		INSERT INTO sleep_instances (id, workflow_instance_id, name, duration_ms, started_at, completed_at)
		VALUES (:id, :workflow_instance_id, :name, :duration_ms, :started_at, :completed_at)
	`
	_, err := g.c.NamedExecContext(ctx, q, sl)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("create sleep instance: %w", err)
	}
	return nil
}

func (g *PostgresGateway) UpdateSleepInstance(ctx context.Context, sl *models.SleepInstance) error {
	const q = `
		UPDATE sleep_instances SET completed_at = :completed_at WHERE id = :id
	`
	_, err := g.c.NamedExecContext(ctx, q, sl)
	if err != nil {
		return fmt.Errorf("update sleep instance: %w", err)
	}
	return nil
}

// WithTransaction runs fn against a Gateway backed by a single Postgres
// transaction, committing all of fn's writes atomically.
func (g *PostgresGateway) WithTransaction(ctx context.Context, fn func(tx Gateway) error) error {
	tx, err := g.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	txGateway := &PostgresGateway{db: g.db, c: tx, logger: g.logger}

	if err := fn(txGateway); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			g.logger.Error("rollback failed", zap.Error(rbErr))
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}
