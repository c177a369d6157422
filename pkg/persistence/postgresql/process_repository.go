package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/dukex/portal-processes/pkg/models"
	"github.com/dukex/portal-processes/pkg/persistence"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/lib/pq"
)

// ProcessRepository handles process and process step database operations.
type ProcessRepository struct {
	db     *sql.DB
	logger *slog.Logger
	clock  clockwork.Clock
	table  *models.LegalityTable
}

// NewProcessRepository creates a new process repository.
func NewProcessRepository(db *sql.DB, logger *slog.Logger, clock clockwork.Clock, table *models.LegalityTable) *ProcessRepository {
	return &ProcessRepository{db: db, logger: logger, clock: clock, table: table}
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (r *ProcessRepository) now() time.Time {
	return r.clock.Now().UTC()
}

// CreateProcess inserts a process with version 1 and no lease.
func (r *ProcessRepository) CreateProcess(ctx context.Context, processType models.ProcessType, externalID string, initialSteps ...models.ProcessStepType) (string, error) {
	const op = "CreateProcess"

	if !r.table.IsKnownProcessType(processType) {
		return "", persistence.NewProcessError(op, "", fmt.Errorf("unknown process type %s", processType))
	}

	processID := uuid.NewString()

	for _, stepType := range initialSteps {
		err := r.table.Check(processType, stepType)
		if err != nil {
			return "", persistence.NewProcessError(op, processID, err)
		}
	}

	transaction, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if rollbackErr := transaction.Rollback(); rollbackErr != nil && !errors.Is(rollbackErr, sql.ErrTxDone) {
			r.logger.ErrorContext(ctx, "failed to rollback transaction", "error", rollbackErr)
		}
	}()

	query := `
		INSERT INTO processes (id, process_type, external_id, version, lock_expiry_date, date_created)
		VALUES ($1, $2, $3, 1, NULL, $4)
	`

	now := r.now()

	_, err = transaction.ExecContext(ctx, query, processID, processType, externalID, now)
	if err != nil {
		return "", fmt.Errorf("failed to insert process: %w", err)
	}

	err = r.insertNextSteps(ctx, transaction, processID, initialSteps, now)
	if err != nil {
		return "", err
	}

	err = transaction.Commit()
	if err != nil {
		return "", fmt.Errorf("failed to commit process: %w", err)
	}

	return processID, nil
}

// CreateStep inserts a step of a legal type. The partial unique index rejects a second open step.
func (r *ProcessRepository) CreateStep(ctx context.Context, processID string, stepType models.ProcessStepType, status models.ProcessStepStatus) (string, error) {
	const op = "CreateStep"

	if !status.IsValid() {
		return "", persistence.NewProcessError(op, processID, persistence.ErrInvalidStatus)
	}

	processType, _, err := r.processTypeAndVersion(ctx, r.db, processID, false)
	if err != nil {
		return "", persistence.NewProcessError(op, processID, err)
	}

	err = r.table.Check(processType, stepType)
	if err != nil {
		return "", persistence.NewProcessError(op, processID, err)
	}

	stepID := uuid.NewString()

	query := `
		INSERT INTO process_steps (id, process_id, process_step_type, process_step_status, date_created)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err = r.db.ExecContext(ctx, query, stepID, processID, stepType, status, r.now())
	if err != nil {
		if isUniqueViolation(err) {
			return "", persistence.NewProcessError(op, processID, persistence.ErrStepAlreadyOpen)
		}

		return "", fmt.Errorf("failed to insert process step: %w", err)
	}

	return stepID, nil
}

// FindDueSteps returns unleased processes with TODO steps of the given types, oldest step first.
func (r *ProcessRepository) FindDueSteps(ctx context.Context, processType models.ProcessType, stepTypes []models.ProcessStepType, limit int) ([]persistence.DueProcess, error) {
	query := `
		WITH due AS (
			SELECT s.process_id, MIN(s.seq) AS first_seq
			FROM process_steps s
			JOIN processes p ON p.id = s.process_id
			WHERE p.process_type = $1
			  AND s.process_step_status = 'TODO'
			  AND s.process_step_type = ANY($2)
			  AND (p.lock_expiry_date IS NULL OR p.lock_expiry_date <= $3)
			GROUP BY s.process_id
			ORDER BY first_seq
			LIMIT $4
		)
		SELECT p.id, p.process_type, p.external_id, p.version, p.lock_expiry_date, p.date_created, s.id
		FROM due
		JOIN processes p ON p.id = due.process_id
		JOIN process_steps s ON s.process_id = due.process_id
		WHERE s.process_step_status = 'TODO'
		  AND s.process_step_type = ANY($2)
		ORDER BY due.first_seq, s.seq
	`

	rows, err := r.db.QueryContext(ctx, query, processType, pq.Array(stepTypeStrings(stepTypes)), r.now(), sql.NullInt64{Int64: int64(limit), Valid: limit > 0})
	if err != nil {
		return nil, fmt.Errorf("failed to query due steps: %w", err)
	}

	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", closeErr)
		}
	}()

	var due []persistence.DueProcess

	for rows.Next() {
		var (
			process models.Process
			stepID  string
		)

		err := rows.Scan(&process.ID, &process.Type, &process.ExternalID, &process.Version, &process.LockExpiryDate, &process.DateCreated, &stepID)
		if err != nil {
			return nil, fmt.Errorf("failed to scan due step: %w", err)
		}

		if len(due) == 0 || due[len(due)-1].Process.ID != process.ID {
			due = append(due, persistence.DueProcess{Process: process})
		}

		due[len(due)-1].StepIDs = append(due[len(due)-1].StepIDs, stepID)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("failed to iterate due steps: %w", err)
	}

	return due, nil
}

// TryAcquireLease leases the process when the version matches and no live lease exists.
func (r *ProcessRepository) TryAcquireLease(ctx context.Context, processID string, expectedVersion int64, leaseDuration time.Duration) (int64, error) {
	now := r.now()

	query := `
		UPDATE processes
		SET lock_expiry_date = $3, version = version + 1
		WHERE id = $1
		  AND version = $2
		  AND (lock_expiry_date IS NULL OR lock_expiry_date <= $4)
		RETURNING version
	`

	var version int64

	err := r.db.QueryRowContext(ctx, query, processID, expectedVersion, now.Add(leaseDuration), now).Scan(&version)
	if err != nil {
		return 0, r.casError(ctx, "TryAcquireLease", processID, err)
	}

	return version, nil
}

// ApplyStepResult records the transition, its next steps and checklist entries in one transaction.
func (r *ProcessRepository) ApplyStepResult(ctx context.Context, processID string, expectedVersion int64, transition persistence.StepTransition) (int64, error) {
	const op = "ApplyStepResult"

	if !transition.Status.IsValid() {
		return 0, persistence.NewProcessError(op, processID, persistence.ErrInvalidStatus)
	}

	transaction, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if rollbackErr := transaction.Rollback(); rollbackErr != nil && !errors.Is(rollbackErr, sql.ErrTxDone) {
			r.logger.ErrorContext(ctx, "failed to rollback transaction", "error", rollbackErr)
		}
	}()

	processType, version, err := r.processTypeAndVersion(ctx, transaction, processID, true)
	if err != nil {
		return 0, persistence.NewProcessError(op, processID, err)
	}

	if version != expectedVersion {
		return 0, persistence.NewProcessError(op, processID, persistence.ErrConflict)
	}

	for _, stepType := range transition.NextSteps {
		err := r.table.Check(processType, stepType)
		if err != nil {
			return 0, persistence.NewProcessError(op, processID, err)
		}
	}

	now := r.now()

	err = r.finishStep(ctx, transaction, processID, transition, now)
	if err != nil {
		return 0, persistence.NewProcessError(op, processID, err)
	}

	err = r.insertNextSteps(ctx, transaction, processID, transition.NextSteps, now)
	if err != nil {
		return 0, err
	}

	err = upsertChecklistEntries(ctx, transaction, transition.Checklist, now)
	if err != nil {
		return 0, err
	}

	query := `
		UPDATE processes
		SET lock_expiry_date = NULL, version = version + 1
		WHERE id = $1 AND version = $2
		RETURNING version
	`

	err = transaction.QueryRowContext(ctx, query, processID, expectedVersion).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("failed to release process lease: %w", err)
	}

	err = transaction.Commit()
	if err != nil {
		return 0, fmt.Errorf("failed to commit step result: %w", err)
	}

	return version, nil
}

func (r *ProcessRepository) finishStep(ctx context.Context, transaction *sql.Tx, processID string, transition persistence.StepTransition, now time.Time) error {
	query := `
		UPDATE process_steps
		SET process_step_status = $3, message = $4, date_last_changed = $5
		WHERE id = $1
		  AND process_id = $2
		  AND process_step_status IN ('TODO', 'IN_PROGRESS')
	`

	result, err := transaction.ExecContext(ctx, query, transition.StepID, processID, transition.Status, transition.Message, now)
	if err != nil {
		if isMalformedID(err) {
			return persistence.ErrStepNotFound
		}

		return fmt.Errorf("failed to update process step: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if affected > 0 {
		return nil
	}

	var status models.ProcessStepStatus

	err = transaction.QueryRowContext(ctx,
		"SELECT process_step_status FROM process_steps WHERE id = $1 AND process_id = $2",
		transition.StepID, processID,
	).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return persistence.ErrStepNotFound
	}

	if err != nil {
		return fmt.Errorf("failed to query process step: %w", err)
	}

	return fmt.Errorf("%w: step %s is already %s", persistence.ErrConflict, transition.StepID, status)
}

func (r *ProcessRepository) insertNextSteps(ctx context.Context, transaction *sql.Tx, processID string, stepTypes []models.ProcessStepType, now time.Time) error {
	query := `
		INSERT INTO process_steps (id, process_id, process_step_type, process_step_status, date_created)
		VALUES ($1, $2, $3, 'TODO', $4)
		ON CONFLICT (process_id, process_step_type) WHERE process_step_status IN ('TODO', 'IN_PROGRESS')
		DO NOTHING
	`

	var seen []models.ProcessStepType

	for _, stepType := range stepTypes {
		if slices.Contains(seen, stepType) {
			continue
		}

		seen = append(seen, stepType)

		_, err := transaction.ExecContext(ctx, query, uuid.NewString(), processID, stepType, now)
		if err != nil {
			return fmt.Errorf("failed to insert next step %s: %w", stepType, err)
		}
	}

	return nil
}

// ReleaseLease clears the lease when the version matches.
func (r *ProcessRepository) ReleaseLease(ctx context.Context, processID string, expectedVersion int64) (int64, error) {
	query := `
		UPDATE processes
		SET lock_expiry_date = NULL, version = version + 1
		WHERE id = $1 AND version = $2
		RETURNING version
	`

	var version int64

	err := r.db.QueryRowContext(ctx, query, processID, expectedVersion).Scan(&version)
	if err != nil {
		return 0, r.casError(ctx, "ReleaseLease", processID, err)
	}

	return version, nil
}

// ProcessByID returns a process by its ID.
func (r *ProcessRepository) ProcessByID(ctx context.Context, processID string) (*models.Process, error) {
	query := `
		SELECT id, process_type, external_id, version, lock_expiry_date, date_created
		FROM processes
		WHERE id = $1
	`

	var process models.Process

	err := r.db.QueryRowContext(ctx, query, processID).Scan(
		&process.ID,
		&process.Type,
		&process.ExternalID,
		&process.Version,
		&process.LockExpiryDate,
		&process.DateCreated,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) || isMalformedID(err) {
			return nil, persistence.NewProcessError("ProcessByID", processID, persistence.ErrProcessNotFound)
		}

		return nil, fmt.Errorf("failed to scan process: %w", err)
	}

	return &process, nil
}

// StepsByProcess returns the steps of the process in creation order.
func (r *ProcessRepository) StepsByProcess(ctx context.Context, processID string) ([]models.ProcessStep, error) {
	_, _, err := r.processTypeAndVersion(ctx, r.db, processID, false)
	if err != nil {
		return nil, persistence.NewProcessError("StepsByProcess", processID, err)
	}

	query := `
		SELECT id, process_id, process_step_type, process_step_status, date_created, date_last_changed, message
		FROM process_steps
		WHERE process_id = $1
		ORDER BY seq
	`

	rows, err := r.db.QueryContext(ctx, query, processID)
	if err != nil {
		return nil, fmt.Errorf("failed to query process steps: %w", err)
	}

	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", closeErr)
		}
	}()

	var steps []models.ProcessStep

	for rows.Next() {
		var step models.ProcessStep

		err := rows.Scan(&step.ID, &step.ProcessID, &step.Type, &step.Status, &step.DateCreated, &step.DateLastChanged, &step.Message)
		if err != nil {
			return nil, fmt.Errorf("failed to scan process step: %w", err)
		}

		steps = append(steps, step)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("failed to iterate process steps: %w", err)
	}

	return steps, nil
}

// CountOpenSteps counts TODO and IN_PROGRESS steps.
func (r *ProcessRepository) CountOpenSteps(ctx context.Context) (map[models.ProcessStepStatus]int64, error) {
	query := `
		SELECT process_step_status, COUNT(*)
		FROM process_steps
		WHERE process_step_status IN ('TODO', 'IN_PROGRESS')
		GROUP BY process_step_status
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to count open steps: %w", err)
	}

	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", closeErr)
		}
	}()

	counts := map[models.ProcessStepStatus]int64{
		models.ProcessStepStatusTodo:       0,
		models.ProcessStepStatusInProgress: 0,
	}

	for rows.Next() {
		var (
			status models.ProcessStepStatus
			count  int64
		)

		err := rows.Scan(&status, &count)
		if err != nil {
			return nil, fmt.Errorf("failed to scan open step count: %w", err)
		}

		counts[status] = count
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("failed to iterate open step counts: %w", err)
	}

	return counts, nil
}

func (r *ProcessRepository) processTypeAndVersion(ctx context.Context, q queryer, processID string, forUpdate bool) (models.ProcessType, int64, error) {
	query := "SELECT process_type, version FROM processes WHERE id = $1"
	if forUpdate {
		query += " FOR UPDATE"
	}

	var (
		processType models.ProcessType
		version     int64
	)

	err := q.QueryRowContext(ctx, query, processID).Scan(&processType, &version)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) || isMalformedID(err) {
			return "", 0, persistence.ErrProcessNotFound
		}

		return "", 0, fmt.Errorf("failed to query process: %w", err)
	}

	return processType, version, nil
}

// casError tells a missing process apart from a lost version race after a conditional update hit no row.
func (r *ProcessRepository) casError(ctx context.Context, op, processID string, err error) error {
	if !errors.Is(err, sql.ErrNoRows) && !isMalformedID(err) {
		return fmt.Errorf("failed to update process: %w", err)
	}

	_, _, lookupErr := r.processTypeAndVersion(ctx, r.db, processID, false)
	if lookupErr != nil {
		return persistence.NewProcessError(op, processID, lookupErr)
	}

	return persistence.NewProcessError(op, processID, persistence.ErrConflict)
}

func stepTypeStrings(stepTypes []models.ProcessStepType) []string {
	values := make([]string, len(stepTypes))
	for i, stepType := range stepTypes {
		values[i] = string(stepType)
	}

	return values
}
