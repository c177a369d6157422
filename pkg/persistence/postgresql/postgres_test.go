package postgresql_test

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dukex/portal-processes/pkg/models"
	"github.com/dukex/portal-processes/pkg/persistence"
	"github.com/dukex/portal-processes/pkg/persistence/postgresql"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

var postgresContainer *postgres.PostgresContainer

func dropDb(ctx context.Context, t *testing.T, databaseURL string) {
	t.Helper()

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	// Drop tables in reverse dependency order (children first, parents last)
	for _, table := range []string{"checklist_entries", "process_steps", "processes", "schema_migrations"} {
		_, err = db.ExecContext(ctx, "DROP TABLE IF EXISTS "+table+" CASCADE")
		require.NoError(t, err)
	}

	_, err = db.ExecContext(ctx, "DROP FUNCTION IF EXISTS reject_step_type() CASCADE")
	require.NoError(t, err)

	err = db.Close()
	require.NoError(t, err)
}

func setupTestDB(t *testing.T) (*postgresql.Persistence, context.Context, string, *clockwork.FakeClock) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)

	if postgresContainer == nil || !postgresContainer.IsRunning() {
		var err error

		postgresContainer, err = postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("portal_test"),
			postgres.WithUsername("portal"),
			postgres.WithPassword("portal"),
			postgres.BasicWaitStrategies(),
		)
		require.NoError(t, err)
	}

	databaseURL, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	dropDb(ctx, t, databaseURL)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	clock := clockwork.NewFakeClock()

	persistence, err := postgresql.NewPersistence(ctx, logger, databaseURL, postgresql.WithClock(clock))
	require.NoError(t, err)

	t.Cleanup(func() {
		dropDb(ctx, t, databaseURL)

		err = persistence.Close(ctx)
		require.NoError(t, err)

		cancel()
	})

	return persistence, ctx, databaseURL, clock
}

func createInvitation(ctx context.Context, t *testing.T, p *postgresql.Persistence) (string, string) {
	t.Helper()

	processID, err := p.CreateProcess(ctx, models.ProcessTypeInvitation, "invitation-1")
	require.NoError(t, err)

	stepID, err := p.CreateStep(ctx, processID, models.StepInvitationCreateUser, models.ProcessStepStatusTodo)
	require.NoError(t, err)

	return processID, stepID
}

func TestNewPersistence_Migrations(t *testing.T) {
	_, ctx, databaseURL, _ := setupTestDB(t)

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	defer func() {
		err := db.Close()
		require.NoError(t, err)
	}()

	for _, table := range []string{"processes", "process_steps", "checklist_entries", "schema_migrations"} {
		var exists bool

		err = db.QueryRowContext(ctx, `SELECT EXISTS (SELECT FROM
information_schema.tables WHERE table_name = $1)`, table).Scan(&exists)
		require.NoError(t, err)
		assert.True(t, exists, "%s table should exist", table)
	}

	var version int

	err = db.QueryRowContext(ctx, "SELECT MAX(version) FROM schema_migrations").Scan(&version)
	require.NoError(t, err)
	assert.Equal(t, 1, version)
}

func TestNewPersistence_ProcessWithStepsCannotBeDeleted(t *testing.T) {
	p, ctx, databaseURL, _ := setupTestDB(t)

	processID, _ := createInvitation(ctx, t, p)

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	defer func() {
		err := db.Close()
		require.NoError(t, err)
	}()

	_, err = db.ExecContext(ctx, "DELETE FROM processes WHERE id = $1", processID)
	require.Error(t, err)

	var steps int

	err = db.QueryRowContext(ctx, "SELECT COUNT(*) FROM process_steps WHERE process_id = $1", processID).Scan(&steps)
	require.NoError(t, err)
	assert.Equal(t, 1, steps)
}

func TestNewPersistence_HealthCheck(t *testing.T) {
	p, ctx, _, _ := setupTestDB(t)

	err := p.HealthCheck(ctx)
	assert.NoError(t, err)
}

func TestProcessRepository_CreateAndRead(t *testing.T) {
	p, ctx, _, clock := setupTestDB(t)

	processID, stepID := createInvitation(ctx, t, p)

	process, err := p.ProcessByID(ctx, processID)
	require.NoError(t, err)
	assert.Equal(t, models.ProcessTypeInvitation, process.Type)
	assert.Equal(t, "invitation-1", process.ExternalID)
	assert.Equal(t, int64(1), process.Version)
	assert.Nil(t, process.LockExpiryDate)
	assert.True(t, clock.Now().Equal(process.DateCreated))

	steps, err := p.StepsByProcess(ctx, processID)
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.Equal(t, stepID, steps[0].ID)
	assert.Equal(t, models.ProcessStepStatusTodo, steps[0].Status)
	assert.Nil(t, steps[0].Message)

	_, err = p.ProcessByID(ctx, uuid.NewString())
	assert.True(t, persistence.IsProcessNotFound(err))

	_, err = p.ProcessByID(ctx, "not-a-uuid")
	assert.True(t, persistence.IsProcessNotFound(err))

	_, err = p.StepsByProcess(ctx, uuid.NewString())
	assert.True(t, persistence.IsProcessNotFound(err))
}

func TestProcessRepository_CreateProcess_WithInitialSteps(t *testing.T) {
	p, ctx, _, _ := setupTestDB(t)

	processID, err := p.CreateProcess(ctx, models.ProcessTypeInvitation, "invitation-1",
		models.StepInvitationCreateUser, models.StepInvitationSendMail)
	require.NoError(t, err)

	steps, err := p.StepsByProcess(ctx, processID)
	require.NoError(t, err)
	require.Len(t, steps, 2)
	assert.Equal(t, models.StepInvitationCreateUser, steps[0].Type)
	assert.Equal(t, models.StepInvitationSendMail, steps[1].Type)

	_, err = p.CreateProcess(ctx, models.ProcessTypeInvitation, "invitation-2", models.StepSendMail)
	assert.True(t, persistence.IsIllegalStepType(err))

	due, err := p.FindDueSteps(ctx, models.ProcessTypeInvitation, []models.ProcessStepType{models.StepInvitationCreateUser, models.StepInvitationSendMail}, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, processID, due[0].Process.ID)
}

func TestProcessRepository_CreateStep_Invariants(t *testing.T) {
	p, ctx, databaseURL, _ := setupTestDB(t)

	processID, _ := createInvitation(ctx, t, p)

	_, err := p.CreateStep(ctx, processID, models.StepInvitationCreateUser, models.ProcessStepStatusTodo)
	assert.True(t, persistence.IsStepAlreadyOpen(err))

	_, err = p.CreateStep(ctx, processID, models.StepSendMail, models.ProcessStepStatusTodo)
	assert.True(t, persistence.IsIllegalStepType(err))

	_, err = p.CreateStep(ctx, uuid.NewString(), models.StepInvitationSendMail, models.ProcessStepStatusTodo)
	assert.True(t, persistence.IsProcessNotFound(err))

	_, err = p.CreateStep(ctx, processID, models.StepInvitationCreateUser, models.ProcessStepStatusFailed)
	assert.NoError(t, err, "terminal steps do not count toward the open-step limit")

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	defer func() {
		require.NoError(t, db.Close())
	}()

	_, err = db.ExecContext(ctx, `
		INSERT INTO process_steps (id, process_id, process_step_type, process_step_status, date_created)
		VALUES ($1, $2, 'INVITATION_CREATE_USER', 'IN_PROGRESS', NOW())
	`, uuid.NewString(), processID)
	assert.Error(t, err, "the partial unique index rejects a second open step")
}

func TestProcessRepository_TryAcquireLease(t *testing.T) {
	p, ctx, _, clock := setupTestDB(t)

	processID, _ := createInvitation(ctx, t, p)
	stepTypes := []models.ProcessStepType{models.StepInvitationCreateUser}

	version, err := p.TryAcquireLease(ctx, processID, 1, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(2), version)

	process, err := p.ProcessByID(ctx, processID)
	require.NoError(t, err)
	require.NotNil(t, process.LockExpiryDate)
	assert.True(t, clock.Now().Add(time.Minute).Equal(*process.LockExpiryDate))

	_, err = p.TryAcquireLease(ctx, processID, 1, time.Minute)
	assert.True(t, persistence.IsConflict(err))

	_, err = p.TryAcquireLease(ctx, processID, version, time.Minute)
	assert.True(t, persistence.IsConflict(err), "a live lease cannot be taken over")

	_, err = p.TryAcquireLease(ctx, uuid.NewString(), 1, time.Minute)
	assert.True(t, persistence.IsProcessNotFound(err))

	due, err := p.FindDueSteps(ctx, models.ProcessTypeInvitation, stepTypes, 10)
	require.NoError(t, err)
	assert.Empty(t, due)

	clock.Advance(2 * time.Minute)

	due, err = p.FindDueSteps(ctx, models.ProcessTypeInvitation, stepTypes, 10)
	require.NoError(t, err)
	require.Len(t, due, 1, "an expired lease is reclaimable")
	assert.Equal(t, version, due[0].Process.Version)

	_, err = p.TryAcquireLease(ctx, processID, version, time.Minute)
	assert.NoError(t, err)
}

func TestProcessRepository_TryAcquireLease_SingleWinner(t *testing.T) {
	p, ctx, _, _ := setupTestDB(t)

	processID, _ := createInvitation(ctx, t, p)

	const contenders = 8

	var (
		wins      atomic.Int32
		conflicts atomic.Int32
		wg        sync.WaitGroup
	)

	for range contenders {
		wg.Add(1)

		go func() {
			defer wg.Done()

			_, err := p.TryAcquireLease(ctx, processID, 1, time.Minute)
			if err == nil {
				wins.Add(1)
			} else if persistence.IsConflict(err) {
				conflicts.Add(1)
			}
		}()
	}

	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, int32(contenders-1), conflicts.Load())
}

func TestProcessRepository_ApplyStepResult(t *testing.T) {
	p, ctx, _, _ := setupTestDB(t)

	processID, stepID := createInvitation(ctx, t, p)

	version, err := p.TryAcquireLease(ctx, processID, 1, time.Minute)
	require.NoError(t, err)

	message := "user created"
	version, err = p.ApplyStepResult(ctx, processID, version, persistence.StepTransition{
		StepID:    stepID,
		Status:    models.ProcessStepStatusDone,
		Message:   &message,
		NextSteps: []models.ProcessStepType{models.StepInvitationSendMail, models.StepInvitationSendMail},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(3), version)

	process, err := p.ProcessByID(ctx, processID)
	require.NoError(t, err)
	assert.Nil(t, process.LockExpiryDate)
	assert.Equal(t, version, process.Version)

	steps, err := p.StepsByProcess(ctx, processID)
	require.NoError(t, err)
	require.Len(t, steps, 2)
	assert.Equal(t, models.ProcessStepStatusDone, steps[0].Status)
	require.NotNil(t, steps[0].Message)
	assert.Equal(t, message, *steps[0].Message)
	assert.NotNil(t, steps[0].DateLastChanged)
	assert.Equal(t, models.StepInvitationSendMail, steps[1].Type)
	assert.Equal(t, models.ProcessStepStatusTodo, steps[1].Status)

	_, err = p.ApplyStepResult(ctx, processID, 1, persistence.StepTransition{
		StepID: steps[1].ID,
		Status: models.ProcessStepStatusDone,
	})
	assert.True(t, persistence.IsConflict(err), "stale version")

	_, err = p.ApplyStepResult(ctx, processID, version, persistence.StepTransition{
		StepID: stepID,
		Status: models.ProcessStepStatusFailed,
	})
	assert.True(t, persistence.IsConflict(err), "already finished step")

	_, err = p.ApplyStepResult(ctx, processID, version, persistence.StepTransition{
		StepID: uuid.NewString(),
		Status: models.ProcessStepStatusDone,
	})
	assert.True(t, persistence.IsStepNotFound(err))

	_, err = p.ApplyStepResult(ctx, processID, version, persistence.StepTransition{
		StepID: steps[1].ID,
		Status: models.ProcessStepStatus("PAUSED"),
	})
	assert.ErrorIs(t, err, persistence.ErrInvalidStatus)

	// A step may stay open and still request follow-ups, which skip types that are already open.
	_, err = p.ApplyStepResult(ctx, processID, version, persistence.StepTransition{
		StepID:    steps[1].ID,
		Status:    models.ProcessStepStatusTodo,
		NextSteps: []models.ProcessStepType{models.StepInvitationSendMail},
	})
	require.NoError(t, err)

	steps, err = p.StepsByProcess(ctx, processID)
	require.NoError(t, err)
	assert.Len(t, steps, 2)
}

func TestProcessRepository_ApplyStepResult_IllegalNextStepWritesNothing(t *testing.T) {
	p, ctx, _, _ := setupTestDB(t)

	processID, stepID := createInvitation(ctx, t, p)

	version, err := p.TryAcquireLease(ctx, processID, 1, time.Minute)
	require.NoError(t, err)

	_, err = p.ApplyStepResult(ctx, processID, version, persistence.StepTransition{
		StepID:    stepID,
		Status:    models.ProcessStepStatusDone,
		NextSteps: []models.ProcessStepType{models.StepInvitationSendMail, models.StepActivateSubscription},
	})
	assert.True(t, persistence.IsIllegalStepType(err))

	process, err := p.ProcessByID(ctx, processID)
	require.NoError(t, err)
	assert.Equal(t, version, process.Version)
	assert.NotNil(t, process.LockExpiryDate)

	steps, err := p.StepsByProcess(ctx, processID)
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.Equal(t, models.ProcessStepStatusTodo, steps[0].Status)
}

func TestProcessRepository_ApplyStepResult_FailureMidWriteRollsBack(t *testing.T) {
	p, ctx, databaseURL, _ := setupTestDB(t)

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	defer func() {
		require.NoError(t, db.Close())
	}()

	_, err = db.ExecContext(ctx, `
		CREATE FUNCTION reject_step_type() RETURNS trigger AS $$
		BEGIN
			RAISE EXCEPTION 'storage failure';
		END;
		$$ LANGUAGE plpgsql;

		CREATE TRIGGER reject_start_clearing_house
			BEFORE INSERT ON process_steps
			FOR EACH ROW
			WHEN (NEW.process_step_type = 'START_CLEARING_HOUSE')
			EXECUTE FUNCTION reject_step_type();
	`)
	require.NoError(t, err)

	processID, err := p.CreateProcess(ctx, models.ProcessTypeApplicationChecklist, "application-1")
	require.NoError(t, err)

	stepID, err := p.CreateStep(ctx, processID, models.StepCreateIdentityWallet, models.ProcessStepStatusTodo)
	require.NoError(t, err)

	version, err := p.TryAcquireLease(ctx, processID, 1, time.Minute)
	require.NoError(t, err)

	_, err = p.ApplyStepResult(ctx, processID, version, persistence.StepTransition{
		StepID:    stepID,
		Status:    models.ProcessStepStatusDone,
		NextSteps: []models.ProcessStepType{models.StepStartSelfDescriptionLP, models.StepStartClearingHouse},
		Checklist: []models.ChecklistEntry{{
			ExternalID: "application-1",
			Type:       models.ChecklistEntryIdentityWallet,
			Status:     models.ChecklistStatusDone,
		}},
	})
	require.Error(t, err)

	process, err := p.ProcessByID(ctx, processID)
	require.NoError(t, err)
	assert.Equal(t, version, process.Version)

	steps, err := p.StepsByProcess(ctx, processID)
	require.NoError(t, err)
	require.Len(t, steps, 1, "the first next step was rolled back")
	assert.Equal(t, models.ProcessStepStatusTodo, steps[0].Status)

	entries, err := p.ChecklistEntries(ctx, "application-1")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestProcessRepository_FindDueStepsAndCounts(t *testing.T) {
	p, ctx, _, clock := setupTestDB(t)

	first, err := p.CreateProcess(ctx, models.ProcessTypeMailing, "mail-1")
	require.NoError(t, err)
	second, err := p.CreateProcess(ctx, models.ProcessTypeMailing, "mail-2")
	require.NoError(t, err)
	other, err := p.CreateProcess(ctx, models.ProcessTypeInvitation, "invitation-1")
	require.NoError(t, err)

	_, err = p.CreateStep(ctx, second, models.StepSendMail, models.ProcessStepStatusTodo)
	require.NoError(t, err)

	clock.Advance(time.Second)

	_, err = p.CreateStep(ctx, first, models.StepSendMail, models.ProcessStepStatusTodo)
	require.NoError(t, err)
	_, err = p.CreateStep(ctx, first, models.StepRetriggerSendMail, models.ProcessStepStatusTodo)
	require.NoError(t, err)
	_, err = p.CreateStep(ctx, other, models.StepInvitationSendMail, models.ProcessStepStatusInProgress)
	require.NoError(t, err)

	stepTypes := []models.ProcessStepType{models.StepSendMail, models.StepRetriggerSendMail}

	due, err := p.FindDueSteps(ctx, models.ProcessTypeMailing, stepTypes, 10)
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, second, due[0].Process.ID)
	assert.Equal(t, first, due[1].Process.ID)
	assert.Len(t, due[1].StepIDs, 2)

	due, err = p.FindDueSteps(ctx, models.ProcessTypeMailing, stepTypes, 1)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, second, due[0].Process.ID)

	due, err = p.FindDueSteps(ctx, models.ProcessTypeMailing, []models.ProcessStepType{models.StepRetriggerSendMail}, 0)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, first, due[0].Process.ID)

	counts, err := p.CountOpenSteps(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), counts[models.ProcessStepStatusTodo])
	assert.Equal(t, int64(1), counts[models.ProcessStepStatusInProgress])
}

func TestProcessRepository_ReleaseLease(t *testing.T) {
	p, ctx, _, _ := setupTestDB(t)

	processID, _ := createInvitation(ctx, t, p)

	version, err := p.TryAcquireLease(ctx, processID, 1, time.Minute)
	require.NoError(t, err)

	_, err = p.ReleaseLease(ctx, processID, 1)
	assert.True(t, persistence.IsConflict(err))

	version, err = p.ReleaseLease(ctx, processID, version)
	require.NoError(t, err)
	assert.Equal(t, int64(3), version)

	process, err := p.ProcessByID(ctx, processID)
	require.NoError(t, err)
	assert.Nil(t, process.LockExpiryDate)
}

func TestChecklistRepository_Upsert(t *testing.T) {
	p, ctx, _, clock := setupTestDB(t)

	processID, err := p.CreateProcess(ctx, models.ProcessTypeApplicationChecklist, "application-1")
	require.NoError(t, err)

	first, err := p.CreateStep(ctx, processID, models.StepCreateIdentityWallet, models.ProcessStepStatusTodo)
	require.NoError(t, err)

	version, err := p.ApplyStepResult(ctx, processID, 1, persistence.StepTransition{
		StepID: first,
		Status: models.ProcessStepStatusFailed,
		Checklist: []models.ChecklistEntry{{
			ExternalID: "application-1",
			Type:       models.ChecklistEntryIdentityWallet,
			Status:     models.ChecklistStatusFailed,
			Comment:    "wallet service unavailable",
		}},
	})
	require.NoError(t, err)

	created := clock.Now()
	clock.Advance(time.Hour)

	second, err := p.CreateStep(ctx, processID, models.StepCreateIdentityWallet, models.ProcessStepStatusTodo)
	require.NoError(t, err)

	_, err = p.ApplyStepResult(ctx, processID, version, persistence.StepTransition{
		StepID: second,
		Status: models.ProcessStepStatusDone,
		Checklist: []models.ChecklistEntry{{
			ExternalID: "application-1",
			Type:       models.ChecklistEntryIdentityWallet,
			Status:     models.ChecklistStatusDone,
		}},
	})
	require.NoError(t, err)

	entries, err := p.ChecklistEntries(ctx, "application-1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, models.ChecklistStatusDone, entries[0].Status)
	assert.Empty(t, entries[0].Comment)
	assert.True(t, created.Equal(entries[0].DateCreated))
	require.NotNil(t, entries[0].DateLastChanged)
	assert.True(t, clock.Now().Equal(*entries[0].DateLastChanged))
}
