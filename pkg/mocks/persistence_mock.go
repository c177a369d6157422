package mocks

import (
	"context"
	"time"

	"github.com/dukex/portal-processes/pkg/models"
	"github.com/dukex/portal-processes/pkg/persistence"
	"github.com/stretchr/testify/mock"
)

// MockPersistence is a mock implementation of persistence.Persistence interface.
type MockPersistence struct {
	mock.Mock
}

func NewMockPersistence() *MockPersistence {
	return &MockPersistence{}
}

func (m *MockPersistence) CreateProcess(ctx context.Context, processType models.ProcessType, externalID string, initialSteps ...models.ProcessStepType) (string, error) {
	args := m.Called(ctx, processType, externalID, initialSteps)

	return args.String(0), args.Error(1)
}

func (m *MockPersistence) CreateStep(ctx context.Context, processID string, stepType models.ProcessStepType, status models.ProcessStepStatus) (string, error) {
	args := m.Called(ctx, processID, stepType, status)

	return args.String(0), args.Error(1)
}

func (m *MockPersistence) FindDueSteps(ctx context.Context, processType models.ProcessType, stepTypes []models.ProcessStepType, limit int) ([]persistence.DueProcess, error) {
	args := m.Called(ctx, processType, stepTypes, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]persistence.DueProcess), args.Error(1)
}

func (m *MockPersistence) TryAcquireLease(ctx context.Context, processID string, expectedVersion int64, leaseDuration time.Duration) (int64, error) {
	args := m.Called(ctx, processID, expectedVersion, leaseDuration)

	return args.Get(0).(int64), args.Error(1)
}

func (m *MockPersistence) ApplyStepResult(ctx context.Context, processID string, expectedVersion int64, transition persistence.StepTransition) (int64, error) {
	args := m.Called(ctx, processID, expectedVersion, transition)

	return args.Get(0).(int64), args.Error(1)
}

func (m *MockPersistence) ReleaseLease(ctx context.Context, processID string, expectedVersion int64) (int64, error) {
	args := m.Called(ctx, processID, expectedVersion)

	return args.Get(0).(int64), args.Error(1)
}

func (m *MockPersistence) ProcessByID(ctx context.Context, processID string) (*models.Process, error) {
	args := m.Called(ctx, processID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.Process), args.Error(1)
}

func (m *MockPersistence) StepsByProcess(ctx context.Context, processID string) ([]models.ProcessStep, error) {
	args := m.Called(ctx, processID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]models.ProcessStep), args.Error(1)
}

func (m *MockPersistence) CountOpenSteps(ctx context.Context) (map[models.ProcessStepStatus]int64, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(map[models.ProcessStepStatus]int64), args.Error(1)
}

func (m *MockPersistence) ChecklistEntries(ctx context.Context, externalID string) ([]models.ChecklistEntry, error) {
	args := m.Called(ctx, externalID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]models.ChecklistEntry), args.Error(1)
}

func (m *MockPersistence) HealthCheck(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}

func (m *MockPersistence) Close(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}
