package processes_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/dukex/portal-processes/pkg/models"
	"github.com/dukex/portal-processes/pkg/persistence/memory"
	"github.com/dukex/portal-processes/pkg/processes"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

const testLeaseDuration = time.Minute

type harness struct {
	store     *memory.Store
	clock     *clockwork.FakeClock
	table     *models.LegalityTable
	registry  *processes.Registry
	scheduler *processes.Scheduler
	leases    *processes.LeaseManager
}

func newHarness(t *testing.T, storeOpts ...memory.Option) *harness {
	t.Helper()

	clock := clockwork.NewFakeClock()
	table := models.DefaultLegalityTable()
	store := memory.NewStore(append([]memory.Option{memory.WithClock(clock)}, storeOpts...)...)

	return &harness{
		store:     store,
		clock:     clock,
		table:     table,
		registry:  processes.NewRegistry(table),
		scheduler: processes.NewScheduler(table, 0),
		leases:    processes.NewLeaseManager(store, clock, testLeaseDuration),
	}
}

func (h *harness) dispatcher(t *testing.T, opts ...processes.DispatcherOption) *processes.Dispatcher {
	t.Helper()

	d, err := processes.NewDispatcher(h.store, h.registry, h.leases, h.scheduler, discardLogger(),
		append([]processes.DispatcherOption{processes.WithClock(h.clock)}, opts...)...)
	require.NoError(t, err)

	return d
}

func (h *harness) gateway(opts ...processes.GatewayOption) *processes.Gateway {
	return processes.NewGateway(h.store, h.scheduler, h.leases, discardLogger(),
		append([]processes.GatewayOption{processes.WithGatewayClock(h.clock)}, opts...)...)
}

// start creates a process with the given steps directly in the store.
func (h *harness) start(t *testing.T, processType models.ProcessType, externalID string, steps ...models.ProcessStepType) string {
	t.Helper()

	ctx := context.Background()

	processID, err := h.store.CreateProcess(ctx, processType, externalID)
	require.NoError(t, err)

	for _, stepType := range steps {
		_, err = h.store.CreateStep(ctx, processID, stepType, models.ProcessStepStatusTodo)
		require.NoError(t, err)
	}

	return processID
}

func (h *harness) steps(t *testing.T, processID string) []models.ProcessStep {
	t.Helper()

	steps, err := h.store.StepsByProcess(context.Background(), processID)
	require.NoError(t, err)

	return steps
}

func (h *harness) process(t *testing.T, processID string) models.Process {
	t.Helper()

	process, err := h.store.ProcessByID(context.Background(), processID)
	require.NoError(t, err)

	return *process
}

// summary renders steps as TYPE:STATUS in creation order.
func summary(steps []models.ProcessStep) []string {
	out := make([]string, 0, len(steps))
	for _, step := range steps {
		out = append(out, string(step.Type)+":"+string(step.Status))
	}

	return out
}

func message(step models.ProcessStep) string {
	if step.Message == nil {
		return ""
	}

	return *step.Message
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func runOnce(t *testing.T, d *processes.Dispatcher) int {
	t.Helper()

	handled, err := d.RunOnce(context.Background())
	require.NoError(t, err)

	return handled
}
