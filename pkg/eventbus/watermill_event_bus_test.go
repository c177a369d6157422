package eventbus_test

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/dukex/portal-processes/pkg/channels/gochannel"
	"github.com/dukex/portal-processes/pkg/eventbus"
	"github.com/dukex/portal-processes/pkg/events"
	"github.com/dukex/portal-processes/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatermillEventBus_PublishAndHandle(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pub, sub, err := gochannel.CreateChannel(watermill.NopLogger{})
	require.NoError(t, err)

	bus := eventbus.NewWatermillEventBus(pub, sub)

	defer func() {
		assert.NoError(t, bus.Close())
	}()

	received := make(chan *events.ProcessStepFinished, 1)

	err = bus.Handle(events.ProcessStepFinishedEvent, func(_ context.Context, event any) error {
		received <- event.(*events.ProcessStepFinished)

		return nil
	})
	require.NoError(t, err)

	err = bus.Subscribe(ctx)
	require.NoError(t, err)

	process := models.Process{ID: "process-1", Type: models.ProcessTypeMailing}
	step := models.ProcessStep{ID: "step-1", Type: models.StepSendMail}

	// Unhandled event types are acknowledged and dropped.
	err = bus.Publish(ctx, process.ID, events.NewProcessStarted(process, nil, time.Now()))
	require.NoError(t, err)

	err = bus.Publish(ctx, process.ID, events.NewProcessStepFinished(process, step, models.ProcessStepStatusDone, nil, nil, time.Now(), time.Second))
	require.NoError(t, err)

	select {
	case event := <-received:
		assert.Equal(t, "step-1", event.StepID)
		assert.Equal(t, models.ProcessStepStatusDone, event.Status)
	case <-ctx.Done():
		t.Fatal("event was not delivered")
	}
}

func TestNoopPublisher(t *testing.T) {
	var publisher eventbus.EventPublisher = eventbus.NoopPublisher{}

	err := publisher.Publish(context.Background(), "key", events.ProcessStepFinished{})
	assert.NoError(t, err)
}
