// Package cmd provides common initialization functions for command-line applications.
package cmd

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/portal-processes/pkg/eventbus"
	"github.com/dukex/portal-processes/pkg/handlers"
	"github.com/dukex/portal-processes/pkg/models"
	"github.com/dukex/portal-processes/pkg/processes"
	"github.com/jonboulle/clockwork"
)

// NewRegistry registers the built-in handlers backed by logging collaborators.
func NewRegistry(logger *slog.Logger, table *models.LegalityTable) (*processes.Registry, error) {
	registry := processes.NewRegistry(table)

	err := handlers.Register(registry, handlers.LoggingDependencies(logger))
	if err != nil {
		return nil, fmt.Errorf("failed to register handlers: %w", err)
	}

	return registry, nil
}

// NewGateway wires the gateway used by the admin surfaces. A nil publisher drops events.
// followUps are typically config.ProcessConfig.FollowUps.
func NewGateway(
	store processes.Store,
	publisher eventbus.EventPublisher,
	logger *slog.Logger,
	clock clockwork.Clock,
	maxRetries int,
	leaseDuration time.Duration,
	followUps map[models.ProcessStepType][]models.ProcessStepType,
) *processes.Gateway {
	scheduler := processes.NewScheduler(models.DefaultLegalityTable(), maxRetries)
	leases := processes.NewLeaseManager(store, clock, leaseDuration)

	opts := []processes.GatewayOption{
		processes.WithFollowUps(followUps),
		processes.WithGatewayClock(clock),
	}

	if publisher != nil {
		opts = append(opts, processes.WithGatewayPublisher(publisher))
	}

	return processes.NewGateway(store, scheduler, leases, logger, opts...)
}
