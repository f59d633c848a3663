package mixbench

import (
	"context"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/mixbenchproject/mixbench/internal/common"
	"github.com/mixbenchproject/mixbench/internal/common/health"
	"github.com/mixbenchproject/mixbench/internal/common/objectstore"
	"github.com/mixbenchproject/mixbench/internal/mixbench/configuration"
	"github.com/mixbenchproject/mixbench/internal/mixbench/dispatch"
	"github.com/mixbenchproject/mixbench/internal/mixbench/launcher"
	"github.com/mixbenchproject/mixbench/internal/mixbench/metrics"
	"github.com/mixbenchproject/mixbench/internal/mixbench/repository"
	"github.com/mixbenchproject/mixbench/internal/mixbench/server"
	"github.com/mixbenchproject/mixbench/internal/mixbench/submit"
	"github.com/mixbenchproject/mixbench/internal/mixbench/trigger"
)

// Serve wires the dispatch server together and runs it until the context is
// cancelled or a component fails.
func Serve(ctx context.Context, config *configuration.MixbenchConfig, healthChecks *health.MultiChecker) error {
	log.Info("mixbench dispatch server starting")
	defer log.Info("mixbench dispatch server shutting down")

	// MarkComplete is called once every service has been started.
	startupCompleteCheck := health.NewStartupCompleteChecker()
	healthChecks.Add(startupCompleteCheck)

	// Run all services within an errgroup to propagate errors between them.
	// Defer cancelling the parent context to ensure the errgroup is cancelled
	// on return.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	// Services are accumulated here and started together once wiring is
	// complete, so that nothing runs against half-constructed components.
	var services []func() error

	//////////////////////////////////////////////////////////////////////////
	// Queue storage and dispatch
	//////////////////////////////////////////////////////////////////////////
	queueStore, err := objectstore.FromURL(config.Queue.StoreUrl)
	if err != nil {
		return err
	}
	repo := repository.NewStoreQueueRepository(
		queueStore,
		config.Queue.Prefix,
		config.Queue.EnqueueAttempts,
		config.Queue.CasBackoff,
	)

	m := metrics.NewMetrics(metrics.MixbenchMetricsPrefix)

	runsLauncher := launcher.NewRunsAPILauncher(config.Launcher)
	dispatcher := dispatch.NewDispatcher(repo, runsLauncher, config.Dispatch).
		WithProber(runsLauncher).
		WithMetrics(m)
	submitter := submit.NewSubmitter(repo).WithMetrics(m)

	//////////////////////////////////////////////////////////////////////////
	// Triggers
	//////////////////////////////////////////////////////////////////////////
	if config.Dispatch.TickInterval > 0 {
		periodic := trigger.NewPeriodicTicker(dispatcher, config.Queue.DefaultQueue, config.Dispatch.TickInterval)
		services = append(services, func() error {
			return periodic.Run(ctx)
		})
	} else {
		log.Info("periodic trigger disabled")
	}

	if config.Trigger.NatsUrl != "" {
		natsTrigger, err := trigger.ConnectNatsTrigger(dispatcher, config.Queue.DefaultQueue, config.Trigger)
		if err != nil {
			return err
		}
		healthChecks.Add(natsTrigger)
		services = append(services, func() error {
			return natsTrigger.Run(ctx)
		})
	} else {
		log.Info("no NATS config provided; ticks arrive over HTTP only")
	}

	//////////////////////////////////////////////////////////////////////////
	// HTTP API
	//////////////////////////////////////////////////////////////////////////
	e := server.BuildServer(repo, dispatcher, submitter, config.Queue.DefaultQueue, healthChecks)
	shutdownHttpServer := common.ServeHttp(config.HttpPort, e)
	// The shutdown service also keeps the group alive for deployments where
	// both optional triggers are disabled.
	services = append(services, func() error {
		<-ctx.Done()
		shutdownHttpServer()
		return nil
	})

	for _, service := range services {
		g.Go(service)
	}

	startupCompleteCheck.MarkComplete()
	return g.Wait()
}
