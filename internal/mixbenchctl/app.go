// Package mixbenchctl implements the mixbenchctl operator commands. Each
// command is a method on App; the cobra layer in cmd/mixbenchctl only parses
// flags and delegates here, which keeps every command testable without a
// terminal.
//
// Commands reach the queue one of two ways. By default they open the object
// store directly, exactly as the dispatch server would, so the CLI works with
// nothing else running. When serverUrl is configured, queue commands go
// through a dispatch server's HTTP API instead. Result commands always read
// the store directly; the server does not expose results.
package mixbenchctl

import (
	"io"
	"os"

	"github.com/mixbenchproject/mixbench/internal/common/objectstore"
	"github.com/mixbenchproject/mixbench/internal/mixbench/configuration"
	"github.com/mixbenchproject/mixbench/internal/mixbench/dispatch"
	"github.com/mixbenchproject/mixbench/internal/mixbench/launcher"
	"github.com/mixbenchproject/mixbench/internal/mixbench/repository"
	"github.com/mixbenchproject/mixbench/internal/mixbench/results"
	"github.com/mixbenchproject/mixbench/pkg/client"
)

type App struct {
	// Parameters passed to the CLI by the user.
	Params *Params
	// Out is used to write output. Defaults to standard out, but can be
	// overridden in tests to make assertions on the application's output.
	Out io.Writer

	// Backends are built lazily from Params.Config on first use. Tests
	// assign these directly to run commands against in-memory stores.
	api       *client.Client
	store     objectstore.Store
	repo      repository.QueueRepository
	launcher  launcher.Launcher
	prober    launcher.StatusProber
	collector *results.Collector
}

// Params holds all user-customisable parameters. A single struct for every
// command keeps flag names distinct and lets settings come either from the
// command line or from a config file shared between runs.
type Params struct {
	Config *configuration.MixbenchctlConfig
}

func New() *App {
	return &App{
		Params: &Params{Config: &configuration.MixbenchctlConfig{}},
		Out:    os.Stdout,
	}
}

// serverMode reports whether queue commands go through a dispatch server
// rather than straight to the store.
func (a *App) serverMode() bool {
	return a.Params.Config.ServerUrl != ""
}

func (a *App) apiClient() *client.Client {
	if a.api == nil {
		a.api = client.New(a.Params.Config.ServerUrl)
	}
	return a.api
}

// queueName applies the configured default when the user did not name a queue.
func (a *App) queueName(override string) string {
	if override != "" {
		return override
	}
	return a.Params.Config.Queue.DefaultQueue
}

func (a *App) queueStore() (objectstore.Store, error) {
	if a.store == nil {
		store, err := objectstore.FromURL(a.Params.Config.Queue.StoreUrl)
		if err != nil {
			return nil, err
		}
		a.store = store
	}
	return a.store, nil
}

func (a *App) queueRepository() (repository.QueueRepository, error) {
	if a.repo == nil {
		store, err := a.queueStore()
		if err != nil {
			return nil, err
		}
		queueConfig := a.Params.Config.Queue
		a.repo = repository.NewStoreQueueRepository(store, queueConfig.Prefix, queueConfig.EnqueueAttempts, queueConfig.CasBackoff)
	}
	return a.repo, nil
}

// dispatcher assembles a dispatcher over the configured store and compute
// platform, with status probing enabled so draining also reconciles entries
// the platform lost.
func (a *App) dispatcher() (*dispatch.Dispatcher, error) {
	repo, err := a.queueRepository()
	if err != nil {
		return nil, err
	}
	if a.launcher == nil {
		runs := launcher.NewRunsAPILauncher(a.Params.Config.Launcher)
		a.launcher = runs
		a.prober = runs
	}
	d := dispatch.NewDispatcher(repo, a.launcher, a.Params.Config.Dispatch)
	if a.prober != nil {
		d = d.WithProber(a.prober)
	}
	return d, nil
}

func (a *App) resultCollector() (*results.Collector, error) {
	if a.collector == nil {
		repo, err := a.queueRepository()
		if err != nil {
			return nil, err
		}
		resultsConfig := a.Params.Config.Results
		store, err := a.resultStore(resultsConfig.StoreUrl)
		if err != nil {
			return nil, err
		}
		a.collector = results.NewCollector(store, repo, resultsConfig)
	}
	return a.collector, nil
}

// resultStore resolves where result artifacts live. An empty url means the
// training side writes into the queue store.
func (a *App) resultStore(storeUrl string) (objectstore.Store, error) {
	if storeUrl == "" {
		return a.queueStore()
	}
	return objectstore.FromURL(storeUrl)
}
