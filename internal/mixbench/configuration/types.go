package configuration

import (
	"time"
)

type MixbenchConfig struct {
	// Port for the HTTP trigger and status API.
	HttpPort uint16 `validate:"required"`
	// Port for the Prometheus /metrics listener.
	MetricsPort uint16 `validate:"required"`

	Queue    QueueConfig
	Dispatch DispatchConfig
	Launcher LauncherConfig
	Trigger  TriggerConfig
}

// MixbenchctlConfig configures the operator CLI. Commands work on the store
// directly by default; setting ServerUrl routes queue operations through a
// dispatch server instead, for machines that have no store credentials.
type MixbenchctlConfig struct {
	// Dispatch server url, e.g. http://mixbench:8080. Empty means direct
	// store access.
	ServerUrl string `validate:"omitempty,url"`
	// Pause between ticks when draining a queue until it is empty.
	DrainInterval time.Duration

	Queue    QueueConfig
	Dispatch DispatchConfig
	Launcher LauncherConfig
	Results  ResultsConfig
}

type QueueConfig struct {
	// Where queue documents live: mem://, file:///path or
	// s3://bucket?endpoint=host:port.
	StoreUrl string `validate:"required"`
	// Key prefix applied to every queue document.
	Prefix string
	// Queue used when the caller does not name one.
	DefaultQueue string `validate:"required"`
	// How many times an enqueue retries after losing the generation race.
	EnqueueAttempts int `validate:"gte=1"`
	// Base delay between retries; jitter is applied on top.
	CasBackoff time.Duration
}

type DispatchConfig struct {
	// Grace period after a launch during which the launched entry is not
	// re-evaluated, covering the compute platform's status-reporting latency.
	SafeLag time.Duration
	// How many times a tick retries the lease CAS before giving up.
	LeaseAttempts int `validate:"gte=1"`
	// Interval of the built-in periodic trigger; zero disables it.
	TickInterval time.Duration
}

type LauncherConfig struct {
	// Base url of the compute platform's REST API.
	BaseUrl string `validate:"required,url"`
	// Path of the run-submission endpoint, relative to BaseUrl.
	RunSubmitPath string
	// Path of the run-status endpoint, relative to BaseUrl. Empty uses the
	// platform's standard path.
	RunGetPath string
	// Bearer token presented to the platform.
	Token   string
	Timeout time.Duration
}

type ResultsConfig struct {
	// Store url for result artifacts; empty reuses the queue store.
	StoreUrl string
	// Prefix under which the training collaborator writes result trees.
	Root string
	// Slack added on both sides of the submission window when matching
	// result timestamps to a benchmark run.
	WindowSlack time.Duration
	// How long parsed summaries are memoised between collections.
	CacheTtl time.Duration
}

type TriggerConfig struct {
	// NATS server url; empty disables the event trigger.
	NatsUrl string
	// Subject ticks are received on.
	Subject string
}
