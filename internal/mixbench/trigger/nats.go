package trigger

import (
	"context"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/mixbenchproject/mixbench/internal/mixbench/configuration"
)

const (
	// Replicas share one queue group so a published event wakes exactly one of
	// them; the generation check covers the rest.
	natsQueueGroup = "mixbench-dispatch"
	// A tick holds a NATS delivery goroutine for at most this long.
	natsTickTimeout = 30 * time.Second
)

// NatsTrigger ticks a queue whenever a message arrives on a NATS subject.
// The message body names the queue to tick; an empty body means the default
// queue.
type NatsTrigger struct {
	ticker       Ticker
	defaultQueue string
	subject      string
	conn         *nats.Conn
	log          *log.Entry
}

// ConnectNatsTrigger connects to the NATS server named by config. The
// subscription itself is established by Run. The underlying connection
// reconnects indefinitely, so a NATS outage stalls ticks rather than
// killing the server.
func ConnectNatsTrigger(ticker Ticker, defaultQueue string, config configuration.TriggerConfig) (*NatsTrigger, error) {
	conn, err := nats.Connect(config.NatsUrl,
		nats.Name("mixbench-trigger"),
		nats.MaxReconnects(-1),
		nats.ReconnectBufSize(-1))
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return &NatsTrigger{
		ticker:       ticker,
		defaultQueue: defaultQueue,
		subject:      config.Subject,
		conn:         conn,
		log:          log.WithField("service", "NatsTrigger"),
	}, nil
}

// Run subscribes and blocks until the context is cancelled, then drains the
// subscription and closes the connection.
func (t *NatsTrigger) Run(ctx context.Context) error {
	sub, err := t.conn.QueueSubscribe(t.subject, natsQueueGroup, func(msg *nats.Msg) {
		t.handle(ctx, msg)
	})
	if err != nil {
		return errors.WithStack(err)
	}
	t.log.Infof("listening for ticks on subject %s", t.subject)
	<-ctx.Done()
	if err := sub.Drain(); err != nil {
		t.log.WithError(err).Warn("could not drain tick subscription")
	}
	t.conn.Close()
	return nil
}

func (t *NatsTrigger) handle(ctx context.Context, msg *nats.Msg) {
	queue := strings.TrimSpace(string(msg.Data))
	if queue == "" {
		queue = t.defaultQueue
	}
	tickCtx, cancel := context.WithTimeout(ctx, natsTickTimeout)
	defer cancel()
	outcome, err := t.ticker.Tick(tickCtx, queue)
	if err != nil {
		t.log.WithError(err).Warnf("event tick of queue %s failed", queue)
		return
	}
	logOutcome(t.log, queue, outcome)
}

// Check reports whether the NATS connection is up.
func (t *NatsTrigger) Check() error {
	if !t.conn.IsConnected() {
		return errors.New("not connected to NATS")
	}
	return nil
}
