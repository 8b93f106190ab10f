package transport

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/JailtonJunior94/devkit-go/pkg/observability"
)

// AuditSink is implemented by pluggable observation-pipeline modules — in
// practice pkg/transport/logging.Module — that mirror transport lifecycle
// events onto an administrative queue (spec §4.7). It is declared here,
// not imported from pkg/transport/logging, because that package itself
// imports pkg/transport: a caller supplies a constructed sink via
// WithAuditSink and Start wires it in, which keeps EnableLogging load-bearing
// without an import cycle.
type AuditSink interface {
	Init(ctx context.Context) error
	RegisterOn(bus *Bus)
}

// Transport wires the queue manager, event bus, dispatcher, error action and
// timeout scheduler into the worker-pool lifecycle described in spec §4.1.
// It is configured via functional options, mirroring pkg/consumer.Consumer.
type Transport struct {
	config      Config
	queue       QueueManager
	serializer  Serializer
	bus         *Bus
	dispatcher  *Dispatcher
	errorAction *ErrorAction
	scheduler   *TimeoutScheduler
	auditSink   AuditSink
	obs         observability.Observability

	mu           sync.Mutex
	running      bool
	cancel       context.CancelFunc
	wg           sync.WaitGroup
	healthChecks map[string]HealthCheckFunc
}

// New builds a Transport against the given queue manager and observability
// facade, both required injections (matching pkg/consumer.New). Options are
// applied before validation.
func New(queue QueueManager, obs observability.Observability, opts ...Option) (*Transport, error) {
	t := &Transport{
		config:     DefaultConfig(),
		queue:      queue,
		obs:        obs,
		serializer: NewJSONSerializer(),
	}
	for _, opt := range opts {
		opt(t)
	}

	if err := t.config.Validate(); err != nil {
		return nil, &TransportError{Op: "new", Err: err}
	}

	t.bus = NewBus(obs)
	t.dispatcher = NewDispatcher(t.bus, t.serializer, obs, t.config.EnableMetrics)
	t.errorAction = NewErrorAction(t.config.NumberOfRetries, obs, t.config.EnableMetrics)
	t.errorAction.RegisterOn(t.bus)
	t.scheduler = NewTimeoutScheduler(queue, t.config.Endpoint, t.config.TickInterval, obs)

	return t, nil
}

// Bus exposes the event bus so callers can subscribe handlers before Start.
func (t *Transport) Bus() *Bus { return t.bus }

// Config returns the resolved configuration.
func (t *Transport) Config() Config { return t.config }

// Start opens the queue, ensures its sub-queues exist, starts the timeout
// scheduler and spawns the worker pool. It is not safe to call concurrently
// with itself or with Dispose, and must not be called twice without an
// intervening Dispose.
func (t *Transport) Start(ctx context.Context) error {
	t.mu.Lock()
	if t.running {
		t.mu.Unlock()
		return ErrAlreadyRunning
	}

	runCtx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	t.running = true
	t.mu.Unlock()

	queueName := t.config.Endpoint.Queue
	if err := t.queue.CreateQueue(ctx, queueName); err != nil {
		cancel()
		return &QueueError{Op: "create_queue", Queue: queueName, Err: err}
	}
	if err := t.queue.EnsureSubQueues(ctx, queueName, SubQueueTimeout, SubQueueDiscarded, SubQueueErrors); err != nil {
		cancel()
		return &QueueError{Op: "ensure_subqueues", Queue: queueName, Err: err}
	}

	if err := t.restoreTimeoutSchedule(ctx, queueName); err != nil {
		cancel()
		return &QueueError{Op: "restore_timeout_schedule", Queue: queueName, Err: err}
	}

	if t.config.EnableLogging && t.auditSink != nil {
		if err := t.auditSink.Init(ctx); err != nil {
			cancel()
			return &TransportError{Op: "audit_sink_init", Err: err}
		}
		t.auditSink.RegisterOn(t.bus)
	}

	t.scheduler.Start(runCtx)

	for i := 0; i < t.config.ThreadCount; i++ {
		t.wg.Add(1)
		go t.runWorker(runCtx, i)
	}

	t.bus.DispatchStarted(runCtx)
	return nil
}

// restoreTimeoutSchedule repopulates the in-memory scheduler heap from
// whatever is durably parked in the timeout sub-queue, so a restart does not
// orphan deferred messages (spec §1, §3, §4.4). It runs once, synchronously,
// before the scheduler and worker pool start.
func (t *Transport) restoreTimeoutSchedule(ctx context.Context, queueName string) error {
	pending, err := t.queue.ListSubQueue(ctx, queueName, SubQueueTimeout)
	if err != nil {
		return err
	}

	log := t.obs.Logger().With(observability.String("queue", queueName))
	for _, msg := range pending {
		sendAt, err := time.Parse(TimeToSendLayout, msg.Header(HeaderTimeToSend))
		if err != nil {
			log.Warn(ctx, "transport: unparseable time-to-send on restored message, scheduling immediately",
				observability.String("message_id", msg.Header(HeaderID)), observability.Error(err))
			sendAt = time.Now().UTC()
		}
		t.scheduler.Register(msg.Header(HeaderID), sendAt)
	}
	return nil
}

// Dispose clears the run flag, lets in-flight dispatches finish at most one
// more message each, disposes the timeout scheduler, then the queue manager.
// The queue manager close is retried with an exponential backoff (spec §5),
// bounded by ShutdownTimeout, to yield to workers still mid-transaction.
func (t *Transport) Dispose() error {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return ErrNotRunning
	}
	t.running = false
	cancel := t.cancel
	t.mu.Unlock()

	cancel()

	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(t.config.ShutdownTimeout):
		t.obs.Logger().Warn(context.Background(), "transport: shutdown timed out waiting for workers")
	}

	t.scheduler.Dispose()

	closeBackoff := backoff.NewExponentialBackOff()
	closeBackoff.InitialInterval = 50 * time.Millisecond
	closeBackoff.MaxInterval = 500 * time.Millisecond
	closeBackoff.MaxElapsedTime = t.config.ShutdownTimeout

	if err := backoff.Retry(t.queue.Close, closeBackoff); err != nil {
		return &QueueError{Op: "close", Queue: t.config.Endpoint.Queue, Err: err}
	}
	return nil
}
