package transport

import (
	"errors"
	"fmt"
	"time"
)

// Config holds the configuration for a transport instance. It follows the
// same validation/defaults shape as pkg/consumer.Config.
type Config struct {
	// ServiceName identifies the owning service in structured logs.
	ServiceName string

	// Environment is the deployment environment, e.g. "production".
	Environment string

	// Endpoint is the local endpoint URI: determines the queue name the
	// worker pool consumes from.
	Endpoint Endpoint

	// ThreadCount is the number of concurrent worker goroutines.
	// Default: 5.
	ThreadCount int

	// NumberOfRetries is N in the error action: the number of failed
	// attempts after which a message is moved to the errors sub-queue (the
	// Nth failure poisons it, so it is re-queued N-1 times).
	// Default: 3.
	NumberOfRetries int

	// PeekTimeout bounds each worker's blocking Peek call.
	// Default: 5s.
	PeekTimeout time.Duration

	// ReceiveTimeout bounds the Receive call made once a message has been
	// peeked; a timeout here means a peer worker claimed it first.
	// Default: 1s.
	ReceiveTimeout time.Duration

	// TransactionTimeout bounds every transaction opened by the transport.
	// Default: 30s.
	TransactionTimeout time.Duration

	// TickInterval is the timeout scheduler's polling granularity.
	// Default: 500ms (spec requires <= 1s).
	TickInterval time.Duration

	// ShutdownTimeout bounds how long Dispose waits for in-flight workers.
	// Default: 30s.
	ShutdownTimeout time.Duration

	// LogQueue names the administrative log queue for callers that keep it
	// in the transport configuration. Neither the transport nor the logging
	// module reads it, and no default is filled in: logging.NewModule takes
	// its log queue endpoint as an argument.
	LogQueue string

	// EnableHealthChecks toggles the Health surface. Default: true.
	EnableHealthChecks bool

	// EnableLogging wires the logging module as an event-bus subscriber.
	// Default: true.
	EnableLogging bool

	// EnableMetrics turns on recording to the dispatcher's and error
	// action's metric instruments (spec §6). The instruments are always
	// created against the injected observability.Observability's Metrics()
	// facade; this flag only gates whether values are recorded, so leaving
	// it false with the noop backend costs nothing either way.
	// Default: false.
	EnableMetrics bool

	// QueueManagerKind names which QueueManager implementation the caller
	// constructed (spec §6). The transport itself is agnostic to this —
	// QueueManager is injected into New regardless — but the field lets
	// callers and health checks report which engine is in use. Currently
	// only "sqlite" (pkg/transport/queuestore.Store) ships in this module.
	// Default: "sqlite".
	QueueManagerKind string
}

// QueueManagerSQLite identifies pkg/transport/queuestore.Store as the
// configured QueueManager kind.
const QueueManagerSQLite = "sqlite"

// DefaultConfig returns a Config with conservative production defaults.
func DefaultConfig() Config {
	return Config{
		ThreadCount:        5,
		NumberOfRetries:    3,
		PeekTimeout:        5 * time.Second,
		ReceiveTimeout:     1 * time.Second,
		TransactionTimeout: 30 * time.Second,
		TickInterval:       500 * time.Millisecond,
		ShutdownTimeout:    30 * time.Second,
		EnableHealthChecks: true,
		EnableLogging:      true,
		EnableMetrics:      false,
		QueueManagerKind:   QueueManagerSQLite,
	}
}

// Validate checks the configuration and returns every problem found, joined.
func (c Config) Validate() error {
	var errs []error

	if c.ServiceName == "" {
		errs = append(errs, errors.New("ServiceName is required and cannot be empty"))
	}
	if c.Environment == "" {
		errs = append(errs, errors.New("Environment is required and cannot be empty"))
	}
	if c.Endpoint.IsZero() {
		errs = append(errs, errors.New("Endpoint is required"))
	}
	if c.ThreadCount <= 0 {
		errs = append(errs, errors.New("ThreadCount must be greater than 0"))
	}
	if c.NumberOfRetries < 0 {
		errs = append(errs, errors.New("NumberOfRetries must be greater than or equal to 0"))
	}
	if c.PeekTimeout <= 0 {
		errs = append(errs, errors.New("PeekTimeout must be greater than 0"))
	}
	if c.ReceiveTimeout <= 0 {
		errs = append(errs, errors.New("ReceiveTimeout must be greater than 0"))
	}
	if c.TransactionTimeout <= 0 {
		errs = append(errs, errors.New("TransactionTimeout must be greater than 0"))
	}
	if c.TickInterval <= 0 || c.TickInterval > time.Second {
		errs = append(errs, fmt.Errorf("TickInterval must be in (0, 1s], got %s", c.TickInterval))
	}
	if c.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("ShutdownTimeout must be greater than 0"))
	}
	if c.QueueManagerKind == "" {
		errs = append(errs, errors.New("QueueManagerKind is required and cannot be empty"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
