package transport

import "time"

// Option is a functional option for configuring a Transport, mirroring
// pkg/consumer.Option.
type Option func(*Transport)

// WithConfig replaces the entire configuration.
func WithConfig(config Config) Option {
	return func(t *Transport) { t.config = config }
}

// WithServiceName sets the service name used in structured logs.
func WithServiceName(name string) Option {
	return func(t *Transport) { t.config.ServiceName = name }
}

// WithEnvironment sets the deployment environment.
func WithEnvironment(env string) Option {
	return func(t *Transport) { t.config.Environment = env }
}

// WithEndpoint sets the local endpoint.
func WithEndpoint(endpoint Endpoint) Option {
	return func(t *Transport) { t.config.Endpoint = endpoint }
}

// WithThreadCount sets the worker pool size.
func WithThreadCount(n int) Option {
	return func(t *Transport) { t.config.ThreadCount = n }
}

// WithNumberOfRetries sets N for the error action.
func WithNumberOfRetries(n int) Option {
	return func(t *Transport) { t.config.NumberOfRetries = n }
}

// WithPeekTimeout sets the worker's blocking peek timeout.
func WithPeekTimeout(d time.Duration) Option {
	return func(t *Transport) { t.config.PeekTimeout = d }
}

// WithReceiveTimeout sets the post-peek receive timeout.
func WithReceiveTimeout(d time.Duration) Option {
	return func(t *Transport) { t.config.ReceiveTimeout = d }
}

// WithTransactionTimeout sets the timeout applied to every transport transaction.
func WithTransactionTimeout(d time.Duration) Option {
	return func(t *Transport) { t.config.TransactionTimeout = d }
}

// WithTickInterval sets the timeout scheduler's polling granularity.
func WithTickInterval(d time.Duration) Option {
	return func(t *Transport) { t.config.TickInterval = d }
}

// WithShutdownTimeout sets how long Dispose waits for in-flight workers.
func WithShutdownTimeout(d time.Duration) Option {
	return func(t *Transport) { t.config.ShutdownTimeout = d }
}

// WithLogQueue sets Config.LogQueue. It does not change where the logging
// module writes; that queue is the one passed to logging.NewModule.
func WithLogQueue(name string) Option {
	return func(t *Transport) { t.config.LogQueue = name }
}

// WithLogging enables or disables the built-in logging module. It only
// toggles Config.EnableLogging; Start still needs an AuditSink supplied via
// WithAuditSink to actually mirror events, otherwise the flag is inert.
func WithLogging(enabled bool) Option {
	return func(t *Transport) { t.config.EnableLogging = enabled }
}

// WithAuditSink supplies the module Start initializes and registers on the
// event bus when Config.EnableLogging is true — in practice a
// *pkg/transport/logging.Module constructed by the caller, since that
// package imports pkg/transport and so cannot be imported back here.
func WithAuditSink(sink AuditSink) Option {
	return func(t *Transport) { t.auditSink = sink }
}

// WithSerializer overrides the default JSON serializer.
func WithSerializer(s Serializer) Option {
	return func(t *Transport) { t.serializer = s }
}

// WithHealthChecks enables or disables the health surface.
func WithHealthChecks(enabled bool) Option {
	return func(t *Transport) { t.config.EnableHealthChecks = enabled }
}

// WithMetrics enables or disables recording to the dispatcher's and error
// action's metric instruments.
func WithMetrics(enabled bool) Option {
	return func(t *Transport) { t.config.EnableMetrics = enabled }
}

// WithQueueManagerKind records which QueueManager implementation was
// injected into New, e.g. QueueManagerSQLite.
func WithQueueManagerKind(kind string) Option {
	return func(t *Transport) { t.config.QueueManagerKind = kind }
}
