package transport

import (
	"context"
	"errors"
	"time"

	"github.com/JailtonJunior94/devkit-go/pkg/observability"
)

// Dispatcher turns one received TransportMessage into deserialized logical
// messages, fans them out to the event bus, and resolves the enclosing
// transaction. It is the per-message counterpart to the worker loop in
// worker.go, split out because dispatch has its own internal control flow
// (deserialize, arrive-per-element, pre-commit-or-fail) independent of the
// peek/receive mechanics around it.
type Dispatcher struct {
	bus        *Bus
	serializer Serializer
	obs        observability.Observability

	enableMetrics  bool
	processed      observability.Counter
	failed         observability.Counter
	processingTime observability.Histogram
}

// NewDispatcher builds a Dispatcher over the given event bus and serializer.
// Metric instruments are created eagerly against obs.Metrics() but are only
// recorded to when enableMetrics is set (spec §6 Config.EnableMetrics); the
// noop backend makes this free either way.
func NewDispatcher(bus *Bus, serializer Serializer, obs observability.Observability, enableMetrics bool) *Dispatcher {
	metrics := obs.Metrics()
	return &Dispatcher{
		bus:            bus,
		serializer:     serializer,
		obs:            obs,
		enableMetrics:  enableMetrics,
		processed:      metrics.Counter("transport.dispatch.processed", "messages dispatched to completion", "1"),
		failed:         metrics.Counter("transport.dispatch.failed", "messages that completed with an error", "1"),
		processingTime: metrics.Histogram("transport.dispatch.duration", "time spent in ProcessMessage", "ms"),
	}
}

// dispatchKind distinguishes the ordinary and administrative dispatch paths,
// which differ only in which event-bus slots fire and whether a pre-commit
// hook runs (spec §4.1 step 5, §4.2).
type dispatchKind int

const (
	dispatchOrdinary dispatchKind = iota
	dispatchAdministrative
)

// ProcessMessage implements the dispatcher contract of spec §4.2: deserialize,
// dispatch each decoded element to the arrival slot, then resolve the
// transaction via MessageHandlingCompletion semantics. local is this
// transport's own endpoint — it names the queue the message was dequeued
// from and the one sub-queue operations (discard/retry/poison) act on. The
// caller (worker.go) supplies the already-open Scope; ProcessMessage itself
// never lets a subscriber panic escape.
func (d *Dispatcher) ProcessMessage(ctx context.Context, scope *Scope, queue QueueManager, local Endpoint, raw *TransportMessage, kind dispatchKind) error {
	start := time.Now()
	ctx, span := d.obs.Tracer().Start(ctx, "transport.dispatch",
		observability.WithSpanKind(observability.SpanKindConsumer),
		observability.WithAttributes(
			observability.String("queue", local.Queue),
			observability.String("message_id", raw.Header(HeaderID)),
		))
	defer span.End()

	source := local
	if s := raw.Header(HeaderSource); s != "" {
		if parsed, err := ParseEndpoint(s); err == nil {
			source = parsed
		}
	}

	info := &CurrentMessageInformation{
		MessageID:   raw.Header(HeaderID),
		Source:      source,
		Destination: local,
		ArrivedAt:   time.Now().UTC(),
		RawMessage:  raw,
		Queue:       queue,
	}
	ctx = withCurrentMessageInformation(ctx, info)
	ctx = context.WithValue(ctx, txContextKey{}, scope.Tx())

	messages, err := d.serializer.Deserialize(raw.Body)
	if err != nil {
		serErr := &SerializationError{MessageID: info.MessageID, Err: err}
		d.bus.DispatchSerializationFault(ctx, info, serErr)
		return d.complete(ctx, scope, info, serErr, kind)
	}
	info.AllMessages = messages

	anyConsumed := false
	var dispatchErr error
	for _, m := range messages {
		info.CurrentMessage = m

		var (
			consumed bool
			errArr   error
		)
		if kind == dispatchAdministrative {
			consumed, errArr = d.bus.DispatchAdministrativeArrived(ctx, info)
		} else {
			consumed, errArr = d.bus.DispatchArrived(ctx, info)
		}
		if errArr != nil {
			dispatchErr = errArr
			break
		}
		anyConsumed = anyConsumed || consumed
	}

	if dispatchErr == nil && kind == dispatchOrdinary && !anyConsumed {
		if err := d.discard(ctx, queue, scope, info); err != nil {
			dispatchErr = err
		}
	}

	result := d.complete(ctx, scope, info, dispatchErr, kind)

	if d.enableMetrics {
		d.processingTime.Record(ctx, float64(time.Since(start).Milliseconds()), observability.String("queue", local.Queue))
		if result != nil {
			d.failed.Increment(ctx, observability.String("queue", local.Queue))
		} else {
			d.processed.Increment(ctx, observability.String("queue", local.Queue))
		}
	}

	if result != nil {
		span.SetStatus(observability.StatusCodeError, result.Error())
		span.RecordError(result)
	} else {
		span.SetStatus(observability.StatusCodeOK, "")
	}

	return result
}

// discard moves the received raw message, once, to the queue's discarded
// sub-queue, matching spec §4.2 step 2: "no consumer" is not an error, just a
// different terminal fate, so the original raw message is moved rather than
// dropped.
func (d *Dispatcher) discard(ctx context.Context, queue QueueManager, scope *Scope, info *CurrentMessageInformation) error {
	if err := queue.MoveToSubQueue(ctx, scope.Tx(), info.Destination.Queue, SubQueueDiscarded, info.RawMessage); err != nil {
		return &QueueError{Op: "discard", Queue: info.Destination.Queue, Err: err}
	}
	return nil
}

// complete implements MessageHandlingCompletion (spec §4.2 step 4): on
// success it runs the pre-commit hook (ordinary path only) and commits; on
// failure it first fires MessageProcessingFailure so the error action can act
// on the still-open transaction (see erroraction.go), then commits if a
// subscriber marked the retry as handled and rolls back otherwise.
func (d *Dispatcher) complete(ctx context.Context, scope *Scope, info *CurrentMessageInformation, dispatchErr error, kind dispatchKind) error {
	if dispatchErr == nil && kind == dispatchOrdinary {
		if err := d.bus.DispatchPreCommit(ctx, info); err != nil {
			dispatchErr = err
		}
	}

	if dispatchErr == nil {
		if err := scope.Commit(); err != nil {
			dispatchErr = &TransportError{Op: "commit", Queue: info.Destination.Queue, Err: err}
		}
	}

	if dispatchErr != nil {
		// Give failure subscribers (error action first) a chance to
		// materialize a retry/poison decision inside the still-open
		// transaction before it is resolved.
		d.bus.DispatchFailure(ctx, info, dispatchErr)

		if info.RetryHandled() {
			if err := scope.Commit(); err != nil {
				dispatchErr = errors.Join(dispatchErr, &TransportError{Op: "commit_after_retry", Queue: info.Destination.Queue, Err: err})
			}
		} else if err := scope.Rollback(); err != nil {
			dispatchErr = errors.Join(dispatchErr, &TransportError{Op: "rollback", Queue: info.Destination.Queue, Err: err})
		}
	}

	if kind == dispatchAdministrative {
		d.bus.DispatchAdministrativeCompleted(ctx, info, dispatchErr)
	} else {
		d.bus.DispatchCompleted(ctx, info, dispatchErr)
	}

	return dispatchErr
}
