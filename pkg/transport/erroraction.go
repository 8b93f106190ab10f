package transport

import (
	"context"
	"strconv"

	"github.com/JailtonJunior94/devkit-go/pkg/observability"
)

// ErrorAction is the built-in MessageProcessingFailure subscriber (spec
// §4.3): it tracks a per-message retry count in the reserved "retries"
// header and, after the configured number of failures, relocates the
// message to the errors sub-queue instead of letting it retry forever.
//
// It registers at PriorityFirst so it always observes a failure before any
// user-supplied subscriber (spec: "registration order is part of the
// contract" — here made structural via priority rather than incidental).
type ErrorAction struct {
	numberOfRetries int
	obs             observability.Observability

	enableMetrics bool
	retried       observability.Counter
	poisoned      observability.Counter
}

// NewErrorAction builds an ErrorAction that poisons a message to the errors
// sub-queue after numberOfRetries failures.
func NewErrorAction(numberOfRetries int, obs observability.Observability, enableMetrics bool) *ErrorAction {
	metrics := obs.Metrics()
	return &ErrorAction{
		numberOfRetries: numberOfRetries,
		obs:             obs,
		enableMetrics:   enableMetrics,
		retried:         metrics.Counter("transport.erroraction.retried", "messages re-queued after a failure", "1"),
		poisoned:        metrics.Counter("transport.erroraction.poisoned", "messages moved to the errors sub-queue", "1"),
	}
}

// RegisterOn subscribes the error action to bus's failure slot at PriorityFirst.
func (a *ErrorAction) RegisterOn(bus *Bus) {
	bus.SubscribeFailure(a.handle, WithPriority(PriorityFirst))
}

// handle increments the retry count carried on the raw message and decides
// its fate within the still-open dispatch transaction: retry (re-send to the
// local queue with an incremented counter) or poison (move to the errors
// sub-queue). Either way it calls info.MarkRetryHandled so the dispatcher
// commits this transaction instead of rolling it back — the retry/poison
// decision has to survive even though the handler that caused the failure
// did not.
func (a *ErrorAction) handle(ctx context.Context, info *CurrentMessageInformation, processingErr error) error {
	tx, ok := TxFromContext(ctx)
	if !ok {
		return &TransportError{Op: "error_action", Queue: info.Destination.Queue, Err: ErrNoCurrentMessage}
	}

	attempts := parseRetries(info.RawMessage.Header(HeaderRetries))
	attempts++

	if attempts >= a.numberOfRetries {
		poisoned := info.RawMessage.Clone()
		poisoned.SetHeader(HeaderRetries, strconv.Itoa(attempts))
		if err := info.Queue.MoveToSubQueue(ctx, tx, info.Destination.Queue, SubQueueErrors, poisoned); err != nil {
			return &QueueError{Op: "poison", Queue: info.Destination.Queue, Err: err}
		}
		a.obs.Logger().Warn(ctx, "transport: message poisoned after exhausting retries",
			observability.String("message_id", info.MessageID),
			observability.Int("attempts", attempts),
			observability.Error(processingErr))
		if a.enableMetrics {
			a.poisoned.Increment(ctx, observability.String("queue", info.Destination.Queue))
		}
		info.MarkRetryHandled()
		return nil
	}

	retried := info.RawMessage.Clone()
	retried.SetHeader(HeaderRetries, strconv.Itoa(attempts))

	// The original was already removed from the main queue by the worker's
	// Receive call that produced this dispatch; re-enqueuing the updated
	// copy within the same transaction is enough, and a rollback of this
	// retry leaves the original's removal undone too (no duplication).
	if err := info.Queue.Send(ctx, tx, info.Destination, retried); err != nil {
		return &QueueError{Op: "retry_requeue", Queue: info.Destination.Queue, Err: err}
	}

	a.obs.Logger().Info(ctx, "transport: message scheduled for retry",
		observability.String("message_id", info.MessageID),
		observability.Int("attempts", attempts))
	if a.enableMetrics {
		a.retried.Increment(ctx, observability.String("queue", info.Destination.Queue))
	}
	info.MarkRetryHandled()
	return nil
}

func parseRetries(raw string) int {
	if raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
