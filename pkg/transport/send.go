package transport

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Send enqueues messages to destination as a single logical unit, per spec
// §4.5: allocate an id, serialize, stamp reserved headers, send within a
// transaction (reusing an ambient one if this is called from within a
// dispatch), commit, then fire MessageSent best-effort.
func (t *Transport) Send(ctx context.Context, destination Endpoint, messages ...any) error {
	return t.send(ctx, destination, messages, nil)
}

// SendAt is the deferred-send variant (spec §4.5 step 4): the message is
// stamped with time-to-send and kind=timeout so the receiving worker parks
// it in the timeout sub-queue instead of dispatching it immediately.
func (t *Transport) SendAt(ctx context.Context, destination Endpoint, sendAt time.Time, messages ...any) error {
	return t.send(ctx, destination, messages, &sendAt)
}

// Reply targets the source endpoint of the message currently being
// dispatched; it is only valid from within a dispatch (an ArrivedFunc,
// FailureFunc, etc. invoked with a context carrying CurrentMessageInformation).
func (t *Transport) Reply(ctx context.Context, messages ...any) error {
	info, ok := CurrentMessageInformationFromContext(ctx)
	if !ok {
		return ErrNoCurrentMessage
	}
	return t.send(ctx, info.Source, messages, nil)
}

func (t *Transport) send(ctx context.Context, destination Endpoint, messages []any, deferredUntil *time.Time) error {
	if len(messages) == 0 {
		return ErrEmptyMessageSequence
	}

	body, err := t.serializer.Serialize(messages)
	if err != nil {
		return &SerializationError{Err: err}
	}

	kind := KindOrdinary
	if hint, ok := messages[0].(KindHint); ok {
		kind = hint.TransportKind()
	}

	msg := NewTransportMessage(body, nil)
	id := uuid.New().String()
	msg.SetHeader(HeaderID, id)
	msg.SetHeader(HeaderSource, t.config.Endpoint.String())
	msg.SetHeader(HeaderType, string(kind))

	if deferredUntil != nil {
		msg.SetHeader(headerOriginalType, string(kind))
		msg.SetHeader(HeaderType, string(KindTimeout))
		msg.SetHeader(HeaderTimeToSend, deferredUntil.UTC().Format(TimeToSendLayout))
	}

	txCtx, scope, err := OpenScope(ctx, t.queue, TxOptions{Timeout: t.config.TransactionTimeout})
	if err != nil {
		return err
	}

	if err := t.queue.Send(txCtx, scope.Tx(), destination, msg); err != nil {
		_ = scope.Rollback()
		return &QueueError{Op: "send", Queue: destination.Queue, Err: err}
	}

	if err := scope.Commit(); err != nil {
		return &TransportError{Op: "send_commit", Queue: destination.Queue, Err: err}
	}

	info := &CurrentMessageInformation{
		MessageID:   id,
		Source:      t.config.Endpoint,
		Destination: destination,
		AllMessages: messages,
		ArrivedAt:   time.Now().UTC(),
		RawMessage:  msg,
		Queue:       t.queue,
	}
	t.bus.DispatchSent(ctx, info)

	return nil
}
