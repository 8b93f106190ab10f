package transport

import (
	"context"
	"errors"
	"time"

	"github.com/JailtonJunior94/devkit-go/pkg/observability"
)

// runWorker implements the worker loop of spec §4.1: peek, open a
// transaction, receive under it, classify, dispatch, commit or roll back.
// It returns (exits the goroutine) on a fatal queue fault, on teardown, or
// when ctx is cancelled; a receive/peek timeout is benign and simply loops.
func (t *Transport) runWorker(ctx context.Context, id int) {
	defer t.wg.Done()

	queueName := t.config.Endpoint.Queue
	log := t.obs.Logger().With(observability.Int("worker_id", id), observability.String("queue", queueName))

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if _, err := t.queue.Peek(ctx, queueName, t.config.PeekTimeout); err != nil {
			if errors.Is(err, ErrReceiveTimeout) {
				continue
			}
			if errors.Is(err, ErrQueueClosed) || ctx.Err() != nil {
				return
			}
			log.Error(ctx, "transport: peek failed, worker exiting", observability.Error(err))
			return
		}

		select {
		case <-ctx.Done():
			return
		default:
		}

		if t.serveOneMessage(ctx, queueName, log) {
			return
		}
	}
}

// serveOneMessage opens one transaction, receives and classifies a message,
// and dispatches it. It returns true if the worker must exit.
func (t *Transport) serveOneMessage(ctx context.Context, queueName string, log observability.Logger) bool {
	txCtx, scope, err := OpenScope(ctx, t.queue, TxOptions{Timeout: t.config.TransactionTimeout})
	if err != nil {
		log.Error(ctx, "transport: begin transaction failed, worker exiting", observability.Error(err))
		return true
	}

	msg, err := t.queue.Receive(txCtx, scope.Tx(), queueName, t.config.ReceiveTimeout)
	if err != nil {
		_ = scope.Rollback()
		if errors.Is(err, ErrReceiveTimeout) {
			// A peer worker claimed the peeked message first.
			return false
		}
		if errors.Is(err, ErrQueueClosed) {
			return true
		}
		log.Error(ctx, "transport: receive failed, worker exiting", observability.Error(err))
		return true
	}

	t.dispatchClassified(txCtx, scope, queueName, msg, log)
	return false
}

// dispatchClassified routes msg to the correct dispatch path per its type
// header (spec §4.1 step 5), swallowing any error the dispatcher returns —
// by the time ProcessMessage returns, the transaction is already resolved
// and subscribers have been notified, so there is nothing left to do but log.
func (t *Transport) dispatchClassified(ctx context.Context, scope *Scope, queueName string, msg *TransportMessage, log observability.Logger) {
	local := t.config.Endpoint

	switch MessageKind(msg.Header(HeaderType)) {
	case KindAdministrative:
		if err := t.dispatcher.ProcessMessage(ctx, scope, t.queue, local, msg, dispatchAdministrative); err != nil {
			log.Error(ctx, "transport: administrative dispatch failed", observability.Error(err))
		}

	case KindShutdown:
		if err := scope.Commit(); err != nil {
			log.Error(ctx, "transport: commit of shutdown message failed", observability.Error(err))
		}

	case KindTimeout:
		t.dispatchTimeout(ctx, scope, queueName, msg, log)

	default:
		if err := t.dispatcher.ProcessMessage(ctx, scope, t.queue, local, msg, dispatchOrdinary); err != nil {
			log.Error(ctx, "transport: dispatch failed", observability.Error(err))
		}
	}
}

// dispatchTimeout parks a still-future message in the timeout sub-queue and
// registers it with the scheduler, or — once its time-to-send has
// elapsed — treats it as an ordinary message (spec §4.1 step 5).
func (t *Transport) dispatchTimeout(ctx context.Context, scope *Scope, queueName string, msg *TransportMessage, log observability.Logger) {
	sendAt, err := time.Parse(TimeToSendLayout, msg.Header(HeaderTimeToSend))
	if err != nil {
		log.Warn(ctx, "transport: unparseable time-to-send, treating as ordinary", observability.Error(err))
		if derr := t.dispatcher.ProcessMessage(ctx, scope, t.queue, t.config.Endpoint, msg, dispatchOrdinary); derr != nil {
			log.Error(ctx, "transport: dispatch failed", observability.Error(derr))
		}
		return
	}

	if sendAt.After(time.Now().UTC()) {
		if err := t.queue.MoveToSubQueue(ctx, scope.Tx(), queueName, SubQueueTimeout, msg); err != nil {
			_ = scope.Rollback()
			log.Error(ctx, "transport: move to timeout sub-queue failed", observability.Error(err))
			return
		}
		if err := scope.Commit(); err != nil {
			log.Error(ctx, "transport: commit of deferred message failed", observability.Error(err))
			return
		}
		t.scheduler.Register(msg.Header(HeaderID), sendAt)
		return
	}

	if derr := t.dispatcher.ProcessMessage(ctx, scope, t.queue, t.config.Endpoint, msg, dispatchOrdinary); derr != nil {
		log.Error(ctx, "transport: dispatch failed", observability.Error(derr))
	}
}
