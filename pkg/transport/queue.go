package transport

import (
	"context"
	"database/sql"
	"time"
)

// TxOptions configures a transaction opened against the queue engine.
type TxOptions struct {
	Isolation sql.IsolationLevel
	Timeout   time.Duration
}

// Tx is an open transaction against the queue engine. QueueManager
// operations that mutate queue state take a Tx so the caller controls the
// commit/rollback boundary explicitly (spec §9 design notes: "pass an
// explicit transaction handle through the dispatcher").
type Tx interface {
	Commit() error
	Rollback() error
}

// QueueManager is a thin abstraction over the persistent local queue
// engine: create/open a named queue, send, peek, receive-with-timeout,
// move-to-subqueue, and enlist in a caller-supplied transaction. It is the
// out-of-scope collaborator spec.md assumes is provided; queuestore.Store
// is the concrete implementation this module ships.
type QueueManager interface {
	// CreateQueue creates the named main queue if it does not already exist.
	CreateQueue(ctx context.Context, queue string) error

	// EnsureSubQueues creates the named sub-queues of queue if absent.
	EnsureSubQueues(ctx context.Context, queue string, subQueues ...string) error

	// BeginTx opens a new transaction with the given options.
	BeginTx(ctx context.Context, opts TxOptions) (Tx, error)

	// Peek blocks up to timeout for a message to become available in
	// queue's main partition, without removing it. Returns ErrReceiveTimeout
	// if none arrives in time, or ErrQueueClosed during teardown.
	Peek(ctx context.Context, queue string, timeout time.Duration) (*TransportMessage, error)

	// Receive removes and returns the oldest message in queue's main
	// partition within tx. Returns ErrReceiveTimeout if a peer worker
	// claimed it first (or nothing is there any more).
	Receive(ctx context.Context, tx Tx, queue string, timeout time.Duration) (*TransportMessage, error)

	// Send enqueues msg onto destination within tx. A nil tx performs a
	// non-transactional (auto-committed) send, used for best-effort audit
	// records that don't need transactional durability.
	Send(ctx context.Context, tx Tx, destination Endpoint, msg *TransportMessage) error

	// MoveToSubQueue inserts msg into queue's named sub-queue within tx. It
	// does not remove anything from the main partition: callers move a
	// message they already took out with Receive in the same tx, so the
	// move commits or rolls back as one unit.
	MoveToSubQueue(ctx context.Context, tx Tx, queue, subQueue string, msg *TransportMessage) error

	// ReceiveFromSubQueue removes and returns the message identified by id
	// from queue's named sub-queue within tx, used by the timeout scheduler
	// to reclaim a due entry.
	ReceiveFromSubQueue(ctx context.Context, tx Tx, queue, subQueue, id string) (*TransportMessage, error)

	// ListSubQueue returns every message currently parked in queue's named
	// sub-queue, oldest first, without removing them. Used at startup to
	// repopulate the timeout scheduler's in-memory heap from durable state
	// (spec §1, §3, §4.4), so a restart does not orphan deferred messages.
	ListSubQueue(ctx context.Context, queue, subQueue string) ([]*TransportMessage, error)

	// Close tears down the queue engine.
	Close() error
}
