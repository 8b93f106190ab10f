// Package transport implements a durable, transactional message-bus transport:
// a fixed-size worker pool that peeks and receives from a persistent local
// queue under a local transaction, dispatches to consumer handlers, and
// commits or rolls back atomically with the queue state.
//
// The wire protocol to remote peers and the persistent storage engine itself
// are external collaborators, reached only through the QueueManager contract.
// A SQLite-backed implementation lives in the queuestore subpackage.
package transport
