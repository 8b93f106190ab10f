// Package queuestore implements transport.QueueManager on top of SQLite,
// standing in for the persistent local queue engine the transport package
// treats as an out-of-scope collaborator. Queues and their sub-queues are
// partitions of a single messages table, distinguished by (queue, subqueue)
// columns rather than separate tables or files, which keeps the schema and
// the Peek/Receive polling loop simple for a single-node embedded store.
package queuestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/JailtonJunior94/devkit-go/pkg/transport"
)

// pollInterval is how often Peek/Receive re-check an empty partition while
// waiting for their caller-supplied timeout to elapse.
const pollInterval = 25 * time.Millisecond

// Store is a SQLite-backed transport.QueueManager. It is safe for concurrent
// use by multiple transport workers, matching pkg/database/postgres.Database's
// "thread-safe, don't copy after creation" contract.
type Store struct {
	db *sql.DB

	mu     sync.RWMutex
	closed bool
}

// Open creates (or reopens) a SQLite-backed queue store at path, applying
// the message schema and failing fast on an unreachable database, following
// the same fail-fast-on-ping discipline as pkg/database/postgres.New.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("queuestore: path cannot be empty")
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("queuestore: open: %w", err)
	}
	// SQLite allows only one writer at a time; a single connection avoids
	// SQLITE_BUSY errors from the database/sql pool handing out concurrent
	// writer connections.
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("queuestore: ping: %w", err)
	}

	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("queuestore: apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// sqlTx adapts *sql.Tx to transport.Tx. cancel, when set, releases the
// timeout context bounding the transaction once it is resolved.
type sqlTx struct {
	tx     *sql.Tx
	cancel context.CancelFunc
}

func (t *sqlTx) Commit() error   { defer t.release(); return t.tx.Commit() }
func (t *sqlTx) Rollback() error { defer t.release(); return t.tx.Rollback() }

func (t *sqlTx) release() {
	if t.cancel != nil {
		t.cancel()
	}
}

// CreateQueue validates the queue name. Main and sub-queue partitions share
// one table, so there is no per-queue object to provision.
func (s *Store) CreateQueue(ctx context.Context, queue string) error {
	if queue == "" {
		return fmt.Errorf("queuestore: queue name cannot be empty")
	}
	return nil
}

// EnsureSubQueues validates the sub-queue names; see CreateQueue.
func (s *Store) EnsureSubQueues(ctx context.Context, queue string, subQueues ...string) error {
	if queue == "" {
		return fmt.Errorf("queuestore: queue name cannot be empty")
	}
	for _, sq := range subQueues {
		if sq == "" {
			return fmt.Errorf("queuestore: sub-queue name cannot be empty")
		}
	}
	return nil
}

// BeginTx opens a database/sql transaction with the requested isolation level.
func (s *Store) BeginTx(ctx context.Context, opts transport.TxOptions) (transport.Tx, error) {
	if s.isClosed() {
		return nil, transport.ErrQueueClosed
	}

	// database/sql rolls the transaction back when txCtx is done, so the
	// timeout context lives until Commit or Rollback releases it.
	txCtx := ctx
	var cancel context.CancelFunc
	if opts.Timeout > 0 {
		txCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
	}

	tx, err := s.db.BeginTx(txCtx, &sql.TxOptions{Isolation: opts.Isolation})
	if err != nil {
		if cancel != nil {
			cancel()
		}
		return nil, err
	}
	return &sqlTx{tx: tx, cancel: cancel}, nil
}

// Peek blocks up to timeout, polling for a row in queue's main partition
// without removing it.
func (s *Store) Peek(ctx context.Context, queue string, timeout time.Duration) (*transport.TransportMessage, error) {
	deadline := time.Now().Add(timeout)
	for {
		if s.isClosed() {
			return nil, transport.ErrQueueClosed
		}

		var (
			headerRaw string
			body      []byte
		)
		row := s.db.QueryRowContext(ctx,
			`SELECT headers, body FROM messages WHERE queue = ? AND subqueue = '' ORDER BY seq LIMIT 1`, queue)
		switch err := row.Scan(&headerRaw, &body); {
		case err == nil:
			var headers map[string]string
			if err := json.Unmarshal([]byte(headerRaw), &headers); err != nil {
				return nil, fmt.Errorf("queuestore: decode headers: %w", err)
			}
			return transport.NewTransportMessage(body, headers), nil
		case err != sql.ErrNoRows:
			return nil, err
		}

		if time.Now().After(deadline) {
			return nil, transport.ErrReceiveTimeout
		}
		if err := sleepOrDone(ctx); err != nil {
			return nil, err
		}
	}
}

// Receive polls for and atomically removes the oldest message in queue's
// main partition within tx, up to timeout.
func (s *Store) Receive(ctx context.Context, tx transport.Tx, queue string, timeout time.Duration) (*transport.TransportMessage, error) {
	sqltx, ok := tx.(*sqlTx)
	if !ok {
		return nil, fmt.Errorf("queuestore: tx not opened by this store")
	}

	deadline := time.Now().Add(timeout)
	for {
		if s.isClosed() {
			return nil, transport.ErrQueueClosed
		}

		msg, err := receiveOnce(ctx, sqltx.tx, "queue = ? AND subqueue = ''", []any{queue})
		if err == nil {
			return msg, nil
		}
		if err != ErrNotFound {
			return nil, err
		}

		if time.Now().After(deadline) {
			return nil, transport.ErrReceiveTimeout
		}
		if err := sleepOrDone(ctx); err != nil {
			return nil, err
		}
	}
}

// ReceiveFromSubQueue removes and returns the message identified by id from
// queue's named sub-queue within tx, without polling: the timeout scheduler
// only calls this once it already knows the entry exists.
func (s *Store) ReceiveFromSubQueue(ctx context.Context, tx transport.Tx, queue, subQueue, id string) (*transport.TransportMessage, error) {
	sqltx, ok := tx.(*sqlTx)
	if !ok {
		return nil, fmt.Errorf("queuestore: tx not opened by this store")
	}
	msg, err := receiveOnce(ctx, sqltx.tx, "queue = ? AND subqueue = ? AND message_id = ?", []any{queue, subQueue, id})
	if err == ErrNotFound {
		return nil, transport.ErrReceiveTimeout
	}
	return msg, err
}

// ListSubQueue returns every message currently parked in queue's named
// sub-queue, oldest first, without removing any of them — used at startup
// to repopulate the timeout scheduler from durable state.
func (s *Store) ListSubQueue(ctx context.Context, queue, subQueue string) ([]*transport.TransportMessage, error) {
	if s.isClosed() {
		return nil, transport.ErrQueueClosed
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT headers, body FROM messages WHERE queue = ? AND subqueue = ? ORDER BY seq`, queue, subQueue)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []*transport.TransportMessage
	for rows.Next() {
		var (
			headerRaw string
			body      []byte
		)
		if err := rows.Scan(&headerRaw, &body); err != nil {
			return nil, err
		}

		var headers map[string]string
		if err := json.Unmarshal([]byte(headerRaw), &headers); err != nil {
			return nil, fmt.Errorf("queuestore: decode headers: %w", err)
		}
		messages = append(messages, transport.NewTransportMessage(body, headers))
	}
	return messages, rows.Err()
}

// receiveOnce selects and deletes the oldest row matching where/args within
// tx, decoding it into a TransportMessage.
func receiveOnce(ctx context.Context, tx *sql.Tx, where string, args []any) (*transport.TransportMessage, error) {
	query := fmt.Sprintf(`SELECT seq, message_id, headers, body FROM messages WHERE %s ORDER BY seq LIMIT 1`, where)

	var (
		seq       int64
		messageID string
		headerRaw string
		body      []byte
	)
	row := tx.QueryRowContext(ctx, query, args...)
	if err := row.Scan(&seq, &messageID, &headerRaw, &body); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE seq = ?`, seq); err != nil {
		return nil, err
	}

	var headers map[string]string
	if err := json.Unmarshal([]byte(headerRaw), &headers); err != nil {
		return nil, fmt.Errorf("queuestore: decode headers: %w", err)
	}

	return transport.NewTransportMessage(body, headers), nil
}

// Send inserts msg into destination's main partition. A nil tx auto-commits.
func (s *Store) Send(ctx context.Context, tx transport.Tx, destination transport.Endpoint, msg *transport.TransportMessage) error {
	if s.isClosed() {
		return transport.ErrQueueClosed
	}

	headerJSON, err := json.Marshal(msg.Headers)
	if err != nil {
		return fmt.Errorf("queuestore: encode headers: %w", err)
	}

	const stmt = `INSERT INTO messages (message_id, queue, subqueue, headers, body) VALUES (?, ?, '', ?, ?)`
	args := []any{msg.Header(transport.HeaderID), destination.Queue, string(headerJSON), msg.Body}

	if tx == nil {
		_, err := s.db.ExecContext(ctx, stmt, args...)
		return err
	}

	sqltx, ok := tx.(*sqlTx)
	if !ok {
		return fmt.Errorf("queuestore: tx not opened by this store")
	}
	_, err = sqltx.tx.ExecContext(ctx, stmt, args...)
	return err
}

// MoveToSubQueue inserts msg into queue's named sub-queue partition within
// tx. The caller is expected to have already removed msg from the main
// partition in the same transaction (via Receive), so this is a plain insert.
func (s *Store) MoveToSubQueue(ctx context.Context, tx transport.Tx, queue, subQueue string, msg *transport.TransportMessage) error {
	sqltx, ok := tx.(*sqlTx)
	if !ok {
		return fmt.Errorf("queuestore: tx not opened by this store")
	}

	headerJSON, err := json.Marshal(msg.Headers)
	if err != nil {
		return fmt.Errorf("queuestore: encode headers: %w", err)
	}

	const stmt = `INSERT INTO messages (message_id, queue, subqueue, headers, body) VALUES (?, ?, ?, ?, ?)`
	_, err = sqltx.tx.ExecContext(ctx, stmt, msg.Header(transport.HeaderID), queue, subQueue, string(headerJSON), msg.Body)
	return err
}

// Close marks the store closed and closes the underlying database handle.
func (s *Store) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return s.db.Close()
}

func (s *Store) isClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

func sleepOrDone(ctx context.Context) error {
	timer := time.NewTimer(pollInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
