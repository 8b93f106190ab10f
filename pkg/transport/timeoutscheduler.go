package transport

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/JailtonJunior94/devkit-go/pkg/observability"
)

// timeoutEntry references one message parked in a queue's timeout sub-queue,
// ordered by the time it becomes due. No third-party priority-queue library
// appears anywhere in the reference pack, so container/heap is the narrowest
// stdlib fit for this single-process, in-memory ordering structure.
type timeoutEntry struct {
	sendAt    time.Time
	messageID string
	index     int
}

type timeoutHeap []*timeoutEntry

func (h timeoutHeap) Len() int            { return len(h) }
func (h timeoutHeap) Less(i, j int) bool  { return h[i].sendAt.Before(h[j].sendAt) }
func (h timeoutHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *timeoutHeap) Push(x any) {
	e := x.(*timeoutEntry)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *timeoutHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// TimeoutScheduler tracks future-dated messages parked in a queue's timeout
// sub-queue and re-injects them into the main queue once their send-time
// elapses (spec §4.4). It is disposed before the queue manager on shutdown.
type TimeoutScheduler struct {
	queue    QueueManager
	local    Endpoint
	interval time.Duration
	obs      observability.Observability

	mu sync.Mutex
	h  timeoutHeap

	wake chan struct{}
	done chan struct{}
	wg   sync.WaitGroup
}

// NewTimeoutScheduler creates a scheduler that polls at the given interval
// (spec requires <= 1s; Config.Validate enforces this).
func NewTimeoutScheduler(queue QueueManager, local Endpoint, interval time.Duration, obs observability.Observability) *TimeoutScheduler {
	return &TimeoutScheduler{
		queue:    queue,
		local:    local,
		interval: interval,
		obs:      obs,
		wake:     make(chan struct{}, 1),
	}
}

// Register adds a message to the schedule. The worker loop (worker.go) calls
// it once the transaction that moves the message into the timeout sub-queue
// has committed, so only durably parked messages are scheduled; Start calls
// it for every entry already parked there when the transport starts.
func (s *TimeoutScheduler) Register(messageID string, sendAt time.Time) {
	s.mu.Lock()
	heap.Push(&s.h, &timeoutEntry{sendAt: sendAt, messageID: messageID})
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Start begins the background polling loop.
func (s *TimeoutScheduler) Start(ctx context.Context) {
	s.done = make(chan struct{})
	s.wg.Add(1)
	go s.run(ctx)
}

// Dispose stops the polling loop and waits for it to exit.
func (s *TimeoutScheduler) Dispose() {
	if s.done == nil {
		return
	}
	close(s.done)
	s.wg.Wait()
}

func (s *TimeoutScheduler) run(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		s.processDue(ctx)

		select {
		case <-s.done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-s.wake:
		}
	}
}

// processDue re-injects every entry whose send time has arrived.
func (s *TimeoutScheduler) processDue(ctx context.Context) {
	for {
		entry, ok := s.popDue()
		if !ok {
			return
		}
		if err := s.reinject(ctx, entry.messageID); err != nil {
			s.obs.Logger().Error(ctx, "transport: timeout reinject failed",
				observability.String("message_id", entry.messageID),
				observability.Error(err))
		}
	}
}

func (s *TimeoutScheduler) popDue() (*timeoutEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.h) == 0 {
		return nil, false
	}
	head := s.h[0]
	if head.sendAt.After(time.Now()) {
		return nil, false
	}
	return heap.Pop(&s.h).(*timeoutEntry), true
}

// reinject removes the due message from the timeout sub-queue and re-sends
// it into the main queue, preserving its id and retries headers (spec §9
// open question, resolved in favor of preservation) and restoring its
// original type from the internal marker stamped when it was deferred.
func (s *TimeoutScheduler) reinject(ctx context.Context, messageID string) error {
	tx, err := s.queue.BeginTx(ctx, TxOptions{})
	if err != nil {
		return &QueueError{Op: "timeout_begin_tx", Queue: s.local.Queue, Err: err}
	}

	msg, err := s.queue.ReceiveFromSubQueue(ctx, tx, s.local.Queue, SubQueueTimeout, messageID)
	if err != nil {
		_ = tx.Rollback()
		return &QueueError{Op: "timeout_receive", Queue: s.local.Queue, Err: err}
	}

	restored := msg.Clone()
	if original := restored.Header(headerOriginalType); original != "" {
		restored.SetHeader(HeaderType, original)
	} else {
		restored.SetHeader(HeaderType, string(KindOrdinary))
	}

	if err := s.queue.Send(ctx, tx, s.local, restored); err != nil {
		_ = tx.Rollback()
		return &QueueError{Op: "timeout_reinject", Queue: s.local.Queue, Err: err}
	}

	if err := tx.Commit(); err != nil {
		return &QueueError{Op: "timeout_commit", Queue: s.local.Queue, Err: err}
	}
	return nil
}
