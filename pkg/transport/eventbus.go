package transport

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/JailtonJunior94/devkit-go/pkg/observability"
)

// PriorityFirst guarantees a subscriber runs before every subscriber
// registered with the default priority. The error action registers at this
// priority so the "first subscriber must be the error action" constraint
// (spec §4.3, §9) is structural rather than dependent on call order.
const PriorityFirst = math.MinInt

// Event slot function signatures (spec §4.6). Each slot has a statically
// known signature rather than a shared untyped handler list, per the
// spec's own design note preferring tagged variants over a generic bus.
type (
	StartedFunc            func(ctx context.Context)
	ArrivedFunc             func(ctx context.Context, info *CurrentMessageInformation) (consumed bool, err error)
	CompletedFunc           func(ctx context.Context, info *CurrentMessageInformation, processingErr error)
	FailureFunc             func(ctx context.Context, info *CurrentMessageInformation, processingErr error) error
	SerializationFaultFunc  func(ctx context.Context, info *CurrentMessageInformation, err error)
	SentFunc                func(ctx context.Context, info *CurrentMessageInformation)
	PreCommitFunc           func(ctx context.Context, info *CurrentMessageInformation) error
)

// SubscribeOption configures a single subscription.
type SubscribeOption func(*subscription)

// WithPriority sets the subscription's dispatch priority; lower values run
// first. Default priority is 0.
func WithPriority(priority int) SubscribeOption {
	return func(s *subscription) { s.priority = priority }
}

type subscription struct {
	priority int
	seq      int64
}

type startedSub struct {
	subscription
	fn StartedFunc
}
type arrivedSub struct {
	subscription
	fn ArrivedFunc
}
type completedSub struct {
	subscription
	fn CompletedFunc
}
type failureSub struct {
	subscription
	fn FailureFunc
}
type faultSub struct {
	subscription
	fn SerializationFaultFunc
}
type sentSub struct {
	subscription
	fn PreCommitFunc
}
type preCommitSub struct {
	subscription
	fn PreCommitFunc
}

// Bus is the transport's in-process pub/sub registry. Subscribe/unsubscribe
// is safe to call while the transport is running; Dispatch* methods iterate
// over a priority-sorted snapshot taken under a read lock, the same
// discipline pkg/events.eventDispatcher uses, so subscriber execution never
// happens while the registry is locked.
type Bus struct {
	mu  sync.RWMutex
	seq int64
	obs observability.Observability

	started        []startedSub
	arrived        []arrivedSub
	adminArrived   []arrivedSub
	completed      []completedSub
	adminCompleted []completedSub
	failure        []failureSub
	fault          []faultSub
	sent           []sentSub
	preCommit      []preCommitSub
}

// NewBus creates an empty event bus. obs is used to log recovered panics and
// swallowed subscriber errors; it must not be nil (pass observability/noop
// in tests, matching pkg/consumer's required-injection pattern).
func NewBus(obs observability.Observability) *Bus { return &Bus{obs: obs} }

func (b *Bus) nextSeq() int64 {
	b.seq++
	return b.seq
}

func (b *Bus) SubscribeStarted(fn StartedFunc, opts ...SubscribeOption) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := startedSub{subscription: newSub(b.nextSeq(), opts), fn: fn}
	b.started = append(b.started, s)
	sortStarted(b.started)
}

func (b *Bus) SubscribeArrived(fn ArrivedFunc, opts ...SubscribeOption) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.arrived = append(b.arrived, arrivedSub{subscription: newSub(b.nextSeq(), opts), fn: fn})
	sortArrived(b.arrived)
}

func (b *Bus) SubscribeAdministrativeArrived(fn ArrivedFunc, opts ...SubscribeOption) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.adminArrived = append(b.adminArrived, arrivedSub{subscription: newSub(b.nextSeq(), opts), fn: fn})
	sortArrived(b.adminArrived)
}

func (b *Bus) SubscribeCompleted(fn CompletedFunc, opts ...SubscribeOption) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.completed = append(b.completed, completedSub{subscription: newSub(b.nextSeq(), opts), fn: fn})
	sortCompleted(b.completed)
}

func (b *Bus) SubscribeAdministrativeCompleted(fn CompletedFunc, opts ...SubscribeOption) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.adminCompleted = append(b.adminCompleted, completedSub{subscription: newSub(b.nextSeq(), opts), fn: fn})
	sortCompleted(b.adminCompleted)
}

func (b *Bus) SubscribeFailure(fn FailureFunc, opts ...SubscribeOption) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failure = append(b.failure, failureSub{subscription: newSub(b.nextSeq(), opts), fn: fn})
	sortFailure(b.failure)
}

func (b *Bus) SubscribeSerializationFault(fn SerializationFaultFunc, opts ...SubscribeOption) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fault = append(b.fault, faultSub{subscription: newSub(b.nextSeq(), opts), fn: fn})
	sortFault(b.fault)
}

func (b *Bus) SubscribeSent(fn SentFunc, opts ...SubscribeOption) {
	b.mu.Lock()
	defer b.mu.Unlock()
	wrapped := func(ctx context.Context, info *CurrentMessageInformation) error {
		fn(ctx, info)
		return nil
	}
	b.sent = append(b.sent, sentSub{subscription: newSub(b.nextSeq(), opts), fn: wrapped})
	sortSent(b.sent)
}

func (b *Bus) SubscribePreCommit(fn PreCommitFunc, opts ...SubscribeOption) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.preCommit = append(b.preCommit, preCommitSub{subscription: newSub(b.nextSeq(), opts), fn: fn})
	sortPreCommit(b.preCommit)
}

func newSub(seq int64, opts []SubscribeOption) subscription {
	s := subscription{priority: 0, seq: seq}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// DispatchStarted fires Started, logging and swallowing subscriber panics.
func (b *Bus) DispatchStarted(ctx context.Context) {
	b.mu.RLock()
	subs := append([]startedSub(nil), b.started...)
	b.mu.RUnlock()
	for _, s := range subs {
		func() {
			defer b.recoverSubscriber("Started")
			s.fn(ctx)
		}()
	}
}

// DispatchArrived fires MessageArrived subscribers in priority order,
// folding their boolean return with logical OR. The first subscriber error
// aborts the fold and is returned to the dispatcher (spec §4.2/§8: an
// arrival handler failure rolls back the enclosing transaction).
func (b *Bus) DispatchArrived(ctx context.Context, info *CurrentMessageInformation) (bool, error) {
	return dispatchArrived(ctx, b.snapshotArrived(), info)
}

// DispatchAdministrativeArrived is the administrative counterpart.
func (b *Bus) DispatchAdministrativeArrived(ctx context.Context, info *CurrentMessageInformation) (bool, error) {
	return dispatchArrived(ctx, b.snapshotAdminArrived(), info)
}

func (b *Bus) snapshotArrived() []arrivedSub {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]arrivedSub(nil), b.arrived...)
}

func (b *Bus) snapshotAdminArrived() []arrivedSub {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]arrivedSub(nil), b.adminArrived...)
}

func dispatchArrived(ctx context.Context, subs []arrivedSub, info *CurrentMessageInformation) (bool, error) {
	consumed := false
	for _, s := range subs {
		ok, err := callArrived(ctx, s.fn, info)
		if err != nil {
			return consumed, err
		}
		consumed = consumed || ok
	}
	return consumed, nil
}

// callArrived recovers panics from arrival subscribers, converting them to
// errors, matching pkg/consumer's RecoveryMiddleware pattern: a single
// misbehaving handler must not crash the worker loop.
func callArrived(ctx context.Context, fn ArrivedFunc, info *CurrentMessageInformation) (consumed bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &DispatchError{MessageID: info.MessageID, Err: panicError(r)}
		}
	}()
	return fn(ctx, info)
}

// DispatchCompleted fires MessageProcessingCompleted subscribers, best-effort.
func (b *Bus) DispatchCompleted(ctx context.Context, info *CurrentMessageInformation, processingErr error) {
	b.mu.RLock()
	subs := append([]completedSub(nil), b.completed...)
	b.mu.RUnlock()
	for _, s := range subs {
		func() {
			defer b.recoverSubscriber("MessageProcessingCompleted")
			s.fn(ctx, info, processingErr)
		}()
	}
}

// DispatchAdministrativeCompleted is the administrative counterpart.
func (b *Bus) DispatchAdministrativeCompleted(ctx context.Context, info *CurrentMessageInformation, processingErr error) {
	b.mu.RLock()
	subs := append([]completedSub(nil), b.adminCompleted...)
	b.mu.RUnlock()
	for _, s := range subs {
		func() {
			defer b.recoverSubscriber("AdministrativeMessageProcessingCompleted")
			s.fn(ctx, info, processingErr)
		}()
	}
}

// DispatchFailure fires MessageProcessingFailure subscribers in priority
// order (error action first). Unlike Arrived, subscriber errors here are
// logged and swallowed per subscriber — a later subscriber's failure must
// not prevent an earlier one (e.g. the error action) from having already
// materialized a retry/poison decision.
func (b *Bus) DispatchFailure(ctx context.Context, info *CurrentMessageInformation, processingErr error) {
	b.mu.RLock()
	subs := append([]failureSub(nil), b.failure...)
	b.mu.RUnlock()
	for _, s := range subs {
		func() {
			defer b.recoverSubscriber("MessageProcessingFailure")
			if err := s.fn(ctx, info, processingErr); err != nil {
				b.logSubscriberError("MessageProcessingFailure", err)
			}
		}()
	}
}

// DispatchSerializationFault fires MessageSerializationException subscribers.
func (b *Bus) DispatchSerializationFault(ctx context.Context, info *CurrentMessageInformation, err error) {
	b.mu.RLock()
	subs := append([]faultSub(nil), b.fault...)
	b.mu.RUnlock()
	for _, s := range subs {
		func() {
			defer b.recoverSubscriber("MessageSerializationException")
			s.fn(ctx, info, err)
		}()
	}
}

// DispatchSent fires MessageSent subscribers, best-effort.
func (b *Bus) DispatchSent(ctx context.Context, info *CurrentMessageInformation) {
	b.mu.RLock()
	subs := append([]sentSub(nil), b.sent...)
	b.mu.RUnlock()
	for _, s := range subs {
		func() {
			defer b.recoverSubscriber("MessageSent")
			_ = s.fn(ctx, info)
		}()
	}
}

// DispatchPreCommit invokes BeforeMessageTransactionCommit subscribers in
// order, stopping at (and returning) the first error, since a pre-commit
// failure must block the commit (spec §4.2 step 4).
func (b *Bus) DispatchPreCommit(ctx context.Context, info *CurrentMessageInformation) (err error) {
	b.mu.RLock()
	subs := append([]preCommitSub(nil), b.preCommit...)
	b.mu.RUnlock()
	for _, s := range subs {
		if callErr := callPreCommit(ctx, s.fn, info); callErr != nil {
			return callErr
		}
	}
	return nil
}

func callPreCommit(ctx context.Context, fn PreCommitFunc, info *CurrentMessageInformation) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &DispatchError{MessageID: info.MessageID, Err: panicError(r)}
		}
	}()
	return fn(ctx, info)
}

func sortStarted(s []startedSub)     { sort.SliceStable(s, func(i, j int) bool { return less(s[i].subscription, s[j].subscription) }) }
func sortArrived(s []arrivedSub)     { sort.SliceStable(s, func(i, j int) bool { return less(s[i].subscription, s[j].subscription) }) }
func sortCompleted(s []completedSub) { sort.SliceStable(s, func(i, j int) bool { return less(s[i].subscription, s[j].subscription) }) }
func sortFailure(s []failureSub)     { sort.SliceStable(s, func(i, j int) bool { return less(s[i].subscription, s[j].subscription) }) }
func sortFault(s []faultSub)         { sort.SliceStable(s, func(i, j int) bool { return less(s[i].subscription, s[j].subscription) }) }
func sortSent(s []sentSub)           { sort.SliceStable(s, func(i, j int) bool { return less(s[i].subscription, s[j].subscription) }) }
func sortPreCommit(s []preCommitSub) { sort.SliceStable(s, func(i, j int) bool { return less(s[i].subscription, s[j].subscription) }) }

func less(a, b subscription) bool {
	if a.priority != b.priority {
		return a.priority < b.priority
	}
	return a.seq < b.seq
}

// recoverSubscriber recovers a panicking subscriber in the best-effort
// dispatch slots (Started, Completed, SerializationFault, Sent), logging it
// instead of propagating, since none of those slots can affect the
// transaction outcome.
func (b *Bus) recoverSubscriber(slot string) {
	if r := recover(); r != nil {
		b.obs.Logger().Error(context.Background(), "transport: subscriber panicked",
			observability.String("slot", slot),
			observability.Any("panic", r))
	}
}

// logSubscriberError logs an error returned by a best-effort subscriber
// (MessageProcessingFailure) that was not the one deciding the message's fate.
func (b *Bus) logSubscriberError(slot string, err error) {
	b.obs.Logger().Error(context.Background(), "transport: subscriber returned error",
		observability.String("slot", slot),
		observability.Error(err))
}

// panicError normalizes a recovered panic value into an error.
func panicError(r any) error {
	if err, ok := r.(error); ok {
		return fmt.Errorf("panic: %w", err)
	}
	return fmt.Errorf("panic: %v", r)
}
