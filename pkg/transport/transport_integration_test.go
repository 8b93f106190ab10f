package transport_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/JailtonJunior94/devkit-go/pkg/observability/noop"
	"github.com/JailtonJunior94/devkit-go/pkg/transport"
	"github.com/JailtonJunior94/devkit-go/pkg/transport/queuestore"
)

// greeting is the test's stand-in logical message, registered with a fresh
// serializer per test so one test's handlers never see another's messages.
type greeting struct{ Text string }

// boomError is the deliberate handler failure used by the retry scenarios.
type boomError struct{ msg string }

func (e *boomError) Error() string { return e.msg }

type TransportSuite struct {
	suite.Suite

	store    *queuestore.Store
	endpoint transport.Endpoint
}

func TestTransportSuite(t *testing.T) {
	suite.Run(t, new(TransportSuite))
}

func (s *TransportSuite) SetupTest() {
	path := filepath.Join(s.T().TempDir(), "transport.db")
	store, err := queuestore.Open(path)
	s.Require().NoError(err)
	s.store = store

	endpoint, err := transport.ParseEndpoint("local://test:2200/orders")
	s.Require().NoError(err)
	s.endpoint = endpoint
}

func (s *TransportSuite) TearDownTest() {
	s.store.Close()
}

func (s *TransportSuite) newTransport(numberOfRetries int) *transport.Transport {
	serializer := transport.NewJSONSerializer()
	serializer.Register(transport.TypeName(greeting{}), greeting{})

	tp, err := transport.New(s.store, noop.NewProvider(),
		transport.WithServiceName("orders"),
		transport.WithEnvironment("test"),
		transport.WithEndpoint(s.endpoint),
		transport.WithThreadCount(2),
		transport.WithNumberOfRetries(numberOfRetries),
		transport.WithPeekTimeout(200*time.Millisecond),
		transport.WithReceiveTimeout(200*time.Millisecond),
		transport.WithSerializer(serializer),
	)
	s.Require().NoError(err)
	return tp
}

// Scenario 1: a single subscriber that consumes successfully.
func (s *TransportSuite) TestSuccessfulDispatch() {
	tp := s.newTransport(3)

	var arrivedCount, completedCount atomic.Int32
	var completedErr error
	var mu sync.Mutex

	tp.Bus().SubscribeArrived(func(ctx context.Context, info *transport.CurrentMessageInformation) (bool, error) {
		arrivedCount.Add(1)
		s.Require().Equal([]any{greeting{Text: "hello"}}, info.AllMessages)
		return true, nil
	})
	tp.Bus().SubscribeCompleted(func(ctx context.Context, info *transport.CurrentMessageInformation, err error) {
		completedCount.Add(1)
		mu.Lock()
		completedErr = err
		mu.Unlock()
	})

	s.Require().NoError(tp.Start(context.Background()))
	defer tp.Dispose()

	s.Require().NoError(tp.Send(context.Background(), s.endpoint, greeting{Text: "hello"}))

	s.Eventually(func() bool { return completedCount.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
	s.Equal(int32(1), arrivedCount.Load())
	mu.Lock()
	defer mu.Unlock()
	s.NoError(completedErr)
}

// Scenario 2: a handler that always fails must exhaust retries and poison.
func (s *TransportSuite) TestRetryThenPoison() {
	const retries = 3
	tp := s.newTransport(retries)

	var failureCount atomic.Int32
	var preCommitCount atomic.Int32

	tp.Bus().SubscribeArrived(func(ctx context.Context, info *transport.CurrentMessageInformation) (bool, error) {
		return false, &boomError{msg: "boom"}
	})
	tp.Bus().SubscribeFailure(func(ctx context.Context, info *transport.CurrentMessageInformation, err error) error {
		failureCount.Add(1)
		return nil
	})
	tp.Bus().SubscribePreCommit(func(ctx context.Context, info *transport.CurrentMessageInformation) error {
		preCommitCount.Add(1)
		return nil
	})

	s.Require().NoError(tp.Start(context.Background()))
	defer tp.Dispose()

	s.Require().NoError(tp.Send(context.Background(), s.endpoint, greeting{Text: "poison me"}))

	s.Eventually(func() bool { return failureCount.Load() == int32(retries) }, 3*time.Second, 10*time.Millisecond)
	s.Equal(int32(0), preCommitCount.Load())

	// The main queue must now be empty and the message must be in errors.
	_, err := s.store.Peek(context.Background(), s.endpoint.Queue, 200*time.Millisecond)
	s.ErrorIs(err, transport.ErrReceiveTimeout)

	poisoned, err := s.store.ListSubQueue(context.Background(), s.endpoint.Queue, transport.SubQueueErrors)
	s.Require().NoError(err)
	s.Len(poisoned, 1)
}

// Scenario 4: a consumer that returns false moves the message to discarded.
func (s *TransportSuite) TestNoConsumerDiscards() {
	tp := s.newTransport(3)

	var completedCount atomic.Int32
	var completedErr error
	var mu sync.Mutex

	tp.Bus().SubscribeArrived(func(ctx context.Context, info *transport.CurrentMessageInformation) (bool, error) {
		return false, nil
	})
	tp.Bus().SubscribeCompleted(func(ctx context.Context, info *transport.CurrentMessageInformation, err error) {
		completedCount.Add(1)
		mu.Lock()
		completedErr = err
		mu.Unlock()
	})

	s.Require().NoError(tp.Start(context.Background()))
	defer tp.Dispose()

	s.Require().NoError(tp.Send(context.Background(), s.endpoint, greeting{Text: "nobody home"}))

	s.Eventually(func() bool { return completedCount.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	s.NoError(completedErr)

	tx, err := s.store.BeginTx(context.Background(), transport.TxOptions{})
	s.Require().NoError(err)
	_, err = s.store.Receive(context.Background(), tx, s.endpoint.Queue, 50*time.Millisecond)
	s.ErrorIs(err, transport.ErrReceiveTimeout)
	s.Require().NoError(tx.Rollback())

	discarded, err := s.store.ListSubQueue(context.Background(), s.endpoint.Queue, transport.SubQueueDiscarded)
	s.Require().NoError(err)
	s.Len(discarded, 1)
}

// Scenario 3: a deferred send must not dispatch before its time-to-send.
func (s *TransportSuite) TestDeferredSendDelaysDispatch() {
	tp := s.newTransport(3)

	var arrivedAt time.Time
	var mu sync.Mutex
	arrived := make(chan struct{}, 1)

	tp.Bus().SubscribeArrived(func(ctx context.Context, info *transport.CurrentMessageInformation) (bool, error) {
		mu.Lock()
		arrivedAt = time.Now()
		mu.Unlock()
		select {
		case arrived <- struct{}{}:
		default:
		}
		return true, nil
	})

	s.Require().NoError(tp.Start(context.Background()))
	defer tp.Dispose()

	sentAt := time.Now()
	deferUntil := sentAt.Add(1200 * time.Millisecond)
	s.Require().NoError(tp.SendAt(context.Background(), s.endpoint, deferUntil, greeting{Text: "later"}))

	select {
	case <-arrived:
	case <-time.After(3 * time.Second):
		s.Fail("message never arrived")
	}

	mu.Lock()
	defer mu.Unlock()
	s.True(arrivedAt.After(deferUntil.Add(-50*time.Millisecond)), "message dispatched before its time-to-send")
}

// A restart must not orphan a message already parked in the timeout
// sub-queue: Start repopulates the in-memory scheduler from durable state
// (spec §1, §3, §4.4) before the worker pool runs.
func (s *TransportSuite) TestRestartRecoversPendingTimeoutEntry() {
	ctx := context.Background()

	serializer := transport.NewJSONSerializer()
	serializer.Register(transport.TypeName(greeting{}), greeting{})

	s.Require().NoError(s.store.CreateQueue(ctx, s.endpoint.Queue))
	s.Require().NoError(s.store.EnsureSubQueues(ctx, s.endpoint.Queue, transport.SubQueueTimeout, transport.SubQueueDiscarded, transport.SubQueueErrors))

	body, err := serializer.Serialize([]any{greeting{Text: "stranded"}})
	s.Require().NoError(err)

	parked := transport.NewTransportMessage(body, map[string]string{
		transport.HeaderID:         "stranded-1",
		transport.HeaderType:       string(transport.KindTimeout),
		transport.HeaderTimeToSend: time.Now().UTC().Add(-time.Minute).Format(transport.TimeToSendLayout),
	})

	tx, err := s.store.BeginTx(ctx, transport.TxOptions{})
	s.Require().NoError(err)
	s.Require().NoError(s.store.MoveToSubQueue(ctx, tx, s.endpoint.Queue, transport.SubQueueTimeout, parked))
	s.Require().NoError(tx.Commit())

	tp, err := transport.New(s.store, noop.NewProvider(),
		transport.WithServiceName("orders"),
		transport.WithEnvironment("test"),
		transport.WithEndpoint(s.endpoint),
		transport.WithThreadCount(2),
		transport.WithNumberOfRetries(3),
		transport.WithPeekTimeout(200*time.Millisecond),
		transport.WithReceiveTimeout(200*time.Millisecond),
		transport.WithSerializer(serializer),
		transport.WithTickInterval(50*time.Millisecond),
	)
	s.Require().NoError(err)

	var arrivedCount atomic.Int32
	tp.Bus().SubscribeArrived(func(ctx context.Context, info *transport.CurrentMessageInformation) (bool, error) {
		arrivedCount.Add(1)
		return true, nil
	})

	s.Require().NoError(tp.Start(ctx))
	defer tp.Dispose()

	s.Eventually(func() bool { return arrivedCount.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestErrorsJoinSmokeTest(t *testing.T) {
	// Sanity check that the dispatcher's use of errors.Join composes cleanly
	// with errors.Is, since TestRetryThenPoison relies on sentinel matching
	// through wrapped/joined errors elsewhere in the package.
	err := errors.Join(transport.ErrReceiveTimeout, errors.New("also this"))
	if !errors.Is(err, transport.ErrReceiveTimeout) {
		t.Fatal("expected errors.Is to see through errors.Join")
	}
}
