package transport

import (
	"context"
	"errors"
	"testing"

	"github.com/JailtonJunior94/devkit-go/pkg/observability/noop"
)

func TestBusArrivedPriorityOrder(t *testing.T) {
	bus := NewBus(noop.NewProvider())
	var order []string

	bus.SubscribeArrived(func(ctx context.Context, info *CurrentMessageInformation) (bool, error) {
		order = append(order, "default")
		return true, nil
	})
	bus.SubscribeArrived(func(ctx context.Context, info *CurrentMessageInformation) (bool, error) {
		order = append(order, "first")
		return false, nil
	}, WithPriority(PriorityFirst))

	consumed, err := bus.DispatchArrived(context.Background(), &CurrentMessageInformation{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !consumed {
		t.Fatal("expected consumed=true from the OR fold")
	}
	if len(order) != 2 || order[0] != "first" || order[1] != "default" {
		t.Fatalf("expected priority subscriber to run first, got %v", order)
	}
}

func TestBusArrivedStopsOnFirstError(t *testing.T) {
	bus := NewBus(noop.NewProvider())
	boom := errors.New("boom")
	called := false

	bus.SubscribeArrived(func(ctx context.Context, info *CurrentMessageInformation) (bool, error) {
		return false, boom
	})
	bus.SubscribeArrived(func(ctx context.Context, info *CurrentMessageInformation) (bool, error) {
		called = true
		return true, nil
	})

	_, err := bus.DispatchArrived(context.Background(), &CurrentMessageInformation{})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if called {
		t.Fatal("expected dispatch to stop after the first arrival error")
	}
}

func TestBusFailureSwallowsSubscriberErrorsAndKeepsGoing(t *testing.T) {
	bus := NewBus(noop.NewProvider())
	secondRan := false

	bus.SubscribeFailure(func(ctx context.Context, info *CurrentMessageInformation, err error) error {
		return errors.New("first subscriber blew up")
	})
	bus.SubscribeFailure(func(ctx context.Context, info *CurrentMessageInformation, err error) error {
		secondRan = true
		return nil
	})

	bus.DispatchFailure(context.Background(), &CurrentMessageInformation{}, errors.New("processing failed"))

	if !secondRan {
		t.Fatal("expected the second failure subscriber to run despite the first one's error")
	}
}

func TestBusRecoversPanickingBestEffortSubscriber(t *testing.T) {
	bus := NewBus(noop.NewProvider())
	ranAfterPanic := false

	bus.SubscribeCompleted(func(ctx context.Context, info *CurrentMessageInformation, err error) {
		panic("subscriber panicked")
	})
	bus.SubscribeCompleted(func(ctx context.Context, info *CurrentMessageInformation, err error) {
		ranAfterPanic = true
	})

	bus.DispatchCompleted(context.Background(), &CurrentMessageInformation{}, nil)

	if !ranAfterPanic {
		t.Fatal("expected dispatch to continue to the next subscriber after a panic")
	}
}

func TestBusPreCommitStopsOnError(t *testing.T) {
	bus := NewBus(noop.NewProvider())
	boom := errors.New("boom")

	bus.SubscribePreCommit(func(ctx context.Context, info *CurrentMessageInformation) error {
		return boom
	})

	if err := bus.DispatchPreCommit(context.Background(), &CurrentMessageInformation{}); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
}
