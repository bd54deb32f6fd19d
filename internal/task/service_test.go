package task

import (
	"context"
	"errors"
	"testing"

	xerrors "TravelAgent-Chain/internal/errors"
)

type failingProducer struct{}

func (failingProducer) Publish(context.Context, string) error { return errors.New("broker down") }
func (failingProducer) Close() error                         { return nil }

func TestSubmitValidatesInput(t *testing.T) {
	queue := NewMemoryQueue(1)
	svc := NewService(NewMemoryStore(), queue, 3)
	_, err := svc.Submit(context.Background(), SubmitRequest{Input: "  "})
	if xerrors.CodeOf(err) != CodeRunValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
	if queue.Len() != 0 {
		t.Fatalf("invalid run must not be published")
	}
}

func TestSubmitIsIdempotentPerID(t *testing.T) {
	queue := NewMemoryQueue(4)
	svc := NewService(NewMemoryStore(), queue, 3)
	first, err := svc.Submit(context.Background(), SubmitRequest{ID: "run-1", Input: "weather in Oslo"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	second, err := svc.Submit(context.Background(), SubmitRequest{ID: "run-1", Input: "something else"})
	if err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	if second.ID != first.ID || second.Input != "weather in Oslo" {
		t.Fatalf("resubmission should return the existing run: %+v", second)
	}
	if queue.Len() != 1 {
		t.Fatalf("run should be published once, queue holds %d", queue.Len())
	}
}

func TestSubmitPublishFailureMarksRunFailed(t *testing.T) {
	store := NewMemoryStore()
	svc := NewService(store, failingProducer{}, 3)
	_, err := svc.Submit(context.Background(), SubmitRequest{ID: "run-1", Input: "weather in Oslo"})
	if err == nil {
		t.Fatalf("publish failure should be returned")
	}
	run, getErr := store.Get(context.Background(), "run-1")
	if getErr != nil || run.Status != StatusFailed || run.ErrorCode != string(CodeRunPublish) || !run.Terminal() {
		t.Fatalf("unexpected run %+v %v", run, getErr)
	}
}

func TestWaitUntilCompletedHonoursContext(t *testing.T) {
	svc := NewService(NewMemoryStore(), NewMemoryQueue(4), 3)
	run, err := svc.Submit(context.Background(), SubmitRequest{Input: "weather in Oslo"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := svc.WaitUntilCompleted(ctx, run.ID, 0); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context cancellation, got %v", err)
	}
}
