package taskpoll

import (
	"context"
	"errors"
	"testing"
	"time"

	"multichat/internal/chat"
	"multichat/internal/providers"
)

type fakeClock struct {
	slept []time.Duration
}

func (c *fakeClock) Sleep(_ context.Context, d time.Duration) error {
	c.slept = append(c.slept, d)
	return nil
}

func TestWaitSucceededOnFirstPoll(t *testing.T) {
	clock := &fakeClock{}
	p := New(chat.ProviderQwen)
	p.Sleep = clock.Sleep

	calls := 0
	url, err := p.Wait(context.Background(), func(context.Context) (Result, error) {
		calls++
		return Result{Status: StatusSucceeded, URL: "https://img/1.png"}, nil
	})
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if url != "https://img/1.png" || calls != 1 || len(clock.slept) != 1 {
		t.Fatalf("unexpected result url=%q calls=%d sleeps=%d", url, calls, len(clock.slept))
	}
}

func TestWaitFailedRaisesVendorMessage(t *testing.T) {
	clock := &fakeClock{}
	p := New(chat.ProviderQwen)
	p.Sleep = clock.Sleep

	statuses := []Status{StatusPending, StatusRunning, StatusFailed, StatusSucceeded}
	calls := 0
	_, err := p.Wait(context.Background(), func(context.Context) (Result, error) {
		s := statuses[calls]
		calls++
		return Result{Status: s, Message: "content policy"}, nil
	})
	var te *providers.TransportError
	if !errors.As(err, &te) || te.Message != "content policy" {
		t.Fatalf("expected vendor message, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected to stop at the failed poll, got %d calls", calls)
	}
}

func TestWaitTimesOutAfterSixtyAttempts(t *testing.T) {
	clock := &fakeClock{}
	p := New(chat.ProviderQwen)
	p.Sleep = clock.Sleep

	calls := 0
	_, err := p.Wait(context.Background(), func(context.Context) (Result, error) {
		calls++
		return Result{Status: StatusPending}, nil
	})
	if !errors.Is(err, providers.ErrTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
	if calls != 60 || len(clock.slept) != 60 {
		t.Fatalf("expected 60 attempts, got calls=%d sleeps=%d", calls, len(clock.slept))
	}
	for _, d := range clock.slept {
		if d != 2*time.Second {
			t.Fatalf("expected fixed 2s interval, got %v", d)
		}
	}
}

func TestWaitStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := New(chat.ProviderQwen)
	_, err := p.Wait(ctx, func(context.Context) (Result, error) {
		t.Fatalf("check must not run after cancel")
		return Result{}, nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled, got %v", err)
	}
}
