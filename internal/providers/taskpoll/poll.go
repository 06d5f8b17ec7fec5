// Package taskpoll waits for asynchronous vendor tasks at a fixed interval.
package taskpoll

import (
	"context"
	"fmt"
	"strings"
	"time"

	"multichat/internal/chat"
	"multichat/internal/providers"
)

const (
	DefaultInterval    = 2 * time.Second
	DefaultMaxAttempts = 60
)

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusRunning   Status = "RUNNING"
	StatusSucceeded Status = "SUCCEEDED"
	StatusFailed    Status = "FAILED"
)

type Result struct {
	Status  Status
	URL     string
	Message string
}

// CheckFunc performs one status request.
type CheckFunc func(ctx context.Context) (Result, error)

// SleepFunc waits d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

type Poller struct {
	Provider    chat.Provider
	Interval    time.Duration
	MaxAttempts int
	Sleep       SleepFunc
}

func New(provider chat.Provider) Poller {
	return Poller{
		Provider:    provider,
		Interval:    DefaultInterval,
		MaxAttempts: DefaultMaxAttempts,
		Sleep:       Sleep,
	}
}

// Wait sleeps, then checks, up to MaxAttempts times.
func (p Poller) Wait(ctx context.Context, check CheckFunc) (string, error) {
	if p.Interval <= 0 {
		p.Interval = DefaultInterval
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.Sleep == nil {
		p.Sleep = Sleep
	}

	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		if err := p.Sleep(ctx, p.Interval); err != nil {
			return "", err
		}
		res, err := check(ctx)
		if err != nil {
			return "", err
		}
		switch Status(strings.ToUpper(string(res.Status))) {
		case StatusSucceeded:
			if strings.TrimSpace(res.URL) == "" {
				return "", &providers.TransportError{Provider: p.Provider, Message: "no image url in result"}
			}
			return res.URL, nil
		case StatusFailed:
			msg := res.Message
			if strings.TrimSpace(msg) == "" {
				msg = "image generation failed"
			}
			return "", &providers.TransportError{Provider: p.Provider, Message: msg}
		}
	}
	return "", fmt.Errorf("%w after %d attempts", providers.ErrTimeout, p.MaxAttempts)
}

func Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
