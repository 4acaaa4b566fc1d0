package pager

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ErrStop is returned by Pacer.Wait once the pacing strategy gives up.
var ErrStop = errors.New("pacing budget exhausted")

// SleepFunc blocks for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Pacer inserts the delay between two calls against the same provider.
type Pacer struct {
	strategy backoff.BackOff
	sleep    SleepFunc
}

// NewPacer returns a pacer with a constant delay between calls.
func NewPacer(delay time.Duration) *Pacer {
	return NewPacerWithBackOff(backoff.NewConstantBackOff(delay), nil)
}

// NewPacerWithBackOff uses strategy to compute each delay. A nil sleep
// uses a context-aware timer.
func NewPacerWithBackOff(strategy backoff.BackOff, sleep SleepFunc) *Pacer {
	if sleep == nil {
		sleep = Sleep
	}
	return &Pacer{strategy: strategy, sleep: sleep}
}

// Wait blocks for the next delay.
func (p *Pacer) Wait(ctx context.Context) error {
	if p == nil || p.strategy == nil {
		return nil
	}
	d := p.strategy.NextBackOff()
	if d == backoff.Stop {
		return ErrStop
	}
	if d <= 0 {
		return ctx.Err()
	}
	return p.sleep(ctx, d)
}

// Reset restarts the underlying strategy.
func (p *Pacer) Reset() {
	if p != nil && p.strategy != nil {
		p.strategy.Reset()
	}
}

// Sleep waits for d honoring ctx cancellation.
func Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
