package session

import (
	"context"
	"time"

	"github.com/cenkalti/backoff"
	"go.uber.org/zap"

	apperrors "github.com/pseudocoder/console/internal/errors"
)

// newBackoff returns a jitter-free exponential schedule: base, 2*base,
// 4*base, ... capped at maxDelay, with no elapsed-time limit. The attempt bound
// is enforced by the manager, not by the schedule.
func newBackoff(base, maxDelay time.Duration) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = base
	b.RandomizationFactor = 0
	b.Multiplier = 2
	b.MaxInterval = maxDelay
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// ReconnectDelay returns the delay before retry n (1-based) for the given
// base, ignoring any cap: base * 2^(n-1).
func ReconnectDelay(base time.Duration, n int) time.Duration {
	if n < 1 {
		n = 1
	}
	return base << (n - 1)
}

// scheduleReconnectLocked makes the reconnection decision after a
// transport failure. The caller holds e.mu and has already set status
// error. Once the attempt budget is spent the entry stays in error with
// Exhausted set until an explicit Connect.
func (m *Manager) scheduleReconnectLocked(e *entry) {
	m.stopReconnectLocked(e)

	limit := m.opts.MaxReconnectAttempts
	if e.status.ReconnectAttempts >= limit {
		m.exhaustLocked(e)
		return
	}

	delay := e.backoff.NextBackOff()
	if delay == backoff.Stop {
		m.exhaustLocked(e)
		return
	}

	e.status.ReconnectAttempts++
	attempt := e.status.ReconnectAttempts
	gen := e.gen
	m.metrics.RecordReconnectScheduled()
	e.log.Info("scheduling reconnect",
		zap.Int("attempt", attempt),
		zap.Int("max_attempts", limit),
		zap.Duration("delay", delay))

	e.reconnectTimer = m.afterFunc(delay, func() {
		// Errors are reported through status listeners; a failed attempt
		// schedules the next one itself.
		m.connect(context.Background(), e, true, gen)
	})
}

func (m *Manager) exhaustLocked(e *entry) {
	err := apperrors.ReconnectExhausted(string(e.key), e.status.ReconnectAttempts)
	e.status.Status = StatusError
	e.status.Error = err.Error()
	e.status.Exhausted = true
	m.metrics.RecordReconnectExhausted()
	e.log.Error("giving up on reconnection", zap.Error(err))
}

func (m *Manager) stopReconnectLocked(e *entry) {
	if e.reconnectTimer != nil {
		e.reconnectTimer.Stop()
		e.reconnectTimer = nil
	}
}
