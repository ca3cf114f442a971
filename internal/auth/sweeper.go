// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 StoreAuth Contributors

package auth

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/samber/oops"
)

// DefaultSweepInterval is how often the Sweeper removes expired rows.
const DefaultSweepInterval = 10 * time.Minute

// ExpirySweeper is the part of Service the Sweeper drives.
type ExpirySweeper interface {
	SweepExpired(ctx context.Context) (SweepResult, error)
}

// Sweeper periodically deletes expired sessions and reset requests.
type Sweeper struct {
	target   ExpirySweeper
	interval time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	lastRun time.Time
	lastErr error
}

// NewSweeper creates a Sweeper. A non-positive interval selects
// DefaultSweepInterval.
func NewSweeper(target ExpirySweeper, interval time.Duration, logger *slog.Logger) (*Sweeper, error) {
	if target == nil {
		return nil, oops.Code("SWEEPER_INVALID").Errorf("sweep target is required")
	}
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{target: target, interval: interval, logger: logger}, nil
}

// RunOnce executes a single sweep cycle.
func (w *Sweeper) RunOnce(ctx context.Context) (SweepResult, error) {
	result, err := w.target.SweepExpired(ctx)

	w.mu.Lock()
	w.lastRun = time.Now()
	w.lastErr = err
	w.mu.Unlock()

	if err != nil {
		return result, err
	}
	if result.Sessions > 0 || result.Resets > 0 {
		w.logger.InfoContext(ctx, "swept expired records",
			"sessions", result.Sessions,
			"resets", result.Resets)
	}
	return result, nil
}

// Start begins periodic sweeping. It runs one cycle immediately.
func (w *Sweeper) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel != nil {
		return
	}
	ctx, w.cancel = context.WithCancel(ctx)
	w.wg.Add(1)
	go w.run(ctx)
}

// Stop stops the sweeper and waits for the running cycle to finish.
func (w *Sweeper) Stop() {
	w.mu.Lock()
	cancel := w.cancel
	w.cancel = nil
	w.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	w.wg.Wait()
}

// Healthy reports whether the most recent cycle succeeded. A sweeper that
// has not run yet is healthy.
func (w *Sweeper) Healthy() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastErr == nil
}

// LastRun returns when the most recent cycle finished.
func (w *Sweeper) LastRun() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastRun
}

func (w *Sweeper) run(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.cycle(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.cycle(ctx)
		}
	}
}

func (w *Sweeper) cycle(ctx context.Context) {
	if _, err := w.RunOnce(ctx); err != nil && ctx.Err() == nil {
		w.logger.ErrorContext(ctx, "sweep cycle failed", "error", err)
	}
}
