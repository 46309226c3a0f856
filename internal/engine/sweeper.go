package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wolfman30/medspa-nurture/internal/session"
	"github.com/wolfman30/medspa-nurture/pkg/logging"
)

// IdleSweeper abandons Active sessions that have been quiet for longer than a
// caller-supplied threshold.
type IdleSweeper struct {
	engine    *Engine
	threshold time.Duration
	interval  time.Duration
	batchSize int
	logger    *logging.Logger
}

func NewIdleSweeper(engine *Engine, threshold time.Duration, logger *logging.Logger) *IdleSweeper {
	if engine == nil {
		panic("engine: engine required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &IdleSweeper{
		engine:    engine,
		threshold: threshold,
		interval:  15 * time.Minute,
		batchSize: 100,
		logger:    logger,
	}
}

func (s *IdleSweeper) WithInterval(d time.Duration) *IdleSweeper {
	if d > 0 {
		s.interval = d
	}
	return s
}

func (s *IdleSweeper) WithBatchSize(n int) *IdleSweeper {
	if n > 0 {
		s.batchSize = n
	}
	return s
}

func (s *IdleSweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		if n, err := s.SweepOnce(ctx); err != nil {
			s.logger.Error("idle sweeper: sweep failed", "error", err)
		} else if n > 0 {
			s.logger.Info("idle sweeper: sessions abandoned", "count", n)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// SweepOnce abandons one batch of idle sessions and returns how many changed.
func (s *IdleSweeper) SweepOnce(ctx context.Context) (int, error) {
	if s.threshold <= 0 {
		return 0, nil
	}
	cutoff := s.engine.clock().Add(-s.threshold)
	idle, err := s.engine.store.ListIdle(ctx, cutoff, s.batchSize)
	if err != nil {
		return 0, fmt.Errorf("idle sweeper: %w", err)
	}
	abandoned := 0
	for _, sess := range idle {
		_, err := s.engine.abandonIdle(ctx, sess.OrgID, sess.ID, cutoff)
		switch {
		case err == nil:
			abandoned++
		case errors.Is(err, session.ErrInvalidSessionTransition), errors.Is(err, ErrConcurrentUpdate), errors.Is(err, errNotIdle):
			// the session moved on since it was listed
			s.logger.Debug("idle sweeper: skipped", "session_id", sess.ID, "error", err)
		default:
			s.logger.Warn("idle sweeper: abandon failed", "session_id", sess.ID, "error", err)
		}
	}
	return abandoned, nil
}
