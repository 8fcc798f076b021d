package api

import (
	"context"
	"errors"

	"alpha-arena-prompt/internal/cache"
	"alpha-arena-prompt/internal/models"
	"alpha-arena-prompt/internal/poller"
	"go.uber.org/zap"
)

// Service is the read/trigger facade the viewer talks to. It never mutates
// trade data itself.
type Service struct {
	cache  *cache.TradeCache
	poller *poller.Poller
	logger *zap.Logger
}

// NewService creates a new Service.
func NewService(tradeCache *cache.TradeCache, p *poller.Poller, logger *zap.Logger) *Service {
	return &Service{cache: tradeCache, poller: p, logger: logger.Named("service")}
}

// GetLatest returns the current window. It never performs network I/O.
func (s *Service) GetLatest() cache.Snapshot {
	return s.cache.Snapshot()
}

// TriggerPoll forces a poll and returns the resulting snapshot. With wait
// set, a poll already in flight is joined; otherwise poller.ErrBusy is
// returned alongside the current snapshot.
//
// An upstream failure is not an error here: it shows up in the snapshot's
// outcome, and the window is left as it was.
func (s *Service) TriggerPoll(ctx context.Context, wait bool) (cache.Snapshot, error) {
	var err error
	if wait {
		_, err = s.poller.Poll(ctx)
	} else {
		_, err = s.poller.TryPoll(ctx)
	}

	switch {
	case errors.Is(err, poller.ErrBusy):
		return s.cache.Snapshot(), poller.ErrBusy
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		if ctx.Err() != nil {
			return s.cache.Snapshot(), ctx.Err()
		}
	case err != nil:
		s.logger.Debug("Manual poll failed", zap.Error(err))
	}
	return s.cache.Snapshot(), nil
}

// OnNewTrades registers fn for every successful poll that found new trades.
func (s *Service) OnNewTrades(fn func([]models.Trade)) {
	s.poller.OnPoll(func(res poller.Result) {
		if len(res.NewTrades) > 0 {
			fn(res.NewTrades)
		}
	})
}

// Poller exposes the underlying poller for status reporting.
func (s *Service) Poller() *poller.Poller {
	return s.poller
}
