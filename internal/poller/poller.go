package poller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"alpha-arena-prompt/internal/cache"
	"alpha-arena-prompt/internal/config"
	"alpha-arena-prompt/internal/models"
	"alpha-arena-prompt/internal/nof1"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// ErrBusy is returned by TryPoll while another poll is in flight.
// It is a "try again" signal, not a failure.
var ErrBusy = errors.New("poll already in flight")

const pollKey = "trades"

// Result describes one completed poll.
type Result struct {
	// Fetched is the number of records the upstream returned.
	Fetched   int
	NewTrades []models.Trade
	At        time.Time
}

// Option configures a Poller.
type Option func(*Poller)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(p *Poller) { p.now = now }
}

// WithFetchLimit sets the limit parameter sent upstream. 0 omits it.
func WithFetchLimit(limit int) Option {
	return func(p *Poller) { p.fetchLimit = limit }
}

// Poller fetches trades on a fixed interval and feeds them into the cache.
// At most one fetch is in flight at any time.
type Poller struct {
	client     nof1.ClientInterface
	cache      *cache.TradeCache
	logger     *zap.Logger
	interval   time.Duration
	fetchLimit int
	now        func() time.Time

	group    singleflight.Group
	inFlight atomic.Bool

	mu        sync.Mutex
	baseCtx   context.Context
	cancel    context.CancelFunc
	cron      *cron.Cron
	wg        sync.WaitGroup
	listeners []func(Result)
}

// New creates a Poller. Intervals below the configured floor are raised to it.
func New(client nof1.ClientInterface, tradeCache *cache.TradeCache, logger *zap.Logger, interval time.Duration, opts ...Option) *Poller {
	if floor := config.MinPollIntervalSeconds * time.Second; interval < floor {
		interval = floor
	}
	p := &Poller{
		client:   client,
		cache:    tradeCache,
		logger:   logger.Named("poller"),
		interval: interval,
		now:      time.Now,
		baseCtx:  context.Background(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Interval returns the effective poll interval.
func (p *Poller) Interval() time.Duration {
	return p.interval
}

// InFlight reports whether a poll is currently running.
func (p *Poller) InFlight() bool {
	return p.inFlight.Load()
}

// OnPoll registers fn to be called after every successful poll.
// fn runs on the polling goroutine and must not block.
func (p *Poller) OnPoll(fn func(Result)) {
	p.mu.Lock()
	p.listeners = append(p.listeners, fn)
	p.mu.Unlock()
}

// Poll runs a poll, or joins the one already in flight and returns its
// result. ctx bounds only the wait; the shared fetch is bounded by the
// client timeout and by Stop.
func (p *Poller) Poll(ctx context.Context) (Result, error) {
	ch := p.group.DoChan(pollKey, func() (interface{}, error) {
		return p.pollOnce()
	})

	select {
	case res := <-ch:
		return res.Val.(Result), res.Err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// TryPoll runs a poll unless one is already in flight, in which case it
// returns ErrBusy immediately.
func (p *Poller) TryPoll(ctx context.Context) (Result, error) {
	if p.inFlight.Load() {
		return Result{}, ErrBusy
	}
	return p.Poll(ctx)
}

func (p *Poller) pollOnce() (Result, error) {
	p.inFlight.Store(true)
	defer p.inFlight.Store(false)

	p.mu.Lock()
	ctx := p.baseCtx
	p.mu.Unlock()

	p.cache.MarkStarted(p.now())
	trades, err := p.client.FetchTrades(ctx, p.fetchLimit)
	completed := p.now()
	if err != nil {
		p.cache.RecordFailure(err, completed)
		p.logger.Warn("Poll failed", zap.Error(err))
		return Result{At: completed}, fmt.Errorf("poll failed: %w", err)
	}

	fresh := p.cache.Update(trades, completed)
	res := Result{Fetched: len(trades), NewTrades: fresh, At: completed}
	p.logger.Info("Poll complete",
		zap.Int("fetched", res.Fetched),
		zap.Int("new", len(fresh)),
	)
	p.notify(res)
	return res, nil
}

func (p *Poller) notify(res Result) {
	p.mu.Lock()
	listeners := append([]func(Result){}, p.listeners...)
	p.mu.Unlock()
	for _, fn := range listeners {
		fn(res)
	}
}

// Start polls once immediately and then on every interval until Stop is
// called or ctx is cancelled. A timer fire that lands while a poll is in
// flight is skipped.
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cron != nil {
		return errors.New("poller already started")
	}

	baseCtx, cancel := context.WithCancel(ctx)
	cronLog := cronLogger{log: p.logger.Sugar()}
	c := cron.New(
		cron.WithLogger(cronLog),
		cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)),
	)
	schedule := fmt.Sprintf("@every %s", p.interval)
	if _, err := c.AddFunc(schedule, func() { p.tick(baseCtx) }); err != nil {
		cancel()
		return fmt.Errorf("failed to schedule poll %q: %w", schedule, err)
	}

	p.baseCtx = baseCtx
	p.cancel = cancel
	p.cron = c
	c.Start()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.tick(baseCtx)
	}()

	p.logger.Info("Poller started", zap.Duration("interval", p.interval))
	return nil
}

func (p *Poller) tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if _, err := p.TryPoll(ctx); errors.Is(err, ErrBusy) {
		p.logger.Debug("Poll already in flight, skipping tick")
	}
}

// Stop stops the schedule and waits for a running poll to return.
func (p *Poller) Stop() {
	p.mu.Lock()
	c, cancel := p.cron, p.cancel
	p.cron, p.cancel = nil, nil
	p.baseCtx = context.Background()
	p.mu.Unlock()

	if c == nil {
		return
	}
	cancel()
	<-c.Stop().Done()
	p.wg.Wait()
	p.logger.Info("Poller stopped")
}

// cronLogger adapts zap to cron.Logger. Scheduler chatter goes to debug.
type cronLogger struct {
	log *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Errorw(msg, append(keysAndValues, "error", err)...)
}
