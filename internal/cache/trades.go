// Package cache holds the bounded, in-memory window of the most recent trades.
package cache

import (
	"sort"
	"sync"
	"time"

	"alpha-arena-prompt/internal/models"
)

// Outcome describes the most recent poll attempts.
type Outcome struct {
	// Initialized is set after the first successful poll.
	Initialized       bool
	LastPollStarted   time.Time
	LastPollCompleted time.Time
	// LastSuccess only moves on successful polls.
	LastSuccess time.Time
	LastPollOK  bool
	LastError   string
	NewTradeIDs []string
}

// Snapshot is a read-only copy of the cache state.
type Snapshot struct {
	Trades    []models.Trade
	NewTrades []models.Trade
	Outcome   Outcome
	Limit     int
}

// TradeCache is the bounded window of the most recent trades, newest first.
//
// Published windows are never mutated; Update builds a fresh slice and swaps
// it in under the lock, so the critical section stays short.
type TradeCache struct {
	limit int

	mu        sync.RWMutex
	window    []models.Trade
	newTrades []models.Trade
	// seen holds the identifiers of the previous successful fetch.
	seen    map[string]struct{}
	outcome Outcome
}

// NewTradeCache creates an empty cache bounded to limit records.
func NewTradeCache(limit int) *TradeCache {
	if limit < 1 {
		limit = 1
	}
	return &TradeCache{
		limit: limit,
		seen:  make(map[string]struct{}),
	}
}

// Limit returns the maximum window size.
func (c *TradeCache) Limit() int {
	return c.limit
}

// MarkStarted records the start of a poll attempt.
func (c *TradeCache) MarkStarted(at time.Time) {
	c.mu.Lock()
	c.outcome.LastPollStarted = at
	c.mu.Unlock()
}

// RecordFailure records a failed poll. The window and LastSuccess are kept.
func (c *TradeCache) RecordFailure(err error, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.outcome.LastPollCompleted = at
	c.outcome.LastPollOK = false
	if err != nil {
		c.outcome.LastError = err.Error()
	} else {
		c.outcome.LastError = "unknown error"
	}
}

// Update replaces the window with the freshly fetched records and returns
// the trades whose identifiers were absent from the previous fetch, newest
// first. Duplicate identifiers keep their first occurrence.
func (c *TradeCache) Update(records []models.Trade, at time.Time) []models.Trade {
	ids := make(map[string]struct{}, len(records))
	unique := make([]models.Trade, 0, len(records))
	for _, r := range records {
		if _, dup := ids[r.ID]; dup {
			continue
		}
		ids[r.ID] = struct{}{}
		unique = append(unique, r)
	}
	sortNewestFirst(unique)

	window := unique
	if len(window) > c.limit {
		window = window[:c.limit:c.limit]
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var fresh []models.Trade
	newIDs := make([]string, 0)
	for _, r := range unique {
		if _, known := c.seen[r.ID]; known {
			continue
		}
		fresh = append(fresh, r)
		newIDs = append(newIDs, r.ID)
	}
	shown := fresh
	if len(shown) > c.limit {
		shown = shown[:c.limit:c.limit]
	}

	c.window = window
	c.newTrades = shown
	c.seen = ids
	c.outcome.Initialized = true
	c.outcome.LastPollCompleted = at
	c.outcome.LastSuccess = at
	c.outcome.LastPollOK = true
	c.outcome.LastError = ""
	c.outcome.NewTradeIDs = newIDs

	return append([]models.Trade(nil), fresh...)
}

// Snapshot returns a copy of the current window and poll outcome.
func (c *TradeCache) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	outcome := c.outcome
	outcome.NewTradeIDs = append([]string(nil), c.outcome.NewTradeIDs...)
	return Snapshot{
		Trades:    append([]models.Trade(nil), c.window...),
		NewTrades: append([]models.Trade(nil), c.newTrades...),
		Outcome:   outcome,
		Limit:     c.limit,
	}
}

// sortNewestFirst orders trades by display time descending. Trades without
// a time go last; ties keep upstream order.
func sortNewestFirst(trades []models.Trade) {
	sort.SliceStable(trades, func(i, j int) bool {
		ti, tj := trades[i].DisplayTime(), trades[j].DisplayTime()
		if ti.IsZero() != tj.IsZero() {
			return !ti.IsZero()
		}
		return ti.After(tj)
	})
}
