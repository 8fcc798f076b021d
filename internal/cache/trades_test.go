package cache

import (
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"alpha-arena-prompt/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2025, 10, 20, 12, 0, 0, 0, time.UTC)

// trade builds a record whose entry time grows with seq.
func trade(id string, seq int) models.Trade {
	return models.Trade{ID: id, Symbol: "BTC", EntryTime: base.Add(time.Duration(seq) * time.Minute)}
}

func ids(trades []models.Trade) []string {
	out := make([]string, 0, len(trades))
	for _, t := range trades {
		out = append(out, t.ID)
	}
	return out
}

func TestNewTradeCache_Empty(t *testing.T) {
	c := NewTradeCache(0)
	assert.Equal(t, 1, c.Limit())

	snap := c.Snapshot()
	assert.Empty(t, snap.Trades)
	assert.Empty(t, snap.NewTrades)
	assert.False(t, snap.Outcome.Initialized)
	assert.True(t, snap.Outcome.LastSuccess.IsZero())
}

func TestUpdate_NewSincePreviousPoll(t *testing.T) {
	c := NewTradeCache(10)

	fresh := c.Update([]models.Trade{trade("t1", 1)}, base)
	assert.Equal(t, []string{"t1"}, ids(fresh))
	snap := c.Snapshot()
	assert.Equal(t, []string{"t1"}, ids(snap.Trades))
	assert.Equal(t, []string{"t1"}, snap.Outcome.NewTradeIDs)
	assert.True(t, snap.Outcome.Initialized)

	fresh = c.Update([]models.Trade{trade("t1", 1), trade("t2", 2)}, base.Add(time.Minute))
	assert.Equal(t, []string{"t2"}, ids(fresh))
	snap = c.Snapshot()
	assert.Equal(t, []string{"t2", "t1"}, ids(snap.Trades))
	assert.Equal(t, []string{"t2"}, snap.Outcome.NewTradeIDs)
	assert.Equal(t, []string{"t2"}, ids(snap.NewTrades))

	fresh = c.Update([]models.Trade{trade("t1", 1), trade("t2", 2)}, base.Add(2*time.Minute))
	assert.Empty(t, fresh)
	assert.Empty(t, c.Snapshot().Outcome.NewTradeIDs)
}

func TestUpdate_BoundedWindow(t *testing.T) {
	c := NewTradeCache(2)

	var all []models.Trade
	for i := 1; i <= 3; i++ {
		all = append(all, trade(fmt.Sprintf("t%d", i), i))
		fresh := c.Update(all, base.Add(time.Duration(i)*time.Minute))
		assert.Equal(t, []string{fmt.Sprintf("t%d", i)}, ids(fresh))
	}

	assert.Equal(t, []string{"t3", "t2"}, ids(c.Snapshot().Trades))
}

func TestUpdate_NeverExceedsLimit(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for limit := 1; limit <= 5; limit++ {
		c := NewTradeCache(limit)
		for poll := 0; poll < 20; poll++ {
			n := rng.Intn(12)
			batch := make([]models.Trade, 0, n)
			for i := 0; i < n; i++ {
				batch = append(batch, trade(fmt.Sprintf("t%d", rng.Intn(15)), rng.Intn(100)))
			}
			c.Update(batch, base)
			snap := c.Snapshot()
			require.LessOrEqual(t, len(snap.Trades), limit)

			seen := map[string]bool{}
			for _, tr := range snap.Trades {
				require.False(t, seen[tr.ID], "duplicate id %s", tr.ID)
				seen[tr.ID] = true
			}
		}
	}
}

func TestUpdate_NewSetIsExactDifference(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	c := NewTradeCache(100)
	previous := map[string]bool{}

	for poll := 0; poll < 30; poll++ {
		current := map[string]bool{}
		var batch []models.Trade
		n := rng.Intn(10)
		for i := 0; i < n; i++ {
			id := fmt.Sprintf("t%d", rng.Intn(20))
			current[id] = true
			batch = append(batch, trade(id, rng.Intn(100)))
		}

		fresh := c.Update(batch, base)

		want := map[string]bool{}
		for id := range current {
			if !previous[id] {
				want[id] = true
			}
		}
		got := map[string]bool{}
		for _, id := range ids(fresh) {
			got[id] = true
		}
		require.Equal(t, want, got)
		previous = current
	}
}

func TestUpdate_DuplicatesKeepFirstOccurrence(t *testing.T) {
	c := NewTradeCache(10)
	first := trade("dup", 1)
	first.ModelID = "first"
	second := trade("dup", 5)
	second.ModelID = "second"

	fresh := c.Update([]models.Trade{first, trade("other", 2), second}, base)

	assert.Len(t, fresh, 2)
	snap := c.Snapshot()
	require.Len(t, snap.Trades, 2)
	assert.Equal(t, []string{"other", "dup"}, ids(snap.Trades))
	assert.Equal(t, "first", snap.Trades[1].ModelID)
}

func TestUpdate_EmptyResponseClearsWindow(t *testing.T) {
	c := NewTradeCache(10)
	c.Update([]models.Trade{trade("t1", 1)}, base)

	fresh := c.Update(nil, base.Add(time.Minute))

	assert.Empty(t, fresh)
	snap := c.Snapshot()
	assert.Empty(t, snap.Trades)
	assert.True(t, snap.Outcome.LastPollOK)
}

func TestUpdate_OrderingWithoutTimes(t *testing.T) {
	c := NewTradeCache(10)
	c.Update([]models.Trade{{ID: "no-time-a"}, trade("t1", 1), {ID: "no-time-b"}, trade("t2", 2)}, base)

	assert.Equal(t, []string{"t2", "t1", "no-time-a", "no-time-b"}, ids(c.Snapshot().Trades))
}

func TestRecordFailure_KeepsWindow(t *testing.T) {
	c := NewTradeCache(10)
	c.Update([]models.Trade{trade("t1", 1)}, base)
	before := c.Snapshot()

	failedAt := base.Add(time.Minute)
	c.MarkStarted(failedAt)
	c.RecordFailure(errors.New("timeout"), failedAt)

	after := c.Snapshot()
	assert.Equal(t, before.Trades, after.Trades)
	assert.Equal(t, before.Outcome.LastSuccess, after.Outcome.LastSuccess)
	assert.False(t, after.Outcome.LastPollOK)
	assert.Equal(t, "timeout", after.Outcome.LastError)
	assert.Equal(t, failedAt, after.Outcome.LastPollCompleted)
	assert.Equal(t, failedAt, after.Outcome.LastPollStarted)

	c.Update([]models.Trade{trade("t1", 1)}, base.Add(2*time.Minute))
	recovered := c.Snapshot()
	assert.True(t, recovered.Outcome.LastPollOK)
	assert.Empty(t, recovered.Outcome.LastError)
}

func TestSnapshot_IsACopy(t *testing.T) {
	c := NewTradeCache(10)
	c.Update([]models.Trade{trade("t1", 1)}, base)

	snap := c.Snapshot()
	snap.Trades[0].ID = "mutated"
	snap.Outcome.NewTradeIDs[0] = "mutated"

	again := c.Snapshot()
	assert.Equal(t, "t1", again.Trades[0].ID)
	assert.Equal(t, "t1", again.Outcome.NewTradeIDs[0])
}

func TestConcurrentReadersAndWriter(t *testing.T) {
	c := NewTradeCache(5)
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			c.Update([]models.Trade{trade(fmt.Sprintf("t%d", i), i), trade(fmt.Sprintf("t%d", i+1), i+1)}, base)
		}
	}()

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				snap := c.Snapshot()
				assert.LessOrEqual(t, len(snap.Trades), 5)
			}
		}()
	}
	wg.Wait()
}
