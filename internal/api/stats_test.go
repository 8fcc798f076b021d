package api

import (
	"testing"
	"time"

	"alpha-arena-prompt/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeStats(t *testing.T) {
	now := time.Date(2025, 10, 21, 12, 0, 0, 0, time.UTC)
	recent := now.Add(-time.Hour)
	old := now.Add(-48 * time.Hour)

	closed := func(id, model string, pnl string, exit time.Time) models.Trade {
		return models.Trade{
			ID:              id,
			ModelID:         model,
			RealizedNetPnL:  decimal.RequireFromString(pnl),
			TotalCommission: decimal.RequireFromString("1.5"),
			ExitTime:        &exit,
		}
	}

	trades := []models.Trade{
		closed("a", "gpt-5", "100", recent),
		closed("b", "gpt-5", "-40", old),
		closed("c", "claude", "25.5", recent),
		{ID: "open", ModelID: "claude"},
	}

	stats := computeStats(trades, now)

	assert.Equal(t, 1, stats.OpenTrades)
	assert.Equal(t, int64(3), stats.Window.TotalTrades)
	assert.Equal(t, int64(2), stats.Window.ProfitableTrades)
	assert.InDelta(t, 2.0/3.0, stats.Window.WinRate, 1e-9)
	assert.Equal(t, "85.5", stats.Window.TotalProfit.String())
	assert.Equal(t, "4.5", stats.Window.TotalCommission.String())

	assert.Equal(t, int64(2), stats.Since24h.TotalTrades)
	assert.Equal(t, 1.0, stats.Since24h.WinRate)

	require.Len(t, stats.ByModel, 2)
	assert.Equal(t, "claude", stats.ByModel[0].ModelID)
	assert.Equal(t, int64(1), stats.ByModel[0].TotalTrades)
	assert.Equal(t, "gpt-5", stats.ByModel[1].ModelID)
	assert.Equal(t, 0.5, stats.ByModel[1].WinRate)
}

func TestComputeStats_Empty(t *testing.T) {
	stats := computeStats(nil, time.Now())
	assert.Zero(t, stats.Window.TotalTrades)
	assert.Zero(t, stats.Window.WinRate)
	assert.NotNil(t, stats.ByModel)
}
