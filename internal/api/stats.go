package api

import (
	"net/http"
	"sort"
	"time"

	"alpha-arena-prompt/internal/models"
	"github.com/shopspring/decimal"
)

// StatsDetail holds calculated statistics for a set of closed trades.
type StatsDetail struct {
	TotalTrades      int64           `json:"total_trades"`
	ProfitableTrades int64           `json:"profitable_trades"`
	WinRate          float64         `json:"win_rate"`
	TotalProfit      decimal.Decimal `json:"total_profit"`
	TotalCommission  decimal.Decimal `json:"total_commission"`
}

// ModelStats is StatsDetail for one model.
type ModelStats struct {
	ModelID string `json:"model_id"`
	StatsDetail
}

// StatisticsResponse is the structure for the /api/trades/stats endpoint.
// Figures cover only the trades currently held in the window.
type StatisticsResponse struct {
	Since24h   StatsDetail  `json:"since_24h"`
	Window     StatsDetail  `json:"window"`
	OpenTrades int          `json:"open_trades"`
	ByModel    []ModelStats `json:"by_model"`
}

func (d *StatsDetail) add(t models.Trade) {
	d.TotalTrades++
	if t.RealizedNetPnL.IsPositive() {
		d.ProfitableTrades++
	}
	d.TotalProfit = d.TotalProfit.Add(t.RealizedNetPnL)
	d.TotalCommission = d.TotalCommission.Add(t.TotalCommission)
}

func (d *StatsDetail) finish() {
	if d.TotalTrades > 0 {
		d.WinRate = float64(d.ProfitableTrades) / float64(d.TotalTrades)
	}
}

// computeStats aggregates closed trades in the window. Open positions are
// only counted.
func computeStats(trades []models.Trade, now time.Time) StatisticsResponse {
	since24h := now.Add(-24 * time.Hour)

	var resp StatisticsResponse
	byModel := make(map[string]*StatsDetail)
	for _, trade := range trades {
		if trade.IsOpen() {
			resp.OpenTrades++
			continue
		}

		resp.Window.add(trade)
		if closedAt := trade.ExitTime; closedAt != nil && closedAt.After(since24h) {
			resp.Since24h.add(trade)
		}

		m, ok := byModel[trade.ModelID]
		if !ok {
			m = &StatsDetail{}
			byModel[trade.ModelID] = m
		}
		m.add(trade)
	}

	resp.Window.finish()
	resp.Since24h.finish()
	resp.ByModel = make([]ModelStats, 0, len(byModel))
	for id, m := range byModel {
		m.finish()
		resp.ByModel = append(resp.ByModel, ModelStats{ModelID: id, StatsDetail: *m})
	}
	sort.Slice(resp.ByModel, func(i, j int) bool {
		return resp.ByModel[i].ModelID < resp.ByModel[j].ModelID
	})
	return resp
}

// statsHandler calculates and returns statistics over the cached window.
func (s *Server) statsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	s.writeJSON(w, http.StatusOK, computeStats(s.service.GetLatest().Trades, time.Now()))
}
