package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of a position.
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// ParseSide normalises an upstream side value. Unknown values are kept
// lower-cased so that additive upstream changes do not drop records.
func ParseSide(s string) Side {
	switch v := strings.ToLower(strings.TrimSpace(s)); v {
	case "long", "buy":
		return SideLong
	case "short", "sell":
		return SideShort
	default:
		return Side(v)
	}
}

// KnownSymbols is the coin set traded in the arena.
var KnownSymbols = []string{"BTC", "ETH", "SOL", "BNB", "DOGE", "XRP"}

// IsKnownSymbol reports whether symbol is one of KnownSymbols.
func IsKnownSymbol(symbol string) bool {
	for _, s := range KnownSymbols {
		if strings.EqualFold(s, symbol) {
			return true
		}
	}
	return false
}

// Trade is one executed fill reported by the upstream platform.
// A Trade is never modified after it has been received.
type Trade struct {
	ID              string              `json:"id"`
	ModelID         string              `json:"model_id"`
	Symbol          string              `json:"symbol"`
	Side            Side                `json:"side"`
	EntryPrice      decimal.Decimal     `json:"entry_price"`
	ExitPrice       decimal.NullDecimal `json:"exit_price"`
	Quantity        decimal.Decimal     `json:"quantity"`
	Leverage        int                 `json:"leverage"`
	EntryTime       time.Time           `json:"entry_time"`
	ExitTime        *time.Time          `json:"exit_time,omitempty"`
	EntryOrderID    string              `json:"entry_oid,omitempty"`
	ExitOrderID     string              `json:"exit_oid,omitempty"`
	RealizedNetPnL  decimal.Decimal     `json:"realized_net_pnl"`
	TotalCommission decimal.Decimal     `json:"total_commission_dollars"`
	Confidence      decimal.NullDecimal `json:"confidence"`
	ProfitTarget    decimal.NullDecimal `json:"profit_target"`
	StopLoss        decimal.NullDecimal `json:"stop_loss"`
}

// IsOpen reports whether the position has not been closed yet.
func (t Trade) IsOpen() bool {
	return t.ExitTime == nil && !t.ExitPrice.Valid
}

// DisplayTime is the instant the viewer sorts by: entry time, or exit time
// when the entry time is unknown.
func (t Trade) DisplayTime() time.Time {
	if !t.EntryTime.IsZero() {
		return t.EntryTime
	}
	if t.ExitTime != nil {
		return *t.ExitTime
	}
	return time.Time{}
}
