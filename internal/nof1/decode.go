package nof1

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"alpha-arena-prompt/internal/models"
	"github.com/shopspring/decimal"
)

// humanTimeLayouts are the layouts seen in the *_human_time fields.
var humanTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05.999999",
}

// tradePayload is one trade as the upstream serialises it. Field names vary
// between API revisions, hence the aliases.
type tradePayload struct {
	ID              flexString          `json:"id"`
	TradeID         flexString          `json:"trade_id"`
	ModelID         flexString          `json:"model_id"`
	Symbol          string              `json:"symbol"`
	Side            string              `json:"side"`
	EntryPrice      decimal.NullDecimal `json:"entry_price"`
	ExitPrice       decimal.NullDecimal `json:"exit_price"`
	Quantity        decimal.NullDecimal `json:"quantity"`
	Leverage        decimal.NullDecimal `json:"leverage"`
	EntryTime       flexTime            `json:"entry_time"`
	EntryHumanTime  flexTime            `json:"entry_human_time"`
	ExitTime        flexTime            `json:"exit_time"`
	ExitHumanTime   flexTime            `json:"exit_human_time"`
	EntryOrderID    flexString          `json:"entry_oid"`
	ExitOrderID     flexString          `json:"exit_oid"`
	RealizedNetPnL  decimal.NullDecimal `json:"realized_net_pnl"`
	TotalCommission decimal.NullDecimal `json:"total_commission_dollars"`
	Confidence      decimal.NullDecimal `json:"confidence"`
	ExitPlan        *struct {
		ProfitTarget decimal.NullDecimal `json:"profit_target"`
		StopLoss     decimal.NullDecimal `json:"stop_loss"`
	} `json:"exit_plan"`
}

// decodeTrades accepts either a bare JSON array or the {"trades": [...]}
// envelope. Records that cannot be decoded or carry no identifier are
// skipped and counted.
func decodeTrades(body []byte) ([]models.Trade, int, error) {
	raw, err := unwrapTrades(body)
	if err != nil {
		return nil, 0, err
	}

	trades := make([]models.Trade, 0, len(raw))
	skipped := 0
	for _, item := range raw {
		var p tradePayload
		if err := json.Unmarshal(item, &p); err != nil {
			skipped++
			continue
		}
		trade, ok := p.toTrade()
		if !ok {
			skipped++
			continue
		}
		trades = append(trades, trade)
	}
	return trades, skipped, nil
}

func unwrapTrades(body []byte) ([]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: empty body", ErrMalformedResponse)
	}

	var raw []json.RawMessage
	switch trimmed[0] {
	case '[':
		if err := json.Unmarshal(trimmed, &raw); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrMalformedResponse, err)
		}
	case '{':
		var envelope struct {
			Trades *[]json.RawMessage `json:"trades"`
		}
		if err := json.Unmarshal(trimmed, &envelope); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrMalformedResponse, err)
		}
		if envelope.Trades == nil {
			return nil, fmt.Errorf("%w: missing trades array", ErrMalformedResponse)
		}
		raw = *envelope.Trades
	default:
		return nil, fmt.Errorf("%w: unexpected payload starting with %q", ErrMalformedResponse, trimmed[0])
	}
	return raw, nil
}

func (p tradePayload) toTrade() (models.Trade, bool) {
	id := p.ID.String()
	if id == "" {
		id = p.TradeID.String()
	}
	if id == "" {
		return models.Trade{}, false
	}

	t := models.Trade{
		ID:              id,
		ModelID:         p.ModelID.String(),
		Symbol:          strings.ToUpper(strings.TrimSpace(p.Symbol)),
		Side:            models.ParseSide(p.Side),
		EntryPrice:      p.EntryPrice.Decimal,
		ExitPrice:       p.ExitPrice,
		Quantity:        p.Quantity.Decimal,
		Leverage:        int(p.Leverage.Decimal.Round(0).IntPart()),
		EntryTime:       p.EntryTime.Or(p.EntryHumanTime),
		EntryOrderID:    p.EntryOrderID.String(),
		ExitOrderID:     p.ExitOrderID.String(),
		RealizedNetPnL:  p.RealizedNetPnL.Decimal,
		TotalCommission: p.TotalCommission.Decimal,
		Confidence:      p.Confidence,
	}
	if exit := p.ExitTime.Or(p.ExitHumanTime); !exit.IsZero() {
		t.ExitTime = &exit
	}
	if p.ExitPlan != nil {
		t.ProfitTarget = p.ExitPlan.ProfitTarget
		t.StopLoss = p.ExitPlan.StopLoss
	}
	return t, true
}

// flexString decodes a JSON string or number into its textual form.
type flexString string

func (s *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*s = ""
		return nil
	}
	if data[0] == '"' {
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*s = flexString(strings.TrimSpace(v))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("flexString: %w", err)
	}
	*s = flexString(n.String())
	return nil
}

func (s flexString) String() string {
	return string(s)
}

// flexTime decodes unix seconds (number or numeric string) or a formatted
// timestamp. Unparseable values decode to the zero time.
type flexTime struct {
	time.Time
}

func (t *flexTime) UnmarshalJSON(data []byte) error {
	var s flexString
	if err := s.UnmarshalJSON(data); err != nil {
		return err
	}
	t.Time = parseTime(s.String())
	return nil
}

// Or returns t, or other when t is zero.
func (t flexTime) Or(other flexTime) time.Time {
	if !t.IsZero() {
		return t.Time
	}
	return other.Time
}

func parseTime(v string) time.Time {
	if v == "" {
		return time.Time{}
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		return unixSeconds(secs)
	}
	for _, layout := range humanTimeLayouts {
		if ts, err := time.Parse(layout, v); err == nil {
			return ts.UTC()
		}
	}
	return time.Time{}
}

func unixSeconds(secs float64) time.Time {
	if secs <= 0 || math.IsNaN(secs) || math.IsInf(secs, 0) {
		return time.Time{}
	}
	whole, frac := math.Modf(secs)
	// microsecond precision is all the upstream carries
	nanos := math.Round(frac*1e6) * 1e3
	return time.Unix(int64(whole), int64(nanos)).UTC()
}
