package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"alpha-arena-prompt/internal/cache"
	"alpha-arena-prompt/internal/models"
	"alpha-arena-prompt/internal/poller"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const streamWriteTimeout = 10 * time.Second

// SnapshotResponse is the JSON form of a cache snapshot.
type SnapshotResponse struct {
	Initialized         bool           `json:"initialized"`
	PollIntervalSeconds float64        `json:"poll_interval_seconds"`
	Limit               int            `json:"limit"`
	Count               int            `json:"count"`
	LastPollStarted     *time.Time     `json:"last_poll_started"`
	LastPollCompleted   *time.Time     `json:"last_poll_completed"`
	LastSuccess         *time.Time     `json:"last_success"`
	LastPollOK          bool           `json:"last_poll_ok"`
	LastError           *string        `json:"last_error"`
	RecentTrades        []models.Trade `json:"recent_trades"`
	NewTrades           []models.Trade `json:"new_trades"`
	NewTradeIDs         []string       `json:"new_trade_ids"`
	Busy                bool           `json:"busy,omitempty"`
}

// StreamMessage is one websocket frame on /ws/trades.
type StreamMessage struct {
	Type string         `json:"type"`
	Data []models.Trade `json:"data"`
}

func (s *Server) toResponse(snap cache.Snapshot, limit int) SnapshotResponse {
	trades := snap.Trades
	if limit > 0 && limit < len(trades) {
		trades = trades[:limit]
	}
	resp := SnapshotResponse{
		Initialized:         snap.Outcome.Initialized,
		PollIntervalSeconds: s.service.Poller().Interval().Seconds(),
		Limit:               snap.Limit,
		Count:               len(trades),
		LastPollStarted:     timePtr(snap.Outcome.LastPollStarted),
		LastPollCompleted:   timePtr(snap.Outcome.LastPollCompleted),
		LastSuccess:         timePtr(snap.Outcome.LastSuccess),
		LastPollOK:          snap.Outcome.LastPollOK,
		RecentTrades:        nonNil(trades),
		NewTrades:           nonNil(snap.NewTrades),
		NewTradeIDs:         snap.Outcome.NewTradeIDs,
	}
	if resp.NewTradeIDs == nil {
		resp.NewTradeIDs = []string{}
	}
	if snap.Outcome.LastError != "" {
		msg := snap.Outcome.LastError
		resp.LastError = &msg
	}
	return resp
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func nonNil(trades []models.Trade) []models.Trade {
	if trades == nil {
		return []models.Trade{}
	}
	return trades
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to write response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

// latestHandler serves the current window. It never calls upstream.
func (s *Server) latestHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid limit %q", raw))
			return
		}
		limit = n
	}

	s.writeJSON(w, http.StatusOK, s.toResponse(s.service.GetLatest(), limit))
}

// pollHandler forces a poll. ?wait=false turns a concurrent poll into a
// 202 busy answer instead of waiting for it.
func (s *Server) pollHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	wait := true
	if raw := r.URL.Query().Get("wait"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid wait %q", raw))
			return
		}
		wait = v
	}

	snap, err := s.service.TriggerPoll(r.Context(), wait)
	switch {
	case errors.Is(err, poller.ErrBusy):
		resp := s.toResponse(snap, 0)
		resp.Busy = true
		s.writeJSON(w, http.StatusAccepted, resp)
	case err != nil:
		s.logger.Warn("Manual poll aborted", zap.Error(err))
		s.writeError(w, http.StatusGatewayTimeout, err)
	default:
		s.writeJSON(w, http.StatusOK, s.toResponse(snap, 0))
	}
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	p := s.service.Poller()
	status := struct {
		StartTime           string  `json:"start_time"`
		Uptime              string  `json:"uptime"`
		PollIntervalSeconds float64 `json:"poll_interval_seconds"`
		PollInFlight        bool    `json:"poll_in_flight"`
		StreamSubscribers   int     `json:"stream_subscribers"`
	}{
		StartTime:           s.startTime.Format(time.RFC3339),
		Uptime:              time.Since(s.startTime).Round(time.Second).String(),
		PollIntervalSeconds: p.Interval().Seconds(),
		PollInFlight:        p.InFlight(),
		StreamSubscribers:   s.trades.Len(),
	}
	s.writeJSON(w, http.StatusOK, status)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "OK")
}

// tradeStreamHandler pushes every batch of newly seen trades to the client.
func (s *Server) tradeStreamHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("Websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	sub := s.trades.Subscribe(32)
	defer s.trades.Unsubscribe(sub)

	// The read loop only exists to notice the client going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-gone:
			return
		case <-s.done:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(time.Second))
			return
		case trades, ok := <-sub.ch:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
			if err := conn.WriteJSON(StreamMessage{Type: "new_trades", Data: trades}); err != nil {
				return
			}
		}
	}
}
