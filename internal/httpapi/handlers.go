package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/stratrun/stratrun/internal/journal"
)

const (
	defaultTradeLimit = 50
	maxTradeLimit     = 500
	wsWriteWait       = 10 * time.Second
	wsPingPeriod      = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

type errorResponse struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	RequestID string `json:"request_id"`
}

type healthResponse struct {
	Status        string `json:"status"`
	State         string `json:"state"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("Response encoding failed")
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	s.writeJSON(w, status, errorResponse{
		Error:     http.StatusText(status),
		Message:   message,
		RequestID: requestID(r),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	s.writeJSON(w, http.StatusOK, healthResponse{
		Status:        "ok",
		State:         string(s.engine.State()),
		UptimeSeconds: int64(time.Since(s.started).Seconds()),
	})
}

func (s *Server) handlePortfolio(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.engine.PortfolioSnapshot())
}

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	limit := defaultTradeLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			s.writeError(w, r, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		if n > maxTradeLimit {
			n = maxTradeLimit
		}
		limit = n
	}

	rows, err := s.journal.Recent(r.Context(), limit)
	if err != nil {
		log.Error().Err(err).Msg("Trade journal query failed")
		s.writeError(w, r, http.StatusInternalServerError, "trade journal unavailable")
		return
	}
	if rows == nil {
		rows = []journal.Row{}
	}
	s.writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Pause(); err != nil {
		s.writeError(w, r, http.StatusConflict, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"state": string(s.engine.State())})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Resume(); err != nil {
		s.writeError(w, r, http.StatusConflict, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"state": string(s.engine.State())})
}

func (s *Server) handleKill(w http.ResponseWriter, r *http.Request) {
	s.engine.KillSwitch()
	s.writeJSON(w, http.StatusAccepted, map[string]string{"state": "flattening"})
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	s.writeError(w, r, http.StatusNotFound, "no such endpoint")
}

// handleTradeStream upgrades to a websocket and pushes every executed trade
// until the client disconnects.
func (s *Server) handleTradeStream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("Websocket upgrade failed")
		return
	}
	defer conn.Close()

	trades, cancel := s.engine.Bus.Subscribe()
	defer cancel()

	// Reader goroutine only to observe the close handshake.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	for {
		select {
		case trade, ok := <-trades:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(trade); err != nil {
				log.Debug().Err(err).Msg("Websocket write failed, dropping client")
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-closed:
			return
		case <-r.Context().Done():
			return
		}
	}
}
