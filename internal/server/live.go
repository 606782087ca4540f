package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/raphaelgruber/vserve/internal/models"
)

const (
	liveWriteTimeout = 10 * time.Second
	livePingInterval = 10 * time.Second
	livePongWait     = 2 * livePingInterval
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// liveFrame is one message on the ticket feed.
type liveFrame struct {
	Type    string       `json:"type"` // "snapshot" or "error"
	Tickets []ticketView `json:"tickets,omitempty"`
	Error   string       `json:"error,omitempty"`
}

// handleLiveTickets streams the caller's visible tickets over a websocket.
// Every change to the collection sends a full snapshot; a slow reader only
// ever receives the latest one.
func (s *Server) handleLiveTickets(w http.ResponseWriter, r *http.Request) {
	up := upgrader
	up.CheckOrigin = s.checkOrigin

	conn, err := up.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	connID := uuid.NewString()
	logger := scopeFrom(r).Logger().With("conn_id", connID)
	ctx := r.Context()

	latest := make(chan liveFrame, 1)
	var mu sync.Mutex
	publish := func(f liveFrame) {
		mu.Lock()
		defer mu.Unlock()
		// Replace any undelivered frame with the newer one.
		select {
		case <-latest:
		default:
		}
		latest <- f
	}

	unsub, err := s.tickets.Watch(ctx, scopeFrom(r),
		func(list []models.Ticket) {
			publish(liveFrame{Type: "snapshot", Tickets: viewTickets(list, s.tickets.Now())})
		},
		func(err error) {
			logger.Warn("live ticket feed error", "error", err)
			publish(liveFrame{Type: "error", Error: err.Error()})
		})
	if err != nil {
		_ = conn.WriteJSON(liveFrame{Type: "error", Error: err.Error()})
		return
	}
	defer unsub()
	logger.Info("live ticket feed opened")

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(livePongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(livePongWait))
		})
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(livePingInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-closed:
			logger.Info("live ticket feed closed")
			return
		case f := <-latest:
			_ = conn.SetWriteDeadline(time.Now().Add(liveWriteTimeout))
			if err := conn.WriteJSON(f); err != nil {
				logger.Debug("live ticket write failed", "error", err)
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(liveWriteTimeout)); err != nil {
				return
			}
		}
	}
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, o := range s.origins {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}
