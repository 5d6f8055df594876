package fanout

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const pingInterval = 30 * time.Second

// welcomeFrame is the first frame every subscriber receives.
type welcomeFrame struct {
	Type string `json:"type"`
}

// Server upgrades HTTP requests to WebSocket subscriptions and streams every
// bus record to them. Delivery is fire-and-forget: a failed write drops the
// socket from the active set with no retry.
type Server struct {
	bus *LocalBus
	log *slog.Logger

	mu     sync.Mutex
	active int
	wg     sync.WaitGroup
}

// NewServer creates a fanout server reading from the local bus.
func NewServer(bus *LocalBus, log *slog.Logger) *Server {
	return &Server{
		bus: bus,
		log: log.With("component", "fanout"),
	}
}

// ActiveConnections returns the number of connected live subscribers.
func (s *Server) ActiveConnections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// ServeHTTP handles one live subscription for the lifetime of the socket.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.log.Warn("WebSocket accept failed", "error", err)
		return
	}

	ctx := r.Context()
	if err := wsjson.Write(ctx, conn, welcomeFrame{Type: "connected"}); err != nil {
		conn.Close(websocket.StatusProtocolError, "welcome failed")
		return
	}

	records, cancel := s.bus.Subscribe()
	defer cancel()

	s.mu.Lock()
	s.active++
	count := s.active
	s.mu.Unlock()
	s.log.Info("Live subscriber connected", "subscribers", count)

	s.wg.Add(1)
	defer s.wg.Done()
	defer s.disconnect(conn)

	pings := time.NewTicker(pingInterval)
	defer pings.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case record := <-records:
			if err := wsjson.Write(ctx, conn, record); err != nil {
				s.log.Debug("Subscriber write failed, dropping socket", "error", err)
				return
			}
		case <-pings.C:
			pingCtx, pingCancel := context.WithTimeout(ctx, 10*time.Second)
			err := conn.Ping(pingCtx)
			pingCancel()
			if err != nil {
				s.log.Debug("Subscriber ping failed, dropping socket", "error", err)
				return
			}
		}
	}
}

func (s *Server) disconnect(conn *websocket.Conn) {
	conn.Close(websocket.StatusNormalClosure, "closing")
	s.mu.Lock()
	s.active--
	count := s.active
	s.mu.Unlock()
	s.log.Info("Live subscriber disconnected", "subscribers", count)
}

// Wait blocks until every subscriber handler has returned.
func (s *Server) Wait() {
	s.wg.Wait()
}
