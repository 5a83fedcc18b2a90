package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/afroash/envmon/internal/metrics"
	"github.com/afroash/envmon/internal/models"
)

// Constants for WebSocket timeouts
const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// checkOrigin validates the incoming request's Origin against the configured allowlist
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	// No Origin header means same-origin request
	if origin == "" {
		return true
	}

	if len(s.cfg.AllowedOrigins) == 0 {
		s.logger.Warn().Str("origin", origin).Msg("Rejected stream connection: no allowed origins configured")
		return false
	}

	for _, allowed := range s.cfg.AllowedOrigins {
		if origin == allowed {
			return true
		}
	}

	s.logger.Warn().Str("origin", origin).Msg("Rejected stream connection: origin not in allowlist")
	return false
}

// HandleStream pushes a dashboard snapshot on connect and every RefreshInterval
func (s *Server) HandleStream(w http.ResponseWriter, r *http.Request) {
	window, ok := s.window(w, r)
	if !ok {
		return
	}

	if !s.trackStream() {
		writeError(w, http.StatusServiceUnavailable, "server is shutting down")
		return
	}
	defer s.streams.Done()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to upgrade connection")
		return
	}
	metrics.StreamClients.Inc()
	defer metrics.StreamClients.Dec()

	remote := conn.RemoteAddr().String()
	logger := s.logger.With().Str("remote", remote).Str("window", string(window)).Logger()
	logger.Info().Msg("Stream client connected")
	defer logger.Info().Msg("Stream client disconnected")
	defer conn.Close()

	ctx, cancel := context.WithCancel(s.streamCtx)
	defer cancel()

	// the read loop only notices close frames and keeps pong deadlines moving
	go func() {
		defer cancel()
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(pongWait))
			return nil
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					logger.Warn().Err(err).Msg("Stream read error")
				}
				return
			}
		}
	}()

	refresh := time.NewTicker(s.cfg.RefreshInterval)
	defer refresh.Stop()
	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	if err := s.sendSnapshot(ctx, conn, window); err != nil {
		logger.Warn().Err(err).Msg("Failed to send snapshot")
		return
	}

	for {
		select {
		case <-ctx.Done():
			conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(time.Second),
			)
			return
		case <-refresh.C:
			if err := s.sendSnapshot(ctx, conn, window); err != nil {
				logger.Warn().Err(err).Msg("Failed to send snapshot")
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				logger.Warn().Err(err).Msg("Failed to send ping")
				return
			}
		}
	}
}

// sendSnapshot writes one snapshot message
func (s *Server) sendSnapshot(ctx context.Context, conn *websocket.Conn, window models.Window) error {
	msg, err := models.NewMessage(models.MessageTypeSnapshot, s.Snapshot(ctx, window))
	if err != nil {
		return err
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(msg)
}
