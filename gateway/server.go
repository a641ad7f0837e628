package gateway

import (
	"context"
	stderrors "errors"
	"log/slog"
	"net/http"
	"story-lab/auth"
	"story-lab/domain"
	"story-lab/errors"
	"story-lab/runtime"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

// RoomService is what the gateway needs from the coordinator.
type RoomService interface {
	Join(ctx context.Context, identity, displayName string, id domain.RoomID) (runtime.JoinAck, error)
	JoinByCode(ctx context.Context, identity, displayName, code string) (runtime.JoinAck, error)
	Leave(ctx context.Context, identity string) error
	StartGame(ctx context.Context, identity string) error
	Submit(ctx context.Context, identity, text string) error
}

type Config struct {
	Secret               []byte
	ConnectionBufferSize int
	RateLimit            float64
	RateBurst            int
}

// Server upgrades authenticated HTTP requests to websocket connections
// and turns their frames into RoomService calls.
type Server struct {
	log      *slog.Logger
	hub      *Hub
	rooms    RoomService
	config   Config
	upgrader websocket.Upgrader
	handlers sync.WaitGroup
}

func NewServer(log *slog.Logger, hub *Hub, rooms RoomService, config Config) *Server {
	if config.ConnectionBufferSize <= 0 {
		config.ConnectionBufferSize = 64
	}
	return &Server{
		log:    log,
		hub:    hub,
		rooms:  rooms,
		config: config,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.serveWS)
	return mux
}

// newLimiter allows everything when no rate is configured.
func (s *Server) newLimiter() *rate.Limiter {
	if s.config.RateLimit <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Limit(s.config.RateLimit), max(s.config.RateBurst, 1))
}

func bearerToken(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	header := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(header, "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}

// Wait blocks until every connection handler has returned, including the
// Leave it runs on disconnect. Call it after the http.Server stopped accepting.
func (s *Server) Wait() {
	s.handlers.Wait()
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	// Counted before the upgrade, while http.Server.Shutdown still tracks the request
	s.handlers.Add(1)
	defer s.handlers.Done()

	claims, err := auth.ValidateToken(s.config.Secret, bearerToken(r))
	if err != nil {
		s.log.Debug("Handshake rejected", "remote", r.RemoteAddr, "error", err)
		http.Error(w, errors.ErrNotAuthenticated.Error(), http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("Upgrade failed", "identity", claims.UserID, "error", err)
		return
	}

	c := newClient(s.log, conn, claims.UserID, claims.DisplayName, s.config.ConnectionBufferSize, s.newLimiter())
	if previous := s.hub.Register(c); previous != nil {
		previous.close("replaced by a newer connection")
	}
	c.log.Info("Client connected", "display_name", c.displayName)

	ctx := context.WithoutCancel(r.Context())
	go c.writePump()
	c.readPump(func(data []byte) { s.handle(ctx, c, data) })

	c.close("bye")
	if s.hub.Unregister(c) {
		if err := s.rooms.Leave(ctx, c.identity); err != nil && !stderrors.Is(err, errors.ErrNotInRoom) {
			c.log.Warn("Leave on disconnect failed", "error", err)
		}
	}
	c.log.Info("Client disconnected")
}

func (s *Server) handle(ctx context.Context, c *Client, data []byte) {
	if !c.limiter.Allow() {
		s.replyError(c, errors.ErrRateLimited)
		return
	}

	msg, err := DecodeInbound(data)
	if err != nil {
		s.replyError(c, err)
		return
	}

	switch m := msg.(type) {
	case JoinRoomPayload:
		var ack runtime.JoinAck
		if m.Code != "" {
			ack, err = s.rooms.JoinByCode(ctx, c.identity, c.displayName, m.Code)
		} else {
			ack, err = s.rooms.Join(ctx, c.identity, c.displayName, domain.RoomID(m.RoomID))
		}
		if err != nil {
			s.reply(c, TypeJoinAck, JoinAckPayload{Status: StatusError, RoomID: m.RoomID, Code: m.Code, Error: ErrorCode(err)})
			return
		}
		s.reply(c, TypeJoinAck, JoinAckPayload{
			Status:  StatusOK,
			RoomID:  int(ack.Room),
			Code:    ack.Code,
			Members: ack.Members,
			Phase:   ack.Phase.String(),
			Round:   ack.Round,
		})
	case StartGamePayload:
		if err := s.rooms.StartGame(ctx, c.identity); err != nil {
			s.replyError(c, err)
		}
	case SubmitSnippetPayload:
		if err := s.rooms.Submit(ctx, c.identity, m.Text); err != nil {
			s.reply(c, TypeSubmitAck, SubmitAckPayload{Status: StatusError, Error: ErrorCode(err)})
			return
		}
		s.reply(c, TypeSubmitAck, SubmitAckPayload{Status: StatusOK})
	}
}

func (s *Server) reply(c *Client, messageType string, payload any) {
	data, err := encode(messageType, payload)
	if err != nil {
		c.log.Error("Encode failed", "type", messageType, "error", err)
		return
	}
	if !c.enqueue(data) {
		c.log.Warn("Client buffer full, reply dropped", "type", messageType)
	}
}

func (s *Server) replyError(c *Client, err error) {
	c.log.Debug("Request rejected", "error", err)
	s.reply(c, TypeError, ErrorPayload{Message: err.Error(), Code: ErrorCode(err)})
}
