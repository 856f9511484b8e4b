package transport

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/voxline-labs/voxline-core/internal/session"
)

// HandlerFactory builds the session handler for one accepted connection.
type HandlerFactory func(sessionID string, sink session.Sink) *session.Handler

// Server upgrades websocket connections and pumps inbound messages into the
// per-connection session handler.
type Server struct {
	factory  HandlerFactory
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

func NewServer(factory HandlerFactory, logger *slog.Logger) *Server {
	return &Server{
		factory: factory,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger: logger.With(slog.String("component", "transport")),
	}
}

// ServeHTTP handles one websocket session from upgrade to disconnect.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	sessionID := uuid.NewString()
	conn := NewConn(ws)
	handler := s.factory(sessionID, conn)
	if handler == nil {
		s.logger.Error("session setup failed", slog.String("session_id", sessionID))
		conn.Close()
		return
	}
	handler.Start()
	defer handler.Close()

	s.logger.Info("session connected",
		slog.String("session_id", sessionID),
		slog.String("remote", r.RemoteAddr))

	for {
		messageType, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Warn("session read failed",
					slog.String("session_id", sessionID),
					slog.String("error", err.Error()))
			}
			return
		}
		switch messageType {
		case websocket.BinaryMessage:
			handler.HandleAudioFrame(data)
		case websocket.TextMessage:
			s.dispatchText(handler, sessionID, data)
		}
	}
}

func (s *Server) dispatchText(handler *session.Handler, sessionID string, data []byte) {
	var envelope struct {
		Type  string `json:"type"`
		State string `json:"state"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		s.logger.Warn("malformed control message",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()))
		return
	}
	switch envelope.Type {
	case "listen":
		handler.HandleListen(envelope.State)
	case "abort":
		handler.HandleAbort()
	default:
		s.logger.Debug("ignoring control message",
			slog.String("session_id", sessionID),
			slog.String("type", envelope.Type))
	}
}

var _ session.Sink = (*Conn)(nil)
