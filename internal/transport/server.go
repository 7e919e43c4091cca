package transport

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/inkwell-ai/quill/internal/session"
	"github.com/inkwell-ai/quill/internal/turn"
)

// Engine is the slice of the turn controller the transport needs.
type Engine interface {
	HandleMessage(ctx context.Context, in turn.Inbound)
	Stop(roomID string)
}

// Server upgrades HTTP requests to WebSocket sessions and routes
// inbound envelopes to the registry and turn engine.
type Server struct {
	registry *session.Registry
	engine   Engine
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewServer creates the WebSocket server.
func NewServer(registry *session.Registry, engine Engine, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		registry: registry,
		engine:   engine,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Browser clients connect from arbitrary origins; there is
			// no cookie-based auth to protect.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger: logger.With("component", "transport"),
	}
}

// ServeHTTP upgrades the request and runs the connection's read loop
// until the client disconnects.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	conn := newConn(ws, s.logger)
	go conn.writePump()

	s.logger.Info("connection established", "conn", conn.ID(), "remote", r.RemoteAddr)
	_ = conn.Send(session.Event{
		Type:    session.EventConnectionEstablished,
		Payload: map[string]any{"connectionId": conn.ID().String()},
	})

	s.readLoop(r.Context(), conn)

	s.registry.Leave(conn)
	conn.close()
	s.logger.Info("connection closed", "conn", conn.ID())
}

// readLoop parses inbound envelopes and dispatches them. A malformed
// frame gets an error event back and the connection stays open; a read
// error ends the session.
func (s *Server) readLoop(ctx context.Context, conn *Conn) {
	for {
		_, data, err := conn.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("read failed", "conn", conn.ID(), "error", err)
			}
			return
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			s.sendError(conn, "malformed envelope")
			continue
		}
		if err := s.dispatch(ctx, conn, env); err != nil {
			s.sendError(conn, err.Error())
		}
	}
}

func (s *Server) dispatch(ctx context.Context, conn *Conn, env Envelope) error {
	switch env.Type {
	case TypeJoinRoom:
		var p JoinRoomPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil || p.RoomID == "" {
			return errBadPayload(env.Type)
		}
		s.registry.Join(conn, p.RoomID)
		s.registry.AssociateOwner(p.RoomID, p.UserID)
		return nil

	case TypeChatMessage:
		var p ChatMessagePayload
		if err := json.Unmarshal(env.Payload, &p); err != nil || p.RoomID == "" {
			return errBadPayload(env.Type)
		}
		if strings.TrimSpace(p.Message.Content) == "" {
			return errBadPayload(env.Type)
		}
		s.registry.AssociateOwner(p.RoomID, p.UserID)

		s.registry.Broadcast(p.RoomID, session.Event{
			Type: session.EventMessageReceived,
			Payload: map[string]any{
				"roomId":  p.RoomID,
				"role":    p.Message.Role,
				"content": p.Message.Content,
			},
		})

		// The turn runs detached from the request context: a dropped
		// connection must not cancel a turn other members still watch.
		go s.engine.HandleMessage(context.WithoutCancel(ctx), turn.Inbound{
			RoomID:            p.RoomID,
			UserID:            p.UserID,
			Content:           p.Message.Content,
			SelectedDocuments: p.SelectedDocuments,
			Cart:              p.CartSnapshot,
		})
		return nil

	case TypeStopGeneration:
		var p StopGenerationPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil || p.RoomID == "" {
			return errBadPayload(env.Type)
		}
		s.engine.Stop(p.RoomID)
		return nil

	default:
		return errUnknownType(env.Type)
	}
}

func (s *Server) sendError(conn *Conn, message string) {
	_ = conn.Send(session.Event{
		Type:    session.EventError,
		Payload: session.ErrorPayload{Message: message},
	})
}

type dispatchError string

func (e dispatchError) Error() string { return string(e) }

func errBadPayload(envType string) error {
	return dispatchError("invalid payload for " + envType)
}

func errUnknownType(envType string) error {
	return dispatchError("unknown message type " + envType)
}
