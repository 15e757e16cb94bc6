package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/ashureev/missiontalk/internal/api"
	"github.com/ashureev/missiontalk/internal/domain"
	"github.com/ashureev/missiontalk/internal/session"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"
)

// Frame types.
const (
	FrameMessage = "message"
	FramePing    = "ping"
	FramePong    = "pong"
	FrameTurn    = "turn"
	FrameError   = "error"
)

// Conversations is the part of the session workflow a socket drives.
type Conversations interface {
	SendMessage(ctx context.Context, userID, sessionID, message string) (*session.TurnResult, error)
	GetSession(ctx context.Context, sessionID string) (*domain.Session, error)
}

// inbound is a client frame.
type inbound struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
}

type turnFrame struct {
	Type string `json:"type"`
	api.TurnResponse
}

type errorFrame struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

type pongFrame struct {
	Type string `json:"type"`
}

// WebSocketHandler serves one chat socket per session.
type WebSocketHandler struct {
	svc           Conversations
	hub           *Hub
	limiter       *api.RateLimiter
	allowedOrigin string
	isDev         bool
}

// NewWebSocketHandler creates a WebSocket handler. A nil limiter disables
// rate limiting.
func NewWebSocketHandler(svc Conversations, hub *Hub, limiter *api.RateLimiter, allowedOrigin string, isDev bool) *WebSocketHandler {
	return &WebSocketHandler{
		svc:           svc,
		hub:           hub,
		limiter:       limiter,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
	}
}

// RegisterRoutes registers the socket route.
func (h *WebSocketHandler) RegisterRoutes(r chi.Router) {
	r.Get("/ws/sessions/{sessionID}", h.ServeHTTP)
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	userID := strings.TrimSpace(r.URL.Query().Get("userId"))
	slog.Info("WebSocket connection request", "user_id", userID, "session_id", sessionID, "ip", r.RemoteAddr)

	if !h.checkOrigin(r) {
		api.Error(w, http.StatusForbidden, "origin not allowed")
		return
	}
	if userID == "" || sessionID == "" {
		api.Error(w, http.StatusBadRequest, "userId and sessionId are required")
		return
	}
	if _, err := h.svc.GetSession(r.Context(), sessionID); err != nil {
		api.Error(w, api.StatusFor(err), errorMessage(err))
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "user_id", userID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "user_id", userID)
		}
	}()

	h.hub.Register(sessionID, ws)
	defer h.hub.Unregister(sessionID, ws)

	h.readLoop(r.Context(), ws, userID, sessionID)
	slog.Info("Chat socket ended", "user_id", userID, "session_id", sessionID)
}

func (h *WebSocketHandler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" {
		return true
	}
	if origin == h.allowedOrigin {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

// readLoop handles frames until the client goes away. Turns run one at a time
// per socket, so replies keep the order of the messages that caused them.
func (h *WebSocketHandler) readLoop(ctx context.Context, ws *websocket.Conn, userID, sessionID string) {
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("WebSocket closed by client", "user_id", userID)
			} else if ctx.Err() == nil {
				slog.Warn("WebSocket read error", "error", err, "user_id", userID)
			}
			return
		}

		var msg inbound
		if err := json.Unmarshal(data, &msg); err != nil {
			if !h.write(ctx, ws, errorFrame{Type: FrameError, Error: "malformed frame"}) {
				return
			}
			continue
		}

		var reply any
		switch msg.Type {
		case FramePing:
			reply = pongFrame{Type: FramePong}
		case FrameMessage:
			reply = h.turn(ctx, userID, sessionID, msg.Content)
		default:
			reply = errorFrame{Type: FrameError, Error: "unknown frame type " + msg.Type}
		}
		if !h.write(ctx, ws, reply) {
			return
		}
	}
}

func (h *WebSocketHandler) turn(ctx context.Context, userID, sessionID, content string) any {
	if h.limiter != nil && !h.limiter.Allow(userID) {
		slog.Warn("Rate limit exceeded", "user_id", userID, "session_id", sessionID)
		return errorFrame{Type: FrameError, Error: "rate limit exceeded"}
	}

	res, err := h.svc.SendMessage(ctx, userID, sessionID, content)
	if err != nil {
		if api.StatusFor(err) == http.StatusInternalServerError {
			slog.Error("Socket turn failed", "error", err, "session_id", sessionID)
		}
		return errorFrame{Type: FrameError, Error: errorMessage(err)}
	}

	completed := res.NewlyCompleted
	if completed == nil {
		completed = []string{}
	}
	return turnFrame{
		Type: FrameTurn,
		TurnResponse: api.TurnResponse{
			BotMessage:        res.BotMessage,
			SessionStatus:     res.Status,
			CompletedMissions: completed,
		},
	}
}

func (h *WebSocketHandler) write(ctx context.Context, ws *websocket.Conn, v any) bool {
	if err := wsjson.Write(ctx, ws, v); err != nil {
		if ctx.Err() == nil && !errors.Is(err, context.Canceled) {
			slog.Debug("WebSocket write error", "error", err)
		}
		return false
	}
	return true
}

// errorMessage returns the client-facing text for err.
func errorMessage(err error) string {
	if api.StatusFor(err) != http.StatusInternalServerError {
		return err.Error()
	}
	switch {
	case errors.Is(err, domain.ErrInvalidSession):
		return "session data is invalid"
	default:
		return "internal server error"
	}
}
