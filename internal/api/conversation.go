package api

import (
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/ashureev/missiontalk/internal/domain"
	"github.com/go-chi/chi/v5"
)

// ConversationHandler serves the conversation endpoints.
type ConversationHandler struct {
	svc     Conversations
	limiter *RateLimiter
}

// NewConversationHandler creates a conversation handler. A nil limiter
// disables rate limiting.
func NewConversationHandler(svc Conversations, limiter *RateLimiter) *ConversationHandler {
	return &ConversationHandler{svc: svc, limiter: limiter}
}

// RegisterRoutes registers conversation routes.
func (h *ConversationHandler) RegisterRoutes(r chi.Router) {
	r.HandleFunc("/startConversation", h.StartConversation)
	r.HandleFunc("/sendMessage", h.SendMessage)
	r.Route("/api", func(r chi.Router) {
		r.Get("/scenarios", h.ListScenarios)
		r.Get("/sessions/{sessionID}", h.GetSession)
	})
}

type startConversationRequest struct {
	UserID   string `json:"userId"`
	Scenario string `json:"scenario"`
}

type initialStatus struct {
	UserID              string                    `json:"userId"`
	ScenarioID          string                    `json:"scenarioId"`
	ScenarioName        string                    `json:"scenarioName"`
	ScenarioDescription string                    `json:"scenarioDescription"`
	Missions            map[string]domain.Mission `json:"missions"`
	Status              domain.Status             `json:"status"`
	StartTime           time.Time                 `json:"startTime"`
}

type startConversationResponse struct {
	SessionID         string        `json:"sessionId"`
	BotInitialMessage string        `json:"botInitialMessage"`
	InitialStatus     initialStatus `json:"initialStatus"`
}

// StartConversation creates a session from a scenario.
func (h *ConversationHandler) StartConversation(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}

	var req startConversationRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	res, err := h.svc.StartConversation(r.Context(), req.UserID, req.Scenario)
	if err != nil {
		writeError(w, err)
		return
	}

	sess := res.Session
	JSON(w, http.StatusOK, startConversationResponse{
		SessionID:         res.SessionID,
		BotInitialMessage: sess.BotInitialMessage,
		InitialStatus: initialStatus{
			UserID:              sess.UserID,
			ScenarioID:          sess.ScenarioID,
			ScenarioName:        sess.ScenarioName,
			ScenarioDescription: sess.ScenarioDescription,
			Missions:            sess.Missions,
			Status:              sess.Status,
			StartTime:           sess.StartedAt,
		},
	})
}

type sendMessageRequest struct {
	UserID    string `json:"userId"`
	SessionID string `json:"sessionId"`
	Message   string `json:"message"`
}

// TurnResponse is the reply to one user message.
type TurnResponse struct {
	BotMessage        string        `json:"botMessage"`
	SessionStatus     domain.Status `json:"sessionStatus"`
	CompletedMissions []string      `json:"completedMissions"`
}

// SendMessage advances a session by one user message.
func (h *ConversationHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}

	var req sendMessageRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	if h.limiter != nil && req.UserID != "" && !h.limiter.Allow(req.UserID) {
		slog.Warn("Rate limit exceeded", "user_id", req.UserID, "session_id", req.SessionID)
		Error(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	res, err := h.svc.SendMessage(r.Context(), req.UserID, req.SessionID, req.Message)
	if err != nil {
		writeError(w, err)
		return
	}

	completed := res.NewlyCompleted
	if completed == nil {
		completed = []string{}
	}
	JSON(w, http.StatusOK, TurnResponse{
		BotMessage:        res.BotMessage,
		SessionStatus:     res.Status,
		CompletedMissions: completed,
	})
}

type scenarioSummary struct {
	ID          string                            `json:"id"`
	Name        string                            `json:"name"`
	Description string                            `json:"description"`
	Missions    map[string]domain.MissionTemplate `json:"missions"`
}

// ListScenarios returns the scenario catalog without prompts or criteria.
func (h *ConversationHandler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	scenarios, err := h.svc.ListScenarios(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	out := make([]scenarioSummary, 0, len(scenarios))
	for _, sc := range scenarios {
		out = append(out, scenarioSummary{
			ID:          sc.ID,
			Name:        sc.Name(),
			Description: sc.UserDescription(),
			Missions:    sc.InitialMissions,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	JSON(w, http.StatusOK, map[string]interface{}{"scenarios": out})
}

type sessionView struct {
	SessionID           string                    `json:"sessionId"`
	UserID              string                    `json:"userId"`
	ScenarioID          string                    `json:"scenarioId"`
	ScenarioName        string                    `json:"scenarioName"`
	ScenarioDescription string                    `json:"scenarioDescription"`
	BotInitialMessage   string                    `json:"botInitialMessage"`
	History             []domain.Turn             `json:"history"`
	Missions            map[string]domain.Mission `json:"missions"`
	Status              domain.Status             `json:"status"`
	StartTime           time.Time                 `json:"startTime"`
	EndTime             *time.Time                `json:"endTime"`
}

// GetSession returns the visible state of a session.
func (h *ConversationHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.svc.GetSession(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, err)
		return
	}

	history := sess.History
	if history == nil {
		history = []domain.Turn{}
	}
	JSON(w, http.StatusOK, sessionView{
		SessionID:           sess.ID,
		UserID:              sess.UserID,
		ScenarioID:          sess.ScenarioID,
		ScenarioName:        sess.ScenarioName,
		ScenarioDescription: sess.ScenarioDescription,
		BotInitialMessage:   sess.BotInitialMessage,
		History:             history,
		Missions:            sess.Missions,
		Status:              sess.Status,
		StartTime:           sess.StartedAt,
		EndTime:             sess.EndedAt,
	})
}
