// Package chat exposes the turn engine to web clients: a REST endpoint for
// single turns, a websocket stream for conversations, and read-only views
// of a user's session.
package chat

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ziadkadry99/bms-assistant/internal/dispatch"
	"github.com/ziadkadry99/bms-assistant/internal/format"
	"github.com/ziadkadry99/bms-assistant/internal/session"
)

// maxBodyBytes caps a chat request body.
const maxBodyBytes = 64 << 10

// Handler serves chat traffic for one engine.
type Handler struct {
	engine   *dispatch.Engine
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

// New creates a Handler. Websocket upgrades follow gorilla's same-origin
// check until AllowOrigins widens it.
func New(engine *dispatch.Engine, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{engine: engine, logger: logger}
}

// AllowOrigins lets browsers on the given origins open the websocket. It
// takes the same patterns as the CORS allow-list.
func (h *Handler) AllowOrigins(patterns []string) *Handler {
	h.upgrader.CheckOrigin = originChecker(patterns)
	return h
}

// RegisterRoutes mounts the chat endpoints on r.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/api/chat", h.handleChat)
	r.Get("/api/route", h.handleRoute)
	r.Get("/ws/chat", h.handleWebSocket)
	r.Route("/api/sessions/{userID}", func(r chi.Router) {
		r.Get("/", h.handleSession)
		r.Get("/history", h.handleHistory)
		r.Get("/notifications", h.handleNotifications)
		r.Put("/role", h.handleSetRole)
	})
}

// chatRequest is a single turn. Format selects how Result is rendered:
// markdown (default), plain or html.
type chatRequest struct {
	UserID string `json:"user_id"`
	Text   string `json:"text"`
	Device string `json:"device,omitempty"`
	Intent string `json:"intent,omitempty"`
	Format string `json:"format,omitempty"`
}

type chatResponse struct {
	*dispatch.Reply
	ContentType string `json:"content_type"`
}

func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	resp, status, err := h.turn(r, req)
	if err != nil {
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// turn runs req through the engine and renders the result. The returned
// status is meaningful only with an error.
func (h *Handler) turn(r *http.Request, req chatRequest) (*chatResponse, int, error) {
	renderer, err := format.ForName(req.Format)
	if err != nil {
		return nil, http.StatusBadRequest, err
	}
	reply, err := h.engine.Handle(r.Context(), dispatch.Request{
		UserID: req.UserID,
		Text:   req.Text,
		Device: req.Device,
		Intent: req.Intent,
	})
	switch {
	case errors.Is(err, dispatch.ErrEmptyInput), errors.Is(err, dispatch.ErrUnknownIntent):
		return nil, http.StatusBadRequest, err
	case err != nil:
		h.logger.Error("chat turn failed", zap.String("user_id", req.UserID), zap.Error(err))
		return nil, http.StatusInternalServerError, errors.New("internal error")
	}

	rendered, err := renderer.Render(reply.Result)
	if err != nil {
		h.logger.Warn("rendering result", zap.String("format", req.Format), zap.Error(err))
		return &chatResponse{Reply: reply, ContentType: format.Markdown{}.ContentType()}, 0, nil
	}
	reply.Result = rendered
	return &chatResponse{Reply: reply, ContentType: renderer.ContentType()}, 0, nil
}

type routeResponse struct {
	Intent   string `json:"intent"`
	Rule     string `json:"rule"`
	Entities any    `json:"entities"`
}

func (h *Handler) handleRoute(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	text := q.Get("text")
	if text == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}
	ents, in, rule := h.engine.Route(r.Context(), q.Get("user"), text)
	writeJSON(w, http.StatusOK, routeResponse{Intent: in.String(), Rule: rule, Entities: ents})
}

func (h *Handler) snapshot(w http.ResponseWriter, r *http.Request) (session.Snapshot, bool) {
	snap, err := h.engine.Sessions().Get(chi.URLParam(r, "userID"))
	if errors.Is(err, session.ErrUnknownUser) {
		writeError(w, http.StatusNotFound, "no session for user")
		return snap, false
	}
	return snap, true
}

func (h *Handler) handleSession(w http.ResponseWriter, r *http.Request) {
	snap, ok := h.snapshot(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	snap, ok := h.snapshot(w, r)
	if !ok {
		return
	}
	turns := snap.History
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n < len(turns) {
			turns = turns[len(turns)-n:]
		}
	}
	if turns == nil {
		turns = []session.Turn{}
	}
	writeJSON(w, http.StatusOK, turns)
}

// handleNotifications lists queued notifications. ?drain=true empties the
// queue.
func (h *Handler) handleNotifications(w http.ResponseWriter, r *http.Request) {
	snap, ok := h.snapshot(w, r)
	if !ok {
		return
	}
	out := snap.Notifications
	if drain, _ := strconv.ParseBool(r.URL.Query().Get("drain")); drain {
		out = h.engine.Sessions().DrainNotifications(r.Context(), snap.UserID)
	}
	if out == nil {
		out = []session.Notification{}
	}
	writeJSON(w, http.StatusOK, out)
}

type roleRequest struct {
	Role string `json:"role"`
}

// handleSetRole sets the role notifications are formatted for. The
// session is created if needed.
func (h *Handler) handleSetRole(w http.ResponseWriter, r *http.Request) {
	var req roleRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil || req.Role == "" {
		writeError(w, http.StatusBadRequest, "role is required")
		return
	}
	user := chi.URLParam(r, "userID")
	h.engine.Sessions().UpdateContext(r.Context(), user, func(c *session.Context) { c.Role = req.Role })
	writeJSON(w, http.StatusOK, h.engine.Sessions().Context(r.Context(), user))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
