package chat

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// originChecker accepts requests without an Origin header (non-browser
// clients) and browser requests whose origin matches one of the patterns.
// A pattern may hold a single "*" wildcard; "*" alone allows any origin.
func originChecker(patterns []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := strings.ToLower(r.Header.Get("Origin"))
		if origin == "" {
			return true
		}
		for _, p := range patterns {
			p = strings.ToLower(p)
			if p == "*" || p == origin {
				return true
			}
			if prefix, suffix, ok := strings.Cut(p, "*"); ok &&
				len(origin) >= len(prefix)+len(suffix) &&
				strings.HasPrefix(origin, prefix) && strings.HasSuffix(origin, suffix) {
				return true
			}
		}
		return false
	}
}

// wsRequest is the incoming websocket message format.
type wsRequest struct {
	Type string `json:"type"` // "message" or "route"
	chatRequest
}

// wsResponse is the outgoing websocket message format.
type wsResponse struct {
	Type   string         `json:"type"` // "response", "route" or "error"
	UserID string         `json:"user_id,omitempty"`
	Error  string         `json:"error,omitempty"`
	Reply  *chatResponse  `json:"reply,omitempty"`
	Route  *routeResponse `json:"route,omitempty"`
}

func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade", zap.Error(err))
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxBodyBytes)

	// A connection may pin its user with ?user=; messages can override it.
	connUser := r.URL.Query().Get("user")

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("websocket read", zap.Error(err))
			}
			return
		}

		var req wsRequest
		if err := json.Unmarshal(msg, &req); err != nil {
			h.send(conn, wsResponse{Type: "error", Error: "invalid message format"})
			continue
		}
		if req.UserID == "" {
			req.UserID = connUser
		}
		if req.Text == "" {
			h.send(conn, wsResponse{Type: "error", UserID: req.UserID, Error: "text is required"})
			continue
		}

		switch req.Type {
		case "message", "":
			resp, _, err := h.turn(r, req.chatRequest)
			if err != nil {
				h.send(conn, wsResponse{Type: "error", UserID: req.UserID, Error: err.Error()})
				continue
			}
			h.send(conn, wsResponse{Type: "response", UserID: req.UserID, Reply: resp})
		case "route":
			ents, in, rule := h.engine.Route(r.Context(), req.UserID, req.Text)
			h.send(conn, wsResponse{Type: "route", UserID: req.UserID, Route: &routeResponse{Intent: in.String(), Rule: rule, Entities: ents}})
		default:
			h.send(conn, wsResponse{Type: "error", UserID: req.UserID, Error: "unknown message type: " + req.Type})
		}
	}
}

func (h *Handler) send(conn *websocket.Conn, resp wsResponse) {
	if err := conn.WriteJSON(resp); err != nil {
		h.logger.Warn("websocket write", zap.Error(err))
	}
}
