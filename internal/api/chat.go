package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/nugget/carepilot/internal/chat"
	"github.com/nugget/carepilot/internal/conversation"
	"github.com/nugget/carepilot/internal/llm"
)

// ChatRequest is the body of POST /chat and of each WebSocket message.
type ChatRequest struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id,omitempty"`
}

// HistoryMessage is one visible transcript entry.
type HistoryMessage struct {
	Role      llm.Role  `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// ChatResponse carries the updated history of a conversation.
type ChatResponse struct {
	History        []HistoryMessage `json:"history"`
	ConversationID string           `json:"conversation_id"`
}

// StepEvent reports agent progress over the WebSocket.
type StepEvent struct {
	Type        string `json:"type"` // always "step"
	Step        int    `json:"step"`
	Description string `json:"description"`
}

// historyView keeps the user and assistant turns that carry text; tool
// traffic stays in the stored transcript only.
func historyView(msgs []llm.Message) []HistoryMessage {
	out := make([]HistoryMessage, 0, len(msgs))
	for _, m := range msgs {
		if m.Role != llm.RoleUser && m.Role != llm.RoleAssistant {
			continue
		}
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		out = append(out, HistoryMessage{Role: m.Role, Content: m.Content, Timestamp: m.Timestamp})
	}
	return out
}

// turnError maps chat service errors to a status, code and message.
func turnError(err error) (int, string, string) {
	switch {
	case errors.Is(err, chat.ErrEmptyMessage):
		return http.StatusBadRequest, codeBadRequest, "no message provided"
	case errors.Is(err, chat.ErrUnknownUser):
		return http.StatusUnauthorized, codeUnauthorized, "user not found"
	case errors.Is(err, conversation.ErrNotFound):
		return http.StatusNotFound, codeNotFound, "conversation not found"
	default:
		return http.StatusInternalServerError, codeInternal, "internal server error"
	}
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	u := userFrom(r.Context())
	var req ChatRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	turn, err := s.deps.Chat.Turn(r.Context(), u.Username, req.ConversationID, req.Message, nil)
	if err != nil {
		status, code, msg := turnError(err)
		if status == http.StatusInternalServerError {
			s.logger.Error("chat turn failed", "username", u.Username, "error", err)
		}
		s.errorResponse(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, ChatResponse{
		History:        historyView(turn.History),
		ConversationID: turn.ConversationID,
	}, s.logger)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The auth cookie is SameSite=Strict, so cross-site pages cannot
	// open an authenticated socket.
	CheckOrigin: func(*http.Request) bool { return true },
}

// handleChatSocket runs chat turns over a WebSocket. Each client
// message yields zero or more step events followed by the updated
// history, or an error object.
func (s *Server) handleChatSocket(w http.ResponseWriter, r *http.Request) {
	u := userFrom(r.Context())
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxBodyBytes)

	log := s.logger.With("username", u.Username, "transport", "websocket")
	log.Debug("websocket connected")

	for {
		var req ChatRequest
		if err := conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug("websocket read failed", "error", err)
			}
			return
		}

		// Steps are written from the turn's own goroutine, so writes
		// never overlap.
		onStep := func(step int, description string) {
			if err := conn.WriteJSON(StepEvent{Type: "step", Step: step, Description: description}); err != nil {
				log.Debug("websocket step write failed", "error", err)
			}
		}

		turn, err := s.deps.Chat.Turn(r.Context(), u.Username, req.ConversationID, req.Message, onStep)
		if err != nil {
			_, code, msg := turnError(err)
			if code == codeInternal {
				log.Error("chat turn failed", "error", err)
			}
			if err := conn.WriteJSON(apiError{Error: errorBody{Message: msg, Code: code}}); err != nil {
				return
			}
			continue
		}
		if err := conn.WriteJSON(ChatResponse{
			History:        historyView(turn.History),
			ConversationID: turn.ConversationID,
		}); err != nil {
			log.Debug("websocket write failed", "error", err)
			return
		}
	}
}

func (s *Server) handleConversationList(w http.ResponseWriter, r *http.Request) {
	u := userFrom(r.Context())
	list, err := s.deps.Conversations.List(r.Context(), u.Username)
	if err != nil {
		s.internalError(w, r, "list conversations failed", err)
		return
	}
	if list == nil {
		list = []conversation.Summary{}
	}
	writeJSON(w, http.StatusOK, list, s.logger)
}

func (s *Server) handleConversationGet(w http.ResponseWriter, r *http.Request) {
	u := userFrom(r.Context())
	conv, err := s.deps.Conversations.Get(r.Context(), u.Username, chi.URLParam(r, "id"))
	if err != nil {
		s.internalError(w, r, "get conversation failed", err)
		return
	}
	if conv == nil {
		s.errorResponse(w, http.StatusNotFound, codeNotFound, "conversation not found")
		return
	}
	writeJSON(w, http.StatusOK, conv, s.logger)
}
