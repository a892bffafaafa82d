package agentserver

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"taskdeck/agent"
	"taskdeck/internal/auth"
	"taskdeck/internal/events"
)

type chatRequest struct {
	Message        string `json:"message"`
	ConversationID *int64 `json:"conversation_id"`
}

type chatResponse struct {
	RequestID       string           `json:"request_id"`
	ConversationID  int64            `json:"conversation_id"`
	ResponseText    string           `json:"response_text"`
	ExecutionTimeMS int64            `json:"execution_time_ms"`
	TokensUsed      int              `json:"tokens_used"`
	ToolCallsMade   []agent.ToolCall `json:"tool_calls_made"`
	Model           string           `json:"model"`
}

// handleChat runs one agent turn: resolve or create the conversation,
// load filtered history, call the model, persist both sides of the turn.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Message == "" {
		writeError(w, http.StatusUnprocessableEntity, "message must not be empty")
		return
	}

	requestID := uuid.NewString()
	log := s.log.WithFields(logrus.Fields{
		"request_id": requestID,
		"user_id":    user.ID,
	})

	ctx := r.Context()
	var (
		conversationID int64
		history        []agent.ChatMessage
	)
	if req.ConversationID != nil {
		conversationID = *req.ConversationID
		loaded, err := s.agent.ContextManager().LoadConversationHistory(ctx, conversationID, user.ID, true)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		history = loaded
	} else {
		conv, err := s.store.Conversations().Create(ctx, user.ID, conversationTitle(req.Message))
		if err != nil {
			log.WithError(err).Error("failed to create conversation")
			writeError(w, http.StatusInternalServerError, "failed to create conversation")
			return
		}
		conversationID = conv.ID
	}

	result, err := s.agent.Run(ctx, user.ID, history, req.Message)
	if err != nil {
		log.WithError(err).Error("agent turn failed")
		writeError(w, http.StatusBadGateway, "agent failed to produce a response")
		return
	}

	if _, err := s.store.Conversations().AppendMessage(ctx, conversationID, string(agent.RoleUser), req.Message, nil); err != nil {
		log.WithError(err).Error("failed to persist user message")
		writeError(w, http.StatusInternalServerError, "failed to persist message")
		return
	}

	assistant := agent.ChatMessage{
		Role:        agent.RoleAssistant,
		Content:     result.ResponseText,
		ToolCalls:   result.ToolCalls,
		TaskContext: result.TaskContext,
	}
	metadata, err := assistant.MetadataJSON()
	if err != nil {
		log.WithError(err).Warn("failed to encode message metadata")
		metadata = nil
	}
	if _, err := s.store.Conversations().AppendMessage(ctx, conversationID, string(agent.RoleAssistant), result.ResponseText, metadata); err != nil {
		log.WithError(err).Error("failed to persist assistant message")
		writeError(w, http.StatusInternalServerError, "failed to persist message")
		return
	}

	s.events.Publish(ctx, events.ChatTurnEvent, user.ID, map[string]interface{}{
		"request_id":      requestID,
		"conversation_id": conversationID,
		"tokens_used":     result.TokensUsed,
		"tool_calls":      len(result.ToolCalls),
		"model":           result.Model,
	})

	toolCalls := result.ToolCalls
	if toolCalls == nil {
		toolCalls = []agent.ToolCall{}
	}
	writeJSON(w, http.StatusOK, chatResponse{
		RequestID:       requestID,
		ConversationID:  conversationID,
		ResponseText:    result.ResponseText,
		ExecutionTimeMS: result.ExecutionTime.Milliseconds(),
		TokensUsed:      result.TokensUsed,
		ToolCallsMade:   toolCalls,
		Model:           result.Model,
	})
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	conversations, err := s.store.Conversations().ListByUser(r.Context(), user.ID)
	if err != nil {
		s.log.WithError(err).Error("failed to list conversations")
		writeError(w, http.StatusInternalServerError, "failed to list conversations")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"conversations": conversations})
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	conversationID, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid conversation id")
		return
	}

	ctx := r.Context()
	if _, err := s.store.Conversations().GetOwned(ctx, conversationID, user.ID); err != nil {
		writeStoreError(w, err)
		return
	}
	messages, err := s.store.Conversations().ListMessages(ctx, conversationID)
	if err != nil {
		s.log.WithError(err).Error("failed to list messages")
		writeError(w, http.StatusInternalServerError, "failed to list messages")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"messages": messages})
}

// conversationTitle derives a title from the opening message.
func conversationTitle(message string) string {
	const maxLen = 60
	runes := []rune(message)
	if len(runes) <= maxLen {
		return message
	}
	return string(runes[:maxLen-1]) + "…"
}
