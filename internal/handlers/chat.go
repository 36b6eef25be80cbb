package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"chat-realtime/internal/middleware"
	"chat-realtime/internal/models"
	"chat-realtime/internal/repositories"
	"chat-realtime/internal/telemetry"
)

// ChatHandler serves chat metadata and the history fallback.
type ChatHandler struct {
	chatRepo     repositories.ChatRepository
	messageRepo  repositories.MessageRepository
	reactionRepo repositories.ReactionRepository
	audit        *telemetry.AuditEmitter
}

// NewChatHandler builds a ChatHandler. audit may be nil.
func NewChatHandler(chatRepo repositories.ChatRepository, messageRepo repositories.MessageRepository, reactionRepo repositories.ReactionRepository, audit *telemetry.AuditEmitter) *ChatHandler {
	return &ChatHandler{
		chatRepo:     chatRepo,
		messageRepo:  messageRepo,
		reactionRepo: reactionRepo,
		audit:        audit,
	}
}

// ListChats returns the chats of the authenticated user with their participants.
func (h *ChatHandler) ListChats(c *gin.Context) {
	userID := c.GetString(middleware.UserIDKey)

	chats, err := h.chatRepo.ListChatsForUser(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load chats"})
		return
	}

	resp := make([]models.ChatSummary, 0, len(chats))
	for _, chat := range chats {
		participants, err := h.chatRepo.ListParticipants(c.Request.Context(), chat.ID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load participants"})
			return
		}
		resp = append(resp, models.ChatSummary{Chat: chat, Participants: participants})
	}

	c.JSON(http.StatusOK, gin.H{"chats": resp})
}

// CreateChat creates a group chat, or creates or returns the direct chat
// between the caller and one other user.
func (h *ChatHandler) CreateChat(c *gin.Context) {
	var req struct {
		Name           *string  `json:"name"`
		IsGroup        bool     `json:"is_group"`
		ParticipantIDs []string `json:"participant_ids" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := c.GetString(middleware.UserIDKey)
	ids := append([]string{userID}, req.ParticipantIDs...)

	chat, err := h.chatRepo.CreateChat(c.Request.Context(), req.Name, req.IsGroup, ids)
	if errors.Is(err, repositories.ErrInvalidParticipants) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not create chat"})
		return
	}

	participants, err := h.chatRepo.ListParticipants(c.Request.Context(), chat.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load participants"})
		return
	}

	h.audit.Emit(c.Request.Context(), requestIDFromContext(c), userID, telemetry.AuditPayload{
		Level:  "info",
		Text:   "chat created",
		ChatID: chat.ID,
	})
	c.JSON(http.StatusCreated, models.ChatSummary{Chat: chat, Participants: participants})
}

// GetChatMessages returns messages with seq greater than after_seq, oldest
// first. Clients use it to recover what they missed while disconnected.
func (h *ChatHandler) GetChatMessages(c *gin.Context) {
	chatID := c.Param("chat_id")

	afterSeq, err := queryInt(c, "after_seq", 0)
	if err != nil || afterSeq < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid after_seq"})
		return
	}
	limit, err := queryInt(c, "limit", repositories.DefaultHistoryLimit)
	if err != nil || limit <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
		return
	}

	if !h.requireMember(c, chatID) {
		return
	}

	msgs, err := h.messageRepo.ListMessagesAfter(c.Request.Context(), chatID, afterSeq, int(limit))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load messages"})
		return
	}
	if msgs == nil {
		msgs = []models.Message{}
	}

	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

// ListReactions returns the reactions currently applied to a message.
func (h *ChatHandler) ListReactions(c *gin.Context) {
	chatID := c.Param("chat_id")
	messageID := c.Param("message_id")

	if !h.requireMember(c, chatID) {
		return
	}

	msg, err := h.messageRepo.GetMessage(c.Request.Context(), messageID)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, repositories.ErrMessageNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": "message not found"})
		return
	}
	if msg.ChatID != chatID {
		c.JSON(http.StatusNotFound, gin.H{"error": "message not found"})
		return
	}

	reactions, err := h.reactionRepo.ListReactions(c.Request.Context(), messageID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load reactions"})
		return
	}
	if reactions == nil {
		reactions = []models.Reaction{}
	}

	c.JSON(http.StatusOK, gin.H{"reactions": reactions})
}

func (h *ChatHandler) requireMember(c *gin.Context, chatID string) bool {
	member, err := h.chatRepo.IsParticipant(c.Request.Context(), chatID, c.GetString(middleware.UserIDKey))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to verify membership"})
		return false
	}
	if !member {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a chat member"})
		return false
	}
	return true
}

func queryInt(c *gin.Context, key string, fallback int64) (int64, error) {
	raw := c.Query(key)
	if raw == "" {
		return fallback, nil
	}
	return strconv.ParseInt(raw, 10, 64)
}
