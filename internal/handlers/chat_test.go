package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"chat-realtime/internal/middleware"
	"chat-realtime/internal/mocks"
	"chat-realtime/internal/models"
	"chat-realtime/internal/repositories"
	"chat-realtime/internal/telemetry"
)

func setupChatRouter(handler *ChatHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(middleware.UserIDKey, "u1")
		c.Next()
	})
	r.GET("/chats", handler.ListChats)
	r.POST("/chats", handler.CreateChat)
	r.GET("/chats/:chat_id/messages", handler.GetChatMessages)
	r.GET("/chats/:chat_id/messages/:message_id/reactions", handler.ListReactions)
	return r
}

func TestListChatsSuccess(t *testing.T) {
	chatRepo := new(mocks.ChatRepositoryMock)
	handler := NewChatHandler(chatRepo, nil, nil, nil)
	router := setupChatRouter(handler)

	chatRepo.On("ListChatsForUser", mock.Anything, "u1").Return([]models.Chat{{ID: "c3"}}, nil).Once()
	chatRepo.On("ListParticipants", mock.Anything, "c3").Return([]string{"u1", "u2"}, nil).Once()

	req := httptest.NewRequest(http.MethodGet, "/chats", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Chats []struct {
			ID           string   `json:"id"`
			Participants []string `json:"participants"`
		} `json:"chats"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Chats, 1)
	assert.Equal(t, "c3", resp.Chats[0].ID)
	assert.Equal(t, []string{"u1", "u2"}, resp.Chats[0].Participants)
	chatRepo.AssertExpectations(t)
}

func TestListChatsRepoError(t *testing.T) {
	chatRepo := new(mocks.ChatRepositoryMock)
	router := setupChatRouter(NewChatHandler(chatRepo, nil, nil, nil))

	chatRepo.On("ListChatsForUser", mock.Anything, "u1").Return(([]models.Chat)(nil), assert.AnError).Once()

	req := httptest.NewRequest(http.MethodGet, "/chats", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	chatRepo.AssertExpectations(t)
}

func TestCreateChatIncludesCaller(t *testing.T) {
	chatRepo := new(mocks.ChatRepositoryMock)
	publisher := new(mocks.PublisherMock)
	audit := telemetry.NewAuditEmitter(publisher, "audit.chat", "chat-realtime", "test")
	router := setupChatRouter(NewChatHandler(chatRepo, nil, nil, audit))

	chatRepo.On("CreateChat", mock.Anything, (*string)(nil), false, []string{"u1", "u2"}).Return(models.Chat{ID: "c10"}, nil).Once()
	chatRepo.On("ListParticipants", mock.Anything, "c10").Return([]string{"u1", "u2"}, nil).Once()
	publisher.On("Publish", mock.Anything, "audit.chat", mock.Anything, mock.Anything).Return(nil).Once()

	req := httptest.NewRequest(http.MethodPost, "/chats", bytes.NewBufferString(`{"participant_ids":["u2"]}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	chatRepo.AssertExpectations(t)
	publisher.AssertExpectations(t)
}

func TestCreateChatInvalidParticipants(t *testing.T) {
	chatRepo := new(mocks.ChatRepositoryMock)
	router := setupChatRouter(NewChatHandler(chatRepo, nil, nil, nil))

	chatRepo.On("CreateChat", mock.Anything, (*string)(nil), false, []string{"u1", "u1"}).
		Return(models.Chat{}, repositories.ErrInvalidParticipants).Once()

	req := httptest.NewRequest(http.MethodPost, "/chats", bytes.NewBufferString(`{"participant_ids":["u1"]}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	chatRepo.AssertExpectations(t)
}

func TestCreateChatMissingBody(t *testing.T) {
	router := setupChatRouter(NewChatHandler(new(mocks.ChatRepositoryMock), nil, nil, nil))

	req := httptest.NewRequest(http.MethodPost, "/chats", bytes.NewBufferString(`{}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetChatMessagesAfterSeq(t *testing.T) {
	chatRepo := new(mocks.ChatRepositoryMock)
	messageRepo := new(mocks.MessageRepositoryMock)
	router := setupChatRouter(NewChatHandler(chatRepo, messageRepo, nil, nil))

	chatRepo.On("IsParticipant", mock.Anything, "c5", "u1").Return(true, nil).Once()
	messageRepo.On("ListMessagesAfter", mock.Anything, "c5", int64(3), 20).
		Return([]models.Message{{ID: "m4", ChatID: "c5", SenderID: "u2", Seq: 4}}, nil).Once()

	req := httptest.NewRequest(http.MethodGet, "/chats/c5/messages?after_seq=3&limit=20", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Messages []models.Message `json:"messages"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Messages, 1)
	assert.Equal(t, int64(4), resp.Messages[0].Seq)
	chatRepo.AssertExpectations(t)
	messageRepo.AssertExpectations(t)
}

func TestGetChatMessagesDefaultsAndValidation(t *testing.T) {
	chatRepo := new(mocks.ChatRepositoryMock)
	messageRepo := new(mocks.MessageRepositoryMock)
	router := setupChatRouter(NewChatHandler(chatRepo, messageRepo, nil, nil))

	chatRepo.On("IsParticipant", mock.Anything, "c5", "u1").Return(true, nil).Once()
	messageRepo.On("ListMessagesAfter", mock.Anything, "c5", int64(0), repositories.DefaultHistoryLimit).
		Return(([]models.Message)(nil), nil).Once()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/chats/c5/messages", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"messages":[]}`, rec.Body.String())

	for _, query := range []string{"?after_seq=abc", "?after_seq=-1", "?limit=0"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/chats/c5/messages"+query, nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code, query)
	}
	chatRepo.AssertExpectations(t)
	messageRepo.AssertExpectations(t)
}

func TestGetChatMessagesNotMember(t *testing.T) {
	chatRepo := new(mocks.ChatRepositoryMock)
	router := setupChatRouter(NewChatHandler(chatRepo, new(mocks.MessageRepositoryMock), nil, nil))

	chatRepo.On("IsParticipant", mock.Anything, "c5", "u1").Return(false, nil).Once()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/chats/c5/messages", nil))

	require.Equal(t, http.StatusForbidden, rec.Code)
	chatRepo.AssertExpectations(t)
}

func TestListReactions(t *testing.T) {
	store := repositories.NewMemoryStore()
	ctx := httptest.NewRequest(http.MethodGet, "/", nil).Context()
	chat, err := store.CreateChat(ctx, nil, false, []string{"u1", "u2"})
	require.NoError(t, err)
	_, _, err = store.AppendMessage(ctx, models.NewMessage{ID: "m1", ChatID: chat.ID, SenderID: "u2", Content: "hi"})
	require.NoError(t, err)
	_, err = store.AddReaction(ctx, models.Reaction{MessageID: "m1", UserID: "u1", Code: "love"})
	require.NoError(t, err)

	router := setupChatRouter(NewChatHandler(store, store, store, nil))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/chats/"+chat.ID+"/messages/m1/reactions", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Reactions []models.Reaction `json:"reactions"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Reactions, 1)
	assert.Equal(t, "love", resp.Reactions[0].Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/chats/"+chat.ID+"/messages/missing/reactions", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
