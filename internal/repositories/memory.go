package repositories

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"chat-realtime/internal/models"
)

// MemoryStore implements every repository interface in process memory. It is
// used when no database is configured and in tests.
type MemoryStore struct {
	mu           sync.RWMutex
	chats        map[string]*memoryChat
	messages     map[string]models.Message
	reactions    map[reactionKey]models.Reaction
	receipts     map[receiptKey]models.ReadReceipt
	now          func() time.Time
	failAppendOn func(models.NewMessage) error
}

type memoryChat struct {
	// seqMu serializes appends of one chat.
	seqMu        sync.Mutex
	chat         models.Chat
	participants map[string]time.Time
	bySeq        []string
}

type reactionKey struct {
	messageID, userID, code string
}

type receiptKey struct {
	userID, chatID string
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		chats:     make(map[string]*memoryChat),
		messages:  make(map[string]models.Message),
		reactions: make(map[reactionKey]models.Reaction),
		receipts:  make(map[receiptKey]models.ReadReceipt),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// FailAppends makes AppendMessage return the error produced by fn, for
// exercising persistence failures. A nil fn restores normal behavior.
func (s *MemoryStore) FailAppends(fn func(models.NewMessage) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failAppendOn = fn
}

func (s *MemoryStore) CreateChat(ctx context.Context, name *string, isGroup bool, participantIDs []string) (models.Chat, error) {
	ids := dedupe(participantIDs)
	if (!isGroup && len(ids) != 2) || len(ids) == 0 {
		return models.Chat{}, ErrInvalidParticipants
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !isGroup {
		for _, c := range s.chats {
			if c.chat.IsGroup || len(c.participants) != 2 {
				continue
			}
			_, a := c.participants[ids[0]]
			_, b := c.participants[ids[1]]
			if a && b {
				return c.chat, nil
			}
		}
	}

	now := s.now()
	c := &memoryChat{
		chat:         models.Chat{ID: newID(), Name: name, IsGroup: isGroup, CreatedAt: now},
		participants: make(map[string]time.Time, len(ids)),
	}
	for _, id := range ids {
		c.participants[id] = now
	}
	s.chats[c.chat.ID] = c
	return c.chat, nil
}

func (s *MemoryStore) GetChat(ctx context.Context, chatID string) (models.Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.chats[chatID]
	if !ok {
		return models.Chat{}, ErrChatNotFound
	}
	return c.chat, nil
}

func (s *MemoryStore) IsParticipant(ctx context.Context, chatID string, userID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.chats[chatID]
	if !ok {
		return false, nil
	}
	_, member := c.participants[userID]
	return member, nil
}

func (s *MemoryStore) ListParticipants(ctx context.Context, chatID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.chats[chatID]
	if !ok {
		return nil, nil
	}
	ids := make([]string, 0, len(c.participants))
	for id := range c.participants {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		ti, tj := c.participants[ids[i]], c.participants[ids[j]]
		if ti.Equal(tj) {
			return ids[i] < ids[j]
		}
		return ti.Before(tj)
	})
	return ids, nil
}

func (s *MemoryStore) ListChatsForUser(ctx context.Context, userID string) ([]models.Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var chats []models.Chat
	for _, c := range s.chats {
		if _, ok := c.participants[userID]; ok {
			chats = append(chats, c.chat)
		}
	}
	sort.Slice(chats, func(i, j int) bool { return chats[i].CreatedAt.After(chats[j].CreatedAt) })
	return chats, nil
}

func (s *MemoryStore) AddParticipant(ctx context.Context, chatID string, userID string) (models.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chats[chatID]
	if !ok {
		return models.Participant{}, ErrChatNotFound
	}
	if !c.chat.IsGroup {
		return models.Participant{}, ErrDirectChatMembership
	}
	if _, exists := c.participants[userID]; exists {
		return models.Participant{}, ErrAlreadyParticipant
	}
	now := s.now()
	c.participants[userID] = now
	return models.Participant{ChatID: chatID, UserID: userID, JoinedAt: now}, nil
}

func (s *MemoryStore) RemoveParticipant(ctx context.Context, chatID string, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chats[chatID]
	if !ok {
		return ErrChatNotFound
	}
	if !c.chat.IsGroup {
		return ErrDirectChatMembership
	}
	if _, exists := c.participants[userID]; !exists {
		return ErrNotParticipant
	}
	delete(c.participants, userID)
	return nil
}

func (s *MemoryStore) AppendMessage(ctx context.Context, msg models.NewMessage) (models.Message, bool, error) {
	if strings.TrimSpace(msg.Content) == "" {
		return models.Message{}, false, ErrEmptyContent
	}

	s.mu.RLock()
	c, ok := s.chats[msg.ChatID]
	fail := s.failAppendOn
	s.mu.RUnlock()
	if !ok {
		return models.Message{}, false, ErrChatNotFound
	}
	if fail != nil {
		if err := fail(msg); err != nil {
			return models.Message{}, false, err
		}
	}

	c.seqMu.Lock()
	defer c.seqMu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, dup := s.messages[msg.ID]; dup {
		if existing.ChatID != msg.ChatID {
			return models.Message{}, false, ErrMessageIDConflict
		}
		return existing, false, nil
	}
	c.chat.LastSeq++
	stored := models.Message{
		ID:       msg.ID,
		ChatID:   msg.ChatID,
		SenderID: msg.SenderID,
		Content:  msg.Content,
		Seq:      c.chat.LastSeq,
		SentAt:   s.now(),
	}
	s.messages[msg.ID] = stored
	c.bySeq = append(c.bySeq, msg.ID)
	return stored, true, nil
}

func (s *MemoryStore) GetMessage(ctx context.Context, messageID string) (models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msg, ok := s.messages[messageID]
	if !ok {
		return models.Message{}, ErrMessageNotFound
	}
	return msg, nil
}

func (s *MemoryStore) ListMessagesAfter(ctx context.Context, chatID string, afterSeq int64, limit int) ([]models.Message, error) {
	if limit <= 0 || limit > DefaultHistoryLimit {
		limit = DefaultHistoryLimit
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.chats[chatID]
	if !ok {
		return nil, nil
	}
	start := int(afterSeq)
	if start < 0 {
		start = 0
	}
	var out []models.Message
	// bySeq[i] holds seq i+1.
	for i := start; i < len(c.bySeq) && len(out) < limit; i++ {
		out = append(out, s.messages[c.bySeq[i]])
	}
	return out, nil
}

func (s *MemoryStore) AddReaction(ctx context.Context, reaction models.Reaction) (models.Reaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := reactionKey{reaction.MessageID, reaction.UserID, reaction.Code}
	if _, dup := s.reactions[key]; dup {
		return models.Reaction{}, ErrDuplicateReaction
	}
	if reaction.ID == "" {
		reaction.ID = newID()
	}
	reaction.ReactedAt = s.now()
	s.reactions[key] = reaction
	return reaction, nil
}

func (s *MemoryStore) RemoveReaction(ctx context.Context, messageID string, userID string, code string) (models.Reaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := reactionKey{messageID, userID, code}
	removed, ok := s.reactions[key]
	if !ok {
		return models.Reaction{}, ErrReactionNotFound
	}
	delete(s.reactions, key)
	return removed, nil
}

func (s *MemoryStore) ListReactions(ctx context.Context, messageID string) ([]models.Reaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Reaction
	for key, r := range s.reactions {
		if key.messageID == messageID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ReactedAt.Equal(out[j].ReactedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].ReactedAt.Before(out[j].ReactedAt)
	})
	return out, nil
}

func (s *MemoryStore) UpsertReadReceipt(ctx context.Context, userID string, chatID string, seq int64) (models.ReadReceipt, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := receiptKey{userID, chatID}
	current, ok := s.receipts[key]
	if ok && current.LastReadSeq >= seq {
		return current, false, nil
	}
	receipt := models.ReadReceipt{UserID: userID, ChatID: chatID, LastReadSeq: seq, ReadAt: s.now()}
	s.receipts[key] = receipt
	return receipt, true, nil
}

func (s *MemoryStore) GetReadReceipt(ctx context.Context, userID string, chatID string) (models.ReadReceipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	receipt, ok := s.receipts[receiptKey{userID, chatID}]
	if !ok {
		return models.ReadReceipt{}, ErrReceiptNotFound
	}
	return receipt, nil
}

var (
	_ ChatRepository        = (*MemoryStore)(nil)
	_ MessageRepository     = (*MemoryStore)(nil)
	_ ReactionRepository    = (*MemoryStore)(nil)
	_ ReadReceiptRepository = (*MemoryStore)(nil)
	_ ChatRepository        = (*ChatRepo)(nil)
	_ MessageRepository     = (*MessageRepo)(nil)
	_ ReactionRepository    = (*ReactionRepo)(nil)
	_ ReadReceiptRepository = (*ReadReceiptRepo)(nil)
)
