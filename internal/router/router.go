package router

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"chat-realtime/internal/models"
	"chat-realtime/internal/notify"
	"chat-realtime/internal/observability"
	"chat-realtime/internal/protocol"
	"chat-realtime/internal/repositories"
	"chat-realtime/internal/telemetry"
)

// Rejections. The offending frame is not applied and nothing is sent back.
var (
	ErrNotParticipant    = errors.New("sender is not a participant")
	ErrEmptyContent      = errors.New("empty message content")
	ErrMissingMessageID  = errors.New("missing message_id")
	ErrMessageIDConflict = errors.New("message_id already used in another chat")
	ErrMessageNotInChat  = errors.New("message does not belong to chat")
	ErrUnknownReaction   = errors.New("reaction code not in catalog")
	ErrDuplicateReaction = errors.New("reaction already applied")
	ErrReactionNotFound  = errors.New("reaction not found")
	ErrStaleReceipt      = errors.New("read receipt does not advance")
	ErrChatNotFound      = errors.New("chat not found")
	ErrNotGroupChat      = errors.New("membership changes need a group chat")
	ErrAlreadyMember     = errors.New("already a participant")
)

// Fanout delivers an encoded frame to every live session of a user.
type Fanout interface {
	Deliver(userID string, payload []byte, exceptSessionID string) int
}

// Deps are the collaborators of a Router. Notifier and Audit may be nil.
type Deps struct {
	Chats     repositories.ChatRepository
	Messages  repositories.MessageRepository
	Reactions repositories.ReactionRepository
	Receipts  repositories.ReadReceiptRepository
	Fanout    Fanout
	Notifier  notify.Notifier
	Audit     *telemetry.AuditEmitter
}

type Config struct {
	// BroadcastReadReceipts fans accepted receipts out to the other
	// participants of the chat.
	BroadcastReadReceipts bool
}

// Router applies inbound frames: it validates them against the delivery
// state, persists what must be durable and fans the result out.
type Router struct {
	chats     repositories.ChatRepository
	messages  repositories.MessageRepository
	reactions repositories.ReactionRepository
	receipts  repositories.ReadReceiptRepository
	fanout    Fanout
	notifier  notify.Notifier
	audit     *telemetry.AuditEmitter
	cfg       Config

	locks *keyedMutex
	now   func() time.Time
}

func New(deps Deps, cfg Config) *Router {
	notifier := deps.Notifier
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Router{
		chats:     deps.Chats,
		messages:  deps.Messages,
		reactions: deps.Reactions,
		receipts:  deps.Receipts,
		fanout:    deps.Fanout,
		notifier:  notifier,
		audit:     deps.Audit,
		cfg:       cfg,
		locks:     newKeyedMutex(),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Attach returns the chats userID participates in.
func (r *Router) Attach(ctx context.Context, userID string) ([]string, error) {
	chats, err := r.chats.ListChatsForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("attach %s: %w", userID, err)
	}
	ids := make([]string, 0, len(chats))
	for _, c := range chats {
		ids = append(ids, c.ID)
	}
	return ids, nil
}

// Handle applies msg on behalf of userID, whose session is sessionID. Any
// identity carried by the frame is replaced by userID.
func (r *Router) Handle(ctx context.Context, sessionID, userID string, msg protocol.Message) error {
	ctx, span := otel.Tracer("chat-realtime/router").Start(ctx, "router."+string(msg.Type()),
		trace.WithAttributes(
			attribute.String("chat.id", msg.Chat()),
			attribute.String("user.id", userID),
		))
	defer span.End()

	var err error
	switch m := msg.(type) {
	case protocol.ChatMessage:
		err = r.handleChatMessage(ctx, userID, m)
	case protocol.Reaction:
		err = r.handleReaction(ctx, userID, m)
	case protocol.RemoveReaction:
		err = r.handleRemoveReaction(ctx, userID, m)
	case protocol.ReadReceipt:
		err = r.handleReadReceipt(ctx, userID, m)
	case protocol.Typing:
		err = r.handleTyping(ctx, userID, m)
	case protocol.JoinChat:
		err = r.handleJoin(ctx, userID, m)
	case protocol.LeaveChat:
		err = r.handleLeave(ctx, userID, m)
	default:
		err = fmt.Errorf("%w: %s", protocol.ErrUnknownType, msg.Type())
	}

	switch {
	case err == nil:
		observability.IncRouted(string(msg.Type()), "accepted")
	case isRejection(err):
		observability.IncRouted(string(msg.Type()), "rejected")
		span.SetStatus(codes.Error, "rejected")
		log.Printf("router rejected type=%s chat_id=%s user_id=%s: %v", msg.Type(), msg.Chat(), userID, err)
		r.audit.Emit(ctx, sessionID, userID, telemetry.AuditPayload{
			Level:       "warn",
			Text:        err.Error(),
			ChatID:      msg.Chat(),
			MessageType: string(msg.Type()),
		})
	default:
		observability.IncRouted(string(msg.Type()), "failed")
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Printf("router failed type=%s chat_id=%s user_id=%s: %v", msg.Type(), msg.Chat(), userID, err)
	}
	return err
}

var rejections = []error{
	ErrNotParticipant, ErrEmptyContent, ErrMissingMessageID, ErrMessageIDConflict,
	ErrMessageNotInChat, ErrUnknownReaction, ErrDuplicateReaction, ErrReactionNotFound,
	ErrStaleReceipt, ErrChatNotFound, ErrNotGroupChat, ErrAlreadyMember,
}

func isRejection(err error) bool {
	for _, target := range rejections {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func (r *Router) requireParticipant(ctx context.Context, chatID, userID string) error {
	ok, err := r.chats.IsParticipant(ctx, chatID, userID)
	if err != nil {
		return fmt.Errorf("participant check: %w", err)
	}
	if !ok {
		return ErrNotParticipant
	}
	return nil
}

// messageInChat resolves a referenced message and checks it belongs to chatID.
func (r *Router) messageInChat(ctx context.Context, chatID, messageID string) (models.Message, error) {
	if messageID == "" {
		return models.Message{}, ErrMissingMessageID
	}
	msg, err := r.messages.GetMessage(ctx, messageID)
	if errors.Is(err, repositories.ErrMessageNotFound) {
		return models.Message{}, ErrMessageNotInChat
	}
	if err != nil {
		return models.Message{}, fmt.Errorf("load message: %w", err)
	}
	if msg.ChatID != chatID {
		return models.Message{}, ErrMessageNotInChat
	}
	return msg, nil
}

func (r *Router) handleChatMessage(ctx context.Context, userID string, m protocol.ChatMessage) error {
	content := strings.TrimSpace(m.Content)
	if content == "" {
		return ErrEmptyContent
	}
	if m.MessageID == "" {
		return ErrMissingMessageID
	}
	if err := r.requireParticipant(ctx, m.ChatID, userID); err != nil {
		return err
	}

	offline, err := r.appendAndFanout(ctx, userID, m.ChatID, models.NewMessage{
		ID:       m.MessageID,
		ChatID:   m.ChatID,
		SenderID: userID,
		Content:  content,
	})
	if err != nil {
		return err
	}

	for _, p := range offline {
		if err := r.notifier.NotifyOffline(ctx, p.userID, p.event); err != nil {
			log.Printf("push handoff failed user_id=%s chat_id=%s: %v", p.userID, m.ChatID, err)
			continue
		}
		observability.IncPushHandoff()
	}
	return nil
}

type offlineTarget struct {
	userID string
	event  protocol.Message
}

// appendAndFanout persists msg and enqueues its echo while holding the chat
// lock, so every session observes a chat's messages in sequence order.
func (r *Router) appendAndFanout(ctx context.Context, senderID, chatID string, msg models.NewMessage) ([]offlineTarget, error) {
	unlock := r.locks.Lock(chatID)
	defer unlock()

	stored, created, err := r.messages.AppendMessage(ctx, msg)
	switch {
	case errors.Is(err, repositories.ErrMessageIDConflict):
		return nil, ErrMessageIDConflict
	case errors.Is(err, repositories.ErrEmptyContent):
		return nil, ErrEmptyContent
	case errors.Is(err, repositories.ErrChatNotFound):
		return nil, ErrChatNotFound
	case err != nil:
		return nil, fmt.Errorf("append message: %w", err)
	}

	sentAt := stored.SentAt
	echo := protocol.ChatMessage{
		ChatID:    stored.ChatID,
		MessageID: stored.ID,
		SenderID:  stored.SenderID,
		Content:   stored.Content,
		Seq:       stored.Seq,
		SentAt:    &sentAt,
	}
	payload, err := protocol.Encode(echo)
	if err != nil {
		return nil, fmt.Errorf("encode echo: %w", err)
	}

	if !created {
		// A retransmit: the other participants already have it.
		r.fanout.Deliver(senderID, payload, "")
		return nil, nil
	}

	participants, err := r.chats.ListParticipants(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	var offline []offlineTarget
	for _, p := range participants {
		if r.fanout.Deliver(p, payload, "") == 0 && p != senderID {
			offline = append(offline, offlineTarget{userID: p, event: echo})
		}
	}
	return offline, nil
}

// broadcast encodes event and delivers it to the chat's participants,
// skipping skipUserID when it is set.
func (r *Router) broadcast(ctx context.Context, chatID string, event protocol.Message, skipUserID string) error {
	payload, err := protocol.Encode(event)
	if err != nil {
		return fmt.Errorf("encode %s: %w", event.Type(), err)
	}
	participants, err := r.chats.ListParticipants(ctx, chatID)
	if err != nil {
		return fmt.Errorf("list participants: %w", err)
	}
	r.deliverAll(participants, payload, skipUserID)
	return nil
}

func (r *Router) deliverAll(userIDs []string, payload []byte, skipUserID string) {
	for _, p := range userIDs {
		if skipUserID != "" && p == skipUserID {
			continue
		}
		r.fanout.Deliver(p, payload, "")
	}
}

func (r *Router) handleReaction(ctx context.Context, userID string, m protocol.Reaction) error {
	if !models.IsKnownReaction(m.ReactionCode) {
		return ErrUnknownReaction
	}
	if err := r.requireParticipant(ctx, m.ChatID, userID); err != nil {
		return err
	}
	if _, err := r.messageInChat(ctx, m.ChatID, m.MessageID); err != nil {
		return err
	}

	unlock := r.locks.Lock(m.ChatID)
	defer unlock()

	stored, err := r.reactions.AddReaction(ctx, models.Reaction{
		ID:        m.ReactionID,
		MessageID: m.MessageID,
		UserID:    userID,
		Code:      m.ReactionCode,
	})
	if errors.Is(err, repositories.ErrDuplicateReaction) {
		return ErrDuplicateReaction
	}
	if err != nil {
		return fmt.Errorf("add reaction: %w", err)
	}

	reactedAt := stored.ReactedAt
	return r.broadcast(ctx, m.ChatID, protocol.Reaction{
		ChatID:       m.ChatID,
		ReactionID:   stored.ID,
		MessageID:    stored.MessageID,
		UserID:       userID,
		ReactionCode: stored.Code,
		ReactedAt:    &reactedAt,
	}, "")
}

func (r *Router) handleRemoveReaction(ctx context.Context, userID string, m protocol.RemoveReaction) error {
	if !models.IsKnownReaction(m.ReactionCode) {
		return ErrUnknownReaction
	}
	if err := r.requireParticipant(ctx, m.ChatID, userID); err != nil {
		return err
	}
	if _, err := r.messageInChat(ctx, m.ChatID, m.MessageID); err != nil {
		return err
	}

	unlock := r.locks.Lock(m.ChatID)
	defer unlock()

	removed, err := r.reactions.RemoveReaction(ctx, m.MessageID, userID, m.ReactionCode)
	if errors.Is(err, repositories.ErrReactionNotFound) {
		return ErrReactionNotFound
	}
	if err != nil {
		return fmt.Errorf("remove reaction: %w", err)
	}

	removedAt := r.now()
	return r.broadcast(ctx, m.ChatID, protocol.RemoveReaction{
		ChatID:       m.ChatID,
		ReactionID:   removed.ID,
		MessageID:    removed.MessageID,
		UserID:       userID,
		ReactionCode: removed.Code,
		RemovedAt:    &removedAt,
	}, "")
}

func (r *Router) handleReadReceipt(ctx context.Context, userID string, m protocol.ReadReceipt) error {
	if err := r.requireParticipant(ctx, m.ChatID, userID); err != nil {
		return err
	}
	target, err := r.messageInChat(ctx, m.ChatID, m.MessageID)
	if err != nil {
		return err
	}

	receipt, advanced, err := r.receipts.UpsertReadReceipt(ctx, userID, m.ChatID, target.Seq)
	if err != nil {
		return fmt.Errorf("upsert receipt: %w", err)
	}
	if !advanced {
		return ErrStaleReceipt
	}
	if !r.cfg.BroadcastReadReceipts {
		return nil
	}

	readAt := receipt.ReadAt
	return r.broadcast(ctx, m.ChatID, protocol.ReadReceipt{
		ChatID:    m.ChatID,
		UserID:    userID,
		MessageID: m.MessageID,
		ReadAt:    &readAt,
	}, userID)
}

func (r *Router) handleTyping(ctx context.Context, userID string, m protocol.Typing) error {
	if err := r.requireParticipant(ctx, m.ChatID, userID); err != nil {
		return err
	}
	ts := r.now()
	return r.broadcast(ctx, m.ChatID, protocol.Typing{
		ChatID:    m.ChatID,
		UserID:    userID,
		IsTyping:  m.IsTyping,
		Timestamp: &ts,
	}, userID)
}

func (r *Router) groupChat(ctx context.Context, chatID string) error {
	chat, err := r.chats.GetChat(ctx, chatID)
	if errors.Is(err, repositories.ErrChatNotFound) {
		return ErrChatNotFound
	}
	if err != nil {
		return fmt.Errorf("load chat: %w", err)
	}
	if !chat.IsGroup {
		return ErrNotGroupChat
	}
	return nil
}

func (r *Router) handleJoin(ctx context.Context, userID string, m protocol.JoinChat) error {
	if err := r.groupChat(ctx, m.ChatID); err != nil {
		return err
	}

	unlock := r.locks.Lock(m.ChatID)
	defer unlock()

	p, err := r.chats.AddParticipant(ctx, m.ChatID, userID)
	switch {
	case errors.Is(err, repositories.ErrAlreadyParticipant):
		return ErrAlreadyMember
	case errors.Is(err, repositories.ErrDirectChatMembership):
		return ErrNotGroupChat
	case err != nil:
		return fmt.Errorf("add participant: %w", err)
	}

	joinedAt := p.JoinedAt
	return r.broadcast(ctx, m.ChatID, protocol.JoinChat{
		ChatID:   m.ChatID,
		UserID:   userID,
		JoinedAt: &joinedAt,
	}, "")
}

func (r *Router) handleLeave(ctx context.Context, userID string, m protocol.LeaveChat) error {
	if err := r.groupChat(ctx, m.ChatID); err != nil {
		return err
	}

	unlock := r.locks.Lock(m.ChatID)
	defer unlock()

	// Captured before removal so the leaver hears its own departure.
	participants, err := r.chats.ListParticipants(ctx, m.ChatID)
	if err != nil {
		return fmt.Errorf("list participants: %w", err)
	}
	err = r.chats.RemoveParticipant(ctx, m.ChatID, userID)
	switch {
	case errors.Is(err, repositories.ErrNotParticipant):
		return ErrNotParticipant
	case errors.Is(err, repositories.ErrDirectChatMembership):
		return ErrNotGroupChat
	case err != nil:
		return fmt.Errorf("remove participant: %w", err)
	}

	leftAt := r.now()
	payload, err := protocol.Encode(protocol.LeaveChat{ChatID: m.ChatID, UserID: userID, LeftAt: &leftAt})
	if err != nil {
		return fmt.Errorf("encode leave_chat: %w", err)
	}
	r.deliverAll(participants, payload, "")
	return nil
}
