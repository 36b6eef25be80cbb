package repositories

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat-realtime/internal/db"
	"chat-realtime/internal/models"
)

type stores struct {
	chats     ChatRepository
	messages  MessageRepository
	reactions ReactionRepository
	receipts  ReadReceiptRepository
}

func storeBackends(t *testing.T) map[string]stores {
	mem := NewMemoryStore()
	backends := map[string]stores{
		"memory": {chats: mem, messages: mem, reactions: mem, receipts: mem},
	}

	if dsn := os.Getenv("CHAT_TEST_DB_DSN"); dsn != "" {
		conn, err := db.Connect(dsn)
		require.NoError(t, err)
		t.Cleanup(func() { conn.Close() })
		backends["postgres"] = stores{
			chats:     NewChatRepo(conn),
			messages:  NewMessageRepo(conn),
			reactions: NewReactionRepo(conn),
			receipts:  NewReadReceiptRepo(conn),
		}
	}
	return backends
}

func user() string { return "u-" + uuid.NewString() }

func TestAppendMessageAssignsConsecutiveSeq(t *testing.T) {
	for name, s := range storeBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			a, b := user(), user()
			chat, err := s.chats.CreateChat(ctx, nil, false, []string{a, b})
			require.NoError(t, err)

			for i := 1; i <= 3; i++ {
				msg, created, err := s.messages.AppendMessage(ctx, models.NewMessage{ID: uuid.NewString(), ChatID: chat.ID, SenderID: a, Content: fmt.Sprintf("m%d", i)})
				require.NoError(t, err)
				assert.True(t, created)
				assert.Equal(t, int64(i), msg.Seq)
				assert.False(t, msg.SentAt.IsZero())
			}
		})
	}
}

func TestAppendMessageConcurrentSendersNeverShareSeq(t *testing.T) {
	for name, s := range storeBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			a, b := user(), user()
			chat, err := s.chats.CreateChat(ctx, nil, true, []string{a, b})
			require.NoError(t, err)

			const senders = 40
			seqs := make(chan int64, senders)
			var wg sync.WaitGroup
			for i := 0; i < senders; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					sender := a
					if i%2 == 1 {
						sender = b
					}
					msg, _, err := s.messages.AppendMessage(ctx, models.NewMessage{ID: uuid.NewString(), ChatID: chat.ID, SenderID: sender, Content: "x"})
					if assert.NoError(t, err) {
						seqs <- msg.Seq
					}
				}(i)
			}
			wg.Wait()
			close(seqs)

			seen := map[int64]bool{}
			for seq := range seqs {
				assert.False(t, seen[seq], "seq %d reused", seq)
				seen[seq] = true
			}
			require.Len(t, seen, senders)
			for i := int64(1); i <= senders; i++ {
				assert.True(t, seen[i], "seq %d missing", i)
			}

			history, err := s.messages.ListMessagesAfter(ctx, chat.ID, 0, senders)
			require.NoError(t, err)
			for i := 1; i < len(history); i++ {
				assert.Less(t, history[i-1].Seq, history[i].Seq)
			}
		})
	}
}

func TestSentAtFollowsSeqUnderConcurrentAppends(t *testing.T) {
	for name, s := range storeBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			a, b := user(), user()
			chat, err := s.chats.CreateChat(ctx, nil, true, []string{a, b})
			require.NoError(t, err)

			var wg sync.WaitGroup
			for i := 0; i < 20; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					_, _, err := s.messages.AppendMessage(ctx, models.NewMessage{ID: uuid.NewString(), ChatID: chat.ID, SenderID: a, Content: fmt.Sprintf("m%d", i)})
					assert.NoError(t, err)
				}(i)
			}
			wg.Wait()

			msgs, err := s.messages.ListMessagesAfter(ctx, chat.ID, 0, 0)
			require.NoError(t, err)
			require.Len(t, msgs, 20)
			for i := 1; i < len(msgs); i++ {
				assert.False(t, msgs[i].SentAt.Before(msgs[i-1].SentAt), "seq %d sent before seq %d", msgs[i].Seq, msgs[i-1].Seq)
			}
		})
	}
}

func TestAppendMessageIsIdempotentOnID(t *testing.T) {
	for name, s := range storeBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			a, b := user(), user()
			chat, err := s.chats.CreateChat(ctx, nil, false, []string{a, b})
			require.NoError(t, err)

			in := models.NewMessage{ID: uuid.NewString(), ChatID: chat.ID, SenderID: a, Content: "hi"}
			first, created, err := s.messages.AppendMessage(ctx, in)
			require.NoError(t, err)
			require.True(t, created)

			again, created, err := s.messages.AppendMessage(ctx, in)
			require.NoError(t, err)
			assert.False(t, created)
			assert.Equal(t, first.Seq, again.Seq)

			next, _, err := s.messages.AppendMessage(ctx, models.NewMessage{ID: uuid.NewString(), ChatID: chat.ID, SenderID: b, Content: "yo"})
			require.NoError(t, err)
			assert.Equal(t, first.Seq+1, next.Seq, "retransmit must not consume a seq")
		})
	}
}

func TestAppendMessageRejectsBlankContent(t *testing.T) {
	for name, s := range storeBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			chat, err := s.chats.CreateChat(ctx, nil, false, []string{user(), user()})
			require.NoError(t, err)

			_, _, err = s.messages.AppendMessage(ctx, models.NewMessage{ID: uuid.NewString(), ChatID: chat.ID, SenderID: "x", Content: "   "})
			assert.ErrorIs(t, err, ErrEmptyContent)
		})
	}
}

func TestDuplicateReactionRejected(t *testing.T) {
	for name, s := range storeBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			a, b := user(), user()
			chat, err := s.chats.CreateChat(ctx, nil, false, []string{a, b})
			require.NoError(t, err)
			msg, _, err := s.messages.AppendMessage(ctx, models.NewMessage{ID: uuid.NewString(), ChatID: chat.ID, SenderID: a, Content: "hi"})
			require.NoError(t, err)

			_, err = s.reactions.AddReaction(ctx, models.Reaction{ID: uuid.NewString(), MessageID: msg.ID, UserID: b, Code: "like"})
			require.NoError(t, err)
			_, err = s.reactions.AddReaction(ctx, models.Reaction{ID: uuid.NewString(), MessageID: msg.ID, UserID: b, Code: "like"})
			assert.ErrorIs(t, err, ErrDuplicateReaction)

			_, err = s.reactions.AddReaction(ctx, models.Reaction{ID: uuid.NewString(), MessageID: msg.ID, UserID: b, Code: "love"})
			assert.NoError(t, err, "different code is a different reaction")

			removed, err := s.reactions.RemoveReaction(ctx, msg.ID, b, "like")
			require.NoError(t, err)
			assert.Equal(t, "like", removed.Code)
			_, err = s.reactions.RemoveReaction(ctx, msg.ID, b, "like")
			assert.ErrorIs(t, err, ErrReactionNotFound)

			list, err := s.reactions.ListReactions(ctx, msg.ID)
			require.NoError(t, err)
			assert.Len(t, list, 1)
		})
	}
}

func TestReadReceiptNeverMovesBackwards(t *testing.T) {
	for name, s := range storeBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			a := user()
			chat, err := s.chats.CreateChat(ctx, nil, false, []string{a, user()})
			require.NoError(t, err)

			receipt, advanced, err := s.receipts.UpsertReadReceipt(ctx, a, chat.ID, 5)
			require.NoError(t, err)
			assert.True(t, advanced)
			assert.Equal(t, int64(5), receipt.LastReadSeq)

			receipt, advanced, err = s.receipts.UpsertReadReceipt(ctx, a, chat.ID, 4)
			require.NoError(t, err)
			assert.False(t, advanced)
			assert.Equal(t, int64(5), receipt.LastReadSeq)

			_, advanced, err = s.receipts.UpsertReadReceipt(ctx, a, chat.ID, 5)
			require.NoError(t, err)
			assert.False(t, advanced)

			stored, err := s.receipts.GetReadReceipt(ctx, a, chat.ID)
			require.NoError(t, err)
			assert.Equal(t, int64(5), stored.LastReadSeq)
		})
	}
}

func TestDirectChatMembershipRules(t *testing.T) {
	for name, s := range storeBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			a, b := user(), user()

			_, err := s.chats.CreateChat(ctx, nil, false, []string{a})
			assert.ErrorIs(t, err, ErrInvalidParticipants)

			direct, err := s.chats.CreateChat(ctx, nil, false, []string{a, b})
			require.NoError(t, err)
			again, err := s.chats.CreateChat(ctx, nil, false, []string{b, a})
			require.NoError(t, err)
			assert.Equal(t, direct.ID, again.ID)

			_, err = s.chats.AddParticipant(ctx, direct.ID, user())
			assert.ErrorIs(t, err, ErrDirectChatMembership)
		})
	}
}

func TestGroupKeepsChatAfterLastParticipantLeaves(t *testing.T) {
	for name, s := range storeBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			a, c := user(), user()
			name := "team"
			group, err := s.chats.CreateChat(ctx, &name, true, []string{a})
			require.NoError(t, err)

			_, err = s.chats.AddParticipant(ctx, group.ID, c)
			require.NoError(t, err)
			_, err = s.chats.AddParticipant(ctx, group.ID, c)
			assert.ErrorIs(t, err, ErrAlreadyParticipant)

			require.NoError(t, s.chats.RemoveParticipant(ctx, group.ID, a))
			require.NoError(t, s.chats.RemoveParticipant(ctx, group.ID, c))
			assert.ErrorIs(t, s.chats.RemoveParticipant(ctx, group.ID, c), ErrNotParticipant)

			_, err = s.chats.GetChat(ctx, group.ID)
			assert.NoError(t, err)
			ids, err := s.chats.ListParticipants(ctx, group.ID)
			require.NoError(t, err)
			assert.Empty(t, ids)
		})
	}
}
