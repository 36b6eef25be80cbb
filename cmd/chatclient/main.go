package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"chat-realtime/internal/client"
	"chat-realtime/internal/protocol"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type options struct {
	url         string
	token       string
	chatID      string
	userID      string
	maxAttempts int
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:   "chatclient",
		Short: "Terminal client for the realtime chat service",
		Long: `chatclient joins one chat over the realtime endpoint. Plain lines are sent
as messages; /react, /typing, /join and /leave send the matching events.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, opts)
		},
	}
	cmd.CompletionOptions.DisableDefaultCmd = true

	flags := cmd.Flags()
	flags.StringVar(&opts.url, "url", "ws://localhost:8083/ws", "realtime endpoint")
	flags.StringVar(&opts.token, "token", os.Getenv("CHAT_TOKEN"), "bearer token (default $CHAT_TOKEN)")
	flags.StringVarP(&opts.chatID, "chat", "c", "", "chat id to join")
	flags.StringVarP(&opts.userID, "user", "u", "", "own user id, used to tell own echoes apart")
	flags.IntVar(&opts.maxAttempts, "max-attempts", 10, "reconnect attempts before giving up; negative for unbounded")
	cmd.MarkFlagRequired("chat")
	cmd.MarkFlagRequired("user")
	return cmd
}

func run(ctx context.Context, opts *options) error {
	manager := client.NewManager(client.Config{
		URL:         opts.url,
		Tokens:      client.StaticToken(opts.token),
		BaseDelay:   time.Second,
		MaxDelay:    30 * time.Second,
		MaxAttempts: opts.maxAttempts,
	})
	reconciler := client.NewReconciler(opts.chatID, opts.userID, manager)

	chats := manager.ChatMessages()
	defer chats.Close()
	states := manager.States()
	defer states.Close()
	reactions := manager.Reactions()
	defer reactions.Close()
	typing := manager.Typing()
	defer typing.Close()

	go func() {
		if err := reconciler.Run(ctx, chats.C); err != nil && ctx.Err() == nil {
			log.Printf("reconciler stopped: %v", err)
		}
	}()
	go printEvents(ctx, opts.chatID, states, reactions, typing)
	go printConfirmations(ctx, reconciler)

	manager.Connect(ctx)
	defer manager.Disconnect()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			handleLine(ctx, manager, reconciler, opts.chatID, line)
		}
	}
}

func handleLine(ctx context.Context, manager *client.Manager, reconciler *client.Reconciler, chatID, line string) {
	fields := strings.Fields(line)
	if len(fields) > 0 && strings.HasPrefix(fields[0], "/") {
		switch fields[0] {
		case "/react":
			if len(fields) != 3 {
				fmt.Println("usage: /react <message_id> <code>")
				return
			}
			manager.Send(protocol.Reaction{ChatID: chatID, ReactionID: protocol.NewID(), MessageID: fields[1], ReactionCode: fields[2]})
		case "/typing":
			manager.Send(protocol.Typing{ChatID: chatID, IsTyping: true})
		case "/join":
			manager.Send(protocol.JoinChat{ChatID: chatID})
		case "/leave":
			manager.Send(protocol.LeaveChat{ChatID: chatID})
		default:
			fmt.Printf("unknown command %s\n", fields[0])
		}
		return
	}

	entry, err := reconciler.Submit(ctx, line)
	if err != nil {
		if !errors.Is(err, client.ErrEmptyContent) {
			log.Printf("submit failed: %v", err)
		}
		return
	}
	fmt.Printf("… %s (pending)\n", entry.MessageID)
}

func printConfirmations(ctx context.Context, reconciler *client.Reconciler) {
	changes := reconciler.Changes()
	defer changes.Close()
	printed := map[string]bool{}
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-changes.C:
			if !ok {
				return
			}
			for _, e := range snap {
				if e.Pending || printed[e.MessageID] {
					continue
				}
				printed[e.MessageID] = true
				fmt.Printf("#%d %s %s: %s\n", e.Seq, e.SentAt.Local().Format("15:04:05"), e.SenderID, e.Content)
			}
		}
	}
}

func printEvents(ctx context.Context, chatID string, states *client.Subscription[client.State], reactions *client.Subscription[protocol.Message], typing *client.Subscription[protocol.Typing]) {
	for {
		select {
		case <-ctx.Done():
			return
		case s, ok := <-states.C:
			if !ok {
				return
			}
			fmt.Printf("[%s]\n", s)
		case r, ok := <-reactions.C:
			if !ok {
				return
			}
			if r.Chat() != chatID {
				continue
			}
			switch r := r.(type) {
			case protocol.Reaction:
				fmt.Printf("%s reacted %s to %s\n", r.UserID, r.ReactionCode, r.MessageID)
			case protocol.RemoveReaction:
				fmt.Printf("%s removed %s from %s\n", r.UserID, r.ReactionCode, r.MessageID)
			}
		case t, ok := <-typing.C:
			if !ok {
				return
			}
			if t.ChatID == chatID && t.IsTyping {
				fmt.Printf("%s is typing…\n", t.UserID)
			}
		}
	}
}
