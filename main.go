package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"chat-realtime/internal/auth"
	"chat-realtime/internal/config"
	"chat-realtime/internal/db"
	"chat-realtime/internal/handlers"
	"chat-realtime/internal/middleware"
	"chat-realtime/internal/notify"
	"chat-realtime/internal/observability"
	"chat-realtime/internal/rabbitmq"
	"chat-realtime/internal/repositories"
	"chat-realtime/internal/router"
	"chat-realtime/internal/telemetry"
	"chat-realtime/internal/ws"
)

type store struct {
	chats     repositories.ChatRepository
	messages  repositories.MessageRepository
	reactions repositories.ReactionRepository
	receipts  repositories.ReadReceiptRepository
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := telemetry.InitTracer(ctx, cfg.ServiceName, cfg.OTLPAddr)
	if err != nil {
		log.Fatalf("failed to init tracer: %v", err)
	}
	defer shutdownTracer(context.Background())

	publisher := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.Exchange)
	defer publisher.Close()
	log.Printf("event publisher mode=%s reason=%q", rabbitmq.PublisherMode(publisher), rabbitmq.PublisherNoopReason(publisher))
	observability.SetPublisher(publisher)

	audit := telemetry.NewAuditEmitter(publisher, "audit.chat", cfg.ServiceName, cfg.Environment)

	var notifier notify.Notifier = notify.Nop{}
	if rabbitmq.PublisherMode(publisher) == "amqp" {
		notifier = notify.NewAMQPNotifier(publisher)
	}

	st, closeStore, err := openStore(cfg)
	if err != nil {
		log.Fatalf("failed to open store: %v", err)
	}
	defer closeStore()

	jwtAuth := auth.NewJWTAuthenticator(cfg.JWTSecret, cfg.JWTIssuer)
	hub := ws.NewHub()
	chatRouter := router.New(router.Deps{
		Chats:     st.chats,
		Messages:  st.messages,
		Reactions: st.reactions,
		Receipts:  st.receipts,
		Fanout:    hub,
		Notifier:  notifier,
		Audit:     audit,
	}, router.Config{BroadcastReadReceipts: cfg.BroadcastReadReceipts})

	chatHandler := handlers.NewChatHandler(st.chats, st.messages, st.reactions, audit)
	wsHandler := ws.NewHandler(hub, chatRouter, jwtAuth, cfg.SessionBuffer)

	engine := gin.New()
	engine.Use(gin.Logger(), gin.Recovery())
	engine.Use(otelgin.Middleware(cfg.ServiceName))
	engine.Use(observability.HTTPMetricsMiddleware())

	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "sessions": hub.Count()})
	})
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	authMiddleware := middleware.AuthMiddleware(jwtAuth)
	engine.GET("/chats", authMiddleware, chatHandler.ListChats)
	engine.POST("/chats", authMiddleware, chatHandler.CreateChat)
	engine.GET("/chats/:chat_id/messages", authMiddleware, chatHandler.GetChatMessages)
	engine.GET("/chats/:chat_id/messages/:message_id/reactions", authMiddleware, chatHandler.ListReactions)

	engine.GET("/ws", wsHandler.Handle)

	handlers.RegisterDebugRoutes(engine, audit, hub, cfg.DebugRoutes)

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: engine}
	go func() {
		log.Printf("chat-realtime listening port=%s store=%s", cfg.Port, cfg.Store)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}

func openStore(cfg config.Config) (store, func(), error) {
	if cfg.Store == config.StoreMemory {
		mem := repositories.NewMemoryStore()
		log.Printf("using in-memory store")
		return store{chats: mem, messages: mem, reactions: mem, receipts: mem}, func() {}, nil
	}

	database, err := db.Connect(cfg.DBDSN)
	if err != nil {
		return store{}, nil, err
	}
	return store{
		chats:     repositories.NewChatRepo(database),
		messages:  repositories.NewMessageRepo(database),
		reactions: repositories.NewReactionRepo(database),
		receipts:  repositories.NewReadReceiptRepo(database),
	}, func() { database.Close() }, nil
}
