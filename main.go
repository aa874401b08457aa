package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	grpc "google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"chat-core/internal/attachments"
	"chat-core/internal/blobstore"
	"chat-core/internal/cache"
	"chat-core/internal/config"
	"chat-core/internal/db"
	"chat-core/internal/fanout"
	grpcclient "chat-core/internal/grpc"
	"chat-core/internal/handlers"
	"chat-core/internal/logging"
	"chat-core/internal/memstore"
	"chat-core/internal/middleware"
	"chat-core/internal/observability"
	"chat-core/internal/rabbitmq"
	"chat-core/internal/repositories"
	"chat-core/internal/session"
	"chat-core/internal/telemetry"
	"chat-core/internal/tracing"
	"chat-core/internal/ws"
)

const (
	serviceName     = "chat-core"
	auditRoutingKey = "audit.chats"
	fanoutChannel   = "chat-core:fanout"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync() //nolint:errcheck

	if err := run(cfg, log); err != nil {
		log.Fatal("chat-core stopped", zap.Error(err))
	}
}

// stores groups the repositories of one backend.
type stores struct {
	chats       repositories.ChatRepository
	messages    repositories.MessageRepository
	users       repositories.UserRepository
	attachments repositories.AttachmentRepository
	sessions    session.Validator
	database    *sqlx.DB
}

func run(cfg config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Setup(ctx, serviceName, cfg.Environment, cfg.OTLPEndpoint, log)
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			log.Warn("tracing shutdown", zap.Error(err))
		}
	}()

	st, err := openStores(ctx, cfg, log)
	if err != nil {
		return err
	}
	if st.database != nil {
		defer st.database.Close()
	}

	pingers := map[string]handlers.Pinger{}
	if st.database != nil {
		pingers["postgres"] = st.database.PingContext
	}

	if cfg.SessionBackend == "grpc" {
		conn, err := grpc.Dial(cfg.SessionGRPCAddr,
			grpc.WithTransportCredentials(insecure.NewCredentials()),
			grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
			grpc.WithUnaryInterceptor(observability.GRPCClientMetricsUnaryInterceptor()),
		)
		if err != nil {
			return fmt.Errorf("dial session grpc: %w", err)
		}
		defer conn.Close()
		st.sessions = grpcclient.NewSessionClient(conn)
	}

	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer rdb.Close()
		pingers["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}

	blobs, err := blobstore.Open(cfg.BlobDir, log)
	if err != nil {
		return fmt.Errorf("open blob store: %w", err)
	}
	defer blobs.Close()

	publisher := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange, log)
	defer publisher.Close()
	observability.SetPublisher(publisher)
	busStatus := rabbitmq.Describe(publisher)
	log.Info("event publisher ready",
		zap.String("mode", busStatus.Mode),
		zap.String("exchange", busStatus.Exchange),
		zap.String("noop_reason", busStatus.Reason))
	audit := telemetry.NewAuditEmitter(publisher, auditRoutingKey, serviceName, cfg.Environment, log)

	attachmentSvc := attachments.NewService(st.attachments, st.chats, st.users, blobs, cfg.MaxUploadBytes, log)
	members := cache.NewMembers(st.chats, rdb, cache.DefaultMembersTTL, log)

	hub := ws.NewHub(log)
	g, gctx := errgroup.WithContext(ctx)

	var out ws.Broadcaster = hub
	if rdb != nil {
		relay := fanout.NewRelay(rdb, fanoutChannel, hub, log)
		g.Go(func() error { return relay.Run(gctx) })
		out = relay
	}

	dispatcher := ws.NewDispatcher(ws.Deps{
		Chats:         st.chats,
		Messages:      st.messages,
		Users:         st.users,
		Attachments:   attachmentSvc,
		Members:       members,
		Out:           out,
		Audit:         audit,
		Log:           log,
		PageSize:      cfg.PageSize,
		SnapshotChats: cfg.SnapshotChats,
	})
	wsHandler := ws.NewHandler(hub, dispatcher, st.sessions, log, ws.HandlerOptions{
		CommandRate:   cfg.CommandRate,
		CommandBurst:  cfg.CommandBurst,
		MaxFrameBytes: 2*cfg.MaxUploadBytes + 1<<20,
	})
	attachmentHandler := handlers.NewAttachmentHandler(attachmentSvc, cfg.MaxUploadBytes, audit, log)
	searchHandler := handlers.NewSearchHandler(st.users, st.chats, 20)

	if cfg.Environment != "local" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	// middlewares
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(serviceName))
	router.Use(observability.HTTPMetricsMiddleware())

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/healthz", handlers.Health(pingers))
	router.GET("/ws", wsHandler.Handle)

	optionalAuth := middleware.SessionAuth(st.sessions, false)
	requiredAuth := middleware.SessionAuth(st.sessions, true)

	router.GET("/api/attachments", optionalAuth, attachmentHandler.GetAttachment)
	router.PUT("/api/avatar", requiredAuth, attachmentHandler.PutAvatar)
	router.DELETE("/api/avatar", requiredAuth, attachmentHandler.DeleteAvatar)
	router.GET("/api/search", requiredAuth, searchHandler.Search)

	handlers.RegisterDebugRoutes(router, audit, hub, cfg.Debug)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error {
		log.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err := srv.Shutdown(sctx)
		hub.CloseAll()
		return err
	})

	return g.Wait()
}

func openStores(ctx context.Context, cfg config.Config, log *zap.Logger) (stores, error) {
	if cfg.StoreBackend == "memory" {
		mem := memstore.New()
		for _, pair := range cfg.SeedUsers {
			username, token, _ := config.SplitSeed(pair)
			mem.AddUser(username, token)
		}
		log.Warn("using in-memory store", zap.Int("seed_users", len(cfg.SeedUsers)))
		return stores{chats: mem, messages: mem, users: mem, attachments: mem, sessions: mem}, nil
	}

	database, err := db.Connect(ctx, cfg.DBDSN, log)
	if err != nil {
		return stores{}, fmt.Errorf("failed to connect to db: %w", err)
	}
	return stores{
		chats:       repositories.NewChatRepo(database),
		messages:    repositories.NewMessageRepo(database),
		users:       repositories.NewUserRepo(database),
		attachments: repositories.NewAttachmentRepo(database),
		sessions:    session.NewDBValidator(database),
		database:    database,
	}, nil
}
