package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"

	"ms-pickup/internal/api"
	"ms-pickup/internal/auth"
	"ms-pickup/internal/config"
	"ms-pickup/internal/feed"
	"ms-pickup/internal/interact"
	"ms-pickup/internal/kafka"
	"ms-pickup/internal/lifecycle"
	"ms-pickup/internal/logger"
	"ms-pickup/internal/sse"
	"ms-pickup/internal/store"
)

func openDatabase(cfg *config.Config, log *logger.Logger) *bun.DB {
	sqldb, err := sql.Open("postgres", cfg.Database.DSN)
	if err != nil {
		log.Fatal("DATABASE", "Failed to open Postgres: "+err.Error())
	}
	sqldb.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	sqldb.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	sqldb.SetConnMaxLifetime(cfg.Database.MaxLifetime)
	if err := sqldb.Ping(); err != nil {
		log.Fatal("DATABASE", "Failed to connect to Postgres: "+err.Error())
	}
	log.Info("DATABASE", "Postgres connection successful")
	return bun.NewDB(sqldb, pgdialect.New())
}

func openRedis(cfg *config.Config, log *logger.Logger) *redis.Client {
	client := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		log.Fatal("REDIS", "Failed to connect to Redis: "+err.Error())
	}
	log.Info("REDIS", "Redis connection successful")
	return client
}

func buildVerifier(cfg *config.Config, log *logger.Logger) auth.Verifier {
	if cfg.Auth.OIDCIssuer != "" {
		verifier, err := auth.NewOIDCVerifier(context.Background(), cfg.Auth.OIDCIssuer)
		if err != nil {
			log.Fatal("AUTH", "Failed to create OIDC verifier: "+err.Error())
		}
		log.Info("AUTH", "Using OIDC issuer "+cfg.Auth.OIDCIssuer)
		return verifier
	}
	log.Warn("AUTH", "OIDC_ISSUER not set, using shared-secret tokens")
	return auth.SecretVerifier{Secret: cfg.Auth.JWTSecret}
}

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	log := logger.NewLogger()
	defer log.Close()

	bunDB := openDatabase(cfg, log)
	defer bunDB.Close()

	redisClient := openRedis(cfg, log)
	defer redisClient.Close()

	db := &store.DB{Bun: bunDB}
	notifier := store.NewNotifier(redisClient)

	var events lifecycle.EventPublisher
	if cfg.Kafka.Enabled {
		producer := kafka.NewProducer(cfg.Kafka.Brokers, kafka.TopicTicketEvents, log)
		producer.MockMode = cfg.Kafka.MockMode
		defer producer.Close()
		events = producer
	}

	engine := lifecycle.NewEngine(db, notifier, events)
	engine.Window = cfg.Board.VisibilityWindow

	controller := interact.NewController(engine, log)
	controller.ArmTimeout = cfg.Board.ArmTimeout
	defer controller.Close()

	serverCtx, stopServer := context.WithCancel(context.Background())
	defer stopServer()

	emitter := sse.NewBoardEmitter()
	subscribe := func(ctx context.Context, scope string) (feed.ChangeFeed, error) {
		return notifier.SubscribeChanges(ctx, scope)
	}
	boards := feed.NewManager(serverCtx, func() *feed.Reconciler {
		rec := feed.NewReconciler(db, subscribe, log)
		rec.Interval = cfg.Board.PollInterval
		rec.Window = cfg.Board.VisibilityWindow
		rec.OnUpdate = emitter.Emit
		return rec
	})

	handler := &api.Handler{
		Engine:   engine,
		Interact: controller,
		Store:    db,
		Boards:   boards,
		Emitter:  emitter,
		Logger:   log,
	}

	r := chi.NewRouter()
	r.Use(api.RequestLogger(log))
	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(buildVerifier(cfg, log), db))
		handler.Routes(r)
	})

	server := &http.Server{
		Addr:        cfg.Server.Port,
		Handler:     r,
		ReadTimeout: cfg.Server.ReadTimeout,
		IdleTimeout: cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info("SERVER", "Pickup board service on "+cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("SERVER", "HTTP error: "+err.Error())
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	stopServer()
	ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = server.Shutdown(ctxShutdown)
	log.Info("SERVER", "Shutdown complete")
}
