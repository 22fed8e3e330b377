package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	redisclient "github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/khatteland/gatehouse/internal/access"
	"github.com/khatteland/gatehouse/internal/adapters/crdb"
	mongoadapter "github.com/khatteland/gatehouse/internal/adapters/mongo"
	redisadapter "github.com/khatteland/gatehouse/internal/adapters/redis"
	"github.com/khatteland/gatehouse/internal/config"
	"github.com/khatteland/gatehouse/internal/engine"
	httphandler "github.com/khatteland/gatehouse/internal/http"
	"github.com/khatteland/gatehouse/internal/idempotency"
	"github.com/khatteland/gatehouse/internal/locking"
	"github.com/khatteland/gatehouse/internal/notify"
	"github.com/khatteland/gatehouse/internal/observability"
	"github.com/khatteland/gatehouse/internal/payment"
	"github.com/khatteland/gatehouse/internal/rateLimit"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	shutdownOtel, err := observability.SetupOTel(context.Background(), cfg.OTLPEndpoint)
	if err != nil {
		log.Fatalf("failed to setup otel: %v", err)
	}
	defer shutdownOtel()

	logger := observability.NewLogger(cfg.LogLevel)

	pool, err := pgxpool.New(context.Background(), cfg.CRDBDSN)
	if err != nil {
		log.Fatalf("failed to connect to crdb: %v", err)
	}
	defer pool.Close()
	repo := crdb.NewRepository(pool)

	mongoClient, err := mongo.Connect(context.Background(), options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		log.Fatalf("failed to connect to mongo: %v", err)
	}
	defer mongoClient.Disconnect(context.Background())
	mongoDB := mongoClient.Database("gatehouse")
	directory := mongoadapter.NewResourceDirectory(mongoDB, logger)
	audit := mongoadapter.NewAuditLogger(mongoDB, logger)

	redisClient := redisclient.NewClient(&redisclient.Options{Addr: cfg.RedisAddr})
	idemp := idempotency.NewIdempotency(redisadapter.NewIdempotency(redisClient), time.Hour)
	rl := rateLimit.NewRateLimiter(redisClient)

	var locker locking.ResourceLocker = locking.NewManager()
	if cfg.RedisAddr != "" {
		locker = redisadapter.NewLease(redisClient, 10*time.Second, 50*time.Millisecond)
	}

	// Events are staged in the outbox table and relayed to RabbitMQ by the
	// outbox-publisher binary, so a confirmed admission is never lost to a
	// broker outage.
	sink := notify.NewOutboxSink(repo)

	var acl access.Resolver
	if cfg.AccessURL != "" {
		acl = access.NewHTTPResolver(cfg.AccessURL, 5*time.Second)
	} else {
		acl = access.NewStaticResolver()
	}

	var payments payment.Adapter = payment.NopAdapter{}
	if cfg.PaymentURL != "" {
		payments = payment.NewClient(payment.ClientConfig{
			BaseURL:     cfg.PaymentURL,
			MerchantID:  cfg.PaymentMerchant,
			Secret:      cfg.PaymentSecret,
			CallbackURL: cfg.CallbackURL,
		})
	}

	eng := engine.New(directory, repo, locker, acl, sink, payments, logger)
	handlers := httphandler.NewHandlers(cfg, eng, idemp, audit)
	r := httphandler.SetupRouter(handlers, logger, rl)

	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: r,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %s\n", err)
		}
	}()
	logger.Info("gatehouse api listening on " + cfg.ListenAddr)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutdown Server ...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server Shutdown:", err)
	}
	logger.Info("Server exiting")
}
