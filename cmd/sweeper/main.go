package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	redisclient "github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/khatteland/gatehouse/internal/access"
	"github.com/khatteland/gatehouse/internal/adapters/crdb"
	mongoadapter "github.com/khatteland/gatehouse/internal/adapters/mongo"
	"github.com/khatteland/gatehouse/internal/adapters/rabbit"
	redisadapter "github.com/khatteland/gatehouse/internal/adapters/redis"
	"github.com/khatteland/gatehouse/internal/config"
	"github.com/khatteland/gatehouse/internal/engine"
	"github.com/khatteland/gatehouse/internal/locking"
	"github.com/khatteland/gatehouse/internal/notify"
	"github.com/khatteland/gatehouse/internal/observability"
	"github.com/khatteland/gatehouse/internal/payment"
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
	directory := mongoadapter.NewResourceDirectory(mongoClient.Database("gatehouse"), logger)

	var locker locking.ResourceLocker = locking.NewManager()
	if cfg.RedisAddr != "" {
		redisClient := redisclient.NewClient(&redisclient.Options{Addr: cfg.RedisAddr})
		locker = redisadapter.NewLease(redisClient, 10*time.Second, 50*time.Millisecond)
	}

	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		log.Fatalf("failed to connect to rabbitmq: %v", err)
	}
	defer conn.Close()
	rabbitPub, err := rabbit.NewPublisher(conn)
	if err != nil {
		log.Fatalf("failed to create publisher: %v", err)
	}

	// Expiry events go straight to the broker; the sweeper has no request
	// path to protect, so a publish failure only delays the notification.
	sink := notify.NewRabbitSink(rabbitPub)

	eng := engine.New(directory, repo, locker, access.NewStaticResolver(), sink, payment.NopAdapter{}, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go run(ctx, eng, cfg.SweepInterval, cfg.PaymentTimeout, logger)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("Shutdown sweeper")
}

func run(ctx context.Context, eng *engine.Engine, interval, timeout time.Duration, logger observability.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			count, err := eng.SweepExpired(ctx, timeout)
			if err != nil {
				logger.Error("sweep pass failed", err)
				continue
			}
			if count > 0 {
				logger.WithField("expired", count).Info("swept stale pending admissions")
			}
		}
	}
}
