package config

import (
	"os"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	ListenAddr      string
	CRDBDSN         string
	MongoURI        string
	RedisAddr       string
	RabbitURL       string
	AccessURL       string
	PaymentURL      string
	PaymentMerchant string
	PaymentSecret   string
	CallbackURL     string
	TicketBaseURL   string
	PaymentTimeout  time.Duration
	SweepInterval   time.Duration
	OTLPEndpoint    string
	LogLevel        string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	paymentTimeout, _ := time.ParseDuration(os.Getenv("PAYMENT_TIMEOUT"))
	if paymentTimeout == 0 {
		paymentTimeout = 15 * time.Minute
	}
	sweepInterval, _ := time.ParseDuration(os.Getenv("SWEEP_INTERVAL"))
	if sweepInterval == 0 {
		sweepInterval = time.Minute
	}
	listen := os.Getenv("LISTEN_ADDR")
	if listen == "" {
		listen = ":8080"
	}

	return &Config{
		ListenAddr:      listen,
		CRDBDSN:         os.Getenv("CRDB_DSN"),
		MongoURI:        os.Getenv("MONGO_URI"),
		RedisAddr:       os.Getenv("REDIS_ADDR"),
		RabbitURL:       os.Getenv("RABBIT_URL"),
		AccessURL:       os.Getenv("ACCESS_URL"),
		PaymentURL:      os.Getenv("PAYMENT_URL"),
		PaymentMerchant: os.Getenv("PAYMENT_MERCHANT"),
		PaymentSecret:   os.Getenv("PAYMENT_SECRET"),
		CallbackURL:     os.Getenv("PAYMENT_CALLBACK_URL"),
		TicketBaseURL:   os.Getenv("TICKET_BASE_URL"),
		PaymentTimeout:  paymentTimeout,
		SweepInterval:   sweepInterval,
		OTLPEndpoint:    os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		LogLevel:        os.Getenv("LOG_LEVEL"),
	}, nil
}
