package integration_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	redisclient "github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/khatteland/gatehouse/internal/access"
	"github.com/khatteland/gatehouse/internal/adapters/crdb"
	mongoadapter "github.com/khatteland/gatehouse/internal/adapters/mongo"
	"github.com/khatteland/gatehouse/internal/adapters/rabbit"
	redisadapter "github.com/khatteland/gatehouse/internal/adapters/redis"
	"github.com/khatteland/gatehouse/internal/config"
	"github.com/khatteland/gatehouse/internal/domain"
	"github.com/khatteland/gatehouse/internal/engine"
	httphandler "github.com/khatteland/gatehouse/internal/http"
	"github.com/khatteland/gatehouse/internal/idempotency"
	"github.com/khatteland/gatehouse/internal/notify"
	"github.com/khatteland/gatehouse/internal/observability"
	"github.com/khatteland/gatehouse/internal/payment"
	"github.com/khatteland/gatehouse/internal/rateLimit"
)

const schema = `
	CREATE DATABASE IF NOT EXISTS gatehouse;
	CREATE TABLE IF NOT EXISTS gatehouse.admissions (
		id UUID PRIMARY KEY,
		resource_id UUID NOT NULL,
		user_id UUID NOT NULL,
		status TEXT NOT NULL,
		token TEXT,
		redeemed_at TIMESTAMPTZ,
		requested_at TIMESTAMPTZ NOT NULL,
		revoked_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		UNIQUE INDEX active_admission (resource_id, user_id)
			WHERE status NOT IN ('rejected', 'cancelled', 'expired', 'revoked'),
		UNIQUE INDEX live_token (token) WHERE token IS NOT NULL
	);
	CREATE TABLE IF NOT EXISTS gatehouse.payment_links (
		id UUID PRIMARY KEY,
		admission_id UUID NOT NULL,
		reference TEXT UNIQUE NOT NULL,
		provider_id TEXT,
		amount_cents INT8 NOT NULL,
		currency TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);
`

func TestIntegration_AdmitPayPromote(t *testing.T) {
	ctx := context.Background()

	crdbContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "cockroachdb/cockroach:v24.1.1",
			Cmd:          []string{"start-single-node", "--insecure"},
			ExposedPorts: []string{"26257/tcp", "8080/tcp"},
			WaitingFor:   wait.ForHTTP("/health?ready=1").WithPort("8080"),
		},
		Started: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer crdbContainer.Terminate(ctx)

	mongoContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "mongo:7",
			ExposedPorts: []string{"27017/tcp"},
			WaitingFor:   wait.ForListeningPort("27017/tcp"),
		},
		Started: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer mongoContainer.Terminate(ctx)

	redisContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForListeningPort("6379/tcp"),
		},
		Started: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer redisContainer.Terminate(ctx)

	rabbitContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "rabbitmq:3.13-management",
			ExposedPorts: []string{"5672/tcp", "15672/tcp"},
			WaitingFor:   wait.ForHTTP("/api/health").WithPort("15672"),
		},
		Started: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer rabbitContainer.Terminate(ctx)

	crdbHost, _ := crdbContainer.Host(ctx)
	crdbPort, _ := crdbContainer.MappedPort(ctx, "26257")
	mongoHost, _ := mongoContainer.Host(ctx)
	mongoPort, _ := mongoContainer.MappedPort(ctx, "27017")
	redisHost, _ := redisContainer.Host(ctx)
	redisPort, _ := redisContainer.MappedPort(ctx, "6379")
	rabbitHost, _ := rabbitContainer.Host(ctx)
	rabbitPort, _ := rabbitContainer.MappedPort(ctx, "5672")

	cfg := &config.Config{
		ListenAddr:     ":8091",
		CRDBDSN:        "postgresql://root@" + crdbHost + ":" + crdbPort.Port() + "/gatehouse?sslmode=disable",
		MongoURI:       "mongodb://" + mongoHost + ":" + mongoPort.Port(),
		RedisAddr:      redisHost + ":" + redisPort.Port(),
		RabbitURL:      "amqp://guest:guest@" + rabbitHost + ":" + rabbitPort.Port() + "/",
		TicketBaseURL:  "https://tickets.test",
		PaymentTimeout: 15 * time.Minute,
	}

	pool, err := pgxpool.New(ctx, cfg.CRDBDSN)
	if err != nil {
		t.Fatal(err)
	}
	defer pool.Close()
	if _, err := pool.Exec(ctx, schema); err != nil {
		t.Fatal(err)
	}
	repo := crdb.NewRepository(pool)

	mongoClient, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		t.Fatal(err)
	}
	defer mongoClient.Disconnect(ctx)
	logger := observability.NewLogger("error")
	directory := mongoadapter.NewResourceDirectory(mongoClient.Database("gatehouse"), logger)

	redisClient := redisclient.NewClient(&redisclient.Options{Addr: cfg.RedisAddr})
	idemp := idempotency.NewIdempotency(redisadapter.NewIdempotency(redisClient), time.Hour)
	rl := rateLimit.NewRateLimiter(redisClient)
	locker := redisadapter.NewLease(redisClient, 10*time.Second, 10*time.Millisecond)

	rabbitConn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		t.Fatal(err)
	}
	defer rabbitConn.Close()
	rabbitPub, err := rabbit.NewPublisher(rabbitConn)
	if err != nil {
		t.Fatal(err)
	}
	consumer, err := rabbit.NewConsumer(rabbitConn, "integration-test", "#")
	if err != nil {
		t.Fatal(err)
	}
	deliveries, err := consumer.Consume(ctx)
	if err != nil {
		t.Fatal(err)
	}

	acl := access.NewStaticResolver()
	staffID := uuid.New()

	eng := engine.New(directory, repo, locker, acl, notify.NewRabbitSink(rabbitPub), payment.NopAdapter{}, logger)
	handlers := httphandler.NewHandlers(cfg, eng, idemp, nil)
	router := httphandler.SetupRouter(handlers, logger, rl)

	srv := &http.Server{Addr: cfg.ListenAddr, Handler: router}
	go srv.ListenAndServe()
	defer srv.Shutdown(ctx)
	time.Sleep(100 * time.Millisecond)

	// One paid slot plus a waitlist.
	resource := domain.Resource{
		ID:         uuid.New(),
		Kind:       domain.KindEvent,
		Capacity:   intPtr(1),
		PriceCents: 2500,
		Currency:   "EUR",
		OwnerID:    uuid.New(),
	}
	if err := directory.UpsertResource(ctx, resource); err != nil {
		t.Fatal(err)
	}
	acl.GrantStaff(staffID, resource.ID)

	base := "http://localhost:8091"
	payer, waiter := uuid.New(), uuid.New()

	// Payer takes the slot into the payment window.
	admitKey := uuid.New().String()
	status, body := post(t, base+"/v1/resources/"+resource.ID.String()+"/admissions",
		map[string]any{"user_id": payer, "desired_status": "going"}, admitKey)
	if status != http.StatusAccepted {
		t.Fatalf("admit payer: status %d: %s", status, body)
	}
	var admitResp struct {
		Status           string    `json:"status"`
		AdmissionID      uuid.UUID `json:"admission_id"`
		PaymentReference string    `json:"payment_reference"`
	}
	if err := json.Unmarshal(body, &admitResp); err != nil {
		t.Fatal(err)
	}
	if admitResp.Status != "pending_payment" || admitResp.PaymentReference == "" {
		t.Fatalf("unexpected admit response: %s", body)
	}

	// Replaying the same idempotency key returns the cached response, not a
	// second admission.
	status, replay := post(t, base+"/v1/resources/"+resource.ID.String()+"/admissions",
		map[string]any{"user_id": payer, "desired_status": "going"}, admitKey)
	if status != http.StatusAccepted || !bytes.Equal(replay, body) {
		t.Fatalf("idempotent replay mismatch: status %d: %s", status, replay)
	}

	// Second user lands on the waitlist.
	status, body = post(t, base+"/v1/resources/"+resource.ID.String()+"/admissions",
		map[string]any{"user_id": waiter, "desired_status": "going"}, uuid.New().String())
	if status != http.StatusAccepted {
		t.Fatalf("admit waiter: status %d: %s", status, body)
	}
	var waiterResp struct {
		Status      string    `json:"status"`
		AdmissionID uuid.UUID `json:"admission_id"`
	}
	if err := json.Unmarshal(body, &waiterResp); err != nil {
		t.Fatal(err)
	}
	if waiterResp.Status != "waitlisted" {
		t.Fatalf("expected waitlisted, got %s", body)
	}

	// Provider settles the payment.
	status, body = post(t, base+"/v1/payments/callback",
		map[string]any{"reference": admitResp.PaymentReference, "payment_id": "tx-123", "status": "SUCCEEDED"}, "")
	if status != http.StatusOK {
		t.Fatalf("payment callback: status %d: %s", status, body)
	}
	var callbackResp struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(body, &callbackResp); err != nil {
		t.Fatal(err)
	}
	if callbackResp.Status != "success" {
		t.Fatalf("expected confirm success, got %s", body)
	}

	confirmed, err := repo.GetAdmission(ctx, admitResp.AdmissionID)
	if err != nil {
		t.Fatal(err)
	}
	if confirmed.Status != domain.StatusConfirmed || confirmed.Token == nil {
		t.Fatalf("expected confirmed with token, got %s", confirmed.Status)
	}

	// Gate scan succeeds once, then reports the earlier redemption.
	status, body = post(t, base+"/v1/checkin",
		map[string]any{"token": *confirmed.Token, "staff_id": staffID}, "")
	if status != http.StatusOK {
		t.Fatalf("checkin: status %d: %s", status, body)
	}
	status, body = post(t, base+"/v1/checkin",
		map[string]any{"token": *confirmed.Token, "staff_id": staffID}, "")
	if status != http.StatusOK {
		t.Fatalf("repeat checkin: status %d: %s", status, body)
	}
	var scanResp struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(body, &scanResp); err != nil {
		t.Fatal(err)
	}
	if scanResp.Status != "already" {
		t.Fatalf("expected already, got %s", body)
	}

	// Cancelling the paid admission frees the slot, flags the refund and
	// promotes the waitlisted user.
	req, _ := http.NewRequest(http.MethodDelete, base+"/v1/admissions/"+admitResp.AdmissionID.String(),
		bytes.NewReader(mustJSON(t, map[string]any{"actor_id": payer})))
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("cancel: status %d: %s", resp.StatusCode, body)
	}
	var cancelResp struct {
		RefundNeeded bool `json:"refund_needed"`
	}
	if err := json.Unmarshal(body, &cancelResp); err != nil {
		t.Fatal(err)
	}
	if !cancelResp.RefundNeeded {
		t.Error("cancelling a settled admission must flag a refund")
	}

	promoted, err := repo.GetAdmission(ctx, waiterResp.AdmissionID)
	if err != nil {
		t.Fatal(err)
	}
	if promoted.Status != domain.StatusConfirmed || promoted.Token == nil {
		t.Fatalf("waitlisted user not promoted: %s", promoted.Status)
	}

	// The broker saw the lifecycle events.
	seen := map[string]bool{}
	deadline := time.After(10 * time.Second)
	for !seen[notify.EventBookingConfirmed] || !seen[notify.EventPromoted] {
		select {
		case d := <-deliveries:
			seen[d.RoutingKey] = true
			d.Ack(false)
		case <-deadline:
			t.Fatalf("missing broker events, saw %v", seen)
		}
	}
}

func intPtr(n int) *int { return &n }

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func post(t *testing.T, url string, payload map[string]any, idempKey string) (int, []byte) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(mustJSON(t, payload)))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if idempKey != "" {
		req.Header.Set("Idempotency-Key", idempKey)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return resp.StatusCode, body
}
