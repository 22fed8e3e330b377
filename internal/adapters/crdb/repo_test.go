package crdb_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/khatteland/gatehouse/internal/adapters/crdb"
	"github.com/khatteland/gatehouse/internal/domain"
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
	CREATE TABLE IF NOT EXISTS gatehouse.outbox (
		id UUID PRIMARY KEY,
		event_type TEXT NOT NULL,
		admission_id UUID NOT NULL,
		payload_json BYTES NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		published_at TIMESTAMPTZ,
		status TEXT NOT NULL,
		dedupe_key TEXT NOT NULL
	);
`

func startRepo(t *testing.T) (*crdb.Repository, context.Context) {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "cockroachdb/cockroach:v24.1.1",
			Cmd:          []string{"start-single-node", "--insecure"},
			ExposedPorts: []string{"26257/tcp"},
			WaitingFor:   wait.ForHTTP("/health?ready=1").WithPort("8080"),
		},
		Started: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { container.Terminate(ctx) })

	dsn, err := container.Endpoint(ctx, "postgresql")
	if err != nil {
		t.Fatal(err)
	}
	pool, err := pgxpool.New(ctx, dsn+"/gatehouse?sslmode=disable")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(pool.Close)

	if _, err := pool.Exec(ctx, schema); err != nil {
		t.Fatal(err)
	}
	return crdb.NewRepository(pool), ctx
}

func pendingAdmission(resourceID, userID uuid.UUID) domain.Admission {
	now := time.Now()
	return domain.Admission{
		ID:          uuid.New(),
		ResourceID:  resourceID,
		UserID:      userID,
		Status:      domain.StatusPendingPayment,
		RequestedAt: now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func TestRepositoryAdmissionLifecycle(t *testing.T) {
	repo, ctx := startRepo(t)

	resourceID, userID := uuid.New(), uuid.New()
	adm := pendingAdmission(resourceID, userID)

	if err := repo.CreateAdmission(ctx, &adm); err != nil {
		t.Fatalf("create: %v", err)
	}

	// Second live admission for the same pair trips the partial unique
	// index.
	dup := pendingAdmission(resourceID, userID)
	if err := repo.CreateAdmission(ctx, &dup); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	active, err := repo.FindActiveAdmission(ctx, resourceID, userID)
	if err != nil {
		t.Fatal(err)
	}
	if active == nil || active.ID != adm.ID {
		t.Fatal("expected the live admission back")
	}

	holding, err := repo.CountHoldingSlots(ctx, resourceID)
	if err != nil {
		t.Fatal(err)
	}
	if holding != 1 {
		t.Errorf("expected 1 holding slot, got %d", holding)
	}

	token := "tok-" + uuid.New().String()
	applied, err := repo.TransitionStatus(ctx, adm.ID, domain.StatusPendingPayment, domain.StatusConfirmed, domain.Mutation{SetToken: &token})
	if err != nil {
		t.Fatal(err)
	}
	if !applied {
		t.Fatal("transition from matching status must apply")
	}

	// The same transition again finds the row moved on.
	applied, err = repo.TransitionStatus(ctx, adm.ID, domain.StatusPendingPayment, domain.StatusExpired, domain.Mutation{})
	if err != nil {
		t.Fatal(err)
	}
	if applied {
		t.Fatal("transition from stale status must be a no-op")
	}

	byToken, err := repo.GetAdmissionByToken(ctx, token)
	if err != nil {
		t.Fatal(err)
	}
	if byToken == nil || byToken.ID != adm.ID {
		t.Fatal("token lookup must resolve the confirmed admission")
	}

	redeemed, err := repo.RedeemToken(ctx, adm.ID, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if !redeemed {
		t.Fatal("first redemption must win")
	}
	redeemed, err = repo.RedeemToken(ctx, adm.ID, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if redeemed {
		t.Fatal("second redemption must lose")
	}

	now := time.Now()
	applied, err = repo.TransitionStatus(ctx, adm.ID, domain.StatusConfirmed, domain.StatusRevoked,
		domain.Mutation{ClearToken: true, ClearRedeemedAt: true, SetRevokedAt: &now})
	if err != nil {
		t.Fatal(err)
	}
	if !applied {
		t.Fatal("revocation transition must apply")
	}

	revoked, err := repo.GetAdmission(ctx, adm.ID)
	if err != nil {
		t.Fatal(err)
	}
	if revoked.Token != nil {
		t.Error("revocation must clear the token")
	}
	if revoked.RedeemedAt != nil {
		t.Error("revocation must clear redeemed_at")
	}
	if revoked.RevokedAt == nil {
		t.Error("revocation must set revoked_at")
	}

	// Terminal row no longer counts as active; a fresh one is allowed.
	active, err = repo.FindActiveAdmission(ctx, resourceID, userID)
	if err != nil {
		t.Fatal(err)
	}
	if active != nil {
		t.Fatal("terminal admission must not be active")
	}
	fresh := pendingAdmission(resourceID, userID)
	if err := repo.CreateAdmission(ctx, &fresh); err != nil {
		t.Fatalf("re-admission after terminal: %v", err)
	}
}

func TestRepositoryWaitlistOrderAndStalePending(t *testing.T) {
	repo, ctx := startRepo(t)

	resourceID := uuid.New()
	base := time.Now().Add(-time.Hour)

	var ids []uuid.UUID
	for i := 0; i < 3; i++ {
		adm := pendingAdmission(resourceID, uuid.New())
		adm.Status = domain.StatusWaitlisted
		adm.RequestedAt = base.Add(time.Duration(i) * time.Minute)
		if err := repo.CreateAdmission(ctx, &adm); err != nil {
			t.Fatal(err)
		}
		ids = append(ids, adm.ID)
	}

	next, err := repo.NextWaitlisted(ctx, resourceID)
	if err != nil {
		t.Fatal(err)
	}
	if next == nil || next.ID != ids[0] {
		t.Fatal("waitlist head must be the earliest request")
	}

	stale := pendingAdmission(resourceID, uuid.New())
	stale.RequestedAt = base
	if err := repo.CreateAdmission(ctx, &stale); err != nil {
		t.Fatal(err)
	}
	fresh := pendingAdmission(resourceID, uuid.New())
	if err := repo.CreateAdmission(ctx, &fresh); err != nil {
		t.Fatal(err)
	}

	lapsed, err := repo.ListStalePending(ctx, time.Now().Add(-30*time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if len(lapsed) != 1 || lapsed[0].ID != stale.ID {
		t.Fatalf("expected only the stale pending admission, got %d rows", len(lapsed))
	}
}

func TestRepositoryPaymentLinks(t *testing.T) {
	repo, ctx := startRepo(t)

	adm := pendingAdmission(uuid.New(), uuid.New())
	if err := repo.CreateAdmission(ctx, &adm); err != nil {
		t.Fatal(err)
	}

	link := domain.NewPaymentLink(adm.ID, 4200, "EUR")
	if err := repo.CreatePaymentLink(ctx, &link); err != nil {
		t.Fatal(err)
	}

	byRef, err := repo.GetPaymentLinkByReference(ctx, link.Reference)
	if err != nil {
		t.Fatal(err)
	}
	if byRef == nil || byRef.ID != link.ID {
		t.Fatal("reference lookup must resolve the link")
	}
	if byRef.Status != domain.PaymentPending {
		t.Errorf("priced link must start pending, got %s", byRef.Status)
	}

	if err := repo.SetPaymentLinkProvider(ctx, link.ID, "prov-123"); err != nil {
		t.Fatal(err)
	}
	if err := repo.UpdatePaymentLinkStatus(ctx, link.ID, domain.PaymentCompleted); err != nil {
		t.Fatal(err)
	}

	byAdm, err := repo.GetPaymentLinkByAdmission(ctx, adm.ID)
	if err != nil {
		t.Fatal(err)
	}
	if byAdm.Status != domain.PaymentCompleted {
		t.Errorf("expected completed, got %s", byAdm.Status)
	}
	if byAdm.ProviderID == nil || *byAdm.ProviderID != "prov-123" {
		t.Error("provider id must round-trip")
	}

	if err := repo.UpdatePaymentLinkStatus(ctx, uuid.New(), domain.PaymentCancelled); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown link, got %v", err)
	}
}

func TestRepositoryAtomicallyRollsBack(t *testing.T) {
	repo, ctx := startRepo(t)

	adm := pendingAdmission(uuid.New(), uuid.New())
	if err := repo.CreateAdmission(ctx, &adm); err != nil {
		t.Fatal(err)
	}

	failure := errors.New("dropped mid-sequence")
	err := repo.Atomically(ctx, func(s domain.Store) error {
		applied, err := s.TransitionStatus(ctx, adm.ID, domain.StatusPendingPayment, domain.StatusCancelled, domain.Mutation{ClearToken: true})
		if err != nil {
			return err
		}
		if !applied {
			t.Error("transition must apply inside the transaction")
		}
		return failure
	})
	if !errors.Is(err, failure) {
		t.Fatalf("expected the injected failure, got %v", err)
	}

	cur, err := repo.GetAdmission(ctx, adm.ID)
	if err != nil {
		t.Fatal(err)
	}
	if cur.Status != domain.StatusPendingPayment {
		t.Errorf("failed sequence must roll back whole, got %s", cur.Status)
	}
}

func TestRepositoryOutbox(t *testing.T) {
	repo, ctx := startRepo(t)

	rec := crdb.OutboxRecord{
		ID:          uuid.New(),
		EventType:   "admission.admitted",
		AdmissionID: uuid.New(),
		Payload:     []byte(`{"type":"admission.admitted"}`),
		DedupeKey:   uuid.New().String(),
	}
	if err := repo.InsertOutbox(ctx, rec); err != nil {
		t.Fatal(err)
	}

	pending, err := repo.GetUnpublishedOutbox(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 || pending[0].ID != rec.ID {
		t.Fatalf("expected the queued record, got %d rows", len(pending))
	}

	if err := repo.MarkPublished(ctx, rec.ID, time.Now()); err != nil {
		t.Fatal(err)
	}
	pending, err = repo.GetUnpublishedOutbox(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 0 {
		t.Fatalf("published record must leave the queue, got %d rows", len(pending))
	}
}
