package crdb

import (
	"context"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/khatteland/gatehouse/internal/domain"
	"github.com/khatteland/gatehouse/internal/observability"
)

const (
	serializationFailureCode = "40001"
	uniqueViolationCode      = "23505"
)

// querier is the statement surface shared by the pool and an open
// transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository persists admissions and payment links. Status transitions and
// redemption are single conditional statements, so correctness does not
// depend on the database's isolation level — the per-resource lock plus
// RowsAffected checks carry the invariant. Multi-statement sequences go
// through Atomically.
type Repository struct {
	db   querier
	pool *pgxpool.Pool // nil on a transaction-scoped repository
}

var _ domain.Store = (*Repository)(nil)

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{db: pool, pool: pool}
}

// WithTx runs fn inside a SERIALIZABLE transaction, mapping retryable
// serialization failures to the domain sentinel so callers can back off.
func (r *Repository) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	timer := prometheus.NewTimer(observability.DBTxDuration)
	defer timer.ObserveDuration()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "SET TRANSACTION ISOLATION LEVEL SERIALIZABLE"); err != nil {
		return err
	}

	if err := fn(tx); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == serializationFailureCode {
			return domain.ErrSerializationFailure
		}
		return err
	}
	return tx.Commit(ctx)
}

// Atomically runs fn against a transaction-scoped repository; every store
// call inside commits or rolls back as one unit. Nested calls join the
// already open transaction.
func (r *Repository) Atomically(ctx context.Context, fn func(domain.Store) error) error {
	if r.pool == nil {
		return fn(r)
	}
	return r.WithTx(ctx, func(tx pgx.Tx) error {
		return fn(&Repository{db: tx})
	})
}

func (r *Repository) CreateAdmission(ctx context.Context, adm *domain.Admission) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO admissions (id, resource_id, user_id, status, token, requested_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, adm.ID, adm.ResourceID, adm.UserID, adm.Status, adm.Token, adm.RequestedAt, adm.CreatedAt, adm.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
			// Partial unique index: one non-terminal admission per
			// (user, resource).
			return domain.ErrConflict
		}
		return err
	}
	return nil
}

const admissionColumns = `id, resource_id, user_id, status, token, redeemed_at, requested_at, revoked_at, created_at, updated_at`

func scanAdmission(row pgx.Row) (*domain.Admission, error) {
	var adm domain.Admission
	err := row.Scan(&adm.ID, &adm.ResourceID, &adm.UserID, &adm.Status, &adm.Token,
		&adm.RedeemedAt, &adm.RequestedAt, &adm.RevokedAt, &adm.CreatedAt, &adm.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &adm, nil
}

func (r *Repository) GetAdmission(ctx context.Context, id uuid.UUID) (*domain.Admission, error) {
	return scanAdmission(r.db.QueryRow(ctx, `
		SELECT `+admissionColumns+` FROM admissions WHERE id = $1
	`, id))
}

func (r *Repository) GetAdmissionByToken(ctx context.Context, token string) (*domain.Admission, error) {
	return scanAdmission(r.db.QueryRow(ctx, `
		SELECT `+admissionColumns+` FROM admissions WHERE token = $1
	`, token))
}

func (r *Repository) FindActiveAdmission(ctx context.Context, resourceID, userID uuid.UUID) (*domain.Admission, error) {
	return scanAdmission(r.db.QueryRow(ctx, `
		SELECT `+admissionColumns+` FROM admissions
		WHERE resource_id = $1 AND user_id = $2
		  AND status NOT IN ('rejected', 'cancelled', 'expired', 'revoked')
	`, resourceID, userID))
}

func (r *Repository) CountHoldingSlots(ctx context.Context, resourceID uuid.UUID) (int, error) {
	var n int
	err := r.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM admissions
		WHERE resource_id = $1 AND status IN ('confirmed', 'pending_payment')
	`, resourceID).Scan(&n)
	return n, err
}

func (r *Repository) NextWaitlisted(ctx context.Context, resourceID uuid.UUID) (*domain.Admission, error) {
	return scanAdmission(r.db.QueryRow(ctx, `
		SELECT `+admissionColumns+` FROM admissions
		WHERE resource_id = $1 AND status = 'waitlisted'
		ORDER BY requested_at ASC, id ASC
		LIMIT 1
	`, resourceID))
}

func (r *Repository) TransitionStatus(ctx context.Context, id uuid.UUID, from, to domain.AdmissionStatus, mut domain.Mutation) (bool, error) {
	query := `UPDATE admissions SET status = $3, updated_at = now()`
	args := []any{id, from, to}

	switch {
	case mut.SetToken != nil:
		args = append(args, *mut.SetToken)
		query += `, token = $4`
	case mut.ClearToken:
		query += `, token = NULL`
	}
	if mut.ClearRedeemedAt {
		query += `, redeemed_at = NULL`
	}
	if mut.SetRevokedAt != nil {
		args = append(args, *mut.SetRevokedAt)
		query += `, revoked_at = $` + strconv.Itoa(len(args))
	}
	query += ` WHERE id = $1 AND status = $2`

	result, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return false, err
	}
	return result.RowsAffected() > 0, nil
}

func (r *Repository) RedeemToken(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	result, err := r.db.Exec(ctx, `
		UPDATE admissions SET redeemed_at = $2, updated_at = now()
		WHERE id = $1 AND status = 'confirmed' AND redeemed_at IS NULL
	`, id, at)
	if err != nil {
		return false, err
	}
	return result.RowsAffected() > 0, nil
}

func (r *Repository) CreatePaymentLink(ctx context.Context, link *domain.PaymentLink) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO payment_links (id, admission_id, reference, provider_id, amount_cents, currency, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now(), now())
	`, link.ID, link.AdmissionID, link.Reference, link.ProviderID, link.AmountCents, link.Currency, link.Status)
	return err
}

func scanPaymentLink(row pgx.Row) (*domain.PaymentLink, error) {
	var link domain.PaymentLink
	err := row.Scan(&link.ID, &link.AdmissionID, &link.Reference, &link.ProviderID,
		&link.AmountCents, &link.Currency, &link.Status, &link.CreatedAt, &link.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &link, nil
}

const paymentLinkColumns = `id, admission_id, reference, provider_id, amount_cents, currency, status, created_at, updated_at`

func (r *Repository) GetPaymentLinkByReference(ctx context.Context, reference string) (*domain.PaymentLink, error) {
	return scanPaymentLink(r.db.QueryRow(ctx, `
		SELECT `+paymentLinkColumns+` FROM payment_links WHERE reference = $1
	`, reference))
}

func (r *Repository) GetPaymentLinkByAdmission(ctx context.Context, admissionID uuid.UUID) (*domain.PaymentLink, error) {
	return scanPaymentLink(r.db.QueryRow(ctx, `
		SELECT `+paymentLinkColumns+` FROM payment_links WHERE admission_id = $1
	`, admissionID))
}

func (r *Repository) UpdatePaymentLinkStatus(ctx context.Context, linkID uuid.UUID, status domain.PaymentLinkStatus) error {
	result, err := r.db.Exec(ctx, `
		UPDATE payment_links SET status = $2, updated_at = now() WHERE id = $1
	`, linkID, status)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *Repository) SetPaymentLinkProvider(ctx context.Context, linkID uuid.UUID, providerID string) error {
	result, err := r.db.Exec(ctx, `
		UPDATE payment_links SET provider_id = $2, updated_at = now() WHERE id = $1
	`, linkID, providerID)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *Repository) ListAdmissions(ctx context.Context, resourceID uuid.UUID) ([]domain.AdmissionSummary, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, user_id, status, requested_at, redeemed_at
		FROM admissions WHERE resource_id = $1
		ORDER BY requested_at ASC, id ASC
	`, resourceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.AdmissionSummary
	for rows.Next() {
		var s domain.AdmissionSummary
		if err := rows.Scan(&s.ID, &s.UserID, &s.Status, &s.RequestedAt, &s.RedeemedAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *Repository) ListStalePending(ctx context.Context, cutoff time.Time) ([]domain.Admission, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+admissionColumns+` FROM admissions
		WHERE status = 'pending_payment' AND requested_at < $1
	`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Admission
	for rows.Next() {
		var adm domain.Admission
		if err := rows.Scan(&adm.ID, &adm.ResourceID, &adm.UserID, &adm.Status, &adm.Token,
			&adm.RedeemedAt, &adm.RequestedAt, &adm.RevokedAt, &adm.CreatedAt, &adm.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, adm)
	}
	return out, rows.Err()
}
