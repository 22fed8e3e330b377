// Package memstore is the in-memory implementation of the engine's store
// and resource directory. It backs single-node deployments and the engine's
// concurrency tests, which exercise the locking contract without a live
// data store.
package memstore

import (
	"bytes"
	"context"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/khatteland/gatehouse/internal/domain"
)

type Store struct {
	txMu       sync.Mutex // serializes Atomically sequences
	mu         sync.RWMutex
	resources  map[uuid.UUID]domain.Resource
	admissions map[uuid.UUID]domain.Admission
	links      map[uuid.UUID]domain.PaymentLink
	linkByRef  map[string]uuid.UUID
}

var _ domain.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		resources:  make(map[uuid.UUID]domain.Resource),
		admissions: make(map[uuid.UUID]domain.Admission),
		links:      make(map[uuid.UUID]domain.PaymentLink),
		linkByRef:  make(map[string]uuid.UUID),
	}
}

// Atomically runs fn with rollback on failure: the maps are snapshotted
// first and restored when fn errors. Sequences run one at a time so a
// rollback cannot wipe writes committed by a concurrent sequence on another
// resource.
func (s *Store) Atomically(_ context.Context, fn func(domain.Store) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	admissions := maps.Clone(s.admissions)
	links := maps.Clone(s.links)
	linkByRef := maps.Clone(s.linkByRef)
	s.mu.Unlock()

	if err := fn(s); err != nil {
		s.mu.Lock()
		s.admissions = admissions
		s.links = links
		s.linkByRef = linkByRef
		s.mu.Unlock()
		return err
	}
	return nil
}

// PutResource seeds the directory.
func (s *Store) PutResource(res domain.Resource) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resources[res.ID] = res
}

func (s *Store) GetResource(_ context.Context, id uuid.UUID) (*domain.Resource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res, ok := s.resources[id]
	if !ok {
		return nil, nil
	}
	return &res, nil
}

func (s *Store) CreateAdmission(_ context.Context, adm *domain.Admission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.admissions[adm.ID] = *adm
	return nil
}

// SeedAdmission inserts an admission row as-is, timestamps included. Test
// setup for expiry scenarios.
func (s *Store) SeedAdmission(adm domain.Admission) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.admissions[adm.ID] = adm
}

func (s *Store) GetAdmission(_ context.Context, id uuid.UUID) (*domain.Admission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	adm, ok := s.admissions[id]
	if !ok {
		return nil, nil
	}
	return &adm, nil
}

func (s *Store) GetAdmissionByToken(_ context.Context, token string) (*domain.Admission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, adm := range s.admissions {
		if adm.Token != nil && *adm.Token == token {
			a := adm
			return &a, nil
		}
	}
	return nil, nil
}

func (s *Store) FindActiveAdmission(_ context.Context, resourceID, userID uuid.UUID) (*domain.Admission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, adm := range s.admissions {
		if adm.ResourceID == resourceID && adm.UserID == userID && !adm.Status.Terminal() {
			a := adm
			return &a, nil
		}
	}
	return nil, nil
}

func (s *Store) CountHoldingSlots(_ context.Context, resourceID uuid.UUID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, adm := range s.admissions {
		if adm.ResourceID == resourceID && adm.Status.HoldsSlot() {
			n++
		}
	}
	return n, nil
}

func (s *Store) NextWaitlisted(_ context.Context, resourceID uuid.UUID) (*domain.Admission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var best *domain.Admission
	for _, adm := range s.admissions {
		if adm.ResourceID != resourceID || adm.Status != domain.StatusWaitlisted {
			continue
		}
		a := adm
		if best == nil || earlier(&a, best) {
			best = &a
		}
	}
	return best, nil
}

// earlier orders by request timestamp, ties broken by lowest admission ID.
func earlier(a, b *domain.Admission) bool {
	if !a.RequestedAt.Equal(b.RequestedAt) {
		return a.RequestedAt.Before(b.RequestedAt)
	}
	return bytes.Compare(a.ID[:], b.ID[:]) < 0
}

func (s *Store) TransitionStatus(_ context.Context, id uuid.UUID, from, to domain.AdmissionStatus, mut domain.Mutation) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	adm, ok := s.admissions[id]
	if !ok || adm.Status != from {
		return false, nil
	}
	adm.Status = to
	if mut.SetToken != nil {
		adm.Token = mut.SetToken
	}
	if mut.ClearToken && mut.SetToken == nil {
		adm.Token = nil
	}
	if mut.ClearRedeemedAt {
		adm.RedeemedAt = nil
	}
	if mut.SetRevokedAt != nil {
		adm.RevokedAt = mut.SetRevokedAt
	}
	adm.UpdatedAt = time.Now()
	s.admissions[id] = adm
	return true, nil
}

func (s *Store) RedeemToken(_ context.Context, id uuid.UUID, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	adm, ok := s.admissions[id]
	if !ok || adm.RedeemedAt != nil || adm.Status != domain.StatusConfirmed {
		return false, nil
	}
	adm.RedeemedAt = &at
	adm.UpdatedAt = at
	s.admissions[id] = adm
	return true, nil
}

func (s *Store) CreatePaymentLink(_ context.Context, link *domain.PaymentLink) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.links[link.ID] = *link
	s.linkByRef[link.Reference] = link.ID
	return nil
}

func (s *Store) GetPaymentLinkByReference(_ context.Context, reference string) (*domain.PaymentLink, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.linkByRef[reference]
	if !ok {
		return nil, nil
	}
	link := s.links[id]
	return &link, nil
}

func (s *Store) GetPaymentLinkByAdmission(_ context.Context, admissionID uuid.UUID) (*domain.PaymentLink, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, link := range s.links {
		if link.AdmissionID == admissionID {
			l := link
			return &l, nil
		}
	}
	return nil, nil
}

func (s *Store) UpdatePaymentLinkStatus(_ context.Context, linkID uuid.UUID, status domain.PaymentLinkStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	link, ok := s.links[linkID]
	if !ok {
		return domain.ErrNotFound
	}
	link.Status = status
	link.UpdatedAt = time.Now()
	s.links[linkID] = link
	return nil
}

func (s *Store) SetPaymentLinkProvider(_ context.Context, linkID uuid.UUID, providerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	link, ok := s.links[linkID]
	if !ok {
		return domain.ErrNotFound
	}
	link.ProviderID = &providerID
	link.UpdatedAt = time.Now()
	s.links[linkID] = link
	return nil
}

func (s *Store) ListAdmissions(_ context.Context, resourceID uuid.UUID) ([]domain.AdmissionSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.AdmissionSummary
	for _, adm := range s.admissions {
		if adm.ResourceID != resourceID {
			continue
		}
		out = append(out, domain.AdmissionSummary{
			ID:          adm.ID,
			UserID:      adm.UserID,
			Status:      adm.Status,
			RequestedAt: adm.RequestedAt,
			RedeemedAt:  adm.RedeemedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].RequestedAt.Equal(out[j].RequestedAt) {
			return out[i].RequestedAt.Before(out[j].RequestedAt)
		}
		return bytes.Compare(out[i].ID[:], out[j].ID[:]) < 0
	})
	return out, nil
}

func (s *Store) ListStalePending(_ context.Context, cutoff time.Time) ([]domain.Admission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Admission
	for _, adm := range s.admissions {
		if adm.Status == domain.StatusPendingPayment && adm.RequestedAt.Before(cutoff) {
			out = append(out, adm)
		}
	}
	return out, nil
}
