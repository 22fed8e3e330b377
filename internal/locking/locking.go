// Package locking serializes capacity decisions per resource. Locks are
// scoped to a single resource and held for one capacity read plus one or two
// row writes, so there is no cross-resource ordering and no deadlock.
package locking

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// ResourceLocker runs fn inside an exclusive, resource-scoped critical
// section. The lock is released on all exit paths.
type ResourceLocker interface {
	WithResourceLock(ctx context.Context, resourceID uuid.UUID, fn func() error) error
}

type entry struct {
	mu   sync.Mutex
	refs int
}

// Manager is the in-process locker: a map of refcounted mutexes keyed by
// resource ID. Entries are dropped once the last holder leaves, so the map
// stays bounded by the number of concurrently contended resources.
type Manager struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*entry
}

func NewManager() *Manager {
	return &Manager{locks: make(map[uuid.UUID]*entry)}
}

func (m *Manager) acquire(resourceID uuid.UUID) *entry {
	m.mu.Lock()
	e, ok := m.locks[resourceID]
	if !ok {
		e = &entry{}
		m.locks[resourceID] = e
	}
	e.refs++
	m.mu.Unlock()

	e.mu.Lock()
	return e
}

func (m *Manager) release(resourceID uuid.UUID, e *entry) {
	e.mu.Unlock()

	m.mu.Lock()
	e.refs--
	if e.refs == 0 {
		delete(m.locks, resourceID)
	}
	m.mu.Unlock()
}

func (m *Manager) WithResourceLock(ctx context.Context, resourceID uuid.UUID, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e := m.acquire(resourceID)
	defer m.release(resourceID, e)
	return fn()
}
