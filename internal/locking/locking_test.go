package locking

import (
	"context"
	"sync"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

func TestWithResourceLock_MutualExclusion(t *testing.T) {
	m := NewManager()
	resourceID := uuid.New()

	const workers = 50
	counter := 0

	var g errgroup.Group
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			return m.WithResourceLock(context.Background(), resourceID, func() error {
				// Unsynchronized read-modify-write; only safe if the lock
				// actually serializes us.
				v := counter
				counter = v + 1
				return nil
			})
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if counter != workers {
		t.Fatalf("expected counter %d, got %d", workers, counter)
	}
}

func TestWithResourceLock_IndependentResources(t *testing.T) {
	m := NewManager()
	a, b := uuid.New(), uuid.New()

	release := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = m.WithResourceLock(context.Background(), a, func() error {
			<-release
			return nil
		})
	}()

	// A lock on b must not wait for the holder of a.
	done := make(chan struct{})
	go func() {
		_ = m.WithResourceLock(context.Background(), b, func() error { return nil })
		close(done)
	}()
	<-done
	close(release)
	wg.Wait()
}

func TestWithResourceLock_ErrorPropagatesAndReleases(t *testing.T) {
	m := NewManager()
	resourceID := uuid.New()
	boom := errors.New("boom")

	err := m.WithResourceLock(context.Background(), resourceID, func() error { return boom })
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	// Lock must be free again after the failed section.
	if err := m.WithResourceLock(context.Background(), resourceID, func() error { return nil }); err != nil {
		t.Fatalf("lock not released after error: %v", err)
	}

	m.mu.Lock()
	remaining := len(m.locks)
	m.mu.Unlock()
	if remaining != 0 {
		t.Fatalf("expected no retained lock entries, got %d", remaining)
	}
}

func TestWithResourceLock_CancelledContext(t *testing.T) {
	m := NewManager()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := m.WithResourceLock(ctx, uuid.New(), func() error {
		t.Fatal("fn must not run with a cancelled context")
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
