package cleanup

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/terra-clan/apprentice-engine/internal/models"
)

type fakeSessions struct {
	mu      sync.Mutex
	expired []*models.Session
	deleted []string
	failOn  string
}

func (f *fakeSessions) GetExpired(ctx context.Context) ([]*models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.expired, nil
}

func (f *fakeSessions) Delete(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if id == f.failOn {
		return errors.New("boom")
	}
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeSessions) deletedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.deleted...)
}

func TestCleanupDeletesExpired(t *testing.T) {
	fake := &fakeSessions{
		expired: []*models.Session{
			{ID: "a", Profile: &models.Profile{ID: "u-1"}},
			{ID: "b"},
			{ID: "c"},
		},
		failOn: "b",
	}

	removed := NewCleaner(fake, time.Minute).Cleanup(context.Background())
	if removed != 2 {
		t.Errorf("expected 2 removed, got %d", removed)
	}
	got := fake.deletedIDs()
	if len(got) != 2 || got[0] != "a" || got[1] != "c" {
		t.Errorf("unexpected deletions %v", got)
	}
}

func TestCleanerRunsOnTicker(t *testing.T) {
	fake := &fakeSessions{expired: []*models.Session{{ID: "a"}}}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	NewCleaner(fake, 5*time.Millisecond).Start(ctx)

	deadline := time.After(2 * time.Second)
	for len(fake.deletedIDs()) == 0 {
		select {
		case <-deadline:
			t.Fatal("cleaner never ran")
		case <-time.After(5 * time.Millisecond):
		}
	}
}
