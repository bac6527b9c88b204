package storage

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

var errClosed = errors.New("storage: repository closed")

// MemoryRepository keeps sessions in process memory
type MemoryRepository struct {
	mu       sync.RWMutex
	sessions map[string]*Record
	closed   bool
}

// NewMemoryRepository creates an empty repository
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{sessions: make(map[string]*Record)}
}

func (r *MemoryRepository) Create(ctx context.Context, rec *Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return errClosed
	}
	if _, exists := r.sessions[rec.ID]; exists {
		return errors.New("storage: duplicate session id " + rec.ID)
	}
	r.sessions[rec.ID] = rec
	return nil
}

func (r *MemoryRepository) Get(ctx context.Context, id string) (*Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return rec, nil
}

func (r *MemoryRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[id]; !ok {
		return ErrNotFound
	}
	delete(r.sessions, id)
	return nil
}

// List returns sessions oldest first
func (r *MemoryRepository) List(ctx context.Context) ([]*Record, error) {
	r.mu.RLock()
	out := make([]*Record, 0, len(r.sessions))
	for _, rec := range r.sessions {
		out = append(out, rec)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (r *MemoryRepository) GetExpired(ctx context.Context, now time.Time) ([]*Record, error) {
	all, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	expired := make([]*Record, 0)
	for _, rec := range all {
		if now.After(rec.ExpiresAt()) {
			expired = append(expired, rec)
		}
	}
	return expired, nil
}

func (r *MemoryRepository) Ping(ctx context.Context) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return errClosed
	}
	return ctx.Err()
}

// Close stops every engine and drops all sessions
func (r *MemoryRepository) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, rec := range r.sessions {
		rec.Engine.Close()
		delete(r.sessions, id)
	}
	r.closed = true
	return nil
}
