package storage

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/terra-clan/apprentice-engine/internal/models"
	"github.com/terra-clan/apprentice-engine/internal/workflow"
)

// ErrNotFound is returned when a session id is unknown
var ErrNotFound = errors.New("session not found")

// Record is a live session: its workflow engine plus the catalog the
// learner was last shown.
type Record struct {
	ID        string
	Engine    *workflow.Engine
	CreatedAt time.Time

	mu        sync.RWMutex
	catalog   []models.Task
	expiresAt time.Time
}

// NewRecord creates a record that expires ttl from now
func NewRecord(id string, engine *workflow.Engine, ttl time.Duration) *Record {
	now := time.Now()
	return &Record{
		ID:        id,
		Engine:    engine,
		CreatedAt: now,
		expiresAt: now.Add(ttl),
	}
}

// Touch pushes the idle expiry forward
func (r *Record) Touch(ttl time.Duration) {
	r.mu.Lock()
	r.expiresAt = time.Now().Add(ttl)
	r.mu.Unlock()
}

// ExpiresAt returns the idle expiry
func (r *Record) ExpiresAt() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.expiresAt
}

// Catalog returns a copy of the last fetched catalog
func (r *Record) Catalog() []models.Task {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]models.Task(nil), r.catalog...)
}

// SetCatalog replaces the catalog
func (r *Record) SetCatalog(tasks []models.Task) {
	r.mu.Lock()
	r.catalog = append([]models.Task(nil), tasks...)
	r.mu.Unlock()
}

// FindTask looks a task up in the catalog by id
func (r *Record) FindTask(id string) (models.Task, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, t := range r.catalog {
		if t.ID.String() == id {
			return t, true
		}
	}
	return models.Task{}, false
}

// View renders the session for clients
func (r *Record) View() *models.Session {
	s := r.Engine.Snapshot()
	s.ID = r.ID
	s.CreatedAt = r.CreatedAt
	s.ExpiresAt = r.ExpiresAt()
	return &s
}

// Repository defines the interface for session storage
type Repository interface {
	Create(ctx context.Context, rec *Record) error
	Get(ctx context.Context, id string) (*Record, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]*Record, error)
	GetExpired(ctx context.Context, now time.Time) ([]*Record, error)

	// Health
	Ping(ctx context.Context) error
	Close() error
}
