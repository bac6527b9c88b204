package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/terra-clan/apprentice-engine/internal/events"
	"github.com/terra-clan/apprentice-engine/internal/models"
	"github.com/terra-clan/apprentice-engine/internal/storage"
	"github.com/terra-clan/apprentice-engine/internal/upstream"
	"github.com/terra-clan/apprentice-engine/internal/validation"
	"github.com/terra-clan/apprentice-engine/internal/workflow"
)

// Common errors
var (
	ErrSessionNotFound = errors.New("session not found")
	ErrTaskNotFound    = errors.New("task not found in catalog")
)

// Upstream is the set of external collaborators a session talks to
type Upstream interface {
	ListTasks(ctx context.Context) ([]models.Task, error)
	CreateTask(ctx context.Context, task *models.Task) error
	GenerateMilestones(ctx context.Context, req upstream.GenerateRequest) ([]models.Milestone, error)
	Review(ctx context.Context, userID string, taskID models.TaskID, sub models.Submission) (models.ReviewResult, error)
	SubmitToCompany(ctx context.Context, userID, taskKey string, totalScore float64) (string, error)
}

// Fallbacks supplies the placeholder milestones used when generation fails
type Fallbacks interface {
	Fallback(task models.Task) []models.Milestone
}

// Manager defines the interface for learner session management
type Manager interface {
	Create(ctx context.Context) (*models.Session, error)
	Get(ctx context.Context, id string) (*models.Session, error)
	Delete(ctx context.Context, id string) error
	SetProfile(ctx context.Context, id string, req models.NewProfileRequest) (*models.Session, error)
	Catalog(ctx context.Context) ([]models.Task, error)
	ListTasks(ctx context.Context, id string) ([]models.Task, error)
	CreateTask(ctx context.Context, req models.NewTaskRequest) (*models.Task, error)
	SelectTask(ctx context.Context, id, taskID string, wait bool) (*models.Session, error)
	Regenerate(ctx context.Context, id string, wait bool) (*models.Session, error)
	ReturnToCatalog(ctx context.Context, id string) (*models.Session, error)
	SubmitMilestone(ctx context.Context, id, milestoneID string, file []byte) (*models.Session, error)
	SubmitFinal(ctx context.Context, id string, file []byte) (*models.Session, error)
	ForwardToCompany(ctx context.Context, id string) (*models.ForwardResult, error)
	Subscribe(ctx context.Context, id string) (<-chan events.Event, func(), error)
	GetExpired(ctx context.Context) ([]*models.Session, error)
	Ping(ctx context.Context) error
	Close() error
}

// Options tunes a SessionManager
type Options struct {
	PassScore int
	TTL       time.Duration
}

// SessionManager implements Manager on top of a Repository
type SessionManager struct {
	repo      storage.Repository
	upstream  Upstream
	fallbacks Fallbacks
	bus       events.Bus
	opts      Options

	// base outlives individual requests; generation and reviews run on it
	base   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager creates a new SessionManager
func NewManager(opts Options, repo storage.Repository, up Upstream, fallbacks Fallbacks, bus events.Bus) *SessionManager {
	if opts.PassScore <= 0 {
		opts.PassScore = workflow.DefaultPassScore
	}
	if opts.TTL <= 0 {
		opts.TTL = time.Hour
	}
	base, cancel := context.WithCancel(context.Background())
	return &SessionManager{
		repo:      repo,
		upstream:  up,
		fallbacks: fallbacks,
		bus:       bus,
		opts:      opts,
		base:      base,
		cancel:    cancel,
	}
}

// Ping checks if the manager is operational
func (m *SessionManager) Ping(ctx context.Context) error {
	if err := m.repo.Ping(ctx); err != nil {
		return fmt.Errorf("session store ping failed: %w", err)
	}
	if p, ok := m.bus.(interface{ Ping(context.Context) error }); ok {
		if err := p.Ping(ctx); err != nil {
			return fmt.Errorf("event bus ping failed: %w", err)
		}
	}
	return nil
}

// Create starts a new session with no profile
func (m *SessionManager) Create(ctx context.Context) (*models.Session, error) {
	id := uuid.New().String()
	rec := storage.NewRecord(id, workflow.New(m.opts.PassScore), m.opts.TTL)

	if err := m.repo.Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	slog.Info("session created", "session_id", id, "expires_at", rec.ExpiresAt())
	return rec.View(), nil
}

// Get retrieves a session and refreshes its idle TTL
func (m *SessionManager) Get(ctx context.Context, id string) (*models.Session, error) {
	rec, err := m.touch(ctx, id)
	if err != nil {
		return nil, err
	}
	return rec.View(), nil
}

// Delete cancels in-flight work and forgets the session
func (m *SessionManager) Delete(ctx context.Context, id string) error {
	rec, err := m.lookup(ctx, id)
	if err != nil {
		return err
	}

	rec.Engine.Close()
	if err := m.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ErrSessionNotFound
		}
		return fmt.Errorf("failed to delete session: %w", err)
	}

	slog.Info("session deleted", "session_id", id)
	return nil
}

// SetProfile validates and captures the learner profile
func (m *SessionManager) SetProfile(ctx context.Context, id string, req models.NewProfileRequest) (*models.Session, error) {
	rec, err := m.touch(ctx, id)
	if err != nil {
		return nil, err
	}

	req.Normalize()
	if err := validation.Struct(req); err != nil {
		return nil, err
	}
	if err := rec.Engine.SetProfile(req.Profile()); err != nil {
		return nil, err
	}

	slog.Info("profile captured", "session_id", id, "user_id", req.ID)
	m.publish(rec, events.ProfileSaved, "Profile saved", nil)
	return rec.View(), nil
}

// Catalog fetches the task catalog without a session
func (m *SessionManager) Catalog(ctx context.Context) ([]models.Task, error) {
	tasks, err := m.upstream.ListTasks(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	return tasks, nil
}

// ListTasks refreshes the session's catalog projection
func (m *SessionManager) ListTasks(ctx context.Context, id string) ([]models.Task, error) {
	rec, err := m.touch(ctx, id)
	if err != nil {
		return nil, err
	}

	tasks, err := m.Catalog(ctx)
	if err != nil {
		return nil, err
	}
	rec.SetCatalog(tasks)
	return tasks, nil
}

// CreateTask validates a company task and forwards it to the catalog
func (m *SessionManager) CreateTask(ctx context.Context, req models.NewTaskRequest) (*models.Task, error) {
	if err := validation.Struct(req); err != nil {
		return nil, err
	}

	task := req.Task(time.Now())
	if err := m.upstream.CreateTask(ctx, task); err != nil {
		return nil, fmt.Errorf("failed to create task: %w", err)
	}

	slog.Info("task created", "task_id", task.ID, "title", task.Title)
	return task, nil
}

// SelectTask starts the workflow for a catalog task. Milestones are
// generated in the background; with wait set the call returns once they
// are installed.
func (m *SessionManager) SelectTask(ctx context.Context, id, taskID string, wait bool) (*models.Session, error) {
	rec, err := m.touch(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.Engine.Profile() == nil {
		return nil, workflow.ErrProfileMissing
	}

	task, ok := rec.FindTask(taskID)
	if !ok && len(rec.Catalog()) == 0 {
		if _, err := m.ListTasks(ctx, id); err != nil {
			return nil, err
		}
		task, ok = rec.FindTask(taskID)
	}
	if !ok {
		return nil, ErrTaskNotFound
	}

	t, err := rec.Engine.BeginSelection(m.base, task)
	if err != nil {
		return nil, err
	}

	slog.Info("task selected", "session_id", id, "task_id", task.ID)
	m.publish(rec, events.TaskSelected, task.Title, task)
	m.startGeneration(rec, t)

	return m.settle(ctx, rec, wait)
}

// Regenerate retries generation after an empty milestone set
func (m *SessionManager) Regenerate(ctx context.Context, id string, wait bool) (*models.Session, error) {
	rec, err := m.touch(ctx, id)
	if err != nil {
		return nil, err
	}

	t, err := rec.Engine.Regenerate(m.base)
	if err != nil {
		return nil, err
	}

	slog.Info("regenerating milestones", "session_id", id, "task_id", t.Task.ID)
	m.startGeneration(rec, t)

	return m.settle(ctx, rec, wait)
}

func (m *SessionManager) settle(ctx context.Context, rec *storage.Record, wait bool) (*models.Session, error) {
	if wait {
		if ch := rec.Engine.Settled(); ch != nil {
			select {
			case <-ch:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	return rec.View(), nil
}

func (m *SessionManager) startGeneration(rec *storage.Record, t *workflow.Ticket) {
	m.wg.Add(1)
	go m.generate(rec, t)
}

// generate asks the generation service for milestones and installs them,
// falling back to the placeholder set on failure
func (m *SessionManager) generate(rec *storage.Record, t *workflow.Ticket) {
	defer m.wg.Done()

	log := slog.With("session_id", rec.ID, "task_id", t.Task.ID)

	ms, err := m.upstream.GenerateMilestones(t.Context(), upstream.GenerateRequest{
		UserID: t.UserID,
		Skills: t.Skills,
		Task:   t.Task,
	})
	if err != nil {
		if t.Context().Err() != nil {
			log.Debug("milestone generation abandoned", "error", err)
			return
		}
		if applyErr := rec.Engine.FailSelection(t, m.fallbacks.Fallback(t.Task), err); applyErr != nil {
			log.Debug("discarding generation failure", "error", applyErr)
			return
		}
		log.Warn("milestone generation failed, using placeholder set", "error", err)
		m.publish(rec, events.MilestonesFallback, err.Error(), nil)
		return
	}

	if err := rec.Engine.CompleteSelection(t, ms); err != nil {
		log.Debug("discarding generated milestones", "error", err)
		return
	}
	if len(ms) == 0 {
		log.Warn("milestone generation returned an empty set")
		m.publish(rec, events.MilestonesEmpty, "No milestones were generated", nil)
		return
	}
	log.Info("milestones loaded", "count", len(ms))
	m.publish(rec, events.MilestonesLoaded, "", len(ms))
}

// ReturnToCatalog discards the selected task and any in-flight work
func (m *SessionManager) ReturnToCatalog(ctx context.Context, id string) (*models.Session, error) {
	rec, err := m.touch(ctx, id)
	if err != nil {
		return nil, err
	}

	rec.Engine.ReturnToCatalog()
	m.publish(rec, events.ReturnedToCatalog, "", nil)
	return rec.View(), nil
}

// SubmitMilestone sends a milestone artifact for review
func (m *SessionManager) SubmitMilestone(ctx context.Context, id, milestoneID string, file []byte) (*models.Session, error) {
	rec, err := m.touch(ctx, id)
	if err != nil {
		return nil, err
	}

	t, err := rec.Engine.BeginReview(milestoneID, file)
	if err != nil {
		return nil, err
	}

	// The review runs on the epoch context, not the request, so a client
	// disconnect does not abort it.
	res, err := m.upstream.Review(t.Context(), t.UserID, t.Task.ID, t.Submission)
	if err != nil {
		return nil, m.fail(rec, t, fmt.Errorf("failed to review milestone %s: %w", milestoneID, err))
	}

	out, err := rec.Engine.ApplyReview(t, res)
	if err != nil {
		return nil, err
	}

	slog.Info("milestone reviewed",
		"session_id", id,
		"milestone_id", milestoneID,
		"score", out.Milestone.Score(),
		"completed", out.Milestone.Completed,
	)
	m.publish(rec, events.MilestoneReviewed, milestoneID, out.Milestone)
	if out.BecameComplete {
		m.publish(rec, events.AllMilestonesComplete, "All milestones complete", nil)
	}
	return rec.View(), nil
}

// SubmitFinal sends the final project for review once every milestone is done
func (m *SessionManager) SubmitFinal(ctx context.Context, id string, file []byte) (*models.Session, error) {
	rec, err := m.touch(ctx, id)
	if err != nil {
		return nil, err
	}

	t, err := rec.Engine.BeginFinal(file)
	if err != nil {
		return nil, err
	}

	res, err := m.upstream.Review(t.Context(), t.UserID, t.Task.ID, t.Submission)
	if err != nil {
		return nil, m.fail(rec, t, fmt.Errorf("failed to review final project: %w", err))
	}

	score, err := rec.Engine.ApplyFinal(t, res)
	if err != nil {
		return nil, err
	}

	slog.Info("final project reviewed", "session_id", id, "task_id", t.Task.ID, "score", score)
	m.publish(rec, events.FinalReviewed, "", score)
	return rec.View(), nil
}

// ForwardToCompany relays the accepted score to the company
func (m *SessionManager) ForwardToCompany(ctx context.Context, id string) (*models.ForwardResult, error) {
	rec, err := m.touch(ctx, id)
	if err != nil {
		return nil, err
	}

	t, err := rec.Engine.BeginForward()
	if err != nil {
		var terr *workflow.ThresholdError
		if errors.As(err, &terr) {
			m.publish(rec, events.Error, terr.Guidance(), nil)
		}
		return nil, err
	}

	msg, err := m.upstream.SubmitToCompany(t.Context(), t.UserID, t.Task.SubmissionKey(), t.TotalScore)
	if err != nil {
		return nil, m.fail(rec, t, fmt.Errorf("failed to submit to company: %w", err))
	}

	if err := rec.Engine.ApplyForward(t, msg); err != nil {
		return nil, err
	}

	slog.Info("project submitted to company",
		"session_id", id,
		"task_id", t.Task.ID,
		"total_score", t.TotalScore,
	)
	m.publish(rec, events.CompanySubmitted, msg, t.TotalScore)
	return &models.ForwardResult{Message: msg, TotalScore: t.TotalScore}, nil
}

// fail records a collaborator failure on the session. A failure caused by
// the learner leaving the task is reported as a stale result.
func (m *SessionManager) fail(rec *storage.Record, t *workflow.Ticket, err error) error {
	if t.Context().Err() != nil {
		return workflow.ErrStaleResult
	}
	rec.Engine.Fail(t, err)
	slog.Warn("collaborator call failed", "session_id", rec.ID, "kind", t.Kind, "error", err)
	m.publish(rec, events.Error, err.Error(), nil)
	return err
}

// Subscribe streams the events of one session
func (m *SessionManager) Subscribe(ctx context.Context, id string) (<-chan events.Event, func(), error) {
	if _, err := m.lookup(ctx, id); err != nil {
		return nil, nil, err
	}
	return m.bus.Subscribe(ctx, id)
}

// GetExpired returns all sessions whose idle TTL elapsed
func (m *SessionManager) GetExpired(ctx context.Context) ([]*models.Session, error) {
	recs, err := m.repo.GetExpired(ctx, time.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to get expired sessions: %w", err)
	}

	out := make([]*models.Session, 0, len(recs))
	for _, rec := range recs {
		out = append(out, rec.View())
	}
	return out, nil
}

// Close cancels background work and releases the store and bus
func (m *SessionManager) Close() error {
	m.cancel()
	m.wg.Wait()

	if err := m.repo.Close(); err != nil {
		slog.Warn("failed to close repository", "error", err)
	}
	return m.bus.Close()
}

func (m *SessionManager) lookup(ctx context.Context, id string) (*storage.Record, error) {
	rec, err := m.repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return rec, nil
}

func (m *SessionManager) touch(ctx context.Context, id string) (*storage.Record, error) {
	rec, err := m.lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	rec.Touch(m.opts.TTL)
	return rec, nil
}

func (m *SessionManager) publish(rec *storage.Record, typ events.Type, message string, data interface{}) {
	ev := events.New(rec.ID, typ, message, data)
	ev.State = rec.Engine.State()

	ctx, cancel := context.WithTimeout(m.base, 5*time.Second)
	defer cancel()
	if err := m.bus.Publish(ctx, ev); err != nil {
		slog.Warn("failed to publish event", "session_id", rec.ID, "type", typ, "error", err)
	}
}
