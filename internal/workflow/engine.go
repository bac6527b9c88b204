// Package workflow implements the milestone-gated apprenticeship workflow.
//
// An Engine holds the state of one learner session. Every operation that
// talks to an external collaborator is split in two: a Begin* call that
// validates the transition and returns a Ticket, and an Apply* call that
// records the collaborator's answer. Network I/O happens between the two,
// outside the engine lock. Each task selection opens a new epoch; tickets
// from an older epoch are rejected with ErrStaleResult, which is how
// in-flight results are discarded after the learner returns to the catalog.
package workflow

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/terra-clan/apprentice-engine/internal/models"
)

// DefaultPassScore is the minimum score that completes a milestone and
// unlocks the company submission.
const DefaultPassScore = 80

// Kind identifies what a ticket was issued for
type Kind string

const (
	KindMilestones Kind = "milestones"
	KindReview     Kind = "review"
	KindFinal      Kind = "final"
	KindForward    Kind = "forward"
)

// Ticket is issued by a Begin* call and redeemed by the matching Apply* call
type Ticket struct {
	Kind       Kind
	UserID     string
	Task       models.Task
	Skills     []models.SkillLevel
	Submission models.Submission
	TotalScore float64

	epoch uint64
	ctx   context.Context
}

// Context is cancelled when the learner leaves the ticket's task
func (t *Ticket) Context() context.Context {
	return t.ctx
}

// epochState tracks one task selection
type epochState struct {
	id      uint64
	ctx     context.Context
	cancel  context.CancelFunc
	loading bool
	settled chan struct{}
}

// Engine is the session-scoped workflow state machine
type Engine struct {
	mu        sync.Mutex
	passScore int

	profile       *models.Profile
	task          *models.Task
	milestones    []models.Milestone
	degraded      bool
	finalScore    *int
	finalFeedback string
	notice        string

	epoch     *epochState
	nextEpoch uint64
}

// New creates an engine in the no_task_selected state
func New(passScore int) *Engine {
	if passScore <= 0 {
		passScore = DefaultPassScore
	}
	return &Engine{passScore: passScore}
}

// PassScore returns the threshold used by this engine
func (e *Engine) PassScore() int {
	return e.passScore
}

// SetProfile captures the learner profile. It can only happen once.
func (e *Engine) SetProfile(p *models.Profile) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.profile != nil {
		return ErrProfileExists
	}
	if p == nil || p.ID == "" || p.Name == "" {
		return ErrProfileMissing
	}
	cp := *p
	cp.Skills = append([]models.SkillLevel(nil), p.Skills...)
	e.profile = &cp
	return nil
}

// Profile returns a copy of the captured profile, or nil
func (e *Engine) Profile() *models.Profile {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.profile == nil {
		return nil
	}
	cp := *e.profile
	return &cp
}

// State derives the workflow state from the current data
func (e *Engine) State() models.WorkflowState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stateLocked()
}

func (e *Engine) stateLocked() models.WorkflowState {
	if e.task == nil {
		return models.StateNoTaskSelected
	}
	// An empty set counts as still loading, never as vacuously complete.
	if len(e.milestones) == 0 {
		return models.StateLoadingMilestones
	}
	if !AllComplete(e.milestones) {
		return models.StateInProgress
	}
	return models.StateAllMilestonesComplete
}

// BeginSelection selects a task and opens a new epoch for it. Any previous
// selection is discarded and its in-flight work cancelled.
func (e *Engine) BeginSelection(parent context.Context, task models.Task) (*Ticket, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.profile == nil {
		return nil, ErrProfileMissing
	}

	e.resetLocked()
	t := task
	e.task = &t
	return e.openEpochLocked(parent), nil
}

// Regenerate re-issues milestone generation for the selected task when the
// previous attempt produced an empty set.
func (e *Engine) Regenerate(parent context.Context) (*Ticket, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.profile == nil {
		return nil, ErrProfileMissing
	}
	if e.task == nil {
		return nil, ErrNoTaskSelected
	}
	if e.epoch != nil && e.epoch.loading {
		return nil, ErrMilestonesLoading
	}
	if len(e.milestones) > 0 {
		return nil, ErrMilestonesLoaded
	}

	task := *e.task
	e.closeEpochLocked()
	e.task = &task
	return e.openEpochLocked(parent), nil
}

func (e *Engine) openEpochLocked(parent context.Context) *Ticket {
	if parent == nil {
		parent = context.Background()
	}
	e.nextEpoch++
	ctx, cancel := context.WithCancel(parent)
	e.epoch = &epochState{
		id:      e.nextEpoch,
		ctx:     ctx,
		cancel:  cancel,
		loading: true,
		settled: make(chan struct{}),
	}
	return &Ticket{
		Kind:   KindMilestones,
		UserID: e.profile.ID,
		Task:   *e.task,
		Skills: append([]models.SkillLevel(nil), e.profile.Skills...),
		epoch:  e.epoch.id,
		ctx:    ctx,
	}
}

// Settled returns a channel closed once the current milestone load finishes.
// It returns nil when nothing is loading.
func (e *Engine) Settled() <-chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.epoch == nil {
		return nil
	}
	return e.epoch.settled
}

// CompleteSelection installs the generated milestones in receipt order.
// An empty set leaves the engine in loading_milestones.
func (e *Engine) CompleteSelection(t *Ticket, generated []models.Milestone) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.checkLocked(t, KindMilestones); err != nil {
		return err
	}
	e.installLocked(generated, false)
	e.settleLocked()
	return nil
}

// FailSelection installs the placeholder set after a generation failure so
// the workflow stays usable.
func (e *Engine) FailSelection(t *Ticket, fallback []models.Milestone, cause error) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.checkLocked(t, KindMilestones); err != nil {
		return err
	}
	e.installLocked(fallback, true)
	if cause != nil {
		e.notice = "Milestone generation is unavailable; showing a starter milestone instead."
	}
	e.settleLocked()
	return nil
}

func (e *Engine) installLocked(ms []models.Milestone, degraded bool) {
	e.milestones = make([]models.Milestone, 0, len(ms))
	for i, m := range ms {
		m.Title = fmt.Sprintf("Milestone %d", i+1)
		m.Feedback = nil
		m.AIScore = nil
		m.Completed = false
		m.RecommendedResources = append([]string(nil), m.RecommendedResources...)
		e.milestones = append(e.milestones, m)
	}
	e.degraded = degraded
}

func (e *Engine) settleLocked() {
	if e.epoch != nil && e.epoch.loading {
		e.epoch.loading = false
		close(e.epoch.settled)
	}
}

// BeginReview validates a milestone submission and builds its artifact.
// The description sent for review is the milestone's action text.
func (e *Engine) BeginReview(milestoneID string, file []byte) (*Ticket, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.requireMilestonesLocked(); err != nil {
		return nil, err
	}
	idx := e.indexLocked(milestoneID)
	if idx < 0 {
		return nil, ErrMilestoneNotFound
	}
	if e.lockedLocked(idx) {
		return nil, ErrMilestoneLocked
	}

	return &Ticket{
		Kind:   KindReview,
		UserID: e.profile.ID,
		Task:   *e.task,
		Submission: models.Submission{
			MilestoneID: milestoneID,
			Description: e.milestones[idx].Action,
			FileContent: file,
		},
		epoch: e.epoch.id,
		ctx:   e.epoch.ctx,
	}, nil
}

// ReviewOutcome reports the effect of a review on the workflow
type ReviewOutcome struct {
	Milestone      models.Milestone
	BecameComplete bool
}

// ApplyReview records feedback and score on the milestone. Completion is
// recomputed from the latest score, so a weaker resubmission can undo it.
func (e *Engine) ApplyReview(t *Ticket, res models.ReviewResult) (ReviewOutcome, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.checkLocked(t, KindReview); err != nil {
		return ReviewOutcome{}, err
	}
	idx := e.indexLocked(t.Submission.MilestoneID)
	if idx < 0 {
		return ReviewOutcome{}, ErrMilestoneNotFound
	}

	before := e.stateLocked()
	feedback, score := normalizeResult(res)

	m := &e.milestones[idx]
	m.Feedback = &feedback
	m.AIScore = &score
	m.Completed = score >= e.passScore

	if m.Completed {
		e.notice = fmt.Sprintf("%s passed with %d/100.", m.Title, score)
	} else {
		e.notice = fmt.Sprintf("%s scored %d/100. At least %d is needed to continue.", m.Title, score, e.passScore)
	}

	after := e.stateLocked()
	return ReviewOutcome{
		Milestone:      *m,
		BecameComplete: before != models.StateAllMilestonesComplete && after == models.StateAllMilestonesComplete,
	}, nil
}

// BeginFinal opens the final submission gate
func (e *Engine) BeginFinal(file []byte) (*Ticket, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.requireMilestonesLocked(); err != nil {
		return nil, err
	}
	if e.stateLocked() != models.StateAllMilestonesComplete {
		return nil, ErrGateClosed
	}

	return &Ticket{
		Kind:   KindFinal,
		UserID: e.profile.ID,
		Task:   *e.task,
		Submission: models.Submission{
			Description: e.task.ReviewDescription(),
			FileContent: file,
		},
		epoch: e.epoch.id,
		ctx:   e.epoch.ctx,
	}, nil
}

// ApplyFinal records the final score, overwriting any earlier one
func (e *Engine) ApplyFinal(t *Ticket, res models.ReviewResult) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.checkLocked(t, KindFinal); err != nil {
		return 0, err
	}
	feedback, score := normalizeResult(res)
	e.finalScore = &score
	e.finalFeedback = feedback
	e.notice = fmt.Sprintf("Final review complete: Score %d/100. %s", score, feedback)
	return score, nil
}

// BeginForward checks both score gates and computes the value to forward.
// The forwarded total is the milestone average, not the final score.
func (e *Engine) BeginForward() (*Ticket, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.requireMilestonesLocked(); err != nil {
		return nil, err
	}

	aggregate := e.aggregateLocked()
	if e.finalScore == nil || *e.finalScore < e.passScore || aggregate < float64(e.passScore) {
		terr := &ThresholdError{AggregateScore: aggregate, PassScore: e.passScore}
		if e.finalScore != nil {
			fs := *e.finalScore
			terr.FinalScore = &fs
		}
		e.notice = terr.Guidance()
		return nil, terr
	}

	return &Ticket{
		Kind:       KindForward,
		UserID:     e.profile.ID,
		Task:       *e.task,
		TotalScore: aggregate,
		epoch:      e.epoch.id,
		ctx:        e.epoch.ctx,
	}, nil
}

// ApplyForward surfaces the company's answer
func (e *Engine) ApplyForward(t *Ticket, message string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.checkLocked(t, KindForward); err != nil {
		return err
	}
	e.notice = "Project submitted to company: " + message
	return nil
}

// Fail surfaces a collaborator failure without touching workflow data.
// Failures from a stale epoch are dropped.
func (e *Engine) Fail(t *Ticket, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if t == nil || e.epoch == nil || t.epoch != e.epoch.id {
		return
	}
	switch t.Kind {
	case KindForward:
		e.notice = "Submission failed: " + err.Error()
	default:
		e.notice = "Review failed: " + err.Error()
	}
}

// ReturnToCatalog discards the selected task, its milestones, final result
// and any in-flight work.
func (e *Engine) ReturnToCatalog() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.resetLocked()
}

// Close cancels any in-flight work
func (e *Engine) Close() {
	e.ReturnToCatalog()
}

func (e *Engine) resetLocked() {
	e.closeEpochLocked()
	e.task = nil
	e.milestones = nil
	e.degraded = false
	e.finalScore = nil
	e.finalFeedback = ""
	e.notice = ""
}

func (e *Engine) closeEpochLocked() {
	if e.epoch == nil {
		return
	}
	e.epoch.cancel()
	if e.epoch.loading {
		e.epoch.loading = false
		close(e.epoch.settled)
	}
	e.epoch = nil
}

func (e *Engine) checkLocked(t *Ticket, kind Kind) error {
	if t == nil || t.Kind != kind {
		return fmt.Errorf("workflow: ticket kind mismatch, want %s", kind)
	}
	if e.epoch == nil || t.epoch != e.epoch.id {
		return ErrStaleResult
	}
	return nil
}

func (e *Engine) requireMilestonesLocked() error {
	if e.profile == nil {
		return ErrProfileMissing
	}
	if e.task == nil {
		return ErrNoTaskSelected
	}
	if len(e.milestones) == 0 {
		return ErrMilestonesLoading
	}
	return nil
}

func (e *Engine) indexLocked(id string) int {
	for i := range e.milestones {
		if e.milestones[i].ID == id {
			return i
		}
	}
	return -1
}

func (e *Engine) lockedLocked(idx int) bool {
	return idx > 0 && !e.milestones[idx-1].Completed
}

func (e *Engine) aggregateLocked() float64 {
	if len(e.milestones) == 0 {
		return 0
	}
	total := 0
	for i := range e.milestones {
		total += e.milestones[i].Score()
	}
	return float64(total) / float64(len(e.milestones))
}

func (e *Engine) progressLocked() int {
	if len(e.milestones) == 0 {
		return 0
	}
	done := 0
	for i := range e.milestones {
		if e.milestones[i].Completed {
			done++
		}
	}
	return int(math.Round(float64(done) / float64(len(e.milestones)) * 100))
}

// Snapshot returns a deep copy of the workflow as a client view.
// Session identity and timestamps are filled in by the caller.
func (e *Engine) Snapshot() models.Session {
	e.mu.Lock()
	defer e.mu.Unlock()

	state := e.stateLocked()
	s := models.Session{
		State:          state,
		Milestones:     make([]models.MilestoneView, 0, len(e.milestones)),
		Progress:       e.progressLocked(),
		Degraded:       e.degraded,
		FinalFeedback:  e.finalFeedback,
		AggregateScore: e.aggregateLocked(),
		CanSubmitFinal: state == models.StateAllMilestonesComplete,
		Notice:         e.notice,
	}
	if e.profile != nil {
		p := *e.profile
		p.Skills = append([]models.SkillLevel(nil), e.profile.Skills...)
		s.Profile = &p
	}
	if e.task != nil {
		t := *e.task
		s.SelectedTask = &t
	}
	if e.finalScore != nil {
		fs := *e.finalScore
		s.FinalScore = &fs
		s.CanForward = fs >= e.passScore && s.AggregateScore >= float64(e.passScore)
	}
	for i, m := range e.milestones {
		view := models.MilestoneView{Milestone: m, Position: i, Locked: e.lockedLocked(i)}
		view.RecommendedResources = append([]string(nil), m.RecommendedResources...)
		if m.Feedback != nil {
			f := *m.Feedback
			view.Feedback = &f
		}
		if m.AIScore != nil {
			sc := *m.AIScore
			view.AIScore = &sc
		}
		s.Milestones = append(s.Milestones, view)
	}
	return s
}

func normalizeResult(res models.ReviewResult) (string, int) {
	feedback := strings.TrimSpace(res.Feedback)
	if feedback == "" {
		feedback = "No feedback"
	}
	return feedback, ClampScore(res.AIScore)
}

// ClampScore bounds an AI score to [0,100]
func ClampScore(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

// AllComplete reports whether a milestone set is non-empty and fully completed
func AllComplete(ms []models.Milestone) bool {
	if len(ms) == 0 {
		return false
	}
	for i := range ms {
		if !ms[i].Completed {
			return false
		}
	}
	return true
}
