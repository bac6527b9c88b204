// Package tui is a terminal client for the apprentice engine.
//
// The flow mirrors the learner journey: capture a profile, pick a task from
// the catalog, then work through the milestone board until the final
// project can be sent to the company.
package tui

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/terra-clan/apprentice-engine/internal/models"
)

// Backend is the part of the API client the TUI drives
type Backend interface {
	CreateSession(ctx context.Context) (*models.Session, error)
	SetProfile(ctx context.Context, id string, req models.NewProfileRequest) (*models.Session, error)
	ListTasks(ctx context.Context, id string) ([]models.Task, error)
	SelectTask(ctx context.Context, id, taskID string, wait bool) (*models.Session, error)
	ReturnToCatalog(ctx context.Context, id string) (*models.Session, error)
	SubmitMilestone(ctx context.Context, id, milestoneID string, file []byte) (*models.Session, error)
	SubmitFinal(ctx context.Context, id string, file []byte) (*models.Session, error)
	ForwardToCompany(ctx context.Context, id string) (*models.ForwardResult, error)
}

type screen int

const (
	screenProfile screen = iota
	screenTasks
	screenBoard
)

// promptKind is what the file prompt will submit
type promptKind int

const (
	promptNone promptKind = iota
	promptMilestone
	promptFinal
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	noticeStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("86"))
	doneStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	lockedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	cursorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("212")).Bold(true)
	panelStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	progressFull = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
)

// Messages

type sessionMsg struct{ session *models.Session }

type tasksMsg struct{ tasks []models.Task }

type forwardMsg struct{ result *models.ForwardResult }

type errMsg struct{ err error }

// taskItem implements list.Item for the catalog
type taskItem struct{ task models.Task }

func (i taskItem) Title() string { return i.task.Title }
func (i taskItem) Description() string {
	desc := fmt.Sprintf("%.0f pts · %s", i.task.Reward, i.task.Duration)
	if len(i.task.Skills) > 0 {
		desc += " · " + strings.Join(i.task.Skills, ", ")
	}
	return desc
}
func (i taskItem) FilterValue() string { return i.task.Title }

// App is the bubbletea model
type App struct {
	backend Backend
	timeout time.Duration

	screen  screen
	session *models.Session
	busy    bool
	err     error
	notice  string

	// profile form
	inputs []textinput.Model
	focus  int

	tasks  list.Model
	cursor int

	prompt    promptKind
	fileInput textinput.Model
	spinner   spinner.Model
	width     int
	height    int
}

// NewApp creates the TUI model
func NewApp(backend Backend, timeout time.Duration) *App {
	if timeout <= 0 {
		timeout = 3 * time.Minute
	}

	inputs := make([]textinput.Model, 3)
	for i, placeholder := range []string{"User ID", "Name", "Skills (comma separated)"} {
		ti := textinput.New()
		ti.Placeholder = placeholder
		ti.CharLimit = 120
		inputs[i] = ti
	}
	inputs[0].Focus()

	tasks := list.New(nil, list.NewDefaultDelegate(), 80, 20)
	tasks.Title = "Task catalog"
	tasks.SetShowStatusBar(false)

	file := textinput.New()
	file.Placeholder = "path to file (empty for none)"

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	return &App{
		backend:   backend,
		timeout:   timeout,
		inputs:    inputs,
		tasks:     tasks,
		fileInput: file,
		spinner:   sp,
	}
}

// Init creates the session
func (a *App) Init() tea.Cmd {
	a.busy = true
	return tea.Batch(a.spinner.Tick, a.do(func(ctx context.Context) tea.Msg {
		s, err := a.backend.CreateSession(ctx)
		if err != nil {
			return errMsg{err}
		}
		return sessionMsg{s}
	}))
}

// do runs a backend call off the UI goroutine
func (a *App) do(fn func(ctx context.Context) tea.Msg) tea.Cmd {
	timeout := a.timeout
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return fn(ctx)
	}
}

func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.width, a.height = msg.Width, msg.Height
		a.tasks.SetSize(msg.Width-2, msg.Height-4)
		return a, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		a.spinner, cmd = a.spinner.Update(msg)
		return a, cmd

	case sessionMsg:
		a.busy = false
		a.err = nil
		a.applySession(msg.session)
		return a, nil

	case tasksMsg:
		a.busy = false
		a.err = nil
		items := make([]list.Item, 0, len(msg.tasks))
		for _, t := range msg.tasks {
			items = append(items, taskItem{t})
		}
		cmd := a.tasks.SetItems(items)
		return a, cmd

	case forwardMsg:
		a.busy = false
		a.err = nil
		a.notice = fmt.Sprintf("Project submitted to company: %s (score %.1f)", msg.result.Message, msg.result.TotalScore)
		return a, nil

	case errMsg:
		a.busy = false
		a.err = msg.err
		return a, nil

	case batchMsg:
		var cmds []tea.Cmd
		for _, m := range msg {
			_, cmd := a.Update(m)
			cmds = append(cmds, cmd)
		}
		return a, tea.Batch(cmds...)

	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC {
			return a, tea.Quit
		}
		if a.busy {
			return a, nil
		}
		if a.prompt != promptNone {
			return a.updatePrompt(msg)
		}
		switch a.screen {
		case screenProfile:
			return a.updateProfile(msg)
		case screenTasks:
			return a.updateTasks(msg)
		case screenBoard:
			return a.updateBoard(msg)
		}
	}
	return a, nil
}

// applySession moves to the screen that matches the workflow state
func (a *App) applySession(s *models.Session) {
	if s == nil {
		return
	}
	a.session = s
	a.notice = s.Notice
	switch {
	case s.Profile == nil:
		a.screen = screenProfile
	case s.State == models.StateNoTaskSelected:
		a.screen = screenTasks
	default:
		a.screen = screenBoard
		if a.cursor >= len(s.Milestones) {
			a.cursor = 0
		}
	}
}

func (a *App) updateProfile(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyTab, tea.KeyDown:
		a.setFocus((a.focus + 1) % len(a.inputs))
		return a, nil
	case tea.KeyShiftTab, tea.KeyUp:
		a.setFocus((a.focus + len(a.inputs) - 1) % len(a.inputs))
		return a, nil
	case tea.KeyEnter:
		if a.session == nil {
			return a, nil
		}
		req := models.NewProfileRequest{
			ID:     a.inputs[0].Value(),
			Name:   a.inputs[1].Value(),
			Skills: a.inputs[2].Value(),
		}
		id := a.session.ID
		a.busy = true
		return a, tea.Batch(a.spinner.Tick, a.do(func(ctx context.Context) tea.Msg {
			s, err := a.backend.SetProfile(ctx, id, req)
			if err != nil {
				return errMsg{err}
			}
			tasks, err := a.backend.ListTasks(ctx, id)
			if err != nil {
				return errMsg{err}
			}
			return batchMsg{sessionMsg{s}, tasksMsg{tasks}}
		}))
	}

	var cmd tea.Cmd
	a.inputs[a.focus], cmd = a.inputs[a.focus].Update(msg)
	return a, cmd
}

// batchMsg delivers several results from one backend round trip
type batchMsg []tea.Msg

func (a *App) setFocus(i int) {
	a.inputs[a.focus].Blur()
	a.focus = i
	a.inputs[a.focus].Focus()
}

func (a *App) updateTasks(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if a.tasks.FilterState() == list.Filtering {
		var cmd tea.Cmd
		a.tasks, cmd = a.tasks.Update(msg)
		return a, cmd
	}

	switch msg.String() {
	case "q":
		return a, tea.Quit
	case "r":
		return a, a.refreshTasks()
	case "enter":
		item, ok := a.tasks.SelectedItem().(taskItem)
		if !ok {
			return a, nil
		}
		id, taskID := a.session.ID, item.task.ID.String()
		a.busy = true
		a.notice = "Generating milestones for " + item.task.Title
		return a, tea.Batch(a.spinner.Tick, a.do(func(ctx context.Context) tea.Msg {
			s, err := a.backend.SelectTask(ctx, id, taskID, true)
			if err != nil {
				return errMsg{err}
			}
			return sessionMsg{s}
		}))
	}

	var cmd tea.Cmd
	a.tasks, cmd = a.tasks.Update(msg)
	return a, cmd
}

func (a *App) refreshTasks() tea.Cmd {
	id := a.session.ID
	a.busy = true
	return tea.Batch(a.spinner.Tick, a.do(func(ctx context.Context) tea.Msg {
		tasks, err := a.backend.ListTasks(ctx, id)
		if err != nil {
			return errMsg{err}
		}
		return tasksMsg{tasks}
	}))
}

func (a *App) updateBoard(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	milestones := a.session.Milestones
	id := a.session.ID

	switch msg.String() {
	case "q":
		return a, tea.Quit
	case "up", "k":
		if a.cursor > 0 {
			a.cursor--
		}
	case "down", "j":
		if a.cursor < len(milestones)-1 {
			a.cursor++
		}
	case "enter", "s":
		if len(milestones) == 0 {
			return a, nil
		}
		a.openPrompt(promptMilestone)
	case "f":
		a.openPrompt(promptFinal)
	case "c":
		a.busy = true
		return a, tea.Batch(a.spinner.Tick, a.do(func(ctx context.Context) tea.Msg {
			res, err := a.backend.ForwardToCompany(ctx, id)
			if err != nil {
				return errMsg{err}
			}
			return forwardMsg{res}
		}))
	case "b":
		a.busy = true
		a.cursor = 0
		return a, tea.Batch(a.spinner.Tick, a.do(func(ctx context.Context) tea.Msg {
			s, err := a.backend.ReturnToCatalog(ctx, id)
			if err != nil {
				return errMsg{err}
			}
			tasks, err := a.backend.ListTasks(ctx, id)
			if err != nil {
				return errMsg{err}
			}
			return batchMsg{sessionMsg{s}, tasksMsg{tasks}}
		}))
	}
	return a, nil
}

func (a *App) openPrompt(kind promptKind) {
	a.prompt = kind
	a.fileInput.SetValue("")
	a.fileInput.Focus()
}

func (a *App) updatePrompt(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEsc:
		a.prompt = promptNone
		a.fileInput.Blur()
		return a, nil
	case tea.KeyEnter:
		kind := a.prompt
		path := strings.TrimSpace(a.fileInput.Value())
		a.prompt = promptNone
		a.fileInput.Blur()
		return a, a.submit(kind, path)
	}

	var cmd tea.Cmd
	a.fileInput, cmd = a.fileInput.Update(msg)
	return a, cmd
}

// submit reads the optional file and sends it for review
func (a *App) submit(kind promptKind, path string) tea.Cmd {
	var file []byte
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			a.err = fmt.Errorf("read %s: %w", path, err)
			return nil
		}
		file = data
	}

	id := a.session.ID
	milestoneID := ""
	if kind == promptMilestone && a.cursor < len(a.session.Milestones) {
		milestoneID = a.session.Milestones[a.cursor].ID
	}

	a.busy = true
	return tea.Batch(a.spinner.Tick, a.do(func(ctx context.Context) tea.Msg {
		var (
			s   *models.Session
			err error
		)
		if kind == promptFinal {
			s, err = a.backend.SubmitFinal(ctx, id, file)
		} else {
			s, err = a.backend.SubmitMilestone(ctx, id, milestoneID, file)
		}
		if err != nil {
			return errMsg{err}
		}
		return sessionMsg{s}
	}))
}

func (a *App) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("Apprentice") + "\n\n")

	switch a.screen {
	case screenProfile:
		b.WriteString(a.viewProfile())
	case screenTasks:
		b.WriteString(a.tasks.View())
	case screenBoard:
		b.WriteString(a.viewBoard())
	}

	if a.prompt != promptNone {
		label := "Milestone file"
		if a.prompt == promptFinal {
			label = "Final project file"
		}
		b.WriteString("\n" + label + ": " + a.fileInput.View() + "\n")
	}

	b.WriteString("\n")
	if a.busy {
		b.WriteString(a.spinner.View() + " working...\n")
	}
	if a.notice != "" {
		b.WriteString(noticeStyle.Render(a.notice) + "\n")
	}
	if a.err != nil {
		b.WriteString(errorStyle.Render("Error: "+a.err.Error()) + "\n")
	}
	b.WriteString(mutedStyle.Render(a.help()) + "\n")
	return b.String()
}

func (a *App) viewProfile() string {
	var b strings.Builder
	b.WriteString("Tell us about yourself\n\n")
	for _, in := range a.inputs {
		b.WriteString(in.View() + "\n")
	}
	return panelStyle.Render(b.String())
}

func (a *App) viewBoard() string {
	s := a.session
	var b strings.Builder

	if s.SelectedTask != nil {
		b.WriteString(titleStyle.Render(s.SelectedTask.Title) + "\n")
	}
	b.WriteString(progressBar(s.Progress, 30) + fmt.Sprintf(" %d%%", s.Progress))
	if s.Degraded {
		b.WriteString(mutedStyle.Render("  (starter milestones)"))
	}
	b.WriteString("\n\n")

	if s.State == models.StateLoadingMilestones {
		b.WriteString(mutedStyle.Render("Milestones are still loading.") + "\n")
	}

	for i, m := range s.Milestones {
		cursor := "  "
		if i == a.cursor {
			cursor = cursorStyle.Render("> ")
		}
		line := fmt.Sprintf("%s · %s", m.Title, m.Action)
		switch {
		case m.Completed:
			line = doneStyle.Render("✓ " + line)
		case m.Locked:
			line = lockedStyle.Render("🔒 " + line)
		default:
			line = "○ " + line
		}
		if m.AIScore != nil {
			line += fmt.Sprintf("  [%d/100]", *m.AIScore)
		}
		b.WriteString(cursor + line + "\n")
		if i == a.cursor {
			if m.Feedback != nil {
				b.WriteString("     " + mutedStyle.Render(*m.Feedback) + "\n")
			}
			if len(m.RecommendedResources) > 0 {
				b.WriteString("     " + mutedStyle.Render("Resources: "+strings.Join(m.RecommendedResources, ", ")) + "\n")
			}
		}
	}

	if s.FinalScore != nil {
		b.WriteString(fmt.Sprintf("\nFinal score: %d/100 · milestone average %.1f\n", *s.FinalScore, s.AggregateScore))
	}
	return panelStyle.Render(b.String())
}

func (a *App) help() string {
	switch {
	case a.prompt != promptNone:
		return "enter submit · esc cancel"
	case a.screen == screenProfile:
		return "tab next field · enter save · ctrl+c quit"
	case a.screen == screenTasks:
		return "enter select · / filter · r refresh · q quit"
	default:
		return "↑/↓ move · s submit milestone · f final project · c send to company · b back · q quit"
	}
}

func progressBar(percent, width int) string {
	filled := percent * width / 100
	if filled > width {
		filled = width
	}
	return progressFull.Render(strings.Repeat("█", filled)) + mutedStyle.Render(strings.Repeat("░", width-filled))
}
