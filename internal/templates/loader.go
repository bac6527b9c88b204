package templates

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"text/template"

	"gopkg.in/yaml.v3"

	"github.com/terra-clan/apprentice-engine/internal/models"
)

// DefaultSet is the name of the placeholder set used when no skill matches
const DefaultSet = "default"

// PlaceholderSet is a named list of milestones served when milestone
// generation is unavailable
type PlaceholderSet struct {
	Name        string
	MatchSkills []string
	Milestones  []placeholderMilestone
}

type placeholderMilestone struct {
	ID                   string
	Action               *template.Template
	RecommendedResources []string
}

// Loader manages loading and caching of placeholder milestone sets
type Loader struct {
	mu   sync.RWMutex
	sets map[string]*PlaceholderSet
}

// NewLoader creates a new placeholder loader
func NewLoader() *Loader {
	return &Loader{
		sets: make(map[string]*PlaceholderSet),
	}
}

// LoadFromDir loads all YAML placeholder sets from a directory
func (l *Loader) LoadFromDir(dir string) error {
	slog.Info("loading placeholder milestones from directory", "dir", dir)

	var files []string
	for _, pattern := range []string{"*.yaml", "*.yml"} {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			continue
		}
		files = append(files, matches...)
	}

	loaded := 0
	for _, file := range files {
		if err := l.LoadFromFile(file); err != nil {
			slog.Warn("failed to load placeholder set", "file", file, "error", err)
			continue
		}
		loaded++
	}

	slog.Info("placeholder sets loaded", "count", loaded, "total_files", len(files))
	return nil
}

// LoadFromFile loads a single placeholder set from a YAML file
func (l *Loader) LoadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}

	var sf setFile
	if err := yaml.Unmarshal(data, &sf); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}

	if sf.Name == "" {
		base := filepath.Base(path)
		sf.Name = strings.TrimSuffix(base, filepath.Ext(base))
	}
	if len(sf.Milestones) == 0 {
		return fmt.Errorf("placeholder set %q has no milestones", sf.Name)
	}

	set := &PlaceholderSet{Name: sf.Name}
	for _, skill := range sf.MatchSkills {
		set.MatchSkills = append(set.MatchSkills, strings.ToLower(strings.TrimSpace(skill)))
	}

	for i, mf := range sf.Milestones {
		if mf.Action == "" {
			return fmt.Errorf("milestone %d in %q: action is required", i+1, sf.Name)
		}
		id := mf.ID
		if id == "" {
			id = fmt.Sprintf("m%d", i+1)
		}
		tmpl, err := template.New(id).Option("missingkey=zero").Parse(mf.Action)
		if err != nil {
			return fmt.Errorf("milestone %q in %q: %w", id, sf.Name, err)
		}
		set.Milestones = append(set.Milestones, placeholderMilestone{
			ID:                   id,
			Action:               tmpl,
			RecommendedResources: mf.RecommendedResources,
		})
	}

	l.Add(set)
	slog.Info("placeholder set loaded", "name", set.Name, "milestones", len(set.Milestones))
	return nil
}

// Add programmatically adds a placeholder set
func (l *Loader) Add(set *PlaceholderSet) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sets[set.Name] = set
}

// Names returns the loaded set names in sorted order
func (l *Loader) Names() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	names := make([]string, 0, len(l.sets))
	for name := range l.sets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Fallback builds the placeholder milestones for a task. Sets are tried in
// name order; the first whose match_skills intersects the task skills wins,
// then the default set, then a single built-in milestone.
func (l *Loader) Fallback(task models.Task) []models.Milestone {
	l.mu.RLock()
	defer l.mu.RUnlock()

	taskSkills := make(map[string]struct{}, len(task.Skills))
	for _, s := range task.Skills {
		taskSkills[strings.ToLower(strings.TrimSpace(s))] = struct{}{}
	}

	names := make([]string, 0, len(l.sets))
	for name := range l.sets {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		set := l.sets[name]
		for _, skill := range set.MatchSkills {
			if _, ok := taskSkills[skill]; ok {
				return set.render(task)
			}
		}
	}

	if set, ok := l.sets[DefaultSet]; ok {
		return set.render(task)
	}

	return builtin(task)
}

func (s *PlaceholderSet) render(task models.Task) []models.Milestone {
	result := make([]models.Milestone, 0, len(s.Milestones))
	for _, pm := range s.Milestones {
		var buf bytes.Buffer
		action := ""
		if err := pm.Action.Execute(&buf, task); err != nil {
			slog.Warn("failed to render placeholder action", "set", s.Name, "milestone", pm.ID, "error", err)
			action = pm.Action.Root.String()
		} else {
			action = buf.String()
		}
		result = append(result, models.Milestone{
			ID:                   pm.ID,
			Action:               strings.TrimSpace(action),
			RecommendedResources: append([]string(nil), pm.RecommendedResources...),
		})
	}
	return result
}

func builtin(task models.Task) []models.Milestone {
	return []models.Milestone{{
		ID:                   "m1",
		Action:               fmt.Sprintf("Learn the basics for %s", task.Title),
		RecommendedResources: []string{"Manara courses"},
	}}
}

// --- YAML file structs ---

// setFile represents the YAML structure of a placeholder set file
type setFile struct {
	Name        string          `yaml:"name"`
	MatchSkills []string        `yaml:"match_skills"`
	Milestones  []milestoneFile `yaml:"milestones"`
}

type milestoneFile struct {
	ID                   string   `yaml:"id"`
	Action               string   `yaml:"action"`
	RecommendedResources []string `yaml:"recommended_resources"`
}
