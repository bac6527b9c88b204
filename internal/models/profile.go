package models

import "strings"

// Level is a self-declared proficiency for a skill
type Level string

const (
	LevelBeginner     Level = "beginner"
	LevelIntermediate Level = "intermediate"
	LevelAdvanced     Level = "advanced"
)

// IsValid reports whether the level is one of the known levels
func (l Level) IsValid() bool {
	switch l {
	case LevelBeginner, LevelIntermediate, LevelAdvanced:
		return true
	}
	return false
}

// SkillLevel pairs a skill with the learner's level in it
type SkillLevel struct {
	Skill string `json:"skill"`
	Level Level  `json:"level"`
}

// Profile identifies the learner for the lifetime of a session.
// It is captured once and never modified afterwards.
type Profile struct {
	ID     string       `json:"id"`
	Name   string       `json:"name"`
	Points int          `json:"points"`
	Skills []SkillLevel `json:"skills"`
}

// ParseSkills turns "go, aws ,, docker" into beginner-level skills, keeping order
func ParseSkills(csv string) []SkillLevel {
	skills := make([]SkillLevel, 0)
	for _, part := range strings.Split(csv, ",") {
		skill := strings.TrimSpace(part)
		if skill == "" {
			continue
		}
		skills = append(skills, SkillLevel{Skill: skill, Level: LevelBeginner})
	}
	return skills
}

// NewProfileRequest is the payload for capturing a profile
type NewProfileRequest struct {
	ID     string `json:"id" validate:"required"`
	Name   string `json:"name" validate:"required"`
	Skills string `json:"skills"`
}

// Normalize trims user input in place
func (r *NewProfileRequest) Normalize() {
	r.ID = strings.TrimSpace(r.ID)
	r.Name = strings.TrimSpace(r.Name)
}

// Profile builds the immutable profile from a normalized request
func (r NewProfileRequest) Profile() *Profile {
	return &Profile{
		ID:     r.ID,
		Name:   r.Name,
		Points: 0,
		Skills: ParseSkills(r.Skills),
	}
}
