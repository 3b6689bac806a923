// Package team holds team definitions, the markdown definition loader,
// tag-based selection, and the storage file that records past runs.
package team

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/gobwas/glob"
)

// Strategy selects how a team's members are dispatched.
type Strategy string

const (
	// StrategyParallel dispatches members through the bounded-concurrency
	// executor.
	StrategyParallel Strategy = "parallel"

	// StrategySequential dispatches members one at a time in roster order.
	StrategySequential Strategy = "sequential"
)

// String returns the string representation of the strategy.
func (s Strategy) String() string {
	return string(s)
}

// IsValid returns true if this is a recognized strategy value.
func (s Strategy) IsValid() bool {
	return s == StrategyParallel || s == StrategySequential
}

// Member is one roster entry of a team definition.
type Member struct {
	ID          string   `json:"id" yaml:"id"`
	Role        string   `json:"role" yaml:"role"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
	Provider    string   `json:"provider,omitempty" yaml:"provider,omitempty"`
	Model       string   `json:"model,omitempty" yaml:"model,omitempty"`
	Enabled     bool     `json:"enabled" yaml:"enabled"`
	Tags        []string `json:"tags,omitempty" yaml:"tags,omitempty"`
}

// Definition configures a team: metadata plus an ordered member roster.
type Definition struct {
	ID          string    `json:"id" yaml:"id"`
	Name        string    `json:"name" yaml:"name"`
	Description string    `json:"description,omitempty" yaml:"description,omitempty"`
	Enabled     bool      `json:"enabled" yaml:"enabled"`
	Tags        []string  `json:"tags,omitempty" yaml:"tags,omitempty"`
	Members     []Member  `json:"members" yaml:"members"`
	CreatedAt   time.Time `json:"createdAt" yaml:"-"`
	UpdatedAt   time.Time `json:"updatedAt" yaml:"-"`
}

// Validate checks that the definition has all required fields and at
// least one enabled member.
func (d Definition) Validate() error {
	if d.ID == "" {
		return errors.New("team definition: ID is required")
	}
	if d.Name == "" {
		return errors.New("team definition: Name is required")
	}
	if len(d.Members) == 0 {
		return fmt.Errorf("team definition %q: at least one member is required", d.ID)
	}

	seen := make(map[string]bool, len(d.Members))
	anyEnabled := false
	for _, m := range d.Members {
		if m.ID == "" {
			return fmt.Errorf("team definition %q: member ID is required", d.ID)
		}
		if seen[m.ID] {
			return fmt.Errorf("team definition %q: duplicate member ID %q", d.ID, m.ID)
		}
		seen[m.ID] = true
		if m.Enabled {
			anyEnabled = true
		}
	}
	if !anyEnabled {
		return fmt.Errorf("team definition %q: at least one enabled member is required", d.ID)
	}
	return nil
}

// ActiveMembers returns the enabled members in roster order.
func (d Definition) ActiveMembers() []Member {
	var active []Member
	for _, m := range d.Members {
		if m.Enabled {
			active = append(active, m)
		}
	}
	return active
}

// AllTags returns the union of team-level and member-level tags, sorted.
func (d Definition) AllTags() []string {
	set := make(map[string]bool)
	for _, t := range d.Tags {
		set[t] = true
	}
	for _, m := range d.Members {
		for _, t := range m.Tags {
			set[t] = true
		}
	}
	tags := make([]string, 0, len(set))
	for t := range set {
		tags = append(tags, t)
	}
	sort.Strings(tags)
	return tags
}

// Select filters definitions down to enabled teams whose tags match any
// of the given glob patterns. Empty patterns selects all enabled teams.
func Select(defs []Definition, patterns []string) ([]Definition, error) {
	globs := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		g, err := glob.Compile(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("compile tag pattern %q: %w", p, err)
		}
		globs = append(globs, g)
	}

	var selected []Definition
	for _, d := range defs {
		if !d.Enabled {
			continue
		}
		if len(globs) == 0 {
			selected = append(selected, d)
			continue
		}
		for _, tag := range d.AllTags() {
			matched := false
			for _, g := range globs {
				if g.Match(tag) {
					matched = true
					break
				}
			}
			if matched {
				selected = append(selected, d)
				break
			}
		}
	}
	return selected, nil
}
