// Package workflow implements the structured task workflow: the
// SEARCH -> READ -> MODIFY -> VERIFY phase state machine, the
// integration layer that decides when free-form input merits workflow
// handling, and the orchestrator that drives phases through the
// coordinator.
package workflow

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/datanger/gemini-cli/internal/tools"
	"github.com/datanger/gemini-cli/pkg/models"
)

// PhaseProfile configures the transition gate of one phase.
type PhaseProfile struct {
	// RequiredRole is the tool role at least one recorded result must
	// carry before the phase can advance.
	RequiredRole tools.Role
	// MinResults is the minimum count of distinct recorded results.
	MinResults int
	// MaxDuration bounds the phase; past it the gate blocks (it never
	// force-advances or aborts on its own).
	MaxDuration time.Duration
}

// DefaultProfiles returns the standard per-phase gate configuration.
func DefaultProfiles() map[models.WorkflowPhase]PhaseProfile {
	return map[models.WorkflowPhase]PhaseProfile{
		models.PhaseSearch: {RequiredRole: tools.RoleSearch, MinResults: 1, MaxDuration: 60 * time.Second},
		models.PhaseRead:   {RequiredRole: tools.RoleRead, MinResults: 1, MaxDuration: 120 * time.Second},
		models.PhaseModify: {RequiredRole: tools.RoleModify, MinResults: 1, MaxDuration: 180 * time.Second},
		models.PhaseVerify: {RequiredRole: tools.RoleVerify, MinResults: 1, MaxDuration: 120 * time.Second},
	}
}

// profileFile is the YAML shape for phase profile overrides. Durations
// are Go duration strings ("90s", "5m").
type profileFile struct {
	Phases map[string]struct {
		MinResults  int    `yaml:"min_results"`
		MaxDuration string `yaml:"max_duration"`
	} `yaml:"phases"`
}

// LoadProfiles reads phase profile overrides from a YAML file and
// merges them over the defaults. Unknown phase names are an error;
// omitted fields keep their defaults.
func LoadProfiles(path string) (map[models.WorkflowPhase]PhaseProfile, error) {
	profiles := DefaultProfiles()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read phase profiles: %w", err)
	}

	var file profileFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse phase profiles: %w", err)
	}

	for name, override := range file.Phases {
		phase := models.WorkflowPhase(name)
		profile, ok := profiles[phase]
		if !ok {
			return nil, fmt.Errorf("phase profiles: unknown phase %q", name)
		}
		if override.MinResults > 0 {
			profile.MinResults = override.MinResults
		}
		if override.MaxDuration != "" {
			d, err := time.ParseDuration(override.MaxDuration)
			if err != nil {
				return nil, fmt.Errorf("phase profiles: bad max_duration for %q: %w", name, err)
			}
			profile.MaxDuration = d
		}
		profiles[phase] = profile
	}

	return profiles, nil
}
