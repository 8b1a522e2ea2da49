package workflow

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/datanger/gemini-cli/pkg/models"
)

func writeProfiles(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "profiles.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write profiles: %v", err)
	}
	return path
}

func TestDefaultProfilesCoverAllGatedPhases(t *testing.T) {
	profiles := DefaultProfiles()

	for _, phase := range []models.WorkflowPhase{
		models.PhaseSearch, models.PhaseRead, models.PhaseModify, models.PhaseVerify,
	} {
		p, ok := profiles[phase]
		if !ok {
			t.Errorf("missing profile for %s", phase)
			continue
		}
		if p.MinResults < 1 || p.MaxDuration <= 0 || p.RequiredRole == "" {
			t.Errorf("degenerate profile for %s: %+v", phase, p)
		}
	}
}

func TestLoadProfilesMergesOverDefaults(t *testing.T) {
	path := writeProfiles(t, `
phases:
  modify:
    min_results: 3
    max_duration: 5m
  verify:
    max_duration: 30s
`)

	profiles, err := LoadProfiles(path)
	if err != nil {
		t.Fatalf("LoadProfiles failed: %v", err)
	}

	if p := profiles[models.PhaseModify]; p.MinResults != 3 || p.MaxDuration != 5*time.Minute {
		t.Errorf("modify profile = %+v", p)
	}

	// Omitted fields keep their defaults.
	if p := profiles[models.PhaseVerify]; p.MaxDuration != 30*time.Second || p.MinResults != 1 {
		t.Errorf("verify profile = %+v", p)
	}
	if p := profiles[models.PhaseSearch]; p.MaxDuration != 60*time.Second {
		t.Errorf("search profile touched by unrelated override: %+v", p)
	}
}

func TestLoadProfilesRejectsUnknownPhase(t *testing.T) {
	path := writeProfiles(t, "phases:\n  deploy:\n    min_results: 1\n")

	if _, err := LoadProfiles(path); err == nil {
		t.Error("expected error for unknown phase name")
	}
}

func TestLoadProfilesRejectsBadDuration(t *testing.T) {
	path := writeProfiles(t, "phases:\n  modify:\n    max_duration: soon\n")

	if _, err := LoadProfiles(path); err == nil {
		t.Error("expected error for unparseable duration")
	}
}

func TestLoadProfilesMissingFile(t *testing.T) {
	if _, err := LoadProfiles(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}
