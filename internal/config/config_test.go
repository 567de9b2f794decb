package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := Default()
	if len(cfg.Catalog.Rules) != 4 {
		t.Fatalf("expected 4 seeded rules, got %d", len(cfg.Catalog.Rules))
	}
	if !cfg.IsEvent("positive_ua") {
		t.Fatalf("expected positive_ua to be a declared event")
	}
	if cfg.Assessment.LookbackDays != 30 {
		t.Fatalf("expected lookback 30, got %d", cfg.Assessment.LookbackDays)
	}
	if cfg.Interval() != 24*time.Hour {
		t.Fatalf("unexpected interval %s", cfg.Interval())
	}
	if cfg.LockWait() != 10*time.Second || cfg.LockTTL() != 30*time.Second {
		t.Fatalf("unexpected lock defaults %s %s", cfg.LockWait(), cfg.LockTTL())
	}
	r := cfg.Catalog.Rules[0].Rule()
	if !r.IsActive || r.TriggerDirection != "after" {
		t.Fatalf("unexpected rule conversion: %+v", r)
	}
}

func TestValidateRejectsUnknownTriggerField(t *testing.T) {
	_, err := FromYAML([]byte(`
catalog:
  rules:
    - name: bad
      trigger_field: parole_date
      task_title: x
`))
	if err == nil || !strings.Contains(err.Error(), "parole_date") {
		t.Fatalf("expected unknown trigger field error, got %v", err)
	}
}

func TestValidateRejectsNonDateTrigger(t *testing.T) {
	_, err := FromYAML([]byte(`
catalog:
  rules:
    - name: bad
      trigger_field: gender
      task_title: x
`))
	if err == nil {
		t.Fatalf("expected non-date trigger error")
	}
}

func TestValidateRejectsUnknownOperator(t *testing.T) {
	_, err := FromYAML([]byte(`
catalog:
  rules:
    - name: bad
      trigger_field: release_date
      task_title: x
      conditions:
        - {field: risk_level, operator: matches, value: High}
`))
	if err == nil {
		t.Fatalf("expected unknown operator error")
	}
}

func TestValidateAcceptsEventRule(t *testing.T) {
	cfg, err := FromYAML([]byte(`
automation:
  events: [warrant_issued]
catalog:
  rules:
    - name: warrant
      trigger_field: warrant_issued
      task_title: Warrant follow-up
`))
	if err != nil {
		t.Fatalf("FromYAML: %v", err)
	}
	if !cfg.IsEvent("warrant_issued") {
		t.Fatalf("expected declared event")
	}
}

func TestValidateRequiresAdminRole(t *testing.T) {
	_, err := FromYAML([]byte(`
rbac:
  roles:
    officer:
      permissions: [tasks.read]
`))
	if err == nil {
		t.Fatalf("expected admin role error")
	}
}

func TestValidateRejectsInvertedBand(t *testing.T) {
	_, err := FromYAML([]byte(`
catalog:
  assessment_types:
    - name: T
      scoring_matrix:
        - {label: Low, min: 5, max: 1}
`))
	if err == nil {
		t.Fatalf("expected band error")
	}
}

func TestValidateRejectsUnknownStaticField(t *testing.T) {
	_, err := FromYAML([]byte(`
assessment:
  static_fields:
    shoe_size: shoe_size
`))
	if err == nil {
		t.Fatalf("expected static field error")
	}
}

func TestLoadOptionalFallsBackToDefault(t *testing.T) {
	cfg, err := LoadOptional(t.TempDir())
	if err != nil {
		t.Fatalf("LoadOptional: %v", err)
	}
	if len(cfg.Catalog.Templates) == 0 {
		t.Fatalf("expected default templates")
	}
}

func TestLoadReadsWorkspaceFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "caseflow.yml"), []byte("automation:\n  workers: 3\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Automation.Workers != 3 {
		t.Fatalf("expected workers=3, got %d", cfg.Automation.Workers)
	}
	if _, err := Load(t.TempDir()); err == nil {
		t.Fatalf("expected missing config error")
	}
}
