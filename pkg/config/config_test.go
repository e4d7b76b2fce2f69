package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sqlward/sqlward/pkg/engine"
)

const testConfig = `project:
  name: flipr
  uri: https://example.com/flipr
user:
  name: Marge N. O'Vera
  email: marge@example.com
targets:
  dev:
    engine: sqlite
    uri: flipr_dev.db
  prod:
    engine: pg
    uri: postgres://flipr@db.example.com/flipr
    registry: flipr_sqlward
    lock_timeout: 90s
    variables:
      schema: public
default_target: dev
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sqlward.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, testConfig))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Project.Name != "flipr" {
		t.Errorf("project = %q", cfg.Project.Name)
	}
	if cfg.Project.PlanFile != "sqlward.plan" {
		t.Errorf("plan file default = %q", cfg.Project.PlanFile)
	}
	if cfg.Scripts.Deploy != "deploy" || cfg.Scripts.Verify != "verify" {
		t.Errorf("script defaults = %+v", cfg.Scripts)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("logging default = %+v", cfg.Logging)
	}
}

func TestLoad_TargetResolution(t *testing.T) {
	cfg, err := Load(writeConfig(t, testConfig))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	// Empty name falls back to default_target.
	dev, err := cfg.Target("")
	if err != nil {
		t.Fatalf("Target: %v", err)
	}
	if dev.Name != "dev" || dev.Engine != engine.SQLite {
		t.Errorf("default target = %+v", dev)
	}

	prod, err := cfg.Target("prod")
	if err != nil {
		t.Fatalf("Target: %v", err)
	}
	if prod.Engine != engine.Postgres {
		t.Errorf("engine = %q", prod.Engine)
	}
	if prod.Registry != "flipr_sqlward" {
		t.Errorf("registry = %q", prod.Registry)
	}
	if prod.LockTimeout != 90*time.Second {
		t.Errorf("lock timeout = %v", prod.LockTimeout)
	}
	if prod.Variables["schema"] != "public" {
		t.Errorf("variables = %v", prod.Variables)
	}

	if _, err := cfg.Target("staging"); err == nil {
		t.Error("expected error for unknown target")
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"missing user email", "project:\n  name: flipr\nuser:\n  name: Ann\n"},
		{"malformed email", "project:\n  name: flipr\nuser:\n  name: Ann\n  email: nope\n"},
		{
			"unknown engine",
			"project:\n  name: flipr\nuser:\n  name: Ann\n  email: a@b.com\ntargets:\n  dev:\n    engine: mssql\n    uri: x\n",
		},
		{
			"dangling default target",
			"project:\n  name: flipr\nuser:\n  name: Ann\n  email: a@b.com\ndefault_target: prod\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tt.content)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestScriptResolver(t *testing.T) {
	r := NewScriptResolver("/work/flipr", ScriptsConfig{Deploy: "deploy", Revert: "revert", Verify: "verify"})
	if got := r.DeployScript("users"); got != filepath.Join("/work/flipr", "deploy", "users.sql") {
		t.Errorf("deploy path = %q", got)
	}
	if got := r.RevertScript("users"); got != filepath.Join("/work/flipr", "revert", "users.sql") {
		t.Errorf("revert path = %q", got)
	}
	if got := r.VerifyScript("users"); got != filepath.Join("/work/flipr", "verify", "users.sql") {
		t.Errorf("verify path = %q", got)
	}
}
