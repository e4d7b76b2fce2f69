// Package config loads sqlward configuration: project identity, user
// identity, script layout and named deployment targets. One yaml file
// plus SQLWARD_ environment overrides; no hierarchy merging.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/sqlward/sqlward/pkg/engine"
	"github.com/sqlward/sqlward/pkg/telemetry"
)

// Config is the full configuration for one project checkout.
type Config struct {
	Project ProjectConfig           `mapstructure:"project" validate:"required"`
	User    UserConfig              `mapstructure:"user" validate:"required"`
	Scripts ScriptsConfig           `mapstructure:"scripts"`
	Logging telemetry.LoggingConfig `mapstructure:"logging"`

	// Targets are named deployment destinations.
	Targets map[string]TargetConfig `mapstructure:"targets" validate:"dive"`

	// DefaultTarget names the target used when a command names none.
	DefaultTarget string `mapstructure:"default_target"`
}

// ProjectConfig identifies the project and its plan.
type ProjectConfig struct {
	Name string `mapstructure:"name" validate:"required"`
	URI  string `mapstructure:"uri" validate:"omitempty,uri"`

	// PlanFile is the plan manifest path, default "sqlward.plan".
	PlanFile string `mapstructure:"plan_file"`
}

// UserConfig is the identity recorded as committer on every change.
type UserConfig struct {
	Name  string `mapstructure:"name" validate:"required"`
	Email string `mapstructure:"email" validate:"required,email"`
}

// ScriptsConfig holds the three script directories.
type ScriptsConfig struct {
	Deploy string `mapstructure:"deploy"`
	Revert string `mapstructure:"revert"`
	Verify string `mapstructure:"verify"`
}

// TargetConfig is one named deployment destination.
type TargetConfig struct {
	Engine   string `mapstructure:"engine" validate:"required"`
	URI      string `mapstructure:"uri" validate:"required"`
	Registry string `mapstructure:"registry"`

	// Variables are substituted into scripts as raw text.
	Variables map[string]string `mapstructure:"variables"`

	LockTimeout time.Duration `mapstructure:"lock_timeout"`
}

// applyDefaults fills the blanks Load leaves.
func (c *Config) applyDefaults() {
	if c.Project.PlanFile == "" {
		c.Project.PlanFile = "sqlward.plan"
	}
	if c.Scripts.Deploy == "" {
		c.Scripts.Deploy = "deploy"
	}
	if c.Scripts.Revert == "" {
		c.Scripts.Revert = "revert"
	}
	if c.Scripts.Verify == "" {
		c.Scripts.Verify = "verify"
	}
	if c.Logging.Level == "" {
		c.Logging = telemetry.DefaultConfig()
	}
}

// Validate checks the configuration, including that every target names
// a known engine.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	for name, t := range c.Targets {
		if _, ok := engine.ParseKind(t.Engine); !ok {
			return fmt.Errorf("target %q: unknown engine %q (supported: %v)", name, t.Engine, engine.Kinds())
		}
	}
	if c.DefaultTarget != "" {
		if _, ok := c.Targets[c.DefaultTarget]; !ok {
			return fmt.Errorf("default_target %q is not a configured target", c.DefaultTarget)
		}
	}
	return nil
}

// Target resolves a named target into the adapter's form. An empty
// name falls back to default_target, or to the only configured target.
func (c *Config) Target(name string) (engine.Target, error) {
	if name == "" {
		name = c.DefaultTarget
	}
	if name == "" && len(c.Targets) == 1 {
		for only := range c.Targets {
			name = only
		}
	}
	if name == "" {
		return engine.Target{}, fmt.Errorf("no target named and no default_target configured")
	}

	t, ok := c.Targets[name]
	if !ok {
		return engine.Target{}, fmt.Errorf("unknown target %q", name)
	}
	kind, _ := engine.ParseKind(t.Engine)
	return engine.Target{
		Name:        name,
		Engine:      kind,
		URI:         t.URI,
		Registry:    t.Registry,
		Variables:   t.Variables,
		LockTimeout: t.LockTimeout,
	}, nil
}
