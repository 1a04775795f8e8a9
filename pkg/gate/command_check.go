package gate

import (
	"context"
	"fmt"
	"time"

	"github.com/entrhq/anvil/pkg/runner"
)

// CheckConfig declares a command check.
type CheckConfig struct {
	Name     string        `yaml:"name" json:"name" mapstructure:"name"`
	Command  []string      `yaml:"command" json:"command" mapstructure:"command"`
	Required *bool         `yaml:"required,omitempty" json:"required,omitempty" mapstructure:"required"`
	Timeout  time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty" mapstructure:"timeout"`
}

// IsRequired reports whether the check fails the gate. Checks are required
// unless configured otherwise.
func (c CheckConfig) IsRequired() bool {
	return c.Required == nil || *c.Required
}

// Validate checks the declaration is runnable.
func (c CheckConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("check name is required")
	}
	if len(c.Command) == 0 || c.Command[0] == "" {
		return fmt.Errorf("check %s: command is required", c.Name)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("check %s: timeout cannot be negative", c.Name)
	}
	return nil
}

// CommandCheck runs an external tool and passes when it exits zero.
type CommandCheck struct {
	name     string
	argv     []string
	required bool
	timeout  time.Duration
	runner   runner.Runner
}

// NewCommandCheck creates a check that runs argv through r.
func NewCommandCheck(name string, argv []string, required bool, timeout time.Duration, r runner.Runner) *CommandCheck {
	return &CommandCheck{
		name:     name,
		argv:     argv,
		required: required,
		timeout:  timeout,
		runner:   r,
	}
}

// Name returns the name of the check
func (c *CommandCheck) Name() string {
	return c.name
}

// Required returns true if failure should fail the gate
func (c *CommandCheck) Required() bool {
	return c.required
}

// Run executes the command in the snapshot's working directory.
func (c *CommandCheck) Run(ctx context.Context, snap Snapshot) CheckResult {
	if len(c.argv) == 0 {
		return CheckResult{ExitCode: -1, Error: "empty command"}
	}

	res, err := c.runner.Run(ctx, runner.Command{
		Name:    c.argv[0],
		Args:    c.argv[1:],
		Dir:     snap.WorkDir,
		Timeout: c.timeout,
	})
	out := CheckResult{
		Passed:      err == nil && res.Success(),
		ExitCode:    res.ExitCode,
		Diagnostics: DiagnosticLines(res.Combined()),
		Duration:    res.Duration,
	}
	if err != nil {
		out.Error = err.Error()
	}
	return out
}

// CommandChecks builds command checks from declarations. A zero timeout in a
// declaration falls back to defaultTimeout.
func CommandChecks(configs []CheckConfig, defaultTimeout time.Duration, r runner.Runner) []Check {
	checks := make([]Check, 0, len(configs))
	for _, cfg := range configs {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		checks = append(checks, NewCommandCheck(cfg.Name, cfg.Command, cfg.IsRequired(), timeout, r))
	}
	return checks
}
