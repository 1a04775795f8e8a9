// Package gate runs the quality checks that decide whether a step's change
// may be committed.
//
// All checks configured for a step run concurrently against the same working
// tree and every one of them runs to completion, so a failing step reports
// the complete set of diagnostics rather than only the first failure.
package gate

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

// DefaultDiagnosticLines is how many output lines are kept per failing check.
const DefaultDiagnosticLines = 10

// Snapshot describes the state a step left behind for the checks to inspect.
type Snapshot struct {
	WorkDir string
	StepID  string
	Layer   string

	// Content maps each path the step wrote to its new content.
	Content map[string]string
}

// Check is a single pass/fail quality check.
type Check interface {
	// Name returns the name of the check
	Name() string

	// Required returns true if failure should fail the gate
	Required() bool

	// Run executes the check. Failures are reported in the result, never as a panic.
	Run(ctx context.Context, snap Snapshot) CheckResult
}

// CheckResult is the outcome of one check.
type CheckResult struct {
	Name        string        `json:"name"`
	Required    bool          `json:"required"`
	Passed      bool          `json:"passed"`
	Boundary    bool          `json:"boundary,omitempty"`
	ExitCode    int           `json:"exit_code"`
	Diagnostics []string      `json:"diagnostics,omitempty"`
	Error       string        `json:"error,omitempty"`
	Duration    time.Duration `json:"duration"`
}

// Results contains the outcome of every check, in configuration order.
type Results struct {
	AllPassed bool          `json:"all_passed"`
	Results   []CheckResult `json:"results"`
}

// Failed returns the failed required checks.
func (r *Results) Failed() []CheckResult {
	failed := make([]CheckResult, 0)
	for _, result := range r.Results {
		if result.Required && !result.Passed {
			failed = append(failed, result)
		}
	}
	return failed
}

// Err returns a *QualityGateError when a required check failed, nil otherwise.
func (r *Results) Err() error {
	if r.AllPassed {
		return nil
	}
	return &QualityGateError{Failed: r.Failed()}
}

// FormatLog renders every failed check, required or not, for a step's
// execution log.
func (r *Results) FormatLog() string {
	var msg strings.Builder
	for _, result := range r.Results {
		if result.Passed {
			continue
		}
		kind := "required"
		if !result.Required {
			kind = "optional"
		}
		fmt.Fprintf(&msg, "check %s failed (%s, exit %d)\n", result.Name, kind, result.ExitCode)
		if result.Error != "" {
			fmt.Fprintf(&msg, "  %s\n", result.Error)
		}
		for _, line := range result.Diagnostics {
			fmt.Fprintf(&msg, "  | %s\n", line)
		}
	}
	return strings.TrimRight(msg.String(), "\n")
}

// QualityGateError is returned when at least one required check failed.
type QualityGateError struct {
	Failed []CheckResult
}

func (e *QualityGateError) Error() string {
	names := make([]string, 0, len(e.Failed))
	for _, f := range e.Failed {
		names = append(names, f.Name)
	}
	return fmt.Sprintf("quality gate failed: %s", strings.Join(names, ", "))
}

// Boundary reports whether any failed check was a boundary check.
func (e *QualityGateError) Boundary() bool {
	for _, f := range e.Failed {
		if f.Boundary {
			return true
		}
	}
	return false
}

// Gate runs a fixed set of checks.
type Gate struct {
	checks          []Check
	diagnosticLines int
}

// New creates a gate. A non-positive diagnosticLines selects DefaultDiagnosticLines.
func New(checks []Check, diagnosticLines int) *Gate {
	if diagnosticLines <= 0 {
		diagnosticLines = DefaultDiagnosticLines
	}
	return &Gate{checks: checks, diagnosticLines: diagnosticLines}
}

// Checks returns the configured checks.
func (g *Gate) Checks() []Check {
	return g.checks
}

// Run executes every check concurrently and waits for all of them.
func (g *Gate) Run(ctx context.Context, snap Snapshot) *Results {
	results := &Results{
		AllPassed: true,
		Results:   make([]CheckResult, len(g.checks)),
	}

	var eg errgroup.Group
	for i, check := range g.checks {
		i, check := i, check
		eg.Go(func() error {
			start := time.Now()
			res := check.Run(ctx, snap)
			res.Name = check.Name()
			res.Required = check.Required()
			if res.Duration == 0 {
				res.Duration = time.Since(start)
			}
			res.Diagnostics = truncate(res.Diagnostics, g.diagnosticLines)
			results.Results[i] = res
			return nil
		})
	}
	_ = eg.Wait()

	for _, res := range results.Results {
		if res.Required && !res.Passed {
			results.AllPassed = false
		}
	}
	return results
}

// DiagnosticLines splits output into non-blank lines.
func DiagnosticLines(output string) []string {
	var lines []string
	for _, line := range strings.Split(strings.ReplaceAll(output, "\r\n", "\n"), "\n") {
		line = strings.TrimRight(line, " \t\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		lines = append(lines, line)
	}
	return lines
}

func truncate(lines []string, n int) []string {
	if len(lines) <= n {
		return lines
	}
	return lines[:n]
}
