package gate

import (
	"context"

	"github.com/entrhq/anvil/pkg/scoring"
)

// BoundaryCheck fails when the step's content imports something its layer
// forbids. It inspects content in process and starts no subprocess.
type BoundaryCheck struct {
	rules *scoring.LayerRules
}

// NewBoundaryCheck creates a boundary check over rules.
func NewBoundaryCheck(rules *scoring.LayerRules) *BoundaryCheck {
	return &BoundaryCheck{rules: rules}
}

// Name returns the name of the check
func (c *BoundaryCheck) Name() string {
	return "boundaries"
}

// Required returns true; a layer violation always fails the gate.
func (c *BoundaryCheck) Required() bool {
	return true
}

// Run inspects snap.Content.
func (c *BoundaryCheck) Run(_ context.Context, snap Snapshot) CheckResult {
	violations := c.rules.Check(snap.Layer, snap.Content)
	if len(violations) == 0 {
		return CheckResult{Passed: true, Boundary: true}
	}
	diags := make([]string, 0, len(violations))
	for _, v := range violations {
		diags = append(diags, v.String())
	}
	return CheckResult{
		Passed:      false,
		Boundary:    true,
		ExitCode:    1,
		Diagnostics: diags,
	}
}
