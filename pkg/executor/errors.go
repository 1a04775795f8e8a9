package executor

import (
	"context"
	"errors"
	"fmt"

	"github.com/entrhq/anvil/pkg/gate"
	"github.com/entrhq/anvil/pkg/manifest"
	"github.com/entrhq/anvil/pkg/patch"
	"github.com/entrhq/anvil/pkg/runner"
	"github.com/entrhq/anvil/pkg/scoring"
	"github.com/entrhq/anvil/pkg/security/workspace"
	"github.com/entrhq/anvil/pkg/vcs"
)

// Category is the failure cause a halted run reports. Each category has a
// fixed exit code so scripted callers can branch on it.
type Category string

const (
	CategoryNone        Category = ""
	CategoryParse       Category = "parse"
	CategoryQualityGate Category = "quality_gate"
	CategoryValidation  Category = "validation"
	CategoryVCS         Category = "vcs"
	CategoryStep        Category = "step"
	CategoryCanceled    Category = "canceled"
	CategoryInternal    Category = "internal"
)

// Exit codes per category.
const (
	ExitSuccess     = 0
	ExitInternal    = 1
	ExitParse       = 2
	ExitQualityGate = 3
	ExitVCS         = 4
	ExitStep        = 5
	ExitCanceled    = 130
)

// ExitCode returns the process exit code for c.
func (c Category) ExitCode() int {
	switch c {
	case CategoryNone:
		return ExitSuccess
	case CategoryParse:
		return ExitParse
	case CategoryQualityGate, CategoryValidation:
		return ExitQualityGate
	case CategoryVCS:
		return ExitVCS
	case CategoryStep:
		return ExitStep
	case CategoryCanceled:
		return ExitCanceled
	default:
		return ExitInternal
	}
}

// ValidationError is returned when a validation step's command does not meet
// its expected outcome.
type ValidationError struct {
	Command      string
	ExitCode     int
	Expected     int
	ExpectOutput string
	Err          error
}

func (e *ValidationError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("validation command %q failed: %v", e.Command, e.Err)
	case e.ExitCode != e.Expected:
		return fmt.Sprintf("validation command %q exited with status %d, expected %d", e.Command, e.ExitCode, e.Expected)
	default:
		return fmt.Sprintf("validation command %q output does not contain %q", e.Command, e.ExpectOutput)
	}
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// Classify maps a step error to its report category and the failure kind the
// scoring engine sees. Boundary failures are guard and constraint
// violations, stale or malformed patches, and layer violations.
func Classify(err error) (Category, scoring.FailureKind) {
	if err == nil {
		return CategoryNone, scoring.FailureNone
	}

	var (
		parseErr      *manifest.ParseError
		pathErr       *workspace.PathError
		constraintErr *ConstraintViolation
		mismatchErr   *patch.PatchMismatchError
		conflictErr   *patch.ConflictError
		notFoundErr   *patch.NotFoundError
		gateErr       *gate.QualityGateError
		validationErr *ValidationError
		vcsErr        *vcs.VcsError
	)

	switch {
	case errors.As(err, &parseErr):
		return CategoryParse, scoring.FailureBoundary
	case errors.As(err, &pathErr), errors.As(err, &constraintErr), errors.As(err, &mismatchErr):
		return CategoryStep, scoring.FailureBoundary
	case errors.As(err, &conflictErr), errors.As(err, &notFoundErr):
		return CategoryStep, scoring.FailureRuntime
	case errors.As(err, &gateErr):
		if gateErr.Boundary() {
			return CategoryQualityGate, scoring.FailureBoundary
		}
		return CategoryQualityGate, scoring.FailureRuntime
	case errors.As(err, &validationErr):
		return CategoryValidation, scoring.FailureRuntime
	case errors.As(err, &vcsErr), errors.Is(err, vcs.ErrDirtyTree):
		return CategoryVCS, scoring.FailureRuntime
	case errors.Is(err, context.Canceled):
		return CategoryCanceled, scoring.FailureRuntime
	case runner.IsTimeout(err):
		return CategoryStep, scoring.FailureRuntime
	default:
		return CategoryInternal, scoring.FailureRuntime
	}
}
