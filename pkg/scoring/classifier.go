// Package scoring classifies step outcomes on a fixed severity scale.
//
// The classifier is a pure function of the step's kind, whether and how it
// failed, and the content it produced. Replaying the same manifest against
// the same starting tree therefore always yields the same scores. Anything
// that needs state (the score history) is passed in explicitly.
package scoring

import (
	"fmt"

	"github.com/entrhq/anvil/pkg/manifest"
)

// Score is a step's severity score in [-2, 2].
type Score int

const (
	Catastrophic  Score = -2
	RuntimeError  Score = -1
	LowConfidence Score = 0
	Good          Score = 1
	Perfect       Score = 2
)

// Label returns the severity name of s.
func (s Score) Label() string {
	switch s {
	case Catastrophic:
		return "CATASTROPHIC"
	case RuntimeError:
		return "RUNTIME_ERROR"
	case LowConfidence:
		return "LOW_CONFIDENCE"
	case Good:
		return "GOOD"
	case Perfect:
		return "PERFECT"
	default:
		return "UNKNOWN"
	}
}

// String renders s with an explicit sign, e.g. "+1".
func (s Score) String() string {
	if s > 0 {
		return fmt.Sprintf("+%d", int(s))
	}
	return fmt.Sprintf("%d", int(s))
}

// FailureKind describes how a step failed.
type FailureKind int

const (
	// FailureNone means the step succeeded.
	FailureNone FailureKind = iota
	// FailureBoundary covers layer violations, malformed or stale patch
	// blocks, and writes outside the allowed area.
	FailureBoundary
	// FailureRuntime covers everything else: failed checks, failed
	// validation commands, timeouts, VCS errors, conflicts.
	FailureRuntime
)

// Input is everything the classifier may look at.
type Input struct {
	StepID  string
	Kind    manifest.Kind
	Layer   string
	Success bool
	Failure FailureKind

	// Content maps each path the step wrote to its new content.
	Content map[string]string
}

// Predicate is a pluggable documentation criterion.
type Predicate func(Input) bool

// Classifier maps an Input to a Score.
type Classifier struct {
	layers     *LayerRules
	documented Predicate
	enriched   Predicate
}

// NewClassifier creates a classifier. A nil documented predicate accepts
// every step; a nil enriched predicate never awards PERFECT. layers may be nil.
func NewClassifier(layers *LayerRules, documented, enriched Predicate) *Classifier {
	return &Classifier{layers: layers, documented: documented, enriched: enriched}
}

// Classify scores a single step outcome.
func (c *Classifier) Classify(in Input) Score {
	if !in.Success {
		if in.Failure == FailureBoundary {
			return Catastrophic
		}
		return RuntimeError
	}
	if c.layers != nil && len(c.layers.Check(in.Layer, in.Content)) > 0 {
		return Catastrophic
	}
	if c.documented != nil && !c.documented(in) {
		return LowConfidence
	}
	if c.enriched != nil && c.enriched(in) {
		return Perfect
	}
	return Good
}

// Mean returns the arithmetic mean of scores, and false when there are none.
func Mean(scores []int) (float64, bool) {
	if len(scores) == 0 {
		return 0, false
	}
	total := 0
	for _, s := range scores {
		total += s
	}
	return float64(total) / float64(len(scores)), true
}
