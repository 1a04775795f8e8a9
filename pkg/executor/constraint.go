package executor

import (
	"fmt"
	"path"
	"path/filepath"

	"github.com/gobwas/glob"

	"github.com/entrhq/anvil/pkg/config"
	"github.com/entrhq/anvil/pkg/manifest"
	"github.com/entrhq/anvil/pkg/patch"
)

// ConstraintManager enforces per-step safety limits
type ConstraintManager struct {
	config         config.ConstraintConfig
	patternMatcher *PatternMatcher
}

// ConstraintViolation represents a constraint violation error
type ConstraintViolation struct {
	StepID  string
	Type    ViolationType
	Message string
	Details map[string]interface{}
}

func (e *ConstraintViolation) Error() string {
	return fmt.Sprintf("constraint violation (%s) in step %s: %s", e.Type, e.StepID, e.Message)
}

// ViolationType identifies the type of constraint that was violated
type ViolationType string

const (
	ViolationFileCount   ViolationType = "file_count"
	ViolationLineCount   ViolationType = "line_count"
	ViolationFilePattern ViolationType = "file_pattern"
)

// NewConstraintManager creates a new constraint manager
func NewConstraintManager(cfg config.ConstraintConfig) (*ConstraintManager, error) {
	patternMatcher, err := NewPatternMatcher(cfg.AllowedPatterns, cfg.DeniedPatterns)
	if err != nil {
		return nil, fmt.Errorf("failed to create pattern matcher: %w", err)
	}

	return &ConstraintManager{
		config:         cfg,
		patternMatcher: patternMatcher,
	}, nil
}

// ValidatePaths checks every path the step declares against the allowed and
// denied patterns. It runs before the step touches the tree.
func (cm *ConstraintManager) ValidatePaths(step *manifest.Step) error {
	for _, p := range declaredPaths(step) {
		if !cm.patternMatcher.IsAllowed(p) {
			return &ConstraintViolation{
				StepID:  step.ID,
				Type:    ViolationFilePattern,
				Message: fmt.Sprintf("file '%s' does not match allowed patterns", p),
				Details: map[string]interface{}{
					"file":             p,
					"allowed_patterns": cm.config.AllowedPatterns,
					"denied_patterns":  cm.config.DeniedPatterns,
				},
			}
		}
	}
	return nil
}

// ValidateResult checks what an applied step did against the file and line
// limits. A violation means the step must be rolled back.
func (cm *ConstraintManager) ValidateResult(step *manifest.Step, res *patch.Result) error {
	if res == nil {
		return nil
	}

	touched := res.Touched()
	if cm.config.MaxFilesPerStep > 0 && len(touched) > cm.config.MaxFilesPerStep {
		return &ConstraintViolation{
			StepID:  step.ID,
			Type:    ViolationFileCount,
			Message: fmt.Sprintf("maximum file count exceeded (%d)", cm.config.MaxFilesPerStep),
			Details: map[string]interface{}{
				"max_files":     cm.config.MaxFilesPerStep,
				"current_count": len(touched),
			},
		}
	}

	if cm.config.MaxLinesPerStep > 0 {
		totalLinesChanged := res.LinesAdded + res.LinesRemoved
		if totalLinesChanged > cm.config.MaxLinesPerStep {
			return &ConstraintViolation{
				StepID:  step.ID,
				Type:    ViolationLineCount,
				Message: fmt.Sprintf("maximum lines changed exceeded (%d)", cm.config.MaxLinesPerStep),
				Details: map[string]interface{}{
					"max_lines_changed": cm.config.MaxLinesPerStep,
					"current_total":     totalLinesChanged,
				},
			}
		}
	}

	return nil
}

// declaredPaths returns the slash-separated paths a step will write.
func declaredPaths(step *manifest.Step) []string {
	if step.Kind == manifest.KindFolder {
		paths := make([]string, 0, len(step.Folders))
		for _, f := range step.Folders {
			paths = append(paths, path.Join(filepath.ToSlash(step.BasePath), filepath.ToSlash(f)))
		}
		return paths
	}
	return step.Paths()
}

// PatternMatcher handles glob pattern matching for file access control
type PatternMatcher struct {
	allowedPatterns []glob.Glob
	deniedPatterns  []glob.Glob
}

// NewPatternMatcher creates a new pattern matcher
func NewPatternMatcher(allowed, denied []string) (*PatternMatcher, error) {
	pm := &PatternMatcher{}

	// Compile allowed patterns
	for _, pattern := range allowed {
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid allowed pattern '%s': %w", pattern, err)
		}
		pm.allowedPatterns = append(pm.allowedPatterns, g)
	}

	// Compile denied patterns
	for _, pattern := range denied {
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid denied pattern '%s': %w", pattern, err)
		}
		pm.deniedPatterns = append(pm.deniedPatterns, g)
	}

	return pm, nil
}

// IsAllowed returns true if the path is allowed by the pattern rules
func (pm *PatternMatcher) IsAllowed(p string) bool {
	p = path.Clean(filepath.ToSlash(p))

	// Denied patterns take precedence
	for _, pattern := range pm.deniedPatterns {
		if pattern.Match(p) {
			return false
		}
	}

	// If no allowed patterns specified, allow all (except denied)
	if len(pm.allowedPatterns) == 0 {
		return true
	}

	for _, pattern := range pm.allowedPatterns {
		if pattern.Match(p) {
			return true
		}
	}

	return false
}
