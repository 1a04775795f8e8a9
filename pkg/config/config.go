// Package config holds the engine configuration.
//
// Every field has a default that lets the engine run unattended: commits and
// the quality gate on, branch safety on with auto-stash, three retries for
// transient VCS failures. A YAML file and ANVIL_* environment variables can
// override any key.
package config

import (
	"fmt"
	"time"

	"github.com/entrhq/anvil/pkg/gate"
	"github.com/entrhq/anvil/pkg/scoring"
	"github.com/entrhq/anvil/pkg/vcs"
)

// Config represents the configuration for a run
type Config struct {
	// Commits controls per-step commits and pushes
	Commits CommitsConfig `yaml:"commits" json:"commits" mapstructure:"commits"`

	// QualityGate controls the checks run after each file-mutating step
	QualityGate QualityGateConfig `yaml:"quality_gate" json:"quality_gate" mapstructure:"quality_gate"`

	// BranchSafety controls what happens to a dirty tree before switching branches
	BranchSafety BranchSafetyConfig `yaml:"branch_safety" json:"branch_safety" mapstructure:"branch_safety"`

	// Interactive means an operator is present to answer prompts
	Interactive bool `yaml:"interactive" json:"interactive" mapstructure:"interactive"`

	// Retry bounds retries of transient VCS failures
	Retry vcs.RetryConfig `yaml:"retry" json:"retry" mapstructure:"retry"`

	// Timeouts bound every subprocess by category
	Timeouts TimeoutsConfig `yaml:"timeouts" json:"timeouts" mapstructure:"timeouts"`

	// Constraints are per-step safety limits
	Constraints ConstraintConfig `yaml:"constraints" json:"constraints" mapstructure:"constraints"`

	// Scoring configures documentation predicates, layers and the history file
	Scoring ScoringConfig `yaml:"scoring" json:"scoring" mapstructure:"scoring"`

	// Artifacts configures the report files written at the end of a run
	Artifacts ArtifactConfig `yaml:"artifacts" json:"artifacts" mapstructure:"artifacts"`

	// Logging configures the progress stream
	Logging LoggingConfig `yaml:"logging" json:"logging" mapstructure:"logging"`
}

// CommitsConfig defines commit and push behavior
type CommitsConfig struct {
	Enabled     bool   `yaml:"enabled" json:"enabled" mapstructure:"enabled"`
	AuthorName  string `yaml:"author_name" json:"author_name" mapstructure:"author_name"`
	AuthorEmail string `yaml:"author_email" json:"author_email" mapstructure:"author_email"`
	Remote      string `yaml:"remote" json:"remote" mapstructure:"remote"`
	// Push publishes the branch after the last step when no pull_request step does it
	Push bool `yaml:"push" json:"push" mapstructure:"push"`
}

// QualityGateConfig defines the checks the gate runs
type QualityGateConfig struct {
	Enabled         bool               `yaml:"enabled" json:"enabled" mapstructure:"enabled"`
	Checks          []gate.CheckConfig `yaml:"checks" json:"checks" mapstructure:"checks"`
	DiagnosticLines int                `yaml:"diagnostic_lines" json:"diagnostic_lines" mapstructure:"diagnostic_lines"`
	// BoundaryCheck adds the in-process layer check when layers are configured
	BoundaryCheck bool `yaml:"boundary_check" json:"boundary_check" mapstructure:"boundary_check"`
}

// BranchSafetyConfig defines dirty-tree handling
type BranchSafetyConfig struct {
	Enabled   bool                `yaml:"enabled" json:"enabled" mapstructure:"enabled"`
	DirtyTree vcs.DirtyTreePolicy `yaml:"dirty_tree" json:"dirty_tree" mapstructure:"dirty_tree"`
}

// TimeoutsConfig bounds subprocesses
type TimeoutsConfig struct {
	Check      time.Duration `yaml:"check" json:"check" mapstructure:"check"`
	Git        time.Duration `yaml:"git" json:"git" mapstructure:"git"`
	Hosting    time.Duration `yaml:"hosting" json:"hosting" mapstructure:"hosting"`
	Validation time.Duration `yaml:"validation" json:"validation" mapstructure:"validation"`
}

// ConstraintConfig defines safety constraints applied to each step
type ConstraintConfig struct {
	AllowedPatterns []string `yaml:"allowed_patterns" json:"allowed_patterns" mapstructure:"allowed_patterns"`
	DeniedPatterns  []string `yaml:"denied_patterns" json:"denied_patterns" mapstructure:"denied_patterns"`
	// Zero means unlimited
	MaxFilesPerStep int `yaml:"max_files_per_step" json:"max_files_per_step" mapstructure:"max_files_per_step"`
	MaxLinesPerStep int `yaml:"max_lines_per_step" json:"max_lines_per_step" mapstructure:"max_lines_per_step"`
}

// ScoringConfig defines how steps are scored
type ScoringConfig struct {
	HistoryPath     string          `yaml:"history_path" json:"history_path" mapstructure:"history_path"`
	RequiredDocTags []string        `yaml:"required_doc_tags" json:"required_doc_tags" mapstructure:"required_doc_tags"`
	EnrichedDocTags []string        `yaml:"enriched_doc_tags" json:"enriched_doc_tags" mapstructure:"enriched_doc_tags"`
	DocGlobs        []string        `yaml:"doc_globs" json:"doc_globs" mapstructure:"doc_globs"`
	Layers          []scoring.Layer `yaml:"layers" json:"layers" mapstructure:"layers"`
}

// ArtifactConfig defines artifact generation
type ArtifactConfig struct {
	Enabled   bool   `yaml:"enabled" json:"enabled" mapstructure:"enabled"`
	OutputDir string `yaml:"output_dir" json:"output_dir" mapstructure:"output_dir"`
}

// LoggingConfig defines logging configuration
type LoggingConfig struct {
	// Verbosity controls logging level: quiet, normal, verbose, debug
	Verbosity string `yaml:"verbosity" json:"verbosity" mapstructure:"verbosity"`
}

// Default returns a configuration suitable for unattended runs.
func Default() *Config {
	return &Config{
		Commits: CommitsConfig{
			Enabled: true,
			Remote:  "origin",
		},
		QualityGate: QualityGateConfig{
			Enabled:         true,
			DiagnosticLines: gate.DefaultDiagnosticLines,
			BoundaryCheck:   true,
		},
		BranchSafety: BranchSafetyConfig{
			Enabled:   true,
			DirtyTree: vcs.DirtyTreeAutoStash,
		},
		Retry: vcs.DefaultRetryConfig(),
		Timeouts: TimeoutsConfig{
			Check:      5 * time.Minute,
			Git:        30 * time.Second,
			Hosting:    60 * time.Second,
			Validation: 5 * time.Minute,
		},
		Scoring: ScoringConfig{
			HistoryPath: ".anvil/score-history.jsonl",
		},
		Artifacts: ArtifactConfig{
			Enabled:   true,
			OutputDir: ".anvil/artifacts",
		},
		Logging: LoggingConfig{
			Verbosity: "normal",
		},
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Commits.AuthorName != "" && c.Commits.AuthorEmail == "" {
		return fmt.Errorf("commits.author_email is required when author_name is set")
	}
	if c.Commits.AuthorEmail != "" && c.Commits.AuthorName == "" {
		return fmt.Errorf("commits.author_name is required when author_email is set")
	}

	seen := make(map[string]bool, len(c.QualityGate.Checks))
	for _, check := range c.QualityGate.Checks {
		if err := check.Validate(); err != nil {
			return fmt.Errorf("quality_gate: %w", err)
		}
		if seen[check.Name] {
			return fmt.Errorf("quality_gate: duplicate check name: %s", check.Name)
		}
		seen[check.Name] = true
	}
	if c.QualityGate.DiagnosticLines < 0 {
		return fmt.Errorf("quality_gate.diagnostic_lines cannot be negative")
	}

	if !c.BranchSafety.DirtyTree.Valid() {
		return fmt.Errorf("invalid branch_safety.dirty_tree: %s (must be 'auto_stash', 'prompt', or 'fail')", c.BranchSafety.DirtyTree)
	}

	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be at least 1")
	}
	if c.Retry.InitialInterval < 0 || c.Retry.MaxInterval < 0 {
		return fmt.Errorf("retry intervals cannot be negative")
	}
	if c.Retry.MaxInterval > 0 && c.Retry.InitialInterval > c.Retry.MaxInterval {
		return fmt.Errorf("retry.initial_interval cannot exceed retry.max_interval")
	}

	for name, d := range map[string]time.Duration{
		"check":      c.Timeouts.Check,
		"git":        c.Timeouts.Git,
		"hosting":    c.Timeouts.Hosting,
		"validation": c.Timeouts.Validation,
	} {
		if d <= 0 {
			return fmt.Errorf("timeouts.%s must be positive", name)
		}
	}

	if c.Constraints.MaxFilesPerStep < 0 {
		return fmt.Errorf("constraints.max_files_per_step cannot be negative")
	}
	if c.Constraints.MaxLinesPerStep < 0 {
		return fmt.Errorf("constraints.max_lines_per_step cannot be negative")
	}

	if c.Scoring.HistoryPath == "" {
		return fmt.Errorf("scoring.history_path is required")
	}
	if _, err := scoring.NewLayerRules(c.Scoring.Layers); err != nil {
		return fmt.Errorf("scoring.layers: %w", err)
	}

	if c.Artifacts.Enabled && c.Artifacts.OutputDir == "" {
		return fmt.Errorf("artifacts.output_dir is required when artifacts are enabled")
	}

	// Set default verbosity if not specified
	if c.Logging.Verbosity == "" {
		c.Logging.Verbosity = "normal"
	}

	validLevels := map[string]bool{
		"quiet":   true,
		"normal":  true,
		"verbose": true,
		"debug":   true,
	}
	if !validLevels[c.Logging.Verbosity] {
		return fmt.Errorf("invalid logging verbosity: %s (must be 'quiet', 'normal', 'verbose', or 'debug')", c.Logging.Verbosity)
	}

	return nil
}

// EffectiveDirtyTree returns the dirty-tree policy in force. An interactive
// run with the default auto_stash policy asks the operator instead.
func (c *Config) EffectiveDirtyTree() vcs.DirtyTreePolicy {
	if c.Interactive && c.BranchSafety.DirtyTree == vcs.DirtyTreeAutoStash {
		return vcs.DirtyTreePrompt
	}
	return c.BranchSafety.DirtyTree
}

// VCSConfig returns the settings for a vcs.Manager. ignore lists paths,
// relative to the working directory, that never count as a dirty tree.
func (c *Config) VCSConfig(ignore []string) vcs.Config {
	return vcs.Config{
		AuthorName:     c.Commits.AuthorName,
		AuthorEmail:    c.Commits.AuthorEmail,
		Remote:         c.Commits.Remote,
		BranchSafety:   c.BranchSafety.Enabled,
		DirtyTree:      c.EffectiveDirtyTree(),
		Ignore:         ignore,
		GitTimeout:     c.Timeouts.Git,
		HostingTimeout: c.Timeouts.Hosting,
		Retry:          c.Retry,
	}
}
