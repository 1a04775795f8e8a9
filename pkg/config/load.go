package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. ANVIL_COMMITS_ENABLED=false.
const EnvPrefix = "ANVIL"

// FileNames are the config files FindFile looks for, in order.
var FileNames = []string{"anvil.yaml", ".anvil.yaml", filepath.Join(".anvil", "config.yaml")}

// SetDefaults registers every default value on v.
func SetDefaults(v *viper.Viper) {
	defaults := Default()

	// Commits
	v.SetDefault("commits.enabled", defaults.Commits.Enabled)
	v.SetDefault("commits.author_name", defaults.Commits.AuthorName)
	v.SetDefault("commits.author_email", defaults.Commits.AuthorEmail)
	v.SetDefault("commits.remote", defaults.Commits.Remote)
	v.SetDefault("commits.push", defaults.Commits.Push)

	// Quality gate
	v.SetDefault("quality_gate.enabled", defaults.QualityGate.Enabled)
	v.SetDefault("quality_gate.checks", defaults.QualityGate.Checks)
	v.SetDefault("quality_gate.diagnostic_lines", defaults.QualityGate.DiagnosticLines)
	v.SetDefault("quality_gate.boundary_check", defaults.QualityGate.BoundaryCheck)

	// Branch safety
	v.SetDefault("branch_safety.enabled", defaults.BranchSafety.Enabled)
	v.SetDefault("branch_safety.dirty_tree", string(defaults.BranchSafety.DirtyTree))
	v.SetDefault("interactive", defaults.Interactive)

	// Retry
	v.SetDefault("retry.max_attempts", defaults.Retry.MaxAttempts)
	v.SetDefault("retry.initial_interval", defaults.Retry.InitialInterval)
	v.SetDefault("retry.max_interval", defaults.Retry.MaxInterval)

	// Timeouts
	v.SetDefault("timeouts.check", defaults.Timeouts.Check)
	v.SetDefault("timeouts.git", defaults.Timeouts.Git)
	v.SetDefault("timeouts.hosting", defaults.Timeouts.Hosting)
	v.SetDefault("timeouts.validation", defaults.Timeouts.Validation)

	// Constraints
	v.SetDefault("constraints.allowed_patterns", defaults.Constraints.AllowedPatterns)
	v.SetDefault("constraints.denied_patterns", defaults.Constraints.DeniedPatterns)
	v.SetDefault("constraints.max_files_per_step", defaults.Constraints.MaxFilesPerStep)
	v.SetDefault("constraints.max_lines_per_step", defaults.Constraints.MaxLinesPerStep)

	// Scoring
	v.SetDefault("scoring.history_path", defaults.Scoring.HistoryPath)
	v.SetDefault("scoring.required_doc_tags", defaults.Scoring.RequiredDocTags)
	v.SetDefault("scoring.enriched_doc_tags", defaults.Scoring.EnrichedDocTags)
	v.SetDefault("scoring.doc_globs", defaults.Scoring.DocGlobs)
	v.SetDefault("scoring.layers", defaults.Scoring.Layers)

	// Artifacts
	v.SetDefault("artifacts.enabled", defaults.Artifacts.Enabled)
	v.SetDefault("artifacts.output_dir", defaults.Artifacts.OutputDir)

	// Logging
	v.SetDefault("logging.verbosity", defaults.Logging.Verbosity)
}

// Load builds a Config from defaults, the YAML file at path (skipped when
// path is empty) and ANVIL_* environment variables, then validates it.
func Load(path string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// FindFile returns the first of FileNames present in dir, or "".
func FindFile(dir string) (string, error) {
	for _, name := range FileNames {
		p := filepath.Join(dir, name)
		info, err := os.Stat(p)
		if err == nil && !info.IsDir() {
			return p, nil
		}
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("failed to stat %s: %w", p, err)
		}
	}
	return "", nil
}
