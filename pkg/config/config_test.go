package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/anvil/pkg/gate"
	"github.com/entrhq/anvil/pkg/scoring"
	"github.com/entrhq/anvil/pkg/vcs"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.True(t, cfg.Commits.Enabled)
	assert.True(t, cfg.QualityGate.Enabled)
	assert.True(t, cfg.BranchSafety.Enabled)
	assert.Equal(t, vcs.DirtyTreeAutoStash, cfg.BranchSafety.DirtyTree)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, 250*time.Millisecond, cfg.Retry.InitialInterval)
	assert.Equal(t, 4*time.Second, cfg.Retry.MaxInterval)
	assert.Equal(t, gate.DefaultDiagnosticLines, cfg.QualityGate.DiagnosticLines)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{
			name:    "author name without email",
			mutate:  func(c *Config) { c.Commits.AuthorName = "bot" },
			wantErr: "author_email",
		},
		{
			name:    "check without command",
			mutate:  func(c *Config) { c.QualityGate.Checks = []gate.CheckConfig{{Name: "lint"}} },
			wantErr: "command is required",
		},
		{
			name: "duplicate check names",
			mutate: func(c *Config) {
				c.QualityGate.Checks = []gate.CheckConfig{
					{Name: "lint", Command: []string{"golangci-lint", "run"}},
					{Name: "lint", Command: []string{"go", "vet", "./..."}},
				}
			},
			wantErr: "duplicate check name",
		},
		{
			name:    "unknown dirty tree policy",
			mutate:  func(c *Config) { c.BranchSafety.DirtyTree = "discard" },
			wantErr: "dirty_tree",
		},
		{
			name:    "zero attempts",
			mutate:  func(c *Config) { c.Retry.MaxAttempts = 0 },
			wantErr: "max_attempts",
		},
		{
			name:    "initial interval above cap",
			mutate:  func(c *Config) { c.Retry.InitialInterval = time.Minute },
			wantErr: "initial_interval",
		},
		{
			name:    "zero git timeout",
			mutate:  func(c *Config) { c.Timeouts.Git = 0 },
			wantErr: "timeouts.git",
		},
		{
			name:    "negative max files",
			mutate:  func(c *Config) { c.Constraints.MaxFilesPerStep = -1 },
			wantErr: "max_files_per_step",
		},
		{
			name:    "unnamed layer",
			mutate:  func(c *Config) { c.Scoring.Layers = []scoring.Layer{{Paths: []string{"domain/**"}}} },
			wantErr: "scoring.layers",
		},
		{
			name:    "artifacts without dir",
			mutate:  func(c *Config) { c.Artifacts.OutputDir = "" },
			wantErr: "output_dir",
		},
		{
			name:    "bad verbosity",
			mutate:  func(c *Config) { c.Logging.Verbosity = "loud" },
			wantErr: "verbosity",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidate_DefaultsVerbosity(t *testing.T) {
	cfg := Default()
	cfg.Logging.Verbosity = ""
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "normal", cfg.Logging.Verbosity)
}

func TestLoad_DefaultsOnly(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	want := Default()
	assert.Equal(t, want.Commits, cfg.Commits)
	assert.Equal(t, want.BranchSafety, cfg.BranchSafety)
	assert.Equal(t, want.Retry, cfg.Retry)
	assert.Equal(t, want.Timeouts, cfg.Timeouts)
	assert.Equal(t, want.Artifacts, cfg.Artifacts)
	assert.Equal(t, want.Logging, cfg.Logging)
	assert.Equal(t, want.Scoring.HistoryPath, cfg.Scoring.HistoryPath)
	assert.Empty(t, cfg.QualityGate.Checks)
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "anvil.yaml")
	writeFile(t, path, `
commits:
  author_name: anvil-bot
  author_email: bot@example.com
quality_gate:
  checks:
    - name: vet
      command: [go, vet, ./...]
    - name: lint
      command: [golangci-lint, run]
      required: false
      timeout: 2m
branch_safety:
  dirty_tree: fail
retry:
  max_attempts: 5
  initial_interval: 100ms
timeouts:
  git: 10s
scoring:
  required_doc_tags: ["@doc"]
  layers:
    - name: domain
      paths: ["domain/**"]
      forbidden_imports: ["net/http"]
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "anvil-bot", cfg.Commits.AuthorName)
	assert.True(t, cfg.Commits.Enabled, "unset keys keep their defaults")

	require.Len(t, cfg.QualityGate.Checks, 2)
	assert.Equal(t, []string{"go", "vet", "./..."}, cfg.QualityGate.Checks[0].Command)
	assert.True(t, cfg.QualityGate.Checks[0].IsRequired())
	assert.False(t, cfg.QualityGate.Checks[1].IsRequired())
	assert.Equal(t, 2*time.Minute, cfg.QualityGate.Checks[1].Timeout)

	assert.Equal(t, vcs.DirtyTreeFail, cfg.BranchSafety.DirtyTree)
	assert.Equal(t, 5, cfg.Retry.MaxAttempts)
	assert.Equal(t, 100*time.Millisecond, cfg.Retry.InitialInterval)
	assert.Equal(t, 4*time.Second, cfg.Retry.MaxInterval)
	assert.Equal(t, 10*time.Second, cfg.Timeouts.Git)
	assert.Equal(t, 5*time.Minute, cfg.Timeouts.Check)

	assert.Equal(t, []string{"@doc"}, cfg.Scoring.RequiredDocTags)
	require.Len(t, cfg.Scoring.Layers, 1)
	assert.Equal(t, []string{"net/http"}, cfg.Scoring.Layers[0].ForbiddenImports)
}

func TestLoad_Environment(t *testing.T) {
	t.Setenv("ANVIL_COMMITS_ENABLED", "false")
	t.Setenv("ANVIL_TIMEOUTS_HOSTING", "90s")
	t.Setenv("ANVIL_INTERACTIVE", "true")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.False(t, cfg.Commits.Enabled)
	assert.Equal(t, 90*time.Second, cfg.Timeouts.Hosting)
	assert.True(t, cfg.Interactive)
}

func TestLoad_Errors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})

	t.Run("invalid value", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "anvil.yaml")
		writeFile(t, path, "branch_safety:\n  dirty_tree: discard\n")
		_, err := Load(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid config")
	})
}

func TestEffectiveDirtyTree(t *testing.T) {
	tests := []struct {
		interactive bool
		policy      vcs.DirtyTreePolicy
		want        vcs.DirtyTreePolicy
	}{
		{false, vcs.DirtyTreeAutoStash, vcs.DirtyTreeAutoStash},
		{true, vcs.DirtyTreeAutoStash, vcs.DirtyTreePrompt},
		{true, vcs.DirtyTreeFail, vcs.DirtyTreeFail},
		{false, vcs.DirtyTreePrompt, vcs.DirtyTreePrompt},
	}
	for _, tt := range tests {
		cfg := Default()
		cfg.Interactive = tt.interactive
		cfg.BranchSafety.DirtyTree = tt.policy
		assert.Equal(t, tt.want, cfg.EffectiveDirtyTree(), "interactive=%v policy=%s", tt.interactive, tt.policy)
	}
}

func TestVCSConfig(t *testing.T) {
	cfg := Default()
	cfg.BranchSafety.Enabled = false
	cfg.Commits.AuthorName = "bot"
	cfg.Commits.AuthorEmail = "bot@example.com"

	vc := cfg.VCSConfig([]string{"manifest.yaml", ".anvil"})
	assert.False(t, vc.BranchSafety)
	assert.Equal(t, "origin", vc.Remote)
	assert.Equal(t, "bot", vc.AuthorName)
	assert.Equal(t, []string{"manifest.yaml", ".anvil"}, vc.Ignore)
	assert.Equal(t, cfg.Timeouts.Git, vc.GitTimeout)
	assert.Equal(t, cfg.Retry, vc.Retry)
}

func TestFindFile(t *testing.T) {
	dir := t.TempDir()

	path, err := FindFile(dir)
	require.NoError(t, err)
	assert.Empty(t, path)

	writeFile(t, filepath.Join(dir, ".anvil.yaml"), "interactive: true\n")
	path, err = FindFile(dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, ".anvil.yaml"), path)

	writeFile(t, filepath.Join(dir, "anvil.yaml"), "interactive: false\n")
	path, err = FindFile(dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "anvil.yaml"), path)
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}
