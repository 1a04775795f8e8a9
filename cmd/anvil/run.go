package main

import (
	"context"
	"fmt"
	"io"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/entrhq/anvil/pkg/config"
	"github.com/entrhq/anvil/pkg/executor"
	"github.com/entrhq/anvil/pkg/logging"
	"github.com/entrhq/anvil/pkg/manifest"
	"github.com/entrhq/anvil/pkg/vcs"
)

// runFlags holds CLI flag values that override the config file. Only flags
// explicitly set by the user are applied.
type runFlags struct {
	configPath  string
	runID       string
	noCommit    bool
	noGate      bool
	interactive bool
	verbosity   string
}

func newRunCmd() *cobra.Command {
	flags := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run <manifest>",
		Short: "Execute the pending steps of a manifest",
		Long: `Execute every PENDING step of a manifest in order. Progress goes to
stderr; the final report is printed to stdout as a single JSON object and
the exit code reflects the failure category.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runManifest(cmd.Context(), cmd, args[0], flags)
		},
	}

	cmd.Flags().StringVar(&flags.configPath, "config", "", "config file (default: anvil.yaml next to the manifest)")
	cmd.Flags().StringVar(&flags.runID, "run-id", "", "run identifier (default: random)")
	cmd.Flags().BoolVar(&flags.noCommit, "no-commit", false, "disable commits, branches and merge requests")
	cmd.Flags().BoolVar(&flags.noGate, "no-quality-gate", false, "disable the quality gate")
	cmd.Flags().BoolVar(&flags.interactive, "interactive", false, "ask before stashing a dirty tree")
	cmd.Flags().StringVar(&flags.verbosity, "verbosity", "", "progress verbosity: quiet, normal, verbose or debug")
	return cmd
}

func runManifest(ctx context.Context, cmd *cobra.Command, manifestPath string, flags *runFlags) error {
	stdout, stderr := cmd.OutOrStdout(), cmd.ErrOrStderr()

	runID := flags.runID
	if runID == "" {
		runID = logging.NewRunID()
	}

	m, err := manifest.Load(manifestPath)
	if err != nil {
		return failBeforeRun(stdout, stderr, runID, err)
	}

	cfg, err := loadConfig(cmd, manifestPath, flags)
	if err != nil {
		return failBeforeRun(stdout, stderr, runID, err)
	}

	workDir, err := manifest.ResolveWorkingDir(m, manifestPath)
	if err != nil {
		return failBeforeRun(stdout, stderr, runID, err)
	}

	// On error the logger falls back to stderr and says so itself.
	log, _ := logging.New(filepath.Join(workDir, ".anvil", "logs"), runID, "executor")
	defer log.Close()

	progress := executor.NewLogger(stderr, executor.ParseLogLevel(cfg.Logging.Verbosity))

	var prompter vcs.Prompter
	if cfg.Interactive {
		prompter = vcs.NewLinePrompter(cmd.InOrStdin(), stderr)
	}

	exec, err := executor.New(m, executor.Options{
		ManifestPath: manifestPath,
		WorkDir:      workDir,
		RunID:        runID,
		Config:       cfg,
		Prompter:     prompter,
		Progress:     progress,
		Log:          log,
	})
	if err != nil {
		log.Errorf("failed to start run: %v", err)
		return failBeforeRun(stdout, stderr, runID, err)
	}

	progress.Header(fmt.Sprintf("anvil %s: %s", version, manifestPath))
	report, err := exec.Run(ctx)
	if report == nil {
		return err
	}
	progress.Summary(report)

	if err := report.WriteJSON(stdout); err != nil {
		return err
	}
	if report.ExitCode != executor.ExitSuccess {
		return exitCode(report.ExitCode)
	}
	return nil
}

// loadConfig reads the config file and applies flag overrides.
func loadConfig(cmd *cobra.Command, manifestPath string, flags *runFlags) (*config.Config, error) {
	path := flags.configPath
	if path == "" {
		found, err := config.FindFile(filepath.Dir(manifestPath))
		if err != nil {
			return nil, err
		}
		path = found
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	if cmd.Flags().Changed("no-commit") && flags.noCommit {
		cfg.Commits.Enabled = false
	}
	if cmd.Flags().Changed("no-quality-gate") && flags.noGate {
		cfg.QualityGate.Enabled = false
	}
	if cmd.Flags().Changed("interactive") {
		cfg.Interactive = flags.interactive
	}
	if cmd.Flags().Changed("verbosity") {
		cfg.Logging.Verbosity = flags.verbosity
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// failBeforeRun reports a run that could not start.
func failBeforeRun(stdout, stderr io.Writer, runID string, err error) error {
	report := executor.ParseFailureReport(runID, err)
	fmt.Fprintln(stderr, "Error:", err)
	if writeErr := report.WriteJSON(stdout); writeErr != nil {
		return writeErr
	}
	return exitCode(report.ExitCode)
}
