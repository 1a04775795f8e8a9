package executor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"
	"time"

	"github.com/entrhq/anvil/pkg/config"
	"github.com/entrhq/anvil/pkg/gate"
	"github.com/entrhq/anvil/pkg/logging"
	"github.com/entrhq/anvil/pkg/manifest"
	"github.com/entrhq/anvil/pkg/patch"
	"github.com/entrhq/anvil/pkg/runner"
	"github.com/entrhq/anvil/pkg/scoring"
	"github.com/entrhq/anvil/pkg/security/workspace"
	"github.com/entrhq/anvil/pkg/vcs"
)

// State is the lifecycle state of a run.
type State string

const (
	StateInit     State = "INIT"
	StateRunning  State = "RUNNING"
	StateDone     State = "DONE"
	StateHalted   State = "HALTED"
	StateCanceled State = "CANCELED"
)

// stateDir holds everything the engine writes inside the working directory.
const stateDir = ".anvil"

// VCS is the version control surface the executor drives. *vcs.Manager
// implements it.
type VCS interface {
	CurrentBranch(ctx context.Context) (string, error)
	EnsureBranch(ctx context.Context, name string) error
	Commit(ctx context.Context, req vcs.CommitRequest) (string, error)
	Unstage(ctx context.Context, files []string) error
	Push(ctx context.Context, branch string) error
	OpenMergeRequest(ctx context.Context, opts vcs.MergeRequestOptions) (*vcs.MergeRequest, error)
}

// Options configures an Executor. Only ManifestPath is required.
type Options struct {
	// ManifestPath is where the manifest is persisted after every step.
	ManifestPath string
	// WorkDir overrides the manifest's working directory.
	WorkDir string
	RunID   string
	Config  *config.Config

	Runner   runner.Runner
	VCS      VCS
	Prompter vcs.Prompter
	History  scoring.History

	// Documented and Enriched replace the tag-based documentation
	// predicates built from the scoring config.
	Documented scoring.Predicate
	Enriched   scoring.Predicate

	Progress *Logger
	Log      *logging.Logger
	Now      func() time.Time
}

// Executor runs the pending steps of one manifest in order.
type Executor struct {
	manifest     *manifest.Manifest
	manifestPath string
	workDir      string
	runID        string
	config       *config.Config

	runner      runner.Runner
	patch       *patch.Engine
	gate        *gate.Gate
	vcs         VCS
	classifier  *scoring.Classifier
	history     scoring.History
	constraints *ConstraintManager
	artifacts   *ArtifactWriter
	branchTmpl  *template.Template

	progress *Logger
	log      *logging.Logger
	now      func() time.Time

	state         State
	committed     bool
	pushed        bool
	mergeRequests []*vcs.MergeRequest
}

// New prepares an executor for m.
//
//nolint:gocyclo // wiring only
func New(m *manifest.Manifest, opts Options) (*Executor, error) {
	if m == nil {
		return nil, fmt.Errorf("manifest is required")
	}
	if opts.ManifestPath == "" {
		return nil, fmt.Errorf("manifest path is required")
	}
	manifestPath, err := filepath.Abs(opts.ManifestPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve manifest path: %w", err)
	}

	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	workDir := opts.WorkDir
	if workDir == "" {
		workDir, err = manifest.ResolveWorkingDir(m, manifestPath)
		if err != nil {
			return nil, err
		}
	}
	if info, statErr := os.Stat(workDir); statErr != nil {
		return nil, fmt.Errorf("working directory: %w", statErr)
	} else if !info.IsDir() {
		return nil, fmt.Errorf("working directory %s is not a directory", workDir)
	}

	runID := opts.RunID
	if runID == "" {
		runID = logging.NewRunID()
	}

	historyPath := inWorkDir(workDir, cfg.Scoring.HistoryPath)
	internal := []string{manifestPath, historyPath, filepath.Join(workDir, stateDir)}
	if cfg.Artifacts.Enabled {
		internal = append(internal, inWorkDir(workDir, cfg.Artifacts.OutputDir))
	}

	protected := relativeTo(workDir, internal)
	guard, err := workspace.NewGuard(workDir, protected...)
	if err != nil {
		return nil, fmt.Errorf("failed to create workspace guard: %w", err)
	}

	r := opts.Runner
	if r == nil {
		r = runner.New(cfg.Timeouts.Check)
	}

	v := opts.VCS
	if v == nil {
		v = vcs.New(workDir, r, cfg.VCSConfig(protected), opts.Prompter)
	}

	history := opts.History
	if history == nil {
		history = scoring.NewFileHistory(historyPath)
	}

	layers, err := scoring.NewLayerRules(cfg.Scoring.Layers)
	if err != nil {
		return nil, fmt.Errorf("invalid layer rules: %w", err)
	}

	documented := opts.Documented
	if documented == nil && len(cfg.Scoring.RequiredDocTags) > 0 {
		if documented, err = scoring.RequireTags(cfg.Scoring.RequiredDocTags, cfg.Scoring.DocGlobs); err != nil {
			return nil, fmt.Errorf("invalid documentation rule: %w", err)
		}
	}
	enriched := opts.Enriched
	if enriched == nil && len(cfg.Scoring.EnrichedDocTags) > 0 {
		if enriched, err = scoring.RequireAllTags(cfg.Scoring.EnrichedDocTags, cfg.Scoring.DocGlobs); err != nil {
			return nil, fmt.Errorf("invalid enrichment rule: %w", err)
		}
	}

	constraints, err := NewConstraintManager(cfg.Constraints)
	if err != nil {
		return nil, fmt.Errorf("failed to create constraint manager: %w", err)
	}

	var branchTmpl *template.Template
	if m.BranchTemplate != "" {
		branchTmpl, err = template.New("branch").Option("missingkey=error").Parse(m.BranchTemplate)
		if err != nil {
			return nil, fmt.Errorf("invalid branch_template: %w", err)
		}
	}

	e := &Executor{
		manifest:     m,
		manifestPath: manifestPath,
		workDir:      workDir,
		runID:        runID,
		config:       cfg,
		runner:       r,
		patch:        patch.New(guard),
		vcs:          v,
		classifier:   scoring.NewClassifier(layers, documented, enriched),
		history:      history,
		constraints:  constraints,
		branchTmpl:   branchTmpl,
		progress:     opts.Progress,
		log:          opts.Log,
		now:          opts.Now,
		state:        StateInit,
	}

	if cfg.QualityGate.Enabled {
		checks := gate.CommandChecks(cfg.QualityGate.Checks, cfg.Timeouts.Check, r)
		if cfg.QualityGate.BoundaryCheck && !layers.Empty() {
			checks = append(checks, gate.NewBoundaryCheck(layers))
		}
		if len(checks) > 0 {
			e.gate = gate.New(checks, cfg.QualityGate.DiagnosticLines)
		}
	}
	if cfg.Artifacts.Enabled {
		e.artifacts = NewArtifactWriter(inWorkDir(workDir, cfg.Artifacts.OutputDir))
	}
	if e.progress == nil {
		e.progress = NewLogger(os.Stdout, ParseLogLevel(cfg.Logging.Verbosity))
	}
	if e.log == nil {
		e.log = logging.Discard()
	}
	if e.now == nil {
		e.now = time.Now
	}

	return e, nil
}

// RunID returns the identifier of this run.
func (e *Executor) RunID() string {
	return e.runID
}

// WorkDir returns the directory steps operate in.
func (e *Executor) WorkDir() string {
	return e.workDir
}

// State returns the current lifecycle state.
func (e *Executor) State() State {
	return e.state
}

// Run executes every PENDING step in manifest order and returns the final
// report. The returned error is non-nil exactly when the run did not
// complete; the report is nil only if the executor has already run.
//
// Cancellation is observed between steps only: a step that has started runs
// to completion, including its rollback or commit.
func (e *Executor) Run(ctx context.Context) (*Report, error) {
	if e.state != StateInit {
		return nil, fmt.Errorf("executor already ran (state %s)", e.state)
	}

	start := e.now()
	e.state = StateRunning
	e.log.Infof("run %s started: manifest=%s workdir=%s steps=%d pending=%d",
		e.runID, e.manifestPath, e.workDir, len(e.manifest.Steps), len(e.manifest.Pending()))
	e.progress.Debugf("run %s, manifest %s", e.runID, e.manifestPath)

	report := e.walk(ctx)

	report.RunID = e.runID
	report.MergeRequests = e.mergeRequests
	report.StartTime = start
	report.EndTime = e.now()
	report.Duration = report.EndTime.Sub(start)

	e.log.Infof("run %s finished: state=%s status=%s category=%s", e.runID, report.State, report.Status, report.Category)

	if e.artifacts != nil {
		if err := e.artifacts.WriteAll(report, e.manifest); err != nil {
			e.log.Warnf("failed to write artifacts: %v", err)
			e.progress.Warningf("failed to write artifacts: %v", err)
		} else {
			e.progress.Verbosef("Artifacts written to %s", e.artifacts.OutputDir())
		}
	}

	return report, report.Err()
}

func (e *Executor) walk(ctx context.Context) *Report {
	last := len(e.manifest.Steps) - 1
	for i, step := range e.manifest.Steps {
		switch step.Status {
		case manifest.StatusSuccess, manifest.StatusSkipped:
			e.progress.Debugf("[%s] already %s", step.ID, step.Status)
			continue
		case manifest.StatusFailed:
			if i < last {
				e.progress.Debugf("[%s] previously failed, continuing", step.ID)
				continue
			}
			// Nothing after the failed step can correct it.
			e.state = StateHalted
			return failureReport(e.manifest, StateHalted, step, storedCategory(step), step.ExecutionLog)
		}

		if ctx.Err() != nil {
			e.state = StateCanceled
			e.log.Warnf("run canceled before step %s", step.ID)
			return failureReport(e.manifest, StateCanceled, step, CategoryCanceled, "run canceled before step "+step.ID)
		}

		// A step that has started finishes even if the run is canceled.
		if err := e.runStep(context.WithoutCancel(ctx), step); err != nil {
			e.state = StateHalted
			e.log.Errorf("step %s: %v", step.ID, err)
			return failureReport(e.manifest, StateHalted, step, CategoryInternal, err.Error())
		}

		if step.Status == manifest.StatusFailed {
			e.state = StateHalted
			return failureReport(e.manifest, StateHalted, step, storedCategory(step), step.ExecutionLog)
		}
	}

	if err := e.pushIfRequested(context.WithoutCancel(ctx)); err != nil {
		e.state = StateHalted
		e.progress.Errorf("push failed: %v", err)
		return failureReport(e.manifest, StateHalted, nil, CategoryVCS, err.Error())
	}

	e.state = StateDone
	return successReport(e.manifest)
}

// runStep executes one PENDING step, records its outcome and persists the
// manifest. Only a persistence failure is returned; step failures are
// recorded on the step.
func (e *Executor) runStep(ctx context.Context, step *manifest.Step) error {
	e.progress.StepStarted(step)
	e.log.Infof("step %s (%s) started", step.ID, step.Kind)

	out, stepErr := e.dispatch(ctx, step)

	var next manifest.Status
	switch {
	case out.skipped:
		step.Appendf("skipped: %s", out.reason)
		next = manifest.StatusSkipped
	case stepErr != nil:
		e.score(step, out.result, stepErr)
		category, _ := Classify(stepErr)
		step.AppendLog(stepErr.Error())
		step.Failure = string(category)
		next = manifest.StatusFailed
		e.log.Warnf("step %s failed (%s): %v", step.ID, category, stepErr)
	default:
		e.score(step, out.result, nil)
		next = manifest.StatusSuccess
	}

	if err := step.SetStatus(next); err != nil {
		return err
	}
	if err := manifest.Save(e.manifest, e.manifestPath); err != nil {
		return fmt.Errorf("failed to persist manifest: %w", err)
	}

	e.progress.StepFinished(step)
	e.log.Infof("step %s finished: %s", step.ID, step.Status)
	return nil
}

// score classifies an executed step and appends it to the score history.
func (e *Executor) score(step *manifest.Step, res *patch.Result, stepErr error) {
	_, failure := Classify(stepErr)
	in := scoring.Input{
		StepID:  step.ID,
		Kind:    step.Kind,
		Layer:   step.Layer,
		Success: stepErr == nil,
		Failure: failure,
	}
	if res != nil {
		in.Content = res.Produced
	}

	score := e.classifier.Classify(in)
	step.SetScore(int(score))

	if err := e.history.Append(scoring.NewRecord(e.runID, step.ID, step.Kind, score, e.now())); err != nil {
		e.log.Warnf("failed to record score for step %s: %v", step.ID, err)
		e.progress.Warningf("failed to record score for step %s: %v", step.ID, err)
	}
}

// pushIfRequested pushes the current branch when commits.push is set and
// this run committed something no pull_request step already pushed.
func (e *Executor) pushIfRequested(ctx context.Context) error {
	if !e.config.Commits.Enabled || !e.config.Commits.Push || !e.committed || e.pushed {
		return nil
	}
	e.progress.GitOperation("push", e.config.Commits.Remote)
	if err := e.vcs.Push(ctx, ""); err != nil {
		return err
	}
	e.pushed = true
	return nil
}

// branchName returns the explicit branch of a branch step, or renders the
// manifest's branch template.
func (e *Executor) branchName(step *manifest.Step) (string, error) {
	if step.Branch != "" {
		return step.Branch, nil
	}
	if e.branchTmpl == nil {
		return "", &vcs.VcsError{Op: "resolve branch", Err: fmt.Errorf("step %s has no branch and the manifest has no branch_template", step.ID)}
	}

	data := struct {
		Name  string
		RunID string
	}{Name: e.manifest.Name, RunID: e.runID}

	var b strings.Builder
	if err := e.branchTmpl.Execute(&b, data); err != nil {
		return "", &vcs.VcsError{Op: "render branch template", Err: err}
	}
	name := strings.TrimSpace(b.String())
	if name == "" {
		return "", &vcs.VcsError{Op: "render branch template", Err: fmt.Errorf("template produced an empty branch name")}
	}
	return name, nil
}

func storedCategory(step *manifest.Step) Category {
	if step.Failure == "" {
		return CategoryInternal
	}
	return Category(step.Failure)
}

func inWorkDir(workDir, p string) string {
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(workDir, p)
}

// relativeTo returns the paths under dir, relative to it. Paths outside dir
// are dropped.
func relativeTo(dir string, paths []string) []string {
	var rel []string
	for _, p := range paths {
		r, err := filepath.Rel(dir, p)
		if err != nil || r == "." || r == ".." || strings.HasPrefix(r, ".."+string(filepath.Separator)) {
			continue
		}
		rel = append(rel, filepath.ToSlash(r))
	}
	return rel
}
