package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/entrhq/anvil/pkg/gate"
	"github.com/entrhq/anvil/pkg/manifest"
	"github.com/entrhq/anvil/pkg/patch"
	"github.com/entrhq/anvil/pkg/runner"
	"github.com/entrhq/anvil/pkg/vcs"
)

// outcome is what a dispatched step left behind.
type outcome struct {
	result  *patch.Result
	skipped bool
	reason  string
}

func skip(reason string) (outcome, error) {
	return outcome{skipped: true, reason: reason}, nil
}

// dispatch executes one step according to its kind. A mutation that fails
// after it was applied is rolled back before dispatch returns.
func (e *Executor) dispatch(ctx context.Context, step *manifest.Step) (outcome, error) {
	if err := e.constraints.ValidatePaths(step); err != nil {
		return outcome{}, err
	}

	switch step.Kind {
	case manifest.KindBranch:
		return e.runBranch(ctx, step)
	case manifest.KindFolder:
		res, err := e.patch.EnsureFolders(step.BasePath, step.Folders)
		if err != nil {
			return outcome{}, err
		}
		if len(res.DirsCreated) == 0 {
			step.AppendLog("folders already exist")
		} else {
			step.Appendf("created %s", strings.Join(res.DirsCreated, ", "))
		}
		return outcome{result: res}, nil
	case manifest.KindCreateFile, manifest.KindCreateMultipleFiles:
		res, err := e.patch.CreateFiles(step.Files)
		return e.settle(ctx, step, res, err)
	case manifest.KindRefactorFile:
		res, err := e.patch.Refactor(step.Path, step.Find, step.Replace)
		return e.settle(ctx, step, res, err)
	case manifest.KindDeleteFile:
		res, err := e.patch.Delete(step.Path)
		return e.settle(ctx, step, res, err)
	case manifest.KindValidation:
		return outcome{}, e.runValidation(ctx, step)
	case manifest.KindPullRequest:
		return e.runPullRequest(ctx, step)
	default:
		return outcome{}, fmt.Errorf("unsupported step kind %q", step.Kind)
	}
}

// settle takes an applied file mutation through the constraints, the
// quality gate and the commit. Any failure rolls the mutation back.
func (e *Executor) settle(ctx context.Context, step *manifest.Step, res *patch.Result, err error) (outcome, error) {
	if err != nil {
		return outcome{}, err
	}
	out := outcome{result: res}
	step.AppendLog(describe(res))

	if err := e.constraints.ValidateResult(step, res); err != nil {
		e.rollback(ctx, step, res, false)
		return out, err
	}

	if e.gate != nil {
		e.progress.Section("Quality gate: " + step.ID)
		results := e.gate.Run(ctx, gate.Snapshot{
			WorkDir: e.workDir,
			StepID:  step.ID,
			Layer:   step.Layer,
			Content: res.Produced,
		})
		e.progress.QualityGate(results)
		step.AppendLog(results.FormatLog())
		if err := results.Err(); err != nil {
			e.rollback(ctx, step, res, false)
			return out, err
		}
	}

	if !e.config.Commits.Enabled {
		return out, nil
	}

	req := vcs.CommitRequest{
		StepID:      step.ID,
		Kind:        step.Kind,
		Description: step.Description,
		Feature:     step.Feature,
		Layer:       step.Layer,
		Files:       res.Touched(),
	}
	hash, err := e.vcs.Commit(ctx, req)
	switch {
	case errors.Is(err, vcs.ErrNothingToCommit):
		step.AppendLog("nothing to commit")
	case err != nil:
		e.rollback(ctx, step, res, true)
		return out, err
	default:
		step.Commit = hash
		e.committed = true
		step.Appendf("committed %s", shortHash(hash))
		e.progress.GitOperation("commit "+shortHash(hash), vcs.CommitMessage(req))
	}
	return out, nil
}

// rollback restores the tree to its state before res was applied. Rollback
// problems are logged on the step; the original failure stays the cause.
func (e *Executor) rollback(ctx context.Context, step *manifest.Step, res *patch.Result, unstage bool) {
	if err := e.patch.Rollback(res); err != nil {
		step.Appendf("rollback failed: %v", err)
		e.log.Errorf("step %s: rollback failed: %v", step.ID, err)
	} else {
		step.AppendLog("rolled back")
	}

	if !unstage {
		return
	}
	if err := e.vcs.Unstage(ctx, res.Touched()); err != nil {
		step.Appendf("unstage failed: %v", err)
		e.log.Warnf("step %s: unstage failed: %v", step.ID, err)
	}
}

func (e *Executor) runBranch(ctx context.Context, step *manifest.Step) (outcome, error) {
	if !e.config.Commits.Enabled {
		return skip("commits disabled")
	}
	name, err := e.branchName(step)
	if err != nil {
		return outcome{}, err
	}
	e.progress.GitOperation("checkout "+name, "")
	if err := e.vcs.EnsureBranch(ctx, name); err != nil {
		return outcome{}, err
	}
	step.Appendf("on branch %s", name)
	return outcome{}, nil
}

func (e *Executor) runValidation(ctx context.Context, step *manifest.Step) error {
	timeout := step.Timeout
	if timeout <= 0 {
		timeout = e.config.Timeouts.Validation
	}
	cmd := runner.Command{
		Name:    step.Command[0],
		Args:    step.Command[1:],
		Dir:     e.workDir,
		Timeout: timeout,
	}
	e.progress.Verbosef("Running %s", cmd)

	res, err := e.runner.Run(ctx, cmd)
	step.AppendLog(strings.Join(e.diagnostics(res.Combined()), "\n"))

	verr := &ValidationError{
		Command:      cmd.String(),
		ExitCode:     res.ExitCode,
		Expected:     step.ExpectedExitCode(),
		ExpectOutput: step.ExpectOutput,
	}
	switch {
	case err != nil:
		verr.Err = err
		return verr
	case res.ExitCode != verr.Expected:
		return verr
	case step.ExpectOutput != "" &&
		!strings.Contains(res.Stdout, step.ExpectOutput) &&
		!strings.Contains(res.Stderr, step.ExpectOutput):
		return verr
	}
	step.Appendf("validation passed: %s", cmd)
	return nil
}

func (e *Executor) runPullRequest(ctx context.Context, step *manifest.Step) (outcome, error) {
	if !e.config.Commits.Enabled {
		return skip("commits disabled")
	}

	target := step.TargetBranch
	if target == "" {
		target = e.manifest.MergeRequestTarget
	}
	mr, err := e.vcs.OpenMergeRequest(ctx, vcs.MergeRequestOptions{
		Source: step.SourceBranch,
		Target: target,
		Title:  step.Title,
		Body:   step.Body,
	})
	if err != nil {
		return outcome{}, err
	}

	e.mergeRequests = append(e.mergeRequests, mr)
	if mr.Pushed {
		e.pushed = true
	}
	if mr.Manual {
		step.AppendLog(mr.Instructions)
		e.progress.Warningf("merge request for %s must be opened manually", mr.Source)
	} else {
		step.Appendf("opened merge request %s", mr.URL)
		e.progress.Successf("Merge request: %s", mr.URL)
	}
	return outcome{}, nil
}

func (e *Executor) diagnostics(output string) []string {
	lines := gate.DiagnosticLines(output)
	n := e.config.QualityGate.DiagnosticLines
	if n <= 0 {
		n = gate.DefaultDiagnosticLines
	}
	if len(lines) > n {
		lines = append(lines[:n:n], fmt.Sprintf("... (%d more lines)", len(lines)-n))
	}
	return lines
}

func describe(res *patch.Result) string {
	var parts []string
	if len(res.FilesCreated) > 0 {
		parts = append(parts, "created "+strings.Join(res.FilesCreated, ", "))
	}
	for _, m := range res.FilesModified {
		if _, ok := res.Produced[m.Path]; ok {
			parts = append(parts, "modified "+m.Path)
		} else {
			parts = append(parts, "deleted "+m.Path)
		}
	}
	return fmt.Sprintf("%s (+%d/-%d)", strings.Join(parts, "; "), res.LinesAdded, res.LinesRemoved)
}
