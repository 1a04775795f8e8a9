// Package executor runs a manifest of steps against a working tree.
//
// Each PENDING step is executed in manifest order, and every outcome is
// persisted to the manifest before the next step starts, so an interrupted
// run can be resumed by running the same manifest again. The first step that
// fails halts the run.
//
// Pipeline for a file step:
//
//	┌──────────────┐   ┌──────────────┐   ┌──────────────┐   ┌──────────────┐
//	│ Constraints  │──▶│ Patch engine │──▶│ Quality gate │──▶│    Commit    │
//	│ (paths)      │   │ (apply)      │   │ (checks)     │   │ (one/step)   │
//	└──────────────┘   └──────┬───────┘   └──────┬───────┘   └──────┬───────┘
//	                          │ fail             │ fail             │ fail
//	                          ▼                  ▼                  ▼
//	                   ┌──────────────────────────────────────────────────┐
//	                   │ Rollback: tree restored byte-for-byte, unstaged  │
//	                   └──────────────────────────────────────────────────┘
//
// Every executed step is then scored, appended to the score history, and
// reported on the progress stream as one line:
//
//	[s1] create_file SUCCESS score=+1 commit=3f2a9c1
//
// Example usage:
//
//	m, err := manifest.Load("plan.yaml")
//	if err != nil {
//	    report := executor.ParseFailureReport(logging.NewRunID(), err)
//	    ...
//	}
//
//	exec, _ := executor.New(m, executor.Options{
//	    ManifestPath: "plan.yaml",
//	    Config:       cfg,
//	})
//	report, err := exec.Run(ctx)
//	os.Exit(report.ExitCode)
//
// Failure categories:
//
// A halted run reports the category of the failing step, each with its own
// exit code: parse (2), quality_gate and validation (3), vcs (4), step (5),
// canceled (130), and anything unexpected as internal (1).
//
// Artifacts:
//
// When enabled, the artifact writer records each run in the output directory:
// - report.json: the final report
// - summary.md: human-readable markdown summary
// - scores.json: per-step scores and their mean
package executor
