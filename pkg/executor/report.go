package executor

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/entrhq/anvil/pkg/manifest"
	"github.com/entrhq/anvil/pkg/scoring"
	"github.com/entrhq/anvil/pkg/vcs"
)

// Report statuses.
const (
	StatusSuccess = "SUCCESS"
	StatusFailed  = "FAILED"
)

// errorLogLines bounds how much of a failed step's log goes into the report.
const errorLogLines = 40

// StepScore is a scored step as it appears in reports and artifacts.
type StepScore struct {
	StepID string        `json:"step_id"`
	Kind   manifest.Kind `json:"kind"`
	Score  int           `json:"score"`
	Label  string        `json:"label"`
}

// Report is the single structured object emitted at the end of a run.
type Report struct {
	Status string `json:"status"`
	RunID  string `json:"run_id"`
	State  State  `json:"state"`

	// Failure fields
	FailedStepID string      `json:"failed_step_id,omitempty"`
	Category     Category    `json:"category,omitempty"`
	ErrorLog     string      `json:"error_log,omitempty"`
	ScoresSoFar  []StepScore `json:"scores_so_far,omitempty"`

	// Success fields
	CommitHashes []string `json:"commit_hashes,omitempty"`
	FinalScore   *float64 `json:"final_score,omitempty"`

	MergeRequests []*vcs.MergeRequest `json:"merge_requests,omitempty"`

	ExitCode  int           `json:"exit_code"`
	StartTime time.Time     `json:"start_time"`
	EndTime   time.Time     `json:"end_time"`
	Duration  time.Duration `json:"duration"`
}

// Succeeded reports whether the run completed every step.
func (r *Report) Succeeded() bool {
	return r.Status == StatusSuccess
}

// Err returns a non-nil error describing a failed run.
func (r *Report) Err() error {
	if r.Succeeded() {
		return nil
	}
	if r.FailedStepID == "" {
		return fmt.Errorf("run %s failed (%s)", r.State, r.Category)
	}
	return fmt.Errorf("run %s at step %s (%s)", r.State, r.FailedStepID, r.Category)
}

// WriteJSON writes the report as one JSON object followed by a newline.
func (r *Report) WriteJSON(w io.Writer) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	data = append(data, '\n')
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}

// successReport lists every commit in manifest order and the mean score.
func successReport(m *manifest.Manifest) *Report {
	r := &Report{
		Status:       StatusSuccess,
		State:        StateDone,
		CommitHashes: commitHashes(m),
		ExitCode:     ExitSuccess,
	}
	if mean, ok := scoring.Mean(m.Scores()); ok {
		r.FinalScore = &mean
	}
	return r
}

// failureReport names the failing step and carries the tail of its log.
func failureReport(m *manifest.Manifest, state State, step *manifest.Step, category Category, errLog string) *Report {
	r := &Report{
		Status:      StatusFailed,
		State:       state,
		Category:    category,
		ErrorLog:    tailLines(errLog, errorLogLines),
		ScoresSoFar: stepScores(m),
		ExitCode:    category.ExitCode(),
	}
	if step != nil {
		r.FailedStepID = step.ID
	}
	return r
}

// ParseFailureReport is the report for a manifest that could not be loaded.
// A missing manifest counts as a parse failure.
func ParseFailureReport(runID string, err error) *Report {
	now := time.Now()
	category, _ := Classify(err)
	switch {
	case errors.Is(err, manifest.ErrNotFound):
		category = CategoryParse
	case category != CategoryParse:
		category = CategoryInternal
	}
	return &Report{
		Status:    StatusFailed,
		RunID:     runID,
		State:     StateInit,
		Category:  category,
		ErrorLog:  err.Error(),
		ExitCode:  category.ExitCode(),
		StartTime: now,
		EndTime:   now,
	}
}

func commitHashes(m *manifest.Manifest) []string {
	var hashes []string
	for _, s := range m.Steps {
		if s.Commit != "" {
			hashes = append(hashes, s.Commit)
		}
	}
	return hashes
}

func stepScores(m *manifest.Manifest) []StepScore {
	var scores []StepScore
	for _, s := range m.Steps {
		if s.Score == nil {
			continue
		}
		scores = append(scores, StepScore{
			StepID: s.ID,
			Kind:   s.Kind,
			Score:  *s.Score,
			Label:  scoring.Score(*s.Score).Label(),
		})
	}
	return scores
}

func tailLines(text string, n int) string {
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	if len(lines) <= n {
		return text
	}
	return strings.Join(lines[len(lines)-n:], "\n")
}
