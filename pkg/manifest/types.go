// Package manifest defines the step manifest and its persistent store.
//
// A manifest is an ordered list of steps plus batch metadata. It is loaded
// fresh for every run, mutated one step at a time by the executor, and written
// back atomically after each step so that an interrupted run leaves a
// resumable artifact behind. The file doubles as an audit trail: a FAILED
// step is never edited afterwards, corrections are appended as new steps.
package manifest

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Kind identifies the type of a step.
type Kind string

const (
	KindBranch              Kind = "branch"
	KindFolder              Kind = "folder"
	KindCreateFile          Kind = "create_file"
	KindCreateMultipleFiles Kind = "create_multiple_files"
	KindRefactorFile        Kind = "refactor_file"
	KindDeleteFile          Kind = "delete_file"
	KindValidation          Kind = "validation"
	KindPullRequest         Kind = "pull_request"
)

// Kinds lists every step kind in declaration order.
var Kinds = []Kind{
	KindBranch,
	KindFolder,
	KindCreateFile,
	KindCreateMultipleFiles,
	KindRefactorFile,
	KindDeleteFile,
	KindValidation,
	KindPullRequest,
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// MutatesFiles reports whether steps of this kind change file content and
// therefore pass through the quality gate and get committed.
func (k Kind) MutatesFiles() bool {
	switch k {
	case KindCreateFile, KindCreateMultipleFiles, KindRefactorFile, KindDeleteFile:
		return true
	default:
		return false
	}
}

// Status is the lifecycle state of a step.
type Status string

const (
	StatusPending Status = "PENDING"
	StatusSuccess Status = "SUCCESS"
	StatusFailed  Status = "FAILED"
	StatusSkipped Status = "SKIPPED"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusSuccess, StatusFailed, StatusSkipped:
		return true
	default:
		return false
	}
}

// Terminal reports whether s can no longer change.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed || s == StatusSkipped
}

// ErrIllegalTransition is returned when a status change would leave a
// terminal state or return to PENDING.
var ErrIllegalTransition = errors.New("illegal status transition")

// FileSpec is a (path, full content) pair written by create steps.
type FileSpec struct {
	Path    string `yaml:"path" json:"path"`
	Content string `yaml:"content" json:"content"`
}

// Step is one atomic unit of change together with its execution state.
//
// Kind selects which payload fields are meaningful; Load rejects steps whose
// payload does not match their kind.
type Step struct {
	ID          string `yaml:"id" json:"id"`
	Kind        Kind   `yaml:"kind" json:"kind"`
	Status      Status `yaml:"status" json:"status"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	Feature     string `yaml:"feature,omitempty" json:"feature,omitempty"`
	Layer       string `yaml:"layer,omitempty" json:"layer,omitempty"`
	Corrects    string `yaml:"corrects,omitempty" json:"corrects,omitempty"`

	// branch
	Branch string `yaml:"branch,omitempty" json:"branch,omitempty"`

	// folder
	BasePath string   `yaml:"base_path,omitempty" json:"base_path,omitempty"`
	Folders  []string `yaml:"folders,omitempty" json:"folders,omitempty"`

	// create_file, create_multiple_files
	Files []FileSpec `yaml:"files,omitempty" json:"files,omitempty"`

	// refactor_file, delete_file, and the create_file shorthand
	Path    string `yaml:"path,omitempty" json:"path,omitempty"`
	Content string `yaml:"content,omitempty" json:"content,omitempty"`
	Find    string `yaml:"find,omitempty" json:"find,omitempty"`
	Replace string `yaml:"replace,omitempty" json:"replace,omitempty"`

	// validation
	Command        []string      `yaml:"command,omitempty" json:"command,omitempty"`
	ExpectExitCode *int          `yaml:"expect_exit_code,omitempty" json:"expect_exit_code,omitempty"`
	ExpectOutput   string        `yaml:"expect_output,omitempty" json:"expect_output,omitempty"`
	Timeout        time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`

	// pull_request
	SourceBranch string `yaml:"source_branch,omitempty" json:"source_branch,omitempty"`
	TargetBranch string `yaml:"target_branch,omitempty" json:"target_branch,omitempty"`
	Title        string `yaml:"title,omitempty" json:"title,omitempty"`
	Body         string `yaml:"body,omitempty" json:"body,omitempty"`

	// execution state
	ExecutionLog string `yaml:"execution_log,omitempty" json:"execution_log,omitempty"`
	Score        *int   `yaml:"score" json:"score"`
	Failure      string `yaml:"failure,omitempty" json:"failure,omitempty"`
	Commit       string `yaml:"commit,omitempty" json:"commit,omitempty"`
}

// Terminal reports whether the step has already been resolved.
func (s *Step) Terminal() bool {
	return s.Status.Terminal()
}

// SetStatus moves a PENDING step into a terminal state.
func (s *Step) SetStatus(next Status) error {
	if s.Status != StatusPending {
		return fmt.Errorf("%w: step %s is already %s", ErrIllegalTransition, s.ID, s.Status)
	}
	if !next.Terminal() {
		return fmt.Errorf("%w: step %s cannot move to %s", ErrIllegalTransition, s.ID, next)
	}
	s.Status = next
	return nil
}

// AppendLog appends text to the step's execution log.
func (s *Step) AppendLog(text string) {
	text = strings.TrimRight(text, "\n")
	if text == "" {
		return
	}
	if s.ExecutionLog != "" {
		s.ExecutionLog += "\n"
	}
	s.ExecutionLog += text
}

// Appendf appends a formatted line to the step's execution log.
func (s *Step) Appendf(format string, args ...interface{}) {
	s.AppendLog(fmt.Sprintf(format, args...))
}

// SetScore records the step's score.
func (s *Step) SetScore(score int) {
	s.Score = &score
}

// Paths returns the workspace paths the step declares it will touch.
func (s *Step) Paths() []string {
	switch s.Kind {
	case KindCreateFile, KindCreateMultipleFiles:
		paths := make([]string, 0, len(s.Files))
		for _, f := range s.Files {
			paths = append(paths, f.Path)
		}
		return paths
	case KindRefactorFile, KindDeleteFile:
		return []string{s.Path}
	default:
		return nil
	}
}

// ExpectedExitCode returns the exit code a validation step treats as success.
func (s *Step) ExpectedExitCode() int {
	if s.ExpectExitCode == nil {
		return 0
	}
	return *s.ExpectExitCode
}

// Manifest is the ordered, persisted description of steps to execute.
type Manifest struct {
	Version            int     `yaml:"version" json:"version"`
	Name               string  `yaml:"name,omitempty" json:"name,omitempty"`
	WorkingDir         string  `yaml:"working_dir,omitempty" json:"working_dir,omitempty"`
	BranchTemplate     string  `yaml:"branch_template,omitempty" json:"branch_template,omitempty"`
	MergeRequestTarget string  `yaml:"merge_request_target,omitempty" json:"merge_request_target,omitempty"`
	Steps              []*Step `yaml:"steps" json:"steps"`
}

// Step returns the step with the given id, or nil.
func (m *Manifest) Step(id string) *Step {
	for _, s := range m.Steps {
		if s.ID == id {
			return s
		}
	}
	return nil
}

// Index returns the position of the step with the given id, or -1.
func (m *Manifest) Index(id string) int {
	for i, s := range m.Steps {
		if s.ID == id {
			return i
		}
	}
	return -1
}

// Pending returns the steps that have not run yet, in order.
func (m *Manifest) Pending() []*Step {
	var pending []*Step
	for _, s := range m.Steps {
		if s.Status == StatusPending {
			pending = append(pending, s)
		}
	}
	return pending
}

// Scores returns the recorded scores of all scored steps, in order.
func (m *Manifest) Scores() []int {
	var scores []int
	for _, s := range m.Steps {
		if s.Score != nil {
			scores = append(scores, *s.Score)
		}
	}
	return scores
}

// IsResumable reports whether running the manifest again can make progress:
// at least one step is PENDING and every FAILED step has a later step that
// declares it corrects it.
func IsResumable(m *Manifest) bool {
	hasPending := false
	for i, s := range m.Steps {
		switch s.Status {
		case StatusPending:
			hasPending = true
		case StatusFailed:
			if !correctedAfter(m.Steps[i+1:], s.ID) {
				return false
			}
		}
	}
	return hasPending
}

func correctedAfter(later []*Step, id string) bool {
	for _, s := range later {
		if s.Corrects == id {
			return true
		}
	}
	return false
}
