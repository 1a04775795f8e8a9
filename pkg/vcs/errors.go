package vcs

import (
	"errors"
	"fmt"
	"strings"

	"github.com/entrhq/anvil/pkg/runner"
)

var (
	// ErrNothingToCommit is returned by Commit when the step's files carry no
	// staged change.
	ErrNothingToCommit = errors.New("nothing to commit")

	// ErrDirtyTree is wrapped when branch safety refuses to continue on a
	// working tree with uncommitted changes.
	ErrDirtyTree = errors.New("working tree has uncommitted changes")
)

// VcsError describes a failed git or hosting CLI operation.
type VcsError struct {
	Op       string
	Args     []string
	Output   string
	Err      error
	Attempts int
}

func (e *VcsError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s failed", e.Op)
	if e.Attempts > 1 {
		fmt.Fprintf(&b, " after %d attempts", e.Attempts)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	if out := strings.TrimSpace(e.Output); out != "" {
		fmt.Fprintf(&b, "\nOutput: %s", out)
	}
	return b.String()
}

// Unwrap returns the underlying error
func (e *VcsError) Unwrap() error {
	return e.Err
}

var transientMarkers = []string{
	"index.lock",
	"could not lock",
	"unable to lock",
	"cannot lock ref",
	"connection reset",
	"connection timed out",
	"operation timed out",
	"the remote end hung up",
	"early eof",
	"temporarily unavailable",
	"tls handshake timeout",
	"could not read from remote repository",
}

// IsTransient reports whether err is worth retrying: lock contention,
// flaky network conditions, or a subprocess timeout.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if runner.IsTimeout(err) {
		return true
	}
	var vcsErr *VcsError
	if !errors.As(err, &vcsErr) {
		return false
	}
	out := strings.ToLower(vcsErr.Output)
	for _, marker := range transientMarkers {
		if strings.Contains(out, marker) {
			return true
		}
	}
	return false
}
