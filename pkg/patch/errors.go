package patch

import "fmt"

// ConflictError is returned when a create step targets a path that already exists.
type ConflictError struct {
	Path string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict: %s already exists", e.Path)
}

// PatchMismatchError is returned when a find block is not present exactly once.
type PatchMismatchError struct {
	Path        string
	Occurrences int
	Reason      string
}

func (e *PatchMismatchError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("patch mismatch in %s: %s", e.Path, e.Reason)
	}
	if e.Occurrences == 0 {
		return fmt.Sprintf("patch mismatch in %s: find block not found", e.Path)
	}
	return fmt.Sprintf("patch mismatch in %s: find block appears %d times, must be unique", e.Path, e.Occurrences)
}

// NotFoundError is returned when a step targets a file that does not exist.
type NotFoundError struct {
	Path string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("not found: %s", e.Path)
}
