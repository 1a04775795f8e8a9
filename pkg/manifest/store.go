package manifest

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrNotFound is returned by Load when the manifest file does not exist.
var ErrNotFound = errors.New("manifest not found")

// ParseError is returned when a manifest exists but is malformed.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error in %s: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Load reads and validates the manifest at path.
// Returns ErrNotFound if the file is absent, or *ParseError on malformed content.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	return Parse(path, data)
}

// Parse decodes and validates manifest content. source names the origin in errors.
func Parse(source string, data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, &ParseError{Path: source, Err: err}
	}
	normalize(&m)
	if err := validate(&m); err != nil {
		return nil, &ParseError{Path: source, Err: err}
	}
	return &m, nil
}

// Save atomically writes m to path.
// It writes to path+".tmp" first, syncs it, then renames it over path.
func Save(m *Manifest, path string) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	return atomicWrite(path, data)
}

// ResolveWorkingDir returns the absolute working directory for a manifest
// loaded from manifestPath. A relative working_dir is taken relative to the
// manifest's directory.
func ResolveWorkingDir(m *Manifest, manifestPath string) (string, error) {
	base := filepath.Dir(manifestPath)
	dir := m.WorkingDir
	switch {
	case dir == "":
		dir = base
	case !filepath.IsAbs(dir):
		dir = filepath.Join(base, dir)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolve working directory: %w", err)
	}
	return abs, nil
}

func normalize(m *Manifest) {
	if m.Version == 0 {
		m.Version = 1
	}
	for _, s := range m.Steps {
		if s == nil {
			continue
		}
		if s.Status == "" {
			s.Status = StatusPending
		}
		// create_file accepts path/content directly on the step.
		if s.Kind == KindCreateFile && len(s.Files) == 0 && s.Path != "" {
			s.Files = []FileSpec{{Path: s.Path, Content: s.Content}}
			s.Path, s.Content = "", ""
		}
		if s.Kind == KindFolder && s.BasePath == "" {
			s.BasePath = "."
		}
	}
}

//nolint:gocyclo // one case per step kind
func validate(m *Manifest) error {
	if len(m.Steps) == 0 {
		return fmt.Errorf("manifest has no steps")
	}

	seen := make(map[string]int, len(m.Steps))
	for i, s := range m.Steps {
		if s == nil {
			return fmt.Errorf("step %d is empty", i+1)
		}
		if strings.TrimSpace(s.ID) == "" {
			return fmt.Errorf("step %d has no id", i+1)
		}
		if prev, dup := seen[s.ID]; dup {
			return fmt.Errorf("duplicate step id %q (steps %d and %d)", s.ID, prev+1, i+1)
		}
		seen[s.ID] = i

		if !s.Kind.Valid() {
			return fmt.Errorf("step %s: unknown kind %q", s.ID, s.Kind)
		}
		if !s.Status.Valid() {
			return fmt.Errorf("step %s: unknown status %q", s.ID, s.Status)
		}
		if s.Score != nil && (*s.Score < -2 || *s.Score > 2) {
			return fmt.Errorf("step %s: score %d out of range [-2, 2]", s.ID, *s.Score)
		}
		if s.Corrects != "" {
			if _, ok := seen[s.Corrects]; !ok || s.Corrects == s.ID {
				return fmt.Errorf("step %s: corrects %q does not name an earlier step", s.ID, s.Corrects)
			}
		}

		switch s.Kind {
		case KindBranch:
			if s.Branch == "" && m.BranchTemplate == "" {
				return fmt.Errorf("step %s: branch name required (no branch_template set)", s.ID)
			}
		case KindFolder:
			if len(s.Folders) == 0 {
				return fmt.Errorf("step %s: folders required", s.ID)
			}
		case KindCreateFile:
			if len(s.Files) != 1 {
				return fmt.Errorf("step %s: create_file takes exactly one file, got %d", s.ID, len(s.Files))
			}
			if err := validateFiles(s); err != nil {
				return err
			}
		case KindCreateMultipleFiles:
			if len(s.Files) == 0 {
				return fmt.Errorf("step %s: files required", s.ID)
			}
			if err := validateFiles(s); err != nil {
				return err
			}
		case KindRefactorFile, KindDeleteFile:
			if s.Path == "" {
				return fmt.Errorf("step %s: path required", s.ID)
			}
		case KindValidation:
			if len(s.Command) == 0 || s.Command[0] == "" {
				return fmt.Errorf("step %s: command required", s.ID)
			}
			if s.Timeout < 0 {
				return fmt.Errorf("step %s: timeout cannot be negative", s.ID)
			}
		case KindPullRequest:
			if s.Title == "" {
				return fmt.Errorf("step %s: title required", s.ID)
			}
		}
	}
	return nil
}

func validateFiles(s *Step) error {
	paths := make(map[string]bool, len(s.Files))
	for _, f := range s.Files {
		if f.Path == "" {
			return fmt.Errorf("step %s: file path required", s.ID)
		}
		clean := filepath.Clean(f.Path)
		if paths[clean] {
			return fmt.Errorf("step %s: file %q listed twice", s.ID, f.Path)
		}
		paths[clean] = true
	}
	return nil
}

// atomicWrite writes data to path by first writing to path+".tmp",
// then calling os.Rename to replace the final target atomically.
func atomicWrite(path string, data []byte) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("open temp file %s: %w", tmp, err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("write temp file %s: %w", tmp, err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("sync temp file %s: %w", tmp, err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("close temp file %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp) // best-effort cleanup on rename failure
		return fmt.Errorf("rename %s -> %s: %w", tmp, path, err)
	}
	return nil
}
