// Package patch applies file-level step changes to the working tree.
//
// Every operation returns a Result describing exactly what it did: files it
// created, files it changed or removed together with their previous content,
// and directories it had to create. Rollback uses that record to put the tree
// back the way it was, byte for byte. Operations that fail part way roll
// themselves back before returning.
package patch

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/entrhq/anvil/pkg/manifest"
	"github.com/entrhq/anvil/pkg/security/workspace"
)

const (
	defaultFileMode os.FileMode = 0o644
	defaultDirMode  os.FileMode = 0o755
)

// Modification records a file that existed before the step touched it.
type Modification struct {
	Path     string      `json:"path"`
	Previous *string     `json:"previous"`
	Mode     os.FileMode `json:"mode"`
}

// Result is the record of one applied operation.
type Result struct {
	FilesCreated  []string       `json:"files_created,omitempty"`
	FilesModified []Modification `json:"files_modified,omitempty"`
	DirsCreated   []string       `json:"dirs_created,omitempty"`

	// Produced maps each written path to its new content.
	Produced map[string]string `json:"-"`

	LinesAdded   int `json:"lines_added"`
	LinesRemoved int `json:"lines_removed"`
}

// Touched returns every file path the operation created, changed or removed.
func (r *Result) Touched() []string {
	if r == nil {
		return nil
	}
	paths := make([]string, 0, len(r.FilesCreated)+len(r.FilesModified))
	paths = append(paths, r.FilesCreated...)
	for _, m := range r.FilesModified {
		paths = append(paths, m.Path)
	}
	return paths
}

// Empty reports whether the operation changed nothing.
func (r *Result) Empty() bool {
	return r == nil || (len(r.FilesCreated) == 0 && len(r.FilesModified) == 0 && len(r.DirsCreated) == 0)
}

func (r *Result) produce(rel, content string) {
	if r.Produced == nil {
		r.Produced = make(map[string]string)
	}
	r.Produced[rel] = content
}

// Engine applies operations inside a guarded workspace.
type Engine struct {
	guard *workspace.Guard
}

// New creates an Engine bound to guard's workspace.
func New(guard *workspace.Guard) *Engine {
	return &Engine{guard: guard}
}

// Guard returns the workspace guard the engine resolves paths with.
func (e *Engine) Guard() *workspace.Guard {
	return e.guard
}

// EnsureFolders makes sure every folder exists under base. Existing folders
// are left alone.
func (e *Engine) EnsureFolders(base string, folders []string) (*Result, error) {
	res := &Result{}
	for _, folder := range folders {
		abs, rel, err := e.guard.ResolveDir(path.Join(filepath.ToSlash(base), filepath.ToSlash(folder)))
		if err != nil {
			e.rollbackQuietly(res)
			return nil, err
		}
		if info, statErr := os.Stat(abs); statErr == nil {
			if !info.IsDir() {
				e.rollbackQuietly(res)
				return nil, &ConflictError{Path: rel}
			}
			continue
		}
		if err := e.mkdirAll(res, abs); err != nil {
			e.rollbackQuietly(res)
			return nil, err
		}
	}
	return res, nil
}

// CreateFiles writes new files. No file is written when any target exists.
func (e *Engine) CreateFiles(files []manifest.FileSpec) (*Result, error) {
	type target struct {
		abs, rel, content string
	}
	targets := make([]target, 0, len(files))
	for _, f := range files {
		abs, rel, err := e.guard.Resolve(f.Path)
		if err != nil {
			return nil, err
		}
		if _, err := os.Lstat(abs); err == nil {
			return nil, &ConflictError{Path: rel}
		} else if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("stat %s: %w", rel, err)
		}
		targets = append(targets, target{abs: abs, rel: rel, content: f.Content})
	}

	res := &Result{}
	for _, t := range targets {
		if err := e.mkdirAll(res, filepath.Dir(t.abs)); err != nil {
			e.rollbackQuietly(res)
			return nil, err
		}
		if err := writeFile(t.abs, t.content, defaultFileMode); err != nil {
			e.rollbackQuietly(res)
			return nil, fmt.Errorf("create %s: %w", t.rel, err)
		}
		res.FilesCreated = append(res.FilesCreated, t.rel)
		res.produce(t.rel, t.content)
		res.LinesAdded += len(splitLines(t.content))
	}
	return res, nil
}

// Refactor replaces the single occurrence of find in the file at p with replace.
// The file is left untouched unless find occurs exactly once.
func (e *Engine) Refactor(p, find, replace string) (*Result, error) {
	abs, rel, err := e.guard.Resolve(p)
	if err != nil {
		return nil, err
	}
	if find == "" {
		return nil, &PatchMismatchError{Path: rel, Reason: "find block is empty"}
	}

	info, err := os.Stat(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &NotFoundError{Path: rel}
		}
		return nil, fmt.Errorf("stat %s: %w", rel, err)
	}
	if info.IsDir() {
		return nil, &NotFoundError{Path: rel}
	}

	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", rel, err)
	}
	original := string(data)

	if count := strings.Count(original, find); count != 1 {
		return nil, &PatchMismatchError{Path: rel, Occurrences: count}
	}

	updated := strings.Replace(original, find, replace, 1)
	if err := writeFile(abs, updated, info.Mode().Perm()); err != nil {
		// Put the original back in case the write got partway.
		_ = writeFile(abs, original, info.Mode().Perm())
		return nil, fmt.Errorf("write %s: %w", rel, err)
	}

	changes := CalculateLineChanges(find, replace)
	res := &Result{
		FilesModified: []Modification{{Path: rel, Previous: &original, Mode: info.Mode().Perm()}},
		LinesAdded:    changes.LinesAdded,
		LinesRemoved:  changes.LinesRemoved,
	}
	res.produce(rel, updated)
	return res, nil
}

// Delete removes the file at p.
func (e *Engine) Delete(p string) (*Result, error) {
	abs, rel, err := e.guard.Resolve(p)
	if err != nil {
		return nil, err
	}

	info, err := os.Lstat(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &NotFoundError{Path: rel}
		}
		return nil, fmt.Errorf("stat %s: %w", rel, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("delete %s: is a directory", rel)
	}

	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", rel, err)
	}
	previous := string(data)

	if err := os.Remove(abs); err != nil {
		return nil, fmt.Errorf("delete %s: %w", rel, err)
	}

	return &Result{
		FilesModified: []Modification{{Path: rel, Previous: &previous, Mode: info.Mode().Perm()}},
		LinesRemoved:  len(splitLines(previous)),
	}, nil
}

// Rollback reverts everything recorded in res. Previous content is restored
// with its original mode, created files are removed, and created directories
// are removed deepest first when they are empty again.
func (e *Engine) Rollback(res *Result) error {
	if res.Empty() {
		return nil
	}

	var errs []error
	for i := len(res.FilesModified) - 1; i >= 0; i-- {
		m := res.FilesModified[i]
		abs := filepath.Join(e.guard.WorkspaceDir(), filepath.FromSlash(m.Path))
		if m.Previous == nil {
			if err := os.Remove(abs); err != nil && !errors.Is(err, fs.ErrNotExist) {
				errs = append(errs, fmt.Errorf("remove %s: %w", m.Path, err))
			}
			continue
		}
		mode := m.Mode
		if mode == 0 {
			mode = defaultFileMode
		}
		if err := os.MkdirAll(filepath.Dir(abs), defaultDirMode); err != nil {
			errs = append(errs, fmt.Errorf("restore %s: %w", m.Path, err))
			continue
		}
		if err := writeFile(abs, *m.Previous, mode); err != nil {
			errs = append(errs, fmt.Errorf("restore %s: %w", m.Path, err))
		}
	}

	for i := len(res.FilesCreated) - 1; i >= 0; i-- {
		rel := res.FilesCreated[i]
		abs := filepath.Join(e.guard.WorkspaceDir(), filepath.FromSlash(rel))
		if err := os.Remove(abs); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, fmt.Errorf("remove %s: %w", rel, err))
		}
	}

	dirs := append([]string(nil), res.DirsCreated...)
	sort.Slice(dirs, func(i, j int) bool {
		return strings.Count(dirs[i], "/") > strings.Count(dirs[j], "/")
	})
	for _, rel := range dirs {
		abs := filepath.Join(e.guard.WorkspaceDir(), filepath.FromSlash(rel))
		if err := os.Remove(abs); err != nil && !errors.Is(err, fs.ErrNotExist) && !isNotEmpty(abs) {
			errs = append(errs, fmt.Errorf("remove directory %s: %w", rel, err))
		}
	}

	return errors.Join(errs...)
}

func (e *Engine) rollbackQuietly(res *Result) {
	_ = e.Rollback(res)
}

// mkdirAll creates dir and any missing parents, recording each directory it
// creates in res.
func (e *Engine) mkdirAll(res *Result, dir string) error {
	var missing []string
	for cur := dir; ; cur = filepath.Dir(cur) {
		if _, err := os.Stat(cur); err == nil {
			break
		}
		if cur == e.guard.WorkspaceDir() || filepath.Dir(cur) == cur {
			break
		}
		missing = append(missing, cur)
	}
	if len(missing) == 0 {
		return nil
	}

	if err := os.MkdirAll(dir, defaultDirMode); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	for i := len(missing) - 1; i >= 0; i-- {
		rel, err := filepath.Rel(e.guard.WorkspaceDir(), missing[i])
		if err != nil {
			return fmt.Errorf("create directory: %w", err)
		}
		res.DirsCreated = append(res.DirsCreated, filepath.ToSlash(rel))
	}
	return nil
}

// writeFile replaces the file at abs through a temporary sibling and a rename.
func writeFile(abs, content string, mode os.FileMode) error {
	tmp := abs + ".anvil-tmp"
	if err := os.WriteFile(tmp, []byte(content), mode); err != nil {
		return err
	}
	if err := os.Chmod(tmp, mode); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, abs); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

func isNotEmpty(dir string) bool {
	entries, err := os.ReadDir(dir)
	return err == nil && len(entries) > 0
}
