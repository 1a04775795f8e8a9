// Package workspace enforces working-tree boundaries for step file operations.
//
// Every path a step names is relative to the manifest's working directory.
// The guard rejects paths that escape it (through "..", absolute paths or
// symlinks) and paths that fall under protected locations such as the
// repository metadata or the manifest file itself.
package workspace

import (
	"fmt"
	"path/filepath"
	"strings"
)

// PathError reports a path a step is not allowed to touch.
type PathError struct {
	Path   string
	Reason string
}

func (e *PathError) Error() string {
	return fmt.Sprintf("path %q rejected: %s", e.Path, e.Reason)
}

// Guard enforces workspace boundary restrictions on file paths.
type Guard struct {
	workspaceDir string   // Absolute, symlink-evaluated workspace root
	protected    []string // Slash-separated paths relative to the root
}

// NewGuard creates a new workspace guard for the given directory.
// The directory path is converted to an absolute path, cleaned, and symlinks are evaluated.
// The .git directory is always protected.
func NewGuard(workspaceDir string, protected ...string) (*Guard, error) {
	if workspaceDir == "" {
		return nil, fmt.Errorf("workspace directory cannot be empty")
	}

	absPath, err := filepath.Abs(workspaceDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve workspace directory: %w", err)
	}

	evalPath, err := filepath.EvalSymlinks(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate workspace directory symlinks: %w", err)
	}

	g := &Guard{workspaceDir: evalPath}
	g.Protect(".git")
	for _, p := range protected {
		g.Protect(p)
	}
	return g, nil
}

// Protect marks a path (file or directory) as off-limits to steps.
// Absolute paths outside the workspace are ignored.
func (g *Guard) Protect(path string) {
	if path == "" {
		return
	}
	rel := path
	if filepath.IsAbs(path) {
		r, err := g.MakeRelative(path)
		if err != nil {
			return
		}
		rel = r
	}
	rel = filepath.ToSlash(filepath.Clean(rel))
	if rel == "." {
		return
	}
	for _, existing := range g.protected {
		if existing == rel {
			return
		}
	}
	g.protected = append(g.protected, rel)
}

// Resolve validates a step path and returns its absolute location together
// with its cleaned, slash-separated form relative to the workspace.
func (g *Guard) Resolve(path string) (abs string, rel string, err error) {
	if strings.TrimSpace(path) == "" {
		return "", "", &PathError{Path: path, Reason: "path cannot be empty"}
	}
	if filepath.IsAbs(path) {
		return "", "", &PathError{Path: path, Reason: "absolute paths are not allowed"}
	}

	abs = filepath.Join(g.workspaceDir, filepath.Clean(path))
	if !g.IsWithinWorkspace(abs) {
		return "", "", &PathError{Path: path, Reason: "outside workspace boundaries"}
	}

	rel, err = g.MakeRelative(abs)
	if err != nil {
		return "", "", &PathError{Path: path, Reason: err.Error()}
	}
	rel = filepath.ToSlash(rel)
	if rel == "." {
		return "", "", &PathError{Path: path, Reason: "path resolves to the workspace root"}
	}
	if p := g.protectedBy(rel); p != "" {
		return "", "", &PathError{Path: path, Reason: fmt.Sprintf("protected path %q", p)}
	}

	return abs, rel, nil
}

// ResolveDir is Resolve for directories, where the workspace root itself is allowed.
func (g *Guard) ResolveDir(path string) (abs string, rel string, err error) {
	if filepath.Clean(path) == "." {
		return g.workspaceDir, ".", nil
	}
	return g.Resolve(path)
}

func (g *Guard) protectedBy(rel string) string {
	for _, p := range g.protected {
		if rel == p || strings.HasPrefix(rel, p+"/") {
			return p
		}
	}
	return ""
}

// IsWithinWorkspace checks if an absolute path is the workspace itself or a
// child of it, after resolving any symlinks along the existing part of the path.
func (g *Guard) IsWithinWorkspace(absPath string) bool {
	evalPath := g.resolveSymlinks(absPath)
	return evalPath == g.workspaceDir ||
		strings.HasPrefix(evalPath+string(filepath.Separator), g.workspaceDir+string(filepath.Separator))
}

// resolveSymlinks resolves symlinks in a path, handling non-existent paths
// by recursively resolving parent directories until an existing one is found.
func (g *Guard) resolveSymlinks(path string) string {
	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		return resolved
	}

	var components []string
	currentPath := path
	for {
		if resolved, err := filepath.EvalSymlinks(currentPath); err == nil {
			result := resolved
			for i := len(components) - 1; i >= 0; i-- {
				result = filepath.Join(result, components[i])
			}
			return result
		}

		dir := filepath.Dir(currentPath)
		if dir == currentPath || dir == "." || dir == "/" {
			return path
		}

		components = append(components, filepath.Base(currentPath))
		currentPath = dir
	}
}

// WorkspaceDir returns the absolute path of the workspace directory.
func (g *Guard) WorkspaceDir() string {
	return g.workspaceDir
}

// MakeRelative converts an absolute path to a path relative to the workspace.
// Returns an error if the path is not within the workspace.
func (g *Guard) MakeRelative(absPath string) (string, error) {
	if !g.IsWithinWorkspace(absPath) {
		return "", fmt.Errorf("path '%s' is not within workspace", absPath)
	}

	relPath, err := filepath.Rel(g.workspaceDir, g.resolveSymlinks(absPath))
	if err != nil {
		return "", fmt.Errorf("failed to make path relative: %w", err)
	}

	return relPath, nil
}
