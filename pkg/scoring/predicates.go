package scoring

import (
	"fmt"
	"sort"
	"strings"

	"github.com/gobwas/glob"
)

// fileSelector picks the produced files a predicate inspects.
type fileSelector struct {
	globs []glob.Glob
}

func newFileSelector(patterns []string) (*fileSelector, error) {
	fs := &fileSelector{}
	for _, p := range patterns {
		g, err := glob.Compile(p, '/')
		if err != nil {
			return nil, fmt.Errorf("invalid doc glob '%s': %w", p, err)
		}
		fs.globs = append(fs.globs, g)
	}
	return fs, nil
}

// selected returns the matching paths in sorted order.
func (fs *fileSelector) selected(content map[string]string) []string {
	paths := make([]string, 0, len(content))
	for p := range content {
		if fs.matches(p) {
			paths = append(paths, p)
		}
	}
	sort.Strings(paths)
	return paths
}

func (fs *fileSelector) matches(path string) bool {
	if len(fs.globs) == 0 {
		return true
	}
	for _, g := range fs.globs {
		if g.Match(path) {
			return true
		}
	}
	return false
}

// RequireTags returns a predicate that holds when every produced file matched
// by globs mentions every tag. It holds trivially with no tags or no matching files.
func RequireTags(tags, globs []string) (Predicate, error) {
	sel, err := newFileSelector(globs)
	if err != nil {
		return nil, err
	}
	return func(in Input) bool {
		for _, p := range sel.selected(in.Content) {
			if !containsAll(in.Content[p], tags) {
				return false
			}
		}
		return true
	}, nil
}

// RequireAllTags returns a predicate that holds when at least one produced
// file is matched by globs and every matched file mentions every tag. It never
// holds with no tags.
func RequireAllTags(tags, globs []string) (Predicate, error) {
	sel, err := newFileSelector(globs)
	if err != nil {
		return nil, err
	}
	return func(in Input) bool {
		if len(tags) == 0 {
			return false
		}
		paths := sel.selected(in.Content)
		if len(paths) == 0 {
			return false
		}
		for _, p := range paths {
			if !containsAll(in.Content[p], tags) {
				return false
			}
		}
		return true
	}, nil
}

func containsAll(content string, tags []string) bool {
	for _, t := range tags {
		if !strings.Contains(content, t) {
			return false
		}
	}
	return true
}
