package scoring

import (
	"fmt"
	"go/parser"
	"go/token"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/gobwas/glob"
)

// Layer declares which files belong to an architectural layer and which
// imports that layer must not use.
type Layer struct {
	Name             string   `yaml:"name" json:"name" mapstructure:"name"`
	Paths            []string `yaml:"paths" json:"paths" mapstructure:"paths"`
	ForbiddenImports []string `yaml:"forbidden_imports" json:"forbidden_imports" mapstructure:"forbidden_imports"`
}

// Violation is a forbidden import found in produced content.
type Violation struct {
	Layer  string `json:"layer"`
	Path   string `json:"path"`
	Import string `json:"import"`
}

func (v Violation) String() string {
	return fmt.Sprintf("%s: layer %s must not import %q", v.Path, v.Layer, v.Import)
}

type compiledLayer struct {
	name      string
	paths     []glob.Glob
	forbidden []glob.Glob
}

// LayerRules checks produced content against layer import restrictions.
type LayerRules struct {
	layers []compiledLayer
}

// NewLayerRules compiles layer definitions.
func NewLayerRules(layers []Layer) (*LayerRules, error) {
	rules := &LayerRules{}
	for _, l := range layers {
		if l.Name == "" {
			return nil, fmt.Errorf("layer name cannot be empty")
		}
		cl := compiledLayer{name: l.Name}
		for _, p := range l.Paths {
			g, err := glob.Compile(p, '/')
			if err != nil {
				return nil, fmt.Errorf("layer %s: invalid path pattern '%s': %w", l.Name, p, err)
			}
			cl.paths = append(cl.paths, g)
		}
		for _, p := range l.ForbiddenImports {
			g, err := glob.Compile(p, '/')
			if err != nil {
				return nil, fmt.Errorf("layer %s: invalid import pattern '%s': %w", l.Name, p, err)
			}
			cl.forbidden = append(cl.forbidden, g)
		}
		rules.layers = append(rules.layers, cl)
	}
	return rules, nil
}

// Empty reports whether no layers are configured.
func (r *LayerRules) Empty() bool {
	return r == nil || len(r.layers) == 0
}

// LayerFor returns the first layer whose path patterns match p, or "".
func (r *LayerRules) LayerFor(p string) string {
	if r == nil {
		return ""
	}
	for _, l := range r.layers {
		for _, g := range l.paths {
			if g.Match(p) {
				return l.name
			}
		}
	}
	return ""
}

// Check returns every forbidden import in content, ordered by path. Files
// that match no layer pattern fall back to declared, the step's own layer.
func (r *LayerRules) Check(declared string, content map[string]string) []Violation {
	if r.Empty() || len(content) == 0 {
		return nil
	}

	paths := make([]string, 0, len(content))
	for p := range content {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	var violations []Violation
	for _, p := range paths {
		layerName := r.LayerFor(p)
		if layerName == "" {
			layerName = declared
		}
		layer := r.layer(layerName)
		if layer == nil || len(layer.forbidden) == 0 {
			continue
		}
		for _, imp := range ExtractImports(p, content[p]) {
			for _, g := range layer.forbidden {
				if g.Match(imp) {
					violations = append(violations, Violation{Layer: layer.name, Path: p, Import: imp})
					break
				}
			}
		}
	}
	return violations
}

func (r *LayerRules) layer(name string) *compiledLayer {
	if name == "" {
		return nil
	}
	for i := range r.layers {
		if r.layers[i].name == name {
			return &r.layers[i]
		}
	}
	return nil
}

var (
	jsImportPattern  = regexp.MustCompile(`(?m)(?:^|\s)(?:import|export)\s+(?:[^'"]*?\s+from\s+)?['"]([^'"]+)['"]`)
	jsRequirePattern = regexp.MustCompile(`(?:require|import)\s*\(\s*['"]([^'"]+)['"]\s*\)`)
	pyImportPattern  = regexp.MustCompile(`(?m)^\s*import\s+([\w.]+(?:\s*,\s*[\w.]+)*)`)
	pyFromPattern    = regexp.MustCompile(`(?m)^\s*from\s+([\w.]+)\s+import\b`)
	goImportPattern  = regexp.MustCompile(`"([^"\s]+)"`)
)

// ExtractImports lists the import paths referenced by a source file, in order
// of appearance. Unknown file types have no imports.
func ExtractImports(p, content string) []string {
	switch strings.ToLower(path.Ext(p)) {
	case ".go":
		return goImports(content)
	case ".js", ".jsx", ".mjs", ".cjs", ".ts", ".tsx":
		var out []string
		for _, m := range jsImportPattern.FindAllStringSubmatch(content, -1) {
			out = append(out, m[1])
		}
		for _, m := range jsRequirePattern.FindAllStringSubmatch(content, -1) {
			out = append(out, m[1])
		}
		return dedupe(out)
	case ".py":
		var out []string
		for _, m := range pyFromPattern.FindAllStringSubmatch(content, -1) {
			out = append(out, m[1])
		}
		for _, m := range pyImportPattern.FindAllStringSubmatch(content, -1) {
			for _, name := range strings.Split(m[1], ",") {
				out = append(out, strings.TrimSpace(name))
			}
		}
		return dedupe(out)
	default:
		return nil
	}
}

func goImports(content string) []string {
	f, err := parser.ParseFile(token.NewFileSet(), "", content, parser.ImportsOnly)
	if err == nil {
		out := make([]string, 0, len(f.Imports))
		for _, spec := range f.Imports {
			if v, err := strconv.Unquote(spec.Path.Value); err == nil {
				out = append(out, v)
			}
		}
		return out
	}

	// Unparseable source: scan the import declarations textually.
	var out []string
	for _, decl := range goImportDecls(content) {
		for _, m := range goImportPattern.FindAllStringSubmatch(decl, -1) {
			out = append(out, m[1])
		}
	}
	return dedupe(out)
}

func goImportDecls(content string) []string {
	var decls []string
	lines := strings.Split(content, "\n")
	for i := 0; i < len(lines); i++ {
		line := strings.TrimSpace(lines[i])
		if !strings.HasPrefix(line, "import") {
			continue
		}
		rest := strings.TrimSpace(strings.TrimPrefix(line, "import"))
		if !strings.HasPrefix(rest, "(") {
			decls = append(decls, rest)
			continue
		}
		var block []string
		for i++; i < len(lines); i++ {
			l := strings.TrimSpace(lines[i])
			if strings.HasPrefix(l, ")") {
				break
			}
			block = append(block, l)
		}
		decls = append(decls, strings.Join(block, "\n"))
	}
	return decls
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
