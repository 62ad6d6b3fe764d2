// Package deps extracts third-party dependencies from Python source and
// installs them on the execution host under a whitelist and cache.
package deps

import (
	"fmt"
	"sort"
	"strings"

	"github.com/go-python/gpython/ast"
	"github.com/go-python/gpython/parser"
	"github.com/go-python/gpython/py"
)

// Extract parses code and returns the top-level names of its imports that
// are not part of the Python standard library, deduplicated and sorted.
// Relative imports (from . import x) have no top-level name and are skipped.
func Extract(code string) ([]string, error) {
	tree, err := parser.ParseString(code, py.ExecMode)
	if err != nil {
		return nil, fmt.Errorf("parsing code: %w", err)
	}

	seen := make(map[string]bool)
	ast.Walk(tree, func(node ast.Ast) bool {
		switch n := node.(type) {
		case *ast.Import:
			for _, alias := range n.Names {
				seen[topLevel(string(alias.Name))] = true
			}
		case *ast.ImportFrom:
			if n.Module != "" {
				seen[topLevel(string(n.Module))] = true
			}
		}
		return true
	})

	var names []string
	for name := range seen {
		if name == "" || IsStdlib(name) {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// topLevel returns the first segment of a dotted module path.
func topLevel(module string) string {
	if i := strings.IndexByte(module, '.'); i >= 0 {
		return module[:i]
	}
	return module
}
