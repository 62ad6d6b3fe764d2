// Package policy implements the static safety gate that vetoes dangerous
// Python code before it reaches the execution host.
//
// The gate is a heuristic, not a security proof: it rejects the obvious
// attack surface (dynamic execution, scope introspection, OS access, raw
// file I/O) so that the isolation substrate is the last line of defense,
// not the first.
package policy

import (
	"fmt"

	"github.com/go-python/gpython/ast"
	"github.com/go-python/gpython/parser"
	"github.com/go-python/gpython/py"
)

// SafeMessage is the verdict reason when no check matched.
const SafeMessage = "The code is safe to execute."

// Verdict is the result of a safety check.
type Verdict struct {
	Safe   bool
	Reason string
}

// dangerousBuiltins are introspection and dynamic-execution primitives that
// are always forbidden. The caller ignore-list does NOT apply to this set.
var dangerousBuiltins = map[string]bool{
	"globals": true,
	"locals":  true,
	"vars":    true,
	"dir":     true,
	"eval":    true,
	"exec":    true,
	"compile": true,
}

// unsafeModules are modules granting process or interpreter-level access.
// Matched against the top-level segment of every import.
var unsafeModules = map[string]bool{
	"os":         true,
	"sys":        true,
	"subprocess": true,
	"builtins":   true,
}

// unsafeFunctions are call targets rejected by the configurable check.
// Callers may ignore individual names (e.g. "compile" for SQLAlchemy users).
var unsafeFunctions = map[string]bool{
	"exec":       true,
	"eval":       true,
	"compile":    true,
	"open":       true,
	"input":      true,
	"__import__": true,
	"getattr":    true,
	"setattr":    true,
	"delattr":    true,
	"hasattr":    true,
}

// Check runs the full safety pipeline against the given Python source.
// Checks run cheapest-first and short-circuit on the first violation:
//
//  1. parse (syntax errors are unsafe)
//  2. dangerous introspection builtins, never ignorable
//  3. OS-access module imports
//  4. unsafe function calls, minus ignoreUnsafe
//  5. restricted-compilation pass (underscore attribute access etc.)
//
// All checks share a single parse of the source.
func Check(code string, ignoreUnsafe []string) Verdict {
	tree, err := parser.ParseString(code, py.ExecMode)
	if err != nil {
		return Verdict{Safe: false, Reason: fmt.Sprintf("Syntax error: %v", err)}
	}

	if reason := checkDangerousBuiltins(tree); reason != "" {
		return Verdict{Safe: false, Reason: reason}
	}
	if reason := checkUnsafeImports(tree); reason != "" {
		return Verdict{Safe: false, Reason: reason}
	}
	if reason := checkUnsafeCalls(tree, ignoreUnsafe); reason != "" {
		return Verdict{Safe: false, Reason: reason}
	}
	if reason := checkRestricted(tree); reason != "" {
		return Verdict{Safe: false, Reason: reason}
	}

	return Verdict{Safe: true, Reason: SafeMessage}
}

// checkDangerousBuiltins rejects direct calls to scope-introspection and
// dynamic-execution builtins. This set is enforced unconditionally.
func checkDangerousBuiltins(tree ast.Ast) string {
	return firstViolation(tree, func(node ast.Ast) string {
		call, ok := node.(*ast.Call)
		if !ok {
			return ""
		}
		if name, ok := call.Func.(*ast.Name); ok && dangerousBuiltins[string(name.Id)] {
			return fmt.Sprintf("Use of dangerous built-in function: %s", name.Id)
		}
		return ""
	})
}

// checkUnsafeImports rejects imports whose top-level module grants
// OS or interpreter access. Both "import x.y" and "from x import y" forms
// are checked.
func checkUnsafeImports(tree ast.Ast) string {
	return firstViolation(tree, func(node ast.Ast) string {
		switch n := node.(type) {
		case *ast.Import:
			for _, alias := range n.Names {
				if unsafeModules[topLevelName(string(alias.Name))] {
					return fmt.Sprintf("Unsafe module import: %s", alias.Name)
				}
			}
		case *ast.ImportFrom:
			if n.Module != "" && unsafeModules[topLevelName(string(n.Module))] {
				return fmt.Sprintf("Unsafe module import: %s", n.Module)
			}
		}
		return ""
	})
}

// checkUnsafeCalls rejects calls to the configurable unsafe-function set,
// matching both direct names (open(...)) and attribute access (x.open(...)).
func checkUnsafeCalls(tree ast.Ast, ignore []string) string {
	ignored := make(map[string]bool, len(ignore))
	for _, name := range ignore {
		ignored[name] = true
	}

	return firstViolation(tree, func(node ast.Ast) string {
		call, ok := node.(*ast.Call)
		if !ok {
			return ""
		}
		var callee string
		switch fn := call.Func.(type) {
		case *ast.Name:
			callee = string(fn.Id)
		case *ast.Attribute:
			callee = string(fn.Attr)
		default:
			return ""
		}
		if unsafeFunctions[callee] && !ignored[callee] {
			return fmt.Sprintf("Unsafe function call: %s", callee)
		}
		return ""
	})
}

// firstViolation walks the tree and returns the first non-empty reason
// produced by check, in source order.
func firstViolation(tree ast.Ast, check func(ast.Ast) string) string {
	var reason string
	ast.Walk(tree, func(node ast.Ast) bool {
		if reason != "" {
			return false
		}
		reason = check(node)
		return reason == ""
	})
	return reason
}

// topLevelName returns the first segment of a dotted module path.
func topLevelName(module string) string {
	for i := 0; i < len(module); i++ {
		if module[i] == '.' {
			return module[:i]
		}
	}
	return module
}
