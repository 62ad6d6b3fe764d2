package policy

import (
	"fmt"
	"strings"

	"github.com/go-python/gpython/ast"
)

// checkRestricted is the secondary allow-list pass modeled after a
// restricted compiler front end. It rejects access to underscore-prefixed
// names and attributes, which closes off the dunder escape hatches
// (obj.__class__, obj.__globals__, type.__subclasses__, ...) that the
// call-name checks cannot see.
//
// It runs last because it is the broadest check: anything it rejects that
// an earlier pass would also reject has already been reported with a more
// specific reason.
func checkRestricted(tree ast.Ast) string {
	return firstViolation(tree, func(node ast.Ast) string {
		switch n := node.(type) {
		case *ast.Attribute:
			if strings.HasPrefix(string(n.Attr), "_") {
				return restrictedReason("attribute", string(n.Attr))
			}
		case *ast.Name:
			if strings.HasPrefix(string(n.Id), "_") {
				return restrictedReason("name", string(n.Id))
			}
		}
		return ""
	})
}

func restrictedReason(kind, name string) string {
	return fmt.Sprintf(
		"Restricted compilation detected an unsafe pattern: %s %q is invalid because it starts with \"_\"",
		kind, name,
	)
}
