package policy

import (
	"strings"
	"testing"
)

func TestCheck_SafeCode(t *testing.T) {
	cases := []struct {
		name string
		code string
	}{
		{"hello world", `print('Hello, World!')`},
		{"arithmetic", "x = 1 + 2\nprint(x)"},
		{"third party import", "import numpy\nprint(numpy.zeros(3))"},
		{"from import", "from collections import Counter\nprint(Counter('aa'))"},
		{"function def", "def add(a, b):\n    return a + b\nprint(add(1, 2))"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			v := Check(tc.code, nil)
			if !v.Safe {
				t.Fatalf("Check(%q) unsafe: %s", tc.code, v.Reason)
			}
			if v.Reason != SafeMessage {
				t.Errorf("reason = %q, want %q", v.Reason, SafeMessage)
			}
		})
	}
}

func TestCheck_SyntaxError(t *testing.T) {
	v := Check("def broken(:\n    pass", nil)
	if v.Safe {
		t.Fatal("syntactically invalid code judged safe")
	}
	if !strings.HasPrefix(v.Reason, "Syntax error:") {
		t.Errorf("reason = %q, want syntax error prefix", v.Reason)
	}
}

func TestCheck_DangerousBuiltins(t *testing.T) {
	cases := []struct {
		code string
		want string
	}{
		{`globals()`, "Use of dangerous built-in function: globals"},
		{`locals()`, "Use of dangerous built-in function: locals"},
		{`vars()`, "Use of dangerous built-in function: vars"},
		{`dir()`, "Use of dangerous built-in function: dir"},
		{`eval("1")`, "Use of dangerous built-in function: eval"},
		{`exec("pass")`, "Use of dangerous built-in function: exec"},
		{`compile("1", "<s>", "eval")`, "Use of dangerous built-in function: compile"},
	}
	for _, tc := range cases {
		v := Check(tc.code, nil)
		if v.Safe {
			t.Errorf("Check(%q) = safe, want unsafe", tc.code)
			continue
		}
		if v.Reason != tc.want {
			t.Errorf("Check(%q) reason = %q, want %q", tc.code, v.Reason, tc.want)
		}
	}
}

// The introspection set must hold even when the caller tries to ignore
// every name in it.
func TestCheck_DangerousBuiltinsNotIgnorable(t *testing.T) {
	ignore := []string{"globals", "locals", "vars", "dir", "eval", "exec", "compile"}
	v := Check(`globals()`, ignore)
	if v.Safe {
		t.Fatal("ignore list must not weaken the dangerous-builtin check")
	}
	if v.Reason != "Use of dangerous built-in function: globals" {
		t.Errorf("reason = %q", v.Reason)
	}
}

func TestCheck_UnsafeImports(t *testing.T) {
	cases := []struct {
		code string
		want string
	}{
		{"import os", "Unsafe module import: os"},
		{"import os.path", "Unsafe module import: os.path"},
		{"import subprocess", "Unsafe module import: subprocess"},
		{"from sys import argv", "Unsafe module import: sys"},
		{"from os.path import join", "Unsafe module import: os.path"},
		{"import builtins", "Unsafe module import: builtins"},
	}
	for _, tc := range cases {
		v := Check(tc.code, nil)
		if v.Safe {
			t.Errorf("Check(%q) = safe, want unsafe", tc.code)
			continue
		}
		if v.Reason != tc.want {
			t.Errorf("Check(%q) reason = %q, want %q", tc.code, v.Reason, tc.want)
		}
	}
}

func TestCheck_UnsafeCalls(t *testing.T) {
	v := Check(`open("/etc/passwd")`, nil)
	if v.Safe {
		t.Fatal("open() judged safe")
	}
	if v.Reason != "Unsafe function call: open" {
		t.Errorf("reason = %q", v.Reason)
	}

	// Attribute-style call is matched by the attribute name.
	v = Check("data = pathlib.Path('x')\ndata.open()", nil)
	if v.Safe {
		t.Fatal("attribute-style open() judged safe")
	}
	if v.Reason != "Unsafe function call: open" {
		t.Errorf("reason = %q", v.Reason)
	}
}

func TestCheck_IgnoreUnsafeFunctions(t *testing.T) {
	v := Check(`open("out.txt")`, []string{"open"})
	if !v.Safe {
		t.Fatalf("ignored open() still rejected: %s", v.Reason)
	}
}

// Ignoring __import__ on the call check must not let it through: the
// restricted pass rejects underscore names unconditionally.
func TestCheck_RestrictedBackstopsIgnoreList(t *testing.T) {
	v := Check(`__import__("json")`, []string{"__import__"})
	if v.Safe {
		t.Fatal("__import__ slipped past the restricted pass")
	}
	if !strings.Contains(v.Reason, "Restricted compilation") {
		t.Errorf("reason = %q, want restricted-compilation diagnostic", v.Reason)
	}
}

func TestCheck_RestrictedAttributes(t *testing.T) {
	cases := []string{
		`print((1).__class__)`,
		`x = object().__subclasses__`,
		"class A:\n    pass\nprint(A.__dict__)",
	}
	for _, code := range cases {
		v := Check(code, nil)
		if v.Safe {
			t.Errorf("Check(%q) = safe, want restricted rejection", code)
			continue
		}
		if !strings.Contains(v.Reason, "Restricted compilation") {
			t.Errorf("Check(%q) reason = %q", code, v.Reason)
		}
	}
}

func TestCheck_ShortCircuitOrder(t *testing.T) {
	// Code containing both a dangerous builtin and an unsafe import must be
	// reported as the builtin: the cheapest always-on check wins.
	v := Check("import os\neval('1')", nil)
	if v.Safe {
		t.Fatal("expected unsafe")
	}
	if v.Reason != "Use of dangerous built-in function: eval" {
		t.Errorf("reason = %q, want the dangerous-builtin reason first", v.Reason)
	}
}
