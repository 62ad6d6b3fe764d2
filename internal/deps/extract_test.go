package deps

import (
	"reflect"
	"testing"
)

func TestExtract(t *testing.T) {
	cases := []struct {
		name string
		code string
		want []string
	}{
		{
			name: "stdlib only",
			code: "import json\nimport math\nfrom collections import OrderedDict",
			want: nil,
		},
		{
			name: "third party",
			code: "import requests\nimport numpy as np",
			want: []string{"numpy", "requests"},
		},
		{
			name: "dotted import keeps top level",
			code: "import matplotlib.pyplot as plt",
			want: []string{"matplotlib"},
		},
		{
			name: "from import",
			code: "from pandas import DataFrame\nfrom os.path import join",
			want: []string{"pandas"},
		},
		{
			name: "duplicates collapse",
			code: "import requests\nfrom requests import Session\nimport requests.adapters",
			want: []string{"requests"},
		},
		{
			name: "imports inside functions count",
			code: "def f():\n    import yaml\n    return yaml",
			want: []string{"yaml"},
		},
		{
			name: "relative import skipped",
			code: "from . import sibling",
			want: nil,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Extract(tc.code)
			if err != nil {
				t.Fatalf("Extract: %v", err)
			}
			if !reflect.DeepEqual(got, tc.want) {
				t.Errorf("Extract = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestExtract_SyntaxError(t *testing.T) {
	if _, err := Extract("import ???"); err == nil {
		t.Fatal("want error for invalid source")
	}
}

func TestIsStdlib(t *testing.T) {
	for _, name := range []string{"os", "sys", "json", "itertools", "asyncio"} {
		if !IsStdlib(name) {
			t.Errorf("IsStdlib(%q) = false", name)
		}
	}
	for _, name := range []string{"requests", "numpy", "pandas"} {
		if IsStdlib(name) {
			t.Errorf("IsStdlib(%q) = true", name)
		}
	}
}
