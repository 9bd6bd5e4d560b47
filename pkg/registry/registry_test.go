package registry

import (
	"errors"
	"strings"
	"testing"

	"github.com/Sternrassler/endpoint-etl/pkg/ident"
)

func TestDeriveTableName(t *testing.T) {
	drop := map[string]struct{}{"api": {}, "schools": {}}

	tests := []struct {
		name string
		tmpl string
		key  string
		want string
	}{
		{
			name: "boilerplate and placeholders dropped",
			tmpl: "/api/v1/schools/ccd/directory/{year}/",
			key:  "ccd_directory",
			want: "urban_ccd_directory",
		},
		{
			name: "dashes become underscores",
			tmpl: "/api/v1/schools/crdc/chronic-absenteeism/{year}/race/sex/",
			key:  "crdc",
			want: "urban_crdc_chronic_absenteeism_race_sex",
		},
		{
			name: "keeps last five segments",
			tmpl: "/a/b/c/d/e/f/g/{year}",
			key:  "x",
			want: "urban_c_d_e_f_g",
		},
		{
			name: "all dropped falls back to key",
			tmpl: "/api/v2/{year}/",
			key:  "My-Key",
			want: "urban_my_key",
		},
		{
			name: "absolute template uses path only",
			tmpl: "https://example.org/api/v1/items/{year}?mode=R",
			key:  "items",
			want: "urban_items",
		},
		{
			name: "under soft limit kept whole",
			tmpl: "/enrollmentsbyrace/graduationrates/{year}/",
			key:  "k",
			want: "urban_enrollmentsbyrace_graduationrates",
		},
		{
			name: "very long segments cut to eight",
			tmpl: "/aaaaaaaaaaaaaaaaaaaa/bbbbbbbbbbbbbbbbbbbb/cccccccccccccccccccc/{year}",
			key:  "k",
			want: "urban_aaaaaaaa_bbbbbbbb_cccccccc",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := deriveTableName(tt.tmpl, tt.key, "urban", drop)
			if got != tt.want {
				t.Errorf("deriveTableName(%q) = %q, want %q", tt.tmpl, got, tt.want)
			}
			if _, err := ident.New(got); err != nil {
				t.Errorf("derived name is not a valid identifier: %v", err)
			}
		})
	}
}

func TestDeriveTableName_HardLimit(t *testing.T) {
	tmpl := "/" + strings.Repeat("abcdefghijk_", 1) + "/" + strings.Repeat("x", 12) + "/" +
		strings.Repeat("y", 12) + "/" + strings.Repeat("z", 12) + "/" + strings.Repeat("w", 12) + "/{year}"
	got := deriveTableName(tmpl, "k", "namespace_with_a_long_prefix", nil)
	if len(got) > hardNameLimit {
		t.Errorf("len(%q) = %d, want <= %d", got, len(got), hardNameLimit)
	}
}

func TestNew_CollisionsAreDeterministic(t *testing.T) {
	templates := map[string]string{
		"b_items": "/api/v1/items/{year}",
		"a_items": "/api/v2/items/{year}",
		"c_items": "/items/{year}/",
		"other":   "/other/{year}",
	}

	for i := 0; i < 5; i++ {
		r, err := New(templates, Options{Namespace: "urban"})
		if err != nil {
			t.Fatalf("New() error = %v", err)
		}

		want := map[string]ident.Ident{
			"a_items": "urban_items",
			"b_items": "urban_items_1",
			"c_items": "urban_items_2",
			"other":   "urban_other",
		}
		for key, table := range want {
			spec, err := r.Spec(key)
			if err != nil {
				t.Fatalf("Spec(%q) error = %v", key, err)
			}
			if spec.DestinationTable != table {
				t.Errorf("Spec(%q).DestinationTable = %q, want %q", key, spec.DestinationTable, table)
			}
		}
	}
}

func TestNew_ExpandedTables(t *testing.T) {
	tests := []struct {
		name      string
		templates map[string]string
		opts      Options
		want      map[string]ident.Ident
	}{
		{
			name:      "default suffix",
			templates: map[string]string{"x": "/items/{year}"},
			want:      map[string]ident.Ident{"x": "etl_items_expanded"},
		},
		{
			name:      "custom suffix",
			templates: map[string]string{"x": "/items/{year}"},
			opts:      Options{ExpandedSuffix: "flat"},
			want:      map[string]ident.Ident{"x": "etl_items_flat"},
		},
		{
			name: "expanded name taken by a raw table",
			templates: map[string]string{
				"c": "/items/{year}",
				"d": "/items/expanded/{year}",
			},
			want: map[string]ident.Ident{
				"c": "etl_items_expanded_1",
				"d": "etl_items_expanded_expanded",
			},
		},
		{
			name: "long names with a shared prefix",
			templates: map[string]string{
				"a": "/enrollment/characteristics/demographics/grade_levels/by_race/{year}",
				"b": "/enrollment/characteristics/demographics/grade_levels/by_race_sex/{year}",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := New(tt.templates, tt.opts)
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}

			// Raw and expanded tables form one set of distinct names.
			owner := make(map[ident.Ident]string)
			claim := func(name ident.Ident, who string) {
				if len(name) > ident.MaxLength {
					t.Errorf("%s: %s exceeds %d chars", who, name, ident.MaxLength)
				}
				if other, dup := owner[name]; dup {
					t.Errorf("%s and %s both use table %s", other, who, name)
				}
				owner[name] = who
			}
			for _, spec := range r.Specs() {
				claim(spec.DestinationTable, spec.Key+" raw")
				claim(spec.ExpandedTable, spec.Key+" expanded")
			}

			for key, table := range tt.want {
				spec, _ := r.Spec(key)
				if spec.ExpandedTable != table {
					t.Errorf("Spec(%q).ExpandedTable = %q, want %q", key, spec.ExpandedTable, table)
				}
			}
		})
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(nil, Options{}); err == nil {
		t.Error("expected error for empty endpoint set")
	}
	if _, err := New(map[string]string{"x": "/items/"}, Options{}); err == nil {
		t.Error("expected error for template without year placeholder")
	}
}

func TestNew_DefaultNamespace(t *testing.T) {
	r, err := New(map[string]string{"x": "/items/{year}"}, Options{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	spec, _ := r.Spec("x")
	if spec.DestinationTable != "etl_items" {
		t.Errorf("DestinationTable = %q, want etl_items", spec.DestinationTable)
	}
}

func TestSelect(t *testing.T) {
	r, err := New(map[string]string{
		"a": "/a/{year}",
		"b": "/b/{year}",
		"c": "/c/{year}",
	}, Options{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	all, err := r.Select(nil)
	if err != nil || len(all) != 3 {
		t.Fatalf("Select(nil) = %v, %v", all, err)
	}

	sub, err := r.Select([]string{"c", " a ", "c"})
	if err != nil {
		t.Fatalf("Select() error = %v", err)
	}
	if len(sub) != 2 || sub[0].Key != "a" || sub[1].Key != "c" {
		t.Errorf("Select() = %+v", sub)
	}

	_, err = r.Select([]string{"a", "nope", "zzz"})
	if !errors.Is(err, ErrUnknownEndpoint) {
		t.Fatalf("Select() error = %v, want ErrUnknownEndpoint", err)
	}
	if !strings.Contains(err.Error(), "nope") || !strings.Contains(err.Error(), "zzz") {
		t.Errorf("error %q should list every missing key", err)
	}
}

func TestURL(t *testing.T) {
	r, err := New(map[string]string{
		"rel": "/api/v1/items/{year}/",
		"abs": "https://other.example/x/{year}?limit=10",
	}, Options{BaseURL: "https://data.example/"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	tests := []struct {
		key  string
		want string
	}{
		{"rel", "https://data.example/api/v1/items/2020/"},
		{"abs", "https://other.example/x/2020?limit=10"},
	}
	for _, tt := range tests {
		got, err := r.URL(tt.key, 2020)
		if err != nil {
			t.Fatalf("URL(%q) error = %v", tt.key, err)
		}
		if got != tt.want {
			t.Errorf("URL(%q) = %s, want %s", tt.key, got, tt.want)
		}
	}

	if _, err := r.URL("missing", 2020); !errors.Is(err, ErrUnknownEndpoint) {
		t.Errorf("URL(missing) error = %v, want ErrUnknownEndpoint", err)
	}
}
