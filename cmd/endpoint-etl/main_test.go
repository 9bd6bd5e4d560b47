package main

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Sternrassler/endpoint-etl/internal/config"
	"github.com/spf13/pflag"
)

const testConfig = `
source:
  base_url: https://api.example.org
  endpoints:
    items: /api/v1/items/{year}/
    schools: /api/v1/schools/directory/{year}/
pagination:
  page_delay: 300ms
ingest:
  batch_size: 1000
  max_concurrency: 10
`

func writeTestConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "etl.yaml")
	if err := os.WriteFile(path, []byte(testConfig), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestRunFlags_Apply(t *testing.T) {
	tests := []struct {
		name  string
		args  []string
		check func(t *testing.T, cfg *config.Config)
	}{
		{
			name: "unset flags keep config values",
			args: []string{"--begin-year", "2020", "--end-year", "2020"},
			check: func(t *testing.T, cfg *config.Config) {
				if cfg.Ingest.BatchSize != 1000 || cfg.Ingest.MaxConcurrency != 10 {
					t.Errorf("Ingest = %+v, want config values", cfg.Ingest)
				}
				if cfg.Pagination.PageDelay != 300*time.Millisecond {
					t.Errorf("PageDelay = %s, want 300ms", cfg.Pagination.PageDelay)
				}
			},
		},
		{
			name: "explicit flags win",
			args: []string{"--batch-size", "50", "--max-concurrency", "2", "--max-pages", "3", "--expanded-suffix", "flat"},
			check: func(t *testing.T, cfg *config.Config) {
				if cfg.Ingest.BatchSize != 50 {
					t.Errorf("BatchSize = %d, want 50", cfg.Ingest.BatchSize)
				}
				if cfg.Ingest.MaxConcurrency != 2 {
					t.Errorf("MaxConcurrency = %d, want 2", cfg.Ingest.MaxConcurrency)
				}
				if cfg.Pagination.MaxPages != 3 {
					t.Errorf("MaxPages = %d, want 3", cfg.Pagination.MaxPages)
				}
				if cfg.Ingest.ExpandedSuffix != "flat" {
					t.Errorf("ExpandedSuffix = %q, want flat", cfg.Ingest.ExpandedSuffix)
				}
			},
		},
		{
			name: "explicit zero delay",
			args: []string{"--page-delay-ms", "0"},
			check: func(t *testing.T, cfg *config.Config) {
				if cfg.Pagination.PageDelay != 0 {
					t.Errorf("PageDelay = %s, want 0", cfg.Pagination.PageDelay)
				}
			},
		},
		{
			name: "boolean switches",
			args: []string{"--drop-existing", "--skip-expand"},
			check: func(t *testing.T, cfg *config.Config) {
				if !cfg.Ingest.DropExisting || !cfg.Ingest.SkipExpansion {
					t.Errorf("Ingest = %+v, want drop and skip set", cfg.Ingest)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := config.Load(writeTestConfig(t))
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}

			f := &runFlags{}
			fs := pflag.NewFlagSet("run", pflag.ContinueOnError)
			f.register(fs)
			if err := fs.Parse(tt.args); err != nil {
				t.Fatalf("Parse() error = %v", err)
			}
			f.apply(fs, cfg)
			tt.check(t, cfg)
		})
	}
}

func TestRunFlags_Endpoints(t *testing.T) {
	f := &runFlags{}
	fs := pflag.NewFlagSet("run", pflag.ContinueOnError)
	f.register(fs)
	if err := fs.Parse([]string{"--endpoints", "items,schools"}); err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(f.endpoints) != 2 || f.endpoints[0] != "items" || f.endpoints[1] != "schools" {
		t.Errorf("endpoints = %v", f.endpoints)
	}
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestTablesCommand(t *testing.T) {
	out, err := execute(t, "tables", "--config", writeTestConfig(t))
	if err != nil {
		t.Fatalf("tables error = %v", err)
	}

	for _, want := range []string{"etl_items", "etl_items_expanded", "etl_schools_directory", "/api/v1/items/{year}/"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestTablesCommand_Suffix(t *testing.T) {
	out, err := execute(t, "tables", "--config", writeTestConfig(t), "--expanded-suffix", "flat")
	if err != nil {
		t.Fatalf("tables error = %v", err)
	}
	if !strings.Contains(out, "etl_items_flat") {
		t.Errorf("output missing etl_items_flat:\n%s", out)
	}
}

func TestRunCommand_RequiresYears(t *testing.T) {
	_, err := execute(t, "run", "--config", writeTestConfig(t))
	if err == nil || !strings.Contains(err.Error(), "required flag") {
		t.Errorf("run error = %v, want required flag error", err)
	}
}

func TestRunCommand_RejectsReversedYears(t *testing.T) {
	_, err := execute(t, "run", "--config", writeTestConfig(t), "--begin-year", "2021", "--end-year", "2019")
	if err == nil {
		t.Error("run error = nil for begin > end")
	}
}

func TestRunCommand_RequiresDatabase(t *testing.T) {
	_, err := execute(t, "run", "--config", writeTestConfig(t), "--begin-year", "2020", "--end-year", "2020")
	if err == nil || !strings.Contains(err.Error(), "database.dsn") {
		t.Errorf("run error = %v, want database.dsn error", err)
	}
}

func TestExpandFlags_YearRange(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    string
		wantErr bool
	}{
		{"all years", nil, "", false},
		{"range", []string{"--begin-year", "2019", "--end-year", "2021"}, "2019-2021", false},
		{"only begin", []string{"--begin-year", "2019"}, "", true},
		{"reversed", []string{"--begin-year", "2021", "--end-year", "2019"}, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := newExpandCmd(&globalFlags{})
			if err := cmd.ParseFlags(tt.args); err != nil {
				t.Fatalf("ParseFlags() error = %v", err)
			}
			f := &expandFlags{}
			f.beginYear, _ = cmd.Flags().GetInt("begin-year")
			f.endYear, _ = cmd.Flags().GetInt("end-year")

			years, err := f.yearRange(cmd)
			if tt.wantErr {
				if err == nil {
					t.Error("yearRange() error = nil, want error")
				}
				return
			}
			if err != nil {
				t.Fatalf("yearRange() error = %v", err)
			}
			switch {
			case tt.want == "" && years != nil:
				t.Errorf("yearRange() = %v, want nil", years)
			case tt.want != "" && (years == nil || years.String() != tt.want):
				t.Errorf("yearRange() = %v, want %s", years, tt.want)
			}
		})
	}
}

func TestHealthEndpoint(t *testing.T) {
	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()

	newMetricsMux().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
	if w.Body.String() != "OK" {
		t.Errorf("Expected body 'OK', got %q", w.Body.String())
	}
}

func TestMetricsEndpoint(t *testing.T) {
	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()

	newMetricsMux().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "etl_queue_depth") {
		t.Error("Expected pipeline metrics in /metrics output")
	}
}

func TestFindInhibitor(t *testing.T) {
	defer func(orig func(string) (string, error)) { lookPath = orig }(lookPath)

	lookPath = func(name string) (string, error) {
		if name == "caffeinate" {
			return "/usr/bin/caffeinate", nil
		}
		return "", errors.New("not found")
	}
	in, ok := findInhibitor(42)
	if !ok || in.name != "caffeinate" {
		t.Fatalf("findInhibitor() = %v, %v, want caffeinate", in, ok)
	}
	if in.args[len(in.args)-1] != "42" {
		t.Errorf("caffeinate args = %v, want pid last", in.args)
	}

	lookPath = func(string) (string, error) { return "", errors.New("not found") }
	if _, ok := findInhibitor(42); ok {
		t.Error("findInhibitor() found an inhibitor with an empty PATH")
	}

	// Without an inhibitor the hooks only warn.
	hooks := keepAwakeHooks(42)
	hooks.OnRunStart(t.Context(), "run")
	hooks.OnRunEnd(t.Context(), nil)
}
