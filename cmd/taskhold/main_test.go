package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestSplitCSV(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want []string
	}{
		{name: "empty", raw: "", want: nil},
		{name: "spaces only", raw: "  ", want: nil},
		{name: "simple", raw: "a,b,c", want: []string{"a", "b", "c"}},
		{name: "trims and drops blanks", raw: " a , ,b,", want: []string{"a", "b"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := splitCSV(tt.raw)
			if len(got) != len(tt.want) {
				t.Fatalf("splitCSV(%q) = %v, want %v", tt.raw, got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("splitCSV(%q)[%d] = %q, want %q", tt.raw, i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestParseDue(t *testing.T) {
	got, err := parseDue("2026-09-15")
	if err != nil {
		t.Fatalf("parseDue date-only: %v", err)
	}
	if got.Year() != 2026 || got.Month() != time.September || got.Day() != 15 {
		t.Fatalf("parseDue date-only = %v", got)
	}

	got, err = parseDue("2026-09-15T10:30:00Z")
	if err != nil {
		t.Fatalf("parseDue RFC3339: %v", err)
	}
	if got.Hour() != 10 {
		t.Fatalf("parseDue RFC3339 hour = %d", got.Hour())
	}

	if _, err := parseDue("next tuesday"); err == nil {
		t.Fatal("parseDue accepted garbage")
	}
}

func TestRenderStatus_PlainOutput(t *testing.T) {
	rep := statusReport{
		Home:          "/tmp/home",
		StorePath:     "/tmp/home/store.json",
		Total:         4,
		Completed:     1,
		InProgress:    2,
		Blocked:       1,
		Critical:      1,
		WeightedScore: 0.25,
		UndoDepth:     3,
		Findings:      0,
	}
	out := renderStatus(rep, false)
	for _, want := range []string{
		"Taskhold Status",
		"4 (1 completed, 2 in progress, 1 blocked",
		"Score:         25%",
		"Undo depth:    3",
		"consistency findings: 0",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("status output missing %q:\n%s", want, out)
		}
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	content := "# comment\nTASKHOLD_TEST_KEY=from_file\nTASKHOLD_TEST_SET=ignored\n\nBROKEN LINE\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write .env: %v", err)
	}
	t.Setenv("TASKHOLD_TEST_SET", "already")
	t.Setenv("TASKHOLD_TEST_KEY", "")
	os.Unsetenv("TASKHOLD_TEST_KEY")

	loadDotEnv(path)

	if got := os.Getenv("TASKHOLD_TEST_KEY"); got != "from_file" {
		t.Fatalf("TASKHOLD_TEST_KEY = %q, want %q", got, "from_file")
	}
	if got := os.Getenv("TASKHOLD_TEST_SET"); got != "already" {
		t.Fatalf("TASKHOLD_TEST_SET = %q, existing value must win", got)
	}
}
