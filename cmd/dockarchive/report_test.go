package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
)

func TestReportRequirements(t *testing.T) {
	t.Setenv("DOCKARCHIVE_DATA_DIR", t.TempDir())
	t.Cleanup(func() {
		reportRequirements = false
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{
		"report", "--requirements",
		"--env-file", filepath.Join(t.TempDir(), "missing.env"),
		"--log-level", "error",
	})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("report --requirements: %v", err)
	}

	// 700 stations at one snapshot a minute
	for _, want := range []string{"Resource Requirements", "Snapshots/day:     1.0M", "Total RAM:"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output missing %q:\n%s", want, out.String())
		}
	}
}
