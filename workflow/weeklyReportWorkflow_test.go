package workflow

// NOTE: These tests are intentionally DB-free.

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestWriteDiagnostics_ArtifactWithoutDatabase(t *testing.T) {
	dir := t.TempDir()
	w := &WeeklyReportWorkflow{Logger: quietLogger()}
	cfg := RunConfig{PeriodEnd: testToday, OutputDir: dir}

	w.writeDiagnostics(context.Background(), cfg, "run-diag", nil, errors.New("report files unwritable"))

	data, err := os.ReadFile(filepath.Join(dir, "merge_failure_run-diag.json"))
	if err != nil {
		t.Fatalf("diagnostics artifact missing: %v", err)
	}
	var payload map[string]interface{}
	if err := json.Unmarshal(data, &payload); err != nil {
		t.Fatal(err)
	}
	if payload["run_id"] != "run-diag" {
		t.Fatalf("run_id %v, want run-diag", payload["run_id"])
	}
	if payload["error"] != "report files unwritable" {
		t.Fatalf("error %v, want the cause message", payload["error"])
	}
	if payload["period"] != testToday.Format("2006-01-02") {
		t.Fatalf("period %v, want %s", payload["period"], testToday.Format("2006-01-02"))
	}
}
