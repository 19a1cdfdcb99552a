package reports

import (
	"strings"
	"testing"
	"time"

	"bitbucket.org/kalbooks/preorder_backend/models"
)

func sampleReport() *WeeklyReport {
	return &WeeklyReport{
		PeriodStart: time.Date(2025, 4, 3, 0, 0, 0, 0, time.UTC),
		PeriodEnd:   time.Date(2025, 4, 10, 0, 0, 0, 0, time.UTC),
		RunID:       "run-1",
		Lines: []ReportLine{
			{Isbn: "9780262551342", Title: "Winter Arrivals", Quantity: 5, Source: models.SourceRegularSale},
			{Isbn: "9780262551311", Title: "The Tide Atlas", Quantity: 7, Source: models.SourcePreorderRelease},
		},
		Exclusions: []Exclusion{
			{Isbn: "0012345678905", Title: "Tote Bag", Reason: models.ExcludedNotIsbn, Quantity: 4},
		},
	}
}

func TestWriteSalesCsv_Shape(t *testing.T) {
	data, err := WriteSalesCsv(sampleReport())
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d lines, want header + 2 rows:\n%s", len(lines), data)
	}
	if lines[0] != "Barcode,QTY" {
		t.Fatalf("header %q, want Barcode,QTY", lines[0])
	}
	if lines[1] != "9780262551342,5" || lines[2] != "9780262551311,7" {
		t.Fatalf("unexpected rows: %v", lines[1:])
	}
}

func TestWriteExclusionsCsv_CarriesReason(t *testing.T) {
	data, err := WriteExclusionsCsv(sampleReport())
	if err != nil {
		t.Fatal(err)
	}
	out := string(data)
	if !strings.Contains(out, "not_isbn") {
		t.Fatalf("exclusions csv missing reason:\n%s", out)
	}
}

func TestTotalMatchesSourceTotals(t *testing.T) {
	r := sampleReport()
	totals := r.SourceTotals()
	if totals[models.SourceRegularSale] != 5 || totals[models.SourcePreorderRelease] != 7 {
		t.Fatalf("source totals wrong: %v", totals)
	}
	if r.Total() != 12 {
		t.Fatalf("total %d, want 12", r.Total())
	}
}
