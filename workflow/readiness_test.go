package workflow

import (
	"testing"
	"time"

	"bitbucket.org/kalbooks/preorder_backend/models"
)

// NOTE: These tests are intentionally DB-free. Classify is a pure function of
// its input, so every classification rule is exercised against literal
// snapshots.

var testToday = time.Date(2025, 4, 10, 0, 0, 0, 0, time.UTC)

func classifyOne(t *testing.T, title models.CatalogTitle, in ClassifierInput) models.ReadinessRecord {
	t.Helper()
	in.Snapshot = []models.CatalogTitle{title}
	in.Today = testToday
	out := Classify(in)
	all := append(append(append(append([]models.ReadinessRecord{}, out.Pending...), out.Problems...), out.NotReady...), out.AlreadyReleased...)
	if len(all) != 1 {
		t.Fatalf("expected exactly one record, got %d", len(all))
	}
	return all[0]
}

func TestClassify_PubDateArrivedWithStock(t *testing.T) {
	rec := classifyOne(t, models.CatalogTitle{
		ProductID: "p1", Isbn: "9780262551311", Title: "The Tide Atlas",
		PubDate: "2025-03-01", Inventory: 2, PreorderTagged: true,
	}, ClassifierInput{})
	if rec.Classification != models.ReadinessPendingRelease {
		t.Fatalf("got %s, want pending_release", rec.Classification)
	}
}

func TestClassify_MalformedDate(t *testing.T) {
	rec := classifyOne(t, models.CatalogTitle{
		ProductID: "p2", Isbn: "9780262551328", PubDate: "Coming Soon", PreorderTagged: true,
	}, ClassifierInput{})
	if rec.Classification != models.ReadinessProblematic || rec.Problem != models.ProblemMalformedPubDate {
		t.Fatalf("got %s/%s, want problematic/malformed_pub_date", rec.Classification, rec.Problem)
	}
}

func TestClassify_MissingDate(t *testing.T) {
	rec := classifyOne(t, models.CatalogTitle{
		ProductID: "p3", Isbn: "9780262551335", PubDate: "", PreorderTagged: true,
	}, ClassifierInput{})
	if rec.Classification != models.ReadinessProblematic || rec.Problem != models.ProblemMissingPubDate {
		t.Fatalf("got %s/%s, want problematic/missing_pub_date", rec.Classification, rec.Problem)
	}
}

func TestClassify_FutureDateNoStock(t *testing.T) {
	rec := classifyOne(t, models.CatalogTitle{
		ProductID: "p4", Isbn: "9780262551342", PubDate: "2025-06-01", PreorderTagged: true,
	}, ClassifierInput{})
	if rec.Classification != models.ReadinessNotReady {
		t.Fatalf("got %s, want not_ready", rec.Classification)
	}
}

func TestClassify_EarlyStockBeatsFutureDate(t *testing.T) {
	// Stock landed before the date: inventory or an operator exception
	// both trigger the carve-out.
	for name, title := range map[string]models.CatalogTitle{
		"inventory": {ProductID: "p5", Isbn: "9780262551359", PubDate: "2025-06-01", Inventory: 5},
		"exception": {ProductID: "p6", Isbn: "9780262551366", PubDate: "2025-06-01"},
	} {
		rec := classifyOne(t, title, ClassifierInput{
			EarlyStockExceptions: map[string]bool{"p6": true},
		})
		if rec.Classification != models.ReadinessPendingRelease {
			t.Fatalf("%s: got %s, want pending_release", name, rec.Classification)
		}
	}
}

func TestClassify_StaleDateWithoutStockIsProblem(t *testing.T) {
	rec := classifyOne(t, models.CatalogTitle{
		ProductID: "p7", Isbn: "9780262551373", PubDate: "2024-11-01", Inventory: 0,
	}, ClassifierInput{GraceDays: 30})
	if rec.Classification != models.ReadinessProblematic || rec.Problem != models.ProblemPastPubDate {
		t.Fatalf("got %s/%s, want problematic/past_pub_date", rec.Classification, rec.Problem)
	}
}

func TestClassify_StaleDateWithStockStillReleases(t *testing.T) {
	rec := classifyOne(t, models.CatalogTitle{
		ProductID: "p8", Isbn: "9780262551380", PubDate: "2024-11-01", Inventory: 3,
	}, ClassifierInput{GraceDays: 30})
	if rec.Classification != models.ReadinessPendingRelease {
		t.Fatalf("got %s, want pending_release", rec.Classification)
	}
}

func TestClassify_AlreadyReleasedWinsOverEverything(t *testing.T) {
	rec := classifyOne(t, models.CatalogTitle{
		ProductID: "p9", Isbn: "9780262551397", PubDate: "Coming Soon", Inventory: 3,
	}, ClassifierInput{Released: map[string]bool{"9780262551397": true}})
	if rec.Classification != models.ReadinessAlreadyReleased {
		t.Fatalf("got %s, want already_released", rec.Classification)
	}
}

func TestClassify_OverrideReplacesStoredDate(t *testing.T) {
	rec := classifyOne(t, models.CatalogTitle{
		ProductID: "p10", Isbn: "9780262551403", PubDate: "garbage", Inventory: 1,
	}, ClassifierInput{PubDateOverrides: map[string]string{"9780262551403": "2025-04-01"}})
	if rec.Classification != models.ReadinessPendingRelease {
		t.Fatalf("got %s, want pending_release via override", rec.Classification)
	}
	if rec.PubDate != "2025-04-01" {
		t.Fatalf("record should carry the overridden date, got %q", rec.PubDate)
	}
}

func TestClassify_DuplicateIsbnRowsCollapse(t *testing.T) {
	out := Classify(ClassifierInput{
		Snapshot: []models.CatalogTitle{
			{ProductID: "a", Isbn: "9780262551410", PubDate: "2025-04-01", Inventory: 1},
			{ProductID: "b", Isbn: "9780262551410", PubDate: "", Inventory: 0},
		},
		Today: testToday,
	})
	total := len(out.Pending) + len(out.Problems) + len(out.NotReady) + len(out.AlreadyReleased)
	if total != 1 {
		t.Fatalf("duplicate rows must collapse to one record, got %d", total)
	}
	if len(out.Pending) != 1 {
		t.Fatalf("first row wins; expected pending_release")
	}
}

// Every title lands in exactly one bucket, whatever the data quality.
func TestClassify_ExhaustiveAndExclusive(t *testing.T) {
	snapshot := []models.CatalogTitle{
		{ProductID: "x1", Isbn: "9780262551427", PubDate: "2025-04-01", Inventory: 1},
		{ProductID: "x2", Isbn: "9780262551434", PubDate: "Coming Soon"},
		{ProductID: "x3", Isbn: "9780262551441", PubDate: ""},
		{ProductID: "x4", Isbn: "9780262551458", PubDate: "2025-07-01"},
		{ProductID: "x5", Isbn: "9780262551465", PubDate: "2024-01-01"},
		{ProductID: "x6", Isbn: "9780262551472", PubDate: "2025-04-05"},
		{ProductID: "x7", Isbn: "not-a-barcode", PubDate: "2025-04-05"},
	}
	out := Classify(ClassifierInput{
		Snapshot: snapshot,
		Released: map[string]bool{"9780262551472": true},
		Today:    testToday,
	})

	seen := map[string]int{}
	for _, bucket := range [][]models.ReadinessRecord{out.Pending, out.Problems, out.NotReady, out.AlreadyReleased} {
		for _, rec := range bucket {
			seen[rec.Isbn]++
		}
	}
	if len(seen) != len(snapshot) {
		t.Fatalf("classified %d distinct titles, want %d", len(seen), len(snapshot))
	}
	for isbn, n := range seen {
		if n != 1 {
			t.Fatalf("%s classified %d times, want exactly once", isbn, n)
		}
	}
}
