package workflow

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"bitbucket.org/kalbooks/preorder_backend/models"
)

// fakeLedger is the in-memory stand-in for the release ledger: unique per
// ISBN, append-only.
type fakeLedger struct {
	entries map[string]models.Release
}

func newFakeLedger(isbns ...string) *fakeLedger {
	l := &fakeLedger{entries: map[string]models.Release{}}
	for _, isbn := range isbns {
		l.entries[isbn] = models.Release{
			Isbn: isbn, ReleasedOn: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), TotalPresales: 1,
		}
	}
	return l
}

func (l *fakeLedger) HasReleased(ctx context.Context, isbn string) (bool, error) {
	_, ok := l.entries[isbn]
	return ok, nil
}

func (l *fakeLedger) RecordRelease(ctx context.Context, entry *models.Release) error {
	if _, ok := l.entries[entry.Isbn]; ok {
		return models.ErrDuplicateRelease
	}
	if err := entry.Validate(); err != nil {
		return err
	}
	l.entries[entry.Isbn] = *entry
	return nil
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func approvedBatch(rows ...models.ApprovalBatchRow) *models.ApprovalBatch {
	for i := range rows {
		rows[i].Included = true
	}
	now := testToday
	return &models.ApprovalBatch{
		State: models.BatchApproved, DecidedAt: &now, DecidedBy: "reviewer", Rows: rows,
	}
}

func TestMerge_ExclusionReasons(t *testing.T) {
	in := MergeInput{
		RegularSales: map[string]int{
			"0012345678905": 4, // UPC, not a book
			"9780262551311": 0,
			"9780262551328": 2, // fully refunded
			"9780262551335": 3, // still gated
			"9780262551342": 5, // clean regular sale
		},
		Refunds:      map[string]int{"9780262551328": 2},
		PendingIsbns: map[string]bool{"9780262551335": true},
		ReleasedOn:   testToday,
	}
	res, err := merge(context.Background(), newFakeLedger(), in, quietLogger())
	if err != nil {
		t.Fatal(err)
	}

	wantReasons := map[string]models.ExclusionReason{
		"0012345678905": models.ExcludedNotIsbn,
		"9780262551311": models.ExcludedZeroQuantity,
		"9780262551328": models.ExcludedRefundedToZero,
		"9780262551335": models.ExcludedPendingApproval,
	}
	if len(res.Exclusions) != len(wantReasons) {
		t.Fatalf("got %d exclusions, want %d: %+v", len(res.Exclusions), len(wantReasons), res.Exclusions)
	}
	for _, ex := range res.Exclusions {
		if want := wantReasons[ex.Isbn]; ex.Reason != want {
			t.Errorf("%s: reason %s, want %s", ex.Isbn, ex.Reason, want)
		}
	}
	if len(res.Lines) != 1 || res.Lines[0].Isbn != "9780262551342" || res.Lines[0].Quantity != 5 {
		t.Fatalf("want one regular line for 9780262551342 qty 5, got %+v", res.Lines)
	}
}

func TestMerge_ApprovedBatchAppendsToLedger(t *testing.T) {
	ledger := newFakeLedger()
	in := MergeInput{
		Batch: approvedBatch(models.ApprovalBatchRow{
			Isbn: "9780262551311", Title: "The Tide Atlas", PresaleQty: 7, Inventory: 2,
		}),
		ReleasedOn: testToday,
	}
	res, err := merge(context.Background(), ledger, in, quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	if len(res.NewReleases) != 1 || res.NewReleases[0].ApprovedBy != "reviewer" {
		t.Fatalf("want one release approved by reviewer, got %+v", res.NewReleases)
	}
	if len(res.Lines) != 1 || res.Lines[0].Source != models.SourcePreorderRelease || res.Lines[0].Quantity != 7 {
		t.Fatalf("want one release line carrying total presales, got %+v", res.Lines)
	}
	if ok, _ := ledger.HasReleased(context.Background(), "9780262551311"); !ok {
		t.Fatal("ledger entry missing after merge")
	}
}

// A title already in the ledger yields no line and no second entry, whatever
// the batch says.
func TestMerge_DuplicateReleaseDropsLine(t *testing.T) {
	ledger := newFakeLedger("9780262551311")
	in := MergeInput{
		Batch: approvedBatch(models.ApprovalBatchRow{
			Isbn: "9780262551311", Title: "The Tide Atlas", PresaleQty: 7,
		}),
		ReleasedOn: testToday,
	}
	res, err := merge(context.Background(), ledger, in, quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Lines) != 0 || len(res.NewReleases) != 0 {
		t.Fatalf("duplicate release must contribute nothing, got lines=%+v releases=%+v", res.Lines, res.NewReleases)
	}
	if len(ledger.entries) != 1 {
		t.Fatalf("ledger grew to %d entries", len(ledger.entries))
	}
}

// Running the same merge twice produces the release exactly once.
func TestMerge_Idempotent(t *testing.T) {
	ledger := newFakeLedger()
	in := MergeInput{
		Batch: approvedBatch(models.ApprovalBatchRow{
			Isbn: "9780262551311", Title: "The Tide Atlas", PresaleQty: 7,
		}),
		ReleasedOn: testToday,
	}
	first, err := merge(context.Background(), ledger, in, quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	second, err := merge(context.Background(), ledger, in, quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	if len(first.NewReleases) != 1 || len(second.NewReleases) != 0 {
		t.Fatalf("retry must not re-release: first=%d second=%d", len(first.NewReleases), len(second.NewReleases))
	}
}

// One title may carry both a regular line (post-date window sales) and a
// release line (banked presales) in the same report.
func TestMerge_RegularAndReleaseLinesCoexist(t *testing.T) {
	in := MergeInput{
		RegularSales: map[string]int{"9780262551311": 2},
		Batch: approvedBatch(models.ApprovalBatchRow{
			Isbn: "9780262551311", Title: "The Tide Atlas", PresaleQty: 7,
		}),
		PendingIsbns: map[string]bool{"9780262551311": true},
		ReleasedOn:   testToday,
	}
	res, err := merge(context.Background(), newFakeLedger(), in, quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Lines) != 2 {
		t.Fatalf("want regular + release lines, got %+v", res.Lines)
	}
	if res.TotalQty != 9 {
		t.Fatalf("total %d, want 9", res.TotalQty)
	}
}

// Total equals the sum over regular lines plus the sum over release lines.
func TestMerge_TotalInvariant(t *testing.T) {
	in := MergeInput{
		RegularSales: map[string]int{
			"9780262551342": 5,
			"9780262551359": 3,
			"bad-barcode":   9,
		},
		Batch: approvedBatch(
			models.ApprovalBatchRow{Isbn: "9780262551311", Title: "A", PresaleQty: 7},
			models.ApprovalBatchRow{Isbn: "9780262551328", Title: "B", PresaleQty: 4},
		),
		ReleasedOn: testToday,
	}
	res, err := merge(context.Background(), newFakeLedger(), in, quietLogger())
	if err != nil {
		t.Fatal(err)
	}

	var regular, releases int
	for _, line := range res.Lines {
		switch line.Source {
		case models.SourceRegularSale:
			regular += line.Quantity
		case models.SourcePreorderRelease:
			releases += line.Quantity
		default:
			t.Fatalf("unknown source %q", line.Source)
		}
	}
	if regular != 8 || releases != 11 {
		t.Fatalf("regular=%d releases=%d, want 8 and 11", regular, releases)
	}
	if res.TotalQty != regular+releases {
		t.Fatalf("total %d != %d + %d", res.TotalQty, regular, releases)
	}
}

// An approved row whose barcode is not a book ISBN is excluded like any other
// non-book identifier: no ledger entry, no release line.
func TestMerge_ApprovedNonBookBarcodeExcluded(t *testing.T) {
	ledger := newFakeLedger()
	in := MergeInput{
		Batch: approvedBatch(
			models.ApprovalBatchRow{Isbn: "9790262551318", Title: "Sheet Music Folio", PresaleQty: 6},
			models.ApprovalBatchRow{Isbn: "9780262551311", Title: "The Tide Atlas", PresaleQty: 7},
		),
		ReleasedOn: testToday,
	}
	res, err := merge(context.Background(), ledger, in, quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Exclusions) != 1 || res.Exclusions[0].Reason != models.ExcludedNotIsbn ||
		res.Exclusions[0].Isbn != "9790262551318" || res.Exclusions[0].Quantity != 6 {
		t.Fatalf("want not_isbn exclusion for 9790262551318 qty 6, got %+v", res.Exclusions)
	}
	if len(res.Lines) != 1 || res.Lines[0].Isbn != "9780262551311" {
		t.Fatalf("only the book ISBN may produce a release line, got %+v", res.Lines)
	}
	if ok, _ := ledger.HasReleased(context.Background(), "9790262551318"); ok {
		t.Fatal("non-book barcode reached the ledger")
	}
}

// A rejected or expired batch releases nothing; gated sales stay banked.
func TestMerge_UndecidedOrRejectedBatchReleasesNothing(t *testing.T) {
	for _, state := range []models.BatchState{models.BatchRejected, models.BatchExpired, models.BatchAwaitingDecision} {
		in := MergeInput{
			RegularSales: map[string]int{"9780262551311": 2},
			Batch: &models.ApprovalBatch{
				State: state,
				Rows: []models.ApprovalBatchRow{
					{Isbn: "9780262551311", Title: "The Tide Atlas", PresaleQty: 7, Included: true},
				},
			},
			PendingIsbns: map[string]bool{"9780262551311": true},
			ReleasedOn:   testToday,
		}
		res, err := merge(context.Background(), newFakeLedger(), in, quietLogger())
		if err != nil {
			t.Fatal(err)
		}
		if len(res.NewReleases) != 0 {
			t.Fatalf("state %s: released %d titles, want 0", state, len(res.NewReleases))
		}
		if len(res.Lines) != 0 {
			t.Fatalf("state %s: gated title leaked into lines: %+v", state, res.Lines)
		}
		if len(res.Exclusions) != 1 || res.Exclusions[0].Reason != models.ExcludedPendingApproval {
			t.Fatalf("state %s: want pending_approval exclusion, got %+v", state, res.Exclusions)
		}
	}
}
