package workflow

import (
	"time"

	"bitbucket.org/kalbooks/preorder_backend/models"
)

// ClassifierInput is everything Classify needs, gathered up front so the
// classification itself is a pure function of its arguments.
type ClassifierInput struct {
	Snapshot             []models.CatalogTitle
	Released             map[string]bool // from the release ledger
	PresaleTotals        map[string]int  // isbn -> accumulated presold qty
	PubDateOverrides     map[string]string
	EarlyStockExceptions map[string]bool // keyed by product id
	Today                time.Time
	GraceDays            int
}

// Classification buckets every tracked title into exactly one class.
type Classification struct {
	Pending         []models.ReadinessRecord
	Problems        []models.ReadinessRecord
	NotReady        []models.ReadinessRecord
	AlreadyReleased []models.ReadinessRecord
}

const DefaultGraceDays = 30

// Classify assigns each snapshot row to exactly one readiness class.
//
// A title is pending_release when its publication date has arrived, or when
// stock has physically landed ahead of the date (positive inventory or an
// operator-recorded early-stock exception). A date further in the past than
// the grace window is a data-quality problem, not a release candidate,
// unless stock on hand says the release actually happened. Titles already in
// the ledger never re-enter the pipeline.
func Classify(in ClassifierInput) Classification {
	grace := in.GraceDays
	if grace <= 0 {
		grace = DefaultGraceDays
	}
	today := in.Today.UTC().Truncate(24 * time.Hour)
	cutoff := today.AddDate(0, 0, -grace)

	var out Classification
	seen := make(map[string]bool, len(in.Snapshot))
	for _, title := range in.Snapshot {
		if models.IsValidIsbn(title.Isbn) {
			if seen[title.Isbn] {
				continue
			}
			seen[title.Isbn] = true
		}

		rec := models.ReadinessRecord{
			Isbn:       title.Isbn,
			Title:      title.Title,
			PresaleQty: in.PresaleTotals[title.Isbn],
			Inventory:  title.Inventory,
			PubDate:    title.PubDate,
		}
		if override, ok := in.PubDateOverrides[title.Isbn]; ok {
			rec.PubDate = override
		}

		if in.Released[title.Isbn] {
			rec.Classification = models.ReadinessAlreadyReleased
			out.AlreadyReleased = append(out.AlreadyReleased, rec)
			continue
		}

		stockLanded := title.Inventory > 0 || in.EarlyStockExceptions[title.ProductID]

		if rec.PubDate == "" {
			rec.Classification = models.ReadinessProblematic
			rec.Problem = models.ProblemMissingPubDate
			out.Problems = append(out.Problems, rec)
			continue
		}
		pubDate, err := models.ParsePubDate(rec.PubDate)
		if err != nil {
			rec.Classification = models.ReadinessProblematic
			rec.Problem = models.ProblemMalformedPubDate
			out.Problems = append(out.Problems, rec)
			continue
		}

		switch {
		case pubDate.After(today):
			if stockLanded {
				rec.Classification = models.ReadinessPendingRelease
				out.Pending = append(out.Pending, rec)
			} else {
				rec.Classification = models.ReadinessNotReady
				out.NotReady = append(out.NotReady, rec)
			}
		case pubDate.Before(cutoff) && !stockLanded:
			// Long past the date with nothing on hand: the record is stale,
			// not releasable.
			rec.Classification = models.ReadinessProblematic
			rec.Problem = models.ProblemPastPubDate
			out.Problems = append(out.Problems, rec)
		default:
			rec.Classification = models.ReadinessPendingRelease
			out.Pending = append(out.Pending, rec)
		}
	}
	return out
}
