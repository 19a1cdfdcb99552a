package reports

import (
	"time"

	"bitbucket.org/kalbooks/preorder_backend/models"
)

// ReportLine is one row of the weekly sales report: a reportable identifier
// and the quantity to feed downstream, tagged with where the quantity came
// from. A title appears at most once per source and at most once overall.
type ReportLine struct {
	Isbn     string              `json:"isbn"`
	Title    string              `json:"title"`
	Quantity int                 `json:"quantity"`
	Source   models.ReportSource `json:"source"`
}

// Exclusion records a title filtered out of the report and the single reason
// it was dropped. The exclusions file rides along with every report so the
// absence of a title is always explainable.
type Exclusion struct {
	Isbn     string                 `json:"isbn"`
	Title    string                 `json:"title"`
	Reason   models.ExclusionReason `json:"reason"`
	Quantity int                    `json:"quantity"`
}

// WeeklyReport is one reconciliation cycle's full output.
type WeeklyReport struct {
	PeriodStart time.Time    `json:"period_start"`
	PeriodEnd   time.Time    `json:"period_end"`
	RunID       string       `json:"run_id"`
	Lines       []ReportLine `json:"lines"`
	Exclusions  []Exclusion  `json:"exclusions"`
}

// Total is the report-level quantity: the sum over regular-sale lines plus
// the sum over release lines, with nothing counted twice.
func (r *WeeklyReport) Total() int {
	total := 0
	for _, line := range r.Lines {
		total += line.Quantity
	}
	return total
}

// SourceTotals breaks Total down per source for the report summary sheet.
func (r *WeeklyReport) SourceTotals() map[models.ReportSource]int {
	totals := make(map[models.ReportSource]int)
	for _, line := range r.Lines {
		totals[line.Source] += line.Quantity
	}
	return totals
}
