package models

import (
	"regexp"
	"time"
)

// CatalogTitle is a point-in-time snapshot of one tracked title from the
// commerce catalog. It is never persisted; each run works from a fresh
// snapshot taken at run start.
type CatalogTitle struct {
	ProductID            string
	Isbn                 string
	Title                string
	Vendor               string
	PubDate              string // raw value as stored; may be empty or malformed
	Inventory            int
	PreorderTagged       bool
	InPreorderCollection bool
}

// ReadinessRecord is the classifier's per-title output for one run.
type ReadinessRecord struct {
	Isbn           string
	Title          string
	Classification ReadinessClass
	Problem        ProblemSubtype // set only when Classification is problematic
	PresaleQty     int
	Inventory      int
	PubDate        string
}

const PubDateLayout = "2006-01-02"

var isbnPattern = regexp.MustCompile(`^\d{13}$`)

// IsValidIsbn reports whether v is a 13 digit identifier.
func IsValidIsbn(v string) bool {
	return isbnPattern.MatchString(v)
}

// IsReportableIsbn reports whether v belongs in the sales report: a 13 digit
// identifier in the 978 bookland prefix.
func IsReportableIsbn(v string) bool {
	return IsValidIsbn(v) && v[:3] == "978"
}

// ParsePubDate parses a stored publication date. The only accepted form is
// YYYY-MM-DD; anything else is a data-quality problem for the classifier.
func ParsePubDate(v string) (time.Time, error) {
	return time.Parse(PubDateLayout, v)
}
