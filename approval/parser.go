package approval

import (
	"strings"

	"bitbucket.org/kalbooks/preorder_backend/models"
)

// approvedMarker is the only cell content that counts as an approval.
// Anything else, including `[ ]`, `[X]`, `[ x]` and `[x ]`, is treated as
// not-approved: the protocol fails closed.
const approvedMarker = "[x]"

// Decisions extracts per-title inclusion decisions from a ticket body.
// A row approves its ISBN only when the marker column, after table-cell
// trimming, is exactly `[x]` and the second column holds a well-formed
// identifier. Rows that do not parse are ignored, which leaves their titles
// excluded by default.
func Decisions(body string) map[string]bool {
	decisions := make(map[string]bool)
	for _, line := range strings.Split(body, "\n") {
		isbn, included := parseRow(line)
		if isbn == "" {
			continue
		}
		if included {
			decisions[isbn] = true
		}
	}
	return decisions
}

// parseRow reads one markdown table row: `| <marker> | <isbn> | ... |`.
// Cell trimming removes the table's alignment padding only; whitespace
// inside the bracket delimiters stays and disqualifies the marker.
func parseRow(line string) (isbn string, included bool) {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "|") {
		return "", false
	}
	cells := strings.Split(trimmed, "|")
	// Leading and trailing separators produce empty first/last cells; a data
	// row needs at least marker and ISBN columns.
	if len(cells) < 4 {
		return "", false
	}
	marker := strings.TrimSpace(cells[1])
	candidate := strings.TrimSpace(cells[2])
	if !models.IsValidIsbn(candidate) {
		return "", false
	}
	return candidate, marker == approvedMarker
}
