package approval

import (
	"fmt"
	"strings"

	"bitbucket.org/kalbooks/preorder_backend/models"
)

// RenderBatchBody produces the markdown ticket body for a batch. The first
// column is the inclusion marker placeholder; the reviewer changes `[ ]` to
// `[x]` for each title to release.
func RenderBatchBody(batch *models.ApprovalBatch) string {
	var b strings.Builder

	b.WriteString("The following preorder titles look ready for release. ")
	b.WriteString("Mark the first column with `[x]` for every title to include in this week's sales report; unmarked titles roll forward to the next cycle.\n\n")
	b.WriteString("| Approve | ISBN | Title | Presold | Inventory | Pub Date |\n")
	b.WriteString("|---------|------|-------|---------|-----------|----------|\n")
	for _, row := range batch.Rows {
		fmt.Fprintf(&b, "| [ ] | %s | %s | %d | %d | %s |\n",
			row.Isbn,
			sanitizeCell(row.Title),
			row.PresaleQty,
			row.Inventory,
			row.PubDate,
		)
	}
	fmt.Fprintf(&b, "\nRun: %s\n", batch.RunID)
	fmt.Fprintf(&b, "Decision window closes: %s UTC\n", batch.ExpiresAt.UTC().Format("2006-01-02 15:04"))
	return b.String()
}

// sanitizeCell keeps titles from breaking the table grammar.
func sanitizeCell(s string) string {
	s = strings.ReplaceAll(s, "|", "/")
	s = strings.ReplaceAll(s, "\n", " ")
	return s
}
