package approval

import (
	"context"

	"bitbucket.org/kalbooks/preorder_backend/models"
)

// TicketState is the approval surface's current state for one batch ticket.
// The gate derives its own state entirely from this snapshot, so a killed and
// relaunched process resumes waiting with nothing but the ticket reference.
type TicketState struct {
	Open     bool
	Labels   []string
	Body     string
	ClosedBy string // reviewer identity when the surface exposes one
}

// Surface is the boolean-decision-per-item contract behind the checkbox
// protocol. A future structured input channel (form/API) implements the same
// interface without touching the merger.
type Surface interface {
	// Publish renders the batch for human review and returns an opaque
	// ticket reference used for later polling.
	Publish(ctx context.Context, batch *models.ApprovalBatch) (string, error)

	// Fetch returns the ticket's current state.
	Fetch(ctx context.Context, ticketRef string) (*TicketState, error)
}

func (t *TicketState) HasLabel(name string) bool {
	for _, l := range t.Labels {
		if l == name {
			return true
		}
	}
	return false
}
