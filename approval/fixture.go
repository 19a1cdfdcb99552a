package approval

import (
	"context"
	"fmt"
	"sync"

	"bitbucket.org/kalbooks/preorder_backend/models"
)

// FixtureSurface is the in-memory approval surface used when
// PREORDER_APPROVAL_SURFACE=fixture and by tests. Published tickets start
// open; SetState simulates the human decision.
type FixtureSurface struct {
	mu      sync.Mutex
	nextRef int
	tickets map[string]*TicketState
}

func NewFixtureSurface() *FixtureSurface {
	return &FixtureSurface{tickets: map[string]*TicketState{}}
}

func (s *FixtureSurface) Publish(ctx context.Context, batch *models.ApprovalBatch) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextRef++
	ref := fmt.Sprintf("fixture-%d", s.nextRef)
	s.tickets[ref] = &TicketState{
		Open: true,
		Body: RenderBatchBody(batch),
	}
	return ref, nil
}

func (s *FixtureSurface) Fetch(ctx context.Context, ticketRef string) (*TicketState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tickets[ticketRef]
	if !ok {
		return nil, fmt.Errorf("fixture ticket %q not found", ticketRef)
	}
	cp := *t
	cp.Labels = append([]string(nil), t.Labels...)
	return &cp, nil
}

// SetState replaces the ticket's state, simulating reviewer action.
func (s *FixtureSurface) SetState(ticketRef string, state TicketState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tickets[ticketRef] = &state
}
