package workflow

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"bitbucket.org/kalbooks/preorder_backend/approval"
	"bitbucket.org/kalbooks/preorder_backend/models"
)

// fakeBatchStore keeps batches in memory with the same finalize semantics as
// the gorm store: a batch decides once, and only approved decisions flip
// Included.
type fakeBatchStore struct {
	nextID  int
	batches map[int]*models.ApprovalBatch
}

func newFakeBatchStore() *fakeBatchStore {
	return &fakeBatchStore{batches: map[int]*models.ApprovalBatch{}}
}

func (s *fakeBatchStore) CreateBatch(_ context.Context, batch *models.ApprovalBatch) error {
	s.nextID++
	batch.ID = s.nextID
	s.batches[batch.ID] = batch
	return nil
}

func (s *fakeBatchStore) SetTicketRef(_ context.Context, batchID int, ticketRef string) error {
	b, ok := s.batches[batchID]
	if !ok {
		return fmt.Errorf("batch %d not found", batchID)
	}
	b.TicketRef = ticketRef
	return nil
}

func (s *fakeBatchStore) FinalizeBatch(_ context.Context, batch *models.ApprovalBatch, state models.BatchState, decidedBy string, decisions map[string]bool) error {
	if batch.State != models.BatchAwaitingDecision {
		return errors.New("batch already decided")
	}
	now := time.Now().UTC()
	batch.State = state
	batch.DecidedAt = &now
	batch.DecidedBy = decidedBy
	if state == models.BatchApproved {
		for i := range batch.Rows {
			if decisions[batch.Rows[i].Isbn] {
				batch.Rows[i].Included = true
			}
		}
	}
	s.batches[batch.ID] = batch
	return nil
}

func (s *fakeBatchStore) MostRecentOpenBatch(_ context.Context) (*models.ApprovalBatch, error) {
	var newest *models.ApprovalBatch
	for _, b := range s.batches {
		if b.State == models.BatchAwaitingDecision && (newest == nil || b.ID > newest.ID) {
			newest = b
		}
	}
	if newest == nil {
		return nil, models.ErrNoOpenBatch
	}
	return newest, nil
}

// stubSurface counts publishes and serves a fixed ticket state, or a fixed
// fetch error.
type stubSurface struct {
	publishes int
	fetchErr  error
	state     *approval.TicketState
}

func (s *stubSurface) Publish(context.Context, *models.ApprovalBatch) (string, error) {
	s.publishes++
	return fmt.Sprintf("ticket-%d", s.publishes), nil
}

func (s *stubSurface) Fetch(context.Context, string) (*approval.TicketState, error) {
	if s.fetchErr != nil {
		return nil, s.fetchErr
	}
	return s.state, nil
}

func testGate(store BatchStore, surface approval.Surface) *ApprovalGate {
	return &ApprovalGate{
		Store:        store,
		Surface:      surface,
		Logger:       quietLogger(),
		WaitBudget:   25 * time.Millisecond,
		PollInterval: time.Millisecond,
		Now:          time.Now,
	}
}

// A surface outage must not keep the gate waiting past the batch's decision
// window: Await expires the batch on its own, without the caller's context
// having to pull the plug.
func TestAwait_SurfaceOutageExpiresAtWindow(t *testing.T) {
	store := newFakeBatchStore()
	surface := &stubSurface{fetchErr: errors.New("surface unreachable")}
	gate := testGate(store, surface)

	batch := &models.ApprovalBatch{
		RunID:     "run-outage",
		State:     models.BatchAwaitingDecision,
		TicketRef: "ticket-1",
		ExpiresAt: time.Now().UTC().Add(gate.WaitBudget),
		Rows:      []models.ApprovalBatchRow{{Isbn: "9780262551311", Title: "The Tide Atlas", PresaleQty: 7}},
	}
	if err := store.CreateBatch(context.Background(), batch); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	decided, err := gate.Await(ctx, batch)
	if err != nil {
		t.Fatal(err)
	}
	if ctx.Err() != nil {
		t.Fatal("gate only stopped because the test deadline fired")
	}
	if decided.State != models.BatchExpired {
		t.Fatalf("state %s, want expired", decided.State)
	}
	if decided.DecidedBy != "system:expired" {
		t.Fatalf("decidedBy %q, want system:expired", decided.DecidedBy)
	}
	if len(decided.IncludedRows()) != 0 {
		t.Fatal("expired batch must not include any rows")
	}
}

// A batch left awaiting a decision by a killed run is resumed, not replaced:
// no second ticket goes out.
func TestOpenOrResume_PicksUpOpenBatch(t *testing.T) {
	store := newFakeBatchStore()
	open := &models.ApprovalBatch{
		RunID:     "run-earlier",
		State:     models.BatchAwaitingDecision,
		TicketRef: "ticket-existing",
		ExpiresAt: time.Now().UTC().Add(time.Hour),
		Rows:      []models.ApprovalBatchRow{{Isbn: "9780262551311", Title: "The Tide Atlas", PresaleQty: 7}},
	}
	if err := store.CreateBatch(context.Background(), open); err != nil {
		t.Fatal(err)
	}
	surface := &stubSurface{}

	got, err := testGate(store, surface).OpenOrResume(context.Background(), "run-later", nil)
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != open.ID || got.TicketRef != "ticket-existing" {
		t.Fatalf("resumed batch %d/%q, want %d/ticket-existing", got.ID, got.TicketRef, open.ID)
	}
	if surface.publishes != 0 {
		t.Fatalf("published %d tickets while resuming, want 0", surface.publishes)
	}
}

func TestOpenOrResume_OpensFreshWhenNoneOpen(t *testing.T) {
	store := newFakeBatchStore()
	surface := &stubSurface{}
	pending := []models.ReadinessRecord{
		{Isbn: "9780262551311", Title: "The Tide Atlas", PresaleQty: 7, Inventory: 2, PubDate: "2025-03-01"},
	}

	batch, err := testGate(store, surface).OpenOrResume(context.Background(), "run-fresh", pending)
	if err != nil {
		t.Fatal(err)
	}
	if surface.publishes != 1 {
		t.Fatalf("published %d tickets, want 1", surface.publishes)
	}
	if batch.State != models.BatchAwaitingDecision || batch.TicketRef != "ticket-1" {
		t.Fatalf("got %s/%q, want awaiting_decision/ticket-1", batch.State, batch.TicketRef)
	}
	if len(batch.Rows) != 1 || batch.Rows[0].Isbn != "9780262551311" {
		t.Fatalf("batch rows %+v, want the pending title", batch.Rows)
	}
}

// No pending titles means no ticket and no waiting; the batch is recorded
// approved for the audit trail.
func TestOpen_EmptyPendingAutoApproves(t *testing.T) {
	store := newFakeBatchStore()
	surface := &stubSurface{}

	batch, err := testGate(store, surface).OpenOrResume(context.Background(), "run-empty", nil)
	if err != nil {
		t.Fatal(err)
	}
	if surface.publishes != 0 {
		t.Fatalf("published %d tickets for an empty batch, want 0", surface.publishes)
	}
	if batch.State != models.BatchApproved || batch.DecidedBy != "system:empty-batch" {
		t.Fatalf("got %s/%q, want approved/system:empty-batch", batch.State, batch.DecidedBy)
	}
}

func TestResolveTicket_OpenKeepsWaiting(t *testing.T) {
	expires := testToday.Add(6 * time.Hour)
	state, decisions := resolveTicket(&approval.TicketState{Open: true}, expires, testToday)
	if state != models.BatchAwaitingDecision || decisions != nil {
		t.Fatalf("got %s/%v, want awaiting_decision with no decisions", state, decisions)
	}
}

func TestResolveTicket_OpenPastWindowExpires(t *testing.T) {
	expires := testToday.Add(-time.Minute)
	state, _ := resolveTicket(&approval.TicketState{Open: true}, expires, testToday)
	if state != models.BatchExpired {
		t.Fatalf("got %s, want expired", state)
	}
}

func TestResolveTicket_ClosedWithRejectedLabel(t *testing.T) {
	st := &approval.TicketState{
		Open:   false,
		Labels: []string{"preorder-release", "rejected"},
		Body:   "| [x] | 9780262551311 | The Tide Atlas | 3 | 2 | 2025-03-01 |",
	}
	state, decisions := resolveTicket(st, testToday.Add(time.Hour), testToday)
	if state != models.BatchRejected {
		t.Fatalf("got %s, want rejected", state)
	}
	// A rejected batch carries no approvals, whatever the body says.
	if decisions != nil {
		t.Fatalf("rejected ticket must yield no decisions, got %v", decisions)
	}
}

func TestResolveTicket_ClosedApprovesMarkedRowsOnly(t *testing.T) {
	st := &approval.TicketState{
		Open: false,
		Body: "| [x] | 9780262551311 | The Tide Atlas | 3 | 2 | 2025-03-01 |\n" +
			"| [ ] | 9780262551328 | Salt and Circuit | 1 | 0 | 2025-05-01 |\n" +
			"| [X] | 9780262551335 | A Field Guide to Nothing | 2 | 0 | 2025-05-01 |",
	}
	state, decisions := resolveTicket(st, testToday.Add(time.Hour), testToday)
	if state != models.BatchApproved {
		t.Fatalf("got %s, want approved", state)
	}
	if len(decisions) != 1 || !decisions["9780262551311"] {
		t.Fatalf("want exactly 9780262551311 approved, got %v", decisions)
	}
}

// Closing after the window still counts: expiry only fires while the ticket
// is open.
func TestResolveTicket_LateCloseStillDecides(t *testing.T) {
	st := &approval.TicketState{Open: false, Body: ""}
	state, _ := resolveTicket(st, testToday.Add(-time.Hour), testToday)
	if state != models.BatchApproved {
		t.Fatalf("got %s, want approved", state)
	}
}
