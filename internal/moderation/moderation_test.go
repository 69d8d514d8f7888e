package moderation

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/qwermap/qwermap/internal/place"
)

// pendingPlace inserts a pending place and returns it.
func pendingPlace(t *testing.T, repo *place.InMemoryRepository, id string) *place.Place {
	t.Helper()
	p := &place.Place{
		ID:            id,
		TransactionID: "tx-" + id,
		Name:          "Place " + id,
		Location:      place.NewPoint(-73.98, 40.73),
		PlaceType:     place.TypeCurrent,
		Category:      "bar",
		Status:        place.StatusPending,
		CreatedAt:     time.Now().UTC(),
	}
	if err := repo.Insert(context.Background(), p); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	return p
}

// TestModerate_Approve tests the pending -> approved transition.
func TestModerate_Approve(t *testing.T) {
	repo := place.NewInMemoryRepository()
	wf := NewWorkflow(repo, nil)
	pendingPlace(t, repo, "p1")

	updated, err := wf.Moderate(context.Background(), "p1", place.StatusApproved, "")
	if err != nil {
		t.Fatalf("Moderate failed: %v", err)
	}
	if updated.Status != place.StatusApproved {
		t.Errorf("expected approved, got %s", updated.Status)
	}
	if _, ok := updated.AdditionalInfo[place.ModerationReasonKey]; ok {
		t.Error("no reason should be recorded when none was given")
	}
}

// TestModerate_RejectWithReason tests that the reviewer reason is recorded.
func TestModerate_RejectWithReason(t *testing.T) {
	repo := place.NewInMemoryRepository()
	wf := NewWorkflow(repo, nil)
	pendingPlace(t, repo, "p1")

	updated, err := wf.Moderate(context.Background(), "p1", place.StatusRejected, "duplicate listing")
	if err != nil {
		t.Fatalf("Moderate failed: %v", err)
	}
	if updated.Status != place.StatusRejected {
		t.Errorf("expected rejected, got %s", updated.Status)
	}
	if updated.AdditionalInfo[place.ModerationReasonKey] != "duplicate listing" {
		t.Errorf("reason not recorded: %v", updated.AdditionalInfo)
	}
}

// TestModerate_ByTransactionID tests id-or-transaction-id resolution.
func TestModerate_ByTransactionID(t *testing.T) {
	repo := place.NewInMemoryRepository()
	wf := NewWorkflow(repo, nil)
	pendingPlace(t, repo, "p1")

	updated, err := wf.Moderate(context.Background(), "tx-p1", place.StatusApproved, "")
	if err != nil {
		t.Fatalf("Moderate failed: %v", err)
	}
	if updated.ID != "p1" {
		t.Errorf("resolved wrong place: %s", updated.ID)
	}
}

// TestModerate_InvalidStatus tests rejection of non-terminal statuses.
func TestModerate_InvalidStatus(t *testing.T) {
	repo := place.NewInMemoryRepository()
	wf := NewWorkflow(repo, nil)
	pendingPlace(t, repo, "p1")

	for _, status := range []string{"", "pending", "deleted"} {
		_, err := wf.Moderate(context.Background(), "p1", status, "")
		var ve *place.ValidationError
		if !errors.As(err, &ve) {
			t.Errorf("status %q: expected ValidationError, got %v", status, err)
			continue
		}
		if ve.Code != "INVALID_STATUS" {
			t.Errorf("status %q: expected INVALID_STATUS, got %s", status, ve.Code)
		}
	}
}

// TestModerate_OneShot tests that terminal places cannot be re-moderated.
func TestModerate_OneShot(t *testing.T) {
	repo := place.NewInMemoryRepository()
	wf := NewWorkflow(repo, nil)
	pendingPlace(t, repo, "p1")

	if _, err := wf.Moderate(context.Background(), "p1", place.StatusApproved, ""); err != nil {
		t.Fatalf("first moderation failed: %v", err)
	}

	_, err := wf.Moderate(context.Background(), "p1", place.StatusRejected, "changed my mind")
	if !errors.Is(err, ErrAlreadyModerated) {
		t.Errorf("expected ErrAlreadyModerated, got %v", err)
	}
}

// TestModerate_NotFound tests the miss path.
func TestModerate_NotFound(t *testing.T) {
	wf := NewWorkflow(place.NewInMemoryRepository(), nil)

	_, err := wf.Moderate(context.Background(), "missing", place.StatusApproved, "")
	if !errors.Is(err, place.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

// TestListQueue tests ordering and the default cap.
func TestListQueue(t *testing.T) {
	repo := place.NewInMemoryRepository()
	wf := NewWorkflow(repo, nil)

	base := time.Now().UTC()
	for i := 0; i < 25; i++ {
		p := pendingPlace(t, repo, fmt.Sprintf("p%02d", i))
		p.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		// Re-insert with the adjusted timestamp.
		if err := repo.Insert(context.Background(), p); err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
	}

	queue, err := wf.ListQueue(context.Background(), 0)
	if err != nil {
		t.Fatalf("ListQueue failed: %v", err)
	}
	if len(queue) != DefaultQueueLimit {
		t.Errorf("expected default cap %d, got %d", DefaultQueueLimit, len(queue))
	}
	if queue[0].ID != "p24" {
		t.Errorf("expected newest first, got %s", queue[0].ID)
	}

	queue, err = wf.ListQueue(context.Background(), 5)
	if err != nil {
		t.Fatalf("ListQueue failed: %v", err)
	}
	if len(queue) != 5 {
		t.Errorf("expected 5, got %d", len(queue))
	}
}
