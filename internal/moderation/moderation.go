// Package moderation implements the submission review workflow: listing the
// pending queue and applying one-shot status transitions. Moderation is a
// trusted surface; callers are assumed authenticated by an external gate, so
// no rate limiting applies here.
package moderation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/qwermap/qwermap/internal/place"
)

// DefaultQueueLimit is the queue size returned when no limit is given.
const DefaultQueueLimit = 20

// ErrAlreadyModerated is returned when a status transition is attempted on
// a place that already left the pending state. Transitions are one-shot:
// pending -> approved or pending -> rejected only.
var ErrAlreadyModerated = errors.New("place has already been moderated")

// Workflow performs moderation operations against the place store.
type Workflow struct {
	repo   place.Repository
	logger *slog.Logger
}

// NewWorkflow creates a moderation workflow. logger may be nil.
func NewWorkflow(repo place.Repository, logger *slog.Logger) *Workflow {
	if logger == nil {
		logger = slog.Default()
	}
	return &Workflow{repo: repo, logger: logger}
}

// ListQueue returns pending places ordered newest-first, capped at limit.
// A non-positive limit falls back to DefaultQueueLimit.
func (w *Workflow) ListQueue(ctx context.Context, limit int) ([]*place.Place, error) {
	if limit <= 0 {
		limit = DefaultQueueLimit
	}
	places, err := w.repo.ListPending(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list moderation queue: %w", err)
	}
	return places, nil
}

// Moderate transitions a pending place to approved or rejected, optionally
// recording a reviewer reason, and returns the full updated record. The
// place is resolved by store id or by transaction id.
func (w *Workflow) Moderate(ctx context.Context, idOrTx, status, reason string) (*place.Place, error) {
	if status != place.StatusApproved && status != place.StatusRejected {
		return nil, place.NewValidationError("status", "INVALID_STATUS",
			"status must be approved or rejected")
	}

	p, err := w.resolve(ctx, idOrTx)
	if err != nil {
		return nil, err
	}
	if p.Status != place.StatusPending {
		return nil, ErrAlreadyModerated
	}

	updated, err := w.repo.UpdateStatus(ctx, p.ID, status, reason)
	if err != nil {
		return nil, fmt.Errorf("update status: %w", err)
	}

	w.logger.Info("place moderated",
		"place_id", updated.ID, "status", updated.Status)
	return updated, nil
}

// resolve looks a place up by store id first, then by transaction id.
func (w *Workflow) resolve(ctx context.Context, idOrTx string) (*place.Place, error) {
	p, err := w.repo.GetByID(ctx, idOrTx)
	if err == nil {
		return p, nil
	}
	if err != place.ErrNotFound {
		return nil, fmt.Errorf("lookup place: %w", err)
	}
	p, err = w.repo.GetByTransactionID(ctx, idOrTx)
	if err == place.ErrNotFound {
		return nil, place.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lookup place: %w", err)
	}
	return p, nil
}
