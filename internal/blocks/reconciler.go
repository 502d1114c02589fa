package blocks

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mailflow/mailflow/internal/provider"
)

// Reconciler enforces replace-not-append semantics for provider drafts:
// after any number of reconciliations for one thread, exactly one draft
// exists for that thread.
type Reconciler struct {
	log *slog.Logger
}

// NewReconciler creates a new draft reconciler.
func NewReconciler(log *slog.Logger) *Reconciler {
	return &Reconciler{log: log}
}

// UpsertDraft deletes every existing draft anchored in the request's
// thread, then creates exactly one new draft. Deleting stale drafts is
// best-effort: a failed delete is logged and never blocks creating the
// fresh draft, since the latest content is the priority.
func (r *Reconciler) UpsertDraft(
	ctx context.Context, mailbox provider.Mailbox,
	req provider.DraftRequest,
) (provider.Draft, error) {

	if req.ThreadID != "" {
		stale, err := mailbox.ListDrafts(ctx, req.ThreadID)
		if err != nil {
			r.log.WarnContext(
				ctx, "Failed to list existing drafts",
				"thread_id", req.ThreadID,
				"err", err,
			)
		}

		for _, draft := range stale {
			err := mailbox.DeleteDraft(ctx, draft.ID)
			if err != nil {
				r.log.WarnContext(
					ctx, "Failed to delete stale draft",
					"draft_id", draft.ID,
					"thread_id", req.ThreadID,
					"err", err,
				)
			}
		}
	}

	draft, err := mailbox.CreateDraft(ctx, req)
	if err != nil {
		return provider.Draft{}, fmt.Errorf("create draft: %w", err)
	}

	return draft, nil
}
