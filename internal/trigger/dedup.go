package trigger

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mailflow/mailflow/internal/store"
)

// DropReason explains why the deduplicator rejected an event.
type DropReason string

const (
	// DropNone means the event was admitted.
	DropNone DropReason = ""

	// DropDuplicate means the external message ID was already recorded
	// as processed in the workspace.
	DropDuplicate DropReason = "duplicate message"

	// DropSelfAuthored means the event was authored by the watched
	// account itself.
	DropSelfAuthored DropReason = "self-authored message"
)

// Deduplicator rejects replayed webhook deliveries and messages the
// watched account sent to itself. Both checks are advisory reads against
// the store; a race between two concurrent deliveries of the same message
// is accepted.
type Deduplicator struct {
	execs store.ExecutionStore
	log   *slog.Logger
}

// NewDeduplicator creates a new deduplicator.
func NewDeduplicator(
	execs store.ExecutionStore, log *slog.Logger,
) *Deduplicator {

	return &Deduplicator{execs: execs, log: log}
}

// Admit reports whether the event should proceed to dispatch. The profile
// address is the authenticated account's own address; events whose sender
// contains it are dropped to prevent reply loops. Timer events carry no
// message ID or sender and always pass.
func (d *Deduplicator) Admit(
	ctx context.Context, event Event, profileAddress string,
) (bool, DropReason, error) {

	if event.ExternalMessageID != "" {
		seen, err := d.execs.HasProcessedMessage(
			ctx, event.WorkspaceID, event.ExternalMessageID,
		)
		if err != nil {
			return false, DropNone, fmt.Errorf(
				"replay check: %w", err,
			)
		}
		if seen {
			d.log.InfoContext(
				ctx, "Dropping duplicate event",
				"workspace_id", event.WorkspaceID,
				"external_message_id",
				event.ExternalMessageID,
			)

			return false, DropDuplicate, nil
		}
	}

	if profileAddress != "" && event.From != "" {
		if strings.Contains(
			strings.ToLower(event.From),
			strings.ToLower(profileAddress),
		) {

			d.log.InfoContext(
				ctx, "Dropping self-authored event",
				"workspace_id", event.WorkspaceID,
				"from", event.From,
			)

			return false, DropSelfAuthored, nil
		}
	}

	return true, DropNone, nil
}
