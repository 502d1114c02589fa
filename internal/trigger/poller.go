package trigger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mailflow/mailflow/internal/store"
)

const (
	// DefaultPollInterval is how often the backup polling loop scans
	// for new messages.
	DefaultPollInterval = 30 * time.Second

	// pollBatchSize is the number of newest messages fetched per scan.
	pollBatchSize = 10
)

// Poller is the backup ingestion path: it periodically lists the newest
// inbox messages and emits events for everything newer than the stored
// cursor. It catches messages that push delivery dropped.
type Poller struct {
	cursors   store.PollCursorStore
	mailboxes MailboxSource
	interval  time.Duration
	log       *slog.Logger
}

// NewPoller creates a new poller.
func NewPoller(
	cursors store.PollCursorStore, mailboxes MailboxSource,
	log *slog.Logger,
) *Poller {

	return &Poller{
		cursors:   cursors,
		mailboxes: mailboxes,
		interval:  DefaultPollInterval,
		log:       log,
	}
}

// PollOnce performs one scan for the given scope and returns the events
// for all messages newer than the stored cursor. On the first scan there
// is no cursor; the newest message becomes the baseline and no events are
// emitted.
func (p *Poller) PollOnce(
	ctx context.Context, workspaceID, userID string,
	prov store.Provider,
) ([]Event, error) {

	mailbox, err := p.mailboxes.MailboxFor(ctx, userID, prov)
	if err != nil {
		return nil, fmt.Errorf("poll mailbox: %w", err)
	}

	msgs, err := mailbox.ListMessages(ctx, pollBatchSize)
	if err != nil {
		return nil, fmt.Errorf("poll list messages: %w", err)
	}
	if len(msgs) == 0 {
		return nil, nil
	}

	cursorOpt, err := p.cursors.GetPollCursor(ctx, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("poll cursor: %w", err)
	}

	newest := msgs[0].ID

	if cursorOpt.IsNone() {
		// First scan: record the baseline without reacting to
		// historical mail.
		err := p.cursors.SetPollCursor(ctx, store.PollCursor{
			WorkspaceID:   workspaceID,
			UserID:        userID,
			LastMessageID: newest,
		})
		if err != nil {
			return nil, fmt.Errorf("baseline poll cursor: %w", err)
		}

		return nil, nil
	}
	lastSeen := cursorOpt.UnwrapOr(store.PollCursor{}).LastMessageID

	// Messages are newest first; collect everything ahead of the last
	// seen ID. If the last seen message fell out of the batch entirely,
	// the whole batch counts as new.
	var events []Event
	for _, msg := range msgs {
		if msg.ID == lastSeen {
			break
		}

		events = append(events, Event{
			Source:            SourcePoll,
			Provider:          prov,
			WorkspaceID:       workspaceID,
			UserID:            userID,
			ExternalMessageID: msg.ID,
			ThreadID:          msg.ThreadID,
			From:              msg.From,
			Subject:           msg.Subject,
			Body:              msg.Body,
			HasAttachment:     msg.HasAttachment,
			ReceivedAt:        msg.ReceivedAt,
		})
	}

	if newest != lastSeen {
		err := p.cursors.SetPollCursor(ctx, store.PollCursor{
			WorkspaceID:   workspaceID,
			UserID:        userID,
			LastMessageID: newest,
		})
		if err != nil {
			return nil, fmt.Errorf(
				"advance poll cursor: %w", err,
			)
		}
	}

	return events, nil
}

// Run polls the given scope until the context is canceled, handing each
// batch of events to the sink. Poll failures are logged and retried on the
// next tick.
func (p *Poller) Run(
	ctx context.Context, workspaceID, userID string,
	prov store.Provider, sink func(context.Context, []Event),
) {

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			events, err := p.PollOnce(
				ctx, workspaceID, userID, prov,
			)
			if err != nil {
				p.log.WarnContext(
					ctx, "Poll scan failed",
					"workspace_id", workspaceID,
					"err", err,
				)

				continue
			}

			if len(events) > 0 {
				sink(ctx, events)
			}
		}
	}
}
