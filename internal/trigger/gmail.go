package trigger

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/mailflow/mailflow/internal/provider"
	"github.com/mailflow/mailflow/internal/store"
)

// MailboxSource resolves an authenticated mailbox for a user. The engine
// implements this over the credential store and the provider constructors.
type MailboxSource interface {
	// MailboxFor returns the mailbox of the given user at the given
	// provider.
	MailboxFor(
		ctx context.Context, userID string, p store.Provider,
	) (provider.Mailbox, error)
}

// pubsubEnvelope is the Pub/Sub push delivery wrapper Gmail notifications
// arrive in.
type pubsubEnvelope struct {
	Message struct {
		Data      string `json:"data"`
		MessageID string `json:"messageId"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

// gmailNotification is the base64-decoded payload of a Gmail push
// notification.
type gmailNotification struct {
	EmailAddress string `json:"emailAddress"`
	HistoryID    uint64 `json:"historyId"`
}

// GmailNormalizer turns Gmail Pub/Sub push deliveries into canonical
// events. A push notification only says "something changed for this
// address"; the normalizer resolves the local watch, walks the history API
// from the stored cursor, and fetches each added message.
type GmailNormalizer struct {
	watches   store.WatchStore
	mailboxes MailboxSource
	log       *slog.Logger
}

// NewGmailNormalizer creates a new Gmail push normalizer.
func NewGmailNormalizer(
	watches store.WatchStore, mailboxes MailboxSource, log *slog.Logger,
) *GmailNormalizer {

	return &GmailNormalizer{
		watches:   watches,
		mailboxes: mailboxes,
		log:       log,
	}
}

// Normalize parses a Pub/Sub push body and returns the canonical events it
// implies. Malformed payloads and notifications matching no active watch
// are dropped with a log line, never an error: provider retries would not
// make them valid.
func (n *GmailNormalizer) Normalize(
	ctx context.Context, body []byte,
) ([]Event, error) {

	var envelope pubsubEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		n.log.WarnContext(
			ctx, "Dropping malformed pubsub envelope",
			"err", err,
		)

		return nil, nil
	}

	decoded, err := base64.StdEncoding.DecodeString(envelope.Message.Data)
	if err != nil {
		n.log.WarnContext(
			ctx, "Dropping undecodable pubsub data", "err", err,
		)

		return nil, nil
	}

	var notif gmailNotification
	if err := json.Unmarshal(decoded, &notif); err != nil ||
		notif.EmailAddress == "" {

		n.log.WarnContext(
			ctx, "Dropping malformed gmail notification",
			"err", err,
		)

		return nil, nil
	}

	watchOpt, err := n.watches.FindWatchByRef(
		ctx, store.ProviderGmail, notif.EmailAddress,
	)
	if err != nil {
		return nil, fmt.Errorf("resolve gmail watch: %w", err)
	}
	if watchOpt.IsNone() {
		n.log.InfoContext(
			ctx, "Gmail notification matches no active watch",
			"email_address", notif.EmailAddress,
		)

		return nil, nil
	}
	watch := watchOpt.UnwrapOr(store.ProviderWatch{})

	if watch.Expired(time.Now()) {
		n.log.WarnContext(
			ctx, "Gmail watch expired, ignoring notification",
			"email_address", notif.EmailAddress,
			"expiration", watch.Expiration,
		)

		return nil, nil
	}

	mailbox, err := n.mailboxes.MailboxFor(
		ctx, watch.UserID, store.ProviderGmail,
	)
	if err != nil {
		return nil, fmt.Errorf("gmail mailbox: %w", err)
	}

	// Walk the history API from the stored cursor. On the very first
	// notification there is no cursor yet, so baseline to the
	// notification's history ID without emitting events.
	cursor := watch.Cursor
	if cursor == "" {
		err := n.watches.UpdateWatchCursor(
			ctx, watch.UserID, watch.WorkspaceID,
			store.ProviderGmail,
			fmt.Sprintf("%d", notif.HistoryID),
		)
		if err != nil {
			return nil, fmt.Errorf(
				"baseline gmail cursor: %w", err,
			)
		}

		return nil, nil
	}

	msgIDs, newCursor, err := mailbox.History(ctx, cursor)
	if err != nil {
		return nil, fmt.Errorf("gmail history: %w", err)
	}

	var events []Event
	for _, id := range msgIDs {
		msg, err := mailbox.GetMessage(ctx, id)
		if err != nil {
			n.log.WarnContext(
				ctx, "Failed to fetch gmail message",
				"message_id", id, "err", err,
			)

			continue
		}

		events = append(
			events,
			EventFromMessage(SourceGmailPush, watch, msg),
		)
	}

	if newCursor != "" && newCursor != cursor {
		err := n.watches.UpdateWatchCursor(
			ctx, watch.UserID, watch.WorkspaceID,
			store.ProviderGmail, newCursor,
		)
		if err != nil {
			return nil, fmt.Errorf(
				"advance gmail cursor: %w", err,
			)
		}
	}

	return events, nil
}
