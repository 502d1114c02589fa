package trigger

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/mailflow/mailflow/internal/store"
)

// graphNotificationBatch is the Microsoft Graph change notification
// payload. Graph batches notifications into a single delivery.
type graphNotificationBatch struct {
	Value []graphNotification `json:"value"`
}

type graphNotification struct {
	SubscriptionID string `json:"subscriptionId"`
	ClientState    string `json:"clientState"`
	ChangeType     string `json:"changeType"`
	ResourceData   struct {
		ID string `json:"id"`
	} `json:"resourceData"`
}

// OutlookNormalizer turns Microsoft Graph change notifications into
// canonical events. Each notification is validated against the stored
// client state secret before its message is fetched.
type OutlookNormalizer struct {
	watches   store.WatchStore
	mailboxes MailboxSource
	log       *slog.Logger
}

// NewOutlookNormalizer creates a new Graph notification normalizer.
func NewOutlookNormalizer(
	watches store.WatchStore, mailboxes MailboxSource, log *slog.Logger,
) *OutlookNormalizer {

	return &OutlookNormalizer{
		watches:   watches,
		mailboxes: mailboxes,
		log:       log,
	}
}

// Normalize parses a Graph notification batch and returns the canonical
// events it implies. Notifications that match no active subscription or
// carry a wrong client state are dropped with a log line.
func (n *OutlookNormalizer) Normalize(
	ctx context.Context, body []byte,
) ([]Event, error) {

	var batch graphNotificationBatch
	if err := json.Unmarshal(body, &batch); err != nil {
		n.log.WarnContext(
			ctx, "Dropping malformed graph notification batch",
			"err", err,
		)

		return nil, nil
	}

	var events []Event
	for _, notif := range batch.Value {
		if notif.SubscriptionID == "" ||
			notif.ResourceData.ID == "" {

			n.log.WarnContext(
				ctx, "Dropping incomplete graph notification",
			)

			continue
		}

		watchOpt, err := n.watches.FindWatchByRef(
			ctx, store.ProviderOutlook, notif.SubscriptionID,
		)
		if err != nil {
			return nil, fmt.Errorf(
				"resolve graph subscription: %w", err,
			)
		}
		if watchOpt.IsNone() {
			n.log.InfoContext(
				ctx, "Graph notification matches no "+
					"active subscription",
				"subscription_id", notif.SubscriptionID,
			)

			continue
		}
		watch := watchOpt.UnwrapOr(store.ProviderWatch{})

		// The client state is the shared secret we minted at
		// subscription time. A mismatch means the notification
		// cannot be trusted.
		if subtle.ConstantTimeCompare(
			[]byte(notif.ClientState),
			[]byte(watch.ClientState),
		) != 1 {

			n.log.WarnContext(
				ctx, "Graph notification client state "+
					"mismatch",
				"subscription_id", notif.SubscriptionID,
			)

			continue
		}

		mailbox, err := n.mailboxes.MailboxFor(
			ctx, watch.UserID, store.ProviderOutlook,
		)
		if err != nil {
			return nil, fmt.Errorf("outlook mailbox: %w", err)
		}

		msg, err := mailbox.GetMessage(ctx, notif.ResourceData.ID)
		if err != nil {
			n.log.WarnContext(
				ctx, "Failed to fetch outlook message",
				"message_id", notif.ResourceData.ID,
				"err", err,
			)

			continue
		}

		events = append(
			events,
			EventFromMessage(SourceOutlookWebhook, watch, msg),
		)
	}

	return events, nil
}
