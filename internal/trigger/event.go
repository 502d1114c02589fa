// Package trigger turns heterogeneous inbound-mail signals, Gmail push
// notifications, Graph webhook notifications, poll results, and scheduled
// timer ticks, into one canonical event stream, and filters that stream
// through replay deduplication, anti-loop checks, and user-configured
// conditions.
package trigger

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/mailflow/mailflow/internal/provider"
	"github.com/mailflow/mailflow/internal/store"
)

// Source identifies which ingestion path produced an event.
type Source string

const (
	// SourceGmailPush is a Gmail Pub/Sub push notification.
	SourceGmailPush Source = "gmail_push"

	// SourceOutlookWebhook is a Microsoft Graph change notification.
	SourceOutlookWebhook Source = "outlook_webhook"

	// SourcePoll is the backup polling loop.
	SourcePoll Source = "poll"

	// SourceTimer is a scheduled trigger tick. Timer events carry no
	// external message ID.
	SourceTimer Source = "timer"
)

// Event is the canonical inbound trigger event. Every ingestion path
// normalizes into this shape before the engine sees it.
type Event struct {
	Source      Source         `json:"source"`
	Provider    store.Provider `json:"provider,omitempty"`
	WorkspaceID string         `json:"workspace_id"`
	UserID      string         `json:"user_id"`

	// ExternalMessageID is the provider message ID, empty for timer
	// events. It is the replay-dedup key.
	ExternalMessageID string `json:"external_message_id,omitempty"`

	// ThreadID is the provider-side mail thread the message belongs
	// to, used to anchor reply drafts.
	ThreadID string `json:"thread_id,omitempty"`

	From          string    `json:"from,omitempty"`
	Subject       string    `json:"subject,omitempty"`
	Body          string    `json:"body,omitempty"`
	HasAttachment bool      `json:"has_attachment,omitempty"`
	ReceivedAt    time.Time `json:"received_at"`
}

// EventFromMessage builds an event from a fetched provider message.
func EventFromMessage(
	source Source, watch store.ProviderWatch, msg provider.Message,
) Event {

	return Event{
		Source:            source,
		Provider:          watch.Provider,
		WorkspaceID:       watch.WorkspaceID,
		UserID:            watch.UserID,
		ExternalMessageID: msg.ID,
		ThreadID:          msg.ThreadID,
		From:              msg.From,
		Subject:           msg.Subject,
		Body:              msg.Body,
		HasAttachment:     msg.HasAttachment,
		ReceivedAt:        msg.ReceivedAt,
	}
}

// TimerEvent builds the synthetic event a scheduled trigger fires.
func TimerEvent(workspaceID, userID string, at time.Time) Event {
	return Event{
		Source:      SourceTimer,
		WorkspaceID: workspaceID,
		UserID:      userID,
		ReceivedAt:  at,
	}
}

// TriggerDataJSON renders the event as the JSON persisted on the driving
// execution row. The encoded external message ID doubles as the replay
// dedup record.
func (e Event) TriggerDataJSON() (string, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("encode trigger data: %w", err)
	}

	return string(data), nil
}
