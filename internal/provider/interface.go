// Package provider implements the minimal mail-provider capability surface
// the engine needs: reading messages, managing drafts, sending, and push
// watch registration. Gmail and Microsoft Graph implementations live here.
package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mailflow/mailflow/internal/store"
)

var (
	// ErrHistoryNotSupported is returned by providers that have no
	// incremental history API. Callers fall back to list-based polling.
	ErrHistoryNotSupported = errors.New(
		"incremental history not supported by provider",
	)

	// ErrDraftNotFound is returned when a draft operation references a
	// draft that no longer exists.
	ErrDraftNotFound = errors.New("draft not found")
)

// CredentialError indicates the stored provider credential is missing,
// expired, or was revoked. It instructs the user to reconnect the account
// rather than crashing any watcher loop.
type CredentialError struct {
	Provider store.Provider
	Reason   string
}

// Error returns the error message.
func (e *CredentialError) Error() string {
	return fmt.Sprintf("%s credential error: %s", e.Provider, e.Reason)
}

// Message is a normalized provider message.
type Message struct {
	ID            string
	ThreadID      string
	From          string
	To            []string
	Subject       string
	Body          string
	Snippet       string
	HasAttachment bool
	ReceivedAt    time.Time
}

// Draft is a provider draft reference.
type Draft struct {
	ID       string
	ThreadID string
}

// DraftRequest describes the draft to create. For reply drafts ThreadID
// and ReplyToMessageID anchor the draft in the provider thread; for fresh
// drafts both are empty and To/Subject are required.
type DraftRequest struct {
	ThreadID         string
	ReplyToMessageID string
	To               []string
	Subject          string
	Body             string
}

// WatchRegistration is the provider-side push registration handle returned
// by Watch.
type WatchRegistration struct {
	// ExternalRef is the provider handle: the watched address for
	// Gmail, the subscription ID for Graph.
	ExternalRef string

	// ClientState is the shared secret Graph echoes back in
	// notifications. Empty for Gmail.
	ClientState string

	// Cursor is the initial incremental position (Gmail history ID).
	Cursor string

	Expiration time.Time
}

// Mailbox is the capability surface of one authenticated mail account.
// Implementations wrap the Gmail REST API and Microsoft Graph.
type Mailbox interface {
	// Provider identifies the backing provider.
	Provider() store.Provider

	// Profile returns the authenticated account's primary address.
	Profile(ctx context.Context) (string, error)

	// GetMessage fetches one message by provider ID.
	GetMessage(ctx context.Context, id string) (Message, error)

	// ListMessages returns the newest inbox messages, newest first.
	ListMessages(ctx context.Context, max int) ([]Message, error)

	// History returns the IDs of messages added since the given cursor
	// along with the new cursor, or ErrHistoryNotSupported.
	History(ctx context.Context, cursor string) ([]string, string, error)

	// ListDrafts returns all drafts anchored in the given thread.
	ListDrafts(ctx context.Context, threadID string) ([]Draft, error)

	// CreateDraft creates a new draft.
	CreateDraft(ctx context.Context, req DraftRequest) (Draft, error)

	// DeleteDraft deletes a draft by its ID.
	DeleteDraft(ctx context.Context, draftID string) error

	// Send sends a new message to explicit recipients.
	Send(
		ctx context.Context, to []string, subject, body string,
	) error

	// Reply sends an in-thread reply to the given message.
	Reply(ctx context.Context, threadID, messageID, body string) error

	// Watch establishes a push registration for new inbound mail.
	Watch(ctx context.Context) (WatchRegistration, error)

	// StopWatch tears down the push registration.
	StopWatch(ctx context.Context, externalRef string) error
}
