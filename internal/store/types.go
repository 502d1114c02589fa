package store

import (
	"errors"
	"time"
)

// ExecutionStatus is the lifecycle status of a workflow execution. Status
// transitions are owned by the execution engine; the store only persists
// them.
type ExecutionStatus string

const (
	// StatusWaiting means the execution is armed and waiting for trigger
	// events.
	StatusWaiting ExecutionStatus = "waiting"

	// StatusRunning means a trigger event is currently being dispatched
	// through the action blocks.
	StatusRunning ExecutionStatus = "running"

	// StatusPaused means the execution was stopped by the user and will
	// not react to further events.
	StatusPaused ExecutionStatus = "paused"

	// StatusFailed means the execution hit an unrecoverable error.
	StatusFailed ExecutionStatus = "failed"

	// StatusCompleted means the execution finished its terminal block.
	StatusCompleted ExecutionStatus = "completed"
)

// IsTerminal returns true if no further trigger events should be admitted
// for an execution in this status.
func (s ExecutionStatus) IsTerminal() bool {
	switch s {
	case StatusPaused, StatusFailed, StatusCompleted:
		return true
	default:
		return false
	}
}

// Provider identifies a mail provider integration.
type Provider string

const (
	// ProviderGmail is the Gmail REST API integration.
	ProviderGmail Provider = "gmail"

	// ProviderOutlook is the Microsoft Graph integration.
	ProviderOutlook Provider = "outlook"
)

// PipelineBlock is one block of a workspace pipeline as authored by the
// external editor. Blocks are ordered by Position; condition blocks open a
// scope that runs until the matching end marker.
type PipelineBlock struct {
	ID          int64
	BlockID     string
	WorkspaceID string
	Type        string
	Title       string
	Position    int

	// ParentConditionID is the block ID of the enclosing condition
	// block, empty for top-level blocks.
	ParentConditionID string
}

// BlockConfig is the opaque per-block configuration written by the editor.
// The engine only interprets it inside the matcher and action handlers.
type BlockConfig struct {
	WorkspaceID string
	BlockID     string
	ConfigJSON  string
}

// WorkflowExecution is one long-lived workflow run.
type WorkflowExecution struct {
	ID          string
	WorkspaceID string
	UserID      string
	Status      ExecutionStatus

	// TriggerData is the JSON-encoded normalized event that most
	// recently drove this execution. It doubles as the replay dedup
	// record, keyed on the external message ID it contains.
	TriggerData string

	CurrentBlockIndex int
	CreatedAt         time.Time
}

// EmailConversation maps a derived conversation key to an assistant memory
// thread. Rows are append-only.
type EmailConversation struct {
	ID              int64
	ConversationKey string
	ThreadID        string
	WorkspaceID     string
	UserID          string
	SenderEmail     string
	CreatedAt       time.Time
}

// ProviderWatch is a provider-side push registration: a Gmail watch or a
// Graph subscription. ExternalRef is the provider's handle for the
// registration (the watched email address for Gmail, the subscription ID
// for Graph).
type ProviderWatch struct {
	UserID      string
	WorkspaceID string
	Provider    Provider
	ExternalRef string

	// ClientState is the shared secret echoed back in Graph
	// notifications. Unused for Gmail.
	ClientState string

	// Cursor is the provider-side incremental position, the last seen
	// Gmail history ID.
	Cursor string

	// ProfileAddress is the watched account's own email address,
	// captured at watch setup so the anti-loop check does not need a
	// live profile lookup per event.
	ProfileAddress string

	Expiration time.Time
}

// Expired returns true if the watch registration has lapsed at the given
// instant.
func (w ProviderWatch) Expired(now time.Time) bool {
	return !w.Expiration.IsZero() && w.Expiration.Before(now)
}

// OAuthCredential is an opaque stored provider credential. The engine only
// consults existence and expiry; refreshing is the provider layer's job.
type OAuthCredential struct {
	UserID       string
	Provider     Provider
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
	Scope        string
}

// OAuthState is one pending OAuth handshake, keyed by the random state
// token handed to the provider's consent page.
type OAuthState struct {
	State       string
	UserID      string
	RedirectURI string
	ExpiresAt   time.Time
}

// PollCursor tracks the newest message the polling normalizer has seen for
// a workspace.
type PollCursor struct {
	WorkspaceID   string
	UserID        string
	LastMessageID string
}

var (
	// ErrExecutionNotFound is returned when an execution lookup by ID
	// finds no row.
	ErrExecutionNotFound = errors.New("workflow execution not found")

	// ErrConversationNotFound is returned when a conversation lookup by
	// key finds no row.
	ErrConversationNotFound = errors.New("email conversation not found")

	// ErrBlockConfigNotFound is returned when no configuration has been
	// stored for a block.
	ErrBlockConfigNotFound = errors.New("block config not found")
)
