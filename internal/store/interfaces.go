package store

import (
	"context"

	"github.com/lightningnetwork/lnd/fn/v2"
)

// BlockStore handles pipeline block and block configuration persistence.
type BlockStore interface {
	// ReplaceBlocks atomically replaces the block set of a workspace
	// with the given blocks.
	ReplaceBlocks(
		ctx context.Context, workspaceID string,
		blocks []PipelineBlock,
	) error

	// ListBlocks returns all blocks of a workspace ordered by position.
	ListBlocks(
		ctx context.Context, workspaceID string,
	) ([]PipelineBlock, error)

	// GetBlockConfig returns the stored configuration for a block, or
	// ErrBlockConfigNotFound.
	GetBlockConfig(
		ctx context.Context, workspaceID, blockID string,
	) (BlockConfig, error)

	// SetBlockConfig upserts the configuration for a block.
	SetBlockConfig(ctx context.Context, cfg BlockConfig) error

	// ListBlockConfigs returns all stored block configurations for a
	// workspace, keyed by block ID.
	ListBlockConfigs(
		ctx context.Context, workspaceID string,
	) (map[string]BlockConfig, error)
}

// ExecutionStore handles workflow execution persistence.
type ExecutionStore interface {
	// CreateExecution inserts a new execution row.
	CreateExecution(ctx context.Context, exec WorkflowExecution) error

	// GetExecution returns an execution by ID, or ErrExecutionNotFound.
	GetExecution(
		ctx context.Context, id string,
	) (WorkflowExecution, error)

	// FindActiveExecution returns the waiting or running execution for
	// the given scope, if one exists. At most one such row exists per
	// (workspace, user).
	FindActiveExecution(
		ctx context.Context, workspaceID, userID string,
	) (fn.Option[WorkflowExecution], error)

	// ListExecutions returns all executions for the given scope, newest
	// first.
	ListExecutions(
		ctx context.Context, workspaceID, userID string,
	) ([]WorkflowExecution, error)

	// ListNonTerminalExecutions returns every waiting or running
	// execution across all scopes. Used by the backup sweep to
	// re-ensure watches and timers.
	ListNonTerminalExecutions(
		ctx context.Context,
	) ([]WorkflowExecution, error)

	// UpdateExecutionStatus sets the status of an execution.
	UpdateExecutionStatus(
		ctx context.Context, id string, status ExecutionStatus,
	) error

	// UpdateExecutionTriggerData records the JSON of the event that is
	// driving the execution.
	UpdateExecutionTriggerData(
		ctx context.Context, id, triggerData string,
	) error

	// UpdateExecutionBlockIndex records dispatch progress.
	UpdateExecutionBlockIndex(
		ctx context.Context, id string, index int,
	) error

	// DeleteExecution removes an execution row. Used to roll back a
	// partially established launch.
	DeleteExecution(ctx context.Context, id string) error

	// HasProcessedMessage reports whether any execution in the
	// workspace has trigger data containing the given external message
	// ID.
	HasProcessedMessage(
		ctx context.Context, workspaceID, externalMessageID string,
	) (bool, error)
}

// ConversationStore handles conversation-to-thread mapping persistence.
type ConversationStore interface {
	// CreateConversation inserts a new conversation row. A unique
	// constraint violation on the conversation key means another writer
	// won the race; callers re-read by key.
	CreateConversation(
		ctx context.Context, conv EmailConversation,
	) (EmailConversation, error)

	// GetConversationByKey returns the conversation for the given key,
	// or ErrConversationNotFound.
	GetConversationByKey(
		ctx context.Context, key string,
	) (EmailConversation, error)
}

// WatchStore handles provider push registration persistence.
type WatchStore interface {
	// UpsertWatch inserts or replaces the watch row for its
	// (user, workspace, provider) key.
	UpsertWatch(ctx context.Context, watch ProviderWatch) error

	// GetWatch returns the watch for the given scope, if present.
	GetWatch(
		ctx context.Context, userID, workspaceID string,
		provider Provider,
	) (fn.Option[ProviderWatch], error)

	// FindWatchByRef resolves a watch from the provider's handle, the
	// watched address for Gmail or the subscription ID for Graph.
	FindWatchByRef(
		ctx context.Context, provider Provider, externalRef string,
	) (fn.Option[ProviderWatch], error)

	// UpdateWatchCursor advances the provider-side incremental cursor.
	UpdateWatchCursor(
		ctx context.Context, userID, workspaceID string,
		provider Provider, cursor string,
	) error

	// DeleteWatch removes a watch row.
	DeleteWatch(
		ctx context.Context, userID, workspaceID string,
		provider Provider,
	) error
}

// CredentialStore handles stored OAuth credentials and handshake state.
type CredentialStore interface {
	// UpsertCredential inserts or replaces the credential for its
	// (user, provider) key.
	UpsertCredential(ctx context.Context, cred OAuthCredential) error

	// GetCredential returns the stored credential for the given user
	// and provider, if present.
	GetCredential(
		ctx context.Context, userID string, provider Provider,
	) (fn.Option[OAuthCredential], error)

	// PutOAuthState stores a pending OAuth handshake.
	PutOAuthState(ctx context.Context, state OAuthState) error

	// TakeOAuthState consumes a pending handshake by its state token.
	// The row is deleted; expired rows are never returned.
	TakeOAuthState(
		ctx context.Context, state string,
	) (fn.Option[OAuthState], error)
}

// PollCursorStore persists the polling normalizer's position.
type PollCursorStore interface {
	// GetPollCursor returns the poll cursor for a workspace, if one has
	// been recorded.
	GetPollCursor(
		ctx context.Context, workspaceID string,
	) (fn.Option[PollCursor], error)

	// SetPollCursor inserts or replaces the poll cursor for its
	// workspace.
	SetPollCursor(ctx context.Context, cursor PollCursor) error
}

// Store is the complete persistence surface of the engine.
type Store interface {
	BlockStore
	ExecutionStore
	ConversationStore
	WatchStore
	CredentialStore
	PollCursorStore

	// Close releases the underlying database resources.
	Close() error
}
