package store

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/mailflow/mailflow/internal/db"
	"github.com/mattn/go-sqlite3"
)

// MockStore provides an in-memory implementation of the Store interface for
// testing purposes. All data is stored in maps and protected by a mutex.
type MockStore struct {
	mu sync.RWMutex

	blocks       map[string][]PipelineBlock // workspaceID -> ordered blocks
	blockConfigs map[string]BlockConfig     // workspaceID/blockID

	executions map[string]WorkflowExecution

	conversations map[string]EmailConversation // conversationKey

	watches map[string]ProviderWatch // userID/workspaceID/provider

	credentials map[string]OAuthCredential // userID/provider
	oauthStates map[string]OAuthState      // state token

	pollCursors map[string]PollCursor // workspaceID

	nextConversationID int64
}

// A compile-time check that MockStore satisfies the Store interface.
var _ Store = (*MockStore)(nil)

// NewMockStore creates a new in-memory mock store.
func NewMockStore() *MockStore {
	return &MockStore{
		blocks:             make(map[string][]PipelineBlock),
		blockConfigs:       make(map[string]BlockConfig),
		executions:         make(map[string]WorkflowExecution),
		conversations:      make(map[string]EmailConversation),
		watches:            make(map[string]ProviderWatch),
		credentials:        make(map[string]OAuthCredential),
		oauthStates:        make(map[string]OAuthState),
		pollCursors:        make(map[string]PollCursor),
		nextConversationID: 1,
	}
}

// Close is a no-op for the mock store.
func (m *MockStore) Close() error {
	return nil
}

func configKey(workspaceID, blockID string) string {
	return workspaceID + "/" + blockID
}

func watchKey(userID, workspaceID string, provider Provider) string {
	return userID + "/" + workspaceID + "/" + string(provider)
}

func credentialKey(userID string, provider Provider) string {
	return userID + "/" + string(provider)
}

// ReplaceBlocks atomically replaces the block set of a workspace.
func (m *MockStore) ReplaceBlocks(
	_ context.Context, workspaceID string, blocks []PipelineBlock,
) error {

	m.mu.Lock()
	defer m.mu.Unlock()

	sorted := make([]PipelineBlock, len(blocks))
	copy(sorted, blocks)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Position < sorted[j].Position
	})
	for i := range sorted {
		sorted[i].WorkspaceID = workspaceID
		sorted[i].ID = int64(i + 1)
	}

	m.blocks[workspaceID] = sorted

	return nil
}

// ListBlocks returns all blocks of a workspace ordered by position.
func (m *MockStore) ListBlocks(
	_ context.Context, workspaceID string,
) ([]PipelineBlock, error) {

	m.mu.RLock()
	defer m.mu.RUnlock()

	blocks := make([]PipelineBlock, len(m.blocks[workspaceID]))
	copy(blocks, m.blocks[workspaceID])

	return blocks, nil
}

// GetBlockConfig returns the stored configuration for a block.
func (m *MockStore) GetBlockConfig(
	_ context.Context, workspaceID, blockID string,
) (BlockConfig, error) {

	m.mu.RLock()
	defer m.mu.RUnlock()

	cfg, ok := m.blockConfigs[configKey(workspaceID, blockID)]
	if !ok {
		return BlockConfig{}, ErrBlockConfigNotFound
	}

	return cfg, nil
}

// SetBlockConfig upserts the configuration for a block.
func (m *MockStore) SetBlockConfig(
	_ context.Context, cfg BlockConfig,
) error {

	m.mu.Lock()
	defer m.mu.Unlock()

	m.blockConfigs[configKey(cfg.WorkspaceID, cfg.BlockID)] = cfg

	return nil
}

// ListBlockConfigs returns all stored block configurations for a workspace.
func (m *MockStore) ListBlockConfigs(
	_ context.Context, workspaceID string,
) (map[string]BlockConfig, error) {

	m.mu.RLock()
	defer m.mu.RUnlock()

	configs := make(map[string]BlockConfig)
	for key, cfg := range m.blockConfigs {
		if strings.HasPrefix(key, workspaceID+"/") {
			configs[cfg.BlockID] = cfg
		}
	}

	return configs, nil
}

// CreateExecution inserts a new execution row.
func (m *MockStore) CreateExecution(
	_ context.Context, exec WorkflowExecution,
) error {

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.executions[exec.ID]; ok {
		return &db.ErrSQLUniqueConstraintViolation{
			DBError: sqlite3.Error{
				Code:         sqlite3.ErrConstraint,
				ExtendedCode: sqlite3.ErrConstraintPrimaryKey,
			},
		}
	}

	m.executions[exec.ID] = exec

	return nil
}

// GetExecution returns an execution by ID.
func (m *MockStore) GetExecution(
	_ context.Context, id string,
) (WorkflowExecution, error) {

	m.mu.RLock()
	defer m.mu.RUnlock()

	exec, ok := m.executions[id]
	if !ok {
		return WorkflowExecution{}, ErrExecutionNotFound
	}

	return exec, nil
}

// FindActiveExecution returns the waiting or running execution for the
// given scope, if one exists.
func (m *MockStore) FindActiveExecution(
	_ context.Context, workspaceID, userID string,
) (fn.Option[WorkflowExecution], error) {

	m.mu.RLock()
	defer m.mu.RUnlock()

	var (
		found  bool
		newest WorkflowExecution
	)
	for _, exec := range m.executions {
		if exec.WorkspaceID != workspaceID ||
			exec.UserID != userID ||
			exec.Status.IsTerminal() {

			continue
		}
		if !found || exec.CreatedAt.After(newest.CreatedAt) {
			newest = exec
			found = true
		}
	}

	if !found {
		return fn.None[WorkflowExecution](), nil
	}

	return fn.Some(newest), nil
}

// ListExecutions returns all executions for the given scope, newest first.
func (m *MockStore) ListExecutions(
	_ context.Context, workspaceID, userID string,
) ([]WorkflowExecution, error) {

	m.mu.RLock()
	defer m.mu.RUnlock()

	var execs []WorkflowExecution
	for _, exec := range m.executions {
		if exec.WorkspaceID == workspaceID && exec.UserID == userID {
			execs = append(execs, exec)
		}
	}
	sort.Slice(execs, func(i, j int) bool {
		return execs[i].CreatedAt.After(execs[j].CreatedAt)
	})

	return execs, nil
}

// ListNonTerminalExecutions returns every waiting or running execution.
func (m *MockStore) ListNonTerminalExecutions(
	_ context.Context,
) ([]WorkflowExecution, error) {

	m.mu.RLock()
	defer m.mu.RUnlock()

	var execs []WorkflowExecution
	for _, exec := range m.executions {
		if !exec.Status.IsTerminal() {
			execs = append(execs, exec)
		}
	}

	return execs, nil
}

// UpdateExecutionStatus sets the status of an execution.
func (m *MockStore) UpdateExecutionStatus(
	_ context.Context, id string, status ExecutionStatus,
) error {

	m.mu.Lock()
	defer m.mu.Unlock()

	exec, ok := m.executions[id]
	if !ok {
		return ErrExecutionNotFound
	}
	exec.Status = status
	m.executions[id] = exec

	return nil
}

// UpdateExecutionTriggerData records the JSON of the driving event.
func (m *MockStore) UpdateExecutionTriggerData(
	_ context.Context, id, triggerData string,
) error {

	m.mu.Lock()
	defer m.mu.Unlock()

	exec, ok := m.executions[id]
	if !ok {
		return ErrExecutionNotFound
	}
	exec.TriggerData = triggerData
	m.executions[id] = exec

	return nil
}

// UpdateExecutionBlockIndex records dispatch progress.
func (m *MockStore) UpdateExecutionBlockIndex(
	_ context.Context, id string, index int,
) error {

	m.mu.Lock()
	defer m.mu.Unlock()

	exec, ok := m.executions[id]
	if !ok {
		return ErrExecutionNotFound
	}
	exec.CurrentBlockIndex = index
	m.executions[id] = exec

	return nil
}

// DeleteExecution removes an execution row.
func (m *MockStore) DeleteExecution(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.executions, id)

	return nil
}

// HasProcessedMessage reports whether any execution in the workspace has
// trigger data recording the given external message ID. Matches are exact
// on the extracted field, mirroring the SQL store.
func (m *MockStore) HasProcessedMessage(
	_ context.Context, workspaceID, externalMessageID string,
) (bool, error) {

	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, exec := range m.executions {
		if exec.WorkspaceID != workspaceID {
			continue
		}

		var data struct {
			ExternalMessageID string `json:"external_message_id"`
		}
		err := json.Unmarshal([]byte(exec.TriggerData), &data)
		if err != nil {
			continue
		}

		if data.ExternalMessageID == externalMessageID {
			return true, nil
		}
	}

	return false, nil
}

// CreateConversation inserts a new conversation row, failing with a unique
// constraint violation if the key is already taken.
func (m *MockStore) CreateConversation(
	_ context.Context, conv EmailConversation,
) (EmailConversation, error) {

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.conversations[conv.ConversationKey]; ok {
		return EmailConversation{},
			&db.ErrSQLUniqueConstraintViolation{
				DBError: sqlite3.Error{
					Code: sqlite3.ErrConstraint,
					ExtendedCode: sqlite3.
						ErrConstraintUnique,
				},
			}
	}

	conv.ID = m.nextConversationID
	m.nextConversationID++
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = time.Now()
	}
	m.conversations[conv.ConversationKey] = conv

	return conv, nil
}

// GetConversationByKey returns the conversation for the given key.
func (m *MockStore) GetConversationByKey(
	_ context.Context, key string,
) (EmailConversation, error) {

	m.mu.RLock()
	defer m.mu.RUnlock()

	conv, ok := m.conversations[key]
	if !ok {
		return EmailConversation{}, ErrConversationNotFound
	}

	return conv, nil
}

// UpsertWatch inserts or replaces the watch row for its key.
func (m *MockStore) UpsertWatch(
	_ context.Context, watch ProviderWatch,
) error {

	m.mu.Lock()
	defer m.mu.Unlock()

	key := watchKey(watch.UserID, watch.WorkspaceID, watch.Provider)
	m.watches[key] = watch

	return nil
}

// GetWatch returns the watch for the given scope, if present.
func (m *MockStore) GetWatch(
	_ context.Context, userID, workspaceID string, provider Provider,
) (fn.Option[ProviderWatch], error) {

	m.mu.RLock()
	defer m.mu.RUnlock()

	watch, ok := m.watches[watchKey(userID, workspaceID, provider)]
	if !ok {
		return fn.None[ProviderWatch](), nil
	}

	return fn.Some(watch), nil
}

// FindWatchByRef resolves a watch from the provider's handle.
func (m *MockStore) FindWatchByRef(
	_ context.Context, provider Provider, externalRef string,
) (fn.Option[ProviderWatch], error) {

	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, watch := range m.watches {
		if watch.Provider == provider &&
			watch.ExternalRef == externalRef {

			return fn.Some(watch), nil
		}
	}

	return fn.None[ProviderWatch](), nil
}

// UpdateWatchCursor advances the provider-side incremental cursor.
func (m *MockStore) UpdateWatchCursor(
	_ context.Context, userID, workspaceID string,
	provider Provider, cursor string,
) error {

	m.mu.Lock()
	defer m.mu.Unlock()

	key := watchKey(userID, workspaceID, provider)
	watch, ok := m.watches[key]
	if !ok {
		return nil
	}
	watch.Cursor = cursor
	m.watches[key] = watch

	return nil
}

// DeleteWatch removes a watch row.
func (m *MockStore) DeleteWatch(
	_ context.Context, userID, workspaceID string, provider Provider,
) error {

	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.watches, watchKey(userID, workspaceID, provider))

	return nil
}

// UpsertCredential inserts or replaces the credential for its key.
func (m *MockStore) UpsertCredential(
	_ context.Context, cred OAuthCredential,
) error {

	m.mu.Lock()
	defer m.mu.Unlock()

	m.credentials[credentialKey(cred.UserID, cred.Provider)] = cred

	return nil
}

// GetCredential returns the stored credential for the given user and
// provider, if present.
func (m *MockStore) GetCredential(
	_ context.Context, userID string, provider Provider,
) (fn.Option[OAuthCredential], error) {

	m.mu.RLock()
	defer m.mu.RUnlock()

	cred, ok := m.credentials[credentialKey(userID, provider)]
	if !ok {
		return fn.None[OAuthCredential](), nil
	}

	return fn.Some(cred), nil
}

// PutOAuthState stores a pending OAuth handshake.
func (m *MockStore) PutOAuthState(
	_ context.Context, state OAuthState,
) error {

	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	for token, pending := range m.oauthStates {
		if pending.ExpiresAt.Before(now) {
			delete(m.oauthStates, token)
		}
	}

	m.oauthStates[state.State] = state

	return nil
}

// TakeOAuthState consumes a pending handshake by its state token.
func (m *MockStore) TakeOAuthState(
	_ context.Context, stateToken string,
) (fn.Option[OAuthState], error) {

	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.oauthStates[stateToken]
	if !ok {
		return fn.None[OAuthState](), nil
	}
	delete(m.oauthStates, stateToken)

	if state.ExpiresAt.Before(time.Now()) {
		return fn.None[OAuthState](), nil
	}

	return fn.Some(state), nil
}

// GetPollCursor returns the poll cursor for a workspace, if present.
func (m *MockStore) GetPollCursor(
	_ context.Context, workspaceID string,
) (fn.Option[PollCursor], error) {

	m.mu.RLock()
	defer m.mu.RUnlock()

	cursor, ok := m.pollCursors[workspaceID]
	if !ok {
		return fn.None[PollCursor](), nil
	}

	return fn.Some(cursor), nil
}

// SetPollCursor inserts or replaces the poll cursor for its workspace.
func (m *MockStore) SetPollCursor(
	_ context.Context, cursor PollCursor,
) error {

	m.mu.Lock()
	defer m.mu.Unlock()

	m.pollCursors[cursor.WorkspaceID] = cursor

	return nil
}
