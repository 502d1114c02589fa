package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/mailflow/mailflow/internal/db"
)

// SQLStore implements the Store interface with hand-written queries over a
// SQLite database. All multi-statement operations run through the
// transaction executor so busy/locked errors are retried with backoff.
type SQLStore struct {
	txer *db.TxExecutor
	log  *slog.Logger
}

// A compile-time check that SQLStore satisfies the Store interface.
var _ Store = (*SQLStore)(nil)

// NewSQLStore creates a new SQLStore over an already opened and migrated
// database connection.
func NewSQLStore(sqlDB *sql.DB, log *slog.Logger) *SQLStore {
	return &SQLStore{
		txer: db.NewTxExecutor(sqlDB, log),
		log:  log,
	}
}

// Close closes the underlying database connection.
func (s *SQLStore) Close() error {
	return s.txer.DB().Close()
}

// ReplaceBlocks atomically replaces the block set of a workspace.
func (s *SQLStore) ReplaceBlocks(
	ctx context.Context, workspaceID string, blocks []PipelineBlock,
) error {

	return s.txer.ExecTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(
			ctx,
			`DELETE FROM pipeline_blocks WHERE workspace_id = ?`,
			workspaceID,
		)
		if err != nil {
			return fmt.Errorf("delete blocks: %w", err)
		}

		for _, blk := range blocks {
			_, err := tx.ExecContext(
				ctx,
				`INSERT INTO pipeline_blocks
				 (block_id, workspace_id, type, title,
				  position, parent_condition_id)
				 VALUES (?, ?, ?, ?, ?, ?)`,
				blk.BlockID, workspaceID, blk.Type,
				blk.Title, blk.Position,
				nullString(blk.ParentConditionID),
			)
			if err != nil {
				return fmt.Errorf("insert block %s: %w",
					blk.BlockID, err)
			}
		}

		return nil
	})
}

// ListBlocks returns all blocks of a workspace ordered by position.
func (s *SQLStore) ListBlocks(
	ctx context.Context, workspaceID string,
) ([]PipelineBlock, error) {

	rows, err := s.txer.DB().QueryContext(
		ctx,
		`SELECT id, block_id, workspace_id, type, title, position,
		        parent_condition_id
		 FROM pipeline_blocks
		 WHERE workspace_id = ?
		 ORDER BY position ASC`,
		workspaceID,
	)
	if err != nil {
		return nil, fmt.Errorf("list blocks: %w", err)
	}
	defer rows.Close()

	var blocks []PipelineBlock
	for rows.Next() {
		var (
			blk    PipelineBlock
			parent sql.NullString
		)
		err := rows.Scan(
			&blk.ID, &blk.BlockID, &blk.WorkspaceID, &blk.Type,
			&blk.Title, &blk.Position, &parent,
		)
		if err != nil {
			return nil, fmt.Errorf("scan block: %w", err)
		}
		blk.ParentConditionID = parent.String

		blocks = append(blocks, blk)
	}

	return blocks, rows.Err()
}

// GetBlockConfig returns the stored configuration for a block.
func (s *SQLStore) GetBlockConfig(
	ctx context.Context, workspaceID, blockID string,
) (BlockConfig, error) {

	cfg := BlockConfig{
		WorkspaceID: workspaceID,
		BlockID:     blockID,
	}

	err := s.txer.DB().QueryRowContext(
		ctx,
		`SELECT config_json FROM block_configs
		 WHERE workspace_id = ? AND block_id = ?`,
		workspaceID, blockID,
	).Scan(&cfg.ConfigJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return BlockConfig{}, ErrBlockConfigNotFound
	}
	if err != nil {
		return BlockConfig{}, fmt.Errorf("get block config: %w", err)
	}

	return cfg, nil
}

// SetBlockConfig upserts the configuration for a block.
func (s *SQLStore) SetBlockConfig(
	ctx context.Context, cfg BlockConfig,
) error {

	_, err := s.txer.DB().ExecContext(
		ctx,
		`INSERT INTO block_configs
		 (workspace_id, block_id, config_json)
		 VALUES (?, ?, ?)
		 ON CONFLICT(workspace_id, block_id)
		 DO UPDATE SET config_json = excluded.config_json`,
		cfg.WorkspaceID, cfg.BlockID, cfg.ConfigJSON,
	)
	if err != nil {
		return fmt.Errorf("set block config: %w", err)
	}

	return nil
}

// ListBlockConfigs returns all stored block configurations for a workspace.
func (s *SQLStore) ListBlockConfigs(
	ctx context.Context, workspaceID string,
) (map[string]BlockConfig, error) {

	rows, err := s.txer.DB().QueryContext(
		ctx,
		`SELECT block_id, config_json FROM block_configs
		 WHERE workspace_id = ?`,
		workspaceID,
	)
	if err != nil {
		return nil, fmt.Errorf("list block configs: %w", err)
	}
	defer rows.Close()

	configs := make(map[string]BlockConfig)
	for rows.Next() {
		cfg := BlockConfig{WorkspaceID: workspaceID}
		if err := rows.Scan(&cfg.BlockID, &cfg.ConfigJSON); err != nil {
			return nil, fmt.Errorf("scan block config: %w", err)
		}

		configs[cfg.BlockID] = cfg
	}

	return configs, rows.Err()
}

// CreateExecution inserts a new execution row.
func (s *SQLStore) CreateExecution(
	ctx context.Context, exec WorkflowExecution,
) error {

	_, err := s.txer.DB().ExecContext(
		ctx,
		`INSERT INTO workflow_executions
		 (id, workspace_id, user_id, status, trigger_data,
		  current_block_index, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		exec.ID, exec.WorkspaceID, exec.UserID, string(exec.Status),
		nullString(exec.TriggerData), exec.CurrentBlockIndex,
		exec.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("create execution: %w", db.MapSQLError(err))
	}

	return nil
}

// GetExecution returns an execution by ID.
func (s *SQLStore) GetExecution(
	ctx context.Context, id string,
) (WorkflowExecution, error) {

	row := s.txer.DB().QueryRowContext(
		ctx,
		`SELECT id, workspace_id, user_id, status, trigger_data,
		        current_block_index, created_at
		 FROM workflow_executions WHERE id = ?`,
		id,
	)

	exec, err := scanExecution(row)
	if errors.Is(err, sql.ErrNoRows) {
		return WorkflowExecution{}, ErrExecutionNotFound
	}
	if err != nil {
		return WorkflowExecution{}, fmt.Errorf(
			"get execution: %w", err,
		)
	}

	return exec, nil
}

// FindActiveExecution returns the waiting or running execution for the
// given scope, if one exists.
func (s *SQLStore) FindActiveExecution(
	ctx context.Context, workspaceID, userID string,
) (fn.Option[WorkflowExecution], error) {

	row := s.txer.DB().QueryRowContext(
		ctx,
		`SELECT id, workspace_id, user_id, status, trigger_data,
		        current_block_index, created_at
		 FROM workflow_executions
		 WHERE workspace_id = ? AND user_id = ?
		   AND status IN (?, ?)
		 ORDER BY created_at DESC LIMIT 1`,
		workspaceID, userID,
		string(StatusWaiting), string(StatusRunning),
	)

	exec, err := scanExecution(row)
	if errors.Is(err, sql.ErrNoRows) {
		return fn.None[WorkflowExecution](), nil
	}
	if err != nil {
		return fn.None[WorkflowExecution](), fmt.Errorf(
			"find active execution: %w", err,
		)
	}

	return fn.Some(exec), nil
}

// ListExecutions returns all executions for the given scope, newest first.
func (s *SQLStore) ListExecutions(
	ctx context.Context, workspaceID, userID string,
) ([]WorkflowExecution, error) {

	rows, err := s.txer.DB().QueryContext(
		ctx,
		`SELECT id, workspace_id, user_id, status, trigger_data,
		        current_block_index, created_at
		 FROM workflow_executions
		 WHERE workspace_id = ? AND user_id = ?
		 ORDER BY created_at DESC`,
		workspaceID, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	defer rows.Close()

	return collectExecutions(rows)
}

// ListNonTerminalExecutions returns every waiting or running execution
// across all scopes.
func (s *SQLStore) ListNonTerminalExecutions(
	ctx context.Context,
) ([]WorkflowExecution, error) {

	rows, err := s.txer.DB().QueryContext(
		ctx,
		`SELECT id, workspace_id, user_id, status, trigger_data,
		        current_block_index, created_at
		 FROM workflow_executions
		 WHERE status IN (?, ?)`,
		string(StatusWaiting), string(StatusRunning),
	)
	if err != nil {
		return nil, fmt.Errorf("list non-terminal executions: %w", err)
	}
	defer rows.Close()

	return collectExecutions(rows)
}

// UpdateExecutionStatus sets the status of an execution.
func (s *SQLStore) UpdateExecutionStatus(
	ctx context.Context, id string, status ExecutionStatus,
) error {

	res, err := s.txer.DB().ExecContext(
		ctx,
		`UPDATE workflow_executions SET status = ? WHERE id = ?`,
		string(status), id,
	)
	if err != nil {
		return fmt.Errorf("update execution status: %w", err)
	}

	return requireRowAffected(res, ErrExecutionNotFound)
}

// UpdateExecutionTriggerData records the JSON of the event driving the
// execution.
func (s *SQLStore) UpdateExecutionTriggerData(
	ctx context.Context, id, triggerData string,
) error {

	res, err := s.txer.DB().ExecContext(
		ctx,
		`UPDATE workflow_executions SET trigger_data = ?
		 WHERE id = ?`,
		triggerData, id,
	)
	if err != nil {
		return fmt.Errorf("update trigger data: %w", err)
	}

	return requireRowAffected(res, ErrExecutionNotFound)
}

// UpdateExecutionBlockIndex records dispatch progress.
func (s *SQLStore) UpdateExecutionBlockIndex(
	ctx context.Context, id string, index int,
) error {

	res, err := s.txer.DB().ExecContext(
		ctx,
		`UPDATE workflow_executions SET current_block_index = ?
		 WHERE id = ?`,
		index, id,
	)
	if err != nil {
		return fmt.Errorf("update block index: %w", err)
	}

	return requireRowAffected(res, ErrExecutionNotFound)
}

// DeleteExecution removes an execution row.
func (s *SQLStore) DeleteExecution(ctx context.Context, id string) error {
	_, err := s.txer.DB().ExecContext(
		ctx,
		`DELETE FROM workflow_executions WHERE id = ?`, id,
	)
	if err != nil {
		return fmt.Errorf("delete execution: %w", err)
	}

	return nil
}

// HasProcessedMessage reports whether any execution in the workspace has
// trigger data recording the given external message ID. The comparison is
// an exact match on the extracted JSON field; Graph message IDs contain
// LIKE metacharacters and must never pattern-match each other.
func (s *SQLStore) HasProcessedMessage(
	ctx context.Context, workspaceID, externalMessageID string,
) (bool, error) {

	var count int64
	err := s.txer.DB().QueryRowContext(
		ctx,
		`SELECT COUNT(*) FROM workflow_executions
		 WHERE workspace_id = ?
		   AND CASE WHEN json_valid(trigger_data)
		        THEN json_extract(
		            trigger_data, '$.external_message_id')
		        END = ?`,
		workspaceID, externalMessageID,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check processed message: %w", err)
	}

	return count > 0, nil
}

// CreateConversation inserts a new conversation row. Unique constraint
// violations on the conversation key are mapped through the db package so
// callers can detect the create race.
func (s *SQLStore) CreateConversation(
	ctx context.Context, conv EmailConversation,
) (EmailConversation, error) {

	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = time.Now()
	}

	res, err := s.txer.DB().ExecContext(
		ctx,
		`INSERT INTO email_conversations
		 (conversation_key, thread_id, workspace_id, user_id,
		  sender_email, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		conv.ConversationKey, conv.ThreadID, conv.WorkspaceID,
		conv.UserID, conv.SenderEmail, conv.CreatedAt.Unix(),
	)
	if err != nil {
		return EmailConversation{}, db.MapSQLError(err)
	}

	conv.ID, err = res.LastInsertId()
	if err != nil {
		return EmailConversation{}, fmt.Errorf(
			"conversation insert id: %w", err,
		)
	}

	return conv, nil
}

// GetConversationByKey returns the conversation for the given key.
func (s *SQLStore) GetConversationByKey(
	ctx context.Context, key string,
) (EmailConversation, error) {

	var (
		conv      EmailConversation
		createdAt int64
	)
	err := s.txer.DB().QueryRowContext(
		ctx,
		`SELECT id, conversation_key, thread_id, workspace_id,
		        user_id, sender_email, created_at
		 FROM email_conversations WHERE conversation_key = ?`,
		key,
	).Scan(
		&conv.ID, &conv.ConversationKey, &conv.ThreadID,
		&conv.WorkspaceID, &conv.UserID, &conv.SenderEmail,
		&createdAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return EmailConversation{}, ErrConversationNotFound
	}
	if err != nil {
		return EmailConversation{}, fmt.Errorf(
			"get conversation: %w", err,
		)
	}
	conv.CreatedAt = time.Unix(createdAt, 0)

	return conv, nil
}

// UpsertWatch inserts or replaces the watch row for its key.
func (s *SQLStore) UpsertWatch(
	ctx context.Context, watch ProviderWatch,
) error {

	_, err := s.txer.DB().ExecContext(
		ctx,
		`INSERT INTO provider_watches
		 (user_id, workspace_id, provider, external_ref,
		  client_state, cursor, profile_address, expiration)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(user_id, workspace_id, provider)
		 DO UPDATE SET
		   external_ref = excluded.external_ref,
		   client_state = excluded.client_state,
		   cursor = excluded.cursor,
		   profile_address = excluded.profile_address,
		   expiration = excluded.expiration`,
		watch.UserID, watch.WorkspaceID, string(watch.Provider),
		watch.ExternalRef, watch.ClientState, watch.Cursor,
		watch.ProfileAddress, watch.Expiration.Unix(),
	)
	if err != nil {
		return fmt.Errorf("upsert watch: %w", err)
	}

	return nil
}

// GetWatch returns the watch for the given scope, if present.
func (s *SQLStore) GetWatch(
	ctx context.Context, userID, workspaceID string, provider Provider,
) (fn.Option[ProviderWatch], error) {

	row := s.txer.DB().QueryRowContext(
		ctx,
		`SELECT user_id, workspace_id, provider, external_ref,
		        client_state, cursor, profile_address, expiration
		 FROM provider_watches
		 WHERE user_id = ? AND workspace_id = ? AND provider = ?`,
		userID, workspaceID, string(provider),
	)

	return scanOptionalWatch(row)
}

// FindWatchByRef resolves a watch from the provider's handle.
func (s *SQLStore) FindWatchByRef(
	ctx context.Context, provider Provider, externalRef string,
) (fn.Option[ProviderWatch], error) {

	row := s.txer.DB().QueryRowContext(
		ctx,
		`SELECT user_id, workspace_id, provider, external_ref,
		        client_state, cursor, profile_address, expiration
		 FROM provider_watches
		 WHERE provider = ? AND external_ref = ?`,
		string(provider), externalRef,
	)

	return scanOptionalWatch(row)
}

// UpdateWatchCursor advances the provider-side incremental cursor.
func (s *SQLStore) UpdateWatchCursor(
	ctx context.Context, userID, workspaceID string,
	provider Provider, cursor string,
) error {

	_, err := s.txer.DB().ExecContext(
		ctx,
		`UPDATE provider_watches SET cursor = ?
		 WHERE user_id = ? AND workspace_id = ? AND provider = ?`,
		cursor, userID, workspaceID, string(provider),
	)
	if err != nil {
		return fmt.Errorf("update watch cursor: %w", err)
	}

	return nil
}

// DeleteWatch removes a watch row.
func (s *SQLStore) DeleteWatch(
	ctx context.Context, userID, workspaceID string, provider Provider,
) error {

	_, err := s.txer.DB().ExecContext(
		ctx,
		`DELETE FROM provider_watches
		 WHERE user_id = ? AND workspace_id = ? AND provider = ?`,
		userID, workspaceID, string(provider),
	)
	if err != nil {
		return fmt.Errorf("delete watch: %w", err)
	}

	return nil
}

// UpsertCredential inserts or replaces the credential for its key.
func (s *SQLStore) UpsertCredential(
	ctx context.Context, cred OAuthCredential,
) error {

	_, err := s.txer.DB().ExecContext(
		ctx,
		`INSERT INTO oauth_credentials
		 (user_id, provider, access_token, refresh_token, expiry,
		  scope)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(user_id, provider)
		 DO UPDATE SET
		   access_token = excluded.access_token,
		   refresh_token = excluded.refresh_token,
		   expiry = excluded.expiry,
		   scope = excluded.scope`,
		cred.UserID, string(cred.Provider), cred.AccessToken,
		cred.RefreshToken, cred.Expiry.Unix(), cred.Scope,
	)
	if err != nil {
		return fmt.Errorf("upsert credential: %w", err)
	}

	return nil
}

// GetCredential returns the stored credential for the given user and
// provider, if present.
func (s *SQLStore) GetCredential(
	ctx context.Context, userID string, provider Provider,
) (fn.Option[OAuthCredential], error) {

	var (
		cred   OAuthCredential
		expiry int64
	)
	err := s.txer.DB().QueryRowContext(
		ctx,
		`SELECT user_id, provider, access_token, refresh_token,
		        expiry, scope
		 FROM oauth_credentials
		 WHERE user_id = ? AND provider = ?`,
		userID, string(provider),
	).Scan(
		&cred.UserID, &cred.Provider, &cred.AccessToken,
		&cred.RefreshToken, &expiry, &cred.Scope,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return fn.None[OAuthCredential](), nil
	}
	if err != nil {
		return fn.None[OAuthCredential](), fmt.Errorf(
			"get credential: %w", err,
		)
	}
	cred.Expiry = time.Unix(expiry, 0)

	return fn.Some(cred), nil
}

// PutOAuthState stores a pending OAuth handshake. Expired rows are purged
// opportunistically on every write.
func (s *SQLStore) PutOAuthState(
	ctx context.Context, state OAuthState,
) error {

	return s.txer.ExecTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(
			ctx,
			`DELETE FROM oauth_states WHERE expires_at < ?`,
			time.Now().Unix(),
		)
		if err != nil {
			return fmt.Errorf("purge oauth states: %w", err)
		}

		_, err = tx.ExecContext(
			ctx,
			`INSERT INTO oauth_states
			 (state, user_id, redirect_uri, expires_at)
			 VALUES (?, ?, ?, ?)`,
			state.State, state.UserID, state.RedirectURI,
			state.ExpiresAt.Unix(),
		)
		if err != nil {
			return fmt.Errorf("put oauth state: %w", err)
		}

		return nil
	})
}

// TakeOAuthState consumes a pending handshake by its state token.
func (s *SQLStore) TakeOAuthState(
	ctx context.Context, stateToken string,
) (fn.Option[OAuthState], error) {

	result := fn.None[OAuthState]()

	err := s.txer.ExecTx(ctx, func(tx *sql.Tx) error {
		var (
			state     OAuthState
			expiresAt int64
		)
		err := tx.QueryRowContext(
			ctx,
			`SELECT state, user_id, redirect_uri, expires_at
			 FROM oauth_states WHERE state = ?`,
			stateToken,
		).Scan(
			&state.State, &state.UserID, &state.RedirectURI,
			&expiresAt,
		)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("get oauth state: %w", err)
		}

		_, err = tx.ExecContext(
			ctx,
			`DELETE FROM oauth_states WHERE state = ?`,
			stateToken,
		)
		if err != nil {
			return fmt.Errorf("delete oauth state: %w", err)
		}

		state.ExpiresAt = time.Unix(expiresAt, 0)
		if state.ExpiresAt.Before(time.Now()) {
			return nil
		}

		result = fn.Some(state)

		return nil
	})

	return result, err
}

// GetPollCursor returns the poll cursor for a workspace, if present.
func (s *SQLStore) GetPollCursor(
	ctx context.Context, workspaceID string,
) (fn.Option[PollCursor], error) {

	var cursor PollCursor
	err := s.txer.DB().QueryRowContext(
		ctx,
		`SELECT workspace_id, user_id, last_message_id
		 FROM poll_cursors WHERE workspace_id = ?`,
		workspaceID,
	).Scan(&cursor.WorkspaceID, &cursor.UserID, &cursor.LastMessageID)
	if errors.Is(err, sql.ErrNoRows) {
		return fn.None[PollCursor](), nil
	}
	if err != nil {
		return fn.None[PollCursor](), fmt.Errorf(
			"get poll cursor: %w", err,
		)
	}

	return fn.Some(cursor), nil
}

// SetPollCursor inserts or replaces the poll cursor for its workspace.
func (s *SQLStore) SetPollCursor(
	ctx context.Context, cursor PollCursor,
) error {

	_, err := s.txer.DB().ExecContext(
		ctx,
		`INSERT INTO poll_cursors
		 (workspace_id, user_id, last_message_id)
		 VALUES (?, ?, ?)
		 ON CONFLICT(workspace_id)
		 DO UPDATE SET
		   user_id = excluded.user_id,
		   last_message_id = excluded.last_message_id`,
		cursor.WorkspaceID, cursor.UserID, cursor.LastMessageID,
	)
	if err != nil {
		return fmt.Errorf("set poll cursor: %w", err)
	}

	return nil
}

// requireRowAffected returns notFound if the result reports zero affected
// rows, mirroring how callers signal updates against a missing row.
func requireRowAffected(res sql.Result, notFound error) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return notFound
	}

	return nil
}

// scanner abstracts over sql.Row and sql.Rows for shared scan helpers.
type scanner interface {
	Scan(dest ...any) error
}

// scanExecution scans a workflow_executions row in SELECT column order.
func scanExecution(row scanner) (WorkflowExecution, error) {
	var (
		exec        WorkflowExecution
		triggerData sql.NullString
		createdAt   int64
	)
	err := row.Scan(
		&exec.ID, &exec.WorkspaceID, &exec.UserID, &exec.Status,
		&triggerData, &exec.CurrentBlockIndex, &createdAt,
	)
	if err != nil {
		return WorkflowExecution{}, err
	}

	exec.TriggerData = triggerData.String
	exec.CreatedAt = time.Unix(createdAt, 0)

	return exec, nil
}

// collectExecutions drains a result set of workflow_executions rows.
func collectExecutions(rows *sql.Rows) ([]WorkflowExecution, error) {
	var execs []WorkflowExecution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("scan execution: %w", err)
		}

		execs = append(execs, exec)
	}

	return execs, rows.Err()
}

// scanOptionalWatch scans a provider_watches row, mapping no-rows to None.
func scanOptionalWatch(row scanner) (fn.Option[ProviderWatch], error) {
	var (
		watch      ProviderWatch
		expiration int64
	)
	err := row.Scan(
		&watch.UserID, &watch.WorkspaceID, &watch.Provider,
		&watch.ExternalRef, &watch.ClientState, &watch.Cursor,
		&watch.ProfileAddress, &expiration,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return fn.None[ProviderWatch](), nil
	}
	if err != nil {
		return fn.None[ProviderWatch](), fmt.Errorf(
			"scan watch: %w", err,
		)
	}
	watch.Expiration = time.Unix(expiration, 0)

	return fn.Some(watch), nil
}

// nullString maps an empty string to SQL NULL.
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
