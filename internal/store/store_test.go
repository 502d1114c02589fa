package store

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/mailflow/mailflow/internal/db"
	"github.com/stretchr/testify/require"
)

// testLogger returns a logger that discards all output.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testStores returns both Store implementations so every test exercises the
// SQL store and the mock store with identical expectations.
func testStores(t *testing.T) map[string]Store {
	t.Helper()

	sqlDB, err := db.OpenInMemory()
	require.NoError(t, err)

	err = db.ApplyMigrations(sqlDB, testLogger())
	require.NoError(t, err)

	sqlStore := NewSQLStore(sqlDB, testLogger())
	t.Cleanup(func() {
		require.NoError(t, sqlStore.Close())
	})

	return map[string]Store{
		"sql":  sqlStore,
		"mock": NewMockStore(),
	}
}

func TestBlockRoundTrip(t *testing.T) {
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			blocks := []PipelineBlock{
				{
					BlockID:  "blk-trigger",
					Type:     "gmail_trigger",
					Position: 0,
				},
				{
					BlockID:  "blk-cond",
					Type:     "condition",
					Position: 1,
				},
				{
					BlockID:           "blk-reply",
					Type:              "reply_email",
					Position:          2,
					ParentConditionID: "blk-cond",
				},
			}
			err := s.ReplaceBlocks(ctx, "ws-1", blocks)
			require.NoError(t, err)

			got, err := s.ListBlocks(ctx, "ws-1")
			require.NoError(t, err)
			require.Len(t, got, 3)
			require.Equal(t, "blk-trigger", got[0].BlockID)
			require.Equal(t, "blk-cond", got[2].ParentConditionID)

			// Replacing again must not duplicate rows.
			err = s.ReplaceBlocks(ctx, "ws-1", blocks[:1])
			require.NoError(t, err)

			got, err = s.ListBlocks(ctx, "ws-1")
			require.NoError(t, err)
			require.Len(t, got, 1)
		})
	}
}

func TestBlockConfigUpsert(t *testing.T) {
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, err := s.GetBlockConfig(ctx, "ws-1", "blk-1")
			require.ErrorIs(t, err, ErrBlockConfigNotFound)

			cfg := BlockConfig{
				WorkspaceID: "ws-1",
				BlockID:     "blk-1",
				ConfigJSON:  `{"senderEmail":"a@b.co"}`,
			}
			require.NoError(t, s.SetBlockConfig(ctx, cfg))

			cfg.ConfigJSON = `{"senderEmail":"c@d.co"}`
			require.NoError(t, s.SetBlockConfig(ctx, cfg))

			got, err := s.GetBlockConfig(ctx, "ws-1", "blk-1")
			require.NoError(t, err)
			require.Equal(
				t, `{"senderEmail":"c@d.co"}`, got.ConfigJSON,
			)

			all, err := s.ListBlockConfigs(ctx, "ws-1")
			require.NoError(t, err)
			require.Len(t, all, 1)
		})
	}
}

func TestExecutionLifecycle(t *testing.T) {
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			exec := WorkflowExecution{
				ID:          "exec-1",
				WorkspaceID: "ws-1",
				UserID:      "user-1",
				Status:      StatusWaiting,
				CreatedAt:   time.Now(),
			}
			require.NoError(t, s.CreateExecution(ctx, exec))

			// Duplicate primary key must be rejected.
			err := s.CreateExecution(ctx, exec)
			require.Error(t, err)
			require.True(t, db.IsUniqueConstraintError(err))

			got, err := s.GetExecution(ctx, "exec-1")
			require.NoError(t, err)
			require.Equal(t, StatusWaiting, got.Status)

			active, err := s.FindActiveExecution(
				ctx, "ws-1", "user-1",
			)
			require.NoError(t, err)
			require.True(t, active.IsSome())

			err = s.UpdateExecutionStatus(
				ctx, "exec-1", StatusPaused,
			)
			require.NoError(t, err)

			active, err = s.FindActiveExecution(
				ctx, "ws-1", "user-1",
			)
			require.NoError(t, err)
			require.True(t, active.IsNone())

			err = s.UpdateExecutionStatus(
				ctx, "missing", StatusFailed,
			)
			require.ErrorIs(t, err, ErrExecutionNotFound)
		})
	}
}

func TestHasProcessedMessage(t *testing.T) {
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			exec := WorkflowExecution{
				ID:          "exec-1",
				WorkspaceID: "ws-1",
				UserID:      "user-1",
				Status:      StatusWaiting,
				CreatedAt:   time.Now(),
			}
			require.NoError(t, s.CreateExecution(ctx, exec))

			err := s.UpdateExecutionTriggerData(
				ctx, "exec-1",
				`{"external_message_id":"msg-abc123"}`,
			)
			require.NoError(t, err)

			seen, err := s.HasProcessedMessage(
				ctx, "ws-1", "msg-abc123",
			)
			require.NoError(t, err)
			require.True(t, seen)

			// Other workspaces keep their own history.
			seen, err = s.HasProcessedMessage(
				ctx, "ws-2", "msg-abc123",
			)
			require.NoError(t, err)
			require.False(t, seen)

			seen, err = s.HasProcessedMessage(
				ctx, "ws-1", "msg-other",
			)
			require.NoError(t, err)
			require.False(t, seen)
		})
	}
}

func TestHasProcessedMessageMatchesExactly(t *testing.T) {
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			// A row that predates any trigger must not break the
			// lookup.
			require.NoError(t, s.CreateExecution(
				ctx, WorkflowExecution{
					ID:          "exec-0",
					WorkspaceID: "ws-1",
					UserID:      "user-1",
					Status:      StatusPaused,
					CreatedAt:   time.Now(),
				},
			))

			// Graph-style base64url ID with _ and - in it.
			const msgID = "AAMkAGI2_Tm9-abc="
			require.NoError(t, s.CreateExecution(
				ctx, WorkflowExecution{
					ID:          "exec-1",
					WorkspaceID: "ws-1",
					UserID:      "user-1",
					Status:      StatusWaiting,
					CreatedAt:   time.Now(),
				},
			))
			require.NoError(t, s.UpdateExecutionTriggerData(
				ctx, "exec-1",
				`{"external_message_id":"`+msgID+`"}`,
			))

			seen, err := s.HasProcessedMessage(ctx, "ws-1", msgID)
			require.NoError(t, err)
			require.True(t, seen)

			// A near-identical stored ID must not be hit through
			// the _ in the queried ID acting as a wildcard.
			require.NoError(t, s.CreateExecution(
				ctx, WorkflowExecution{
					ID:          "exec-2",
					WorkspaceID: "ws-2",
					UserID:      "user-1",
					Status:      StatusWaiting,
					CreatedAt:   time.Now(),
				},
			))
			require.NoError(t, s.UpdateExecutionTriggerData(
				ctx, "exec-2",
				`{"external_message_id":"AAMkAGI2ZTm9-abc="}`,
			))

			seen, err = s.HasProcessedMessage(ctx, "ws-2", msgID)
			require.NoError(t, err)
			require.False(t, seen)

			// Substrings of a stored ID are not matches either.
			seen, err = s.HasProcessedMessage(
				ctx, "ws-1", "AAMkAGI2",
			)
			require.NoError(t, err)
			require.False(t, seen)
		})
	}
}

func TestConversationUniqueKey(t *testing.T) {
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			conv := EmailConversation{
				ConversationKey: "sender:alice@example.com",
				ThreadID:        "thread-1",
				WorkspaceID:     "ws-1",
				UserID:          "user-1",
				SenderEmail:     "alice@example.com",
			}
			created, err := s.CreateConversation(ctx, conv)
			require.NoError(t, err)
			require.NotZero(t, created.ID)

			// Second insert with the same key loses the race.
			conv.ThreadID = "thread-2"
			_, err = s.CreateConversation(ctx, conv)
			require.Error(t, err)
			require.True(t, db.IsUniqueConstraintError(err))

			got, err := s.GetConversationByKey(
				ctx, "sender:alice@example.com",
			)
			require.NoError(t, err)
			require.Equal(t, "thread-1", got.ThreadID)

			_, err = s.GetConversationByKey(ctx, "sender:nobody")
			require.ErrorIs(t, err, ErrConversationNotFound)
		})
	}
}

func TestWatchRoundTrip(t *testing.T) {
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			watch := ProviderWatch{
				UserID:         "user-1",
				WorkspaceID:    "ws-1",
				Provider:       ProviderOutlook,
				ExternalRef:    "sub-123",
				ClientState:    "secret",
				ProfileAddress: "me@co.com",
				Expiration:     time.Now().Add(time.Hour),
			}
			require.NoError(t, s.UpsertWatch(ctx, watch))

			got, err := s.GetWatch(
				ctx, "user-1", "ws-1", ProviderOutlook,
			)
			require.NoError(t, err)
			require.True(t, got.IsSome())
			require.Equal(
				t, "me@co.com",
				got.UnwrapOr(ProviderWatch{}).ProfileAddress,
			)

			byRef, err := s.FindWatchByRef(
				ctx, ProviderOutlook, "sub-123",
			)
			require.NoError(t, err)
			require.True(t, byRef.IsSome())
			require.Equal(
				t, "secret",
				byRef.UnwrapOr(ProviderWatch{}).ClientState,
			)

			err = s.UpdateWatchCursor(
				ctx, "user-1", "ws-1", ProviderOutlook,
				"cursor-9",
			)
			require.NoError(t, err)

			got, err = s.GetWatch(
				ctx, "user-1", "ws-1", ProviderOutlook,
			)
			require.NoError(t, err)
			require.Equal(
				t, "cursor-9",
				got.UnwrapOr(ProviderWatch{}).Cursor,
			)

			err = s.DeleteWatch(
				ctx, "user-1", "ws-1", ProviderOutlook,
			)
			require.NoError(t, err)

			got, err = s.GetWatch(
				ctx, "user-1", "ws-1", ProviderOutlook,
			)
			require.NoError(t, err)
			require.True(t, got.IsNone())
		})
	}
}

func TestOAuthStateConsumedOnce(t *testing.T) {
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			state := OAuthState{
				State:       "tok-1",
				UserID:      "user-1",
				RedirectURI: "https://app.example/cb",
				ExpiresAt:   time.Now().Add(10 * time.Minute),
			}
			require.NoError(t, s.PutOAuthState(ctx, state))

			got, err := s.TakeOAuthState(ctx, "tok-1")
			require.NoError(t, err)
			require.True(t, got.IsSome())

			// Second take must miss, the row is gone.
			got, err = s.TakeOAuthState(ctx, "tok-1")
			require.NoError(t, err)
			require.True(t, got.IsNone())
		})
	}
}

func TestOAuthStateExpiry(t *testing.T) {
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			expired := OAuthState{
				State:       "tok-old",
				UserID:      "user-1",
				RedirectURI: "https://app.example/cb",
				ExpiresAt:   time.Now().Add(-time.Minute),
			}
			require.NoError(t, s.PutOAuthState(ctx, expired))

			got, err := s.TakeOAuthState(ctx, "tok-old")
			require.NoError(t, err)
			require.True(t, got.IsNone())
		})
	}
}

func TestPollCursorRoundTrip(t *testing.T) {
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			got, err := s.GetPollCursor(ctx, "ws-1")
			require.NoError(t, err)
			require.True(t, got.IsNone())

			cursor := PollCursor{
				WorkspaceID:   "ws-1",
				UserID:        "user-1",
				LastMessageID: "msg-1",
			}
			require.NoError(t, s.SetPollCursor(ctx, cursor))

			cursor.LastMessageID = "msg-2"
			require.NoError(t, s.SetPollCursor(ctx, cursor))

			got, err = s.GetPollCursor(ctx, "ws-1")
			require.NoError(t, err)
			require.Equal(
				t, "msg-2",
				got.UnwrapOr(PollCursor{}).LastMessageID,
			)
		})
	}
}

func TestCredentialRoundTrip(t *testing.T) {
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			got, err := s.GetCredential(
				ctx, "user-1", ProviderGmail,
			)
			require.NoError(t, err)
			require.True(t, got.IsNone())

			cred := OAuthCredential{
				UserID:      "user-1",
				Provider:    ProviderGmail,
				AccessToken: "at-1",
				Expiry:      time.Now().Add(time.Hour),
			}
			require.NoError(t, s.UpsertCredential(ctx, cred))

			cred.AccessToken = "at-2"
			require.NoError(t, s.UpsertCredential(ctx, cred))

			got, err = s.GetCredential(ctx, "user-1", ProviderGmail)
			require.NoError(t, err)
			require.Equal(
				t, "at-2",
				got.UnwrapOr(OAuthCredential{}).AccessToken,
			)
		})
	}
}
