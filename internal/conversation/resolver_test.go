package conversation

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/mailflow/mailflow/internal/db"
	"github.com/mailflow/mailflow/internal/store"
	"github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeThreads counts thread creations and hands out sequential IDs.
type fakeThreads struct {
	created []string
}

func (f *fakeThreads) CreateThread(
	_ context.Context, title string,
) (string, error) {

	f.created = append(f.created, title)
	return "thread-" + string(rune('a'+len(f.created)-1)), nil
}

func TestResolveFirstContactCreatesThread(t *testing.T) {
	ctx := context.Background()
	mock := store.NewMockStore()
	threads := &fakeThreads{}
	resolver := NewResolver(mock, threads, testLogger())

	conv, err := resolver.Resolve(
		ctx, "ws-1", "user-1", "Alice <alice@example.com>", "Hi",
	)
	require.NoError(t, err)
	require.Equal(t, "sender:alice@example.com", conv.ConversationKey)
	require.Equal(t, "thread-a", conv.ThreadID)
	require.Equal(t, "alice@example.com", conv.SenderEmail)
	require.Len(t, threads.created, 1)

	// A later message from the same sender reuses the thread without
	// creating a new one, even with a different subject.
	again, err := resolver.Resolve(
		ctx, "ws-1", "user-1", "alice@example.com", "Re: other",
	)
	require.NoError(t, err)
	require.Equal(t, conv.ThreadID, again.ThreadID)
	require.Len(t, threads.created, 1)
}

// raceStore simulates losing the first-contact insert race: the initial
// lookup misses, the create hits the unique constraint, and the re-read
// returns the winner's row.
type raceStore struct {
	store.ConversationStore

	winner store.EmailConversation
	gets   int
}

func (r *raceStore) GetConversationByKey(
	_ context.Context, key string,
) (store.EmailConversation, error) {

	r.gets++
	if r.gets == 1 {
		return store.EmailConversation{},
			store.ErrConversationNotFound
	}

	return r.winner, nil
}

func (r *raceStore) CreateConversation(
	_ context.Context, _ store.EmailConversation,
) (store.EmailConversation, error) {

	return store.EmailConversation{}, &db.ErrSQLUniqueConstraintViolation{
		DBError: sqlite3.Error{
			Code:         sqlite3.ErrConstraint,
			ExtendedCode: sqlite3.ErrConstraintUnique,
		},
	}
}

func TestResolveAdoptsRaceWinner(t *testing.T) {
	ctx := context.Background()

	winner := store.EmailConversation{
		ID:              7,
		ConversationKey: "sender:bob@example.com",
		ThreadID:        "thread-winner",
		WorkspaceID:     "ws-1",
		UserID:          "user-1",
	}
	threads := &fakeThreads{}
	resolver := NewResolver(
		&raceStore{winner: winner}, threads, testLogger(),
	)

	conv, err := resolver.Resolve(
		ctx, "ws-1", "user-1", "bob@example.com", "Hi",
	)
	require.NoError(t, err)
	require.Equal(t, "thread-winner", conv.ThreadID)

	// The locally created thread is orphaned, not adopted.
	require.Len(t, threads.created, 1)
}
