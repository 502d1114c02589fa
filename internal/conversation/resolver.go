package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mailflow/mailflow/internal/db"
	"github.com/mailflow/mailflow/internal/store"
)

// ThreadCreator is the slice of the assistant capability the resolver
// needs: creating a new memory thread and returning its ID.
type ThreadCreator interface {
	// CreateThread creates a new assistant memory thread with the given
	// human-readable title.
	CreateThread(ctx context.Context, title string) (string, error)
}

// Resolver maps inbound messages to assistant memory threads, creating the
// thread on first contact. Resolution is safe under concurrent first
// contact: the conversation key's unique constraint picks a single winner
// and losers adopt the winner's thread.
type Resolver struct {
	store   store.ConversationStore
	threads ThreadCreator
	log     *slog.Logger
}

// NewResolver creates a new conversation resolver.
func NewResolver(
	convStore store.ConversationStore, threads ThreadCreator,
	log *slog.Logger,
) *Resolver {

	return &Resolver{
		store:   convStore,
		threads: threads,
		log:     log,
	}
}

// Resolve returns the conversation for the given message metadata,
// creating the assistant thread and the mapping row on first contact.
func (r *Resolver) Resolve(
	ctx context.Context, workspaceID, userID, sender, subject string,
) (store.EmailConversation, error) {

	key := DeriveKey(sender, subject)

	conv, err := r.store.GetConversationByKey(ctx, key)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, store.ErrConversationNotFound) {
		return store.EmailConversation{}, fmt.Errorf(
			"conversation lookup: %w", err,
		)
	}

	// First contact: create the memory thread before the mapping row so
	// a stored conversation always points at a live thread.
	senderAddr := ExtractAddress(sender).UnwrapOr(sender)
	threadID, err := r.threads.CreateThread(
		ctx, fmt.Sprintf("Email conversation: %s", senderAddr),
	)
	if err != nil {
		return store.EmailConversation{}, fmt.Errorf(
			"create assistant thread: %w", err,
		)
	}

	created, err := r.store.CreateConversation(ctx, store.EmailConversation{
		ConversationKey: key,
		ThreadID:        threadID,
		WorkspaceID:     workspaceID,
		UserID:          userID,
		SenderEmail:     senderAddr,
	})
	if err == nil {
		r.log.InfoContext(
			ctx, "Created new email conversation",
			"conversation_key", key,
			"thread_id", threadID,
		)

		return created, nil
	}

	// A unique constraint violation means a concurrent resolver won the
	// insert race. Adopt the winner's row; the thread we created is
	// orphaned and harmless.
	if db.IsUniqueConstraintError(err) {
		r.log.DebugContext(
			ctx, "Lost conversation create race, re-reading",
			"conversation_key", key,
		)

		winner, readErr := r.store.GetConversationByKey(ctx, key)
		if readErr != nil {
			return store.EmailConversation{}, fmt.Errorf(
				"re-read after create race: %w", readErr,
			)
		}

		return winner, nil
	}

	return store.EmailConversation{}, fmt.Errorf(
		"create conversation: %w", err,
	)
}
