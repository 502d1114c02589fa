package blocks

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mailflow/mailflow/internal/assistant"
	"github.com/mailflow/mailflow/internal/provider"
	"github.com/mailflow/mailflow/internal/store"
	"github.com/mailflow/mailflow/internal/trigger"
)

// ConversationResolver maps an inbound message to its durable assistant
// memory thread.
type ConversationResolver interface {
	// Resolve returns the conversation for the given message metadata,
	// creating it on first contact.
	Resolve(
		ctx context.Context,
		workspaceID, userID, sender, subject string,
	) (store.EmailConversation, error)
}

// replyConfig is the stored configuration of a reply-email action block.
type replyConfig struct {
	// CustomInstructions are user-authored override instructions,
	// prepended to the generation prompt verbatim. Their content is
	// never altered.
	CustomInstructions string `json:"customInstructions,omitempty"`

	// DraftMode selects draft creation over immediate send. Defaults
	// to true, the safer behavior.
	DraftMode *bool `json:"draftMode,omitempty"`
}

// ReplyHandler answers inbound mail with AI-generated replies. It asks the
// assistant whether a reply is warranted, resolves the conversation
// memory thread, generates the reply within it, strips internal citation
// markers, and either reconciles a draft or sends immediately.
type ReplyHandler struct {
	assistant  assistant.Assistant
	resolver   ConversationResolver
	mailboxes  trigger.MailboxSource
	reconciler *Reconciler
	log        *slog.Logger
}

// A compile-time check that ReplyHandler satisfies the Handler interface.
var _ Handler = (*ReplyHandler)(nil)

// NewReplyHandler creates the reply-email action handler.
func NewReplyHandler(
	ai assistant.Assistant, resolver ConversationResolver,
	mailboxes trigger.MailboxSource, reconciler *Reconciler,
	log *slog.Logger,
) *ReplyHandler {

	return &ReplyHandler{
		assistant:  ai,
		resolver:   resolver,
		mailboxes:  mailboxes,
		reconciler: reconciler,
		log:        log,
	}
}

// Kind returns the action kind this handler serves.
func (h *ReplyHandler) Kind() Kind {
	return KindActionReplyEmail
}

// Execute runs the reply action for one event.
func (h *ReplyHandler) Execute(ctx context.Context, req Request) Result {
	event := req.Event

	// Timer ticks and other senderless events have nothing to answer.
	if event.From == "" {
		return Skipped(req.BlockID, h.Kind(), "event has no sender")
	}

	var cfg replyConfig
	if strings.TrimSpace(req.ConfigJSON) != "" {
		err := json.Unmarshal([]byte(req.ConfigJSON), &cfg)
		if err != nil {
			return Errored(req.BlockID, h.Kind(), fmt.Errorf(
				"parse reply config: %w", err,
			))
		}
	}

	conv, err := h.resolver.Resolve(
		ctx, req.WorkspaceID, req.UserID, event.From, event.Subject,
	)
	if err != nil {
		return Errored(req.BlockID, h.Kind(), err)
	}

	shouldReply, err := h.assistant.ShouldReply(
		ctx, conv.ThreadID, event.From, event.Subject, event.Body,
	)
	if err != nil {
		return Errored(req.BlockID, h.Kind(), err)
	}
	if !shouldReply {
		return Skipped(req.BlockID, h.Kind(), "no reply needed")
	}

	prompt := buildReplyPrompt(cfg.CustomInstructions, event)

	replyText, err := h.assistant.Reply(ctx, conv.ThreadID, prompt)
	if err != nil {
		return Errored(req.BlockID, h.Kind(), err)
	}
	replyText = assistant.StripMemoryCitations(replyText)

	htmlBody, err := assistant.RenderHTML(replyText)
	if err != nil {
		return Errored(req.BlockID, h.Kind(), err)
	}

	mailbox, err := h.mailboxes.MailboxFor(
		ctx, req.UserID, event.Provider,
	)
	if err != nil {
		return Errored(req.BlockID, h.Kind(), err)
	}

	// Draft mode is the default; immediate send must be opted into.
	draftMode := cfg.DraftMode == nil || *cfg.DraftMode

	if draftMode {
		_, err := h.reconciler.UpsertDraft(
			ctx, mailbox, draftRequestFor(event, htmlBody),
		)
		if err != nil {
			return Errored(req.BlockID, h.Kind(), err)
		}

		return Success(req.BlockID, h.Kind())
	}

	err = mailbox.Reply(
		ctx, event.ThreadID, event.ExternalMessageID, htmlBody,
	)
	if err != nil {
		return Errored(req.BlockID, h.Kind(), err)
	}

	return Success(req.BlockID, h.Kind())
}

// buildReplyPrompt assembles the generation prompt. Custom instructions
// come first and verbatim: they are the user's highest-priority override
// and their content must not be altered.
func buildReplyPrompt(customInstructions string, event trigger.Event) string {
	var b strings.Builder

	if customInstructions != "" {
		b.WriteString(customInstructions)
		b.WriteString("\n\n")
	}

	fmt.Fprintf(
		&b,
		"Write a reply to the following email.\n\n"+
			"From: %s\nSubject: %s\n\n%s",
		event.From, event.Subject, event.Body,
	)

	return b.String()
}

// draftRequestFor anchors the reply draft in the triggering message's
// provider thread.
func draftRequestFor(
	event trigger.Event, body string,
) provider.DraftRequest {

	return provider.DraftRequest{
		ThreadID:         event.ThreadID,
		ReplyToMessageID: event.ExternalMessageID,
		To:               []string{event.From},
		Subject:          replySubject(event.Subject),
		Body:             body,
	}
}

// replySubject prefixes the subject with "Re:" unless it already carries
// one.
func replySubject(subject string) string {
	if strings.HasPrefix(strings.ToLower(subject), "re:") {
		return subject
	}

	return "Re: " + subject
}
