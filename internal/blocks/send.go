package blocks

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mailflow/mailflow/internal/trigger"
)

// sendRecipient is one recipient of a send-email action, with optional
// per-recipient template variables.
type sendRecipient struct {
	Email     string            `json:"email"`
	Variables map[string]string `json:"variables,omitempty"`
}

// sendConfig is the stored configuration of a send-email action block.
// Recipients may be listed as plain addresses or as recipient objects
// carrying substitution variables; both forms can be mixed.
type sendConfig struct {
	To         []string        `json:"to,omitempty"`
	Recipients []sendRecipient `json:"recipients,omitempty"`
	Subject    string          `json:"subject"`
	Body       string          `json:"body"`
}

// SendHandler sends a user-authored message to explicit recipients, with
// an optional per-recipient {{variable}} substitution pass over subject
// and body.
type SendHandler struct {
	mailboxes trigger.MailboxSource
	log       *slog.Logger
}

// A compile-time check that SendHandler satisfies the Handler interface.
var _ Handler = (*SendHandler)(nil)

// NewSendHandler creates the send-email action handler.
func NewSendHandler(
	mailboxes trigger.MailboxSource, log *slog.Logger,
) *SendHandler {

	return &SendHandler{mailboxes: mailboxes, log: log}
}

// Kind returns the action kind this handler serves.
func (h *SendHandler) Kind() Kind {
	return KindActionSendEmail
}

// Execute runs the send action for one event.
func (h *SendHandler) Execute(ctx context.Context, req Request) Result {
	var cfg sendConfig
	if strings.TrimSpace(req.ConfigJSON) != "" {
		err := json.Unmarshal([]byte(req.ConfigJSON), &cfg)
		if err != nil {
			return Errored(req.BlockID, h.Kind(), fmt.Errorf(
				"parse send config: %w", err,
			))
		}
	}

	recipients := cfg.Recipients
	for _, addr := range cfg.To {
		recipients = append(recipients, sendRecipient{Email: addr})
	}

	if len(recipients) == 0 {
		return Errored(req.BlockID, h.Kind(), fmt.Errorf(
			"send action has no recipients",
		))
	}
	if cfg.Subject == "" || cfg.Body == "" {
		return Errored(req.BlockID, h.Kind(), fmt.Errorf(
			"send action requires subject and body",
		))
	}

	mailbox, err := h.mailboxes.MailboxFor(
		ctx, req.UserID, req.Event.Provider,
	)
	if err != nil {
		return Errored(req.BlockID, h.Kind(), err)
	}

	// Each recipient gets their own personalized send; one failed
	// recipient does not block the rest.
	var failures []string
	for _, recipient := range recipients {
		subject := substituteVariables(
			cfg.Subject, recipient.Variables,
		)
		body := substituteVariables(cfg.Body, recipient.Variables)

		err := mailbox.Send(
			ctx, []string{recipient.Email}, subject, body,
		)
		if err != nil {
			h.log.WarnContext(
				ctx, "Failed to send to recipient",
				"workspace_id", req.WorkspaceID,
				"recipient", recipient.Email,
				"err", err,
			)
			failures = append(failures, recipient.Email)
		}
	}

	if len(failures) == len(recipients) {
		return Errored(req.BlockID, h.Kind(), fmt.Errorf(
			"send failed for all %d recipients",
			len(recipients),
		))
	}
	if len(failures) > 0 {
		result := Success(req.BlockID, h.Kind())
		result.Reason = fmt.Sprintf(
			"sent with %d of %d recipients failed",
			len(failures), len(recipients),
		)

		return result
	}

	return Success(req.BlockID, h.Kind())
}

// substituteVariables replaces {{key}} placeholders with their values.
// Unknown placeholders are left intact.
func substituteVariables(text string, vars map[string]string) string {
	for key, value := range vars {
		text = strings.ReplaceAll(text, "{{"+key+"}}", value)
	}

	return text
}
