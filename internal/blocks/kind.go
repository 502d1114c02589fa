// Package blocks implements the pipeline block model: the closed block
// kind enumeration, the action handler registry, the dispatcher that walks
// a condition's action scope, and the built-in reply/send handlers.
package blocks

import (
	"fmt"
	"strings"
)

// Kind is the closed enumeration of pipeline block types. Unknown type
// tags fail at parse time rather than being silently skipped at dispatch.
type Kind uint8

const (
	// KindUnknown is the zero value, never valid.
	KindUnknown Kind = iota

	// KindConditionEmailReceived gates an action scope on inbound mail
	// matching configured filters.
	KindConditionEmailReceived

	// KindConditionScheduledTrigger gates an action scope on a
	// schedule.
	KindConditionScheduledTrigger

	// KindConditionEndMarker terminates a condition's action scope.
	KindConditionEndMarker

	// KindActionReplyEmail drafts or sends an AI-generated reply.
	KindActionReplyEmail

	// KindActionSendEmail sends a user-authored message.
	KindActionSendEmail

	// KindIntegrationGmail binds a Gmail account to the pipeline.
	KindIntegrationGmail

	// KindIntegrationOutlook binds an Outlook account to the pipeline.
	KindIntegrationOutlook
)

// kindTags maps the stored type tags to kinds.
var kindTags = map[string]Kind{
	"condition-email-received":    KindConditionEmailReceived,
	"condition-scheduled-trigger": KindConditionScheduledTrigger,
	"condition-end-marker":        KindConditionEndMarker,
	"action-reply-email":          KindActionReplyEmail,
	"action-send-email":           KindActionSendEmail,
	"integration-gmail":           KindIntegrationGmail,
	"integration-outlook":         KindIntegrationOutlook,
}

// kindNames is the reverse mapping for String.
var kindNames = func() map[Kind]string {
	names := make(map[Kind]string, len(kindTags))
	for tag, kind := range kindTags {
		names[kind] = tag
	}
	return names
}()

// ParseKind resolves a stored type tag to its kind. Unknown tags are an
// error so a pipeline referencing an unsupported block type fails loudly.
func ParseKind(tag string) (Kind, error) {
	kind, ok := kindTags[strings.TrimSpace(tag)]
	if !ok {
		return KindUnknown, fmt.Errorf("unknown block type %q", tag)
	}

	return kind, nil
}

// String returns the stored type tag of the kind.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}

	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// IsCondition reports whether the kind opens an action scope.
func (k Kind) IsCondition() bool {
	return k == KindConditionEmailReceived ||
		k == KindConditionScheduledTrigger
}

// IsAction reports whether the kind is an executable action.
func (k Kind) IsAction() bool {
	return k == KindActionReplyEmail || k == KindActionSendEmail
}

// IsIntegration reports whether the kind binds a mail account.
func (k Kind) IsIntegration() bool {
	return k == KindIntegrationGmail || k == KindIntegrationOutlook
}
