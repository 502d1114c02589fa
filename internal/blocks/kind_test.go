package blocks

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseKindRoundTrip(t *testing.T) {
	tags := []string{
		"condition-email-received",
		"condition-scheduled-trigger",
		"condition-end-marker",
		"action-reply-email",
		"action-send-email",
		"integration-gmail",
		"integration-outlook",
	}

	for _, tag := range tags {
		kind, err := ParseKind(tag)
		require.NoError(t, err)
		require.Equal(t, tag, kind.String())
	}
}

func TestParseKindRejectsUnknown(t *testing.T) {
	_, err := ParseKind("action-launch-missiles")
	require.Error(t, err)

	_, err = ParseKind("")
	require.Error(t, err)
}

func TestKindClassification(t *testing.T) {
	require.True(t, KindConditionEmailReceived.IsCondition())
	require.True(t, KindConditionScheduledTrigger.IsCondition())
	require.False(t, KindConditionEndMarker.IsCondition())

	require.True(t, KindActionReplyEmail.IsAction())
	require.True(t, KindActionSendEmail.IsAction())
	require.False(t, KindConditionEmailReceived.IsAction())

	require.True(t, KindIntegrationGmail.IsIntegration())
	require.True(t, KindIntegrationOutlook.IsIntegration())
	require.False(t, KindActionSendEmail.IsIntegration())
}

func TestRegistryRejectsBadRegistrations(t *testing.T) {
	registry := NewRegistry()

	// Non-action kinds cannot carry handlers.
	err := registry.Register(staticHandler{kind: KindConditionEndMarker})
	require.Error(t, err)

	require.NoError(
		t, registry.Register(staticHandler{
			kind: KindActionSendEmail,
		}),
	)

	// Duplicate registration fails loudly.
	err = registry.Register(staticHandler{kind: KindActionSendEmail})
	require.Error(t, err)

	_, ok := registry.Handler(KindActionSendEmail)
	require.True(t, ok)
	_, ok = registry.Handler(KindActionReplyEmail)
	require.False(t, ok)
}

// staticHandler is a no-op handler with a fixed kind.
type staticHandler struct {
	kind   Kind
	result Result
}

func (s staticHandler) Kind() Kind {
	return s.kind
}

func (s staticHandler) Execute(_ context.Context, _ Request) Result {
	return s.result
}
