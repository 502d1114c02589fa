package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

// newTestGraph returns an outlook mailbox pointed at a local test server.
func newTestGraph(
	t *testing.T, handler http.Handler,
) (*GraphMailbox, *httptest.Server) {

	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	mailbox := NewGraphMailbox(
		srv.Client(), "https://hooks.example.com/webhooks/outlook",
		testLogger(),
	)
	mailbox.baseURL = srv.URL + "/me"
	mailbox.rootURL = srv.URL

	return mailbox, srv
}

func TestGraphProfileFallsBackToPrincipalName(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/me", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{
			"mail":              "",
			"userPrincipalName": "me@tenant.onmicrosoft.com",
		})
	})
	mailbox, _ := newTestGraph(t, mux)

	address, err := mailbox.Profile(context.Background())
	require.NoError(t, err)
	require.Equal(t, "me@tenant.onmicrosoft.com", address)
}

func TestGraphMessageNormalization(t *testing.T) {
	wire := graphMessage{
		ID:             "AAMk-1",
		ConversationID: "conv-1",
		Subject:        "Sync notes",
		BodyPreview:    "preview",
		HasAttachments: true,
		ReceivedAt:     "2026-09-01T10:30:00Z",
	}
	wire.From.EmailAddress.Name = "Carol"
	wire.From.EmailAddress.Address = "carol@co.com"
	wire.Body.Content = "<p>full body</p>"

	msg := wire.normalize()

	require.Equal(t, "conv-1", msg.ThreadID)
	require.Equal(t, "Carol <carol@co.com>", msg.From)
	require.Equal(t, "<p>full body</p>", msg.Body)
	require.True(t, msg.HasAttachment)
	require.Equal(t, 2026, msg.ReceivedAt.Year())
}

func TestGraphReplyDraftUsesCreateReplyThenPatch(t *testing.T) {
	var (
		calls []string
		patch map[string]any
	)

	mux := http.NewServeMux()
	mux.HandleFunc(
		"/me/messages/orig-1/createReply",
		func(w http.ResponseWriter, r *http.Request) {
			calls = append(calls, "createReply")
			require.Equal(t, http.MethodPost, r.Method)

			_ = json.NewEncoder(w).Encode(map[string]string{
				"id":             "draft-1",
				"conversationId": "conv-1",
			})
		},
	)
	mux.HandleFunc(
		"/me/messages/draft-1",
		func(w http.ResponseWriter, r *http.Request) {
			calls = append(calls, "patch")
			require.Equal(t, http.MethodPatch, r.Method)
			require.NoError(t,
				json.NewDecoder(r.Body).Decode(&patch))
		},
	)
	mailbox, _ := newTestGraph(t, mux)

	draft, err := mailbox.CreateDraft(context.Background(), DraftRequest{
		ThreadID:         "conv-1",
		ReplyToMessageID: "orig-1",
		Body:             "<p>on it</p>",
	})
	require.NoError(t, err)
	require.Equal(t, "draft-1", draft.ID)
	require.Equal(t, "conv-1", draft.ThreadID)

	require.Equal(t, []string{"createReply", "patch"}, calls)

	body := patch["body"].(map[string]any)
	require.Equal(t, "HTML", body["contentType"])
	require.Equal(t, "<p>on it</p>", body["content"])
}

func TestGraphWatchMintsClientState(t *testing.T) {
	var payload map[string]any

	mux := http.NewServeMux()
	mux.HandleFunc("/subscriptions", func(w http.ResponseWriter,
		r *http.Request) {

		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))

		_ = json.NewEncoder(w).Encode(map[string]string{
			"id":                 "sub-1",
			"expirationDateTime": "2026-09-04T09:00:00Z",
		})
	})
	mailbox, _ := newTestGraph(t, mux)

	reg, err := mailbox.Watch(context.Background())
	require.NoError(t, err)
	require.Equal(t, "sub-1", reg.ExternalRef)
	require.NotEmpty(t, reg.ClientState)
	require.Equal(t, payload["clientState"], reg.ClientState)
	require.Equal(t, "created", payload["changeType"])
	require.Equal(t, "https://hooks.example.com/webhooks/outlook",
		payload["notificationUrl"])
	require.False(t, reg.Expiration.IsZero())
}

func TestGraphSendWrapsMessageEnvelope(t *testing.T) {
	var payload map[string]any

	mux := http.NewServeMux()
	mux.HandleFunc("/me/sendMail", func(w http.ResponseWriter,
		r *http.Request) {

		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		w.WriteHeader(http.StatusAccepted)
	})
	mailbox, _ := newTestGraph(t, mux)

	err := mailbox.Send(
		context.Background(), []string{"a@b.co"}, "Hi", "<p>x</p>",
	)
	require.NoError(t, err)

	msg := payload["message"].(map[string]any)
	require.Equal(t, "Hi", msg["subject"])
	require.Equal(t, true, payload["saveToSentItems"])

	recipients := msg["toRecipients"].([]any)
	require.Len(t, recipients, 1)
}

func TestGraphHistoryNotSupported(t *testing.T) {
	mailbox, _ := newTestGraph(t, http.NewServeMux())

	_, _, err := mailbox.History(context.Background(), "cursor")
	require.ErrorIs(t, err, ErrHistoryNotSupported)
}

func TestGraphForbiddenIsCredentialError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/me", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})
	mailbox, _ := newTestGraph(t, mux)

	_, err := mailbox.Profile(context.Background())

	var credErr *CredentialError
	require.ErrorAs(t, err, &credErr)
}
