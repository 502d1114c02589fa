package trigger

import (
	"context"
	"encoding/base64"
	"fmt"
	"testing"
	"time"

	"github.com/mailflow/mailflow/internal/provider"
	"github.com/mailflow/mailflow/internal/store"
	"github.com/stretchr/testify/require"
)

// fakeMailbox is a scripted provider.Mailbox for normalizer tests.
type fakeMailbox struct {
	prov       store.Provider
	profile    string
	messages   map[string]provider.Message
	listOrder  []string
	historyIDs []string
	newCursor  string
}

func (f *fakeMailbox) Provider() store.Provider {
	return f.prov
}

func (f *fakeMailbox) Profile(_ context.Context) (string, error) {
	return f.profile, nil
}

func (f *fakeMailbox) GetMessage(
	_ context.Context, id string,
) (provider.Message, error) {

	msg, ok := f.messages[id]
	if !ok {
		return provider.Message{}, fmt.Errorf("no message %s", id)
	}

	return msg, nil
}

func (f *fakeMailbox) ListMessages(
	_ context.Context, max int,
) ([]provider.Message, error) {

	var msgs []provider.Message
	for _, id := range f.listOrder {
		if len(msgs) == max {
			break
		}
		msgs = append(msgs, f.messages[id])
	}

	return msgs, nil
}

func (f *fakeMailbox) History(
	_ context.Context, _ string,
) ([]string, string, error) {

	return f.historyIDs, f.newCursor, nil
}

func (f *fakeMailbox) ListDrafts(
	_ context.Context, _ string,
) ([]provider.Draft, error) {

	return nil, nil
}

func (f *fakeMailbox) CreateDraft(
	_ context.Context, _ provider.DraftRequest,
) (provider.Draft, error) {

	return provider.Draft{}, nil
}

func (f *fakeMailbox) DeleteDraft(_ context.Context, _ string) error {
	return nil
}

func (f *fakeMailbox) Send(
	_ context.Context, _ []string, _, _ string,
) error {

	return nil
}

func (f *fakeMailbox) Reply(_ context.Context, _, _, _ string) error {
	return nil
}

func (f *fakeMailbox) Watch(
	_ context.Context,
) (provider.WatchRegistration, error) {

	return provider.WatchRegistration{}, nil
}

func (f *fakeMailbox) StopWatch(_ context.Context, _ string) error {
	return nil
}

// fakeMailboxSource hands out one fake mailbox for every user.
type fakeMailboxSource struct {
	mailbox *fakeMailbox
}

func (f *fakeMailboxSource) MailboxFor(
	_ context.Context, _ string, _ store.Provider,
) (provider.Mailbox, error) {

	return f.mailbox, nil
}

func gmailPushBody(t *testing.T, emailAddress string, historyID int) []byte {
	t.Helper()

	inner := fmt.Sprintf(
		`{"emailAddress":%q,"historyId":%d}`, emailAddress, historyID,
	)
	return []byte(fmt.Sprintf(
		`{"message":{"data":%q,"messageId":"pm-1"},`+
			`"subscription":"projects/x/subscriptions/y"}`,
		base64.StdEncoding.EncodeToString([]byte(inner)),
	))
}

func TestGmailNormalizerEmitsNewMessages(t *testing.T) {
	ctx := context.Background()
	mock := store.NewMockStore()

	require.NoError(t, mock.UpsertWatch(ctx, store.ProviderWatch{
		UserID:      "user-1",
		WorkspaceID: "ws-1",
		Provider:    store.ProviderGmail,
		ExternalRef: "me@example.com",
		Cursor:      "100",
		Expiration:  time.Now().Add(time.Hour),
	}))

	mailbox := &fakeMailbox{
		prov: store.ProviderGmail,
		messages: map[string]provider.Message{
			"m-1": {
				ID:       "m-1",
				ThreadID: "t-1",
				From:     "alice@example.com",
				Subject:  "Hello",
			},
		},
		historyIDs: []string{"m-1"},
		newCursor:  "101",
	}

	norm := NewGmailNormalizer(
		mock, &fakeMailboxSource{mailbox: mailbox}, testLogger(),
	)

	events, err := norm.Normalize(
		ctx, gmailPushBody(t, "me@example.com", 101),
	)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, SourceGmailPush, events[0].Source)
	require.Equal(t, "m-1", events[0].ExternalMessageID)
	require.Equal(t, "ws-1", events[0].WorkspaceID)
	require.Equal(t, "user-1", events[0].UserID)

	// The cursor advanced to the history walk's new position.
	watch, err := mock.GetWatch(
		ctx, "user-1", "ws-1", store.ProviderGmail,
	)
	require.NoError(t, err)
	require.Equal(
		t, "101", watch.UnwrapOr(store.ProviderWatch{}).Cursor,
	)
}

func TestGmailNormalizerBaselinesFirstNotification(t *testing.T) {
	ctx := context.Background()
	mock := store.NewMockStore()

	require.NoError(t, mock.UpsertWatch(ctx, store.ProviderWatch{
		UserID:      "user-1",
		WorkspaceID: "ws-1",
		Provider:    store.ProviderGmail,
		ExternalRef: "me@example.com",
		Expiration:  time.Now().Add(time.Hour),
	}))

	norm := NewGmailNormalizer(
		mock,
		&fakeMailboxSource{mailbox: &fakeMailbox{}},
		testLogger(),
	)

	events, err := norm.Normalize(
		ctx, gmailPushBody(t, "me@example.com", 42),
	)
	require.NoError(t, err)
	require.Empty(t, events)

	watch, err := mock.GetWatch(
		ctx, "user-1", "ws-1", store.ProviderGmail,
	)
	require.NoError(t, err)
	require.Equal(
		t, "42", watch.UnwrapOr(store.ProviderWatch{}).Cursor,
	)
}

func TestGmailNormalizerDropsUnknownAndMalformed(t *testing.T) {
	ctx := context.Background()
	norm := NewGmailNormalizer(
		store.NewMockStore(),
		&fakeMailboxSource{mailbox: &fakeMailbox{}},
		testLogger(),
	)

	// No watch for this address: dropped, not an error.
	events, err := norm.Normalize(
		ctx, gmailPushBody(t, "stranger@example.com", 1),
	)
	require.NoError(t, err)
	require.Empty(t, events)

	// Garbage body: dropped, not an error.
	events, err = norm.Normalize(ctx, []byte("not json"))
	require.NoError(t, err)
	require.Empty(t, events)
}

func TestOutlookNormalizerValidatesClientState(t *testing.T) {
	ctx := context.Background()
	mock := store.NewMockStore()

	require.NoError(t, mock.UpsertWatch(ctx, store.ProviderWatch{
		UserID:      "user-1",
		WorkspaceID: "ws-1",
		Provider:    store.ProviderOutlook,
		ExternalRef: "sub-1",
		ClientState: "shared-secret",
		Expiration:  time.Now().Add(time.Hour),
	}))

	mailbox := &fakeMailbox{
		prov: store.ProviderOutlook,
		messages: map[string]provider.Message{
			"om-1": {
				ID:      "om-1",
				From:    "bob@example.com",
				Subject: "Status",
			},
		},
	}
	norm := NewOutlookNormalizer(
		mock, &fakeMailboxSource{mailbox: mailbox}, testLogger(),
	)

	valid := []byte(`{"value":[{"subscriptionId":"sub-1",` +
		`"clientState":"shared-secret","changeType":"created",` +
		`"resourceData":{"id":"om-1"}}]}`)
	events, err := norm.Normalize(ctx, valid)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, SourceOutlookWebhook, events[0].Source)
	require.Equal(t, "om-1", events[0].ExternalMessageID)

	// Wrong client state is silently dropped.
	forged := []byte(`{"value":[{"subscriptionId":"sub-1",` +
		`"clientState":"wrong","resourceData":{"id":"om-1"}}]}`)
	events, err = norm.Normalize(ctx, forged)
	require.NoError(t, err)
	require.Empty(t, events)

	// Unknown subscription is silently dropped.
	unknown := []byte(`{"value":[{"subscriptionId":"sub-404",` +
		`"clientState":"shared-secret",` +
		`"resourceData":{"id":"om-1"}}]}`)
	events, err = norm.Normalize(ctx, unknown)
	require.NoError(t, err)
	require.Empty(t, events)
}

func TestPollerDiffsAgainstCursor(t *testing.T) {
	ctx := context.Background()
	mock := store.NewMockStore()

	mailbox := &fakeMailbox{
		prov: store.ProviderGmail,
		messages: map[string]provider.Message{
			"m-3": {ID: "m-3", From: "c@example.com"},
			"m-2": {ID: "m-2", From: "b@example.com"},
			"m-1": {ID: "m-1", From: "a@example.com"},
		},
		listOrder: []string{"m-3", "m-2", "m-1"},
	}
	poller := NewPoller(
		mock, &fakeMailboxSource{mailbox: mailbox}, testLogger(),
	)

	// First scan baselines without emitting.
	events, err := poller.PollOnce(
		ctx, "ws-1", "user-1", store.ProviderGmail,
	)
	require.NoError(t, err)
	require.Empty(t, events)

	// New mail arrives ahead of the cursor.
	mailbox.messages["m-5"] = provider.Message{
		ID: "m-5", From: "e@example.com",
	}
	mailbox.messages["m-4"] = provider.Message{
		ID: "m-4", From: "d@example.com",
	}
	mailbox.listOrder = []string{"m-5", "m-4", "m-3", "m-2", "m-1"}

	events, err = poller.PollOnce(
		ctx, "ws-1", "user-1", store.ProviderGmail,
	)
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, "m-5", events[0].ExternalMessageID)
	require.Equal(t, "m-4", events[1].ExternalMessageID)
	require.Equal(t, SourcePoll, events[0].Source)

	// Nothing new on the next scan.
	events, err = poller.PollOnce(
		ctx, "ws-1", "user-1", store.ProviderGmail,
	)
	require.NoError(t, err)
	require.Empty(t, events)
}
