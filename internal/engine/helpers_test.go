package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/mailflow/mailflow/internal/blocks"
	"github.com/mailflow/mailflow/internal/conversation"
	"github.com/mailflow/mailflow/internal/provider"
	"github.com/mailflow/mailflow/internal/store"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// engineMailbox is a scripted provider.Mailbox recording the side effects
// engine dispatch produces.
type engineMailbox struct {
	mu sync.Mutex

	prov    store.Provider
	profile string

	profileErr error
	watchErr   error
	watchCalls int
	stopCalls  []string

	drafts  map[string][]provider.Draft
	replies []string
	sent    [][]string

	nextDraftID int
}

func newEngineMailbox(prov store.Provider, profile string) *engineMailbox {
	return &engineMailbox{
		prov:    prov,
		profile: profile,
		drafts:  make(map[string][]provider.Draft),
	}
}

func (m *engineMailbox) Provider() store.Provider {
	return m.prov
}

func (m *engineMailbox) Profile(_ context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.profileErr != nil {
		return "", m.profileErr
	}

	return m.profile, nil
}

func (m *engineMailbox) failProfile(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.profileErr = err
}

func (m *engineMailbox) GetMessage(
	_ context.Context, id string,
) (provider.Message, error) {

	return provider.Message{ID: id}, nil
}

func (m *engineMailbox) ListMessages(
	_ context.Context, _ int,
) ([]provider.Message, error) {

	return nil, nil
}

func (m *engineMailbox) History(
	_ context.Context, cursor string,
) ([]string, string, error) {

	return nil, cursor, nil
}

func (m *engineMailbox) ListDrafts(
	_ context.Context, threadID string,
) ([]provider.Draft, error) {

	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]provider.Draft(nil), m.drafts[threadID]...), nil
}

func (m *engineMailbox) CreateDraft(
	_ context.Context, req provider.DraftRequest,
) (provider.Draft, error) {

	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextDraftID++
	draft := provider.Draft{
		ID:       fmt.Sprintf("draft-%d", m.nextDraftID),
		ThreadID: req.ThreadID,
	}
	m.drafts[req.ThreadID] = append(m.drafts[req.ThreadID], draft)

	return draft, nil
}

func (m *engineMailbox) DeleteDraft(
	_ context.Context, draftID string,
) error {

	m.mu.Lock()
	defer m.mu.Unlock()

	for threadID, drafts := range m.drafts {
		kept := drafts[:0]
		for _, d := range drafts {
			if d.ID != draftID {
				kept = append(kept, d)
			}
		}
		m.drafts[threadID] = kept
	}

	return nil
}

func (m *engineMailbox) Send(
	_ context.Context, to []string, _, _ string,
) error {

	m.mu.Lock()
	defer m.mu.Unlock()

	m.sent = append(m.sent, to)

	return nil
}

func (m *engineMailbox) Reply(
	_ context.Context, _, messageID, _ string,
) error {

	m.mu.Lock()
	defer m.mu.Unlock()

	m.replies = append(m.replies, messageID)

	return nil
}

func (m *engineMailbox) Watch(
	_ context.Context,
) (provider.WatchRegistration, error) {

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.watchErr != nil {
		return provider.WatchRegistration{}, m.watchErr
	}

	m.watchCalls++

	return provider.WatchRegistration{
		ExternalRef: m.profile,
		ClientState: "secret",
		Cursor:      "100",
		Expiration:  time.Now().Add(24 * time.Hour),
	}, nil
}

func (m *engineMailbox) StopWatch(
	_ context.Context, externalRef string,
) error {

	m.mu.Lock()
	defer m.mu.Unlock()

	m.stopCalls = append(m.stopCalls, externalRef)

	return nil
}

func (m *engineMailbox) draftCount(threadID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.drafts[threadID])
}

// fakeSource hands the one fake mailbox to every caller.
type fakeSource struct {
	mailbox *engineMailbox
}

func (f *fakeSource) MailboxFor(
	_ context.Context, _ string, _ store.Provider,
) (provider.Mailbox, error) {

	return f.mailbox, nil
}

// fakeAssistant is a scripted assistant backend.
type fakeAssistant struct {
	mu sync.Mutex

	shouldReply bool
	replyText   string

	threads int
}

func (f *fakeAssistant) CreateThread(
	_ context.Context, _ string,
) (string, error) {

	f.mu.Lock()
	defer f.mu.Unlock()

	f.threads++

	return "mem-thread-1", nil
}

func (f *fakeAssistant) ShouldReply(
	_ context.Context, _, _, _, _ string,
) (bool, error) {

	return f.shouldReply, nil
}

func (f *fakeAssistant) Reply(
	_ context.Context, _, _ string,
) (string, error) {

	return f.replyText, nil
}

// fixture wires a full engine over the mock store and scripted provider
// and assistant backends.
type fixture struct {
	engine  *Engine
	store   *store.MockStore
	mailbox *engineMailbox
	ai      *fakeAssistant
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	mock := store.NewMockStore()
	mailbox := newEngineMailbox(store.ProviderGmail, "me@co.com")
	source := &fakeSource{mailbox: mailbox}
	ai := &fakeAssistant{shouldReply: true, replyText: "On it."}

	resolver := conversation.NewResolver(mock, ai, testLogger())

	registry := blocks.NewRegistry()
	registry.MustRegister(blocks.NewReplyHandler(
		ai, resolver, source, blocks.NewReconciler(testLogger()),
		testLogger(),
	))
	registry.MustRegister(blocks.NewSendHandler(source, testLogger()))

	eng := New(Config{
		Store:         mock,
		Mailboxes:     source,
		Registry:      registry,
		Log:           testLogger(),
		SweepInterval: time.Hour,
	})
	eng.runCtx, eng.runCancel = context.WithCancel(
		context.Background(),
	)
	t.Cleanup(eng.Shutdown)

	return &fixture{
		engine:  eng,
		store:   mock,
		mailbox: mailbox,
		ai:      ai,
	}
}

// seedPipeline stores the canonical test pipeline: a Gmail integration, an
// email-received condition scoping one reply action, and the end marker.
func (f *fixture) seedPipeline(t *testing.T, workspaceID string) {
	t.Helper()

	err := f.store.ReplaceBlocks(
		context.Background(), workspaceID, []store.PipelineBlock{
			{
				BlockID:     "blk-gmail",
				WorkspaceID: workspaceID,
				Type:        "integration-gmail",
				Position:    1,
			},
			{
				BlockID:     "blk-cond",
				WorkspaceID: workspaceID,
				Type:        "condition-email-received",
				Position:    2,
			},
			{
				BlockID:     "blk-reply",
				WorkspaceID: workspaceID,
				Type:        "action-reply-email",
				Position:    3,
			},
			{
				BlockID:           "blk-end",
				WorkspaceID:       workspaceID,
				Type:              "condition-end-marker",
				Position:          4,
				ParentConditionID: "blk-cond",
			},
		},
	)
	require.NoError(t, err)
}

// seedCredential stores a Gmail credential for the user.
func (f *fixture) seedCredential(t *testing.T, userID string) {
	t.Helper()

	err := f.store.UpsertCredential(
		context.Background(), store.OAuthCredential{
			UserID:      userID,
			Provider:    store.ProviderGmail,
			AccessToken: "tok",
			Expiry:      time.Now().Add(time.Hour),
		},
	)
	require.NoError(t, err)
}
