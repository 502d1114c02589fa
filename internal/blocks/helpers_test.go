package blocks

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/mailflow/mailflow/internal/provider"
	"github.com/mailflow/mailflow/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeMailbox is a stateful in-memory mailbox tracking drafts and sends.
type fakeMailbox struct {
	mu sync.Mutex

	prov        store.Provider
	drafts      map[string]provider.Draft // draftID -> draft
	nextDraftID int

	sent    []sentMail
	replies []sentReply

	failDelete bool
}

type sentMail struct {
	to      []string
	subject string
	body    string
}

type sentReply struct {
	threadID  string
	messageID string
	body      string
}

func newFakeMailbox(prov store.Provider) *fakeMailbox {
	return &fakeMailbox{
		prov:        prov,
		drafts:      make(map[string]provider.Draft),
		nextDraftID: 1,
	}
}

func (f *fakeMailbox) Provider() store.Provider {
	return f.prov
}

func (f *fakeMailbox) Profile(_ context.Context) (string, error) {
	return "me@example.com", nil
}

func (f *fakeMailbox) GetMessage(
	_ context.Context, id string,
) (provider.Message, error) {

	return provider.Message{ID: id}, nil
}

func (f *fakeMailbox) ListMessages(
	_ context.Context, _ int,
) ([]provider.Message, error) {

	return nil, nil
}

func (f *fakeMailbox) History(
	_ context.Context, _ string,
) ([]string, string, error) {

	return nil, "", provider.ErrHistoryNotSupported
}

func (f *fakeMailbox) ListDrafts(
	_ context.Context, threadID string,
) ([]provider.Draft, error) {

	f.mu.Lock()
	defer f.mu.Unlock()

	var drafts []provider.Draft
	for _, d := range f.drafts {
		if d.ThreadID == threadID {
			drafts = append(drafts, d)
		}
	}

	return drafts, nil
}

func (f *fakeMailbox) CreateDraft(
	_ context.Context, req provider.DraftRequest,
) (provider.Draft, error) {

	f.mu.Lock()
	defer f.mu.Unlock()

	draft := provider.Draft{
		ID:       fmt.Sprintf("draft-%d", f.nextDraftID),
		ThreadID: req.ThreadID,
	}
	f.nextDraftID++
	f.drafts[draft.ID] = draft

	return draft, nil
}

func (f *fakeMailbox) DeleteDraft(_ context.Context, draftID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failDelete {
		return fmt.Errorf("delete refused")
	}
	if _, ok := f.drafts[draftID]; !ok {
		return provider.ErrDraftNotFound
	}
	delete(f.drafts, draftID)

	return nil
}

func (f *fakeMailbox) Send(
	_ context.Context, to []string, subject, body string,
) error {

	f.mu.Lock()
	defer f.mu.Unlock()

	f.sent = append(f.sent, sentMail{
		to:      to,
		subject: subject,
		body:    body,
	})

	return nil
}

func (f *fakeMailbox) Reply(
	_ context.Context, threadID, messageID, body string,
) error {

	f.mu.Lock()
	defer f.mu.Unlock()

	f.replies = append(f.replies, sentReply{
		threadID:  threadID,
		messageID: messageID,
		body:      body,
	})

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

// draftCount returns the number of drafts anchored in the thread.
func (f *fakeMailbox) draftCount(threadID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	count := 0
	for _, d := range f.drafts {
		if d.ThreadID == threadID {
			count++
		}
	}

	return count
}

// fakeSource hands out one fake mailbox for every user.
type fakeSource struct {
	mailbox *fakeMailbox
}

func (f *fakeSource) MailboxFor(
	_ context.Context, _ string, _ store.Provider,
) (provider.Mailbox, error) {

	return f.mailbox, nil
}

// fakeAssistant scripts the should-reply verdict and the generated text,
// recording the prompts it saw.
type fakeAssistant struct {
	shouldReply bool
	replyText   string

	prompts []string
}

func (f *fakeAssistant) CreateThread(
	_ context.Context, _ string,
) (string, error) {

	return "thread-1", nil
}

func (f *fakeAssistant) ShouldReply(
	_ context.Context, _, _, _, _ string,
) (bool, error) {

	return f.shouldReply, nil
}

func (f *fakeAssistant) Reply(
	_ context.Context, _, prompt string,
) (string, error) {

	f.prompts = append(f.prompts, prompt)
	return f.replyText, nil
}

// fakeResolver returns a fixed conversation for every message.
type fakeResolver struct {
	conv store.EmailConversation
}

func (f *fakeResolver) Resolve(
	_ context.Context, _, _, _, _ string,
) (store.EmailConversation, error) {

	return f.conv, nil
}
