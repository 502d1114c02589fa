package provider

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mailflow/mailflow/internal/store"
)

// defaultGmailBaseURL is the Gmail REST API root for the authenticated
// user.
const defaultGmailBaseURL = "https://gmail.googleapis.com/gmail/v1/users/me"

// GmailMailbox implements Mailbox over the Gmail REST API. The HTTP client
// must already carry OAuth credentials.
type GmailMailbox struct {
	httpc   *http.Client
	baseURL string

	// pubsubTopic is the Cloud Pub/Sub topic push notifications are
	// published to.
	pubsubTopic string

	log *slog.Logger
}

// A compile-time check that GmailMailbox satisfies the Mailbox interface.
var _ Mailbox = (*GmailMailbox)(nil)

// NewGmailMailbox creates a Gmail mailbox over an authenticated HTTP
// client.
func NewGmailMailbox(
	httpc *http.Client, pubsubTopic string, log *slog.Logger,
) *GmailMailbox {

	return &GmailMailbox{
		httpc:       httpc,
		baseURL:     defaultGmailBaseURL,
		pubsubTopic: pubsubTopic,
		log:         log,
	}
}

// Provider identifies the backing provider.
func (g *GmailMailbox) Provider() store.Provider {
	return store.ProviderGmail
}

// Profile returns the authenticated account's primary address.
func (g *GmailMailbox) Profile(ctx context.Context) (string, error) {
	var resp struct {
		EmailAddress string `json:"emailAddress"`
	}
	err := g.doJSON(ctx, http.MethodGet, "/profile", nil, &resp)
	if err != nil {
		return "", fmt.Errorf("gmail profile: %w", err)
	}

	return resp.EmailAddress, nil
}

// gmailMessage is the wire shape of a Gmail message resource.
type gmailMessage struct {
	ID           string `json:"id"`
	ThreadID     string `json:"threadId"`
	Snippet      string `json:"snippet"`
	InternalDate string `json:"internalDate"`
	Payload      struct {
		Headers []struct {
			Name  string `json:"name"`
			Value string `json:"value"`
		} `json:"headers"`
		Filename string `json:"filename"`
		Body     struct {
			Data string `json:"data"`
		} `json:"body"`
		Parts []gmailPart `json:"parts"`
	} `json:"payload"`
}

type gmailPart struct {
	MimeType string `json:"mimeType"`
	Filename string `json:"filename"`
	Body     struct {
		Data string `json:"data"`
	} `json:"body"`
	Parts []gmailPart `json:"parts"`
}

// GetMessage fetches one message by ID with its full payload.
func (g *GmailMailbox) GetMessage(
	ctx context.Context, id string,
) (Message, error) {

	var wire gmailMessage
	path := fmt.Sprintf("/messages/%s?format=full", url.PathEscape(id))
	if err := g.doJSON(ctx, http.MethodGet, path, nil, &wire); err != nil {
		return Message{}, fmt.Errorf("gmail get message: %w", err)
	}

	return normalizeGmailMessage(wire), nil
}

// normalizeGmailMessage flattens a wire message into the provider shape.
func normalizeGmailMessage(wire gmailMessage) Message {
	msg := Message{
		ID:       wire.ID,
		ThreadID: wire.ThreadID,
		Snippet:  wire.Snippet,
	}

	for _, header := range wire.Payload.Headers {
		switch strings.ToLower(header.Name) {
		case "from":
			msg.From = header.Value
		case "subject":
			msg.Subject = header.Value
		case "to":
			msg.To = strings.Split(header.Value, ",")
		}
	}

	if ms, err := strconv.ParseInt(wire.InternalDate, 10, 64); err == nil {
		msg.ReceivedAt = time.UnixMilli(ms)
	}

	body, hasAttachment := walkGmailParts(
		wire.Payload.Filename, wire.Payload.Body.Data,
		wire.Payload.Parts,
	)
	msg.Body = body
	if msg.Body == "" {
		msg.Body = wire.Snippet
	}
	msg.HasAttachment = hasAttachment

	return msg
}

// walkGmailParts recursively extracts the first text body and the
// attachment flag from a MIME part tree.
func walkGmailParts(
	filename, bodyData string, parts []gmailPart,
) (string, bool) {

	var (
		body          string
		hasAttachment = filename != ""
	)

	if bodyData != "" {
		if decoded, err := base64.URLEncoding.DecodeString(
			bodyData,
		); err == nil {
			body = string(decoded)
		}
	}

	for _, part := range parts {
		if part.Filename != "" {
			hasAttachment = true
		}

		childBody, childAttach := walkGmailParts(
			part.Filename, "", part.Parts,
		)
		hasAttachment = hasAttachment || childAttach

		if body == "" && part.Body.Data != "" &&
			strings.HasPrefix(part.MimeType, "text/") {

			decoded, err := base64.URLEncoding.DecodeString(
				part.Body.Data,
			)
			if err == nil {
				body = string(decoded)
			}
		}
		if body == "" {
			body = childBody
		}
	}

	return body, hasAttachment
}

// ListMessages returns the newest inbox messages, newest first.
func (g *GmailMailbox) ListMessages(
	ctx context.Context, max int,
) ([]Message, error) {

	var list struct {
		Messages []struct {
			ID string `json:"id"`
		} `json:"messages"`
	}
	path := fmt.Sprintf(
		"/messages?maxResults=%d&labelIds=INBOX", max,
	)
	if err := g.doJSON(ctx, http.MethodGet, path, nil, &list); err != nil {
		return nil, fmt.Errorf("gmail list messages: %w", err)
	}

	msgs := make([]Message, 0, len(list.Messages))
	for _, entry := range list.Messages {
		msg, err := g.GetMessage(ctx, entry.ID)
		if err != nil {
			g.log.WarnContext(
				ctx, "Skipping unfetchable gmail message",
				"message_id", entry.ID, "err", err,
			)

			continue
		}

		msgs = append(msgs, msg)
	}

	return msgs, nil
}

// History returns the IDs of messages added since the given history
// cursor along with the new cursor.
func (g *GmailMailbox) History(
	ctx context.Context, cursor string,
) ([]string, string, error) {

	var resp struct {
		HistoryID string `json:"historyId"`
		History   []struct {
			MessagesAdded []struct {
				Message struct {
					ID string `json:"id"`
				} `json:"message"`
			} `json:"messagesAdded"`
		} `json:"history"`
	}
	path := fmt.Sprintf(
		"/history?startHistoryId=%s&historyTypes=messageAdded",
		url.QueryEscape(cursor),
	)
	if err := g.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, "", fmt.Errorf("gmail history: %w", err)
	}

	var ids []string
	seen := make(map[string]bool)
	for _, entry := range resp.History {
		for _, added := range entry.MessagesAdded {
			id := added.Message.ID
			if id == "" || seen[id] {
				continue
			}
			seen[id] = true
			ids = append(ids, id)
		}
	}

	newCursor := resp.HistoryID
	if newCursor == "" {
		newCursor = cursor
	}

	return ids, newCursor, nil
}

// ListDrafts returns all drafts anchored in the given thread.
func (g *GmailMailbox) ListDrafts(
	ctx context.Context, threadID string,
) ([]Draft, error) {

	var resp struct {
		Drafts []struct {
			ID      string `json:"id"`
			Message struct {
				ThreadID string `json:"threadId"`
			} `json:"message"`
		} `json:"drafts"`
	}
	err := g.doJSON(ctx, http.MethodGet, "/drafts", nil, &resp)
	if err != nil {
		return nil, fmt.Errorf("gmail list drafts: %w", err)
	}

	var drafts []Draft
	for _, d := range resp.Drafts {
		if d.Message.ThreadID == threadID {
			drafts = append(drafts, Draft{
				ID:       d.ID,
				ThreadID: d.Message.ThreadID,
			})
		}
	}

	return drafts, nil
}

// CreateDraft creates a new draft, anchored in the request's thread when
// one is given.
func (g *GmailMailbox) CreateDraft(
	ctx context.Context, req DraftRequest,
) (Draft, error) {

	raw := encodeRawMessage(req.To, req.Subject, req.Body)

	payload := map[string]any{
		"message": map[string]any{
			"raw": raw,
		},
	}
	if req.ThreadID != "" {
		payload["message"].(map[string]any)["threadId"] = req.ThreadID
	}

	var resp struct {
		ID      string `json:"id"`
		Message struct {
			ThreadID string `json:"threadId"`
		} `json:"message"`
	}
	err := g.doJSON(ctx, http.MethodPost, "/drafts", payload, &resp)
	if err != nil {
		return Draft{}, fmt.Errorf("gmail create draft: %w", err)
	}

	return Draft{ID: resp.ID, ThreadID: resp.Message.ThreadID}, nil
}

// DeleteDraft deletes a draft by ID.
func (g *GmailMailbox) DeleteDraft(
	ctx context.Context, draftID string,
) error {

	path := "/drafts/" + url.PathEscape(draftID)
	err := g.doJSON(ctx, http.MethodDelete, path, nil, nil)
	if err != nil {
		return fmt.Errorf("gmail delete draft: %w", err)
	}

	return nil
}

// Send sends a new message to explicit recipients.
func (g *GmailMailbox) Send(
	ctx context.Context, to []string, subject, body string,
) error {

	payload := map[string]any{
		"raw": encodeRawMessage(to, subject, body),
	}
	err := g.doJSON(ctx, http.MethodPost, "/messages/send", payload, nil)
	if err != nil {
		return fmt.Errorf("gmail send: %w", err)
	}

	return nil
}

// Reply sends an in-thread reply to the given message.
func (g *GmailMailbox) Reply(
	ctx context.Context, threadID, messageID, body string,
) error {

	// The original sender is resolved from the message being replied
	// to, so the reply threads correctly on the recipient's side too.
	original, err := g.GetMessage(ctx, messageID)
	if err != nil {
		return fmt.Errorf("gmail reply lookup: %w", err)
	}

	payload := map[string]any{
		"raw": encodeRawMessage(
			[]string{original.From},
			replySubjectLine(original.Subject), body,
		),
		"threadId": threadID,
	}
	err = g.doJSON(ctx, http.MethodPost, "/messages/send", payload, nil)
	if err != nil {
		return fmt.Errorf("gmail reply: %w", err)
	}

	return nil
}

// Watch establishes a push registration publishing to the configured
// Pub/Sub topic. The external ref is the watched address, which is what
// Gmail notifications carry.
func (g *GmailMailbox) Watch(
	ctx context.Context,
) (WatchRegistration, error) {

	address, err := g.Profile(ctx)
	if err != nil {
		return WatchRegistration{}, err
	}

	payload := map[string]any{
		"topicName": g.pubsubTopic,
		"labelIds":  []string{"INBOX"},
	}

	var resp struct {
		HistoryID  string `json:"historyId"`
		Expiration string `json:"expiration"`
	}
	err = g.doJSON(ctx, http.MethodPost, "/watch", payload, &resp)
	if err != nil {
		return WatchRegistration{}, fmt.Errorf(
			"gmail watch: %w", err,
		)
	}

	reg := WatchRegistration{
		ExternalRef: address,
		Cursor:      resp.HistoryID,
	}
	if ms, err := strconv.ParseInt(resp.Expiration, 10, 64); err == nil {
		reg.Expiration = time.UnixMilli(ms)
	}

	return reg, nil
}

// StopWatch tears down the push registration.
func (g *GmailMailbox) StopWatch(
	ctx context.Context, _ string,
) error {

	err := g.doJSON(ctx, http.MethodPost, "/stop", nil, nil)
	if err != nil {
		return fmt.Errorf("gmail stop watch: %w", err)
	}

	return nil
}

// doJSON issues one API request, decoding the JSON response into out when
// out is non-nil.
func (g *GmailMailbox) doJSON(
	ctx context.Context, method, path string, payload, out any,
) error {

	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(
		ctx, method, g.baseURL+path, body,
	)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := g.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("gmail request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized ||
		resp.StatusCode == http.StatusForbidden {

		return &CredentialError{
			Provider: store.ProviderGmail,
			Reason: fmt.Sprintf(
				"gmail returned %d", resp.StatusCode,
			),
		}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("gmail returned %d: %s",
			resp.StatusCode, string(snippet))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	return nil
}

// encodeRawMessage builds the base64url RFC 822 message Gmail's raw field
// expects.
func encodeRawMessage(to []string, subject, body string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	b.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(body)

	return base64.URLEncoding.EncodeToString([]byte(b.String()))
}

// replySubjectLine prefixes a subject with "Re:" unless already present.
func replySubjectLine(subject string) string {
	if strings.HasPrefix(strings.ToLower(subject), "re:") {
		return subject
	}

	return "Re: " + subject
}
