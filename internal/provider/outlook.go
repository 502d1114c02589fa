package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/mailflow/mailflow/internal/store"
)

const (
	// defaultGraphBaseURL is the Microsoft Graph root for the
	// authenticated user's mailbox.
	defaultGraphBaseURL = "https://graph.microsoft.com/v1.0/me"

	// defaultGraphRootURL is the Graph root for tenant-level resources
	// like subscriptions.
	defaultGraphRootURL = "https://graph.microsoft.com/v1.0"

	// graphSubscriptionLifetime is the requested subscription lifetime.
	// Graph caps mail subscriptions at about three days; renewal is
	// handled upstream before expiry.
	graphSubscriptionLifetime = 71 * time.Hour
)

// GraphMailbox implements Mailbox over Microsoft Graph. The HTTP client
// must already carry OAuth credentials.
type GraphMailbox struct {
	httpc   *http.Client
	baseURL string
	rootURL string

	// notificationURL is the webhook endpoint Graph delivers change
	// notifications to.
	notificationURL string

	log *slog.Logger
}

// A compile-time check that GraphMailbox satisfies the Mailbox interface.
var _ Mailbox = (*GraphMailbox)(nil)

// NewGraphMailbox creates an Outlook mailbox over an authenticated HTTP
// client.
func NewGraphMailbox(
	httpc *http.Client, notificationURL string, log *slog.Logger,
) *GraphMailbox {

	return &GraphMailbox{
		httpc:           httpc,
		baseURL:         defaultGraphBaseURL,
		rootURL:         defaultGraphRootURL,
		notificationURL: notificationURL,
		log:             log,
	}
}

// Provider identifies the backing provider.
func (g *GraphMailbox) Provider() store.Provider {
	return store.ProviderOutlook
}

// Profile returns the authenticated account's primary address.
func (g *GraphMailbox) Profile(ctx context.Context) (string, error) {
	var resp struct {
		Mail              string `json:"mail"`
		UserPrincipalName string `json:"userPrincipalName"`
	}
	err := g.doJSON(ctx, http.MethodGet, g.baseURL, nil, &resp)
	if err != nil {
		return "", fmt.Errorf("graph profile: %w", err)
	}

	if resp.Mail != "" {
		return resp.Mail, nil
	}

	return resp.UserPrincipalName, nil
}

// graphMessage is the wire shape of a Graph message resource.
type graphMessage struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversationId"`
	Subject        string `json:"subject"`
	BodyPreview    string `json:"bodyPreview"`
	HasAttachments bool   `json:"hasAttachments"`
	IsDraft        bool   `json:"isDraft"`
	ReceivedAt     string `json:"receivedDateTime"`
	From           struct {
		EmailAddress struct {
			Name    string `json:"name"`
			Address string `json:"address"`
		} `json:"emailAddress"`
	} `json:"from"`
	Body struct {
		Content string `json:"content"`
	} `json:"body"`
}

// normalize flattens a wire message into the provider shape.
func (m graphMessage) normalize() Message {
	msg := Message{
		ID:            m.ID,
		ThreadID:      m.ConversationID,
		Subject:       m.Subject,
		Body:          m.Body.Content,
		Snippet:       m.BodyPreview,
		HasAttachment: m.HasAttachments,
	}

	addr := m.From.EmailAddress
	if addr.Name != "" {
		msg.From = fmt.Sprintf("%s <%s>", addr.Name, addr.Address)
	} else {
		msg.From = addr.Address
	}

	if at, err := time.Parse(time.RFC3339, m.ReceivedAt); err == nil {
		msg.ReceivedAt = at
	}

	return msg
}

// GetMessage fetches one message by ID.
func (g *GraphMailbox) GetMessage(
	ctx context.Context, id string,
) (Message, error) {

	var wire graphMessage
	endpoint := g.baseURL + "/messages/" + url.PathEscape(id)
	err := g.doJSON(ctx, http.MethodGet, endpoint, nil, &wire)
	if err != nil {
		return Message{}, fmt.Errorf("graph get message: %w", err)
	}

	return wire.normalize(), nil
}

// ListMessages returns the newest inbox messages, newest first.
func (g *GraphMailbox) ListMessages(
	ctx context.Context, max int,
) ([]Message, error) {

	var resp struct {
		Value []graphMessage `json:"value"`
	}
	endpoint := fmt.Sprintf(
		"%s/mailFolders/inbox/messages?$top=%d"+
			"&$orderby=receivedDateTime%%20desc",
		g.baseURL, max,
	)
	if err := g.doJSON(
		ctx, http.MethodGet, endpoint, nil, &resp,
	); err != nil {
		return nil, fmt.Errorf("graph list messages: %w", err)
	}

	msgs := make([]Message, 0, len(resp.Value))
	for _, wire := range resp.Value {
		msgs = append(msgs, wire.normalize())
	}

	return msgs, nil
}

// History is not supported by Graph; callers use webhook delivery plus
// list-based polling instead.
func (g *GraphMailbox) History(
	_ context.Context, _ string,
) ([]string, string, error) {

	return nil, "", ErrHistoryNotSupported
}

// ListDrafts returns all drafts anchored in the given conversation.
func (g *GraphMailbox) ListDrafts(
	ctx context.Context, threadID string,
) ([]Draft, error) {

	var resp struct {
		Value []graphMessage `json:"value"`
	}
	filter := url.QueryEscape(fmt.Sprintf(
		"isDraft eq true and conversationId eq '%s'", threadID,
	))
	endpoint := g.baseURL + "/messages?$filter=" + filter
	if err := g.doJSON(
		ctx, http.MethodGet, endpoint, nil, &resp,
	); err != nil {
		return nil, fmt.Errorf("graph list drafts: %w", err)
	}

	drafts := make([]Draft, 0, len(resp.Value))
	for _, wire := range resp.Value {
		drafts = append(drafts, Draft{
			ID:       wire.ID,
			ThreadID: wire.ConversationID,
		})
	}

	return drafts, nil
}

// CreateDraft creates a new draft. Reply drafts use Graph's createReply so
// the draft threads under the original message, then patch in the body.
func (g *GraphMailbox) CreateDraft(
	ctx context.Context, req DraftRequest,
) (Draft, error) {

	if req.ReplyToMessageID != "" {
		endpoint := fmt.Sprintf(
			"%s/messages/%s/createReply",
			g.baseURL, url.PathEscape(req.ReplyToMessageID),
		)

		var created graphMessage
		err := g.doJSON(
			ctx, http.MethodPost, endpoint, struct{}{}, &created,
		)
		if err != nil {
			return Draft{}, fmt.Errorf(
				"graph create reply draft: %w", err,
			)
		}

		patch := map[string]any{
			"body": map[string]string{
				"contentType": "HTML",
				"content":     req.Body,
			},
		}
		patchEndpoint := g.baseURL + "/messages/" +
			url.PathEscape(created.ID)
		err = g.doJSON(
			ctx, http.MethodPatch, patchEndpoint, patch, nil,
		)
		if err != nil {
			return Draft{}, fmt.Errorf(
				"graph patch draft body: %w", err,
			)
		}

		return Draft{
			ID:       created.ID,
			ThreadID: created.ConversationID,
		}, nil
	}

	payload := map[string]any{
		"subject": req.Subject,
		"body": map[string]string{
			"contentType": "HTML",
			"content":     req.Body,
		},
		"toRecipients": graphRecipients(req.To),
	}

	var created graphMessage
	endpoint := g.baseURL + "/messages"
	err := g.doJSON(ctx, http.MethodPost, endpoint, payload, &created)
	if err != nil {
		return Draft{}, fmt.Errorf("graph create draft: %w", err)
	}

	return Draft{
		ID:       created.ID,
		ThreadID: created.ConversationID,
	}, nil
}

// DeleteDraft deletes a draft by ID.
func (g *GraphMailbox) DeleteDraft(
	ctx context.Context, draftID string,
) error {

	endpoint := g.baseURL + "/messages/" + url.PathEscape(draftID)
	err := g.doJSON(ctx, http.MethodDelete, endpoint, nil, nil)
	if err != nil {
		return fmt.Errorf("graph delete draft: %w", err)
	}

	return nil
}

// Send sends a new message to explicit recipients.
func (g *GraphMailbox) Send(
	ctx context.Context, to []string, subject, body string,
) error {

	payload := map[string]any{
		"message": map[string]any{
			"subject": subject,
			"body": map[string]string{
				"contentType": "HTML",
				"content":     body,
			},
			"toRecipients": graphRecipients(to),
		},
		"saveToSentItems": true,
	}
	endpoint := g.baseURL + "/sendMail"
	err := g.doJSON(ctx, http.MethodPost, endpoint, payload, nil)
	if err != nil {
		return fmt.Errorf("graph send: %w", err)
	}

	return nil
}

// Reply sends an in-thread reply to the given message.
func (g *GraphMailbox) Reply(
	ctx context.Context, _, messageID, body string,
) error {

	payload := map[string]any{
		"comment": body,
	}
	endpoint := fmt.Sprintf(
		"%s/messages/%s/reply",
		g.baseURL, url.PathEscape(messageID),
	)
	err := g.doJSON(ctx, http.MethodPost, endpoint, payload, nil)
	if err != nil {
		return fmt.Errorf("graph reply: %w", err)
	}

	return nil
}

// Watch creates a Graph change subscription for new inbox messages. The
// external ref is the subscription ID, which is what notifications carry;
// the minted client state is the validation secret.
func (g *GraphMailbox) Watch(
	ctx context.Context,
) (WatchRegistration, error) {

	clientState := uuid.NewString()
	payload := map[string]any{
		"changeType":      "created",
		"notificationUrl": g.notificationURL,
		"resource":        "me/mailFolders('inbox')/messages",
		"expirationDateTime": time.Now().UTC().
			Add(graphSubscriptionLifetime).
			Format(time.RFC3339),
		"clientState": clientState,
	}

	var resp struct {
		ID                 string `json:"id"`
		ExpirationDateTime string `json:"expirationDateTime"`
	}
	endpoint := g.rootURL + "/subscriptions"
	err := g.doJSON(ctx, http.MethodPost, endpoint, payload, &resp)
	if err != nil {
		return WatchRegistration{}, fmt.Errorf(
			"graph subscribe: %w", err,
		)
	}

	reg := WatchRegistration{
		ExternalRef: resp.ID,
		ClientState: clientState,
	}
	if at, err := time.Parse(
		time.RFC3339, resp.ExpirationDateTime,
	); err == nil {
		reg.Expiration = at
	}

	return reg, nil
}

// StopWatch deletes the Graph subscription.
func (g *GraphMailbox) StopWatch(
	ctx context.Context, externalRef string,
) error {

	endpoint := g.rootURL + "/subscriptions/" +
		url.PathEscape(externalRef)
	err := g.doJSON(ctx, http.MethodDelete, endpoint, nil, nil)
	if err != nil {
		return fmt.Errorf("graph unsubscribe: %w", err)
	}

	return nil
}

// graphRecipients builds the Graph recipient list shape.
func graphRecipients(addresses []string) []map[string]any {
	recipients := make([]map[string]any, 0, len(addresses))
	for _, addr := range addresses {
		recipients = append(recipients, map[string]any{
			"emailAddress": map[string]string{
				"address": addr,
			},
		})
	}

	return recipients
}

// doJSON issues one API request against an absolute endpoint, decoding
// the JSON response into out when out is non-nil.
func (g *GraphMailbox) doJSON(
	ctx context.Context, method, endpoint string, payload, out any,
) error {

	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := g.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("graph request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized ||
		resp.StatusCode == http.StatusForbidden {

		return &CredentialError{
			Provider: store.ProviderOutlook,
			Reason: fmt.Sprintf(
				"graph returned %d", resp.StatusCode,
			),
		}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("graph returned %d: %s",
			resp.StatusCode, string(snippet))
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	return nil
}
