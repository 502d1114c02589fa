// Package assistant is the client for the AI memory/completion service.
// Each email conversation maps to one long-lived memory thread; the
// service answers completion requests with the full thread history as
// context.
package assistant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Assistant is the capability surface the engine consumes: thread
// creation, the should-reply decision, and reply generation.
type Assistant interface {
	// CreateThread creates a new memory thread and returns its ID.
	CreateThread(ctx context.Context, title string) (string, error)

	// ShouldReply decides whether an inbound email warrants an
	// answer. Automated, no-reply, and bulk mail should be declined.
	ShouldReply(
		ctx context.Context, threadID, from, subject, body string,
	) (bool, error)

	// Reply generates a reply to the prompt within the thread's
	// conversation memory.
	Reply(ctx context.Context, threadID, prompt string) (string, error)
}

// shouldReplyPrompt frames the reply decision as a strict YES/NO question
// so the answer survives model formatting quirks.
const shouldReplyPrompt = `You are an email assistant. Decide whether the ` +
	`following email warrants a personal reply. Automated ` +
	`notifications, no-reply senders, newsletters, and bulk mail do ` +
	`not. Answer with exactly one word, YES or NO.

From: %s
Subject: %s

%s`

// Client is the HTTP client for the memory service.
type Client struct {
	baseURL string
	apiKey  string
	httpc   *http.Client
	log     *slog.Logger
}

// A compile-time check that Client satisfies the Assistant interface.
var _ Assistant = (*Client)(nil)

// NewClient creates a new assistant client.
func NewClient(baseURL, apiKey string, log *slog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpc: &http.Client{
			Timeout: 60 * time.Second,
		},
		log: log,
	}
}

// CreateThread creates a new memory thread and returns its ID.
func (c *Client) CreateThread(
	ctx context.Context, title string,
) (string, error) {

	var resp struct {
		ID string `json:"id"`
	}
	err := c.post(ctx, "/threads", map[string]any{
		"name": title,
	}, &resp)
	if err != nil {
		return "", fmt.Errorf("create thread: %w", err)
	}
	if resp.ID == "" {
		return "", fmt.Errorf("create thread: empty thread id")
	}

	return resp.ID, nil
}

// ShouldReply decides whether an inbound email warrants an answer.
func (c *Client) ShouldReply(
	ctx context.Context, threadID, from, subject, body string,
) (bool, error) {

	prompt := fmt.Sprintf(shouldReplyPrompt, from, subject, body)

	answer, err := c.Reply(ctx, threadID, prompt)
	if err != nil {
		return false, fmt.Errorf("should-reply decision: %w", err)
	}

	decision := strings.ToUpper(strings.TrimSpace(answer))

	// Models occasionally decorate the verdict; look at the first
	// token only.
	if fields := strings.Fields(decision); len(fields) > 0 {
		decision = strings.Trim(fields[0], ".,!:")
	}

	return decision == "YES", nil
}

// Reply generates a reply to the prompt within the thread's memory.
func (c *Client) Reply(
	ctx context.Context, threadID, prompt string,
) (string, error) {

	var resp struct {
		Content string `json:"content"`
	}
	path := fmt.Sprintf("/threads/%s/messages", threadID)
	err := c.post(ctx, path, map[string]any{
		"content": prompt,
	}, &resp)
	if err != nil {
		return "", fmt.Errorf("generate reply: %w", err)
	}

	return resp.Content, nil
}

// post issues a JSON POST and decodes the JSON response into out.
func (c *Client) post(
	ctx context.Context, path string, payload any, out any,
) error {

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(
		ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body),
	)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("assistant request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("assistant returned %d: %s",
			resp.StatusCode, string(snippet))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	return nil
}
