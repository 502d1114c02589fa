package provider

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/mailflow/mailflow/internal/store"
	"golang.org/x/oauth2"
)

// Factory builds authenticated mailboxes from stored credentials. It is
// the engine's single entry point into the provider layer.
type Factory struct {
	creds        store.CredentialStore
	gmailOAuth   *oauth2.Config
	outlookOAuth *oauth2.Config

	// pubsubTopic is the Pub/Sub topic Gmail watches publish to.
	pubsubTopic string

	// notificationURL is the webhook endpoint Graph subscriptions
	// deliver to.
	notificationURL string

	log *slog.Logger
}

// NewFactory creates a mailbox factory.
func NewFactory(
	creds store.CredentialStore, gmailOAuth, outlookOAuth *oauth2.Config,
	pubsubTopic, notificationURL string, log *slog.Logger,
) *Factory {

	return &Factory{
		creds:           creds,
		gmailOAuth:      gmailOAuth,
		outlookOAuth:    outlookOAuth,
		pubsubTopic:     pubsubTopic,
		notificationURL: notificationURL,
		log:             log,
	}
}

// OAuthConfig returns the OAuth configuration for a provider, used by the
// auth handshake endpoints.
func (f *Factory) OAuthConfig(p store.Provider) (*oauth2.Config, error) {
	switch p {
	case store.ProviderGmail:
		return f.gmailOAuth, nil
	case store.ProviderOutlook:
		return f.outlookOAuth, nil
	default:
		return nil, fmt.Errorf("unknown provider %q", p)
	}
}

// MailboxFor returns the authenticated mailbox of the given user at the
// given provider. A missing stored credential is a CredentialError.
func (f *Factory) MailboxFor(
	ctx context.Context, userID string, p store.Provider,
) (Mailbox, error) {

	oauthCfg, err := f.OAuthConfig(p)
	if err != nil {
		return nil, err
	}

	credOpt, err := f.creds.GetCredential(ctx, userID, p)
	if err != nil {
		return nil, fmt.Errorf("load credential: %w", err)
	}
	if credOpt.IsNone() {
		return nil, &CredentialError{
			Provider: p,
			Reason:   "no stored credential, reconnect the account",
		}
	}
	cred := credOpt.UnwrapOr(store.OAuthCredential{})

	token := &oauth2.Token{
		AccessToken:  cred.AccessToken,
		RefreshToken: cred.RefreshToken,
		Expiry:       cred.Expiry,
	}

	// Wrap the refreshing source so refreshed tokens are written back
	// to the store instead of being lost on restart.
	source := &persistingTokenSource{
		inner:  oauthCfg.TokenSource(ctx, token),
		ctx:    ctx,
		creds:  f.creds,
		userID: userID,
		prov:   p,
		scope:  cred.Scope,
		last:   cred.AccessToken,
		log:    f.log,
	}

	httpc := oauth2.NewClient(ctx, source)

	switch p {
	case store.ProviderGmail:
		return NewGmailMailbox(httpc, f.pubsubTopic, f.log), nil
	case store.ProviderOutlook:
		return NewGraphMailbox(httpc, f.notificationURL, f.log), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", p)
	}
}

// persistingTokenSource saves refreshed tokens back to the credential
// store.
type persistingTokenSource struct {
	inner  oauth2.TokenSource
	ctx    context.Context
	creds  store.CredentialStore
	userID string
	prov   store.Provider
	scope  string
	log    *slog.Logger

	mu   sync.Mutex
	last string
}

// Token returns a valid token, persisting it when a refresh produced a
// new one.
func (s *persistingTokenSource) Token() (*oauth2.Token, error) {
	token, err := s.inner.Token()
	if err != nil {
		return nil, &CredentialError{
			Provider: s.prov,
			Reason:   fmt.Sprintf("token refresh failed: %v", err),
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if token.AccessToken == s.last {
		return token, nil
	}
	s.last = token.AccessToken

	err = s.creds.UpsertCredential(s.ctx, store.OAuthCredential{
		UserID:       s.userID,
		Provider:     s.prov,
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		Expiry:       token.Expiry,
		Scope:        s.scope,
	})
	if err != nil {
		// The refreshed token still works for this process; only
		// persistence failed.
		s.log.WarnContext(
			s.ctx, "Failed to persist refreshed token",
			"user_id", s.userID,
			"provider", string(s.prov),
			"err", err,
		)
	}

	return token, nil
}
