package commands

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mailflow/mailflow/internal/assistant"
	"github.com/mailflow/mailflow/internal/blocks"
	"github.com/mailflow/mailflow/internal/conversation"
	"github.com/mailflow/mailflow/internal/engine"
	"github.com/mailflow/mailflow/internal/provider"
	"github.com/mailflow/mailflow/internal/store"
	"github.com/mailflow/mailflow/internal/trigger"
	"github.com/mailflow/mailflow/internal/web"
	"github.com/spf13/cobra"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"
)

// shutdownTimeout bounds how long the HTTP server may take to drain
// in-flight requests on shutdown.
const shutdownTimeout = 10 * time.Second

var (
	// listenAddr is the HTTP listen address.
	listenAddr string

	// publicURL is the externally reachable base URL of this daemon.
	// OAuth redirect and webhook notification URLs are derived from it.
	publicURL string

	// assistantURL is the base URL of the assistant API.
	assistantURL string

	// assistantKey is the assistant API key.
	assistantKey string

	// gmailClientID and gmailClientSecret are the Google OAuth app
	// credentials.
	gmailClientID     string
	gmailClientSecret string

	// outlookClientID and outlookClientSecret are the Microsoft OAuth
	// app credentials.
	outlookClientID     string
	outlookClientSecret string

	// pubsubTopic is the Pub/Sub topic Gmail watches publish to.
	pubsubTopic string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the workflow engine and HTTP API",
	RunE:  runDaemon,
}

func init() {
	runCmd.Flags().StringVar(
		&listenAddr, "listen", ":8080", "HTTP listen address",
	)
	runCmd.Flags().StringVar(
		&publicURL, "public-url", "http://localhost:8080",
		"Externally reachable base URL for OAuth and webhooks",
	)
	runCmd.Flags().StringVar(
		&assistantURL, "assistant-url", "https://api.openai.com",
		"Assistant API base URL",
	)
	runCmd.Flags().StringVar(
		&assistantKey, "assistant-key", "",
		"Assistant API key (default: $MAILFLOW_ASSISTANT_KEY)",
	)
	runCmd.Flags().StringVar(
		&gmailClientID, "gmail-client-id", "",
		"Google OAuth client ID (default: $GMAIL_CLIENT_ID)",
	)
	runCmd.Flags().StringVar(
		&gmailClientSecret, "gmail-client-secret", "",
		"Google OAuth client secret (default: $GMAIL_CLIENT_SECRET)",
	)
	runCmd.Flags().StringVar(
		&outlookClientID, "outlook-client-id", "",
		"Microsoft OAuth client ID (default: $OUTLOOK_CLIENT_ID)",
	)
	runCmd.Flags().StringVar(
		&outlookClientSecret, "outlook-client-secret", "",
		"Microsoft OAuth client secret "+
			"(default: $OUTLOOK_CLIENT_SECRET)",
	)
	runCmd.Flags().StringVar(
		&pubsubTopic, "pubsub-topic", "",
		"Pub/Sub topic for Gmail push notifications "+
			"(default: $MAILFLOW_PUBSUB_TOPIC)",
	)
}

// envOr returns value when non-empty, otherwise the named environment
// variable.
func envOr(value, envKey string) string {
	if value != "" {
		return value
	}

	return os.Getenv(envKey)
}

// oauthConfigs builds the per-provider OAuth configurations from the
// daemon flags.
func oauthConfigs() (*oauth2.Config, *oauth2.Config) {
	base := strings.TrimRight(publicURL, "/")

	gmail := &oauth2.Config{
		ClientID:     envOr(gmailClientID, "GMAIL_CLIENT_ID"),
		ClientSecret: envOr(gmailClientSecret, "GMAIL_CLIENT_SECRET"),
		Endpoint:     endpoints.Google,
		RedirectURL:  base + "/auth/gmail/callback",
		Scopes: []string{
			"https://www.googleapis.com/auth/gmail.modify",
		},
	}

	outlook := &oauth2.Config{
		ClientID: envOr(outlookClientID, "OUTLOOK_CLIENT_ID"),
		ClientSecret: envOr(
			outlookClientSecret, "OUTLOOK_CLIENT_SECRET",
		),
		Endpoint:    endpoints.AzureAD("common"),
		RedirectURL: base + "/auth/outlook/callback",
		Scopes: []string{
			"offline_access", "User.Read", "Mail.ReadWrite",
			"Mail.Send",
		},
	}

	return gmail, outlook
}

func runDaemon(cmd *cobra.Command, _ []string) error {
	log, logCloser, err := newLogger(logLevel, logDir)
	if err != nil {
		return err
	}
	if logCloser != nil {
		defer logCloser.Close()
	}

	sqlDB, err := openDatabase(log)
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	sqlStore := store.NewSQLStore(sqlDB, log)

	// Provider layer: OAuth configs plus the mailbox factory.
	gmailOAuth, outlookOAuth := oauthConfigs()
	base := strings.TrimRight(publicURL, "/")
	factory := provider.NewFactory(
		sqlStore, gmailOAuth, outlookOAuth,
		envOr(pubsubTopic, "MAILFLOW_PUBSUB_TOPIC"),
		base+"/webhooks/outlook", log,
	)

	// Assistant layer: the AI client and per-sender conversation
	// resolution.
	ai := assistant.NewClient(
		assistantURL, envOr(assistantKey, "MAILFLOW_ASSISTANT_KEY"),
		log,
	)
	resolver := conversation.NewResolver(sqlStore, ai, log)

	// Action handlers.
	registry := blocks.NewRegistry()
	registry.MustRegister(blocks.NewReplyHandler(
		ai, resolver, factory, blocks.NewReconciler(log), log,
	))
	registry.MustRegister(blocks.NewSendHandler(factory, log))

	eng := engine.New(engine.Config{
		Store:     sqlStore,
		Mailboxes: factory,
		Registry:  registry,
		Log:       log,
	})
	if err := eng.Start(); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}
	defer eng.Shutdown()

	// HTTP front: control API, webhooks, OAuth, WebSocket feed.
	webCfg := web.DefaultConfig()
	webCfg.Addr = listenAddr

	server := web.NewServer(
		webCfg, sqlStore, eng, factory,
		trigger.NewGmailNormalizer(sqlStore, factory, log),
		trigger.NewOutlookNormalizer(sqlStore, factory, log),
		log,
	)

	errCh := make(chan error, 1)
	go func() {
		log.Info("Web server listening", "addr", listenAddr)
		if err := server.Start(); err != nil &&
			err != http.ErrServerClosed {

			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("Shutting down", "signal", sig.String())

	case err := <-errCh:
		return fmt.Errorf("web server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(
		context.Background(), shutdownTimeout,
	)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("Web server shutdown failed", "err", err)
	}

	return nil
}
