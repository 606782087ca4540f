// Package app wires configuration into running components: the document
// store backend, mail transport, assistant and HTTP server.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/raphaelgruber/vserve/internal/assistant"
	"github.com/raphaelgruber/vserve/internal/chat"
	"github.com/raphaelgruber/vserve/internal/config"
	"github.com/raphaelgruber/vserve/internal/db"
	"github.com/raphaelgruber/vserve/internal/docstore"
	"github.com/raphaelgruber/vserve/internal/identity"
	"github.com/raphaelgruber/vserve/internal/metrics"
	"github.com/raphaelgruber/vserve/internal/models"
	"github.com/raphaelgruber/vserve/internal/notify"
	"github.com/raphaelgruber/vserve/internal/redisstore"
	"github.com/raphaelgruber/vserve/internal/server"
	"github.com/raphaelgruber/vserve/internal/tickets"
)

// TokenIssuer is the issuer claim of portal access tokens.
const TokenIssuer = "vserve"

// Backends are the opened external dependencies.
type Backends struct {
	// Docs is the instrumented, policy-guarded document store.
	Docs docstore.Store
	// Raw is the store without the access guard, for trusted maintenance.
	Raw       docstore.Store
	Health    server.Pinger
	Collector *metrics.Collector

	surreal *db.Client
	redis   *redisstore.Store
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

// Open connects to the configured document store.
func Open(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Backends, error) {
	b := &Backends{Collector: metrics.NewCollector()}

	var raw docstore.Store
	switch cfg.Store {
	case config.StoreSurreal:
		client, err := db.NewClient(ctx, db.Config{
			URL:       cfg.SurrealDBURL,
			Namespace: cfg.SurrealDBNamespace,
			Database:  cfg.SurrealDBDatabase,
			Username:  cfg.SurrealDBUser,
			Password:  cfg.SurrealDBPass,
			AuthLevel: cfg.SurrealDBAuthLevel,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("connect to database: %w", err)
		}
		if err := client.InitSchema(ctx); err != nil {
			_ = client.Close(ctx)
			return nil, fmt.Errorf("initialize schema: %w", err)
		}
		b.surreal = client
		raw = db.NewDocumentStore(client)
		b.Health = pingFunc(func(ctx context.Context) error {
			_, err := client.Query(ctx, "RETURN true", nil)
			return err
		})

	case config.StoreRedis:
		rs, err := redisstore.New(ctx, cfg.RedisURL, logger)
		if err != nil {
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		b.redis = rs
		raw = rs
		b.Health = rs

	case config.StoreMemory:
		logger.Warn("using in-memory document store; data is lost on exit")
		raw = docstore.NewMemory()

	default:
		return nil, fmt.Errorf("unsupported store backend: %q", cfg.Store)
	}

	b.Raw = metrics.InstrumentStore(raw, b.Collector)
	b.Docs = docstore.Guard(b.Raw, identity.AccessPolicy)
	return b, nil
}

// WipeData clears all portal documents. Testing only.
func (b *Backends) WipeData(ctx context.Context) error {
	if b.surreal != nil {
		return b.surreal.WipeData(ctx)
	}
	for _, coll := range []string{models.CollectionTickets, models.CollectionChats} {
		docs, err := b.Raw.ListCollection(ctx, coll)
		if err != nil {
			return err
		}
		for _, d := range docs {
			if err := b.Raw.DeleteDocument(ctx, coll, d.ID); err != nil {
				return err
			}
		}
	}
	return nil
}

// Close releases backend connections.
func (b *Backends) Close(ctx context.Context) error {
	var errs []error
	if b.surreal != nil {
		errs = append(errs, b.surreal.Close(ctx))
	}
	if b.redis != nil {
		errs = append(errs, b.redis.Close())
	}
	return errors.Join(errs...)
}

// NewDispatcher builds the configured mail transport.
func NewDispatcher(cfg config.Config, collector *metrics.Collector, logger *slog.Logger) (notify.Dispatcher, error) {
	var d notify.Dispatcher
	switch cfg.MailTransport {
	case config.MailSMTP:
		d = notify.NewSMTPSender(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword,
			cfg.MailFrom, cfg.MailFromName, logger)
	case config.MailBrevo:
		if cfg.BrevoAPIKey == "" {
			return nil, fmt.Errorf("BREVO_API_KEY required for brevo transport")
		}
		d = notify.NewBrevoSender(cfg.BrevoAPIKey, cfg.MailFrom, cfg.MailFromName, logger)
	default:
		return nil, fmt.Errorf("unsupported mail transport: %q", cfg.MailTransport)
	}
	return metrics.InstrumentDispatcher(d, collector), nil
}

// NewTicketManager builds the ticket manager over b.
func NewTicketManager(cfg config.Config, b *Backends, logger *slog.Logger) (*tickets.Manager, error) {
	dispatcher, err := NewDispatcher(cfg, b.Collector, logger)
	if err != nil {
		return nil, err
	}
	return tickets.NewManager(b.Docs, dispatcher, tickets.WithLogger(logger)), nil
}

// Serve runs the HTTP API until ctx is cancelled, then shuts down gracefully.
func Serve(ctx context.Context, cfg config.Config, b *Backends, logger *slog.Logger) error {
	if cfg.JWTSecret == "" {
		return fmt.Errorf("VSERVE_JWT_SECRET is required to serve the API")
	}

	manager, err := NewTicketManager(cfg, b, logger)
	if err != nil {
		return err
	}

	var responder assistant.Responder
	if model, err := assistant.NewModel(ctx, cfg, assistant.WithCollector(b.Collector), assistant.WithLogger(logger)); err != nil {
		logger.Warn("assistant disabled", "provider", cfg.LLMProvider, "error", err)
	} else {
		responder = model
	}

	hub := chat.NewHub(func() *chat.Store {
		return chat.New(b.Docs, chat.WithLogger(logger))
	}, chat.WithCapacity(cfg.ChatHubSize))

	if cfg.SweepExpired {
		sweeper := tickets.NewSweeper(manager, systemScope(logger), cfg.SweepSchedule, logger)
		if err := sweeper.Start(); err != nil {
			return fmt.Errorf("start sweeper: %w", err)
		}
		defer sweeper.Stop()
	}

	srv := server.New(server.Deps{
		Chats:     hub,
		Tickets:   manager,
		Assistant: responder,
		Tokens:    identity.NewTokens(cfg.JWTSecret, TokenIssuer),
		Collector: b.Collector,
		Health:    b.Health,
		Logger:    logger,
	}, cfg.CORSOrigins)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.ServerPort),
		Handler:      srv.Handler(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 60 * time.Second, // Long for assistant replies
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("API available", "url", fmt.Sprintf("http://localhost:%d/api", cfg.ServerPort))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	logger.Info("server stopped")
	return nil
}

// systemScope is the admin identity used by background jobs.
func systemScope(logger *slog.Logger) *identity.Scope {
	return identity.ForPrincipal(identity.Principal{UserID: "system", Role: identity.RoleAdmin}, logger)
}
