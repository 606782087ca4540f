// Package db stores portal documents in SurrealDB over an auto-reconnecting
// WebSocket and implements docstore.Store on top of it.
package db

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/raphaelgruber/vserve/internal/models"
	"github.com/surrealdb/surrealdb.go"
	"github.com/surrealdb/surrealdb.go/contrib/rews"
	"github.com/surrealdb/surrealdb.go/pkg/connection"
	"github.com/surrealdb/surrealdb.go/pkg/connection/gorillaws"
	"github.com/surrealdb/surrealdb.go/pkg/logger"
	"github.com/surrealdb/surrealdb.go/surrealcbor"
)

// WebSocket upgrades break when wss negotiates h2 via ALPN.
func init() {
	gorillaws.DefaultDialer.TLSClientConfig = &tls.Config{NextProtos: []string{"http/1.1"}}
}

const (
	dialTimeout     = 5 * time.Second
	reconnectFirst  = time.Second
	reconnectCap    = 30 * time.Second
	reconnectTries  = 10
	authLevelTenant = "database"
)

// Config locates the portal database and the credentials used to reach it.
type Config struct {
	URL       string
	Namespace string
	Database  string
	Username  string
	Password  string
	// AuthLevel is "root" (default) or "database".
	AuthLevel string
}

// signInAuth picks namespace-scoped or root credentials.
func (cfg Config) signInAuth() surrealdb.Auth {
	auth := surrealdb.Auth{Username: cfg.Username, Password: cfg.Password}
	if cfg.AuthLevel == authLevelTenant {
		auth.Namespace = cfg.Namespace
		auth.Database = cfg.Database
	}
	return auth
}

// rpcBase strips a trailing /rpc; the gorillaws transport appends its own.
func (cfg Config) rpcBase() string {
	return strings.TrimSuffix(cfg.URL, "/rpc")
}

// Client is a live session against the portal database.
type Client struct {
	conn *rews.Connection[*gorillaws.Connection]
	db   *surrealdb.DB
	cfg  Config
	sdk  logger.Logger
	log  *slog.Logger
}

// NewClient dials, signs in and selects the portal namespace. The returned
// client redials with exponential backoff when the socket drops.
func NewClient(ctx context.Context, cfg Config, log *slog.Logger) (*Client, error) {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("store", "surrealdb", "namespace", cfg.Namespace, "database", cfg.Database)
	sdk := logger.New(log.Handler())

	conn := dial(cfg, sdk)
	log.Info("dialing document store", "url", cfg.URL)
	if err := conn.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}

	c := &Client{conn: conn, cfg: cfg, sdk: sdk, log: log}
	if err := c.open(ctx); err != nil {
		_ = conn.Close(ctx)
		return nil, err
	}
	log.Info("document store ready", "auth_level", cfg.AuthLevel)
	return c, nil
}

func dial(cfg Config, sdk logger.Logger) *rews.Connection[*gorillaws.Connection] {
	codec := surrealcbor.New()
	base := cfg.rpcBase()
	conn := rews.New(
		func(context.Context) (*gorillaws.Connection, error) {
			return gorillaws.New(&connection.Config{
				BaseURL:     base,
				Marshaler:   codec,
				Unmarshaler: codec,
				Logger:      sdk,
			}), nil
		},
		dialTimeout,
		codec,
		sdk,
	)

	backoff := rews.NewExponentialBackoffRetryer()
	backoff.InitialDelay = reconnectFirst
	backoff.MaxDelay = reconnectCap
	backoff.Multiplier = 2
	backoff.MaxRetries = reconnectTries
	conn.Retryer = backoff
	return conn
}

// open wraps the socket, authenticates and selects namespace and database.
func (c *Client) open(ctx context.Context) error {
	handle, err := surrealdb.FromConnection(ctx, c.conn)
	if err != nil {
		return fmt.Errorf("from connection: %w", err)
	}
	if _, err := handle.SignIn(ctx, c.cfg.signInAuth()); err != nil {
		return fmt.Errorf("signin as %q: %w", c.cfg.Username, err)
	}
	if err := handle.Use(ctx, c.cfg.Namespace, c.cfg.Database); err != nil {
		return fmt.Errorf("use %s/%s: %w", c.cfg.Namespace, c.cfg.Database, err)
	}
	c.db = handle
	return nil
}

// Close ends the session and stops reconnect attempts.
func (c *Client) Close(ctx context.Context) error {
	c.log.Debug("closing document store")
	return c.conn.Close(ctx)
}

// DB exposes the SDK handle.
func (c *Client) DB() *surrealdb.DB { return c.db }

// InitSchema applies the ticket and chat table definitions. Safe to rerun.
func (c *Client) InitSchema(ctx context.Context) error {
	if _, err := surrealdb.Query[any](ctx, c.db, SchemaSQL, nil); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	c.log.Debug("schema applied", "tables", []string{models.CollectionTickets, models.CollectionChats})
	return nil
}

// Query runs raw SurrealQL. Used for health probes and tests.
func (c *Client) Query(ctx context.Context, sql string, vars map[string]any) (*[]surrealdb.QueryResult[any], error) {
	return surrealdb.Query[any](ctx, c.db, sql, vars)
}

// WipeData empties the ticket and chat tables but keeps their definitions.
func (c *Client) WipeData(ctx context.Context) error {
	for _, table := range []string{models.CollectionTickets, models.CollectionChats} {
		if _, err := surrealdb.Query[any](ctx, c.db, "DELETE type::table($tb)", map[string]any{"tb": table}); err != nil {
			return fmt.Errorf("wipe %s: %w", table, err)
		}
	}
	c.log.Warn("portal data wiped")
	return nil
}
