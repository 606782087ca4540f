package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/vserve/internal/assistant"
	"github.com/raphaelgruber/vserve/internal/chat"
	"github.com/raphaelgruber/vserve/internal/docstore"
	"github.com/raphaelgruber/vserve/internal/identity"
	"github.com/raphaelgruber/vserve/internal/models"
	"github.com/raphaelgruber/vserve/internal/notify"
	"github.com/raphaelgruber/vserve/internal/server"
	"github.com/raphaelgruber/vserve/internal/tickets"
)

type echoResponder struct{}

func (echoResponder) Reply(ctx context.Context, history []models.Message, query string) (assistant.Reply, error) {
	return assistant.ParseReply("You said: " + query), nil
}

type fixture struct {
	mem    *docstore.Memory
	mail   *notify.Recorder
	tokens *identity.Tokens
	url    string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mem := docstore.NewMemory()
	guarded := docstore.Guard(mem, identity.AccessPolicy)
	mail := &notify.Recorder{}
	tokens := identity.NewTokens("test-secret", "vserve-test")

	n := 0
	manager := tickets.NewManager(guarded, mail,
		tickets.WithIDGenerator(func() string { n++; return fmt.Sprintf("t%d", n) }))
	hub := chat.NewHub(func() *chat.Store { return chat.New(guarded) })

	s := server.New(server.Deps{Chats: hub, Tickets: manager, Assistant: echoResponder{}, Tokens: tokens}, nil)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return &fixture{mem: mem, mail: mail, tokens: tokens, url: srv.URL}
}

func (f *fixture) client(t *testing.T, userID, role string) *Client {
	t.Helper()
	tok, err := f.tokens.Issue(identity.Principal{UserID: userID, Role: role}, time.Hour)
	require.NoError(t, err)
	return New(f.url, tok)
}

func TestChatRoundTrip(t *testing.T) {
	f := newFixture(t)
	c := f.client(t, "u1", "user")
	ctx := context.Background()

	res, err := c.SendMessage(ctx, "", "hello there")
	require.NoError(t, err)
	assert.Equal(t, "You said: hello there", res.Response)
	require.Len(t, res.Sessions, 1)
	assert.Equal(t, res.Sessions[0].ID, res.Active)

	sessions, err := c.ListChats(ctx)
	require.NoError(t, err)
	require.Len(t, sessions.Sessions, 1)
	assert.Len(t, sessions.Sessions[0].Messages, 2)
}

func TestTicketLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.mem.SetDocument(ctx, models.CollectionChats, "u1",
		map[string]any{"email": "u1@example.com", "firstName": "Ana"}))

	user := f.client(t, "u1", "user")
	admin := f.client(t, "ops", identity.RoleAdmin)

	filed, err := user.FileTicket(ctx, tickets.Request{IssueTitle: "Aircon Repair"})
	require.NoError(t, err)
	assert.Equal(t, models.StatusOpen, filed.Status)

	list, err := user.ListTickets(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.False(t, list[0].Remaining.Overdue)

	approval, err := admin.Approve(ctx, filed.ID, "")
	require.NoError(t, err)
	assert.Equal(t, "u1@example.com", approval.Recipient)
	assert.Len(t, f.mail.Sent(), 1)

	require.NoError(t, admin.SetStatus(ctx, filed.ID, models.StatusClosed))

	stats, err := admin.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Closed)
	assert.Equal(t, 1, stats.Total)

	require.NoError(t, admin.Disapprove(ctx, filed.ID))
	list, err = admin.ListTickets(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestApproveNeedsRecipient(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	filed, err := f.client(t, "u2", "user").FileTicket(ctx, tickets.Request{})
	require.NoError(t, err)

	admin := f.client(t, "ops", identity.RoleAdmin)
	_, err = admin.Approve(ctx, filed.ID, "")
	require.Error(t, err)
	assert.True(t, NeedsRecipient(err))

	approval, err := admin.Approve(ctx, filed.ID, "manual@example.com")
	require.NoError(t, err)
	assert.Equal(t, "manual@example.com", approval.Recipient)
}

func TestNonAdminCannotTriage(t *testing.T) {
	f := newFixture(t)
	_, err := f.client(t, "u1", "user").Stats(context.Background())

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusForbidden, apiErr.StatusCode)
}

func TestUnauthenticated(t *testing.T) {
	f := newFixture(t)
	_, err := New(f.url, "").ListTickets(context.Background())

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
}

func TestWatchTickets(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	user := f.client(t, "u1", "user")
	snapshots := make(chan []Ticket, 4)
	errCh := make(chan error, 1)
	go func() {
		errCh <- user.WatchTickets(ctx, func(list []Ticket) error {
			snapshots <- list
			if len(list) == 1 {
				return errors.New("stop")
			}
			return nil
		}, nil)
	}()

	select {
	case first := <-snapshots:
		assert.Empty(t, first)
	case <-ctx.Done():
		t.Fatal("no initial snapshot")
	}

	_, err := user.FileTicket(ctx, tickets.Request{IssueTitle: "Plumbing"})
	require.NoError(t, err)

	select {
	case err := <-errCh:
		assert.EqualError(t, err, "stop")
	case <-ctx.Done():
		t.Fatal("no snapshot after filing")
	}
}

func TestNewDefaults(t *testing.T) {
	t.Setenv("VSERVE_SERVER_URL", "")
	t.Setenv("VSERVE_CLIENT_TIMEOUT", "5s")
	c := New("", "tok")
	assert.Equal(t, "http://localhost:8484", c.baseURL)
	assert.Equal(t, 5*time.Second, c.httpClient.Timeout)
}
