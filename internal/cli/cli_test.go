package cli

import (
	"bytes"
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/vserve/internal/app"
	"github.com/raphaelgruber/vserve/internal/chat"
	"github.com/raphaelgruber/vserve/internal/docstore"
	"github.com/raphaelgruber/vserve/internal/identity"
	"github.com/raphaelgruber/vserve/internal/models"
	"github.com/raphaelgruber/vserve/internal/notify"
	"github.com/raphaelgruber/vserve/internal/server"
	"github.com/raphaelgruber/vserve/internal/tickets"
)

// execute runs the root command against a fresh in-memory store.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("VSERVE_STORE", "memory")
	t.Setenv("VSERVE_LOG_FILE", filepath.Join(t.TempDir(), "vserve.log"))
	t.Setenv("VSERVE_LOG_LEVEL", "ERROR")
	t.Setenv("VSERVE_JWT_SECRET", "test-secret")

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() { backends = nil })

	err := rootCmd.Execute()
	return out.String(), err
}

func TestTokenIssue(t *testing.T) {
	out, err := execute(t, "token", "issue", "--token=", "--user", "u1", "--role", "user", "--email", "u1@example.com")
	require.NoError(t, err)

	p, err := identity.NewTokens("test-secret", app.TokenIssuer).Verify(strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, "u1", p.UserID)
	assert.Equal(t, "user", p.Role)
	assert.Equal(t, "u1@example.com", p.Email)
}

func TestSignInWithToken(t *testing.T) {
	token, err := identity.NewTokens("test-secret", app.TokenIssuer).
		Issue(identity.Principal{UserID: "u9", Role: "user"}, time.Hour)
	require.NoError(t, err)

	out, err := execute(t, "chats", "list", "--token", token)
	require.NoError(t, err)
	assert.Contains(t, out, "No chat sessions.")
}

func TestSignInWithBadToken(t *testing.T) {
	_, err := execute(t, "chats", "list", "--token", "not-a-token")
	assert.ErrorIs(t, err, identity.ErrInvalidToken)
}

func TestChatsSendWithReply(t *testing.T) {
	out, err := execute(t, "chats", "send", "my aircon", "is leaking",
		"--token=", "--user", "u1", "--role", "user", "--session=", "--reply", "Sorry to hear that!")
	require.NoError(t, err)
	assert.Contains(t, out, "Sorry to hear that!")
}

func TestChatsSendFilesTicketFromReply(t *testing.T) {
	reply := "Thank you! A ticket is being created. TICKET_DETAILS: First Name: [First Name], Last Name: [Last Name], " +
		"Address: [Address], Contact Number: [Contact Number], Issue Title: Repair, " +
		"Issue Description: Aircon leaking, Scheduled Time: 2025-04-25 10:00 AM <needs_ticket>"
	out, err := execute(t, "chats", "send", "2025-04-25 10:00 AM",
		"--token=", "--user", "u1", "--role", "user", "--session=", "--reply", reply)
	require.NoError(t, err)
	assert.Contains(t, out, "Filed ticket")
	assert.Contains(t, out, "(Repair)")
	assert.NotContains(t, out, "[First Name]")
	assert.Contains(t, out, "First Name: Unknown First Name")
}

func TestChatsSendUnknownSession(t *testing.T) {
	_, err := execute(t, "chats", "send", "hello",
		"--token=", "--user", "u1", "--role", "user", "--session", "missing", "--reply", "hi")
	assert.Error(t, err)
}

func TestChatsExportToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chats.yaml")
	_, err := execute(t, "chats", "export", "--token=", "--user", "u1", "--role", "user", "--out", path)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "user: u1")
	assert.Contains(t, string(data), "sessions: []")
}

func TestTicketsFile(t *testing.T) {
	out, err := execute(t, "tickets", "file", "--token=", "--user", "u1", "--role", "user",
		"--title", "Aircon Repair", "--description", "leaking water")
	require.NoError(t, err)
	assert.Contains(t, out, "Aircon Repair")
	assert.Contains(t, out, "remaining")
}

func TestTicketsListEmpty(t *testing.T) {
	out, err := execute(t, "tickets", "list", "--token=", "--user", "ops", "--role", "admin", "--status=")
	require.NoError(t, err)
	assert.Contains(t, out, "No tickets.")
}

func TestTicketsApproveMissing(t *testing.T) {
	_, err := execute(t, "tickets", "approve", "nope", "--token=", "--user", "ops", "--role", "admin", "--email=")
	assert.ErrorIs(t, err, tickets.ErrTicketNotFound)
}

func TestTicketsStatusUnknown(t *testing.T) {
	_, err := execute(t, "tickets", "status", "t1", "Archived", "--token=", "--user", "ops", "--role", "admin")
	assert.ErrorIs(t, err, tickets.ErrInvalidTransition)
}

func TestTicketsSweepEmpty(t *testing.T) {
	out, err := execute(t, "tickets", "sweep", "--token=", "--user", "ops", "--role", "admin")
	require.NoError(t, err)
	assert.Contains(t, out, "Deleted 0 expired tickets")
}

func TestBoardSnapshotWithoutTerminal(t *testing.T) {
	out, err := execute(t, "board", "--server=", "--token=", "--user", "ops", "--role", "admin")
	require.NoError(t, err)
	assert.Contains(t, out, "total 0")
	assert.Contains(t, out, "No tickets.")
}

func TestRemoteBoardSnapshot(t *testing.T) {
	mem := docstore.NewMemory()
	guarded := docstore.Guard(mem, identity.AccessPolicy)
	manager := tickets.NewManager(guarded, &notify.Recorder{})
	tokens := identity.NewTokens("remote-secret", app.TokenIssuer)
	srv := httptest.NewServer(server.New(server.Deps{
		Chats:   chat.NewHub(func() *chat.Store { return chat.New(guarded) }),
		Tickets: manager,
		Tokens:  tokens,
	}, nil).Handler())
	defer srv.Close()

	owner := identity.ForPrincipal(identity.Principal{UserID: "u1", Role: "user"}, nil)
	_, err := manager.File(context.Background(), owner, tickets.Request{IssueTitle: "Roof Leak"})
	require.NoError(t, err)

	tok, err := tokens.Issue(identity.Principal{UserID: "ops", Role: identity.RoleAdmin}, time.Hour)
	require.NoError(t, err)

	out, err := execute(t, "board", "--server", srv.URL, "--token", tok)
	require.NoError(t, err)
	assert.Contains(t, out, "Roof Leak")
	assert.Contains(t, out, "total 1")
}

func TestRemoteBoardRequiresToken(t *testing.T) {
	_, err := execute(t, "board", "--server", "http://localhost:1", "--token=")
	assert.ErrorContains(t, err, "--token is required")
}

func TestPrintTickets(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	deadline := now.Add(90 * time.Minute)
	var b bytes.Buffer
	printTickets(&b, defaultTheme, []models.Ticket{
		{ID: "t1", Status: models.StatusOpen, FirstName: "Ana", LastName: "Reyes", IssueTitle: "Aircon Repair", Deadline: &deadline},
		{ID: "t2", Status: models.StatusClosed, IssueTitle: "Plumbing"},
	}, now)

	out := b.String()
	assert.Contains(t, out, "Ana Reyes")
	assert.Contains(t, out, "1h 30m remaining")
	assert.Contains(t, out, tickets.NoDeadline)
}

func TestClip(t *testing.T) {
	assert.Equal(t, "short", clip("short", 10))
	assert.Equal(t, "abcd…", clip("abcdefgh", 5))
}

func TestBoardModelRendersTriagedShare(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	m := newBoardModel(nil, func() time.Time { return now })
	assert.Contains(t, m.renderContent(), "Loading tickets")

	next, _ := m.Update(ticketsMsg{
		{ID: "a", Status: models.StatusOpen},
		{ID: "b", Status: models.StatusInProgress},
		{ID: "c", Status: models.StatusClosed},
		{ID: "d", Status: models.StatusOpen},
	})
	out := next.(boardModel).renderContent()
	assert.Contains(t, out, "2/4 triaged")
	assert.Contains(t, out, "total 4")
}
