package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/raphaelgruber/vserve/internal/assistant"
	"github.com/raphaelgruber/vserve/internal/chat"
	"github.com/raphaelgruber/vserve/internal/models"
	"github.com/raphaelgruber/vserve/internal/tickets"
)

var (
	sendSession string
	sendReply   string
	exportOut   string
)

var chatsCmd = &cobra.Command{
	Use:   "chats",
	Short: "Manage your chat sessions",
	Long: `List, create, rename, delete and export chat sessions, or send a message
to the service assistant.

Examples:
  vserve chats list --user u1 --role user
  vserve chats send "my aircon is leaking" --user u1 --role user
  vserve chats send "thanks" --session 8f2c... --reply "You're welcome!"
  vserve chats export --out chats.yaml`,
}

var chatsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List chat sessions",
	Args:  cobra.NoArgs,
	RunE:  runChatsList,
}

var chatsNewCmd = &cobra.Command{
	Use:   "new",
	Short: "Start an empty chat session",
	Args:  cobra.NoArgs,
	RunE:  runChatsNew,
}

var chatsSendCmd = &cobra.Command{
	Use:   "send <message>",
	Short: "Send a message and record the assistant's reply",
	Long: `Send a message to the assistant. Without --session a new session titled
after the message is started. --reply records the given text instead of asking
the assistant.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runChatsSend,
}

var chatsRenameCmd = &cobra.Command{
	Use:   "rename <session-id> <title>",
	Short: "Rename a chat session",
	Args:  cobra.ExactArgs(2),
	RunE:  runChatsRename,
}

var chatsDeleteCmd = &cobra.Command{
	Use:   "delete <session-id>",
	Short: "Delete a chat session",
	Args:  cobra.ExactArgs(1),
	RunE:  runChatsDelete,
}

var chatsExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export chat sessions as YAML",
	Args:  cobra.NoArgs,
	RunE:  runChatsExport,
}

func init() {
	chatsSendCmd.Flags().StringVarP(&sendSession, "session", "s", "", "append to this session")
	chatsSendCmd.Flags().StringVar(&sendReply, "reply", "", "use this raw model output instead of asking the assistant")
	chatsExportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "write to file instead of stdout")

	chatsCmd.AddCommand(chatsListCmd, chatsNewCmd, chatsSendCmd, chatsRenameCmd, chatsDeleteCmd, chatsExportCmd)
}

func runChatsList(cmd *cobra.Command, args []string) error {
	sc, err := signIn()
	if err != nil {
		return err
	}
	defer sc.SignOut()

	store := newChatStore()
	set, err := store.LoadAll(cmd.Context(), sc)
	if err != nil {
		return err
	}
	printSessions(cmd.OutOrStdout(), set, store.ActiveID())
	return nil
}

func printSessions(w io.Writer, set models.ChatSessionSet, active string) {
	if len(set) == 0 {
		fmt.Fprintln(w, "No chat sessions.")
		return
	}
	for _, s := range set {
		marker := " "
		if s.ID == active {
			marker = "*"
		}
		fmt.Fprintf(w, "%s %s  %-20s  %d messages\n", marker, s.ID, s.Title, len(s.Messages))
	}
}

func runChatsNew(cmd *cobra.Command, args []string) error {
	sc, err := signIn()
	if err != nil {
		return err
	}
	defer sc.SignOut()

	session, err := newChatStore().CreateSession(cmd.Context(), sc)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Created %s (%s)\n", session.ID, session.Title)
	return nil
}

func runChatsSend(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	text := strings.TrimSpace(strings.Join(args, " "))
	if text == "" {
		return fmt.Errorf("message is empty")
	}

	sc, err := signIn()
	if err != nil {
		return err
	}
	defer sc.SignOut()

	store := newChatStore()
	set, err := store.LoadAll(ctx, sc)
	if err != nil {
		return err
	}
	var history []models.Message
	if sendSession != "" {
		i := set.Find(sendSession)
		if i < 0 {
			return fmt.Errorf("%w: %s", chat.ErrSessionNotFound, sendSession)
		}
		history = set[i].Messages
	}

	var responder assistant.Responder = fixedReply(sendReply)
	if sendReply == "" {
		if responder, err = assistant.NewModel(ctx, cfg, assistant.WithCollector(backends.Collector), assistant.WithLogger(logger)); err != nil {
			return fmt.Errorf("init assistant: %w", err)
		}
	}
	manager, err := newTicketManager()
	if err != nil {
		return err
	}
	p, err := sc.Actor()
	if err != nil {
		return err
	}

	// Each invocation is one turn; intake state does not outlive the process.
	intake := assistant.NewIntake(responder, assistant.WithIntakeLogger(logger))
	profile := func(ctx context.Context) (models.UserProfile, error) { return manager.Profile(ctx, sc) }
	turn, err := intake.Handle(ctx, p.UserID, profile, history, text)
	if err != nil {
		return err
	}
	if _, err := store.AppendMessage(ctx, sc, sendSession, text, turn.Text); err != nil {
		return err
	}
	intake.Commit(turn)

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "[%s] %s\n", store.ActiveID(), turn.Text)
	if d := turn.Ticket; d != nil {
		t, err := manager.File(ctx, sc, tickets.Request{
			FirstName:        d.FirstName,
			LastName:         d.LastName,
			Address:          d.Address,
			ContactNo:        d.ContactNo,
			IssueTitle:       d.IssueTitle,
			IssueDescription: d.IssueDescription,
			ScheduledTime:    d.ScheduledTime,
		})
		if err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "Warning: ticket not filed: %v\n", err)
		} else {
			fmt.Fprintf(out, "Filed ticket %s (%s)\n", t.ID, t.IssueTitle)
		}
	}
	return nil
}

// fixedReply answers every query with the same raw model output.
type fixedReply string

func (f fixedReply) Reply(context.Context, []models.Message, string) (assistant.Reply, error) {
	return assistant.ParseReply(string(f)), nil
}

func runChatsRename(cmd *cobra.Command, args []string) error {
	title := strings.TrimSpace(args[1])
	if title == "" {
		return fmt.Errorf("title is empty")
	}
	sc, err := signIn()
	if err != nil {
		return err
	}
	defer sc.SignOut()

	if err := newChatStore().RenameSession(cmd.Context(), sc, args[0], title); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Renamed %s to %q\n", args[0], title)
	return nil
}

func runChatsDelete(cmd *cobra.Command, args []string) error {
	sc, err := signIn()
	if err != nil {
		return err
	}
	defer sc.SignOut()

	store := newChatStore()
	set, err := store.DeleteSession(cmd.Context(), sc, args[0])
	if err != nil {
		return err
	}
	printSessions(cmd.OutOrStdout(), set, store.ActiveID())
	return nil
}

// chatExport is the YAML layout of an export.
type chatExport struct {
	User     string                `yaml:"user"`
	Sessions models.ChatSessionSet `yaml:"sessions"`
}

func runChatsExport(cmd *cobra.Command, args []string) error {
	sc, err := signIn()
	if err != nil {
		return err
	}
	defer sc.SignOut()

	p, err := sc.Actor()
	if err != nil {
		return err
	}
	set, err := newChatStore().LoadAll(cmd.Context(), sc)
	if err != nil {
		return err
	}

	data, err := yaml.Marshal(chatExport{User: p.UserID, Sessions: set})
	if err != nil {
		return fmt.Errorf("encode export: %w", err)
	}
	if exportOut == "" {
		_, err = cmd.OutOrStdout().Write(data)
		return err
	}
	if err := os.WriteFile(exportOut, data, 0o600); err != nil {
		return fmt.Errorf("write export: %w", err)
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Exported %d sessions to %s\n", len(set), exportOut)
	return nil
}
