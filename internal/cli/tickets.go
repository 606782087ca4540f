package cli

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/vserve/internal/models"
	"github.com/raphaelgruber/vserve/internal/tickets"
)

var (
	fileReq       tickets.Request
	approveEmail  string
	ticketsStatus string
)

var ticketsCmd = &cobra.Command{
	Use:   "tickets",
	Short: "File and triage service tickets",
	Long: `File service tickets and, as an admin, approve, progress, close or
disapprove them.

Examples:
  vserve tickets list
  vserve tickets file --title "Aircon Repair" --description "leaking" --user u1 --role user
  vserve tickets approve 3f1e...
  vserve tickets approve 3f1e... --email owner@example.com
  vserve tickets status 3f1e... Closed
  vserve tickets sweep`,
}

var ticketsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List visible tickets with time remaining",
	Args:  cobra.NoArgs,
	RunE:  runTicketsList,
}

var ticketsFileCmd = &cobra.Command{
	Use:   "file",
	Short: "File a new ticket",
	Args:  cobra.NoArgs,
	RunE:  runTicketsFile,
}

var ticketsApproveCmd = &cobra.Command{
	Use:   "approve <ticket-id>",
	Short: "Email the owner and move an Open ticket to In Progress",
	Args:  cobra.ExactArgs(1),
	RunE:  runTicketsApprove,
}

var ticketsStatusCmd = &cobra.Command{
	Use:   "status <ticket-id> <Open|In Progress|Closed>",
	Short: "Set a ticket's status",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runTicketsStatus,
}

var ticketsDisapproveCmd = &cobra.Command{
	Use:   "disapprove <ticket-id>",
	Short: "Delete a ticket",
	Args:  cobra.ExactArgs(1),
	RunE:  runTicketsDisapprove,
}

var ticketsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Count tickets by status",
	Args:  cobra.NoArgs,
	RunE:  runTicketsStats,
}

var ticketsSweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Delete tickets whose deadline has passed",
	Args:  cobra.NoArgs,
	RunE:  runTicketsSweep,
}

func init() {
	f := ticketsFileCmd.Flags()
	f.StringVar(&fileReq.FirstName, "first-name", "", "customer first name (default from profile)")
	f.StringVar(&fileReq.LastName, "last-name", "", "customer last name (default from profile)")
	f.StringVar(&fileReq.Address, "address", "", "service address (default from profile)")
	f.StringVar(&fileReq.ContactNo, "contact", "", "contact number (default from profile)")
	f.StringVarP(&fileReq.IssueTitle, "title", "t", "", "issue title")
	f.StringVarP(&fileReq.IssueDescription, "description", "d", "", "issue description")
	f.StringVar(&fileReq.ScheduledTime, "scheduled", "", "appointment time, e.g. \"2025-03-04 02:00 PM\"")

	ticketsApproveCmd.Flags().StringVar(&approveEmail, "email", "", "send to this address instead of the owner's")
	ticketsListCmd.Flags().StringVar(&ticketsStatus, "status", "", "only tickets with this status")

	ticketsCmd.AddCommand(ticketsListCmd, ticketsFileCmd, ticketsApproveCmd, ticketsStatusCmd,
		ticketsDisapproveCmd, ticketsStatsCmd, ticketsSweepCmd)
}

func runTicketsList(cmd *cobra.Command, args []string) error {
	sc, err := signIn()
	if err != nil {
		return err
	}
	defer sc.SignOut()

	manager, err := newTicketManager()
	if err != nil {
		return err
	}
	list, err := manager.List(cmd.Context(), sc)
	if err != nil {
		return err
	}
	if ticketsStatus != "" {
		want := models.TicketStatus(ticketsStatus)
		filtered := list[:0]
		for _, t := range list {
			if t.Status == want {
				filtered = append(filtered, t)
			}
		}
		list = filtered
	}
	printTickets(cmd.OutOrStdout(), defaultTheme, list, manager.Now())
	return nil
}

func printTickets(w io.Writer, theme Theme, list []models.Ticket, now time.Time) {
	if len(list) == 0 {
		fmt.Fprintln(w, theme.hintStyle().Render("No tickets."))
		return
	}
	fmt.Fprintln(w, theme.headerStyle().Render(fmt.Sprintf("%-36s  %-12s  %-20s  %-24s  %s",
		"ID", "STATUS", "CUSTOMER", "ISSUE", "REMAINING")))
	for _, t := range list {
		rem := tickets.RemainingFor(t, now)
		remaining := rem.Text
		if rem.Overdue && t.Status != models.StatusClosed {
			remaining = theme.errorStyle().Render(remaining)
		}
		status := theme.ticketStatusStyle(t.Status).Render(fmt.Sprintf("%-12s", t.Status))
		fmt.Fprintf(w, "%-36s  %s  %-20s  %-24s  %s\n",
			t.ID, status, clip(t.CustomerName(), 20), clip(t.IssueTitle, 24), remaining)
	}
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func runTicketsFile(cmd *cobra.Command, args []string) error {
	sc, err := signIn()
	if err != nil {
		return err
	}
	defer sc.SignOut()

	manager, err := newTicketManager()
	if err != nil {
		return err
	}
	t, err := manager.File(cmd.Context(), sc, fileReq)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s ticket %s: %s (%s)\n",
		defaultTheme.completedStyle().Render("✓ Filed"), t.ID, t.IssueTitle, tickets.RemainingFor(t, manager.Now()).Text)
	return nil
}

func runTicketsApprove(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	sc, err := signIn()
	if err != nil {
		return err
	}
	defer sc.SignOut()

	manager, err := newTicketManager()
	if err != nil {
		return err
	}
	t, err := manager.Get(ctx, sc, args[0])
	if err != nil {
		return err
	}
	approval, err := manager.Approve(ctx, sc, t, tickets.ApproveOptions{Recipient: approveEmail})
	var unresolved *tickets.EmailUnresolvedError
	if errors.As(err, &unresolved) {
		return fmt.Errorf("%s (retry with --email)", unresolved.Reason)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s, emailed %s\n",
		defaultTheme.completedStyle().Render("✓ Approved"), approval.TicketID, approval.Recipient)
	return nil
}

func runTicketsStatus(cmd *cobra.Command, args []string) error {
	status := models.TicketStatus(strings.Join(args[1:], " "))
	sc, err := signIn()
	if err != nil {
		return err
	}
	defer sc.SignOut()

	manager, err := newTicketManager()
	if err != nil {
		return err
	}
	if err := manager.SetStatus(cmd.Context(), sc, args[0], status); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Ticket %s is now %s\n", args[0], defaultTheme.ticketStatusStyle(status).Render(string(status)))
	return nil
}

func runTicketsDisapprove(cmd *cobra.Command, args []string) error {
	sc, err := signIn()
	if err != nil {
		return err
	}
	defer sc.SignOut()

	manager, err := newTicketManager()
	if err != nil {
		return err
	}
	if err := manager.Disapprove(cmd.Context(), sc, args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted ticket %s\n", args[0])
	return nil
}

func runTicketsStats(cmd *cobra.Command, args []string) error {
	sc, err := signIn()
	if err != nil {
		return err
	}
	defer sc.SignOut()

	manager, err := newTicketManager()
	if err != nil {
		return err
	}
	c, err := manager.Stats(cmd.Context(), sc)
	if err != nil {
		return err
	}
	printCounts(cmd.OutOrStdout(), defaultTheme, c)
	return nil
}

func printCounts(w io.Writer, theme Theme, c tickets.Counts) {
	fmt.Fprintf(w, "%s %d  %s %d  %s %d  %s %d  total %d\n",
		theme.ticketStatusStyle(models.StatusOpen).Render("open"), c.Open,
		theme.ticketStatusStyle(models.StatusInProgress).Render("in progress"), c.InProgress,
		theme.ticketStatusStyle(models.StatusClosed).Render("closed"), c.Closed,
		theme.errorStyle().Render("overdue"), c.Overdue,
		c.Total())
}

func runTicketsSweep(cmd *cobra.Command, args []string) error {
	sc, err := signIn()
	if err != nil {
		return err
	}
	defer sc.SignOut()

	manager, err := newTicketManager()
	if err != nil {
		return err
	}
	n, err := tickets.NewSweeper(manager, sc, "", logger).SweepOnce(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d expired tickets\n", n)
	return nil
}
