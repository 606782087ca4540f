package cli

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"charm.land/bubbles/v2/progress"
	tea "charm.land/bubbletea/v2"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/raphaelgruber/vserve/internal/client"
	"github.com/raphaelgruber/vserve/internal/models"
	"github.com/raphaelgruber/vserve/internal/tickets"
)

// refreshInterval re-renders remaining times between store updates.
const refreshInterval = 30 * time.Second

var boardCmd = &cobra.Command{
	Use:   "board",
	Short: "Live ticket board",
	Long: `Show visible tickets and counts, updated live as tickets change.
The bar shows the share of tickets that have been triaged (In Progress or Closed).

When stdout is not a terminal a single snapshot is printed.

With --server the board follows a running server's live feed instead of
reading the store directly; --token is required.

Examples:
  vserve board
  vserve board --server http://localhost:8484 --token "$(vserve token issue)"`,
	Args:        cobra.NoArgs,
	Annotations: map[string]string{offline: "true"},
	RunE:        runBoard,
}

var boardServer string

func init() {
	boardCmd.Flags().StringVar(&boardServer, "server", "", "follow this server's live feed")
}

// tickMsg triggers a re-render of remaining times.
type tickMsg time.Time

// ticketsMsg carries a fresh ticket list from the subscription.
type ticketsMsg []models.Ticket

// watchErrMsg reports a subscription failure.
type watchErrMsg struct{ err error }

// boardModel is the bubbletea model for the live board.
type boardModel struct {
	watch    tea.Cmd
	now      func() time.Time
	tickets  []models.Ticket
	loaded   bool
	progress progress.Model
	theme    Theme
	err      error
	quitting bool
}

func newBoardModel(watch tea.Cmd, now func() time.Time) boardModel {
	prog := progress.New(
		progress.WithDefaultBlend(),
		progress.WithWidth(40),
	)
	return boardModel{watch: watch, now: now, progress: prog, theme: defaultTheme}
}

// Init starts the subscription and the refresh ticker.
func (m boardModel) Init() tea.Cmd {
	return tea.Batch(m.watch, tickCmd(), m.progress.Init())
}

// Update handles messages and returns the updated model.
func (m boardModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyPressMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			return m, tea.Quit
		}

	case ticketsMsg:
		m.tickets = msg
		m.loaded = true
		m.err = nil
		return m, nil

	case watchErrMsg:
		m.err = msg.err
		return m, nil

	case tickMsg:
		return m, tickCmd()

	case progress.FrameMsg:
		var cmd tea.Cmd
		m.progress, cmd = m.progress.Update(msg)
		return m, cmd
	}
	return m, nil
}

// View renders the board.
func (m boardModel) View() tea.View {
	return tea.NewView(m.renderContent())
}

func (m boardModel) renderContent() string {
	if m.quitting {
		return ""
	}
	if !m.loaded {
		if m.err != nil {
			return m.theme.errorStyle().Render(fmt.Sprintf("✗ %s\n", m.err))
		}
		return "Loading tickets...\n"
	}

	now := m.now()
	counts := tickets.Classify(m.tickets, now)

	var pct float64
	if total := counts.Total(); total > 0 {
		pct = float64(counts.InProgress+counts.Closed) / float64(total)
	}

	var b strings.Builder
	b.WriteString(m.theme.statusStyle().Render("[tickets]"))
	b.WriteString(" " + m.progress.ViewAs(pct) + " ")
	fmt.Fprintf(&b, "%d/%d triaged\n", counts.InProgress+counts.Closed, counts.Total())
	printCounts(&b, m.theme, counts)
	b.WriteString("\n")
	printTickets(&b, m.theme, m.tickets, now)
	if m.err != nil {
		b.WriteString(m.theme.errorStyle().Render(fmt.Sprintf("\n✗ %s", m.err)) + "\n")
	}
	b.WriteString("\n" + m.theme.hintStyle().Render("Press q to quit") + "\n")
	return b.String()
}

func tickCmd() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func runBoard(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	if boardServer != "" {
		return runRemoteBoard(ctx, cmd)
	}
	if err := openBackends(ctx); err != nil {
		return err
	}

	sc, err := signIn()
	if err != nil {
		return err
	}
	// Ends the subscription.
	defer sc.SignOut()

	manager, err := newTicketManager()
	if err != nil {
		return err
	}

	if !term.IsTerminal(int(os.Stdout.Fd())) {
		list, err := manager.List(ctx, sc)
		if err != nil {
			return err
		}
		printCounts(cmd.OutOrStdout(), defaultTheme, tickets.Classify(list, manager.Now()))
		printTickets(cmd.OutOrStdout(), defaultTheme, list, manager.Now())
		return nil
	}

	var p *tea.Program
	watch := func() tea.Msg {
		_, err := manager.Watch(ctx, sc,
			func(list []models.Ticket) { p.Send(ticketsMsg(list)) },
			func(err error) { p.Send(watchErrMsg{err: err}) })
		if err != nil {
			return watchErrMsg{err: err}
		}
		return nil
	}
	p = tea.NewProgram(newBoardModel(watch, manager.Now), tea.WithContext(ctx))

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("board UI error: %w", err)
	}
	return nil
}

func runRemoteBoard(ctx context.Context, cmd *cobra.Command) error {
	if flagToken == "" {
		return fmt.Errorf("--token is required with --server")
	}
	c := client.New(boardServer, flagToken)

	if !term.IsTerminal(int(os.Stdout.Fd())) {
		views, err := c.ListTickets(ctx)
		if err != nil {
			return err
		}
		list := unwrapTickets(views)
		printCounts(cmd.OutOrStdout(), defaultTheme, tickets.Classify(list, time.Now()))
		printTickets(cmd.OutOrStdout(), defaultTheme, list, time.Now())
		return nil
	}

	var p *tea.Program
	watch := func() tea.Msg {
		go func() {
			err := c.WatchTickets(ctx,
				func(views []client.Ticket) error {
					p.Send(ticketsMsg(unwrapTickets(views)))
					return nil
				},
				func(err error) { p.Send(watchErrMsg{err: err}) })
			if err != nil && ctx.Err() == nil {
				p.Send(watchErrMsg{err: err})
			}
		}()
		return nil
	}
	p = tea.NewProgram(newBoardModel(watch, time.Now), tea.WithContext(ctx))

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("board UI error: %w", err)
	}
	return nil
}

func unwrapTickets(views []client.Ticket) []models.Ticket {
	out := make([]models.Ticket, len(views))
	for i, v := range views {
		out[i] = v.Ticket
	}
	return out
}
