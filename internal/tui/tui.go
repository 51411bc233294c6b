// Package tui is the terminal front end: a board, a game log, a status bar
// and an input line. Moves are typed as-is ("e4", "g1f3"); commands start
// with a slash.
package tui

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"lanchess/internal/rules"
	"lanchess/internal/session"
	"lanchess/internal/sound"
	"lanchess/internal/turn"
)

var (
	primaryColor    = lipgloss.Color("#7C3AED")
	accentColor     = lipgloss.Color("#10B981")
	warningColor    = lipgloss.Color("#F59E0B")
	errorColor      = lipgloss.Color("#EF4444")
	mutedColor      = lipgloss.Color("#6B7280")
	backgroundColor = lipgloss.Color("#1F2937")

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(primaryColor).
			Padding(0, 1)

	boardPanelStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(mutedColor).
			Padding(0, 1)

	logPanelStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(mutedColor).
			Padding(0, 1)

	statusBarStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Background(backgroundColor).
			Padding(0, 1)

	inputStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(accentColor).
			Padding(0, 1)

	systemStyle    = lipgloss.NewStyle().Foreground(accentColor).Italic(true)
	errorStyle     = lipgloss.NewStyle().Foreground(errorColor)
	offerStyle     = lipgloss.NewStyle().Foreground(warningColor).Bold(true)
	timestampStyle = lipgloss.NewStyle().Foreground(mutedColor).Faint(true)
)

// boardPanelWidth fits the rank label plus eight three-cell squares.
const boardPanelWidth = 30

type entryKind int

const (
	entrySystem entryKind = iota
	entryError
	entryOffer
)

type entry struct {
	at   time.Time
	text string
	kind entryKind
}

// Messages delivered from session events.
type (
	statusMsg    string
	boardMsg     rules.Position
	stateMsg     turn.State
	endedMsg     turn.Outcome
	drawOfferMsg struct{}

	// errMsg carries the error of a command run off the UI goroutine.
	errMsg     struct{ err error }
	startedMsg struct{ err error }
	savedMsg   string
)

// Events returns session callbacks that forward into updates, which a
// Model started with the same channel drains.
func Events(updates chan<- tea.Msg) turn.Events {
	return turn.Events{
		StatusChanged:     func(s string) { updates <- statusMsg(s) },
		BoardChanged:      func(p rules.Position) { updates <- boardMsg(p) },
		StateChanged:      func(s turn.State) { updates <- stateMsg(s) },
		DrawOfferReceived: func() { updates <- drawOfferMsg{} },
		GameEnded: func(r rules.Result, reason turn.Reason) {
			updates <- endedMsg(turn.Outcome{Result: r, Reason: reason})
		},
	}
}

// Options configures a Model.
type Options struct {
	Session *session.Session
	// Updates must be the channel passed to Events for the session.
	Updates <-chan tea.Msg
	// Start connects the session, e.g. by hosting or joining. Nil for
	// local play.
	Start    func(ctx context.Context) error
	Notifier sound.Notifier
	Title    string
}

// Model is the bubbletea model for one game.
type Model struct {
	sess    *session.Session
	updates <-chan tea.Msg
	start   func(ctx context.Context) error
	notify  sound.Notifier
	title   string

	ctx    context.Context
	cancel context.CancelFunc

	board  rules.Position
	state  turn.State
	status string
	log    []entry

	viewport viewport.Model
	textarea textarea.Model
	ready    bool
	width    int
	height   int
	showHelp bool
}

// New creates the model.
func New(opts Options) *Model {
	ta := textarea.New()
	ta.Placeholder = "Type a move (e4, g1f3) or /help for commands..."
	ta.Focus()
	ta.Prompt = "> "
	ta.CharLimit = 64
	ta.SetWidth(80)
	ta.SetHeight(1)
	ta.FocusedStyle.CursorLine = lipgloss.NewStyle()
	ta.ShowLineNumbers = false
	ta.KeyMap.InsertNewline.SetEnabled(false)

	vp := viewport.New(40, 16)

	notify := opts.Notifier
	if notify == nil {
		notify = sound.Nop{}
	}
	title := opts.Title
	if title == "" {
		title = "lanchess"
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Model{
		sess:     opts.Session,
		updates:  opts.Updates,
		start:    opts.Start,
		notify:   notify,
		title:    title,
		ctx:      ctx,
		cancel:   cancel,
		board:    opts.Session.Position(),
		state:    opts.Session.State(),
		viewport: vp,
		textarea: ta,
	}
}

// Init starts listening for session events and runs Start.
func (m *Model) Init() tea.Cmd {
	cmds := []tea.Cmd{textarea.Blink, m.listen()}
	if m.start != nil {
		start := m.start
		ctx := m.ctx
		cmds = append(cmds, func() tea.Msg { return startedMsg{err: start(ctx)} })
	} else {
		m.status = "New local game. White to move."
		m.addEntry(entrySystem, m.status+" Type /help for commands.")
	}
	return tea.Batch(cmds...)
}

func (m *Model) listen() tea.Cmd {
	if m.updates == nil {
		return nil
	}
	return func() tea.Msg {
		msg, ok := <-m.updates
		if !ok {
			return nil
		}
		return msg
	}
}

// Update handles messages and updates the model.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var (
		tiCmd tea.Cmd
		vpCmd tea.Cmd
	)
	m.textarea, tiCmd = m.textarea.Update(msg)
	m.viewport, vpCmd = m.viewport.Update(msg)

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, m.quit()

		case tea.KeyCtrlH:
			m.showHelp = !m.showHelp
			m.updateViewport()
			return m, nil

		case tea.KeyEnter:
			input := strings.TrimSpace(m.textarea.Value())
			m.textarea.Reset()
			if input == "" {
				return m, nil
			}
			return m, m.handleInput(input)
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.ready = true

		headerHeight := 3
		footerHeight := 5
		statusBarHeight := 1
		m.viewport.Width = max(m.width-boardPanelWidth-8, 20)
		m.viewport.Height = max(m.height-headerHeight-footerHeight-statusBarHeight-3, 10)
		m.textarea.SetWidth(max(m.width-4, 20))
		m.updateViewport()

	case statusMsg:
		m.status = string(msg)
		m.addEntry(entrySystem, string(msg))
		return m, m.listen()

	case boardMsg:
		m.board = rules.Position(msg)
		return m, m.listen()

	case stateMsg:
		m.state = turn.State(msg)
		if m.state == turn.MyTurn && m.sess.Role() != turn.RoleLocal {
			m.notify.YourTurn()
		}
		return m, m.listen()

	case drawOfferMsg:
		m.addEntry(entryOffer, "Your opponent offers a draw. /accept or /decline")
		return m, m.listen()

	case endedMsg:
		m.notify.GameOver()
		m.addEntry(entrySystem, "Type /save <file> to keep the game, /quit to leave.")
		return m, m.listen()

	case startedMsg:
		if msg.err != nil && m.ctx.Err() == nil {
			m.addEntry(entryError, fmt.Sprintf("Could not start the game: %v", msg.err))
		}
		return m, nil

	case errMsg:
		// Local input errors were already reported through the status line.
		if !turn.IsLocalError(msg.err) {
			m.addEntry(entryError, msg.err.Error())
		}
		return m, nil

	case savedMsg:
		m.addEntry(entrySystem, fmt.Sprintf("Game saved to %s", string(msg)))
		return m, nil
	}

	return m, tea.Batch(tiCmd, vpCmd)
}

// handleInput turns a line of input into a command. Session calls may block
// on the network, so they run off the UI goroutine.
func (m *Model) handleInput(input string) tea.Cmd {
	name, arg := parseInput(input)
	switch name {
	case "":
		return m.run(func() error { return m.sess.SubmitMove(arg) })
	case "quit", "exit":
		return m.quit()
	case "help":
		m.showHelp = !m.showHelp
		m.updateViewport()
		return nil
	case "draw":
		return m.run(m.sess.OfferDraw)
	case "accept":
		return m.run(m.sess.AcceptDraw)
	case "decline":
		return m.run(m.sess.DeclineDraw)
	case "resign":
		return m.run(m.sess.Resign)
	case "reset":
		return m.run(m.sess.Reset)
	case "save":
		if arg == "" {
			m.addEntry(entryError, "Usage: /save <file>")
			return nil
		}
		return m.save(arg)
	}
	m.addEntry(entryError, fmt.Sprintf("Unknown command /%s. Type /help for commands.", name))
	return nil
}

func (m *Model) run(f func() error) tea.Cmd {
	return func() tea.Msg {
		if err := f(); err != nil {
			return errMsg{err}
		}
		return nil
	}
}

func (m *Model) save(path string) tea.Cmd {
	return func() tea.Msg {
		f, err := os.Create(path)
		if err != nil {
			return errMsg{fmt.Errorf("save: %w", err)}
		}
		if err := m.sess.SavePGN(f); err != nil {
			f.Close()
			return errMsg{fmt.Errorf("save: %w", err)}
		}
		if err := f.Close(); err != nil {
			return errMsg{fmt.Errorf("save: %w", err)}
		}
		return savedMsg(path)
	}
}

func (m *Model) quit() tea.Cmd {
	m.cancel()
	return tea.Quit
}

// parseInput splits "/name arg" into its parts. Plain text is a move and
// comes back with an empty name.
func parseInput(input string) (name, arg string) {
	input = strings.TrimSpace(input)
	if !strings.HasPrefix(input, "/") {
		return "", input
	}
	name, arg, _ = strings.Cut(input[1:], " ")
	return strings.ToLower(name), strings.TrimSpace(arg)
}

func (m *Model) addEntry(kind entryKind, text string) {
	m.log = append(m.log, entry{at: time.Now(), text: text, kind: kind})
	m.updateViewport()
	m.viewport.GotoBottom()
}

func (m *Model) updateViewport() {
	var content strings.Builder
	if m.showHelp {
		content.WriteString(helpText)
	} else {
		for _, e := range m.log {
			content.WriteString(renderEntry(e))
			content.WriteString("\n")
		}
	}
	m.viewport.SetContent(content.String())
}

func renderEntry(e entry) string {
	ts := timestampStyle.Render(e.at.Format("15:04:05"))
	switch e.kind {
	case entryError:
		return fmt.Sprintf("%s %s", ts, errorStyle.Render(e.text))
	case entryOffer:
		return fmt.Sprintf("%s %s", ts, offerStyle.Render(e.text))
	}
	return fmt.Sprintf("%s %s", ts, systemStyle.Render(e.text))
}

const helpText = `
COMMANDS
  <move>            Play a move: SAN (e4, Nf3, O-O) or UCI (e2e4, e7e8q)
  /draw             Offer a draw
  /accept           Accept your opponent's draw offer
  /decline          Decline your opponent's draw offer
  /resign           Resign the game
  /save <file>      Write the game as PGN
  /reset            Start over (local play only)
  /help             Toggle this help
  /quit             Leave

KEYS
  Ctrl+H            Toggle this help
  Ctrl+C / Esc      Quit
  Enter             Submit
`

// View renders the TUI.
func (m *Model) View() string {
	if !m.ready {
		return "\n  Starting lanchess...\n"
	}

	header := headerStyle.Render(fmt.Sprintf("%s | %s", m.title, m.sess.Role()))

	bottom := m.sess.Color()
	if m.sess.Role() == turn.RoleLocal {
		bottom = m.board.Turn()
	}
	boardPanel := boardPanelStyle.Width(boardPanelWidth).Height(m.viewport.Height + 2).Render(
		renderBoard(m.board, bottom))
	logPanel := logPanelStyle.Width(m.viewport.Width + 2).Height(m.viewport.Height + 2).Render(
		fmt.Sprintf("Game log\n%s", m.viewport.View()))
	main := lipgloss.JoinHorizontal(lipgloss.Top, boardPanel, logPanel)

	inputArea := inputStyle.Width(max(m.width-4, 20)).Render(
		fmt.Sprintf("Input (Ctrl+H for help)\n%s", m.textarea.View()))

	return lipgloss.JoinVertical(lipgloss.Left, header, main, m.renderStatusBar(), inputArea)
}

func (m *Model) renderStatusBar() string {
	left := m.status
	right := fmt.Sprintf("%s to move", m.board.Turn())
	if m.sess.Role() != turn.RoleLocal {
		right = fmt.Sprintf("You: %s | %s", m.sess.Color(), stateLabel(m.state))
	}
	if outcome, ended := m.sess.Outcome(); ended {
		right = fmt.Sprintf("Result %s", outcome)
	}

	total := max(m.width-4, 20)
	spacing := max(total-lipgloss.Width(left)-lipgloss.Width(right), 1)
	return statusBarStyle.Width(total).Render(left + strings.Repeat(" ", spacing) + right)
}

func stateLabel(s turn.State) string {
	switch s {
	case turn.WaitingForOpponent:
		return "Waiting for opponent"
	case turn.MyTurn:
		return "Your move"
	case turn.OpponentTurn:
		return "Opponent's move"
	case turn.DrawOfferedByMe:
		return "Draw offered"
	case turn.DrawOfferedByOpponent:
		return "Draw offer received"
	case turn.GameEnded:
		return "Game over"
	}
	return s.String()
}
