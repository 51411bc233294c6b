package tui

import (
	"errors"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"lanchess/internal/rules"
	"lanchess/internal/session"
	"lanchess/internal/turn"
)

type countingNotifier struct {
	turns, overs int
}

func (n *countingNotifier) YourTurn() { n.turns++ }
func (n *countingNotifier) GameOver() { n.overs++ }

func localModel(t *testing.T) (*Model, *countingNotifier) {
	t.Helper()
	updates := make(chan tea.Msg, 64)
	sess := session.New(session.Config{
		Role:   turn.RoleLocal,
		Events: Events(updates),
		Logger: log.New(io.Discard, "", 0),
	})
	n := &countingNotifier{}
	m := New(Options{Session: sess, Updates: updates, Notifier: n})
	m.Init()
	m.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	return m, n
}

// drain feeds queued session events into the model.
func drain(m *Model) {
	for {
		select {
		case msg := <-m.updates:
			m.Update(msg)
		default:
			return
		}
	}
}

// exec runs a command the way the bubbletea runtime would and feeds its
// result back.
func exec(m *Model, cmd tea.Cmd) tea.Msg {
	if cmd == nil {
		return nil
	}
	msg := cmd()
	if msg != nil {
		m.Update(msg)
	}
	drain(m)
	return msg
}

func lastEntry(m *Model) string {
	if len(m.log) == 0 {
		return ""
	}
	return m.log[len(m.log)-1].text
}

func TestParseInput(t *testing.T) {
	cases := []struct {
		in, name, arg string
	}{
		{"e4", "", "e4"},
		{"  g1f3 ", "", "g1f3"},
		{"draw", "", "draw"},
		{"/draw", "draw", ""},
		{"/Resign", "resign", ""},
		{"/save  games/one.pgn ", "save", "games/one.pgn"},
		{"/", "", ""},
	}
	for _, c := range cases {
		name, arg := parseInput(c.in)
		if name != c.name || arg != c.arg {
			t.Fatalf("parseInput(%q) = %q, %q; want %q, %q", c.in, name, arg, c.name, c.arg)
		}
	}
}

func TestRenderBoardOrientation(t *testing.T) {
	var e rules.Engine
	pos := e.Start()
	king, ok := pos.PieceAt(4, 0)
	if !ok {
		t.Fatal("no white king on e1")
	}

	white := strings.Split(renderBoard(pos, rules.White), "\n")
	if len(white) != 9 {
		t.Fatalf("expected 9 lines, got %d", len(white))
	}
	if !strings.HasPrefix(white[0], "8") || !strings.HasPrefix(white[7], "1") {
		t.Fatalf("white orientation wrong:\n%s", strings.Join(white, "\n"))
	}
	if !strings.Contains(white[7], king) {
		t.Fatal("white king not on the bottom rank")
	}
	if strings.Index(white[8], "a") > strings.Index(white[8], "h") {
		t.Fatalf("files reversed for white: %q", white[8])
	}

	black := strings.Split(renderBoard(pos, rules.Black), "\n")
	if !strings.HasPrefix(black[0], "1") || !strings.HasPrefix(black[7], "8") {
		t.Fatalf("black orientation wrong:\n%s", strings.Join(black, "\n"))
	}
	if strings.Index(black[8], "a") < strings.Index(black[8], "h") {
		t.Fatalf("files not reversed for black: %q", black[8])
	}
}

func TestEnterSubmitsMove(t *testing.T) {
	m, _ := localModel(t)
	m.textarea.SetValue("e4")
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	if m.textarea.Value() != "" {
		t.Fatal("input not cleared")
	}
	if msg := exec(m, cmd); msg != nil {
		t.Fatalf("unexpected result %#v", msg)
	}
	if m.board.Turn() != rules.Black {
		t.Fatal("board not updated after the move")
	}
	if !strings.Contains(m.View(), "Black to move") {
		t.Fatalf("status bar does not show the side to move:\n%s", m.View())
	}
}

func TestInvalidMoveReportedOnce(t *testing.T) {
	m, _ := localModel(t)
	before := len(m.log)
	msg := exec(m, m.handleInput("zz9"))
	em, ok := msg.(errMsg)
	if !ok || !errors.Is(em.err, turn.ErrInvalidMove) {
		t.Fatalf("expected invalid move error, got %#v", msg)
	}
	if len(m.log) != before+1 {
		t.Fatalf("expected one log line, got %d", len(m.log)-before)
	}
	if !strings.Contains(m.status, "Invalid move") {
		t.Fatalf("status %q", m.status)
	}
}

func TestResignEndsGame(t *testing.T) {
	m, n := localModel(t)
	exec(m, m.handleInput("/resign"))
	if m.sess.State() != turn.GameEnded {
		t.Fatalf("state %v", m.sess.State())
	}
	if n.overs != 1 || n.turns != 0 {
		t.Fatalf("notifier calls: %+v", n)
	}
	if !strings.Contains(m.View(), "0-1") {
		t.Fatal("result not shown")
	}
}

func TestUnknownCommand(t *testing.T) {
	m, _ := localModel(t)
	if cmd := m.handleInput("/castle"); cmd != nil {
		t.Fatal("unknown command should not run anything")
	}
	if !strings.Contains(lastEntry(m), "Unknown command /castle") {
		t.Fatalf("last entry %q", lastEntry(m))
	}
}

func TestSaveWritesPGN(t *testing.T) {
	m, _ := localModel(t)
	exec(m, m.handleInput("e4"))
	path := filepath.Join(t.TempDir(), "game.pgn")
	if msg := exec(m, m.handleInput("/save "+path)); msg != savedMsg(path) {
		t.Fatalf("unexpected result %#v", msg)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(b), "e4") {
		t.Fatalf("pgn missing the move:\n%s", b)
	}
}

func TestQuitCancelsStart(t *testing.T) {
	m, _ := localModel(t)
	cmd := m.handleInput("/quit")
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Fatal("expected quit")
	}
	if m.ctx.Err() == nil {
		t.Fatal("context not cancelled")
	}
}

func TestNetworkedTurnPlaysCue(t *testing.T) {
	updates := make(chan tea.Msg, 8)
	sess := session.New(session.Config{Role: turn.RoleHost, Logger: log.New(io.Discard, "", 0)})
	n := &countingNotifier{}
	m := New(Options{Session: sess, Updates: updates, Notifier: n})
	m.Update(stateMsg(turn.MyTurn))
	m.Update(stateMsg(turn.OpponentTurn))
	if n.turns != 1 {
		t.Fatalf("expected one cue, got %d", n.turns)
	}
}
