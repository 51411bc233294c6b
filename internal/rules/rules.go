// Package rules adapts github.com/notnil/chess to the narrow rules-engine
// surface the session needs: legal moves, applying a move, game-over
// detection and move notation.
package rules

import (
	"errors"
	"fmt"
	"strings"

	"github.com/notnil/chess"
)

var (
	// ErrParse is returned when move text cannot be decoded.
	ErrParse = errors.New("rules: cannot parse move")
	// ErrIllegal is returned when a move is not legal in the position.
	ErrIllegal = errors.New("rules: illegal move")
)

// Color is the side to move.
type Color int8

const (
	White Color = iota
	Black
)

func (c Color) String() string {
	if c == Black {
		return "Black"
	}
	return "White"
}

// Other returns the opposing color.
func (c Color) Other() Color {
	if c == White {
		return Black
	}
	return White
}

// Result is the outcome of a game.
type Result int8

const (
	InProgress Result = iota
	WhiteWins
	BlackWins
	Draw
)

// String returns the PGN result token.
func (r Result) String() string {
	switch r {
	case WhiteWins:
		return "1-0"
	case BlackWins:
		return "0-1"
	case Draw:
		return "1/2-1/2"
	}
	return "*"
}

// WinFor returns the result in which c wins.
func WinFor(c Color) Result {
	if c == White {
		return WhiteWins
	}
	return BlackWins
}

// Move is a from/to square pair with an optional promotion piece.
// Moves are plain values; two moves are equal when their fields are.
type Move struct {
	From      chess.Square
	To        chess.Square
	Promotion chess.PieceType
}

func moveOf(m *chess.Move) Move {
	return Move{From: m.S1(), To: m.S2(), Promotion: m.Promo()}
}

// String renders the move in UCI form, e.g. "e2e4" or "e7e8q".
func (m Move) String() string {
	s := m.From.String() + m.To.String()
	if m.Promotion != chess.NoPieceType {
		s += strings.ToLower(m.Promotion.String())
	}
	return s
}

// Position is an opaque board position. The zero value is not usable; get
// one from Engine.Start.
type Position struct {
	p *chess.Position
}

// Turn returns the color to move.
func (p Position) Turn() Color {
	if p.p.Turn() == chess.Black {
		return Black
	}
	return White
}

// FEN returns the position in Forsyth-Edwards notation.
func (p Position) FEN() string {
	return p.p.String()
}

// PieceAt returns the unicode symbol of the piece on the square at file
// (0 = a) and rank (0 = 1), and false when the square is empty.
func (p Position) PieceAt(file, rank int) (string, bool) {
	sq := chess.NewSquare(chess.File(file), chess.Rank(rank))
	pc := p.p.Board().Piece(sq)
	if pc == chess.NoPiece {
		return "", false
	}
	return pc.String(), true
}

// Engine implements standard chess rules.
type Engine struct{}

// Start returns the standard initial position.
func (Engine) Start() Position {
	return Position{p: chess.NewGame().Position()}
}

// FromFEN parses a position from Forsyth-Edwards notation.
func (Engine) FromFEN(fen string) (Position, error) {
	opt, err := chess.FEN(fen)
	if err != nil {
		return Position{}, fmt.Errorf("rules: fen: %w", err)
	}
	return Position{p: chess.NewGame(opt).Position()}, nil
}

// LegalMoves returns every legal move in pos.
func (Engine) LegalMoves(pos Position) []Move {
	valid := pos.p.ValidMoves()
	moves := make([]Move, 0, len(valid))
	for _, m := range valid {
		moves = append(moves, moveOf(m))
	}
	return moves
}

// Apply plays m on pos and returns the resulting position.
func (Engine) Apply(pos Position, m Move) (Position, error) {
	vm := findValid(pos.p, m)
	if vm == nil {
		return pos, fmt.Errorf("%w: %s", ErrIllegal, m)
	}
	return Position{p: pos.p.Update(vm)}, nil
}

// IsGameOver reports whether pos is checkmate or stalemate.
func (Engine) IsGameOver(pos Position) bool {
	switch pos.p.Status() {
	case chess.Checkmate, chess.Stalemate:
		return true
	}
	return false
}

// Result returns the outcome decided by the board alone.
func (Engine) Result(pos Position) Result {
	switch pos.p.Status() {
	case chess.Checkmate:
		// the side to move has been mated
		return WinFor(pos.Turn().Other())
	case chess.Stalemate:
		return Draw
	}
	return InProgress
}

// Status describes the position for display.
func (Engine) Status(pos Position) string {
	switch pos.p.Status() {
	case chess.Checkmate:
		return "Checkmate"
	case chess.Stalemate:
		return "Stalemate"
	}
	return pos.Turn().String() + " to move"
}

// EncodeMove renders m in the compact wire form.
func (Engine) EncodeMove(pos Position, m Move) string {
	if vm := findValid(pos.p, m); vm != nil {
		return chess.UCINotation{}.Encode(pos.p, vm)
	}
	return m.String()
}

// DecodeMove parses the compact wire form (UCI). The returned move is not
// checked for legality.
func (Engine) DecodeMove(pos Position, s string) (Move, error) {
	m, err := chess.UCINotation{}.Decode(pos.p, strings.TrimSpace(s))
	if err != nil {
		return Move{}, fmt.Errorf("%w: %q", ErrParse, s)
	}
	return moveOf(m), nil
}

// ParseInput parses move text typed by a player, accepting UCI ("g1f3")
// or SAN ("Nf3").
func (e Engine) ParseInput(pos Position, s string) (Move, error) {
	s = strings.TrimSpace(s)
	if m, err := e.DecodeMove(pos, s); err == nil {
		return m, nil
	}
	m, err := chess.AlgebraicNotation{}.Decode(pos.p, s)
	if err != nil {
		return Move{}, fmt.Errorf("%w: %q", ErrParse, s)
	}
	return moveOf(m), nil
}

func findValid(pos *chess.Position, m Move) *chess.Move {
	for _, vm := range pos.ValidMoves() {
		if moveOf(vm) == m {
			return vm
		}
	}
	return nil
}
