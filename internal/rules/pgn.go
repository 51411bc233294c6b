package rules

import (
	"fmt"

	"github.com/notnil/chess"
)

// Tag is a PGN header pair.
type Tag struct {
	Key, Value string
}

// PGN replays moves from the initial position and renders the game in
// Portable Game Notation. A decisive or drawn result that the board does
// not itself imply is recorded as a resignation or agreed draw.
func PGN(moves []Move, result Result, tags ...Tag) (string, error) {
	g := chess.NewGame()
	for _, t := range tags {
		g.AddTagPair(t.Key, t.Value)
	}
	for i, m := range moves {
		vm := findValid(g.Position(), m)
		if vm == nil {
			return "", fmt.Errorf("rules: pgn: ply %d: %w: %s", i+1, ErrIllegal, m)
		}
		if err := g.Move(vm); err != nil {
			return "", fmt.Errorf("rules: pgn: ply %d: %w", i+1, err)
		}
	}
	if g.Outcome() == chess.NoOutcome {
		switch result {
		case WhiteWins:
			g.Resign(chess.Black)
		case BlackWins:
			g.Resign(chess.White)
		case Draw:
			if err := g.Draw(chess.DrawOffer); err != nil {
				return "", fmt.Errorf("rules: pgn: %w", err)
			}
		}
	}
	return g.String(), nil
}
