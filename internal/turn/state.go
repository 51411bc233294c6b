package turn

import (
	"errors"
	"fmt"

	"lanchess/internal/protocol"
	"lanchess/internal/rules"
)

// Role is fixed when a session is created.
type Role int8

const (
	RoleHost Role = iota
	RoleJoiner
	// RoleLocal is hot-seat play: no network, both sides submit locally.
	RoleLocal
)

func (r Role) String() string {
	switch r {
	case RoleHost:
		return "host"
	case RoleJoiner:
		return "joiner"
	case RoleLocal:
		return "local"
	}
	return fmt.Sprintf("Role(%d)", int8(r))
}

// Color returns the side a role plays: the host is White and the joiner
// is Black. Local play reports White.
func (r Role) Color() rules.Color {
	if r == RoleJoiner {
		return rules.Black
	}
	return rules.White
}

// State is the synchronizer's view of whose turn it is.
type State int8

const (
	WaitingForOpponent State = iota
	MyTurn
	OpponentTurn
	DrawOfferedByMe
	DrawOfferedByOpponent
	GameEnded
)

var stateNames = [...]string{
	WaitingForOpponent:    "WaitingForOpponent",
	MyTurn:                "MyTurn",
	OpponentTurn:          "OpponentTurn",
	DrawOfferedByMe:       "DrawOfferedByMe",
	DrawOfferedByOpponent: "DrawOfferedByOpponent",
	GameEnded:             "GameEnded",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int8(s))
}

// Reason records why a game ended.
type Reason string

const (
	ReasonCheckmate         Reason = "checkmate"
	ReasonStalemate         Reason = "stalemate"
	ReasonResignation       Reason = "resignation"
	ReasonDrawAgreement     Reason = "draw_agreement"
	ReasonConnectionLost    Reason = "connection_lost"
	ReasonProtocolViolation Reason = "protocol_violation"
)

// Outcome is the final result of a game and how it came about.
type Outcome struct {
	Result rules.Result
	Reason Reason
}

func (o Outcome) String() string {
	return fmt.Sprintf("%s (%s)", o.Result, o.Reason)
}

// Local input errors. They are reported to the player and never sent to
// the peer.
var (
	ErrNotYourTurn  = errors.New("not your turn")
	ErrInvalidMove  = errors.New("invalid move")
	ErrIllegalMove  = errors.New("illegal move")
	ErrGameOver     = errors.New("game is over")
	ErrNotConnected = errors.New("waiting for opponent")
	ErrNoDrawOffer  = errors.New("no draw offer to answer")
	ErrDrawPending  = errors.New("a draw offer is pending")
	ErrNotLocal     = errors.New("only available in local play")
)

// ProtocolViolation is a received message that is inconsistent with the
// game state or the rules. It ends the session.
type ProtocolViolation struct {
	Message protocol.Message
	State   State
	Reason  string
}

func (e *ProtocolViolation) Error() string {
	return fmt.Sprintf("protocol violation: %v in %v: %s", e.Message, e.State, e.Reason)
}
