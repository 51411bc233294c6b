// Package turn owns the state of one game: the position, the move list and
// whose turn it is. Local commands from the player and messages from the
// peer are applied one at a time under a single lock, so the two can never
// race on the board.
package turn

import (
	"errors"
	"fmt"
	"sync"

	"lanchess/internal/protocol"
	"lanchess/internal/rules"
)

// Engine is the rules collaborator.
type Engine interface {
	Start() rules.Position
	Apply(pos rules.Position, m rules.Move) (rules.Position, error)
	IsGameOver(pos rules.Position) bool
	Result(pos rules.Position) rules.Result
	Status(pos rules.Position) string
	EncodeMove(pos rules.Position, m rules.Move) string
	DecodeMove(pos rules.Position, s string) (rules.Move, error)
	ParseInput(pos rules.Position, s string) (rules.Move, error)
}

// Sender delivers messages to the peer.
type Sender interface {
	Send(m protocol.Message) error
}

// Events is the presentation surface. Nil callbacks are skipped. Callbacks
// run after the state lock is released, in the order the changes happened;
// they must not call back into Synchronizer commands synchronously.
type Events struct {
	StatusChanged     func(text string)
	BoardChanged      func(pos rules.Position)
	GameEnded         func(result rules.Result, reason Reason)
	DrawOfferReceived func()
	StateChanged      func(s State)
}

// Synchronizer is the single authority over a game's mutable state.
type Synchronizer struct {
	mu     sync.Mutex
	emitMu sync.Mutex

	role   Role
	color  rules.Color
	engine Engine
	events Events
	sender Sender

	pos     rules.Position
	moves   []rules.Move
	state   State
	resume  State
	outcome Outcome
	// lapsed is set while an offer of ours that a crossing move lapsed may
	// still be answered by the peer.
	lapsed bool

	pending []func()
}

// New returns a synchronizer at the initial position. Networked roles start
// in WaitingForOpponent until Connect; local play starts at once.
func New(role Role, engine Engine, events Events) *Synchronizer {
	s := &Synchronizer{
		role:   role,
		color:  role.Color(),
		engine: engine,
		events: events,
		pos:    engine.Start(),
		state:  WaitingForOpponent,
	}
	if role == RoleLocal {
		s.state = s.turnState()
	}
	return s
}

// Connect attaches the peer and starts play: White moves first, so the
// host enters MyTurn and the joiner OpponentTurn.
func (s *Synchronizer) Connect(sender Sender) error {
	return s.do(func() error {
		if s.role == RoleLocal {
			return ErrNotLocal
		}
		if s.state != WaitingForOpponent {
			return fmt.Errorf("turn: connect in state %v", s.state)
		}
		s.sender = sender
		s.setState(s.turnState())
		s.emitBoard()
		s.emitStatus(fmt.Sprintf("Connected. You play %s. %s", s.color, s.describe()))
		return nil
	})
}

// SubmitMove validates and plays a move typed by the local player, then
// sends it to the peer.
func (s *Synchronizer) SubmitMove(text string) error {
	return s.do(func() error {
		if err := s.canMove(); err != nil {
			return s.reject(err)
		}
		m, err := s.engine.ParseInput(s.pos, text)
		if err != nil {
			return s.reject(fmt.Errorf("%w: %q", ErrInvalidMove, text))
		}
		uci := s.engine.EncodeMove(s.pos, m)
		next, err := s.engine.Apply(s.pos, m)
		if err != nil {
			return s.reject(fmt.Errorf("%w: %s", ErrIllegalMove, uci))
		}
		s.advance(next, m)
		return s.send(protocol.Move(uci))
	})
}

// OfferDraw offers a draw to the peer. In local play both sides are at the
// keyboard, so the offer is agreed at once.
func (s *Synchronizer) OfferDraw() error {
	return s.do(func() error {
		switch s.state {
		case GameEnded:
			return s.reject(ErrGameOver)
		case WaitingForOpponent:
			return s.reject(ErrNotConnected)
		case DrawOfferedByMe, DrawOfferedByOpponent:
			return s.reject(ErrDrawPending)
		}
		if s.lapsed {
			return s.reject(ErrDrawPending)
		}
		if s.role == RoleLocal {
			s.end(rules.Draw, ReasonDrawAgreement)
			return nil
		}
		s.resume = s.state
		s.setState(DrawOfferedByMe)
		s.emitStatus("Draw offered. Waiting for an answer.")
		return s.send(protocol.DrawOffer())
	})
}

// AcceptDraw accepts the peer's pending offer and ends the game drawn.
func (s *Synchronizer) AcceptDraw() error {
	return s.do(func() error {
		if s.state != DrawOfferedByOpponent {
			return s.reject(ErrNoDrawOffer)
		}
		if err := s.send(protocol.DrawAccept()); err != nil {
			return err
		}
		s.end(rules.Draw, ReasonDrawAgreement)
		return nil
	})
}

// DeclineDraw refuses the peer's pending offer; play continues.
func (s *Synchronizer) DeclineDraw() error {
	return s.do(func() error {
		if s.state != DrawOfferedByOpponent {
			return s.reject(ErrNoDrawOffer)
		}
		s.setState(s.resume)
		s.emitStatus("Draw declined. " + s.describe())
		return s.send(protocol.DrawDecline())
	})
}

// Resign ends the game as a loss for the local player. In local play the
// side to move resigns.
func (s *Synchronizer) Resign() error {
	return s.do(func() error {
		if s.state == GameEnded {
			return s.reject(ErrGameOver)
		}
		loser := s.color
		if s.role == RoleLocal {
			loser = s.pos.Turn()
		}
		s.end(rules.WinFor(loser.Other()), ReasonResignation)
		if s.sender != nil {
			if err := s.sender.Send(protocol.Resign()); err != nil {
				return fmt.Errorf("turn: send resign: %w", err)
			}
		}
		return nil
	})
}

// Notify reports text through StatusChanged, ordered with the
// synchronizer's own events.
func (s *Synchronizer) Notify(text string) {
	s.do(func() error { //nolint:errcheck
		s.emitStatus(text)
		return nil
	})
}

// Reset starts a new local game.
func (s *Synchronizer) Reset() error {
	return s.do(func() error {
		if s.role != RoleLocal {
			return s.reject(ErrNotLocal)
		}
		s.pos = s.engine.Start()
		s.moves = nil
		s.outcome = Outcome{}
		s.lapsed = false
		s.setState(s.turnState())
		s.emitBoard()
		s.emitStatus(s.describe())
		return nil
	})
}

// HandleMessage applies a message received from the peer. A message that
// does not fit the current state ends the game and is returned as a
// *ProtocolViolation; the caller must then close the connection. Messages
// arriving after the game ended are ignored.
func (s *Synchronizer) HandleMessage(m protocol.Message) error {
	return s.do(func() error {
		if s.state == GameEnded {
			return nil
		}
		if s.role == RoleLocal || s.state == WaitingForOpponent {
			return s.violate(m, "no peer session")
		}
		switch m.Kind {
		case protocol.KindMove:
			return s.remoteMove(m)

		case protocol.KindDrawOffer:
			switch s.state {
			case MyTurn, OpponentTurn:
				s.resume = s.state
				s.setState(DrawOfferedByOpponent)
				s.emitStatus("Your opponent offers a draw.")
				if f := s.events.DrawOfferReceived; f != nil {
					s.pending = append(s.pending, f)
				}
			case DrawOfferedByMe:
				// the offers crossed; neither answers the other
				s.setState(s.resume)
				s.emitStatus("Draw offers crossed. " + s.describe())
			default:
				return s.violate(m, "repeated draw offer")
			}

		case protocol.KindDrawAccept:
			// The peer may accept an offer that a crossing move lapsed
			// here; it has already ended the game, so agree with it.
			if s.state != DrawOfferedByMe && !s.lapsed {
				return s.violate(m, "no draw was offered")
			}
			s.lapsed = false
			s.end(rules.Draw, ReasonDrawAgreement)

		case protocol.KindDrawDecline:
			if s.lapsed && s.state != DrawOfferedByMe {
				s.lapsed = false
				return nil
			}
			if s.state != DrawOfferedByMe {
				return s.violate(m, "no draw was offered")
			}
			s.setState(s.resume)
			s.emitStatus("Draw declined by opponent. " + s.describe())

		case protocol.KindResign:
			s.end(rules.WinFor(s.color), ReasonResignation)

		default:
			return s.violate(m, "unknown message")
		}
		return nil
	})
}

// Abort ends the game without a result, e.g. when the connection drops.
func (s *Synchronizer) Abort(reason Reason, cause error) {
	s.do(func() error { //nolint:errcheck
		if s.state == GameEnded {
			return nil
		}
		s.end(rules.InProgress, reason)
		if cause != nil {
			s.emitStatus(fmt.Sprintf("Session ended: %v", cause))
		}
		return nil
	})
}

// State returns the current turn state.
func (s *Synchronizer) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Position returns the current position.
func (s *Synchronizer) Position() rules.Position {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pos
}

// Moves returns the moves played so far.
func (s *Synchronizer) Moves() []rules.Move {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]rules.Move(nil), s.moves...)
}

// Outcome returns the final outcome and whether the game has ended.
func (s *Synchronizer) Outcome() (Outcome, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outcome, s.state == GameEnded
}

// Role returns the session role.
func (s *Synchronizer) Role() Role { return s.role }

// Color returns the local player's color.
func (s *Synchronizer) Color() rules.Color { return s.color }

func (s *Synchronizer) remoteMove(m protocol.Message) error {
	switch s.state {
	case DrawOfferedByMe:
		s.setState(s.resume)
		s.lapsed = true
		s.emitStatus("Draw offer lapsed.")
	case DrawOfferedByOpponent:
		// moving withdraws the peer's own offer
		s.setState(s.resume)
	}
	if s.state != OpponentTurn {
		return s.violate(m, "move out of turn")
	}
	mv, err := s.engine.DecodeMove(s.pos, m.UCI)
	if err != nil {
		return s.violate(m, err.Error())
	}
	next, err := s.engine.Apply(s.pos, mv)
	if err != nil {
		return s.violate(m, err.Error())
	}
	s.advance(next, mv)
	return nil
}

func (s *Synchronizer) canMove() error {
	switch s.state {
	case GameEnded:
		return ErrGameOver
	case WaitingForOpponent:
		return ErrNotConnected
	case DrawOfferedByMe, DrawOfferedByOpponent:
		return ErrDrawPending
	case OpponentTurn:
		if s.role != RoleLocal {
			return ErrNotYourTurn
		}
	}
	return nil
}

func (s *Synchronizer) advance(next rules.Position, m rules.Move) {
	s.pos = next
	s.moves = append(s.moves, m)
	s.emitBoard()
	if s.engine.IsGameOver(next) {
		reason := ReasonCheckmate
		if s.engine.Result(next) == rules.Draw {
			reason = ReasonStalemate
		}
		s.end(s.engine.Result(next), reason)
		return
	}
	s.setState(s.turnState())
	s.emitStatus(s.describe())
}

// send delivers m if a peer is attached. A failed send means the stream is
// gone, which ends the game.
func (s *Synchronizer) send(m protocol.Message) error {
	if s.sender == nil {
		return nil
	}
	if err := s.sender.Send(m); err != nil {
		s.end(rules.InProgress, ReasonConnectionLost)
		return fmt.Errorf("turn: send %v: %w", m, err)
	}
	return nil
}

func (s *Synchronizer) turnState() State {
	if s.pos.Turn() == s.color {
		return MyTurn
	}
	return OpponentTurn
}

func (s *Synchronizer) describe() string {
	status := s.engine.Status(s.pos)
	if s.role == RoleLocal {
		return status
	}
	if s.state == MyTurn {
		return status + ". Your move."
	}
	return status + ". Waiting for opponent."
}

func (s *Synchronizer) setState(st State) {
	if st == s.state {
		return
	}
	s.state = st
	if f := s.events.StateChanged; f != nil {
		s.pending = append(s.pending, func() { f(st) })
	}
}

func (s *Synchronizer) end(result rules.Result, reason Reason) {
	if s.state == GameEnded {
		return
	}
	s.outcome = Outcome{Result: result, Reason: reason}
	s.setState(GameEnded)
	if f := s.events.GameEnded; f != nil {
		s.pending = append(s.pending, func() { f(result, reason) })
	}
	s.emitStatus(fmt.Sprintf("Game over! Result: %s", s.outcome))
}

func (s *Synchronizer) violate(m protocol.Message, why string) error {
	err := &ProtocolViolation{Message: m, State: s.state, Reason: why}
	s.end(rules.InProgress, ReasonProtocolViolation)
	return err
}

func (s *Synchronizer) reject(err error) error {
	s.emitStatus(capitalize(err.Error()))
	return err
}

func (s *Synchronizer) emitStatus(text string) {
	if f := s.events.StatusChanged; f != nil {
		s.pending = append(s.pending, func() { f(text) })
	}
}

func (s *Synchronizer) emitBoard() {
	if f := s.events.BoardChanged; f != nil {
		pos := s.pos
		s.pending = append(s.pending, func() { f(pos) })
	}
}

// do runs fn under the state lock, then delivers the events it queued.
func (s *Synchronizer) do(fn func() error) error {
	s.mu.Lock()
	err := fn()
	pending := s.pending
	s.pending = nil
	s.emitMu.Lock()
	s.mu.Unlock()
	defer s.emitMu.Unlock()
	for _, f := range pending {
		f()
	}
	return err
}

func capitalize(s string) string {
	if s == "" || s[0] < 'a' || s[0] > 'z' {
		return s
	}
	return string(s[0]-'a'+'A') + s[1:]
}

// IsLocalError reports whether err is a rejected local input rather than a
// session failure.
func IsLocalError(err error) bool {
	for _, target := range []error{
		ErrNotYourTurn, ErrInvalidMove, ErrIllegalMove, ErrGameOver,
		ErrNotConnected, ErrNoDrawOffer, ErrDrawPending, ErrNotLocal,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
