// Package session wires discovery, transport and the turn synchronizer
// into one playable networked game.
//
// A host binds the session port, announces itself on the LAN and accepts
// exactly one opponent; announcing stops once the opponent connects. A
// joiner dials a host it found by scanning or was given. Local sessions
// skip the network entirely. Whatever the role, the presentation layer only
// sees the turn.Events callbacks and the command methods below.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"lanchess/internal/discovery"
	"lanchess/internal/protocol"
	"lanchess/internal/rules"
	"lanchess/internal/transport"
	"lanchess/internal/turn"
)

var (
	// ErrWrongRole is returned when an operation does not match the
	// session's role, e.g. Join on a hosting session.
	ErrWrongRole = errors.New("session: operation not valid for role")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("session: closed")
)

// Config configures a Session. Zero fields take defaults.
type Config struct {
	Role turn.Role

	Discovery discovery.Config

	// SessionAddr is the host's listen address; its port is also the
	// default port for Join targets given without one.
	SessionAddr    string
	ConnectTimeout time.Duration

	Engine turn.Engine
	Events turn.Events
	Logger *log.Logger
}

// Session is one game between two peers, or a local hot-seat game.
type Session struct {
	id   uuid.UUID
	cfg  Config
	log  *log.Logger
	game *turn.Synchronizer

	mu     sync.Mutex
	ln     *transport.Listener
	conn   *transport.Conn
	closed bool
	wg     sync.WaitGroup
}

// New creates a session. Networked sessions wait in WaitingForOpponent
// until Host or Join succeeds.
func New(cfg Config) *Session {
	if cfg.SessionAddr == "" {
		cfg.SessionAddr = ":" + strconv.Itoa(transport.DefaultPort)
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = transport.DefaultConnectTimeout
	}
	if cfg.Engine == nil {
		cfg.Engine = rules.Engine{}
	}
	s := &Session{id: uuid.New(), cfg: cfg}
	s.log = cfg.Logger
	if s.log == nil {
		s.log = log.New(log.Writer(), "", log.Flags())
	}
	s.log = log.New(s.log.Writer(), fmt.Sprintf("%s[%s %s] ", s.log.Prefix(), cfg.Role, s.id.String()[:8]), s.log.Flags()|log.Lmsgprefix)
	s.game = turn.New(cfg.Role, cfg.Engine, s.wrapEvents(cfg.Events))
	return s
}

func (s *Session) wrapEvents(ev turn.Events) turn.Events {
	ended := ev.GameEnded
	ev.GameEnded = func(result rules.Result, reason turn.Reason) {
		s.log.Printf("game ended: %s (%s)", result, reason)
		if ended != nil {
			ended(result, reason)
		}
	}
	return ev
}

// ID identifies the session in logs and saved games.
func (s *Session) ID() uuid.UUID { return s.id }

// Role returns the session role.
func (s *Session) Role() turn.Role { return s.cfg.Role }

// Listen binds the session port ahead of Host and returns the bound
// address. Host calls it if needed.
func (s *Session) Listen() (net.Addr, error) {
	if s.cfg.Role != turn.RoleHost {
		return nil, ErrWrongRole
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if s.ln != nil {
		return s.ln.Addr(), nil
	}
	ln, err := transport.Listen(s.cfg.SessionAddr)
	if err != nil {
		return nil, err
	}
	s.ln = ln
	return ln.Addr(), nil
}

// Host announces the session and waits for one opponent. It blocks until
// the opponent connects, ctx is cancelled or the session is closed.
// Announcing is best effort: if it fails, opponents can still join by
// address.
func (s *Session) Host(ctx context.Context) error {
	addr, err := s.Listen()
	if err != nil {
		return err
	}
	s.mu.Lock()
	ln := s.ln
	s.mu.Unlock()

	s.log.Printf("hosting on %s", addr)
	s.status(fmt.Sprintf("Hosting on %s. Waiting for an opponent...", addr))

	g, gctx := errgroup.WithContext(ctx)
	advertiseCtx, stopAdvertise := context.WithCancel(gctx)
	defer stopAdvertise()

	g.Go(func() error {
		if err := discovery.Advertise(advertiseCtx, s.cfg.Discovery); err != nil {
			s.log.Printf("announce: %v", err)
			s.status("Could not announce on the LAN; your opponent must join by address.")
		}
		return nil
	})

	var conn *transport.Conn
	g.Go(func() error {
		defer stopAdvertise()
		c, err := ln.Accept(gctx)
		if err != nil {
			return err
		}
		conn = c
		return nil
	})

	if err := g.Wait(); err != nil {
		s.log.Printf("host: %v", err)
		s.status(fmt.Sprintf("Hosting failed: %v", err))
		return err
	}
	return s.attach(conn)
}

// Scan looks for hosts on the LAN.
func (s *Session) Scan(ctx context.Context) ([]discovery.Peer, error) {
	s.status("Scanning for hosts...")
	peers, err := discovery.Scan(ctx, s.cfg.Discovery)
	if err != nil {
		s.log.Printf("scan: %v", err)
		return peers, err
	}
	s.log.Printf("scan found %d host(s)", len(peers))
	return peers, nil
}

// Join connects to the host at addr. A missing port defaults to the
// session port.
func (s *Session) Join(ctx context.Context, addr string) error {
	if s.cfg.Role != turn.RoleJoiner {
		return ErrWrongRole
	}
	addr = s.withSessionPort(addr)
	s.status(fmt.Sprintf("Connecting to %s...", addr))
	conn, err := transport.Dial(ctx, addr, s.cfg.ConnectTimeout)
	if err != nil {
		s.log.Printf("join: %v", err)
		s.status(fmt.Sprintf("Could not connect: %v", err))
		return err
	}
	return s.attach(conn)
}

// JoinPeer connects to a host found by Scan.
func (s *Session) JoinPeer(ctx context.Context, p discovery.Peer) error {
	return s.Join(ctx, p.SessionAddr(s.sessionPort()))
}

func (s *Session) attach(conn *transport.Conn) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		conn.Close()
		return ErrClosed
	}
	s.conn = conn
	s.mu.Unlock()

	s.log.Printf("connected to %s", conn.RemoteAddr())
	if err := s.game.Connect(conn); err != nil {
		conn.Close()
		return err
	}
	s.wg.Add(1)
	go s.receive(conn)
	return nil
}

// receive runs the connection's read loop and turns its single terminal
// error into the end of the game.
func (s *Session) receive(conn *transport.Conn) {
	defer s.wg.Done()

	err := conn.Serve(s.game.HandleMessage)

	var violation *turn.ProtocolViolation
	switch {
	case errors.As(err, &violation):
		s.log.Printf("closing connection: %v", err)
	case errors.Is(err, protocol.ErrMalformed):
		s.log.Printf("closing connection: %v", err)
		s.game.Abort(turn.ReasonProtocolViolation, err)
	default:
		if _, ended := s.game.Outcome(); !ended {
			s.log.Printf("connection lost: %v", err)
		}
		s.game.Abort(turn.ReasonConnectionLost, err)
	}
}

// SubmitMove plays a move typed by the local player.
func (s *Session) SubmitMove(text string) error { return s.game.SubmitMove(text) }

// OfferDraw offers the opponent a draw.
func (s *Session) OfferDraw() error { return s.game.OfferDraw() }

// AcceptDraw accepts the opponent's draw offer.
func (s *Session) AcceptDraw() error { return s.game.AcceptDraw() }

// DeclineDraw declines the opponent's draw offer.
func (s *Session) DeclineDraw() error { return s.game.DeclineDraw() }

// Resign resigns the game.
func (s *Session) Resign() error { return s.game.Resign() }

// Reset restarts a local game.
func (s *Session) Reset() error { return s.game.Reset() }

// State returns the turn state.
func (s *Session) State() turn.State { return s.game.State() }

// Position returns the current position.
func (s *Session) Position() rules.Position { return s.game.Position() }

// Color returns the local player's color.
func (s *Session) Color() rules.Color { return s.game.Color() }

// Moves returns the moves played so far.
func (s *Session) Moves() []rules.Move { return s.game.Moves() }

// Outcome returns the final outcome and whether the game has ended.
func (s *Session) Outcome() (turn.Outcome, bool) { return s.game.Outcome() }

// SavePGN writes the game so far in PGN.
func (s *Session) SavePGN(w io.Writer) error {
	outcome, _ := s.game.Outcome()
	white, black := "Host", "Joiner"
	if s.cfg.Role == turn.RoleLocal {
		white, black = "White", "Black"
	}
	tags := []rules.Tag{
		{Key: "Event", Value: "lanchess"},
		{Key: "Site", Value: "LAN"},
		{Key: "Date", Value: time.Now().Format("2006.01.02")},
		{Key: "White", Value: white},
		{Key: "Black", Value: black},
		{Key: "GameId", Value: s.id.String()},
	}
	if outcome.Reason != "" {
		tags = append(tags, rules.Tag{Key: "Termination", Value: string(outcome.Reason)})
	}
	pgn, err := rules.PGN(s.game.Moves(), outcome.Result, tags...)
	if err != nil {
		return err
	}
	if _, err := io.WriteString(w, pgn); err != nil {
		return fmt.Errorf("session: write pgn: %w", err)
	}
	return nil
}

// Close stops hosting, drops the connection and waits for the receive
// loop to finish. A game still in progress ends as connection_lost.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	ln, conn := s.ln, s.conn
	s.mu.Unlock()

	if ln != nil {
		ln.Close()
	}
	if conn != nil {
		conn.Close()
	}
	s.wg.Wait()
	return nil
}

// status goes through the synchronizer so it never overlaps a game event.
func (s *Session) status(text string) {
	s.game.Notify(text)
}

func (s *Session) sessionPort() int {
	_, port, err := net.SplitHostPort(s.cfg.SessionAddr)
	if err != nil {
		return transport.DefaultPort
	}
	n, err := strconv.Atoi(port)
	if err != nil || n == 0 {
		return transport.DefaultPort
	}
	return n
}

func (s *Session) withSessionPort(addr string) string {
	if _, _, err := net.SplitHostPort(addr); err == nil {
		return addr
	}
	return net.JoinHostPort(addr, strconv.Itoa(s.sessionPort()))
}
