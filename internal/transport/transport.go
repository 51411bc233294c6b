// Package transport carries protocol messages over a single TCP
// connection between exactly two peers. The host listens and accepts one
// connection; the joiner dials. There is no reconnection: the first read
// or write failure ends the connection for good.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"lanchess/internal/protocol"
)

const (
	DefaultPort           = 5001
	DefaultConnectTimeout = 5 * time.Second

	readChunk    = 512
	sendQueue    = 16
	flushTimeout = time.Second
)

var (
	// ErrConnectionLost is returned by Serve when the peer closes the
	// stream or an I/O error occurs.
	ErrConnectionLost = errors.New("transport: connection lost")
	// ErrClosed is returned by Send after the connection has been closed.
	ErrClosed = errors.New("transport: connection closed")
)

// ConnectionError reports a failure to establish a session.
type ConnectionError struct {
	Op   string
	Addr string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("transport: %s %s: %v", e.Op, e.Addr, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// Listener accepts the single inbound connection of a hosted session.
type Listener struct {
	ln net.Listener
}

// Listen binds addr for the host side.
func Listen(addr string) (*Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, &ConnectionError{Op: "listen", Addr: addr, Err: err}
	}
	return &Listener{ln: ln}, nil
}

// Addr returns the bound address.
func (l *Listener) Addr() net.Addr {
	return l.ln.Addr()
}

// Close stops accepting. It is safe to call more than once.
func (l *Listener) Close() error {
	err := l.ln.Close()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

// Accept waits for one peer, then closes the listener so no second peer
// can join. Cancelling ctx closes the socket and unblocks the wait.
func (l *Listener) Accept(ctx context.Context) (*Conn, error) {
	defer l.Close()

	stop := context.AfterFunc(ctx, func() { l.ln.Close() })
	defer stop()

	c, err := l.ln.Accept()
	if err != nil {
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		return nil, &ConnectionError{Op: "accept", Addr: l.ln.Addr().String(), Err: err}
	}
	return NewConn(c), nil
}

// Dial connects to a hosted session, giving up after timeout.
func Dial(ctx context.Context, addr string, timeout time.Duration) (*Conn, error) {
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}
	d := net.Dialer{Timeout: timeout}
	c, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, &ConnectionError{Op: "dial", Addr: addr, Err: err}
	}
	return NewConn(c), nil
}

// Conn is an established session stream. Frames passed to Send are
// written in order by a single writer goroutine, so a sender never waits on
// the peer reading.
type Conn struct {
	conn net.Conn
	send chan []byte
	lost atomic.Bool

	closeOnce sync.Once
	closing   chan struct{}
	closed    chan struct{}
}

// NewConn wraps an established net.Conn and starts its writer.
func NewConn(c net.Conn) *Conn {
	conn := &Conn{
		conn:    c,
		send:    make(chan []byte, sendQueue),
		closing: make(chan struct{}),
		closed:  make(chan struct{}),
	}
	go conn.writeLoop()
	return conn
}

// RemoteAddr returns the peer's address.
func (c *Conn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// Send queues m as one frame. It returns ErrClosed after Close and
// ErrConnectionLost once a write has failed.
func (c *Conn) Send(m protocol.Message) error {
	b, err := protocol.Encode(m)
	if err != nil {
		return err
	}
	select {
	case <-c.closing:
		return c.closedErr()
	default:
	}
	select {
	case c.send <- b:
		return nil
	case <-c.closing:
		return c.closedErr()
	}
}

func (c *Conn) closedErr() error {
	if c.lost.Load() {
		return ErrConnectionLost
	}
	return ErrClosed
}

func (c *Conn) writeLoop() {
	defer close(c.closed)
	defer c.conn.Close()

	for {
		select {
		case b := <-c.send:
			if _, err := c.conn.Write(b); err != nil {
				c.lost.Store(true)
				c.shut()
				return
			}
		case <-c.closing:
			c.flush()
			return
		}
	}
}

// flush writes whatever is still queued, bounded by flushTimeout.
func (c *Conn) flush() {
	c.conn.SetWriteDeadline(time.Now().Add(flushTimeout)) //nolint:errcheck
	for {
		select {
		case b := <-c.send:
			if _, err := c.conn.Write(b); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *Conn) shut() {
	c.closeOnce.Do(func() { close(c.closing) })
}

// Serve reads frames until the connection ends and hands each decoded
// message to handle in arrival order. It returns once, closing the
// connection, with ErrConnectionLost, a *protocol.DecodeError, or the
// first error returned by handle. No idle timeout is applied.
func (c *Conn) Serve(handle func(protocol.Message) error) error {
	defer c.Close()

	var dec protocol.Decoder
	buf := make([]byte, readChunk)
	for {
		n, rerr := c.conn.Read(buf)
		if n > 0 {
			msgs, derr := dec.Feed(buf[:n])
			for _, m := range msgs {
				if err := handle(m); err != nil {
					return err
				}
			}
			if derr != nil {
				return derr
			}
		}
		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				return ErrConnectionLost
			}
			return fmt.Errorf("%w: %v", ErrConnectionLost, rerr)
		}
	}
}

// Close flushes queued frames and closes the connection. It is safe to
// call more than once.
func (c *Conn) Close() error {
	c.shut()
	<-c.closed
	return nil
}

// Done is closed once the connection starts closing.
func (c *Conn) Done() <-chan struct{} {
	return c.closing
}
