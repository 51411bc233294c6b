// Package discovery lets a host announce itself on the local network and
// lets a joiner collect the hosts it hears. Announcements are a fixed
// sentinel datagram sent to the broadcast address; there is no reply,
// acknowledgement or authentication.
package discovery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"sort"
	"strconv"
	"time"
)

// Sentinel is the payload of every announcement.
const Sentinel = "CHESS_HOST"

const (
	DefaultPort          = 5000
	DefaultBroadcastAddr = "255.255.255.255"
	DefaultInterval      = time.Second
	DefaultTimeout       = 3 * time.Second

	// pollInterval bounds each blocking read so a cancelled scan returns
	// promptly.
	pollInterval = 250 * time.Millisecond
)

var sentinel = []byte(Sentinel)

// ErrBind reports that the discovery socket could not be bound.
var ErrBind = errors.New("discovery: bind failed")

// Error is a discovery failure. It is fatal to the attempt and never
// retried here.
type Error struct {
	Op   string
	Addr string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("discovery: %s %s: %v", e.Op, e.Addr, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports bind failures as ErrBind.
func (e *Error) Is(target error) bool { return target == ErrBind }

// Config controls both sides of discovery. Zero fields take defaults.
type Config struct {
	Port          int
	BroadcastAddr string
	// ListenAddr is the IP a scanner binds; empty means all interfaces.
	ListenAddr string
	Interval   time.Duration
	Timeout    time.Duration
}

func (c Config) withDefaults() Config {
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.BroadcastAddr == "" {
		c.BroadcastAddr = DefaultBroadcastAddr
	}
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	return c
}

// Peer is a host heard during one scan.
type Peer struct {
	IP     net.IP
	SeenAt time.Time
}

// SessionAddr joins the peer's IP with the session port.
func (p Peer) SessionAddr(port int) string {
	return net.JoinHostPort(p.IP.String(), strconv.Itoa(port))
}

func (p Peer) String() string { return p.IP.String() }

// Advertise broadcasts the sentinel every cfg.Interval until ctx is done.
// Send failures are logged and the next tick tries again.
func Advertise(ctx context.Context, cfg Config) error {
	cfg = cfg.withDefaults()
	dst := net.JoinHostPort(cfg.BroadcastAddr, strconv.Itoa(cfg.Port))
	raddr, err := net.ResolveUDPAddr("udp4", dst)
	if err != nil {
		return fmt.Errorf("discovery: resolve %s: %w", dst, err)
	}
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{})
	if err != nil {
		return &Error{Op: "advertise", Addr: dst, Err: err}
	}
	defer conn.Close()

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	for {
		if _, err := conn.WriteToUDP(sentinel, raddr); err != nil {
			log.Printf("discovery: announce to %s: %v", dst, err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Scanner listens for announcements on the discovery port.
type Scanner struct {
	conn *net.UDPConn
	cfg  Config
}

// Listen binds the discovery port. A bind failure is returned as *Error.
func Listen(cfg Config) (*Scanner, error) {
	cfg = cfg.withDefaults()
	laddr := &net.UDPAddr{IP: net.ParseIP(cfg.ListenAddr), Port: cfg.Port}
	conn, err := net.ListenUDP("udp4", laddr)
	if err != nil {
		return nil, &Error{Op: "listen", Addr: laddr.String(), Err: err}
	}
	return &Scanner{conn: conn, cfg: cfg}, nil
}

// Addr returns the bound address.
func (s *Scanner) Addr() *net.UDPAddr {
	return s.conn.LocalAddr().(*net.UDPAddr)
}

// Close releases the socket.
func (s *Scanner) Close() error {
	return s.conn.Close()
}

// Collect gathers distinct announcing hosts until the scan timeout elapses.
// Finding nothing is not an error. If ctx is cancelled first, the hosts
// heard so far are returned with ctx.Err().
func (s *Scanner) Collect(ctx context.Context) ([]Peer, error) {
	deadline := time.Now().Add(s.cfg.Timeout)
	seen := make(map[string]Peer)
	buf := make([]byte, 64)

	for {
		if err := ctx.Err(); err != nil {
			return sortedPeers(seen), err
		}
		now := time.Now()
		if !now.Before(deadline) {
			return sortedPeers(seen), nil
		}
		s.conn.SetReadDeadline(now.Add(min(deadline.Sub(now), pollInterval))) //nolint:errcheck

		n, addr, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			return sortedPeers(seen), fmt.Errorf("discovery: read: %w", err)
		}
		if !bytes.Equal(buf[:n], sentinel) {
			continue
		}
		key := addr.IP.String()
		if _, ok := seen[key]; !ok {
			seen[key] = Peer{IP: addr.IP, SeenAt: time.Now()}
		}
	}
}

// Scan binds the discovery port, collects hosts for cfg.Timeout and closes
// the socket.
func Scan(ctx context.Context, cfg Config) ([]Peer, error) {
	s, err := Listen(cfg)
	if err != nil {
		return nil, err
	}
	defer s.Close()
	return s.Collect(ctx)
}

func sortedPeers(seen map[string]Peer) []Peer {
	peers := make([]Peer, 0, len(seen))
	for _, p := range seen {
		peers = append(peers, p)
	}
	sort.Slice(peers, func(i, j int) bool {
		return bytes.Compare(peers[i].IP.To16(), peers[j].IP.To16()) < 0
	})
	return peers
}
