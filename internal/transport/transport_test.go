package transport

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"lanchess/internal/protocol"
)

func connectedPair(t *testing.T) (host, joiner *Conn) {
	t.Helper()
	ln, err := Listen("127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	type result struct {
		c   *Conn
		err error
	}
	accepted := make(chan result, 1)
	go func() {
		c, err := ln.Accept(context.Background())
		accepted <- result{c, err}
	}()

	joiner, err = Dial(context.Background(), ln.Addr().String(), time.Second)
	if err != nil {
		t.Fatal(err)
	}
	r := <-accepted
	if r.err != nil {
		t.Fatal(r.err)
	}
	t.Cleanup(func() {
		r.c.Close()
		joiner.Close()
	})
	return r.c, joiner
}

func collect(c *Conn) (<-chan protocol.Message, <-chan error) {
	msgs := make(chan protocol.Message, 256)
	done := make(chan error, 1)
	go func() {
		done <- c.Serve(func(m protocol.Message) error {
			msgs <- m
			return nil
		})
	}()
	return msgs, done
}

func TestSendAndServe(t *testing.T) {
	host, joiner := connectedPair(t)
	msgs, done := collect(joiner)

	want := []protocol.Message{protocol.Move("e2e4"), protocol.DrawOffer(), protocol.Resign()}
	for _, m := range want {
		if err := host.Send(m); err != nil {
			t.Fatal(err)
		}
	}
	for i, w := range want {
		select {
		case got := <-msgs:
			if got != w {
				t.Fatalf("message %d: got %v want %v", i, got, w)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timeout waiting for message %d", i)
		}
	}

	host.Close()
	select {
	case err := <-done:
		if !errors.Is(err, ErrConnectionLost) {
			t.Fatalf("expected ErrConnectionLost, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("serve did not return after peer closed")
	}
}

func TestConcurrentSendsDoNotInterleave(t *testing.T) {
	host, joiner := connectedPair(t)
	msgs, _ := collect(joiner)

	const senders, each = 8, 20
	var wg sync.WaitGroup
	for i := 0; i < senders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < each; j++ {
				if err := host.Send(protocol.DrawDecline()); err != nil {
					t.Error(err)
					return
				}
			}
		}()
	}
	wg.Wait()

	for i := 0; i < senders*each; i++ {
		select {
		case m := <-msgs:
			if m != protocol.DrawDecline() {
				t.Fatalf("corrupted message %v", m)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("received only %d messages", i)
		}
	}
}

func TestCrossedSendsWhileHandlersWait(t *testing.T) {
	a, b := net.Pipe()
	ends := []*Conn{NewConn(a), NewConn(b)}
	defer ends[0].Close()
	defer ends[1].Close()

	// each side's handler needs the lock its own sender holds
	var mus [2]sync.Mutex
	got := make(chan protocol.Message, 8)
	for i, c := range ends {
		mu := &mus[i]
		go c.Serve(func(m protocol.Message) error { //nolint:errcheck
			mu.Lock()
			defer mu.Unlock()
			got <- m
			return nil
		})
	}

	sent := make(chan error, len(ends))
	for i, c := range ends {
		c := c
		mu := &mus[i]
		go func() {
			mu.Lock()
			defer mu.Unlock()
			for _, m := range []protocol.Message{protocol.DrawOffer(), protocol.Move("e2e4")} {
				if err := c.Send(m); err != nil {
					sent <- err
					return
				}
			}
			sent <- nil
		}()
	}
	for range ends {
		select {
		case err := <-sent:
			if err != nil {
				t.Fatal(err)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("send blocked on the peer's handler")
		}
	}
	for i := 0; i < 4; i++ {
		select {
		case <-got:
		case <-time.After(2 * time.Second):
			t.Fatalf("received only %d messages", i)
		}
	}
}

func TestCloseFlushesQueuedFrames(t *testing.T) {
	host, joiner := connectedPair(t)
	msgs, done := collect(joiner)

	if err := host.Send(protocol.Resign()); err != nil {
		t.Fatal(err)
	}
	host.Close()

	select {
	case m := <-msgs:
		if m != protocol.Resign() {
			t.Fatalf("got %v", m)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("queued frame was dropped on close")
	}
	select {
	case err := <-done:
		if !errors.Is(err, ErrConnectionLost) {
			t.Fatalf("expected ErrConnectionLost, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("serve did not return")
	}
	if err := host.Send(protocol.Resign()); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestSendAfterWriteFailure(t *testing.T) {
	a, b := net.Pipe()
	c := NewConn(b)
	defer c.Close()
	a.Close()

	c.Send(protocol.DrawOffer()) //nolint:errcheck
	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("write failure did not close the connection")
	}
	if err := c.Send(protocol.Resign()); !errors.Is(err, ErrConnectionLost) {
		t.Fatalf("expected ErrConnectionLost, got %v", err)
	}
}

func TestServeClosesOnMalformed(t *testing.T) {
	a, b := net.Pipe()
	c := NewConn(b)
	_, done := collect(c)

	go a.Write([]byte("RESIGN\nWAT\n")) //nolint:errcheck

	select {
	case err := <-done:
		if !errors.Is(err, protocol.ErrMalformed) {
			t.Fatalf("expected ErrMalformed, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("serve did not return")
	}
	select {
	case <-c.Done():
	default:
		t.Fatal("connection not closed")
	}
	if err := c.Send(protocol.Resign()); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestServeStopsOnHandlerError(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	c := NewConn(b)

	boom := errors.New("boom")
	done := make(chan error, 1)
	go func() {
		done <- c.Serve(func(protocol.Message) error { return boom })
	}()
	go a.Write([]byte("DRAW\n")) //nolint:errcheck

	select {
	case err := <-done:
		if !errors.Is(err, boom) {
			t.Fatalf("expected handler error, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("serve did not return")
	}
}

func TestAcceptOnlyOnePeer(t *testing.T) {
	ln, err := Listen("127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()

	accepted := make(chan *Conn, 1)
	go func() {
		c, err := ln.Accept(context.Background())
		if err != nil {
			t.Error(err)
		}
		accepted <- c
	}()

	first, err := Dial(context.Background(), addr, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	defer first.Close()
	hostSide := <-accepted
	defer hostSide.Close()

	second, err := Dial(context.Background(), addr, time.Second)
	if err == nil {
		second.Close()
		t.Fatal("second peer should not be able to connect")
	}
	var ce *ConnectionError
	if !errors.As(err, &ce) || ce.Op != "dial" {
		t.Fatalf("expected dial ConnectionError, got %v", err)
	}
}

func TestAcceptCancelled(t *testing.T) {
	ln, err := Listen("127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	_, err = ln.Accept(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	var ce *ConnectionError
	if !errors.As(err, &ce) || ce.Op != "accept" {
		t.Fatalf("expected accept ConnectionError, got %v", err)
	}
}

func TestDialRefused(t *testing.T) {
	ln, err := Listen("127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()

	_, err = Dial(context.Background(), addr, 500*time.Millisecond)
	var ce *ConnectionError
	if !errors.As(err, &ce) {
		t.Fatalf("expected ConnectionError, got %v", err)
	}
}

func TestDialTimeout(t *testing.T) {
	// TEST-NET-1 is never routed, so the connect attempt hangs until the
	// dialer gives up.
	start := time.Now()
	_, err := Dial(context.Background(), "192.0.2.1:5001", 50*time.Millisecond)
	elapsed := time.Since(start)

	var ce *ConnectionError
	if !errors.As(err, &ce) || ce.Op != "dial" {
		t.Fatalf("expected dial ConnectionError, got %v", err)
	}
	var ne net.Error
	if !errors.As(err, &ne) || !ne.Timeout() {
		t.Skipf("network rejected the address instead of timing out: %v", err)
	}
	if elapsed > 2*time.Second {
		t.Fatalf("dial took %v with a 50ms timeout", elapsed)
	}
}

func TestListenPortInUse(t *testing.T) {
	ln, err := Listen("127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	_, err = Listen(ln.Addr().String())
	var ce *ConnectionError
	if !errors.As(err, &ce) || ce.Op != "listen" {
		t.Fatalf("expected listen ConnectionError, got %v", err)
	}
}
