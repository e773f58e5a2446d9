package client

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

var errRefused = errors.New("connection refused")

// fakeScheduler records timers instead of running them; tests fire them by hand.
type fakeScheduler struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

type fakeTimer struct {
	s       *fakeScheduler
	delay   time.Duration
	fn      func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	wasPending := !t.stopped && !t.fired
	t.stopped = true
	return wasPending
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{}
}

func (s *fakeScheduler) schedule(d time.Duration, f func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &fakeTimer{s: s, delay: d, fn: f}
	s.timers = append(s.timers, t)
	return t
}

func (s *fakeScheduler) pending() []*fakeTimer {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*fakeTimer
	for _, t := range s.timers {
		if !t.stopped && !t.fired {
			out = append(out, t)
		}
	}
	return out
}

// fire runs the oldest pending timer scheduled with delay d.
func (s *fakeScheduler) fire(t *testing.T, d time.Duration) {
	t.Helper()
	s.mu.Lock()
	var target *fakeTimer
	for _, tm := range s.timers {
		if !tm.stopped && !tm.fired && tm.delay == d {
			target = tm
			break
		}
	}
	if target != nil {
		target.fired = true
	}
	s.mu.Unlock()

	if target == nil {
		t.Fatalf("no pending timer with delay %v", d)
	}
	target.fn()
}

// fakeConn is an in-memory transport connection.
type fakeConn struct {
	in       chan []byte
	done     chan struct{}
	once     sync.Once
	mu       sync.Mutex
	written  [][]byte
	ready    State
	writeErr error
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:    make(chan []byte, 16),
		done:  make(chan struct{}),
		ready: StateOpen,
	}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case data := <-c.in:
		return 1, data, nil
	case <-c.done:
		return 0, nil, errors.New("use of closed connection")
	}
}

func (c *fakeConn) WriteMessage(_ int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return c.writeErr
	}
	c.written = append(c.written, data)
	return nil
}

func (c *fakeConn) Close() error {
	c.once.Do(func() {
		c.mu.Lock()
		c.ready = StateClosed
		c.mu.Unlock()
		close(c.done)
	})
	return nil
}

func (c *fakeConn) ReadyState() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ready
}

func (c *fakeConn) setReady(s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ready = s
}

func (c *fakeConn) frames() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.written...)
}

// fakeDialer hands out queued connections, then fails.
type fakeDialer struct {
	mu    sync.Mutex
	calls int
	conns []*fakeConn
	block chan struct{}
}

func (d *fakeDialer) Dial(ctx context.Context, _ string) (Conn, error) {
	d.mu.Lock()
	d.calls++
	var conn *fakeConn
	if len(d.conns) > 0 {
		conn, d.conns = d.conns[0], d.conns[1:]
	}
	block := d.block
	d.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if conn == nil {
		return nil, errRefused
	}
	return conn, nil
}

func (d *fakeDialer) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
