// Package client maintains one logical connection to the comment gateway
// over an unreliable WebSocket transport.
//
// A Session reconnects with exponential back-off up to a fixed number of
// attempts, samples transport readiness on a heartbeat, dispatches inbound
// envelopes to registered handlers and keeps a bounded, content-deduplicated
// history of received comments.
package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/comet-live/backend/internal/buffer"
	"github.com/comet-live/backend/internal/model"
)

var (
	// ErrReconnectExhausted is reported when every automatic reconnect attempt has failed.
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")

	// ErrSessionClosed is returned when a connect is superseded by Disconnect.
	ErrSessionClosed = errors.New("session closed")
)

// State is the lifecycle state of a Session.
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Timer is a cancellable scheduled callback.
type Timer interface {
	Stop() bool
}

// Scheduler runs f once after d.
type Scheduler func(d time.Duration, f func()) Timer

func afterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Handler receives inbound envelopes of one type.
type Handler func(env *model.Envelope)

// Options configures a Session. Zero values take the defaults below.
type Options struct {
	URL    string
	Dialer Dialer

	ReconnectBase        time.Duration // default 1s
	MaxReconnectAttempts int           // default 5
	HeartbeatInterval    time.Duration // default 5s
	SendTimeout          time.Duration // default 3s
	SendPollInterval     time.Duration // default 50ms
	HistorySize          int           // default 100

	Schedule Scheduler
	Now      func() time.Time
	NewID    func() string
	Logger   *zerolog.Logger
}

func (o Options) withDefaults() Options {
	if o.Dialer == nil {
		o.Dialer = NewWebSocketDialer(0)
	}
	if o.ReconnectBase <= 0 {
		o.ReconnectBase = time.Second
	}
	if o.MaxReconnectAttempts <= 0 {
		o.MaxReconnectAttempts = 5
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = 5 * time.Second
	}
	if o.SendTimeout <= 0 {
		o.SendTimeout = 3 * time.Second
	}
	if o.SendPollInterval <= 0 {
		o.SendPollInterval = 50 * time.Millisecond
	}
	if o.HistorySize <= 0 {
		o.HistorySize = buffer.DefaultHistorySize
	}
	if o.Schedule == nil {
		o.Schedule = afterFunc
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.NewID == nil {
		o.NewID = uuid.NewString
	}
	return o
}

// Backoff returns the delay before reconnect attempt n (1-based): base*2^(n-1).
func Backoff(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return base * time.Duration(1<<(attempt-1))
}

// Session is a client connection manager.
//
// Every transport connection belongs to a generation. Timers and read loops
// capture the generation they were started for and do nothing once it has
// been superseded, so a torn-down connection can never act on the session.
type Session struct {
	opts    Options
	log     zerolog.Logger
	history *buffer.History
	errs    chan error

	mu             sync.Mutex
	state          State
	connected      bool
	conn           Conn
	generation     uint64
	attempts       int
	stopped        bool
	reconnectTimer Timer
	heartbeatTimer Timer
	handlers       map[model.MessageType][]Handler

	writeMu sync.Mutex
}

// NewSession creates an idle Session.
func NewSession(opts Options) *Session {
	opts = opts.withDefaults()
	log := zerolog.Nop()
	if opts.Logger != nil {
		log = opts.Logger.With().Str("component", "client").Logger()
	}
	return &Session{
		opts:     opts,
		log:      log,
		history:  buffer.NewHistory(opts.HistorySize),
		errs:     make(chan error, 16),
		state:    StateIdle,
		handlers: make(map[model.MessageType][]Handler),
	}
}

// On registers h for inbound envelopes of type t.
func (s *Session) On(t model.MessageType, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[t] = append(s.handlers[t], h)
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Connected reports the session's connected signal.
// It goes false on any close and when a heartbeat finds the transport not open.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// History returns received comments, newest first.
func (s *Session) History() []model.Comment {
	return s.history.Items()
}

// Errors returns transport failures. Reports are dropped when nobody reads them.
func (s *Session) Errors() <-chan error {
	return s.errs
}

// Connect opens the transport. A failed connect is reported and retried
// automatically with back-off. Calling Connect on an open or connecting
// session is a no-op.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateOpen || s.state == StateConnecting {
		s.mu.Unlock()
		return nil
	}
	s.stopped = false
	s.attempts = 0
	stopTimer(&s.reconnectTimer)
	s.mu.Unlock()

	return s.dial(ctx)
}

// Reconnect drops any current connection and connects again with a fresh
// attempt budget. It is the manual retry after ErrReconnectExhausted.
func (s *Session) Reconnect(ctx context.Context) error {
	s.teardown()
	return s.Connect(ctx)
}

// Disconnect closes the transport and cancels every pending timer.
// No automatic reconnect follows.
func (s *Session) Disconnect() {
	s.teardown()
}

func (s *Session) teardown() {
	s.mu.Lock()
	s.stopped = true
	s.generation++
	stopTimer(&s.reconnectTimer)
	stopTimer(&s.heartbeatTimer)
	conn := s.conn
	s.conn = nil
	if s.state != StateIdle {
		s.state = StateClosed
	}
	s.connected = false
	s.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
}

func (s *Session) dial(ctx context.Context) error {
	s.mu.Lock()
	s.generation++
	gen := s.generation
	s.state = StateConnecting
	s.mu.Unlock()

	s.log.Debug().Str("url", s.opts.URL).Msg("connecting")
	conn, err := s.opts.Dialer.Dial(ctx, s.opts.URL)

	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.generation || s.stopped {
		if conn != nil {
			conn.Close()
		}
		return ErrSessionClosed
	}

	if err != nil {
		s.state = StateClosed
		s.connected = false
		err = fmt.Errorf("failed to connect to %s: %w", s.opts.URL, err)
		s.log.Warn().Err(err).Int("attempt", s.attempts).Msg("connect failed")
		s.report(err)
		s.scheduleReconnectLocked()
		return err
	}

	s.conn = conn
	s.state = StateOpen
	s.connected = true
	s.attempts = 0
	s.scheduleHeartbeatLocked(gen)
	go s.readLoop(gen, conn)

	s.log.Info().Str("url", s.opts.URL).Msg("connected")
	return nil
}

func (s *Session) scheduleReconnectLocked() {
	if s.stopped {
		return
	}
	if s.attempts >= s.opts.MaxReconnectAttempts {
		s.log.Error().Int("attempts", s.attempts).Msg("giving up reconnecting")
		s.report(ErrReconnectExhausted)
		return
	}

	s.attempts++
	delay := Backoff(s.opts.ReconnectBase, s.attempts)
	gen := s.generation
	s.log.Debug().Int("attempt", s.attempts).Dur("delay", delay).Msg("scheduling reconnect")

	s.reconnectTimer = s.opts.Schedule(delay, func() {
		s.mu.Lock()
		stale := gen != s.generation || s.stopped
		if !stale {
			s.reconnectTimer = nil
		}
		s.mu.Unlock()
		if stale {
			return
		}
		_ = s.dial(context.Background())
	})
}

func (s *Session) scheduleHeartbeatLocked(gen uint64) {
	s.heartbeatTimer = s.opts.Schedule(s.opts.HeartbeatInterval, func() {
		s.heartbeat(gen)
	})
}

func (s *Session) heartbeat(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.generation || s.state != StateOpen {
		return
	}
	if rs, ok := s.conn.(ReadyStater); ok && rs.ReadyState() != StateOpen {
		if s.connected {
			s.log.Warn().Msg("transport not open at heartbeat")
		}
		s.connected = false
	}
	s.scheduleHeartbeatLocked(gen)
}

func (s *Session) readLoop(gen uint64, conn Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			s.handleClose(gen, err)
			return
		}

		env, err := model.ParseEnvelope(data)
		if err != nil {
			s.log.Debug().Err(err).Msg("dropping malformed envelope")
			continue
		}
		s.dispatch(env)
	}
}

func (s *Session) handleClose(gen uint64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.generation {
		return
	}

	stopTimer(&s.heartbeatTimer)
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	s.state = StateClosed
	s.connected = false

	s.log.Warn().Err(err).Msg("connection closed")
	s.report(fmt.Errorf("connection closed: %w", err))
	s.scheduleReconnectLocked()
}

func (s *Session) dispatch(env *model.Envelope) {
	if env.Type == model.MessageTypeNewComment {
		var payload model.NewCommentPayload
		if err := env.DecodePayload(&payload); err != nil {
			s.log.Debug().Err(err).Msg("dropping malformed comment")
			return
		}
		s.history.Add(payload.Comment)
	}

	s.mu.Lock()
	handlers := append([]Handler(nil), s.handlers[env.Type]...)
	s.mu.Unlock()

	for _, h := range handlers {
		h(env)
	}
}

// Send wraps payload in an envelope of type t and writes it.
// While the transport is connecting, Send waits up to the send timeout for
// it to open. It reports false when the envelope was not written.
func (s *Session) Send(ctx context.Context, t model.MessageType, payload any) bool {
	conn, ok := s.waitOpen(ctx)
	if !ok {
		return false
	}

	env, err := model.NewEnvelope(t, payload, s.opts.Now())
	if err != nil {
		s.log.Error().Err(err).Str("type", string(t)).Msg("failed to build envelope")
		return false
	}
	data, err := env.Marshal()
	if err != nil {
		s.log.Error().Err(err).Str("type", string(t)).Msg("failed to marshal envelope")
		return false
	}

	s.writeMu.Lock()
	err = conn.WriteMessage(websocket.TextMessage, data)
	s.writeMu.Unlock()
	if err != nil {
		s.log.Warn().Err(err).Str("type", string(t)).Msg("failed to send")
		s.report(fmt.Errorf("failed to send %s: %w", t, err))
		return false
	}
	return true
}

// SendComment sends c with a fresh id and timestamp.
func (s *Session) SendComment(ctx context.Context, c model.Comment) bool {
	c.ID = s.opts.NewID()
	c.Timestamp = s.opts.Now().UnixMilli()
	c.Style = c.Style.WithDefaults()
	return s.Send(ctx, model.MessageTypeNewComment, model.NewCommentPayload{Comment: c})
}

// SendStamp sends m with a fresh id and timestamp.
func (s *Session) SendStamp(ctx context.Context, m model.StampMessage) bool {
	m.ID = s.opts.NewID()
	m.Timestamp = s.opts.Now().UnixMilli()
	return s.Send(ctx, model.MessageTypeNewStamp, model.NewStampPayload{Stamp: m})
}

// SendPing sends a ping; the gateway answers with a pong to this session only.
func (s *Session) SendPing(ctx context.Context) bool {
	return s.Send(ctx, model.MessageTypePing, nil)
}

func (s *Session) waitOpen(ctx context.Context) (Conn, bool) {
	deadline := time.Now().Add(s.opts.SendTimeout)
	for {
		s.mu.Lock()
		state, conn := s.state, s.conn
		s.mu.Unlock()

		switch state {
		case StateOpen:
			return conn, conn != nil
		case StateConnecting:
		default:
			return nil, false
		}

		if !time.Now().Before(deadline) {
			return nil, false
		}
		select {
		case <-ctx.Done():
			return nil, false
		case <-time.After(s.opts.SendPollInterval):
		}
	}
}

// report publishes err on the error channel without blocking.
func (s *Session) report(err error) {
	select {
	case s.errs <- err:
	default:
	}
}

func stopTimer(t *Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}
