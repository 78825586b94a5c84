// Package session runs one device connection: it dials the transport,
// decodes inbound frames on a background loop, correlates replies to the
// single outstanding request, and reconnects on a health-check tick.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"homewire/internal/transport"
)

const (
	defaultReplyTimeout   = 5 * time.Second
	defaultHealthInterval = 60 * time.Second
	defaultConnectTimeout = 10 * time.Second
	defaultHandshake      = 30 * time.Second
)

// Option configures a Session.
type Option func(*Session)

// WithReplyTimeout sets the timeout used when SendAndAwaitReply is called
// with a zero timeout.
func WithReplyTimeout(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.replyTimeout = d
		}
	}
}

// WithHealthInterval sets how often an offline session retries.
func WithHealthInterval(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.healthInterval = d
		}
	}
}

// WithConnectTimeout bounds a single dial.
func WithConnectTimeout(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.connectTimeout = d
		}
	}
}

// WithTap registers a function that sees every raw frame in both directions.
func WithTap(fn func(Direction, []byte)) Option {
	return func(s *Session) { s.tap = fn }
}

// WithMessageHandler registers a message listener before the first connect,
// so messages answering the handshake are not missed.
func WithMessageHandler(fn func(Message)) Option {
	return func(s *Session) { s.onMessage = append(s.onMessage, fn) }
}

// WithStateHandler registers a state listener before the first connect.
func WithStateHandler(fn func(State, error)) Option {
	return func(s *Session) { s.onStateChange = append(s.onStateChange, fn) }
}

// exchange is the in-flight state of one SendAndAwaitReply call.
type exchange struct {
	seq    uint8
	sentAt time.Time
	done   chan struct{}
	reply  Reply
	err    error
}

// link is one connection instance. Each has its own read loop.
type link struct {
	conn transport.Conn
}

// Session is a transport session for one device.
type Session struct {
	proto  Protocol
	dial   transport.Dialer
	logger *slog.Logger
	tap    func(Direction, []byte)

	replyTimeout   time.Duration
	healthInterval time.Duration
	connectTimeout time.Duration

	// mu guards everything below it.
	mu        sync.Mutex
	link      *link
	seq       uint8
	pending   *exchange
	state     State
	lastErr   error
	closed    bool
	connected bool // at least one connect succeeded
	stats     Stats

	// slot admits one SendAndAwaitReply at a time.
	slot chan struct{}

	handlerMu     sync.RWMutex
	onMessage     []func(Message)
	onStateChange []func(State, error)

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// Open creates a session and makes the first connection attempt. A failed
// attempt is not an error: the session stays Offline and retries on the
// health-check tick.
func Open(ctx context.Context, proto Protocol, dial transport.Dialer, logger *slog.Logger, opts ...Option) (*Session, error) {
	if proto == nil || dial == nil {
		return nil, fmt.Errorf("session: protocol and dialer are required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Session{
		proto:          proto,
		dial:           dial,
		logger:         logger,
		replyTimeout:   defaultReplyTimeout,
		healthInterval: defaultHealthInterval,
		connectTimeout: defaultConnectTimeout,
		slot:           make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	if err := s.connect(ctx); err != nil {
		s.logger.Warn("initial connect failed, will retry", "protocol", proto.Name(), "err", err, "retry_in", s.healthInterval)
	}

	s.wg.Add(1)
	go s.healthLoop()
	return s, nil
}

// OnMessage registers a listener for unsolicited messages. Listeners run on
// the receive loop and must not call Close.
func (s *Session) OnMessage(fn func(Message)) {
	s.handlerMu.Lock()
	s.onMessage = append(s.onMessage, fn)
	s.handlerMu.Unlock()
}

// OnStateChange registers a listener for state transitions. err is the
// cause of an Offline transition.
func (s *Session) OnStateChange(fn func(State, error)) {
	s.handlerMu.Lock()
	s.onStateChange = append(s.onStateChange, fn)
	s.handlerMu.Unlock()
}

// State returns the current connection state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Stats returns a snapshot of the session counters.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stats
	st.State = s.state
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	return st
}

// Protocol returns the protocol the session speaks.
func (s *Session) Protocol() Protocol { return s.proto }

// SendCommand writes cmd without a sequence number and returns once the
// bytes are on the wire. It fails with ErrOffline unless the session is
// Online.
func (s *Session) SendCommand(cmd Command) error {
	return s.sendCommand(nil, cmd)
}

// SendAndAwaitReply tags cmd with the next sequence number, writes it and
// blocks until the matching reply arrives, timeout elapses, ctx is done or
// the session is closed. Only one call is in flight at a time; others wait
// for the slot. A timeout takes the session offline. Calls made before the
// session is Online fail with ErrOffline.
func (s *Session) SendAndAwaitReply(ctx context.Context, cmd Command, timeout time.Duration) (Reply, error) {
	return s.sendAndAwait(ctx, nil, cmd, timeout)
}

// handshakeConv is the Conversation a protocol handshake runs on. It may
// send while the session is Connecting, but only on the link being set up.
type handshakeConv struct {
	s *Session
	l *link
}

func (c handshakeConv) SendCommand(cmd Command) error { return c.s.sendCommand(c.l, cmd) }

func (c handshakeConv) SendAndAwaitReply(ctx context.Context, cmd Command, timeout time.Duration) (Reply, error) {
	return c.s.sendAndAwait(ctx, c.l, cmd, timeout)
}

// usableLocked checks that a send may go out. A nil via means a regular
// caller, which needs an Online session. Caller holds mu.
func (s *Session) usableLocked(via *link) error {
	if s.closed {
		return ErrClosed
	}
	if via == nil {
		if s.state != Online || s.link == nil {
			return ErrOffline
		}
		return nil
	}
	if s.link != via {
		return fmt.Errorf("%w: connection lost during handshake", ErrConnection)
	}
	return nil
}

func (s *Session) sendCommand(via *link, cmd Command) error {
	raw, err := cmd.Marshal(0)
	if err != nil {
		return fmt.Errorf("session: encode: %w", err)
	}

	s.mu.Lock()
	if err := s.usableLocked(via); err != nil {
		s.mu.Unlock()
		return err
	}
	if err := s.writeLocked(raw); err != nil {
		changed := errors.Is(err, ErrConnection) && s.markOfflineLocked(err)
		s.mu.Unlock()
		if changed {
			s.notifyState(Offline, err)
		}
		return err
	}
	s.mu.Unlock()

	s.logger.Debug("frame sent", "len", len(raw))
	s.tapFrame(Outbound, raw)
	return nil
}

func (s *Session) sendAndAwait(ctx context.Context, via *link, cmd Command, timeout time.Duration) (Reply, error) {
	if timeout <= 0 {
		timeout = s.replyTimeout
	}

	select {
	case s.slot <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.done():
		return nil, ErrClosed
	}
	defer func() { <-s.slot }()

	s.mu.Lock()
	if err := s.usableLocked(via); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	seq := s.nextSeqLocked()
	raw, err := cmd.Marshal(seq)
	if err != nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("session: encode: %w", err)
	}
	ex := &exchange{seq: seq, sentAt: time.Now(), done: make(chan struct{})}
	s.pending = ex
	if err := s.writeLocked(raw); err != nil {
		s.pending = nil
		changed := errors.Is(err, ErrConnection) && s.markOfflineLocked(err)
		s.mu.Unlock()
		if changed {
			s.notifyState(Offline, err)
		}
		return nil, err
	}
	s.mu.Unlock()

	s.logger.Debug("request sent", "seq", seq, "len", len(raw))
	s.tapFrame(Outbound, raw)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ex.done:
		return ex.reply, ex.err
	case <-timer.C:
		s.mu.Lock()
		if s.pending != ex {
			// Resolved while the timer fired.
			s.mu.Unlock()
			<-ex.done
			return ex.reply, ex.err
		}
		s.pending = nil
		s.stats.Timeouts++
		cause := fmt.Errorf("%w: seq %d after %s", ErrTimeout, seq, timeout)
		changed := s.markOfflineLocked(cause)
		s.mu.Unlock()
		s.logger.Warn("reply timeout", "seq", seq, "timeout", timeout)
		if changed {
			s.notifyState(Offline, cause)
		}
		return nil, cause
	case <-ctx.Done():
		s.mu.Lock()
		if s.pending == ex {
			s.pending = nil
			s.mu.Unlock()
			return nil, ctx.Err()
		}
		s.mu.Unlock()
		<-ex.done
		return ex.reply, ex.err
	}
}

// Close stops the session, closes the connection and fails any waiting
// request with ErrClosed. It is safe to call more than once.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.cancel()

		s.mu.Lock()
		s.closed = true
		if s.pending != nil {
			s.resolveLocked(nil, ErrClosed)
		}
		if s.link != nil {
			err = s.link.conn.Close()
			s.link = nil
		}
		prev := s.state
		s.state = Disconnected
		s.mu.Unlock()

		s.wg.Wait()
		if prev != Disconnected {
			s.notifyState(Disconnected, nil)
		}
	})
	return err
}

func (s *Session) done() <-chan struct{} { return s.ctx.Done() }

// nextSeqLocked advances the sequence counter, wrapping 255 to 1.
func (s *Session) nextSeqLocked() uint8 {
	s.seq++
	if s.seq == 0 {
		s.seq = 1
	}
	return s.seq
}

// writeLocked writes raw on the current connection. Caller holds mu.
func (s *Session) writeLocked(raw []byte) error {
	if s.closed {
		return ErrClosed
	}
	if s.link == nil {
		return ErrOffline
	}
	if _, err := s.link.conn.Write(raw); err != nil {
		return fmt.Errorf("%w: write: %w", ErrConnection, err)
	}
	s.stats.FramesSent++
	s.stats.LastActivity = time.Now()
	return nil
}

// resolveLocked completes the pending exchange. Caller holds mu.
func (s *Session) resolveLocked(r Reply, err error) {
	ex := s.pending
	s.pending = nil
	ex.reply = r
	ex.err = err
	close(ex.done)
}

// markOfflineLocked drops the current connection and moves to Offline.
// It reports whether the state changed so the caller can notify after
// unlocking.
func (s *Session) markOfflineLocked(cause error) bool {
	if s.closed || s.state == Offline || s.state == Disconnected {
		return false
	}
	if s.link != nil {
		s.link.conn.Close()
		s.link = nil
	}
	if s.pending != nil {
		s.resolveLocked(nil, cause)
	}
	s.state = Offline
	s.lastErr = cause
	return true
}

// connect dials, starts the receive loop for the new connection and runs
// the protocol handshake.
func (s *Session) connect(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.state == Online || s.state == Connecting {
		s.mu.Unlock()
		return nil
	}
	s.state = Connecting
	s.mu.Unlock()
	s.notifyState(Connecting, nil)

	dctx, cancel := context.WithTimeout(ctx, s.connectTimeout)
	conn, err := s.dial(dctx)
	cancel()
	if err != nil {
		return s.fail(fmt.Errorf("%w: dial: %w", ErrConnection, err))
	}

	l := &link{conn: conn}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		conn.Close()
		return ErrClosed
	}
	s.link = l
	s.wg.Add(1)
	s.mu.Unlock()
	go s.readLoop(l)

	hctx, cancel := context.WithTimeout(ctx, defaultHandshake)
	err = s.proto.Handshake(hctx, handshakeConv{s: s, l: l})
	cancel()
	if err != nil {
		return s.fail(fmt.Errorf("%s handshake: %w", s.proto.Name(), err))
	}

	s.mu.Lock()
	if s.link != l || s.state != Connecting {
		s.mu.Unlock()
		return fmt.Errorf("%w: connection lost during handshake", ErrConnection)
	}
	s.state = Online
	s.lastErr = nil
	if s.connected {
		s.stats.Reconnects++
	}
	s.connected = true
	s.mu.Unlock()

	s.logger.Info("session online", "protocol", s.proto.Name())
	s.notifyState(Online, nil)
	return nil
}

// fail moves a connecting session offline and returns cause.
func (s *Session) fail(cause error) error {
	s.mu.Lock()
	changed := s.markOfflineLocked(cause)
	s.mu.Unlock()
	if changed {
		s.notifyState(Offline, cause)
	}
	return cause
}

func (s *Session) healthLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.healthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			st := s.State()
			if st == Online || st == Connecting {
				continue
			}
			s.logger.Info("reconnecting", "protocol", s.proto.Name(), "state", st)
			if err := s.connect(s.ctx); err != nil {
				s.logger.Warn("reconnect failed", "err", err)
			}
		}
	}
}

func (s *Session) readLoop(l *link) {
	defer s.wg.Done()

	for {
		raw, err := l.conn.ReadFrame()
		if err != nil {
			s.mu.Lock()
			if s.link != l {
				// Replaced or closed on purpose.
				s.mu.Unlock()
				return
			}
			cause := fmt.Errorf("%w: read: %w", ErrConnection, err)
			changed := s.markOfflineLocked(cause)
			s.mu.Unlock()
			s.logger.Error("read failed", "err", err)
			if changed {
				s.notifyState(Offline, cause)
			}
			return
		}
		s.handleFrame(raw)
	}
}

func (s *Session) handleFrame(raw []byte) {
	s.mu.Lock()
	s.stats.FramesReceived++
	s.stats.LastActivity = time.Now()
	s.mu.Unlock()

	s.tapFrame(Inbound, raw)

	msg, err := s.proto.Decode(raw)
	if err != nil {
		s.mu.Lock()
		s.stats.FramesDropped++
		s.mu.Unlock()
		s.logger.Warn("dropping frame", "err", err, "raw", fmt.Sprintf("%X", raw))
		return
	}

	if r, ok := msg.(Reply); ok {
		s.mu.Lock()
		ex := s.pending
		if ex != nil && ex.seq == r.Sequence() {
			s.resolveLocked(r, nil)
			s.mu.Unlock()
			s.logger.Debug("reply received", "seq", r.Sequence(), "rtt", time.Since(ex.sentAt), "msg", msg)
			return
		}
		s.stats.FramesDropped++
		s.mu.Unlock()
		if ex != nil {
			s.logger.Warn("stale reply discarded", "seq", r.Sequence(), "want", ex.seq, "msg", msg)
		} else {
			s.logger.Warn("orphaned reply (too late)", "seq", r.Sequence(), "msg", msg)
		}
		return
	}

	s.logger.Debug("message received", "msg", msg)
	s.dispatch(msg)
}

func (s *Session) dispatch(msg Message) {
	s.handlerMu.RLock()
	handlers := s.onMessage
	s.handlerMu.RUnlock()

	for _, h := range handlers {
		s.safeCall(func() { h(msg) })
	}
}

func (s *Session) notifyState(st State, err error) {
	s.handlerMu.RLock()
	handlers := s.onStateChange
	s.handlerMu.RUnlock()

	for _, h := range handlers {
		s.safeCall(func() { h(st, err) })
	}
}

func (s *Session) tapFrame(d Direction, raw []byte) {
	if s.tap != nil {
		s.safeCall(func() { s.tap(d, raw) })
	}
}

func (s *Session) safeCall(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("listener panic", "panic", r)
		}
	}()
	fn()
}
