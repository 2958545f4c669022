package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/rickgao/livewire/internal/backoff"
	"github.com/rickgao/livewire/internal/frame"
	"github.com/rickgao/livewire/internal/heartbeat"
	"github.com/rickgao/livewire/internal/metrics"
	"github.com/rickgao/livewire/internal/pending"
)

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithDialer replaces the WebSocket dialer.
func WithDialer(d Dialer) Option {
	return func(m *Manager) {
		if d != nil {
			m.dialer = d
		}
	}
}

// WithCredentials attaches handshake credentials.
func WithCredentials(c Credentials) Option {
	return func(m *Manager) {
		m.creds = c
	}
}

// WithMetrics attaches channel metrics.
func WithMetrics(c *metrics.Channel) Option {
	return func(m *Manager) {
		m.metrics = c
	}
}

// session is one socket between a successful dial and its drop.
type session struct {
	gen  uint64
	sock Socket
	hb   *heartbeat.Monitor
}

// Manager owns one logical channel to the peer. It is safe for concurrent
// use. Callbacks and subscribers never run while internal locks are held,
// so they may call back into the Manager.
type Manager struct {
	cfg     ChannelConfig
	id      string
	dialer  Dialer
	creds   Credentials
	logger  *slog.Logger
	metrics *metrics.Channel

	ids    *frame.IDGenerator
	table  *pending.Table
	sched  backoff.Scheduler
	events *emitter

	// Lifetime of dials; cancelled by Close.
	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	state      State
	gen        uint64 // Bumped on every attempt, drop and close
	sess       *session
	failures   int // Failed or dropped attempts in the current cycle
	retryTimer *time.Timer

	framesSent     atomic.Int64
	framesReceived atomic.Int64
	reconnects     atomic.Int64
}

// NewManager creates a Manager in the Disconnected state. Close must be
// called to release it.
func NewManager(cfg ChannelConfig, opts ...Option) *Manager {
	if cfg.HeartbeatStaleFactor <= 0 {
		cfg.HeartbeatStaleFactor = DefaultChannelConfig().HeartbeatStaleFactor
	}

	m := &Manager{
		cfg:    cfg,
		id:     uuid.NewString(),
		logger: slog.Default(),
		ids:    frame.NewIDGenerator(),
		table:  pending.NewTable(),
		sched: backoff.Scheduler{
			BaseDelay:   cfg.ReconnectBaseDelay,
			MaxDelay:    cfg.ReconnectMaxDelay,
			MaxAttempts: cfg.MaxReconnectAttempts,
		},
		state: StateDisconnected,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.dialer == nil {
		m.dialer = NewWebSocketDialer(cfg)
	}

	m.logger = m.logger.With("channel_id", m.id)
	m.events = newEmitter(m.logger)
	m.ctx, m.cancel = context.WithCancel(context.Background())
	m.metrics.BindPending(m.table.Len)

	return m
}

// ID returns the channel's unique id.
func (m *Manager) ID() string {
	return m.id
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Done is closed after the final close event has been delivered.
func (m *Manager) Done() <-chan struct{} {
	return m.events.done
}

// Stats returns current statistics.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	state := m.state
	attempts := m.failures
	m.mu.Unlock()

	return Stats{
		State:          state,
		Pending:        m.table.Len(),
		Attempts:       attempts,
		FramesSent:     m.framesSent.Load(),
		FramesReceived: m.framesReceived.Load(),
		Reconnects:     m.reconnects.Load(),
	}
}

// Connect starts connecting. It never blocks and never fails directly:
// progress and failures surface through the statusChange, open and error
// events. It only acts from Disconnected, including after reconnect
// attempts were exhausted.
func (m *Manager) Connect() {
	m.mu.Lock()
	if m.state != StateDisconnected {
		state := m.state
		m.mu.Unlock()
		m.logger.Debug("connect ignored", "state", state)
		return
	}
	m.failures = 0
	gen := m.beginAttemptLocked()
	m.mu.Unlock()

	go m.dial(gen)
}

// Send transmits a frame. It returns the correlation id assigned to the
// frame, or "" for fire-and-forget frames.
//
// While not connected, a frame with AwaitsResponse and a Callback is
// queued for transmission on the next connect; anything else is dropped
// with ErrNotConnected. After Close every call returns ErrClosed. A raw
// payload that is not valid JSON fails with a protocol error before
// anything is registered.
func (m *Manager) Send(out frame.Outbound, opts SendOptions) (string, error) {
	if out.Type == "" {
		return "", ErrMissingType
	}

	m.mu.Lock()
	if m.state == StateClosed {
		m.mu.Unlock()
		return "", ErrClosed
	}

	connected := m.state == StateConnected
	queueable := opts.AwaitsResponse && opts.Callback != nil
	if !connected && !queueable {
		m.mu.Unlock()
		return "", ErrNotConnected
	}

	id := ""
	if opts.AwaitsResponse || opts.Callback != nil {
		id = m.ids.Next()
	}

	f, err := frame.Build(out, id, time.Now())
	if err != nil {
		m.mu.Unlock()
		return "", &Error{Kind: KindProtocol, Err: fmt.Errorf("build frame: %w", err)}
	}

	// Register before transmitting so a fast response always finds its entry.
	if opts.Callback != nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = m.cfg.RequestTimeout
		}
		if err := m.table.Register(id, f, m.wrapCallback(opts.Callback), timeout); err != nil {
			m.mu.Unlock()
			return "", err
		}
	}

	sess := m.sess
	m.mu.Unlock()

	if !connected {
		m.logger.Debug("queued request until connected", "id", id, "type", f.Type)
		return id, nil
	}

	if err := m.transmit(sess, f); err != nil {
		if opts.Callback == nil {
			return "", err
		}
		if isProtocol(err) {
			m.table.TimeoutOne(id, err)
		}
		// Transport failures stay pending and are resent after reconnect.
		return id, nil
	}
	return id, nil
}

// Request sends a frame and blocks until its response, its timeout, Close,
// or ctx is done. A zero timeout uses the configured request timeout.
func (m *Manager) Request(ctx context.Context, out frame.Outbound, timeout time.Duration) (frame.Frame, error) {
	resultCh := make(chan Result, 1)

	id, err := m.Send(out, SendOptions{
		AwaitsResponse: true,
		Timeout:        timeout,
		Callback: func(r Result) {
			resultCh <- r
		},
	})
	if err != nil {
		return frame.Frame{}, err
	}

	select {
	case r := <-resultCh:
		if r.Err != nil {
			return frame.Frame{}, r.Err
		}
		return r.Frame, nil
	case <-ctx.Done():
		// Drop the entry so it is not resent; the callback still fires once
		// into the buffered channel.
		m.table.TimeoutOne(id, ctx.Err())
		return frame.Frame{}, ctx.Err()
	}
}

// Close moves the channel to the terminal Closed state. Every pending
// request fails with a closed error before Close returns, and no event is
// delivered after the close event emitted here. Calling Close again is a
// no-op.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.state == StateClosed {
		m.mu.Unlock()
		return
	}

	m.state = StateClosed
	m.gen++
	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
	}
	sess := m.sess
	m.sess = nil
	m.cancel()

	m.events.emit(EventStatusChange, StatusClosed)
	m.events.emit(EventClose, CloseInfo{Code: CloseNormal, Reason: "closed by client", Clean: true})
	m.events.seal()
	m.mu.Unlock()

	if sess != nil {
		sess.hb.Stop()
	}

	failed := m.table.TimeoutAll(pending.ErrChannelClosed)

	if sess != nil {
		if err := sess.sock.Close(); err != nil {
			m.logger.Debug("socket close error", "error", err)
		}
	}

	m.logger.Info("channel closed", "failed_requests", failed)
}

// beginAttemptLocked moves to Connecting and returns the attempt's
// generation. Must be called with mu held.
func (m *Manager) beginAttemptLocked() uint64 {
	m.gen++
	m.state = StateConnecting
	m.events.emit(EventStatusChange, StatusConnecting)
	return m.gen
}

// dial opens a socket for attempt gen and installs it if the attempt is
// still current.
func (m *Manager) dial(gen uint64) {
	m.logger.Debug("dialing", "url", m.cfg.URL, "attempt", m.Stats().Attempts+1)

	sock, err := m.open()

	m.mu.Lock()
	if gen != m.gen || m.state != StateConnecting {
		// Superseded by Close; discard the socket.
		m.mu.Unlock()
		if sock != nil {
			sock.Close()
		}
		return
	}

	if err != nil {
		m.logger.Warn("connection attempt failed", "url", m.cfg.URL, "error", err)
		m.events.emit(EventError, &Error{Kind: KindTransport, Err: err})
		m.events.emit(EventStatusChange, StatusError)
		m.failures++
		m.scheduleRetryLocked()
		m.mu.Unlock()
		return
	}

	sess := &session{gen: gen, sock: sock}
	sess.hb = heartbeat.New(
		heartbeat.Config{
			Interval:    m.cfg.HeartbeatInterval,
			StaleFactor: m.cfg.HeartbeatStaleFactor,
		},
		func(f frame.Frame) {
			// Failures surface through the read loop.
			m.transmit(sess, f)
		},
		func(time.Time) {
			m.metrics.Stale()
			m.drop(sess, CloseInfo{Code: CloseStale, Reason: "heartbeat stale"}, ErrStaleConnection)
		},
		m.logger,
	)

	m.sess = sess
	m.state = StateConnected
	m.failures = 0
	m.events.emit(EventStatusChange, StatusConnected)
	m.events.emit(EventOpen, nil)
	sess.hb.Start()

	// Snapshot under the lock: anything registered later sees Connected and
	// transmits itself.
	resend := m.table.PendingFrames()
	m.mu.Unlock()

	m.logger.Info("connected", "url", m.cfg.URL, "resend", len(resend))

	go m.readLoop(sess)

	for _, f := range resend {
		err := m.transmit(sess, f)
		if err == nil {
			continue
		}
		if !isProtocol(err) {
			// The session is gone; the next connect resends the rest.
			break
		}
		m.logger.Warn("dropping unencodable request", "id", f.ID, "type", f.Type, "error", err)
		m.table.TimeoutOne(f.ID, err)
	}
}

// open dials with fresh credentials.
func (m *Manager) open() (Socket, error) {
	var header http.Header
	if m.creds != nil {
		h, err := m.creds.Header(m.cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("credentials: %w", err)
		}
		header = h
	}
	return m.dialer.Dial(m.ctx, m.cfg.URL, header)
}

// scheduleRetryLocked decides between another attempt and giving up after
// a failure. Must be called with mu held.
func (m *Manager) scheduleRetryLocked() {
	next := m.failures + 1
	if !m.sched.ShouldRetry(next) {
		m.state = StateDisconnected
		m.events.emit(EventStatusChange, StatusDisconnected)
		m.logger.Error("reconnect attempts exhausted",
			"attempts", m.failures,
			"max", m.cfg.MaxReconnectAttempts,
		)
		return
	}

	delay := m.sched.DelayFor(m.failures)
	m.state = StateReconnecting
	m.events.emit(EventStatusChange, StatusReconnecting)
	m.reconnects.Add(1)
	m.metrics.Reconnect()

	gen := m.gen
	m.retryTimer = time.AfterFunc(delay, func() {
		m.retry(gen)
	})

	m.logger.Info("reconnect scheduled", "attempt", next, "delay", delay)
}

// retry fires when the backoff timer expires.
func (m *Manager) retry(gen uint64) {
	m.mu.Lock()
	if gen != m.gen || m.state != StateReconnecting {
		m.mu.Unlock()
		return
	}
	m.retryTimer = nil
	gen = m.beginAttemptLocked()
	m.mu.Unlock()

	m.dial(gen)
}

// drop handles the unclean loss of an established session. Pending
// requests are kept for resend.
func (m *Manager) drop(sess *session, info CloseInfo, cause error) {
	m.mu.Lock()
	if sess.gen != m.gen || m.state != StateConnected {
		m.mu.Unlock()
		return
	}

	m.gen++
	m.sess = nil
	m.failures = 1

	m.events.emit(EventClose, info)
	m.events.emit(EventError, &Error{Kind: KindTransport, Err: cause})
	m.events.emit(EventStatusChange, StatusError)
	m.scheduleRetryLocked()
	m.mu.Unlock()

	m.logger.Warn("connection lost",
		"code", info.Code,
		"reason", info.Reason,
		"error", cause,
	)

	sess.hb.Stop()
	sess.sock.Close()
}

// readLoop delivers inbound messages of one session in socket order.
func (m *Manager) readLoop(sess *session) {
	for {
		data, err := sess.sock.ReadMessage()
		if err != nil {
			m.drop(sess, closeInfoFromError(err), err)
			return
		}
		if !m.handleInbound(sess, data) {
			return
		}
	}
}

// handleInbound dispatches one message. It returns false once the session
// is no longer current.
func (m *Manager) handleInbound(sess *session, data []byte) bool {
	if !m.isCurrent(sess) {
		return false
	}

	sess.hb.Touch()
	m.framesReceived.Add(1)
	m.metrics.FrameReceived()

	f, err := frame.Decode(data)
	if err != nil {
		m.metrics.ProtocolError()
		m.logger.Warn("discarding malformed frame", "error", err, "size", len(data))
		m.emitIfCurrent(sess, EventError, &Error{Kind: KindProtocol, Err: err, Raw: data})
		return true
	}

	switch f.Kind() {
	case frame.KindHeartbeat:
		// Liveness only.
	case frame.KindCorrelated:
		if !m.table.Resolve(f.ID, f) {
			m.logger.Debug("dropping response for unknown id", "id", f.ID, "type", f.Type)
		}
	default:
		m.emitIfCurrent(sess, EventMessage, f)
	}
	return true
}

// transmit encodes and writes one frame on sess.
func (m *Manager) transmit(sess *session, f frame.Frame) error {
	data, err := frame.Encode(f)
	if err != nil {
		return &Error{Kind: KindProtocol, Err: fmt.Errorf("encode frame: %w", err)}
	}
	if err := sess.sock.WriteMessage(data); err != nil {
		m.drop(sess, CloseInfo{Code: CloseAbnormal, Reason: "write failed"}, err)
		return &Error{Kind: KindTransport, Err: err}
	}
	m.framesSent.Add(1)
	m.metrics.FrameSent()
	return nil
}

func (m *Manager) isCurrent(sess *session) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return sess.gen == m.gen && m.state == StateConnected
}

func (m *Manager) emitIfCurrent(sess *session, event Event, arg any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sess.gen == m.gen && m.state == StateConnected {
		m.events.emit(event, arg)
	}
}

func isProtocol(err error) bool {
	var ce *Error
	return errors.As(err, &ce) && ce.Kind == KindProtocol
}

// wrapCallback adapts a caller callback to the pending table, classifying
// failures and isolating panics.
func (m *Manager) wrapCallback(cb func(Result)) pending.Callback {
	return func(r pending.Result) {
		res := Result{Frame: r.Frame}
		switch {
		case r.Err == nil:
			m.metrics.RoundTrip(r.SentAt)
		case errors.Is(r.Err, pending.ErrRequestTimeout):
			m.metrics.Timeout()
			res.Err = &Error{Kind: KindTimeout, Err: r.Err}
		case errors.Is(r.Err, pending.ErrChannelClosed):
			res.Err = &Error{Kind: KindClosed, Err: r.Err}
		case errors.Is(r.Err, context.DeadlineExceeded):
			res.Err = &Error{Kind: KindTimeout, Err: r.Err}
		case errors.Is(r.Err, context.Canceled):
			res.Err = &Error{Kind: KindCanceled, Err: r.Err}
		default:
			var ce *Error
			if errors.As(r.Err, &ce) {
				res.Err = ce
			} else {
				res.Err = &Error{Kind: KindTransport, Err: r.Err}
			}
		}

		defer func() {
			if p := recover(); p != nil {
				m.logger.Error("request callback panicked", "panic", p)
			}
		}()
		cb(res)
	}
}
