// Package socket keeps a single WebSocket connection to the hub alive.
//
// A Socket dials on demand, retries transient failures forever at a fixed
// delay, and reconnects by itself after an unsolicited drop. A heartbeat of
// WebSocket ping frames detects half-open connections: after too many
// unanswered pings the transport is closed and the normal reconnect path
// takes over.
//
// Listeners are notified on connect, on disconnect and for every inbound
// frame. The message listener runs on the read goroutine, so frames are
// delivered in arrival order.
package socket

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// Defaults and heartbeat thresholds.
const (
	// DefaultRetryDelay is the fixed delay between dial attempts.
	DefaultRetryDelay = time.Second

	// DefaultHandshakeTimeout bounds a single dial including the HTTP upgrade.
	DefaultHandshakeTimeout = 10 * time.Second

	// writeWait bounds a frame write when the caller's context has no deadline.
	writeWait = 10 * time.Second

	// missedWarn is the missed-pong count above which each tick logs a warning.
	missedWarn = 5

	// missedMax is the missed-pong count above which the transport is force-closed.
	missedMax = 10
)

// Status is the connection lifecycle state.
type Status int32

// Connection states.
const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
	StatusClosing
)

func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusClosing:
		return "closing"
	default:
		return "status(" + strconv.Itoa(int(s)) + ")"
	}
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Dialer opens WebSocket connections. *websocket.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, urlStr string, requestHeader http.Header) (*websocket.Conn, *http.Response, error)
}

// Config holds socket settings.
type Config struct {
	// URL is the ws:// or wss:// endpoint.
	URL string

	// PingInterval is the heartbeat period. Zero disables the heartbeat.
	PingInterval time.Duration

	// RetryDelay is the fixed delay between dial attempts.
	// Default: 1 second.
	RetryDelay time.Duration

	// HandshakeTimeout bounds a single dial.
	// Default: 10 seconds.
	HandshakeTimeout time.Duration

	// Header is sent with every upgrade request.
	Header http.Header

	// Dialer overrides the default gorilla dialer.
	Dialer Dialer
}

// Stats holds operational statistics.
type Stats struct {
	Status           string
	Connected        bool
	Reconnecting     bool // a dial loop is in progress
	Connects         uint64
	Reconnects       uint64 // connects after the first
	ForcedReconnects uint64 // transports closed by the heartbeat
	FramesTx         uint64
	FramesRx         uint64
	ErrorsTotal      uint64
	MissedPongs      int32
	LastActivity     time.Time
}

// conn is one connection epoch. done closes when the epoch ends.
type conn struct {
	ws   *websocket.Conn
	done chan struct{}
}

// Socket is a self-healing WebSocket client.
//
// Thread Safety: All methods are safe for concurrent use. Close must not be
// called from inside a listener, since it waits for the read goroutine;
// listeners use Shutdown instead.
type Socket struct {
	cfg    Config
	dialer Dialer

	// mu guards status, current and closing.
	mu      sync.Mutex
	status  Status
	current *conn
	closing bool

	// openSem is a one-slot semaphore serialising dial loops. Waiters may
	// give up when their context ends.
	openSem chan struct{}

	// writeMu serialises data frames; gorilla allows one concurrent writer.
	writeMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	retrying atomic.Bool
	missed   atomic.Int32

	callbackMu   sync.RWMutex
	onConnect    func()
	onDisconnect func(error)
	onMessage    func([]byte)

	logger   Logger
	loggerMu sync.RWMutex

	connects     atomic.Uint64
	reconnects   atomic.Uint64
	forced       atomic.Uint64
	framesTx     atomic.Uint64
	framesRx     atomic.Uint64
	errorsTotal  atomic.Uint64
	lastActivity atomic.Int64 // Unix nanoseconds
}

// New creates a socket. No connection is made until Open or Send.
func New(cfg Config) *Socket {
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = DefaultHandshakeTimeout
	}

	dialer := cfg.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Socket{
		cfg:     cfg,
		dialer:  dialer,
		openSem: make(chan struct{}, 1),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Open connects to the hub, retrying transient failures every RetryDelay
// until it succeeds, ctx ends or the socket is closed.
//
// Returns nil if already connected, ErrClosed after Close, a *FatalError for
// failures that retrying cannot fix, or ctx.Err().
func (s *Socket) Open(ctx context.Context) error {
	if err := s.acquireDial(ctx); err != nil {
		return err
	}
	defer s.releaseDial()

	if s.isClosing() {
		return ErrClosed
	}
	if s.IsConnected() {
		return nil
	}
	return s.dialLoop(ctx)
}

// acquireDial takes the dial slot. A background reconnect may hold it for
// as long as the hub stays down, so waiting gives up with ctx.
func (s *Socket) acquireDial(ctx context.Context) error {
	select {
	case s.openSem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.ctx.Done():
		return ErrClosed
	}
}

func (s *Socket) releaseDial() { <-s.openSem }

// dialLoop must be called holding the dial slot.
func (s *Socket) dialLoop(ctx context.Context) error {
	s.retrying.Store(true)
	defer s.retrying.Store(false)
	s.setStatus(StatusConnecting)

	for attempt := 1; ; attempt++ {
		ws, resp, err := s.dialer.DialContext(ctx, s.cfg.URL, s.cfg.Header)
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		if err == nil {
			return s.attach(ws)
		}

		s.errorsTotal.Add(1)

		if s.isClosing() {
			return ErrClosed
		}
		if ctx.Err() != nil {
			s.setStatus(StatusDisconnected)
			return ctx.Err()
		}
		if !isTransient(err, resp) {
			s.setStatus(StatusDisconnected)
			s.logError("connection failed", err, "url", s.cfg.URL)
			return &FatalError{URL: s.cfg.URL, Err: err}
		}

		s.logInfo("retrying", "url", s.cfg.URL, "attempt", attempt,
			"delay", s.cfg.RetryDelay, "error", err)

		timer := time.NewTimer(s.cfg.RetryDelay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			s.setStatus(StatusDisconnected)
			return ctx.Err()
		case <-s.ctx.Done():
			timer.Stop()
			return ErrClosed
		}
	}
}

// attach installs ws as the current connection and starts its goroutines.
// The connect listener runs before the first frame is read.
func (s *Socket) attach(ws *websocket.Conn) error {
	c := &conn{ws: ws, done: make(chan struct{})}

	ws.SetPongHandler(func(string) error {
		s.missed.Store(0)
		s.touch()
		return nil
	})

	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		ws.Close()
		return ErrClosed
	}
	s.current = c
	s.status = StatusConnected
	// Registered under mu so Close cannot start waiting in between.
	s.wg.Add(1)
	if s.cfg.PingInterval > 0 {
		s.wg.Add(1)
	}
	s.mu.Unlock()

	s.missed.Store(0)
	s.touch()
	if s.connects.Add(1) > 1 {
		s.reconnects.Add(1)
	}
	s.logInfo("connected", "url", s.cfg.URL)

	s.callbackMu.RLock()
	onConnect := s.onConnect
	s.callbackMu.RUnlock()
	if onConnect != nil {
		onConnect()
	}

	go s.readLoop(c)
	if s.cfg.PingInterval > 0 {
		go s.heartbeat(c)
	}
	return nil
}

func (s *Socket) readLoop(c *conn) {
	defer s.wg.Done()

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			s.handleDrop(c, err)
			return
		}

		s.framesRx.Add(1)
		s.touch()

		s.callbackMu.RLock()
		onMessage := s.onMessage
		s.callbackMu.RUnlock()
		if onMessage != nil {
			onMessage(data)
		}
	}
}

// handleDrop ends connection epoch c after a read failure and, unless the
// socket is closing, reconnects.
func (s *Socket) handleDrop(c *conn, err error) {
	s.mu.Lock()
	if s.current != c {
		// Close already detached this epoch.
		s.mu.Unlock()
		return
	}
	s.current = nil
	closing := s.closing
	if !closing {
		s.status = StatusDisconnected
	}
	s.mu.Unlock()

	close(c.done)
	c.ws.Close()

	if closing {
		return
	}

	s.logWarn("connection lost", "url", s.cfg.URL, "error", err)
	s.emitDisconnect(err)
	s.reconnect()
}

func (s *Socket) reconnect() {
	if s.acquireDial(s.ctx) != nil {
		return
	}
	defer s.releaseDial()

	if s.isClosing() || s.IsConnected() {
		return
	}

	err := s.dialLoop(s.ctx)
	switch {
	case err == nil:
	case errors.Is(err, ErrClosed), s.ctx.Err() != nil:
	default:
		// Fatal: stay disconnected. The next Send dials again.
		s.logError("reconnect abandoned", err, "url", s.cfg.URL)
	}
}

// heartbeat pings the hub every PingInterval for the lifetime of c.
func (s *Socket) heartbeat(c *conn) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-s.ctx.Done():
			return
		case <-ticker.C:
		}

		missed := s.missed.Load()
		if missed > missedMax {
			s.logWarn("heartbeat lost, forcing reconnect", "missed", missed)
			s.forced.Add(1)
			// The read loop sees the closed transport and takes the drop path.
			c.ws.Close()
			return
		}
		if missed > missedWarn {
			s.logWarn("hub not answering pings", "missed", missed)
		}

		nonce := strconv.FormatInt(time.Now().UnixNano(), 10)
		if err := c.ws.WriteControl(websocket.PingMessage, []byte(nonce), time.Now().Add(writeWait)); err != nil {
			s.logDebug("ping failed", "error", err)
		}
		s.missed.Add(1)
	}
}

// Send writes one text frame, opening the connection first if needed.
func (s *Socket) Send(ctx context.Context, data []byte) error {
	if s.isClosing() {
		return ErrClosed
	}
	if s.conn() == nil {
		if err := s.Open(ctx); err != nil {
			return err
		}
	}
	return s.Write(ctx, data)
}

// Write writes one text frame on the current connection. Unlike Send it
// never dials: without a connection it returns ErrNotConnected, so a caller
// can wait for its own handshake on the next connection first.
func (s *Socket) Write(ctx context.Context, data []byte) error {
	if s.isClosing() {
		return ErrClosed
	}
	c := s.conn()
	if c == nil {
		return ErrNotConnected
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := c.ws.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		s.errorsTotal.Add(1)
		// Closing the transport hands recovery to the read loop.
		c.ws.Close()
		return fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}

	s.framesTx.Add(1)
	s.touch()
	return nil
}

// Close shuts the socket down for good. Pending dial loops stop, a close
// frame is sent best-effort and listeners are released. Idempotent.
func (s *Socket) Close() error {
	if c, first := s.shutdown(); first {
		s.finish(c)
	}
	return nil
}

// Shutdown is Close without waiting for the socket's goroutines, for use
// from inside a listener. The transport is torn down before it returns, so
// no reconnect can follow.
func (s *Socket) Shutdown() {
	if c, first := s.shutdown(); first {
		go s.finish(c)
	}
}

// shutdown marks the socket closing and closes the transport. first is
// false if the socket was already closing.
func (s *Socket) shutdown() (c *conn, first bool) {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return nil, false
	}
	s.closing = true
	s.status = StatusClosing
	c = s.current
	s.current = nil
	s.mu.Unlock()

	s.cancel()

	if c != nil {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		c.ws.Close()
		close(c.done)
	}
	return c, true
}

func (s *Socket) finish(c *conn) {
	s.wg.Wait()

	s.setStatus(StatusDisconnected)
	if c != nil {
		s.emitDisconnect(nil)
	}

	s.callbackMu.Lock()
	s.onConnect = nil
	s.onDisconnect = nil
	s.onMessage = nil
	s.callbackMu.Unlock()

	s.logInfo("closed", "url", s.cfg.URL)
}

// SetOnConnect registers the listener called after every successful dial.
func (s *Socket) SetOnConnect(fn func()) {
	s.callbackMu.Lock()
	s.onConnect = fn
	s.callbackMu.Unlock()
}

// SetOnDisconnect registers the listener called when a connection ends.
// err is nil for a deliberate Close.
func (s *Socket) SetOnDisconnect(fn func(err error)) {
	s.callbackMu.Lock()
	s.onDisconnect = fn
	s.callbackMu.Unlock()
}

// SetOnMessage registers the listener for inbound frames.
func (s *Socket) SetOnMessage(fn func(data []byte)) {
	s.callbackMu.Lock()
	s.onMessage = fn
	s.callbackMu.Unlock()
}

// SetLogger sets the logger for this socket.
func (s *Socket) SetLogger(logger Logger) {
	s.loggerMu.Lock()
	s.logger = logger
	s.loggerMu.Unlock()
}

// Status returns the current lifecycle state.
func (s *Socket) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// IsConnected reports whether a connection is established.
func (s *Socket) IsConnected() bool {
	return s.Status() == StatusConnected
}

// Stats returns current statistics.
func (s *Socket) Stats() Stats {
	status := s.Status()
	var last time.Time
	if ns := s.lastActivity.Load(); ns > 0 {
		last = time.Unix(0, ns)
	}
	return Stats{
		Status:           status.String(),
		Connected:        status == StatusConnected,
		Reconnecting:     s.retrying.Load(),
		Connects:         s.connects.Load(),
		Reconnects:       s.reconnects.Load(),
		ForcedReconnects: s.forced.Load(),
		FramesTx:         s.framesTx.Load(),
		FramesRx:         s.framesRx.Load(),
		ErrorsTotal:      s.errorsTotal.Load(),
		MissedPongs:      s.missed.Load(),
		LastActivity:     last,
	}
}

func (s *Socket) conn() *conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

func (s *Socket) isClosing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closing
}

func (s *Socket) setStatus(status Status) {
	s.mu.Lock()
	if !s.closing || status == StatusDisconnected {
		s.status = status
	}
	s.mu.Unlock()
}

func (s *Socket) touch() {
	s.lastActivity.Store(time.Now().UnixNano())
}

func (s *Socket) emitDisconnect(err error) {
	s.callbackMu.RLock()
	onDisconnect := s.onDisconnect
	s.callbackMu.RUnlock()
	if onDisconnect != nil {
		onDisconnect(err)
	}
}

func (s *Socket) logDebug(msg string, keysAndValues ...any) {
	if logger := s.getLogger(); logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}

func (s *Socket) logInfo(msg string, keysAndValues ...any) {
	if logger := s.getLogger(); logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

func (s *Socket) logWarn(msg string, keysAndValues ...any) {
	if logger := s.getLogger(); logger != nil {
		logger.Warn(msg, keysAndValues...)
	}
}

func (s *Socket) logError(msg string, err error, keysAndValues ...any) {
	if logger := s.getLogger(); logger != nil {
		logger.Error(msg, append([]any{"error", err}, keysAndValues...)...)
	}
}

func (s *Socket) getLogger() Logger {
	s.loggerMu.RLock()
	defer s.loggerMu.RUnlock()
	return s.logger
}
