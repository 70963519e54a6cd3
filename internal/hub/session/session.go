// Package session speaks the hub's WebSocket protocol over a socket.
//
// The session answers auth_required with the access token, routes results
// and pongs to the correlator, and hands events to a single listener. Two
// gates track readiness:
//
//   - authenticated: released by auth_ok, or with ErrAuthInvalid by auth_invalid
//   - hub running: released once get_config reports state RUNNING
//
// Both gates re-arm on every disconnect, and every reconnect repeats the
// handshake. Requests block on the authenticated gate, so callers may issue
// them at any time and they go out as soon as the session is ready.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/hublink/internal/hub/correlator"
	"github.com/nerrad567/hublink/internal/hub/gate"
	"github.com/nerrad567/hublink/internal/hub/socket"
	"github.com/nerrad567/hublink/internal/hub/wire"
)

// Default timings.
const (
	DefaultRequestTimeout      = 10 * time.Second
	DefaultRunningPollInterval = 3 * time.Second
	DefaultRunningRetryDelay   = 10 * time.Second

	// rewriteDelay paces a request that found the connection gone before
	// the disconnect listener re-armed the authenticated gate.
	rewriteDelay = 10 * time.Millisecond
)

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Conn is the transport a session runs on. *socket.Socket satisfies it.
type Conn interface {
	Open(ctx context.Context) error
	Write(ctx context.Context, data []byte) error
	Close() error
	Shutdown()
	SetOnConnect(fn func())
	SetOnDisconnect(fn func(err error))
	SetOnMessage(fn func(data []byte))
}

// Config holds session settings.
type Config struct {
	// Token is the hub access token.
	Token string

	// RequestTimeout bounds each request from send to answer, including any
	// wait for the session to re-authenticate.
	// Default: 10 seconds.
	RequestTimeout time.Duration

	// StaleAfter and SweepInterval configure the correlator's sweep.
	StaleAfter    time.Duration
	SweepInterval time.Duration

	// RunningPollInterval is the get_config period while the hub starts up.
	// Default: 3 seconds.
	RunningPollInterval time.Duration

	// RunningRetryDelay is the get_config period after a failed poll.
	// Default: 10 seconds.
	RunningRetryDelay time.Duration
}

// Stats holds operational statistics.
type Stats struct {
	ID            string
	HubVersion    string
	Authenticated bool
	HubRunning    bool
	Epochs        uint64 // successful handshakes
	Requests      uint64
	Events        uint64
	FramesDropped uint64 // malformed or unknown frames
	Correlator    correlator.Stats
}

// Session is an authenticated protocol session.
//
// Thread Safety: All methods are safe for concurrent use.
type Session struct {
	cfg  Config
	conn Conn
	corr *correlator.Correlator
	id   string

	nextID atomic.Uint64

	authed  *gate.Gate
	running *gate.Gate

	// sendMu is held shared from the authenticated check to the end of a
	// request write, and exclusively while a disconnect re-arms the gates,
	// so no request frame reaches a connection that has not authenticated.
	sendMu sync.RWMutex

	// mu guards the epoch, hooks, terminal error and hub version. Gate
	// resets and the running signal happen under mu so a poller from a dead
	// epoch cannot release the gate of the next one.
	mu          sync.Mutex
	epochCancel context.CancelFunc
	hooks       []func(ctx context.Context)
	terminal    error
	hubVersion  string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	fatal     chan error
	fatalOnce sync.Once
	closeOnce sync.Once

	onEvent    func(wire.Event)
	callbackMu sync.RWMutex

	logger   Logger
	loggerMu sync.RWMutex

	epochs        atomic.Uint64
	requests      atomic.Uint64
	events        atomic.Uint64
	framesDropped atomic.Uint64
}

// New creates a session on conn and installs its listeners. Call Start to connect.
func New(conn Conn, cfg Config) *Session {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.RunningPollInterval <= 0 {
		cfg.RunningPollInterval = DefaultRunningPollInterval
	}
	if cfg.RunningRetryDelay <= 0 {
		cfg.RunningRetryDelay = DefaultRunningRetryDelay
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		cfg:     cfg,
		conn:    conn,
		corr:    correlator.New(correlator.Config{StaleAfter: cfg.StaleAfter, SweepInterval: cfg.SweepInterval}),
		id:      uuid.NewString(),
		authed:  gate.New(),
		running: gate.New(),
		ctx:     ctx,
		cancel:  cancel,
		fatal:   make(chan error, 1),
	}

	conn.SetOnConnect(s.handleConnect)
	conn.SetOnDisconnect(s.handleDisconnect)
	conn.SetOnMessage(s.handleMessage)

	return s
}

// Start begins the correlator sweep and opens the connection.
// The handshake completes asynchronously; use WaitAuthenticated to block on it.
func (s *Session) Start(ctx context.Context) error {
	s.corr.Start()
	if err := s.conn.Open(ctx); err != nil {
		return fmt.Errorf("session: open: %w", err)
	}
	return nil
}

// Close closes the connection and fails every pending and future request
// with ErrClosed. Idempotent.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		if s.terminal == nil {
			s.terminal = ErrClosed
		}
		s.mu.Unlock()

		s.cancel()
		err := s.conn.Close()
		if err != nil {
			s.logWarn("close connection failed", "error", err)
		}

		// Covers the case where the transport never connected and so never
		// reported a disconnect.
		s.authed.SignalError(ErrClosed)
		s.running.SignalError(ErrClosed)

		s.corr.Close(ErrClosed)
		s.wg.Wait()
	})
	return nil
}

// ID returns the session's instance id, unique per process run.
func (s *Session) ID() string { return s.id }

// Fatal delivers the terminal error when the hub rejects the token.
func (s *Session) Fatal() <-chan error { return s.fatal }

// OnAuthenticated registers fn to run after every successful handshake.
// fn runs on its own goroutine with a context that ends when that
// connection does.
func (s *Session) OnAuthenticated(fn func(ctx context.Context)) {
	s.mu.Lock()
	s.hooks = append(s.hooks, fn)
	s.mu.Unlock()
}

// SetOnEvent registers the listener for event frames. It runs on the read
// goroutine and must not block.
func (s *Session) SetOnEvent(fn func(wire.Event)) {
	s.callbackMu.Lock()
	s.onEvent = fn
	s.callbackMu.Unlock()
}

// SetLogger sets the logger for the session and its correlator.
func (s *Session) SetLogger(logger Logger) {
	s.loggerMu.Lock()
	s.logger = logger
	s.loggerMu.Unlock()
	s.corr.SetLogger(logger)
}

// WaitAuthenticated blocks until the current connection has authenticated.
func (s *Session) WaitAuthenticated(ctx context.Context) error {
	return s.authed.Wait(ctx)
}

// WaitHubRunning blocks until the hub reports it has finished starting.
func (s *Session) WaitHubRunning(ctx context.Context) error {
	if err := s.authed.Wait(ctx); err != nil {
		return err
	}
	return s.running.Wait(ctx)
}

// IsAuthenticated reports whether the current connection has authenticated.
func (s *Session) IsAuthenticated() bool { return s.authed.IsSet() }

// IsHubRunning reports whether the hub has reported state RUNNING on the
// current connection.
func (s *Session) IsHubRunning() bool { return s.running.IsSet() }

// Stats returns current statistics.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	version := s.hubVersion
	s.mu.Unlock()

	return Stats{
		ID:            s.id,
		HubVersion:    version,
		Authenticated: s.IsAuthenticated(),
		HubRunning:    s.IsHubRunning(),
		Epochs:        s.epochs.Load(),
		Requests:      s.requests.Load(),
		Events:        s.events.Load(),
		FramesDropped: s.framesDropped.Load(),
		Correlator:    s.corr.Stats(),
	}
}

func (s *Session) handleConnect() {
	s.logInfo("connected to hub, awaiting auth_required")
}

func (s *Session) handleDisconnect(err error) {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	s.mu.Lock()
	if s.epochCancel != nil {
		s.epochCancel()
		s.epochCancel = nil
	}
	s.authed.Reset()
	s.running.Reset()
	terminal := s.terminal
	if terminal != nil {
		s.authed.SignalError(terminal)
		s.running.SignalError(terminal)
	}
	s.mu.Unlock()

	if terminal == nil {
		s.logWarn("disconnected from hub", "error", err)
	}
}

func (s *Session) handleMessage(data []byte) {
	msg, err := wire.Decode(data)
	if err != nil {
		s.framesDropped.Add(1)
		s.logWarn("dropping frame", "error", err, "size", len(data))
		return
	}

	switch m := msg.(type) {
	case wire.AuthRequired:
		s.sendAuth(m)
	case wire.AuthOK:
		s.authenticated(m)
	case wire.AuthInvalid:
		s.rejected(m)
	case wire.Response:
		s.corr.Deliver(m)
	case wire.Event:
		s.events.Add(1)
		s.callbackMu.RLock()
		onEvent := s.onEvent
		s.callbackMu.RUnlock()
		if onEvent != nil {
			onEvent(m)
		}
	}
}

func (s *Session) sendAuth(m wire.AuthRequired) {
	s.setHubVersion(m.HubVersion)
	s.logDebug("sending auth", "hub_version", m.HubVersion)

	data, err := json.Marshal(wire.NewAuth(s.cfg.Token))
	if err != nil {
		s.logError("encode auth frame", "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.RequestTimeout)
	defer cancel()
	if err := s.conn.Write(ctx, data); err != nil {
		s.logWarn("send auth failed", "error", err)
	}
}

func (s *Session) authenticated(m wire.AuthOK) {
	s.setHubVersion(m.HubVersion)

	ctx, cancel := context.WithCancel(s.ctx)

	s.mu.Lock()
	if s.epochCancel != nil {
		s.epochCancel()
	}
	s.epochCancel = cancel
	hooks := slices.Clone(s.hooks)
	s.authed.Signal()
	s.mu.Unlock()

	epoch := s.epochs.Add(1)
	s.logInfo("authenticated", "hub_version", m.HubVersion, "epoch", epoch)

	s.wg.Add(1 + len(hooks))
	go s.pollRunning(ctx)
	for _, hook := range hooks {
		go func() {
			defer s.wg.Done()
			hook(ctx)
		}()
	}
}

func (s *Session) rejected(m wire.AuthInvalid) {
	err := fmt.Errorf("%w: %s", ErrAuthInvalid, m.Message)
	s.logError("hub rejected access token", "error", err)

	s.mu.Lock()
	s.terminal = err
	s.authed.SignalError(err)
	s.running.SignalError(err)
	s.mu.Unlock()

	s.fatalOnce.Do(func() { s.fatal <- err })

	// Runs on the read goroutine, so the non-waiting variant of Close.
	s.conn.Shutdown()
}

// pollRunning releases the running gate once get_config reports RUNNING.
func (s *Session) pollRunning(ctx context.Context) {
	defer s.wg.Done()

	for {
		delay := s.cfg.RunningPollInterval

		cfg, err := s.GetConfig(ctx)
		switch {
		case ctx.Err() != nil:
			return
		case err != nil:
			s.logWarn("hub state poll failed", "error", err, "retry_in", s.cfg.RunningRetryDelay)
			delay = s.cfg.RunningRetryDelay
		case cfg.State == wire.HubStateRunning:
			s.mu.Lock()
			if ctx.Err() == nil {
				s.running.Signal()
			}
			s.mu.Unlock()
			s.logInfo("hub running", "version", cfg.Version)
			return
		default:
			s.logDebug("hub not running yet", "state", cfg.State)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// call sends req and waits for its single outcome. It returns the id the
// request went out under.
func (s *Session) call(ctx context.Context, req wire.Request) (uint64, json.RawMessage, error) {
	if err := s.awaitAuth(ctx); err != nil {
		return 0, nil, err
	}

	id := s.nextID.Add(1)
	req.ID = id

	data, err := json.Marshal(req)
	if err != nil {
		return id, nil, fmt.Errorf("session: encode %s: %w", req.Type, err)
	}

	done, err := s.corr.Add(id, req)
	if err != nil {
		return id, nil, err
	}
	s.requests.Add(1)

	reqCtx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	defer cancel()
	// A parent deadline earlier than the request timeout is reported as
	// the caller's own error.
	expired := func() error {
		if err := ctx.Err(); err != nil {
			return err
		}
		return &RequestTimeoutError{ID: id, Packet: req, Timeout: s.cfg.RequestTimeout}
	}

	if err := s.write(reqCtx, data); err != nil {
		if reqCtx.Err() != nil {
			err = expired()
		} else {
			err = fmt.Errorf("session: send %s: %w", req.Type, err)
		}
		s.corr.Reject(id, err)
		return id, nil, err
	}

	select {
	case r := <-done:
		return id, r.Payload, r.Err
	case <-reqCtx.Done():
		s.corr.Reject(id, expired())
	}

	// Whichever outcome won the race is the one reported.
	r := <-done
	return id, r.Payload, r.Err
}

// write sends a request frame on an authenticated connection. If the
// connection is gone it waits for the next handshake before writing, since a
// fresh connection must see the auth frame first.
func (s *Session) write(ctx context.Context, data []byte) error {
	for {
		if err := s.awaitAuth(ctx); err != nil {
			return err
		}

		s.sendMu.RLock()
		if !s.authed.IsSet() {
			s.sendMu.RUnlock()
			continue
		}
		err := s.conn.Write(ctx, data)
		s.sendMu.RUnlock()

		if !errors.Is(err, socket.ErrNotConnected) {
			return err
		}
		timer := time.NewTimer(rewriteDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// awaitAuth blocks on the authenticated gate. While the gate is armed it
// first makes sure a connection exists: Open returns once any in-flight dial
// settles, and dials again if a reconnect was abandoned.
func (s *Session) awaitAuth(ctx context.Context) error {
	select {
	case <-s.authed.Done():
	default:
		if err := s.conn.Open(ctx); err != nil {
			return err
		}
	}
	return s.authed.Wait(ctx)
}

func (s *Session) setHubVersion(v string) {
	if v == "" {
		return
	}
	s.mu.Lock()
	s.hubVersion = v
	s.mu.Unlock()
}

func (s *Session) getLogger() Logger {
	s.loggerMu.RLock()
	defer s.loggerMu.RUnlock()
	return s.logger
}

func (s *Session) logDebug(msg string, keysAndValues ...any) {
	if logger := s.getLogger(); logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}

func (s *Session) logInfo(msg string, keysAndValues ...any) {
	if logger := s.getLogger(); logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

func (s *Session) logWarn(msg string, keysAndValues ...any) {
	if logger := s.getLogger(); logger != nil {
		logger.Warn(msg, keysAndValues...)
	}
}

func (s *Session) logError(msg string, keysAndValues ...any) {
	if logger := s.getLogger(); logger != nil {
		logger.Error(msg, keysAndValues...)
	}
}
