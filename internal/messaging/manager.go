// Package messaging owns the long-lived session with the outbound messaging
// channel: pairing, credential persistence, reconnects and sending.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	ErrNotConnected      = errors.New("messaging channel not connected")
	ErrNoChallenge       = errors.New("no pairing challenge outstanding")
	ErrIllegalTransition = errors.New("illegal session state transition")
	ErrManagerClosed     = errors.New("messaging manager closed")
	ErrNotConfigured     = errors.New("messaging channel not configured")
)

type Config struct {
	DefaultRegion  string
	ReconnectDelay time.Duration
	PollInterval   time.Duration
	PollAttempts   int
	// QRWriter, when set, receives a terminal rendering of every pairing code.
	QRWriter io.Writer
}

func (c Config) withDefaults() Config {
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = 3 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.PollAttempts <= 0 {
		c.PollAttempts = 30
	}
	if c.DefaultRegion == "" {
		c.DefaultRegion = "IN"
	}
	return c
}

// Challenge is a pairing code waiting to be scanned by the operator.
type Challenge struct {
	Code     string    `json:"code"`
	IssuedAt time.Time `json:"issued_at"`
}

type Status struct {
	State          State     `json:"state"`
	Since          time.Time `json:"since"`
	PairingPending bool      `json:"pairing_pending"`
	LastError      string    `json:"last_error,omitempty"`
}

// Manager drives one channel session through its states. All methods are
// safe for concurrent use. A manager built without a transport never dials:
// Connect returns ErrNotConfigured and Send fails at once.
type Manager struct {
	transport Transport
	store     CredentialStore
	cfg       Config
	logger    zerolog.Logger

	root       context.Context
	rootCancel context.CancelFunc

	mu        sync.Mutex
	state     State
	since     time.Time
	conn      Conn
	challenge *Challenge
	lastErr   string
	running   bool
	closed    bool
	runCancel context.CancelFunc
	runDone   chan struct{}
	observers []func(Transition)
}

func NewManager(transport Transport, store CredentialStore, cfg Config, logger zerolog.Logger) *Manager {
	root, cancel := context.WithCancel(context.Background())
	return &Manager{
		transport:  transport,
		store:      store,
		cfg:        cfg.withDefaults(),
		logger:     logger,
		root:       root,
		rootCancel: cancel,
		state:      StateUnpaired,
		since:      time.Now(),
	}
}

// OnTransition registers fn to be called after every state change.
func (m *Manager) OnTransition(fn func(Transition)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, fn)
}

func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Status{
		State:          m.state,
		Since:          m.since,
		PairingPending: m.challenge != nil,
		LastError:      m.lastErr,
	}
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Challenge returns the outstanding pairing code.
func (m *Manager) Challenge() (Challenge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.challenge == nil || m.state != StateAwaitingPairing {
		return Challenge{}, ErrNoChallenge
	}
	return *m.challenge, nil
}

// Connect starts the session loop unless it is already running. It returns
// immediately; progress is visible through Status and OnTransition.
func (m *Manager) Connect() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrManagerClosed
	}
	if m.transport == nil {
		return ErrNotConfigured
	}
	if m.running {
		return nil
	}

	ctx, cancel := context.WithCancel(m.root)
	done := make(chan struct{})
	m.running = true
	m.runCancel = cancel
	m.runDone = done

	go m.run(ctx, done)
	return nil
}

// Send delivers text to the recipient's phone number. When the session is
// not up it triggers a connect and polls for a bounded time before giving up
// with ErrNotConnected.
func (m *Manager) Send(ctx context.Context, phone, text string) error {
	addr, err := NormalizeAddress(phone, m.cfg.DefaultRegion)
	if err != nil {
		return err
	}

	conn, err := m.awaitConnection(ctx)
	if err != nil {
		return err
	}

	if err := conn.Send(ctx, addr, text); err != nil {
		return fmt.Errorf("send to %s: %w", addr.User(), err)
	}
	return nil
}

func (m *Manager) awaitConnection(ctx context.Context) (Conn, error) {
	if conn := m.liveConn(); conn != nil {
		return conn, nil
	}
	if err := m.Connect(); err != nil {
		if errors.Is(err, ErrNotConfigured) {
			return nil, fmt.Errorf("%w: %w", ErrNotConnected, err)
		}
		return nil, err
	}

	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	for i := 0; i < m.cfg.PollAttempts; i++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
		if conn := m.liveConn(); conn != nil {
			return conn, nil
		}
	}
	return nil, ErrNotConnected
}

func (m *Manager) liveConn() Conn {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateConnected {
		return nil
	}
	return m.conn
}

// Disconnect logs the session out, forgets the credentials and leaves the
// manager unpaired. A later Connect starts a fresh pairing.
func (m *Manager) Disconnect(ctx context.Context) error {
	m.mu.Lock()
	conn := m.conn
	running := m.running
	cancel := m.runCancel
	done := m.runDone
	m.mu.Unlock()

	var logoutErr error
	if conn != nil {
		if err := conn.Logout(ctx); err != nil {
			logoutErr = fmt.Errorf("logout: %w", err)
			m.logger.Warn().Err(err).Msg("channel logout failed, clearing local session anyway")
		}
	}

	if running {
		cancel()
		select {
		case <-done:
		case <-ctx.Done():
			m.forget(ctx, "operator logout")
			return ctx.Err()
		}
	}

	m.forget(ctx, "operator logout")
	return logoutErr
}

// Close stops the session loop and releases the connection without logging
// out. Credentials stay persisted for the next process; the manager itself
// reports unpaired from here on.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	done := m.runDone
	running := m.running
	m.mu.Unlock()

	m.rootCancel()
	if running {
		<-done
	}

	m.mu.Lock()
	m.challenge = nil
	m.mu.Unlock()
	_ = m.transition(StateUnpaired, "manager closed")
}

func (m *Manager) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer func() {
		m.mu.Lock()
		m.running = false
		m.mu.Unlock()
	}()

	for {
		if ctx.Err() != nil {
			return
		}
		if err := m.transition(StateConnecting, "dial"); err != nil {
			m.logger.Error().Err(err).Msg("session loop cannot start")
			return
		}

		creds, err := m.store.Load(ctx)
		if err != nil && !errors.Is(err, ErrNoCredentials) {
			m.logger.Warn().Err(err).Msg("credentials unreadable, starting fresh pairing")
		}

		conn, err := m.transport.Dial(ctx, creds)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			m.setLastError(err)
			if errors.Is(err, ErrLoggedOut) {
				m.forget(ctx, "session revoked")
				return
			}
			_ = m.transition(StateReconnecting, err.Error())
			if !m.pause(ctx) {
				return
			}
			continue
		}

		m.mu.Lock()
		m.conn = conn
		m.mu.Unlock()

		reason, stopped := m.serve(ctx, conn)

		m.mu.Lock()
		m.conn = nil
		m.mu.Unlock()
		_ = conn.Close()

		if stopped {
			return
		}
		if reason == CloseLoggedOut {
			m.forget(ctx, "session revoked")
			return
		}
		_ = m.transition(StateReconnecting, "connection lost")
		if !m.pause(ctx) {
			return
		}
	}
}

// serve consumes connection events until the connection ends or ctx is
// cancelled.
func (m *Manager) serve(ctx context.Context, conn Conn) (CloseReason, bool) {
	events := conn.Events()
	for {
		select {
		case <-ctx.Done():
			return "", true
		case ev, ok := <-events:
			if !ok {
				return CloseTransient, false
			}
			switch ev.Kind {
			case EventPairingCode:
				m.issueChallenge(ev.Code)
			case EventCredentials:
				if err := m.store.Save(ctx, ev.Credentials); err != nil {
					m.logger.Error().Err(err).Msg("failed to persist session credentials")
				}
			case EventOpen:
				m.mu.Lock()
				m.challenge = nil
				m.lastErr = ""
				m.mu.Unlock()
				_ = m.transition(StateConnected, "session open")
			case EventClosed:
				if ev.Err != nil {
					m.setLastError(ev.Err)
				}
				if ev.Reason == CloseLoggedOut {
					return CloseLoggedOut, false
				}
				return CloseTransient, false
			}
		}
	}
}

func (m *Manager) issueChallenge(code string) {
	m.mu.Lock()
	if m.state != StateConnecting && m.state != StateAwaitingPairing {
		m.mu.Unlock()
		m.logger.Warn().Str("state", string(m.State())).Msg("ignoring pairing code outside pairing")
		return
	}
	m.challenge = &Challenge{Code: code, IssuedAt: time.Now()}
	m.mu.Unlock()

	if err := m.transition(StateAwaitingPairing, "pairing code issued"); err != nil {
		m.logger.Error().Err(err).Msg("pairing code rejected")
		return
	}
	m.logger.Info().Msg("pairing code issued, scan it from GET /messaging/pairing")

	if m.cfg.QRWriter != nil {
		if text, err := PairingText(code); err == nil {
			_, _ = fmt.Fprintln(m.cfg.QRWriter, text)
		}
	}
}

// forget clears persisted credentials and returns to unpaired.
func (m *Manager) forget(ctx context.Context, reason string) {
	if err := m.store.Clear(context.WithoutCancel(ctx)); err != nil {
		m.logger.Error().Err(err).Msg("failed to clear session credentials")
	}
	m.mu.Lock()
	m.challenge = nil
	m.mu.Unlock()
	_ = m.transition(StateUnpaired, reason)
}

func (m *Manager) pause(ctx context.Context) bool {
	timer := time.NewTimer(m.cfg.ReconnectDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (m *Manager) setLastError(err error) {
	m.mu.Lock()
	m.lastErr = err.Error()
	m.mu.Unlock()
}

// transition moves to the target state when the table allows it. Moving to
// the current state is a no-op.
func (m *Manager) transition(to State, reason string) error {
	m.mu.Lock()
	from := m.state
	if from == to {
		m.mu.Unlock()
		return nil
	}
	if !CanTransition(from, to) {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
	}
	now := time.Now()
	m.state = to
	m.since = now
	observers := append([]func(Transition){}, m.observers...)
	m.mu.Unlock()

	m.logger.Info().
		Str("from", string(from)).
		Str("to", string(to)).
		Str("reason", reason).
		Msg("messaging session state changed")

	tr := Transition{From: from, To: to, Reason: reason, At: now}
	for _, fn := range observers {
		fn(tr)
	}
	return nil
}
