package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/omnigrid/omnigrid.go/pkg/constants"
	"github.com/omnigrid/omnigrid.go/pkg/driver"
	"github.com/omnigrid/omnigrid.go/pkg/logger"
)

const defaultHealthInterval = 30 * time.Second

// readyPollInterval paces the wait loop of operations queued behind a
// reconnect attempt.
const readyPollInterval = 20 * time.Millisecond

// Manager wraps every driver call of one adapter instance. Reconnects are
// serialized per instance; operations issued while the connection is down
// either queue behind the reconnect attempt or fail fast, per
// WaitForReconnect.
type Manager struct {
	driver driver.Driver
	policy ReconnectPolicy
	log    logger.Logger

	healthInterval   time.Duration
	waitForReconnect bool

	mu      sync.Mutex
	state   State
	lastErr error
	attempt int
	epoch   uint64
	subs    []chan StatusEvent

	reconnectMu sync.Mutex

	healthStop chan struct{}
	healthDone chan struct{}
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(m *Manager) { m.log = l }
}

// WithHealthInterval sets the liveness probe interval; zero disables the
// probe.
func WithHealthInterval(d time.Duration) Option {
	return func(m *Manager) { m.healthInterval = d }
}

// WithWaitForReconnect makes operations queue behind an in-progress
// reconnect (bounded by their context) instead of failing fast.
func WithWaitForReconnect(wait bool) Option {
	return func(m *Manager) { m.waitForReconnect = wait }
}

// NewManager creates a manager for one driver. The manager starts
// disconnected; call Connect.
func NewManager(drv driver.Driver, policy ReconnectPolicy, opts ...Option) *Manager {
	m := &Manager{
		driver:         drv,
		policy:         policy.withDefaults(),
		log:            logger.Nop(),
		healthInterval: defaultHealthInterval,
		state:          StateDisconnected,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// State returns the current connection state and the last error observed.
func (m *Manager) State() (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state, m.lastErr
}

// Subscribe returns a channel of state-change events. Slow consumers drop
// events rather than blocking state transitions.
func (m *Manager) Subscribe() <-chan StatusEvent {
	ch := make(chan StatusEvent, 8)
	m.mu.Lock()
	m.subs = append(m.subs, ch)
	m.mu.Unlock()
	return ch
}

// Unsubscribe removes a channel returned by Subscribe and closes it,
// ending any goroutine ranging over it.
func (m *Manager) Unsubscribe(ch <-chan StatusEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, sub := range m.subs {
		if (<-chan StatusEvent)(sub) == ch {
			m.subs = append(m.subs[:i], m.subs[i+1:]...)
			close(sub)
			return
		}
	}
}

func (m *Manager) transitionTo(newState State, msg string, err error) error {
	m.mu.Lock()
	if verr := m.state.validateTransitionTo(newState); verr != nil {
		m.mu.Unlock()
		return verr
	}
	m.state = newState
	m.epoch++
	if err != nil {
		m.lastErr = err
	}
	// Sends stay under the lock so Unsubscribe can never close a channel
	// with a broadcast in flight. They are non-blocking, so holding the
	// lock here cannot stall on a slow consumer.
	ev := StatusEvent{State: newState, Message: msg, Err: err}
	for _, ch := range m.subs {
		select {
		case ch <- ev:
		default:
		}
	}
	m.mu.Unlock()

	m.log.Debug("connection state changed", "state", newState.String(), "message", msg, "error", err)
	return nil
}

func (m *Manager) mustTransitionTo(newState State, msg string, err error) {
	if terr := m.transitionTo(newState, msg, err); terr != nil {
		panic(fmt.Sprintf("BUG: %v", terr))
	}
}

func (m *Manager) currentEpoch() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.epoch
}

// Connect opens the connection and starts the health-check loop.
func (m *Manager) Connect(ctx context.Context) error {
	if err := m.transitionTo(StateConnecting, "connecting", nil); err != nil {
		return err
	}
	if err := m.driver.Open(ctx); err != nil {
		m.mustTransitionTo(StateError, "connect failed", err)
		return fmt.Errorf("%w: %w", constants.ErrTransport, err)
	}
	m.mustTransitionTo(StateConnected, "connected", nil)
	m.resetAttempts()
	m.startHealthLoop()
	return nil
}

// Close stops the health loop, closes the driver and reports
// disconnected.
func (m *Manager) Close(ctx context.Context) error {
	m.stopHealthLoop()
	err := m.driver.Close(ctx)
	if terr := m.transitionTo(StateDisconnected, "closed", err); terr != nil {
		m.log.Warn("close in unexpected state", "error", terr)
	}
	return err
}

// Reconnect is the caller-initiated recovery path; it resets the attempt
// budget and runs the usual reconnect loop.
func (m *Manager) Reconnect(ctx context.Context) error {
	m.resetAttempts()
	m.mu.Lock()
	if m.state == StateDisconnected || m.state == StateConnected {
		// The loop below expects Error; fake the entry transition from a
		// cold or live state.
		m.state = StateError
		m.epoch++
	}
	m.mu.Unlock()
	if err := m.reconnect(ctx); err != nil {
		return err
	}
	m.startHealthLoop()
	return nil
}

// Ping probes the backend through the resilience path.
func (m *Manager) Ping(ctx context.Context) error {
	return m.Do(ctx, func(ctx context.Context) error {
		return m.driver.Ping(ctx)
	})
}

// Do runs one driver operation under the resilience policy: transport
// failures transition to the error state, trigger reconnect, and retry
// the operation once after a successful reconnect; backend errors surface
// immediately with the connection left connected.
func (m *Manager) Do(ctx context.Context, op func(context.Context) error) error {
	if err := m.ready(ctx); err != nil {
		return err
	}

	err := op(ctx)
	if err == nil {
		m.resetAttempts()
		return nil
	}
	if !IsTransient(err) {
		return fmt.Errorf("%w: %w", constants.ErrBackend, err)
	}

	m.noteConnectionLoss(err)
	if rerr := m.reconnect(ctx); rerr != nil {
		return rerr
	}

	if err := op(ctx); err != nil {
		if IsTransient(err) {
			return fmt.Errorf("%w: %w", constants.ErrTransport, err)
		}
		return fmt.Errorf("%w: %w", constants.ErrBackend, err)
	}
	m.resetAttempts()
	return nil
}

func (m *Manager) ready(ctx context.Context) error {
	for {
		st, _ := m.State()
		switch st {
		case StateConnected:
			return nil
		case StateDisconnected:
			return constants.ErrNotConnected
		default:
			if !m.waitForReconnect {
				return fmt.Errorf("%w: connection is %s", constants.ErrNotConnected, st)
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(readyPollInterval):
			}
		}
	}
}

func (m *Manager) resetAttempts() {
	m.mu.Lock()
	m.attempt = 0
	m.mu.Unlock()
}

// noteConnectionLoss flips connected to error; if a transition is already
// in progress elsewhere the newer state wins.
func (m *Manager) noteConnectionLoss(err error) {
	if terr := m.transitionTo(StateError, "connection lost", err); terr != nil {
		m.log.Debug("connection loss noted in non-connected state", "error", err)
	}
}

// reconnect drives the backoff loop. Serialized per instance: concurrent
// callers queue on the mutex and find the connection repaired (or given
// up) when they get in.
func (m *Manager) reconnect(ctx context.Context) error {
	m.reconnectMu.Lock()
	defer m.reconnectMu.Unlock()

	if st, _ := m.State(); st == StateConnected {
		return nil
	}

	for {
		m.mu.Lock()
		if m.attempt >= m.policy.MaxAttempts {
			lastErr := m.lastErr
			m.mu.Unlock()
			// The health loop idles while not connected, so leaving it
			// running cannot restart reconnection.
			if terr := m.transitionTo(StateDisconnected, "reconnect attempts exhausted", lastErr); terr != nil {
				m.log.Warn("exhaustion in unexpected state", "error", terr)
			}
			return fmt.Errorf("%w: last error: %v", constants.ErrReconnectExhausted, lastErr)
		}
		m.attempt++
		attempt := m.attempt
		m.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(m.policy.Delay(attempt)):
		}

		m.log.Info("reconnect attempt", "attempt", attempt, "max", m.policy.MaxAttempts)
		if terr := m.transitionTo(StateConnecting, "reconnecting", nil); terr != nil {
			// Repaired or closed by someone else while we slept.
			if st, _ := m.State(); st == StateConnected {
				return nil
			}
			return fmt.Errorf("%w: %v", constants.ErrNotConnected, terr)
		}

		_ = m.driver.Close(ctx)
		err := m.driver.Open(ctx)
		if err == nil {
			err = m.driver.Ping(ctx)
		}
		if err == nil {
			m.mustTransitionTo(StateConnected, "reconnected", nil)
			m.resetAttempts()
			m.log.Info("reconnected", "attempt", attempt)
			return nil
		}
		m.mustTransitionTo(StateError, "reconnect attempt failed", err)
	}
}

func (m *Manager) startHealthLoop() {
	if m.healthInterval <= 0 {
		return
	}
	m.mu.Lock()
	if m.healthStop != nil {
		m.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	done := make(chan struct{})
	m.healthStop = stop
	m.healthDone = done
	m.mu.Unlock()

	go m.healthLoop(stop, done)
}

func (m *Manager) stopHealthLoop() {
	m.mu.Lock()
	stop, done := m.healthStop, m.healthDone
	m.healthStop, m.healthDone = nil, nil
	m.mu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	<-done
}

func (m *Manager) healthLoop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(m.healthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		if st, _ := m.State(); st != StateConnected {
			continue
		}

		// The epoch guards against a probe result landing after a newer
		// transition: a stale failure must not overwrite it.
		epoch := m.currentEpoch()
		ctx, cancel := context.WithTimeout(context.Background(), m.healthInterval/2)
		err := m.driver.Ping(ctx)
		timedOut := errors.Is(ctx.Err(), context.DeadlineExceeded)
		cancel()
		if err == nil {
			continue
		}
		// The probe deadline is ours, not the caller's: a Ping that hangs
		// until it expires means the backend is wedged, which is a
		// connection loss even though IsTransient treats context errors
		// as caller cancellation.
		if !timedOut && !IsTransient(err) {
			m.log.Warn("health check returned a backend error", "error", err)
			continue
		}

		m.mu.Lock()
		stale := m.epoch != epoch || m.state != StateConnected
		m.mu.Unlock()
		if stale {
			continue
		}

		m.log.Warn("health check failed, starting reconnect", "error", err)
		m.noteConnectionLoss(err)
		if rerr := m.reconnect(context.Background()); rerr != nil {
			m.log.Error("automatic reconnect gave up", "error", rerr)
		}
	}
}
