package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/entrhq/pilot/pkg/automation"
	"github.com/entrhq/pilot/pkg/logging"
	"github.com/entrhq/pilot/pkg/types"
)

// State is the lifecycle state of the session.
type State int

const (
	StateStopped State = iota
	StateStarting
	StateReady
	StateReconnecting
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateReady:
		return "ready"
	case StateReconnecting:
		return "reconnecting"
	case StateStopping:
		return "stopping"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// destroyTimeout bounds releasing a dead handle.
const destroyTimeout = 5 * time.Second

// Options tune the session lifecycle.
type Options struct {
	// MaxReconnectAttempts bounds the automatic reconnect loop.
	MaxReconnectAttempts int

	// ReconnectInterval is the period of the reconnect loop.
	ReconnectInterval time.Duration

	// StartRetries is the number of handle creation attempts made by Start.
	StartRetries int

	// StartRetryDelay is multiplied by the attempt number between start attempts.
	StartRetryDelay time.Duration

	// StabilizeDelay is how long the executor waits after a forced reconnect.
	StabilizeDelay time.Duration

	// StatusMessage is painted in the page by the quick probe.
	StatusMessage string

	// Clock drives the reconnect loop and delays. Defaults to the wall clock.
	Clock clock.Clock

	Logger *logging.Logger
}

// DefaultOptions returns the standard lifecycle policy.
func DefaultOptions() Options {
	return Options{
		MaxReconnectAttempts: 5,
		ReconnectInterval:    5 * time.Second,
		StartRetries:         3,
		StartRetryDelay:      2 * time.Second,
		StabilizeDelay:       2 * time.Second,
		StatusMessage:        "Pilot connected",
	}
}

// Status is a point-in-time view of the session.
type Status struct {
	State             string    `json:"state"`
	Connected         bool      `json:"connected"`
	ReconnectAttempts int       `json:"reconnectAttempts"`
	Since             time.Time `json:"since"`
	LastError         string    `json:"lastError,omitempty"`
}

type observer struct {
	id int
	fn func(types.SessionEvent)
}

// Manager keeps at most one automation handle alive and repairs it.
//
// The handle is present only in StateReady. Every transition happens under
// mu; long operations (handle creation, probes, destroy) run outside it and
// commit only if no Stop or ForceReconnect happened meanwhile, which is
// tracked by epoch.
type Manager struct {
	factory automation.Factory
	opts    Options
	clock   clock.Clock
	logger  *logging.Logger

	mu                sync.Mutex
	state             State
	handle            automation.Handle
	reconnectAttempts int
	since             time.Time
	lastErr           error
	epoch             uint64
	loopCancel        context.CancelFunc
	loopDone          chan struct{}
	startDone         chan struct{} // closed when the current start finishes

	stopping  atomic.Int32
	connected atomic.Bool

	obsMu     sync.Mutex
	observers []observer
	nextObsID int
}

// NewManager creates a stopped manager. Zero-valued counts and intervals
// fall back to DefaultOptions; zero delays stay zero.
func NewManager(factory automation.Factory, opts Options) *Manager {
	def := DefaultOptions()
	if opts.MaxReconnectAttempts <= 0 {
		opts.MaxReconnectAttempts = def.MaxReconnectAttempts
	}
	if opts.ReconnectInterval <= 0 {
		opts.ReconnectInterval = def.ReconnectInterval
	}
	if opts.StartRetries <= 0 {
		opts.StartRetries = def.StartRetries
	}
	if opts.StartRetryDelay < 0 {
		opts.StartRetryDelay = 0
	}
	if opts.StabilizeDelay < 0 {
		opts.StabilizeDelay = 0
	}
	if opts.StatusMessage == "" {
		opts.StatusMessage = def.StatusMessage
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}

	return &Manager{
		factory: factory,
		opts:    opts,
		clock:   opts.Clock,
		logger:  opts.Logger,
		state:   StateStopped,
		since:   opts.Clock.Now(),
	}
}

// Options returns the effective options.
func (m *Manager) Options() Options {
	return m.opts
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Connected reports whether a verified handle is available. It never blocks.
func (m *Manager) Connected() bool {
	return m.connected.Load()
}

// Status returns a snapshot for health reporting.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := Status{
		State:             m.state.String(),
		Connected:         m.state == StateReady,
		ReconnectAttempts: m.reconnectAttempts,
		Since:             m.since,
	}
	if m.lastErr != nil {
		st.LastError = m.lastErr.Error()
	}
	return st
}

// Subscribe registers fn for lifecycle events. Observers are called in
// registration order, outside the state lock, on the goroutine that caused
// the transition.
func (m *Manager) Subscribe(fn func(types.SessionEvent)) (unsubscribe func()) {
	m.obsMu.Lock()
	defer m.obsMu.Unlock()

	m.nextObsID++
	id := m.nextObsID
	m.observers = append(m.observers, observer{id: id, fn: fn})

	return func() {
		m.obsMu.Lock()
		defer m.obsMu.Unlock()
		for i, o := range m.observers {
			if o.id == id {
				m.observers = append(m.observers[:i:i], m.observers[i+1:]...)
				return
			}
		}
	}
}

func (m *Manager) emit(event types.SessionEvent) {
	m.obsMu.Lock()
	observers := make([]observer, len(m.observers))
	copy(observers, m.observers)
	m.obsMu.Unlock()

	for _, o := range observers {
		m.notify(o, event)
	}
}

func (m *Manager) notify(o observer, event types.SessionEvent) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Errorf("session observer panicked on %s: %v", event.Type, r)
		}
	}()
	o.fn(event)
}

func (m *Manager) event(t types.SessionEventType, state State) types.SessionEvent {
	e := types.NewSessionEvent(t, state.String())
	e.Time = m.clock.Now()
	return e
}

// setStateLocked records a transition. It must be called with mu held.
func (m *Manager) setStateLocked(s State) {
	if m.state != s {
		m.logger.With("from", m.state.String(), "to", s.String()).Debugf("session state change")
	}
	m.state = s
	m.since = m.clock.Now()
	m.connected.Store(s == StateReady)
}

// cancelLoopLocked detaches the reconnect loop and returns a function that
// cancels it and waits for it to exit. It must be called with mu held and
// the returned function called without it.
func (m *Manager) cancelLoopLocked() func(ctx context.Context) {
	cancel, done := m.loopCancel, m.loopDone
	m.loopCancel, m.loopDone = nil, nil
	return func(ctx context.Context) {
		if cancel == nil {
			return
		}
		cancel()
		select {
		case <-done:
		case <-ctx.Done():
		}
	}
}

func (m *Manager) isStopping() bool {
	return m.stopping.Load() > 0
}

// Start creates and verifies a handle. It is a no-op when already ready.
func (m *Manager) Start(ctx context.Context) error {
	if m.isStopping() {
		return ErrStopping
	}

	m.mu.Lock()
	switch m.state {
	case StateReady:
		m.mu.Unlock()
		return nil
	case StateStarting:
		done := m.startDone
		m.mu.Unlock()
		return m.awaitStart(ctx, done)
	case StateStopped:
	default:
		state := m.state
		m.mu.Unlock()
		return fmt.Errorf("%w: session is %s", ErrServiceUnavailable, state)
	}
	epoch, done := m.beginStartLocked()
	m.mu.Unlock()
	defer close(done)

	return m.startLoop(ctx, epoch)
}

// beginStartLocked moves to StateStarting under a new epoch. The caller
// closes the returned channel once its start attempt is over.
func (m *Manager) beginStartLocked() (uint64, chan struct{}) {
	m.epoch++
	m.reconnectAttempts = 0
	m.lastErr = nil
	m.startDone = make(chan struct{})
	m.setStateLocked(StateStarting)
	return m.epoch, m.startDone
}

// awaitStart waits for the start owning done to finish and reports whether
// it left the session ready.
func (m *Manager) awaitStart(ctx context.Context, done <-chan struct{}) error {
	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	_, err := m.readyHandle()
	return err
}

func (m *Manager) startLoop(ctx context.Context, epoch uint64) error {
	m.emit(m.event(types.EventTypeStarting, StateStarting))

	var lastErr error
	for attempt := 1; attempt <= m.opts.StartRetries; attempt++ {
		if attempt > 1 {
			if err := m.wait(ctx, m.opts.StartRetryDelay*time.Duration(attempt-1)); err != nil {
				lastErr = err
				break
			}
		}
		if m.superseded(epoch) {
			return fmt.Errorf("%w: start superseded", ErrServiceUnavailable)
		}

		handle, err := m.createVerified(ctx)
		if err == nil {
			started := m.event(types.EventTypeStarted, StateReady).WithAttempt(attempt)
			if m.commitReady(epoch, handle, started) {
				m.logger.Infof("session ready after %d attempt(s)", attempt)
				return nil
			}
			return fmt.Errorf("%w: start superseded", ErrServiceUnavailable)
		}

		lastErr = err
		m.logger.Warnf("start attempt %d/%d failed: %v", attempt, m.opts.StartRetries, err)
		if ctx.Err() != nil {
			break
		}
	}

	m.mu.Lock()
	current := m.epoch == epoch
	if current {
		m.lastErr = lastErr
		m.setStateLocked(StateStopped)
	}
	m.mu.Unlock()

	if current {
		m.emit(m.event(types.EventTypeStartFailed, StateStopped).WithError(lastErr))
	}
	return fmt.Errorf("%w: %w", ErrStartFailed, lastErr)
}

func (m *Manager) superseded(epoch uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.epoch != epoch || m.isStopping()
}

// createVerified creates a handle and runs the full probe on it.
func (m *Manager) createVerified(ctx context.Context) (automation.Handle, error) {
	handle, err := m.factory.Create(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := handle.ListTabs(ctx); err != nil {
		m.destroy(handle)
		return nil, fmt.Errorf("handle verification failed: %w", err)
	}
	return handle, nil
}

// commitReady installs handle if epoch is still current; otherwise the handle is destroyed.
func (m *Manager) commitReady(epoch uint64, handle automation.Handle, event types.SessionEvent) bool {
	m.mu.Lock()
	if m.epoch != epoch || m.isStopping() {
		m.mu.Unlock()
		m.destroy(handle)
		return false
	}

	m.handle = handle
	m.reconnectAttempts = 0
	m.lastErr = nil
	m.setStateLocked(StateReady)
	if m.loopCancel != nil {
		m.loopCancel()
		m.loopCancel, m.loopDone = nil, nil
	}
	m.mu.Unlock()

	m.emit(event)
	return true
}

func (m *Manager) destroy(handle automation.Handle) {
	if handle == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), destroyTimeout)
	defer cancel()
	if err := handle.Destroy(ctx); err != nil {
		m.logger.Debugf("destroying handle: %v", err)
	}
}

// EnsureReady returns a verified handle, starting the session when it is stopped.
// While a start is in flight it waits for that start. While the session is
// reconnecting or stopping it returns ErrServiceUnavailable. A failed probe on a ready session starts the
// reconnect loop and also returns ErrServiceUnavailable.
func (m *Manager) EnsureReady(ctx context.Context) (automation.Handle, error) {
	if m.isStopping() {
		return nil, fmt.Errorf("%w: %w", ErrServiceUnavailable, ErrStopping)
	}

	m.mu.Lock()
	state, handle, starting := m.state, m.handle, m.startDone
	m.mu.Unlock()

	switch state {
	case StateStarting:
		if err := m.awaitStart(ctx, starting); err != nil {
			return nil, err
		}
		return m.readyHandle()
	case StateStopped:
		if err := m.Start(ctx); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrServiceUnavailable, err)
		}
		return m.readyHandle()
	case StateReady:
		if err := m.probe(ctx, handle); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			m.markDisconnected(handle, err)
			return nil, fmt.Errorf("%w: %w", ErrServiceUnavailable, err)
		}
		return handle, nil
	default:
		return nil, fmt.Errorf("%w: session is %s", ErrServiceUnavailable, state)
	}
}

func (m *Manager) readyHandle() (automation.Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateReady || m.handle == nil {
		if m.lastErr != nil {
			return nil, fmt.Errorf("%w: session is %s: %v", ErrServiceUnavailable, m.state, m.lastErr)
		}
		return nil, fmt.Errorf("%w: session is %s", ErrServiceUnavailable, m.state)
	}
	return m.handle, nil
}

// probe checks liveness cheaply first. A connection-class failure of the
// quick probe is final; any other failure escalates to the full probe.
func (m *Manager) probe(ctx context.Context, handle automation.Handle) error {
	err := handle.ShowStatus(ctx, m.opts.StatusMessage)
	if err == nil {
		return nil
	}
	if IsConnectionError(err) {
		return err
	}

	m.logger.Debugf("quick probe inconclusive, running full probe: %v", err)
	if _, err := handle.ListTabs(ctx); err != nil {
		return err
	}
	return nil
}

// markDisconnected moves a ready session to reconnecting, unless another
// caller already did or a stop is in progress.
func (m *Manager) markDisconnected(handle automation.Handle, cause error) {
	m.mu.Lock()
	if m.state != StateReady || m.handle != handle || m.isStopping() {
		m.mu.Unlock()
		return
	}

	m.handle = nil
	m.lastErr = cause
	m.reconnectAttempts = 0
	m.epoch++
	m.setStateLocked(StateReconnecting)
	m.startReconnectLoopLocked(m.epoch)
	m.mu.Unlock()

	m.logger.Warnf("session disconnected: %v", cause)
	m.destroy(handle)
	m.emit(m.event(types.EventTypeDisconnected, StateReconnecting).WithError(cause))
}

func (m *Manager) startReconnectLoopLocked(epoch uint64) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	m.loopCancel, m.loopDone = cancel, done
	go m.reconnectLoop(ctx, epoch, done)
}

func (m *Manager) reconnectLoop(ctx context.Context, epoch uint64, done chan struct{}) {
	defer close(done)

	ticker := m.clock.Ticker(m.opts.ReconnectInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if m.isStopping() {
			return
		}
		if finished := m.reconnectTick(ctx, epoch); finished {
			return
		}
	}
}

// reconnectTick makes one recreate attempt and reports whether the loop is over.
func (m *Manager) reconnectTick(ctx context.Context, epoch uint64) bool {
	m.mu.Lock()
	if ctx.Err() != nil || m.isStopping() || m.epoch != epoch || m.state != StateReconnecting {
		m.mu.Unlock()
		return true
	}
	m.reconnectAttempts++
	attempt := m.reconnectAttempts
	m.mu.Unlock()

	m.emit(m.event(types.EventTypeReconnectAttempt, StateReconnecting).WithAttempt(attempt))

	handle, err := m.createVerified(ctx)
	if err == nil {
		reconnected := m.event(types.EventTypeReconnected, StateReady).WithAttempt(attempt)
		if m.commitReady(epoch, handle, reconnected) {
			m.logger.Infof("session reconnected after %d attempt(s)", attempt)
		}
		return true
	}

	m.logger.Warnf("reconnect attempt %d/%d failed: %v", attempt, m.opts.MaxReconnectAttempts, err)
	if attempt < m.opts.MaxReconnectAttempts {
		return false
	}

	m.mu.Lock()
	current := m.epoch == epoch && m.state == StateReconnecting && !m.isStopping()
	if current {
		m.lastErr = err
		m.setStateLocked(StateStopped)
		if m.loopCancel != nil {
			m.loopCancel()
		}
		m.loopCancel, m.loopDone = nil, nil
	}
	m.mu.Unlock()

	if current {
		m.logger.Errorf("giving up after %d reconnect attempts", attempt)
		m.emit(m.event(types.EventTypeReconnectFailed, StateStopped).WithAttempt(attempt).WithError(err))
	}
	return true
}

// Stop cancels any reconnect loop, destroys the handle and moves to StateStopped.
// A stop in progress suppresses reconnection and rejects ForceReconnect.
func (m *Manager) Stop(ctx context.Context) error {
	m.stopping.Add(1)
	defer m.stopping.Add(-1)

	m.mu.Lock()
	m.epoch++
	waitLoop := m.cancelLoopLocked()
	handle := m.handle
	m.handle = nil
	wasStopped := m.state == StateStopped
	m.setStateLocked(StateStopping)
	m.mu.Unlock()

	waitLoop(ctx)

	var err error
	if handle != nil {
		if derr := handle.Destroy(ctx); derr != nil {
			err = fmt.Errorf("failed to destroy handle: %w", derr)
		}
	}

	m.mu.Lock()
	m.reconnectAttempts = 0
	m.lastErr = nil
	m.setStateLocked(StateStopped)
	m.mu.Unlock()

	if !wasStopped {
		m.logger.Infof("session stopped")
		m.emit(m.event(types.EventTypeStopped, StateStopped))
	}
	return err
}

// ForceReconnect discards the current handle and creates a new one
// immediately, bypassing the reconnect timer. When a start is already in
// flight it waits for that start instead of beginning another.
func (m *Manager) ForceReconnect(ctx context.Context) error {
	if m.isStopping() {
		return ErrStopping
	}

	m.mu.Lock()
	switch m.state {
	case StateStopping:
		m.mu.Unlock()
		return ErrStopping
	case StateStarting:
		done := m.startDone
		m.mu.Unlock()
		m.logger.Debugf("force reconnect joined a start in progress")
		return m.awaitStart(ctx, done)
	}
	waitLoop := m.cancelLoopLocked()
	handle := m.handle
	m.handle = nil
	epoch, done := m.beginStartLocked()
	m.mu.Unlock()
	defer close(done)

	waitLoop(ctx)
	m.destroy(handle)

	m.logger.Infof("forcing reconnect")
	return m.startLoop(ctx, epoch)
}

// wait sleeps for d on the manager clock or until ctx ends.
func (m *Manager) wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := m.clock.Timer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
