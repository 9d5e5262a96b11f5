package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/launchpointhq/liveboard/internal/auth"
	"github.com/launchpointhq/liveboard/internal/model"
)

// SessionProvider supplies auth sessions. auth.Provider satisfies it; the
// manager consumes sessions and never manages credentials itself.
type SessionProvider interface {
	CurrentSession(ctx context.Context) (*auth.Session, error)
	Refresh(ctx context.Context) (*auth.Session, error)
}

// Manager owns the lifecycle of one logical realtime connection: it
// authenticates, opens the transport, attaches change-feed subscriptions,
// probes liveness, and recovers from failure without caller intervention.
//
// At most one transport is live per Manager and connect attempts are
// serialized. Every retryable failure is handled by the backoff loop and
// surfaced to callers only as a state transition; after the retry budget is
// exhausted the manager degrades to fallback polling instead of going dark.
type Manager struct {
	cfg      ManagerConfig
	sessions SessionProvider
	logger   *slog.Logger

	newTransport TransportFactory
	fallback     FallbackRunner
	onHeartbeat  func(rtt time.Duration)

	cmdID atomic.Int64

	mu          sync.Mutex
	state       State
	transport   Transport
	attempt     uint64        // current attempt id; stale callbacks compare against it
	attemptDone chan struct{} // closed when the current attempt is superseded
	inFlight    bool          // a connect/retry cycle is active
	retryTimer  *time.Timer
	genCtx      context.Context // lifetime of the current connect generation
	genCancel   context.CancelFunc
	subs        map[string]*Subscription
	pending     map[int64]chan Frame
	observers   map[int]func(State)
	nextObsID   int
	fallbackOn  bool
	tokenExp    time.Time
	lastRTT     time.Duration
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithTransportFactory overrides how transports are built. Tests use this to
// inject fake transports.
func WithTransportFactory(f TransportFactory) Option {
	return func(m *Manager) {
		m.newTransport = f
	}
}

// WithFallback sets the runner started when the manager enters fallback and
// stopped when push updates resume.
func WithFallback(f FallbackRunner) Option {
	return func(m *Manager) {
		m.fallback = f
	}
}

// WithHeartbeatObserver registers a callback invoked with each heartbeat
// round-trip time. Used to feed metrics.
func WithHeartbeatObserver(fn func(rtt time.Duration)) Option {
	return func(m *Manager) {
		m.onHeartbeat = fn
	}
}

// NewManager creates a connection manager. It does not connect; callers own
// the Connect/Disconnect lifecycle, typically tied to their own mount/teardown.
func NewManager(cfg ManagerConfig, sessions SessionProvider, opts ...Option) *Manager {
	def := DefaultManagerConfig()
	if cfg.Retry.BaseDelay == 0 {
		cfg.Retry.BaseDelay = def.Retry.BaseDelay
	}
	if cfg.Retry.MaxDelay == 0 {
		cfg.Retry.MaxDelay = def.Retry.MaxDelay
	}
	if cfg.Retry.MaxRetries == 0 {
		cfg.Retry.MaxRetries = def.Retry.MaxRetries
	}
	if cfg.HandshakeTimeout == 0 {
		cfg.HandshakeTimeout = def.HandshakeTimeout
	}
	if cfg.HeartbeatInterval == 0 {
		cfg.HeartbeatInterval = def.HeartbeatInterval
	}
	if cfg.HeartbeatTimeout == 0 {
		cfg.HeartbeatTimeout = def.HeartbeatTimeout
	}
	if cfg.RefreshBuffer == 0 {
		cfg.RefreshBuffer = def.RefreshBuffer
	}
	if cfg.CommandTimeout == 0 {
		cfg.CommandTimeout = def.CommandTimeout
	}
	if cfg.BufferSize == 0 {
		cfg.BufferSize = def.BufferSize
	}
	if cfg.SubscriptionRetryBudget == 0 {
		cfg.SubscriptionRetryBudget = def.SubscriptionRetryBudget
	}

	m := &Manager{
		cfg:       cfg,
		sessions:  sessions,
		logger:    slog.Default(),
		subs:      make(map[string]*Subscription),
		pending:   make(map[int64]chan Frame),
		observers: make(map[int]func(State)),
		state:     State{Status: StatusDisconnected},
	}

	for _, opt := range opts {
		opt(m)
	}

	if m.newTransport == nil {
		logger := m.logger
		m.newTransport = func(cc ClientConfig) Transport {
			return NewClient(cc, logger)
		}
	}

	return m
}

// State returns a snapshot of the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// OnStateChange registers an observer invoked on every state transition.
// The returned function cancels the registration.
func (m *Manager) OnStateChange(fn func(State)) func() {
	m.mu.Lock()
	id := m.nextObsID
	m.nextObsID++
	m.observers[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.observers, id)
		m.mu.Unlock()
	}
}

// Subscribe registers a change-feed subscription. Registrations made before
// Connect are attached during the handshake; registrations made while
// connected are attached immediately. Subscriptions survive reconnects.
func (m *Manager) Subscribe(topic string, events []string, handler ChangeHandler) error {
	if topic == "" {
		return fmt.Errorf("%w: empty topic", ErrBadSubscription)
	}
	if handler == nil {
		return fmt.Errorf("%w: nil handler", ErrBadSubscription)
	}
	if len(events) == 0 {
		return fmt.Errorf("%w: no event filter", ErrBadSubscription)
	}
	for _, ev := range events {
		if !model.KnownEvent(ev) {
			return fmt.Errorf("%w: unknown event %q", ErrBadSubscription, ev)
		}
	}

	sub := &Subscription{Topic: topic, Events: events, Handler: handler}

	m.mu.Lock()
	m.subs[topic] = sub
	t := m.transport
	id := m.attempt
	done := m.attemptDone
	connected := m.state.Status == StatusConnected
	m.mu.Unlock()

	if !connected || t == nil {
		return nil
	}

	if err := m.sendSubscribe(id, t, done, sub); err != nil {
		return err
	}
	return nil
}

// Unsubscribe detaches and forgets a topic subscription.
func (m *Manager) Unsubscribe(topic string) {
	m.mu.Lock()
	delete(m.subs, topic)
	t := m.transport
	id := m.attempt
	done := m.attemptDone
	connected := m.state.Status == StatusConnected
	m.mu.Unlock()

	if !connected || t == nil {
		return
	}

	// Best effort; a failed unsubscribe just means the service keeps
	// sending events we no longer dispatch.
	cmd := Command{Action: "unsubscribe", Params: UnsubscribeParams{Topic: topic}}
	if _, err := m.sendAwait(id, t, done, cmd, m.cfg.CommandTimeout); err != nil {
		m.logger.Warn("unsubscribe failed", "topic", topic, "error", err)
	}
}

// Connect starts the connection lifecycle. It is idempotent: calling it while
// an attempt is in flight, or while connected, is a no-op. Retryable failures
// never surface here; they drive the error/reconnecting/fallback transitions
// observable through State and OnStateChange.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.inFlight || m.state.Status == StatusConnected {
		m.mu.Unlock()
		return nil
	}

	if m.genCtx == nil {
		m.genCtx, m.genCancel = context.WithCancel(ctx)
	}

	// An explicit Connect from fallback or error restarts with a fresh budget.
	m.state.RetryCount = 0
	m.inFlight = true
	id := m.nextAttemptLocked()
	m.mu.Unlock()

	m.stopFallbackIfRunning()

	go m.connectAttempt(id)
	return nil
}

// Disconnect cancels pending timers, detaches subscriptions from the
// transport, releases it, and transitions to disconnected. Safe to call from
// any state, any number of times. Late callbacks from a superseded attempt
// are discarded, so no state mutation happens after Disconnect returns.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.supersedeAttemptLocked()
	m.inFlight = false
	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
	}
	if m.genCancel != nil {
		m.genCancel()
		m.genCtx, m.genCancel = nil, nil
	}
	t := m.transport
	m.transport = nil
	m.pending = make(map[int64]chan Frame)

	changed := m.state.Status != StatusDisconnected
	m.state = State{Status: StatusDisconnected}
	var obs []func(State)
	var snap State
	if changed {
		obs, snap = m.observersLocked()
	}
	m.mu.Unlock()

	if t != nil {
		t.Close()
	}
	m.stopFallbackIfRunning()
	m.notify(obs, snap)
}

// nextAttemptLocked supersedes the current attempt and allocates a new id.
func (m *Manager) nextAttemptLocked() uint64 {
	m.invalidateAttemptLocked()
	m.attempt++
	m.attemptDone = make(chan struct{})
	m.pending = make(map[int64]chan Frame)
	return m.attempt
}

// invalidateAttemptLocked unblocks goroutines belonging to the current attempt.
func (m *Manager) invalidateAttemptLocked() {
	if m.attemptDone != nil {
		close(m.attemptDone)
		m.attemptDone = nil
	}
}

// supersedeAttemptLocked invalidates the current attempt and advances the id
// without starting a new one. An attempt still inside its handshake when this
// runs fails every staleness guard when it completes, so it can neither
// install its transport nor transition state.
func (m *Manager) supersedeAttemptLocked() {
	m.invalidateAttemptLocked()
	m.attempt++
}

// observersLocked snapshots the observer list and state for notification
// outside the lock.
func (m *Manager) observersLocked() ([]func(State), State) {
	obs := make([]func(State), 0, len(m.observers))
	for _, fn := range m.observers {
		obs = append(obs, fn)
	}
	return obs, m.state
}

func (m *Manager) notify(obs []func(State), snap State) {
	for _, fn := range obs {
		fn(snap)
	}
}

// transitionIfCurrent applies a state mutation if the attempt is still
// current, then notifies observers. Returns false when the attempt is stale.
func (m *Manager) transitionIfCurrent(id uint64, mut func(*State)) bool {
	m.mu.Lock()
	if id != m.attempt {
		m.mu.Unlock()
		return false
	}
	mut(&m.state)
	obs, snap := m.observersLocked()
	m.mu.Unlock()

	m.notify(obs, snap)
	return true
}

// connectAttempt runs one full connect sequence: session, transport handshake,
// subscription attach. Any failure transitions to error and schedules a retry.
func (m *Manager) connectAttempt(id uint64) {
	m.mu.Lock()
	ctx := m.genCtx
	done := m.attemptDone
	if id != m.attempt || ctx == nil {
		m.mu.Unlock()
		return
	}
	reconnecting := m.state.RetryCount > 0
	m.mu.Unlock()

	if !m.transitionIfCurrent(id, func(s *State) {
		s.Status = StatusConnecting
	}) {
		return
	}

	if reconnecting {
		m.logger.Info("attempting reconnection", "attempt", id)
	}

	// A stale credential must never open a connection.
	session, err := m.freshSession(ctx)
	if err != nil {
		m.attemptFailed(id, err)
		return
	}

	t := m.newTransport(ClientConfig{
		URL:              m.cfg.URL,
		Token:            session.AccessToken,
		HandshakeTimeout: m.cfg.HandshakeTimeout,
		WriteTimeout:     5 * time.Second,
		BufferSize:       m.cfg.BufferSize,
	})

	hctx, cancel := context.WithTimeout(ctx, m.cfg.HandshakeTimeout)
	err = t.Connect(hctx)
	cancel()
	if err != nil {
		t.Close()
		m.attemptFailed(id, err)
		return
	}

	// Install the transport unless a newer attempt or Disconnect superseded us.
	m.mu.Lock()
	if id != m.attempt {
		m.mu.Unlock()
		t.Close()
		return
	}
	m.transport = t
	m.tokenExp = session.ExpiresAt
	m.mu.Unlock()

	go m.readLoop(id, t, done)

	if err, terminal := m.attachSubscriptions(id, t, done); err != nil {
		m.mu.Lock()
		if m.transport == t {
			m.transport = nil
		}
		m.mu.Unlock()
		t.Close()
		if terminal {
			m.failTerminal(id, err)
		} else {
			m.attemptFailed(id, err)
		}
		return
	}

	if !m.transitionIfCurrent(id, func(s *State) {
		now := time.Now()
		s.Status = StatusConnected
		s.Authenticated = true
		s.RetryCount = 0
		s.LastError = ""
		s.ConnectedAt = now
		s.LastActivity = now
	}) {
		t.Close()
		return
	}

	m.mu.Lock()
	m.inFlight = false
	m.mu.Unlock()

	m.stopFallbackIfRunning()

	go m.heartbeatLoop(id, t, done)

	m.logger.Info("realtime connected", "subscriptions", len(m.subs))
}

// freshSession returns a session safe for the handshake, refreshing
// proactively when the current one is inside the expiry buffer.
func (m *Manager) freshSession(ctx context.Context) (*auth.Session, error) {
	if m.sessions == nil {
		return nil, ErrAuthenticationRequired
	}

	session, err := m.sessions.CurrentSession(ctx)
	if err != nil || session == nil || session.ExpiresWithin(m.cfg.RefreshBuffer) {
		session, err = m.sessions.Refresh(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrAuthenticationRequired, err)
		}
	}

	if !session.Valid() {
		return nil, ErrAuthenticationRequired
	}
	return session, nil
}

// attachSubscriptions attaches every registered subscription on a fresh
// transport. terminal reports a rejection past its retry budget.
func (m *Manager) attachSubscriptions(id uint64, t Transport, done chan struct{}) (err error, terminal bool) {
	m.mu.Lock()
	subs := make([]*Subscription, 0, len(m.subs))
	for _, sub := range m.subs {
		subs = append(subs, sub)
	}
	budget := m.cfg.SubscriptionRetryBudget
	m.mu.Unlock()

	for _, sub := range subs {
		if err := m.sendSubscribe(id, t, done, sub); err != nil {
			if errors.Is(err, ErrSubscriptionRejected) {
				m.mu.Lock()
				sub.rejections++
				rejections := sub.rejections
				m.mu.Unlock()

				if rejections >= budget {
					return fmt.Errorf("topic %q rejected %d times: %w", sub.Topic, rejections, err), true
				}
			}
			return err, false
		}
	}
	return nil, false
}

// sendSubscribe sends one subscribe command and waits for the acknowledgment.
func (m *Manager) sendSubscribe(id uint64, t Transport, done chan struct{}, sub *Subscription) error {
	cmd := Command{
		Action: "subscribe",
		Params: SubscribeParams{Topic: sub.Topic, Events: sub.Events},
	}

	frame, err := m.sendAwait(id, t, done, cmd, m.cfg.CommandTimeout)
	if err != nil {
		return err
	}
	if frame.Type == "error" {
		var errMsg ErrorMsg
		json.Unmarshal(frame.Msg, &errMsg)
		return fmt.Errorf("%w: topic %q: %s: %s", ErrSubscriptionRejected, sub.Topic, errMsg.Code, errMsg.Message)
	}

	m.logger.Debug("subscribed", "topic", sub.Topic, "events", sub.Events)
	return nil
}

// sendAwait sends a command and waits for its correlated response frame.
func (m *Manager) sendAwait(id uint64, t Transport, done chan struct{}, cmd Command, timeout time.Duration) (Frame, error) {
	cmd.ID = m.cmdID.Add(1)
	respCh := make(chan Frame, 1)

	m.mu.Lock()
	if id != m.attempt {
		m.mu.Unlock()
		return Frame{}, ErrNotConnected
	}
	m.pending[cmd.ID] = respCh
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		delete(m.pending, cmd.ID)
		m.mu.Unlock()
	}()

	data, err := json.Marshal(cmd)
	if err != nil {
		return Frame{}, fmt.Errorf("marshal command: %w", err)
	}
	if err := t.Send(data); err != nil {
		return Frame{}, err
	}

	select {
	case <-done:
		return Frame{}, ErrNotConnected
	case <-time.After(timeout):
		return Frame{}, ErrTimeout
	case frame := <-respCh:
		return frame, nil
	}
}

// readLoop consumes frames from a transport and routes them. It exits when
// the attempt is superseded or the transport reports an error.
func (m *Manager) readLoop(id uint64, t Transport, done chan struct{}) {
	for {
		select {
		case <-done:
			return

		case err := <-t.Errors():
			m.handleConnectionLoss(id, err)
			return

		case data, ok := <-t.Messages():
			if !ok {
				return
			}

			var frame Frame
			if err := json.Unmarshal(data, &frame); err != nil {
				m.logger.Warn("unparseable frame", "error", err)
				continue
			}

			switch frame.Type {
			case "change":
				m.dispatchChange(id, frame)
			case "subscribed", "unsubscribed", "ack", "error":
				m.routeResponse(id, frame)
			default:
				m.logger.Debug("ignoring frame", "type", frame.Type)
			}
		}
	}
}

// routeResponse delivers a correlated response to its waiting sender.
func (m *Manager) routeResponse(id uint64, frame Frame) {
	m.mu.Lock()
	if id != m.attempt {
		m.mu.Unlock()
		return
	}
	ch, ok := m.pending[frame.ID]
	if ok {
		delete(m.pending, frame.ID)
	}
	m.mu.Unlock()

	if ok {
		select {
		case ch <- frame:
		default:
		}
	}
}

// dispatchChange decodes a change frame and invokes the topic's handler.
func (m *Manager) dispatchChange(id uint64, frame Frame) {
	var ev model.ChangeEvent
	if err := json.Unmarshal(frame.Msg, &ev); err != nil {
		m.logger.Warn("unparseable change event", "error", err)
		return
	}
	if ev.Topic == "" {
		ev.Topic = frame.Topic
	}

	m.mu.Lock()
	if id != m.attempt {
		m.mu.Unlock()
		return
	}
	m.state.LastActivity = time.Now()
	sub := m.subs[ev.Topic]
	m.mu.Unlock()

	if sub == nil || !eventMatches(sub.Events, ev.Event) {
		return
	}
	sub.Handler(ev)
}

func eventMatches(filter []string, event model.EventType) bool {
	for _, f := range filter {
		if model.EventType(f) == model.EventAll || model.EventType(f) == event {
			return true
		}
	}
	return false
}

// heartbeatLoop probes liveness while connected. A missed heartbeat is treated
// as connection loss immediately; silent failures never produce a transport
// close event, so waiting for one would leave the feed dead indefinitely.
func (m *Manager) heartbeatLoop(id uint64, t Transport, done chan struct{}) {
	ticker := time.NewTicker(m.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			start := time.Now()
			cmd := Command{Action: "heartbeat"}
			if _, err := m.sendAwait(id, t, done, cmd, m.cfg.HeartbeatTimeout); err != nil {
				m.logger.Warn("heartbeat failed", "error", err)
				m.handleConnectionLoss(id, ErrHeartbeatTimeout)
				return
			}
			rtt := time.Since(start)

			m.mu.Lock()
			current := id == m.attempt
			if current {
				m.lastRTT = rtt
				m.state.LastActivity = time.Now()
			}
			hb := m.onHeartbeat
			m.mu.Unlock()

			if current && hb != nil {
				hb(rtt)
			}
		}
	}
}

// handleConnectionLoss tears down the current transport and re-enters the
// reconnect cycle. Duplicate loss signals for the same attempt are ignored.
func (m *Manager) handleConnectionLoss(id uint64, err error) {
	m.mu.Lock()
	if id != m.attempt || m.transport == nil {
		m.mu.Unlock()
		return
	}
	t := m.transport
	m.transport = nil
	m.inFlight = true
	m.state.Authenticated = false
	m.mu.Unlock()

	t.Close()

	m.logger.Warn("connection lost", "error", err)
	m.attemptFailed(id, err)
}

// attemptFailed transitions to error and either schedules the next retry per
// the backoff policy or, with the budget exhausted, degrades to fallback.
func (m *Manager) attemptFailed(id uint64, err error) {
	if !m.transitionIfCurrent(id, func(s *State) {
		s.Status = StatusError
		s.LastError = err.Error()
		s.Authenticated = false
	}) {
		return
	}

	m.mu.Lock()
	if id != m.attempt {
		m.mu.Unlock()
		return
	}

	retry := m.state.RetryCount
	if retry >= m.cfg.Retry.MaxRetries {
		m.inFlight = false
		m.invalidateAttemptLocked()
		m.state.Status = StatusFallback
		obs, snap := m.observersLocked()
		m.mu.Unlock()

		m.logger.Warn("retry budget exhausted, degrading to fallback polling",
			"retries", retry,
			"error", err,
		)
		m.notify(obs, snap)
		m.startFallbackIfConfigured()
		return
	}

	delay := m.cfg.Retry.Delay(retry)
	m.state.RetryCount = retry + 1
	m.state.Status = StatusReconnecting
	m.retryTimer = time.AfterFunc(delay, m.retryFire)
	obs, snap := m.observersLocked()
	m.mu.Unlock()

	m.logger.Info("scheduling reconnect",
		"delay", delay,
		"retry", retry+1,
		"max_retries", m.cfg.Retry.MaxRetries,
	)
	m.notify(obs, snap)
}

// retryFire starts the next attempt when the backoff timer elapses.
func (m *Manager) retryFire() {
	m.mu.Lock()
	if !m.inFlight || m.genCtx == nil {
		m.mu.Unlock()
		return
	}
	m.retryTimer = nil
	id := m.nextAttemptLocked()
	m.mu.Unlock()

	m.connectAttempt(id)
}

// failTerminal surfaces a non-retryable failure as a terminal error state.
func (m *Manager) failTerminal(id uint64, err error) {
	m.mu.Lock()
	if id != m.attempt {
		m.mu.Unlock()
		return
	}
	m.inFlight = false
	m.invalidateAttemptLocked()
	m.transport = nil
	m.state.Status = StatusError
	m.state.LastError = err.Error()
	m.state.Authenticated = false
	obs, snap := m.observersLocked()
	m.mu.Unlock()

	m.logger.Error("terminal connection error", "error", err)
	m.notify(obs, snap)
}

// startFallbackIfConfigured starts the fallback runner exactly once.
func (m *Manager) startFallbackIfConfigured() {
	m.mu.Lock()
	f := m.fallback
	ctx := m.genCtx
	start := f != nil && !m.fallbackOn && ctx != nil
	if start {
		m.fallbackOn = true
	}
	m.mu.Unlock()

	if !start {
		return
	}

	if err := f.Start(ctx); err != nil {
		m.logger.Error("failed to start fallback poller", "error", err)
		m.mu.Lock()
		m.fallbackOn = false
		m.mu.Unlock()
	}
}

// stopFallbackIfRunning stops the fallback runner if it is active.
func (m *Manager) stopFallbackIfRunning() {
	m.mu.Lock()
	f := m.fallback
	stop := f != nil && m.fallbackOn
	if stop {
		m.fallbackOn = false
	}
	m.mu.Unlock()

	if !stop {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := f.Stop(ctx); err != nil {
		m.logger.Warn("failed to stop fallback poller", "error", err)
	}
}
