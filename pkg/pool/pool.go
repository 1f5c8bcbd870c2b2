// Package pool implements an adaptive connection pool: a bounded registry of
// reusable backend connections with FIFO-fair queued acquisition, reactive
// and periodic capacity scaling, and background health reaping. Connections
// are produced by a caller-supplied ConnectionFactory; the pool owns their
// lifecycle but never their protocol.
package pool

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/trmlabs/connpool/pkg/resilience"
)

// State represents the pool lifecycle state.
type State int32

const (
	// StateNew is the state before Initialize.
	StateNew State = iota
	// StateRunning accepts acquisitions and runs the control loops.
	StateRunning
	// StateDraining rejects new work while in-flight releases complete.
	StateDraining
	// StateClosed is the terminal state after CloseAll.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

const (
	// drainWaitCap bounds the Drain busy-wait for active acquisitions.
	drainWaitCap = 30 * time.Second
	// drainPollInterval is the drain wait poll cadence.
	drainPollInterval = 25 * time.Millisecond
)

// Pool is an explicit pool instance. There is no process-wide default;
// callers construct pools with New and pass them around, which allows
// multiple independently configured pools and deterministic tests.
type Pool struct {
	factory ConnectionFactory
	logger  zerolog.Logger
	emitter Emitter
	retrier *resilience.Retrier

	mu    sync.Mutex
	cfg   Config
	state State
	conns map[string]*Conn
	queue *waitQueue

	counters counters

	loopCancel context.CancelFunc
	loopWG     sync.WaitGroup
}

// Option configures a Pool at construction.
type Option func(*Pool)

// WithLogger replaces the default package logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(p *Pool) { p.logger = logger }
}

// WithEmitter registers the sink that receives pool events.
func WithEmitter(emitter Emitter) Option {
	return func(p *Pool) { p.emitter = emitter }
}

// WithRetrier sets the retry policy applied to connection creation during
// seeding and periodic scale-up. The reactive acquisition path is always
// single-attempt so it never blocks past the connection timeout.
func WithRetrier(r *resilience.Retrier) Option {
	return func(p *Pool) { p.retrier = r }
}

// New constructs a pool in StateNew. Initialize must be called before any
// acquisition.
func New(cfg Config, factory ConnectionFactory, opts ...Option) (*Pool, error) {
	if factory == nil {
		return nil, fmt.Errorf("connection factory is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pool configuration: %w", err)
	}

	p := &Pool{
		factory: factory,
		logger:  log.Logger,
		emitter: nopEmitter{},
		cfg:     cfg,
		state:   StateNew,
		conns:   make(map[string]*Conn),
		queue:   newWaitQueue(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Initialize seeds the registry and starts the scaling and health loops.
// It fails with ErrAlreadyInitialized on a running or draining pool. A
// closed pool may be re-initialized.
func (p *Pool) Initialize(ctx context.Context) error {
	p.mu.Lock()
	if p.state == StateRunning || p.state == StateDraining {
		p.mu.Unlock()
		return ErrAlreadyInitialized
	}
	p.state = StateRunning
	cfg := p.cfg
	p.mu.Unlock()

	seed := cfg.MinSize
	if seed < 2 {
		seed = 2
	}
	if seed > cfg.MaxSize {
		seed = cfg.MaxSize
	}

	created := 0
	var lastErr error
	for i := 0; i < seed; i++ {
		if _, err := p.addConnection(ctx, true); err != nil {
			lastErr = err
			p.logger.Warn().Err(err).Msg("Seed connection creation failed")
			continue
		}
		created++
	}
	if created == 0 && seed > 0 {
		p.mu.Lock()
		p.state = StateNew
		p.mu.Unlock()
		return fmt.Errorf("seeding pool: %w", lastErr)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	p.mu.Lock()
	p.loopCancel = cancel
	p.mu.Unlock()

	p.loopWG.Add(2)
	go p.scaleLoop(loopCtx)
	go p.reapLoop(loopCtx)

	p.logger.Info().
		Str("target", cfg.Target).
		Int("seeded", created).
		Int("min_size", cfg.MinSize).
		Int("max_size", cfg.MaxSize).
		Msg("Connection pool initialized")

	return nil
}

// Acquire returns an idle healthy connection, growing the pool when below
// capacity and queueing the caller when saturated. A queued caller fails
// with ErrQueueTimeout once its deadline elapses, or with ErrDraining if
// the pool drains first.
func (p *Pool) Acquire(ctx context.Context) (*Conn, error) {
	start := time.Now()
	atomic.AddInt64(&p.counters.acquiresTotal, 1)

	p.mu.Lock()
	if err := p.acquirableLocked(); err != nil {
		p.mu.Unlock()
		atomic.AddInt64(&p.counters.acquiresFailed, 1)
		return nil, err
	}
	if c := p.claimIdleLocked(); c != nil {
		p.mu.Unlock()
		p.finishAcquire(c, start)
		return c, nil
	}
	saturated := len(p.conns) >= p.cfg.MaxSize
	p.mu.Unlock()

	if !saturated {
		// Reactive growth happens-before the retry of this acquisition.
		p.scaleUp(ctx, "saturation", false)
	}

	p.mu.Lock()
	if err := p.acquirableLocked(); err != nil {
		p.mu.Unlock()
		atomic.AddInt64(&p.counters.acquiresFailed, 1)
		return nil, err
	}
	if c := p.claimIdleLocked(); c != nil {
		p.mu.Unlock()
		p.finishAcquire(c, start)
		return c, nil
	}
	w := p.queue.enqueue()
	depth := p.queue.len()
	queueTimeout := p.cfg.QueueTimeout
	p.mu.Unlock()

	atomic.AddInt64(&p.counters.acquiresQueued, 1)
	p.emit(EventRequestQueued, "", "acquisition queued", map[string]interface{}{
		"queue_depth": depth,
	})

	timer := time.NewTimer(queueTimeout)
	defer timer.Stop()

	select {
	case c := <-w.ready:
		p.finishAcquire(c, start)
		return c, nil
	case err := <-w.failed:
		atomic.AddInt64(&p.counters.acquiresFailed, 1)
		return nil, err
	case <-timer.C:
		return p.abandonWait(w, start, ErrQueueTimeout)
	case <-ctx.Done():
		return p.abandonWait(w, start, ctx.Err())
	}
}

// abandonWait removes w from the queue after a deadline or cancellation.
// When a delivery raced the deadline the delivery wins and the connection
// is returned to the caller.
func (p *Pool) abandonWait(w *waiter, start time.Time, cause error) (*Conn, error) {
	p.mu.Lock()
	removed := p.queue.remove(w)
	p.mu.Unlock()

	if !removed {
		// Completed under the pool lock before we got here; the buffered
		// channel already holds the outcome.
		select {
		case c := <-w.ready:
			p.finishAcquire(c, start)
			return c, nil
		case err := <-w.failed:
			atomic.AddInt64(&p.counters.acquiresFailed, 1)
			return nil, err
		}
	}

	atomic.AddInt64(&p.counters.acquiresFailed, 1)
	if cause == ErrQueueTimeout {
		atomic.AddInt64(&p.counters.acquiresTimedOut, 1)
	}
	return nil, cause
}

// Release returns a checked-out connection to the pool and hands now-idle
// connections to queued waiters in FIFO order.
func (p *Pool) Release(c *Conn) error {
	if c == nil {
		return fmt.Errorf("cannot release a nil connection")
	}

	p.mu.Lock()
	if p.state == StateNew || p.state == StateClosed {
		p.mu.Unlock()
		return ErrNotInitialized
	}
	if _, ok := p.conns[c.id]; !ok {
		p.mu.Unlock()
		return fmt.Errorf("connection %s is not in the registry", c.id)
	}
	c.markReleased(time.Now())
	p.dispatchLocked()
	p.mu.Unlock()

	p.emit(EventConnectionReleased, c.id, "connection released", nil)
	return nil
}

// ReportError records a fault against a checked-out connection. After the
// error threshold the record is flagged unhealthy and excluded from
// availability; it is reaped once idle rather than torn down mid-operation.
func (p *Pool) ReportError(c *Conn, err error) {
	if c == nil || err == nil {
		return
	}
	n := c.recordError(err)
	if n == errorThreshold {
		p.logger.Warn().
			Str("conn_id", c.id).
			Int("error_count", n).
			Err(err).
			Msg("Connection flagged unhealthy")
		p.emit(EventConnectionLost, c.id, "connection flagged unhealthy", map[string]interface{}{
			"error_count": n,
			"last_error":  err.Error(),
		})
	}
}

// Reconfigure atomically replaces the configuration snapshot. The control
// loops pick up new thresholds and intervals on their next tick; registry
// size converges through the normal scaling paths.
func (p *Pool) Reconfigure(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid pool configuration: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	switch p.state {
	case StateNew, StateClosed:
		return ErrNotInitialized
	case StateDraining:
		return ErrDraining
	}
	old := p.cfg
	p.cfg = cfg

	p.logger.Info().
		Int("old_min", old.MinSize).Int("old_max", old.MaxSize).
		Int("new_min", cfg.MinSize).Int("new_max", cfg.MaxSize).
		Msg("Pool reconfigured")
	return nil
}

// Drain transitions the pool to StateDraining: stops the control loops,
// rejects every queued request with ErrDraining and waits for active
// acquisitions to be released. The wait is capped at 30 seconds; past the
// cap the drain proceeds anyway and is logged as forced.
func (p *Pool) Drain(ctx context.Context) error {
	p.mu.Lock()
	switch p.state {
	case StateNew, StateClosed:
		p.mu.Unlock()
		return ErrNotInitialized
	case StateDraining:
		p.mu.Unlock()
		return ErrDraining
	}
	p.state = StateDraining
	cancel := p.loopCancel
	p.loopCancel = nil
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	p.loopWG.Wait()

	p.mu.Lock()
	rejected := p.queue.failAll(ErrDraining)
	p.mu.Unlock()
	if rejected > 0 {
		p.logger.Info().Int("rejected", rejected).Msg("Rejected queued acquisitions for drain")
	}

	deadline := time.Now().Add(drainWaitCap)
	forced := false
	for {
		p.mu.Lock()
		active := p.activeLocked()
		p.mu.Unlock()
		if active == 0 {
			break
		}
		if time.Now().After(deadline) {
			forced = true
			p.logger.Warn().Int("active", active).Msg("Drain wait cap exceeded, forcing drain")
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(drainPollInterval):
		}
	}

	p.emit(EventDrainComplete, "", "pool drained", map[string]interface{}{"forced": forced})
	p.logger.Info().Bool("forced", forced).Msg("Pool drain complete")
	return nil
}

// CloseAll closes every remaining connection, clears the registry and
// transitions to StateClosed. It must follow Drain.
func (p *Pool) CloseAll() error {
	p.mu.Lock()
	if p.state != StateDraining {
		p.mu.Unlock()
		return fmt.Errorf("close requires a drained pool: %w", ErrNotInitialized)
	}
	remaining := make([]*Conn, 0, len(p.conns))
	for _, c := range p.conns {
		remaining = append(remaining, c)
	}
	p.conns = make(map[string]*Conn)
	p.state = StateClosed
	p.mu.Unlock()

	for _, c := range remaining {
		p.closeConnection(c, "pool_closed")
	}

	p.emit(EventClosed, "", "pool closed", map[string]interface{}{"closed": len(remaining)})
	p.logger.Info().Int("closed", len(remaining)).Msg("Connection pool closed")
	return nil
}

// State returns the current lifecycle state.
func (p *Pool) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// acquirableLocked returns the misuse error for the current state, or nil
// when acquisitions are allowed.
func (p *Pool) acquirableLocked() error {
	switch p.state {
	case StateNew, StateClosed:
		return ErrNotInitialized
	case StateDraining:
		return ErrDraining
	}
	return nil
}

// claimIdleLocked finds an idle healthy record, marks it acquired and
// returns it. Returns nil when no record is available.
func (p *Pool) claimIdleLocked() *Conn {
	for _, c := range p.conns {
		if c.IsAcquired() {
			continue
		}
		if p.unhealthyLocked(c) {
			continue
		}
		c.markAcquired(time.Now())
		return c
	}
	return nil
}

// unhealthyLocked reports whether a record is excluded from availability:
// the handle is not ready or the record has crossed the error threshold.
func (p *Pool) unhealthyLocked(c *Conn) bool {
	return c.faulted() || !p.factory.IsReady(c.handle)
}

// dispatchLocked satisfies queued waiters in FIFO order, one per idle
// healthy record.
func (p *Pool) dispatchLocked() {
	for p.queue.len() > 0 {
		c := p.claimIdleLocked()
		if c == nil {
			return
		}
		p.queue.deliver(c)
	}
}

func (p *Pool) activeLocked() int {
	n := 0
	for _, c := range p.conns {
		if c.IsAcquired() {
			n++
		}
	}
	return n
}

func (p *Pool) finishAcquire(c *Conn, start time.Time) {
	atomic.AddInt64(&p.counters.acquiresSucceeded, 1)
	p.counters.recordAcquireLatency(time.Since(start))
	p.emit(EventConnectionAcquired, c.id, "connection acquired", nil)
}

// addConnection creates one connection through the factory, bounded by the
// connection timeout, and inserts the record in idle state. On failure the
// registry is untouched and a CreationError is returned. withRetry applies
// the configured retry policy (seeding and periodic scale-up only).
func (p *Pool) addConnection(ctx context.Context, withRetry bool) (*Conn, error) {
	p.mu.Lock()
	cfg := p.cfg
	p.mu.Unlock()

	var handle RawConn
	create := func(ctx context.Context) error {
		cctx, cancel := context.WithTimeout(ctx, cfg.ConnectionTimeout)
		defer cancel()
		h, err := p.factory.Create(cctx, cfg.Target)
		if err != nil {
			return err
		}
		handle = h
		return nil
	}

	var err error
	if withRetry && p.retrier != nil {
		err = p.retrier.Do(ctx, create)
	} else {
		err = create(ctx)
	}
	if err != nil {
		return nil, &CreationError{Target: cfg.Target, Err: err}
	}

	c := newConn(uuid.New().String(), handle)

	p.mu.Lock()
	if p.state != StateRunning || len(p.conns) >= p.cfg.MaxSize {
		state := p.state
		p.mu.Unlock()
		_ = p.factory.Close(handle)
		return nil, fmt.Errorf("discarding new connection: pool %s at capacity", state)
	}
	p.conns[c.id] = c
	p.mu.Unlock()

	atomic.AddInt64(&p.counters.connectionsCreated, 1)
	p.emit(EventConnectionCreated, c.id, "connection created", map[string]interface{}{
		"target": cfg.Target,
	})
	p.logger.Debug().Str("conn_id", c.id).Str("target", cfg.Target).Msg("Created pooled connection")
	return c, nil
}

// closeConnection releases the handle of a record already removed from the
// registry. Never called with the pool mutex held.
func (p *Pool) closeConnection(c *Conn, reason string) {
	if err := p.factory.Close(c.handle); err != nil {
		p.logger.Warn().Err(err).Str("conn_id", c.id).Msg("Error closing connection handle")
	}
	atomic.AddInt64(&p.counters.connectionsClosed, 1)
	p.emit(EventConnectionClosed, c.id, "connection closed", map[string]interface{}{
		"reason":    reason,
		"use_count": c.UseCount(),
	})
	p.logger.Debug().Str("conn_id", c.id).Str("reason", reason).Msg("Closed pooled connection")
}
