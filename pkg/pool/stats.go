package pool

import (
	"sync/atomic"
	"time"
)

// Stats is a point-in-time snapshot of the pool's introspection API.
type Stats struct {
	// Registry
	Size    int `json:"size"`
	Active  int `json:"active"`
	Idle    int `json:"idle"`
	MinSize int `json:"min_size"`
	MaxSize int `json:"max_size"`

	// Request totals
	AcquiresTotal     int64 `json:"acquires_total"`
	AcquiresSucceeded int64 `json:"acquires_succeeded"`
	AcquiresFailed    int64 `json:"acquires_failed"`
	AcquiresQueued    int64 `json:"acquires_queued"`
	AcquiresTimedOut  int64 `json:"acquires_timed_out"`

	// Connection lifecycle totals
	ConnectionsCreated int64 `json:"connections_created"`
	ConnectionsClosed  int64 `json:"connections_closed"`

	// Scaling event counts
	ScaleUps   int64 `json:"scale_ups"`
	ScaleDowns int64 `json:"scale_downs"`

	// Performance
	AvgAcquireLatency time.Duration `json:"avg_acquire_latency"`

	// Health summary
	Healthy    int  `json:"healthy"`
	Unhealthy  int  `json:"unhealthy"`
	Expired    int  `json:"expired"`
	QueueDepth int  `json:"queue_depth"`
	Draining   bool `json:"draining"`

	State string `json:"state"`
}

// Utilization returns the acquired fraction of the registry. An empty
// registry reads as zero, i.e. no pressure.
func (s Stats) Utilization() float64 {
	if s.Size == 0 {
		return 0
	}
	return float64(s.Active) / float64(s.Size)
}

// counters holds the pool's monotonically increasing totals. All fields are
// updated with atomics so hot paths never contend on the registry mutex for
// bookkeeping alone.
type counters struct {
	acquiresTotal     int64
	acquiresSucceeded int64
	acquiresFailed    int64
	acquiresQueued    int64
	acquiresTimedOut  int64

	connectionsCreated int64
	connectionsClosed  int64

	scaleUps   int64
	scaleDowns int64

	acquireLatencyNanos int64 // cumulative, divide by acquiresSucceeded
}

func (c *counters) recordAcquireLatency(d time.Duration) {
	atomic.AddInt64(&c.acquireLatencyNanos, d.Nanoseconds())
}

func (c *counters) avgAcquireLatency() time.Duration {
	succeeded := atomic.LoadInt64(&c.acquiresSucceeded)
	if succeeded == 0 {
		return 0
	}
	return time.Duration(atomic.LoadInt64(&c.acquireLatencyNanos) / succeeded)
}

// Stats assembles a snapshot of the registry, request totals and health
// classification counts.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	cfg := p.cfg
	now := time.Now()

	stats := Stats{
		Size:              len(p.conns),
		MinSize:           cfg.MinSize,
		MaxSize:           cfg.MaxSize,
		AcquiresTotal:     atomic.LoadInt64(&p.counters.acquiresTotal),
		AcquiresSucceeded: atomic.LoadInt64(&p.counters.acquiresSucceeded),
		AcquiresFailed:    atomic.LoadInt64(&p.counters.acquiresFailed),
		AcquiresQueued:    atomic.LoadInt64(&p.counters.acquiresQueued),
		AcquiresTimedOut:  atomic.LoadInt64(&p.counters.acquiresTimedOut),

		ConnectionsCreated: atomic.LoadInt64(&p.counters.connectionsCreated),
		ConnectionsClosed:  atomic.LoadInt64(&p.counters.connectionsClosed),

		ScaleUps:   atomic.LoadInt64(&p.counters.scaleUps),
		ScaleDowns: atomic.LoadInt64(&p.counters.scaleDowns),

		AvgAcquireLatency: p.counters.avgAcquireLatency(),

		QueueDepth: p.queue.len(),
		Draining:   p.state == StateDraining,
		State:      p.state.String(),
	}

	for _, c := range p.conns {
		if c.IsAcquired() {
			stats.Active++
		} else {
			stats.Idle++
		}
		switch {
		case c.expired(cfg.IdleTimeout, cfg.MaxConnectionAge, now):
			stats.Expired++
		case p.unhealthyLocked(c):
			stats.Unhealthy++
		default:
			stats.Healthy++
		}
	}

	return stats
}
