package pool

import (
	"context"
	"sync/atomic"
	"time"
)

// scaleLoop is the periodic scaling controller. Growth is also triggered
// reactively from Acquire; shrink only ever happens here, which keeps the
// pool from oscillating mid-request.
func (p *Pool) scaleLoop(ctx context.Context) {
	defer p.loopWG.Done()
	for {
		p.mu.Lock()
		interval := p.cfg.ScaleInterval
		p.mu.Unlock()

		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
			p.runScalePass(ctx)
		}
	}
}

// runScalePass compares utilization against the thresholds and grows or
// shrinks the registry. A failure in one pass never terminates the loop.
func (p *Pool) runScalePass(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error().Interface("panic", r).Msg("Scaling pass panicked")
		}
	}()

	p.mu.Lock()
	if p.state != StateRunning {
		p.mu.Unlock()
		return
	}
	cfg := p.cfg
	size := len(p.conns)
	active := p.activeLocked()
	p.mu.Unlock()

	// An empty registry reads as zero utilization: no pressure.
	var utilization float64
	if size > 0 {
		utilization = float64(active) / float64(size)
	}

	switch {
	case utilization > cfg.ScaleUpThreshold && size < cfg.MaxSize:
		p.scaleUp(ctx, "utilization", true)
	case utilization < cfg.ScaleDownThreshold && size > cfg.MinSize:
		p.scaleDown()
	}
}

// scaleUp grows the registry by the configured increment, capped at the
// maximum size. Each connection is created independently; a short scale-up
// is better than none, so partial failures are logged, not fatal.
func (p *Pool) scaleUp(ctx context.Context, reason string, withRetry bool) {
	p.mu.Lock()
	if p.state != StateRunning {
		p.mu.Unlock()
		return
	}
	cfg := p.cfg
	room := cfg.MaxSize - len(p.conns)
	p.mu.Unlock()

	if room <= 0 {
		return
	}
	want := cfg.ScaleUpIncrement
	if want > room {
		want = room
	}

	added := 0
	for i := 0; i < want; i++ {
		if _, err := p.addConnection(ctx, withRetry); err != nil {
			p.logger.Warn().Err(err).Str("reason", reason).Msg("Scale-up connection creation failed")
			continue
		}
		added++
	}
	if added == 0 {
		return
	}

	atomic.AddInt64(&p.counters.scaleUps, 1)

	p.mu.Lock()
	p.dispatchLocked()
	size := len(p.conns)
	p.mu.Unlock()

	p.emit(EventScaledUp, "", "pool scaled up", map[string]interface{}{
		"added":  added,
		"size":   size,
		"reason": reason,
	})
	p.logger.Info().Int("added", added).Int("size", size).Str("reason", reason).Msg("Pool scaled up")
}

// scaleDown removes up to the configured decrement of idle healthy records,
// never dipping below the minimum size and never touching an acquired
// connection.
func (p *Pool) scaleDown() {
	p.mu.Lock()
	if p.state != StateRunning {
		p.mu.Unlock()
		return
	}
	cfg := p.cfg
	excess := len(p.conns) - cfg.MinSize
	if excess <= 0 {
		p.mu.Unlock()
		return
	}
	want := cfg.ScaleDownDecrement
	if want > excess {
		want = excess
	}

	victims := make([]*Conn, 0, want)
	for _, c := range p.conns {
		if len(victims) == want {
			break
		}
		if c.IsAcquired() || p.unhealthyLocked(c) {
			continue
		}
		delete(p.conns, c.id)
		victims = append(victims, c)
	}
	size := len(p.conns)
	p.mu.Unlock()

	if len(victims) == 0 {
		return
	}
	for _, c := range victims {
		p.closeConnection(c, "scale_down")
	}

	atomic.AddInt64(&p.counters.scaleDowns, 1)
	p.emit(EventScaledDown, "", "pool scaled down", map[string]interface{}{
		"removed": len(victims),
		"size":    size,
	})
	p.logger.Info().Int("removed", len(victims)).Int("size", size).Msg("Pool scaled down")
}
