package pool

import (
	"context"
	"time"
)

// reapLoop is the health monitor: on each interval it classifies every
// record and closes expired or unhealthy idle records. Expiry is a
// correctness concern, so removal happens here rather than waiting for the
// scaling cadence.
func (p *Pool) reapLoop(ctx context.Context) {
	defer p.loopWG.Done()
	for {
		p.mu.Lock()
		interval := p.cfg.HealthCheckInterval
		p.mu.Unlock()

		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
			p.runHealthPass(ctx)
		}
	}
}

// runHealthPass classifies every record as healthy, unhealthy or expired
// and reaps what it safely can. Acquired records are never revoked; an
// unhealthy in-flight connection is reported and reaped once released.
func (p *Pool) runHealthPass(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error().Interface("panic", r).Msg("Health pass panicked")
		}
	}()

	now := time.Now()

	p.mu.Lock()
	if p.state != StateRunning {
		p.mu.Unlock()
		return
	}
	cfg := p.cfg

	var healthy, unhealthy, expired int
	victims := make([]*Conn, 0)
	remaining := len(p.conns)

	for _, c := range p.conns {
		isExpired := c.expired(cfg.IdleTimeout, cfg.MaxConnectionAge, now)
		isUnhealthy := p.unhealthyLocked(c)

		switch {
		case isExpired:
			expired++
			if c.IsAcquired() {
				// Over-age but in use: counted, reaped once released.
				continue
			}
			overAge := now.Sub(c.createdAt) > cfg.MaxConnectionAge
			if !overAge && remaining <= cfg.MinSize {
				// Idle-timeout expiry respects the floor; removing just to
				// re-seed the same idle capacity gains nothing.
				continue
			}
			delete(p.conns, c.id)
			victims = append(victims, c)
			remaining--
		case isUnhealthy:
			unhealthy++
			if c.IsAcquired() {
				continue
			}
			delete(p.conns, c.id)
			victims = append(victims, c)
			remaining--
		default:
			healthy++
		}
	}
	queueDepth := p.queue.len()
	p.mu.Unlock()

	for _, c := range victims {
		p.closeConnection(c, "reaped")
	}

	// Replenish toward the floor when reaping dug below it.
	p.mu.Lock()
	deficit := 0
	if p.state == StateRunning {
		deficit = p.cfg.MinSize - len(p.conns)
	}
	p.mu.Unlock()
	for i := 0; i < deficit; i++ {
		if _, err := p.addConnection(ctx, true); err != nil {
			p.logger.Warn().Err(err).Msg("Replacement connection creation failed")
			break
		}
	}
	if deficit > 0 {
		p.mu.Lock()
		p.dispatchLocked()
		p.mu.Unlock()
	}

	p.emit(EventHealthSummary, "", "health check summary", map[string]interface{}{
		"healthy":     healthy,
		"unhealthy":   unhealthy,
		"expired":     expired,
		"reaped":      len(victims),
		"queue_depth": queueDepth,
	})

	if len(victims) > 0 || unhealthy > 0 {
		p.logger.Info().
			Int("healthy", healthy).
			Int("unhealthy", unhealthy).
			Int("expired", expired).
			Int("reaped", len(victims)).
			Msg("Health check pass complete")
	} else {
		p.logger.Debug().Int("healthy", healthy).Msg("Health check pass complete")
	}
}
