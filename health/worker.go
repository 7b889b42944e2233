package health

import (
	"context"
	log "log/slog"
	"time"
)

// Start launches the poll loop: one CheckHealth over all components right away, then
// every CheckInterval until ctx is done or Stop is called. Starting twice is a no-op.
func (c *Checker) Start(ctx context.Context) {
	c.loopLocker.Lock()
	defer c.loopLocker.Unlock()
	if c.cancel != nil {
		return
	}
	ctx, c.cancel = context.WithCancel(ctx)
	c.done = make(chan struct{})
	go c.pollLoop(ctx, c.done)
	log.Info("health checker started", "interval", c.config.CheckInterval)
}

func (c *Checker) pollLoop(ctx context.Context, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(c.config.CheckInterval)
	defer ticker.Stop()
	for {
		c.CheckHealth(ctx)
		overall := c.GetOverallHealth()
		log.Debug("health poll", "status", overall.Status.String(), "message", overall.Message)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Stop cancels and joins the poll loop. It is safe to call more than once.
func (c *Checker) Stop() {
	c.loopLocker.Lock()
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	c.loopLocker.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	log.Info("health checker stopped")
}
