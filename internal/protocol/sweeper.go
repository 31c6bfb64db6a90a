package protocol

import (
	"context"
	"log"
	"time"
)

// RunSweeper periodically expires deadline-blown tasks and stale stakes.
// Call with a cancellable context for graceful shutdown.
func (c *Context) RunSweeper(ctx context.Context) {
	interval := time.Duration(c.cfg.SweepIntervalMinutes) * time.Minute
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	// Orphan stakes (claims, syntheses) are swept at the longest task
	// timeout, so nothing can stay locked forever.
	maxAge := time.Duration(0)
	for _, d := range c.timeouts {
		if d > maxAge {
			maxAge = d
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
			expired, err := c.ExpireStale(maxAge)
			if err != nil {
				log.Printf("[sweeper] expire stale: %v", err)
				continue
			}
			if len(expired) > 0 {
				log.Printf("[sweeper] expired %d tasks", len(expired))
			}
		}
	}
}
