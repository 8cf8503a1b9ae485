package application

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Evictor runs EvictExpired on a fixed interval until stopped.
type Evictor struct {
	manager    *Manager
	interval   time.Duration
	maxAgeDays int

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewEvictor creates an Evictor for manager.
func NewEvictor(manager *Manager, interval time.Duration, maxAgeDays int) *Evictor {
	return &Evictor{
		manager:    manager,
		interval:   interval,
		maxAgeDays: maxAgeDays,
	}
}

// Start runs one sweep immediately and then one per interval.
func (e *Evictor) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	e.wg.Go(func() {
		e.run(ctx)
	})

	log.Info().Dur("interval", e.interval).Int("max_age_days", e.maxAgeDays).Msg("Image cache evictor started")
}

// Stop cancels the loop and waits for an in-progress sweep to finish.
func (e *Evictor) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()
}

func (e *Evictor) run(ctx context.Context) {
	e.sweep(ctx)

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.sweep(ctx)
		}
	}
}

func (e *Evictor) sweep(ctx context.Context) {
	if _, err := e.manager.EvictExpired(ctx, e.maxAgeDays); err != nil && ctx.Err() == nil {
		log.Error().Err(err).Msg("Image cache eviction failed")
	}
}
