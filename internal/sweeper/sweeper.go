// Package sweeper drives deadline expiry. The engine runs no timer of its
// own: the sweeper periodically enumerates overdue active assignments and
// feeds them back one at a time.
package sweeper

import (
	"context"
	"errors"
	"time"

	"github.com/orlandoq/guildpost/internal/engine"
	"github.com/orlandoq/guildpost/internal/service/logger"
)

type Sweeper struct {
	engine   *engine.Engine
	interval time.Duration
}

func New(eng *engine.Engine, interval time.Duration) *Sweeper {
	return &Sweeper{
		engine:   eng,
		interval: interval,
	}
}

// Run sweeps on every tick until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep expires every overdue active assignment once. Losing the race to
// another actor (the assignment moved on in the meantime) is expected and
// only logged at debug level.
func (s *Sweeper) Sweep(ctx context.Context) int {
	now := time.Now().UTC()

	overdue, err := s.engine.ListOverdueActive(ctx, now)
	if err != nil {
		logger.FromContext(ctx).Error().Err(err).Msg("overdue listing failed")
		return 0
	}

	expired := 0
	for _, a := range overdue {
		if _, err := s.engine.Expire(ctx, a.ID, now); err != nil {
			if errors.Is(err, engine.ErrInvalidTransition) || errors.Is(err, engine.ErrConflict) {
				logger.FromContext(ctx).Debug().
					Str("assignment_id", a.ID.String()).
					Msg("assignment moved on before expiry")
				continue
			}
			logger.FromContext(ctx).Error().
				Err(err).
				Str("assignment_id", a.ID.String()).
				Msg("expire failed")
			continue
		}
		expired++
	}

	if expired > 0 {
		logger.FromContext(ctx).Info().Int("expired", expired).Msg("sweep finished")
	}
	return expired
}
