// Package logging is a sink for local runs and tests: intents are written
// to the service log instead of a chat platform.
package logging

import (
	"context"

	"github.com/orlandoq/guildpost/internal/notify"
	"github.com/orlandoq/guildpost/internal/service/logger"
)

type Sink struct{}

func New() notify.Sink {
	return &Sink{}
}

func (s *Sink) Deliver(ctx context.Context, intent notify.Intent) error {
	logger.FromContext(ctx).Info().
		Str("platform", intent.Platform).
		Str("platform_user_id", intent.PlatformUserID).
		Str("text", intent.Text).
		Msg("notification")
	return nil
}

func (s *Sink) Shutdown() {}
