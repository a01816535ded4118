// Package jetstream delivers notification intents onto a NATS JetStream
// stream. One subject per platform; the chat-platform bridge consumes the
// stream out of process and owns redelivery.
package jetstream

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/orlandoq/guildpost/internal/config"
	"github.com/orlandoq/guildpost/internal/notify"
	"github.com/orlandoq/guildpost/internal/util"
)

type Sink struct {
	connection *nats.Conn
	context    nats.JetStreamContext
}

func New() (notify.Sink, error) {
	cfg, err := config.GetNatsConfig()
	if err != nil {
		return nil, err
	}

	nc, err := nats.Connect(cfg.URL,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.Name("guildpost"),
	)
	if err != nil {
		return nil, err
	}

	js, err := nc.JetStream()
	if err != nil {
		return nil, err
	}

	_, err = js.AddStream(&nats.StreamConfig{
		Name:     cfg.STREAM_NAME,
		Subjects: []string{"notify.>"},
	})
	if err != nil && !errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
		return nil, err
	}

	return &Sink{
		connection: nc,
		context:    js,
	}, nil
}

func (s *Sink) Deliver(ctx context.Context, intent notify.Intent) error {
	payload, err := json.Marshal(intent)
	if err != nil {
		return err
	}
	_, err = s.context.Publish(util.NotifySubject(intent.Platform), payload, nats.Context(ctx))
	return err
}

func (s *Sink) Shutdown() {
	s.connection.Drain()
	s.connection.Close()
}
