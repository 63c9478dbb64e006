package natsclient

import (
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

const (
	// StreamDomainEvents is the durable stream that captures replicated
	// entry/exit transitions published after C6 commits them.
	StreamDomainEvents = "DOMAIN_EVENTS"
	// SubjectDomainEvents is the wildcard subject filter for the stream.
	SubjectDomainEvents = "DOMAIN_EVENTS.>"
	// SubjectPrefix is prepended to the entity.transition subject passed to
	// PublishDomainEvent.
	SubjectPrefix = "DOMAIN_EVENTS."
)

var streamSubjects = []string{SubjectDomainEvents}

// ProvisionStreams idempotently ensures the DOMAIN_EVENTS JetStream stream
// exists with the correct subject filter. It creates the stream on first
// run and is a no-op if the stream already exists.
func (c *Client) ProvisionStreams() error {
	_, err := c.JS.StreamInfo(StreamDomainEvents)
	if err == nil {
		c.Log.Info("NATS stream already exists", zap.String("stream", StreamDomainEvents))
		return nil
	}

	if !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("stream info: %w", err)
	}

	cfg := &nats.StreamConfig{
		Name:      StreamDomainEvents,
		Subjects:  streamSubjects,
		Storage:   nats.FileStorage,
		Retention: nats.LimitsPolicy,
	}

	if _, err := c.JS.AddStream(cfg); err != nil {
		return fmt.Errorf("create stream: %w", err)
	}

	c.Log.Info("NATS stream provisioned",
		zap.String("stream", StreamDomainEvents),
		zap.Strings("subjects", streamSubjects),
	)
	return nil
}
