// Package natsclient wraps the backend's NATS JetStream connection used to
// fan out domain events after C6 commits a replicated batch (§2.2, §3.1 of
// the expanded specification). The gate's own outbox is a Postgres table,
// not a NATS stream — see DESIGN.md for why WAL-level replication wasn't
// adopted for that leg.
package natsclient

import (
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Client wraps a NATS connection and its JetStream context.
type Client struct {
	Conn *nats.Conn
	JS   nats.JetStreamContext
	Log  *zap.Logger
}

// NewClient connects to NATS and initialises a JetStream context.
func NewClient(url string, logger *zap.Logger) (*Client, error) {
	nc, err := nats.Connect(url, nats.RetryOnFailedConnect(true), nats.MaxReconnects(-1))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to initialize JetStream: %w", err)
	}

	logger.Info("NATS JetStream connected", zap.String("url", url))
	return &Client{Conn: nc, JS: js, Log: logger}, nil
}

// Close drains and closes the underlying NATS connection. Drain flushes all
// pending JetStream publish acknowledgments and outstanding subscription
// deliveries before closing — unlike Close, which drops in-flight messages.
func (c *Client) Close() {
	if c.Conn != nil {
		if err := c.Conn.Drain(); err != nil {
			c.Conn.Close()
		}
	}
}

// PublishDomainEvent publishes a §3.1 domain-event envelope to
// DOMAIN_EVENTS.<subject>. Failures are logged and swallowed by the caller
// (C6) — this fan-out is best-effort, never part of the ingestion
// durability contract.
func (c *Client) PublishDomainEvent(subject string, body []byte) error {
	_, err := c.JS.Publish(SubjectPrefix+subject, body)
	return err
}
