package clients

import (
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	log "github.com/sirupsen/logrus"

	"solver-backend/internal/config"
)

// NATSClient thin wrapper around a NATS connection used for lifecycle
// event publishing. The connection reconnects on its own; publish errors
// are logged and never block the caller's request path.
type NATSClient struct {
	conn *nats.Conn
}

// NewNATSClient connects to the configured NATS server. Returns nil when
// no URL is configured, which disables event publishing.
func NewNATSClient(cfg *config.NATSConfig) (*NATSClient, error) {
	if cfg.URL == "" {
		return nil, nil
	}

	opts := []nats.Option{
		nats.Name("solver-backend"),
		nats.Timeout(time.Duration(cfg.Timeout) * time.Second),
		nats.ReconnectWait(time.Duration(cfg.ReconnectWait) * time.Second),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.WithError(err).Warn("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.WithField("url", nc.ConnectedUrl()).Info("NATS reconnected")
		}),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	log.WithField("url", cfg.URL).Info("Connected to NATS")
	return &NATSClient{conn: conn}, nil
}

// Publish sends a message on the given subject
func (c *NATSClient) Publish(subject string, data []byte) error {
	if c == nil || c.conn == nil {
		return nil
	}
	return c.conn.Publish(subject, data)
}

// IsConnected reports whether the connection is currently up
func (c *NATSClient) IsConnected() bool {
	return c != nil && c.conn != nil && c.conn.IsConnected()
}

// Close drains and closes the connection
func (c *NATSClient) Close() {
	if c == nil || c.conn == nil {
		return
	}
	if err := c.conn.Drain(); err != nil {
		c.conn.Close()
	}
}
