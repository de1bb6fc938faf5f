package broker

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// NATS publishes events as core NATS messages. Topic separators are mapped
// to subject tokens, so "camera/<id>/connected" becomes "camera.<id>.connected".
type NATS struct {
	url    string
	name   string
	conn   *nats.Conn
	logger *slog.Logger

	mu        sync.RWMutex
	connected bool
}

// NewNATS creates a NATS broker. Call Connect before publishing.
func NewNATS(url, name string, logger *slog.Logger) *NATS {
	if logger == nil {
		logger = slog.Default()
	}
	if url == "" {
		url = nats.DefaultURL
	}
	if name == "" {
		name = "camnode"
	}
	return &NATS{
		url:    url,
		name:   name,
		logger: logger.With("component", "nats-client"),
	}
}

// Connect establishes the connection. Once connected the client reconnects
// forever in the background.
func (n *NATS) Connect() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	opts := []nats.Option{
		nats.Name(n.name),
		nats.ReconnectWait(2 * time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			n.mu.Lock()
			n.connected = false
			n.mu.Unlock()
			if err != nil {
				n.logger.Warn("NATS disconnected", "error", err)
			} else {
				n.logger.Debug("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			n.mu.Lock()
			n.connected = true
			n.mu.Unlock()
			n.logger.Info("NATS reconnected")
		}),
	}

	conn, err := nats.Connect(n.url, opts...)
	if err != nil {
		n.logger.Warn("Failed to connect to NATS", "url", n.url, "error", err)
		return err
	}

	n.conn = conn
	n.connected = true
	n.logger.Info("Connected to NATS", "url", n.url)
	return nil
}

// Subject converts a slash-separated topic into a NATS subject.
func Subject(topic string) string {
	return strings.ReplaceAll(strings.Trim(topic, "/"), "/", ".")
}

// Publish sends payload on the subject derived from topic.
func (n *NATS) Publish(topic string, payload []byte) error {
	n.mu.RLock()
	conn := n.conn
	connected := n.connected
	n.mu.RUnlock()

	if conn == nil || !connected {
		return ErrNotConnected
	}
	return conn.Publish(Subject(topic), payload)
}

// Connected reports whether the client is connected.
func (n *NATS) Connected() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.connected && n.conn != nil
}

// Kind returns "nats".
func (n *NATS) Kind() string { return KindNATS }

// URL returns the server URL.
func (n *NATS) URL() string { return n.url }

// Close closes the connection.
func (n *NATS) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.conn != nil {
		n.conn.Close()
		n.conn = nil
	}
	n.connected = false
	n.logger.Debug("NATS client closed")
}
