package broker

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/smazurov/camnode/internal/version"
)

// Kinds of broker.
const (
	KindNone     = "none"
	KindMQTT     = "mqtt"
	KindNATS     = "nats"
	KindEmbedded = "embedded"
)

// ErrNotConnected is returned by Publish while the broker link is down.
var ErrNotConnected = errors.New("broker: not connected")

// Broker is an external publish/subscribe channel for camera events.
// Topics use "/" separators.
type Broker interface {
	Publish(topic string, payload []byte) error
	Connected() bool
	Kind() string
	Close()
}

// Config selects and configures a broker.
type Config struct {
	Kind           string        `json:"kind" enum:"none,mqtt,nats,embedded" doc:"Broker type"`
	URL            string        `json:"url,omitempty" doc:"Broker URL, e.g. tcp://localhost:1883 or nats://localhost:4222"`
	ClientID       string        `json:"client_id,omitempty"`
	QoS            byte          `json:"qos,omitempty" maximum:"2" doc:"MQTT quality of service"`
	Username       string        `json:"username,omitempty"`
	Password       string        `json:"password,omitempty"`
	EmbeddedHost   string        `json:"embedded_host,omitempty"`
	EmbeddedPort   int           `json:"embedded_port,omitempty" doc:"Embedded server port, negative for any free port"`
	ConnectTimeout time.Duration `json:"-"`
}

// Status is a point-in-time view of a broker.
type Status struct {
	Kind      string `json:"kind" example:"mqtt"`
	URL       string `json:"url,omitempty" example:"tcp://localhost:1883"`
	Connected bool   `json:"connected"`
	Clients   int    `json:"clients,omitempty" doc:"Connections to the embedded server"`
}

// Open creates and connects the broker described by cfg. A connection
// failure returns the error; callers may keep running without a broker.
func Open(cfg Config, logger *slog.Logger) (Broker, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}

	switch strings.ToLower(cfg.Kind) {
	case "", KindNone:
		return Noop{}, nil
	case KindMQTT:
		m := NewMQTT(cfg, logger)
		if err := m.Connect(); err != nil {
			return nil, err
		}
		return m, nil
	case KindNATS:
		name := cfg.ClientID
		if name == "" {
			name = version.UserAgent()
		}
		n := NewNATS(cfg.URL, name, logger)
		if err := n.Connect(); err != nil {
			return nil, err
		}
		return n, nil
	case KindEmbedded:
		return NewEmbeddedNATS(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown broker kind %q", cfg.Kind)
	}
}

// StatusOf describes b.
func StatusOf(b Broker) Status {
	if b == nil {
		return Status{Kind: KindNone}
	}
	s := Status{Kind: b.Kind(), Connected: b.Connected()}
	if u, ok := b.(interface{ URL() string }); ok {
		s.URL = u.URL()
	}
	if c, ok := b.(interface{ Clients() int }); ok {
		s.Clients = c.Clients()
	}
	return s
}

// Noop discards everything.
type Noop struct{}

func (Noop) Publish(string, []byte) error { return nil }
func (Noop) Connected() bool              { return false }
func (Noop) Kind() string                 { return KindNone }
func (Noop) Close()                       {}
