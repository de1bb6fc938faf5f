package broker

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MQTT publishes events to an MQTT broker.
type MQTT struct {
	cfg    Config
	client mqtt.Client
	logger *slog.Logger

	mu        sync.RWMutex
	connected bool
	published uint64
	errors    uint64
}

// NewMQTT creates an MQTT broker. Call Connect before publishing.
func NewMQTT(cfg Config, logger *slog.Logger) *MQTT {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.URL == "" {
		cfg.URL = "tcp://localhost:1883"
	}
	if cfg.ClientID == "" {
		cfg.ClientID = fmt.Sprintf("camnode-%d", time.Now().UnixNano())
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	return &MQTT{cfg: cfg, logger: logger.With("component", "mqtt")}
}

// Connect dials the broker. After the first successful connection the
// client reconnects on its own.
func (m *MQTT) Connect() error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(m.cfg.URL)
	opts.SetClientID(m.cfg.ClientID)
	if m.cfg.Username != "" {
		opts.SetUsername(m.cfg.Username)
		opts.SetPassword(m.cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(false)
	opts.SetConnectTimeout(m.cfg.ConnectTimeout)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(_ mqtt.Client) {
		m.setConnected(true)
		m.logger.Info("MQTT connection established", "broker", m.cfg.URL, "client_id", m.cfg.ClientID)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		m.setConnected(false)
		m.logger.Warn("MQTT connection lost, will auto-reconnect", "broker", m.cfg.URL, "error", err)
	}

	m.client = mqtt.NewClient(opts)
	m.logger.Info("Connecting to MQTT broker", "broker", m.cfg.URL)

	token := m.client.Connect()
	if !token.WaitTimeout(m.cfg.ConnectTimeout) {
		return fmt.Errorf("mqtt connection to %s timed out", m.cfg.URL)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connection failed: %w", err)
	}
	m.setConnected(true)
	return nil
}

func (m *MQTT) setConnected(v bool) {
	m.mu.Lock()
	m.connected = v
	m.mu.Unlock()
}

// Publish sends payload to topic with the configured QoS.
func (m *MQTT) Publish(topic string, payload []byte) error {
	if !m.Connected() {
		m.countError()
		return ErrNotConnected
	}

	token := m.client.Publish(topic, m.cfg.QoS, false, payload)
	if !token.WaitTimeout(2 * time.Second) {
		m.countError()
		return fmt.Errorf("mqtt publish to %s timed out", topic)
	}
	if err := token.Error(); err != nil {
		m.countError()
		return fmt.Errorf("mqtt publish failed: %w", err)
	}

	m.mu.Lock()
	m.published++
	m.mu.Unlock()
	return nil
}

func (m *MQTT) countError() {
	m.mu.Lock()
	m.errors++
	m.mu.Unlock()
}

// Connected reports whether the client currently has a broker connection.
func (m *MQTT) Connected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connected
}

// Kind returns "mqtt".
func (m *MQTT) Kind() string { return KindMQTT }

// URL returns the broker address.
func (m *MQTT) URL() string { return m.cfg.URL }

// Counts returns the number of published messages and failures.
func (m *MQTT) Counts() (published, errors uint64) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.published, m.errors
}

// Close disconnects with a short grace period.
func (m *MQTT) Close() {
	if m.client != nil && m.client.IsConnected() {
		m.client.Disconnect(250)
		m.logger.Info("MQTT disconnected")
	}
	m.setConnected(false)
}
