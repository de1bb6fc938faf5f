package events

import (
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Sink is an external publish/subscribe channel such as an MQTT or NATS broker.
type Sink interface {
	Publish(topic string, payload []byte) error
}

// PublisherOptions configures a Publisher.
type PublisherOptions struct {
	// TopicPrefix is the namespace of broker topics, "<prefix>/<camera_id>/<event>".
	TopicPrefix string
	// QueueSize bounds the number of events waiting for the worker.
	QueueSize int
	Logger    *slog.Logger
}

// PublisherStats reports publisher throughput.
type PublisherStats struct {
	Published     uint64 `json:"published"`
	Dropped       uint64 `json:"dropped" doc:"Events dropped because the queue was full"`
	BrokerErrors  uint64 `json:"broker_errors"`
	QueueCapacity int    `json:"queue_capacity"`
}

// Publisher turns camera transitions into notifications. Emit never blocks:
// events are queued and a single worker forwards them to the in-process bus
// and to the external sink. Sink failures are logged and discarded.
type Publisher struct {
	bus    *Bus
	prefix string
	logger *slog.Logger

	sinkMu sync.RWMutex
	sink   Sink

	queue    chan CameraEvent
	stop     chan struct{}
	done     chan struct{}
	startMu  sync.Mutex
	started  bool
	stopOnce sync.Once

	published    atomic.Uint64
	dropped      atomic.Uint64
	brokerErrors atomic.Uint64
}

// NewPublisher creates a publisher. sink may be nil.
func NewPublisher(bus *Bus, sink Sink, opts PublisherOptions) *Publisher {
	if opts.TopicPrefix == "" {
		opts.TopicPrefix = "camera"
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		bus:    bus,
		prefix: strings.TrimSuffix(opts.TopicPrefix, "/"),
		logger: logger,
		sink:   sink,
		queue:  make(chan CameraEvent, opts.QueueSize),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Start launches the worker.
func (p *Publisher) Start() {
	p.startMu.Lock()
	defer p.startMu.Unlock()
	if p.started {
		return
	}
	p.started = true
	go p.run()
}

// Stop drains queued events and stops the worker.
func (p *Publisher) Stop() {
	p.stopOnce.Do(func() {
		close(p.stop)
		p.startMu.Lock()
		started := p.started
		p.startMu.Unlock()
		if started {
			<-p.done
		}
	})
}

// Emit queues a camera event. When the queue is full the event is dropped.
func (p *Publisher) Emit(cameraID string, kind Kind, data map[string]any) {
	ev := NewCameraEvent(cameraID, kind, data)
	select {
	case p.queue <- ev:
	default:
		p.dropped.Add(1)
		p.logger.Warn("Event queue full, dropping event", "camera_id", cameraID, "event", kind)
	}
}

// SetSink replaces the external sink. A nil sink disables external publishing.
func (p *Publisher) SetSink(sink Sink) {
	p.sinkMu.Lock()
	defer p.sinkMu.Unlock()
	p.sink = sink
}

// Sink returns the current external sink.
func (p *Publisher) Sink() Sink {
	p.sinkMu.RLock()
	defer p.sinkMu.RUnlock()
	return p.sink
}

// Topic returns the broker topic for an event.
func (p *Publisher) Topic(cameraID string, kind Kind) string {
	return p.prefix + "/" + cameraID + "/" + string(kind)
}

// Stats returns publisher counters.
func (p *Publisher) Stats() PublisherStats {
	return PublisherStats{
		Published:     p.published.Load(),
		Dropped:       p.dropped.Load(),
		BrokerErrors:  p.brokerErrors.Load(),
		QueueCapacity: cap(p.queue),
	}
}

func (p *Publisher) run() {
	defer close(p.done)
	for {
		select {
		case ev := <-p.queue:
			p.deliver(ev)
		case <-p.stop:
			p.drain()
			return
		}
	}
}

func (p *Publisher) drain() {
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-p.queue:
			p.deliver(ev)
		case <-deadline:
			p.logger.Warn("Gave up draining event queue", "remaining", len(p.queue))
			return
		default:
			return
		}
	}
}

func (p *Publisher) deliver(ev CameraEvent) {
	if p.bus != nil {
		p.bus.Publish(ev)
	}
	p.published.Add(1)

	sink := p.Sink()
	if sink == nil {
		return
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		p.logger.Warn("Failed to encode event", "event", ev.Event, "error", err)
		return
	}
	topic := p.Topic(ev.CameraID, ev.Event)
	if err := sink.Publish(topic, payload); err != nil {
		p.brokerErrors.Add(1)
		p.logger.Warn("Failed to publish event", "topic", topic, "error", err)
		return
	}
	p.logger.Debug("Published event", "topic", topic)
}
