package frames

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

var (
	// ErrTimeout is returned when no suitable frame arrived in time.
	ErrTimeout = errors.New("frames: timed out waiting for frame")
	// ErrClosed is returned once the distributor has been closed.
	ErrClosed = errors.New("frames: distributor closed")
)

// Reason records why a subscription ended.
type Reason string

const (
	ReasonNone         Reason = ""
	ReasonClosed       Reason = "closed"
	ReasonSlowConsumer Reason = "slow_consumer"
	ReasonSessionEnded Reason = "session_ended"
)

const (
	DefaultQueueSize     = 4
	DefaultOverflowLimit = 30
)

// Options configures a Distributor.
type Options struct {
	// QueueSize is the per-subscription queue capacity.
	QueueSize int
	// OverflowLimit is the number of consecutive overflowing publishes after
	// which a subscription is closed as a slow consumer.
	OverflowLimit int
	// OnDrop is called for every frame dropped from a subscription queue.
	OnDrop func(n uint64)
	// OnSubscriptionClosed is called when the distributor ends a subscription.
	OnSubscriptionClosed func(id uint64, reason Reason)
	Logger               *slog.Logger
}

type waiter struct {
	after uint64
	ch    chan *Frame
}

// Distributor fans frames out from a single producer without ever
// blocking it.
type Distributor struct {
	opts   Options
	logger *slog.Logger

	latest    atomic.Pointer[Frame]
	published atomic.Uint64

	mu      sync.Mutex
	subs    map[uint64]*Subscription
	nextID  uint64
	waiters map[*waiter]struct{}
	first   chan struct{}
	closed  bool
	done    chan struct{}
}

// NewDistributor creates a distributor.
func NewDistributor(opts Options) *Distributor {
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.OverflowLimit <= 0 {
		opts.OverflowLimit = DefaultOverflowLimit
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Distributor{
		opts:    opts,
		logger:  logger,
		subs:    make(map[uint64]*Subscription),
		waiters: make(map[*waiter]struct{}),
		first:   make(chan struct{}),
		done:    make(chan struct{}),
	}
}

type closedSub struct {
	id     uint64
	reason Reason
}

// Publish makes f the latest frame, resolves waiters and offers f to every
// subscription. It never blocks. Frames must be published with strictly
// increasing sequence numbers.
func (d *Distributor) Publish(f *Frame) {
	var (
		dropped uint64
		ended   []closedSub
	)

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}

	prev := d.latest.Swap(f)
	if prev == nil {
		close(d.first)
	}
	d.published.Add(1)

	for w := range d.waiters {
		if f.Seq > w.after {
			w.ch <- f
			delete(d.waiters, w)
		}
	}

	for id, s := range d.subs {
		if s.offer(f) {
			dropped++
		}
		if s.overflows > d.opts.OverflowLimit {
			s.end(ReasonSlowConsumer)
			delete(d.subs, id)
			ended = append(ended, closedSub{id: id, reason: ReasonSlowConsumer})
		}
	}
	d.mu.Unlock()

	if dropped > 0 && d.opts.OnDrop != nil {
		d.opts.OnDrop(dropped)
	}
	for _, c := range ended {
		d.logger.Warn("Closed slow stream consumer", "subscription", c.id, "seq", f.Seq)
		if d.opts.OnSubscriptionClosed != nil {
			d.opts.OnSubscriptionClosed(c.id, c.reason)
		}
	}
}

// Latest returns the most recently published frame. When nothing has been
// published yet it waits up to timeout for the first frame.
func (d *Distributor) Latest(ctx context.Context, timeout time.Duration) (*Frame, error) {
	if f := d.latest.Load(); f != nil {
		return f, nil
	}
	if timeout <= 0 {
		return nil, ErrTimeout
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-d.first:
		return d.latest.Load(), nil
	case <-d.done:
		if f := d.latest.Load(); f != nil {
			return f, nil
		}
		return nil, ErrClosed
	case <-timer.C:
		return nil, ErrTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Next waits for the first frame published after the call.
func (d *Distributor) Next(ctx context.Context, timeout time.Duration) (*Frame, error) {
	if timeout <= 0 {
		return nil, ErrTimeout
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil, ErrClosed
	}
	w := &waiter{ch: make(chan *Frame, 1)}
	if f := d.latest.Load(); f != nil {
		w.after = f.Seq
	}
	d.waiters[w] = struct{}{}
	d.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var err error
	select {
	case f := <-w.ch:
		return f, nil
	case <-d.done:
		err = ErrClosed
	case <-timer.C:
		err = ErrTimeout
	case <-ctx.Done():
		err = ctx.Err()
	}

	d.mu.Lock()
	delete(d.waiters, w)
	d.mu.Unlock()

	// Publish may have resolved the waiter while we were giving up.
	select {
	case f := <-w.ch:
		return f, nil
	default:
		return nil, err
	}
}

// Subscribe opens a streaming subscription.
func (d *Distributor) Subscribe() (*Subscription, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, ErrClosed
	}
	d.nextID++
	s := &Subscription{
		id:   d.nextID,
		dist: d,
		ch:   make(chan *Frame, d.opts.QueueSize),
		done: make(chan struct{}),
	}
	d.subs[s.id] = s
	return s, nil
}

func (d *Distributor) unsubscribe(s *Subscription) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.subs[s.id]; !ok {
		return
	}
	delete(d.subs, s.id)
	s.end(ReasonClosed)
}

// Close ends every subscription with reason and fails pending waiters.
// Latest keeps returning the last frame.
func (d *Distributor) Close(reason Reason) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	for id, s := range d.subs {
		s.end(reason)
		delete(d.subs, id)
	}
	for w := range d.waiters {
		delete(d.waiters, w)
	}
	close(d.done)
	d.mu.Unlock()
}

// Subscribers returns the number of live subscriptions.
func (d *Distributor) Subscribers() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.subs)
}

// Published returns the number of frames published.
func (d *Distributor) Published() uint64 {
	return d.published.Load()
}
