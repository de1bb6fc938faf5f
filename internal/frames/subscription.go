package frames

import (
	"sync"
	"sync/atomic"
)

// Subscription is one streaming consumer. Frames arrive on C in sequence
// order; when the consumer falls behind the oldest queued frame is dropped.
// C is closed when the subscription ends, after which Reason is set.
type Subscription struct {
	id   uint64
	dist *Distributor
	ch   chan *Frame
	done chan struct{}

	// guarded by dist.mu
	overflows int
	ended     bool

	reasonMu sync.Mutex
	reason   Reason

	dropped atomic.Uint64
	lastSeq atomic.Uint64
}

// ID returns the subscription identifier.
func (s *Subscription) ID() uint64 {
	return s.id
}

// C returns the delivery channel.
func (s *Subscription) C() <-chan *Frame {
	return s.ch
}

// Done is closed when the subscription ends.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Reason returns why the subscription ended, or ReasonNone while live.
func (s *Subscription) Reason() Reason {
	s.reasonMu.Lock()
	defer s.reasonMu.Unlock()
	return s.reason
}

// Dropped returns the number of frames dropped for this consumer.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// LastSeq returns the sequence number of the last frame queued for delivery.
func (s *Subscription) LastSeq() uint64 {
	return s.lastSeq.Load()
}

// Close ends the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	s.dist.unsubscribe(s)
}

// offer enqueues f, dropping the oldest queued frame when full. It reports
// whether a frame was dropped. Called with dist.mu held, so this is the
// only sender on ch.
func (s *Subscription) offer(f *Frame) bool {
	select {
	case s.ch <- f:
		s.overflows = 0
		s.lastSeq.Store(f.Seq)
		return false
	default:
	}

	dropped := false
	select {
	case <-s.ch:
		dropped = true
		s.dropped.Add(1)
		s.overflows++
	default:
		// The consumer drained the queue in between.
	}
	s.ch <- f
	s.lastSeq.Store(f.Seq)
	return dropped
}

// end closes the delivery channel. Called with dist.mu held.
func (s *Subscription) end(reason Reason) {
	if s.ended {
		return
	}
	s.ended = true
	s.reasonMu.Lock()
	s.reason = reason
	s.reasonMu.Unlock()
	close(s.ch)
	close(s.done)
}
