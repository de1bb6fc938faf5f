package frames

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func newFrame(seq uint64) *Frame {
	return &Frame{Seq: seq, Timestamp: time.Now(), Width: 2, Height: 1, Data: []byte{byte(seq), byte(seq)}}
}

func TestLatestTimesOutBeforeFirstPublish(t *testing.T) {
	d := NewDistributor(Options{})

	if _, err := d.Latest(context.Background(), 0); !errors.Is(err, ErrTimeout) {
		t.Fatalf("Latest(0) error = %v, want ErrTimeout", err)
	}

	d.Publish(newFrame(1))
	f, err := d.Latest(context.Background(), 0)
	if err != nil {
		t.Fatalf("Latest(0) after publish error = %v", err)
	}
	if f.Seq != 1 {
		t.Errorf("Latest().Seq = %d, want 1", f.Seq)
	}
}

func TestLatestWaitsForFirstFrame(t *testing.T) {
	d := NewDistributor(Options{})

	go func() {
		time.Sleep(20 * time.Millisecond)
		d.Publish(newFrame(7))
	}()

	f, err := d.Latest(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("Latest() error = %v", err)
	}
	if f.Seq != 7 {
		t.Errorf("Latest().Seq = %d, want 7", f.Seq)
	}
}

func TestLatestIsMonotonic(t *testing.T) {
	d := NewDistributor(Options{})
	const total = 2000

	var wg sync.WaitGroup
	var violations atomic.Int32
	stop := make(chan struct{})

	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var last uint64
			for {
				select {
				case <-stop:
					return
				default:
				}
				f, err := d.Latest(context.Background(), 0)
				if err != nil {
					continue
				}
				if f.Seq < last {
					violations.Add(1)
				}
				last = f.Seq
			}
		}()
	}

	for seq := uint64(1); seq <= total; seq++ {
		d.Publish(newFrame(seq))
	}
	close(stop)
	wg.Wait()

	if n := violations.Load(); n != 0 {
		t.Errorf("observed %d stale latest frames", n)
	}
	f, _ := d.Latest(context.Background(), 0)
	if f.Seq != total {
		t.Errorf("final Latest().Seq = %d, want %d", f.Seq, total)
	}
}

func TestNextReturnsFrameAfterCall(t *testing.T) {
	d := NewDistributor(Options{})
	d.Publish(newFrame(1))

	go func() {
		time.Sleep(20 * time.Millisecond)
		d.Publish(newFrame(2))
	}()

	f, err := d.Next(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if f.Seq != 2 {
		t.Errorf("Next().Seq = %d, want 2", f.Seq)
	}
}

func TestNextTimeout(t *testing.T) {
	d := NewDistributor(Options{})
	d.Publish(newFrame(1))

	if _, err := d.Next(context.Background(), 20*time.Millisecond); !errors.Is(err, ErrTimeout) {
		t.Errorf("Next() error = %v, want ErrTimeout", err)
	}
	if _, err := d.Next(context.Background(), 0); !errors.Is(err, ErrTimeout) {
		t.Errorf("Next(0) error = %v, want ErrTimeout", err)
	}
}

func TestNextFailsOnClose(t *testing.T) {
	d := NewDistributor(Options{})

	errCh := make(chan error, 1)
	go func() {
		_, err := d.Next(context.Background(), 5*time.Second)
		errCh <- err
	}()
	time.Sleep(20 * time.Millisecond)
	d.Close(ReasonSessionEnded)

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrClosed) {
			t.Errorf("Next() error = %v, want ErrClosed", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Next() did not return after Close()")
	}
}

func TestSubscriptionReceivesInOrder(t *testing.T) {
	d := NewDistributor(Options{QueueSize: 8})
	sub, err := d.Subscribe()
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	for seq := uint64(1); seq <= 5; seq++ {
		d.Publish(newFrame(seq))
	}

	for want := uint64(1); want <= 5; want++ {
		select {
		case f := <-sub.C():
			if f.Seq != want {
				t.Fatalf("got seq %d, want %d", f.Seq, want)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for seq %d", want)
		}
	}
	if sub.LastSeq() != 5 {
		t.Errorf("LastSeq() = %d, want 5", sub.LastSeq())
	}
}

func TestSlowSubscriberDropsOldest(t *testing.T) {
	var dropped atomic.Uint64
	d := NewDistributor(Options{QueueSize: 3, OverflowLimit: 100, OnDrop: func(n uint64) { dropped.Add(n) }})
	sub, _ := d.Subscribe()

	for seq := uint64(1); seq <= 10; seq++ {
		d.Publish(newFrame(seq))
	}

	var got []uint64
	for i := 0; i < 3; i++ {
		got = append(got, (<-sub.C()).Seq)
	}
	want := []uint64{8, 9, 10}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("queue = %v, want %v", got, want)
		}
	}
	if sub.Dropped() != 7 {
		t.Errorf("Dropped() = %d, want 7", sub.Dropped())
	}
	if dropped.Load() != 7 {
		t.Errorf("OnDrop total = %d, want 7", dropped.Load())
	}
}

func TestSubscribersSeeIncreasingSequences(t *testing.T) {
	d := NewDistributor(Options{QueueSize: 4, OverflowLimit: 1 << 20})
	const total = 5000

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		sub, _ := d.Subscribe()
		delay := time.Duration(rand.Intn(50)) * time.Microsecond
		wg.Add(1)
		go func() {
			defer wg.Done()
			var last uint64
			for f := range sub.C() {
				if f.Seq <= last {
					errs <- errors.New("sequence went backwards")
					return
				}
				last = f.Seq
				time.Sleep(delay)
			}
		}()
	}

	for seq := uint64(1); seq <= total; seq++ {
		d.Publish(newFrame(seq))
	}
	d.Close(ReasonSessionEnded)
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Error(err)
	}
}

func TestStalledSubscriberIsClosed(t *testing.T) {
	var closedID atomic.Uint64
	var closedReason atomic.Value
	d := NewDistributor(Options{
		QueueSize:     2,
		OverflowLimit: 5,
		OnSubscriptionClosed: func(id uint64, reason Reason) {
			closedID.Store(id)
			closedReason.Store(reason)
		},
	})

	stalled, _ := d.Subscribe()
	healthy, _ := d.Subscribe()

	received := make(chan uint64, 100)
	go func() {
		for f := range healthy.C() {
			received <- f.Seq
		}
		close(received)
	}()

	for seq := uint64(1); seq <= 20; seq++ {
		d.Publish(newFrame(seq))
		// Let the healthy consumer keep up.
		time.Sleep(time.Millisecond)
	}

	select {
	case <-stalled.Done():
	case <-time.After(time.Second):
		t.Fatal("stalled subscription was not closed")
	}
	if stalled.Reason() != ReasonSlowConsumer {
		t.Errorf("Reason() = %q, want %q", stalled.Reason(), ReasonSlowConsumer)
	}
	if closedID.Load() != stalled.ID() {
		t.Errorf("OnSubscriptionClosed id = %d, want %d", closedID.Load(), stalled.ID())
	}
	if r, _ := closedReason.Load().(Reason); r != ReasonSlowConsumer {
		t.Errorf("OnSubscriptionClosed reason = %q", r)
	}

	if healthy.Reason() != ReasonNone {
		t.Errorf("healthy subscription ended with %q", healthy.Reason())
	}
	if d.Subscribers() != 1 {
		t.Errorf("Subscribers() = %d, want 1", d.Subscribers())
	}

	// The stalled channel still drains what was queued, then closes.
	n := 0
	for range stalled.C() {
		n++
	}
	if n != 2 {
		t.Errorf("drained %d frames from stalled queue, want 2", n)
	}

	d.Close(ReasonSessionEnded)
	var last uint64
	for seq := range received {
		last = seq
	}
	if last != 20 {
		t.Errorf("healthy subscriber last seq = %d, want 20", last)
	}
}

func TestCloseSubscription(t *testing.T) {
	d := NewDistributor(Options{})
	sub, _ := d.Subscribe()

	sub.Close()
	sub.Close()

	if _, ok := <-sub.C(); ok {
		t.Error("channel still open after Close()")
	}
	if sub.Reason() != ReasonClosed {
		t.Errorf("Reason() = %q, want %q", sub.Reason(), ReasonClosed)
	}
	if d.Subscribers() != 0 {
		t.Errorf("Subscribers() = %d, want 0", d.Subscribers())
	}

	// Publishing after a consumer left must not panic.
	d.Publish(newFrame(1))
}

func TestCloseEndsSubscriptions(t *testing.T) {
	d := NewDistributor(Options{})
	sub, _ := d.Subscribe()
	d.Publish(newFrame(1))

	d.Close(ReasonSessionEnded)

	if sub.Reason() != ReasonSessionEnded {
		t.Errorf("Reason() = %q, want %q", sub.Reason(), ReasonSessionEnded)
	}
	if _, err := d.Subscribe(); !errors.Is(err, ErrClosed) {
		t.Errorf("Subscribe() after Close() error = %v, want ErrClosed", err)
	}
	f, err := d.Latest(context.Background(), 0)
	if err != nil || f.Seq != 1 {
		t.Errorf("Latest() after Close() = %v, %v; want seq 1", f, err)
	}
	if d.Published() != 1 {
		t.Errorf("Published() = %d, want 1", d.Published())
	}
}

func TestCloneIsIndependent(t *testing.T) {
	f := newFrame(3)
	c := f.Clone()
	c.Data[0] = 99

	if f.Data[0] == 99 {
		t.Error("Clone() shares pixel data with the original")
	}
	if c.Seq != f.Seq {
		t.Errorf("Clone().Seq = %d, want %d", c.Seq, f.Seq)
	}
}
