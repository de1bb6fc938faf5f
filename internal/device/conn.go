package device

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/smazurov/camnode/internal/types"
)

// Conn is an open device with a uniform command surface. It holds at most
// one undelivered frame: a newer arrival replaces an untaken one.
type Conn struct {
	info   Info
	handle Handle
	logger *slog.Logger

	// ioMu keeps command calls and slot transfers from interleaving.
	ioMu sync.Mutex

	mu       sync.Mutex
	slot     *RawFrame
	skipped  uint64
	linkDown bool
	closed   bool
	notify   chan struct{}
	onLost   func()

	received    atomic.Uint64
	overwritten atomic.Uint64
}

// Open opens info through drv and installs the frame and link callbacks.
func Open(ctx context.Context, drv Driver, info Info, logger *slog.Logger) (*Conn, error) {
	h, err := drv.Open(ctx, info)
	if err != nil {
		return nil, classify("open", Transient, err)
	}

	c := &Conn{
		info:   info,
		handle: h,
		logger: logger.With("serial", info.Serial),
		notify: make(chan struct{}, 1),
	}
	h.SetFrameCallback(c.onFrame)
	h.SetLinkCallback(c.onLink)
	return c, nil
}

// Info returns the descriptor the connection was opened with.
func (c *Conn) Info() Info {
	return c.info
}

// Capability returns what the device supports.
func (c *Conn) Capability() types.Capability {
	return c.handle.Capability()
}

func (c *Conn) onFrame(f RawFrame) {
	c.received.Add(1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if c.slot != nil {
		c.skipped++
		c.overwritten.Add(1)
	}
	c.slot = &f
	c.mu.Unlock()

	c.wake()
}

func (c *Conn) onLink(up bool) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	changed := c.linkDown == up
	c.linkDown = !up
	onLost := c.onLost
	c.mu.Unlock()

	if changed {
		if up {
			c.logger.Info("Device link restored")
		} else {
			c.logger.Warn("Device link lost")
		}
	}
	c.wake()
	if changed && !up && onLost != nil {
		onLost()
	}
}

// OnLinkLost registers fn to run when the driver reports the link down.
func (c *Conn) OnLinkLost(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onLost = fn
}

func (c *Conn) wake() {
	select {
	case c.notify <- struct{}{}:
	default:
	}
}

// NextFrame blocks until a frame is available, the timeout elapses
// (ErrTimeout), the link drops (ErrLinkLost), or the connection closes.
func (c *Conn) NextFrame(ctx context.Context, timeout time.Duration) (RawFrame, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		c.ioMu.Lock()
		c.mu.Lock()
		switch {
		case c.closed:
			c.mu.Unlock()
			c.ioMu.Unlock()
			return RawFrame{}, ErrClosed
		case c.linkDown:
			c.mu.Unlock()
			c.ioMu.Unlock()
			return RawFrame{}, ErrLinkLost
		case c.slot != nil:
			f := *c.slot
			f.Skipped = c.skipped
			c.slot = nil
			c.skipped = 0
			c.mu.Unlock()
			c.ioMu.Unlock()
			return f, nil
		}
		c.mu.Unlock()
		c.ioMu.Unlock()

		select {
		case <-c.notify:
		case <-timer.C:
			return RawFrame{}, ErrTimeout
		case <-ctx.Done():
			return RawFrame{}, ctx.Err()
		}
	}
}

// Flush discards a pending frame and returns how many hardware frames it
// accounted for (the pending one plus any it had replaced).
func (c *Conn) Flush() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.slot == nil {
		return 0
	}
	n := c.skipped + 1
	c.slot = nil
	c.skipped = 0
	return n
}

// Configure writes one parameter.
func (c *Conn) Configure(p Param, v any) error {
	if err := c.usable(); err != nil {
		return err
	}
	c.ioMu.Lock()
	defer c.ioMu.Unlock()
	return classify("configure "+string(p), Configuration, c.handle.Configure(p, v))
}

// Query reads one parameter back from the device.
func (c *Conn) Query(p Param) (any, error) {
	if err := c.usable(); err != nil {
		return nil, err
	}
	c.ioMu.Lock()
	defer c.ioMu.Unlock()
	v, err := c.handle.Query(p)
	return v, classify("query "+string(p), Configuration, err)
}

// SetCaptureEnabled starts or pauses sensor readout.
func (c *Conn) SetCaptureEnabled(enabled bool) error {
	if err := c.usable(); err != nil {
		return err
	}
	c.ioMu.Lock()
	defer c.ioMu.Unlock()
	return classify("capture", Transient, c.handle.SetCaptureEnabled(enabled))
}

// Trigger fires one software trigger.
func (c *Conn) Trigger() error {
	if err := c.usable(); err != nil {
		return err
	}
	c.ioMu.Lock()
	defer c.ioMu.Unlock()
	return classify("trigger", Transient, c.handle.SoftwareTrigger())
}

func (c *Conn) usable() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.linkDown {
		return ErrLinkLost
	}
	return nil
}

// Close releases the device. A blocked NextFrame returns ErrClosed.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.slot = nil
	c.mu.Unlock()
	c.wake()

	c.ioMu.Lock()
	defer c.ioMu.Unlock()
	if err := c.handle.Close(); err != nil {
		c.logger.Warn("Device close failed", "error", err)
		return classify("close", Transient, err)
	}
	return nil
}

// Received returns the number of frames the driver delivered on this connection.
func (c *Conn) Received() uint64 {
	return c.received.Load()
}

// Overwritten returns the number of frames replaced before being taken.
func (c *Conn) Overwritten() uint64 {
	return c.overwritten.Load()
}
