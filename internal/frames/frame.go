// Package frames holds the frame model and the distributor that fans
// frames out from one producer to many consumers.
package frames

import (
	"time"

	"github.com/smazurov/camnode/internal/types"
)

// Frame is an acquired image. Frames handed out by the distributor are
// shared and must be treated as read-only; use Clone to keep a private copy.
type Frame struct {
	Seq          uint64
	Timestamp    time.Time
	Width        int
	Height       int
	Format       types.PixelFormat
	ExposureTime float64 // microseconds
	AnalogGain   int
	Data         []byte
}

// Clone returns a deep copy of f.
func (f *Frame) Clone() *Frame {
	c := *f
	c.Data = make([]byte, len(f.Data))
	copy(c.Data, f.Data)
	return &c
}

// Stride returns the number of bytes per row.
func (f *Frame) Stride() int {
	return f.Width * f.Format.Channels()
}
