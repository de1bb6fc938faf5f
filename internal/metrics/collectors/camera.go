// Package collectors samples camera sessions into Prometheus metrics.
package collectors

import (
	"context"
	"sync"
	"time"

	"github.com/smazurov/camnode/internal/logging"
	"github.com/smazurov/camnode/internal/metrics"
	"github.com/smazurov/camnode/internal/session"
)

// SessionSource lists the sessions to sample.
type SessionSource interface {
	Sessions() []*session.Session
}

// CameraCollector mirrors statistics snapshots into gauges on a fixed interval.
type CameraCollector struct {
	logger   logging.Logger
	source   SessionSource
	interval time.Duration
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	// known is only touched by the collect goroutine.
	known map[string]struct{}
}

// NewCameraCollector creates a collector over source.
func NewCameraCollector(source SessionSource) *CameraCollector {
	return &CameraCollector{
		logger:   logging.GetLogger("metrics"),
		source:   source,
		interval: 2 * time.Second,
		known:    make(map[string]struct{}),
	}
}

// Start begins collecting camera metrics.
func (c *CameraCollector) Start(ctx context.Context) error {
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.wg.Add(1)
	go c.run()
	return nil
}

// Stop stops the collector and removes the series it created.
func (c *CameraCollector) Stop() error {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
	for id := range c.known {
		metrics.DeleteCameraMetrics(id)
		delete(c.known, id)
	}
	return nil
}

func (c *CameraCollector) run() {
	defer c.wg.Done()
	c.logger.Info("Starting camera metrics collection", "interval", c.interval)
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.collect()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.collect()
		}
	}
}

func (c *CameraCollector) collect() {
	seen := make(map[string]struct{})
	for _, s := range c.source.Sessions() {
		snap := s.Stats().Snapshot()
		metrics.SetCameraMetrics(s.ID(), metrics.CameraMetrics{
			HardwareFrames: float64(snap.TotalHardwareFrames),
			Delivered:      float64(snap.Delivered),
			Dropped: map[string]float64{
				metrics.CauseSlowConsumer:   float64(snap.DroppedSlowConsumer),
				metrics.CauseEncodeFailure:  float64(snap.DroppedEncodeFailure),
				metrics.CauseSessionRestart: float64(snap.DroppedSessionRestart),
			},
			LossRate:    snap.LossRate,
			FPS:         snap.FPS,
			Subscribers: float64(s.Distributor().Subscribers()),
			Reconnects:  float64(s.ReconnectCount()),
		})
		seen[s.ID()] = struct{}{}
	}

	for id := range c.known {
		if _, ok := seen[id]; !ok {
			c.logger.Debug("Removing metrics for departed camera", "camera_id", id)
			metrics.DeleteCameraMetrics(id)
		}
	}
	c.known = seen
}
