// Package metrics provides Prometheus metrics for connected cameras.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cameraHardwareFrames = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "camnode",
		Subsystem: "camera",
		Name:      "hardware_frames_total",
		Help:      "Frames received from the camera",
	}, []string{"camera_id"})

	cameraDelivered = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "camnode",
		Subsystem: "camera",
		Name:      "delivered_frames_total",
		Help:      "Frames published to consumers",
	}, []string{"camera_id"})

	cameraDropped = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "camnode",
		Subsystem: "camera",
		Name:      "dropped_frames_total",
		Help:      "Dropped frames by cause",
	}, []string{"camera_id", "cause"})

	cameraLossRate = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "camnode",
		Subsystem: "camera",
		Name:      "loss_rate",
		Help:      "Fraction of hardware frames not delivered",
	}, []string{"camera_id"})

	cameraFPS = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "camnode",
		Subsystem: "camera",
		Name:      "fps",
		Help:      "Average delivered frames per second",
	}, []string{"camera_id"})

	cameraSubscribers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "camnode",
		Subsystem: "camera",
		Name:      "subscribers",
		Help:      "Open stream subscriptions",
	}, []string{"camera_id"})

	cameraReconnects = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "camnode",
		Subsystem: "camera",
		Name:      "reconnects_total",
		Help:      "Completed and attempted session recoveries",
	}, []string{"camera_id"})

	// Local cache for SSE exporter access.
	cameraCache   = make(map[string]*CameraMetrics)
	cameraCacheMu sync.RWMutex
)

// Drop causes used as the cause label.
const (
	CauseSlowConsumer   = "slow_consumer"
	CauseEncodeFailure  = "encode_failure"
	CauseSessionRestart = "session_restart"
)

// CameraMetrics holds current metric values for a camera.
type CameraMetrics struct {
	HardwareFrames float64
	Delivered      float64
	Dropped        map[string]float64
	LossRate       float64
	FPS            float64
	Subscribers    float64
	Reconnects     float64
}

// TotalDropped sums drops over all causes.
func (m *CameraMetrics) TotalDropped() float64 {
	var n float64
	for _, v := range m.Dropped {
		n += v
	}
	return n
}

func (m *CameraMetrics) clone() *CameraMetrics {
	dup := *m
	dup.Dropped = make(map[string]float64, len(m.Dropped))
	for k, v := range m.Dropped {
		dup.Dropped[k] = v
	}
	return &dup
}

// SetCameraMetrics replaces every gauge for a camera.
func SetCameraMetrics(cameraID string, m CameraMetrics) {
	cameraHardwareFrames.WithLabelValues(cameraID).Set(m.HardwareFrames)
	cameraDelivered.WithLabelValues(cameraID).Set(m.Delivered)
	for cause, n := range m.Dropped {
		cameraDropped.WithLabelValues(cameraID, cause).Set(n)
	}
	cameraLossRate.WithLabelValues(cameraID).Set(m.LossRate)
	cameraFPS.WithLabelValues(cameraID).Set(m.FPS)
	cameraSubscribers.WithLabelValues(cameraID).Set(m.Subscribers)
	cameraReconnects.WithLabelValues(cameraID).Set(m.Reconnects)

	cameraCacheMu.Lock()
	cameraCache[cameraID] = m.clone()
	cameraCacheMu.Unlock()
}

// DeleteCameraMetrics removes all metrics for a camera.
func DeleteCameraMetrics(cameraID string) {
	cameraHardwareFrames.DeleteLabelValues(cameraID)
	cameraDelivered.DeleteLabelValues(cameraID)
	cameraDropped.DeletePartialMatch(prometheus.Labels{"camera_id": cameraID})
	cameraLossRate.DeleteLabelValues(cameraID)
	cameraFPS.DeleteLabelValues(cameraID)
	cameraSubscribers.DeleteLabelValues(cameraID)
	cameraReconnects.DeleteLabelValues(cameraID)

	cameraCacheMu.Lock()
	delete(cameraCache, cameraID)
	cameraCacheMu.Unlock()
}

// GetCameraMetrics returns current metric values for a camera.
func GetCameraMetrics(cameraID string) *CameraMetrics {
	cameraCacheMu.RLock()
	defer cameraCacheMu.RUnlock()
	if m, ok := cameraCache[cameraID]; ok {
		return m.clone()
	}
	return nil
}

// GetAllCameraMetrics returns metrics for all tracked cameras.
func GetAllCameraMetrics() map[string]*CameraMetrics {
	cameraCacheMu.RLock()
	defer cameraCacheMu.RUnlock()
	result := make(map[string]*CameraMetrics, len(cameraCache))
	for id, m := range cameraCache {
		result[id] = m.clone()
	}
	return result
}
