// Package cameras is the registry of connected cameras and the operations
// exposed on them.
package cameras

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/smazurov/camnode/internal/codec"
	"github.com/smazurov/camnode/internal/device"
	"github.com/smazurov/camnode/internal/events"
	"github.com/smazurov/camnode/internal/frames"
	"github.com/smazurov/camnode/internal/params"
	"github.com/smazurov/camnode/internal/session"
	"github.com/smazurov/camnode/internal/stats"
)

// Options configures a Manager.
type Options struct {
	Driver device.Driver
	// Session is the template for every new session. Emitter, OnEnd and
	// Logger are filled in by the manager.
	Session session.Options
	Emitter session.Emitter
	// Params stores parameter sets; nil disables save/load.
	Params *params.Store
	Logger *slog.Logger
}

// Camera describes a connected camera.
type Camera struct {
	ID    string        `json:"id"`
	Info  device.Info   `json:"info"`
	State session.State `json:"state"`
}

// SnapResult is an encoded still.
type SnapResult struct {
	Data      []byte
	Format    codec.Format
	Seq       uint64
	Width     int
	Height    int
	Timestamp time.Time
}

// Manager owns every live session. At most one session exists per serial.
type Manager struct {
	drv    device.Driver
	opts   Options
	logger *slog.Logger

	mu         sync.RWMutex
	sessions   map[string]*session.Session
	serials    map[string]string
	discovered []device.Info
}

// NewManager creates an empty registry.
func NewManager(opts Options) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		drv:      opts.Driver,
		opts:     opts,
		logger:   logger,
		sessions: make(map[string]*session.Session),
		serials:  make(map[string]string),
	}
}

// Discover enumerates attached cameras. Connect indexes into the most
// recent result.
func (m *Manager) Discover(ctx context.Context) ([]device.Info, error) {
	infos, err := m.drv.Enumerate(ctx)
	if err != nil {
		return nil, fmt.Errorf("discover cameras: %w", err)
	}
	m.mu.Lock()
	m.discovered = append([]device.Info(nil), infos...)
	m.mu.Unlock()
	m.logger.Debug("Discovered cameras", "count", len(infos))
	return infos, nil
}

// Connect opens the camera at index of the last discovery (discovering
// first if nothing was discovered yet).
func (m *Manager) Connect(ctx context.Context, index int) (*session.Session, error) {
	m.mu.RLock()
	known := len(m.discovered) > 0
	m.mu.RUnlock()
	if !known {
		if _, err := m.Discover(ctx); err != nil {
			return nil, err
		}
	}

	id := uuid.NewString()

	m.mu.Lock()
	if index < 0 || index >= len(m.discovered) {
		n := len(m.discovered)
		m.mu.Unlock()
		return nil, NewCameraError(ErrCodeIndexOutOfRange, fmt.Sprintf("index %d, %d cameras discovered", index, n), ErrIndexOutOfRange)
	}
	info := m.discovered[index]
	if owner, ok := m.serials[info.Serial]; ok {
		m.mu.Unlock()
		return nil, NewCameraError(ErrCodeAlreadyConnected, fmt.Sprintf("serial %s is held by %s", info.Serial, owner), ErrAlreadyConnected)
	}
	// Reserve the serial so a concurrent connect cannot open it twice.
	m.serials[info.Serial] = id
	m.mu.Unlock()

	opts := m.opts.Session
	opts.Emitter = m.opts.Emitter
	opts.Logger = m.logger
	opts.OnEnd = m.remove

	s := session.New(id, info, m.drv, opts)
	if err := s.Connect(ctx); err != nil {
		m.mu.Lock()
		delete(m.serials, info.Serial)
		m.mu.Unlock()
		return nil, NewCameraError(ErrCodeConnectFailed, info.Serial, err)
	}

	m.mu.Lock()
	if s.State() == session.StateDisconnected {
		// Ended before it could be registered.
		m.mu.Unlock()
		return nil, NewCameraError(ErrCodeConnectFailed, info.Serial, session.ErrConnect)
	}
	m.sessions[id] = s
	m.mu.Unlock()
	m.logger.Info("Camera registered", "camera_id", id, "serial", info.Serial, "index", index)
	return s, nil
}

// remove drops a session that reached disconnected.
func (m *Manager) remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		// Ended before Connect returned; only the reservation exists.
		for serial, owner := range m.serials {
			if owner == id {
				delete(m.serials, serial)
			}
		}
		return
	}
	delete(m.sessions, id)
	if m.serials[s.Info().Serial] == id {
		delete(m.serials, s.Info().Serial)
	}
	m.logger.Debug("Camera unregistered", "camera_id", id)
}

// Get returns the session for id.
func (m *Manager) Get(id string) (*session.Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, NewCameraError(ErrCodeCameraNotFound, id, ErrCameraNotFound)
	}
	return s, nil
}

// Sessions returns the live sessions in no particular order.
func (m *Manager) Sessions() []*session.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	list := make([]*session.Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		list = append(list, s)
	}
	return list
}

// List returns all connected cameras sorted by serial.
func (m *Manager) List() []Camera {
	list := m.Sessions()
	out := make([]Camera, 0, len(list))
	for _, s := range list {
		out = append(out, Camera{ID: s.ID(), Info: s.Info(), State: s.State()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Info.Serial < out[j].Info.Serial })
	return out
}

// Disconnect ends the session for id.
func (m *Manager) Disconnect(id string) error {
	s, err := m.Get(id)
	if err != nil {
		return err
	}
	s.Disconnect()
	return nil
}

// Start begins or resumes acquisition.
func (m *Manager) Start(id string) error {
	s, err := m.Get(id)
	if err != nil {
		return err
	}
	return s.Start()
}

// Stop ends acquisition.
func (m *Manager) Stop(id string) error {
	s, err := m.Get(id)
	if err != nil {
		return err
	}
	return s.Stop()
}

// Pause suspends acquisition.
func (m *Manager) Pause(id string) error {
	s, err := m.Get(id)
	if err != nil {
		return err
	}
	return s.Pause()
}

// LatestFrame returns the most recent frame, waiting up to timeout for the
// first one.
func (m *Manager) LatestFrame(ctx context.Context, id string, timeout time.Duration) (*frames.Frame, error) {
	s, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	return s.Distributor().Latest(ctx, timeout)
}

// WaitNextFrame returns the first frame published after the call.
func (m *Manager) WaitNextFrame(ctx context.Context, id string, timeout time.Duration) (*frames.Frame, error) {
	s, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	return s.Distributor().Next(ctx, timeout)
}

// OpenStream subscribes to every frame of id.
func (m *Manager) OpenStream(id string) (*frames.Subscription, error) {
	s, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	return s.Distributor().Subscribe()
}

// CloseStream ends a subscription. Closing twice is harmless.
func (m *Manager) CloseStream(sub *frames.Subscription) {
	if sub != nil {
		sub.Close()
	}
}

// Statistics returns the frame counters of id.
func (m *Manager) Statistics(id string) (stats.Snapshot, error) {
	s, err := m.Get(id)
	if err != nil {
		return stats.Snapshot{}, err
	}
	return s.Stats().Snapshot(), nil
}

// SoftwareTrigger fires one trigger on id.
func (m *Manager) SoftwareTrigger(id string) error {
	s, err := m.Get(id)
	if err != nil {
		return err
	}
	if err := s.SoftwareTrigger(); err != nil {
		return err
	}
	m.emit(id, events.KindSoftwareTrigger, nil)
	return nil
}

// WhiteBalanceOnce runs one automatic white balance pass on id.
func (m *Manager) WhiteBalanceOnce(id string) error {
	s, err := m.Get(id)
	if err != nil {
		return err
	}
	if s.Capability().MonoSensor {
		return fmt.Errorf("%w: white balance is not available on a mono sensor", ErrInvalidConfig)
	}
	if err := s.WhiteBalanceOnce(); err != nil {
		return err
	}
	m.emit(id, events.KindWhiteBalanceOnce, nil)
	return nil
}

// SetConfig applies a parameter group and announces the change.
func (m *Manager) SetConfig(id string, cfg Config) error {
	s, err := m.Get(id)
	if err != nil {
		return err
	}
	settings, err := cfg.Settings(s.Capability())
	if err != nil {
		return err
	}
	if err := s.Configure(settings...); err != nil {
		return err
	}
	m.emit(id, cfg.Event(), payload(settings))
	return nil
}

// GetConfig returns the parameters applied to id, keyed by parameter name.
func (m *Manager) GetConfig(id string) (map[string]any, error) {
	s, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	settings := s.Settings()
	out := payload(settings)
	for _, st := range settings {
		if st.Param == device.ParamIO {
			delete(out, string(device.ParamIO))
			out[st.Key()] = payload([]device.Setting{st})[string(device.ParamIO)]
		}
	}
	if _, ok := out[string(device.ParamTriggerMode)]; !ok {
		out[string(device.ParamTriggerMode)] = s.TriggerMode().String()
	}
	return out, nil
}

// QueryParameter reads p back from the camera, rendered the way GetConfig
// renders applied values.
func (m *Manager) QueryParameter(id string, p device.Param) (any, error) {
	if !p.Known() || p.OneShot() {
		return nil, fmt.Errorf("%w: unknown parameter %q", ErrInvalidConfig, p)
	}
	s, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	v, err := s.Query(p)
	if err != nil {
		return nil, err
	}
	return payload([]device.Setting{{Param: p, Value: v}})[string(p)], nil
}

// Snap waits for the next frame, encodes it and announces the capture.
func (m *Manager) Snap(ctx context.Context, id string, format codec.Format, timeout time.Duration) (*SnapResult, error) {
	s, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	format, err = codec.ParseFormat(string(format))
	if err != nil {
		return nil, err
	}

	f, err := s.Distributor().Next(ctx, timeout)
	if err != nil {
		return nil, err
	}
	data, err := codec.Encode(f, format, codec.Options{Quality: codec.DefaultSnapQuality})
	if err != nil {
		return nil, err
	}

	m.emit(id, events.KindImageSnapped, map[string]any{
		"format": string(format),
		"seq":    f.Seq,
		"width":  f.Width,
		"height": f.Height,
		"bytes":  len(data),
	})
	return &SnapResult{
		Data:      data,
		Format:    format,
		Seq:       f.Seq,
		Width:     f.Width,
		Height:    f.Height,
		Timestamp: f.Timestamp,
	}, nil
}

// EncodeForStream encodes a streamed frame. Failures count as encode drops.
func (m *Manager) EncodeForStream(id string, f *frames.Frame, format codec.Format, opts codec.Options) ([]byte, error) {
	if opts.Quality == 0 {
		opts.Quality = codec.DefaultStreamQuality
	}
	data, err := codec.Encode(f, format, opts)
	if err != nil {
		if s, getErr := m.Get(id); getErr == nil {
			s.Stats().RecordDrop(stats.CauseEncodeFailure, 1)
		}
		return nil, err
	}
	return data, nil
}

// SaveParameters stores the persistent parameters of id as a team set.
func (m *Manager) SaveParameters(id string, team int) error {
	s, err := m.Get(id)
	if err != nil {
		return err
	}
	if m.opts.Params == nil {
		return ErrNoParamStore
	}

	values := make(map[string]any)
	for _, st := range s.Settings() {
		if st.Param.Persistent() {
			values[st.Key()] = st.Value
		}
	}
	if err := m.opts.Params.Save(s.Info().Serial, team, values); err != nil {
		return err
	}
	m.emit(id, events.KindParametersSaved, map[string]any{"team": team, "count": len(values)})
	return nil
}

// LoadParameters applies a saved team set to id.
func (m *Manager) LoadParameters(id string, team int) error {
	s, err := m.Get(id)
	if err != nil {
		return err
	}
	if m.opts.Params == nil {
		return ErrNoParamStore
	}

	values, err := m.opts.Params.Get(s.Info().Serial, team)
	if err != nil {
		return err
	}
	settings, err := settingsFrom(values)
	if err != nil {
		return err
	}
	if err := s.Configure(settings...); err != nil {
		return err
	}
	m.emit(id, events.KindParametersLoaded, map[string]any{"team": team, "count": len(settings)})
	return nil
}

// settingsFrom turns a stored set into settings. Media type and ROI go
// first so later values are validated against the final geometry.
func settingsFrom(values map[string]any) ([]device.Setting, error) {
	out := make([]device.Setting, 0, len(values))
	for k, v := range values {
		p := device.Param(k)
		if !p.Known() || !p.Persistent() {
			return nil, fmt.Errorf("%w: unknown stored parameter %q", ErrInvalidConfig, k)
		}
		out = append(out, device.Setting{Param: p, Value: v})
	}
	rank := func(p device.Param) int {
		switch p {
		case device.ParamMediaType:
			return 0
		case device.ParamWidth, device.ParamHeight, device.ParamOffsetX, device.ParamOffsetY:
			return 1
		case device.ParamTriggerMode:
			return 3
		default:
			return 2
		}
	}
	sort.Slice(out, func(i, j int) bool {
		ri, rj := rank(out[i].Param), rank(out[j].Param)
		if ri != rj {
			return ri < rj
		}
		return out[i].Param < out[j].Param
	})
	return out, nil
}

// Shutdown disconnects every camera.
func (m *Manager) Shutdown() {
	list := m.Sessions()

	var wg sync.WaitGroup
	for _, s := range list {
		wg.Add(1)
		go func(s *session.Session) {
			defer wg.Done()
			s.Disconnect()
			<-s.Done()
		}(s)
	}
	wg.Wait()
	m.logger.Info("All cameras disconnected", "count", len(list))
}

func (m *Manager) emit(id string, kind events.Kind, data map[string]any) {
	if m.opts.Emitter != nil {
		m.opts.Emitter.Emit(id, kind, data)
	}
}

// IsNotFound reports whether err means the camera or index does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrCameraNotFound) || errors.Is(err, ErrIndexOutOfRange)
}
