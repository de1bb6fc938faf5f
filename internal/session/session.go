// Package session runs one camera: it owns the device connection, moves
// frames from the device slot into a distributor, and recovers the link
// when it drops.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/smazurov/camnode/internal/device"
	"github.com/smazurov/camnode/internal/events"
	"github.com/smazurov/camnode/internal/frames"
	"github.com/smazurov/camnode/internal/stats"
	"github.com/smazurov/camnode/internal/types"
)

// DefaultFrameTimeout bounds one acquisition wait.
const DefaultFrameTimeout = 500 * time.Millisecond

// Emitter receives session notifications.
type Emitter interface {
	Emit(cameraID string, kind events.Kind, data map[string]any)
}

// Options configures a Session.
type Options struct {
	FrameTimeout  time.Duration
	QueueSize     int
	OverflowLimit int
	Reconnect     ReconnectConfig
	Emitter       Emitter
	// OnEnd runs once when a connected session reaches disconnected.
	OnEnd  func(id string)
	Logger *slog.Logger
}

// Status is a point-in-time view of a session.
type Status struct {
	ID             string      `json:"id"`
	Serial         string      `json:"serial"`
	State          State       `json:"state" enum:"disconnected,connecting,idle,capturing,paused,stopping,reconnecting"`
	TriggerMode    string      `json:"trigger_mode"`
	Seq            uint64      `json:"seq" doc:"Sequence number of the last delivered frame"`
	Subscribers    int         `json:"subscribers"`
	ReconnectCount int         `json:"reconnect_count"`
	ConnectedAt    time.Time   `json:"connected_at"`
	LastError      string      `json:"last_error,omitempty"`
	Info           device.Info `json:"info"`

	// Driver-side counters of the current connection. They restart at
	// zero after a reconnect.
	LinkFramesReceived    uint64 `json:"link_frames_received" doc:"Frames the driver delivered since the last (re)connect"`
	LinkFramesOverwritten uint64 `json:"link_frames_overwritten" doc:"Frames replaced in the device slot before the session took them"`
}

// Session is a connected camera.
type Session struct {
	id     string
	info   device.Info
	drv    device.Driver
	opts   Options
	logger *slog.Logger

	dist  *frames.Distributor
	stats *stats.Tracker

	// cfgMu serializes device commands issued by callers.
	cfgMu sync.Mutex
	// frameMu is held while a frame moves from the device slot into the
	// distributor.
	frameMu sync.Mutex

	mu           sync.Mutex
	cond         *sync.Cond
	state        State
	started      bool
	ended        bool
	reconnecting bool
	linkLost     bool
	conn         *device.Conn
	caps         types.Capability
	trigger      types.TriggerMode
	armed        int
	applied      map[string]device.Setting
	seq          uint64
	reconnects   int
	connectedAt  time.Time
	lastErr      error

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a disconnected session for info. Connect opens it.
func New(id string, info device.Info, drv device.Driver, opts Options) *Session {
	if opts.FrameTimeout <= 0 {
		opts.FrameTimeout = DefaultFrameTimeout
	}
	if opts.Reconnect == (ReconnectConfig{}) {
		opts.Reconnect = DefaultReconnectConfig()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("camera_id", id, "serial", info.Serial)

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:      id,
		info:    info,
		drv:     drv,
		opts:    opts,
		logger:  logger,
		stats:   stats.NewTracker(),
		state:   StateDisconnected,
		applied: make(map[string]device.Setting),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	s.cond = sync.NewCond(&s.mu)
	s.dist = frames.NewDistributor(frames.Options{
		QueueSize:     opts.QueueSize,
		OverflowLimit: opts.OverflowLimit,
		OnDrop: func(n uint64) {
			s.stats.RecordDrop(stats.CauseSlowConsumer, n)
		},
		OnSubscriptionClosed: func(subID uint64, reason frames.Reason) {
			s.emit(events.KindSubscriptionClosed, map[string]any{
				"subscription_id": subID,
				"reason":          string(reason),
			})
		},
		Logger: logger,
	})
	return s
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Info returns the device descriptor the session was created for.
func (s *Session) Info() device.Info { return s.info }

// Distributor returns the frame fan-out for this session.
func (s *Session) Distributor() *frames.Distributor { return s.dist }

// Stats returns the session's statistics tracker.
func (s *Session) Stats() *stats.Tracker { return s.stats }

// Done is closed once the acquisition loop has exited.
func (s *Session) Done() <-chan struct{} { return s.done }

// State returns the reported state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reportedLocked()
}

func (s *Session) reportedLocked() State {
	if s.reconnecting {
		return StateReconnecting
	}
	return s.state
}

// Capability returns what the connected device supports.
func (s *Session) Capability() types.Capability {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.caps
}

// TriggerMode returns the current acquisition mode.
func (s *Session) TriggerMode() types.TriggerMode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.trigger
}

// ReconnectCount returns how many times the link was recovered or attempted.
func (s *Session) ReconnectCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reconnects
}

// Status returns a snapshot of the session.
func (s *Session) Status() Status {
	s.mu.Lock()
	st := Status{
		ID:             s.id,
		Serial:         s.info.Serial,
		State:          s.reportedLocked(),
		TriggerMode:    s.trigger.String(),
		Seq:            s.seq,
		ReconnectCount: s.reconnects,
		ConnectedAt:    s.connectedAt,
		Info:           s.info,
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	if s.conn != nil {
		st.LinkFramesReceived = s.conn.Received()
		st.LinkFramesOverwritten = s.conn.Overwritten()
	}
	s.mu.Unlock()
	st.Subscribers = s.dist.Subscribers()
	return st
}

// Settings returns the persistent settings applied so far, sorted by key.
func (s *Session) Settings() []device.Setting {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]device.Setting, 0, len(s.applied))
	for _, st := range s.applied {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}

// Setting returns the last applied value of p, if any.
func (s *Session) Setting(p device.Param) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.applied[string(p)]
	return st.Value, ok
}

// Query reads p back from the device.
func (s *Session) Query(p device.Param) (any, error) {
	s.cfgMu.Lock()
	defer s.cfgMu.Unlock()
	conn, err := s.liveConn("query")
	if err != nil {
		return nil, err
	}
	v, err := conn.Query(p)
	if err != nil {
		return nil, s.commandFailed(err)
	}
	return v, nil
}

// Connect opens the device. On failure the session stays disconnected and
// must be discarded.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		from := s.reportedLocked()
		s.mu.Unlock()
		return &TransitionError{Op: "connect", From: from}
	}
	s.started = true
	s.state = StateConnecting
	s.mu.Unlock()

	conn, err := device.Open(ctx, s.drv, s.info, s.logger)
	if err != nil {
		s.mu.Lock()
		s.state = StateDisconnected
		s.ended = true
		s.lastErr = err
		s.mu.Unlock()
		s.cancel()
		s.dist.Close(frames.ReasonSessionEnded)
		close(s.done)
		return fmt.Errorf("%w: %s: %w", ErrConnect, s.info.Serial, err)
	}

	mode := types.TriggerContinuous
	if v, err := conn.Query(device.ParamTriggerMode); err == nil {
		if n, ok := v.(int); ok && types.TriggerMode(n).Valid() {
			mode = types.TriggerMode(n)
		}
	}

	s.mu.Lock()
	s.watchLink(conn)
	s.conn = conn
	s.caps = conn.Capability()
	s.trigger = mode
	s.state = StateIdle
	s.connectedAt = time.Now()
	s.mu.Unlock()

	go s.run()

	s.logger.Info("Camera connected", "product", s.info.ProductName, "mode", mode)
	s.emit(events.KindConnected, map[string]any{
		"serial":        s.info.Serial,
		"product_name":  s.info.ProductName,
		"friendly_name": s.info.FriendlyName,
	})
	return nil
}

// watchLink flags the session for recovery when conn reports link loss.
// Called with mu held.
func (s *Session) watchLink(conn *device.Conn) {
	conn.OnLinkLost(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.conn == conn {
			s.linkLost = true
			s.cond.Broadcast()
		}
	})
}

// Start begins acquisition from idle, or resumes it from paused.
func (s *Session) Start() error {
	s.cfgMu.Lock()
	defer s.cfgMu.Unlock()

	s.mu.Lock()
	from := s.state
	if s.reconnecting || (from != StateIdle && from != StatePaused) {
		rep := s.reportedLocked()
		s.mu.Unlock()
		return &TransitionError{Op: "start", From: rep}
	}
	conn := s.conn
	s.mu.Unlock()

	if err := conn.SetCaptureEnabled(true); err != nil {
		return s.commandFailed(err)
	}

	s.mu.Lock()
	if s.conn != conn || s.state != from {
		rep := s.reportedLocked()
		s.mu.Unlock()
		return &TransitionError{Op: "start", From: rep}
	}
	s.state = StateCapturing
	s.cond.Broadcast()
	s.mu.Unlock()

	s.logger.Info("Capture started", "resumed", from == StatePaused)
	s.emit(events.KindCaptureStarted, map[string]any{"resumed": from == StatePaused})
	return nil
}

// Pause suspends acquisition. The distributor and its subscribers stay open.
func (s *Session) Pause() error {
	s.cfgMu.Lock()
	defer s.cfgMu.Unlock()

	conn, err := s.connIn("pause", StateCapturing)
	if err != nil {
		return err
	}
	if err := conn.SetCaptureEnabled(false); err != nil {
		return s.commandFailed(err)
	}

	s.mu.Lock()
	if s.state == StateCapturing {
		s.state = StatePaused
	}
	s.mu.Unlock()

	s.logger.Info("Capture paused")
	s.emit(events.KindCapturePaused, nil)
	return nil
}

// Stop ends acquisition and returns to idle.
func (s *Session) Stop() error {
	s.cfgMu.Lock()
	defer s.cfgMu.Unlock()

	conn, err := s.connIn("stop", StateCapturing, StatePaused)
	if err != nil {
		return err
	}

	s.mu.Lock()
	prev := s.state
	s.state = StateStopping
	s.mu.Unlock()

	if err := conn.SetCaptureEnabled(false); err != nil {
		s.mu.Lock()
		if s.state == StateStopping {
			s.state = prev
		}
		s.mu.Unlock()
		return s.commandFailed(err)
	}

	s.frameMu.Lock()
	if n := conn.Flush(); n > 0 {
		s.stats.RecordHardwareFrames(n)
	}
	s.frameMu.Unlock()

	s.mu.Lock()
	if s.state == StateStopping {
		s.state = StateIdle
	}
	s.armed = 0
	s.mu.Unlock()

	s.logger.Info("Capture stopped")
	s.emit(events.KindCaptureStopped, nil)
	return nil
}

// Disconnect releases the device and ends every subscription. It is a
// no-op on a disconnected session.
func (s *Session) Disconnect() {
	s.mu.Lock()
	if s.state == StateDisconnected {
		s.mu.Unlock()
		return
	}
	capturing := s.state == StateCapturing || s.state == StatePaused
	s.state = StateStopping
	conn := s.conn
	s.cond.Broadcast()
	s.mu.Unlock()

	if conn != nil && capturing {
		if err := conn.SetCaptureEnabled(false); err != nil {
			s.logger.Debug("Disable capture on disconnect failed", "error", err)
		}
	}
	s.terminate("requested", nil)
}

// Configure applies settings in order, stopping at the first failure.
// Settings applied before the failure stay applied.
func (s *Session) Configure(settings ...device.Setting) error {
	normalized := make([]device.Setting, 0, len(settings))
	oneShot := false
	for _, st := range settings {
		v, err := device.Normalize(st.Param, st.Value)
		if err != nil {
			return err
		}
		if st.Param == device.ParamTriggerMode && !types.TriggerMode(v.(int)).Valid() {
			return device.NewError(device.Configuration, "configure", fmt.Errorf("invalid trigger mode %v", v))
		}
		oneShot = oneShot || st.Param.OneShot()
		normalized = append(normalized, device.Setting{Param: st.Param, Value: v})
	}

	s.cfgMu.Lock()
	defer s.cfgMu.Unlock()

	conn, err := s.liveConn("configure")
	if err != nil {
		return err
	}
	if oneShot {
		s.frameMu.Lock()
		defer s.frameMu.Unlock()
	}

	for _, st := range normalized {
		if err := conn.Configure(st.Param, st.Value); err != nil {
			return s.commandFailed(err)
		}
		s.mu.Lock()
		if !st.Param.OneShot() {
			s.applied[st.Key()] = st
		}
		if st.Param == device.ParamTriggerMode {
			s.trigger = types.TriggerMode(st.Value.(int))
			s.armed = 0
			s.cond.Broadcast()
		}
		s.mu.Unlock()
		s.logger.Debug("Applied setting", "param", st.Key(), "value", st.Value)
	}
	return nil
}

// WhiteBalanceOnce runs a single automatic white balance pass.
func (s *Session) WhiteBalanceOnce() error {
	return s.Configure(device.Setting{Param: device.ParamWhiteBalance1, Value: true})
}

// SoftwareTrigger fires one trigger. It requires software trigger mode and
// an active capture; exactly one frame is delivered per successful call.
func (s *Session) SoftwareTrigger() error {
	s.cfgMu.Lock()
	defer s.cfgMu.Unlock()

	conn, err := s.connIn("trigger", StateCapturing)
	if err != nil {
		return err
	}
	s.mu.Lock()
	mode := s.trigger
	s.mu.Unlock()
	if mode != types.TriggerSoftware {
		return &TransitionError{Op: "trigger", From: StateCapturing, Detail: "trigger mode is " + mode.String()}
	}

	s.frameMu.Lock()
	defer s.frameMu.Unlock()

	s.mu.Lock()
	armed := s.armed
	s.mu.Unlock()
	if armed == 0 {
		// A stray frame in the slot would otherwise answer this trigger.
		if n := conn.Flush(); n > 0 {
			s.stats.RecordHardwareFrames(n)
		}
	}

	if err := conn.Trigger(); err != nil {
		return s.commandFailed(err)
	}

	s.mu.Lock()
	s.armed++
	s.cond.Broadcast()
	s.mu.Unlock()
	return nil
}

func (s *Session) liveConn(op string) (*device.Conn, error) {
	return s.connIn(op, StateIdle, StateCapturing, StatePaused)
}

func (s *Session) connIn(op string, allowed ...State) (*device.Conn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.reconnecting && s.conn != nil {
		for _, st := range allowed {
			if s.state == st {
				return s.conn, nil
			}
		}
	}
	return nil, &TransitionError{Op: op, From: s.reportedLocked()}
}

// commandFailed handles a device command error. Fatal errors end the
// session; transient ones are left to the acquisition loop.
func (s *Session) commandFailed(err error) error {
	if errors.Is(err, device.ErrClosed) {
		s.mu.Lock()
		rep := s.reportedLocked()
		s.mu.Unlock()
		return &TransitionError{Op: "command", From: rep, Detail: "connection closed"}
	}
	if device.IsFatal(err) {
		s.logger.Error("Fatal device error", "error", err)
		go s.terminate("fatal", err)
	}
	return err
}

func (s *Session) emit(kind events.Kind, data map[string]any) {
	if s.opts.Emitter != nil {
		s.opts.Emitter.Emit(s.id, kind, data)
	}
}

type step int

const (
	stepExit step = iota
	stepAcquire
	stepRecover
)

func (s *Session) run() {
	defer close(s.done)
	for {
		conn, next := s.await()
		switch next {
		case stepExit:
			return
		case stepRecover:
			if !s.recover(conn, device.ErrLinkLost) {
				return
			}
			continue
		}

		raw, err := conn.NextFrame(s.ctx, s.opts.FrameTimeout)
		switch {
		case err == nil:
			s.deliver(raw)
		case errors.Is(err, device.ErrTimeout):
			s.stats.RecordNoFrame()
		case s.ctx.Err() != nil:
			return
		case errors.Is(err, device.ErrClosed):
		case device.IsTransient(err):
			if !s.recover(conn, err) {
				return
			}
		default:
			s.logger.Error("Acquisition failed", "error", err)
			s.terminate("fatal", err)
			return
		}
	}
}

// await blocks until there is something for the loop to do.
func (s *Session) await() (*device.Conn, step) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		switch {
		case s.ctx.Err() != nil || s.state == StateDisconnected:
			return nil, stepExit
		case s.linkLost && !s.reconnecting && s.conn != nil:
			return s.conn, stepRecover
		case s.state == StateCapturing && !s.reconnecting && s.conn != nil &&
			(s.trigger != types.TriggerSoftware || s.armed > 0):
			return s.conn, stepAcquire
		}
		s.cond.Wait()
	}
}

func (s *Session) deliver(raw device.RawFrame) {
	s.frameMu.Lock()
	defer s.frameMu.Unlock()

	s.stats.RecordHardwareFrames(1 + raw.Skipped)

	s.mu.Lock()
	s.seq++
	seq := s.seq
	if s.trigger == types.TriggerSoftware && s.armed > 0 {
		s.armed--
	}
	s.mu.Unlock()

	ts := raw.Captured
	if ts.IsZero() {
		ts = time.Now()
	}
	s.dist.Publish(&frames.Frame{
		Seq:          seq,
		Timestamp:    ts,
		Width:        raw.Width,
		Height:       raw.Height,
		Format:       raw.Format,
		ExposureTime: raw.ExposureTime,
		AnalogGain:   raw.AnalogGain,
		Data:         raw.Data,
	})
	s.stats.RecordDelivered()
}

// recover replaces a lost connection. It returns false when the session
// ended instead.
func (s *Session) recover(old *device.Conn, cause error) bool {
	s.mu.Lock()
	if s.state == StateDisconnected || s.ctx.Err() != nil {
		s.mu.Unlock()
		return false
	}
	if s.conn != old {
		s.linkLost = false
		s.mu.Unlock()
		return true
	}
	s.reconnecting = true
	s.linkLost = false
	s.conn = nil
	s.armed = 0
	s.reconnects++
	attempt := s.reconnects
	s.lastErr = cause
	s.mu.Unlock()

	s.logger.Warn("Link lost, reconnecting", "error", cause)
	s.emit(events.KindReconnecting, map[string]any{
		"error":           cause.Error(),
		"reconnect_count": attempt,
		"budget":          s.opts.Reconnect.MaxElapsed.String(),
	})

	s.frameMu.Lock()
	if n := old.Flush(); n > 0 {
		s.stats.RecordHardwareFrames(n)
		s.stats.RecordDrop(stats.CauseSessionRestart, n)
	}
	s.frameMu.Unlock()
	_ = old.Close()

	conn, err := retry(s.ctx, s.opts.Reconnect, s.logger, device.IsFatal, s.reopen)
	if err != nil {
		if s.ctx.Err() != nil {
			return false
		}
		s.logger.Error("Reconnect failed", "error", err)
		if errors.Is(err, ErrReconnectTimeout) {
			s.terminate("reconnect_timeout", err)
		} else {
			s.terminate("fatal", err)
		}
		return false
	}

	s.mu.Lock()
	if s.state == StateDisconnected || s.ctx.Err() != nil {
		s.mu.Unlock()
		_ = conn.Close()
		return false
	}
	s.watchLink(conn)
	s.conn = conn
	s.reconnecting = false
	s.cond.Broadcast()
	s.mu.Unlock()

	s.emit(events.KindReconnected, map[string]any{"reconnect_count": attempt})
	return true
}

// reopen finds the device by serial, opens it and restores settings and
// capture state.
func (s *Session) reopen(ctx context.Context) (*device.Conn, error) {
	info, err := device.Find(ctx, s.drv, s.info.Serial)
	if err != nil {
		return nil, err
	}
	conn, err := device.Open(ctx, s.drv, info, s.logger)
	if err != nil {
		return nil, err
	}
	if err := s.replay(conn); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return conn, nil
}

func (s *Session) replay(conn *device.Conn) error {
	s.cfgMu.Lock()
	defer s.cfgMu.Unlock()

	for _, st := range s.Settings() {
		if !st.Param.Persistent() {
			continue
		}
		if err := conn.Configure(st.Param, st.Value); err != nil {
			if device.IsConfiguration(err) {
				s.logger.Warn("Setting not restored", "param", st.Key(), "error", err)
				continue
			}
			return err
		}
	}

	s.mu.Lock()
	capturing := s.state == StateCapturing
	s.mu.Unlock()
	if capturing {
		return conn.SetCaptureEnabled(true)
	}
	return nil
}

// terminate moves the session to disconnected. Only the first call has
// any effect.
func (s *Session) terminate(reason string, cause error) {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	s.ended = true
	s.state = StateDisconnected
	s.reconnecting = false
	conn := s.conn
	s.conn = nil
	if cause != nil {
		s.lastErr = cause
	}
	s.cond.Broadcast()
	s.mu.Unlock()

	s.cancel()
	if conn != nil {
		_ = conn.Close()
	}
	s.dist.Close(frames.ReasonSessionEnded)

	data := map[string]any{"reason": reason}
	if cause != nil {
		data["error"] = cause.Error()
		s.logger.Warn("Camera disconnected", "reason", reason, "error", cause)
	} else {
		s.logger.Info("Camera disconnected", "reason", reason)
	}
	s.emit(events.KindDisconnected, data)

	if s.opts.OnEnd != nil {
		s.opts.OnEnd(s.id)
	}
}
