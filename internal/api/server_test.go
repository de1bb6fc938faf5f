package api

import (
	"bufio"
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/smazurov/camnode/internal/api/models"
	"github.com/smazurov/camnode/internal/broker"
	"github.com/smazurov/camnode/internal/cameras"
	"github.com/smazurov/camnode/internal/device/sim"
	"github.com/smazurov/camnode/internal/events"
	"github.com/smazurov/camnode/internal/logging"
	"github.com/smazurov/camnode/internal/session"
)

type testEnv struct {
	server    *Server
	driver    *sim.Driver
	manager   *cameras.Manager
	bus       *events.Bus
	publisher *events.Publisher
}

// newTestEnv builds a server over two simulated cameras. setup runs before
// the server is created.
func newTestEnv(t *testing.T, opts *Options, setup ...func(*sim.Driver, *Options)) *testEnv {
	t.Helper()

	bus := events.New()
	pub := events.NewPublisher(bus, nil, events.PublisherOptions{})
	pub.Start()

	drv := sim.New(sim.Options{Cameras: 2, FPS: 50, Width: 64, Height: 48})
	mgr := cameras.NewManager(cameras.Options{
		Driver:  drv,
		Session: session.Options{FrameTimeout: 100 * time.Millisecond},
		Emitter: pub,
	})

	if opts == nil {
		opts = &Options{}
	}
	opts.Cameras = mgr
	opts.EventBus = bus
	opts.Publisher = pub
	for _, fn := range setup {
		fn(drv, opts)
	}

	env := &testEnv{
		server:    NewServer(opts),
		driver:    drv,
		manager:   mgr,
		bus:       bus,
		publisher: pub,
	}
	t.Cleanup(func() {
		mgr.Shutdown()
		pub.Stop()
	})
	return env
}

func (e *testEnv) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	e.server.GetMux().ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) connect(t *testing.T, index int) string {
	t.Helper()
	rec := e.do(http.MethodPost, fmt.Sprintf("/api/cameras/%d/connect", index), "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("connect %d: status %d: %s", index, rec.Code, rec.Body.String())
	}
	var data models.ConnectData
	if err := json.Unmarshal(rec.Body.Bytes(), &data); err != nil {
		t.Fatalf("decode connect response: %v", err)
	}
	if data.ID == "" || data.State != session.StateIdle {
		t.Fatalf("connect returned id %q state %q", data.ID, data.State)
	}
	return data.ID
}

func (e *testEnv) start(t *testing.T, id string) {
	t.Helper()
	rec := e.do(http.MethodPost, "/api/cameras/"+id+"/start", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("start: status %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, &Options{AuthUsername: "admin", AuthPassword: "secret"})

	rec := env.do(http.MethodGet, "/api/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("health without credentials: status %d", rec.Code)
	}
	var data models.HealthData
	if err := json.Unmarshal(rec.Body.Bytes(), &data); err != nil {
		t.Fatal(err)
	}
	if data.Status != "ok" || data.Cameras != 0 {
		t.Errorf("health = %+v", data)
	}
}

func TestCORS(t *testing.T) {
	env := newTestEnv(t, &Options{AuthUsername: "admin", AuthPassword: "secret"})

	rec := env.do(http.MethodOptions, "/api/cameras/abc/stream", "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("preflight status = %d, want 204", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("allow origin = %q", got)
	}

	rec = env.do(http.MethodGet, "/api/health", "")
	if got := rec.Header().Get("Access-Control-Expose-Headers"); !strings.Contains(got, "X-Frame-Seq") {
		t.Errorf("expose headers = %q, want X-Frame-Seq", got)
	}
}

func TestBasicAuth(t *testing.T) {
	env := newTestEnv(t, &Options{AuthUsername: "admin", AuthPassword: "secret"})
	good := base64.StdEncoding.EncodeToString([]byte("admin:secret"))
	bad := base64.StdEncoding.EncodeToString([]byte("admin:wrong"))

	tests := []struct {
		name   string
		header string
		query  string
		want   int
	}{
		{name: "no credentials", want: http.StatusUnauthorized},
		{name: "header", header: "Basic " + good, want: http.StatusOK},
		{name: "query", query: "?auth=" + good, want: http.StatusOK},
		{name: "wrong password", header: "Basic " + bad, want: http.StatusUnauthorized},
		{name: "bearer", header: "Bearer " + good, want: http.StatusUnauthorized},
		{name: "garbage", query: "?auth=%25%25", want: http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/cameras"+tt.query, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			env.server.GetMux().ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tt.want, rec.Body.String())
			}
			if tt.want == http.StatusUnauthorized && rec.Header().Get("WWW-Authenticate") == "" {
				t.Error("missing WWW-Authenticate header")
			}
		})
	}
}

func TestDiscoverAndList(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(http.MethodGet, "/api/cameras/discover", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("discover: status %d", rec.Code)
	}
	var found models.DiscoverData
	if err := json.Unmarshal(rec.Body.Bytes(), &found); err != nil {
		t.Fatal(err)
	}
	if found.Count != 2 || len(found.Cameras) != 2 {
		t.Fatalf("discovered %d cameras, want 2", found.Count)
	}

	id := env.connect(t, 1)

	rec = env.do(http.MethodGet, "/api/cameras", "")
	var list models.CameraListData
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatal(err)
	}
	if list.Count != 1 || list.Cameras[0].ID != id || list.Cameras[0].Info.Serial != found.Cameras[1].Serial {
		t.Errorf("list = %+v", list)
	}
}

func TestConnectStartSnap(t *testing.T) {
	env := newTestEnv(t, nil)
	id := env.connect(t, 0)
	env.start(t, id)

	rec := env.do(http.MethodGet, "/api/cameras/"+id+"/snap?format=png&timeout=2000", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("snap: status %d: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/png" {
		t.Errorf("Content-Type = %q", ct)
	}
	if rec.Header().Get("X-Frame-Seq") == "" {
		t.Error("missing X-Frame-Seq header")
	}
	if !bytes.HasPrefix(rec.Body.Bytes(), []byte("\x89PNG")) {
		t.Error("body is not a PNG image")
	}

	rec = env.do(http.MethodGet, "/api/cameras/"+id+"/frame?wait=true&timeout=2000", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("frame: status %d: %s", rec.Code, rec.Body.String())
	}
	var frame models.FrameData
	if err := json.Unmarshal(rec.Body.Bytes(), &frame); err != nil {
		t.Fatal(err)
	}
	if frame.Width != 64 || frame.Height != 48 || frame.Format != "jpeg" {
		t.Errorf("frame = %dx%d %q", frame.Width, frame.Height, frame.Format)
	}
	img, err := base64.StdEncoding.DecodeString(frame.Image)
	if err != nil || !bytes.HasPrefix(img, []byte{0xFF, 0xD8}) {
		t.Errorf("frame image is not base64 JPEG (err %v)", err)
	}

	rec = env.do(http.MethodGet, "/api/cameras/"+id+"/frame?encoding=none", "")
	var meta models.FrameData
	if err := json.Unmarshal(rec.Body.Bytes(), &meta); err != nil {
		t.Fatal(err)
	}
	if meta.Image != "" || meta.Width != 64 {
		t.Errorf("encoding=none: width %d, %d image bytes", meta.Width, len(meta.Image))
	}

	rec = env.do(http.MethodGet, "/api/cameras/"+id+"/statistics", "")
	var st models.StatisticsData
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatal(err)
	}
	if st.Delivered == 0 || st.TotalHardwareFrames < st.Delivered {
		t.Errorf("statistics = %+v", st.Snapshot)
	}

	rec = env.do(http.MethodGet, "/api/cameras/"+id+"/status", "")
	var status models.StatusData
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatal(err)
	}
	if status.State != session.StateCapturing || status.Capability.MaxWidth != 64 {
		t.Errorf("status = %+v", status)
	}
}

func TestLifecycleActions(t *testing.T) {
	env := newTestEnv(t, nil)
	id := env.connect(t, 0)

	steps := []struct {
		verb  string
		code  int
		state session.State
	}{
		{"start", http.StatusOK, session.StateCapturing},
		{"pause", http.StatusOK, session.StatePaused},
		{"start", http.StatusOK, session.StateCapturing},
		{"stop", http.StatusOK, session.StateIdle},
		{"disconnect", http.StatusOK, session.StateDisconnected},
	}
	for _, step := range steps {
		rec := env.do(http.MethodPost, "/api/cameras/"+id+"/"+step.verb, "")
		if rec.Code != step.code {
			t.Fatalf("%s: status %d: %s", step.verb, rec.Code, rec.Body.String())
		}
		var data models.ActionData
		if err := json.Unmarshal(rec.Body.Bytes(), &data); err != nil {
			t.Fatal(err)
		}
		if data.State != step.state {
			t.Errorf("after %s state = %q, want %q", step.verb, data.State, step.state)
		}
	}

	rec := env.do(http.MethodGet, "/api/cameras/"+id+"/status", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status after disconnect = %d, want 404", rec.Code)
	}
}

func TestErrorMapping(t *testing.T) {
	env := newTestEnv(t, nil)
	idle := env.connect(t, 0)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"unknown camera", http.MethodGet, "/api/cameras/nope/status", "", http.StatusNotFound},
		{"index out of range", http.MethodPost, "/api/cameras/5/connect", "", http.StatusNotFound},
		{"already connected", http.MethodPost, "/api/cameras/0/connect", "", http.StatusConflict},
		{"pause while idle", http.MethodPost, "/api/cameras/" + idle + "/pause", "", http.StatusConflict},
		{"trigger in continuous mode", http.MethodPost, "/api/cameras/" + idle + "/trigger/software", "", http.StatusConflict},
		{"snap timeout", http.MethodGet, "/api/cameras/" + idle + "/snap?timeout=50", "", http.StatusRequestTimeout},
		{"gain out of range", http.MethodPut, "/api/cameras/" + idle + "/gain", `{"analog_gain": 100}`, http.StatusBadRequest},
		{"empty exposure", http.MethodPut, "/api/cameras/" + idle + "/exposure", `{}`, http.StatusBadRequest},
		{"io pin missing", http.MethodPut, "/api/cameras/" + idle + "/io/9", `{"mode": 3}`, http.StatusBadRequest},
		{"no parameter store", http.MethodPost, "/api/cameras/" + idle + "/parameters/save?team=1", "", http.StatusNotImplemented},
		{"invalid snap format", http.MethodGet, "/api/cameras/" + idle + "/snap?format=gif", "", http.StatusUnprocessableEntity},
		{"unknown camera stream", http.MethodGet, "/api/cameras/nope/stream", "", http.StatusNotFound},
		{"packet length too large", http.MethodPut, "/api/cameras/" + idle + "/network/packet-length", `{"bytes": 4000000}`, http.StatusUnprocessableEntity},
		{"unknown parameter", http.MethodGet, "/api/cameras/" + idle + "/parameters/shutter_angle", "", http.StatusBadRequest},
		{"one-shot parameter", http.MethodGet, "/api/cameras/" + idle + "/parameters/white_balance_once", "", http.StatusBadRequest},
		{"unknown camera info", http.MethodGet, "/api/cameras/nope/info", "", http.StatusNotFound},
		{"unknown camera capability", http.MethodGet, "/api/cameras/nope/capability", "", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(tt.method, tt.path, tt.body)
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tt.want, rec.Body.String())
			}
		})
	}
}

func TestConfigUpdateEmitsEvent(t *testing.T) {
	env := newTestEnv(t, nil)
	id := env.connect(t, 0)

	ch := make(chan any, 32)
	unsubscribe := events.SubscribeToChannel[events.CameraEvent](env.bus, ch)
	defer unsubscribe()

	rec := env.do(http.MethodPut, "/api/cameras/"+id+"/gain", `{"analog_gain": 4}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("set gain: status %d: %s", rec.Code, rec.Body.String())
	}
	var cfg models.ConfigData
	if err := json.Unmarshal(rec.Body.Bytes(), &cfg); err != nil {
		t.Fatal(err)
	}
	if cfg.Parameters["analog_gain"] != float64(4) {
		t.Errorf("applied analog_gain = %v", cfg.Parameters["analog_gain"])
	}

	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev := <-ch:
			ce := ev.(events.CameraEvent)
			if ce.Event == events.KindGainChanged && ce.CameraID == id {
				return
			}
		case <-timeout:
			t.Fatal("timeout waiting for gain_changed event")
		}
	}
}

func TestConfigRoundTrip(t *testing.T) {
	env := newTestEnv(t, nil)
	id := env.connect(t, 0)

	puts := []struct {
		group string
		body  string
		key   string
	}{
		{"exposure", `{"exposure_time": 2000}`, "exposure_time"},
		{"trigger", `{"mode": "software"}`, "trigger_mode"},
		{"io/2", `{"mode": 3, "state": 1}`, "io_config"},
		{"media-type", `{"format": "mono8"}`, "media_type"},
	}
	for _, p := range puts {
		rec := env.do(http.MethodPut, "/api/cameras/"+id+"/"+p.group, p.body)
		if rec.Code != http.StatusOK {
			t.Fatalf("put %s: status %d: %s", p.group, rec.Code, rec.Body.String())
		}
	}

	rec := env.do(http.MethodGet, "/api/cameras/"+id+"/config", "")
	var cfg models.ConfigData
	if err := json.Unmarshal(rec.Body.Bytes(), &cfg); err != nil {
		t.Fatal(err)
	}
	if cfg.Parameters["trigger_mode"] != "software" {
		t.Errorf("trigger_mode = %v", cfg.Parameters["trigger_mode"])
	}
	if cfg.Parameters["media_type"] != "mono8" {
		t.Errorf("media_type = %v", cfg.Parameters["media_type"])
	}
}

func TestPacketLength(t *testing.T) {
	env := newTestEnv(t, nil)
	id := env.connect(t, 0)

	ch := make(chan any, 32)
	unsubscribe := events.SubscribeToChannel[events.CameraEvent](env.bus, ch)
	defer unsubscribe()

	get := func() int {
		t.Helper()
		rec := env.do(http.MethodGet, "/api/cameras/"+id+"/network/packet-length", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("get packet length: status %d: %s", rec.Code, rec.Body.String())
		}
		var data models.PacketLengthData
		if err := json.Unmarshal(rec.Body.Bytes(), &data); err != nil {
			t.Fatal(err)
		}
		return data.Bytes
	}

	if n := get(); n != 1500 {
		t.Errorf("default packet length = %d, want 1500", n)
	}

	rec := env.do(http.MethodPut, "/api/cameras/"+id+"/network/packet-length", `{"bytes": 9000}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("set packet length: status %d: %s", rec.Code, rec.Body.String())
	}
	if n := get(); n != 9000 {
		t.Errorf("packet length after set = %d, want 9000", n)
	}

	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev := <-ch:
			ce := ev.(events.CameraEvent)
			if ce.Event == events.KindPacketLengthChanged && ce.CameraID == id {
				return
			}
		case <-timeout:
			t.Fatal("timeout waiting for packet_length_changed event")
		}
	}
}

func TestParameterReadback(t *testing.T) {
	env := newTestEnv(t, nil)
	id := env.connect(t, 0)

	rec := env.do(http.MethodPut, "/api/cameras/"+id+"/exposure", `{"exposure_time": 2500}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("set exposure: status %d: %s", rec.Code, rec.Body.String())
	}

	tests := []struct {
		param string
		want  any
	}{
		{"exposure_time", float64(2500)},
		{"packet_length", float64(1500)},
		{"media_type", "bgr8"},
	}
	for _, tt := range tests {
		t.Run(tt.param, func(t *testing.T) {
			rec := env.do(http.MethodGet, "/api/cameras/"+id+"/parameters/"+tt.param, "")
			if rec.Code != http.StatusOK {
				t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
			}
			var data models.ParameterData
			if err := json.Unmarshal(rec.Body.Bytes(), &data); err != nil {
				t.Fatal(err)
			}
			if data.Param != tt.param || data.Value != tt.want {
				t.Errorf("got %s = %v, want %v", data.Param, data.Value, tt.want)
			}
		})
	}
}

func TestInfoAndCapability(t *testing.T) {
	env := newTestEnv(t, nil)
	id := env.connect(t, 1)

	rec := env.do(http.MethodGet, "/api/cameras/"+id+"/info", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("info: status %d: %s", rec.Code, rec.Body.String())
	}
	var info models.InfoData
	if err := json.Unmarshal(rec.Body.Bytes(), &info); err != nil {
		t.Fatal(err)
	}
	if info.ID != id || info.Index != 1 || info.Serial == "" {
		t.Errorf("info = %+v", info)
	}

	rec = env.do(http.MethodGet, "/api/cameras/"+id+"/capability", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("capability: status %d: %s", rec.Code, rec.Body.String())
	}
	var caps models.CapabilityData
	if err := json.Unmarshal(rec.Body.Bytes(), &caps); err != nil {
		t.Fatal(err)
	}
	if caps.ID != id || caps.MaxWidth != 64 || caps.MaxHeight != 48 {
		t.Errorf("capability = %+v", caps)
	}
	if caps.ExposureMax <= caps.ExposureMin {
		t.Errorf("exposure range [%v, %v]", caps.ExposureMin, caps.ExposureMax)
	}
}

func TestSSEEvents(t *testing.T) {
	env := newTestEnv(t, nil)
	ts := httptest.NewServer(env.server.GetMux())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/events")
	if err != nil {
		t.Fatalf("connect to SSE: %v", err)
	}
	defer resp.Body.Close()
	if !strings.Contains(resp.Header.Get("Content-Type"), "text/event-stream") {
		t.Fatalf("Content-Type = %q", resp.Header.Get("Content-Type"))
	}

	lines := make(chan string, 32)
	go func() {
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			if line := scanner.Text(); strings.HasPrefix(line, "data:") {
				lines <- line
			}
		}
	}()

	select {
	case line := <-lines:
		if !strings.Contains(line, "SSE connection established") {
			t.Fatalf("first message = %s", line)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for connection message")
	}

	env.bus.Publish(events.NewCameraEvent("cam-sse", events.KindCaptureStarted, nil))
	env.bus.Publish(events.CameraMetricsEvent{EventType: "camera_metrics", CameraID: "cam-sse", FPS: "30.00"})

	// Different event types are dispatched independently, so order is not fixed.
	want := map[string]bool{`"event":"capture_started"`: false, `"fps":"30.00"`: false}
	for range want {
		select {
		case line := <-lines:
			if !strings.Contains(line, "cam-sse") {
				t.Errorf("unexpected message %s", line)
			}
			for w := range want {
				if strings.Contains(line, w) {
					want[w] = true
				}
			}
		case <-time.After(2 * time.Second):
			t.Fatal("timeout waiting for events")
		}
	}
	for w, seen := range want {
		if !seen {
			t.Errorf("no message contained %s", w)
		}
	}
}

func TestLogs(t *testing.T) {
	logging.Initialize(logging.Config{Level: "info", Format: "text"})
	env := newTestEnv(t, nil)

	logging.GetLogger("api").Info("Log route marker", "camera_id", "cam-log")

	rec := env.do(http.MethodGet, "/api/logs?limit=1000", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("logs: status %d", rec.Code)
	}
	var data models.LogsData
	if err := json.Unmarshal(rec.Body.Bytes(), &data); err != nil {
		t.Fatal(err)
	}
	found := false
	for _, e := range data.Entries {
		if e.Message == "Log route marker" && e.Module == "api" && e.Attributes["camera_id"] == "cam-log" {
			found = true
		}
	}
	if !found {
		t.Errorf("marker entry not among %d entries", data.Count)
	}

	rec = env.do(http.MethodGet, "/api/logs?limit=1", "")
	if err := json.Unmarshal(rec.Body.Bytes(), &data); err != nil {
		t.Fatal(err)
	}
	if data.Count != 1 {
		t.Errorf("limit=1 returned %d entries", data.Count)
	}
}

func TestLogEventBridge(t *testing.T) {
	bus := events.New()
	ch := make(chan any, 4)
	unsubscribe := events.SubscribeToChannel[events.LogEntryEvent](bus, ch)
	defer unsubscribe()

	bridge := LogEventBridge(bus)
	bridge(logging.LogEntry{Seq: 1, Timestamp: time.Now(), Level: "info", Module: "session", Message: "first"})
	bridge(logging.LogEntry{Seq: 2, Timestamp: time.Now(), Level: "warn", Module: "frames", Message: "second"})

	var got []events.LogEntryEvent
	for len(got) < 2 {
		select {
		case ev := <-ch:
			got = append(got, ev.(events.LogEntryEvent))
		case <-time.After(time.Second):
			t.Fatalf("received %d of 2 log events", len(got))
		}
	}
	if got[0].Seq != 1 || got[1].Seq != 2 || got[1].Module != "frames" {
		t.Errorf("events = %+v", got)
	}
}

func TestBrokerRoutes(t *testing.T) {
	var applied []string
	sw := broker.NewSwitcher(func(b broker.Broker) { applied = append(applied, b.Kind()) }, nil)
	env := newTestEnv(t, &Options{Broker: sw})

	rec := env.do(http.MethodGet, "/api/broker", "")
	var status models.BrokerStatusData
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatal(err)
	}
	if status.Kind != broker.KindNone || status.Publisher.QueueCapacity == 0 {
		t.Errorf("initial broker status = %+v", status)
	}

	rec = env.do(http.MethodPost, "/api/broker", `{"kind": "nats", "url": "nats://127.0.0.1:59996"}`)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("unreachable broker: status %d: %s", rec.Code, rec.Body.String())
	}
	if sw.Status().Kind != broker.KindNone {
		t.Errorf("failed switch replaced the broker: %+v", sw.Status())
	}

	rec = env.do(http.MethodPost, "/api/broker", `{"kind": "none"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("switch to none: status %d: %s", rec.Code, rec.Body.String())
	}
	if len(applied) != 2 {
		t.Errorf("apply called %d times, want 2", len(applied))
	}
}

func TestBrokerRoutesDisabled(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.do(http.MethodPost, "/api/broker", `{"kind": "none"}`)
	if rec.Code != http.StatusNotImplemented {
		t.Errorf("status = %d, want 501", rec.Code)
	}
}

func TestDebugRoutes(t *testing.T) {
	env := newTestEnv(t, nil, func(drv *sim.Driver, opts *Options) { opts.Faults = drv })
	id := env.connect(t, 0)
	env.start(t, id)

	tests := []struct {
		name string
		path string
		want int
	}{
		{"unknown camera", "/api/debug/cameras/nope/hardware-edge", http.StatusNotFound},
		{"hardware edge", "/api/debug/cameras/" + id + "/hardware-edge", http.StatusOK},
		{"fail opens", "/api/debug/cameras/" + id + "/fail-opens?count=1", http.StatusOK},
		{"link loss", "/api/debug/cameras/" + id + "/link-loss?duration_ms=100", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(http.MethodPost, tt.path, "")
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d: %s", rec.Code, tt.want, rec.Body.String())
			}
		})
	}

	sess, err := env.manager.Get(id)
	if err != nil {
		t.Fatal(err)
	}
	deadline := time.After(10 * time.Second)
	for sess.ReconnectCount() == 0 || sess.State() != session.StateCapturing {
		select {
		case <-deadline:
			t.Fatalf("no recovery: state %s, reconnects %d", sess.State(), sess.ReconnectCount())
		case <-time.After(20 * time.Millisecond):
		}
	}
}

func TestDebugRoutesDisabled(t *testing.T) {
	env := newTestEnv(t, nil)
	id := env.connect(t, 0)
	rec := env.do(http.MethodPost, "/api/debug/cameras/"+id+"/hardware-edge", "")
	if rec.Code == http.StatusOK {
		t.Errorf("debug route served without a fault injector")
	}
}

func TestSSEEventsFilteredByCamera(t *testing.T) {
	env := newTestEnv(t, nil)
	id := env.connect(t, 0)
	other := env.connect(t, 1)
	ts := httptest.NewServer(env.server.GetMux())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/events?camera_id=" + id)
	if err != nil {
		t.Fatalf("connect to SSE: %v", err)
	}
	defer resp.Body.Close()

	lines := make(chan string, 32)
	go func() {
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			if line := scanner.Text(); strings.HasPrefix(line, "data:") {
				lines <- line
			}
		}
	}()

	next := func(want string) string {
		t.Helper()
		deadline := time.After(2 * time.Second)
		for {
			select {
			case line := <-lines:
				if strings.Contains(line, other) {
					t.Fatalf("event for filtered camera: %s", line)
				}
				if strings.Contains(line, want) {
					return line
				}
			case <-deadline:
				t.Fatalf("timeout waiting for %s", want)
			}
		}
	}

	if line := next(`"event":"state"`); !strings.Contains(line, id) || !strings.Contains(line, `"state":"idle"`) {
		t.Errorf("state snapshot = %s", line)
	}

	env.bus.Publish(events.NewCameraEvent(other, events.KindSoftwareTrigger, nil))
	env.bus.Publish(events.NewCameraEvent(id, events.KindSoftwareTrigger, nil))
	if line := next(`"event":"software_trigger"`); !strings.Contains(line, id) {
		t.Errorf("trigger event = %s", line)
	}
}
