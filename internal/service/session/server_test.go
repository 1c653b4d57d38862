package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"voice-interaction-engine/internal/observability/metrics"
	"voice-interaction-engine/internal/voice/capability"
	"voice-interaction-engine/internal/voice/capability/fake"
	"voice-interaction-engine/internal/voice/capability/remote"
	"voice-interaction-engine/internal/voice/turn"
)

type serveHarness struct {
	url       string
	publisher *testPublisher
	metrics   *metrics.Metrics
	errs      chan error
}

func newServeHarness(t *testing.T, params Params, opts ...ServerOption) *serveHarness {
	t.Helper()
	h := &serveHarness{
		publisher: &testPublisher{},
		metrics:   metrics.NewMetrics(prometheus.NewRegistry()),
		errs:      make(chan error, 1),
	}
	opts = append([]ServerOption{WithHandshakeTimeout(2 * time.Second)}, opts...)
	srv := NewServer(Deps{Publisher: h.publisher, Metrics: h.metrics}, opts...)
	upgrader := websocket.Upgrader{}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		h.errs <- srv.Serve(context.Background(), ws, params)
	}))
	t.Cleanup(ts.Close)
	h.url = "ws" + strings.TrimPrefix(ts.URL, "http")
	return h
}

func (h *serveHarness) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(h.url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func (h *serveHarness) wait(t *testing.T) error {
	t.Helper()
	select {
	case err := <-h.errs:
		return err
	case <-time.After(3 * time.Second):
		t.Fatal("Serve did not return")
	}
	return nil
}

// next reads device messages until one matches, answering listen.stop with
// listen.end the way a browser does.
func next(t *testing.T, ws *websocket.Conn, match func(remote.Message) bool) remote.Message {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		_ = ws.SetReadDeadline(deadline)
		var m remote.Message
		if err := ws.ReadJSON(&m); err != nil {
			t.Fatalf("read: %v", err)
		}
		if m.Type == remote.TypeListenStop {
			_ = ws.WriteJSON(remote.Message{Type: remote.TypeListenEnd, ID: m.ID})
		}
		if match(m) {
			return m
		}
	}
}

func uiKind(kind string) func(remote.Message) bool {
	return func(m remote.Message) bool {
		if m.Type != remote.TypeUI {
			return false
		}
		var ev Event
		return json.Unmarshal(m.Event, &ev) == nil && ev.Kind == kind
	}
}

func ofType(typ string) func(remote.Message) bool {
	return func(m remote.Message) bool { return m.Type == typ }
}

func TestServe_Dictation(t *testing.T) {
	h := newServeHarness(t, Params{Mode: turn.ModeDictation})
	ws := h.dial(t)

	caps := capability.Capabilities{Capture: true, Playback: true}
	if err := ws.WriteJSON(remote.Message{Type: remote.TypeHello, Capabilities: &caps}); err != nil {
		t.Fatal(err)
	}
	next(t, ws, uiKind(EventReady))

	_ = ws.WriteJSON(remote.Message{Type: remote.TypeControl, Action: remote.ActionStart})
	start := next(t, ws, ofType(remote.TypeListenStart))
	if start.Locale != "en-US" {
		t.Errorf("locale = %q", start.Locale)
	}
	_ = ws.WriteJSON(remote.Message{Type: remote.TypeListenResult, ID: start.ID, Text: "hello world", Final: true})

	res := next(t, ws, uiKind(EventResult))
	var ev Event
	_ = json.Unmarshal(res.Event, &ev)
	if ev.Text != "hello world" {
		t.Errorf("result = %q", ev.Text)
	}

	_ = ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	if err := h.wait(t); err != nil {
		t.Errorf("Serve = %v", err)
	}
	_, results := h.publisher.snapshot()
	if len(results) != 1 || results[0].Transcript != "hello world" {
		t.Errorf("unexpected results %+v", results)
	}
	if got := testutil.ToFloat64(h.metrics.SessionsActive); got != 0 {
		t.Errorf("active sessions = %v", got)
	}
}

func TestServe_HandshakeRejected(t *testing.T) {
	h := newServeHarness(t, Params{Mode: turn.ModeDictation})
	ws := h.dial(t)
	_ = ws.WriteJSON(remote.Message{Type: remote.TypeControl, Action: remote.ActionStart})

	if err := h.wait(t); !errors.Is(err, remote.ErrHandshake) {
		t.Errorf("Serve = %v, want ErrHandshake", err)
	}
	if got := testutil.ToFloat64(h.metrics.DevicesRejected.WithLabelValues("handshake")); got != 1 {
		t.Errorf("rejected = %v", got)
	}
}

func TestServe_UnsupportedDevice(t *testing.T) {
	h := newServeHarness(t, Params{Mode: turn.ModeDictation})
	ws := h.dial(t)
	caps := capability.Capabilities{Playback: true}
	_ = ws.WriteJSON(remote.Message{Type: remote.TypeHello, Capabilities: &caps})

	m := next(t, ws, uiKind(EventError))
	var ev Event
	_ = json.Unmarshal(m.Event, &ev)
	if ev.ErrorKind != "unsupported_capability" {
		t.Errorf("error kind = %q", ev.ErrorKind)
	}
	if err := h.wait(t); err == nil {
		t.Error("expected Serve error")
	}
}

// audioProvider is a capture-only fake that records streamed audio.
type audioProvider struct {
	*fake.Provider
	mu     sync.Mutex
	buf    bytes.Buffer
	source AudioSource
}

func (a *audioProvider) Write(p []byte) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.buf.Write(p)
}

func (a *audioProvider) received() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.buf.Len()
}

func TestServe_ServerRecognition(t *testing.T) {
	ap := &audioProvider{Provider: fake.NewWith(capability.Capabilities{Capture: true})}
	h := newServeHarness(t, Params{Mode: turn.ModeDictation}, WithServerRecognition(func(src AudioSource) AudioProvider {
		ap.source = src
		return ap
	}))
	ws := h.dial(t)
	caps := capability.Capabilities{Audio: true}
	_ = ws.WriteJSON(remote.Message{Type: remote.TypeHello, Capabilities: &caps})
	next(t, ws, uiKind(EventReady))

	_ = ws.WriteJSON(remote.Message{Type: remote.TypeControl, Action: remote.ActionStart})
	next(t, ws, func(m remote.Message) bool {
		return uiKind(EventState)(m) && strings.Contains(string(m.Event), "CAPTURING")
	})
	if ap.LastRecognizer() == nil {
		t.Fatal("server recognizer not used")
	}
	if ap.source == nil {
		t.Error("audio source not passed")
	}

	_ = ws.WriteMessage(websocket.BinaryMessage, []byte{1, 2, 3, 4})
	deadline := time.Now().Add(2 * time.Second)
	for ap.received() < 4 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if got := ap.received(); got != 4 {
		t.Errorf("server recognizer received %d bytes, want 4", got)
	}

	ws.Close()
	h.wait(t)
	if ap.OpenCaptures() != 0 {
		t.Error("capture left open after disconnect")
	}
}

func TestServer_WaitFlushesSessions(t *testing.T) {
	publisher := &testPublisher{}
	srv := NewServer(Deps{Publisher: publisher, Metrics: metrics.NewMetrics(prometheus.NewRegistry())},
		WithHandshakeTimeout(2*time.Second))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	upgrader := websocket.Upgrader{}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		_ = srv.Serve(ctx, ws, Params{Mode: turn.ModeQuiz, Quiz: defaultQuiz(t)})
	}))
	defer ts.Close()

	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.Close()
	caps := capability.Capabilities{Capture: true, Playback: true}
	if err := ws.WriteJSON(remote.Message{Type: remote.TypeHello, Capabilities: &caps}); err != nil {
		t.Fatal(err)
	}
	next(t, ws, uiKind(EventReady))

	cancel()
	waitCtx, waitCancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer waitCancel()
	if err := srv.Wait(waitCtx); err != nil {
		t.Fatalf("Wait = %v", err)
	}

	_, results := publisher.snapshot()
	if len(results) != 1 || results[0].Total != 3 {
		t.Errorf("unexpected results %+v", results)
	}
}
