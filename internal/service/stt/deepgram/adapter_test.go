package deepgram

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/voicebridge/call-gateway/internal/service/stt"
)

// ---- URL / query-param tests ----

func TestBuildURL_Defaults(t *testing.T) {
	rawURL, err := buildURL(defaultEndpoint, stt.DefaultStreamConfig())
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("parse URL: %v", err)
	}
	q := u.Query()

	assertEqual(t, "host", "api.deepgram.com", u.Host)
	assertEqual(t, "encoding", "linear16", q.Get("encoding"))
	assertEqual(t, "sample_rate", "16000", q.Get("sample_rate"))
	assertEqual(t, "channels", "1", q.Get("channels"))
	assertEqual(t, "punctuate", "true", q.Get("punctuate"))
	assertEqual(t, "interim_results", "true", q.Get("interim_results"))
	assertEqual(t, "model", "nova-2", q.Get("model"))
	assertEqual(t, "language", "en-US", q.Get("language"))
}

func TestBuildURL_Custom(t *testing.T) {
	sc := stt.StreamConfig{
		Encoding:       "linear16",
		SampleRateHz:   8000,
		LanguageCode:   "de",
		Punctuate:      false,
		InterimResults: false,
	}

	rawURL, err := buildURL("ws://localhost:9000/v1/listen", sc)
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}
	u, _ := url.Parse(rawURL)
	q := u.Query()

	assertEqual(t, "sample_rate", "8000", q.Get("sample_rate"))
	assertEqual(t, "punctuate", "false", q.Get("punctuate"))
	assertEqual(t, "interim_results", "false", q.Get("interim_results"))
	assertEqual(t, "language", "de", q.Get("language"))
	if q.Has("model") {
		t.Errorf("expected no model param, got %q", q.Get("model"))
	}
	if q.Has("channels") {
		t.Errorf("expected no channels param, got %q", q.Get("channels"))
	}
}

func TestNew_RequiresAPIKey(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("expected error for empty api key")
	}
	if _, err := NewFactory(Config{}); err == nil {
		t.Fatal("expected factory error for empty api key")
	}
}

func TestNew_Defaults(t *testing.T) {
	a, err := New(Config{APIKey: "key"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	assertEqual(t, "auth header", "Token key", a.header.Get("Authorization"))
	assertEqual(t, "name", ProviderName, a.Name())
	if a.cfg.KeepAlive != defaultKeepAlive {
		t.Errorf("expected keepalive %v, got %v", defaultKeepAlive, a.cfg.KeepAlive)
	}
	if !strings.HasPrefix(a.wsURL, defaultEndpoint+"?") {
		t.Errorf("unexpected URL %s", a.wsURL)
	}
	if a.IsReady() {
		t.Error("expected adapter not ready before Open")
	}
	if err := a.Send([]byte{0, 0}); !errors.Is(err, stt.ErrNotReady) {
		t.Errorf("expected ErrNotReady, got %v", err)
	}
}

// ---- live session tests against a fake Deepgram server ----

type recordingCallback struct {
	mu       sync.Mutex
	opens    int
	messages []string
	closes   []error
	opened   chan struct{}
	closed   chan struct{}
	received chan struct{}
}

func newRecordingCallback() *recordingCallback {
	return &recordingCallback{
		opened:   make(chan struct{}, 8),
		closed:   make(chan struct{}, 8),
		received: make(chan struct{}, 8),
	}
}

func (c *recordingCallback) OnOpen() {
	c.mu.Lock()
	c.opens++
	c.mu.Unlock()
	c.opened <- struct{}{}
}

func (c *recordingCallback) OnMessage(payload []byte) {
	c.mu.Lock()
	c.messages = append(c.messages, string(payload))
	c.mu.Unlock()
	c.received <- struct{}{}
}

func (c *recordingCallback) OnClose(err error) {
	c.mu.Lock()
	c.closes = append(c.closes, err)
	c.mu.Unlock()
	c.closed <- struct{}{}
}

func waitFor(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

// fakeDeepgram echoes one Results message per binary frame and closes the
// connection after closeAfter frames (0 = never).
func fakeDeepgram(t *testing.T, closeAfter int) (*httptest.Server, chan string) {
	t.Helper()
	auth := make(chan string, 8)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth <- r.Header.Get("Authorization")
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()

		frames := 0
		for {
			typ, _, err := conn.Read(r.Context())
			if err != nil {
				return
			}
			if typ != websocket.MessageBinary {
				continue
			}
			frames++
			msg := `{"type":"Results","channel":{"alternatives":[{"transcript":"hello world"}]},"is_final":true}`
			if err := conn.Write(r.Context(), websocket.MessageText, []byte(msg)); err != nil {
				return
			}
			if closeAfter > 0 && frames >= closeAfter {
				conn.Close(websocket.StatusGoingAway, "bye")
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv, auth
}

func wsEndpoint(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/listen"
}

func TestAdapter_LiveSession(t *testing.T) {
	srv, auth := fakeDeepgram(t, 0)

	a, err := New(Config{APIKey: "secret", Endpoint: wsEndpoint(srv)})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	cb := newRecordingCallback()

	if err := a.Open(context.Background(), cb); err != nil {
		t.Fatalf("Open: %v", err)
	}
	waitFor(t, cb.opened, "OnOpen")
	assertEqual(t, "auth header", "Token secret", <-auth)

	if !a.IsReady() {
		t.Fatal("expected adapter ready after OnOpen")
	}
	if err := a.Send(make([]byte, 320)); err != nil {
		t.Fatalf("Send: %v", err)
	}
	waitFor(t, cb.received, "transcript message")

	cb.mu.Lock()
	if len(cb.messages) != 1 || !strings.Contains(cb.messages[0], "hello world") {
		t.Errorf("unexpected messages: %v", cb.messages)
	}
	cb.mu.Unlock()

	if err := a.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if a.IsReady() {
		t.Error("expected adapter not ready after Close")
	}

	select {
	case <-cb.closed:
		t.Error("requested close must not report OnClose")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestAdapter_UnexpectedDisconnectReported(t *testing.T) {
	srv, _ := fakeDeepgram(t, 1)

	a, _ := New(Config{APIKey: "secret", Endpoint: wsEndpoint(srv)})
	cb := newRecordingCallback()
	a.Open(context.Background(), cb)
	waitFor(t, cb.opened, "OnOpen")

	a.Send(make([]byte, 320))
	waitFor(t, cb.closed, "OnClose")

	cb.mu.Lock()
	defer cb.mu.Unlock()
	if len(cb.closes) != 1 || cb.closes[0] == nil {
		t.Errorf("expected one OnClose with error, got %v", cb.closes)
	}
}

func TestAdapter_ReconnectPolicy(t *testing.T) {
	srv, _ := fakeDeepgram(t, 1)

	a, _ := New(Config{
		APIKey:    "secret",
		Endpoint:  wsEndpoint(srv),
		Reconnect: ReconnectPolicy{MaxAttempts: 2, Backoff: 10 * time.Millisecond},
	})
	cb := newRecordingCallback()
	a.Open(context.Background(), cb)
	defer a.Close()
	waitFor(t, cb.opened, "first OnOpen")

	a.Send(make([]byte, 320))
	waitFor(t, cb.opened, "OnOpen after reconnect")

	select {
	case <-cb.closed:
		t.Fatal("disconnect within reconnect policy must not report OnClose")
	default:
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.opens != 2 {
		t.Errorf("expected 2 opens, got %d", cb.opens)
	}
}

func TestAdapter_ReconnectingDuringBackoff(t *testing.T) {
	srv, _ := fakeDeepgram(t, 1)

	a, _ := New(Config{
		APIKey:    "secret",
		Endpoint:  wsEndpoint(srv),
		Reconnect: ReconnectPolicy{MaxAttempts: 1, Backoff: 300 * time.Millisecond},
	})
	cb := newRecordingCallback()
	a.Open(context.Background(), cb)
	defer a.Close()
	waitFor(t, cb.opened, "first OnOpen")

	if a.Reconnecting() {
		t.Fatal("expected not reconnecting on a healthy connection")
	}

	a.Send(make([]byte, 320))
	deadline := time.Now().Add(2 * time.Second)
	for !a.Reconnecting() {
		if time.Now().After(deadline) {
			t.Fatal("expected Reconnecting after disconnect")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if err := a.Send(make([]byte, 320)); !errors.Is(err, stt.ErrNotReady) {
		t.Errorf("expected ErrNotReady while reconnecting, got %v", err)
	}

	waitFor(t, cb.opened, "OnOpen after reconnect")
	if a.Reconnecting() {
		t.Error("expected Reconnecting cleared after handshake")
	}
}

func TestAdapter_DialFailureReported(t *testing.T) {
	a, _ := New(Config{APIKey: "secret", Endpoint: "ws://127.0.0.1:1/v1/listen"})
	cb := newRecordingCallback()

	a.Open(context.Background(), cb)
	waitFor(t, cb.closed, "OnClose after dial failure")
}

func TestAdapter_OpenTwice(t *testing.T) {
	srv, _ := fakeDeepgram(t, 0)
	a, _ := New(Config{APIKey: "secret", Endpoint: wsEndpoint(srv)})
	cb := newRecordingCallback()

	if err := a.Open(context.Background(), cb); err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer a.Close()
	if err := a.Open(context.Background(), cb); err == nil {
		t.Error("expected error opening twice")
	}
}

// ---- helpers ----

func assertEqual(t *testing.T, field, want, got string) {
	t.Helper()
	if got != want {
		t.Errorf("%s: want %q, got %q", field, want, got)
	}
}
