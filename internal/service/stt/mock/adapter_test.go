package mock

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/voicebridge/call-gateway/internal/service/stt"
	"github.com/voicebridge/call-gateway/internal/service/transcript"
)

// testCallback implements stt.Callback for testing
type testCallback struct {
	mu       sync.Mutex
	opened   chan struct{}
	messages []transcript.Result
	closeErr []error
}

func newTestCallback() *testCallback {
	return &testCallback{opened: make(chan struct{}, 1)}
}

func (c *testCallback) OnOpen() {
	c.opened <- struct{}{}
}

func (c *testCallback) OnMessage(payload []byte) {
	res, _ := transcript.ParseResult(payload)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, res)
}

func (c *testCallback) OnClose(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeErr = append(c.closeErr, err)
}

func (c *testCallback) getMessages() []transcript.Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]transcript.Result{}, c.messages...)
}

func (c *testCallback) getCloseErrs() []error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]error{}, c.closeErr...)
}

func waitOpen(t *testing.T, cb *testCallback) {
	t.Helper()
	select {
	case <-cb.opened:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for OnOpen")
	}
}

func waitMessages(t *testing.T, cb *testCallback, n int) []transcript.Result {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if msgs := cb.getMessages(); len(msgs) >= n {
			return msgs
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d messages, got %d", n, len(cb.getMessages()))
	return nil
}

var scripted = &SimulatedUtterance{
	Partials:   []string{"hello", "hello wor"},
	Final:      "hello world",
	Confidence: 0.9,
}

func TestAdapter_New(t *testing.T) {
	adapter := New(Options{})
	if adapter == nil {
		t.Fatal("expected non-nil adapter")
	}
	if adapter.IsReady() {
		t.Error("expected adapter to not be ready before Open")
	}
	if adapter.Name() != ProviderName {
		t.Errorf("expected name %s, got %s", ProviderName, adapter.Name())
	}
}

func TestAdapter_SendBeforeOpen(t *testing.T) {
	adapter := New(Options{})

	if err := adapter.Send([]byte("audio")); !errors.Is(err, stt.ErrNotReady) {
		t.Errorf("expected ErrNotReady, got %v", err)
	}
}

func TestAdapter_OpenReportsReady(t *testing.T) {
	adapter := New(Options{OpenDelay: 10 * time.Millisecond})
	cb := newTestCallback()

	if err := adapter.Open(context.Background(), cb); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitOpen(t, cb)

	if !adapter.IsReady() {
		t.Error("expected adapter to be ready after OnOpen")
	}
	adapter.Close()
}

func TestAdapter_OpenNilCallback(t *testing.T) {
	if err := New(Options{}).Open(context.Background(), nil); err == nil {
		t.Error("expected error for nil callback")
	}
}

func TestAdapter_ScriptedTranscripts(t *testing.T) {
	adapter := New(Options{Utterance: scripted})
	cb := newTestCallback()
	adapter.Open(context.Background(), cb)
	waitOpen(t, cb)
	defer adapter.Close()

	for i := 0; i < 5; i++ {
		if err := adapter.Send([]byte("audio")); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	msgs := waitMessages(t, cb, 3)
	time.Sleep(20 * time.Millisecond)
	msgs = cb.getMessages()

	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}
	if msgs[0].Text != "hello" || msgs[0].IsFinal {
		t.Errorf("unexpected first message: %+v", msgs[0])
	}
	if msgs[1].Text != "hello wor" || msgs[1].IsFinal {
		t.Errorf("unexpected second message: %+v", msgs[1])
	}
	if msgs[2].Text != "hello world" || !msgs[2].IsFinal {
		t.Errorf("unexpected final message: %+v", msgs[2])
	}
}

func TestAdapter_FramesPerStep(t *testing.T) {
	adapter := New(Options{Utterance: scripted, FramesPerStep: 10})
	cb := newTestCallback()
	adapter.Open(context.Background(), cb)
	waitOpen(t, cb)
	defer adapter.Close()

	for i := 0; i < 19; i++ {
		adapter.Send([]byte("audio"))
	}

	msgs := waitMessages(t, cb, 1)
	time.Sleep(20 * time.Millisecond)
	if got := len(cb.getMessages()); got != 1 {
		t.Errorf("expected 1 message after 19 frames, got %d (%v)", got, msgs)
	}
	if adapter.FramesReceived() != 19 {
		t.Errorf("expected 19 frames received, got %d", adapter.FramesReceived())
	}
}

func TestAdapter_Close(t *testing.T) {
	adapter := New(Options{})
	cb := newTestCallback()
	adapter.Open(context.Background(), cb)
	waitOpen(t, cb)

	if err := adapter.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := adapter.Close(); err != nil {
		t.Fatalf("unexpected error on second close: %v", err)
	}
	if adapter.IsReady() {
		t.Error("expected adapter to not be ready after close")
	}
	if err := adapter.Send([]byte("audio")); !errors.Is(err, stt.ErrNotReady) {
		t.Errorf("expected ErrNotReady after close, got %v", err)
	}
	if errs := cb.getCloseErrs(); len(errs) != 0 {
		t.Errorf("requested close must not report OnClose, got %v", errs)
	}
}

func TestAdapter_Disconnect(t *testing.T) {
	adapter := New(Options{})
	cb := newTestCallback()
	adapter.Open(context.Background(), cb)
	waitOpen(t, cb)

	boom := errors.New("connection reset")
	adapter.Disconnect(boom)
	adapter.Disconnect(boom)

	errs := cb.getCloseErrs()
	if len(errs) != 1 || errs[0] != boom {
		t.Errorf("expected exactly one OnClose with %v, got %v", boom, errs)
	}
}

func TestAdapter_CyclesThroughUtterances(t *testing.T) {
	adapter1 := New(Options{})
	adapter2 := New(Options{})

	if adapter1.utterance.Final == adapter2.utterance.Final {
		t.Error("expected consecutive adapters to use different utterances")
	}
}

func TestDefaultUtterances(t *testing.T) {
	for i, utt := range DefaultUtterances {
		if len(utt.Partials) == 0 {
			t.Errorf("utterance %d has no partials", i)
		}
		if utt.Final == "" {
			t.Errorf("utterance %d has empty final", i)
		}
		if utt.Confidence <= 0 || utt.Confidence > 1 {
			t.Errorf("utterance %d has invalid confidence %f", i, utt.Confidence)
		}
	}
}

func TestAdapter_ThreadSafety(t *testing.T) {
	adapter := New(Options{})
	cb := newTestCallback()
	adapter.Open(context.Background(), cb)
	waitOpen(t, cb)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 5; j++ {
				adapter.Send([]byte("audio"))
				time.Sleep(time.Millisecond)
			}
		}()
	}

	wg.Wait()
	adapter.Close()
}
