package outbox

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type replayOrigin struct {
	mu            sync.Mutex
	failTransport bool
	status        int
	requests      []capturedRequest
}

type capturedRequest struct {
	method string
	path   string
	query  string
	body   string
}

func (o *replayOrigin) RoundTrip(req *http.Request) (*http.Response, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	var body []byte
	if req.Body != nil {
		body, _ = io.ReadAll(req.Body)
		req.Body.Close()
	}
	o.requests = append(o.requests, capturedRequest{
		method: req.Method,
		path:   req.URL.Path,
		query:  req.URL.RawQuery,
		body:   string(body),
	})

	if o.failTransport {
		return nil, errors.New("dial tcp: connection refused")
	}
	status := o.status
	if status == 0 {
		status = http.StatusOK
	}
	return &http.Response{
		StatusCode: status,
		Header:     make(http.Header),
		Body:       io.NopCloser(strings.NewReader("ok")),
		Request:    req,
	}, nil
}

func (o *replayOrigin) setFailTransport(fail bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.failTransport = fail
}

func (o *replayOrigin) captured() []capturedRequest {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]capturedRequest, len(o.requests))
	copy(out, o.requests)
	return out
}

func newTestCoordinator(t *testing.T, origin http.RoundTripper, maxAttempts int) *Coordinator {
	t.Helper()

	queue, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { queue.Close() })

	coordinator, err := New(Config{
		Queue:       queue,
		Origin:      origin,
		BaseURL:     "http://origin.internal:9000",
		MaxAttempts: maxAttempts,
		Logger:      zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return coordinator
}

func TestNew_Validation(t *testing.T) {
	queue := openTestQueue(t)
	origin := &replayOrigin{}

	if _, err := New(Config{Origin: origin, BaseURL: "http://x"}); err == nil {
		t.Error("New should reject nil queue")
	}
	if _, err := New(Config{Queue: queue, BaseURL: "http://x"}); err == nil {
		t.Error("New should reject nil origin")
	}
	if _, err := New(Config{Queue: queue, Origin: origin, BaseURL: "not a url"}); err == nil {
		t.Error("New should reject relative base url")
	}
	if _, err := New(Config{Queue: queue, Origin: origin, BaseURL: "http://origin.internal"}); err != nil {
		t.Errorf("New rejected valid config: %v", err)
	}
}

func TestCoordinator_CaptureAndFlush(t *testing.T) {
	origin := &replayOrigin{}
	coordinator := newTestCoordinator(t, origin, 0)

	req := httptest.NewRequest(http.MethodPost, "/api/orders?source=app", nil)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Connection", "keep-alive")

	tag, err := coordinator.Capture(req, []byte(`{"pizza":"margherita"}`))
	if err != nil {
		t.Fatalf("Capture failed: %v", err)
	}
	if !strings.HasPrefix(tag, "replay:POST:/api/orders:") {
		t.Errorf("tag = %q", tag)
	}

	result, err := coordinator.Flush(context.Background(), "")
	if err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if result.Replayed != 1 || result.Failed != 0 {
		t.Errorf("result = %+v, want 1 replayed", result)
	}

	captured := origin.captured()
	if len(captured) != 1 {
		t.Fatalf("origin saw %d requests, want 1", len(captured))
	}
	got := captured[0]
	if got.method != http.MethodPost || got.path != "/api/orders" || got.query != "source=app" {
		t.Errorf("replayed request = %+v", got)
	}
	if got.body != `{"pizza":"margherita"}` {
		t.Errorf("replayed body = %q", got.body)
	}

	// Replayed tasks leave the queue.
	pending, err := coordinator.Pending()
	if err != nil {
		t.Fatalf("Pending failed: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("pending = %d tasks, want 0", len(pending))
	}
}

func TestCoordinator_CompletionBroadcast(t *testing.T) {
	origin := &replayOrigin{}
	coordinator := newTestCoordinator(t, origin, 0)

	id, ch := coordinator.Subscribe()
	defer coordinator.Unsubscribe(id)

	req := httptest.NewRequest(http.MethodPost, "/api/orders", nil)
	tag, err := coordinator.Capture(req, []byte("{}"))
	if err != nil {
		t.Fatalf("Capture failed: %v", err)
	}
	if _, err := coordinator.Flush(context.Background(), ""); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}

	select {
	case completion := <-ch:
		if completion.Type != CompletionType {
			t.Errorf("Type = %q, want %q", completion.Type, CompletionType)
		}
		if completion.Tag != tag {
			t.Errorf("Tag = %q, want %q", completion.Tag, tag)
		}
	case <-time.After(time.Second):
		t.Fatal("no completion received")
	}
}

func TestCoordinator_OfflineReplayStaysQueued(t *testing.T) {
	origin := &replayOrigin{failTransport: true}
	coordinator := newTestCoordinator(t, origin, 2)

	req := httptest.NewRequest(http.MethodPost, "/api/orders", nil)
	tag, err := coordinator.Capture(req, []byte("{}"))
	if err != nil {
		t.Fatalf("Capture failed: %v", err)
	}

	// Periodic flushes keep firing during an outage. However many pass,
	// the task waits it out: offline attempts do not count against the
	// drop cap.
	for i := 0; i < 3; i++ {
		result, err := coordinator.Flush(context.Background(), "")
		if err != nil {
			t.Fatalf("Flush failed: %v", err)
		}
		if result.Failed != 1 || result.Replayed != 0 || result.Dropped != 0 {
			t.Errorf("flush %d result = %+v, want 1 failed", i, result)
		}
	}

	task, err := coordinator.queue.Get(tag)
	if err != nil {
		t.Fatalf("task gone after offline flushes: %v", err)
	}
	if task.Attempts != 0 {
		t.Errorf("Attempts = %d, want 0 while the origin is unreachable", task.Attempts)
	}

	// Once the origin answers again, the task drains.
	origin.setFailTransport(false)
	result, err := coordinator.Flush(context.Background(), "")
	if err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if result.Replayed != 1 {
		t.Errorf("result = %+v, want 1 replayed", result)
	}
}

func TestCoordinator_ServerErrorRetried(t *testing.T) {
	origin := &replayOrigin{status: http.StatusServiceUnavailable}
	coordinator := newTestCoordinator(t, origin, 0)

	req := httptest.NewRequest(http.MethodPost, "/api/orders", nil)
	tag, err := coordinator.Capture(req, []byte("{}"))
	if err != nil {
		t.Fatalf("Capture failed: %v", err)
	}

	result, err := coordinator.Flush(context.Background(), "")
	if err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if result.Failed != 1 {
		t.Errorf("result = %+v, want 1 failed on 503", result)
	}

	// A rejection from a reachable origin burns an attempt.
	task, err := coordinator.queue.Get(tag)
	if err != nil {
		t.Fatalf("task gone after rejected replay: %v", err)
	}
	if task.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", task.Attempts)
	}
	if task.LastError == "" {
		t.Error("LastError not recorded")
	}
}

func TestCoordinator_ClientErrorCompletes(t *testing.T) {
	origin := &replayOrigin{status: http.StatusUnprocessableEntity}
	coordinator := newTestCoordinator(t, origin, 0)

	req := httptest.NewRequest(http.MethodPost, "/api/orders", nil)
	if _, err := coordinator.Capture(req, []byte("{}")); err != nil {
		t.Fatalf("Capture failed: %v", err)
	}

	// The origin rejected the action; retrying the same bytes would only
	// produce the same rejection.
	result, err := coordinator.Flush(context.Background(), "")
	if err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if result.Replayed != 1 {
		t.Errorf("result = %+v, want completion on 422", result)
	}

	pending, err := coordinator.Pending()
	if err != nil {
		t.Fatalf("Pending failed: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("pending = %d, want 0", len(pending))
	}
}

func TestCoordinator_DropAfterMaxAttempts(t *testing.T) {
	origin := &replayOrigin{status: http.StatusServiceUnavailable}
	coordinator := newTestCoordinator(t, origin, 2)

	req := httptest.NewRequest(http.MethodPost, "/api/orders", nil)
	if _, err := coordinator.Capture(req, []byte("{}")); err != nil {
		t.Fatalf("Capture failed: %v", err)
	}

	if _, err := coordinator.Flush(context.Background(), ""); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	result, err := coordinator.Flush(context.Background(), "")
	if err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if result.Dropped != 1 {
		t.Errorf("result = %+v, want 1 dropped", result)
	}

	pending, err := coordinator.Pending()
	if err != nil {
		t.Fatalf("Pending failed: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("pending = %d, want 0 after drop", len(pending))
	}
}

func TestCoordinator_RecaptureResetsAttempts(t *testing.T) {
	origin := &replayOrigin{status: http.StatusServiceUnavailable}
	coordinator := newTestCoordinator(t, origin, 0)

	req := httptest.NewRequest(http.MethodPost, "/api/orders", nil)
	tag, err := coordinator.Capture(req, []byte("{}"))
	if err != nil {
		t.Fatalf("Capture failed: %v", err)
	}
	if _, err := coordinator.Flush(context.Background(), ""); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}

	// The user retries the same action after a rejected replay: same tag,
	// one queued task, attempt counter starts over.
	recaptured, err := coordinator.Capture(req, []byte("{}"))
	if err != nil {
		t.Fatalf("re-Capture failed: %v", err)
	}
	if recaptured != tag {
		t.Errorf("tag changed on recapture: %q vs %q", recaptured, tag)
	}

	task, err := coordinator.queue.Get(tag)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if task.Attempts != 0 {
		t.Errorf("Attempts = %d, want 0 after recapture", task.Attempts)
	}

	pending, err := coordinator.Pending()
	if err != nil {
		t.Fatalf("Pending failed: %v", err)
	}
	if len(pending) != 1 {
		t.Errorf("pending = %d, want 1", len(pending))
	}
}

func TestCoordinator_FlushPrefix(t *testing.T) {
	origin := &replayOrigin{}
	coordinator := newTestCoordinator(t, origin, 0)

	orderReq := httptest.NewRequest(http.MethodPost, "/api/orders", nil)
	orderTag, err := coordinator.Capture(orderReq, []byte("{}"))
	if err != nil {
		t.Fatalf("Capture failed: %v", err)
	}
	cartReq := httptest.NewRequest(http.MethodDelete, "/api/cart", nil)
	if _, err := coordinator.Capture(cartReq, nil); err != nil {
		t.Fatalf("Capture failed: %v", err)
	}

	result, err := coordinator.Flush(context.Background(), "replay:POST:/api/orders:")
	if err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if result.Replayed != 1 {
		t.Errorf("result = %+v, want exactly the matching task", result)
	}

	pending, err := coordinator.Pending()
	if err != nil {
		t.Fatalf("Pending failed: %v", err)
	}
	if len(pending) != 1 || pending[0].Tag == orderTag {
		t.Errorf("pending = %+v, want only the cart task", pending)
	}
}

func TestCoordinator_HopByHopHeadersNotReplayed(t *testing.T) {
	origin := &replayOrigin{}
	coordinator := newTestCoordinator(t, origin, 0)

	req := httptest.NewRequest(http.MethodPost, "/api/orders", nil)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Connection", "keep-alive")
	req.Header.Set("Transfer-Encoding", "chunked")

	tag, err := coordinator.Capture(req, []byte("{}"))
	if err != nil {
		t.Fatalf("Capture failed: %v", err)
	}

	task, err := coordinator.queue.Get(tag)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if task.Header.Get("Content-Type") != "application/json" {
		t.Errorf("Content-Type lost: %v", task.Header)
	}
	if task.Header.Get("Connection") != "" || task.Header.Get("Transfer-Encoding") != "" {
		t.Errorf("hop-by-hop headers captured: %v", task.Header)
	}
}

func TestCoordinator_OnConnectivityRestored(t *testing.T) {
	origin := &replayOrigin{}
	coordinator := newTestCoordinator(t, origin, 0)

	req := httptest.NewRequest(http.MethodPost, "/api/orders", nil)
	if _, err := coordinator.Capture(req, []byte("{}")); err != nil {
		t.Fatalf("Capture failed: %v", err)
	}

	coordinator.OnConnectivityRestored()

	deadline := time.Now().Add(2 * time.Second)
	for {
		pending, err := coordinator.Pending()
		if err != nil {
			t.Fatalf("Pending failed: %v", err)
		}
		if len(pending) == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("restore trigger did not drain the queue")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
