package httpserver

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/averlane/courier/internal/bus"
	cfgpkg "github.com/averlane/courier/internal/config"
	"github.com/averlane/courier/internal/fanout"
	"github.com/averlane/courier/internal/rpc"
	"github.com/averlane/courier/internal/runtime"
	pebblestore "github.com/averlane/courier/internal/storage/pebble"
)

// newServerWithConfig builds a server over an in-process bus. withStats
// controls whether the queue.stats capability has a responder.
func newServerWithConfig(t *testing.T, cfg cfgpkg.Config, withStats bool) *Server {
	t.Helper()
	rt, err := runtime.Open(runtime.Options{
		DataDir: t.TempDir(),
		Fsync:   pebblestore.FsyncModeAlways,
		Config:  cfg,
	})
	if err != nil {
		t.Fatalf("open runtime: %v", err)
	}
	t.Cleanup(func() { _ = rt.Close() })

	b := bus.NewMemory()
	t.Cleanup(func() { _ = b.Close() })
	registry := fanout.NewRegistry(nil)
	t.Cleanup(registry.Close)
	relay := fanout.NewRelay(b, registry, "notifications", nil)
	if err := relay.Start(context.Background()); err != nil {
		t.Fatalf("start relay: %v", err)
	}
	t.Cleanup(func() { _ = relay.Close() })

	if withStats {
		responder := rpc.NewResponder(b, nil)
		t.Cleanup(func() { _ = responder.Close() })
		err := responder.Handle(context.Background(), "queue.stats", func(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
			var req struct {
				Queue string `json:"queue"`
			}
			if err := json.Unmarshal(payload, &req); err != nil {
				return nil, err
			}
			stats, err := rt.OpenQueue(req.Queue).Stats(ctx)
			if err != nil {
				return nil, err
			}
			return json.Marshal(stats)
		})
		if err != nil {
			t.Fatalf("register stats responder: %v", err)
		}
	}

	bridge := rpc.NewBridge(b, nil)
	t.Cleanup(func() { _ = bridge.Close() })

	return New(rt, registry, relay, bridge, nil)
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	return newServerWithConfig(t, cfgpkg.Default(), true)
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("health status %d", rec.Code)
	}
}

func TestEnqueueAndGet(t *testing.T) {
	s := newTestServer(t)

	body := `{"queue":"email","type":"email","payload":{"to":"a@b.c"}}`
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/jobs/enqueue", strings.NewReader(body)))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("enqueue status %d: %s", rec.Code, rec.Body)
	}
	var resp struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil || resp.ID == "" {
		t.Fatalf("enqueue response: %s", rec.Body)
	}

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/jobs/get?queue=email&id="+resp.ID, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("get status %d: %s", rec.Code, rec.Body)
	}
	var job struct {
		State string `json:"state"`
		Type  string `json:"type"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &job); err != nil {
		t.Fatalf("decode job: %v", err)
	}
	if job.State != "pending" || job.Type != "email" {
		t.Fatalf("job %+v", job)
	}
}

func TestEnqueueValidation(t *testing.T) {
	s := newTestServer(t)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/jobs/enqueue", strings.NewReader(`{"type":"email"}`)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing queue should be rejected, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/jobs/enqueue", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET enqueue should be rejected, got %d", rec.Code)
	}
}

func TestGetUnknownJob(t *testing.T) {
	s := newTestServer(t)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/jobs/get?queue=email&id=nope", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown job status %d", rec.Code)
	}
}

func TestStats(t *testing.T) {
	s := newTestServer(t)

	body := `{"queue":"email","type":"email","payload":{}}`
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/jobs/enqueue", strings.NewReader(body)))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("enqueue status %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/jobs/stats?queue=email", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("stats status %d", rec.Code)
	}
	var stats struct {
		Pending int `json:"pending"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil || stats.Pending != 1 {
		t.Fatalf("stats %s", rec.Body)
	}
}

func TestStatsTimesOutWithoutResponder(t *testing.T) {
	cfg := cfgpkg.Default()
	cfg.RPCTimeout = 100 * time.Millisecond
	s := newServerWithConfig(t, cfg, false)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/jobs/stats?queue=email", nil))
	if rec.Code != http.StatusGatewayTimeout {
		t.Fatalf("stats without responder: status %d, want %d", rec.Code, http.StatusGatewayTimeout)
	}
}

func TestNotifyReachesSSESubscriber(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/v1/events/subscribe?user=u1", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("subscribe status %d", resp.StatusCode)
	}

	// Stream is established; publish a notification for the user.
	post, err := http.Post(srv.URL+"/v1/notify", "application/json",
		strings.NewReader(`{"user_id":"u1","data":{"kind":"like"}}`))
	if err != nil {
		t.Fatalf("notify: %v", err)
	}
	post.Body.Close()
	if post.StatusCode != http.StatusAccepted {
		t.Fatalf("notify status %d", post.StatusCode)
	}

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "data: ") {
			if !strings.Contains(line, `"kind":"like"`) {
				t.Fatalf("unexpected event: %s", line)
			}
			return
		}
	}
	t.Fatalf("no event received: %v", scanner.Err())
}
