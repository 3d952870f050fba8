package httpserver

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/averlane/courier/internal/fanout"
	"github.com/averlane/courier/internal/jobqueue"
	"github.com/averlane/courier/internal/rpc"
	"github.com/averlane/courier/internal/runtime"
)

type Server struct {
	rt       *runtime.Runtime
	registry *fanout.Registry
	relay    *fanout.Relay
	bridge   *rpc.Bridge
	logger   *zap.Logger
	srv      *http.Server
	lis      net.Listener
}

func New(rt *runtime.Runtime, registry *fanout.Registry, relay *fanout.Relay, bridge *rpc.Bridge, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	mux := http.NewServeMux()
	s := &Server{
		rt:       rt,
		registry: registry,
		relay:    relay,
		bridge:   bridge,
		logger:   logger.With(zap.String("component", "http")),
		srv:      &http.Server{Handler: cors(mux)},
	}
	mux.HandleFunc("/v1/healthz", s.handleHealth)
	mux.HandleFunc("/v1/jobs/enqueue", s.handleEnqueue)
	mux.HandleFunc("/v1/jobs/get", s.handleGetJob)
	mux.HandleFunc("/v1/jobs/stats", s.handleStats)
	mux.HandleFunc("/v1/notify", s.handleNotify)
	mux.HandleFunc("/v1/events/subscribe", s.handleSubscribeSSE)
	return s
}

func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.lis = l
	errCh := make(chan error, 1)
	go func() { errCh <- s.srv.Serve(l) }()
	select {
	case <-ctx.Done():
		cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(cctx)
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) Close() {
	if s.lis != nil {
		_ = s.lis.Close()
	}
}

// Handler exposes the routed handler for tests.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.rt.CheckHealth(r.Context()); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "not_serving"})
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

type enqueueReq struct {
	Queue            string          `json:"queue"`
	Type             string          `json:"type"`
	Payload          json.RawMessage `json:"payload"`
	MaxAttempts      int             `json:"max_attempts,omitempty"`
	BaseDelayMs      int64           `json:"base_delay_ms,omitempty"`
	RemoveOnComplete bool            `json:"remove_on_complete,omitempty"`
	RemoveOnFail     bool            `json:"remove_on_fail,omitempty"`
}

func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req enqueueReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if req.Queue == "" || req.Type == "" {
		writeError(w, http.StatusBadRequest, "queue and type are required")
		return
	}

	q := s.rt.OpenQueue(req.Queue)
	id, err := q.Enqueue(r.Context(), req.Type, req.Payload, jobqueue.Options{
		MaxAttempts:      req.MaxAttempts,
		BaseDelay:        time.Duration(req.BaseDelayMs) * time.Millisecond,
		RemoveOnComplete: req.RemoveOnComplete,
		RemoveOnFail:     req.RemoveOnFail,
	}, 0)
	if err != nil {
		if errors.Is(err, jobqueue.ErrQueueUnavailable) {
			writeError(w, http.StatusServiceUnavailable, "queue unavailable")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	w.WriteHeader(http.StatusAccepted)
	writeJSON(w, map[string]string{"id": id})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	queue := r.URL.Query().Get("queue")
	id := r.URL.Query().Get("id")
	if queue == "" || id == "" {
		writeError(w, http.StatusBadRequest, "queue and id are required")
		return
	}
	job, err := s.rt.OpenQueue(queue).GetJob(r.Context(), id)
	if err != nil {
		if errors.Is(err, jobqueue.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, job)
}

// handleStats asks the queue.stats capability over the bus instead of reading
// the local queues, so the route also works on a node that delegates stats to
// a peer responder.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	queue := r.URL.Query().Get("queue")
	if queue == "" {
		writeError(w, http.StatusBadRequest, "queue is required")
		return
	}
	req, err := json.Marshal(map[string]string{"queue": queue})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	stats, err := s.bridge.Call(r.Context(), "queue.stats", req, s.rt.Config().RPCTimeout)
	if err != nil {
		switch {
		case errors.Is(err, rpc.ErrTimeout):
			writeError(w, http.StatusGatewayTimeout, "stats request timed out")
		case errors.Is(err, rpc.ErrUnavailable):
			writeError(w, http.StatusServiceUnavailable, "stats transport unavailable")
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(stats)
}

type notifyReq struct {
	UserID string          `json:"user_id"`
	Data   json.RawMessage `json:"data"`
}

func (s *Server) handleNotify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req notifyReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	if err := s.relay.Publish(r.Context(), req.UserID, req.Data); err != nil {
		writeError(w, http.StatusServiceUnavailable, "publish failed")
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleSubscribeSSE(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	userID := r.URL.Query().Get("user")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user is required")
		return
	}

	// Register before the response goes out so an event published the moment
	// the client sees headers is already routable.
	conn := s.registry.Connect(userID)
	defer s.registry.Disconnect(conn)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-conn.Events():
			if !ok {
				// Replaced by a newer connection or server shutdown.
				return
			}
			if _, err := w.Write([]byte("data: ")); err != nil {
				return
			}
			if _, err := w.Write(ev); err != nil {
				return
			}
			if _, err := w.Write([]byte("\n\n")); err != nil {
				return
			}
			if f, ok := w.(http.Flusher); ok {
				f.Flush()
			}
		}
	}
}
