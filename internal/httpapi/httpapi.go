// Package httpapi implements the minimal net/http surface spec.md
// leaves as a thin, out-of-scope adapter: a status GET, register
// GET/PUT, and a telemetry POST sink. It exists only to give the
// publisher and a local UI something real to talk to — no rendering,
// no auth, no general REST surface.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/librescoot/bms-gateway/internal/bmserr"
	"github.com/librescoot/bms-gateway/internal/telemetry"
)

// Model is the subset of cache.Model the adapter needs for register
// access, declared locally to avoid importing cache's protocol-engine
// dependency surface.
type Model interface {
	ReadRegister(ctx context.Context, key string) (float64, error)
	WriteRegister(ctx context.Context, key string, value float64) error
}

// StatusProvider returns whatever the status adapter should report;
// left as `any` since httpapi only serializes it.
type StatusProvider func() any

// Server wires the adapter's handlers onto a *http.ServeMux.
type Server struct {
	mux      *http.ServeMux
	model    Model
	statusFn StatusProvider

	mu         sync.Mutex
	lastSample telemetry.Sample
	haveSample bool
}

// New builds a Server. statusFn may be nil, in which case the status
// endpoint's "status" field is always an empty object.
func New(model Model, statusFn StatusProvider) *Server {
	s := &Server{mux: http.NewServeMux(), model: model, statusFn: statusFn}
	s.mux.HandleFunc("/status", s.handleStatus)
	s.mux.HandleFunc("/register", s.handleRegister)
	s.mux.HandleFunc("/telemetry", s.handleTelemetry)
	return s
}

// Handler returns the adapter's http.Handler for wiring into a server.
func (s *Server) Handler() http.Handler { return s.mux }

// statusResponse wraps the caller-supplied status payload with the most
// recently recorded telemetry sample, so a local UI can poll one endpoint
// for both.
type statusResponse struct {
	Status     any              `json:"status"`
	LastSample telemetry.Sample `json:"last_sample,omitempty"`
	HaveSample bool             `json:"have_sample"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var payload any = struct{}{}
	if s.statusFn != nil {
		payload = s.statusFn()
	}
	s.mu.Lock()
	lastSample, haveSample := s.lastSample, s.haveSample
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, statusResponse{Status: payload, LastSample: lastSample, HaveSample: haveSample})
}

type registerRequest struct {
	Key   string  `json:"key"`
	Value float64 `json:"value"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		key := r.URL.Query().Get("key")
		if key == "" {
			http.Error(w, "missing key", http.StatusBadRequest)
			return
		}
		value, err := s.model.ReadRegister(r.Context(), key)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, registerRequest{Key: key, Value: value})
	case http.MethodPut:
		var req registerRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid body", http.StatusBadRequest)
			return
		}
		if err := s.model.WriteRegister(r.Context(), req.Key, req.Value); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleTelemetry is the local POST sink the publisher's HTTPSink talks
// to in tests and single-box deployments — it just records the most
// recent sample for the status endpoint to expose.
func (s *Server) handleTelemetry(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var sample telemetry.Sample
	if err := json.NewDecoder(r.Body).Decode(&sample); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	s.lastSample = sample
	s.haveSample = true
	s.mu.Unlock()
	w.WriteHeader(http.StatusAccepted)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	if be, ok := err.(*bmserr.Error); ok {
		switch be.Code {
		case bmserr.CodeUnknownRegister:
			code = http.StatusNotFound
		case bmserr.CodeReadOnly, bmserr.CodeValueOutOfRange:
			code = http.StatusBadRequest
		case bmserr.CodeBusy:
			code = http.StatusServiceUnavailable
		}
	}
	http.Error(w, err.Error(), code)
}
