package k2powservice

import (
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "k2pow_jobs_total",
		Help: "K2-PoW job submissions by resulting status.",
	}, []string{"status"})
)

// Handler serves the K2-PoW HTTP surface described in spec.md section
// 6.1, grounded on the teacher's net/http handler style in
// pkg/node/rpc_handler.go (explicit ServeMux routes, small helper
// functions per concern, no router dependency).
type Handler struct {
	sched *Scheduler
	mux   *http.ServeMux
}

// NewHandler builds the HTTP handler around sched.
func NewHandler(sched *Scheduler) *Handler {
	h := &Handler{sched: sched, mux: http.NewServeMux()}
	h.mux.HandleFunc("/", h.handleRoot)
	h.mux.HandleFunc("/job/", h.handleJob)
	return h
}

// ServeHTTP dispatches to the root and job routes; a panic in a route
// is answered with a 500 carrying a logged correlation id.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	defer func() {
		if rec := recover(); rec != nil {
			correlationID := uuid.NewString()
			logger.Error("k2pow handler panicked", "correlation_id", correlationID, "panic", rec)
			http.Error(w, "internal error, correlation_id="+correlationID, http.StatusInternalServerError)
		}
	}()
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK")
}

// handleJob serves GET /job/{miner_hex32}/{nonce_group_u8}/{challenge_hex8}/{difficulty_hex32}
// (spec.md section 6.1). go.mod targets go 1.21, which predates
// http.ServeMux's {name} wildcard routing (go 1.22), so the path is
// parsed manually.
func (h *Handler) handleJob(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/job/")
	parts := strings.Split(rest, "/")
	if len(parts) != 4 {
		http.Error(w, "expected /job/{miner}/{nonce_group}/{challenge}/{difficulty}", http.StatusBadRequest)
		return
	}

	miner, err := parseHexArray32(parts[0])
	if err != nil {
		http.Error(w, "bad miner_hex32: "+err.Error(), http.StatusBadRequest)
		return
	}
	nonceGroup, err := strconv.ParseUint(parts[1], 10, 8)
	if err != nil {
		http.Error(w, "bad nonce_group_u8: "+err.Error(), http.StatusBadRequest)
		return
	}
	challenge, err := parseHexArray8(parts[2])
	if err != nil {
		http.Error(w, "bad challenge_hex8: "+err.Error(), http.StatusBadRequest)
		return
	}
	difficulty, err := parseHexArray32(parts[3])
	if err != nil {
		http.Error(w, "bad difficulty_hex32: "+err.Error(), http.StatusBadRequest)
		return
	}

	status := h.sched.Submit(miner, uint8(nonceGroup), challenge, difficulty)
	switch status {
	case StatusBusy:
		jobsTotal.WithLabelValues("busy").Inc()
		http.Error(w, "a different job is currently running", http.StatusTooManyRequests)
	case StatusOK:
		jobsTotal.WithLabelValues("ok").Inc()
		nonce, _ := h.sched.Result(miner, uint8(nonceGroup), challenge, difficulty)
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "%d", nonce)
	case StatusCreated:
		jobsTotal.WithLabelValues("created").Inc()
		w.WriteHeader(http.StatusCreated)
	case StatusFailed:
		jobsTotal.WithLabelValues("failed").Inc()
		reason, _ := h.sched.Failure(miner, uint8(nonceGroup), challenge, difficulty)
		http.Error(w, reason, http.StatusInternalServerError)
	}
}

// parseHexArray32 decodes exactly 32 bytes (64 lowercase hex chars, no
// prefix) per the spec's _hexN convention: N is the byte count, rendered
// as 2N hex characters.
func parseHexArray32(s string) ([32]byte, error) {
	var out [32]byte
	b, err := hex.DecodeString(s)
	if err != nil {
		return out, err
	}
	if len(b) != 32 {
		return out, fmt.Errorf("expected 32 bytes, got %d", len(b))
	}
	copy(out[:], b)
	return out, nil
}

func parseHexArray8(s string) ([8]byte, error) {
	var out [8]byte
	b, err := hex.DecodeString(s)
	if err != nil {
		return out, err
	}
	if len(b) != 8 {
		return out, fmt.Errorf("expected 8 bytes, got %d", len(b))
	}
	copy(out[:], b)
	return out, nil
}
