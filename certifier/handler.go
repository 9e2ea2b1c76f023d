package certifier

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/spacemeshos/post-rs/shared"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "certifier_requests_total",
		Help: "Certify requests by outcome.",
	}, []string{"outcome"})
)

type wireProof struct {
	Nonce   uint32 `json:"nonce"`
	Indices []byte `json:"indices"`
	Pow     uint64 `json:"pow"`
}

type wireMetadata struct {
	Challenge     []byte `json:"challenge"`
	NumUnits      uint32 `json:"num_units"`
	LabelsPerUnit uint64 `json:"labels_per_unit"`
}

type wireRequest struct {
	NodeID   []byte       `json:"node_id"`
	Proof    wireProof    `json:"proof"`
	Metadata wireMetadata `json:"metadata"`
}

type wireResponse struct {
	PubKey     []byte  `json:"pub_key"`
	Signature  []byte  `json:"signature"`
	Expiration *string `json:"expiration,omitempty"`
}

type wireError struct {
	Error string `json:"error"`
}

// Handler serves the certifier HTTP surface (spec.md section 6.2),
// grounded on the teacher's rpc_handler.go shape: a small ServeMux, JSON
// helper functions, and a per-request admission gate instead of a
// router dependency.
type Handler struct {
	svc         *Service
	gate        *Gate
	limiter     *sourceLimiter
	maxBodySize int64
	mux         *http.ServeMux
}

// NewHandler builds the certify/pubkey HTTP handler around svc, gating
// concurrent verification through gate and rejecting request bodies
// larger than maxBodySize. Requests are additionally rate-limited per
// source IP (10 req/s, burst 20) ahead of the gate.
func NewHandler(svc *Service, gate *Gate, maxBodySize int64) *Handler {
	h := &Handler{
		svc:         svc,
		gate:        gate,
		limiter:     newSourceLimiter(10, 20),
		maxBodySize: maxBodySize,
		mux:         http.NewServeMux(),
	}
	h.mux.HandleFunc("/certify", h.handleCertify)
	h.mux.HandleFunc("/pubkey", h.handlePubKey)
	return h
}

// ServeHTTP dispatches to the certify/pubkey routes; a panic in a route
// is answered with a 500 carrying a logged correlation id.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	defer func() {
		if rec := recover(); rec != nil {
			correlationID := uuid.NewString()
			requestsTotal.WithLabelValues("internal_error").Inc()
			logger.Error("certifier handler panicked", "correlation_id", correlationID, "panic", rec)
			writeJSONError(w, http.StatusInternalServerError, "internal error, correlation_id="+correlationID)
		}
	}()
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) handlePubKey(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	pk := h.svc.PubKey()
	writeJSON(w, http.StatusOK, wireResponse{PubKey: pk[:]})
}

func (h *Handler) handleCertify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !h.limiter.allow(extractIP(r)) {
		requestsTotal.WithLabelValues("rate_limited").Inc()
		writeJSONError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	body := io.LimitReader(r.Body, h.maxBodySize+1)
	data, err := io.ReadAll(body)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "failed to read body")
		return
	}
	if int64(len(data)) > h.maxBodySize {
		writeJSONError(w, http.StatusBadRequest, "request body too large")
		return
	}

	var wr wireRequest
	if err := json.Unmarshal(data, &wr); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	req, err := decodeRequest(wr)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	release, err := h.gate.Enter()
	if err != nil {
		requestsTotal.WithLabelValues("overloaded").Inc()
		writeJSONError(w, http.StatusServiceUnavailable, "server overloaded")
		return
	}
	defer release()

	cert, err := h.svc.Certify(req)
	if err != nil {
		var invalid *shared.ProofInvalidError
		if pie, ok := err.(*shared.ProofInvalidError); ok {
			invalid = pie
		}
		if invalid != nil {
			requestsTotal.WithLabelValues("rejected").Inc()
			writeJSONError(w, http.StatusForbidden, "Invalid proof: "+invalid.Reason)
			return
		}
		correlationID := uuid.NewString()
		requestsTotal.WithLabelValues("internal_error").Inc()
		logger.Error("certify failed unexpectedly", "correlation_id", correlationID, "err", err)
		writeJSONError(w, http.StatusInternalServerError, "internal error, correlation_id="+correlationID)
		return
	}

	requestsTotal.WithLabelValues("certified").Inc()
	resp := wireResponse{PubKey: cert.PubKey[:], Signature: cert.Signature[:]}
	if cert.Expiration != nil {
		s := cert.Expiration.UTC().Format(time.RFC3339)
		resp.Expiration = &s
	}
	writeJSON(w, http.StatusOK, resp)
}

func decodeRequest(wr wireRequest) (Request, error) {
	var req Request
	if len(wr.NodeID) != shared.IdentitySize {
		return req, shared.NewConfigError("node_id", "must be 32 bytes")
	}
	copy(req.NodeID[:], wr.NodeID)
	if len(wr.Metadata.Challenge) != shared.ChallengeSize {
		return req, shared.NewConfigError("metadata.challenge", "must be 32 bytes")
	}
	copy(req.Challenge[:], wr.Metadata.Challenge)
	req.NumUnits = wr.Metadata.NumUnits
	req.LabelsPerUnit = wr.Metadata.LabelsPerUnit
	req.Nonce = wr.Proof.Nonce
	req.Indices = wr.Proof.Indices
	req.PowNonce = wr.Proof.Pow
	return req, nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, wireError{Error: msg})
}
