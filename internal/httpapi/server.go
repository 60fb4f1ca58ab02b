// Package httpapi adapts the core inbound pipeline and outbound batch
// processor onto net/http, generalized from the teacher's
// handler.WebhookHandler (webhook.go): GET/POST method dispatch on a
// single path, raw-body capture ahead of signature verification, and a
// staging-only side door guarded by a static bearer token instead of
// the teacher's dispatcher.ProcessWebhook fire-and-forget goroutine —
// this runtime answers synchronously so the per-item results in the
// response body are accurate.
package httpapi

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/fortescwb/connectors/internal/core/domain"
	"github.com/fortescwb/connectors/internal/core/ports"
	"github.com/fortescwb/connectors/internal/core/services"
)

// Server wires the inbound pipeline, outbound processor, and the
// staging side door onto three HTTP routes.
type Server struct {
	connectorID    string
	pipeline       *services.InboundPipeline
	outbound       *services.OutboundProcessor
	stagingToken   string
	stagingEnabled bool
	logger         ports.Logger
}

// NewServer builds the HTTP adapter. stagingEnabled gates
// /__staging/outbound's existence (it 404s outside staging, per
// spec.md §6). connectorID is reported by GET /health.
func NewServer(connectorID string, pipeline *services.InboundPipeline, outbound *services.OutboundProcessor, stagingToken string, stagingEnabled bool, logger ports.Logger) *Server {
	return &Server{
		connectorID: connectorID, pipeline: pipeline, outbound: outbound,
		stagingToken: stagingToken, stagingEnabled: stagingEnabled, logger: logger,
	}
}

// Routes returns the populated mux: GET/POST /webhook, GET /health,
// POST /__staging/outbound.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/webhook", s.handleWebhook)
	mux.HandleFunc("/__staging/outbound", s.handleStagingOutbound)
	return mux
}

// healthResponse is the GET /health body shape (spec.md §6:
// `{status:"ok", connector:<id>}`).
type healthResponse struct {
	Status    string `json:"status"`
	Connector string `json:"connector"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Connector: s.connectorID})
}

// handleWebhook dispatches GET (subscription handshake) and POST
// (inbound batch) to the pipeline, mirroring the teacher's
// HandleFacebookVerify/HandleFacebookEvent split under one path.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		query := map[string]string{}
		for key := range r.URL.Query() {
			query[key] = r.URL.Query().Get(key)
		}
		resp := s.pipeline.HandleGet(r.Context(), query)
		writeResponse(w, resp)

	case http.MethodPost:
		rawBody, err := io.ReadAll(r.Body)
		if err != nil {
			s.logger.Error("Failed to read webhook body", "error", err.Error())
			writeJSON(w, http.StatusBadRequest, domain.ErrorResponse{OK: false, Code: domain.ErrorCodeInternalError, Message: "Failed to read request body"})
			return
		}
		defer r.Body.Close()

		req := &domain.Request{
			Headers: normalizeHeaders(r.Header),
			RawBody: rawBody,
		}
		resp := s.pipeline.HandlePost(r.Context(), req)
		writeResponse(w, resp)

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// stagingOutboundRequest is the POST /__staging/outbound body shape
// (spec.md §6).
type stagingOutboundRequest struct {
	Intents []domain.Intent `json:"intents"`
}

func (s *Server) handleStagingOutbound(w http.ResponseWriter, r *http.Request) {
	if !s.stagingEnabled {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	token := r.Header.Get("x-staging-token")
	if s.stagingToken == "" || token != s.stagingToken {
		writeJSON(w, http.StatusForbidden, domain.ErrorResponse{OK: false, Code: domain.ErrorCodeForbidden, Message: "Invalid staging token"})
		return
	}

	var body stagingOutboundRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, domain.ErrorResponse{OK: false, Code: domain.ErrorCodeWebhookValidationFail, Message: "Malformed request body"})
		return
	}

	resp := s.outbound.ProcessBatch(r.Context(), body.Intents)
	writeJSON(w, http.StatusOK, resp)
}

func normalizeHeaders(h http.Header) map[string][]string {
	out := make(map[string][]string, len(h))
	for key, values := range h {
		out[canonicalToLower(key)] = values
	}
	return out
}

func canonicalToLower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

func writeResponse(w http.ResponseWriter, resp domain.Response) {
	for k, v := range resp.Headers {
		w.Header().Set(k, v)
	}
	w.Header().Set("x-correlation-id", resp.CorrelationID)

	switch resp.ContentType {
	case domain.ContentTypePlain:
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(resp.Status)
		if s, ok := resp.Body.(string); ok {
			w.Write([]byte(s))
		}
	default:
		writeJSON(w, resp.Status, resp.Body)
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
