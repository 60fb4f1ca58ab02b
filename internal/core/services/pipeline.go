// Package services holds the connector runtime's core business logic:
// the inbound pipeline and the outbound batch processor, orchestrating
// domain logic through the ports interfaces. Following Hexagonal
// Architecture, as in the teacher's services.Dispatcher.
package services

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/fortescwb/connectors/internal/core/domain"
	"github.com/fortescwb/connectors/internal/core/ports"
)

// PipelineConfig holds the tunables the spec names explicitly.
type PipelineConfig struct {
	ConnectorID         string
	ServiceName         string
	DedupeTTL           time.Duration
	DefaultRetryAfterMS int64
	// FailMode routes dedupe-store errors at request time (spec.md §4.1,
	// §7): closed allows the side effect (dispatch proceeds, tagged
	// dedupe_error_allowed), open suppresses it (classified deduped,
	// tagged dedupe_error_blocked). Zero value behaves as FailClosed,
	// since the provider will redeliver an inbound webhook anyway.
	FailMode ports.FailMode
}

// InboundPipeline composes the dedupe store, signature verifier,
// webhook verifier, event parser, capability registry, rate limiter
// and logger into handleGet/handlePost, per spec.md §4.4. It is the
// direct generalization of the teacher's WebhookHandler +
// services.Dispatcher pair, merged into one component because the
// spec treats verification, parsing, dedupe and dispatch as a single
// ordered pipeline rather than separate HTTP-handler/service layers.
type InboundPipeline struct {
	cfg         PipelineConfig
	dedupe      ports.DedupeStore
	signature   ports.SignatureVerifier
	webhookVer  ports.WebhookVerifier
	parser      ports.EventParser
	registry    ports.CapabilityRegistry
	rateLimiter ports.RateLimiter
	metrics     ports.Metrics
	logger      ports.Logger
}

// NewInboundPipeline wires the pipeline's collaborators. rateLimiter
// may be nil (spec.md §4.6: "When absent, behave as always-allow").
func NewInboundPipeline(
	cfg PipelineConfig,
	dedupe ports.DedupeStore,
	signature ports.SignatureVerifier,
	webhookVer ports.WebhookVerifier,
	parser ports.EventParser,
	registry ports.CapabilityRegistry,
	rateLimiter ports.RateLimiter,
	metrics ports.Metrics,
	logger ports.Logger,
) *InboundPipeline {
	return &InboundPipeline{
		cfg: cfg, dedupe: dedupe, signature: signature, webhookVer: webhookVer,
		parser: parser, registry: registry, rateLimiter: rateLimiter,
		metrics: metrics, logger: logger,
	}
}

// HandleGet answers the platform's subscription handshake (spec.md
// §4.3). Incoming x-correlation-id is ignored: GET always generates a
// fresh one, since the platform never sends one during handshake.
func (p *InboundPipeline) HandleGet(ctx context.Context, query map[string]string) domain.Response {
	correlationID := newCorrelationID()
	verdict := p.webhookVer.Verify(query)

	if verdict.OK {
		p.logger.Info("Webhook verification successful", "correlationId", correlationID)
		return domain.Response{
			Status:        200,
			Body:          verdict.Challenge,
			ContentType:   domain.ContentTypePlain,
			CorrelationID: correlationID,
		}
	}

	status := 403
	message := "Invalid verify token or mode"
	if verdict.Code == domain.ErrorCodeServiceUnavailable {
		status = 503
		message = "Webhook verification is not configured"
	}
	p.logger.Warn("Webhook verification failed", "correlationId", correlationID, "code", verdict.Code)
	return errorResponse(status, verdict.Code, message, correlationID)
}

// HandlePost runs the full inbound pipeline described in spec.md
// §4.4: correlation resolution, signature verification, parsing, rate
// limiting, then sequential per-event dedupe+dispatch.
func (p *InboundPipeline) HandlePost(ctx context.Context, req *domain.Request) domain.Response {
	// (1) Resolve fallback correlation id.
	fallbackCorrelationID := req.Header("x-correlation-id")
	if fallbackCorrelationID == "" {
		fallbackCorrelationID = newCorrelationID()
	}

	// (2) Missing raw body with signature verification enabled is a
	// configuration error, not a client error.
	if p.signature.Enabled() && len(req.RawBody) == 0 {
		p.logger.Error("Signature verification enabled but raw body is absent",
			"correlationId", fallbackCorrelationID)
		return errorResponse(500, domain.ErrorCodeInternalError, "Raw body required for signature verification", fallbackCorrelationID)
	}

	// (3) Verify signature once.
	if !p.signature.Enabled() {
		p.logger.Info("Signature validation skipped", "correlationId", fallbackCorrelationID, "reason", "no secret configured")
	} else {
		verdict := p.signature.Verify(req)
		if !verdict.Valid {
			p.logger.Warn("Signature verification failed", "correlationId", fallbackCorrelationID, "code", verdict.Code)
			return errorResponse(401, domain.ErrorCodeUnauthorized, "Invalid signature", fallbackCorrelationID)
		}
	}

	// (4) Parse the batch.
	if p.parser == nil {
		p.logger.Error("No event parser configured", "correlationId", fallbackCorrelationID)
		return errorResponse(500, domain.ErrorCodeInternalError, "No event parser configured", fallbackCorrelationID)
	}
	batch, err := p.parser.Parse(req)
	if err != nil {
		p.logger.Warn("Webhook payload failed validation", "correlationId", fallbackCorrelationID, "error", err.Error())
		return errorResponse(400, domain.ErrorCodeWebhookValidationFail, "Webhook payload failed validation", fallbackCorrelationID)
	}
	if len(batch) == 0 {
		// spec.md §9 Open Questions: a zero-length parser batch is
		// treated as validation failure, not an empty 200.
		p.logger.Warn("Webhook payload produced an empty batch", "correlationId", fallbackCorrelationID)
		return errorResponse(400, domain.ErrorCodeWebhookValidationFail, "Webhook payload produced no events", fallbackCorrelationID)
	}

	// (5) Elect batch correlation id.
	batchCorrelationID := fallbackCorrelationID
	if batch[0].CorrelationID != "" {
		batchCorrelationID = batch[0].CorrelationID
	}

	// (6) Optional rate limiting, cost = batch size.
	if p.rateLimiter != nil {
		key := batch[0].TenantID
		if key == "" {
			key = p.cfg.ConnectorID
		}
		verdict, err := p.rateLimiter.Consume(ctx, key, len(batch))
		if err != nil {
			p.logger.Error("Rate limiter unavailable", "correlationId", batchCorrelationID, "error", err.Error())
			return errorResponse(500, domain.ErrorCodeInternalError, "Rate limiter unavailable", batchCorrelationID)
		}
		if !verdict.Allowed {
			retryAfterMS := verdict.RetryAfterMS
			if retryAfterMS <= 0 {
				retryAfterMS = p.defaultRetryAfterMS()
			}
			retryAfterSeconds := int64(math.Ceil(float64(retryAfterMS) / 1000.0))
			resp := errorResponse(429, domain.ErrorCodeRateLimitExceeded, "Rate limit exceeded", batchCorrelationID)
			resp.Headers = map[string]string{"Retry-After": fmt.Sprintf("%d", retryAfterSeconds)}
			p.logger.Warn("Rate limit exceeded", "correlationId", batchCorrelationID, "key", key)
			return resp
		}
	}

	// (7) Sequential per-event processing.
	results := make([]domain.ItemResult, 0, len(batch))
	summary := domain.BatchSummary{Total: len(batch)}

	for _, event := range batch {
		result := p.processEvent(ctx, event, batchCorrelationID)
		results = append(results, result)
		switch {
		case result.Deduped:
			summary.Deduped++
		case result.OK:
			summary.Processed++
		default:
			summary.Failed++
		}
	}

	// (8) Batch summary log + metric.
	p.logger.Info("event_batch_summary",
		"correlationId", batchCorrelationID,
		"total", summary.Total, "processed", summary.Processed,
		"deduped", summary.Deduped, "failed", summary.Failed)
	if p.metrics != nil {
		p.metrics.BatchSummary(summary)
	}

	fullyDeduped := summary.Total > 0 && summary.Deduped == summary.Total &&
		summary.Processed == 0 && summary.Failed == 0

	return domain.Response{
		Status:      200,
		ContentType: domain.ContentTypeJSON,
		Body: domain.BatchResponse{
			OK:            true,
			FullyDeduped:  fullyDeduped,
			Summary:       summary,
			Results:       omitEmptyResults(results),
			CorrelationID: batchCorrelationID,
		},
		CorrelationID: batchCorrelationID,
	}
}

// processEvent implements the per-event state machine from spec.md
// §4.4(7): received -> (dedupe) -> {deduped | handler_missing |
// handler_run -> {processed | failed}}.
func (p *InboundPipeline) processEvent(ctx context.Context, event domain.Event, batchCorrelationID string) domain.ItemResult {
	correlationID := event.CorrelationID
	if correlationID == "" {
		correlationID = batchCorrelationID
	}

	eventLogger := p.logger.With(
		"service", p.cfg.ServiceName,
		"connector", p.cfg.ConnectorID,
		"correlationId", correlationID,
		"capabilityId", event.CapabilityID,
		"dedupeKey", event.DedupeKey,
	)
	if event.TenantID != "" {
		eventLogger = eventLogger.With("tenantId", event.TenantID)
	}

	if p.metrics != nil {
		p.metrics.WebhookReceived(event.CapabilityID)
	}

	start := time.Now()
	record := func(latency time.Duration) int64 {
		ms := latency.Milliseconds()
		if p.metrics != nil {
			p.metrics.HandlerLatency(event.CapabilityID, float64(ms))
		}
		return ms
	}

	isDuplicate, err := p.dedupe.CheckAndMark(ctx, event.DedupeKey, p.cfg.DedupeTTL)
	if err != nil {
		// Dedupe store error: route by fail mode (spec.md §4.1, §7).
		if p.cfg.FailMode == ports.FailOpen {
			latency := record(time.Since(start))
			eventLogger.Warn("Dedupe store unavailable, blocking dispatch (fail-open)", "error", err.Error(), "outcome", "deduped", "latencyMs", latency)
			if p.metrics != nil {
				p.metrics.EventDeduped(event.CapabilityID)
			}
			return domain.ItemResult{
				CapabilityID: event.CapabilityID, DedupeKey: event.DedupeKey,
				OK: false, Deduped: true, CorrelationID: correlationID, LatencyMS: latency,
				ErrorCode: domain.ErrorCodeDedupeErrorBlocked,
			}
		}
		// fail-closed: proceed to dispatch, tagging the result on success.
		eventLogger.Warn("Dedupe store unavailable, proceeding to dispatch (fail-closed)", "error", err.Error())
		return p.dispatch(ctx, event, eventLogger, correlationID, start, record, domain.ErrorCodeDedupeErrorAllowed)
	}

	if isDuplicate {
		latency := record(time.Since(start))
		if p.metrics != nil {
			p.metrics.EventDeduped(event.CapabilityID)
		}
		eventLogger.Info("Duplicate event skipped", "outcome", "deduped", "latencyMs", latency)
		return domain.ItemResult{
			CapabilityID: event.CapabilityID, DedupeKey: event.DedupeKey,
			OK: false, Deduped: true, CorrelationID: correlationID, LatencyMS: latency,
		}
	}

	return p.dispatch(ctx, event, eventLogger, correlationID, start, record, "")
}

// dispatch looks up the capability handler and runs it, tagging the
// successful result with dedupeErrorCode when non-empty (the
// fail-closed dedupe-error-allowed path).
func (p *InboundPipeline) dispatch(ctx context.Context, event domain.Event, eventLogger ports.Logger, correlationID string, start time.Time, record func(time.Duration) int64, dedupeErrorCode domain.ErrorCode) domain.ItemResult {
	handler, ok := p.registry.Lookup(event.CapabilityID)
	if !ok {
		latency := record(time.Since(start))
		eventLogger.Warn("No handler registered for capability", "outcome", "failed", "latencyMs", latency)
		if p.metrics != nil {
			p.metrics.EventFailed(event.CapabilityID, domain.ErrorCodeNoHandler)
		}
		return domain.ItemResult{
			CapabilityID: event.CapabilityID, DedupeKey: event.DedupeKey,
			OK: false, CorrelationID: correlationID, LatencyMS: latency,
			ErrorCode: domain.ErrorCodeNoHandler,
		}
	}

	hctx := ports.HandlerContext{
		CorrelationID: correlationID, Connector: p.cfg.ConnectorID, TenantID: event.TenantID,
		Deduped: false, DedupeKey: event.DedupeKey, CapabilityID: event.CapabilityID, Logger: eventLogger,
	}

	handlerErr := runHandlerSafely(ctx, handler, event.Payload, hctx)
	latency := record(time.Since(start))

	if handlerErr != nil {
		eventLogger.Error("Handler execution failed", "error", sanitizeError(handlerErr.Error()), "outcome", "failed", "latencyMs", latency)
		if p.metrics != nil {
			p.metrics.EventFailed(event.CapabilityID, domain.ErrorCodeHandlerFailed)
		}
		return domain.ItemResult{
			CapabilityID: event.CapabilityID, DedupeKey: event.DedupeKey,
			OK: false, CorrelationID: correlationID, LatencyMS: latency,
			ErrorCode: domain.ErrorCodeHandlerFailed,
		}
	}

	eventLogger.Info("Event processed successfully", "outcome", "processed", "latencyMs", latency)
	if p.metrics != nil {
		p.metrics.EventProcessed(event.CapabilityID)
	}
	return domain.ItemResult{
		CapabilityID: event.CapabilityID, DedupeKey: event.DedupeKey,
		OK: true, CorrelationID: correlationID, LatencyMS: latency,
		ErrorCode: dedupeErrorCode,
	}
}

// runHandlerSafely converts a handler panic into an error so a single
// misbehaving handler never escapes the HTTP boundary (spec.md §7:
// "No uncaught exception may escape the HTTP handler").
func runHandlerSafely(ctx context.Context, handler ports.Handler, payload any, hctx ports.HandlerContext) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return handler(ctx, payload, hctx)
}

func (p *InboundPipeline) defaultRetryAfterMS() int64 {
	if p.cfg.DefaultRetryAfterMS > 0 {
		return p.cfg.DefaultRetryAfterMS
	}
	return 60_000
}

func errorResponse(status int, code domain.ErrorCode, message, correlationID string) domain.Response {
	return domain.Response{
		Status:      status,
		ContentType: domain.ContentTypeJSON,
		Body: domain.ErrorResponse{
			OK: false, Code: code, Message: message, CorrelationID: correlationID,
		},
		CorrelationID: correlationID,
	}
}

func omitEmptyResults(results []domain.ItemResult) []domain.ItemResult {
	if len(results) == 0 {
		return nil
	}
	return results
}

func newCorrelationID() string {
	return uuid.NewString()
}
