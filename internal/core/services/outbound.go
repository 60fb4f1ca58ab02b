package services

import (
	"context"
	"time"

	"github.com/fortescwb/connectors/internal/core/domain"
	"github.com/fortescwb/connectors/internal/core/ports"
)

// OutboundConfig holds the outbound processor's tunables.
type OutboundConfig struct {
	ConnectorID string
	DedupeTTL   time.Duration
	FailMode    ports.FailMode
}

// OutboundProcessor is the dual of InboundPipeline: per-intent
// dedupe-before-side-effect, then provider send, then structured
// result aggregation (spec.md §4.5). Grounded in the teacher's
// FacebookClient.SendReply as the provider-send collaborator shape,
// with dedupe inserted ahead of the call per the spec.
type OutboundProcessor struct {
	cfg     OutboundConfig
	dedupe  ports.DedupeStore
	sender  ports.Sender
	metrics ports.Metrics
	logger  ports.Logger
}

// NewOutboundProcessor wires the outbound processor's collaborators.
func NewOutboundProcessor(cfg OutboundConfig, dedupe ports.DedupeStore, sender ports.Sender, metrics ports.Metrics, logger ports.Logger) *OutboundProcessor {
	return &OutboundProcessor{cfg: cfg, dedupe: dedupe, sender: sender, metrics: metrics, logger: logger}
}

// ProcessBatch processes intents in order (spec.md §5: "intents in an
// input slice are processed in order").
func (p *OutboundProcessor) ProcessBatch(ctx context.Context, intents []domain.Intent) domain.OutboundBatchResponse {
	results := make([]domain.IntentResult, 0, len(intents))
	summary := domain.OutboundSummary{Total: len(intents)}

	for _, intent := range intents {
		result := p.processIntent(ctx, intent)
		results = append(results, result)
		switch result.Status {
		case domain.IntentStatusSent:
			summary.Sent++
		case domain.IntentStatusDeduped:
			summary.Deduped++
		default:
			summary.Failed++
		}
	}

	return domain.OutboundBatchResponse{OK: true, Summary: summary, Results: results}
}

func (p *OutboundProcessor) processIntent(ctx context.Context, intent domain.Intent) domain.IntentResult {
	logger := p.logger.With(
		"connector", p.cfg.ConnectorID,
		"tenantId", intent.TenantID,
		"intentId", intent.IntentID,
		"dedupeKey", intent.DedupeKey,
		"recipient", maskRecipient(intent.Recipient),
	)

	start := time.Now()
	latency := func() int64 { return time.Since(start).Milliseconds() }

	isDuplicate, err := p.dedupe.CheckAndMark(ctx, intent.DedupeKey, p.cfg.DedupeTTL)
	if err != nil {
		// (2) Dedupe store error: route by fail mode.
		if p.cfg.FailMode == ports.FailOpen {
			ms := latency()
			logger.Warn("Dedupe store unavailable, blocking send (fail-open)", "error", err.Error(), "latencyMs", ms)
			if p.metrics != nil {
				p.metrics.OutboundDeduped(intent.ProviderTag)
				p.metrics.OutboundLatency(intent.ProviderTag, float64(ms))
			}
			return domain.IntentResult{
				IntentID: intent.IntentID, Status: domain.IntentStatusDeduped,
				ErrorCode: domain.ErrorCodeDedupeErrorBlocked, LatencyMS: ms,
			}
		}
		// fail-closed: proceed to send, tagging the result on success.
		logger.Warn("Dedupe store unavailable, proceeding to send (fail-closed)", "error", err.Error())
		return p.send(ctx, intent, logger, start, domain.ErrorCodeDedupeErrorAllowed)
	}

	if isDuplicate {
		ms := latency()
		logger.Info("Duplicate intent skipped", "outcome", "deduped", "latencyMs", ms)
		if p.metrics != nil {
			p.metrics.OutboundDeduped(intent.ProviderTag)
			p.metrics.OutboundLatency(intent.ProviderTag, float64(ms))
		}
		return domain.IntentResult{IntentID: intent.IntentID, Status: domain.IntentStatusDeduped, LatencyMS: ms}
	}

	return p.send(ctx, intent, logger, start, "")
}

// send invokes the provider sender exactly once. attachCode, if
// non-empty, is stamped on a successful result (fail-closed dedupe
// error path); it never affects a failure result.
func (p *OutboundProcessor) send(ctx context.Context, intent domain.Intent, logger ports.Logger, start time.Time, attachCode domain.ErrorCode) domain.IntentResult {
	upstreamStatus, providerResp, err := p.sender.Send(ctx, intent, logger)
	ms := time.Since(start).Milliseconds()
	if p.metrics != nil {
		p.metrics.OutboundLatency(intent.ProviderTag, float64(ms))
	}

	if err != nil {
		logger.Error("Intent send failed", "error", sanitizeError(err.Error()), "outcome", "failed", "latencyMs", ms)
		if p.metrics != nil {
			p.metrics.OutboundFailed(intent.ProviderTag, domain.ErrorCodeSendFailed)
		}
		return domain.IntentResult{
			IntentID: intent.IntentID, Status: domain.IntentStatusFailed,
			ErrorCode: domain.ErrorCodeSendFailed, LatencyMS: ms, UpstreamStatus: upstreamStatus,
		}
	}

	logger.Info("Intent sent", "outcome", "sent", "latencyMs", ms, "upstreamStatus", upstreamStatus)
	if p.metrics != nil {
		p.metrics.OutboundSent(intent.ProviderTag)
	}
	return domain.IntentResult{
		IntentID: intent.IntentID, Status: domain.IntentStatusSent, ErrorCode: attachCode,
		LatencyMS: ms, UpstreamStatus: upstreamStatus, ProviderResp: providerResp,
	}
}
