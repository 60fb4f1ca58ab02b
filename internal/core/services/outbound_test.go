package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/fortescwb/connectors/internal/adapters/dedupe"
	"github.com/fortescwb/connectors/internal/core/domain"
	"github.com/fortescwb/connectors/internal/core/ports"
)

func newTestOutboundProcessor(dedupeStore ports.DedupeStore, sender ports.Sender, failMode ports.FailMode) *OutboundProcessor {
	cfg := OutboundConfig{ConnectorID: "whatsapp", DedupeTTL: time.Minute, FailMode: failMode}
	return NewOutboundProcessor(cfg, dedupeStore, sender, nil, noopLogger{})
}

// Scenario 6 (spec.md §8): two sequential batches carrying the same
// intent id must send exactly once; the replay is deduped.
func TestProcessBatch_OutboundDedupeReplay_SendsExactlyOnce(t *testing.T) {
	intent := domain.Intent{
		IntentID:    "550e8400-e29b-41d4-a716-446655440000",
		TenantID:    "tenant-stg-ig",
		ProviderTag: "instagram",
		Recipient:   "15557654321",
		DedupeKey:   "instagram:tenant:tenant-stg-ig:intent:550e8400-e29b-41d4-a716-446655440000",
		Payload:     domain.IntentPayload{Kind: domain.IntentPayloadText, Text: "hi"},
	}

	sender := new(mockSender)
	sender.On("Send", mock.Anything, intent, mock.Anything).Return(200, "", nil)

	processor := newTestOutboundProcessor(dedupe.NewMemoryStore(), sender, ports.FailClosed)

	first := processor.ProcessBatch(context.Background(), []domain.Intent{intent})
	assert.True(t, first.OK)
	assert.Equal(t, domain.OutboundSummary{Total: 1, Sent: 1, Deduped: 0, Failed: 0}, first.Summary)
	assert.Equal(t, domain.IntentStatusSent, first.Results[0].Status)

	second := processor.ProcessBatch(context.Background(), []domain.Intent{intent})
	assert.True(t, second.OK)
	assert.Equal(t, domain.OutboundSummary{Total: 1, Sent: 0, Deduped: 1, Failed: 0}, second.Summary)
	assert.Equal(t, domain.IntentStatusDeduped, second.Results[0].Status)

	sender.AssertNumberOfCalls(t, "Send", 1)
}

// A failed provider send is classified failed with send_failed, and
// does not retry (spec.md §4.5: retries belong to the provider client).
func TestProcessBatch_SendFails_ClassifiesFailed(t *testing.T) {
	intent := domain.Intent{
		IntentID:  "intent-1",
		TenantID:  "tenant-a",
		DedupeKey: "whatsapp:tenant:tenant-a:intent:intent-1",
	}
	sender := new(mockSender)
	sender.On("Send", mock.Anything, intent, mock.Anything).Return(0, "", assert.AnError)

	processor := newTestOutboundProcessor(dedupe.NewMemoryStore(), sender, ports.FailClosed)
	resp := processor.ProcessBatch(context.Background(), []domain.Intent{intent})

	assert.Equal(t, domain.OutboundSummary{Total: 1, Sent: 0, Deduped: 0, Failed: 1}, resp.Summary)
	assert.Equal(t, domain.IntentStatusFailed, resp.Results[0].Status)
	assert.Equal(t, domain.ErrorCodeSendFailed, resp.Results[0].ErrorCode)
	sender.AssertNumberOfCalls(t, "Send", 1)
}

// Dedupe store errors fail open: the send is blocked entirely
// (spec.md §4.1 "open -> classify as deduped ... do NOT call
// sendMessage").
func TestProcessBatch_DedupeStoreError_FailOpen_BlocksSend(t *testing.T) {
	intent := domain.Intent{IntentID: "intent-2", DedupeKey: "whatsapp:tenant:tenant-a:intent:intent-2"}

	store := new(mockDedupeStore)
	store.On("CheckAndMark", mock.Anything, intent.DedupeKey, time.Minute).Return(false, assert.AnError)
	sender := new(mockSender)

	processor := newTestOutboundProcessor(store, sender, ports.FailOpen)
	resp := processor.ProcessBatch(context.Background(), []domain.Intent{intent})

	assert.Equal(t, domain.OutboundSummary{Total: 1, Sent: 0, Deduped: 1, Failed: 0}, resp.Summary)
	assert.Equal(t, domain.ErrorCodeDedupeErrorBlocked, resp.Results[0].ErrorCode)
	sender.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything)
}

// Dedupe store errors fail closed: the send proceeds and, on success,
// is tagged dedupe_error_allowed (spec.md §4.1).
func TestProcessBatch_DedupeStoreError_FailClosed_StillSends(t *testing.T) {
	intent := domain.Intent{IntentID: "intent-3", DedupeKey: "whatsapp:tenant:tenant-a:intent:intent-3"}

	store := new(mockDedupeStore)
	store.On("CheckAndMark", mock.Anything, intent.DedupeKey, time.Minute).Return(false, assert.AnError)
	sender := new(mockSender)
	sender.On("Send", mock.Anything, intent, mock.Anything).Return(200, "", nil)

	processor := newTestOutboundProcessor(store, sender, ports.FailClosed)
	resp := processor.ProcessBatch(context.Background(), []domain.Intent{intent})

	assert.Equal(t, domain.OutboundSummary{Total: 1, Sent: 1, Deduped: 0, Failed: 0}, resp.Summary)
	assert.Equal(t, domain.ErrorCodeDedupeErrorAllowed, resp.Results[0].ErrorCode)
	sender.AssertNumberOfCalls(t, "Send", 1)
}

// total == sent + deduped + failed for a mixed batch (spec.md §7
// "Batch summary totals").
func TestProcessBatch_MixedBatch_SummaryTotalsBalance(t *testing.T) {
	sent := domain.Intent{IntentID: "a", DedupeKey: "whatsapp:tenant:t:intent:a"}
	deduped := domain.Intent{IntentID: "b", DedupeKey: "whatsapp:tenant:t:intent:b"}
	failed := domain.Intent{IntentID: "c", DedupeKey: "whatsapp:tenant:t:intent:c"}

	store := dedupe.NewMemoryStore()
	_, _ = store.CheckAndMark(context.Background(), deduped.DedupeKey, time.Minute) // pre-mark as seen

	sender := new(mockSender)
	sender.On("Send", mock.Anything, sent, mock.Anything).Return(200, "", nil)
	sender.On("Send", mock.Anything, failed, mock.Anything).Return(0, "", assert.AnError)

	processor := newTestOutboundProcessor(store, sender, ports.FailClosed)
	resp := processor.ProcessBatch(context.Background(), []domain.Intent{sent, deduped, failed})

	assert.Equal(t, domain.OutboundSummary{Total: 3, Sent: 1, Deduped: 1, Failed: 1}, resp.Summary)
}
