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

// noopLogger discards everything; most pipeline/outbound tests care
// about returned values, not log lines.
type noopLogger struct{}

func (noopLogger) With(args ...any) ports.Logger { return noopLogger{} }
func (noopLogger) Debug(msg string, args ...any)  {}
func (noopLogger) Info(msg string, args ...any)   {}
func (noopLogger) Warn(msg string, args ...any)   {}
func (noopLogger) Error(msg string, args ...any)  {}

// mockDedupeStore mocks ports.DedupeStore, for tests that need to
// force a dedupe-store error rather than exercise the real in-memory
// implementation.
type mockDedupeStore struct {
	mock.Mock
}

func (m *mockDedupeStore) CheckAndMark(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	args := m.Called(ctx, key, ttl)
	return args.Bool(0), args.Error(1)
}

func (m *mockDedupeStore) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// mockParser mocks ports.EventParser so a test can hand the pipeline
// a canned batch without going through a real platform payload.
type mockParser struct {
	mock.Mock
}

func (m *mockParser) Parse(req *domain.Request) ([]domain.Event, error) {
	args := m.Called(req)
	events, _ := args.Get(0).([]domain.Event)
	return events, args.Error(1)
}

// mockSender mocks ports.Sender for outbound processor tests.
type mockSender struct {
	mock.Mock
}

func (m *mockSender) Send(ctx context.Context, intent domain.Intent, logger ports.Logger) (int, string, error) {
	args := m.Called(ctx, intent, logger)
	return args.Int(0), args.String(1), args.Error(2)
}

func countingHandler(calls *int) ports.Handler {
	return func(ctx context.Context, payload any, hctx ports.HandlerContext) error {
		*calls++
		return nil
	}
}

func newTestPipeline(t *testing.T, dedupeStore ports.DedupeStore, parser ports.EventParser, registry ports.CapabilityRegistry, signatureSecret, verifyToken string, failMode ports.FailMode) *InboundPipeline {
	t.Helper()
	cfg := PipelineConfig{
		ConnectorID: "whatsapp",
		ServiceName: "connector-whatsapp-test",
		DedupeTTL:   time.Minute,
		FailMode:    failMode,
	}
	return NewInboundPipeline(
		cfg,
		dedupeStore,
		NewHMACSignatureVerifier(signatureSecret),
		NewSubscriptionVerifier(verifyToken),
		parser,
		registry,
		nil,
		nil,
		noopLogger{},
	)
}

// Scenario 1 (spec.md §8): single text webhook, no secret.
func TestHandlePost_SingleTextWebhook_ProcessesOnce(t *testing.T) {
	var calls int
	registry := NewRegistry(map[domain.Capability]ports.Handler{
		domain.CapabilityInboundMessages: countingHandler(&calls),
	})
	parser := new(mockParser)
	event := domain.Event{
		CapabilityID: domain.CapabilityInboundMessages,
		DedupeKey:    "whatsapp:PHONE_ID_001:msg:wamid.fake.text.001",
	}
	parser.On("Parse", mock.Anything).Return([]domain.Event{event}, nil)

	pipeline := newTestPipeline(t, dedupe.NewMemoryStore(), parser, registry, "", "", ports.FailClosed)
	resp := pipeline.HandlePost(context.Background(), &domain.Request{RawBody: []byte(`{}`)})

	assert.Equal(t, 200, resp.Status)
	body, ok := resp.Body.(domain.BatchResponse)
	assert.True(t, ok)
	assert.Equal(t, domain.BatchSummary{Total: 1, Processed: 1, Deduped: 0, Failed: 0}, body.Summary)
	assert.False(t, body.FullyDeduped)
	assert.Equal(t, "whatsapp:PHONE_ID_001:msg:wamid.fake.text.001", body.Results[0].DedupeKey)
	assert.Equal(t, 1, calls)
}

// Scenario 2 (spec.md §8): replaying the exact same request is fully deduped.
func TestHandlePost_DuplicateReplay_IsFullyDeduped(t *testing.T) {
	var calls int
	registry := NewRegistry(map[domain.Capability]ports.Handler{
		domain.CapabilityInboundMessages: countingHandler(&calls),
	})
	event := domain.Event{
		CapabilityID: domain.CapabilityInboundMessages,
		DedupeKey:    "whatsapp:PHONE_ID_001:msg:wamid.fake.text.001",
	}
	parser := new(mockParser)
	parser.On("Parse", mock.Anything).Return([]domain.Event{event}, nil)

	store := dedupe.NewMemoryStore()
	pipeline := newTestPipeline(t, store, parser, registry, "", "", ports.FailClosed)
	req := &domain.Request{RawBody: []byte(`{}`)}

	first := pipeline.HandlePost(context.Background(), req)
	assert.Equal(t, 200, first.Status)

	second := pipeline.HandlePost(context.Background(), req)
	assert.Equal(t, 200, second.Status)
	body, ok := second.Body.(domain.BatchResponse)
	assert.True(t, ok)
	assert.Equal(t, domain.BatchSummary{Total: 1, Processed: 0, Deduped: 1, Failed: 0}, body.Summary)
	assert.True(t, body.FullyDeduped)
	assert.Equal(t, 1, calls, "handler must run exactly once across both requests")
}

// Scenario 3 (spec.md §8): invalid signature is rejected before parsing.
func TestHandlePost_InvalidSignature_Returns401(t *testing.T) {
	registry := NewRegistry(map[domain.Capability]ports.Handler{})
	parser := new(mockParser) // never expected to be called

	pipeline := newTestPipeline(t, dedupe.NewMemoryStore(), parser, registry, "S", "", ports.FailClosed)
	req := &domain.Request{
		RawBody: []byte(`{"hello":"world"}`),
		Headers: map[string][]string{"x-hub-signature-256": {"sha256=0000000000000000000000000000000000000000000000000000000000000000"}},
	}

	resp := pipeline.HandlePost(context.Background(), req)
	assert.Equal(t, 401, resp.Status)
	body, ok := resp.Body.(domain.ErrorResponse)
	assert.True(t, ok)
	assert.False(t, body.OK)
	assert.Equal(t, domain.ErrorCodeUnauthorized, body.Code)
	assert.Equal(t, "Invalid signature", body.Message)
	parser.AssertNotCalled(t, "Parse", mock.Anything)
}

// Scenario 4 (spec.md §8): verification handshake success.
func TestHandleGet_ValidHandshake_ReturnsChallenge(t *testing.T) {
	registry := NewRegistry(map[domain.Capability]ports.Handler{})
	pipeline := newTestPipeline(t, dedupe.NewMemoryStore(), new(mockParser), registry, "", "expected-token", ports.FailClosed)

	resp := pipeline.HandleGet(context.Background(), map[string]string{
		"hub.mode":         "subscribe",
		"hub.verify_token": "expected-token",
		"hub.challenge":    "challenge-token-123",
	})

	assert.Equal(t, 200, resp.Status)
	assert.Equal(t, domain.ContentTypePlain, resp.ContentType)
	assert.Equal(t, "challenge-token-123", resp.Body)
}

// Scenario 5 (spec.md §8): wrong verify token is forbidden.
func TestHandleGet_InvalidVerifyToken_Returns403(t *testing.T) {
	registry := NewRegistry(map[domain.Capability]ports.Handler{})
	pipeline := newTestPipeline(t, dedupe.NewMemoryStore(), new(mockParser), registry, "", "expected-token", ports.FailClosed)

	resp := pipeline.HandleGet(context.Background(), map[string]string{
		"hub.mode":         "subscribe",
		"hub.verify_token": "wrong",
		"hub.challenge":    "challenge-token-123",
	})

	assert.Equal(t, 403, resp.Status)
	body, ok := resp.Body.(domain.ErrorResponse)
	assert.True(t, ok)
	assert.Equal(t, domain.ErrorCodeForbidden, body.Code)
}

// Dedupe store errors fail open: the event is suppressed (classified
// deduped) and the handler never runs (spec.md §4.1, §7).
func TestHandlePost_DedupeStoreError_FailOpen_SuppressesDispatch(t *testing.T) {
	var calls int
	registry := NewRegistry(map[domain.Capability]ports.Handler{
		domain.CapabilityInboundMessages: countingHandler(&calls),
	})
	event := domain.Event{CapabilityID: domain.CapabilityInboundMessages, DedupeKey: "whatsapp:PHONE_ID_001:msg:wamid.fake.text.002"}
	parser := new(mockParser)
	parser.On("Parse", mock.Anything).Return([]domain.Event{event}, nil)

	store := new(mockDedupeStore)
	store.On("CheckAndMark", mock.Anything, event.DedupeKey, time.Minute).Return(false, assert.AnError)

	pipeline := newTestPipeline(t, store, parser, registry, "", "", ports.FailOpen)
	resp := pipeline.HandlePost(context.Background(), &domain.Request{RawBody: []byte(`{}`)})

	assert.Equal(t, 200, resp.Status)
	body, ok := resp.Body.(domain.BatchResponse)
	assert.True(t, ok)
	assert.Equal(t, domain.BatchSummary{Total: 1, Processed: 0, Deduped: 1, Failed: 0}, body.Summary)
	assert.Equal(t, domain.ErrorCodeDedupeErrorBlocked, body.Results[0].ErrorCode)
	assert.Equal(t, 0, calls, "handler must not run when fail-open suppresses the event")
}

// Dedupe store errors fail closed: the event is still dispatched and
// tagged with dedupe_error_allowed on success (spec.md §4.1, §7,
// DESIGN.md's Open Question decision).
func TestHandlePost_DedupeStoreError_FailClosed_StillDispatches(t *testing.T) {
	var calls int
	registry := NewRegistry(map[domain.Capability]ports.Handler{
		domain.CapabilityInboundMessages: countingHandler(&calls),
	})
	event := domain.Event{CapabilityID: domain.CapabilityInboundMessages, DedupeKey: "whatsapp:PHONE_ID_001:msg:wamid.fake.text.003"}
	parser := new(mockParser)
	parser.On("Parse", mock.Anything).Return([]domain.Event{event}, nil)

	store := new(mockDedupeStore)
	store.On("CheckAndMark", mock.Anything, event.DedupeKey, time.Minute).Return(false, assert.AnError)

	pipeline := newTestPipeline(t, store, parser, registry, "", "", ports.FailClosed)
	resp := pipeline.HandlePost(context.Background(), &domain.Request{RawBody: []byte(`{}`)})

	assert.Equal(t, 200, resp.Status)
	body, ok := resp.Body.(domain.BatchResponse)
	assert.True(t, ok)
	assert.Equal(t, domain.BatchSummary{Total: 1, Processed: 1, Deduped: 0, Failed: 0}, body.Summary)
	assert.Equal(t, domain.ErrorCodeDedupeErrorAllowed, body.Results[0].ErrorCode)
	assert.Equal(t, 1, calls, "handler must still run when fail-closed allows the side effect")
}

// An empty parsed batch is a validation failure, not an empty 200
// (spec.md §9 Open Questions).
func TestHandlePost_EmptyBatch_Returns400(t *testing.T) {
	registry := NewRegistry(map[domain.Capability]ports.Handler{})
	parser := new(mockParser)
	parser.On("Parse", mock.Anything).Return([]domain.Event{}, nil)

	pipeline := newTestPipeline(t, dedupe.NewMemoryStore(), parser, registry, "", "", ports.FailClosed)
	resp := pipeline.HandlePost(context.Background(), &domain.Request{RawBody: []byte(`{}`)})

	assert.Equal(t, 400, resp.Status)
	body, ok := resp.Body.(domain.ErrorResponse)
	assert.True(t, ok)
	assert.Equal(t, domain.ErrorCodeWebhookValidationFail, body.Code)
}
