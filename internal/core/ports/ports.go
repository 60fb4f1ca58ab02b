// Package ports defines the interfaces the connector runtime consumes
// from its collaborators. Following Hexagonal Architecture: the core
// defines contracts, adapters implement them.
package ports

import (
	"context"
	"time"

	"github.com/fortescwb/connectors/internal/core/domain"
)

// FailMode routes dedupe-store operational errors to either
// "duplicate" (closed side effect) or "not duplicate" (allow side
// effect), per spec.md §4.1.
type FailMode string

const (
	FailOpen   FailMode = "open"
	FailClosed FailMode = "closed"
)

// DedupeStore is the single atomic check-and-mark primitive shared by
// inbound and outbound processing. checkAndMark(key, ttl) returns true
// iff key was already marked within the active TTL window.
type DedupeStore interface {
	CheckAndMark(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// Ping validates the store is reachable within the given timeout,
	// used for boot-time fail-closed validation (spec.md §5).
	Ping(ctx context.Context) error
}

// SignatureVerdict is the result of one signature verification call.
type SignatureVerdict struct {
	Valid bool
	Code  domain.ErrorCode
}

// SignatureVerifier verifies a request body was signed by a party
// holding a shared secret (spec.md §4.2).
type SignatureVerifier interface {
	Verify(req *domain.Request) SignatureVerdict
	Enabled() bool
}

// WebhookVerdict is the result of a GET-time subscription handshake.
type WebhookVerdict struct {
	OK        bool
	Challenge string
	Code      domain.ErrorCode
}

// WebhookVerifier answers the platform's subscription handshake
// (spec.md §4.3).
type WebhookVerifier interface {
	Verify(query map[string]string) WebhookVerdict
}

// EventParser is the external collaborator that turns a raw request
// body into a batch of typed, capability-tagged events. Parser errors
// and empty batches are both validation failures per spec.md §4.4(4).
type EventParser interface {
	Parse(req *domain.Request) ([]domain.Event, error)
}

// HandlerContext carries the read-only values a capability handler may
// observe. Handlers never mutate shared runtime state (spec.md §3
// Ownership).
type HandlerContext struct {
	CorrelationID string
	Connector     string
	TenantID      string
	Deduped       bool
	DedupeKey     string
	CapabilityID  domain.Capability
	Logger        Logger
}

// Handler processes one parsed event's payload.
type Handler func(ctx context.Context, payload any, hctx HandlerContext) error

// CapabilityRegistry maps capability identifiers to handlers. Immutable
// after runtime construction (spec.md §5).
type CapabilityRegistry interface {
	Lookup(id domain.Capability) (Handler, bool)
}

// RateLimitVerdict is the result of one consume() call.
type RateLimitVerdict struct {
	Allowed      bool
	RetryAfterMS int64
}

// RateLimiter is an optional pluggable gate at request granularity
// (spec.md §4.6). A nil RateLimiter means always-allow.
type RateLimiter interface {
	Consume(ctx context.Context, key string, cost int) (RateLimitVerdict, error)
}

// Logger is the scoped structured logger contract threaded through the
// pipeline. With returns a new child logger carrying the merged
// attributes; it never mutates the receiver (spec.md §9).
type Logger interface {
	With(args ...any) Logger
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Sender delivers one outbound intent's side effect through a provider
// API. It owns its own retry policy (spec.md §4.5).
type Sender interface {
	Send(ctx context.Context, intent domain.Intent, logger Logger) (upstreamStatus int, providerResponse string, err error)
}

// Metrics is the closed set of instruments the runtime emits. Labels
// are passed as explicit parameters, never as a free-form map, per
// spec.md §9 ("closed labeled structs for metric labels").
type Metrics interface {
	WebhookReceived(capability domain.Capability)
	EventDeduped(capability domain.Capability)
	EventProcessed(capability domain.Capability)
	EventFailed(capability domain.Capability, code domain.ErrorCode)
	HandlerLatency(capability domain.Capability, ms float64)
	BatchSummary(summary domain.BatchSummary)
	OutboundSent(providerTag string)
	OutboundDeduped(providerTag string)
	OutboundFailed(providerTag string, code domain.ErrorCode)
	OutboundLatency(providerTag string, ms float64)
}
