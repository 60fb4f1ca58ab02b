package domain

import "time"

// IntentPayloadKind discriminates the outbound payload union from
// spec.md §3 ("text, media-with-id-or-url, template, reaction,
// mark-read").
type IntentPayloadKind string

const (
	IntentPayloadText      IntentPayloadKind = "text"
	IntentPayloadMedia     IntentPayloadKind = "media"
	IntentPayloadTemplate  IntentPayloadKind = "template"
	IntentPayloadReaction  IntentPayloadKind = "reaction"
	IntentPayloadMarkRead  IntentPayloadKind = "mark_read"
)

// IntentPayload is the discriminated outbound payload. Only the field
// group that matches Kind is populated; the other fields stay empty.
type IntentPayload struct {
	Kind IntentPayloadKind

	Text string

	MediaID  string
	MediaURL string

	TemplateName string
	TemplateArgs map[string]string

	ReactionEmoji string
	ReactionMID   string

	MarkReadMID string
}

// Intent is a single outbound message request. DedupeKey deliberately
// omits the recipient (spec.md §3, §6 dedupe key grammar).
type Intent struct {
	IntentID      string
	TenantID      string
	ProviderTag   string
	Recipient     string
	Payload       IntentPayload
	DedupeKey     string
	CorrelationID string
	CreatedAt     time.Time
}

// IntentStatus is the closed vocabulary of outbound per-intent
// outcomes.
type IntentStatus string

const (
	IntentStatusSent    IntentStatus = "sent"
	IntentStatusDeduped IntentStatus = "deduped"
	IntentStatusFailed  IntentStatus = "failed"
)

// Outbound-specific error codes layered on top of the shared ErrorCode
// vocabulary (spec.md §4.5).
const (
	ErrorCodeDedupeErrorBlocked ErrorCode = "dedupe_error_blocked"
	ErrorCodeDedupeErrorAllowed ErrorCode = "dedupe_error_allowed"
	ErrorCodeSendFailed         ErrorCode = "send_failed"
)

// IntentResult is the per-intent outcome in an outbound batch
// response.
type IntentResult struct {
	IntentID       string       `json:"intentId"`
	Status         IntentStatus `json:"status"`
	ErrorCode      ErrorCode    `json:"errorCode,omitempty"`
	LatencyMS      int64        `json:"latencyMs"`
	UpstreamStatus int          `json:"upstreamStatus,omitempty"`
	ProviderResp   string       `json:"providerResponse,omitempty"`
}

// OutboundSummary is the four-total summary of an outbound batch.
type OutboundSummary struct {
	Total   int `json:"total"`
	Sent    int `json:"sent"`
	Deduped int `json:"deduped"`
	Failed  int `json:"failed"`
}

// OutboundBatchResponse is the result of processing a slice of
// outbound intents.
type OutboundBatchResponse struct {
	OK      bool           `json:"ok"`
	Summary OutboundSummary `json:"summary"`
	Results []IntentResult `json:"results"`
}
