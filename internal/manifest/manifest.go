// Package manifest holds the static connector descriptors the runtime
// reads at boot, per spec.md §3 "Connector Manifest".
package manifest

import "github.com/fortescwb/connectors/internal/core/domain"

// WhatsApp is the static descriptor for the WhatsApp Cloud API
// connector. The runtime reads only ID and Capabilities; the rest is
// informational (spec.md §3).
var WhatsApp = domain.Manifest{
	ConnectorID: "whatsapp",
	Name:        "WhatsApp Cloud API Connector",
	Version:     "1.0.0",
	Platform:    "whatsapp",
	Capabilities: []domain.CapabilityDescriptor{
		{ID: domain.CapabilityInboundMessages, Status: domain.CapabilityStatusActive},
		{ID: domain.CapabilityMessageStatusUpdates, Status: domain.CapabilityStatusActive},
		{ID: domain.CapabilityWebhookVerification, Status: domain.CapabilityStatusActive},
		{ID: domain.CapabilityCommentReplies, Status: domain.CapabilityStatusPlanned},
	},
	WebhookPath: "/webhook",
	HealthPath:  "/health",
	RequiredEnv: []string{"WHATSAPP_VERIFY_TOKEN", "REDIS_URL"},
	OptionalEnv: []string{"WHATSAPP_WEBHOOK_SECRET", "STAGING_OUTBOUND_TOKEN", "GRAPH_ACCESS_TOKEN", "GRAPH_API_VERSION"},
}
