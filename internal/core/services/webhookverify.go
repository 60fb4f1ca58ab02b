package services

import (
	"github.com/fortescwb/connectors/internal/core/domain"
	"github.com/fortescwb/connectors/internal/core/ports"
)

// SubscriptionVerifier answers the platform's GET-time handshake,
// generalized from the teacher's WebhookHandler.HandleFacebookVerify
// (webhook.go): mode must be "subscribe" and the token must match
// exactly.
type SubscriptionVerifier struct {
	expectedToken string
}

// NewSubscriptionVerifier builds a verifier for the configured
// expected token. An empty token means the connector was never
// configured for handshake and every request yields
// SERVICE_UNAVAILABLE.
func NewSubscriptionVerifier(expectedToken string) *SubscriptionVerifier {
	return &SubscriptionVerifier{expectedToken: expectedToken}
}

func (v *SubscriptionVerifier) Verify(query map[string]string) ports.WebhookVerdict {
	if v.expectedToken == "" {
		return ports.WebhookVerdict{OK: false, Code: domain.ErrorCodeServiceUnavailable}
	}

	mode := query["hub.mode"]
	token := query["hub.verify_token"]
	challenge := query["hub.challenge"]

	if mode == "subscribe" && token == v.expectedToken {
		return ports.WebhookVerdict{OK: true, Challenge: challenge}
	}
	return ports.WebhookVerdict{OK: false, Code: domain.ErrorCodeForbidden}
}

var _ ports.WebhookVerifier = (*SubscriptionVerifier)(nil)
