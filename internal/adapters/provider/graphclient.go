// Package provider implements the Sender port: the Graph-API-style
// outbound HTTP client, generalized from the teacher's
// gateway.FacebookClient (facebook_client.go) to the discriminated
// domain.Intent payload union instead of a single text-message struct.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/fortescwb/connectors/internal/core/domain"
	"github.com/fortescwb/connectors/internal/core/ports"
)

// Sentinel errors for specific Graph API failures, mirroring the
// teacher's ErrTokenExpired / ErrRateLimited / ErrPermissionDenied.
var (
	ErrTokenExpired     = errors.New("provider access token expired or invalid")
	ErrRateLimited      = errors.New("provider rate limit exceeded")
	ErrPermissionDenied = errors.New("provider permission denied")
)

// AccessTokenSource resolves the per-tenant access token used to
// authenticate outbound Graph API calls. Kept as a function type rather
// than a token field because token storage (e.g. the teacher's pages table)
// is deployment glue, out of this core's scope.
type AccessTokenSource func(tenantID string) (string, error)

// GraphClient sends outbound intents to a Meta-style Graph API
// endpoint with a bounded retry policy: up to maxRetries attempts in
// total, with a linear backoff of 500ms times the attempt number and no
// jitter. Every error is retried except the three sentinel errors
// below; rate-limit responses (ErrRateLimited) are returned at once,
// not retried.
type GraphClient struct {
	httpClient *http.Client
	baseURL    string
	apiVersion string
	tokens     AccessTokenSource
	maxRetries int
}

// NewGraphClient builds a provider sender. baseURL defaults to
// https://graph.facebook.com when empty.
func NewGraphClient(baseURL, apiVersion string, tokens AccessTokenSource) *GraphClient {
	if baseURL == "" {
		baseURL = "https://graph.facebook.com"
	}
	if apiVersion == "" {
		apiVersion = "v19.0"
	}
	return &GraphClient{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		baseURL:    baseURL,
		apiVersion: apiVersion,
		tokens:     tokens,
		maxRetries: 3,
	}
}

// sendEnvelope is the Facebook/WhatsApp Send API payload shape,
// generalized to carry the intent id as client_msg_id so the provider
// can collapse duplicates even under a fail-closed dedupe error
// (spec.md §4.5 "Idempotency at the provider").
type sendEnvelope struct {
	MessagingProduct string `json:"messaging_product,omitempty"`
	Recipient        struct {
		ID string `json:"id"`
	} `json:"recipient"`
	Type         string          `json:"type,omitempty"`
	Text         *textPayload    `json:"text,omitempty"`
	Image        *mediaPayload   `json:"image,omitempty"`
	Reaction     *reactionPayload `json:"reaction,omitempty"`
	Status       string          `json:"status,omitempty"`
	MessageID    string          `json:"message_id,omitempty"`
	MessagingType string         `json:"messaging_type,omitempty"`
	ClientMsgID  string          `json:"client_msg_id,omitempty"`
}

type textPayload struct {
	Body string `json:"body"`
}

type mediaPayload struct {
	ID  string `json:"id,omitempty"`
	URL string `json:"link,omitempty"`
}

type reactionPayload struct {
	MessageID string `json:"message_id"`
	Emoji     string `json:"emoji"`
}

type providerError struct {
	Message      string `json:"message"`
	Type         string `json:"type"`
	Code         int    `json:"code"`
	ErrorSubcode int    `json:"error_subcode"`
	FBTraceID    string `json:"fbtrace_id"`
}

// Send performs the outbound delivery with bounded retries. It never
// retries ErrTokenExpired, ErrPermissionDenied, or ErrRateLimited —
// those require operator or upstream intervention, not a resend.
// The intent id travels in the envelope as client_msg_id (spec.md
// §4.5 "Idempotency at the provider").
func (c *GraphClient) Send(ctx context.Context, intent domain.Intent, logger ports.Logger) (int, string, error) {
	token, err := c.tokens(intent.TenantID)
	if err != nil {
		return 0, "", fmt.Errorf("resolve access token: %w", err)
	}

	envelope, err := buildEnvelope(intent)
	if err != nil {
		return 0, "", err
	}

	var lastErr error
	var lastStatus int
	var lastBody string
	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		status, body, err := c.sendAttempt(ctx, intent, envelope, token)
		lastStatus, lastBody = status, body
		if err == nil {
			return status, body, nil
		}
		lastErr = err

		if errors.Is(err, ErrTokenExpired) || errors.Is(err, ErrPermissionDenied) || errors.Is(err, ErrRateLimited) {
			return status, body, err
		}

		if attempt < c.maxRetries {
			backoff := time.Duration(attempt) * 500 * time.Millisecond
			logger.Warn("Retrying provider send", "attempt", attempt, "maxRetries", c.maxRetries, "backoffMs", backoff.Milliseconds())
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return lastStatus, lastBody, ctx.Err()
			}
		}
	}
	return lastStatus, lastBody, fmt.Errorf("provider send failed after %d attempts: %w", c.maxRetries, lastErr)
}

func buildEnvelope(intent domain.Intent) (sendEnvelope, error) {
	env := sendEnvelope{
		MessagingProduct: "whatsapp",
		MessagingType:    "RESPONSE",
		ClientMsgID:      intent.IntentID,
	}
	env.Recipient.ID = intent.Recipient

	switch intent.Payload.Kind {
	case domain.IntentPayloadText:
		env.Type = "text"
		env.Text = &textPayload{Body: intent.Payload.Text}
	case domain.IntentPayloadMedia:
		env.Type = "image"
		env.Image = &mediaPayload{ID: intent.Payload.MediaID, URL: intent.Payload.MediaURL}
	case domain.IntentPayloadReaction:
		env.Type = "reaction"
		env.Reaction = &reactionPayload{MessageID: intent.Payload.ReactionMID, Emoji: intent.Payload.ReactionEmoji}
	case domain.IntentPayloadMarkRead:
		env.Status = "read"
		env.MessageID = intent.Payload.MarkReadMID
	case domain.IntentPayloadTemplate:
		env.Type = "template"
	default:
		return sendEnvelope{}, fmt.Errorf("unsupported intent payload kind %q", intent.Payload.Kind)
	}
	return env, nil
}

func (c *GraphClient) sendAttempt(ctx context.Context, intent domain.Intent, envelope sendEnvelope, token string) (int, string, error) {
	url := fmt.Sprintf("%s/%s/me/messages", c.baseURL, c.apiVersion)

	payload, err := json.Marshal(envelope)
	if err != nil {
		return 0, "", fmt.Errorf("marshal send envelope: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return 0, "", fmt.Errorf("build provider request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, "", fmt.Errorf("provider request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, "", fmt.Errorf("read provider response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var envelopeErr struct {
			Error providerError `json:"error"`
		}
		if jsonErr := json.Unmarshal(body, &envelopeErr); jsonErr != nil {
			return resp.StatusCode, string(body), fmt.Errorf("provider error %d", resp.StatusCode)
		}
		switch envelopeErr.Error.Code {
		case 190:
			return resp.StatusCode, string(body), ErrTokenExpired
		case 4, 17, 32, 613:
			return resp.StatusCode, string(body), ErrRateLimited
		case 10, 200, 299:
			return resp.StatusCode, string(body), ErrPermissionDenied
		default:
			return resp.StatusCode, string(body), fmt.Errorf("provider error (code %d): %s", envelopeErr.Error.Code, envelopeErr.Error.Message)
		}
	}

	return resp.StatusCode, string(body), nil
}

var _ ports.Sender = (*GraphClient)(nil)
