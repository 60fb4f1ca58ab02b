package whatsapp

import (
	"encoding/json"
	"fmt"

	"github.com/fortescwb/connectors/internal/core/domain"
	"github.com/fortescwb/connectors/internal/core/ports"
)

// Platform is the tag embedded in every dedupe key this parser mints,
// per the grammar in spec.md §6.
const Platform = "whatsapp"

// Parser implements ports.EventParser for the WhatsApp Cloud API wire
// format. It is stateless and safe for concurrent use across requests,
// mirroring the teacher's FacebookMessaging accessors (dto/facebook.go)
// generalized to WhatsApp's entry/changes/value envelope and its two
// event families (messages, statuses).
type Parser struct{}

// NewParser builds a stateless WhatsApp event parser.
func NewParser() *Parser {
	return &Parser{}
}

// Parse turns one raw webhook POST body into a batch of domain.Event.
// A structurally invalid body is a parse error (→ 400
// WEBHOOK_VALIDATION_FAILED at the pipeline layer); a well-formed body
// with zero messages/statuses yields an empty batch, which the pipeline
// also treats as a validation failure rather than a silent no-op.
func (p *Parser) Parse(req *domain.Request) ([]domain.Event, error) {
	var env webhookEnvelope
	if err := json.Unmarshal(req.RawBody, &env); err != nil {
		return nil, fmt.Errorf("decode whatsapp webhook body: %w", err)
	}

	var events []domain.Event
	for _, e := range env.Entry {
		for _, c := range e.Changes {
			for _, m := range c.Value.Messages {
				events = append(events, messageEvent(c.Value.Metadata, m))
			}
			for _, s := range c.Value.Statuses {
				events = append(events, statusEvent(c.Value.Metadata, s))
			}
		}
	}
	return events, nil
}

func messageEvent(md metadata, m message) domain.Event {
	payload := InboundMessage{
		MessageID:     m.ID,
		PhoneNumberID: md.PhoneNumberID,
		From:          m.From,
		Timestamp:     m.Timestamp,
		Kind:          m.Type,
	}
	switch {
	case m.Text != nil:
		payload.Text = m.Text.Body
	case m.Image != nil:
		payload.MediaID = m.Image.ID
	case m.Reaction != nil:
		payload.ReactionMID = m.Reaction.MessageID
		payload.ReactionEmoji = m.Reaction.Emoji
	}

	return domain.Event{
		CapabilityID: domain.CapabilityInboundMessages,
		DedupeKey:    fmt.Sprintf("%s:%s:msg:%s", Platform, md.PhoneNumberID, m.ID),
		Payload:      payload,
	}
}

func statusEvent(md metadata, s status) domain.Event {
	payload := StatusUpdate{
		MessageID:     s.ID,
		PhoneNumberID: md.PhoneNumberID,
		RecipientID:   s.RecipientID,
		Status:        s.Status,
		Timestamp:     s.Timestamp,
	}
	return domain.Event{
		CapabilityID: domain.CapabilityMessageStatusUpdates,
		DedupeKey:    fmt.Sprintf("%s:%s:status:%s:%s", Platform, md.PhoneNumberID, s.ID, s.Status),
		Payload:      payload,
	}
}

var _ ports.EventParser = (*Parser)(nil)
