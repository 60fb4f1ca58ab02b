// Package whatsapp implements the external EventParser collaborator for
// the WhatsApp Cloud API wire format: the entry/changes/value envelope
// seen across the retrieved webhook handlers (entry[].changes[].value
// carrying metadata, messages[], statuses[]). Generalized from the
// teacher's dto.FacebookWebhookRequest (dto/facebook.go), which shaped
// the same kind of page/entry/messaging envelope for Messenger.
package whatsapp

// webhookEnvelope is the top-level POST body WhatsApp Cloud API sends.
type webhookEnvelope struct {
	Object string  `json:"object"`
	Entry  []entry `json:"entry"`
}

type entry struct {
	ID      string   `json:"id"`
	Changes []change `json:"changes"`
}

type change struct {
	Field string `json:"field"`
	Value value  `json:"value"`
}

type value struct {
	MessagingProduct string     `json:"messaging_product"`
	Metadata         metadata   `json:"metadata"`
	Contacts         []contact  `json:"contacts,omitempty"`
	Messages         []message  `json:"messages,omitempty"`
	Statuses         []status   `json:"statuses,omitempty"`
}

type metadata struct {
	DisplayPhoneNumber string `json:"display_phone_number"`
	PhoneNumberID      string `json:"phone_number_id"`
}

type contact struct {
	WaID    string `json:"wa_id"`
	Profile struct {
		Name string `json:"name"`
	} `json:"profile"`
}

// message is one inbound message. Only the fields the parser inspects
// are kept typed; unrecognized message types still dedupe on ID and
// are tagged with CapabilityInboundMessages, with an empty text body.
type message struct {
	ID        string      `json:"id"`
	From      string      `json:"from"`
	Timestamp string      `json:"timestamp"`
	Type      string      `json:"type"`
	Text      *textBody   `json:"text,omitempty"`
	Image     *mediaBody  `json:"image,omitempty"`
	Reaction  *reactBody  `json:"reaction,omitempty"`
}

type textBody struct {
	Body string `json:"body"`
}

type mediaBody struct {
	ID       string `json:"id"`
	MimeType string `json:"mime_type"`
	Caption  string `json:"caption,omitempty"`
}

type reactBody struct {
	MessageID string `json:"message_id"`
	Emoji     string `json:"emoji"`
}

// status is one delivery/read status update.
type status struct {
	ID          string `json:"id"`
	RecipientID string `json:"recipient_id"`
	Status      string `json:"status"`
	Timestamp   string `json:"timestamp"`
}

// InboundMessage is the typed payload the core hands to a capability
// handler for CapabilityInboundMessages, generalized from the
// teacher's FacebookMessaging/GetContent/GetMessageType accessors.
type InboundMessage struct {
	MessageID     string
	PhoneNumberID string
	From          string
	Timestamp     string
	Kind          string
	Text          string
	MediaID       string
	ReactionMID   string
	ReactionEmoji string
}

// StatusUpdate is the typed payload for CapabilityMessageStatusUpdates.
type StatusUpdate struct {
	MessageID     string
	PhoneNumberID string
	RecipientID   string
	Status        string
	Timestamp     string
}
