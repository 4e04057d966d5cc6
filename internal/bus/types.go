package bus

// InboundEvent is the payload the WhatsApp gateway publishes onto the
// incoming queue for every received message.
type InboundEvent struct {
	PhoneNumber string      `json:"phone_number"`
	MessageID   string      `json:"message_id"`
	MessageText string      `json:"message_text"`
	IsVoice     bool        `json:"is_voice,omitempty"`
	ContactInfo ContactInfo `json:"contact_info,omitempty"`
}

// ContactInfo is the sender metadata attached to an inbound event.
// Field names match the gateway's JSON casing.
type ContactInfo struct {
	FirstName    string `json:"FirstName,omitempty"`
	FullName     string `json:"FullName,omitempty"`
	BusinessName string `json:"BusinessName,omitempty"`
}

// Valid reports whether the event carries the fields the pipeline requires.
// Events failing this check are acknowledged and dropped (poison-message guard).
func (e InboundEvent) Valid() bool {
	return e.PhoneNumber != "" && e.MessageID != ""
}

// OutboundMessage is the payload published onto the outgoing queue for the
// sender worker to deliver through the gateway.
type OutboundMessage struct {
	PhoneNumber      string `json:"phone_number"`
	MessageText      string `json:"message_text"`
	ReplyToMessageID string `json:"reply_to_message_id,omitempty"`
	MarkAsRead       bool   `json:"mark_as_read,omitempty"`
	ContactID        string `json:"contact_id,omitempty"`
}
