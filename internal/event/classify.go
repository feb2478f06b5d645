package event

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Kind is the outcome of classifying an Envelope.
type Kind int

const (
	Malformed Kind = iota
	StatusUpdate
	UserMessage
)

func (k Kind) String() string {
	switch k {
	case StatusUpdate:
		return "status_update"
	case UserMessage:
		return "user_message"
	default:
		return "malformed"
	}
}

// Inbound is an actionable text message from an end user.
type Inbound struct {
	UserID      string
	DisplayName string
	Text        string
	MessageID   string
}

// Classification is the result of Classify. Message is set only for UserMessage.
type Classification struct {
	Kind    Kind
	Message *Inbound
	// Reason explains a Malformed result for logging.
	Reason string
}

func malformed(reason string) Classification {
	return Classification{Kind: Malformed, Reason: reason}
}

// Classify inspects the first entry/change/value of env. A non-empty
// statuses array or object wins over any sibling field.
func Classify(env *Envelope) Classification {
	if env == nil || len(env.Entry) == 0 {
		return malformed("missing entry")
	}
	entry := env.Entry[0]
	if len(entry.Changes) == 0 {
		return malformed("missing changes")
	}
	value := entry.Changes[0].Value
	if value == nil {
		return malformed("missing value")
	}

	if hasStatuses(value.Statuses) {
		return Classification{Kind: StatusUpdate}
	}

	if len(value.Messages) == 0 {
		return malformed("missing messages")
	}
	msg := value.Messages[0]
	if msg.Text == nil || strings.TrimSpace(msg.Text.Body) == "" {
		return malformed("message has no text body")
	}

	var contact Contact
	if len(value.Contacts) > 0 {
		contact = value.Contacts[0]
	}
	userID := msg.From
	if userID == "" {
		userID = contact.WaID
	}
	if userID == "" {
		return malformed("message has no sender")
	}

	in := &Inbound{
		UserID:    userID,
		Text:      msg.Text.Body,
		MessageID: msg.ID,
	}
	if contact.Profile != nil {
		in.DisplayName = contact.Profile.Name
	}
	return Classification{Kind: UserMessage, Message: in}
}

// hasStatuses reports whether raw is a non-empty JSON array or object.
// Scalars never count: the platform only sends statuses as a list.
func hasStatuses(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return false
	}
	switch raw[0] {
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			return false
		}
		return len(items) > 0
	case '{':
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(raw, &fields); err != nil {
			return false
		}
		return len(fields) > 0
	}
	return false
}
