// Package event decodes WhatsApp Cloud API webhook payloads and classifies them.
//
// Only the first entry/change/value of a payload is inspected. Absent
// structure is never an error here: it classifies as Malformed.
package event

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Envelope is the top-level webhook payload.
type Envelope struct {
	Object string  `json:"object"`
	Entry  []Entry `json:"entry"`
}

type Entry struct {
	ID      string   `json:"id"`
	Changes []Change `json:"changes"`
}

type Change struct {
	Field string `json:"field"`
	Value *Value `json:"value"`
}

// Value carries either delivery receipts (Statuses) or inbound messages.
type Value struct {
	MessagingProduct string          `json:"messaging_product"`
	Metadata         *Metadata       `json:"metadata,omitempty"`
	Contacts         []Contact       `json:"contacts,omitempty"`
	Messages         []Message       `json:"messages,omitempty"`
	Statuses         json.RawMessage `json:"statuses,omitempty"`
}

type Metadata struct {
	DisplayPhoneNumber string `json:"display_phone_number"`
	PhoneNumberID      string `json:"phone_number_id"`
}

type Contact struct {
	WaID    string   `json:"wa_id"`
	Profile *Profile `json:"profile,omitempty"`
}

type Profile struct {
	Name string `json:"name"`
}

type Message struct {
	From      string `json:"from"`
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Text      *Text  `json:"text,omitempty"`
}

type Text struct {
	Body string `json:"body"`
}

// ParseError reports a body that is not valid JSON.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid event json: %v", e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Parse decodes raw into an Envelope. Only syntactically invalid JSON is an
// error; fields of the wrong type are left zero and Classify reports Malformed.
func Parse(raw []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		var typeErr *json.UnmarshalTypeError
		if !errors.As(err, &typeErr) {
			return nil, &ParseError{Err: err}
		}
	}
	return &env, nil
}
