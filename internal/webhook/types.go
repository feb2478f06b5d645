package webhook

import (
	"context"
	"time"
)

// Replier delivers generated text back to the end user.
type Replier interface {
	Reply(ctx context.Context, to, text string) error
}

// Config holds webhook server configuration.
type Config struct {
	// Listen is the host:port the HTTP server binds.
	Listen string

	// Path serves both the GET handshake and POST event delivery.
	Path string

	// VerifyToken is compared against hub.verify_token during the handshake.
	VerifyToken string

	// AppSecret keys the HMAC-SHA256 signature of every POST body.
	AppSecret string

	// SignatureHeader carries the signature, e.g. "X-Hub-Signature-256".
	SignatureHeader string

	// MaxBodySize is the maximum accepted request body in bytes.
	MaxBodySize int64

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Response is the JSON body of every POST answer.
type Response struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// Default values
const (
	DefaultPath            = "/webhook"
	DefaultSignatureHeader = "X-Hub-Signature-256"
	DefaultMaxBodySize     = 1048576 // 1 MB
)

// Response messages. Auth failures never say why they failed.
const (
	msgInvalidSignature   = "Invalid signature"
	msgNotWhatsAppEvent   = "Not a WhatsApp API event"
	msgInvalidJSON        = "Invalid JSON provided"
	msgPayloadTooLarge    = "payload too large"
	msgInternalError      = "Internal server error"
	msgVerificationFailed = "Verification failed"
	msgMissingParameters  = "Missing parameters"
)
