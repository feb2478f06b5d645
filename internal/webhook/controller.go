package webhook

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/mattjoyce/chatrelay/internal/backend"
	"github.com/mattjoyce/chatrelay/internal/event"
	"github.com/mattjoyce/chatrelay/internal/log"
	"github.com/mattjoyce/chatrelay/internal/thread"
)

// Controller runs the per-request pipeline:
// verify → classify → Resolve → Send → RecordMessage → reply.
type Controller struct {
	config  Config
	store   thread.Store
	backend backend.Dispatcher
	replier Replier
	logger  *slog.Logger
}

// NewController wires the pipeline. replier may be nil.
func NewController(config Config, store thread.Store, disp backend.Dispatcher, replier Replier, logger *slog.Logger) *Controller {
	config.applyDefaults()
	if logger == nil {
		logger = log.WithComponent("webhook")
	}
	return &Controller{
		config:  config,
		store:   store,
		backend: disp,
		replier: replier,
		logger:  logger,
	}
}

// HandleVerify answers the GET subscription handshake.
func (c *Controller) HandleVerify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	mode := q.Get("hub.mode")
	token := q.Get("hub.verify_token")
	challenge := q.Get("hub.challenge")

	if mode == "" || token == "" {
		c.logger.Warn("webhook verification failed: missing parameters")
		respondError(w, http.StatusBadRequest, msgMissingParameters)
		return
	}
	if mode != "subscribe" || subtle.ConstantTimeCompare([]byte(token), []byte(c.config.VerifyToken)) != 1 {
		c.logger.Warn("webhook verification failed: invalid token", "mode", mode)
		respondError(w, http.StatusForbidden, msgVerificationFailed)
		return
	}

	c.logger.Info("webhook verified")
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, challenge)
}

// HandleEvent answers a POST event delivery.
func (c *Controller) HandleEvent(w http.ResponseWriter, r *http.Request) {
	logger := c.logger.With("request_id", middleware.GetReqID(r.Context()))

	body, err := io.ReadAll(io.LimitReader(r.Body, c.config.MaxBodySize+1))
	if err != nil {
		logger.Error("failed to read request body", "error", err)
		respondError(w, http.StatusInternalServerError, msgInternalError)
		return
	}
	if int64(len(body)) > c.config.MaxBodySize {
		respondError(w, http.StatusRequestEntityTooLarge, msgPayloadTooLarge)
		return
	}

	// Rejected:auth. Nothing below runs for unsigned traffic.
	if !Verify(body, r.Header.Get(c.config.SignatureHeader), []byte(c.config.AppSecret)) {
		logger.Warn("webhook signature verification failed", "header", c.config.SignatureHeader)
		respondError(w, http.StatusForbidden, msgInvalidSignature)
		return
	}

	env, err := event.Parse(body)
	if err != nil {
		logger.Warn("failed to decode event", "error", err)
		respondError(w, http.StatusBadRequest, msgInvalidJSON)
		return
	}

	cls := event.Classify(env)
	switch cls.Kind {
	case event.StatusUpdate:
		logger.Debug("status update acknowledged")
		respondOK(w)
		return
	case event.Malformed:
		logger.Warn("received an invalid WhatsApp API event", "reason", cls.Reason)
		respondError(w, http.StatusNotFound, msgNotWhatsAppEvent)
		return
	}

	if err := c.relay(r.Context(), logger, cls.Message); err != nil {
		var se *thread.StorageError
		var be *backend.Error
		switch {
		case errors.As(err, &se):
			logger.Error("thread store failed", "op", se.Op, "error", err)
		case errors.As(err, &be):
			logger.Error("backend call failed", "backend", be.Backend, "kind", be.Kind.String(), "status", be.StatusCode, "error", err)
		default:
			logger.Error("message relay failed", "error", err)
		}
		respondError(w, http.StatusInternalServerError, msgInternalError)
		return
	}
	respondOK(w)
}

// relay dispatches one user message. The thread is only updated after the
// backend answered.
func (c *Controller) relay(ctx context.Context, logger *slog.Logger, msg *event.Inbound) error {
	logger = log.WithUser(logger, msg.UserID)

	threadID, err := c.store.Resolve(ctx, msg.UserID)
	if err != nil {
		return err
	}

	res, err := c.backend.Send(ctx, backend.Request{
		ThreadID: threadID,
		UserName: msg.DisplayName,
		Prompt:   msg.Text,
	})
	if err != nil {
		return err
	}

	if err := c.store.RecordMessage(ctx, msg.UserID, msg.Text); err != nil {
		return err
	}
	logger.Info("message relayed",
		"thread_id", threadID,
		"backend", c.backend.Name(),
		"message_id", msg.MessageID,
		"reply_chars", len(res.Text),
	)

	if c.replier == nil {
		return nil
	}
	// The turn is recorded; a failed delivery must not trigger redelivery.
	if err := c.replier.Reply(ctx, msg.UserID, res.Text); err != nil {
		logger.Warn("failed to deliver reply", "thread_id", threadID, "error", err)
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Debug("failed to write response", "error", err)
	}
}

func respondOK(w http.ResponseWriter) {
	respondJSON(w, http.StatusOK, Response{Status: "ok"})
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, Response{Status: "error", Message: message})
}
