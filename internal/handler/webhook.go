package handler

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/capitalize-ai/thread-engine/internal/model"
	"github.com/capitalize-ai/thread-engine/internal/transport"
	"github.com/capitalize-ai/thread-engine/pkg/logger"
	"github.com/capitalize-ai/thread-engine/pkg/metrics"
)

// InboundProcessor runs an inbound event through the thread pipeline.
type InboundProcessor interface {
	ProcessInbound(ctx context.Context, event model.InboundEvent) (*model.ProcessResult, error)
}

// WebhookConfig configures Twilio request validation.
type WebhookConfig struct {
	AuthToken     string
	PublicURL     string
	SkipSignature bool
	// RateLimitedText is sent to senders over the per-sender limit.
	RateLimitedText string
}

// WebhookHandler receives Twilio WhatsApp deliveries.
type WebhookHandler struct {
	cfg       WebhookConfig
	processor InboundProcessor
	sender    transport.Sender
	logger    *logger.Logger
}

// NewWebhookHandler creates a new webhook handler.
func NewWebhookHandler(cfg WebhookConfig, processor InboundProcessor, sender transport.Sender, log *logger.Logger) *WebhookHandler {
	if cfg.AuthToken == "" || cfg.SkipSignature {
		log.Warn("twilio signature validation disabled")
	}
	return &WebhookHandler{
		cfg:       cfg,
		processor: processor,
		sender:    sender,
		logger:    log,
	}
}

// WhatsApp handles POST /webhooks/whatsapp. Twilio always gets a TwiML
// answer so that pipeline failures do not turn into retry storms.
func (h *WebhookHandler) WhatsApp(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeTwiML(w, http.StatusBadRequest)
		return
	}

	if !h.verified(r) {
		h.logger.Warn("invalid twilio signature", zap.String("remote_addr", r.RemoteAddr))
		writeTwiML(w, http.StatusForbidden)
		return
	}

	event := model.InboundEvent{
		FromID:            transport.StripPrefix(r.PostForm.Get("From")),
		ToID:              transport.StripPrefix(r.PostForm.Get("To")),
		Body:              strings.TrimSpace(r.PostForm.Get("Body")),
		ProviderMessageID: r.PostForm.Get("MessageSid"),
		DisplayName:       r.PostForm.Get("ProfileName"),
		Channel:           "whatsapp",
	}
	if event.FromID == "" || event.Body == "" {
		metrics.InboundMessagesTotal.WithLabelValues(event.Channel, "ignored").Inc()
		writeTwiML(w, http.StatusOK)
		return
	}

	if _, err := h.processor.ProcessInbound(r.Context(), event); err != nil {
		h.logger.Error("failed to process inbound message",
			zap.String("provider_message_id", event.ProviderMessageID),
			zap.Error(err),
		)
	}
	writeTwiML(w, http.StatusOK)
}

// RateLimited answers deliveries from a sender over the limit. The sender
// gets a fixed notice and the pipeline is not invoked.
func (h *WebhookHandler) RateLimited(w http.ResponseWriter, r *http.Request) {
	from := transport.StripPrefix(r.PostForm.Get("From"))
	metrics.InboundMessagesTotal.WithLabelValues("whatsapp", "rate_limited").Inc()
	h.logger.Warn("sender rate limited", zap.String("from", from))

	if from != "" && h.sender != nil && h.cfg.RateLimitedText != "" {
		if _, err := h.sender.Send(r.Context(), from, h.cfg.RateLimitedText); err != nil {
			h.logger.Warn("failed to send rate limit notice", zap.String("from", from), zap.Error(err))
		}
	}
	writeTwiML(w, http.StatusOK)
}

func (h *WebhookHandler) verified(r *http.Request) bool {
	if h.cfg.SkipSignature || h.cfg.AuthToken == "" {
		return true
	}
	return transport.ValidateSignature(h.cfg.AuthToken, h.cfg.PublicURL, r.PostForm, r.Header.Get("X-Twilio-Signature"))
}
