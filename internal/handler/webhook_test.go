package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/thread-engine/internal/middleware"
	"github.com/capitalize-ai/thread-engine/internal/model"
	"github.com/capitalize-ai/thread-engine/internal/transport"
	"github.com/capitalize-ai/thread-engine/pkg/logger"
)

const (
	testAuthToken = "twilio-token"
	testPublicURL = "https://portal.example.com/api/whatsapp"
)

type fakeProcessor struct {
	mu     sync.Mutex
	events []model.InboundEvent
	err    error
}

func (p *fakeProcessor) ProcessInbound(ctx context.Context, event model.InboundEvent) (*model.ProcessResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	if p.err != nil {
		return nil, p.err
	}
	return &model.ProcessResult{ThreadID: "t1", MessageID: "m1"}, nil
}

func (p *fakeProcessor) Events() []model.InboundEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]model.InboundEvent(nil), p.events...)
}

type fakeSender struct {
	mu   sync.Mutex
	sent []string
}

func (s *fakeSender) Send(ctx context.Context, to, body string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, to+"|"+body)
	return "SM1", nil
}

func twilioForm(sid, body string) url.Values {
	return url.Values{
		"From":        {"whatsapp:+50761234567"},
		"To":          {"whatsapp:+50760000000"},
		"Body":        {body},
		"MessageSid":  {sid},
		"ProfileName": {"Ana"},
	}
}

func postForm(h http.HandlerFunc, form url.Values, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/whatsapp", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if signature != "" {
		req.Header.Set("X-Twilio-Signature", signature)
	}
	rec := httptest.NewRecorder()
	h(rec, req)
	return rec
}

func newWebhook(p InboundProcessor, s transport.Sender) *WebhookHandler {
	return NewWebhookHandler(WebhookConfig{
		AuthToken:       testAuthToken,
		PublicURL:       testPublicURL,
		RateLimitedText: "Demasiados mensajes",
	}, p, s, logger.NewNop())
}

func TestWhatsAppAcceptsSignedDelivery(t *testing.T) {
	p := &fakeProcessor{}
	h := newWebhook(p, &fakeSender{})
	form := twilioForm("SM1", "  Hola  ")

	rec := postForm(h.WhatsApp, form, transport.Sign(testAuthToken, testPublicURL, form))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, emptyTwiML, rec.Body.String())
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/xml")

	events := p.Events()
	require.Len(t, events, 1)
	assert.Equal(t, "+50761234567", events[0].FromID)
	assert.Equal(t, "+50760000000", events[0].ToID)
	assert.Equal(t, "Hola", events[0].Body)
	assert.Equal(t, "SM1", events[0].ProviderMessageID)
	assert.Equal(t, "Ana", events[0].DisplayName)
	assert.Equal(t, "whatsapp", events[0].Channel)
}

func TestWhatsAppRejectsBadSignature(t *testing.T) {
	p := &fakeProcessor{}
	h := newWebhook(p, &fakeSender{})

	rec := postForm(h.WhatsApp, twilioForm("SM1", "Hola"), "bm90LXZhbGlk")

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, emptyTwiML, rec.Body.String())
	assert.Empty(t, p.Events())
}

func TestWhatsAppSkipsValidationWithoutToken(t *testing.T) {
	p := &fakeProcessor{}
	h := NewWebhookHandler(WebhookConfig{PublicURL: testPublicURL}, p, nil, logger.NewNop())

	rec := postForm(h.WhatsApp, twilioForm("SM1", "Hola"), "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, p.Events(), 1)
}

func TestWhatsAppIgnoresEmptyBody(t *testing.T) {
	p := &fakeProcessor{}
	h := newWebhook(p, &fakeSender{})
	form := twilioForm("SM1", "   ")

	rec := postForm(h.WhatsApp, form, transport.Sign(testAuthToken, testPublicURL, form))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, p.Events())
}

func TestWhatsAppPipelineErrorStillAcknowledges(t *testing.T) {
	p := &fakeProcessor{err: errors.New("database down")}
	h := newWebhook(p, &fakeSender{})
	form := twilioForm("SM1", "Hola")

	rec := postForm(h.WhatsApp, form, transport.Sign(testAuthToken, testPublicURL, form))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, emptyTwiML, rec.Body.String())
}

func TestWhatsAppSenderRateLimit(t *testing.T) {
	p := &fakeProcessor{}
	s := &fakeSender{}
	h := NewWebhookHandler(WebhookConfig{SkipSignature: true, RateLimitedText: "Demasiados mensajes"}, p, s, logger.NewNop())
	limited := middleware.SenderRateLimit(2, time.Minute, "From", h.RateLimited)(http.HandlerFunc(h.WhatsApp))

	for i := 0; i < 3; i++ {
		rec := postForm(limited.ServeHTTP, twilioForm("SM"+string(rune('a'+i)), "Hola"), "")
		assert.Equal(t, http.StatusOK, rec.Code)
	}

	assert.Len(t, p.Events(), 2)
	require.Len(t, s.sent, 1)
	assert.Equal(t, "+50761234567|Demasiados mensajes", s.sent[0])
}
