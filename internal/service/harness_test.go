package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/capitalize-ai/thread-engine/internal/classifier"
	"github.com/capitalize-ai/thread-engine/internal/email"
	"github.com/capitalize-ai/thread-engine/internal/llm"
	"github.com/capitalize-ai/thread-engine/internal/llm/llmtest"
	"github.com/capitalize-ai/thread-engine/internal/model"
	"github.com/capitalize-ai/thread-engine/internal/notify"
	"github.com/capitalize-ai/thread-engine/internal/prompt"
	"github.com/capitalize-ai/thread-engine/internal/responder"
	"github.com/capitalize-ai/thread-engine/internal/store"
	"github.com/capitalize-ai/thread-engine/pkg/logger"
)

const (
	leadVerdict = `{"category":"lead","severity":"low","intent":"cotizacion_auto","tags":["auto"],
		"executive_summary":["Cliente quiere cotizar auto"],"suggested_next_step":"Enviar cotización"}`
	urgentVerdict = `{"category":"urgent","severity":"high","intent":"queja_legal","tags":["reclamo","legal"],
		"executive_summary":["Cliente amenaza con denuncia","Reclamo sin respuesta"],"suggested_next_step":"Llamar hoy"}`
	simpleVerdict = `{"category":"simple","severity":"low","intent":"saludo","tags":[],"executive_summary":[],"suggested_next_step":"Ninguno"}`

	replyText      = "Con gusto le ayudo con su cotización."
	customerNumber = "whatsapp:+50761234567"
	businessNumber = "whatsapp:+50760000000"
)

type recordingMailer struct {
	mu   sync.Mutex
	sent []email.Email
	fail bool
}

func (m *recordingMailer) Send(ctx context.Context, msg email.Email) email.Result {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, msg)
	if m.fail {
		return email.Result{Attempts: 3, Error: "status 503"}
	}
	return email.Result{Success: true, Attempts: 1, DeliveryID: "mail-1"}
}

func (m *recordingMailer) Sent() []email.Email {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]email.Email(nil), m.sent...)
}

type sentMessage struct {
	To   string
	Body string
}

type recordingSender struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error
}

func (s *recordingSender) Send(ctx context.Context, to, body string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	s.sent = append(s.sent, sentMessage{To: to, Body: body})
	return "SM123", nil
}

func (s *recordingSender) Sent() []sentMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sentMessage(nil), s.sent...)
}

type failingNotifier struct{}

func (failingNotifier) Notify(ctx context.Context, n *model.Notification) error {
	return errors.New("notifications table unavailable")
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []model.ThreadEvent
}

func (p *recordingPublisher) PublishEvent(ctx context.Context, event *model.ThreadEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, *event)
	return nil
}

type harness struct {
	store     *store.MemoryStorage
	llm       *llmtest.Client
	mailer    *recordingMailer
	sender    *recordingSender
	publisher *recordingPublisher
	catalog   *prompt.Catalog

	threads    *ThreadService
	ledger     *MessageLedger
	audit      *AuditLog
	escalation *EscalationService
	assignment *AssignmentService
	engine     *Engine

	mu      sync.Mutex
	verdict string
}

func newHarness(t *testing.T, verdict string) *harness {
	t.Helper()

	h := &harness{
		store:     store.NewMemoryStorage(),
		mailer:    &recordingMailer{},
		sender:    &recordingSender{},
		publisher: &recordingPublisher{},
		catalog:   prompt.Default(),
		verdict:   verdict,
	}
	h.llm = &llmtest.Client{
		Tokens: 10,
		Respond: func(req *llm.CompletionRequest) (string, error) {
			if isClassifierRequest(*req) {
				h.mu.Lock()
				defer h.mu.Unlock()
				return h.verdict, nil
			}
			return replyText, nil
		},
	}

	log := logger.NewNop()
	h.audit = NewAuditLog(h.store, log, h.publisher)
	h.threads = NewThreadService(h.store, h.store, h.audit, log)
	h.ledger = NewMessageLedger(h.store, log)
	notifier := notify.NewStoreNotifier(h.store)
	h.escalation = NewEscalationService(EscalationConfig{
		Recipient:     "contacto@example.com",
		PortalBaseURL: "https://portal.example.com",
	}, h.mailer, notifier, h.audit, log)
	h.assignment = NewAssignmentService(h.store, h.ledger, h.audit, notifier, h.mailer, h.catalog, "https://portal.example.com", log)

	cls := classifier.New(h.llm, h.catalog, classifier.Config{Timeout: time.Second}, log)
	gen := responder.New(h.llm, h.catalog, responder.Config{Timeout: time.Second}, log)
	auto := NewAutoResponder(h.store, h.ledger, gen, h.sender, log)
	h.engine = NewEngine(h.threads, h.ledger, h.audit, cls, h.escalation, auto, log)
	return h
}

func (h *harness) setVerdict(v string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.verdict = v
}

func inbound(body, sid string) model.InboundEvent {
	return model.InboundEvent{
		FromID:            customerNumber,
		ToID:              businessNumber,
		Body:              body,
		ProviderMessageID: sid,
		DisplayName:       "Ana Pérez",
	}
}

func (h *harness) messages(t *testing.T, threadID string) []model.Message {
	t.Helper()
	msgs, err := h.store.RecentMessages(context.Background(), threadID, 0)
	if err != nil {
		t.Fatalf("read messages: %v", err)
	}
	return msgs
}

func countGenerated(msgs []model.Message) int {
	n := 0
	for _, m := range msgs {
		if m.AIGenerated {
			n++
		}
	}
	return n
}

func eventTypes(events []model.ThreadEvent) []model.EventType {
	out := make([]model.EventType, 0, len(events))
	for _, e := range events {
		out = append(out, e.Type)
	}
	return out
}

func isClassifierRequest(req llm.CompletionRequest) bool {
	return req.Purpose == llm.PurposeClassify
}
