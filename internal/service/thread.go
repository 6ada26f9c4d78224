package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"go.uber.org/zap"

	"github.com/capitalize-ai/thread-engine/internal/model"
	"github.com/capitalize-ai/thread-engine/internal/store"
	"github.com/capitalize-ai/thread-engine/pkg/logger"
	"github.com/capitalize-ai/thread-engine/pkg/metrics"
)

// customerMatchDigits is how many trailing digits identify a known customer.
const customerMatchDigits = 8

// ThreadService resolves, reads and mutates threads.
type ThreadService struct {
	threads   store.ThreadStore
	customers store.CustomerStore
	audit     *AuditLog
	logger    *logger.Logger
	now       func() time.Time
}

// NewThreadService creates a new thread service.
func NewThreadService(threads store.ThreadStore, customers store.CustomerStore, audit *AuditLog, log *logger.Logger) *ThreadService {
	return &ThreadService{
		threads:   threads,
		customers: customers,
		audit:     audit,
		logger:    log,
		now:       utcNow,
	}
}

// Resolve returns the open thread for a sender, creating one when every
// earlier thread is closed or none exists.
func (s *ThreadService) Resolve(ctx context.Context, channel, externalKey, displayName string) (*model.Thread, error) {
	existing, err := s.threads.FindOpenThread(ctx, externalKey)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("failed to find open thread: %w", err)
	}

	now := s.now()
	thread := &model.Thread{
		ID:            newID(),
		Channel:       channel,
		ExternalKey:   externalKey,
		DisplayName:   strPtr(displayName),
		Category:      model.CategorySimple,
		Severity:      model.SeverityLow,
		Tags:          []string{},
		AssignedType:  model.AssigneeAI,
		AIEnabled:     true,
		Status:        model.StatusOpen,
		LastMessageAt: now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	s.enrich(ctx, thread)

	if err := s.threads.CreateThread(ctx, thread); err != nil {
		return nil, fmt.Errorf("failed to create thread: %w", err)
	}

	metrics.ThreadsCreatedTotal.WithLabelValues(channel).Inc()
	s.logger.Info("thread created",
		zap.String("thread_id", thread.ID),
		zap.String("channel", channel),
		zap.Bool("known_customer", thread.CustomerID != nil),
	)
	return thread, nil
}

// enrich links a new thread to a known customer. The transport profile name
// wins over the customer record. Lookup failures only cost the enrichment.
func (s *ThreadService) enrich(ctx context.Context, thread *model.Thread) {
	if s.customers == nil {
		return
	}
	digits := lastDigits(thread.ExternalKey, customerMatchDigits)
	if len(digits) < customerMatchDigits {
		return
	}

	customer, err := s.customers.FindCustomerByPhoneSuffix(ctx, digits)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			s.logger.Warn("customer lookup failed", zap.String("external_key", thread.ExternalKey), zap.Error(err))
		}
		return
	}

	id := customer.ID
	thread.CustomerID = &id
	if thread.DisplayName == nil && customer.Name != "" {
		name := customer.Name
		thread.DisplayName = &name
	}
	thread.Region = customer.Region
}

func lastDigits(s string, n int) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if len(digits) > n {
		return digits[len(digits)-n:]
	}
	return digits
}

// Get retrieves a thread by id.
func (s *ThreadService) Get(ctx context.Context, id string) (*model.Thread, error) {
	thread, err := s.threads.GetThread(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrThreadNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get thread: %w", err)
	}
	return thread, nil
}

// List retrieves threads, most recently active first.
func (s *ThreadService) List(ctx context.Context, filter model.ThreadFilter) ([]model.Thread, error) {
	if filter.Limit <= 0 || filter.Limit > 100 {
		filter.Limit = 100
	}
	threads, err := s.threads.ListThreads(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list threads: %w", err)
	}
	if threads == nil {
		threads = []model.Thread{}
	}
	return threads, nil
}

// Apply persists a classification on a thread and reports whether the
// escalation workflow must run.
func (s *ThreadService) Apply(ctx context.Context, thread *model.Thread, result model.ClassificationResult, body string) (*model.Thread, bool, error) {
	transition := ApplyClassification(*thread, result, body, s.now())

	updated, err := s.threads.ApplyClassification(ctx, thread.ID, transition.Update)
	if err != nil {
		return nil, false, fmt.Errorf("failed to apply classification: %w", err)
	}
	return updated, transition.EscalationRequired, nil
}

// Close moves a thread to the terminal closed status.
func (s *ThreadService) Close(ctx context.Context, id, actorID string) (*model.Thread, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}

	thread, err := s.threads.SetStatus(ctx, id, model.StatusClosed)
	if err != nil {
		return nil, fmt.Errorf("failed to close thread: %w", err)
	}

	if _, err := s.audit.Record(ctx, id, model.EventClosed, strPtr(actorID), nil); err != nil {
		s.logger.Warn("failed to record close event", zap.String("thread_id", id), zap.Error(err))
	}
	return thread, nil
}

// Reclassify overrides the category and severity of an open thread.
func (s *ThreadService) Reclassify(ctx context.Context, id string, category model.Category, severity model.Severity, actorID string) (*model.Thread, error) {
	if !category.Valid() || !severity.Valid() {
		return nil, ErrInvalidClassification
	}

	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Status == model.StatusClosed {
		return nil, ErrThreadClosed
	}

	thread, err := s.threads.SetClassification(ctx, id, category, severity)
	if err != nil {
		return nil, fmt.Errorf("failed to reclassify thread: %w", err)
	}

	payload := map[string]any{
		"category":          string(category),
		"severity":          string(severity),
		"previous_category": string(current.Category),
		"previous_severity": string(current.Severity),
	}
	if _, err := s.audit.Record(ctx, id, model.EventReclassified, strPtr(actorID), payload); err != nil {
		s.logger.Warn("failed to record reclassification", zap.String("thread_id", id), zap.Error(err))
	}
	return thread, nil
}
