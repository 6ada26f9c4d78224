package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/capitalize-ai/thread-engine/internal/model"
)

// MemoryStorage is an in-process Store used for development and tests.
type MemoryStorage struct {
	mu sync.RWMutex

	threads       map[string]*model.Thread
	messages      []model.Message
	byProviderID  map[string]int
	events        []model.ThreadEvent
	escalations   []model.EscalationAttempt
	assignments   []model.AssignmentEvent
	notifications []model.Notification
	customers     []model.Customer

	now func() time.Time
}

// NewMemoryStorage creates an empty in-memory store.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		threads:      make(map[string]*model.Thread),
		byProviderID: make(map[string]int),
		now:          time.Now,
	}
}

// AddCustomer seeds a customer record.
func (s *MemoryStorage) AddCustomer(c model.Customer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.customers = append(s.customers, c)
}

// Notifications returns a copy of every stored notification.
func (s *MemoryStorage) Notifications() []model.Notification {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.Notification(nil), s.notifications...)
}

// Thread methods

func (s *MemoryStorage) FindOpenThread(ctx context.Context, externalKey string) (*model.Thread, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var found *model.Thread
	for _, t := range s.threads {
		if t.ExternalKey != externalKey || t.Status == model.StatusClosed {
			continue
		}
		if found == nil || t.CreatedAt.After(found.CreatedAt) {
			found = t
		}
	}
	if found == nil {
		return nil, ErrNotFound
	}
	return cloneThread(found), nil
}

func (s *MemoryStorage) CreateThread(ctx context.Context, thread *model.Thread) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if thread.CreatedAt.IsZero() {
		thread.CreatedAt = now
	}
	thread.UpdatedAt = now
	s.threads[thread.ID] = cloneThread(thread)
	return nil
}

func (s *MemoryStorage) GetThread(ctx context.Context, id string) (*model.Thread, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.threads[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneThread(t), nil
}

func (s *MemoryStorage) ListThreads(ctx context.Context, filter model.ThreadFilter) ([]model.Thread, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Thread
	for _, t := range s.threads {
		if filter.Status != "" && t.Status != filter.Status {
			continue
		}
		out = append(out, *cloneThread(t))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastMessageAt.After(out[j].LastMessageAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *MemoryStorage) ApplyClassification(ctx context.Context, id string, u model.ClassificationUpdate) (*model.Thread, error) {
	return s.mutateThread(id, func(t *model.Thread) {
		t.Category = u.Category
		t.Severity = u.Severity
		t.Tags = append([]string(nil), u.Tags...)
		snapshot := u.LastClassification
		t.Metadata.LastClassification = &snapshot
		t.LastMessageAt = u.LastMessageAt
		preview := u.LastMessagePreview
		t.LastMessagePreview = &preview
		if u.MarkUrgent && t.Status != model.StatusClosed {
			t.Status = model.StatusUrgent
		}
		if t.AssignedType == model.AssigneeHuman {
			t.UnreadCountForHuman++
		}
	})
}

func (s *MemoryStorage) SetAssignment(ctx context.Context, id string, a model.Assignment) (*model.Thread, error) {
	return s.mutateThread(id, func(t *model.Thread) {
		t.AssignedType = a.Type
		if a.Type == model.AssigneeHuman {
			t.AssignedHumanID = a.HumanID
			t.AIEnabled = false
			t.UnreadCountForHuman = 0
		} else {
			t.AssignedHumanID = nil
			t.AIEnabled = true
		}
	})
}

func (s *MemoryStorage) SetStatus(ctx context.Context, id string, status model.ThreadStatus) (*model.Thread, error) {
	return s.mutateThread(id, func(t *model.Thread) {
		t.Status = status
	})
}

func (s *MemoryStorage) SetClassification(ctx context.Context, id string, category model.Category, severity model.Severity) (*model.Thread, error) {
	return s.mutateThread(id, func(t *model.Thread) {
		t.Category = category
		t.Severity = severity
		if t.Status == model.StatusClosed {
			return
		}
		if category == model.CategoryUrgent {
			t.Status = model.StatusUrgent
		} else {
			t.Status = model.StatusOpen
		}
	})
}

func (s *MemoryStorage) mutateThread(id string, fn func(t *model.Thread)) (*model.Thread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.threads[id]
	if !ok {
		return nil, ErrNotFound
	}
	fn(t)
	t.UpdatedAt = s.now()
	return cloneThread(t), nil
}

// Message methods

func (s *MemoryStorage) InsertMessage(ctx context.Context, msg *model.Message) (*model.Message, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if msg.ProviderMessageID != nil {
		if idx, ok := s.byProviderID[*msg.ProviderMessageID]; ok {
			stored := s.messages[idx]
			return &stored, false, nil
		}
	}

	stored := *msg
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = s.now()
	}
	s.messages = append(s.messages, stored)
	if stored.ProviderMessageID != nil {
		s.byProviderID[*stored.ProviderMessageID] = len(s.messages) - 1
	}
	return &stored, true, nil
}

func (s *MemoryStorage) FindMessageByProviderID(ctx context.Context, providerMessageID string) (*model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx, ok := s.byProviderID[providerMessageID]
	if !ok {
		return nil, ErrNotFound
	}
	stored := s.messages[idx]
	return &stored, nil
}

func (s *MemoryStorage) RecentMessages(ctx context.Context, threadID string, limit int) ([]model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Message
	for _, m := range s.messages {
		if m.ThreadID == threadID {
			out = append(out, m)
		}
	}
	// Insertion order is the ledger order.
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// Audit methods

func (s *MemoryStorage) InsertThreadEvent(ctx context.Context, event *model.ThreadEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, *event)
	return nil
}

func (s *MemoryStorage) InsertEscalationAttempt(ctx context.Context, attempt *model.EscalationAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.escalations = append(s.escalations, *attempt)
	return nil
}

func (s *MemoryStorage) InsertAssignmentEvent(ctx context.Context, event *model.AssignmentEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assignments = append(s.assignments, *event)
	return nil
}

func (s *MemoryStorage) ThreadAudit(ctx context.Context, threadID string) (*model.ThreadAudit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	audit := &model.ThreadAudit{
		Escalations: []model.EscalationAttempt{},
		Assignments: []model.AssignmentEvent{},
		Events:      []model.ThreadEvent{},
	}
	for _, e := range s.escalations {
		if e.ThreadID == threadID {
			audit.Escalations = append(audit.Escalations, e)
		}
	}
	for _, a := range s.assignments {
		if a.ThreadID == threadID {
			audit.Assignments = append(audit.Assignments, a)
		}
	}
	for _, e := range s.events {
		if e.ThreadID == threadID {
			audit.Events = append(audit.Events, e)
		}
	}
	return audit, nil
}

// Notification methods

func (s *MemoryStorage) InsertNotification(ctx context.Context, n *model.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n.CreatedAt.IsZero() {
		n.CreatedAt = s.now()
	}
	s.notifications = append(s.notifications, *n)
	return nil
}

// Customer methods

func (s *MemoryStorage) FindCustomerByPhoneSuffix(ctx context.Context, digits string) (*model.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if digits == "" {
		return nil, ErrNotFound
	}
	for _, c := range s.customers {
		if strings.Contains(c.Phone, digits) || strings.Contains(c.Mobile, digits) {
			found := c
			return &found, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStorage) Ping(ctx context.Context) error {
	return nil
}

func (s *MemoryStorage) Close() error {
	// Nothing to close for in-memory storage
	return nil
}

func cloneThread(t *model.Thread) *model.Thread {
	c := *t
	c.Tags = append([]string(nil), t.Tags...)
	if t.Metadata.LastClassification != nil {
		snapshot := *t.Metadata.LastClassification
		snapshot.ExecutiveSummary = append([]string(nil), snapshot.ExecutiveSummary...)
		c.Metadata.LastClassification = &snapshot
	}
	return &c
}
