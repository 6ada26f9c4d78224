package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/capitalize-ai/thread-engine/internal/model"
)

//go:embed migrations.sql
var migrations string

const threadColumns = `id, channel, external_key, client_id, display_name, region,
	category, severity, tags, metadata, assigned_type, assigned_human_id, ai_enabled,
	status, unread_count_for_human, last_message_at, last_message_preview, created_at, updated_at`

const messageColumns = `id, thread_id, provider_message_id, direction, provider, from_id, to_id, body,
	ai_generated, ai_model, intent, category_snapshot, severity_snapshot, tokens, latency_ms, created_at`

// PostgresStorage is the Store backed by a PostgreSQL connection pool.
type PostgresStorage struct {
	pool *pgxpool.Pool
}

// NewPostgresStorage connects to PostgreSQL and applies the schema.
func NewPostgresStorage(ctx context.Context, connString string) (*PostgresStorage, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	s := &PostgresStorage{pool: pool}
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Migrate applies the embedded schema. Statements are idempotent.
func (s *PostgresStorage) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, migrations); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

func (s *PostgresStorage) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStorage) Close() error {
	s.pool.Close()
	return nil
}

// Thread methods

func (s *PostgresStorage) FindOpenThread(ctx context.Context, externalKey string) (*model.Thread, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+threadColumns+` FROM chat_threads
		WHERE external_key = $1 AND status <> 'closed'
		ORDER BY created_at DESC LIMIT 1`, externalKey)
	return scanThread(row)
}

func (s *PostgresStorage) CreateThread(ctx context.Context, t *model.Thread) error {
	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	if t.Tags == nil {
		t.Tags = []string{}
	}

	_, err := s.pool.Exec(ctx, `INSERT INTO chat_threads (`+threadColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`,
		t.ID, t.Channel, t.ExternalKey, t.CustomerID, t.DisplayName, t.Region,
		string(t.Category), string(t.Severity), t.Tags, t.Metadata,
		string(t.AssignedType), t.AssignedHumanID, t.AIEnabled,
		string(t.Status), t.UnreadCountForHuman, t.LastMessageAt, t.LastMessagePreview,
		t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert thread: %w", err)
	}
	return nil
}

func (s *PostgresStorage) GetThread(ctx context.Context, id string) (*model.Thread, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+threadColumns+` FROM chat_threads WHERE id = $1`, id)
	return scanThread(row)
}

func (s *PostgresStorage) ListThreads(ctx context.Context, filter model.ThreadFilter) ([]model.Thread, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.pool.Query(ctx, `SELECT `+threadColumns+` FROM chat_threads
		WHERE ($1 = '' OR status = $1)
		ORDER BY last_message_at DESC LIMIT $2`, string(filter.Status), limit)
	if err != nil {
		return nil, fmt.Errorf("list threads: %w", err)
	}
	defer rows.Close()

	var threads []model.Thread
	for rows.Next() {
		t, err := scanThread(rows)
		if err != nil {
			return nil, err
		}
		threads = append(threads, *t)
	}
	return threads, rows.Err()
}

func (s *PostgresStorage) ApplyClassification(ctx context.Context, id string, u model.ClassificationUpdate) (*model.Thread, error) {
	tags := u.Tags
	if tags == nil {
		tags = []string{}
	}

	row := s.pool.QueryRow(ctx, `UPDATE chat_threads SET
			category = $2,
			severity = $3,
			tags = $4,
			metadata = jsonb_set(metadata, '{last_classification}', $5::jsonb),
			last_message_at = $6,
			last_message_preview = $7,
			status = CASE WHEN $8 AND status <> 'closed' THEN 'urgent' ELSE status END,
			unread_count_for_human = CASE WHEN assigned_type = 'human'
				THEN unread_count_for_human + 1 ELSE unread_count_for_human END,
			updated_at = now()
		WHERE id = $1
		RETURNING `+threadColumns,
		id, string(u.Category), string(u.Severity), tags, u.LastClassification,
		u.LastMessageAt, u.LastMessagePreview, u.MarkUrgent)
	return scanThread(row)
}

func (s *PostgresStorage) SetAssignment(ctx context.Context, id string, a model.Assignment) (*model.Thread, error) {
	var row pgx.Row
	if a.Type == model.AssigneeHuman {
		row = s.pool.QueryRow(ctx, `UPDATE chat_threads SET
				assigned_type = 'human', assigned_human_id = $2, ai_enabled = FALSE,
				unread_count_for_human = 0, updated_at = now()
			WHERE id = $1 RETURNING `+threadColumns, id, a.HumanID)
	} else {
		row = s.pool.QueryRow(ctx, `UPDATE chat_threads SET
				assigned_type = 'ai', assigned_human_id = NULL, ai_enabled = TRUE,
				updated_at = now()
			WHERE id = $1 RETURNING `+threadColumns, id)
	}
	return scanThread(row)
}

func (s *PostgresStorage) SetStatus(ctx context.Context, id string, status model.ThreadStatus) (*model.Thread, error) {
	row := s.pool.QueryRow(ctx, `UPDATE chat_threads SET status = $2, updated_at = now()
		WHERE id = $1 RETURNING `+threadColumns, id, string(status))
	return scanThread(row)
}

func (s *PostgresStorage) SetClassification(ctx context.Context, id string, category model.Category, severity model.Severity) (*model.Thread, error) {
	row := s.pool.QueryRow(ctx, `UPDATE chat_threads SET
			category = $2,
			severity = $3,
			status = CASE
				WHEN status = 'closed' THEN status
				WHEN $2 = 'urgent' THEN 'urgent'
				ELSE 'open' END,
			updated_at = now()
		WHERE id = $1 RETURNING `+threadColumns, id, string(category), string(severity))
	return scanThread(row)
}

// Message methods

func (s *PostgresStorage) InsertMessage(ctx context.Context, m *model.Message) (*model.Message, bool, error) {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}

	var category, severity *string
	if m.CategorySnapshot != nil {
		v := string(*m.CategorySnapshot)
		category = &v
	}
	if m.SeveritySnapshot != nil {
		v := string(*m.SeveritySnapshot)
		severity = &v
	}

	tag, err := s.pool.Exec(ctx, `INSERT INTO chat_messages (`+messageColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (provider_message_id) DO NOTHING`,
		m.ID, m.ThreadID, m.ProviderMessageID, string(m.Direction), string(m.Provider),
		m.FromID, m.ToID, m.Body, m.AIGenerated, m.AIModel, m.Intent,
		category, severity, m.Tokens, m.LatencyMs, m.CreatedAt)
	if err != nil {
		return nil, false, fmt.Errorf("insert message: %w", err)
	}

	if tag.RowsAffected() == 0 && m.ProviderMessageID != nil {
		existing, err := s.FindMessageByProviderID(ctx, *m.ProviderMessageID)
		if err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}

	stored := *m
	return &stored, true, nil
}

func (s *PostgresStorage) FindMessageByProviderID(ctx context.Context, providerMessageID string) (*model.Message, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+messageColumns+` FROM chat_messages
		WHERE provider_message_id = $1`, providerMessageID)
	return scanMessage(row)
}

func (s *PostgresStorage) RecentMessages(ctx context.Context, threadID string, limit int) ([]model.Message, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+messageColumns+` FROM (
			SELECT * FROM chat_messages WHERE thread_id = $1 ORDER BY seq DESC LIMIT $2
		) recent ORDER BY seq ASC`, threadID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent messages: %w", err)
	}
	defer rows.Close()

	var messages []model.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, *m)
	}
	return messages, rows.Err()
}

// Audit methods

func (s *PostgresStorage) InsertThreadEvent(ctx context.Context, e *model.ThreadEvent) error {
	payload := e.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	_, err := s.pool.Exec(ctx, `INSERT INTO chat_events (id, thread_id, type, actor_user_id, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		e.ID, e.ThreadID, string(e.Type), e.ActorUserID, payload, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert thread event: %w", err)
	}
	return nil
}

func (s *PostgresStorage) InsertEscalationAttempt(ctx context.Context, a *model.EscalationAttempt) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO chat_escalation_attempts
			(id, thread_id, channel, success, attempts, delivery_id, error, classification, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		a.ID, a.ThreadID, string(a.Channel), a.Success, a.Attempts, a.DeliveryID, a.Error,
		a.Classification, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert escalation attempt: %w", err)
	}
	return nil
}

func (s *PostgresStorage) InsertAssignmentEvent(ctx context.Context, a *model.AssignmentEvent) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO chat_assignments
			(id, thread_id, previous_type, previous_human_id, new_type, new_human_id, actor_user_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		a.ID, a.ThreadID, string(a.PreviousType), a.PreviousHumanID, string(a.NewType), a.NewHumanID,
		a.ActorUserID, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert assignment event: %w", err)
	}
	return nil
}

func (s *PostgresStorage) ThreadAudit(ctx context.Context, threadID string) (*model.ThreadAudit, error) {
	audit := &model.ThreadAudit{
		Escalations: []model.EscalationAttempt{},
		Assignments: []model.AssignmentEvent{},
		Events:      []model.ThreadEvent{},
	}

	rows, err := s.pool.Query(ctx, `SELECT id, thread_id, channel, success, attempts, delivery_id, error,
			classification, created_at
		FROM chat_escalation_attempts WHERE thread_id = $1 ORDER BY created_at`, threadID)
	if err != nil {
		return nil, fmt.Errorf("list escalation attempts: %w", err)
	}
	for rows.Next() {
		var a model.EscalationAttempt
		var channel string
		if err := rows.Scan(&a.ID, &a.ThreadID, &channel, &a.Success, &a.Attempts, &a.DeliveryID,
			&a.Error, &a.Classification, &a.CreatedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan escalation attempt: %w", err)
		}
		a.Channel = model.EscalationChannel(channel)
		audit.Escalations = append(audit.Escalations, a)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = s.pool.Query(ctx, `SELECT id, thread_id, previous_type, previous_human_id, new_type,
			new_human_id, actor_user_id, created_at
		FROM chat_assignments WHERE thread_id = $1 ORDER BY created_at`, threadID)
	if err != nil {
		return nil, fmt.Errorf("list assignments: %w", err)
	}
	for rows.Next() {
		var a model.AssignmentEvent
		var prev, next string
		if err := rows.Scan(&a.ID, &a.ThreadID, &prev, &a.PreviousHumanID, &next, &a.NewHumanID,
			&a.ActorUserID, &a.CreatedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan assignment: %w", err)
		}
		a.PreviousType = model.AssigneeType(prev)
		a.NewType = model.AssigneeType(next)
		audit.Assignments = append(audit.Assignments, a)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = s.pool.Query(ctx, `SELECT id, thread_id, type, actor_user_id, payload, created_at
		FROM chat_events WHERE thread_id = $1 ORDER BY created_at`, threadID)
	if err != nil {
		return nil, fmt.Errorf("list thread events: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var e model.ThreadEvent
		var eventType string
		if err := rows.Scan(&e.ID, &e.ThreadID, &eventType, &e.ActorUserID, &e.Payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan thread event: %w", err)
		}
		e.Type = model.EventType(eventType)
		audit.Events = append(audit.Events, e)
	}
	return audit, rows.Err()
}

// Notification methods

func (s *PostgresStorage) InsertNotification(ctx context.Context, n *model.Notification) error {
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `INSERT INTO portal_notifications
			(id, thread_id, type, title, body, link, target_role, target_user_id, created_at)
		VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, NULLIF($7, ''), $8, $9)`,
		n.ID, n.ThreadID, n.Type, n.Title, n.Body, n.Link, n.TargetRole, n.TargetUserID, n.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

// Customer methods

func (s *PostgresStorage) FindCustomerByPhoneSuffix(ctx context.Context, digits string) (*model.Customer, error) {
	if digits == "" {
		return nil, ErrNotFound
	}

	var c model.Customer
	err := s.pool.QueryRow(ctx, `SELECT id, name, region, phone, mobile FROM clients
		WHERE phone LIKE '%' || $1 || '%' OR mobile LIKE '%' || $1 || '%'
		LIMIT 1`, digits).Scan(&c.ID, &c.Name, &c.Region, &c.Phone, &c.Mobile)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find customer: %w", err)
	}
	return &c, nil
}

func scanThread(row pgx.Row) (*model.Thread, error) {
	var t model.Thread
	var category, severity, assignedType, status string

	err := row.Scan(&t.ID, &t.Channel, &t.ExternalKey, &t.CustomerID, &t.DisplayName, &t.Region,
		&category, &severity, &t.Tags, &t.Metadata, &assignedType, &t.AssignedHumanID, &t.AIEnabled,
		&status, &t.UnreadCountForHuman, &t.LastMessageAt, &t.LastMessagePreview, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan thread: %w", err)
	}

	t.Category = model.Category(category)
	t.Severity = model.Severity(severity)
	t.AssignedType = model.AssigneeType(assignedType)
	t.Status = model.ThreadStatus(status)
	return &t, nil
}

func scanMessage(row pgx.Row) (*model.Message, error) {
	var m model.Message
	var direction, provider string
	var category, severity *string

	err := row.Scan(&m.ID, &m.ThreadID, &m.ProviderMessageID, &direction, &provider, &m.FromID, &m.ToID,
		&m.Body, &m.AIGenerated, &m.AIModel, &m.Intent, &category, &severity, &m.Tokens, &m.LatencyMs,
		&m.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan message: %w", err)
	}

	m.Direction = model.Direction(direction)
	m.Provider = model.Provider(provider)
	if category != nil {
		c := model.Category(*category)
		m.CategorySnapshot = &c
	}
	if severity != nil {
		s := model.Severity(*severity)
		m.SeveritySnapshot = &s
	}
	return &m, nil
}
