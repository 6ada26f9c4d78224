// Package email delivers escalation and assignment emails through the
// ZeptoMail REST API.
package email

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/capitalize-ai/thread-engine/pkg/logger"
)

// Email is one outgoing message.
type Email struct {
	To       string
	ToName   string
	Subject  string
	HTMLBody string
	TextBody string
	ReplyTo  string
}

// Result reports a delivery outcome including how many attempts it took.
type Result struct {
	Success    bool   `json:"success"`
	Attempts   int    `json:"attempts"`
	DeliveryID string `json:"delivery_id,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Sender delivers emails. Implementations retry internally and never panic.
type Sender interface {
	Send(ctx context.Context, msg Email) Result
}

// ZeptoConfig configures the ZeptoMail client.
type ZeptoConfig struct {
	APIURL      string
	APIKey      string
	From        string
	FromName    string
	MaxAttempts int
	BackoffBase time.Duration
	HTTPClient  *http.Client
}

// ZeptoMailer is the ZeptoMail REST client.
type ZeptoMailer struct {
	cfg    ZeptoConfig
	client *http.Client
	logger *logger.Logger
}

// NewZeptoMailer creates a mailer.
func NewZeptoMailer(cfg ZeptoConfig, log *logger.Logger) *ZeptoMailer {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 3
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = time.Second
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &ZeptoMailer{cfg: cfg, client: client, logger: log}
}

type zeptoAddress struct {
	Address string `json:"address"`
	Name    string `json:"name,omitempty"`
}

type zeptoRecipient struct {
	EmailAddress zeptoAddress `json:"email_address"`
}

type zeptoRequest struct {
	From     zeptoAddress     `json:"from"`
	To       []zeptoRecipient `json:"to"`
	ReplyTo  []zeptoAddress   `json:"reply_to,omitempty"`
	Subject  string           `json:"subject"`
	HTMLBody string           `json:"htmlbody"`
	TextBody string           `json:"textbody"`
}

type zeptoResponse struct {
	RequestID string `json:"request_id"`
	Data      []struct {
		MessageID string `json:"message_id"`
	} `json:"data"`
}

// Send delivers msg with exponential backoff. Client errors other than 429
// stop the retry loop immediately.
func (m *ZeptoMailer) Send(ctx context.Context, msg Email) Result {
	if m.cfg.APIKey == "" {
		m.logger.Error("mail API key not configured", zap.String("to", msg.To))
		return Result{Error: "mail API key not configured"}
	}

	name := msg.ToName
	if name == "" {
		name = msg.To
	}
	req := zeptoRequest{
		From:     zeptoAddress{Address: m.cfg.From, Name: m.cfg.FromName},
		To:       []zeptoRecipient{{EmailAddress: zeptoAddress{Address: msg.To, Name: name}}},
		Subject:  msg.Subject,
		HTMLBody: msg.HTMLBody,
		TextBody: msg.TextBody,
	}
	if msg.ReplyTo != "" {
		req.ReplyTo = []zeptoAddress{{Address: msg.ReplyTo}}
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return Result{Error: fmt.Sprintf("encode mail request: %v", err)}
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = m.cfg.BackoffBase
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(m.cfg.MaxAttempts-1)), ctx)

	var attempts int
	var deliveryID string
	operation := func() error {
		attempts++
		id, err := m.post(ctx, payload)
		if err != nil {
			return err
		}
		deliveryID = id
		return nil
	}
	notify := func(err error, wait time.Duration) {
		m.logger.Warn("mail delivery attempt failed",
			zap.String("to", msg.To),
			zap.Int("attempt", attempts),
			zap.Duration("retry_in", wait),
			zap.Error(err),
		)
	}

	if err := backoff.RetryNotify(operation, policy, notify); err != nil {
		m.logger.Error("mail delivery failed",
			zap.String("to", msg.To),
			zap.Int("attempts", attempts),
			zap.Error(err),
		)
		return Result{Attempts: attempts, Error: err.Error()}
	}

	m.logger.Info("mail delivered",
		zap.String("to", msg.To),
		zap.Int("attempts", attempts),
		zap.String("delivery_id", deliveryID),
	)
	return Result{Success: true, Attempts: attempts, DeliveryID: deliveryID}
}

func (m *ZeptoMailer) post(ctx context.Context, payload []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cfg.APIURL, bytes.NewReader(payload))
	if err != nil {
		return "", backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Zoho-encrtoken "+m.cfg.APIKey)

	resp, err := m.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		var parsed zeptoResponse
		if err := json.Unmarshal(body, &parsed); err != nil {
			return "unknown", nil
		}
		if len(parsed.Data) > 0 && parsed.Data[0].MessageID != "" {
			return parsed.Data[0].MessageID, nil
		}
		if parsed.RequestID != "" {
			return parsed.RequestID, nil
		}
		return "unknown", nil
	}

	text := string(body)
	if len(text) > 300 {
		text = text[:300]
	}
	err = fmt.Errorf("HTTP %d: %s", resp.StatusCode, text)
	if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
		return "", backoff.Permanent(err)
	}
	return "", err
}

// ErrNoRecipient is returned by builders when the target address is empty.
var ErrNoRecipient = errors.New("email recipient is empty")
