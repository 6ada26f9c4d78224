// Package transport adapts the Twilio WhatsApp channel: outbound message
// delivery and webhook signature validation.
package transport

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/thread-engine/pkg/logger"
	"github.com/capitalize-ai/thread-engine/pkg/metrics"
)

const (
	// MaxBodyLength is the longest body Twilio accepts for one message.
	MaxBodyLength = 1600

	whatsappPrefix = "whatsapp:"
	defaultAPIBase = "https://api.twilio.com"
)

// ErrNotConfigured is returned when Twilio credentials are missing.
var ErrNotConfigured = errors.New("twilio credentials not configured")

// Sender delivers an outbound text to an external sender id.
type Sender interface {
	Send(ctx context.Context, to, body string) (string, error)
}

// TwilioConfig configures the Twilio adapter.
type TwilioConfig struct {
	AccountSID     string
	AuthToken      string
	WhatsAppNumber string
	APIBase        string
	HTTPClient     *http.Client
}

// TwilioSender posts messages to the Twilio Messages API.
type TwilioSender struct {
	cfg    TwilioConfig
	client *http.Client
	logger *logger.Logger
}

// NewTwilioSender creates a sender.
func NewTwilioSender(cfg TwilioConfig, log *logger.Logger) *TwilioSender {
	if cfg.APIBase == "" {
		cfg.APIBase = defaultAPIBase
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &TwilioSender{cfg: cfg, client: client, logger: log}
}

// Send delivers body to the given number and returns the Twilio message SID.
func (s *TwilioSender) Send(ctx context.Context, to, body string) (string, error) {
	if s.cfg.AccountSID == "" || s.cfg.AuthToken == "" || s.cfg.WhatsAppNumber == "" {
		s.logger.Warn("twilio credentials not configured, reply not sent", zap.String("to", to))
		return "", ErrNotConfigured
	}

	form := url.Values{}
	form.Set("From", WithPrefix(s.cfg.WhatsAppNumber))
	form.Set("To", WithPrefix(to))
	form.Set("Body", Truncate(body, MaxBodyLength))

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", s.cfg.APIBase, s.cfg.AccountSID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(s.cfg.AccountSID, s.cfg.AuthToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.client.Do(req)
	if err != nil {
		metrics.RecordOutboundDelivery("twilio", false)
		return "", fmt.Errorf("twilio send: %w", err)
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		metrics.RecordOutboundDelivery("twilio", false)
		return "", fmt.Errorf("twilio send: HTTP %d: %s", resp.StatusCode, Truncate(string(data), 300))
	}
	metrics.RecordOutboundDelivery("twilio", true)

	var parsed struct {
		SID string `json:"sid"`
	}
	_ = json.Unmarshal(data, &parsed)
	return parsed.SID, nil
}

// StripPrefix removes the channel prefix Twilio puts on WhatsApp ids.
func StripPrefix(id string) string {
	if len(id) >= len(whatsappPrefix) && strings.EqualFold(id[:len(whatsappPrefix)], whatsappPrefix) {
		return id[len(whatsappPrefix):]
	}
	return id
}

// WithPrefix adds the WhatsApp channel prefix when missing.
func WithPrefix(id string) string {
	return whatsappPrefix + StripPrefix(id)
}

// Truncate cuts s to at most n runes.
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

// ValidateSignature checks an X-Twilio-Signature header against the public
// webhook URL. The URL with a trailing slash is also accepted.
func ValidateSignature(authToken, publicURL string, params url.Values, signature string) bool {
	if signature == "" {
		return false
	}
	expected, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return false
	}

	for _, candidate := range []string{publicURL, publicURL + "/"} {
		if hmac.Equal(computeSignature(authToken, candidate, params), expected) {
			return true
		}
	}
	return false
}

// Sign computes the base64 signature Twilio would send for a request.
func Sign(authToken, publicURL string, params url.Values) string {
	return base64.StdEncoding.EncodeToString(computeSignature(authToken, publicURL, params))
}

func computeSignature(authToken, publicURL string, params url.Values) []byte {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(publicURL)
	for _, k := range keys {
		values := append([]string(nil), params[k]...)
		sort.Strings(values)
		for _, v := range values {
			b.WriteString(k)
			b.WriteString(v)
		}
	}

	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(b.String()))
	return mac.Sum(nil)
}
