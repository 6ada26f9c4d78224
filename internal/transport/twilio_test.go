package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/thread-engine/pkg/logger"
)

const publicURL = "https://portal.lideresenseguros.com/api/whatsapp"

func TestValidateSignature(t *testing.T) {
	params := url.Values{
		"From":       {"whatsapp:+50761234567"},
		"Body":       {"Hola, quiero cotizar"},
		"MessageSid": {"SM123"},
	}
	sig := Sign("token", publicURL, params)

	assert.True(t, ValidateSignature("token", publicURL, params, sig))
	assert.False(t, ValidateSignature("other-token", publicURL, params, sig))
	assert.False(t, ValidateSignature("token", publicURL, params, ""))
	assert.False(t, ValidateSignature("token", publicURL, params, "not base64!"))

	tampered := url.Values{"From": {"whatsapp:+50761234567"}, "Body": {"otro"}, "MessageSid": {"SM123"}}
	assert.False(t, ValidateSignature("token", publicURL, tampered, sig))
}

func TestValidateSignatureURLVariants(t *testing.T) {
	params := url.Values{"Body": {"hola"}}

	assert.True(t, ValidateSignature("token", publicURL, params, Sign("token", publicURL+"/", params)))
	assert.False(t, ValidateSignature("token", publicURL, params,
		Sign("token", "http://portal.lideresenseguros.com/api/whatsapp", params)), "scheme must match the public URL")
	assert.False(t, ValidateSignature("token", publicURL, params, Sign("token", "https://elsewhere/api", params)))
}

func TestPrefixHelpers(t *testing.T) {
	assert.Equal(t, "+50761234567", StripPrefix("whatsapp:+50761234567"))
	assert.Equal(t, "+50761234567", StripPrefix("WhatsApp:+50761234567"))
	assert.Equal(t, "+50761234567", StripPrefix("+50761234567"))
	assert.Equal(t, "whatsapp:+507", WithPrefix("+507"))
	assert.Equal(t, "whatsapp:+507", WithPrefix("whatsapp:+507"))
}

func TestTruncateCountsRunes(t *testing.T) {
	assert.Equal(t, "ñañ", Truncate("ñañaña", 3))
	assert.Equal(t, "abc", Truncate("abc", 10))
}

func TestTwilioSend(t *testing.T) {
	var form url.Values
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/2010-04-01/Accounts/AC1/Messages.json", r.URL.Path)
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "AC1", user)
		assert.Equal(t, "secret", pass)
		require.NoError(t, r.ParseForm())
		form = r.PostForm
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"sid":"SM999"}`))
	}))
	defer server.Close()

	sender := NewTwilioSender(TwilioConfig{
		AccountSID:     "AC1",
		AuthToken:      "secret",
		WhatsAppNumber: "+15550001111",
		APIBase:        server.URL,
	}, logger.NewNop())

	sid, err := sender.Send(context.Background(), "+50761234567", strings.Repeat("a", 2000))
	require.NoError(t, err)
	assert.Equal(t, "SM999", sid)
	assert.Equal(t, "whatsapp:+15550001111", form.Get("From"))
	assert.Equal(t, "whatsapp:+50761234567", form.Get("To"))
	assert.Len(t, form.Get("Body"), MaxBodyLength)
}

func TestTwilioSendErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"message":"invalid To"}`))
	}))
	defer server.Close()

	sender := NewTwilioSender(TwilioConfig{AccountSID: "AC1", AuthToken: "s", WhatsAppNumber: "+1", APIBase: server.URL}, logger.NewNop())
	_, err := sender.Send(context.Background(), "+507", "hola")
	assert.ErrorContains(t, err, "HTTP 400")

	_, err = NewTwilioSender(TwilioConfig{}, logger.NewNop()).Send(context.Background(), "+507", "hola")
	assert.ErrorIs(t, err, ErrNotConfigured)
}
