package nats

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/capitalize-ai/thread-engine/internal/model"
)

func TestSubjects(t *testing.T) {
	assert.Equal(t, "chat.th-1.event.escalated", EventSubject("th-1", model.EventEscalated))
}
