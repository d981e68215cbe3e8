package eventbus

import (
	"testing"

	"github.com/dukex/chatflow/pkg/events"
	"github.com/dukex/chatflow/pkg/models"
	"github.com/stretchr/testify/assert"
)

func TestDeduper_DropsRedeliveredMessage(t *testing.T) {
	d := NewDeduper(0)

	first := messageEvent("org-1", "conv-1", "sess-1", "m1")
	redelivered := messageEvent("org-1", "conv-1", "sess-1", "m1")

	assert.True(t, d.Accept(first))
	assert.False(t, d.Accept(redelivered))
	assert.True(t, d.Accept(messageEvent("org-1", "conv-1", "sess-1", "m2")))
}

func TestDeduper_StatusEventsAlwaysPass(t *testing.T) {
	d := NewDeduper(0)
	conv := &models.Conversation{ID: "c", OrganizationID: "o", Status: models.ConversationStatusHandedOff}
	event := events.NewConversationStatusChanged(conv, models.ConversationStatusWaitingForHuman, "")

	assert.True(t, d.Accept(event))
	assert.True(t, d.Accept(event))
}

func TestDeduper_EvictsOldest(t *testing.T) {
	d := NewDeduper(2)

	assert.True(t, d.Accept(messageEvent("o", "c", "s", "m1")))
	assert.True(t, d.Accept(messageEvent("o", "c", "s", "m2")))
	assert.True(t, d.Accept(messageEvent("o", "c", "s", "m3")))

	// m1 fell out of the window and is accepted again.
	assert.True(t, d.Accept(messageEvent("o", "c", "s", "m1")))
	assert.False(t, d.Accept(messageEvent("o", "c", "s", "m3")))
}
