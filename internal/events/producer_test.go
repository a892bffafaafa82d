package events

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"

	"taskdeck/internal/config"
)

func TestDisabledProducerIsNoOp(t *testing.T) {
	p := NewProducer(config.EventsConfig{Enable: false}, "api", logrus.New())
	assert.False(t, p.Enabled())

	// Must not panic or block.
	p.Publish(context.Background(), TaskCreatedEvent, "user1", map[string]interface{}{"task_id": 1})
	p.TaskEvent(context.Background(), TaskDeletedEvent, "user1", 2)
	assert.NoError(t, p.Close())
}

func TestNilProducerIsSafe(t *testing.T) {
	var p *Producer
	assert.False(t, p.Enabled())
	p.Publish(context.Background(), ChatTurnEvent, "user1", nil)
	assert.NoError(t, p.Close())
}
