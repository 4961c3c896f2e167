package model

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDeadLetter(t *testing.T) {
	msg := &Message{MsgID: "m1", TopicName: "orders.created", Payload: []byte("x")}
	entry := NewEnqueuedMessage(msg, "sk.a.1", epoch)
	entry.MarkFailed(errors.New("503"), time.Minute, epoch.Add(time.Second))

	dl := NewDeadLetter(entry, "https://hooks.example.com/a", "max attempts", epoch.Add(time.Hour))

	assert.Equal(t, "sk.a.1", dl.SubKey)
	assert.Equal(t, "m1", dl.MsgID)
	assert.Equal(t, "orders.created", dl.TopicName)
	assert.Equal(t, 1, dl.AttemptCount)
	assert.Equal(t, "503", dl.LastError)
	assert.Equal(t, epoch, dl.FirstAttemptAt)
	assert.Equal(t, epoch.Add(time.Second), dl.LastAttemptAt)
	assert.Equal(t, []byte("x"), dl.Payload)
	assert.False(t, dl.IsResolved)

	msg.Payload[0] = 'y'
	assert.Equal(t, []byte("x"), dl.Payload, "payload is copied")
}

func TestDeadLetter_Resolve(t *testing.T) {
	dl := DeadLetter{MovedAt: epoch}

	assert.Equal(t, 2*time.Hour, dl.Age(epoch.Add(2*time.Hour)))
	assert.True(t, dl.IsOld(time.Hour, epoch.Add(2*time.Hour)))
	assert.False(t, dl.IsOld(time.Hour, epoch.Add(30*time.Minute)))

	dl.Resolve("ops", "replayed", epoch.Add(3*time.Hour))

	assert.True(t, dl.IsResolved)
	require.NotNil(t, dl.ResolvedAt)
	assert.Equal(t, epoch.Add(3*time.Hour), *dl.ResolvedAt)
	assert.Equal(t, "ops", dl.ResolvedBy)
	assert.Equal(t, "replayed", dl.ResolutionNote)
}
