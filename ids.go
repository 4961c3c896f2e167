package broker

import (
	"strings"

	"github.com/google/uuid"
)

// IDGenerator produces message ids and subscription keys.
type IDGenerator interface {
	// MessageID returns a new unique message id.
	MessageID() string

	// SubKey returns a new unique subscription key for endpointID.
	SubKey(endpointID string) string
}

// UUIDGenerator generates ids from UUIDv7. Message ids sort lexically in
// creation order, which keeps tie-breaking on msg_id close to publish order.
type UUIDGenerator struct{}

// MessageID returns a UUIDv7 rendered as 32 hex digits.
func (UUIDGenerator) MessageID() string {
	return hexID(newV7())
}

// SubKey returns "sk.<endpointID>.<12 hex digits>".
func (UUIDGenerator) SubKey(endpointID string) string {
	return "sk." + endpointID + "." + hexID(uuid.New())[:12]
}

func newV7() uuid.UUID {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New()
	}
	return id
}

func hexID(id uuid.UUID) string {
	return strings.ReplaceAll(id.String(), "-", "")
}
