package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/coregx/broker/model"
)

// Headers set on every push request.
const (
	HeaderMsgID  = "X-Broker-Msg-Id"
	HeaderSubKey = "X-Broker-Sub-Key"
	HeaderTopic  = "X-Broker-Topic"
)

// WebhookGateway pushes envelopes as JSON POST requests.
// Any 2xx response counts as delivered.
type WebhookGateway struct {
	client *http.Client
}

// NewWebhookGateway creates a gateway using client, or a client with a
// 10 second timeout when client is nil.
func NewWebhookGateway(client *http.Client) *WebhookGateway {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &WebhookGateway{client: client}
}

// DeliverMessage implements MessageDeliveryGateway.
func (g *WebhookGateway) DeliverMessage(ctx context.Context, pushURL string, envelope model.Envelope) error {
	body, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("failed to encode envelope: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, pushURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderMsgID, envelope.MsgID)
	req.Header.Set(HeaderSubKey, envelope.SubKey)
	req.Header.Set(HeaderTopic, envelope.TopicName)

	resp, err := g.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("push endpoint returned %s", resp.Status)
	}
	return nil
}
