package broker

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coregx/broker/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEnvelope() model.Envelope {
	msg := &model.Message{
		MsgID:     "0190c0de",
		TopicName: "orders.created",
		Payload:   []byte(`{"id":42}`),
		Priority:  3,
		PubTime:   time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC),
	}
	return model.NewEnvelope(msg, "sk.ep.000001", 2)
}

func TestWebhookGateway_Delivers(t *testing.T) {
	var got model.Envelope
	var headers http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers = r.Header.Clone()
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	g := NewWebhookGateway(srv.Client())
	require.NoError(t, g.DeliverMessage(context.Background(), srv.URL, testEnvelope()))

	assert.Equal(t, "application/json", headers.Get("Content-Type"))
	assert.Equal(t, "0190c0de", headers.Get(HeaderMsgID))
	assert.Equal(t, "sk.ep.000001", headers.Get(HeaderSubKey))
	assert.Equal(t, "orders.created", headers.Get(HeaderTopic))
	assert.Equal(t, `{"id":42}`, got.Data)
	assert.Equal(t, 2, got.DeliveryCount)
	assert.Equal(t, 3, got.Priority)
}

func TestWebhookGateway_Non2xxFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewWebhookGateway(nil).DeliverMessage(context.Background(), srv.URL, testEnvelope())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestWebhookGateway_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := NewWebhookGateway(nil).DeliverMessage(ctx, "http://127.0.0.1:1/", testEnvelope())
	assert.ErrorIs(t, err, context.Canceled)
}
