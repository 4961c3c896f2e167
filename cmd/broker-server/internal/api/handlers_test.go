package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coregx/broker"
	"github.com/coregx/broker/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	t       *testing.T
	broker  *broker.Broker
	auth    *JWTAuth
	handler http.Handler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	b, err := broker.New()
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, b.AddClient(ctx, "setup", "orders-svc", []model.Permission{
		{Pattern: "orders.*", AccessType: model.AccessPublisher},
	}))
	require.NoError(t, b.AddClient(ctx, "setup", "billing", []model.Permission{
		{Pattern: "orders.**", AccessType: model.AccessSubscriber},
	}))
	require.NoError(t, b.AddClient(ctx, "setup", "audit", []model.Permission{
		{Pattern: "**", AccessType: model.AccessSubscriber},
	}))
	_, err = b.CreateTopic(ctx, "setup", "admin", "orders.created")
	require.NoError(t, err)

	auth := NewJWTAuth("test-secret", time.Hour)
	logger := &broker.NoopLogger{}
	return &testServer{
		t:       t,
		broker:  b,
		auth:    auth,
		handler: NewRouter(NewHandler(b, logger), NewMiddleware(auth, logger)),
	}
}

func (s *testServer) token(clientID string, admin bool) string {
	token, _, err := s.auth.GenerateToken(clientID, admin)
	require.NoError(s.t, err)
	return token
}

func (s *testServer) do(method, path, token string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

// data decodes the data field of a success response into v.
func data(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	var resp struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.True(t, resp.Success, rec.Body.String())
	require.NoError(t, json.Unmarshal(resp.Data, v))
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Code
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodGet, "/api/v1/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(CorrelationHeader))
}

func TestCorrelationID_Echoed(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set(CorrelationHeader, "req-42")
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)

	assert.Equal(t, "req-42", rec.Header().Get(CorrelationHeader))
}

func TestAuthRequired(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodGet, "/api/v1/topics", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(http.MethodGet, "/api/v1/topics", "garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(http.MethodGet, "/api/v1/topics", s.token("billing", false), nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestPublishSubscribeFlow(t *testing.T) {
	s := newTestServer(t)
	billing := s.token("billing", false)
	orders := s.token("orders-svc", false)

	rec := s.do(http.MethodPost, "/api/v1/subscribe", billing, SubscribeRequest{
		TopicPatterns: []string{"orders.*"},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var sub model.Subscription
	data(t, rec, &sub)
	assert.Equal(t, "billing", sub.EndpointID)
	assert.Equal(t, model.DeliveryPull, sub.DeliveryMethod)

	rec = s.do(http.MethodPost, "/api/v1/publish", orders, PublishRequest{
		Topic:    "orders.created",
		Data:     `{"id":42}`,
		Priority: 5,
		CorrelID: "c-1",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var result broker.PublishResult
	data(t, rec, &result)
	assert.Equal(t, 1, result.Recipients)

	rec = s.do(http.MethodPost, "/api/v1/messages/get", billing, GetMessagesRequest{SubKey: sub.SubKey})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var msgs []MessageResponse
	data(t, rec, &msgs)
	require.Len(t, msgs, 1)
	assert.Equal(t, result.MsgID, msgs[0].MsgID)
	assert.Equal(t, `{"id":42}`, msgs[0].Data)
	assert.Equal(t, "orders-svc", msgs[0].Publisher)
	assert.Equal(t, "c-1", msgs[0].CorrelID)
	assert.Nil(t, msgs[0].ExpirationTime)

	rec = s.do(http.MethodPost, "/api/v1/messages/ack", billing, AcknowledgeRequest{
		SubKey: sub.SubKey,
		MsgIDs: []string{result.MsgID},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var acked map[string]int
	data(t, rec, &acked)
	assert.Equal(t, 1, acked["acknowledged"])

	rec = s.do(http.MethodGet, "/api/v1/subscriptions", billing, nil)
	var subs []model.Subscription
	data(t, rec, &subs)
	assert.Len(t, subs, 1)

	rec = s.do(http.MethodDelete, "/api/v1/subscriptions/"+sub.SubKey, billing, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(http.MethodDelete, "/api/v1/subscriptions/"+sub.SubKey, billing, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPublish_Errors(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name     string
		clientID string
		req      PublishRequest
		status   int
		code     string
	}{
		{"no permission", "billing", PublishRequest{Topic: "orders.created"}, http.StatusForbidden, broker.ErrCodePermissionDenied},
		{"unknown topic", "orders-svc", PublishRequest{Topic: "orders.missing"}, http.StatusNotFound, broker.ErrCodeTopicNotFound},
		{"priority out of range", "orders-svc", PublishRequest{Topic: "orders.created", Priority: 12}, http.StatusBadRequest, broker.ErrCodeValidation},
		{"missing topic", "orders-svc", PublishRequest{}, http.StatusBadRequest, broker.ErrCodeValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(http.MethodPost, "/api/v1/publish", s.token(tt.clientID, false), tt.req)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Equal(t, tt.code, errorCode(t, rec))
		})
	}
}

func TestPublish_InvalidJSON(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/publish", bytes.NewBufferString("{"))
	req.Header.Set("Authorization", "Bearer "+s.token("orders-svc", false))
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_JSON", errorCode(t, rec))
}

func TestPublishBatch(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodPost, "/api/v1/publish/batch", s.token("orders-svc", false), BatchPublishRequest{
		Messages: []PublishRequest{
			{Topic: "orders.created", Data: "a"},
			{Topic: "orders.missing", Data: "b"},
			{Topic: "orders.created", Data: "c"},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp BatchPublishResponse
	data(t, rec, &resp)
	assert.Equal(t, 2, resp.Published)
	require.Len(t, resp.Items, 3)
	assert.NotNil(t, resp.Items[0].Result)
	assert.Nil(t, resp.Items[1].Result)
	assert.Equal(t, broker.ErrCodeTopicNotFound, resp.Items[1].Code)
	assert.Equal(t, 2, resp.Items[2].Index)
}

func TestSubscribe_Errors(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name     string
		clientID string
		req      SubscribeRequest
		status   int
		code     string
	}{
		{"no permission", "orders-svc", SubscribeRequest{TopicPatterns: []string{"orders.*"}}, http.StatusForbidden, broker.ErrCodePermissionDenied},
		{"no patterns", "billing", SubscribeRequest{}, http.StatusBadRequest, broker.ErrCodeValidation},
		{"invalid pattern", "billing", SubscribeRequest{TopicPatterns: []string{"orders.ab*"}}, http.StatusBadRequest, broker.ErrCodeInvalidPattern},
		{"notify without url", "billing", SubscribeRequest{TopicPatterns: []string{"orders.*"}, DeliveryMethod: "notify"}, http.StatusBadRequest, broker.ErrCodeValidation},
		{"unknown method", "billing", SubscribeRequest{TopicPatterns: []string{"orders.*"}, DeliveryMethod: "carrier-pigeon"}, http.StatusBadRequest, broker.ErrCodeValidation},
		{"ftp push url", "billing", SubscribeRequest{TopicPatterns: []string{"orders.*"}, DeliveryMethod: "notify", PushURL: "ftp://hooks.example.com/orders"}, http.StatusBadRequest, broker.ErrCodeValidation},
		{"push url without scheme", "billing", SubscribeRequest{TopicPatterns: []string{"orders.*"}, DeliveryMethod: "notify", PushURL: "hooks.example.com/orders"}, http.StatusBadRequest, broker.ErrCodeValidation},
		{"malformed push url", "billing", SubscribeRequest{TopicPatterns: []string{"orders.*"}, DeliveryMethod: "notify", PushURL: "not a url"}, http.StatusBadRequest, broker.ErrCodeValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(http.MethodPost, "/api/v1/subscribe", s.token(tt.clientID, false), tt.req)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Equal(t, tt.code, errorCode(t, rec))
		})
	}

	push := SubscribeRequest{TopicPatterns: []string{"orders.*"}, DeliveryMethod: "notify", PushURL: "https://hooks.example.com/orders"}
	rec := s.do(http.MethodPost, "/api/v1/subscribe", s.token("billing", false), push)
	assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	body := SubscribeRequest{TopicPatterns: []string{"orders.*"}, SubKey: "sk-fixed"}
	rec = s.do(http.MethodPost, "/api/v1/subscribe", s.token("billing", false), body)
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = s.do(http.MethodPost, "/api/v1/subscribe", s.token("billing", false), body)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestSubscription_Ownership(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodPost, "/api/v1/subscribe", s.token("billing", false), SubscribeRequest{
		TopicPatterns: []string{"orders.*"},
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var sub model.Subscription
	data(t, rec, &sub)

	rec = s.do(http.MethodPost, "/api/v1/messages/get", s.token("audit", false), GetMessagesRequest{SubKey: sub.SubKey})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(http.MethodDelete, "/api/v1/subscriptions/"+sub.SubKey, s.token("audit", false), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(http.MethodDelete, "/api/v1/subscriptions/"+sub.SubKey, s.token("audit", true), nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestTopicAdministration(t *testing.T) {
	s := newTestServer(t)
	admin := s.token("ops", true)

	rec := s.do(http.MethodPost, "/api/v1/topics", s.token("billing", false), CreateTopicRequest{Name: "orders.shipped"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(http.MethodPost, "/api/v1/topics", admin, CreateTopicRequest{Name: "orders.shipped", MaxDepth: 5})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var topic model.Topic
	data(t, rec, &topic)
	assert.Equal(t, "ops", topic.CreatedBy)
	assert.Equal(t, 5, topic.MaxDepth)
	assert.True(t, topic.IsActive)

	rec = s.do(http.MethodPost, "/api/v1/topics", admin, CreateTopicRequest{Name: "ORDERS.SHIPPED"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(http.MethodPost, "/api/v1/topics", admin, CreateTopicRequest{Name: "orders.*"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodGet, "/api/v1/topics", s.token("billing", false), nil)
	var topics []model.Topic
	data(t, rec, &topics)
	assert.Len(t, topics, 2)

	rec = s.do(http.MethodDelete, "/api/v1/topics/orders.shipped", admin, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(http.MethodDelete, "/api/v1/topics/orders.shipped", admin, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(http.MethodGet, "/api/v1/stats", admin, nil)
	var stats broker.Stats
	data(t, rec, &stats)
	assert.Equal(t, 1, stats.Topics)
	assert.Equal(t, 3, stats.Clients)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{broker.ErrPermissionDenied, http.StatusForbidden},
		{broker.ErrAddressNotAllowed, http.StatusForbidden},
		{broker.ErrTopicNotFound, http.StatusNotFound},
		{broker.ErrNotFound, http.StatusNotFound},
		{broker.ErrDuplicateTopic, http.StatusConflict},
		{broker.ErrQueueDepthExceeded, http.StatusConflict},
		{broker.ErrRateLimitExceeded, http.StatusTooManyRequests},
		{broker.ErrInvalidPattern, http.StatusBadRequest},
		{broker.NewError(broker.ErrCodeDatabase, "boom"), http.StatusInternalServerError},
		{assert.AnError, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.status, StatusFor(tt.err), tt.err.Error())
	}
	assert.Equal(t, "internal error", clientMessage(broker.NewError(broker.ErrCodeDatabase, "dsn leaked")))
}
