// Package api provides HTTP handlers for the broker server REST API.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/coregx/broker"
	"github.com/coregx/broker/model"
)

// Version is reported by the health endpoint.
const Version = "0.1.0"

const (
	defaultMaxItems = 10
	maxBodyBytes    = 4 << 20
)

// Handler holds dependencies for API handlers.
type Handler struct {
	broker *broker.Broker
	logger broker.Logger
}

// NewHandler creates a new API handler.
func NewHandler(b *broker.Broker, logger broker.Logger) *Handler {
	return &Handler{broker: b, logger: logger}
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// SuccessResponse represents a success response.
type SuccessResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Message string      `json:"message,omitempty"`
}

// HandlePublish handles POST /api/v1/publish
func (h *Handler) HandlePublish(w http.ResponseWriter, r *http.Request) {
	var req PublishRequest
	if !h.decode(w, r, &req) {
		return
	}

	cid := CorrelationID(r.Context())
	result, err := h.broker.Publish(cid, req.toBroker(ClaimsFrom(r.Context()).ClientID, r.RemoteAddr))
	if err != nil {
		h.respondBrokerError(w, r, "publish", err)
		return
	}

	h.respondSuccess(w, http.StatusCreated, result, "Message published successfully")
}

// HandlePublishBatch handles POST /api/v1/publish/batch
func (h *Handler) HandlePublishBatch(w http.ResponseWriter, r *http.Request) {
	var req BatchPublishRequest
	if !h.decode(w, r, &req) {
		return
	}

	publisher := ClaimsFrom(r.Context()).ClientID
	requests := make([]broker.PublishRequest, len(req.Messages))
	for i, m := range req.Messages {
		requests[i] = m.toBroker(publisher, r.RemoteAddr)
	}

	results := h.broker.PublishBatch(CorrelationID(r.Context()), requests)
	items := make([]BatchItem, len(results))
	published := 0
	for i, res := range results {
		items[i] = BatchItem{Index: res.Index}
		if res.Err != nil {
			items[i].Code = broker.Code(res.Err)
			items[i].Error = clientMessage(res.Err)
			continue
		}
		result := res.Result
		items[i].Result = &result
		published++
	}

	h.respondSuccess(w, http.StatusOK, BatchPublishResponse{Published: published, Items: items}, "")
}

// HandleSubscribe handles POST /api/v1/subscribe
func (h *Handler) HandleSubscribe(w http.ResponseWriter, r *http.Request) {
	var req SubscribeRequest
	if !h.decode(w, r, &req) {
		return
	}

	method, err := model.ParseDeliveryMethod(req.DeliveryMethod)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error(), broker.ErrCodeValidation)
		return
	}

	sub, err := h.broker.Subscribe(r.Context(), CorrelationID(r.Context()), r.RemoteAddr, broker.SubscriptionRequest{
		EndpointID:     ClaimsFrom(r.Context()).ClientID,
		TopicPatterns:  req.TopicPatterns,
		SubKey:         req.SubKey,
		DeliveryMethod: method,
		PushURL:        req.PushURL,
		MaxDepth:       req.MaxDepth,
	})
	if err != nil {
		h.respondBrokerError(w, r, "subscribe", err)
		return
	}

	h.respondSuccess(w, http.StatusCreated, sub, "Subscription created successfully")
}

// HandleListSubscriptions handles GET /api/v1/subscriptions
func (h *Handler) HandleListSubscriptions(w http.ResponseWriter, r *http.Request) {
	subs := h.broker.ListSubscriptions(ClaimsFrom(r.Context()).ClientID)
	if subs == nil {
		subs = []model.Subscription{}
	}
	h.respondSuccess(w, http.StatusOK, subs, "")
}

// HandleUnsubscribe handles DELETE /api/v1/subscriptions/{subKey}
func (h *Handler) HandleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	subKey := r.PathValue("subKey")
	if _, ok := h.ownedSubscription(w, r, subKey); !ok {
		return
	}

	if err := h.broker.Unsubscribe(r.Context(), CorrelationID(r.Context()), subKey); err != nil {
		h.respondBrokerError(w, r, "unsubscribe", err)
		return
	}

	h.respondSuccess(w, http.StatusOK, map[string]string{"sub_key": subKey}, "Unsubscribed successfully")
}

// HandleGetMessages handles POST /api/v1/messages/get
func (h *Handler) HandleGetMessages(w http.ResponseWriter, r *http.Request) {
	var req GetMessagesRequest
	if !h.decode(w, r, &req) {
		return
	}
	if _, ok := h.ownedSubscription(w, r, req.SubKey); !ok {
		return
	}

	maxItems := req.MaxItems
	if maxItems == 0 {
		maxItems = defaultMaxItems
	}

	msgs, err := h.broker.GetMessages(req.SubKey, maxItems)
	if err != nil {
		h.respondBrokerError(w, r, "get messages", err)
		return
	}

	out := make([]MessageResponse, len(msgs))
	for i := range msgs {
		out[i] = newMessageResponse(&msgs[i])
	}
	h.respondSuccess(w, http.StatusOK, out, "")
}

// HandleAcknowledge handles POST /api/v1/messages/ack
func (h *Handler) HandleAcknowledge(w http.ResponseWriter, r *http.Request) {
	var req AcknowledgeRequest
	if !h.decode(w, r, &req) {
		return
	}
	if _, ok := h.ownedSubscription(w, r, req.SubKey); !ok {
		return
	}

	n, err := h.broker.Acknowledge(req.SubKey, req.MsgIDs)
	if err != nil {
		h.respondBrokerError(w, r, "acknowledge", err)
		return
	}
	h.respondSuccess(w, http.StatusOK, map[string]int{"acknowledged": n}, "")
}

// HandleCreateTopic handles POST /api/v1/topics
func (h *Handler) HandleCreateTopic(w http.ResponseWriter, r *http.Request) {
	var req CreateTopicRequest
	if !h.decode(w, r, &req) {
		return
	}

	opts := []broker.TopicOption{broker.WithTopicDescription(req.Description)}
	if req.MaxDepth > 0 {
		opts = append(opts, broker.WithTopicMaxDepth(req.MaxDepth))
	}
	if req.Inactive {
		opts = append(opts, broker.WithTopicInactive())
	}

	topic, err := h.broker.CreateTopic(r.Context(), CorrelationID(r.Context()),
		ClaimsFrom(r.Context()).ClientID, req.Name, opts...)
	if err != nil {
		h.respondBrokerError(w, r, "create topic", err)
		return
	}
	h.respondSuccess(w, http.StatusCreated, topic, "Topic created successfully")
}

// HandleListTopics handles GET /api/v1/topics
func (h *Handler) HandleListTopics(w http.ResponseWriter, _ *http.Request) {
	topics := h.broker.ListTopics()
	if topics == nil {
		topics = []model.Topic{}
	}
	h.respondSuccess(w, http.StatusOK, topics, "")
}

// HandleDeleteTopic handles DELETE /api/v1/topics/{name}
func (h *Handler) HandleDeleteTopic(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := h.broker.DeleteTopic(r.Context(), CorrelationID(r.Context()), name); err != nil {
		h.respondBrokerError(w, r, "delete topic", err)
		return
	}
	h.respondSuccess(w, http.StatusOK, map[string]string{"name": name}, "Topic deleted successfully")
}

// HandleStats handles GET /api/v1/stats
func (h *Handler) HandleStats(w http.ResponseWriter, _ *http.Request) {
	h.respondSuccess(w, http.StatusOK, h.broker.Stats(), "")
}

// HandleHealth handles GET /api/v1/health
func (h *Handler) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"version":   Version,
	}
	h.respondSuccess(w, http.StatusOK, health, "")
}

// ownedSubscription loads subKey and checks the caller owns it. Admins
// may access any subscription.
func (h *Handler) ownedSubscription(w http.ResponseWriter, r *http.Request, subKey string) (model.Subscription, bool) {
	sub, err := h.broker.GetSubscription(subKey)
	if err != nil {
		h.respondBrokerError(w, r, "load subscription", err)
		return sub, false
	}
	claims := ClaimsFrom(r.Context())
	if sub.EndpointID != claims.ClientID && !claims.IsAdmin {
		h.respondError(w, http.StatusForbidden, "subscription belongs to another client", broker.ErrCodePermissionDenied)
		return sub, false
	}
	return sub, true
}

// decode reads a JSON body into req and validates it.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, req validatable) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		h.respondError(w, http.StatusBadRequest, "Invalid JSON", "INVALID_JSON")
		return false
	}
	if err := req.Validate(); err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error(), broker.ErrCodeValidation)
		return false
	}
	return true
}

func (h *Handler) respondBrokerError(w http.ResponseWriter, r *http.Request, op string, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Errorf("[%s] Failed to %s: %v", CorrelationID(r.Context()), op, err)
	} else {
		h.logger.Debugf("[%s] %s rejected: %v", CorrelationID(r.Context()), op, err)
	}
	h.respondError(w, status, clientMessage(err), broker.Code(err))
}

// respondError sends an error response.
func (h *Handler) respondError(w http.ResponseWriter, status int, message, code string) {
	respondError(w, status, message, code)
}

// respondSuccess sends a success response.
func (h *Handler) respondSuccess(w http.ResponseWriter, status int, data interface{}, message string) {
	writeJSON(w, status, SuccessResponse{
		Success: true,
		Data:    data,
		Message: message,
	})
}

func respondError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, ErrorResponse{
		Error:   message,
		Code:    code,
		Message: message,
	})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// StatusFor maps a broker error code to an HTTP status.
func StatusFor(err error) int {
	switch broker.Code(err) {
	case broker.ErrCodePermissionDenied, broker.ErrCodeAddressNotAllowed:
		return http.StatusForbidden
	case broker.ErrCodeTopicNotFound, broker.ErrCodeNotFound, broker.ErrCodeNoData:
		return http.StatusNotFound
	case broker.ErrCodeDuplicateTopic, broker.ErrCodeDuplicateSubscription, broker.ErrCodeQueueDepthExceeded:
		return http.StatusConflict
	case broker.ErrCodeRateLimitExceeded:
		return http.StatusTooManyRequests
	case broker.ErrCodeValidation, broker.ErrCodeInvalidPattern:
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// clientMessage hides internal failure details.
func clientMessage(err error) string {
	if StatusFor(err) >= http.StatusInternalServerError {
		return "internal error"
	}
	return err.Error()
}
