package api

import (
	"errors"
	"net/url"
	"time"

	"github.com/coregx/broker"
	"github.com/coregx/broker/model"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
)

const maxBatchSize = 100

type validatable interface {
	Validate() error
}

// PublishRequest represents a publish message request.
type PublishRequest struct {
	Topic       string `json:"topic"`
	Data        string `json:"data"`
	Priority    int    `json:"priority"`
	Expiration  int    `json:"expiration"` // seconds, 0 uses the server default
	CorrelID    string `json:"correl_id"`
	InReplyTo   string `json:"in_reply_to"`
	ExtClientID string `json:"ext_client_id"`
}

// Validate implements validation.Validatable.
func (m PublishRequest) Validate() error {
	return validation.ValidateStruct(&m,
		validation.Field(&m.Topic, validation.Required, validation.Length(1, model.MaxPatternLength)),
		validation.Field(&m.Priority, validation.Min(model.MinPriority), validation.Max(model.MaxPriority)),
		validation.Field(&m.Expiration, validation.Min(0)),
		validation.Field(&m.CorrelID, validation.Length(0, 255)),
		validation.Field(&m.InReplyTo, validation.Length(0, 255)),
		validation.Field(&m.ExtClientID, validation.Length(0, 255)),
	)
}

func (m PublishRequest) toBroker(publisher, from string) broker.PublishRequest {
	return broker.PublishRequest{
		Publisher:   publisher,
		From:        from,
		TopicName:   m.Topic,
		Payload:     []byte(m.Data),
		Priority:    m.Priority,
		Expiration:  time.Duration(m.Expiration) * time.Second,
		CorrelID:    m.CorrelID,
		InReplyTo:   m.InReplyTo,
		ExtClientID: m.ExtClientID,
	}
}

// BatchPublishRequest publishes several messages in one call.
type BatchPublishRequest struct {
	Messages []PublishRequest `json:"messages"`
}

// Validate implements validation.Validatable.
func (m BatchPublishRequest) Validate() error {
	return validation.ValidateStruct(&m,
		validation.Field(&m.Messages, validation.Required, validation.Length(1, maxBatchSize)),
	)
}

// BatchItem is the outcome of one message of a batch.
type BatchItem struct {
	Index  int                   `json:"index"`
	Result *broker.PublishResult `json:"result,omitempty"`
	Code   string                `json:"code,omitempty"`
	Error  string                `json:"error,omitempty"`
}

// BatchPublishResponse reports every message of a batch in request order.
type BatchPublishResponse struct {
	Published int         `json:"published"`
	Items     []BatchItem `json:"items"`
}

// SubscribeRequest represents a subscription creation request.
// The endpoint is the authenticated client.
type SubscribeRequest struct {
	TopicPatterns  []string `json:"topic_patterns"`
	SubKey         string   `json:"sub_key"`
	DeliveryMethod string   `json:"delivery_method"`
	PushURL        string   `json:"push_url"`
	MaxDepth       int      `json:"max_depth"`
}

// Validate implements validation.Validatable.
func (m SubscribeRequest) Validate() error {
	return validation.ValidateStruct(&m,
		validation.Field(&m.TopicPatterns, validation.Required,
			validation.Each(validation.Required, validation.Length(1, model.MaxPatternLength))),
		validation.Field(&m.SubKey, validation.Length(0, 255)),
		validation.Field(&m.DeliveryMethod,
			validation.In(string(model.DeliveryPull), string(model.DeliveryNotify), "push")),
		validation.Field(&m.PushURL,
			validation.When(m.DeliveryMethod == string(model.DeliveryNotify) || m.DeliveryMethod == "push",
				validation.Required),
			validation.Length(0, 2048),
			is.URL,
			validation.By(httpScheme)),
		validation.Field(&m.MaxDepth, validation.Min(0)),
	)
}

func httpScheme(value interface{}) error {
	s, _ := value.(string)
	if s == "" {
		return nil
	}
	u, err := url.Parse(s)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.New("must be an http or https URL")
	}
	return nil
}

// GetMessagesRequest fetches queued messages of a pull subscription.
type GetMessagesRequest struct {
	SubKey   string `json:"sub_key"`
	MaxItems int    `json:"max_items"`
}

// Validate implements validation.Validatable.
func (m GetMessagesRequest) Validate() error {
	return validation.ValidateStruct(&m,
		validation.Field(&m.SubKey, validation.Required),
		validation.Field(&m.MaxItems, validation.Min(0), validation.Max(1000)),
	)
}

// AcknowledgeRequest removes delivered messages from a queue.
type AcknowledgeRequest struct {
	SubKey string   `json:"sub_key"`
	MsgIDs []string `json:"msg_ids"`
}

// Validate implements validation.Validatable.
func (m AcknowledgeRequest) Validate() error {
	return validation.ValidateStruct(&m,
		validation.Field(&m.SubKey, validation.Required),
		validation.Field(&m.MsgIDs, validation.Required, validation.Each(validation.Required)),
	)
}

// CreateTopicRequest represents a topic creation request.
type CreateTopicRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	MaxDepth    int    `json:"max_depth"`
	Inactive    bool   `json:"inactive"`
}

// Validate implements validation.Validatable.
func (m CreateTopicRequest) Validate() error {
	return validation.ValidateStruct(&m,
		validation.Field(&m.Name, validation.Required, validation.Length(1, model.MaxPatternLength)),
		validation.Field(&m.Description, validation.Length(0, 1024)),
		validation.Field(&m.MaxDepth, validation.Min(0)),
	)
}

// MessageResponse is a delivered message with its payload as text.
type MessageResponse struct {
	MsgID          string     `json:"msg_id"`
	Topic          string     `json:"topic"`
	Data           string     `json:"data"`
	Priority       int        `json:"priority"`
	Publisher      string     `json:"publisher"`
	PubTime        time.Time  `json:"pub_time"`
	ExpirationTime *time.Time `json:"expiration_time,omitempty"`
	CorrelID       string     `json:"correl_id,omitempty"`
	InReplyTo      string     `json:"in_reply_to,omitempty"`
	ExtClientID    string     `json:"ext_client_id,omitempty"`
}

func newMessageResponse(m *model.Message) MessageResponse {
	resp := MessageResponse{
		MsgID:       m.MsgID,
		Topic:       m.TopicName,
		Data:        string(m.Payload),
		Priority:    m.Priority,
		Publisher:   m.Publisher,
		PubTime:     m.PubTime,
		CorrelID:    m.CorrelID,
		InReplyTo:   m.InReplyTo,
		ExtClientID: m.ExtClientID,
	}
	if m.Expires() {
		exp := m.ExpirationTime
		resp.ExpirationTime = &exp
	}
	return resp
}
