package model

import "time"

// Envelope is the JSON document handed to subscribers, both for pull
// responses and for pushes to a PushURL.
type Envelope struct {
	MsgID          string    `json:"msg_id"`
	TopicName      string    `json:"topic_name"`
	Data           string    `json:"data"`
	Size           int       `json:"size"`
	Priority       int       `json:"priority"`
	PubTime        time.Time `json:"pub_time"`
	ExpirationTime time.Time `json:"expiration_time,omitzero"`
	CorrelID       string    `json:"correl_id,omitempty"`
	InReplyTo      string    `json:"in_reply_to,omitempty"`
	ExtClientID    string    `json:"ext_client_id,omitempty"`
	SubKey         string    `json:"sub_key,omitempty"`
	DeliveryCount  int       `json:"delivery_count,omitempty"`
}

// NewEnvelope renders msg for delivery under subKey.
func NewEnvelope(msg *Message, subKey string, deliveryCount int) Envelope {
	return Envelope{
		MsgID:          msg.MsgID,
		TopicName:      msg.TopicName,
		Data:           string(msg.Payload),
		Size:           msg.Size(),
		Priority:       msg.Priority,
		PubTime:        msg.PubTime,
		ExpirationTime: msg.ExpirationTime,
		CorrelID:       msg.CorrelID,
		InReplyTo:      msg.InReplyTo,
		ExtClientID:    msg.ExtClientID,
		SubKey:         subKey,
		DeliveryCount:  deliveryCount,
	}
}
