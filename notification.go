package broker

import (
	"context"

	"github.com/coregx/broker/model"
)

// NotificationService defines an optional interface for sending notifications
// about broker events (failed pushes, dead letters, subscription changes).
//
// Implementations might send emails, Slack messages, SMS, or log to monitoring systems.
type NotificationService interface {
	// NotifyDeadLettered is called when a pushed message is moved to the
	// dead letter store after exhausting its attempts.
	NotifyDeadLettered(ctx context.Context, dl model.DeadLetter) error

	// NotifyDeliveryFailure is called after every failed push attempt.
	NotifyDeliveryFailure(ctx context.Context, entry model.EnqueuedMessage, err error) error

	// NotifySubscriptionCreated is called when a subscription is registered.
	NotifySubscriptionCreated(ctx context.Context, sub model.Subscription) error

	// NotifySubscriptionRemoved is called when a subscription is removed.
	NotifySubscriptionRemoved(ctx context.Context, sub model.Subscription) error
}

// NoOpNotificationService is a no-op implementation of NotificationService.
// Use this when notifications are not needed.
type NoOpNotificationService struct{}

// NotifyDeadLettered does nothing.
func (n *NoOpNotificationService) NotifyDeadLettered(_ context.Context, _ model.DeadLetter) error {
	return nil
}

// NotifyDeliveryFailure does nothing.
func (n *NoOpNotificationService) NotifyDeliveryFailure(_ context.Context, _ model.EnqueuedMessage, _ error) error {
	return nil
}

// NotifySubscriptionCreated does nothing.
func (n *NoOpNotificationService) NotifySubscriptionCreated(_ context.Context, _ model.Subscription) error {
	return nil
}

// NotifySubscriptionRemoved does nothing.
func (n *NoOpNotificationService) NotifySubscriptionRemoved(_ context.Context, _ model.Subscription) error {
	return nil
}

// LoggingNotificationService is a simple implementation that logs notifications.
type LoggingNotificationService struct {
	logger Logger
}

// NewLoggingNotificationService creates a new LoggingNotificationService.
func NewLoggingNotificationService(logger Logger) *LoggingNotificationService {
	return &LoggingNotificationService{logger: logger}
}

// NotifyDeadLettered logs the dead letter.
func (n *LoggingNotificationService) NotifyDeadLettered(_ context.Context, dl model.DeadLetter) error {
	n.logger.Warnf("Message dead-lettered: msg_id=%s, sub_key=%s, topic=%s, attempts=%d, reason=%s",
		dl.MsgID, dl.SubKey, dl.TopicName, dl.AttemptCount, dl.FailureReason)
	return nil
}

// NotifyDeliveryFailure logs the failed push.
func (n *LoggingNotificationService) NotifyDeliveryFailure(_ context.Context, entry model.EnqueuedMessage, err error) error {
	n.logger.Warnf("Push failed: msg_id=%s, sub_key=%s, attempt=%d, next_attempt=%s, error=%v",
		entry.MsgID(), entry.SubKey, entry.AttemptCount, entry.NextAttemptAt.Format("15:04:05"), err)
	return nil
}

// NotifySubscriptionCreated logs the new subscription.
func (n *LoggingNotificationService) NotifySubscriptionCreated(_ context.Context, sub model.Subscription) error {
	n.logger.Infof("Subscription created: sub_key=%s, endpoint=%s, method=%s",
		sub.SubKey, sub.EndpointID, sub.DeliveryMethod)
	return nil
}

// NotifySubscriptionRemoved logs the removed subscription.
func (n *LoggingNotificationService) NotifySubscriptionRemoved(_ context.Context, sub model.Subscription) error {
	n.logger.Infof("Subscription removed: sub_key=%s, endpoint=%s", sub.SubKey, sub.EndpointID)
	return nil
}
