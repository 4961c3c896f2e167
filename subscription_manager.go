package broker

import (
	"context"

	"github.com/coregx/broker/model"
)

// Subscribe registers a subscription for req.EndpointID. The call counts
// against the endpoint's rate limit like a publish does.
func (b *Broker) Subscribe(ctx context.Context, cid, from string, req SubscriptionRequest) (model.Subscription, error) {
	if err := b.limiter.Check(cid, RateLimitObjectClient, req.EndpointID, from); err != nil {
		return model.Subscription{}, err
	}

	sub, err := b.registry.RegisterSubscription(cid, req)
	if err != nil {
		return model.Subscription{}, err
	}

	if repo := b.store.Subscriptions; repo != nil {
		if _, err := repo.Save(ctx, sub); err != nil {
			_ = b.registry.Unsubscribe(cid, sub.SubKey)
			return model.Subscription{}, NewErrorWithCause(ErrCodeDatabase, "failed to save subscription", err)
		}
	}

	if err := b.notifications.NotifySubscriptionCreated(ctx, sub); err != nil {
		b.logger.Warnf("[%s] Failed to send subscription notification: %v", cid, err)
	}
	return sub, nil
}

// Unsubscribe removes a subscription and purges its queue.
func (b *Broker) Unsubscribe(ctx context.Context, cid, subKey string) error {
	sub, err := b.registry.GetSubscription(subKey)
	if err != nil {
		return err
	}
	if repo := b.store.Subscriptions; repo != nil {
		if err := repo.Delete(ctx, subKey); err != nil && !IsNoData(err) {
			return NewErrorWithCause(ErrCodeDatabase, "failed to delete subscription", err)
		}
	}
	if err := b.engine.Unsubscribe(cid, subKey); err != nil {
		return err
	}

	if err := b.notifications.NotifySubscriptionRemoved(ctx, sub); err != nil {
		b.logger.Warnf("[%s] Failed to send subscription notification: %v", cid, err)
	}
	return nil
}

// GetSubscription returns a subscription by sub key.
func (b *Broker) GetSubscription(subKey string) (model.Subscription, error) {
	return b.registry.GetSubscription(subKey)
}

// ListSubscriptions returns the subscriptions of endpointID, or all when empty.
func (b *Broker) ListSubscriptions(endpointID string) []model.Subscription {
	return b.registry.ListSubscriptions(endpointID)
}

// persistSubscriptions writes the current state of the given
// subscriptions, deleting those the registry no longer holds.
func (b *Broker) persistSubscriptions(ctx context.Context, cid string, subKeys []string) {
	repo := b.store.Subscriptions
	if repo == nil {
		return
	}
	for _, subKey := range subKeys {
		sub, err := b.registry.GetSubscription(subKey)
		if err != nil {
			if err := repo.Delete(ctx, subKey); err != nil && !IsNoData(err) {
				b.logger.Errorf("[%s] Failed to delete subscription %s: %v", cid, subKey, err)
			}
			continue
		}
		if _, err := repo.Save(ctx, sub); err != nil {
			b.logger.Errorf("[%s] Failed to save subscription %s: %v", cid, subKey, err)
		}
	}
}

func (b *Broker) subscriptionsReferencing(topic string) []string {
	var keys []string
	for _, sub := range b.registry.ListSubscriptions("") {
		if sub.ReferencesExactly(topic) {
			keys = append(keys, sub.SubKey)
		}
	}
	return keys
}
