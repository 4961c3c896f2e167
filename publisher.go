package broker

import (
	"github.com/coregx/broker/model"
)

// Publish publishes a message. See DeliveryEngine.Publish.
func (b *Broker) Publish(cid string, req PublishRequest) (PublishResult, error) {
	return b.engine.Publish(cid, req)
}

// GetMessages fetches pending messages of a subscription.
func (b *Broker) GetMessages(subKey string, maxItems int) ([]model.Message, error) {
	return b.engine.GetMessages(subKey, maxItems)
}

// Acknowledge removes delivered messages of a subscription.
func (b *Broker) Acknowledge(subKey string, msgIDs []string) (int, error) {
	return b.engine.Acknowledge(subKey, msgIDs)
}

// BatchResult is the outcome of one request of a PublishBatch.
type BatchResult struct {
	Index  int
	Result PublishResult
	Err    error
}

// PublishBatch publishes the requests in order. A failed request is
// logged and does not stop the batch.
func (b *Broker) PublishBatch(cid string, requests []PublishRequest) []BatchResult {
	results := make([]BatchResult, 0, len(requests))
	for i, req := range requests {
		result, err := b.engine.Publish(cid, req)
		if err != nil {
			b.logger.Errorf("[%s] Failed to publish message %d of batch (topic=%s, publisher=%s): %v",
				cid, i, req.TopicName, req.Publisher, err)
		}
		results = append(results, BatchResult{Index: i, Result: result, Err: err})
	}
	return results
}
