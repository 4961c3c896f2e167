package broker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/coregx/broker/clock"
	"github.com/coregx/broker/model"
	"github.com/coregx/broker/retry"
)

// MessageDeliveryGateway delivers a message to a notify subscription's
// push URL. Implementations return an error for failed deliveries (network
// error, non-2xx response, timeout) to trigger the retry mechanism.
type MessageDeliveryGateway interface {
	DeliverMessage(ctx context.Context, pushURL string, envelope model.Envelope) error
}

// DeliveryWorker pushes queued messages of notify subscriptions and keeps
// the queues tidy.
//
// The worker runs continuously in the background, processing batches at
// regular intervals. Failed pushes are retried with exponential backoff;
// entries that exhaust their attempts are moved to the dead letter store.
//
// Each batch:
//   - Pushes due entries of notify subscriptions
//   - Removes expired and delivered entries
//   - Drops rate limit counters of past periods
//
// Thread safety: Safe for concurrent use. Each batch is processed sequentially.
type DeliveryWorker struct {
	engine              *DeliveryEngine
	limiter             *RateLimiter
	deadLetters         DeadLetterRepository
	gateway             MessageDeliveryGateway
	retryStrategy       retry.Strategy
	logger              Logger
	notificationService NotificationService
	clock               clock.Clock
	batchSize           int
}

// NewDeliveryWorker creates a worker with the provided options.
//
// Required options:
//   - WithEngine: the delivery engine whose queues are served
//   - WithGateway: push transport
//   - WithLogger: logger instance
//
// Optional options:
//   - WithDeadLetters: dead letter store (default: dead letters are only logged)
//   - WithRetryStrategy: custom retry strategy (default: retry.DefaultStrategy())
//   - WithBatchSize: pushes per batch (default: 100)
//   - WithRateLimitCleanup: limiter whose stale counters are dropped each batch
//
// Example:
//
//	worker, err := broker.NewDeliveryWorker(
//	    broker.WithEngine(b.Engine()),
//	    broker.WithGateway(broker.NewWebhookGateway(nil)),
//	    broker.WithLogger(logger),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	go worker.Run(ctx, time.Second)
func NewDeliveryWorker(opts ...Option) (*DeliveryWorker, error) {
	w := &DeliveryWorker{
		retryStrategy:       retry.DefaultStrategy(),
		batchSize:           100,
		notificationService: &NoOpNotificationService{},
		clock:               clock.Real(),
	}

	for _, opt := range opts {
		if err := opt(w); err != nil {
			return nil, NewErrorWithCause(ErrCodeConfiguration, "failed to apply option", err)
		}
	}

	if w.engine == nil {
		return nil, NewError(ErrCodeConfiguration, "DeliveryEngine is required (use WithEngine)")
	}
	if w.gateway == nil {
		return nil, NewError(ErrCodeConfiguration, "MessageDeliveryGateway is required (use WithGateway)")
	}
	if w.logger == nil {
		return nil, NewError(ErrCodeConfiguration, "Logger is required (use WithLogger)")
	}

	return w, nil
}

// ProcessNotifications pushes up to one batch of due entries.
//
// Returns the number of successful pushes. Individual failures are
// recorded on the entry and do not stop the batch.
func (w *DeliveryWorker) ProcessNotifications(ctx context.Context) int {
	due := w.engine.PendingNotifications(w.clock.Now(), w.batchSize)

	delivered := 0
	for i := range due {
		if ctx.Err() != nil {
			break
		}
		if err := w.push(ctx, &due[i]); err != nil {
			w.logger.Debugf("Push of %s to %s failed: %v", due[i].Entry.MsgID(), due[i].Subscription.SubKey, err)
			continue
		}
		delivered++
	}
	return delivered
}

func (w *DeliveryWorker) push(ctx context.Context, d *Delivery) error {
	subKey := d.Subscription.SubKey
	msgID := d.Entry.MsgID()

	// An entry at the threshold is still queued only when its dead letter
	// save failed; retry the save rather than the push.
	if d.Entry.ShouldDeadLetter(w.retryStrategy.DeadLetterAfter) {
		w.moveToDeadLetter(ctx, d.Subscription, d.Entry)
		return NewError(ErrCodeDelivery, fmt.Sprintf("message %s reached the dead letter threshold", msgID))
	}

	if err := d.Entry.CanAttemptDelivery(w.retryStrategy.MaxAttempts, w.clock.Now()); err != nil {
		if errors.Is(err, model.ErrMaxAttemptsExceeded) {
			w.moveToDeadLetter(ctx, d.Subscription, d.Entry)
		}
		return err
	}

	envelope := model.NewEnvelope(d.Entry.Message, subKey, d.Entry.AttemptCount+1)
	if err := w.gateway.DeliverMessage(ctx, d.Subscription.PushURL, envelope); err != nil {
		w.handleDeliveryFailure(ctx, d, err)
		return NewErrorWithCause(ErrCodeDelivery, "push failed", err)
	}

	if err := w.engine.ConfirmDelivery(subKey, msgID); err != nil {
		// The subscription or entry went away while the push was in flight.
		w.logger.Debugf("Delivered %s but could not confirm on %s: %v", msgID, subKey, err)
		return nil
	}
	w.logger.Infof("Pushed message %s to %s (attempts=%d)", msgID, subKey, d.Entry.AttemptCount+1)
	return nil
}

// handleDeliveryFailure records the failed attempt and either schedules
// the next one or dead-letters the entry.
func (w *DeliveryWorker) handleDeliveryFailure(ctx context.Context, d *Delivery, deliveryErr error) {
	subKey := d.Subscription.SubKey
	decision := w.retryStrategy.Decide(d.Entry.AttemptCount + 1)

	entry, err := w.engine.RecordFailure(subKey, d.Entry.MsgID(), deliveryErr, decision.RetryAfter)
	if err != nil {
		w.logger.Debugf("Could not record failure of %s on %s: %v", d.Entry.MsgID(), subKey, err)
		return
	}

	if err := w.notificationService.NotifyDeliveryFailure(ctx, entry, deliveryErr); err != nil {
		w.logger.Warnf("Failed to send delivery failure notification: %v", err)
	}

	if decision.DeadLetter {
		w.moveToDeadLetter(ctx, d.Subscription, entry)
		return
	}

	w.logger.Warnf("Push of %s to %s failed (attempts=%d, next attempt in %v): %v",
		entry.MsgID(), subKey, entry.AttemptCount, decision.RetryAfter, deliveryErr)
}

// moveToDeadLetter stores the entry in the dead letter store and removes
// it from its queue.
func (w *DeliveryWorker) moveToDeadLetter(ctx context.Context, sub *model.Subscription, entry model.EnqueuedMessage) {
	reason := fmt.Sprintf("max delivery attempts exceeded (%d >= %d)",
		entry.AttemptCount, w.retryStrategy.DeadLetterAfter)
	dl := model.NewDeadLetter(&entry, sub.PushURL, reason, w.clock.Now())

	if w.deadLetters != nil {
		saved, err := w.deadLetters.Save(ctx, dl)
		if err != nil {
			// Keep the entry queued so the next batch tries again.
			w.logger.Errorf("Failed to save dead letter for %s on %s: %v", entry.MsgID(), sub.SubKey, err)
			return
		}
		dl = saved
	}

	w.engine.Remove(sub.SubKey, entry.MsgID())
	w.logger.Warnf("Moved message %s of %s to dead letters (id=%d, attempts=%d)",
		entry.MsgID(), sub.SubKey, dl.ID, entry.AttemptCount)

	if err := w.notificationService.NotifyDeadLettered(ctx, dl); err != nil {
		w.logger.Warnf("Failed to send dead letter notification: %v", err)
	}
}

// SweepResult counts what one Sweep removed.
type SweepResult struct {
	Expired   int
	Delivered int
	Counters  int
}

// Sweep removes expired and delivered entries and stale rate limit counters.
func (w *DeliveryWorker) Sweep(cid string) SweepResult {
	now := w.clock.Now()
	result := SweepResult{
		Expired:   w.engine.DeleteExpired(cid, now),
		Delivered: w.engine.DeleteDelivered(cid),
	}
	if w.limiter != nil {
		result.Counters = w.limiter.Cleanup(now)
	}
	return result
}

// Run starts the worker loop. It runs until the context is canceled,
// processing one batch per interval.
//
// This method blocks and should typically be run in a goroutine.
func (w *DeliveryWorker) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	w.logger.Info("Delivery worker started")

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Delivery worker stopped")
			return
		case <-ticker.C:
			w.processBatch(ctx)
		}
	}
}

func (w *DeliveryWorker) processBatch(ctx context.Context) {
	cid := uuid.NewString()

	pushed := w.ProcessNotifications(ctx)
	swept := w.Sweep(cid)

	if pushed > 0 || swept.Expired > 0 || swept.Delivered > 0 {
		w.logger.Infof("[%s] Batch processed: pushed=%d, expired=%d, delivered=%d, counters=%d",
			cid, pushed, swept.Expired, swept.Delivered, swept.Counters)
	}
}

// RetrySchedule returns a human-readable description of the retry schedule.
func (w *DeliveryWorker) RetrySchedule() string {
	return w.retryStrategy.Schedule()
}

// DeadLetterStats retrieves dead letter counts for monitoring.
// Returns ErrNoData when the worker has no dead letter store.
func (w *DeliveryWorker) DeadLetterStats(ctx context.Context) (model.DeadLetterStats, error) {
	if w.deadLetters == nil {
		return model.DeadLetterStats{}, ErrNoData
	}
	return w.deadLetters.GetStats(ctx)
}
