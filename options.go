package broker

import (
	"fmt"

	"github.com/coregx/broker/clock"
	"github.com/coregx/broker/retry"
)

// Option is a function that configures a DeliveryWorker.
//
// Example:
//
//	worker, err := broker.NewDeliveryWorker(
//	    broker.WithEngine(engine),
//	    broker.WithGateway(gateway),
//	    broker.WithLogger(logger),
//	    broker.WithBatchSize(200), // optional
//	)
type Option func(*DeliveryWorker) error

// WithEngine sets the delivery engine whose notify queues the worker pushes.
//
// This is a required option for NewDeliveryWorker.
func WithEngine(engine *DeliveryEngine) Option {
	return func(w *DeliveryWorker) error {
		if engine == nil {
			return fmt.Errorf("engine cannot be nil")
		}
		w.engine = engine
		return nil
	}
}

// WithGateway sets the push transport.
//
// This is a required option for NewDeliveryWorker.
func WithGateway(gateway MessageDeliveryGateway) Option {
	return func(w *DeliveryWorker) error {
		if gateway == nil {
			return fmt.Errorf("gateway cannot be nil")
		}
		w.gateway = gateway
		return nil
	}
}

// WithLogger sets the logger instance for the worker.
// Logger is required and must not be nil.
//
// Use NoopLogger for silent operation or NewSlogLogger to log through slog.
func WithLogger(logger Logger) Option {
	return func(w *DeliveryWorker) error {
		if logger == nil {
			return fmt.Errorf("logger cannot be nil")
		}
		w.logger = logger
		return nil
	}
}

// WithDeadLetters sets the store for entries that exhaust their attempts.
// Without one, such entries are logged and dropped.
func WithDeadLetters(repo DeadLetterRepository) Option {
	return func(w *DeliveryWorker) error {
		if repo == nil {
			return fmt.Errorf("dead letter repository cannot be nil")
		}
		w.deadLetters = repo
		return nil
	}
}

// WithRetryStrategy sets a custom retry strategy.
// The default is retry.DefaultStrategy().
func WithRetryStrategy(strategy retry.Strategy) Option {
	return func(w *DeliveryWorker) error {
		if err := strategy.Validate(); err != nil {
			return err
		}
		w.retryStrategy = strategy
		return nil
	}
}

// WithBatchSize sets the number of pushes per batch. Default is 100.
// Must be > 0.
func WithBatchSize(size int) Option {
	return func(w *DeliveryWorker) error {
		if size <= 0 {
			return fmt.Errorf("batch size must be > 0, got %d", size)
		}
		w.batchSize = size
		return nil
	}
}

// WithNotifications sets a notification service for failed pushes and
// dead letters. Default is NoOpNotificationService.
func WithNotifications(service NotificationService) Option {
	return func(w *DeliveryWorker) error {
		if service == nil {
			return fmt.Errorf("notification service cannot be nil")
		}
		w.notificationService = service
		return nil
	}
}

// WithRateLimitCleanup makes each batch drop counters of past periods.
func WithRateLimitCleanup(limiter *RateLimiter) Option {
	return func(w *DeliveryWorker) error {
		if limiter == nil {
			return fmt.Errorf("rate limiter cannot be nil")
		}
		w.limiter = limiter
		return nil
	}
}

// WithWorkerClock sets the time source. Default is clock.Real().
func WithWorkerClock(c clock.Clock) Option {
	return func(w *DeliveryWorker) error {
		if c == nil {
			return fmt.Errorf("clock cannot be nil")
		}
		w.clock = c
		return nil
	}
}
