// Package broker provides an embeddable publish/subscribe broker for Go with
// pattern-based permissions, per-client rate limiting and bounded
// per-subscription queues.
//
// Works both as a library for embedding in your application AND as a standalone
// service with a REST API (cmd/broker-server).
//
// # Features
//
//   - Topic patterns with "*" (one segment) and "**" (any number of segments)
//   - Per-client publish and subscribe permissions, most specific pattern first
//   - Rate limits per client and source network, by minute, hour or day
//   - Bounded FIFO or LRU caches for rate counters and subscription lookups
//   - Priority-ordered queues with expiration and an all-or-nothing depth check
//   - Pull delivery (GetMessages) and push delivery over webhooks
//   - Exponential backoff for pushes and a dead letter store for exhausted ones
//   - Write-through persistence of clients, topics, subscriptions and rate limits
//   - Multi-Database Support: MySQL, PostgreSQL, SQLite via Relica adapters
//   - Embedded Migrations for easy database setup
//
// # Components
//
// A Broker wires four components that can also be used on their own:
//
//   - PatternMatcher decides whether a client may publish or subscribe
//   - RateLimiter counts requests per period in an EvictingCache (package cache)
//   - TopicRegistry holds topics and subscriptions
//   - DeliveryEngine fans published messages out to subscription queues
//
// A DeliveryWorker drives push delivery and periodic cleanup.
//
// # Quick Start
//
// In memory:
//
//	b, err := broker.New()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	ctx := context.Background()
//	_ = b.AddClient(ctx, cid, "orders-svc", []model.Permission{
//	    {Pattern: "orders.*", AccessType: model.AccessPublisher},
//	})
//	_ = b.AddClient(ctx, cid, "billing", []model.Permission{
//	    {Pattern: "orders.**", AccessType: model.AccessSubscriber},
//	})
//	_, _ = b.CreateTopic(ctx, cid, "admin", "orders.created")
//
//	sub, _ := b.Subscribe(ctx, cid, "", broker.SubscriptionRequest{
//	    EndpointID:    "billing",
//	    TopicPatterns: []string{"orders.*"},
//	})
//
//	_, err = b.Publish(cid, broker.PublishRequest{
//	    Publisher: "orders-svc",
//	    TopicName: "orders.created",
//	    Payload:   []byte(`{"id":42}`),
//	})
//
//	msgs, _ := b.GetMessages(sub.SubKey, 10)
//
// With a database, apply the embedded migrations and pass a Store:
//
//	db, err := broker.OpenDatabase("sqlite:///var/lib/broker.db")
//	if err := broker.Migrate(ctx, db); err != nil {
//	    log.Fatal(err)
//	}
//	b, err := broker.New(broker.WithStore(relica.NewStore(db.DB, db.DriverName())))
//	if err := b.Load(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// Push delivery:
//
//	worker, _ := broker.NewDeliveryWorker(
//	    broker.WithEngine(b.Engine()),
//	    broker.WithGateway(broker.NewWebhookGateway(nil)),
//	    broker.WithLogger(logger),
//	    broker.WithRateLimitCleanup(b.RateLimiter()),
//	)
//	go worker.Run(ctx, time.Second)
//
// # Errors
//
// Operations return *Error values carrying a code (ErrCodePermissionDenied,
// ErrCodeQueueDepthExceeded, ...). They compare equal to the sentinel of
// their code with errors.Is:
//
//	if errors.Is(err, broker.ErrRateLimitExceeded) {
//	    // back off
//	}
//
// # Thread Safety
//
// All exported types are safe for concurrent use.
package broker
