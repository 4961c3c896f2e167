package broker

import (
	"fmt"
	"net/netip"
	"strings"
	"sync"
	"time"

	"github.com/coregx/broker/cache"
	"github.com/coregx/broker/clock"
	"github.com/coregx/broker/model"
)

// NetworkAny is the catch-all rule source.
const NetworkAny = "*"

// Object types limited by the broker itself.
const (
	RateLimitObjectClient = "client"
)

// RateLimitKey identifies one counter window.
type RateLimitKey struct {
	ObjectType string
	ObjectID   string
	Period     string
	Network    string
}

type compiledRule struct {
	rule     model.RateLimitRule
	prefix   netip.Prefix
	catchAll bool
}

func (r compiledRule) contains(addr netip.Addr, ok bool) bool {
	if r.catchAll {
		return true
	}
	return ok && r.prefix.Contains(addr)
}

type definitionKey struct {
	objectType string
	objectID   string
}

// RateLimiter counts requests per object, period and network and rejects
// calls over the configured rate.
//
// Counters live in a bounded cache. A counter that is evicted starts again
// from zero, so under memory pressure the limiter errs on the side of
// allowing requests.
type RateLimiter struct {
	mu          sync.RWMutex
	definitions map[definitionKey][]compiledRule
	state       *cache.Cache[RateLimitKey, model.RateLimitState]
	clock       clock.Clock
	logger      Logger
}

// RateLimiterOption configures a RateLimiter.
type RateLimiterOption func(*RateLimiter) error

// WithRateLimitCache sets the counter store. Default is a FIFO cache of
// cache.DefaultMaxSize entries.
func WithRateLimitCache(c *cache.Cache[RateLimitKey, model.RateLimitState]) RateLimiterOption {
	return func(r *RateLimiter) error {
		if c == nil {
			return fmt.Errorf("rate limit cache cannot be nil")
		}
		r.state = c
		return nil
	}
}

// WithRateLimitClock sets the time source. Default is clock.Real().
func WithRateLimitClock(c clock.Clock) RateLimiterOption {
	return func(r *RateLimiter) error {
		if c == nil {
			return fmt.Errorf("clock cannot be nil")
		}
		r.clock = c
		return nil
	}
}

// WithRateLimitLogger sets the logger. Default is NoopLogger.
func WithRateLimitLogger(logger Logger) RateLimiterOption {
	return func(r *RateLimiter) error {
		if logger == nil {
			return fmt.Errorf("logger cannot be nil")
		}
		r.logger = logger
		return nil
	}
}

// NewRateLimiter creates a limiter with no definitions; nothing is limited
// until SetDefinition is called.
func NewRateLimiter(opts ...RateLimiterOption) (*RateLimiter, error) {
	r := &RateLimiter{
		definitions: make(map[definitionKey][]compiledRule),
		clock:       clock.Real(),
		logger:      &NoopLogger{},
	}
	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, NewErrorWithCause(ErrCodeConfiguration, "failed to apply rate limiter option", err)
		}
	}
	if r.state == nil {
		c, err := cache.New[RateLimitKey, model.RateLimitState]()
		if err != nil {
			return nil, NewErrorWithCause(ErrCodeConfiguration, "failed to create rate limit cache", err)
		}
		r.state = c
	}
	return r, nil
}

// SetDefinition installs or replaces the rules of one object.
func (r *RateLimiter) SetDefinition(def model.RateLimitDefinition) error {
	if def.ObjectType == "" || def.ObjectID == "" {
		return NewError(ErrCodeValidation, "object type and object id are required")
	}

	rules := make([]compiledRule, 0, len(def.Rules))
	for _, rule := range def.Rules {
		compiled, err := compileRule(rule)
		if err != nil {
			return err
		}
		rules = append(rules, compiled)
	}

	r.mu.Lock()
	r.definitions[definitionKey{def.ObjectType, def.ObjectID}] = rules
	r.mu.Unlock()
	return nil
}

// RemoveDefinition drops the rules of one object. Its counters age out
// with Cleanup or eviction.
func (r *RateLimiter) RemoveDefinition(objectType, objectID string) bool {
	key := definitionKey{objectType, objectID}
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.definitions[key]
	delete(r.definitions, key)
	return ok
}

// Definition returns the rules of one object.
func (r *RateLimiter) Definition(objectType, objectID string) (model.RateLimitDefinition, bool) {
	r.mu.RLock()
	rules, ok := r.definitions[definitionKey{objectType, objectID}]
	r.mu.RUnlock()
	if !ok {
		return model.RateLimitDefinition{}, false
	}

	def := model.RateLimitDefinition{ObjectType: objectType, ObjectID: objectID}
	for _, rule := range rules {
		def.Rules = append(def.Rules, rule.rule)
	}
	return def, true
}

// CurrentState returns the counter stored under key.
func (r *RateLimiter) CurrentState(key RateLimitKey) (model.RateLimitState, bool) {
	return r.state.Get(key)
}

// Increment adds one request to the counter under key and records the
// caller's correlation id and address.
func (r *RateLimiter) Increment(key RateLimitKey, cid, from string) model.RateLimitState {
	now := r.clock.Now()
	return r.state.Update(key, func(old model.RateLimitState, _ bool) model.RateLimitState {
		return bump(old, key, cid, from, now)
	})
}

// Check admits or rejects one request of objectID coming from address
// from. Objects without a definition are never limited. The first rule
// whose network contains from applies; if none does, the request is
// rejected with ADDRESS_NOT_ALLOWED.
func (r *RateLimiter) Check(cid, objectType, objectID, from string) error {
	r.mu.RLock()
	rules, ok := r.definitions[definitionKey{objectType, objectID}]
	r.mu.RUnlock()
	if !ok {
		return nil
	}

	addr, addrErr := netip.ParseAddr(stripPort(from))
	var rule *compiledRule
	for i := range rules {
		if rules[i].contains(addr, addrErr == nil) {
			rule = &rules[i]
			break
		}
	}
	if rule == nil {
		r.logger.Warnf("[%s] Address %q not allowed for %s %s", cid, from, objectType, objectID)
		return NewError(ErrCodeAddressNotAllowed, fmt.Sprintf("address %s not allowed", from))
	}
	if rule.rule.Rate == 0 {
		return nil
	}

	now := r.clock.Now()
	key := RateLimitKey{
		ObjectType: objectType,
		ObjectID:   objectID,
		Period:     rule.rule.Unit.PeriodKey(now),
		Network:    rule.rule.From,
	}

	exceeded := false
	r.state.Update(key, func(old model.RateLimitState, _ bool) model.RateLimitState {
		if old.Requests >= rule.rule.Rate {
			exceeded = true
			return old
		}
		return bump(old, key, cid, from, now)
	})

	if exceeded {
		r.logger.Infof("[%s] Rate limit exceeded for %s %s (%d/%s)",
			cid, objectType, objectID, rule.rule.Rate, rule.rule.Unit)
		return NewError(ErrCodeRateLimitExceeded,
			fmt.Sprintf("rate limit of %d per %s exceeded", rule.rule.Rate, rule.rule.Unit))
	}
	return nil
}

// Cleanup removes counters of periods that ended before now and returns
// how many were removed.
func (r *RateLimiter) Cleanup(now time.Time) int {
	return r.state.DeleteFunc(func(key RateLimitKey, _ model.RateLimitState) bool {
		unit, ok := periodUnitOf(key.Period)
		if !ok {
			return true
		}
		return key.Period != unit.PeriodKey(now)
	})
}

// Len returns the number of live counters.
func (r *RateLimiter) Len() int {
	return r.state.Len()
}

func bump(old model.RateLimitState, key RateLimitKey, cid, from string, now time.Time) model.RateLimitState {
	old.ObjectType = key.ObjectType
	old.ObjectID = key.ObjectID
	old.Period = key.Period
	old.Network = key.Network
	old.Requests++
	old.LastCID = cid
	old.LastFrom = from
	old.LastRequestTime = now
	return old
}

func compileRule(rule model.RateLimitRule) (compiledRule, error) {
	if rule.Rate < 0 {
		return compiledRule{}, NewError(ErrCodeValidation, fmt.Sprintf("rate must be >= 0, got %d", rule.Rate))
	}
	switch rule.Unit {
	case model.PeriodMinute, model.PeriodHour, model.PeriodDay:
	default:
		return compiledRule{}, NewError(ErrCodeValidation, fmt.Sprintf("unknown period unit %q", rule.Unit))
	}

	from := strings.TrimSpace(rule.From)
	if from == "" || from == NetworkAny {
		rule.From = NetworkAny
		return compiledRule{rule: rule, catchAll: true}, nil
	}

	if strings.Contains(from, "/") {
		prefix, err := netip.ParsePrefix(from)
		if err != nil {
			return compiledRule{}, NewErrorWithCause(ErrCodeValidation, fmt.Sprintf("invalid network %q", from), err)
		}
		return compiledRule{rule: rule, prefix: prefix.Masked()}, nil
	}

	addr, err := netip.ParseAddr(from)
	if err != nil {
		return compiledRule{}, NewErrorWithCause(ErrCodeValidation, fmt.Sprintf("invalid address %q", from), err)
	}
	return compiledRule{rule: rule, prefix: netip.PrefixFrom(addr, addr.BitLen())}, nil
}

func periodUnitOf(period string) (model.PeriodUnit, bool) {
	switch {
	case strings.HasPrefix(period, "m."):
		return model.PeriodMinute, true
	case strings.HasPrefix(period, "h."):
		return model.PeriodHour, true
	case strings.HasPrefix(period, "d."):
		return model.PeriodDay, true
	}
	return "", false
}

// stripPort accepts "host:port" and "[v6]:port" as well as bare addresses.
func stripPort(from string) string {
	if ap, err := netip.ParseAddrPort(from); err == nil {
		return ap.Addr().String()
	}
	return from
}
