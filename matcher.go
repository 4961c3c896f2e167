package broker

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/coregx/broker/model"
)

// Evaluation reasons.
const (
	ReasonUnknownClient = "unknown client"
	ReasonInvalidAction = "invalid action"
	ReasonNoMatch       = "no matching pattern"
)

// EvaluationResult is the outcome of a permission check.
//
// Reason never mentions patterns of other clients. On success
// MatchedPattern holds the permission pattern that authorized the call.
type EvaluationResult struct {
	IsOK           bool   `json:"is_ok"`
	Reason         string `json:"reason"`
	MatchedPattern string `json:"matched_pattern,omitempty"`
}

// Err converts a negative result into a PermissionDenied error.
func (r EvaluationResult) Err() error {
	if r.IsOK {
		return nil
	}
	return NewError(ErrCodePermissionDenied, r.Reason)
}

func allowed(p model.Pattern) EvaluationResult {
	return EvaluationResult{
		IsOK:           true,
		Reason:         "matched pattern " + p.String(),
		MatchedPattern: p.String(),
	}
}

func denied(reason string) EvaluationResult {
	return EvaluationResult{Reason: reason}
}

// permissionSet is an immutable snapshot of one client's permissions.
// publish and subscribe hold the patterns authorizing each action, exact
// patterns first, then wildcard patterns, each group in alphabetical order.
type permissionSet struct {
	permissions []model.Permission
	publish     []model.Pattern
	subscribe   []model.Pattern
}

func compilePermissions(perms []model.Permission) (*permissionSet, error) {
	set := &permissionSet{permissions: append([]model.Permission(nil), perms...)}

	for _, perm := range perms {
		if !perm.AccessType.Valid() {
			return nil, NewError(ErrCodeValidation,
				fmt.Sprintf("invalid access type %q for pattern %q", perm.AccessType, perm.Pattern))
		}
		p, err := model.ParsePattern(perm.Pattern)
		if err != nil {
			return nil, NewErrorWithCause(ErrCodeInvalidPattern,
				fmt.Sprintf("invalid pattern %q", perm.Pattern), err)
		}
		if perm.AccessType.Allows(model.ActionPublish) {
			set.publish = append(set.publish, p)
		}
		if perm.AccessType.Allows(model.ActionSubscribe) {
			set.subscribe = append(set.subscribe, p)
		}
	}

	slices.SortStableFunc(set.publish, comparePatterns)
	slices.SortStableFunc(set.subscribe, comparePatterns)
	return set, nil
}

func comparePatterns(a, b model.Pattern) int {
	if a.HasWildcards() != b.HasWildcards() {
		if a.HasWildcards() {
			return 1
		}
		return -1
	}
	return cmp.Compare(strings.ToLower(a.String()), strings.ToLower(b.String()))
}

func (s *permissionSet) patternsFor(action model.Action) []model.Pattern {
	if action == model.ActionPublish {
		return s.publish
	}
	return s.subscribe
}

type clientEntry struct {
	mu    sync.Mutex // serializes read-modify-write of perms
	perms atomic.Pointer[permissionSet]
}

// PatternMatcher decides whether a client may publish to or subscribe to
// a topic, based on the client's ordered permission list.
//
// The client table is guarded by a read/write lock held only for lookups
// and inserts. Each client's permissions are an immutable snapshot swapped
// atomically, so evaluations never observe a partially replaced list.
type PatternMatcher struct {
	mu      sync.RWMutex
	clients map[string]*clientEntry
	logger  Logger
}

// MatcherOption configures a PatternMatcher.
type MatcherOption func(*PatternMatcher) error

// WithMatcherLogger sets the logger. Default is NoopLogger.
func WithMatcherLogger(logger Logger) MatcherOption {
	return func(m *PatternMatcher) error {
		if logger == nil {
			return fmt.Errorf("logger cannot be nil")
		}
		m.logger = logger
		return nil
	}
}

// NewPatternMatcher creates an empty matcher.
func NewPatternMatcher(opts ...MatcherOption) (*PatternMatcher, error) {
	m := &PatternMatcher{
		clients: make(map[string]*clientEntry),
		logger:  &NoopLogger{},
	}
	for _, opt := range opts {
		if err := opt(m); err != nil {
			return nil, NewErrorWithCause(ErrCodeConfiguration, "failed to apply matcher option", err)
		}
	}
	return m, nil
}

// AddClient registers clientID with perms, replacing any previous list.
// Every pattern is validated before anything changes.
func (m *PatternMatcher) AddClient(clientID string, perms []model.Permission) error {
	if clientID == "" {
		return NewError(ErrCodeValidation, "client id is required")
	}
	set, err := compilePermissions(perms)
	if err != nil {
		return err
	}

	// m.mu stays held across the store so a concurrent RemoveClient
	// cannot drop the entry in between. Lock order is m.mu, entry.mu.
	m.mu.Lock()
	entry, ok := m.clients[clientID]
	if !ok {
		entry = &clientEntry{}
		entry.perms.Store(set)
		m.clients[clientID] = entry
		m.mu.Unlock()
		m.logger.Debugf("Client %s registered with %d permissions", clientID, len(perms))
		return nil
	}
	entry.mu.Lock()
	entry.perms.Store(set)
	entry.mu.Unlock()
	m.mu.Unlock()

	m.logger.Debugf("Client %s permissions replaced (%d permissions)", clientID, len(perms))
	return nil
}

// RemoveClient forgets clientID. It reports whether the client existed.
func (m *PatternMatcher) RemoveClient(clientID string) bool {
	m.mu.Lock()
	_, ok := m.clients[clientID]
	delete(m.clients, clientID)
	m.mu.Unlock()
	return ok
}

// HasClient reports whether clientID is registered.
func (m *PatternMatcher) HasClient(clientID string) bool {
	return m.entry(clientID) != nil
}

// ClientCount returns the number of registered clients.
func (m *PatternMatcher) ClientCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.clients)
}

// Clients returns the registered client ids in sorted order.
func (m *PatternMatcher) Clients() []string {
	m.mu.RLock()
	ids := make([]string, 0, len(m.clients))
	for id := range m.clients {
		ids = append(ids, id)
	}
	m.mu.RUnlock()
	slices.Sort(ids)
	return ids
}

// Permissions returns a copy of the client's permission list.
func (m *PatternMatcher) Permissions(clientID string) ([]model.Permission, bool) {
	entry := m.entry(clientID)
	if entry == nil {
		return nil, false
	}
	return append([]model.Permission(nil), entry.perms.Load().permissions...), true
}

// Evaluate checks whether clientID may perform action on topic.
func (m *PatternMatcher) Evaluate(clientID, topic string, action model.Action) EvaluationResult {
	if !action.Valid() {
		return denied(ReasonInvalidAction)
	}
	entry := m.entry(clientID)
	if entry == nil {
		return denied(ReasonUnknownClient)
	}

	for _, p := range entry.perms.Load().patternsFor(action) {
		if p.Matches(topic) {
			return allowed(p)
		}
	}
	return denied(ReasonNoMatch)
}

// Covers checks whether clientID holds a permission for action on at
// least one topic that pattern can match.
func (m *PatternMatcher) Covers(clientID string, pattern model.Pattern, action model.Action) EvaluationResult {
	if !action.Valid() {
		return denied(ReasonInvalidAction)
	}
	entry := m.entry(clientID)
	if entry == nil {
		return denied(ReasonUnknownClient)
	}

	for _, p := range entry.perms.Load().patternsFor(action) {
		if p.Overlaps(pattern) {
			return allowed(p)
		}
	}
	return denied(ReasonNoMatch)
}

// RenameTopic rewrites the client's exact patterns naming oldName to
// newName. Wildcard patterns are left as they are. It returns the number
// of rewritten permissions.
func (m *PatternMatcher) RenameTopic(clientID, oldName, newName string) (int, error) {
	if _, err := model.ParsePattern(newName); err != nil {
		return 0, NewErrorWithCause(ErrCodeInvalidPattern, fmt.Sprintf("invalid pattern %q", newName), err)
	}
	return m.rewrite(clientID, func(perms []model.Permission) ([]model.Permission, int) {
		changed := 0
		for i, perm := range perms {
			if isExactFor(perm.Pattern, oldName) {
				perms[i].Pattern = newName
				changed++
			}
		}
		return perms, changed
	})
}

// DeleteTopic removes the client's exact patterns naming topic.
// It returns the number of removed permissions.
func (m *PatternMatcher) DeleteTopic(clientID, topic string) (int, error) {
	return m.rewrite(clientID, func(perms []model.Permission) ([]model.Permission, int) {
		kept := perms[:0]
		for _, perm := range perms {
			if isExactFor(perm.Pattern, topic) {
				continue
			}
			kept = append(kept, perm)
		}
		return kept, len(perms) - len(kept)
	})
}

func (m *PatternMatcher) rewrite(clientID string, fn func([]model.Permission) ([]model.Permission, int)) (int, error) {
	entry := m.entry(clientID)
	if entry == nil {
		return 0, NewError(ErrCodeNotFound, ReasonUnknownClient)
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	perms := append([]model.Permission(nil), entry.perms.Load().permissions...)
	perms, changed := fn(perms)
	if changed == 0 {
		return 0, nil
	}

	set, err := compilePermissions(perms)
	if err != nil {
		return 0, err
	}
	entry.perms.Store(set)
	return changed, nil
}

func (m *PatternMatcher) entry(clientID string) *clientEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.clients[clientID]
}

func isExactFor(pattern, topic string) bool {
	return !strings.Contains(pattern, model.SingleWildcard) && strings.EqualFold(pattern, topic)
}
