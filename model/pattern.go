package model

import (
	"strings"
)

const (
	// SegmentSeparator splits topic names and patterns into segments.
	SegmentSeparator = "."

	// SingleWildcard matches exactly one segment, including an empty one.
	SingleWildcard = "*"

	// MultiWildcard matches zero or more segments.
	MultiWildcard = "**"

	// MaxPatternLength is the longest accepted pattern or topic name in bytes.
	MaxPatternLength = 1024
)

// Pattern errors.
var (
	ErrPatternEmpty     = DomainError{Code: "PATTERN_EMPTY", Message: "pattern must not be empty"}
	ErrPatternTooLong   = DomainError{Code: "PATTERN_TOO_LONG", Message: "pattern exceeds maximum length"}
	ErrPatternWildcard  = DomainError{Code: "PATTERN_WILDCARD", Message: "wildcards must occupy a whole segment"}
	ErrPatternAdjacent  = DomainError{Code: "PATTERN_ADJACENT", Message: "adjacent ** segments are not allowed"}
	ErrTopicNameEmpty   = DomainError{Code: "TOPIC_NAME_EMPTY", Message: "topic name must not be empty"}
	ErrTopicNameTooLong = DomainError{Code: "TOPIC_NAME_TOO_LONG", Message: "topic name exceeds maximum length"}
	ErrTopicNameInvalid = DomainError{Code: "TOPIC_NAME_INVALID", Message: "topic name must not contain wildcards"}
)

// Pattern is a compiled topic pattern.
//
// Segments are split on ".". A "*" segment matches exactly one segment
// (which may be empty), a "**" segment matches zero or more segments and
// every other segment must be equal to the topic segment, ignoring case.
//
// The zero value matches nothing.
type Pattern struct {
	raw       string
	segments  []string
	wildcards bool
}

// ParsePattern validates and compiles a pattern.
func ParsePattern(raw string) (Pattern, error) {
	if raw == "" {
		return Pattern{}, ErrPatternEmpty
	}
	if len(raw) > MaxPatternLength {
		return Pattern{}, ErrPatternTooLong
	}

	segments := strings.Split(strings.ToLower(raw), SegmentSeparator)
	p := Pattern{raw: raw, segments: segments}

	for i, seg := range segments {
		switch {
		case seg == SingleWildcard:
			p.wildcards = true
		case seg == MultiWildcard:
			if i > 0 && segments[i-1] == MultiWildcard {
				return Pattern{}, ErrPatternAdjacent
			}
			p.wildcards = true
		case strings.Contains(seg, SingleWildcard):
			return Pattern{}, ErrPatternWildcard
		}
	}

	return p, nil
}

// MustParsePattern is like ParsePattern but panics on invalid input.
func MustParsePattern(raw string) Pattern {
	p, err := ParsePattern(raw)
	if err != nil {
		panic(err)
	}
	return p
}

// String returns the pattern as it was registered.
func (p Pattern) String() string {
	return p.raw
}

// IsZero reports whether p is the zero Pattern.
func (p Pattern) IsZero() bool {
	return p.segments == nil
}

// HasWildcards reports whether the pattern contains "*" or "**" segments.
func (p Pattern) HasWildcards() bool {
	return p.wildcards
}

// Equal compares two patterns ignoring case.
func (p Pattern) Equal(other Pattern) bool {
	return strings.EqualFold(p.raw, other.raw)
}

// Matches reports whether topic matches the pattern.
func (p Pattern) Matches(topic string) bool {
	if p.IsZero() {
		return false
	}
	if !p.wildcards {
		return strings.EqualFold(p.raw, topic)
	}
	return matchSegments(p.segments, strings.Split(strings.ToLower(topic), SegmentSeparator))
}

// Overlaps reports whether at least one topic name exists that both
// patterns match.
func (p Pattern) Overlaps(other Pattern) bool {
	if p.IsZero() || other.IsZero() {
		return false
	}
	return overlapSegments(p.segments, other.segments)
}

// MarshalText implements encoding.TextMarshaler.
func (p Pattern) MarshalText() ([]byte, error) {
	return []byte(p.raw), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Pattern) UnmarshalText(text []byte) error {
	parsed, err := ParsePattern(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// matchSegments matches literal topic segments against pattern segments.
// match[i][j] is true when pattern[i:] matches topic[j:].
func matchSegments(pattern, topic []string) bool {
	match := make([][]bool, len(pattern)+1)
	for i := range match {
		match[i] = make([]bool, len(topic)+1)
	}
	match[len(pattern)][len(topic)] = true

	for i := len(pattern) - 1; i >= 0; i-- {
		for j := len(topic); j >= 0; j-- {
			switch pattern[i] {
			case MultiWildcard:
				match[i][j] = match[i+1][j] || (j < len(topic) && match[i][j+1])
			case SingleWildcard:
				match[i][j] = j < len(topic) && match[i+1][j+1]
			default:
				match[i][j] = j < len(topic) && pattern[i] == topic[j] && match[i+1][j+1]
			}
		}
	}

	return match[0][0]
}

// overlapSegments decides whether two patterns share at least one topic.
// Both sides may carry wildcards; a "**" on either side can absorb any
// number of segments from the other side.
func overlapSegments(a, b []string) bool {
	ok := make([][]bool, len(a)+1)
	for i := range ok {
		ok[i] = make([]bool, len(b)+1)
	}
	ok[len(a)][len(b)] = true

	for i := len(a); i >= 0; i-- {
		for j := len(b); j >= 0; j-- {
			if i == len(a) && j == len(b) {
				continue
			}
			var v bool
			if i < len(a) && a[i] == MultiWildcard {
				v = ok[i+1][j] || (j < len(b) && ok[i][j+1])
			}
			if !v && j < len(b) && b[j] == MultiWildcard {
				v = ok[i][j+1] || (i < len(a) && ok[i+1][j])
			}
			if !v && i < len(a) && j < len(b) && a[i] != MultiWildcard && b[j] != MultiWildcard {
				if a[i] == SingleWildcard || b[j] == SingleWildcard || a[i] == b[j] {
					v = ok[i+1][j+1]
				}
			}
			ok[i][j] = v
		}
	}

	return ok[0][0]
}

// ValidateTopicName checks a concrete topic name.
func ValidateTopicName(name string) error {
	if name == "" {
		return ErrTopicNameEmpty
	}
	if len(name) > MaxPatternLength {
		return ErrTopicNameTooLong
	}
	if strings.Contains(name, SingleWildcard) {
		return ErrTopicNameInvalid
	}
	return nil
}
