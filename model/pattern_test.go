package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePattern(t *testing.T) {
	tests := []struct {
		name      string
		pattern   string
		wantErr   error
		wildcards bool
	}{
		{name: "Exact", pattern: "orders.created", wildcards: false},
		{name: "Single wildcard", pattern: "orders.*", wildcards: true},
		{name: "Trailing multi wildcard", pattern: "orders.**", wildcards: true},
		{name: "Middle multi wildcard", pattern: "orders.**.new", wildcards: true},
		{name: "Bare multi wildcard", pattern: "**", wildcards: true},
		{name: "Empty segment", pattern: "orders..123", wildcards: false},
		{name: "Empty", pattern: "", wantErr: ErrPatternEmpty},
		{name: "Partial wildcard", pattern: "ord*.created", wantErr: ErrPatternWildcard},
		{name: "Triple star", pattern: "orders.***", wantErr: ErrPatternWildcard},
		{name: "Adjacent multi wildcards", pattern: "orders.**.**", wantErr: ErrPatternAdjacent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := ParsePattern(tt.pattern)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.True(t, p.IsZero())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.pattern, p.String())
			assert.Equal(t, tt.wildcards, p.HasWildcards())
		})
	}
}

func TestParsePattern_TooLong(t *testing.T) {
	long := make([]byte, MaxPatternLength+1)
	for i := range long {
		long[i] = 'a'
	}
	_, err := ParsePattern(string(long))
	assert.ErrorIs(t, err, ErrPatternTooLong)
}

func TestPattern_Matches(t *testing.T) {
	tests := []struct {
		pattern string
		topic   string
		want    bool
	}{
		{"orders.created", "orders.created", true},
		{"orders.created", "orders.updated", false},
		{"orders.created", "ORDERS.Created", true},
		{"orders.*", "orders.created", true},
		{"orders.*", "orders.eu.created", false},
		{"orders.*", "orders", false},
		{"orders.*.123", "orders..123", true},
		{"orders..123", "orders..123", true},
		{"orders.**", "orders", true},
		{"orders.**", "orders.eu.created", true},
		{"orders.**", "orders..123", true},
		{"orders.**", "invoices.created", false},
		{"orders.**.new", "orders.new", true},
		{"orders.**.new", "orders.a.b.new", true},
		{"orders.**.new", "orders.a.b.old", false},
		{"**", "anything.at.all", true},
		{"*.created", "orders.created", true},
		{"*.created", "created", false},
	}

	for _, tt := range tests {
		t.Run(tt.pattern+"~"+tt.topic, func(t *testing.T) {
			assert.Equal(t, tt.want, MustParsePattern(tt.pattern).Matches(tt.topic))
		})
	}
}

func TestPattern_ZeroValueMatchesNothing(t *testing.T) {
	var p Pattern
	assert.False(t, p.Matches(""))
	assert.False(t, p.Matches("orders"))
	assert.False(t, p.Overlaps(MustParsePattern("**")))
}

func TestPattern_Overlaps(t *testing.T) {
	tests := []struct {
		a, b string
		want bool
	}{
		{"orders.**", "orders.created", true},
		{"orders.**", "orders.*", true},
		{"orders.*", "orders.eu.created", false},
		{"orders.*", "*.created", true},
		{"orders.**", "invoices.*", false},
		{"**", "invoices.*", true},
		{"orders.**.new", "orders.eu.*", true},
		{"orders.**.new", "orders.eu.old", false},
		{"a.**", "**.z", true},
		{"orders.created", "ORDERS.CREATED", true},
	}

	for _, tt := range tests {
		t.Run(tt.a+"^"+tt.b, func(t *testing.T) {
			a, b := MustParsePattern(tt.a), MustParsePattern(tt.b)
			assert.Equal(t, tt.want, a.Overlaps(b))
			assert.Equal(t, tt.want, b.Overlaps(a), "overlap must be symmetric")
		})
	}
}

func TestPattern_JSON(t *testing.T) {
	sub := Subscription{Patterns: []Pattern{MustParsePattern("orders.*")}}

	data, err := json.Marshal(sub.Patterns)
	require.NoError(t, err)
	assert.JSONEq(t, `["orders.*"]`, string(data))

	var decoded []Pattern
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Len(t, decoded, 1)
	assert.True(t, decoded[0].Matches("orders.created"))

	assert.Error(t, json.Unmarshal([]byte(`["ord*"]`), &decoded))
}

func TestValidateTopicName(t *testing.T) {
	assert.NoError(t, ValidateTopicName("orders.created"))
	assert.ErrorIs(t, ValidateTopicName(""), ErrTopicNameEmpty)
	assert.ErrorIs(t, ValidateTopicName("orders.*"), ErrTopicNameInvalid)
}
