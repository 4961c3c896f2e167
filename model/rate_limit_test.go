package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPeriodUnit_PeriodKey(t *testing.T) {
	at := time.Date(2024, 1, 1, 10, 5, 42, 0, time.UTC)

	assert.Equal(t, "m.2024-01-01T10:05", PeriodMinute.PeriodKey(at))
	assert.Equal(t, "h.2024-01-01T10", PeriodHour.PeriodKey(at))
	assert.Equal(t, "d.2024-01-01", PeriodDay.PeriodKey(at))

	local := at.In(time.FixedZone("UTC+2", 2*60*60))
	assert.Equal(t, "h.2024-01-01T10", PeriodHour.PeriodKey(local), "keys are computed in UTC")
}

func TestPeriodUnit_Truncate(t *testing.T) {
	at := time.Date(2024, 1, 1, 10, 5, 42, 0, time.UTC)

	assert.Equal(t, time.Date(2024, 1, 1, 10, 5, 0, 0, time.UTC), PeriodMinute.Truncate(at))
	assert.Equal(t, time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC), PeriodHour.Truncate(at))
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), PeriodDay.Truncate(at))
}

func TestParsePeriodUnit(t *testing.T) {
	for in, want := range map[string]PeriodUnit{"m": PeriodMinute, "Hour": PeriodHour, "d": PeriodDay} {
		got, err := ParsePeriodUnit(in)
		assert.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := ParsePeriodUnit("fortnight")
	assert.ErrorIs(t, err, ErrUnknownPeriodUnit)
}
