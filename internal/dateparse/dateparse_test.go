package dateparse

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2026, time.July, 30, 12, 0, 0, 0, time.UTC)

func TestParse_OlderThan(t *testing.T) {
	r := Parse("older than 7 days", Context{}, fixedNow)
	require.True(t, r.Success)
	assert.Equal(t, LessThan, r.Operation)
	assert.True(t, r.StartDate.IsZero())
	assert.Equal(t, "20260723235959", r.Formats.ActivitiesTransactions.End)
	assert.Equal(t, 1.0, r.Confidence)
}

func TestParse_LastN(t *testing.T) {
	r := Parse("last 30 days", Context{}, fixedNow)
	require.True(t, r.Success)
	assert.Equal(t, GreaterThan, r.Operation)
	assert.True(t, r.EndDate.IsZero())
	assert.Equal(t, "20260630000000", r.Formats.ActivitiesTransactions.Start)
}

func TestParse_Quarter(t *testing.T) {
	r := Parse("Q1 2026", Context{}, fixedNow)
	require.True(t, r.Success)
	assert.Equal(t, Between, r.Operation)
	assert.Equal(t, time.January, r.StartDate.Month())
	assert.Equal(t, time.March, r.EndDate.Month())
}

func TestParse_BareMonth_AssumesCurrentYear(t *testing.T) {
	r := Parse("march", Context{}, fixedNow)
	require.True(t, r.Success)
	assert.Equal(t, 2026, r.StartDate.Year())
	assert.Less(t, r.Confidence, 1.0)
	assert.NotEmpty(t, r.Assumptions)
}

func TestParse_MonthWithYear_FullConfidence(t *testing.T) {
	r := Parse("march 2024", Context{}, fixedNow)
	require.True(t, r.Success)
	assert.Equal(t, 2024, r.StartDate.Year())
	assert.Equal(t, 1.0, r.Confidence)
	assert.Empty(t, r.Assumptions)
}

func TestParse_Yesterday(t *testing.T) {
	r := Parse("yesterday", Context{}, fixedNow)
	require.True(t, r.Success)
	assert.Equal(t, 29, r.StartDate.Day())
	assert.Equal(t, 29, r.EndDate.Day())
}

func TestParse_FromTo(t *testing.T) {
	r := Parse("from 2026-01-01 to 2026-01-31", Context{}, fixedNow)
	require.True(t, r.Success)
	assert.Equal(t, Between, r.Operation)
	assert.Equal(t, 1, int(r.StartDate.Month()))
	assert.Equal(t, 31, r.EndDate.Day())
}

func TestParse_Recent_LowConfidence(t *testing.T) {
	r := Parse("show me the recent activity", Context{}, fixedNow)
	require.True(t, r.Success)
	assert.Equal(t, GreaterThan, r.Operation)
	assert.Equal(t, 0.5, r.Confidence)
}

func TestParse_BareDate(t *testing.T) {
	r := Parse("2026-07-04", Context{}, fixedNow)
	require.True(t, r.Success)
	assert.Equal(t, 4, r.StartDate.Day())
}

func TestParse_Unrecognized(t *testing.T) {
	r := Parse("the day after whatever", Context{}, fixedNow)
	assert.False(t, r.Success)
	assert.NotEmpty(t, r.Error)
}

func TestParse_Empty(t *testing.T) {
	r := Parse("   ", Context{}, fixedNow)
	assert.False(t, r.Success)
}
