package calendar

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDates struct {
	dates []time.Time
	err   error
	calls int
}

func (f *fakeDates) ListBarDates(_ context.Context, _ string, start, end time.Time) ([]time.Time, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	var out []time.Time
	for _, d := range f.dates {
		if !d.Before(start) && !d.After(end) {
			out = append(out, d)
		}
	}
	return out, nil
}

func day(s string) time.Time {
	d, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return d
}

func days(ss ...string) []time.Time {
	out := make([]time.Time, len(ss))
	for i, s := range ss {
		out[i] = day(s)
	}
	return out
}

func TestExpectedTradingDaysSkipsWeekends(t *testing.T) {
	got := ExpectedTradingDays(day("2024-01-01"), day("2024-01-10"))
	want := days("2024-01-01", "2024-01-02", "2024-01-03", "2024-01-04", "2024-01-05",
		"2024-01-08", "2024-01-09", "2024-01-10")
	assert.Equal(t, want, got)
}

func TestExpectedTradingDaysNormalisesTimes(t *testing.T) {
	start := time.Date(2024, 1, 5, 15, 30, 0, 0, time.UTC)
	end := time.Date(2024, 1, 8, 1, 0, 0, 0, time.UTC)
	assert.Equal(t, days("2024-01-05", "2024-01-08"), ExpectedTradingDays(start, end))
}

func TestExpectedTradingDaysEmptyRange(t *testing.T) {
	assert.Empty(t, ExpectedTradingDays(day("2024-01-10"), day("2024-01-01")))
	assert.Empty(t, ExpectedTradingDays(day("2024-01-06"), day("2024-01-07")))
}

func TestFindMissingScenario(t *testing.T) {
	store := &fakeDates{dates: days("2024-01-02", "2024-01-03", "2024-01-04", "2024-01-05")}
	g := NewGapAnalyzer(store, zerolog.Nop())

	missing, err := g.FindMissing(context.Background(), "XYZ", day("2024-01-01"), day("2024-01-10"))
	require.NoError(t, err)
	assert.Equal(t, days("2024-01-01", "2024-01-08", "2024-01-09", "2024-01-10"), missing)
}

func TestFindMissingEmptyStoreReturnsAllWeekdays(t *testing.T) {
	g := NewGapAnalyzer(&fakeDates{}, zerolog.Nop())
	start, end := day("2024-02-01"), day("2024-02-29")

	missing, err := g.FindMissing(context.Background(), "XYZ", start, end)
	require.NoError(t, err)
	assert.Equal(t, ExpectedTradingDays(start, end), missing)
}

func TestFindMissingFullyPopulated(t *testing.T) {
	start, end := day("2024-02-01"), day("2024-02-29")
	g := NewGapAnalyzer(&fakeDates{dates: ExpectedTradingDays(start, end)}, zerolog.Nop())

	missing, err := g.FindMissing(context.Background(), "XYZ", start, end)
	require.NoError(t, err)
	assert.Empty(t, missing)
}

func TestFindMissingEmptyRangeSkipsStore(t *testing.T) {
	store := &fakeDates{err: errors.New("should not be called")}
	g := NewGapAnalyzer(store, zerolog.Nop())

	missing, err := g.FindMissing(context.Background(), "XYZ", day("2024-01-10"), day("2024-01-01"))
	require.NoError(t, err)
	assert.Empty(t, missing)
	assert.Zero(t, store.calls)
}

func TestFindMissingPropagatesStoreError(t *testing.T) {
	g := NewGapAnalyzer(&fakeDates{err: errors.New("db down")}, zerolog.Nop())

	_, err := g.FindMissing(context.Background(), "XYZ", day("2024-01-01"), day("2024-01-10"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db down")
}
