package daterange

import (
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := ParseDay(s)
	require.NoError(t, err)
	return d
}

func TestDays(t *testing.T) {
	t.Run("один день", func(t *testing.T) {
		cp := day(t, "2025-08-26")
		days := slices.Collect(Days(cp, cp.Add(15*time.Hour)))
		require.Len(t, days, 1)
		assert.Equal(t, cp, days[0])
	})

	t.Run("чекпоинт позже now", func(t *testing.T) {
		cp := day(t, "2025-08-26")
		days := slices.Collect(Days(cp, cp.AddDate(0, 0, -1)))
		assert.Empty(t, days)
	})

	t.Run("включительно с обеих сторон", func(t *testing.T) {
		days := slices.Collect(Days(day(t, "2025-08-30"), day(t, "2025-09-02")))
		require.Len(t, days, 4)
		assert.Equal(t, day(t, "2025-08-30"), days[0])
		assert.Equal(t, day(t, "2025-09-02"), days[3])
	})

	t.Run("перезапуск", func(t *testing.T) {
		seq := Days(day(t, "2025-01-01"), day(t, "2025-01-03"))
		assert.Equal(t, slices.Collect(seq), slices.Collect(seq))
	})

	t.Run("граница суток в опорной зоне", func(t *testing.T) {
		// 22:30 UTC - это уже следующие сутки по Москве
		now := time.Date(2025, 8, 26, 22, 30, 0, 0, time.UTC)
		days := slices.Collect(Days(day(t, "2025-08-26"), now))
		require.Len(t, days, 2)
		assert.Equal(t, day(t, "2025-08-27"), days[1])
	})
}

func TestSpans(t *testing.T) {
	t.Run("последнее окно обрезано", func(t *testing.T) {
		ranges := Spans(day(t, "2025-01-01"), day(t, "2025-03-15"), 50)
		require.Len(t, ranges, 2)
		assert.Equal(t, Range{From: day(t, "2025-01-01"), To: day(t, "2025-02-20")}, ranges[0])
		assert.Equal(t, Range{From: day(t, "2025-02-21"), To: day(t, "2025-03-15")}, ranges[1])
	})

	t.Run("один день", func(t *testing.T) {
		ranges := Spans(day(t, "2025-01-01"), day(t, "2025-01-01"), 50)
		require.Len(t, ranges, 1)
		assert.Equal(t, ranges[0].From, ranges[0].To)
	})

	t.Run("пусто", func(t *testing.T) {
		assert.Empty(t, Spans(day(t, "2025-01-02"), day(t, "2025-01-01"), 50))
	})
}

func TestMonths(t *testing.T) {
	ranges := Months(day(t, "2025-01-15"), day(t, "2025-03-10"))
	require.Len(t, ranges, 3)
	assert.Equal(t, Range{From: day(t, "2025-01-15"), To: day(t, "2025-01-31")}, ranges[0])
	assert.Equal(t, Range{From: day(t, "2025-02-01"), To: day(t, "2025-02-28")}, ranges[1])
	assert.Equal(t, Range{From: day(t, "2025-03-01"), To: day(t, "2025-03-10")}, ranges[2])
}

func TestEndOfDay(t *testing.T) {
	end := EndOfDay(day(t, "2025-08-26"))
	assert.Equal(t, "2025-08-26T23:59:59+03:00", end.Format(time.RFC3339))
}

func TestParseDayFirst(t *testing.T) {
	d, err := ParseDayFirst("05.09.2025")
	require.NoError(t, err)
	assert.Equal(t, day(t, "2025-09-05"), d)

	_, err = ParseDayFirst("2025-09-05")
	assert.Error(t, err)
}
