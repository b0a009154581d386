// Package daterange строит последовательности календарных дней и окон для запросов к API.
//
// Все границы суток считаются в одной зоне - Location (UTC+3, Москва), иначе
// чекпоинты разных запусков расходятся на сутки.
package daterange

import (
	"iter"
	"time"
)

// Location - опорная зона для всех границ суток.
var Location = time.FixedZone("MSK", 3*60*60)

const (
	DayLayout      = "2006-01-02"
	DayFirstLayout = "02.01.2006"
)

// Range - окно дат, обе границы включительно (полночь соответствующих суток).
type Range struct {
	From time.Time
	To   time.Time
}

// Day приводит момент времени к полуночи его календарного дня в Location.
func Day(t time.Time) time.Time {
	t = t.In(Location)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, Location)
}

// StartOfDay - то же, что Day; для симметрии с EndOfDay.
func StartOfDay(t time.Time) time.Time {
	return Day(t)
}

// EndOfDay - последняя секунда календарного дня в Location.
func EndOfDay(t time.Time) time.Time {
	return Day(t).AddDate(0, 0, 1).Add(-time.Second)
}

// ParseDay разбирает "2006-01-02" как день в Location.
func ParseDay(s string) (time.Time, error) {
	return time.ParseInLocation(DayLayout, s, Location)
}

// ParseDayFirst разбирает "02.01.2006" как день в Location.
func ParseDayFirst(s string) (time.Time, error) {
	return time.ParseInLocation(DayFirstLayout, s, Location)
}

// FromDate переносит дату (например, прочитанную из колонки DATE в UTC) в Location без сдвига дня.
func FromDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, Location)
}

// Days возвращает дни от checkpoint до now включительно.
// Последовательность ленивая и перезапускаемая; пустая, если checkpoint позже now.
func Days(checkpoint, now time.Time) iter.Seq[time.Time] {
	from, to := Day(checkpoint), Day(now)
	return func(yield func(time.Time) bool) {
		for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
			if !yield(d) {
				return
			}
		}
	}
}

// Spans режет checkpoint..now на окна [from, from+span], следующее окно начинается
// на день позже. Последнее окно обрезается по now.
func Spans(checkpoint, now time.Time, span int) []Range {
	if span < 0 {
		span = 0
	}
	from, today := Day(checkpoint), Day(now)

	var ranges []Range
	for !from.After(today) {
		to := from.AddDate(0, 0, span)
		if to.After(today) {
			ranges = append(ranges, Range{From: from, To: today})
			break
		}
		ranges = append(ranges, Range{From: from, To: to})
		from = to.AddDate(0, 0, 1)
	}
	return ranges
}

// Months режет from..to на окна по календарным месяцам; крайние окна обрезаются по from и to.
func Months(from, to time.Time) []Range {
	from, to = Day(from), Day(to)

	var ranges []Range
	start := time.Date(from.Year(), from.Month(), 1, 0, 0, 0, 0, Location)
	for !start.After(to) {
		end := start.AddDate(0, 1, -1)
		r := Range{From: start, To: end}
		if r.From.Before(from) {
			r.From = from
		}
		if r.To.After(to) {
			r.To = to
		}
		ranges = append(ranges, r)
		start = start.AddDate(0, 1, 0)
	}
	return ranges
}
