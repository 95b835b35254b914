package analysis

import (
	"time"

	"medbrief/internal/domain"
)

// Granularity — шаг временного ряда тренда.
type Granularity string

const (
	GranularityWeek    Granularity = "week"
	GranularityMonth   Granularity = "month"
	GranularityQuarter Granularity = "quarter"
)

// GranularityFor: weekly → неделя с понедельника, monthly → месяц, quarterly → квартал.
// Неизвестная частота считается месячной.
func GranularityFor(f domain.Frequency) Granularity {
	switch f {
	case domain.FrequencyWeekly:
		return GranularityWeek
	case domain.FrequencyQuarterly:
		return GranularityQuarter
	}
	return GranularityMonth
}

// Floor возвращает начало интервала, которому принадлежит t.
func (g Granularity) Floor(t time.Time) time.Time {
	y, m, d := t.Date()
	switch g {
	case GranularityWeek:
		offset := (int(t.Weekday()) + 6) % 7
		return time.Date(y, m, d-offset, 0, 0, 0, 0, t.Location())
	case GranularityQuarter:
		qm := time.Month((int(m)-1)/3*3 + 1)
		return time.Date(y, qm, 1, 0, 0, 0, 0, t.Location())
	}
	return time.Date(y, m, 1, 0, 0, 0, 0, t.Location())
}

// Next возвращает начало следующего интервала. t должен быть началом интервала.
func (g Granularity) Next(t time.Time) time.Time {
	switch g {
	case GranularityWeek:
		return t.AddDate(0, 0, 7)
	case GranularityQuarter:
		return t.AddDate(0, 3, 0)
	}
	return t.AddDate(0, 1, 0)
}
