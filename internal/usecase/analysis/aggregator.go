package analysis

import (
	"sort"
	"time"

	"medbrief/internal/domain"
)

// DefaultHighCitationThreshold — публикация считается высокоцитируемой при числе цитирований строго больше порога.
const DefaultHighCitationThreshold = 50

// DefaultTrendBuckets — сколько периодов частоты темы охватывает окно поиска без явного диапазона.
const DefaultTrendBuckets = 12

// Config задаёт константы агрегации.
type Config struct {
	HighCitationThreshold int
	TrendBuckets          int
}

// Aggregator сворачивает список публикаций в снимок анализа. Не имеет состояния и побочных эффектов.
type Aggregator struct {
	cfg Config
}

// NewAggregator создаёт агрегатор с подставленными значениями по умолчанию.
func NewAggregator(cfg Config) *Aggregator {
	if cfg.HighCitationThreshold <= 0 {
		cfg.HighCitationThreshold = DefaultHighCitationThreshold
	}
	if cfg.TrendBuckets <= 0 {
		cfg.TrendBuckets = DefaultTrendBuckets
	}
	return &Aggregator{cfg: cfg}
}

// Input содержит всё, от чего зависит снимок.
type Input struct {
	TopicID     int64
	Frequency   domain.Frequency
	Window      domain.Window
	GeneratedAt time.Time
	Records     []domain.LiteratureRecord
}

// Aggregate строит снимок. Одинаковый вход даёт одинаковый результат.
func (a *Aggregator) Aggregate(in Input) domain.AnalysisSnapshot {
	snap := domain.AnalysisSnapshot{
		TopicID:     in.TopicID,
		GeneratedAt: in.GeneratedAt,
		TotalCount:  len(in.Records),
	}
	byType := make(map[domain.LiteratureType]int)
	for _, rec := range in.Records {
		typ := normalizeType(rec.Type)
		byType[typ]++
		switch typ {
		case domain.LiteratureClinicalTrial:
			snap.ClinicalTrialCount++
		case domain.LiteratureMetaAnalysis:
			snap.MetaAnalysisCount++
		}
		if rec.Citations != nil && *rec.Citations > a.cfg.HighCitationThreshold {
			snap.HighCitationCount++
		}
	}

	snap.Distribution = make([]domain.DistributionPoint, 0, len(byType))
	for typ, count := range byType {
		snap.Distribution = append(snap.Distribution, domain.DistributionPoint{Type: typ, Count: count})
	}
	sort.Slice(snap.Distribution, func(i, j int) bool {
		return snap.Distribution[i].Type < snap.Distribution[j].Type
	})

	snap.Trend = trend(GranularityFor(in.Frequency), in.Window, in.Records)
	return snap
}

// Window возвращает окно поиска для темы: явный диапазон, либо TrendBuckets
// периодов частоты, заканчивающихся в now (последний период неполный).
func (a *Aggregator) Window(topic domain.Topic, now time.Time, loc *time.Location) domain.Window {
	if loc == nil {
		loc = time.UTC
	}
	if topic.CustomRange != nil {
		return domain.Window{From: topic.CustomRange.Start(loc), To: topic.CustomRange.End(loc)}
	}
	now = now.In(loc)
	g := GranularityFor(topic.Frequency)
	from := g.Floor(topic.Frequency.Advance(now, -(a.cfg.TrendBuckets - 1)))
	return domain.Window{From: from, To: now}
}

func trend(g Granularity, window domain.Window, records []domain.LiteratureRecord) []domain.TrendPoint {
	loc := window.From.Location()
	if window.From.IsZero() {
		loc = time.UTC
	}

	var first, last time.Time
	extend := func(t time.Time) {
		if first.IsZero() || t.Before(first) {
			first = t
		}
		if last.IsZero() || t.After(last) {
			last = t
		}
	}
	bounded := !window.From.IsZero() && window.To.After(window.From)
	if bounded {
		extend(g.Floor(window.From))
		extend(g.Floor(window.To.Add(-time.Nanosecond)))
	}

	// В окне ряд не выходит за его границы: публикации вне окна входят в total
	// и распределение, но не в тренд.
	counts := make(map[string]int)
	for _, rec := range records {
		if rec.PublicationDate.IsZero() {
			continue
		}
		bucket := g.Floor(civilDate(rec.PublicationDate, loc))
		if bounded {
			if bucket.Before(first) || bucket.After(last) {
				continue
			}
		} else {
			extend(bucket)
		}
		counts[bucket.Format(time.DateOnly)]++
	}

	points := make([]domain.TrendPoint, 0)
	if first.IsZero() {
		return points
	}
	for b := first; !b.After(last); b = g.Next(b) {
		label := b.Format(time.DateOnly)
		points = append(points, domain.TrendPoint{Date: label, Count: counts[label]})
	}
	return points
}

// civilDate переносит календарную дату t в часовой пояс loc без сдвига дня.
func civilDate(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

func normalizeType(t domain.LiteratureType) domain.LiteratureType {
	switch t {
	case domain.LiteratureOriginal, domain.LiteratureClinicalTrial, domain.LiteratureMetaAnalysis, domain.LiteratureReview:
		return t
	}
	return domain.LiteratureOther
}

// Highlights выбирает до n публикаций для отчёта: сначала по цитированиям, затем по дате.
func Highlights(records []domain.LiteratureRecord, n int) []domain.LiteratureRecord {
	if n <= 0 || len(records) == 0 {
		return nil
	}
	sorted := make([]domain.LiteratureRecord, len(records))
	copy(sorted, records)
	sort.SliceStable(sorted, func(i, j int) bool {
		ci, cj := citations(sorted[i]), citations(sorted[j])
		if ci != cj {
			return ci > cj
		}
		if !sorted[i].PublicationDate.Equal(sorted[j].PublicationDate) {
			return sorted[i].PublicationDate.After(sorted[j].PublicationDate)
		}
		return sorted[i].ID < sorted[j].ID
	})
	if len(sorted) > n {
		sorted = sorted[:n]
	}
	return sorted
}

func citations(r domain.LiteratureRecord) int {
	if r.Citations == nil {
		return -1
	}
	return *r.Citations
}
