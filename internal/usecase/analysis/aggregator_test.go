package analysis

import (
	"reflect"
	"testing"
	"time"

	"medbrief/internal/domain"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func intPtr(v int) *int { return &v }

func records(types map[domain.LiteratureType]int, published time.Time) []domain.LiteratureRecord {
	var out []domain.LiteratureRecord
	for _, typ := range []domain.LiteratureType{domain.LiteratureOriginal, domain.LiteratureClinicalTrial, domain.LiteratureMetaAnalysis, domain.LiteratureReview} {
		for i := 0; i < types[typ]; i++ {
			out = append(out, domain.LiteratureRecord{
				ID:              string(typ) + "-" + string(rune('a'+i)),
				Type:            typ,
				PublicationDate: published.AddDate(0, 0, i),
			})
		}
	}
	return out
}

func TestAggregateFirstCycleCounts(t *testing.T) {
	agg := NewAggregator(Config{HighCitationThreshold: 50})
	recs := records(map[domain.LiteratureType]int{
		domain.LiteratureOriginal:      8,
		domain.LiteratureClinicalTrial: 3,
		domain.LiteratureMetaAnalysis:  1,
	}, day(2025, 3, 3))

	snap := agg.Aggregate(Input{
		TopicID:     7,
		Frequency:   domain.FrequencyMonthly,
		Window:      domain.Window{From: day(2025, 1, 1), To: day(2025, 4, 1)},
		GeneratedAt: day(2025, 4, 1),
		Records:     recs,
	})

	if snap.TotalCount != 12 || snap.ClinicalTrialCount != 3 || snap.MetaAnalysisCount != 1 {
		t.Fatalf("неверные счётчики: %+v", snap)
	}
	want := []domain.DistributionPoint{
		{Type: domain.LiteratureClinicalTrial, Count: 3},
		{Type: domain.LiteratureMetaAnalysis, Count: 1},
		{Type: domain.LiteratureOriginal, Count: 8},
	}
	if !reflect.DeepEqual(snap.Distribution, want) {
		t.Fatalf("неверное распределение: %+v", snap.Distribution)
	}
	wantTrend := []domain.TrendPoint{{Date: "2025-01-01", Count: 0}, {Date: "2025-02-01", Count: 0}, {Date: "2025-03-01", Count: 12}}
	if !reflect.DeepEqual(snap.Trend, wantTrend) {
		t.Fatalf("неверный тренд: %+v", snap.Trend)
	}
}

func TestAggregateIsPure(t *testing.T) {
	agg := NewAggregator(Config{})
	in := Input{
		TopicID:     1,
		Frequency:   domain.FrequencyWeekly,
		Window:      domain.Window{From: day(2025, 5, 1), To: day(2025, 6, 1)},
		GeneratedAt: day(2025, 6, 1),
		Records: []domain.LiteratureRecord{
			{ID: "1", Type: domain.LiteratureReview, PublicationDate: day(2025, 5, 7), Citations: intPtr(120)},
			{ID: "2", Type: domain.LiteratureMetaAnalysis, PublicationDate: day(2025, 5, 20)},
			{ID: "3", Type: "", PublicationDate: day(2025, 5, 21), Citations: intPtr(3)},
		},
	}
	first := agg.Aggregate(in)
	for i := 0; i < 20; i++ {
		if got := agg.Aggregate(in); !reflect.DeepEqual(first, got) {
			t.Fatalf("результат зависит от запуска:\n%+v\n%+v", first, got)
		}
	}
}

func TestAggregateDistributionSumsToTotal(t *testing.T) {
	agg := NewAggregator(Config{})
	cases := [][]domain.LiteratureRecord{
		nil,
		{{ID: "x", Type: "editorial"}},
		records(map[domain.LiteratureType]int{domain.LiteratureOriginal: 4, domain.LiteratureReview: 2}, day(2024, 12, 30)),
	}
	for i, recs := range cases {
		snap := agg.Aggregate(Input{Frequency: domain.FrequencyQuarterly, Records: recs})
		sum := 0
		for _, p := range snap.Distribution {
			sum += p.Count
		}
		if sum != snap.TotalCount {
			t.Fatalf("случай %d: сумма распределения %d != total %d", i, sum, snap.TotalCount)
		}
	}
}

func TestAggregateEmptyInputZeroFillsWindow(t *testing.T) {
	agg := NewAggregator(Config{})
	snap := agg.Aggregate(Input{
		Frequency: domain.FrequencyQuarterly,
		Window:    domain.Window{From: day(2025, 2, 10), To: day(2025, 9, 1)},
	})
	if snap.TotalCount != 0 || len(snap.Distribution) != 0 {
		t.Fatalf("ожидали пустой снимок: %+v", snap)
	}
	want := []domain.TrendPoint{{Date: "2025-01-01"}, {Date: "2025-04-01"}, {Date: "2025-07-01"}}
	if !reflect.DeepEqual(snap.Trend, want) {
		t.Fatalf("неверный тренд: %+v", snap.Trend)
	}
}

func TestAggregateWeeklyBucketsStartOnMonday(t *testing.T) {
	agg := NewAggregator(Config{})
	snap := agg.Aggregate(Input{
		Frequency: domain.FrequencyWeekly,
		Window:    domain.Window{From: day(2025, 6, 4), To: day(2025, 6, 12)},
		Records: []domain.LiteratureRecord{
			{ID: "a", PublicationDate: day(2025, 6, 8)},  // воскресенье
			{ID: "b", PublicationDate: day(2025, 6, 9)},  // понедельник
			{ID: "c", PublicationDate: day(2025, 5, 20)}, // до окна
		},
	})
	want := []domain.TrendPoint{
		{Date: "2025-06-02", Count: 1},
		{Date: "2025-06-09", Count: 1},
	}
	if !reflect.DeepEqual(snap.Trend, want) {
		t.Fatalf("неверный недельный тренд: %+v", snap.Trend)
	}
	if snap.TotalCount != 3 {
		t.Fatalf("публикация до окна входит в total, получили %d", snap.TotalCount)
	}
}

func TestAggregateTrendStaysInsideWindow(t *testing.T) {
	agg := NewAggregator(Config{})
	snap := agg.Aggregate(Input{
		Frequency: domain.FrequencyWeekly,
		Window:    domain.Window{From: day(2025, 6, 2), To: day(2025, 6, 30)},
		Records: []domain.LiteratureRecord{
			{ID: "old", Type: domain.LiteratureReview, PublicationDate: day(1987, 3, 14)},
			{ID: "future", Type: domain.LiteratureReview, PublicationDate: day(2026, 1, 5)},
			{ID: "in", Type: domain.LiteratureOriginal, PublicationDate: day(2025, 6, 18)},
		},
	})
	if len(snap.Trend) != 4 {
		t.Fatalf("ряд должен покрывать только четыре недели окна, получили %d точек", len(snap.Trend))
	}
	if snap.Trend[0].Date != "2025-06-02" || snap.Trend[3].Date != "2025-06-23" {
		t.Fatalf("неверные границы ряда: %s .. %s", snap.Trend[0].Date, snap.Trend[3].Date)
	}
	if snap.Trend[2].Count != 1 {
		t.Fatalf("публикация в окне должна попасть в неделю 2025-06-16: %+v", snap.Trend)
	}
	if snap.TotalCount != 3 || len(snap.Distribution) != 2 {
		t.Fatalf("публикации вне окна учитываются в total и распределении: %+v", snap)
	}
}

func TestAggregateHighCitationThreshold(t *testing.T) {
	agg := NewAggregator(Config{HighCitationThreshold: 50})
	snap := agg.Aggregate(Input{Records: []domain.LiteratureRecord{
		{ID: "1", Citations: intPtr(50)},
		{ID: "2", Citations: intPtr(51)},
		{ID: "3"},
	}})
	if snap.HighCitationCount != 1 {
		t.Fatalf("ожидали одну высокоцитируемую публикацию, получили %d", snap.HighCitationCount)
	}
}

func TestWindowForTopic(t *testing.T) {
	agg := NewAggregator(Config{TrendBuckets: 3})
	now := time.Date(2025, 8, 20, 9, 0, 0, 0, time.UTC)

	w := agg.Window(domain.Topic{Frequency: domain.FrequencyMonthly}, now, time.UTC)
	if !w.From.Equal(day(2025, 6, 1)) || !w.To.Equal(now) {
		t.Fatalf("неверное окно: %v – %v", w.From, w.To)
	}

	rng := domain.DateRange{From: day(2025, 1, 1), To: day(2025, 1, 31)}
	w = agg.Window(domain.Topic{Frequency: domain.FrequencyWeekly, CustomRange: &rng}, now, time.UTC)
	if !w.From.Equal(day(2025, 1, 1)) || !w.To.Equal(day(2025, 2, 1)) {
		t.Fatalf("окно должно совпадать с диапазоном темы: %v – %v", w.From, w.To)
	}
}

func TestHighlightsOrder(t *testing.T) {
	recs := []domain.LiteratureRecord{
		{ID: "low", Citations: intPtr(1), PublicationDate: day(2025, 1, 1)},
		{ID: "none", PublicationDate: day(2025, 3, 1)},
		{ID: "top", Citations: intPtr(90), PublicationDate: day(2024, 1, 1)},
		{ID: "low-new", Citations: intPtr(1), PublicationDate: day(2025, 2, 1)},
	}
	got := Highlights(recs, 3)
	ids := []string{got[0].ID, got[1].ID, got[2].ID}
	if !reflect.DeepEqual(ids, []string{"top", "low-new", "low"}) {
		t.Fatalf("неверный порядок: %v", ids)
	}
	if recs[0].ID != "low" {
		t.Fatalf("исходный срез не должен меняться")
	}
}
