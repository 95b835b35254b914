package diff

import (
	"fmt"
	"sort"
	"strings"

	"medbrief/internal/domain"
)

// DefaultCompareBuckets — сколько последних интервалов тренда сравнивается с предыдущими.
const DefaultCompareBuckets = 4

// Direction — направление тренда.
type Direction string

const (
	DirectionIncreased Direction = "increased"
	DirectionDecreased Direction = "decreased"
	DirectionFlat      Direction = "flat"
)

// BucketDelta хранит изменение количества публикаций одного типа.
type BucketDelta struct {
	Type     domain.LiteratureType `json:"type"`
	Previous int                   `json:"previous"`
	Current  int                   `json:"current"`
}

// Delta возвращает разницу между текущим и предыдущим значением.
func (b BucketDelta) Delta() int {
	return b.Current - b.Previous
}

// Summary описывает разницу между двумя последовательными снимками темы.
type Summary struct {
	PreviousTotal int           `json:"previous_total"`
	CurrentTotal  int           `json:"current_total"`
	Buckets       []BucketDelta `json:"buckets"`
	Trend         Direction     `json:"trend"`
}

// TotalDelta возвращает изменение общего количества.
func (s Summary) TotalDelta() int {
	return s.CurrentTotal - s.PreviousTotal
}

// Compare сравнивает снимки. Без предыдущего снимка (первый цикл) разницы нет: nil.
// compareBuckets <= 0 означает DefaultCompareBuckets.
func Compare(prev *domain.AnalysisSnapshot, cur domain.AnalysisSnapshot, compareBuckets int) *Summary {
	if prev == nil {
		return nil
	}
	counts := make(map[domain.LiteratureType]*BucketDelta)
	bucket := func(t domain.LiteratureType) *BucketDelta {
		b, ok := counts[t]
		if !ok {
			b = &BucketDelta{Type: t}
			counts[t] = b
		}
		return b
	}
	for _, p := range prev.Distribution {
		bucket(p.Type).Previous += p.Count
	}
	for _, p := range cur.Distribution {
		bucket(p.Type).Current += p.Count
	}

	s := &Summary{
		PreviousTotal: prev.TotalCount,
		CurrentTotal:  cur.TotalCount,
		Buckets:       make([]BucketDelta, 0, len(counts)),
		Trend:         TrendDirection(cur.Trend, compareBuckets),
	}
	for _, b := range counts {
		s.Buckets = append(s.Buckets, *b)
	}
	sort.Slice(s.Buckets, func(i, j int) bool { return s.Buckets[i].Type < s.Buckets[j].Type })
	return s
}

// TrendDirection сравнивает сумму последних n точек ряда с суммой n точек перед ними.
// Для короткого ряда n уменьшается до половины его длины; меньше двух точек — flat.
func TrendDirection(points []domain.TrendPoint, n int) Direction {
	if n <= 0 {
		n = DefaultCompareBuckets
	}
	if half := len(points) / 2; n > half {
		n = half
	}
	if n == 0 {
		return DirectionFlat
	}
	recent, before := 0, 0
	for _, p := range points[len(points)-n:] {
		recent += p.Count
	}
	for _, p := range points[len(points)-2*n : len(points)-n] {
		before += p.Count
	}
	switch {
	case recent > before:
		return DirectionIncreased
	case recent < before:
		return DirectionDecreased
	}
	return DirectionFlat
}

// String возвращает стабильную текстовую сводку:
// "total +3 (12→15); clinical trial +1 (3→4); trend increased".
func (s Summary) String() string {
	parts := make([]string, 0, len(s.Buckets)+2)
	parts = append(parts, fmt.Sprintf("total %+d (%d→%d)", s.TotalDelta(), s.PreviousTotal, s.CurrentTotal))
	for _, b := range s.Buckets {
		parts = append(parts, fmt.Sprintf("%s %+d (%d→%d)", b.Type, b.Delta(), b.Previous, b.Current))
	}
	parts = append(parts, "trend "+string(s.Trend))
	return strings.Join(parts, "; ")
}

// Text возвращает текст сводки или nil для первого цикла.
func Text(s *Summary) *string {
	if s == nil {
		return nil
	}
	text := s.String()
	return &text
}
