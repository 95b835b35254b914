package domain

import (
	"fmt"
	"strings"
	"time"
)

// Frequency задаёт периодичность проверки темы.
type Frequency string

const (
	FrequencyWeekly    Frequency = "weekly"
	FrequencyMonthly   Frequency = "monthly"
	FrequencyQuarterly Frequency = "quarterly"
)

// ParseFrequency приводит строку к Frequency. "quarter" принимается как синоним quarterly.
func ParseFrequency(raw string) (Frequency, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "weekly":
		return FrequencyWeekly, nil
	case "monthly":
		return FrequencyMonthly, nil
	case "quarterly", "quarter":
		return FrequencyQuarterly, nil
	}
	return "", fmt.Errorf("%w: неизвестная периодичность %q", ErrInvalidTopic, raw)
}

// Valid сообщает, входит ли значение в допустимый набор.
func (f Frequency) Valid() bool {
	switch f {
	case FrequencyWeekly, FrequencyMonthly, FrequencyQuarterly:
		return true
	}
	return false
}

// Advance сдвигает момент на n календарных периодов. Для месяцев день
// ограничивается последним днём целевого месяца (31 января + месяц = 28/29 февраля).
func (f Frequency) Advance(t time.Time, n int) time.Time {
	switch f {
	case FrequencyWeekly:
		return t.AddDate(0, 0, 7*n)
	case FrequencyMonthly:
		return addMonthsClamped(t, n)
	case FrequencyQuarterly:
		return addMonthsClamped(t, 3*n)
	}
	return t
}

func addMonthsClamped(t time.Time, months int) time.Time {
	y, m, d := t.Date()
	first := time.Date(y, m, 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	target := first.AddDate(0, months, 0)
	last := daysIn(target.Year(), target.Month(), t.Location())
	if d > last {
		d = last
	}
	return target.AddDate(0, 0, d-1)
}

func daysIn(year int, month time.Month, loc *time.Location) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, loc).Day()
}

// TimeOfDay — время суток, в которое тема проверяется.
type TimeOfDay struct {
	Hour   int
	Minute int
	Second int
}

// ParseTimeOfDay разбирает "HH:MM" или "HH:MM:SS".
func ParseTimeOfDay(raw string) (TimeOfDay, error) {
	raw = strings.TrimSpace(raw)
	for _, layout := range []string{"15:04:05", "15:04"} {
		if parsed, err := time.Parse(layout, raw); err == nil {
			return TimeOfDay{Hour: parsed.Hour(), Minute: parsed.Minute(), Second: parsed.Second()}, nil
		}
	}
	return TimeOfDay{}, fmt.Errorf("%w: некорректное время %q", ErrInvalidTopic, raw)
}

// String возвращает время в формате HH:MM:SS.
func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d:%02d", t.Hour, t.Minute, t.Second)
}

// On возвращает момент этого времени суток в дне d.
func (t TimeOfDay) On(d time.Time) time.Time {
	y, m, day := d.Date()
	return time.Date(y, m, day, t.Hour, t.Minute, t.Second, 0, d.Location())
}

// MarshalText реализует encoding.TextMarshaler.
func (t TimeOfDay) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText реализует encoding.TextUnmarshaler.
func (t *TimeOfDay) UnmarshalText(text []byte) error {
	parsed, err := ParseTimeOfDay(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// DateRange — ограничение окна по датам, включительно с обеих сторон.
type DateRange struct {
	From time.Time
	To   time.Time
}

// ParseDateRange разбирает строку вида "2025-08-11 to 2025-09-11".
func ParseDateRange(raw string) (DateRange, error) {
	parts := strings.Split(raw, " to ")
	if len(parts) != 2 {
		return DateRange{}, fmt.Errorf("%w: некорректный диапазон %q", ErrInvalidTopic, raw)
	}
	from, err := time.Parse(time.DateOnly, strings.TrimSpace(parts[0]))
	if err != nil {
		return DateRange{}, fmt.Errorf("%w: начало диапазона: %v", ErrInvalidTopic, err)
	}
	to, err := time.Parse(time.DateOnly, strings.TrimSpace(parts[1]))
	if err != nil {
		return DateRange{}, fmt.Errorf("%w: конец диапазона: %v", ErrInvalidTopic, err)
	}
	r := DateRange{From: from, To: to}
	if err := r.Validate(); err != nil {
		return DateRange{}, err
	}
	return r, nil
}

// Validate проверяет, что начало не позже конца.
func (r DateRange) Validate() error {
	if r.From.IsZero() || r.To.IsZero() {
		return fmt.Errorf("%w: диапазон должен иметь обе границы", ErrInvalidTopic)
	}
	if r.To.Before(r.From) {
		return fmt.Errorf("%w: конец диапазона раньше начала", ErrInvalidTopic)
	}
	return nil
}

// String возвращает диапазон в исходном формате.
func (r DateRange) String() string {
	return r.From.Format(time.DateOnly) + " to " + r.To.Format(time.DateOnly)
}

// MarshalText реализует encoding.TextMarshaler.
func (r DateRange) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText реализует encoding.TextUnmarshaler.
func (r *DateRange) UnmarshalText(text []byte) error {
	parsed, err := ParseDateRange(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// End возвращает первый момент после последнего дня диапазона в часовом поясе loc.
func (r DateRange) End(loc *time.Location) time.Time {
	y, m, d := r.To.Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, loc)
}

// Start возвращает начало первого дня диапазона в часовом поясе loc.
func (r DateRange) Start(loc *time.Location) time.Time {
	y, m, d := r.From.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// Window — интервал дат публикаций для поиска, [From, To).
type Window struct {
	From time.Time
	To   time.Time
}
