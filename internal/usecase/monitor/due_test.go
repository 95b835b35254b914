package monitor

import (
	"context"
	"testing"
	"time"

	"medbrief/internal/domain"
)

func TestNextScheduledTime(t *testing.T) {
	loc := time.UTC
	nine := &domain.TimeOfDay{Hour: 9}
	jan31 := time.Date(2025, 1, 31, 15, 30, 0, 0, loc)

	cases := []struct {
		name  string
		topic domain.Topic
		want  time.Time
		never bool
	}{
		{
			name:  "weekly от created_at",
			topic: domain.Topic{Frequency: domain.FrequencyWeekly, CreatedAt: jan31},
			want:  time.Date(2025, 2, 7, 15, 30, 0, 0, loc),
		},
		{
			name:  "monthly с обрезкой дня и временем проверки",
			topic: domain.Topic{Frequency: domain.FrequencyMonthly, LastUpdated: jan31, DetectionTime: nine},
			want:  time.Date(2025, 2, 28, 9, 0, 0, 0, loc),
		},
		{
			name:  "quarterly",
			topic: domain.Topic{Frequency: domain.FrequencyQuarterly, LastUpdated: jan31, DetectionTime: nine},
			want:  time.Date(2025, 4, 30, 9, 0, 0, 0, loc),
		},
		{
			name: "раньше начала диапазона",
			topic: domain.Topic{
				Frequency: domain.FrequencyWeekly, LastUpdated: jan31, DetectionTime: nine,
				CustomRange: &domain.DateRange{From: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), To: time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC)},
			},
			want: time.Date(2025, 3, 1, 9, 0, 0, 0, loc),
		},
		{
			name: "после конца диапазона",
			topic: domain.Topic{
				Frequency: domain.FrequencyMonthly, LastUpdated: jan31,
				CustomRange: &domain.DateRange{From: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), To: time.Date(2025, 2, 15, 0, 0, 0, 0, time.UTC)},
			},
			never: true,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := NextScheduledTime(tc.topic, loc)
			if ok == tc.never {
				t.Fatalf("ожидали never=%v, получили ok=%v", tc.never, ok)
			}
			if !tc.never && !got.Equal(tc.want) {
				t.Fatalf("ожидали %v, получили %v", tc.want, got)
			}
		})
	}
}

func TestNextScheduledTimeUsesLocation(t *testing.T) {
	shanghai := time.FixedZone("CST", 8*3600)
	anchor := time.Date(2025, 5, 1, 20, 0, 0, 0, time.UTC) // 2 мая 04:00 по Шанхаю
	topic := domain.Topic{Frequency: domain.FrequencyWeekly, LastUpdated: anchor, DetectionTime: &domain.TimeOfDay{Hour: 8}}
	got, _ := NextScheduledTime(topic, shanghai)
	want := time.Date(2025, 5, 9, 8, 0, 0, 0, shanghai)
	if !got.Equal(want) {
		t.Fatalf("ожидали %v, получили %v", want, got)
	}
}

func TestDue(t *testing.T) {
	anchor := time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)
	topic := domain.Topic{Frequency: domain.FrequencyWeekly, LastUpdated: anchor}
	if Due(topic, anchor.Add(7*24*time.Hour-time.Second), time.UTC) {
		t.Fatalf("до следующего запуска тема не должна быть готова")
	}
	if !Due(topic, anchor.Add(7*24*time.Hour), time.UTC) {
		t.Fatalf("в момент запуска тема готова")
	}
	expired := topic
	expired.CustomRange = &domain.DateRange{From: anchor, To: anchor}
	if Due(expired, anchor.AddDate(1, 0, 0), time.UTC) {
		t.Fatalf("тема с истёкшим диапазоном не запускается")
	}
}

func TestLockRegistry(t *testing.T) {
	r := NewLockRegistry()
	release, ok, err := r.TryLock(context.Background(), 1)
	if err != nil || !ok {
		t.Fatalf("ожидали блокировку: %v", err)
	}
	if _, ok, _ := r.TryLock(context.Background(), 1); ok {
		t.Fatalf("повторная блокировка темы должна отклоняться")
	}
	other, ok, _ := r.TryLock(context.Background(), 2)
	if !ok {
		t.Fatalf("другая тема блокируется независимо")
	}
	release()
	release()
	if r.Held(1) || r.Len() != 1 {
		t.Fatalf("после освобождения занята только тема 2")
	}
	other()
	if r.Len() != 0 {
		t.Fatalf("реестр должен быть пуст")
	}
}
