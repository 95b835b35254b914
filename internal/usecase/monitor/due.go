package monitor

import (
	"time"

	"medbrief/internal/domain"
)

// NextScheduledTime возвращает момент следующего цикла темы в часовом поясе loc.
// ok=false — тема больше не запустится: следующий момент позже конца её диапазона дат.
func NextScheduledTime(topic domain.Topic, loc *time.Location) (time.Time, bool) {
	if loc == nil {
		loc = time.UTC
	}
	next := topic.Frequency.Advance(topic.Anchor().In(loc), 1)
	if topic.DetectionTime != nil {
		next = topic.DetectionTime.On(next)
	}
	if topic.CustomRange != nil {
		start := topic.CustomRange.Start(loc)
		if next.Before(start) {
			next = start
			if topic.DetectionTime != nil {
				next = topic.DetectionTime.On(start)
			}
		}
		if !next.Before(topic.CustomRange.End(loc)) {
			return time.Time{}, false
		}
	}
	return next, true
}

// Due сообщает, пора ли запускать цикл темы.
func Due(topic domain.Topic, now time.Time, loc *time.Location) bool {
	next, ok := NextScheduledTime(topic, loc)
	if !ok {
		return false
	}
	return !now.Before(next)
}
