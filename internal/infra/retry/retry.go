package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"medbrief/internal/domain"
)

// Policy задаёт ограниченный экспоненциальный повтор.
type Policy struct {
	Attempts int
	Initial  time.Duration
	Max      time.Duration
}

// Default делает три попытки с паузами 2s и 4s.
func Default() Policy {
	return Policy{Attempts: 3, Initial: 2 * time.Second, Max: 30 * time.Second}
}

// Do выполняет fn, повторяя только временные ошибки (domain.IsTransient).
// Возвращает последнюю ошибку и число сделанных попыток.
func Do(ctx context.Context, p Policy, fn func(attempt int) error) (int, error) {
	attempts := p.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = p.Initial
	exp.MaxInterval = p.Max
	exp.RandomizationFactor = 0
	exp.Multiplier = 2
	exp.MaxElapsedTime = 0
	if p.Initial <= 0 {
		exp.InitialInterval = time.Nanosecond
	}
	if p.Max < exp.InitialInterval {
		exp.MaxInterval = exp.InitialInterval
	}
	b := backoff.WithContext(backoff.WithMaxRetries(exp, uint64(attempts-1)), ctx)

	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		err := fn(attempt)
		if err == nil {
			return nil
		}
		if !domain.IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}, b)
	return attempt, err
}
