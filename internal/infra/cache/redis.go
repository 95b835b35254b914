package cache

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"medbrief/internal/domain"
)

// releaseScript удаляет ключ, только если он всё ещё принадлежит владельцу.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// refreshScript продлевает ключ, только если он всё ещё принадлежит владельцу.
var refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// RedisLocker реализует domain.TopicLocker через SET NX с TTL.
// Пока блокировка занята, она продлевается каждые TTL/3; TTL ограничивает
// только время жизни ключа упавшего владельца.
type RedisLocker struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	log    zerolog.Logger
}

var _ domain.TopicLocker = (*RedisLocker)(nil)

// NewRedisLocker создаёт распределённую блокировку тем.
func NewRedisLocker(client *redis.Client, prefix string, ttl time.Duration, logger zerolog.Logger) *RedisLocker {
	if prefix == "" {
		prefix = "medbrief:topic-lock:"
	}
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &RedisLocker{client: client, prefix: prefix, ttl: ttl, log: logger}
}

// TryLock пытается занять тему без ожидания.
func (l *RedisLocker) TryLock(ctx context.Context, topicID int64) (func(), bool, error) {
	key := l.key(topicID)
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("redis setnx %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go l.keepAlive(key, token, stop, done)

	var once sync.Once
	release := func() {
		once.Do(func() {
			close(stop)
			<-done
			// Снимаем блокировку даже если контекст цикла уже отменён.
			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := releaseScript.Run(releaseCtx, l.client, []string{key}, token).Err(); err != nil {
				l.log.Error().Err(err).Str("key", key).Msg("cache: не удалось снять блокировку темы")
			}
		})
	}
	return release, true, nil
}

func (l *RedisLocker) keepAlive(key, token string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(l.ttl / 3)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), l.ttl/3)
			n, err := refreshScript.Run(ctx, l.client, []string{key}, token, l.ttl.Milliseconds()).Int()
			cancel()
			switch {
			case err != nil:
				l.log.Warn().Err(err).Str("key", key).Msg("cache: не удалось продлить блокировку темы")
			case n == 0:
				l.log.Error().Str("key", key).Msg("cache: блокировка темы потеряна")
				return
			}
		}
	}
}

func (l *RedisLocker) key(topicID int64) string {
	return l.prefix + strconv.FormatInt(topicID, 10)
}
