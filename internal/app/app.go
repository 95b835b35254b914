// Package app собирает зависимости сервисов из конфигурации.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"medbrief/internal/adapters/literature"
	"medbrief/internal/adapters/notify"
	"medbrief/internal/adapters/renderer"
	"medbrief/internal/adapters/repo"
	"medbrief/internal/adapters/repo/memory"
	"medbrief/internal/domain"
	"medbrief/internal/infra/cache"
	"medbrief/internal/infra/config"
	"medbrief/internal/infra/db"
	applog "medbrief/internal/infra/log"
	"medbrief/internal/infra/openai"
	"medbrief/internal/infra/queue"
	"medbrief/internal/infra/retry"
	"medbrief/internal/infra/templates"
	"medbrief/internal/usecase/analysis"
	"medbrief/internal/usecase/dispatch"
	"medbrief/internal/usecase/monitor"
)

// Stores объединяет хранилища тем, снимков и истории.
type Stores struct {
	Topics    domain.TopicRepo
	Snapshots domain.SnapshotRepo
	History   domain.HistoryStore
	closers   []func()
}

// Close освобождает подключения в обратном порядке.
func (s *Stores) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// OpenStores подключается к Postgres и создаёт схему. Без PG_DSN данные живут в памяти процесса.
func OpenStores(ctx context.Context, cfg config.AppConfig, logger zerolog.Logger) (*Stores, error) {
	if strings.TrimSpace(cfg.PGDSN) == "" {
		logger.Warn().Msg("app: PG_DSN не задан, используется хранилище в памяти")
		store := memory.NewStore(cfg.Analysis.SnapshotRetention)
		return &Stores{Topics: store, Snapshots: store, History: store}, nil
	}
	pool, err := db.Connect(ctx, cfg.PGDSN, int32(cfg.Scheduler.Workers+2))
	if err != nil {
		return nil, fmt.Errorf("подключение к БД: %w", err)
	}
	pg := repo.NewPostgres(pool, cfg.Analysis.SnapshotRetention)
	if err := pg.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("схема БД: %w", err)
	}
	return &Stores{Topics: pg, Snapshots: pg, History: pg, closers: []func(){pool.Close}}, nil
}

// Templates загружает каталог шаблонов отчётов.
func Templates(cfg config.AppConfig) (*templates.Catalog, error) {
	return templates.Load(cfg.Report.TemplatesFile)
}

// RetryPolicy строит политику повторов из конфигурации.
func RetryPolicy(cfg config.AppConfig) retry.Policy {
	return retry.Policy{Attempts: cfg.Retry.Attempts, Initial: cfg.Retry.Initial, Max: cfg.Retry.Max}
}

// Pipeline держит планировщик и подключения его адаптеров.
type Pipeline struct {
	Scheduler *monitor.Scheduler
	closers   []func()
}

// Close закрывает подключения транспортов и блокировок.
func (p *Pipeline) Close() {
	for i := len(p.closers) - 1; i >= 0; i-- {
		p.closers[i]()
	}
}

// NewPipeline собирает планировщик: источник литературы, генератор отчётов, транспорты и блокировки.
func NewPipeline(cfg config.AppConfig, stores *Stores, logger zerolog.Logger) (*Pipeline, error) {
	catalog, err := Templates(cfg)
	if err != nil {
		return nil, err
	}
	loc := cfg.Location()
	p := &Pipeline{}

	source := literature.NewPubMed(literature.Config{
		BaseURL:    cfg.PubMed.BaseURL,
		APIKey:     cfg.PubMed.APIKey,
		ICiteURL:   cfg.PubMed.ICiteURL,
		RPS:        cfg.PubMed.RPS,
		MaxResults: cfg.PubMed.MaxResults,
	}, logger)

	var narrator renderer.Narrator
	if llm := openai.NewClient(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, cfg.OpenAI.Model, cfg.OpenAI.Timeout); llm.Enabled() {
		narrator = llm
	} else {
		logger.Info().Msg("app: OPENAI_API_KEY не задан, выводы отчёта строятся без LLM")
	}
	render := renderer.NewMarkdown(renderer.Config{OutputDir: cfg.Report.OutputDir, Location: loc, NarrativeTimeout: cfg.OpenAI.Timeout}, catalog, narrator, logger)

	transports, closers := Transports(cfg, logger)
	p.closers = append(p.closers, closers...)
	notifier := dispatch.NewDispatcher(stores.History, transports, DefaultRecipients(cfg), RetryPolicy(cfg), logger)

	locker, closeLocker, err := Locker(cfg, logger)
	if err != nil {
		p.Close()
		return nil, err
	}
	p.closers = append(p.closers, closeLocker)

	p.Scheduler = monitor.New(monitor.Deps{
		Topics:    stores.Topics,
		Snapshots: stores.Snapshots,
		History:   stores.History,
		Source:    source,
		Renderer:  render,
		Notifier:  notifier,
		Aggregator: analysis.NewAggregator(analysis.Config{
			HighCitationThreshold: cfg.Analysis.HighCitationThreshold,
			TrendBuckets:          cfg.Analysis.TrendBuckets,
		}),
		Locker: locker,
	}, monitor.Config{
		Tick:           cfg.Scheduler.Tick,
		Workers:        cfg.Scheduler.Workers,
		Location:       loc,
		Retry:          RetryPolicy(cfg),
		CompareBuckets: cfg.Analysis.TrendCompareBuckets,
		Highlights:     cfg.Analysis.HighlightsPerReport,
	}, logger)
	return p, nil
}

// Transports создаёт транспорты для настроенных каналов. Канал без настроек не регистрируется:
// диспетчер запишет для него неуспешную доставку.
func Transports(cfg config.AppConfig, logger zerolog.Logger) ([]domain.ChannelTransport, []func()) {
	loc := cfg.Location()
	linkBase := cfg.SMTP.LinkBase
	var (
		out     []domain.ChannelTransport
		closers []func()
	)
	if cfg.SMTP.Host != "" {
		out = append(out, notify.NewEmail(notify.SMTPConfig{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
			LinkBase: linkBase,
			Location: loc,
		}))
	}
	if cfg.Telegram.Token != "" {
		tg, err := notify.NewTelegramFromToken(cfg.Telegram.Token, linkBase, loc)
		if err != nil {
			logger.Error().Err(err).Msg("app: IM-транспорт недоступен")
		} else {
			out = append(out, tg)
		}
	}
	if cfg.SMS.URL != "" {
		out = append(out, notify.NewSMS(notify.SMSConfig{
			URL:      cfg.SMS.URL,
			Token:    cfg.SMS.Token,
			Sender:   cfg.SMS.Sender,
			Timeout:  cfg.SMS.Timeout,
			LinkBase: linkBase,
			Location: loc,
		}))
	}
	if cfg.AppPush.RabbitURL != "" {
		app := notify.NewAppPush(func() (queue.Publisher, error) {
			return queue.DialRabbit(cfg.AppPush.RabbitURL, cfg.AppPush.Exchange)
		}, cfg.AppPush.RoutingKey, linkBase)
		out = append(out, app)
		closers = append(closers, func() { _ = app.Close() })
	}
	kinds := make([]string, 0, len(out))
	for _, t := range out {
		kinds = append(kinds, string(t.Kind()))
	}
	logger.Info().Strs("channels", kinds).Msg("app: транспорты уведомлений")
	return out, closers
}

// DefaultRecipients возвращает получателей по умолчанию для каждого канала.
func DefaultRecipients(cfg config.AppConfig) map[domain.ChannelKind][]string {
	return map[domain.ChannelKind][]string{
		domain.ChannelEmail: cfg.Recipients.Email,
		domain.ChannelIM:    cfg.Recipients.IM,
		domain.ChannelSMS:   cfg.Recipients.SMS,
		domain.ChannelApp:   cfg.Recipients.App,
	}
}

// Locker выбирает реализацию блокировок тем: memory (один процесс) или redis.
func Locker(cfg config.AppConfig, logger zerolog.Logger) (domain.TopicLocker, func(), error) {
	switch strings.ToLower(strings.TrimSpace(cfg.LockBackend)) {
	case "", "memory":
		return monitor.NewLockRegistry(), func() {}, nil
	case "redis":
		if cfg.RedisAddr == "" {
			return nil, nil, errors.New("LOCK_BACKEND=redis требует REDIS_ADDR")
		}
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		return cache.NewRedisLocker(client, "", cfg.Scheduler.LockTTL, applog.Component(logger, "locks")), func() { _ = client.Close() }, nil
	}
	return nil, nil, fmt.Errorf("неизвестный LOCK_BACKEND %q", cfg.LockBackend)
}
