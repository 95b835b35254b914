package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"medbrief/internal/domain"
	"medbrief/internal/infra/metrics"
	"medbrief/internal/infra/retry"
	"medbrief/internal/usecase/analysis"
	"medbrief/internal/usecase/diff"
	"medbrief/internal/usecase/dispatch"
)

// ErrCycleInProgress возвращается если цикл по теме уже выполняется.
var ErrCycleInProgress = errors.New("cycle already in progress")

// Notifier рассылает готовый отчёт по каналам темы.
type Notifier interface {
	Dispatch(ctx context.Context, req dispatch.Request) (dispatch.Result, error)
}

// Deps описывает внешние зависимости планировщика.
type Deps struct {
	Topics     domain.TopicRepo
	Snapshots  domain.SnapshotRepo
	History    domain.HistoryStore
	Source     domain.LiteratureSource
	Renderer   domain.ReportRenderer
	Notifier   Notifier
	Aggregator *analysis.Aggregator
	// Без Locker планировщик создаёт свой LockRegistry.
	Locker domain.TopicLocker
}

// Config задаёт параметры планировщика.
type Config struct {
	Tick           time.Duration
	Workers        int
	Location       *time.Location
	Retry          retry.Policy
	CompareBuckets int
	Highlights     int
}

// CycleResult описывает итог одного цикла.
type CycleResult struct {
	CycleID  string
	TopicID  int64
	Skipped  bool
	Status   domain.UpdateStatus
	Snapshot *domain.AnalysisSnapshot
	Artifact *domain.ArtifactRef
	Diff     *diff.Summary
	Dispatch dispatch.Result
}

// Planned описывает следующий запуск темы.
type Planned struct {
	Topic domain.Topic
	Next  time.Time
	Never bool
}

// Scheduler периодически проверяет темы и запускает циклы обновления.
type Scheduler struct {
	deps Deps
	cfg  Config
	log  zerolog.Logger
	now  func() time.Time

	jobs chan int64

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New создаёт планировщик.
func New(deps Deps, cfg Config, logger zerolog.Logger) *Scheduler {
	if cfg.Tick <= 0 {
		cfg.Tick = time.Minute
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if deps.Locker == nil {
		deps.Locker = NewLockRegistry()
	}
	if deps.Aggregator == nil {
		deps.Aggregator = analysis.NewAggregator(analysis.Config{})
	}
	return &Scheduler{
		deps: deps,
		cfg:  cfg,
		log:  logger.With().Str("component", "scheduler").Logger(),
		now:  time.Now,
		jobs: make(chan int64),
	}
}

// Start запускает цикл тиков и пул воркеров. Повторный вызов ничего не делает.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	for i := 0; i < s.cfg.Workers; i++ {
		s.wg.Add(1)
		go s.worker(runCtx)
	}
	s.wg.Add(1)
	go s.loop(runCtx)
	s.log.Info().Int("workers", s.cfg.Workers).Dur("tick", s.cfg.Tick).Msg("scheduler: запущен")
}

// Stop прекращает тики и ждёт завершения уже начатых циклов.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	s.wg.Wait()
	s.log.Info().Msg("scheduler: остановлен")
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.Tick)
	defer ticker.Stop()
	s.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

func (s *Scheduler) worker(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-s.jobs:
			// Начатый цикл доводится до конца даже после Stop.
			s.runQueued(context.WithoutCancel(ctx), id)
		}
	}
}

func (s *Scheduler) runQueued(ctx context.Context, topicID int64) {
	res, err := s.cycle(ctx, topicID, false)
	switch {
	case errors.Is(err, ErrCycleInProgress):
		s.log.Debug().Int64("topic", topicID).Msg("scheduler: цикл уже выполняется, пропуск")
	case errors.Is(err, domain.ErrTopicNotFound):
		s.log.Debug().Int64("topic", topicID).Msg("scheduler: тема удалена, пропуск")
	case err != nil:
		s.log.Error().Err(err).Int64("topic", topicID).Str("cycle_id", res.CycleID).Msg("scheduler: цикл завершился ошибкой")
	}
}

// Tick выполняет один проход: темы, которым пора, передаются свободным воркерам.
// Если свободных воркеров нет, тема будет рассмотрена на следующем тике.
// Возвращает число переданных тем.
func (s *Scheduler) Tick(ctx context.Context) int {
	topics, err := s.deps.Topics.ListTopics(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("scheduler: ошибка выборки тем")
		return 0
	}
	now := s.now()
	enqueued := 0
	for _, topic := range topics {
		if !Due(topic, now, s.cfg.Location) {
			continue
		}
		select {
		case s.jobs <- topic.ID:
			enqueued++
		default:
			metrics.IncSkipped("busy")
			s.log.Debug().Int64("topic", topic.ID).Msg("scheduler: все воркеры заняты")
		}
	}
	return enqueued
}

// RunCycle запускает цикл темы, если ей пора. Занятая тема даёт ErrCycleInProgress.
func (s *Scheduler) RunCycle(ctx context.Context, topic domain.Topic) (CycleResult, error) {
	return s.cycle(ctx, topic.ID, false)
}

// TriggerNow запускает цикл темы немедленно, не проверяя расписание.
func (s *Scheduler) TriggerNow(ctx context.Context, topicID int64) (CycleResult, error) {
	return s.cycle(ctx, topicID, true)
}

// NextRuns возвращает плановые запуски всех тем.
func (s *Scheduler) NextRuns(ctx context.Context) ([]Planned, error) {
	topics, err := s.deps.Topics.ListTopics(ctx)
	if err != nil {
		return nil, fmt.Errorf("выборка тем: %w", err)
	}
	out := make([]Planned, 0, len(topics))
	for _, topic := range topics {
		next, ok := NextScheduledTime(topic, s.cfg.Location)
		out = append(out, Planned{Topic: topic, Next: next, Never: !ok})
	}
	return out, nil
}

func (s *Scheduler) cycle(ctx context.Context, topicID int64, force bool) (CycleResult, error) {
	ctx = context.WithoutCancel(ctx)
	res := CycleResult{TopicID: topicID, Skipped: true}
	started := s.now()

	release, ok, err := s.deps.Locker.TryLock(ctx, topicID)
	if err != nil {
		return res, fmt.Errorf("блокировка темы %d: %w", topicID, err)
	}
	if !ok {
		metrics.IncSkipped("locked")
		return res, ErrCycleInProgress
	}
	defer release()

	// Настройки читаются под блокировкой и не меняются до конца цикла.
	topic, err := s.deps.Topics.GetTopic(ctx, topicID)
	if err != nil {
		if errors.Is(err, domain.ErrTopicNotFound) {
			metrics.IncSkipped("deleted")
		}
		return res, fmt.Errorf("получение темы %d: %w", topicID, err)
	}
	if !force && !Due(topic, started, s.cfg.Location) {
		metrics.IncSkipped("not_due")
		return res, nil
	}

	res.Skipped = false
	res.CycleID = uuid.NewString()
	logger := s.log.With().Int64("topic", topic.ID).Str("cycle_id", res.CycleID).Logger()
	logger.Info().Str("name", topic.Name).Msg("scheduler: цикл начат")
	metrics.CyclesInFlight.Inc()
	defer metrics.CyclesInFlight.Dec()

	if err := s.execute(ctx, logger, topic, started, &res); err != nil {
		res.Status = domain.UpdateFailure
		s.finish(ctx, logger, topic.ID, domain.TopicUpdate{TopicID: topic.ID, Status: domain.UpdateFailure}, started)
		return res, err
	}
	res.Status = domain.UpdateSuccess
	s.finish(ctx, logger, topic.ID, domain.TopicUpdate{TopicID: topic.ID, Status: domain.UpdateSuccess, Artifact: res.Artifact}, started)
	return res, nil
}

func (s *Scheduler) execute(ctx context.Context, logger zerolog.Logger, topic domain.Topic, started time.Time, res *CycleResult) error {
	window := s.deps.Aggregator.Window(topic, started, s.cfg.Location)

	var records []domain.LiteratureRecord
	attempts, err := retry.Do(ctx, s.cfg.Retry, func(attempt int) error {
		found, err := s.deps.Source.Search(ctx, topic.Keywords, window)
		if err != nil {
			logger.Warn().Err(err).Int("attempt", attempt).Msg("scheduler: ошибка поиска литературы")
			return err
		}
		records = found
		return nil
	})
	if err != nil {
		return fmt.Errorf("поиск литературы (%d попыток): %w", attempts, err)
	}
	metrics.LiteratureFetched.Observe(float64(len(records)))

	snap := s.deps.Aggregator.Aggregate(analysis.Input{
		TopicID:     topic.ID,
		Frequency:   topic.Frequency,
		Window:      window,
		GeneratedAt: started,
		Records:     records,
	})

	var prev *domain.AnalysisSnapshot
	latest, err := s.deps.Snapshots.LatestSnapshot(ctx, topic.ID)
	switch {
	case err == nil:
		prev = &latest
	case !errors.Is(err, domain.ErrNoSnapshot):
		return fmt.Errorf("предыдущий снимок: %w", err)
	}

	artifact, err := s.deps.Renderer.Render(ctx, domain.RenderRequest{
		TopicName:  topic.Name,
		Keywords:   topic.Keywords,
		Window:     window,
		Snapshot:   snap,
		Highlights: analysis.Highlights(records, s.cfg.Highlights),
		TemplateID: topic.Template,
	})
	if err != nil {
		return fmt.Errorf("генерация отчёта: %w", err)
	}
	res.Artifact = &artifact

	// Снимок сохраняется только после успешной генерации: неудачный цикл не трогает прошлый результат.
	saved, err := s.deps.Snapshots.SaveSnapshot(ctx, snap, records)
	switch {
	case err == nil:
		snap = saved
	case errors.Is(err, domain.ErrTopicNotFound):
		logger.Info().Msg("scheduler: тема удалена во время цикла, снимок не сохранён")
	default:
		return fmt.Errorf("сохранение снимка: %w", err)
	}
	res.Snapshot = &snap

	res.Diff = diff.Compare(prev, snap, s.cfg.CompareBuckets)
	dres, err := s.deps.Notifier.Dispatch(ctx, dispatch.Request{
		Topic:       topic,
		Artifact:    artifact,
		DiffSummary: diff.Text(res.Diff),
		GeneratedAt: started,
	})
	if err != nil {
		logger.Error().Err(err).Msg("scheduler: ошибка журнала доставок")
	}
	res.Dispatch = dres
	logger.Info().
		Int("records", len(records)).
		Int("channels_ok", dres.Succeeded).
		Int("channels", len(topic.Channels)).
		Str("artifact", artifact.Filename).
		Msg("scheduler: цикл завершён")
	return nil
}

func (s *Scheduler) finish(ctx context.Context, logger zerolog.Logger, topicID int64, update domain.TopicUpdate, started time.Time) {
	update.Timestamp = s.now()
	if _, err := s.deps.History.AppendUpdate(ctx, update); err != nil {
		logger.Error().Err(err).Msg("scheduler: не удалось записать историю")
	}
	if err := s.deps.Topics.MarkRun(ctx, topicID, started); err != nil {
		logger.Error().Err(err).Msg("scheduler: не удалось сдвинуть расписание")
	}
	metrics.ObserveCycle(string(update.Status), started)
	if update.Status == domain.UpdateFailure {
		logger.Warn().Msg("scheduler: цикл завершён с ошибкой")
	}
}
