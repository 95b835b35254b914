package insights

import (
	"context"
	"errors"
	"fmt"

	"medbrief/internal/domain"
)

const (
	// DefaultPushLimit — сколько записей доставок возвращается без явного лимита.
	DefaultPushLimit = 10
	// MaxPushLimit — верхняя граница лимита записей доставок.
	MaxPushLimit = 100
	// DefaultLiteratureLimit — размер страницы литературы по умолчанию.
	DefaultLiteratureLimit = 100
	// MaxLiteratureLimit — верхняя граница страницы литературы.
	MaxLiteratureLimit = 500
)

// Analysis объединяет последний снимок темы и страницу её литературы.
type Analysis struct {
	Topic      domain.Topic              `json:"topic"`
	Snapshot   *domain.AnalysisSnapshot  `json:"snapshot"`
	Literature []domain.LiteratureRecord `json:"literature"`
	Skip       int                       `json:"skip"`
	Limit      int                       `json:"limit"`
}

// Service отдаёт проекции данных только для чтения.
type Service struct {
	topics    domain.TopicRepo
	snapshots domain.SnapshotRepo
	history   domain.HistoryStore
}

// NewService создаёт сервис чтения.
func NewService(topics domain.TopicRepo, snapshots domain.SnapshotRepo, history domain.HistoryStore) *Service {
	return &Service{topics: topics, snapshots: snapshots, history: history}
}

// Topics возвращает список тем.
func (s *Service) Topics(ctx context.Context) ([]domain.Topic, error) {
	return s.topics.ListTopics(ctx)
}

// Topic возвращает тему по id.
func (s *Service) Topic(ctx context.Context, id int64) (domain.Topic, error) {
	return s.topics.GetTopic(ctx, id)
}

// Analysis возвращает последний снимок и литературу темы. Без снимков Snapshot равен nil.
func (s *Service) Analysis(ctx context.Context, topicID int64, skip, limit int) (Analysis, error) {
	topic, err := s.topics.GetTopic(ctx, topicID)
	if err != nil {
		return Analysis{}, err
	}
	skip, limit = clampPage(skip, limit)
	out := Analysis{Topic: topic, Skip: skip, Limit: limit, Literature: []domain.LiteratureRecord{}}

	snap, err := s.snapshots.LatestSnapshot(ctx, topicID)
	switch {
	case errors.Is(err, domain.ErrNoSnapshot):
		return out, nil
	case err != nil:
		return Analysis{}, fmt.Errorf("последний снимок темы %d: %w", topicID, err)
	}
	out.Snapshot = &snap

	records, err := s.snapshots.ListLiterature(ctx, topicID, skip, limit)
	if err != nil {
		return Analysis{}, fmt.Errorf("литература темы %d: %w", topicID, err)
	}
	if records != nil {
		out.Literature = records
	}
	return out, nil
}

// History возвращает историю обновлений темы по возрастанию времени.
func (s *Service) History(ctx context.Context, topicID int64) ([]domain.TopicUpdate, error) {
	if _, err := s.topics.GetTopic(ctx, topicID); err != nil {
		return nil, err
	}
	return s.history.History(ctx, topicID)
}

// PushRecords возвращает последние записи доставок. topicID 0 — все темы.
func (s *Service) PushRecords(ctx context.Context, topicID int64, limit int) ([]domain.PushRecord, error) {
	return s.history.PushRecords(ctx, topicID, ClampPushLimit(limit))
}

// ClampPushLimit приводит лимит к диапазону [1, MaxPushLimit], по умолчанию DefaultPushLimit.
func ClampPushLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultPushLimit
	case limit > MaxPushLimit:
		return MaxPushLimit
	}
	return limit
}

func clampPage(skip, limit int) (int, int) {
	if skip < 0 {
		skip = 0
	}
	switch {
	case limit <= 0:
		limit = DefaultLiteratureLimit
	case limit > MaxLiteratureLimit:
		limit = MaxLiteratureLimit
	}
	return skip, limit
}
