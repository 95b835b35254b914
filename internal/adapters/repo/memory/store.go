// Package memory хранит темы, снимки и историю в памяти процесса.
// Используется без PG_DSN в локальной разработке и в тестах конвейера.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"medbrief/internal/domain"
)

// Store реализует TopicRepo, SnapshotRepo и HistoryStore.
type Store struct {
	mu sync.Mutex

	nextTopicID int64
	topics      map[int64]domain.Topic

	nextSnapshotID int64
	snapshots      map[int64][]domain.AnalysisSnapshot
	literature     map[int64][]domain.LiteratureRecord
	retention      int

	nextUpdateID int64
	updates      []domain.TopicUpdate

	nextPushID int64
	pushes     []domain.PushRecord
	outcomes   map[int64]domain.PushStatus
}

var (
	_ domain.TopicRepo    = (*Store)(nil)
	_ domain.SnapshotRepo = (*Store)(nil)
	_ domain.HistoryStore = (*Store)(nil)
)

// NewStore создаёт пустое хранилище. retention — сколько последних снимков хранить на тему (минимум 2).
func NewStore(retention int) *Store {
	if retention < 2 {
		retention = 2
	}
	return &Store{
		topics:     make(map[int64]domain.Topic),
		snapshots:  make(map[int64][]domain.AnalysisSnapshot),
		literature: make(map[int64][]domain.LiteratureRecord),
		retention:  retention,
		outcomes:   make(map[int64]domain.PushStatus),
	}
}

// ListTopics возвращает темы по возрастанию id.
func (s *Store) ListTopics(context.Context) ([]domain.Topic, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Topic, 0, len(s.topics))
	for _, t := range s.topics {
		out = append(out, cloneTopic(t))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// GetTopic возвращает тему по id.
func (s *Store) GetTopic(_ context.Context, id int64) (domain.Topic, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.topics[id]
	if !ok {
		return domain.Topic{}, domain.ErrTopicNotFound
	}
	return cloneTopic(t), nil
}

// CreateTopic сохраняет новую тему.
func (s *Store) CreateTopic(_ context.Context, cfg domain.TopicConfig, now time.Time) (domain.Topic, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextTopicID++
	t := topicFromConfig(s.nextTopicID, cfg)
	t.CreatedAt = now
	t.LastUpdated = now
	s.topics[t.ID] = cloneTopic(t)
	return cloneTopic(t), nil
}

// UpdateTopic заменяет настройки темы и сдвигает last_updated на now.
func (s *Store) UpdateTopic(_ context.Context, id int64, cfg domain.TopicConfig, now time.Time) (domain.Topic, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.topics[id]
	if !ok {
		return domain.Topic{}, domain.ErrTopicNotFound
	}
	t := topicFromConfig(id, cfg)
	t.CreatedAt = old.CreatedAt
	t.LastUpdated = now
	s.topics[id] = cloneTopic(t)
	return cloneTopic(t), nil
}

// DeleteTopic удаляет тему. История и записи доставок остаются.
func (s *Store) DeleteTopic(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.topics[id]; !ok {
		return domain.ErrTopicNotFound
	}
	delete(s.topics, id)
	delete(s.snapshots, id)
	delete(s.literature, id)
	return nil
}

// MarkRun сдвигает last_updated вперёд. Удалённая тема игнорируется.
func (s *Store) MarkRun(_ context.Context, id int64, startedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.topics[id]
	if !ok {
		return nil
	}
	if startedAt.After(t.LastUpdated) {
		t.LastUpdated = startedAt
		s.topics[id] = t
	}
	return nil
}

// SaveSnapshot сохраняет снимок и заменяет литературу темы.
// Для удалённой темы возвращает ErrTopicNotFound.
func (s *Store) SaveSnapshot(_ context.Context, snap domain.AnalysisSnapshot, records []domain.LiteratureRecord) (domain.AnalysisSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.topics[snap.TopicID]; !ok {
		return domain.AnalysisSnapshot{}, domain.ErrTopicNotFound
	}
	s.nextSnapshotID++
	snap.ID = s.nextSnapshotID
	list := append(s.snapshots[snap.TopicID], snap)
	if len(list) > s.retention {
		list = list[len(list)-s.retention:]
	}
	s.snapshots[snap.TopicID] = list

	stored := make([]domain.LiteratureRecord, len(records))
	copy(stored, records)
	sort.SliceStable(stored, func(i, j int) bool {
		return stored[i].PublicationDate.After(stored[j].PublicationDate)
	})
	s.literature[snap.TopicID] = stored
	return snap, nil
}

// LatestSnapshot возвращает последний снимок темы.
func (s *Store) LatestSnapshot(_ context.Context, topicID int64) (domain.AnalysisSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.snapshots[topicID]
	if len(list) == 0 {
		return domain.AnalysisSnapshot{}, domain.ErrNoSnapshot
	}
	return list[len(list)-1], nil
}

// ListLiterature возвращает страницу литературы последнего снимка, новые публикации первыми.
func (s *Store) ListLiterature(_ context.Context, topicID int64, skip, limit int) ([]domain.LiteratureRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := s.literature[topicID]
	if skip < 0 {
		skip = 0
	}
	if skip >= len(all) {
		return []domain.LiteratureRecord{}, nil
	}
	end := len(all)
	if limit > 0 && skip+limit < end {
		end = skip + limit
	}
	out := make([]domain.LiteratureRecord, end-skip)
	copy(out, all[skip:end])
	return out, nil
}

// AppendUpdate добавляет запись истории.
func (s *Store) AppendUpdate(_ context.Context, u domain.TopicUpdate) (domain.TopicUpdate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextUpdateID++
	u.ID = s.nextUpdateID
	s.updates = append(s.updates, u)
	return u, nil
}

// AppendPushRecord добавляет запись доставки.
func (s *Store) AppendPushRecord(_ context.Context, r domain.PushRecord) (domain.PushRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextPushID++
	r.ID = s.nextPushID
	r.Recipients = append([]string(nil), r.Recipients...)
	s.pushes = append(s.pushes, r)
	return r, nil
}

// ResolvePushRecord фиксирует итог доставки ровно один раз.
func (s *Store) ResolvePushRecord(_ context.Context, id int64, status domain.PushStatus, _ time.Time) error {
	if !status.Terminal() {
		return fmt.Errorf("итог доставки должен быть окончательным: %s", status)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if id <= 0 || id > s.nextPushID {
		return fmt.Errorf("запись доставки %d не найдена", id)
	}
	if _, done := s.outcomes[id]; done {
		return domain.ErrPushRecordResolved
	}
	s.outcomes[id] = status
	return nil
}

// History возвращает обновления темы в порядке добавления.
func (s *Store) History(_ context.Context, topicID int64) ([]domain.TopicUpdate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.TopicUpdate, 0)
	for _, u := range s.updates {
		if u.TopicID == topicID {
			out = append(out, u)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

// PushRecords возвращает записи доставок, новые первыми. topicID 0 — все темы, limit 0 — без ограничения.
func (s *Store) PushRecords(_ context.Context, topicID int64, limit int) ([]domain.PushRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.PushRecord, 0)
	for _, r := range s.pushes {
		if topicID != 0 && r.TopicID != topicID {
			continue
		}
		if status, ok := s.outcomes[r.ID]; ok {
			r.Status = status
		}
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].PushTime.Equal(out[j].PushTime) {
			return out[i].PushTime.After(out[j].PushTime)
		}
		return out[i].ID > out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func topicFromConfig(id int64, cfg domain.TopicConfig) domain.Topic {
	return domain.Topic{
		ID:            id,
		Name:          cfg.Name,
		Keywords:      cfg.Keywords,
		Frequency:     cfg.Frequency,
		CustomRange:   cfg.CustomRange,
		DetectionTime: cfg.DetectionTime,
		Channels:      cfg.Channels,
		Recipients:    cfg.Recipients,
		Template:      cfg.Template,
	}
}

func cloneTopic(t domain.Topic) domain.Topic {
	t.Keywords = append([]string(nil), t.Keywords...)
	t.Channels = append([]domain.ChannelKind(nil), t.Channels...)
	if t.Recipients != nil {
		rcpt := make(map[domain.ChannelKind][]string, len(t.Recipients))
		for k, v := range t.Recipients {
			rcpt[k] = append([]string(nil), v...)
		}
		t.Recipients = rcpt
	}
	if t.CustomRange != nil {
		r := *t.CustomRange
		t.CustomRange = &r
	}
	if t.DetectionTime != nil {
		d := *t.DetectionTime
		t.DetectionTime = &d
	}
	return t
}
