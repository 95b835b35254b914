package topics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"medbrief/internal/domain"
)

// TemplateCatalog сообщает, известен ли шаблон отчёта.
type TemplateCatalog interface {
	Has(id string) bool
}

// Service управляет темами и проверяет настройки при записи.
type Service struct {
	repo      domain.TopicRepo
	templates TemplateCatalog
	now       func() time.Time
}

// NewService создаёт сервис тем.
func NewService(repo domain.TopicRepo, templates TemplateCatalog) *Service {
	return &Service{repo: repo, templates: templates, now: time.Now}
}

// List возвращает все темы.
func (s *Service) List(ctx context.Context) ([]domain.Topic, error) {
	return s.repo.ListTopics(ctx)
}

// Get возвращает тему по id.
func (s *Service) Get(ctx context.Context, id int64) (domain.Topic, error) {
	return s.repo.GetTopic(ctx, id)
}

// Create проверяет настройки и создаёт тему.
func (s *Service) Create(ctx context.Context, cfg domain.TopicConfig) (domain.Topic, error) {
	normalized, err := s.Validate(cfg)
	if err != nil {
		return domain.Topic{}, err
	}
	topic, err := s.repo.CreateTopic(ctx, normalized, s.now())
	if err != nil {
		return domain.Topic{}, fmt.Errorf("создание темы: %w", err)
	}
	return topic, nil
}

// Update проверяет настройки и заменяет их у существующей темы.
func (s *Service) Update(ctx context.Context, id int64, cfg domain.TopicConfig) (domain.Topic, error) {
	normalized, err := s.Validate(cfg)
	if err != nil {
		return domain.Topic{}, err
	}
	topic, err := s.repo.UpdateTopic(ctx, id, normalized, s.now())
	if err != nil {
		return domain.Topic{}, fmt.Errorf("обновление темы %d: %w", id, err)
	}
	return topic, nil
}

// Delete удаляет тему. История остаётся.
func (s *Service) Delete(ctx context.Context, id int64) error {
	if err := s.repo.DeleteTopic(ctx, id); err != nil {
		return fmt.Errorf("удаление темы %d: %w", id, err)
	}
	return nil
}

// Validate приводит настройки к каноническому виду или возвращает ошибку, обёрнутую в ErrInvalidTopic.
func (s *Service) Validate(cfg domain.TopicConfig) (domain.TopicConfig, error) {
	cfg.Name = strings.TrimSpace(cfg.Name)
	if cfg.Name == "" {
		return cfg, fmt.Errorf("%w: пустое название", domain.ErrInvalidTopic)
	}

	cfg.Keywords = dedupe(cfg.Keywords)
	if len(cfg.Keywords) == 0 {
		return cfg, fmt.Errorf("%w: нужен хотя бы один ключевой запрос", domain.ErrInvalidTopic)
	}

	if !cfg.Frequency.Valid() {
		freq, err := domain.ParseFrequency(string(cfg.Frequency))
		if err != nil {
			return cfg, err
		}
		cfg.Frequency = freq
	}

	if len(cfg.Channels) == 0 {
		return cfg, fmt.Errorf("%w: не выбран ни один канал уведомлений", domain.ErrInvalidTopic)
	}
	seen := make(map[domain.ChannelKind]bool, len(cfg.Channels))
	channels := make([]domain.ChannelKind, 0, len(cfg.Channels))
	for _, ch := range cfg.Channels {
		kind, err := domain.ParseChannelKind(string(ch))
		if err != nil {
			return cfg, err
		}
		if seen[kind] {
			continue
		}
		seen[kind] = true
		channels = append(channels, kind)
	}
	cfg.Channels = channels

	if len(cfg.Recipients) > 0 {
		recipients := make(map[domain.ChannelKind][]string, len(cfg.Recipients))
		for ch, list := range cfg.Recipients {
			kind, err := domain.ParseChannelKind(string(ch))
			if err != nil {
				return cfg, err
			}
			if cleaned := dedupe(list); len(cleaned) > 0 {
				recipients[kind] = append(recipients[kind], cleaned...)
			}
		}
		cfg.Recipients = recipients
	}

	if cfg.CustomRange != nil {
		if err := cfg.CustomRange.Validate(); err != nil {
			return cfg, err
		}
	}

	cfg.Template = strings.TrimSpace(cfg.Template)
	if cfg.Template == "" {
		cfg.Template = "default"
	}
	if s.templates != nil && !s.templates.Has(cfg.Template) {
		return cfg, fmt.Errorf("%w: неизвестный шаблон %q", domain.ErrInvalidTopic, cfg.Template)
	}
	return cfg, nil
}

// dedupe обрезает пробелы, убирает пустые значения и повторы с сохранением порядка.
func dedupe(values []string) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]bool, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
