package topics

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"medbrief/internal/adapters/repo/memory"
	"medbrief/internal/domain"
	"medbrief/internal/infra/templates"
)

func validConfig() domain.TopicConfig {
	return domain.TopicConfig{
		Name:      " Diabetes ",
		Keywords:  []string{"insulin", " insulin ", "", "metformin"},
		Frequency: "quarter",
		Channels:  []domain.ChannelKind{"email", "app_push", "email"},
		Recipients: map[domain.ChannelKind][]string{
			"email": {"a@example.org", "a@example.org"},
		},
	}
}

func TestValidateNormalizes(t *testing.T) {
	svc := NewService(memory.NewStore(2), templates.Builtin())
	cfg, err := svc.Validate(validConfig())
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if cfg.Name != "Diabetes" {
		t.Fatalf("название не обрезано: %q", cfg.Name)
	}
	if !reflect.DeepEqual(cfg.Keywords, []string{"insulin", "metformin"}) {
		t.Fatalf("ключевые слова не очищены: %v", cfg.Keywords)
	}
	if cfg.Frequency != domain.FrequencyQuarterly {
		t.Fatalf("ожидали quarterly, получили %s", cfg.Frequency)
	}
	if !reflect.DeepEqual(cfg.Channels, []domain.ChannelKind{domain.ChannelEmail, domain.ChannelApp}) {
		t.Fatalf("каналы не нормализованы: %v", cfg.Channels)
	}
	if got := cfg.Recipients[domain.ChannelEmail]; len(got) != 1 {
		t.Fatalf("получатели не очищены: %v", got)
	}
	if cfg.Template != "default" {
		t.Fatalf("ожидали шаблон по умолчанию, получили %q", cfg.Template)
	}
}

func TestValidateRejects(t *testing.T) {
	svc := NewService(memory.NewStore(2), templates.Builtin())
	cases := map[string]func(*domain.TopicConfig){
		"пустое название":     func(c *domain.TopicConfig) { c.Name = "  " },
		"пустые ключевые":     func(c *domain.TopicConfig) { c.Keywords = []string{" ", ""} },
		"частота":             func(c *domain.TopicConfig) { c.Frequency = "daily" },
		"нет каналов":         func(c *domain.TopicConfig) { c.Channels = nil },
		"неизвестный канал":   func(c *domain.TopicConfig) { c.Channels = []domain.ChannelKind{"fax"} },
		"неизвестный шаблон":  func(c *domain.TopicConfig) { c.Template = "poster" },
		"перевёрнутый период": func(c *domain.TopicConfig) {
			c.CustomRange = &domain.DateRange{From: time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC), To: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := validConfig()
			mutate(&cfg)
			if _, err := svc.Validate(cfg); !errors.Is(err, domain.ErrInvalidTopic) {
				t.Fatalf("ожидали ErrInvalidTopic, получили %v", err)
			}
		})
	}
}

func TestCreateUpdateDelete(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore(2)
	svc := NewService(store, templates.Builtin())
	fixed := time.Date(2025, 4, 1, 8, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return fixed }

	topic, err := svc.Create(ctx, validConfig())
	if err != nil {
		t.Fatalf("создание: %v", err)
	}
	if !topic.CreatedAt.Equal(fixed) || topic.Frequency != domain.FrequencyQuarterly {
		t.Fatalf("неверная тема: %+v", topic)
	}

	bad := validConfig()
	bad.Keywords = nil
	if _, err := svc.Update(ctx, topic.ID, bad); !errors.Is(err, domain.ErrInvalidTopic) {
		t.Fatalf("невалидное обновление должно отклоняться: %v", err)
	}
	if _, err := svc.Update(ctx, 999, validConfig()); !errors.Is(err, domain.ErrTopicNotFound) {
		t.Fatalf("ожидали ErrTopicNotFound, получили %v", err)
	}

	cfg := validConfig()
	cfg.Template = "brief"
	updated, err := svc.Update(ctx, topic.ID, cfg)
	if err != nil || updated.Template != "brief" {
		t.Fatalf("обновление: %+v %v", updated, err)
	}

	if err := svc.Delete(ctx, topic.ID); err != nil {
		t.Fatalf("удаление: %v", err)
	}
	if _, err := svc.Get(ctx, topic.ID); !errors.Is(err, domain.ErrTopicNotFound) {
		t.Fatalf("тема должна быть удалена: %v", err)
	}
	list, _ := svc.List(ctx)
	if len(list) != 0 {
		t.Fatalf("ожидали пустой список: %v", list)
	}
}
