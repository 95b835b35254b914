package renderer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/rs/zerolog"

	"medbrief/internal/domain"
	"medbrief/internal/infra/templates"
)

// Narrator генерирует связный текст по статистике темы.
type Narrator interface {
	Complete(ctx context.Context, system, user string, maxTokens int) (string, error)
}

// Config задаёт параметры генерации отчётов.
type Config struct {
	OutputDir string
	Location  *time.Location
	// NarrativeTimeout ограничивает ожидание ответа LLM, по умолчанию 90s.
	NarrativeTimeout time.Duration
}

// Markdown строит отчёт в виде набора слайдов Markdown (разделитель "---").
type Markdown struct {
	dir      string
	loc      *time.Location
	timeout  time.Duration
	catalog  *templates.Catalog
	narrator Narrator
	log      zerolog.Logger
}

var _ domain.ReportRenderer = (*Markdown)(nil)

// NewMarkdown создаёт генератор. narrator может быть nil: тогда вывод строится без LLM.
func NewMarkdown(cfg Config, catalog *templates.Catalog, narrator Narrator, logger zerolog.Logger) *Markdown {
	if cfg.OutputDir == "" {
		cfg.OutputDir = "PPT"
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.NarrativeTimeout <= 0 {
		cfg.NarrativeTimeout = 90 * time.Second
	}
	if catalog == nil {
		catalog = templates.Builtin()
	}
	return &Markdown{
		dir:      cfg.OutputDir,
		loc:      cfg.Location,
		timeout:  cfg.NarrativeTimeout,
		catalog:  catalog,
		narrator: narrator,
		log:      logger.With().Str("component", "renderer").Logger(),
	}
}

// Render реализует domain.ReportRenderer. Файл появляется целиком или не появляется вовсе.
func (m *Markdown) Render(ctx context.Context, req domain.RenderRequest) (domain.ArtifactRef, error) {
	tpl, err := m.catalog.Get(req.TemplateID)
	if err != nil {
		return domain.ArtifactRef{}, err
	}
	var narrative string
	if tpl.Includes(templates.SectionNarrative) {
		narrative = m.narrative(ctx, tpl, req)
	}
	content := m.build(tpl, req, narrative)

	generated := req.Snapshot.GeneratedAt
	if generated.IsZero() {
		generated = time.Now()
	}
	filename := Filename(req.TopicName, generated.In(m.loc))
	path, err := writeAtomic(m.dir, filename, []byte(content))
	if err != nil {
		return domain.ArtifactRef{}, err
	}
	m.log.Info().Str("file", filename).Int("bytes", len(content)).Msg("renderer: отчёт сохранён")
	return domain.ArtifactRef{Filename: filename, Path: path}, nil
}

// Filename строит имя файла отчёта: <тема>_<YYYYMMDD_HHMMSS>.md.
func Filename(topic string, at time.Time) string {
	return sanitize(topic) + "_" + at.Format("20060102_150405") + ".md"
}

func sanitize(name string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(name) {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r), r == '-', r == '_':
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return "topic"
	}
	return b.String()
}

func writeAtomic(dir, filename string, data []byte) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("каталог отчётов: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".report-*.tmp")
	if err != nil {
		return "", fmt.Errorf("временный файл отчёта: %w", err)
	}
	cleanup := func() { _ = os.Remove(tmp.Name()) }
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return "", fmt.Errorf("запись отчёта: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return "", fmt.Errorf("запись отчёта: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return "", fmt.Errorf("запись отчёта: %w", err)
	}
	final := filepath.Join(dir, filename)
	if err := os.Rename(tmp.Name(), final); err != nil {
		cleanup()
		return "", fmt.Errorf("публикация отчёта: %w", err)
	}
	return final, nil
}
