package renderer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"medbrief/internal/domain"
	"medbrief/internal/infra/templates"
)

type stubNarrator struct {
	text   string
	err    error
	system string
	calls  int
}

func (s *stubNarrator) Complete(_ context.Context, system, _ string, _ int) (string, error) {
	s.calls++
	s.system = system
	return s.text, s.err
}

func sampleRequest(template string) domain.RenderRequest {
	cites := 120
	return domain.RenderRequest{
		TopicName:  "Heart Failure / SGLT2",
		Keywords:   []string{"heart failure", "SGLT2"},
		TemplateID: template,
		Window: domain.Window{
			From: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
			To:   time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC),
		},
		Snapshot: domain.AnalysisSnapshot{
			TopicID:            1,
			GeneratedAt:        time.Date(2025, 4, 1, 9, 30, 15, 0, time.UTC),
			TotalCount:         4,
			HighCitationCount:  1,
			ClinicalTrialCount: 3,
			Trend:              []domain.TrendPoint{{Date: "2025-01-01", Count: 1}, {Date: "2025-02-01", Count: 0}, {Date: "2025-03-01", Count: 3}},
			Distribution:       []domain.DistributionPoint{{Type: domain.LiteratureClinicalTrial, Count: 3}, {Type: domain.LiteratureReview, Count: 1}},
		},
		Highlights: []domain.LiteratureRecord{
			{ID: "1", Title: "DAPA-HF", Journal: "NEJM", Citations: &cites, Type: domain.LiteratureClinicalTrial, Authors: []string{"A", "B", "C", "D"}},
		},
	}
}

func TestRenderWritesDeck(t *testing.T) {
	dir := t.TempDir()
	narrator := &stubNarrator{text: "- SGLT2 работают."}
	r := NewMarkdown(Config{OutputDir: dir}, templates.Builtin(), narrator, zerolog.Nop())

	ref, err := r.Render(context.Background(), sampleRequest("default"))
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if ref.Filename != "Heart_Failure__SGLT2_20250401_093015.md" {
		t.Fatalf("неверное имя файла: %s", ref.Filename)
	}
	raw, err := os.ReadFile(ref.Path)
	if err != nil {
		t.Fatalf("файл отчёта не найден: %v", err)
	}
	content := string(raw)
	for _, want := range []string{
		"# Heart Failure / SGLT2: обзор литературы",
		"| Всего публикаций | 4 |",
		"| 2025-03-01 | 3 | " + strings.Repeat("█", barWidth) + " |",
		"| clinical trial | 3 | 75.0% |",
		"1. **DAPA-HF** (NEJM, цитирований: 120, clinical trial)",
		"A, B, C et al.",
		"- SGLT2 работают.",
	} {
		if !strings.Contains(content, want) {
			t.Fatalf("в отчёте нет %q:\n%s", want, content)
		}
	}
	if narrator.calls != 1 || !strings.Contains(narrator.system, "Chinese") {
		t.Fatalf("LLM должна вызываться один раз с языком шаблона: %d %q", narrator.calls, narrator.system)
	}
	if strings.Count(content, "\n---\n") != 5 {
		t.Fatalf("ожидали 5 слайдов после титульного")
	}
}

func TestRenderFallsBackWithoutLLM(t *testing.T) {
	dir := t.TempDir()
	narrator := &stubNarrator{err: errors.New("quota")}
	r := NewMarkdown(Config{OutputDir: dir}, templates.Builtin(), narrator, zerolog.Nop())

	ref, err := r.Render(context.Background(), sampleRequest("default"))
	if err != nil {
		t.Fatalf("сбой LLM не должен ронять генерацию: %v", err)
	}
	raw, _ := os.ReadFile(ref.Path)
	if !strings.Contains(string(raw), "- За период найдено публикаций: 4.") {
		t.Fatalf("ожидали шаблонные выводы:\n%s", raw)
	}
}

func TestRenderBriefSkipsSections(t *testing.T) {
	dir := t.TempDir()
	narrator := &stubNarrator{text: "x"}
	r := NewMarkdown(Config{OutputDir: dir}, templates.Builtin(), narrator, zerolog.Nop())

	ref, err := r.Render(context.Background(), sampleRequest("brief"))
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	raw, _ := os.ReadFile(ref.Path)
	if strings.Contains(string(raw), "Динамика публикаций") || strings.Contains(string(raw), "Ключевые публикации") {
		t.Fatalf("brief не содержит тренд и публикации:\n%s", raw)
	}
	if narrator.calls != 0 {
		t.Fatalf("brief не вызывает LLM")
	}
}

func TestRenderUnknownTemplateLeavesNoFile(t *testing.T) {
	dir := t.TempDir()
	r := NewMarkdown(Config{OutputDir: dir}, templates.Builtin(), nil, zerolog.Nop())

	_, err := r.Render(context.Background(), sampleRequest("missing"))
	if !errors.Is(err, templates.ErrUnknownTemplate) {
		t.Fatalf("ожидали ErrUnknownTemplate, получили %v", err)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Fatalf("при ошибке файлов быть не должно: %v", entries)
	}
}

func TestRenderLeavesNoTempFiles(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested")
	r := NewMarkdown(Config{OutputDir: dir}, nil, nil, zerolog.Nop())

	if _, err := r.Render(context.Background(), sampleRequest("default")); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("каталог должен быть создан: %v", err)
	}
	if len(entries) != 1 || strings.HasPrefix(entries[0].Name(), ".report-") {
		t.Fatalf("ожидали один итоговый файл: %v", entries)
	}
}

func TestFilenameSanitizes(t *testing.T) {
	at := time.Date(2025, 12, 31, 23, 59, 1, 0, time.UTC)
	if got := Filename("  ../../etc ", at); got != "etc_20251231_235901.md" {
		t.Fatalf("неверное имя: %s", got)
	}
	if got := Filename("???", at); got != "topic_20251231_235901.md" {
		t.Fatalf("неверное имя: %s", got)
	}
	if got := Filename("肺癌 筛查", at); got != "肺癌_筛查_20251231_235901.md" {
		t.Fatalf("неверное имя: %s", got)
	}
}
