package renderer

import (
	"context"
	"fmt"
	"strings"

	"medbrief/internal/domain"
	"medbrief/internal/infra/templates"
)

const barWidth = 20

func (m *Markdown) build(tpl templates.Template, req domain.RenderRequest, narrative string) string {
	var b strings.Builder
	snap := req.Snapshot

	fmt.Fprintf(&b, "# %s\n\n", tpl.RenderTitle(req.TopicName))
	if tpl.Subtitle != "" {
		fmt.Fprintf(&b, "_%s_\n\n", tpl.Subtitle)
	}
	if len(req.Keywords) > 0 {
		fmt.Fprintf(&b, "Ключевые слова: %s\n\n", strings.Join(req.Keywords, ", "))
	}
	if !req.Window.From.IsZero() {
		fmt.Fprintf(&b, "Период: %s .. %s\n\n", req.Window.From.Format("2006-01-02"), req.Window.To.Format("2006-01-02"))
	}
	if !snap.GeneratedAt.IsZero() {
		fmt.Fprintf(&b, "Сформирован: %s\n", snap.GeneratedAt.In(m.loc).Format("2006-01-02 15:04"))
	}

	for _, section := range tpl.Sections {
		switch section {
		case templates.SectionOverview:
			slide(&b, "Обзор")
			b.WriteString("| Показатель | Значение |\n|---|---:|\n")
			fmt.Fprintf(&b, "| Всего публикаций | %d |\n", snap.TotalCount)
			fmt.Fprintf(&b, "| Часто цитируемые | %d |\n", snap.HighCitationCount)
			fmt.Fprintf(&b, "| Клинические исследования | %d |\n", snap.ClinicalTrialCount)
			fmt.Fprintf(&b, "| Мета-анализы | %d |\n", snap.MetaAnalysisCount)
		case templates.SectionTrend:
			slide(&b, "Динамика публикаций")
			writeTrend(&b, snap.Trend)
		case templates.SectionDistribution:
			slide(&b, "Типы публикаций")
			writeDistribution(&b, snap)
		case templates.SectionHighlights:
			limit := tpl.Highlights
			if limit <= 0 || limit > len(req.Highlights) {
				limit = len(req.Highlights)
			}
			slide(&b, "Ключевые публикации")
			writeHighlights(&b, req.Highlights[:limit])
		case templates.SectionNarrative:
			slide(&b, "Выводы")
			b.WriteString(narrative)
			b.WriteString("\n")
		}
	}
	return b.String()
}

func slide(b *strings.Builder, title string) {
	fmt.Fprintf(b, "\n---\n\n## %s\n\n", title)
}

func writeTrend(b *strings.Builder, points []domain.TrendPoint) {
	if len(points) == 0 {
		b.WriteString("Нет данных.\n")
		return
	}
	peak := 0
	for _, p := range points {
		if p.Count > peak {
			peak = p.Count
		}
	}
	b.WriteString("| Период | Публикаций | |\n|---|---:|---|\n")
	for _, p := range points {
		bar := 0
		if peak > 0 {
			bar = p.Count * barWidth / peak
		}
		fmt.Fprintf(b, "| %s | %d | %s |\n", p.Date, p.Count, strings.Repeat("█", bar))
	}
}

func writeDistribution(b *strings.Builder, snap domain.AnalysisSnapshot) {
	if len(snap.Distribution) == 0 {
		b.WriteString("Нет данных.\n")
		return
	}
	b.WriteString("| Тип | Публикаций | Доля |\n|---|---:|---:|\n")
	for _, d := range snap.Distribution {
		share := 0.0
		if snap.TotalCount > 0 {
			share = float64(d.Count) * 100 / float64(snap.TotalCount)
		}
		fmt.Fprintf(b, "| %s | %d | %.1f%% |\n", d.Type, d.Count, share)
	}
}

func writeHighlights(b *strings.Builder, records []domain.LiteratureRecord) {
	if len(records) == 0 {
		b.WriteString("Нет публикаций за период.\n")
		return
	}
	for i, r := range records {
		fmt.Fprintf(b, "%d. **%s**", i+1, r.Title)
		var meta []string
		if r.Journal != "" {
			meta = append(meta, r.Journal)
		}
		if !r.PublicationDate.IsZero() {
			meta = append(meta, r.PublicationDate.Format("2006-01-02"))
		}
		if r.Citations != nil {
			meta = append(meta, fmt.Sprintf("цитирований: %d", *r.Citations))
		}
		meta = append(meta, string(r.Type))
		fmt.Fprintf(b, " (%s)\n", strings.Join(meta, ", "))
		if len(r.Authors) > 0 {
			fmt.Fprintf(b, "   %s\n", authorLine(r.Authors))
		}
	}
}

func authorLine(authors []string) string {
	if len(authors) <= 3 {
		return strings.Join(authors, ", ")
	}
	return strings.Join(authors[:3], ", ") + " et al."
}

// narrative запрашивает у LLM выводы по статистике. При любой ошибке возвращается шаблонный текст.
func (m *Markdown) narrative(ctx context.Context, tpl templates.Template, req domain.RenderRequest) string {
	fallback := fallbackNarrative(req)
	if m.narrator == nil {
		return fallback
	}
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	language := tpl.Language
	if language == "" {
		language = "English"
	}
	system := fmt.Sprintf("You are a medical literature analyst. Write in %s. Use only the facts provided, do not invent studies.", language)
	text, err := m.narrator.Complete(ctx, system, narrativePrompt(req), 600)
	if err != nil {
		m.log.Warn().Err(err).Str("topic", req.TopicName).Msg("renderer: LLM недоступна, используем шаблонные выводы")
		return fallback
	}
	if strings.TrimSpace(text) == "" {
		return fallback
	}
	return strings.TrimSpace(text)
}

func narrativePrompt(req domain.RenderRequest) string {
	var b strings.Builder
	snap := req.Snapshot
	fmt.Fprintf(&b, "Topic: %s\nKeywords: %s\n", req.TopicName, strings.Join(req.Keywords, ", "))
	fmt.Fprintf(&b, "Publications: %d, highly cited: %d, clinical trials: %d, meta-analyses: %d\n",
		snap.TotalCount, snap.HighCitationCount, snap.ClinicalTrialCount, snap.MetaAnalysisCount)
	b.WriteString("Trend:")
	for _, p := range snap.Trend {
		fmt.Fprintf(&b, " %s=%d", p.Date, p.Count)
	}
	b.WriteString("\nKey publications:\n")
	for _, r := range req.Highlights {
		fmt.Fprintf(&b, "- %s (%s)\n", r.Title, r.Type)
	}
	b.WriteString("Summarize the state of research in 3-5 bullet points.")
	return b.String()
}

func fallbackNarrative(req domain.RenderRequest) string {
	snap := req.Snapshot
	if snap.TotalCount == 0 {
		return "- За период новых публикаций не найдено."
	}
	lines := []string{fmt.Sprintf("- За период найдено публикаций: %d.", snap.TotalCount)}
	if snap.ClinicalTrialCount > 0 || snap.MetaAnalysisCount > 0 {
		lines = append(lines, fmt.Sprintf("- Клинических исследований: %d, мета-анализов: %d.", snap.ClinicalTrialCount, snap.MetaAnalysisCount))
	}
	if snap.HighCitationCount > 0 {
		lines = append(lines, fmt.Sprintf("- Часто цитируемых работ: %d.", snap.HighCitationCount))
	}
	if len(req.Highlights) > 0 {
		lines = append(lines, fmt.Sprintf("- Самая цитируемая работа: %s.", req.Highlights[0].Title))
	}
	return strings.Join(lines, "\n")
}
