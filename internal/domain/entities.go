package domain

import "time"

// Topic описывает тему, по которой периодически отслеживается литература.
type Topic struct {
	ID            int64                    `json:"id"`
	Name          string                   `json:"name"`
	Keywords      []string                 `json:"keywords"`
	Frequency     Frequency                `json:"frequency"`
	CustomRange   *DateRange               `json:"custom_date_range,omitempty"`
	DetectionTime *TimeOfDay               `json:"detection_time,omitempty"`
	Channels      []ChannelKind            `json:"notification_channels"`
	Recipients    map[ChannelKind][]string `json:"recipients,omitempty"`
	Template      string                   `json:"template"`
	CreatedAt     time.Time                `json:"created_at"`
	LastUpdated   time.Time                `json:"last_updated"`
}

// TopicConfig содержит редактируемые поля темы.
type TopicConfig struct {
	Name          string                   `json:"name"`
	Keywords      []string                 `json:"keywords"`
	Frequency     Frequency                `json:"frequency"`
	CustomRange   *DateRange               `json:"custom_date_range,omitempty"`
	DetectionTime *TimeOfDay               `json:"detection_time,omitempty"`
	Channels      []ChannelKind            `json:"notification_channels"`
	Recipients    map[ChannelKind][]string `json:"recipients,omitempty"`
	Template      string                   `json:"template"`
}

// Config возвращает редактируемую часть темы.
func (t Topic) Config() TopicConfig {
	return TopicConfig{
		Name:          t.Name,
		Keywords:      t.Keywords,
		Frequency:     t.Frequency,
		CustomRange:   t.CustomRange,
		DetectionTime: t.DetectionTime,
		Channels:      t.Channels,
		Recipients:    t.Recipients,
		Template:      t.Template,
	}
}

// Anchor возвращает момент, от которого отсчитывается следующий запуск.
func (t Topic) Anchor() time.Time {
	if t.LastUpdated.IsZero() {
		return t.CreatedAt
	}
	return t.LastUpdated
}

// LiteratureRecord описывает одну публикацию, полученную из источника.
type LiteratureRecord struct {
	ID              string         `json:"id"`
	Title           string         `json:"title"`
	Authors         []string       `json:"authors"`
	PublicationDate time.Time      `json:"publication_date"`
	Journal         string         `json:"journal_name"`
	Type            LiteratureType `json:"literature_type"`
	Summary         string         `json:"summary"`
	Citations       *int           `json:"citation_count,omitempty"`
}

// TrendPoint хранит значение временного ряда для одного интервала.
type TrendPoint struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

// DistributionPoint — количество публикаций одного типа.
type DistributionPoint struct {
	Type  LiteratureType `json:"type"`
	Count int            `json:"count"`
}

// AnalysisSnapshot — агрегированная статистика одного цикла. После создания не меняется.
type AnalysisSnapshot struct {
	ID                 int64               `json:"id,omitempty"`
	TopicID            int64               `json:"topic_id"`
	GeneratedAt        time.Time           `json:"generated_at"`
	TotalCount         int                 `json:"total_count"`
	HighCitationCount  int                 `json:"high_citation_count"`
	ClinicalTrialCount int                 `json:"clinical_trial_count"`
	MetaAnalysisCount  int                 `json:"meta_analysis_count"`
	Trend              []TrendPoint        `json:"trend_data"`
	Distribution       []DistributionPoint `json:"distribution_data"`
}

// UpdateStatus — итог цикла для темы.
type UpdateStatus string

const (
	UpdateSuccess UpdateStatus = "success"
	UpdateFailure UpdateStatus = "failure"
)

// TopicUpdate описывает запись истории обновлений темы.
type TopicUpdate struct {
	ID        int64        `json:"id,omitempty"`
	TopicID   int64        `json:"topic_id"`
	Timestamp time.Time    `json:"timestamp"`
	Status    UpdateStatus `json:"status"`
	Artifact  *ArtifactRef `json:"artifact,omitempty"`
}

// PushStatus — состояние попытки доставки отчёта.
type PushStatus string

const (
	PushPending PushStatus = "pending"
	PushSuccess PushStatus = "success"
	PushFailed  PushStatus = "failed"
)

// Terminal сообщает, что статус окончательный.
func (s PushStatus) Terminal() bool {
	return s == PushSuccess || s == PushFailed
}

// PushRecord описывает одну попытку доставки отчёта по одному каналу.
type PushRecord struct {
	ID          int64       `json:"id"`
	PushTime    time.Time   `json:"push_time"`
	TopicID     int64       `json:"topic_id"`
	TopicName   string      `json:"topic_name"`
	Filename    string      `json:"ppt_filename"`
	Recipients  []string    `json:"recipients"`
	Channel     ChannelKind `json:"channel"`
	Status      PushStatus  `json:"status"`
	DiffSummary *string     `json:"diff_summary,omitempty"`
}

// ArtifactRef указывает на сгенерированный отчёт.
type ArtifactRef struct {
	Filename string `json:"filename"`
	Path     string `json:"path,omitempty"`
}

// Delivery описывает то, что транспорт канала отправляет получателям.
type Delivery struct {
	TopicName   string
	Recipients  []string
	Artifact    ArtifactRef
	DiffSummary *string
	GeneratedAt time.Time
}
