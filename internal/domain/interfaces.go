package domain

import (
	"context"
	"time"
)

// TopicRepo хранит темы и их настройки. Источник истины для расписания.
type TopicRepo interface {
	ListTopics(ctx context.Context) ([]Topic, error)
	GetTopic(ctx context.Context, id int64) (Topic, error)
	CreateTopic(ctx context.Context, cfg TopicConfig, now time.Time) (Topic, error)
	UpdateTopic(ctx context.Context, id int64, cfg TopicConfig, now time.Time) (Topic, error)
	DeleteTopic(ctx context.Context, id int64) error
	// MarkRun сдвигает якорь расписания на момент запуска цикла, но никогда назад:
	// правка темы во время цикла сохраняет более позднее значение last_updated.
	MarkRun(ctx context.Context, id int64, startedAt time.Time) error
}

// SnapshotRepo хранит снимки анализа и литературу последнего успешного цикла.
// SaveSnapshot для удалённой темы возвращает ErrTopicNotFound.
type SnapshotRepo interface {
	SaveSnapshot(ctx context.Context, snapshot AnalysisSnapshot, records []LiteratureRecord) (AnalysisSnapshot, error)
	LatestSnapshot(ctx context.Context, topicID int64) (AnalysisSnapshot, error)
	ListLiterature(ctx context.Context, topicID int64, skip, limit int) ([]LiteratureRecord, error)
}

// HistoryStore ведёт журнал обновлений тем и доставок. Записи только добавляются.
type HistoryStore interface {
	AppendUpdate(ctx context.Context, update TopicUpdate) (TopicUpdate, error)
	AppendPushRecord(ctx context.Context, record PushRecord) (PushRecord, error)
	// ResolvePushRecord добавляет итог доставки. Повторный вызов для той же записи
	// возвращает ErrPushRecordResolved.
	ResolvePushRecord(ctx context.Context, id int64, status PushStatus, at time.Time) error
	History(ctx context.Context, topicID int64) ([]TopicUpdate, error)
	PushRecords(ctx context.Context, topicID int64, limit int) ([]PushRecord, error)
}

// LiteratureSource ищет публикации по ключевым словам в окне дат.
// Временные сбои оборачиваются через Transient.
type LiteratureSource interface {
	Search(ctx context.Context, keywords []string, window Window) ([]LiteratureRecord, error)
}

// RenderRequest содержит входные данные генерации отчёта.
type RenderRequest struct {
	TopicName  string
	Keywords   []string
	Window     Window
	Snapshot   AnalysisSnapshot
	Highlights []LiteratureRecord
	TemplateID string
}

// ReportRenderer строит файл отчёта. Либо файл целиком, либо ошибка.
type ReportRenderer interface {
	Render(ctx context.Context, req RenderRequest) (ArtifactRef, error)
}

// ChannelTransport отправляет отчёт по одному виду канала.
type ChannelTransport interface {
	Kind() ChannelKind
	Send(ctx context.Context, delivery Delivery) error
}

// TopicLocker выдаёт эксклюзивную блокировку темы без ожидания.
// ok=false означает, что цикл по теме уже выполняется.
type TopicLocker interface {
	TryLock(ctx context.Context, topicID int64) (release func(), ok bool, err error)
}
