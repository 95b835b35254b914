package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"medbrief/internal/domain"
	"medbrief/internal/infra/metrics"
)

const topicColumns = `id, name, keywords, frequency, range_from, range_to, detection_time, channels, recipients, template, created_at, last_updated`

// topicRow повторяет строку topics.
type topicRow struct {
	ID            int64
	Name          string
	Keywords      []byte
	Frequency     string
	RangeFrom     pgtype.Date
	RangeTo       pgtype.Date
	DetectionTime pgtype.Time
	Channels      []byte
	Recipients    []byte
	Template      string
	CreatedAt     time.Time
	LastUpdated   time.Time
}

func (r *topicRow) scanTargets() []any {
	return []any{&r.ID, &r.Name, &r.Keywords, &r.Frequency, &r.RangeFrom, &r.RangeTo, &r.DetectionTime, &r.Channels, &r.Recipients, &r.Template, &r.CreatedAt, &r.LastUpdated}
}

func (r topicRow) toDomain() (domain.Topic, error) {
	t := domain.Topic{
		ID:          r.ID,
		Name:        r.Name,
		Frequency:   domain.Frequency(r.Frequency),
		Template:    r.Template,
		CreatedAt:   r.CreatedAt,
		LastUpdated: r.LastUpdated,
	}
	if err := unmarshalJSON(r.Keywords, &t.Keywords); err != nil {
		return domain.Topic{}, fmt.Errorf("keywords темы %d: %w", r.ID, err)
	}
	if err := unmarshalJSON(r.Channels, &t.Channels); err != nil {
		return domain.Topic{}, fmt.Errorf("channels темы %d: %w", r.ID, err)
	}
	if err := unmarshalJSON(r.Recipients, &t.Recipients); err != nil {
		return domain.Topic{}, fmt.Errorf("recipients темы %d: %w", r.ID, err)
	}
	if r.RangeFrom.Valid && r.RangeTo.Valid {
		t.CustomRange = &domain.DateRange{From: r.RangeFrom.Time, To: r.RangeTo.Time}
	}
	if r.DetectionTime.Valid {
		t.DetectionTime = timeOfDayFromMicros(r.DetectionTime.Microseconds)
	}
	return t, nil
}

// topicParams собирает значения колонок для записи настроек темы.
type topicParams struct {
	Keywords      []byte
	RangeFrom     pgtype.Date
	RangeTo       pgtype.Date
	DetectionTime pgtype.Time
	Channels      []byte
	Recipients    []byte
}

func paramsFromConfig(cfg domain.TopicConfig) (topicParams, error) {
	var p topicParams
	var err error
	if p.Keywords, err = json.Marshal(nonNilStrings(cfg.Keywords)); err != nil {
		return p, err
	}
	channels := cfg.Channels
	if channels == nil {
		channels = []domain.ChannelKind{}
	}
	if p.Channels, err = json.Marshal(channels); err != nil {
		return p, err
	}
	recipients := cfg.Recipients
	if recipients == nil {
		recipients = map[domain.ChannelKind][]string{}
	}
	if p.Recipients, err = json.Marshal(recipients); err != nil {
		return p, err
	}
	if cfg.CustomRange != nil {
		p.RangeFrom = pgtype.Date{Time: cfg.CustomRange.From, Valid: true}
		p.RangeTo = pgtype.Date{Time: cfg.CustomRange.To, Valid: true}
	}
	if cfg.DetectionTime != nil {
		p.DetectionTime = pgtype.Time{Microseconds: micros(*cfg.DetectionTime), Valid: true}
	}
	return p, nil
}

func micros(t domain.TimeOfDay) int64 {
	return (int64(t.Hour)*3600 + int64(t.Minute)*60 + int64(t.Second)) * int64(time.Second/time.Microsecond)
}

func timeOfDayFromMicros(us int64) *domain.TimeOfDay {
	sec := us / int64(time.Second/time.Microsecond)
	return &domain.TimeOfDay{Hour: int(sec / 3600), Minute: int(sec % 3600 / 60), Second: int(sec % 60)}
}

// ListTopics реализует domain.TopicRepo.
func (p *Postgres) ListTopics(ctx context.Context) ([]domain.Topic, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	query, args, err := psql.Select(topicColumns).From("topics").OrderBy("id").ToSql()
	if err != nil {
		return nil, err
	}
	start := time.Now()
	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		metrics.ObserveNetworkRequest("postgres", "topics_list", "topics", start, err)
		return nil, fmt.Errorf("выборка тем: %w", err)
	}
	defer rows.Close()

	var out []domain.Topic
	for rows.Next() {
		var row topicRow
		if err := rows.Scan(row.scanTargets()...); err != nil {
			metrics.ObserveNetworkRequest("postgres", "topics_list", "topics", start, err)
			return nil, err
		}
		t, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	err = rows.Err()
	metrics.ObserveNetworkRequest("postgres", "topics_list", "topics", start, err)
	return out, err
}

// GetTopic реализует domain.TopicRepo.
func (p *Postgres) GetTopic(ctx context.Context, id int64) (domain.Topic, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	var row topicRow
	start := time.Now()
	err := p.pool.QueryRow(ctx, `SELECT `+topicColumns+` FROM topics WHERE id = $1`, id).Scan(row.scanTargets()...)
	metrics.ObserveNetworkRequest("postgres", "topics_get", "topics", start, ignoreNoRows(err))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Topic{}, domain.ErrTopicNotFound
	}
	if err != nil {
		return domain.Topic{}, fmt.Errorf("получение темы %d: %w", id, err)
	}
	return row.toDomain()
}

// CreateTopic реализует domain.TopicRepo.
func (p *Postgres) CreateTopic(ctx context.Context, cfg domain.TopicConfig, now time.Time) (domain.Topic, error) {
	params, err := paramsFromConfig(cfg)
	if err != nil {
		return domain.Topic{}, fmt.Errorf("сериализация темы: %w", err)
	}
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	var row topicRow
	start := time.Now()
	err = p.pool.QueryRow(ctx, `
INSERT INTO topics (name, keywords, frequency, range_from, range_to, detection_time, channels, recipients, template, created_at, last_updated)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
RETURNING `+topicColumns,
		cfg.Name, params.Keywords, string(cfg.Frequency), params.RangeFrom, params.RangeTo, params.DetectionTime,
		params.Channels, params.Recipients, cfg.Template, now,
	).Scan(row.scanTargets()...)
	metrics.ObserveNetworkRequest("postgres", "topics_insert", "topics", start, err)
	if err != nil {
		return domain.Topic{}, fmt.Errorf("создание темы: %w", err)
	}
	return row.toDomain()
}

// UpdateTopic реализует domain.TopicRepo.
func (p *Postgres) UpdateTopic(ctx context.Context, id int64, cfg domain.TopicConfig, now time.Time) (domain.Topic, error) {
	params, err := paramsFromConfig(cfg)
	if err != nil {
		return domain.Topic{}, fmt.Errorf("сериализация темы: %w", err)
	}
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	var row topicRow
	start := time.Now()
	err = p.pool.QueryRow(ctx, `
UPDATE topics
SET name = $2, keywords = $3, frequency = $4, range_from = $5, range_to = $6, detection_time = $7,
    channels = $8, recipients = $9, template = $10, last_updated = GREATEST(last_updated, $11)
WHERE id = $1
RETURNING `+topicColumns,
		id, cfg.Name, params.Keywords, string(cfg.Frequency), params.RangeFrom, params.RangeTo, params.DetectionTime,
		params.Channels, params.Recipients, cfg.Template, now,
	).Scan(row.scanTargets()...)
	metrics.ObserveNetworkRequest("postgres", "topics_update", "topics", start, ignoreNoRows(err))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Topic{}, domain.ErrTopicNotFound
	}
	if err != nil {
		return domain.Topic{}, fmt.Errorf("обновление темы %d: %w", id, err)
	}
	return row.toDomain()
}

// DeleteTopic реализует domain.TopicRepo. Снимки и литература удаляются каскадом, история остаётся.
func (p *Postgres) DeleteTopic(ctx context.Context, id int64) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	tag, err := p.pool.Exec(ctx, `DELETE FROM topics WHERE id = $1`, id)
	metrics.ObserveNetworkRequest("postgres", "topics_delete", "topics", start, err)
	if err != nil {
		return fmt.Errorf("удаление темы %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrTopicNotFound
	}
	return nil
}

// MarkRun реализует domain.TopicRepo.
func (p *Postgres) MarkRun(ctx context.Context, id int64, startedAt time.Time) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `UPDATE topics SET last_updated = GREATEST(last_updated, $2) WHERE id = $1`, id, startedAt)
	metrics.ObserveNetworkRequest("postgres", "topics_mark_run", "topics", start, err)
	if err != nil {
		return fmt.Errorf("сдвиг расписания темы %d: %w", id, err)
	}
	return nil
}

func ignoreNoRows(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return nil
	}
	return err
}

func unmarshalJSON(raw []byte, dst any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, dst)
}

func nonNilStrings(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}
