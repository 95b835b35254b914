package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"medbrief/internal/domain"
	"medbrief/internal/infra/metrics"
)

// AppendUpdate реализует domain.HistoryStore.
func (p *Postgres) AppendUpdate(ctx context.Context, u domain.TopicUpdate) (domain.TopicUpdate, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	var filename, path sql.NullString
	if u.Artifact != nil {
		filename = sql.NullString{String: u.Artifact.Filename, Valid: true}
		path = sql.NullString{String: u.Artifact.Path, Valid: u.Artifact.Path != ""}
	}
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
INSERT INTO topic_updates (topic_id, ts, status, artifact_filename, artifact_path)
VALUES ($1, $2, $3, $4, $5)
RETURNING id`, u.TopicID, u.Timestamp, string(u.Status), filename, path).Scan(&u.ID)
	metrics.ObserveNetworkRequest("postgres", "topic_updates_insert", "topic_updates", start, err)
	if err != nil {
		return domain.TopicUpdate{}, fmt.Errorf("запись истории темы %d: %w", u.TopicID, err)
	}
	return u, nil
}

// AppendPushRecord реализует domain.HistoryStore. Статус хранится отдельно: строка без итога — pending.
func (p *Postgres) AppendPushRecord(ctx context.Context, r domain.PushRecord) (domain.PushRecord, error) {
	recipients, err := json.Marshal(nonNilStrings(r.Recipients))
	if err != nil {
		return domain.PushRecord{}, fmt.Errorf("сериализация получателей: %w", err)
	}
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	var diff sql.NullString
	if r.DiffSummary != nil {
		diff = sql.NullString{String: *r.DiffSummary, Valid: true}
	}
	start := time.Now()
	err = p.pool.QueryRow(ctx, `
INSERT INTO push_records (push_time, topic_id, topic_name, ppt_filename, recipients, channel, diff_summary)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING id`, r.PushTime, r.TopicID, r.TopicName, r.Filename, recipients, string(r.Channel), diff).Scan(&r.ID)
	metrics.ObserveNetworkRequest("postgres", "push_records_insert", "push_records", start, err)
	if err != nil {
		return domain.PushRecord{}, fmt.Errorf("запись доставки темы %d: %w", r.TopicID, err)
	}
	r.Status = domain.PushPending
	return r, nil
}

// ResolvePushRecord реализует domain.HistoryStore.
func (p *Postgres) ResolvePushRecord(ctx context.Context, id int64, status domain.PushStatus, at time.Time) error {
	if !status.Terminal() {
		return fmt.Errorf("итог доставки должен быть окончательным: %s", status)
	}
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO push_outcomes (push_record_id, status, resolved_at)
VALUES ($1, $2, $3)`, id, string(status), at)
	switch pgCode(err) {
	case codeUniqueViolation:
		metrics.ObserveNetworkRequest("postgres", "push_outcomes_insert", "push_outcomes", start, nil)
		return domain.ErrPushRecordResolved
	case codeForeignKeyViolation:
		metrics.ObserveNetworkRequest("postgres", "push_outcomes_insert", "push_outcomes", start, nil)
		return fmt.Errorf("запись доставки %d не найдена", id)
	}
	metrics.ObserveNetworkRequest("postgres", "push_outcomes_insert", "push_outcomes", start, err)
	if err != nil {
		return fmt.Errorf("итог доставки %d: %w", id, err)
	}
	return nil
}

// History реализует domain.HistoryStore.
func (p *Postgres) History(ctx context.Context, topicID int64) ([]domain.TopicUpdate, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT id, topic_id, ts, status, artifact_filename, artifact_path
FROM topic_updates
WHERE topic_id = $1
ORDER BY ts ASC, id ASC`, topicID)
	if err != nil {
		metrics.ObserveNetworkRequest("postgres", "topic_updates_list", "topic_updates", start, err)
		return nil, fmt.Errorf("история темы %d: %w", topicID, err)
	}
	defer rows.Close()

	out := make([]domain.TopicUpdate, 0)
	for rows.Next() {
		var (
			u              domain.TopicUpdate
			status         string
			filename, path sql.NullString
		)
		if err := rows.Scan(&u.ID, &u.TopicID, &u.Timestamp, &status, &filename, &path); err != nil {
			metrics.ObserveNetworkRequest("postgres", "topic_updates_list", "topic_updates", start, err)
			return nil, err
		}
		u.Status = domain.UpdateStatus(status)
		if filename.Valid {
			u.Artifact = &domain.ArtifactRef{Filename: filename.String, Path: path.String}
		}
		out = append(out, u)
	}
	err = rows.Err()
	metrics.ObserveNetworkRequest("postgres", "topic_updates_list", "topic_updates", start, err)
	return out, err
}

// PushRecords реализует domain.HistoryStore. topicID 0 — все темы, limit 0 — без ограничения.
func (p *Postgres) PushRecords(ctx context.Context, topicID int64, limit int) ([]domain.PushRecord, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	builder := psql.
		Select("p.id", "p.push_time", "p.topic_id", "p.topic_name", "p.ppt_filename", "p.recipients", "p.channel",
			"COALESCE(o.status, 'pending')", "p.diff_summary").
		From("push_records p").
		LeftJoin("push_outcomes o ON o.push_record_id = p.id").
		OrderBy("p.push_time DESC", "p.id DESC")
	if topicID != 0 {
		builder = builder.Where("p.topic_id = ?", topicID)
	}
	if limit > 0 {
		builder = builder.Limit(uint64(limit))
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, err
	}

	start := time.Now()
	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		metrics.ObserveNetworkRequest("postgres", "push_records_list", "push_records", start, err)
		return nil, fmt.Errorf("выборка доставок: %w", err)
	}
	defer rows.Close()

	out := make([]domain.PushRecord, 0)
	for rows.Next() {
		var (
			r          domain.PushRecord
			recipients []byte
			channel    string
			status     string
			diff       sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.PushTime, &r.TopicID, &r.TopicName, &r.Filename, &recipients, &channel, &status, &diff); err != nil {
			metrics.ObserveNetworkRequest("postgres", "push_records_list", "push_records", start, err)
			return nil, err
		}
		if err := unmarshalJSON(recipients, &r.Recipients); err != nil {
			return nil, fmt.Errorf("recipients: %w", err)
		}
		r.Channel = domain.ChannelKind(channel)
		r.Status = domain.PushStatus(status)
		if diff.Valid {
			text := diff.String
			r.DiffSummary = &text
		}
		out = append(out, r)
	}
	err = rows.Err()
	metrics.ObserveNetworkRequest("postgres", "push_records_list", "push_records", start, err)
	return out, err
}
