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

// SaveSnapshot реализует domain.SnapshotRepo: в одной транзакции добавляет снимок,
// заменяет литературу темы и удаляет снимки сверх лимита хранения.
func (p *Postgres) SaveSnapshot(ctx context.Context, snap domain.AnalysisSnapshot, records []domain.LiteratureRecord) (domain.AnalysisSnapshot, error) {
	trend, err := json.Marshal(snap.Trend)
	if err != nil {
		return domain.AnalysisSnapshot{}, fmt.Errorf("сериализация тренда: %w", err)
	}
	dist, err := json.Marshal(snap.Distribution)
	if err != nil {
		return domain.AnalysisSnapshot{}, fmt.Errorf("сериализация распределения: %w", err)
	}
	rows, err := literatureRows(snap.TopicID, records)
	if err != nil {
		return domain.AnalysisSnapshot{}, err
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	start := time.Now()
	err = pgx.BeginTxFunc(ctx, p.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
INSERT INTO analysis_snapshots (topic_id, generated_at, total_count, high_citation_count, clinical_trial_count, meta_analysis_count, trend_data, distribution_data)
SELECT $1, $2, $3, $4, $5, $6, $7, $8
WHERE EXISTS (SELECT 1 FROM topics WHERE id = $1)
RETURNING id`,
			snap.TopicID, snap.GeneratedAt, snap.TotalCount, snap.HighCitationCount, snap.ClinicalTrialCount,
			snap.MetaAnalysisCount, trend, dist,
		).Scan(&snap.ID)
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrTopicNotFound
		}
		if err != nil {
			return fmt.Errorf("вставка снимка: %w", err)
		}

		if _, err := tx.Exec(ctx, `DELETE FROM literature WHERE topic_id = $1`, snap.TopicID); err != nil {
			return fmt.Errorf("очистка литературы: %w", err)
		}
		if len(rows) > 0 {
			_, err := tx.CopyFrom(ctx, pgx.Identifier{"literature"},
				[]string{"topic_id", "source_id", "title", "authors", "publication_date", "journal_name", "literature_type", "summary", "citation_count"},
				pgx.CopyFromRows(rows))
			if err != nil {
				return fmt.Errorf("запись литературы: %w", err)
			}
		}

		_, err = tx.Exec(ctx, `
DELETE FROM analysis_snapshots
WHERE topic_id = $1
  AND id NOT IN (SELECT id FROM analysis_snapshots WHERE topic_id = $1 ORDER BY id DESC LIMIT $2)`,
			snap.TopicID, p.retention)
		if err != nil {
			return fmt.Errorf("очистка старых снимков: %w", err)
		}
		return nil
	})
	metrics.ObserveNetworkRequest("postgres", "snapshot_save", "analysis_snapshots", start, err)
	if pgCode(err) == codeForeignKeyViolation {
		return domain.AnalysisSnapshot{}, domain.ErrTopicNotFound
	}
	if err != nil {
		return domain.AnalysisSnapshot{}, err
	}
	return snap, nil
}

// literatureRows готовит строки для COPY. Повторные идентификаторы источника отбрасываются.
func literatureRows(topicID int64, records []domain.LiteratureRecord) ([][]any, error) {
	seen := make(map[string]bool, len(records))
	rows := make([][]any, 0, len(records))
	for _, rec := range records {
		if rec.ID == "" || seen[rec.ID] {
			continue
		}
		seen[rec.ID] = true
		authors, err := json.Marshal(nonNilStrings(rec.Authors))
		if err != nil {
			return nil, fmt.Errorf("сериализация авторов: %w", err)
		}
		published := pgtype.Date{}
		if !rec.PublicationDate.IsZero() {
			published = pgtype.Date{Time: rec.PublicationDate, Valid: true}
		}
		var citations pgtype.Int4
		if rec.Citations != nil {
			citations = pgtype.Int4{Int32: int32(*rec.Citations), Valid: true}
		}
		rows = append(rows, []any{topicID, rec.ID, rec.Title, authors, published, rec.Journal, string(rec.Type), rec.Summary, citations})
	}
	return rows, nil
}

// LatestSnapshot реализует domain.SnapshotRepo.
func (p *Postgres) LatestSnapshot(ctx context.Context, topicID int64) (domain.AnalysisSnapshot, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	var (
		snap        domain.AnalysisSnapshot
		trend, dist []byte
	)
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT id, topic_id, generated_at, total_count, high_citation_count, clinical_trial_count, meta_analysis_count, trend_data, distribution_data
FROM analysis_snapshots
WHERE topic_id = $1
ORDER BY id DESC
LIMIT 1`, topicID).Scan(
		&snap.ID, &snap.TopicID, &snap.GeneratedAt, &snap.TotalCount, &snap.HighCitationCount,
		&snap.ClinicalTrialCount, &snap.MetaAnalysisCount, &trend, &dist,
	)
	metrics.ObserveNetworkRequest("postgres", "snapshot_latest", "analysis_snapshots", start, ignoreNoRows(err))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.AnalysisSnapshot{}, domain.ErrNoSnapshot
	}
	if err != nil {
		return domain.AnalysisSnapshot{}, fmt.Errorf("последний снимок темы %d: %w", topicID, err)
	}
	if err := unmarshalJSON(trend, &snap.Trend); err != nil {
		return domain.AnalysisSnapshot{}, fmt.Errorf("trend_data: %w", err)
	}
	if err := unmarshalJSON(dist, &snap.Distribution); err != nil {
		return domain.AnalysisSnapshot{}, fmt.Errorf("distribution_data: %w", err)
	}
	return snap, nil
}

// ListLiterature реализует domain.SnapshotRepo: новые публикации первыми.
func (p *Postgres) ListLiterature(ctx context.Context, topicID int64, skip, limit int) ([]domain.LiteratureRecord, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	builder := psql.
		Select("source_id", "title", "authors", "publication_date", "journal_name", "literature_type", "summary", "citation_count").
		From("literature").
		Where("topic_id = ?", topicID).
		OrderBy("publication_date DESC NULLS LAST", "source_id")
	if skip > 0 {
		builder = builder.Offset(uint64(skip))
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
		metrics.ObserveNetworkRequest("postgres", "literature_list", "literature", start, err)
		return nil, fmt.Errorf("выборка литературы: %w", err)
	}
	defer rows.Close()

	out := make([]domain.LiteratureRecord, 0)
	for rows.Next() {
		var (
			rec       domain.LiteratureRecord
			authors   []byte
			published pgtype.Date
			typ       string
			citations pgtype.Int4
		)
		if err := rows.Scan(&rec.ID, &rec.Title, &authors, &published, &rec.Journal, &typ, &rec.Summary, &citations); err != nil {
			metrics.ObserveNetworkRequest("postgres", "literature_list", "literature", start, err)
			return nil, err
		}
		if err := unmarshalJSON(authors, &rec.Authors); err != nil {
			return nil, fmt.Errorf("authors: %w", err)
		}
		if published.Valid {
			rec.PublicationDate = published.Time
		}
		rec.Type = domain.LiteratureType(typ)
		if citations.Valid {
			c := int(citations.Int32)
			rec.Citations = &c
		}
		out = append(out, rec)
	}
	err = rows.Err()
	metrics.ObserveNetworkRequest("postgres", "literature_list", "literature", start, err)
	return out, err
}
