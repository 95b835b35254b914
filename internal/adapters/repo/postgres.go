package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"medbrief/internal/domain"
	"medbrief/internal/infra/metrics"
)

// Postgres реализует хранилища тем, снимков и истории на основе pgxpool.
type Postgres struct {
	pool      *pgxpool.Pool
	retention int
}

var (
	_ domain.TopicRepo    = (*Postgres)(nil)
	_ domain.SnapshotRepo = (*Postgres)(nil)
	_ domain.HistoryStore = (*Postgres)(nil)
)

// psql — построитель запросов с плейсхолдерами $1, $2, ...
var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// NewPostgres создаёт адаптер БД. retention — сколько снимков хранить на тему (минимум 2).
func NewPostgres(pool *pgxpool.Pool, retention int) *Postgres {
	if retention < 2 {
		retention = 2
	}
	return &Postgres{pool: pool, retention: retention}
}

func (p *Postgres) connCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, 5*time.Second)
}

// EnsureSchema создаёт таблицы, если их ещё нет.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	start := time.Now()
	_, err := p.pool.Exec(ctx, schema)
	metrics.ObserveNetworkRequest("postgres", "ensure_schema", "schema", start, err)
	if err != nil {
		return fmt.Errorf("создание схемы: %w", err)
	}
	return nil
}

const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
)

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// schema — история и доставки не ссылаются на topics: они переживают удаление темы.
const schema = `
CREATE TABLE IF NOT EXISTS topics (
	id             BIGSERIAL PRIMARY KEY,
	name           TEXT        NOT NULL,
	keywords       JSONB       NOT NULL DEFAULT '[]',
	frequency      TEXT        NOT NULL,
	range_from     DATE,
	range_to       DATE,
	detection_time TIME,
	channels       JSONB       NOT NULL DEFAULT '[]',
	recipients     JSONB       NOT NULL DEFAULT '{}',
	template       TEXT        NOT NULL DEFAULT 'default',
	created_at     TIMESTAMPTZ NOT NULL,
	last_updated   TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS analysis_snapshots (
	id                   BIGSERIAL PRIMARY KEY,
	topic_id             BIGINT      NOT NULL REFERENCES topics(id) ON DELETE CASCADE,
	generated_at         TIMESTAMPTZ NOT NULL,
	total_count          INT         NOT NULL,
	high_citation_count  INT         NOT NULL,
	clinical_trial_count INT         NOT NULL,
	meta_analysis_count  INT         NOT NULL,
	trend_data           JSONB       NOT NULL,
	distribution_data    JSONB       NOT NULL
);
CREATE INDEX IF NOT EXISTS analysis_snapshots_topic_idx ON analysis_snapshots (topic_id, id DESC);

CREATE TABLE IF NOT EXISTS literature (
	topic_id         BIGINT NOT NULL REFERENCES topics(id) ON DELETE CASCADE,
	source_id        TEXT   NOT NULL,
	title            TEXT   NOT NULL,
	authors          JSONB  NOT NULL DEFAULT '[]',
	publication_date DATE,
	journal_name     TEXT   NOT NULL DEFAULT '',
	literature_type  TEXT   NOT NULL,
	summary          TEXT   NOT NULL DEFAULT '',
	citation_count   INT,
	PRIMARY KEY (topic_id, source_id)
);
CREATE INDEX IF NOT EXISTS literature_topic_date_idx ON literature (topic_id, publication_date DESC);

CREATE TABLE IF NOT EXISTS topic_updates (
	id                BIGSERIAL PRIMARY KEY,
	topic_id          BIGINT      NOT NULL,
	ts                TIMESTAMPTZ NOT NULL,
	status            TEXT        NOT NULL CHECK (status IN ('success', 'failure')),
	artifact_filename TEXT,
	artifact_path     TEXT
);
CREATE INDEX IF NOT EXISTS topic_updates_topic_idx ON topic_updates (topic_id, ts);

CREATE TABLE IF NOT EXISTS push_records (
	id           BIGSERIAL PRIMARY KEY,
	push_time    TIMESTAMPTZ NOT NULL,
	topic_id     BIGINT      NOT NULL,
	topic_name   TEXT        NOT NULL,
	ppt_filename TEXT        NOT NULL,
	recipients   JSONB       NOT NULL DEFAULT '[]',
	channel      TEXT        NOT NULL,
	diff_summary TEXT
);
CREATE INDEX IF NOT EXISTS push_records_time_idx ON push_records (push_time DESC, id DESC);
CREATE INDEX IF NOT EXISTS push_records_topic_idx ON push_records (topic_id, push_time DESC);

CREATE TABLE IF NOT EXISTS push_outcomes (
	push_record_id BIGINT      PRIMARY KEY REFERENCES push_records(id),
	status         TEXT        NOT NULL CHECK (status IN ('success', 'failed')),
	resolved_at    TIMESTAMPTZ NOT NULL
);
`
