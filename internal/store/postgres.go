package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/foresight/internal/db"
	"github.com/sells-group/foresight/internal/isolation"
	"github.com/sells-group/foresight/internal/model"
)

// PostgresStore implements Store using pgxpool. Backend for multi-node
// deployments where several crawler and evaluator processes share state.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the hot pipeline paths.
var preparedStatements = map[string]string{
	"hash_exists_source": `SELECT 1 FROM articles WHERE tenant_id = $1 AND source_id = $2 AND content_hash = $3 LIMIT 1`,
	"hash_exists_tenant": `SELECT 1 FROM articles WHERE tenant_id = $1 AND content_hash = $2 LIMIT 1`,
	"active_predictors":  `SELECT ` + predictorCols + ` FROM predictors WHERE target_id = $1 AND analyst_id = $2 AND status = 'active' ORDER BY created_at`,
	"mark_article":       `UPDATE articles SET status = $1, claimed_by = '', claimed_at = NULL WHERE id = $2`,
	"expire_predictors":  `UPDATE predictors SET status = 'expired' WHERE status = 'active' AND expires_at <= $1`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresFromPool wraps an existing pool; used by tests with pgxmock.
func NewPostgresFromPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, closeFn: pool.Close}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS sources (
	id                   TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	tenant_id            TEXT NOT NULL,
	name                 TEXT NOT NULL DEFAULT '',
	url                  TEXT NOT NULL,
	type                 TEXT NOT NULL,
	crawl_frequency_mins INTEGER NOT NULL,
	filter               JSONB NOT NULL DEFAULT '{}',
	active               BOOLEAN NOT NULL DEFAULT true,
	is_test              BOOLEAN NOT NULL DEFAULT false,
	last_crawl_at        TIMESTAMPTZ,
	last_crawl_status    TEXT NOT NULL DEFAULT '',
	consecutive_errors   INTEGER NOT NULL DEFAULT 0,
	needs_attention      BOOLEAN NOT NULL DEFAULT false,
	created_at           TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at           TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS crawl_runs (
	id           TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	source_id    TEXT NOT NULL REFERENCES sources(id),
	status       TEXT NOT NULL DEFAULT 'running',
	items_seen   INTEGER NOT NULL DEFAULT 0,
	dedup        JSONB NOT NULL DEFAULT '{}',
	error        TEXT NOT NULL DEFAULT '',
	retry_count  INTEGER NOT NULL DEFAULT 0,
	started_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	completed_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS universes (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	tenant_id  TEXT NOT NULL,
	agent_id   TEXT NOT NULL DEFAULT '',
	name       TEXT NOT NULL,
	domain     TEXT NOT NULL,
	risk       TEXT NOT NULL DEFAULT 'balanced',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS targets (
	id           TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	universe_id  TEXT NOT NULL REFERENCES universes(id),
	symbol       TEXT NOT NULL,
	name         TEXT NOT NULL DEFAULT '',
	is_test      BOOLEAN NOT NULL DEFAULT false,
	mirror_of_id TEXT NOT NULL DEFAULT '',
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE(universe_id, symbol)
);

CREATE TABLE IF NOT EXISTS analysts (
	id           TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	tenant_id    TEXT NOT NULL,
	name         TEXT NOT NULL,
	scope        TEXT NOT NULL DEFAULT 'global',
	domain       TEXT NOT NULL DEFAULT '',
	weight       DOUBLE PRECISION NOT NULL DEFAULT 1,
	tier         INTEGER NOT NULL DEFAULT 1,
	enabled      BOOLEAN NOT NULL DEFAULT true,
	instructions TEXT NOT NULL DEFAULT '',
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS analyst_overrides (
	id          TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	analyst_id  TEXT NOT NULL REFERENCES analysts(id),
	level       TEXT NOT NULL,
	universe_id TEXT NOT NULL DEFAULT '',
	target_id   TEXT NOT NULL DEFAULT '',
	weight      DOUBLE PRECISION,
	tier        INTEGER,
	enabled     BOOLEAN,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE(analyst_id, level, universe_id, target_id)
);

CREATE TABLE IF NOT EXISTS articles (
	id               TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	tenant_id        TEXT NOT NULL,
	source_id        TEXT NOT NULL REFERENCES sources(id),
	title            TEXT NOT NULL,
	normalized_title TEXT NOT NULL DEFAULT '',
	body             TEXT NOT NULL DEFAULT '',
	url              TEXT NOT NULL DEFAULT '',
	content_hash     TEXT NOT NULL,
	title_signature  TEXT NOT NULL DEFAULT '',
	salient_phrases  JSONB NOT NULL DEFAULT '[]',
	is_test          BOOLEAN NOT NULL DEFAULT false,
	is_synthetic     BOOLEAN NOT NULL DEFAULT false,
	synthetic_marker TEXT NOT NULL DEFAULT '',
	status           TEXT NOT NULL DEFAULT 'pending',
	published_at     TIMESTAMPTZ,
	first_seen_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	claimed_by       TEXT NOT NULL DEFAULT '',
	claimed_at       TIMESTAMPTZ,
	attempts         INT NOT NULL DEFAULT 0,
	UNIQUE(tenant_id, content_hash)
);

CREATE TABLE IF NOT EXISTS subscriptions (
	id                TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	source_id         TEXT NOT NULL REFERENCES sources(id),
	target_id         TEXT NOT NULL REFERENCES targets(id),
	last_processed_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE(source_id, target_id)
);

CREATE TABLE IF NOT EXISTS predictors (
	id          TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	tenant_id   TEXT NOT NULL,
	article_id  TEXT NOT NULL REFERENCES articles(id),
	analyst_id  TEXT NOT NULL REFERENCES analysts(id),
	target_id   TEXT NOT NULL REFERENCES targets(id),
	direction   TEXT NOT NULL,
	strength    INTEGER NOT NULL,
	confidence  DOUBLE PRECISION NOT NULL,
	reasoning   TEXT NOT NULL DEFAULT '',
	is_test     BOOLEAN NOT NULL DEFAULT false,
	status      TEXT NOT NULL DEFAULT 'active',
	expires_at  TIMESTAMPTZ NOT NULL,
	consumed_by TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS predictions (
	id                TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	tenant_id         TEXT NOT NULL,
	target_id         TEXT NOT NULL REFERENCES targets(id),
	analyst_id        TEXT NOT NULL REFERENCES analysts(id),
	direction         TEXT NOT NULL,
	combined_strength DOUBLE PRECISION NOT NULL DEFAULT 0,
	consensus         DOUBLE PRECISION NOT NULL DEFAULT 0,
	predictor_count   INTEGER NOT NULL DEFAULT 0,
	is_test           BOOLEAN NOT NULL DEFAULT false,
	status            TEXT NOT NULL DEFAULT 'active',
	ended_reason      TEXT NOT NULL DEFAULT '',
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	ended_at          TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS evaluations (
	id                TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	prediction_id     TEXT NOT NULL REFERENCES predictions(id),
	actual_outcome    TEXT NOT NULL,
	direction_correct BOOLEAN NOT NULL,
	score             DOUBLE PRECISION NOT NULL,
	confidence        DOUBLE PRECISION NOT NULL,
	evaluated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS review_queue (
	id                 TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	evaluation_id      TEXT NOT NULL REFERENCES evaluations(id),
	system_direction   TEXT NOT NULL,
	system_confidence  DOUBLE PRECISION NOT NULL,
	status             TEXT NOT NULL DEFAULT 'pending',
	response_direction TEXT,
	response_strength  INTEGER,
	create_learning    BOOLEAN NOT NULL DEFAULT false,
	decided_by         TEXT NOT NULL DEFAULT '',
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
	decided_at         TIMESTAMPTZ,
	claimed_by         TEXT NOT NULL DEFAULT '',
	claimed_at         TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS learnings (
	id             TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	tenant_id      TEXT NOT NULL,
	kind           TEXT NOT NULL,
	scope          TEXT NOT NULL,
	domain         TEXT NOT NULL DEFAULT '',
	universe_id    TEXT NOT NULL DEFAULT '',
	target_id      TEXT NOT NULL DEFAULT '',
	content        TEXT NOT NULL,
	stage          TEXT NOT NULL DEFAULT 'created',
	is_test        BOOLEAN NOT NULL DEFAULT false,
	times_applied  INTEGER NOT NULL DEFAULT 0,
	times_helpful  INTEGER NOT NULL DEFAULT 0,
	backtest_score DOUBLE PRECISION,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS learning_lineage (
	id               TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	test_learning_id TEXT NOT NULL REFERENCES learnings(id),
	prod_learning_id TEXT NOT NULL REFERENCES learnings(id),
	backtest_score   DOUBLE PRECISION NOT NULL,
	promoted_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_sources_tenant ON sources(tenant_id);
CREATE INDEX IF NOT EXISTS idx_sources_due ON sources(active, last_crawl_at);
CREATE INDEX IF NOT EXISTS idx_crawl_runs_source ON crawl_runs(source_id, started_at DESC);
CREATE INDEX IF NOT EXISTS idx_targets_universe ON targets(universe_id);
CREATE INDEX IF NOT EXISTS idx_articles_recent ON articles(tenant_id, first_seen_at DESC);
CREATE INDEX IF NOT EXISTS idx_articles_queue ON articles(status, first_seen_at);
CREATE INDEX IF NOT EXISTS idx_articles_source_seen ON articles(source_id, first_seen_at);
CREATE INDEX IF NOT EXISTS idx_predictors_active ON predictors(target_id, analyst_id, status);
CREATE INDEX IF NOT EXISTS idx_predictors_expiry ON predictors(status, expires_at);
CREATE UNIQUE INDEX IF NOT EXISTS idx_predictions_one_active
	ON predictions(target_id, analyst_id) WHERE status = 'active';
CREATE INDEX IF NOT EXISTS idx_reviews_pending ON review_queue(status, created_at);
CREATE INDEX IF NOT EXISTS idx_learnings_tenant ON learnings(tenant_id, stage);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// Pool returns the underlying database pool for subsystems that need
// direct query access (e.g., bulk scenario loading).
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

// Sources

func (s *PostgresStore) CreateSource(ctx context.Context, src model.Source) (*model.Source, error) {
	if err := src.Validate(); err != nil {
		return nil, err
	}
	src.ID = uuid.New().String()
	now := time.Now().UTC()
	src.CreatedAt = now
	src.UpdatedAt = now

	filterJSON, err := json.Marshal(src.Filter)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal filter")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO sources (id, tenant_id, name, url, type, crawl_frequency_mins, filter, active, is_test, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		src.ID, src.TenantID, src.Name, src.URL, string(src.Type), src.CrawlFrequencyMins,
		filterJSON, src.Active, src.IsTest, now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert source")
	}
	return &src, nil
}

func (s *PostgresStore) GetSource(ctx context.Context, id string) (*model.Source, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+sourceCols+` FROM sources WHERE id = $1`, id)
	return scanSourcePg(row)
}

func (s *PostgresStore) ListSources(ctx context.Context, filter SourceFilter) ([]model.Source, error) {
	query := `SELECT ` + sourceCols + ` FROM sources WHERE true`
	args := []any{}
	argIdx := 1

	if filter.TenantID != "" {
		query += argClause(` AND tenant_id = $%d`, &argIdx)
		args = append(args, filter.TenantID)
	}
	if filter.Active != nil {
		query += argClause(` AND active = $%d`, &argIdx)
		args = append(args, *filter.Active)
	}
	if filter.NeedsAttention != nil {
		query += argClause(` AND needs_attention = $%d`, &argIdx)
		args = append(args, *filter.NeedsAttention)
	}
	query += ` ORDER BY created_at`
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += argClause(` LIMIT $%d`, &argIdx)
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list sources")
	}
	defer rows.Close()

	var sources []model.Source
	for rows.Next() {
		src, err := scanSourcePg(rows)
		if err != nil {
			return nil, err
		}
		sources = append(sources, *src)
	}
	return sources, eris.Wrap(rows.Err(), "postgres: list sources iterate")
}

func (s *PostgresStore) SetSourceActive(ctx context.Context, id string, active bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE sources SET active = $1, updated_at = $2 WHERE id = $3`,
		active, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: set source active %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("source not found: %s", id)
	}
	return nil
}

func (s *PostgresStore) UpdateSourceHealth(ctx context.Context, src model.Source) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE sources SET last_crawl_at = $1, last_crawl_status = $2, consecutive_errors = $3, needs_attention = $4, updated_at = $5
		 WHERE id = $6`,
		src.LastCrawlAt, src.LastCrawlStatus, src.ConsecutiveErrors, src.NeedsAttention, time.Now().UTC(), src.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update source health %s", src.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("source not found: %s", src.ID)
	}
	return nil
}

func (s *PostgresStore) DueSources(ctx context.Context, now time.Time, limit int) ([]model.Source, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+sourceCols+` FROM sources
		 WHERE active AND NOT is_test
		   AND (last_crawl_at IS NULL
		        OR last_crawl_at <= $1::timestamptz - make_interval(mins => crawl_frequency_mins))
		 ORDER BY last_crawl_at ASC NULLS FIRST
		 LIMIT $2`,
		now.UTC(), limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: due sources")
	}
	defer rows.Close()

	var sources []model.Source
	for rows.Next() {
		src, err := scanSourcePg(rows)
		if err != nil {
			return nil, err
		}
		sources = append(sources, *src)
	}
	return sources, eris.Wrap(rows.Err(), "postgres: due sources iterate")
}

// Crawl runs

func (s *PostgresStore) CreateCrawlRun(ctx context.Context, run model.CrawlRun) (*model.CrawlRun, error) {
	run.ID = uuid.New().String()
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	if run.Status == "" {
		run.Status = model.CrawlStatusRunning
	}
	dedupJSON, err := json.Marshal(run.Dedup)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal dedup counts")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO crawl_runs (id, source_id, status, items_seen, dedup, error, retry_count, started_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		run.ID, run.SourceID, string(run.Status), run.ItemsSeen, dedupJSON, run.Error, run.RetryCount, run.StartedAt,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: insert crawl run for %s", run.SourceID)
	}
	return &run, nil
}

func (s *PostgresStore) CompleteCrawlRun(ctx context.Context, run model.CrawlRun) error {
	dedupJSON, err := json.Marshal(run.Dedup)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal dedup counts")
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE crawl_runs SET status = $1, items_seen = $2, dedup = $3, error = $4, retry_count = $5, completed_at = $6
		 WHERE id = $7`,
		string(run.Status), run.ItemsSeen, dedupJSON, run.Error, run.RetryCount, run.CompletedAt, run.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete crawl run %s", run.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("crawl_run not found: %s", run.ID)
	}
	return nil
}

func (s *PostgresStore) ListCrawlRuns(ctx context.Context, tenantID string, since time.Time, limit int) ([]model.CrawlRun, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT r.id, r.source_id, r.status, r.items_seen, r.dedup, r.error, r.retry_count, r.started_at, r.completed_at
		 FROM crawl_runs r JOIN sources src ON src.id = r.source_id
		 WHERE src.tenant_id = $1 AND r.started_at >= $2
		 ORDER BY r.started_at DESC LIMIT $3`,
		tenantID, since, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list crawl runs")
	}
	defer rows.Close()

	var runs []model.CrawlRun
	for rows.Next() {
		var run model.CrawlRun
		var dedupJSON []byte
		if err := rows.Scan(&run.ID, &run.SourceID, &run.Status, &run.ItemsSeen,
			&dedupJSON, &run.Error, &run.RetryCount, &run.StartedAt, &run.CompletedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan crawl run")
		}
		if err := json.Unmarshal(dedupJSON, &run.Dedup); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal dedup counts")
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Universes and targets

func (s *PostgresStore) CreateUniverse(ctx context.Context, u model.Universe) (*model.Universe, error) {
	if !model.ValidDomain(u.Domain) {
		return nil, eris.Errorf("universe: unknown domain %q", u.Domain)
	}
	u.ID = uuid.New().String()
	u.CreatedAt = time.Now().UTC()
	if u.Risk == "" {
		u.Risk = model.RiskBalanced
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO universes (id, tenant_id, agent_id, name, domain, risk, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		u.ID, u.TenantID, u.AgentID, u.Name, string(u.Domain), string(u.Risk), u.CreatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert universe")
	}
	return &u, nil
}

func (s *PostgresStore) GetUniverse(ctx context.Context, id string) (*model.Universe, error) {
	var u model.Universe
	err := s.pool.QueryRow(ctx,
		`SELECT id, tenant_id, agent_id, name, domain, risk, created_at FROM universes WHERE id = $1`, id,
	).Scan(&u.ID, &u.TenantID, &u.AgentID, &u.Name, &u.Domain, &u.Risk, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.Errorf("universe not found: %s", id)
		}
		return nil, eris.Wrap(err, "postgres: get universe")
	}
	return &u, nil
}

func (s *PostgresStore) CreateTarget(ctx context.Context, t model.Target) (*model.Target, *model.Target, error) {
	if err := isolation.CheckTargetCreate(t); err != nil {
		return nil, nil, err
	}
	t.ID = uuid.New().String()
	t.CreatedAt = time.Now().UTC()

	mirror := t.Mirror()
	mirror.ID = uuid.New().String()
	mirror.CreatedAt = t.CreatedAt

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, nil, eris.Wrap(err, "postgres: begin tx")
	}
	defer tx.Rollback(ctx)

	const insert = `INSERT INTO targets (id, universe_id, symbol, name, is_test, mirror_of_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	if _, err := tx.Exec(ctx, insert,
		t.ID, t.UniverseID, t.Symbol, t.Name, t.IsTest, t.MirrorOfID, t.CreatedAt); err != nil {
		return nil, nil, eris.Wrapf(err, "postgres: insert target %s", t.Symbol)
	}
	if _, err := tx.Exec(ctx, insert,
		mirror.ID, mirror.UniverseID, mirror.Symbol, mirror.Name, mirror.IsTest, mirror.MirrorOfID, mirror.CreatedAt); err != nil {
		return nil, nil, eris.Wrapf(err, "postgres: insert mirror %s", mirror.Symbol)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, nil, eris.Wrap(err, "postgres: commit target create")
	}
	return &t, &mirror, nil
}

func (s *PostgresStore) GetTarget(ctx context.Context, id string) (*model.Target, error) {
	return s.targetBy(ctx, `WHERE id = $1`, id)
}

func (s *PostgresStore) GetTargetBySymbol(ctx context.Context, universeID, symbol string) (*model.Target, error) {
	return s.targetBy(ctx, `WHERE universe_id = $1 AND symbol = $2`, universeID, symbol)
}

func (s *PostgresStore) targetBy(ctx context.Context, where string, args ...any) (*model.Target, error) {
	var t model.Target
	err := s.pool.QueryRow(ctx,
		`SELECT id, universe_id, symbol, name, is_test, mirror_of_id, created_at FROM targets `+where,
		args...,
	).Scan(&t.ID, &t.UniverseID, &t.Symbol, &t.Name, &t.IsTest, &t.MirrorOfID, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.New("target not found")
		}
		return nil, eris.Wrap(err, "postgres: get target")
	}
	return &t, nil
}

func (s *PostgresStore) ListTargets(ctx context.Context, universeID string) ([]model.Target, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, universe_id, symbol, name, is_test, mirror_of_id, created_at
		 FROM targets WHERE universe_id = $1 ORDER BY symbol`, universeID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list targets")
	}
	defer rows.Close()

	var targets []model.Target
	for rows.Next() {
		var t model.Target
		if err := rows.Scan(&t.ID, &t.UniverseID, &t.Symbol, &t.Name, &t.IsTest, &t.MirrorOfID, &t.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan target")
		}
		targets = append(targets, t)
	}
	return targets, eris.Wrap(rows.Err(), "postgres: list targets iterate")
}

func (s *PostgresStore) TargetsForSource(ctx context.Context, sourceID string) ([]model.Target, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT t.id, t.universe_id, t.symbol, t.name, t.is_test, t.mirror_of_id, t.created_at
		 FROM targets t JOIN subscriptions sub ON sub.target_id = t.id
		 WHERE sub.source_id = $1 ORDER BY t.symbol`, sourceID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: targets for source")
	}
	defer rows.Close()

	var targets []model.Target
	for rows.Next() {
		var t model.Target
		if err := rows.Scan(&t.ID, &t.UniverseID, &t.Symbol, &t.Name, &t.IsTest, &t.MirrorOfID, &t.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan target")
		}
		targets = append(targets, t)
	}
	return targets, eris.Wrap(rows.Err(), "postgres: targets for source iterate")
}

// Analysts and overrides

func (s *PostgresStore) CreateAnalyst(ctx context.Context, a model.Analyst) (*model.Analyst, error) {
	if err := a.Validate(); err != nil {
		return nil, err
	}
	a.ID = uuid.New().String()
	a.CreatedAt = time.Now().UTC()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO analysts (id, tenant_id, name, scope, domain, weight, tier, enabled, instructions, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		a.ID, a.TenantID, a.Name, string(a.Scope), string(a.Domain), a.Weight, a.Tier, a.Enabled, a.Instructions, a.CreatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert analyst")
	}
	return &a, nil
}

func (s *PostgresStore) ListAnalysts(ctx context.Context, tenantID string) ([]model.Analyst, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, tenant_id, name, scope, domain, weight, tier, enabled, instructions, created_at
		 FROM analysts WHERE tenant_id = $1 ORDER BY name`, tenantID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list analysts")
	}
	defer rows.Close()

	var analysts []model.Analyst
	for rows.Next() {
		var a model.Analyst
		if err := rows.Scan(&a.ID, &a.TenantID, &a.Name, &a.Scope, &a.Domain, &a.Weight, &a.Tier, &a.Enabled, &a.Instructions, &a.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan analyst")
		}
		analysts = append(analysts, a)
	}
	return analysts, eris.Wrap(rows.Err(), "postgres: list analysts iterate")
}

func (s *PostgresStore) UpsertOverride(ctx context.Context, o model.AnalystOverride) (*model.AnalystOverride, error) {
	if err := o.Validate(); err != nil {
		return nil, err
	}
	o.ID = uuid.New().String()
	o.CreatedAt = time.Now().UTC()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO analyst_overrides (id, analyst_id, level, universe_id, target_id, weight, tier, enabled, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (analyst_id, level, universe_id, target_id)
		 DO UPDATE SET weight = EXCLUDED.weight, tier = EXCLUDED.tier, enabled = EXCLUDED.enabled`,
		o.ID, o.AnalystID, string(o.Level), o.UniverseID, o.TargetID, o.Weight, o.Tier, o.Enabled, o.CreatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: upsert override")
	}
	return &o, nil
}

func (s *PostgresStore) ListOverrides(ctx context.Context, level model.ScopeLevel, refID string) ([]model.AnalystOverride, error) {
	var where string
	switch level {
	case model.ScopeUniverse:
		where = `level = 'universe' AND universe_id = $1`
	case model.ScopeTarget:
		where = `level = 'target' AND target_id = $1`
	default:
		return nil, eris.Errorf("overrides: level %q not overridable", level)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, analyst_id, level, universe_id, target_id, weight, tier, enabled, created_at
		 FROM analyst_overrides WHERE `+where, refID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list overrides")
	}
	defer rows.Close()

	var overrides []model.AnalystOverride
	for rows.Next() {
		var o model.AnalystOverride
		if err := rows.Scan(&o.ID, &o.AnalystID, &o.Level, &o.UniverseID, &o.TargetID, &o.Weight, &o.Tier, &o.Enabled, &o.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan override")
		}
		overrides = append(overrides, o)
	}
	return overrides, eris.Wrap(rows.Err(), "postgres: list overrides iterate")
}

// helpers

// argClause formats a positional-placeholder clause and advances the index.
func argClause(format string, idx *int) string {
	s := fmt.Sprintf(format, *idx)
	*idx++
	return s
}

func scanSourcePg(row pgx.Row) (*model.Source, error) {
	var src model.Source
	var filterJSON []byte
	var lastCrawl *time.Time

	err := row.Scan(&src.ID, &src.TenantID, &src.Name, &src.URL, &src.Type, &src.CrawlFrequencyMins,
		&filterJSON, &src.Active, &src.IsTest, &lastCrawl, &src.LastCrawlStatus,
		&src.ConsecutiveErrors, &src.NeedsAttention, &src.CreatedAt, &src.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.New("source not found")
		}
		return nil, eris.Wrap(err, "postgres: scan source")
	}
	if err := json.Unmarshal(filterJSON, &src.Filter); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal filter")
	}
	src.LastCrawlAt = lastCrawl
	return &src, nil
}
