package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/foresight/internal/isolation"
	"github.com/sells-group/foresight/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. Default backend
// for single-node deployments and tests.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS sources (
	id                   TEXT PRIMARY KEY,
	tenant_id            TEXT NOT NULL,
	name                 TEXT NOT NULL DEFAULT '',
	url                  TEXT NOT NULL,
	type                 TEXT NOT NULL,
	crawl_frequency_mins INTEGER NOT NULL,
	filter               TEXT NOT NULL DEFAULT '{}',
	active               INTEGER NOT NULL DEFAULT 1,
	is_test              INTEGER NOT NULL DEFAULT 0,
	last_crawl_at        DATETIME,
	last_crawl_status    TEXT NOT NULL DEFAULT '',
	consecutive_errors   INTEGER NOT NULL DEFAULT 0,
	needs_attention      INTEGER NOT NULL DEFAULT 0,
	created_at           DATETIME NOT NULL,
	updated_at           DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS crawl_runs (
	id           TEXT PRIMARY KEY,
	source_id    TEXT NOT NULL REFERENCES sources(id),
	status       TEXT NOT NULL DEFAULT 'running',
	items_seen   INTEGER NOT NULL DEFAULT 0,
	dedup        TEXT NOT NULL DEFAULT '{}',
	error        TEXT NOT NULL DEFAULT '',
	retry_count  INTEGER NOT NULL DEFAULT 0,
	started_at   DATETIME NOT NULL,
	completed_at DATETIME
);

CREATE TABLE IF NOT EXISTS universes (
	id         TEXT PRIMARY KEY,
	tenant_id  TEXT NOT NULL,
	agent_id   TEXT NOT NULL DEFAULT '',
	name       TEXT NOT NULL,
	domain     TEXT NOT NULL,
	risk       TEXT NOT NULL DEFAULT 'balanced',
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS targets (
	id           TEXT PRIMARY KEY,
	universe_id  TEXT NOT NULL REFERENCES universes(id),
	symbol       TEXT NOT NULL,
	name         TEXT NOT NULL DEFAULT '',
	is_test      INTEGER NOT NULL DEFAULT 0,
	mirror_of_id TEXT NOT NULL DEFAULT '',
	created_at   DATETIME NOT NULL,
	UNIQUE(universe_id, symbol)
);

CREATE TABLE IF NOT EXISTS analysts (
	id           TEXT PRIMARY KEY,
	tenant_id    TEXT NOT NULL,
	name         TEXT NOT NULL,
	scope        TEXT NOT NULL DEFAULT 'global',
	domain       TEXT NOT NULL DEFAULT '',
	weight       REAL NOT NULL DEFAULT 1,
	tier         INTEGER NOT NULL DEFAULT 1,
	enabled      INTEGER NOT NULL DEFAULT 1,
	instructions TEXT NOT NULL DEFAULT '',
	created_at   DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS analyst_overrides (
	id          TEXT PRIMARY KEY,
	analyst_id  TEXT NOT NULL REFERENCES analysts(id),
	level       TEXT NOT NULL,
	universe_id TEXT NOT NULL DEFAULT '',
	target_id   TEXT NOT NULL DEFAULT '',
	weight      REAL,
	tier        INTEGER,
	enabled     INTEGER,
	created_at  DATETIME NOT NULL,
	UNIQUE(analyst_id, level, universe_id, target_id)
);

CREATE TABLE IF NOT EXISTS articles (
	id               TEXT PRIMARY KEY,
	tenant_id        TEXT NOT NULL,
	source_id        TEXT NOT NULL REFERENCES sources(id),
	title            TEXT NOT NULL,
	normalized_title TEXT NOT NULL DEFAULT '',
	body             TEXT NOT NULL DEFAULT '',
	url              TEXT NOT NULL DEFAULT '',
	content_hash     TEXT NOT NULL,
	title_signature  TEXT NOT NULL DEFAULT '',
	salient_phrases  TEXT NOT NULL DEFAULT '[]',
	is_test          INTEGER NOT NULL DEFAULT 0,
	is_synthetic     INTEGER NOT NULL DEFAULT 0,
	synthetic_marker TEXT NOT NULL DEFAULT '',
	status           TEXT NOT NULL DEFAULT 'pending',
	published_at     DATETIME,
	first_seen_at    DATETIME NOT NULL,
	claimed_by       TEXT NOT NULL DEFAULT '',
	claimed_at       DATETIME,
	attempts         INTEGER NOT NULL DEFAULT 0,
	UNIQUE(tenant_id, content_hash)
);

CREATE TABLE IF NOT EXISTS subscriptions (
	id                TEXT PRIMARY KEY,
	source_id         TEXT NOT NULL REFERENCES sources(id),
	target_id         TEXT NOT NULL REFERENCES targets(id),
	last_processed_at DATETIME NOT NULL,
	created_at        DATETIME NOT NULL,
	UNIQUE(source_id, target_id)
);

CREATE TABLE IF NOT EXISTS predictors (
	id          TEXT PRIMARY KEY,
	tenant_id   TEXT NOT NULL,
	article_id  TEXT NOT NULL REFERENCES articles(id),
	analyst_id  TEXT NOT NULL REFERENCES analysts(id),
	target_id   TEXT NOT NULL REFERENCES targets(id),
	direction   TEXT NOT NULL,
	strength    INTEGER NOT NULL,
	confidence  REAL NOT NULL,
	reasoning   TEXT NOT NULL DEFAULT '',
	is_test     INTEGER NOT NULL DEFAULT 0,
	status      TEXT NOT NULL DEFAULT 'active',
	expires_at  DATETIME NOT NULL,
	consumed_by TEXT NOT NULL DEFAULT '',
	created_at  DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS predictions (
	id                TEXT PRIMARY KEY,
	tenant_id         TEXT NOT NULL,
	target_id         TEXT NOT NULL REFERENCES targets(id),
	analyst_id        TEXT NOT NULL REFERENCES analysts(id),
	direction         TEXT NOT NULL,
	combined_strength REAL NOT NULL DEFAULT 0,
	consensus         REAL NOT NULL DEFAULT 0,
	predictor_count   INTEGER NOT NULL DEFAULT 0,
	is_test           INTEGER NOT NULL DEFAULT 0,
	status            TEXT NOT NULL DEFAULT 'active',
	ended_reason      TEXT NOT NULL DEFAULT '',
	created_at        DATETIME NOT NULL,
	ended_at          DATETIME
);

CREATE TABLE IF NOT EXISTS evaluations (
	id                TEXT PRIMARY KEY,
	prediction_id     TEXT NOT NULL REFERENCES predictions(id),
	actual_outcome    TEXT NOT NULL,
	direction_correct INTEGER NOT NULL,
	score             REAL NOT NULL,
	confidence        REAL NOT NULL,
	evaluated_at      DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS review_queue (
	id                 TEXT PRIMARY KEY,
	evaluation_id      TEXT NOT NULL REFERENCES evaluations(id),
	system_direction   TEXT NOT NULL,
	system_confidence  REAL NOT NULL,
	status             TEXT NOT NULL DEFAULT 'pending',
	response_direction TEXT,
	response_strength  INTEGER,
	create_learning    INTEGER NOT NULL DEFAULT 0,
	decided_by         TEXT NOT NULL DEFAULT '',
	created_at         DATETIME NOT NULL,
	decided_at         DATETIME,
	claimed_by         TEXT NOT NULL DEFAULT '',
	claimed_at         DATETIME
);

CREATE TABLE IF NOT EXISTS learnings (
	id             TEXT PRIMARY KEY,
	tenant_id      TEXT NOT NULL,
	kind           TEXT NOT NULL,
	scope          TEXT NOT NULL,
	domain         TEXT NOT NULL DEFAULT '',
	universe_id    TEXT NOT NULL DEFAULT '',
	target_id      TEXT NOT NULL DEFAULT '',
	content        TEXT NOT NULL,
	stage          TEXT NOT NULL DEFAULT 'created',
	is_test        INTEGER NOT NULL DEFAULT 0,
	times_applied  INTEGER NOT NULL DEFAULT 0,
	times_helpful  INTEGER NOT NULL DEFAULT 0,
	backtest_score REAL,
	created_at     DATETIME NOT NULL,
	updated_at     DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS learning_lineage (
	id               TEXT PRIMARY KEY,
	test_learning_id TEXT NOT NULL REFERENCES learnings(id),
	prod_learning_id TEXT NOT NULL REFERENCES learnings(id),
	backtest_score   REAL NOT NULL,
	promoted_at      DATETIME NOT NULL
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

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Sources

func (s *SQLiteStore) CreateSource(ctx context.Context, src model.Source) (*model.Source, error) {
	if err := src.Validate(); err != nil {
		return nil, err
	}
	src.ID = uuid.New().String()
	now := time.Now().UTC()
	src.CreatedAt = now
	src.UpdatedAt = now

	filterJSON, err := json.Marshal(src.Filter)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal filter")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sources (id, tenant_id, name, url, type, crawl_frequency_mins, filter, active, is_test, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		src.ID, src.TenantID, src.Name, src.URL, string(src.Type), src.CrawlFrequencyMins,
		string(filterJSON), src.Active, src.IsTest, now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert source")
	}
	return &src, nil
}

const sourceCols = `id, tenant_id, name, url, type, crawl_frequency_mins, filter, active, is_test,
	last_crawl_at, last_crawl_status, consecutive_errors, needs_attention, created_at, updated_at`

func (s *SQLiteStore) GetSource(ctx context.Context, id string) (*model.Source, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sourceCols+` FROM sources WHERE id = ?`, id)
	return scanSource(row)
}

func (s *SQLiteStore) ListSources(ctx context.Context, filter SourceFilter) ([]model.Source, error) {
	query := `SELECT ` + sourceCols + ` FROM sources WHERE 1=1`
	var args []any
	if filter.TenantID != "" {
		query += ` AND tenant_id = ?`
		args = append(args, filter.TenantID)
	}
	if filter.Active != nil {
		query += ` AND active = ?`
		args = append(args, *filter.Active)
	}
	if filter.NeedsAttention != nil {
		query += ` AND needs_attention = ?`
		args = append(args, *filter.NeedsAttention)
	}
	query += ` ORDER BY created_at`
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list sources")
	}
	defer rows.Close()

	var sources []model.Source
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, err
		}
		sources = append(sources, *src)
	}
	return sources, eris.Wrap(rows.Err(), "sqlite: list sources iterate")
}

func (s *SQLiteStore) SetSourceActive(ctx context.Context, id string, active bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sources SET active = ?, updated_at = ? WHERE id = ?`,
		active, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set source active %s", id)
	}
	return checkRowsAffected(res, "source", id)
}

func (s *SQLiteStore) UpdateSourceHealth(ctx context.Context, src model.Source) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sources SET last_crawl_at = ?, last_crawl_status = ?, consecutive_errors = ?, needs_attention = ?, updated_at = ?
		 WHERE id = ?`,
		src.LastCrawlAt, src.LastCrawlStatus, src.ConsecutiveErrors, src.NeedsAttention, time.Now().UTC(), src.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update source health %s", src.ID)
	}
	return checkRowsAffected(res, "source", src.ID)
}

func (s *SQLiteStore) DueSources(ctx context.Context, now time.Time, limit int) ([]model.Source, error) {
	if limit <= 0 {
		limit = 20
	}
	// A source is due when it was never crawled or its cadence has elapsed.
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sourceCols+` FROM sources
		 WHERE active = 1 AND is_test = 0
		   AND (last_crawl_at IS NULL
		        OR (julianday(?) - julianday(last_crawl_at)) * 1440 >= crawl_frequency_mins)
		 ORDER BY last_crawl_at ASC
		 LIMIT ?`,
		now.UTC(), limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: due sources")
	}
	defer rows.Close()

	var sources []model.Source
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, err
		}
		sources = append(sources, *src)
	}
	return sources, eris.Wrap(rows.Err(), "sqlite: due sources iterate")
}

// Crawl runs

func (s *SQLiteStore) CreateCrawlRun(ctx context.Context, run model.CrawlRun) (*model.CrawlRun, error) {
	run.ID = uuid.New().String()
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	if run.Status == "" {
		run.Status = model.CrawlStatusRunning
	}
	dedupJSON, err := json.Marshal(run.Dedup)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal dedup counts")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO crawl_runs (id, source_id, status, items_seen, dedup, error, retry_count, started_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.SourceID, string(run.Status), run.ItemsSeen, string(dedupJSON), run.Error, run.RetryCount, run.StartedAt,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: insert crawl run for %s", run.SourceID)
	}
	return &run, nil
}

func (s *SQLiteStore) CompleteCrawlRun(ctx context.Context, run model.CrawlRun) error {
	dedupJSON, err := json.Marshal(run.Dedup)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal dedup counts")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE crawl_runs SET status = ?, items_seen = ?, dedup = ?, error = ?, retry_count = ?, completed_at = ?
		 WHERE id = ?`,
		string(run.Status), run.ItemsSeen, string(dedupJSON), run.Error, run.RetryCount, run.CompletedAt, run.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete crawl run %s", run.ID)
	}
	return checkRowsAffected(res, "crawl_run", run.ID)
}

func (s *SQLiteStore) ListCrawlRuns(ctx context.Context, tenantID string, since time.Time, limit int) ([]model.CrawlRun, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT r.id, r.source_id, r.status, r.items_seen, r.dedup, r.error, r.retry_count, r.started_at, r.completed_at
		 FROM crawl_runs r JOIN sources src ON src.id = r.source_id
		 WHERE src.tenant_id = ? AND r.started_at >= ?
		 ORDER BY r.started_at DESC LIMIT ?`,
		tenantID, since, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list crawl runs")
	}
	defer rows.Close() //nolint:errcheck

	var runs []model.CrawlRun
	for rows.Next() {
		var run model.CrawlRun
		var dedupJSON string
		var completed sql.NullTime
		if err := rows.Scan(&run.ID, &run.SourceID, &run.Status, &run.ItemsSeen,
			&dedupJSON, &run.Error, &run.RetryCount, &run.StartedAt, &completed); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan crawl run")
		}
		if err := json.Unmarshal([]byte(dedupJSON), &run.Dedup); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal dedup counts")
		}
		if completed.Valid {
			t := completed.Time
			run.CompletedAt = &t
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Universes and targets

func (s *SQLiteStore) CreateUniverse(ctx context.Context, u model.Universe) (*model.Universe, error) {
	if !model.ValidDomain(u.Domain) {
		return nil, eris.Errorf("universe: unknown domain %q", u.Domain)
	}
	u.ID = uuid.New().String()
	u.CreatedAt = time.Now().UTC()
	if u.Risk == "" {
		u.Risk = model.RiskBalanced
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO universes (id, tenant_id, agent_id, name, domain, risk, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.TenantID, u.AgentID, u.Name, string(u.Domain), string(u.Risk), u.CreatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert universe")
	}
	return &u, nil
}

func (s *SQLiteStore) GetUniverse(ctx context.Context, id string) (*model.Universe, error) {
	var u model.Universe
	err := s.db.QueryRowContext(ctx,
		`SELECT id, tenant_id, agent_id, name, domain, risk, created_at FROM universes WHERE id = ?`, id,
	).Scan(&u.ID, &u.TenantID, &u.AgentID, &u.Name, &u.Domain, &u.Risk, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, eris.Errorf("universe not found: %s", id)
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get universe")
	}
	return &u, nil
}

func (s *SQLiteStore) CreateTarget(ctx context.Context, t model.Target) (*model.Target, *model.Target, error) {
	if err := isolation.CheckTargetCreate(t); err != nil {
		return nil, nil, err
	}
	t.ID = uuid.New().String()
	t.CreatedAt = time.Now().UTC()

	mirror := t.Mirror()
	mirror.ID = uuid.New().String()
	mirror.CreatedAt = t.CreatedAt

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback()

	const insert = `INSERT INTO targets (id, universe_id, symbol, name, is_test, mirror_of_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`
	if _, err := tx.ExecContext(ctx, insert,
		t.ID, t.UniverseID, t.Symbol, t.Name, t.IsTest, t.MirrorOfID, t.CreatedAt); err != nil {
		return nil, nil, eris.Wrapf(err, "sqlite: insert target %s", t.Symbol)
	}
	if _, err := tx.ExecContext(ctx, insert,
		mirror.ID, mirror.UniverseID, mirror.Symbol, mirror.Name, mirror.IsTest, mirror.MirrorOfID, mirror.CreatedAt); err != nil {
		return nil, nil, eris.Wrapf(err, "sqlite: insert mirror %s", mirror.Symbol)
	}
	if err := tx.Commit(); err != nil {
		return nil, nil, eris.Wrap(err, "sqlite: commit target create")
	}
	return &t, &mirror, nil
}

func (s *SQLiteStore) GetTarget(ctx context.Context, id string) (*model.Target, error) {
	return s.targetBy(ctx, `WHERE id = ?`, id)
}

func (s *SQLiteStore) GetTargetBySymbol(ctx context.Context, universeID, symbol string) (*model.Target, error) {
	return s.targetBy(ctx, `WHERE universe_id = ? AND symbol = ?`, universeID, symbol)
}

func (s *SQLiteStore) targetBy(ctx context.Context, where string, args ...any) (*model.Target, error) {
	var t model.Target
	err := s.db.QueryRowContext(ctx,
		`SELECT id, universe_id, symbol, name, is_test, mirror_of_id, created_at FROM targets `+where,
		args...,
	).Scan(&t.ID, &t.UniverseID, &t.Symbol, &t.Name, &t.IsTest, &t.MirrorOfID, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, eris.New("target not found")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get target")
	}
	return &t, nil
}

func (s *SQLiteStore) ListTargets(ctx context.Context, universeID string) ([]model.Target, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, universe_id, symbol, name, is_test, mirror_of_id, created_at
		 FROM targets WHERE universe_id = ? ORDER BY symbol`, universeID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list targets")
	}
	defer rows.Close()

	var targets []model.Target
	for rows.Next() {
		var t model.Target
		if err := rows.Scan(&t.ID, &t.UniverseID, &t.Symbol, &t.Name, &t.IsTest, &t.MirrorOfID, &t.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan target")
		}
		targets = append(targets, t)
	}
	return targets, eris.Wrap(rows.Err(), "sqlite: list targets iterate")
}

func (s *SQLiteStore) TargetsForSource(ctx context.Context, sourceID string) ([]model.Target, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT t.id, t.universe_id, t.symbol, t.name, t.is_test, t.mirror_of_id, t.created_at
		 FROM targets t JOIN subscriptions sub ON sub.target_id = t.id
		 WHERE sub.source_id = ? ORDER BY t.symbol`, sourceID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: targets for source")
	}
	defer rows.Close()

	var targets []model.Target
	for rows.Next() {
		var t model.Target
		if err := rows.Scan(&t.ID, &t.UniverseID, &t.Symbol, &t.Name, &t.IsTest, &t.MirrorOfID, &t.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan target")
		}
		targets = append(targets, t)
	}
	return targets, eris.Wrap(rows.Err(), "sqlite: targets for source iterate")
}

// Analysts and overrides

func (s *SQLiteStore) CreateAnalyst(ctx context.Context, a model.Analyst) (*model.Analyst, error) {
	if err := a.Validate(); err != nil {
		return nil, err
	}
	a.ID = uuid.New().String()
	a.CreatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO analysts (id, tenant_id, name, scope, domain, weight, tier, enabled, instructions, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.TenantID, a.Name, string(a.Scope), string(a.Domain), a.Weight, a.Tier, a.Enabled, a.Instructions, a.CreatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert analyst")
	}
	return &a, nil
}

func (s *SQLiteStore) ListAnalysts(ctx context.Context, tenantID string) ([]model.Analyst, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, tenant_id, name, scope, domain, weight, tier, enabled, instructions, created_at
		 FROM analysts WHERE tenant_id = ? ORDER BY name`, tenantID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list analysts")
	}
	defer rows.Close()

	var analysts []model.Analyst
	for rows.Next() {
		var a model.Analyst
		if err := rows.Scan(&a.ID, &a.TenantID, &a.Name, &a.Scope, &a.Domain, &a.Weight, &a.Tier, &a.Enabled, &a.Instructions, &a.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan analyst")
		}
		analysts = append(analysts, a)
	}
	return analysts, eris.Wrap(rows.Err(), "sqlite: list analysts iterate")
}

func (s *SQLiteStore) UpsertOverride(ctx context.Context, o model.AnalystOverride) (*model.AnalystOverride, error) {
	if err := o.Validate(); err != nil {
		return nil, err
	}
	o.ID = uuid.New().String()
	o.CreatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO analyst_overrides (id, analyst_id, level, universe_id, target_id, weight, tier, enabled, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(analyst_id, level, universe_id, target_id)
		 DO UPDATE SET weight = excluded.weight, tier = excluded.tier, enabled = excluded.enabled`,
		o.ID, o.AnalystID, string(o.Level), o.UniverseID, o.TargetID, o.Weight, o.Tier, o.Enabled, o.CreatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: upsert override")
	}
	return &o, nil
}

func (s *SQLiteStore) ListOverrides(ctx context.Context, level model.ScopeLevel, refID string) ([]model.AnalystOverride, error) {
	var where string
	switch level {
	case model.ScopeUniverse:
		where = `level = 'universe' AND universe_id = ?`
	case model.ScopeTarget:
		where = `level = 'target' AND target_id = ?`
	default:
		return nil, eris.Errorf("overrides: level %q not overridable", level)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, analyst_id, level, universe_id, target_id, weight, tier, enabled, created_at
		 FROM analyst_overrides WHERE `+where, refID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list overrides")
	}
	defer rows.Close()

	var overrides []model.AnalystOverride
	for rows.Next() {
		var o model.AnalystOverride
		var weight sql.NullFloat64
		var tier sql.NullInt64
		var enabled sql.NullBool
		if err := rows.Scan(&o.ID, &o.AnalystID, &o.Level, &o.UniverseID, &o.TargetID, &weight, &tier, &enabled, &o.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan override")
		}
		if weight.Valid {
			o.Weight = &weight.Float64
		}
		if tier.Valid {
			v := int(tier.Int64)
			o.Tier = &v
		}
		if enabled.Valid {
			o.Enabled = &enabled.Bool
		}
		overrides = append(overrides, o)
	}
	return overrides, eris.Wrap(rows.Err(), "sqlite: list overrides iterate")
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanSource(row scannable) (*model.Source, error) {
	var src model.Source
	var filterJSON string
	var lastCrawl sql.NullTime

	err := row.Scan(&src.ID, &src.TenantID, &src.Name, &src.URL, &src.Type, &src.CrawlFrequencyMins,
		&filterJSON, &src.Active, &src.IsTest, &lastCrawl, &src.LastCrawlStatus,
		&src.ConsecutiveErrors, &src.NeedsAttention, &src.CreatedAt, &src.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, eris.New("source not found")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan source")
	}
	if err := json.Unmarshal([]byte(filterJSON), &src.Filter); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal filter")
	}
	if lastCrawl.Valid {
		t := lastCrawl.Time
		src.LastCrawlAt = &t
	}
	return &src, nil
}
