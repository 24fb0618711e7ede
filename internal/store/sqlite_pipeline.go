package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/foresight/internal/isolation"
	"github.com/sells-group/foresight/internal/model"
)

const articleCols = `id, tenant_id, source_id, title, normalized_title, body, url, content_hash,
	title_signature, salient_phrases, is_test, is_synthetic, synthetic_marker, status,
	published_at, first_seen_at, claimed_by, claimed_at`

// Articles

func (s *SQLiteStore) CreateArticle(ctx context.Context, a model.Article) (*model.Article, error) {
	src, err := s.GetSource(ctx, a.SourceID)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: article source %s", a.SourceID)
	}
	if err := isolation.CheckArticleWrite(*src, a); err != nil {
		return nil, err
	}

	a.ID = uuid.New().String()
	if a.FirstSeenAt.IsZero() {
		a.FirstSeenAt = time.Now().UTC()
	}
	if a.Status == "" {
		a.Status = model.ArticleStatusPending
	}
	phrasesJSON, err := json.Marshal(a.SalientPhrases)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal phrases")
	}

	// Idempotent on (tenant, content hash): replayed ingestion returns the
	// existing row instead of erroring.
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO articles (id, tenant_id, source_id, title, normalized_title, body, url, content_hash,
		   title_signature, salient_phrases, is_test, is_synthetic, synthetic_marker, status, published_at, first_seen_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(tenant_id, content_hash) DO NOTHING`,
		a.ID, a.TenantID, a.SourceID, a.Title, a.NormalizedTitle, a.Body, a.URL, a.ContentHash,
		a.TitleSignature, string(phrasesJSON), a.IsTest, a.IsSynthetic, a.SyntheticMarker,
		string(a.Status), a.PublishedAt, a.FirstSeenAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert article")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		row := s.db.QueryRowContext(ctx,
			`SELECT `+articleCols+` FROM articles WHERE tenant_id = ? AND content_hash = ?`,
			a.TenantID, a.ContentHash)
		return scanArticle(row)
	}
	return &a, nil
}

func (s *SQLiteStore) BulkCreateArticles(ctx context.Context, articles []model.Article) (int, error) {
	created := 0
	for _, a := range articles {
		existing, err := s.ContentHashExistsInTenant(ctx, a.TenantID, a.ContentHash)
		if err != nil {
			return created, err
		}
		if existing {
			continue
		}
		if _, err := s.CreateArticle(ctx, a); err != nil {
			return created, err
		}
		created++
	}
	return created, nil
}

func (s *SQLiteStore) GetArticle(ctx context.Context, id string) (*model.Article, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+articleCols+` FROM articles WHERE id = ?`, id)
	return scanArticle(row)
}

func (s *SQLiteStore) MarkArticleStatus(ctx context.Context, id string, status model.ArticleStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE articles SET status = ?, claimed_by = '', claimed_at = NULL WHERE id = ?`,
		string(status), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: mark article %s", id)
	}
	return checkRowsAffected(res, "article", id)
}

func (s *SQLiteStore) ContentHashExists(ctx context.Context, tenantID, sourceID, hash string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM articles WHERE tenant_id = ? AND source_id = ? AND content_hash = ? LIMIT 1`,
		tenantID, sourceID, hash,
	).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, eris.Wrap(err, "sqlite: content hash exists")
}

func (s *SQLiteStore) ContentHashExistsInTenant(ctx context.Context, tenantID, hash string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM articles WHERE tenant_id = ? AND content_hash = ? LIMIT 1`,
		tenantID, hash,
	).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, eris.Wrap(err, "sqlite: content hash exists in tenant")
}

func (s *SQLiteStore) RecentArticles(ctx context.Context, tenantID string, since time.Time, limit int) ([]model.Article, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+articleCols+` FROM articles
		 WHERE tenant_id = ? AND first_seen_at >= ?
		 ORDER BY first_seen_at DESC LIMIT ?`,
		tenantID, since.UTC(), limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: recent articles")
	}
	return collectArticles(rows)
}

// Evaluation queue

func (s *SQLiteStore) ClaimArticle(ctx context.Context, workerID string, now time.Time, lease time.Duration) (string, bool, error) {
	return s.claimRow(ctx, "articles", `status = 'pending'`, workerID, now, lease)
}

// RetryArticle records one failed evaluation attempt. The claim stamp is
// left in place so the lease window throttles the next attempt.
func (s *SQLiteStore) RetryArticle(ctx context.Context, id string) (int, error) {
	var attempts int
	err := s.db.QueryRowContext(ctx,
		`UPDATE articles SET attempts = attempts + 1 WHERE id = ? RETURNING attempts`, id,
	).Scan(&attempts)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: retry article %s", id)
	}
	return attempts, nil
}

func (s *SQLiteStore) ReapArticleClaims(ctx context.Context, now time.Time, lease time.Duration) (int, error) {
	return s.reapClaims(ctx, "articles", `status = 'pending'`, now, lease)
}

// claimRow stamps the oldest claimable row in a claim-lease table and
// returns its id. Expired claims are claimable; RETURNING makes the
// check-and-stamp a single statement.
func (s *SQLiteStore) claimRow(ctx context.Context, table, pendingCond string, workerID string, now time.Time, lease time.Duration) (string, bool, error) {
	stale := now.Add(-lease).UTC()
	var id string
	err := s.db.QueryRowContext(ctx,
		`UPDATE `+table+` SET claimed_by = ?, claimed_at = ?
		 WHERE id = (
		   SELECT id FROM `+table+`
		   WHERE `+pendingCond+` AND (claimed_at IS NULL OR claimed_at <= ?)
		   ORDER BY `+claimOrder(table)+` LIMIT 1
		 )
		 RETURNING id`,
		workerID, now.UTC(), stale,
	).Scan(&id)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, eris.Wrapf(err, "sqlite: claim from %s", table)
	}
	return id, true, nil
}

func (s *SQLiteStore) reapClaims(ctx context.Context, table, pendingCond string, now time.Time, lease time.Duration) (int, error) {
	stale := now.Add(-lease).UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE `+table+` SET claimed_by = '', claimed_at = NULL
		 WHERE `+pendingCond+` AND claimed_at IS NOT NULL AND claimed_at <= ?`,
		stale,
	)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: reap %s claims", table)
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "sqlite: rows affected")
}

func claimOrder(table string) string {
	if table == "articles" {
		return "first_seen_at"
	}
	return "created_at"
}

// Subscriptions

func (s *SQLiteStore) UpsertSubscription(ctx context.Context, sub model.Subscription) (*model.Subscription, error) {
	sub.ID = uuid.New().String()
	sub.CreatedAt = time.Now().UTC()
	if sub.LastProcessedAt.IsZero() {
		sub.LastProcessedAt = sub.CreatedAt
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO subscriptions (id, source_id, target_id, last_processed_at, created_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(source_id, target_id) DO NOTHING`,
		sub.ID, sub.SourceID, sub.TargetID, sub.LastProcessedAt, sub.CreatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: upsert subscription")
	}
	return s.GetSubscription(ctx, sub.SourceID, sub.TargetID)
}

func (s *SQLiteStore) GetSubscription(ctx context.Context, sourceID, targetID string) (*model.Subscription, error) {
	var sub model.Subscription
	err := s.db.QueryRowContext(ctx,
		`SELECT id, source_id, target_id, last_processed_at, created_at
		 FROM subscriptions WHERE source_id = ? AND target_id = ?`,
		sourceID, targetID,
	).Scan(&sub.ID, &sub.SourceID, &sub.TargetID, &sub.LastProcessedAt, &sub.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, eris.Errorf("subscription not found: %s/%s", sourceID, targetID)
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get subscription")
	}
	return &sub, nil
}

func (s *SQLiteStore) AdvanceWatermark(ctx context.Context, subscriptionID string, to time.Time) error {
	// Watermarks only move forward; a stale consumer retrying an old batch
	// must not rewind delivery.
	res, err := s.db.ExecContext(ctx,
		`UPDATE subscriptions SET last_processed_at = ?
		 WHERE id = ? AND last_processed_at < ?`,
		to.UTC(), subscriptionID, to.UTC(),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: advance watermark %s", subscriptionID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return nil // already at or past the watermark
	}
	return nil
}

func (s *SQLiteStore) ArticlesSince(ctx context.Context, sourceID string, after time.Time, limit int) ([]model.Article, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+articleCols+` FROM articles
		 WHERE source_id = ? AND first_seen_at > ?
		 ORDER BY first_seen_at ASC LIMIT ?`,
		sourceID, after.UTC(), limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: articles since")
	}
	return collectArticles(rows)
}

// Predictors

func (s *SQLiteStore) CreatePredictor(ctx context.Context, p model.Predictor) (*model.Predictor, error) {
	article, err := s.GetArticle(ctx, p.ArticleID)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: predictor article %s", p.ArticleID)
	}
	target, err := s.GetTarget(ctx, p.TargetID)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: predictor target %s", p.TargetID)
	}
	if err := isolation.CheckPredictorWrite(*article, *target, p); err != nil {
		return nil, err
	}

	p.ID = uuid.New().String()
	p.CreatedAt = time.Now().UTC()
	if p.Status == "" {
		p.Status = model.PredictorActive
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO predictors (id, tenant_id, article_id, analyst_id, target_id, direction, strength,
		   confidence, reasoning, is_test, status, expires_at, consumed_by, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.TenantID, p.ArticleID, p.AnalystID, p.TargetID, string(p.Direction), p.Strength,
		p.Confidence, p.Reasoning, p.IsTest, string(p.Status), p.ExpiresAt, p.ConsumedBy, p.CreatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert predictor")
	}
	return &p, nil
}

const predictorCols = `id, tenant_id, article_id, analyst_id, target_id, direction, strength,
	confidence, reasoning, is_test, status, expires_at, consumed_by, created_at`

func (s *SQLiteStore) ActivePredictors(ctx context.Context, targetID, analystID string) ([]model.Predictor, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+predictorCols+` FROM predictors
		 WHERE target_id = ? AND analyst_id = ? AND status = 'active'
		 ORDER BY created_at`,
		targetID, analystID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: active predictors")
	}
	defer rows.Close()

	var predictors []model.Predictor
	for rows.Next() {
		var p model.Predictor
		if err := rows.Scan(&p.ID, &p.TenantID, &p.ArticleID, &p.AnalystID, &p.TargetID, &p.Direction,
			&p.Strength, &p.Confidence, &p.Reasoning, &p.IsTest, &p.Status, &p.ExpiresAt, &p.ConsumedBy, &p.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan predictor")
		}
		predictors = append(predictors, p)
	}
	return predictors, eris.Wrap(rows.Err(), "sqlite: active predictors iterate")
}

func (s *SQLiteStore) ConsumePredictors(ctx context.Context, predictionID string, predictorIDs []string) error {
	if len(predictorIDs) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(predictorIDs)), ",")
	args := []any{predictionID}
	for _, id := range predictorIDs {
		args = append(args, id)
	}
	// Idempotent: already-consumed rows are untouched.
	_, err := s.db.ExecContext(ctx,
		`UPDATE predictors SET status = 'consumed', consumed_by = ?
		 WHERE id IN (`+placeholders+`) AND status = 'active'`,
		args...,
	)
	return eris.Wrapf(err, "sqlite: consume predictors for %s", predictionID)
}

func (s *SQLiteStore) ExpirePredictors(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE predictors SET status = 'expired' WHERE status = 'active' AND expires_at <= ?`,
		now.UTC(),
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: expire predictors")
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "sqlite: rows affected")
}

// Predictions

const predictionCols = `id, tenant_id, target_id, analyst_id, direction, combined_strength,
	consensus, predictor_count, is_test, status, ended_reason, created_at, ended_at`

func (s *SQLiteStore) CreatePredictionSuperseding(ctx context.Context, p model.Prediction, reason string) (*model.Prediction, error) {
	target, err := s.GetTarget(ctx, p.TargetID)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: prediction target %s", p.TargetID)
	}
	if err := isolation.CheckPredictionWrite(*target, p); err != nil {
		return nil, err
	}

	p.ID = uuid.New().String()
	p.CreatedAt = time.Now().UTC()
	p.Status = model.PredictionActive

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`UPDATE predictions SET status = 'superseded', ended_reason = ?, ended_at = ?
		 WHERE target_id = ? AND analyst_id = ? AND status = 'active'`,
		reason, p.CreatedAt, p.TargetID, p.AnalystID,
	); err != nil {
		return nil, eris.Wrap(err, "sqlite: supersede prediction")
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO predictions (id, tenant_id, target_id, analyst_id, direction, combined_strength,
		   consensus, predictor_count, is_test, status, ended_reason, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, '', ?)`,
		p.ID, p.TenantID, p.TargetID, p.AnalystID, string(p.Direction), p.CombinedStrength,
		p.Consensus, p.PredictorCount, p.IsTest, string(p.Status), p.CreatedAt,
	); err != nil {
		return nil, eris.Wrap(err, "sqlite: insert prediction")
	}

	if err := tx.Commit(); err != nil {
		return nil, eris.Wrap(err, "sqlite: commit prediction")
	}
	return &p, nil
}

func (s *SQLiteStore) GetPrediction(ctx context.Context, id string) (*model.Prediction, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+predictionCols+` FROM predictions WHERE id = ?`, id)
	return scanPrediction(row)
}

func (s *SQLiteStore) ListPredictions(ctx context.Context, filter PredictionFilter) ([]model.Prediction, error) {
	query := `SELECT ` + predictionCols + ` FROM predictions WHERE 1=1`
	var args []any
	if filter.TenantID != "" {
		query += ` AND tenant_id = ?`
		args = append(args, filter.TenantID)
	}
	if filter.TargetID != "" {
		query += ` AND target_id = ?`
		args = append(args, filter.TargetID)
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.IsTest != nil {
		query += ` AND is_test = ?`
		args = append(args, *filter.IsTest)
	}
	query += ` ORDER BY created_at DESC`
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list predictions")
	}
	defer rows.Close()

	var predictions []model.Prediction
	for rows.Next() {
		p, err := scanPrediction(rows)
		if err != nil {
			return nil, err
		}
		predictions = append(predictions, *p)
	}
	return predictions, eris.Wrap(rows.Err(), "sqlite: list predictions iterate")
}

func (s *SQLiteStore) ResolvePrediction(ctx context.Context, predictionID string, status model.PredictionStatus, reason string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE predictions SET status = ?, ended_reason = ?, ended_at = ?
		 WHERE id = ? AND status = 'active'`,
		string(status), reason, time.Now().UTC(), predictionID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: resolve prediction %s", predictionID)
	}
	return checkRowsAffected(res, "active prediction", predictionID)
}

func (s *SQLiteStore) ExpirePredictions(ctx context.Context, now time.Time) (int, error) {
	// A prediction expires when every predictor it consumed is past TTL.
	res, err := s.db.ExecContext(ctx,
		`UPDATE predictions SET status = 'expired', ended_reason = 'evidence expired', ended_at = ?
		 WHERE status = 'active'
		   AND EXISTS (SELECT 1 FROM predictors pr WHERE pr.consumed_by = predictions.id)
		   AND NOT EXISTS (
		     SELECT 1 FROM predictors pr
		     WHERE pr.consumed_by = predictions.id AND pr.expires_at > ?
		   )`,
		now.UTC(), now.UTC(),
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: expire predictions")
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "sqlite: rows affected")
}

// scan helpers

func scanArticle(row scannable) (*model.Article, error) {
	var a model.Article
	var phrasesJSON string
	var published, claimed sql.NullTime

	err := row.Scan(&a.ID, &a.TenantID, &a.SourceID, &a.Title, &a.NormalizedTitle, &a.Body, &a.URL,
		&a.ContentHash, &a.TitleSignature, &phrasesJSON, &a.IsTest, &a.IsSynthetic, &a.SyntheticMarker,
		&a.Status, &published, &a.FirstSeenAt, &a.ClaimedBy, &claimed)
	if err == sql.ErrNoRows {
		return nil, eris.New("article not found")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan article")
	}
	if err := json.Unmarshal([]byte(phrasesJSON), &a.SalientPhrases); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal phrases")
	}
	if published.Valid {
		t := published.Time
		a.PublishedAt = &t
	}
	if claimed.Valid {
		t := claimed.Time
		a.ClaimedAt = &t
	}
	return &a, nil
}

func collectArticles(rows *sql.Rows) ([]model.Article, error) {
	defer rows.Close()
	var articles []model.Article
	for rows.Next() {
		a, err := scanArticle(rows)
		if err != nil {
			return nil, err
		}
		articles = append(articles, *a)
	}
	return articles, eris.Wrap(rows.Err(), "sqlite: iterate articles")
}

func scanPrediction(row scannable) (*model.Prediction, error) {
	var p model.Prediction
	var ended sql.NullTime

	err := row.Scan(&p.ID, &p.TenantID, &p.TargetID, &p.AnalystID, &p.Direction, &p.CombinedStrength,
		&p.Consensus, &p.PredictorCount, &p.IsTest, &p.Status, &p.EndedReason, &p.CreatedAt, &ended)
	if err == sql.ErrNoRows {
		return nil, eris.New("prediction not found")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan prediction")
	}
	if ended.Valid {
		t := ended.Time
		p.EndedAt = &t
	}
	return &p, nil
}
