package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/foresight/internal/db"
	"github.com/sells-group/foresight/internal/isolation"
	"github.com/sells-group/foresight/internal/model"
)

// Articles

func (s *PostgresStore) CreateArticle(ctx context.Context, a model.Article) (*model.Article, error) {
	src, err := s.GetSource(ctx, a.SourceID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: article source %s", a.SourceID)
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
		return nil, eris.Wrap(err, "postgres: marshal phrases")
	}

	tag, err := s.pool.Exec(ctx,
		`INSERT INTO articles (id, tenant_id, source_id, title, normalized_title, body, url, content_hash,
		   title_signature, salient_phrases, is_test, is_synthetic, synthetic_marker, status, published_at, first_seen_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		 ON CONFLICT (tenant_id, content_hash) DO NOTHING`,
		a.ID, a.TenantID, a.SourceID, a.Title, a.NormalizedTitle, a.Body, a.URL, a.ContentHash,
		a.TitleSignature, phrasesJSON, a.IsTest, a.IsSynthetic, a.SyntheticMarker,
		string(a.Status), a.PublishedAt, a.FirstSeenAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert article")
	}
	if tag.RowsAffected() == 0 {
		row := s.pool.QueryRow(ctx,
			`SELECT `+articleCols+` FROM articles WHERE tenant_id = $1 AND content_hash = $2`,
			a.TenantID, a.ContentHash)
		return scanArticlePg(row)
	}
	return &a, nil
}

// BulkCreateArticles loads a batch in one COPY + upsert round trip.
// Isolation checks run per unique source before the load; the ON CONFLICT
// key keeps replays idempotent.
func (s *PostgresStore) BulkCreateArticles(ctx context.Context, articles []model.Article) (int, error) {
	if len(articles) == 0 {
		return 0, nil
	}

	sources := make(map[string]*model.Source)
	rows := make([][]any, 0, len(articles))
	now := time.Now().UTC()
	for _, a := range articles {
		src, ok := sources[a.SourceID]
		if !ok {
			var err error
			src, err = s.GetSource(ctx, a.SourceID)
			if err != nil {
				return 0, eris.Wrapf(err, "postgres: bulk article source %s", a.SourceID)
			}
			sources[a.SourceID] = src
		}
		if err := isolation.CheckArticleWrite(*src, a); err != nil {
			return 0, err
		}

		if a.FirstSeenAt.IsZero() {
			a.FirstSeenAt = now
		}
		if a.Status == "" {
			a.Status = model.ArticleStatusPending
		}
		phrasesJSON, err := json.Marshal(a.SalientPhrases)
		if err != nil {
			return 0, eris.Wrap(err, "postgres: marshal phrases")
		}
		rows = append(rows, []any{
			uuid.New().String(), a.TenantID, a.SourceID, a.Title, a.NormalizedTitle, a.Body, a.URL,
			a.ContentHash, a.TitleSignature, phrasesJSON, a.IsTest, a.IsSynthetic, a.SyntheticMarker,
			string(a.Status), a.PublishedAt, a.FirstSeenAt,
		})
	}

	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table: "articles",
		Columns: []string{
			"id", "tenant_id", "source_id", "title", "normalized_title", "body", "url",
			"content_hash", "title_signature", "salient_phrases", "is_test", "is_synthetic",
			"synthetic_marker", "status", "published_at", "first_seen_at",
		},
		ConflictKeys: []string{"tenant_id", "content_hash"},
	}, rows)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: bulk create articles")
	}
	return int(n), nil
}

func (s *PostgresStore) GetArticle(ctx context.Context, id string) (*model.Article, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+articleCols+` FROM articles WHERE id = $1`, id)
	return scanArticlePg(row)
}

func (s *PostgresStore) MarkArticleStatus(ctx context.Context, id string, status model.ArticleStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE articles SET status = $1, claimed_by = '', claimed_at = NULL WHERE id = $2`,
		string(status), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: mark article %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("article not found: %s", id)
	}
	return nil
}

func (s *PostgresStore) ContentHashExists(ctx context.Context, tenantID, sourceID, hash string) (bool, error) {
	var one int
	err := s.pool.QueryRow(ctx,
		`SELECT 1 FROM articles WHERE tenant_id = $1 AND source_id = $2 AND content_hash = $3 LIMIT 1`,
		tenantID, sourceID, hash,
	).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	return err == nil, eris.Wrap(err, "postgres: content hash exists")
}

func (s *PostgresStore) ContentHashExistsInTenant(ctx context.Context, tenantID, hash string) (bool, error) {
	var one int
	err := s.pool.QueryRow(ctx,
		`SELECT 1 FROM articles WHERE tenant_id = $1 AND content_hash = $2 LIMIT 1`,
		tenantID, hash,
	).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	return err == nil, eris.Wrap(err, "postgres: content hash exists in tenant")
}

func (s *PostgresStore) RecentArticles(ctx context.Context, tenantID string, since time.Time, limit int) ([]model.Article, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+articleCols+` FROM articles
		 WHERE tenant_id = $1 AND first_seen_at >= $2
		 ORDER BY first_seen_at DESC LIMIT $3`,
		tenantID, since.UTC(), limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: recent articles")
	}
	return collectArticlesPg(rows)
}

// Evaluation queue

func (s *PostgresStore) ClaimArticle(ctx context.Context, workerID string, now time.Time, lease time.Duration) (string, bool, error) {
	return s.claimRow(ctx, "articles", "first_seen_at", workerID, now, lease)
}

func (s *PostgresStore) ReapArticleClaims(ctx context.Context, now time.Time, lease time.Duration) (int, error) {
	return s.reapClaims(ctx, "articles", now, lease)
}

// RetryArticle records one failed evaluation attempt. The claim stamp is
// left in place so the lease window throttles the next attempt.
func (s *PostgresStore) RetryArticle(ctx context.Context, id string) (int, error) {
	var attempts int
	err := s.pool.QueryRow(ctx,
		`UPDATE articles SET attempts = attempts + 1 WHERE id = $1 RETURNING attempts`, id,
	).Scan(&attempts)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: retry article %s", id)
	}
	return attempts, nil
}

// claimRow stamps the oldest claimable pending row. SKIP LOCKED keeps
// concurrent workers from serializing on the same head-of-queue row.
func (s *PostgresStore) claimRow(ctx context.Context, table, orderCol, workerID string, now time.Time, lease time.Duration) (string, bool, error) {
	stale := now.Add(-lease).UTC()
	var id string
	err := s.pool.QueryRow(ctx,
		`UPDATE `+table+` SET claimed_by = $1, claimed_at = $2
		 WHERE id = (
		   SELECT id FROM `+table+`
		   WHERE status = 'pending' AND (claimed_at IS NULL OR claimed_at <= $3)
		   ORDER BY `+orderCol+` LIMIT 1
		   FOR UPDATE SKIP LOCKED
		 )
		 RETURNING id`,
		workerID, now.UTC(), stale,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, eris.Wrapf(err, "postgres: claim from %s", table)
	}
	return id, true, nil
}

func (s *PostgresStore) reapClaims(ctx context.Context, table string, now time.Time, lease time.Duration) (int, error) {
	stale := now.Add(-lease).UTC()
	tag, err := s.pool.Exec(ctx,
		`UPDATE `+table+` SET claimed_by = '', claimed_at = NULL
		 WHERE status = 'pending' AND claimed_at IS NOT NULL AND claimed_at <= $1`,
		stale,
	)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: reap %s claims", table)
	}
	return int(tag.RowsAffected()), nil
}

// Subscriptions

func (s *PostgresStore) UpsertSubscription(ctx context.Context, sub model.Subscription) (*model.Subscription, error) {
	sub.ID = uuid.New().String()
	sub.CreatedAt = time.Now().UTC()
	if sub.LastProcessedAt.IsZero() {
		sub.LastProcessedAt = sub.CreatedAt
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO subscriptions (id, source_id, target_id, last_processed_at, created_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (source_id, target_id) DO NOTHING`,
		sub.ID, sub.SourceID, sub.TargetID, sub.LastProcessedAt, sub.CreatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: upsert subscription")
	}
	return s.GetSubscription(ctx, sub.SourceID, sub.TargetID)
}

func (s *PostgresStore) GetSubscription(ctx context.Context, sourceID, targetID string) (*model.Subscription, error) {
	var sub model.Subscription
	err := s.pool.QueryRow(ctx,
		`SELECT id, source_id, target_id, last_processed_at, created_at
		 FROM subscriptions WHERE source_id = $1 AND target_id = $2`,
		sourceID, targetID,
	).Scan(&sub.ID, &sub.SourceID, &sub.TargetID, &sub.LastProcessedAt, &sub.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.Errorf("subscription not found: %s/%s", sourceID, targetID)
		}
		return nil, eris.Wrap(err, "postgres: get subscription")
	}
	return &sub, nil
}

func (s *PostgresStore) AdvanceWatermark(ctx context.Context, subscriptionID string, to time.Time) error {
	// Forward-only; stale consumers must not rewind delivery.
	_, err := s.pool.Exec(ctx,
		`UPDATE subscriptions SET last_processed_at = $1
		 WHERE id = $2 AND last_processed_at < $1`,
		to.UTC(), subscriptionID,
	)
	return eris.Wrapf(err, "postgres: advance watermark %s", subscriptionID)
}

func (s *PostgresStore) ArticlesSince(ctx context.Context, sourceID string, after time.Time, limit int) ([]model.Article, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+articleCols+` FROM articles
		 WHERE source_id = $1 AND first_seen_at > $2
		 ORDER BY first_seen_at ASC LIMIT $3`,
		sourceID, after.UTC(), limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: articles since")
	}
	return collectArticlesPg(rows)
}

// Predictors

func (s *PostgresStore) CreatePredictor(ctx context.Context, p model.Predictor) (*model.Predictor, error) {
	article, err := s.GetArticle(ctx, p.ArticleID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: predictor article %s", p.ArticleID)
	}
	target, err := s.GetTarget(ctx, p.TargetID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: predictor target %s", p.TargetID)
	}
	if err := isolation.CheckPredictorWrite(*article, *target, p); err != nil {
		return nil, err
	}

	p.ID = uuid.New().String()
	p.CreatedAt = time.Now().UTC()
	if p.Status == "" {
		p.Status = model.PredictorActive
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO predictors (id, tenant_id, article_id, analyst_id, target_id, direction, strength,
		   confidence, reasoning, is_test, status, expires_at, consumed_by, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		p.ID, p.TenantID, p.ArticleID, p.AnalystID, p.TargetID, string(p.Direction), p.Strength,
		p.Confidence, p.Reasoning, p.IsTest, string(p.Status), p.ExpiresAt, p.ConsumedBy, p.CreatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert predictor")
	}
	return &p, nil
}

func (s *PostgresStore) ActivePredictors(ctx context.Context, targetID, analystID string) ([]model.Predictor, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+predictorCols+` FROM predictors
		 WHERE target_id = $1 AND analyst_id = $2 AND status = 'active'
		 ORDER BY created_at`,
		targetID, analystID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: active predictors")
	}
	defer rows.Close()

	var predictors []model.Predictor
	for rows.Next() {
		var p model.Predictor
		if err := rows.Scan(&p.ID, &p.TenantID, &p.ArticleID, &p.AnalystID, &p.TargetID, &p.Direction,
			&p.Strength, &p.Confidence, &p.Reasoning, &p.IsTest, &p.Status, &p.ExpiresAt, &p.ConsumedBy, &p.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan predictor")
		}
		predictors = append(predictors, p)
	}
	return predictors, eris.Wrap(rows.Err(), "postgres: active predictors iterate")
}

func (s *PostgresStore) ConsumePredictors(ctx context.Context, predictionID string, predictorIDs []string) error {
	if len(predictorIDs) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx,
		`UPDATE predictors SET status = 'consumed', consumed_by = $1
		 WHERE id = ANY($2) AND status = 'active'`,
		predictionID, predictorIDs,
	)
	return eris.Wrapf(err, "postgres: consume predictors for %s", predictionID)
}

func (s *PostgresStore) ExpirePredictors(ctx context.Context, now time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE predictors SET status = 'expired' WHERE status = 'active' AND expires_at <= $1`,
		now.UTC(),
	)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: expire predictors")
	}
	return int(tag.RowsAffected()), nil
}

// Predictions

func (s *PostgresStore) CreatePredictionSuperseding(ctx context.Context, p model.Prediction, reason string) (*model.Prediction, error) {
	target, err := s.GetTarget(ctx, p.TargetID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: prediction target %s", p.TargetID)
	}
	if err := isolation.CheckPredictionWrite(*target, p); err != nil {
		return nil, err
	}

	p.ID = uuid.New().String()
	p.CreatedAt = time.Now().UTC()
	p.Status = model.PredictionActive

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: begin tx")
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`UPDATE predictions SET status = 'superseded', ended_reason = $1, ended_at = $2
		 WHERE target_id = $3 AND analyst_id = $4 AND status = 'active'`,
		reason, p.CreatedAt, p.TargetID, p.AnalystID,
	); err != nil {
		return nil, eris.Wrap(err, "postgres: supersede prediction")
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO predictions (id, tenant_id, target_id, analyst_id, direction, combined_strength,
		   consensus, predictor_count, is_test, status, ended_reason, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, '', $11)`,
		p.ID, p.TenantID, p.TargetID, p.AnalystID, string(p.Direction), p.CombinedStrength,
		p.Consensus, p.PredictorCount, p.IsTest, string(p.Status), p.CreatedAt,
	); err != nil {
		return nil, eris.Wrap(err, "postgres: insert prediction")
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, eris.Wrap(err, "postgres: commit prediction")
	}
	return &p, nil
}

func (s *PostgresStore) GetPrediction(ctx context.Context, id string) (*model.Prediction, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+predictionCols+` FROM predictions WHERE id = $1`, id)
	return scanPredictionPg(row)
}

func (s *PostgresStore) ListPredictions(ctx context.Context, filter PredictionFilter) ([]model.Prediction, error) {
	query := `SELECT ` + predictionCols + ` FROM predictions WHERE true`
	args := []any{}
	argIdx := 1

	if filter.TenantID != "" {
		query += argClause(` AND tenant_id = $%d`, &argIdx)
		args = append(args, filter.TenantID)
	}
	if filter.TargetID != "" {
		query += argClause(` AND target_id = $%d`, &argIdx)
		args = append(args, filter.TargetID)
	}
	if filter.Status != "" {
		query += argClause(` AND status = $%d`, &argIdx)
		args = append(args, string(filter.Status))
	}
	if filter.IsTest != nil {
		query += argClause(` AND is_test = $%d`, &argIdx)
		args = append(args, *filter.IsTest)
	}
	query += ` ORDER BY created_at DESC`
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += argClause(` LIMIT $%d`, &argIdx)
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list predictions")
	}
	defer rows.Close()

	var predictions []model.Prediction
	for rows.Next() {
		p, err := scanPredictionPg(rows)
		if err != nil {
			return nil, err
		}
		predictions = append(predictions, *p)
	}
	return predictions, eris.Wrap(rows.Err(), "postgres: list predictions iterate")
}

func (s *PostgresStore) ResolvePrediction(ctx context.Context, predictionID string, status model.PredictionStatus, reason string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE predictions SET status = $1, ended_reason = $2, ended_at = $3
		 WHERE id = $4 AND status = 'active'`,
		string(status), reason, time.Now().UTC(), predictionID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: resolve prediction %s", predictionID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("active prediction not found: %s", predictionID)
	}
	return nil
}

func (s *PostgresStore) ExpirePredictions(ctx context.Context, now time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE predictions SET status = 'expired', ended_reason = 'evidence expired', ended_at = $1
		 WHERE status = 'active'
		   AND EXISTS (SELECT 1 FROM predictors pr WHERE pr.consumed_by = predictions.id)
		   AND NOT EXISTS (
		     SELECT 1 FROM predictors pr
		     WHERE pr.consumed_by = predictions.id AND pr.expires_at > $1
		   )`,
		now.UTC(),
	)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: expire predictions")
	}
	return int(tag.RowsAffected()), nil
}

// scan helpers

func scanArticlePg(row pgx.Row) (*model.Article, error) {
	var a model.Article
	var phrasesJSON []byte
	var published, claimed *time.Time

	err := row.Scan(&a.ID, &a.TenantID, &a.SourceID, &a.Title, &a.NormalizedTitle, &a.Body, &a.URL,
		&a.ContentHash, &a.TitleSignature, &phrasesJSON, &a.IsTest, &a.IsSynthetic, &a.SyntheticMarker,
		&a.Status, &published, &a.FirstSeenAt, &a.ClaimedBy, &claimed)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.New("article not found")
		}
		return nil, eris.Wrap(err, "postgres: scan article")
	}
	if err := json.Unmarshal(phrasesJSON, &a.SalientPhrases); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal phrases")
	}
	a.PublishedAt = published
	a.ClaimedAt = claimed
	return &a, nil
}

func collectArticlesPg(rows pgx.Rows) ([]model.Article, error) {
	defer rows.Close()
	var articles []model.Article
	for rows.Next() {
		a, err := scanArticlePg(rows)
		if err != nil {
			return nil, err
		}
		articles = append(articles, *a)
	}
	return articles, eris.Wrap(rows.Err(), "postgres: iterate articles")
}

func scanPredictionPg(row pgx.Row) (*model.Prediction, error) {
	var p model.Prediction
	var ended *time.Time

	err := row.Scan(&p.ID, &p.TenantID, &p.TargetID, &p.AnalystID, &p.Direction, &p.CombinedStrength,
		&p.Consensus, &p.PredictorCount, &p.IsTest, &p.Status, &p.EndedReason, &p.CreatedAt, &ended)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.New("prediction not found")
		}
		return nil, eris.Wrap(err, "postgres: scan prediction")
	}
	p.EndedAt = ended
	return &p, nil
}
