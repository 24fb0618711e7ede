package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/foresight/internal/model"
)

// Evaluations

func (s *PostgresStore) CreateEvaluation(ctx context.Context, e model.Evaluation) (*model.Evaluation, error) {
	e.ID = uuid.New().String()
	if e.EvaluatedAt.IsZero() {
		e.EvaluatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO evaluations (id, prediction_id, actual_outcome, direction_correct, score, confidence, evaluated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.ID, e.PredictionID, string(e.ActualOutcome), e.DirectionCorrect, e.Score, e.Confidence, e.EvaluatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert evaluation")
	}
	return &e, nil
}

// Review queue

func (s *PostgresStore) EnqueueReview(ctx context.Context, entry model.ReviewQueueEntry) (*model.ReviewQueueEntry, error) {
	entry.ID = uuid.New().String()
	entry.CreatedAt = time.Now().UTC()
	if entry.Status == "" {
		entry.Status = model.ReviewPending
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO review_queue (id, evaluation_id, system_direction, system_confidence, status, create_learning, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		entry.ID, entry.EvaluationID, string(entry.SystemDirection), entry.SystemConfidence,
		string(entry.Status), entry.CreateLearning, entry.CreatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: enqueue review")
	}
	return &entry, nil
}

func (s *PostgresStore) GetReview(ctx context.Context, id string) (*model.ReviewQueueEntry, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+reviewCols+` FROM review_queue WHERE id = $1`, id)
	return scanReviewPg(row)
}

func (s *PostgresStore) ListPendingReviews(ctx context.Context, limit int) ([]model.ReviewQueueEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+reviewCols+` FROM review_queue WHERE status = 'pending' ORDER BY created_at LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list pending reviews")
	}
	defer rows.Close()

	var entries []model.ReviewQueueEntry
	for rows.Next() {
		e, err := scanReviewPg(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, eris.Wrap(rows.Err(), "postgres: list pending reviews iterate")
}

func (s *PostgresStore) DecideReview(ctx context.Context, id string, decision model.ReviewDecision) error {
	if err := decision.Validate(); err != nil {
		return err
	}
	var dir *string
	if decision.ResponseDirection != nil {
		v := string(*decision.ResponseDirection)
		dir = &v
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE review_queue
		 SET status = $1, response_direction = $2, response_strength = $3, create_learning = $4,
		     decided_by = $5, decided_at = $6, claimed_by = '', claimed_at = NULL
		 WHERE id = $7 AND status = 'pending'`,
		string(decision.Status), dir, decision.ResponseStrength, decision.CreateLearning,
		decision.DecidedBy, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: decide review %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("pending review not found: %s", id)
	}
	return nil
}

func (s *PostgresStore) ClaimReview(ctx context.Context, workerID string, now time.Time, lease time.Duration) (string, bool, error) {
	return s.claimRow(ctx, "review_queue", "created_at", workerID, now, lease)
}

func (s *PostgresStore) ReleaseReview(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE review_queue SET claimed_by = '', claimed_at = NULL WHERE id = $1`, id)
	return eris.Wrapf(err, "postgres: release review %s", id)
}

func (s *PostgresStore) ReapReviewClaims(ctx context.Context, now time.Time, lease time.Duration) (int, error) {
	return s.reapClaims(ctx, "review_queue", now, lease)
}

// Learnings

func (s *PostgresStore) CreateLearning(ctx context.Context, l model.Learning) (*model.Learning, error) {
	if err := l.Validate(); err != nil {
		return nil, err
	}
	l.ID = uuid.New().String()
	now := time.Now().UTC()
	l.CreatedAt = now
	l.UpdatedAt = now
	if l.Stage == "" {
		l.Stage = model.StageCreated
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO learnings (id, tenant_id, kind, scope, domain, universe_id, target_id, content,
		   stage, is_test, times_applied, times_helpful, backtest_score, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		l.ID, l.TenantID, string(l.Kind), string(l.Scope), string(l.Domain), l.UniverseID, l.TargetID,
		l.Content, string(l.Stage), l.IsTest, l.TimesApplied, l.TimesHelpful, l.BacktestScore, now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert learning")
	}
	return &l, nil
}

func (s *PostgresStore) GetLearning(ctx context.Context, id string) (*model.Learning, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+learningCols+` FROM learnings WHERE id = $1`, id)
	return scanLearningPg(row)
}

func (s *PostgresStore) UpdateLearning(ctx context.Context, l model.Learning) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE learnings SET stage = $1, times_applied = $2, times_helpful = $3, backtest_score = $4, updated_at = $5
		 WHERE id = $6`,
		string(l.Stage), l.TimesApplied, l.TimesHelpful, l.BacktestScore, time.Now().UTC(), l.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update learning %s", l.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("learning not found: %s", l.ID)
	}
	return nil
}

func (s *PostgresStore) ListLearnings(ctx context.Context, filter LearningFilter) ([]model.Learning, error) {
	query := `SELECT ` + learningCols + ` FROM learnings WHERE true`
	args := []any{}
	argIdx := 1

	if filter.TenantID != "" {
		query += argClause(` AND tenant_id = $%d`, &argIdx)
		args = append(args, filter.TenantID)
	}
	if filter.Stage != "" {
		query += argClause(` AND stage = $%d`, &argIdx)
		args = append(args, string(filter.Stage))
	}
	if filter.IsTest != nil {
		query += argClause(` AND is_test = $%d`, &argIdx)
		args = append(args, *filter.IsTest)
	}
	query += ` ORDER BY created_at`
	limit := filter.Limit
	if limit <= 0 {
		limit = 200
	}
	query += argClause(` LIMIT $%d`, &argIdx)
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list learnings")
	}
	defer rows.Close()

	var learnings []model.Learning
	for rows.Next() {
		l, err := scanLearningPg(rows)
		if err != nil {
			return nil, err
		}
		learnings = append(learnings, *l)
	}
	return learnings, eris.Wrap(rows.Err(), "postgres: list learnings iterate")
}

func (s *PostgresStore) RecordLineage(ctx context.Context, lin model.LearningLineage) error {
	lin.ID = uuid.New().String()
	if lin.PromotedAt.IsZero() {
		lin.PromotedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO learning_lineage (id, test_learning_id, prod_learning_id, backtest_score, promoted_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		lin.ID, lin.TestLearningID, lin.ProdLearningID, lin.BacktestScore, lin.PromotedAt,
	)
	return eris.Wrap(err, "postgres: record lineage")
}

// Monitoring

func (s *PostgresStore) Stats(ctx context.Context, tenantID string) (*Stats, error) {
	st := &Stats{
		LearningsByStage: make(map[string]int),
		CollectedAt:      time.Now().UTC(),
	}

	err := s.pool.QueryRow(ctx,
		`SELECT
		   (SELECT COUNT(*) FROM sources WHERE tenant_id = $1 AND active),
		   (SELECT COUNT(*) FROM sources WHERE tenant_id = $1 AND needs_attention),
		   (SELECT COUNT(*) FROM articles WHERE tenant_id = $1 AND status = 'pending'),
		   (SELECT COUNT(*) FROM review_queue WHERE status = 'pending'),
		   (SELECT COUNT(*) FROM predictors WHERE tenant_id = $1 AND status = 'active'),
		   (SELECT COUNT(*) FROM predictions WHERE tenant_id = $1 AND status = 'active')`,
		tenantID,
	).Scan(&st.SourcesActive, &st.SourcesAttention, &st.ArticlesPending,
		&st.ReviewsPending, &st.PredictorsActive, &st.PredictionsActive)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: stats counts")
	}

	rows, err := s.pool.Query(ctx,
		`SELECT stage, COUNT(*) FROM learnings WHERE tenant_id = $1 GROUP BY stage`, tenantID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: stats learnings")
	}
	defer rows.Close()
	for rows.Next() {
		var stage string
		var n int
		if err := rows.Scan(&stage, &n); err != nil {
			return nil, eris.Wrap(err, "postgres: scan stage count")
		}
		st.LearningsByStage[stage] = n
	}
	return st, eris.Wrap(rows.Err(), "postgres: stats iterate")
}

// scan helpers

func scanReviewPg(row pgx.Row) (*model.ReviewQueueEntry, error) {
	var e model.ReviewQueueEntry
	var dir *string
	var strength *int
	var decided, claimed *time.Time

	err := row.Scan(&e.ID, &e.EvaluationID, &e.SystemDirection, &e.SystemConfidence, &e.Status,
		&dir, &strength, &e.CreateLearning, &e.DecidedBy, &e.CreatedAt, &decided, &e.ClaimedBy, &claimed)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.New("review not found")
		}
		return nil, eris.Wrap(err, "postgres: scan review")
	}
	if dir != nil {
		o := model.Outcome(*dir)
		e.ResponseDirection = &o
	}
	e.ResponseStrength = strength
	e.DecidedAt = decided
	e.ClaimedAt = claimed
	return &e, nil
}

func scanLearningPg(row pgx.Row) (*model.Learning, error) {
	var l model.Learning

	err := row.Scan(&l.ID, &l.TenantID, &l.Kind, &l.Scope, &l.Domain, &l.UniverseID, &l.TargetID,
		&l.Content, &l.Stage, &l.IsTest, &l.TimesApplied, &l.TimesHelpful, &l.BacktestScore,
		&l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.New("learning not found")
		}
		return nil, eris.Wrap(err, "postgres: scan learning")
	}
	return &l, nil
}
