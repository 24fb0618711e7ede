package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/foresight/internal/model"
)

// Evaluations

func (s *SQLiteStore) CreateEvaluation(ctx context.Context, e model.Evaluation) (*model.Evaluation, error) {
	e.ID = uuid.New().String()
	if e.EvaluatedAt.IsZero() {
		e.EvaluatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO evaluations (id, prediction_id, actual_outcome, direction_correct, score, confidence, evaluated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.PredictionID, string(e.ActualOutcome), e.DirectionCorrect, e.Score, e.Confidence, e.EvaluatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert evaluation")
	}
	return &e, nil
}

// Review queue

const reviewCols = `id, evaluation_id, system_direction, system_confidence, status, response_direction,
	response_strength, create_learning, decided_by, created_at, decided_at, claimed_by, claimed_at`

func (s *SQLiteStore) EnqueueReview(ctx context.Context, entry model.ReviewQueueEntry) (*model.ReviewQueueEntry, error) {
	entry.ID = uuid.New().String()
	entry.CreatedAt = time.Now().UTC()
	if entry.Status == "" {
		entry.Status = model.ReviewPending
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO review_queue (id, evaluation_id, system_direction, system_confidence, status, create_learning, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.EvaluationID, string(entry.SystemDirection), entry.SystemConfidence,
		string(entry.Status), entry.CreateLearning, entry.CreatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: enqueue review")
	}
	return &entry, nil
}

func (s *SQLiteStore) GetReview(ctx context.Context, id string) (*model.ReviewQueueEntry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+reviewCols+` FROM review_queue WHERE id = ?`, id)
	return scanReview(row)
}

func (s *SQLiteStore) ListPendingReviews(ctx context.Context, limit int) ([]model.ReviewQueueEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+reviewCols+` FROM review_queue WHERE status = 'pending' ORDER BY created_at LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list pending reviews")
	}
	defer rows.Close()

	var entries []model.ReviewQueueEntry
	for rows.Next() {
		e, err := scanReview(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, eris.Wrap(rows.Err(), "sqlite: list pending reviews iterate")
}

func (s *SQLiteStore) DecideReview(ctx context.Context, id string, decision model.ReviewDecision) error {
	if err := decision.Validate(); err != nil {
		return err
	}
	var dir *string
	if decision.ResponseDirection != nil {
		v := string(*decision.ResponseDirection)
		dir = &v
	}
	// Guarded on pending so a double decision loses the race instead of
	// silently overwriting.
	res, err := s.db.ExecContext(ctx,
		`UPDATE review_queue
		 SET status = ?, response_direction = ?, response_strength = ?, create_learning = ?,
		     decided_by = ?, decided_at = ?, claimed_by = '', claimed_at = NULL
		 WHERE id = ? AND status = 'pending'`,
		string(decision.Status), dir, decision.ResponseStrength, decision.CreateLearning,
		decision.DecidedBy, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: decide review %s", id)
	}
	return checkRowsAffected(res, "pending review", id)
}

func (s *SQLiteStore) ClaimReview(ctx context.Context, workerID string, now time.Time, lease time.Duration) (string, bool, error) {
	return s.claimRow(ctx, "review_queue", `status = 'pending'`, workerID, now, lease)
}

func (s *SQLiteStore) ReleaseReview(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE review_queue SET claimed_by = '', claimed_at = NULL WHERE id = ?`, id)
	return eris.Wrapf(err, "sqlite: release review %s", id)
}

func (s *SQLiteStore) ReapReviewClaims(ctx context.Context, now time.Time, lease time.Duration) (int, error) {
	return s.reapClaims(ctx, "review_queue", `status = 'pending'`, now, lease)
}

// Learnings

const learningCols = `id, tenant_id, kind, scope, domain, universe_id, target_id, content, stage,
	is_test, times_applied, times_helpful, backtest_score, created_at, updated_at`

func (s *SQLiteStore) CreateLearning(ctx context.Context, l model.Learning) (*model.Learning, error) {
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
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO learnings (id, tenant_id, kind, scope, domain, universe_id, target_id, content,
		   stage, is_test, times_applied, times_helpful, backtest_score, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ID, l.TenantID, string(l.Kind), string(l.Scope), string(l.Domain), l.UniverseID, l.TargetID,
		l.Content, string(l.Stage), l.IsTest, l.TimesApplied, l.TimesHelpful, l.BacktestScore, now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert learning")
	}
	return &l, nil
}

func (s *SQLiteStore) GetLearning(ctx context.Context, id string) (*model.Learning, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+learningCols+` FROM learnings WHERE id = ?`, id)
	return scanLearning(row)
}

func (s *SQLiteStore) UpdateLearning(ctx context.Context, l model.Learning) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE learnings SET stage = ?, times_applied = ?, times_helpful = ?, backtest_score = ?, updated_at = ?
		 WHERE id = ?`,
		string(l.Stage), l.TimesApplied, l.TimesHelpful, l.BacktestScore, time.Now().UTC(), l.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update learning %s", l.ID)
	}
	return checkRowsAffected(res, "learning", l.ID)
}

func (s *SQLiteStore) ListLearnings(ctx context.Context, filter LearningFilter) ([]model.Learning, error) {
	query := `SELECT ` + learningCols + ` FROM learnings WHERE 1=1`
	var args []any
	if filter.TenantID != "" {
		query += ` AND tenant_id = ?`
		args = append(args, filter.TenantID)
	}
	if filter.Stage != "" {
		query += ` AND stage = ?`
		args = append(args, string(filter.Stage))
	}
	if filter.IsTest != nil {
		query += ` AND is_test = ?`
		args = append(args, *filter.IsTest)
	}
	query += ` ORDER BY created_at`
	limit := filter.Limit
	if limit <= 0 {
		limit = 200
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list learnings")
	}
	defer rows.Close()

	var learnings []model.Learning
	for rows.Next() {
		l, err := scanLearning(rows)
		if err != nil {
			return nil, err
		}
		learnings = append(learnings, *l)
	}
	return learnings, eris.Wrap(rows.Err(), "sqlite: list learnings iterate")
}

func (s *SQLiteStore) RecordLineage(ctx context.Context, lin model.LearningLineage) error {
	lin.ID = uuid.New().String()
	if lin.PromotedAt.IsZero() {
		lin.PromotedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO learning_lineage (id, test_learning_id, prod_learning_id, backtest_score, promoted_at)
		 VALUES (?, ?, ?, ?, ?)`,
		lin.ID, lin.TestLearningID, lin.ProdLearningID, lin.BacktestScore, lin.PromotedAt,
	)
	return eris.Wrap(err, "sqlite: record lineage")
}

// Monitoring

func (s *SQLiteStore) Stats(ctx context.Context, tenantID string) (*Stats, error) {
	st := &Stats{
		LearningsByStage: make(map[string]int),
		CollectedAt:      time.Now().UTC(),
	}

	counts := []struct {
		dest  *int
		query string
	}{
		{&st.SourcesActive, `SELECT COUNT(*) FROM sources WHERE tenant_id = ? AND active = 1`},
		{&st.SourcesAttention, `SELECT COUNT(*) FROM sources WHERE tenant_id = ? AND needs_attention = 1`},
		{&st.ArticlesPending, `SELECT COUNT(*) FROM articles WHERE tenant_id = ? AND status = 'pending'`},
		{&st.PredictorsActive, `SELECT COUNT(*) FROM predictors WHERE tenant_id = ? AND status = 'active'`},
		{&st.PredictionsActive, `SELECT COUNT(*) FROM predictions WHERE tenant_id = ? AND status = 'active'`},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, c.query, tenantID).Scan(c.dest); err != nil {
			return nil, eris.Wrap(err, "sqlite: stats count")
		}
	}

	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM review_queue WHERE status = 'pending'`,
	).Scan(&st.ReviewsPending); err != nil {
		return nil, eris.Wrap(err, "sqlite: stats reviews")
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT stage, COUNT(*) FROM learnings WHERE tenant_id = ? GROUP BY stage`, tenantID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: stats learnings")
	}
	defer rows.Close()
	for rows.Next() {
		var stage string
		var n int
		if err := rows.Scan(&stage, &n); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan stage count")
		}
		st.LearningsByStage[stage] = n
	}
	return st, eris.Wrap(rows.Err(), "sqlite: stats iterate")
}

// scan helpers

func scanReview(row scannable) (*model.ReviewQueueEntry, error) {
	var e model.ReviewQueueEntry
	var dir sql.NullString
	var strength sql.NullInt64
	var decided, claimed sql.NullTime

	err := row.Scan(&e.ID, &e.EvaluationID, &e.SystemDirection, &e.SystemConfidence, &e.Status,
		&dir, &strength, &e.CreateLearning, &e.DecidedBy, &e.CreatedAt, &decided, &e.ClaimedBy, &claimed)
	if err == sql.ErrNoRows {
		return nil, eris.New("review not found")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan review")
	}
	if dir.Valid {
		o := model.Outcome(dir.String)
		e.ResponseDirection = &o
	}
	if strength.Valid {
		v := int(strength.Int64)
		e.ResponseStrength = &v
	}
	if decided.Valid {
		t := decided.Time
		e.DecidedAt = &t
	}
	if claimed.Valid {
		t := claimed.Time
		e.ClaimedAt = &t
	}
	return &e, nil
}

func scanLearning(row scannable) (*model.Learning, error) {
	var l model.Learning
	var score sql.NullFloat64

	err := row.Scan(&l.ID, &l.TenantID, &l.Kind, &l.Scope, &l.Domain, &l.UniverseID, &l.TargetID,
		&l.Content, &l.Stage, &l.IsTest, &l.TimesApplied, &l.TimesHelpful, &score, &l.CreatedAt, &l.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, eris.New("learning not found")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan learning")
	}
	if score.Valid {
		l.BacktestScore = &score.Float64
	}
	return &l, nil
}
