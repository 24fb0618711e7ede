package learning

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/foresight/internal/isolation"
	"github.com/sells-group/foresight/internal/model"
)

type fakeStore struct {
	resolved    map[string]model.PredictionStatus
	evaluations []model.Evaluation
	reviews     map[string]*model.ReviewQueueEntry
	learnings   map[string]*model.Learning
	lineage     []model.LearningLineage
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		resolved:  make(map[string]model.PredictionStatus),
		reviews:   make(map[string]*model.ReviewQueueEntry),
		learnings: make(map[string]*model.Learning),
	}
}

func (f *fakeStore) ResolvePrediction(_ context.Context, id string, status model.PredictionStatus, _ string) error {
	f.resolved[id] = status
	return nil
}

func (f *fakeStore) CreateEvaluation(_ context.Context, e model.Evaluation) (*model.Evaluation, error) {
	e.ID = uuid.New().String()
	f.evaluations = append(f.evaluations, e)
	return &e, nil
}

func (f *fakeStore) EnqueueReview(_ context.Context, entry model.ReviewQueueEntry) (*model.ReviewQueueEntry, error) {
	entry.ID = uuid.New().String()
	entry.CreatedAt = time.Now().UTC()
	f.reviews[entry.ID] = &entry
	return &entry, nil
}

func (f *fakeStore) GetReview(_ context.Context, id string) (*model.ReviewQueueEntry, error) {
	r, ok := f.reviews[id]
	if !ok {
		return nil, eris.Errorf("review not found: %s", id)
	}
	out := *r
	return &out, nil
}

func (f *fakeStore) DecideReview(_ context.Context, id string, d model.ReviewDecision) error {
	r := f.reviews[id]
	now := time.Now().UTC()
	r.Status = d.Status
	r.ResponseDirection = d.ResponseDirection
	r.ResponseStrength = d.ResponseStrength
	r.CreateLearning = d.CreateLearning
	r.DecidedAt = &now
	return nil
}

func (f *fakeStore) CreateLearning(_ context.Context, l model.Learning) (*model.Learning, error) {
	l.ID = uuid.New().String()
	l.CreatedAt = time.Now().UTC()
	f.learnings[l.ID] = &l
	return &l, nil
}

func (f *fakeStore) GetLearning(_ context.Context, id string) (*model.Learning, error) {
	l, ok := f.learnings[id]
	if !ok {
		return nil, eris.Errorf("learning not found: %s", id)
	}
	out := *l
	return &out, nil
}

func (f *fakeStore) UpdateLearning(_ context.Context, l model.Learning) error {
	f.learnings[l.ID] = &l
	return nil
}

func (f *fakeStore) RecordLineage(_ context.Context, lin model.LearningLineage) error {
	f.lineage = append(f.lineage, lin)
	return nil
}

func activePrediction(consensus float64) model.Prediction {
	return model.Prediction{
		ID: "pred1", TenantID: "t1", TargetID: "tg1", AnalystID: "an1",
		Direction: model.OutcomeUp, Consensus: consensus,
		Status: model.PredictionActive,
	}
}

func TestScore_CorrectAndIncorrect(t *testing.T) {
	correct := Score(activePrediction(0.9), model.OutcomeUp)
	assert.True(t, correct.DirectionCorrect)
	assert.InDelta(t, 0.95, correct.Score, 0.001)

	wrong := Score(activePrediction(0.9), model.OutcomeDown)
	assert.False(t, wrong.DirectionCorrect)
	assert.InDelta(t, 0.05, wrong.Score, 0.001)
}

func TestResolve_HighConfidenceSkipsReview(t *testing.T) {
	fs := newFakeStore()
	loop := New(fs)

	eval, err := loop.Resolve(context.Background(), activePrediction(0.9), model.OutcomeUp)
	require.NoError(t, err)
	assert.True(t, eval.DirectionCorrect)
	assert.Equal(t, model.PredictionResolved, fs.resolved["pred1"])
	assert.Empty(t, fs.reviews)
}

func TestResolve_ModerateConfidenceRoutesToReview(t *testing.T) {
	fs := newFakeStore()
	loop := New(fs)

	_, err := loop.Resolve(context.Background(), activePrediction(0.55), model.OutcomeDown)
	require.NoError(t, err)
	require.Len(t, fs.reviews, 1)
	for _, r := range fs.reviews {
		assert.Equal(t, model.ReviewPending, r.Status)
		assert.Equal(t, model.OutcomeUp, r.SystemDirection)
		assert.InDelta(t, 0.55, r.SystemConfidence, 0.001)
	}
}

func TestResolve_BandEdges(t *testing.T) {
	assert.True(t, NeedsReview(model.Evaluation{Confidence: 0.40}))
	assert.True(t, NeedsReview(model.Evaluation{Confidence: 0.70}))
	assert.False(t, NeedsReview(model.Evaluation{Confidence: 0.39}))
	assert.False(t, NeedsReview(model.Evaluation{Confidence: 0.71}))
}

func TestResolve_NonActiveRejected(t *testing.T) {
	fs := newFakeStore()
	loop := New(fs)
	p := activePrediction(0.9)
	p.Status = model.PredictionResolved

	_, err := loop.Resolve(context.Background(), p, model.OutcomeUp)
	assert.Error(t, err)
}

func enqueuePending(t *testing.T, fs *fakeStore) string {
	t.Helper()
	entry, err := fs.EnqueueReview(context.Background(), model.ReviewQueueEntry{
		EvaluationID: "e1", SystemDirection: model.OutcomeUp,
		SystemConfidence: 0.5, Status: model.ReviewPending,
	})
	require.NoError(t, err)
	return entry.ID
}

func TestDecide_ApprovedSpawnsLearning(t *testing.T) {
	fs := newFakeStore()
	loop := New(fs)
	id := enqueuePending(t, fs)

	spawn := model.Learning{
		TenantID: "t1", Kind: model.LearningPattern, Scope: model.ScopeGlobal,
		Content: "earnings beats in this sector resolve upward",
	}
	created, err := loop.Decide(context.Background(), id, model.ReviewDecision{
		Status: model.ReviewApproved, CreateLearning: true,
	}, spawn)
	require.NoError(t, err)
	require.NotNil(t, created)
	assert.True(t, created.IsTest) // sandbox first, always
	assert.Equal(t, model.StageCreated, created.Stage)
}

func TestDecide_RejectedNeverSpawns(t *testing.T) {
	fs := newFakeStore()
	loop := New(fs)
	id := enqueuePending(t, fs)

	created, err := loop.Decide(context.Background(), id, model.ReviewDecision{
		Status: model.ReviewRejected, CreateLearning: true,
	}, model.Learning{Kind: model.LearningRule, Content: "x"})
	require.NoError(t, err)
	assert.Nil(t, created)
	assert.Empty(t, fs.learnings)
}

func TestDecide_ModifiedRequiresDirection(t *testing.T) {
	fs := newFakeStore()
	loop := New(fs)
	id := enqueuePending(t, fs)

	_, err := loop.Decide(context.Background(), id, model.ReviewDecision{Status: model.ReviewModified}, model.Learning{})
	assert.Error(t, err)
}

func TestDecide_AlreadyDecided(t *testing.T) {
	fs := newFakeStore()
	loop := New(fs)
	id := enqueuePending(t, fs)

	_, err := loop.Decide(context.Background(), id, model.ReviewDecision{Status: model.ReviewApproved}, model.Learning{})
	require.NoError(t, err)

	_, err = loop.Decide(context.Background(), id, model.ReviewDecision{Status: model.ReviewApproved}, model.Learning{})
	assert.Error(t, err)
}

func createSandboxLearning(t *testing.T, fs *fakeStore) string {
	t.Helper()
	l, err := fs.CreateLearning(context.Background(), model.Learning{
		TenantID: "t1", Kind: model.LearningRule, Scope: model.ScopeGlobal,
		Content: "x", Stage: model.StageCreated, IsTest: true,
	})
	require.NoError(t, err)
	return l.ID
}

func TestFunnel_FullPath(t *testing.T) {
	fs := newFakeStore()
	loop := New(fs)
	id := createSandboxLearning(t, fs)

	// created → validated on first application.
	require.NoError(t, loop.RecordApplication(context.Background(), id, true))
	l, _ := fs.GetLearning(context.Background(), id)
	assert.Equal(t, model.StageValidated, l.Stage)
	assert.Equal(t, 1, l.TimesApplied)
	assert.Equal(t, 1, l.TimesHelpful)

	// validated → backtested.
	require.NoError(t, loop.RecordBacktest(context.Background(), id, 0.82))
	l, _ = fs.GetLearning(context.Background(), id)
	assert.Equal(t, model.StageBacktested, l.Stage)
	require.NotNil(t, l.BacktestScore)

	// backtested → promoted, with lineage.
	prod, err := loop.Promote(context.Background(), id)
	require.NoError(t, err)
	assert.False(t, prod.IsTest)
	assert.Equal(t, model.StagePromoted, prod.Stage)
	assert.Zero(t, prod.TimesApplied) // counters restart in production

	require.Len(t, fs.lineage, 1)
	assert.Equal(t, id, fs.lineage[0].TestLearningID)
	assert.Equal(t, prod.ID, fs.lineage[0].ProdLearningID)
	assert.InDelta(t, 0.82, fs.lineage[0].BacktestScore, 0.001)

	l, _ = fs.GetLearning(context.Background(), id)
	assert.Equal(t, model.StagePromoted, l.Stage)
}

func TestFunnel_NoStageSkipping(t *testing.T) {
	fs := newFakeStore()
	loop := New(fs)
	id := createSandboxLearning(t, fs)

	// Backtest before validation is rejected.
	assert.Error(t, loop.RecordBacktest(context.Background(), id, 0.9))

	// Promotion before backtest is an invariant violation.
	require.NoError(t, loop.RecordApplication(context.Background(), id, false))
	_, err := loop.Promote(context.Background(), id)
	require.Error(t, err)
	assert.True(t, isolation.IsViolation(err))
}

func TestPromote_ProductionLearningRejected(t *testing.T) {
	fs := newFakeStore()
	loop := New(fs)
	score := 0.9
	l, err := fs.CreateLearning(context.Background(), model.Learning{
		Kind: model.LearningRule, Content: "x", Scope: model.ScopeGlobal,
		Stage: model.StageBacktested, IsTest: false, BacktestScore: &score,
	})
	require.NoError(t, err)

	_, err = loop.Promote(context.Background(), l.ID)
	require.Error(t, err)
	assert.True(t, isolation.IsViolation(err))
}

func TestStageCanAdvance(t *testing.T) {
	assert.True(t, model.StageCreated.CanAdvance(model.StageValidated))
	assert.True(t, model.StageBacktested.CanAdvance(model.StagePromoted))
	assert.False(t, model.StageCreated.CanAdvance(model.StageBacktested))
	assert.False(t, model.StagePromoted.CanAdvance(model.StageCreated))
}
