package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/foresight/internal/model"
)

type fakeStore struct {
	due       []model.Source
	lastLimit int
	runs      map[string]model.CrawlRun
	sources   map[string]model.Source
}

func newFakeStore() *fakeStore {
	return &fakeStore{runs: make(map[string]model.CrawlRun), sources: make(map[string]model.Source)}
}

func (f *fakeStore) DueSources(_ context.Context, _ time.Time, limit int) ([]model.Source, error) {
	f.lastLimit = limit
	if len(f.due) > limit {
		return f.due[:limit], nil
	}
	return f.due, nil
}

func (f *fakeStore) CreateCrawlRun(_ context.Context, run model.CrawlRun) (*model.CrawlRun, error) {
	run.ID = uuid.New().String()
	f.runs[run.ID] = run
	return &run, nil
}

func (f *fakeStore) CompleteCrawlRun(_ context.Context, run model.CrawlRun) error {
	f.runs[run.ID] = run
	return nil
}

func (f *fakeStore) UpdateSourceHealth(_ context.Context, src model.Source) error {
	f.sources[src.ID] = src
	return nil
}

func src(id string) model.Source {
	return model.Source{ID: id, TenantID: "t1", URL: "https://feed.example/" + id, Active: true}
}

func TestDue_BatchCap(t *testing.T) {
	fs := newFakeStore()
	for i := 0; i < 30; i++ {
		fs.due = append(fs.due, src(uuid.New().String()))
	}
	sched := New(Config{BatchSize: 10}, fs)

	got, err := sched.Due(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Len(t, got, 10)
	assert.Equal(t, 10, fs.lastLimit)
}

func TestSourceDue(t *testing.T) {
	now := time.Now().UTC()
	past := now.Add(-2 * time.Hour)
	recent := now.Add(-time.Minute)

	never := model.Source{Active: true, CrawlFrequencyMins: 15}
	overdue := model.Source{Active: true, CrawlFrequencyMins: 15, LastCrawlAt: &past}
	fresh := model.Source{Active: true, CrawlFrequencyMins: 15, LastCrawlAt: &recent}
	disabled := model.Source{Active: false, CrawlFrequencyMins: 15}

	assert.True(t, never.Due(now))
	assert.True(t, overdue.Due(now))
	assert.False(t, fresh.Due(now))
	assert.False(t, disabled.Due(now))
}

func TestFinish_Success(t *testing.T) {
	fs := newFakeStore()
	sched := New(Config{}, fs)
	source := src("s1")
	source.ConsecutiveErrors = 2
	source.NeedsAttention = false

	run, err := sched.Begin(context.Background(), source)
	require.NoError(t, err)
	run.ItemsSeen = 7
	run.Dedup = model.DedupCounts{New: 5, CrossSource: 2}

	require.NoError(t, sched.Finish(context.Background(), source, *run, nil))

	saved := fs.runs[run.ID]
	assert.Equal(t, model.CrawlStatusSuccess, saved.Status)
	assert.NotNil(t, saved.CompletedAt)
	assert.Equal(t, 2, saved.Dedup.CrossSource)

	updated := fs.sources["s1"]
	assert.Zero(t, updated.ConsecutiveErrors)
	assert.NotNil(t, updated.LastCrawlAt)
}

func TestFinish_ErrorsAccumulateToAttention(t *testing.T) {
	fs := newFakeStore()
	sched := New(Config{}, fs)
	source := src("s1")

	for i := 0; i < AttentionThreshold; i++ {
		run, err := sched.Begin(context.Background(), source)
		require.NoError(t, err)
		require.NoError(t, sched.Finish(context.Background(), source, *run, eris.New("fetch timeout")))
		source = fs.sources["s1"]
	}

	assert.Equal(t, 3, source.ConsecutiveErrors)
	assert.True(t, source.NeedsAttention)
	// Flagged, not disabled.
	assert.True(t, source.Active)
}

func TestFinish_SuccessClearsAttention(t *testing.T) {
	fs := newFakeStore()
	sched := New(Config{}, fs)
	source := src("s1")
	source.ConsecutiveErrors = 5
	source.NeedsAttention = true

	run, err := sched.Begin(context.Background(), source)
	require.NoError(t, err)
	require.NoError(t, sched.Finish(context.Background(), source, *run, nil))

	updated := fs.sources["s1"]
	assert.False(t, updated.NeedsAttention)
	assert.Zero(t, updated.ConsecutiveErrors)
}

func TestFinish_PartialStatusPreserved(t *testing.T) {
	fs := newFakeStore()
	sched := New(Config{}, fs)
	source := src("s1")

	run, err := sched.Begin(context.Background(), source)
	require.NoError(t, err)
	run.Status = model.CrawlStatusPartial

	require.NoError(t, sched.Finish(context.Background(), source, *run, nil))
	assert.Equal(t, model.CrawlStatusPartial, fs.runs[run.ID].Status)
}
