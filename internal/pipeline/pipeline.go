// Package pipeline wires the stages together: scheduler-driven source
// crawls feeding fingerprint + dedup + store, and article evaluation
// feeding the analyst ensemble and the prediction lifecycle.
package pipeline

import (
	"context"
	"time"

	"github.com/sells-group/foresight/internal/dedup"
	"github.com/sells-group/foresight/internal/ensemble"
	"github.com/sells-group/foresight/internal/fetcher"
	"github.com/sells-group/foresight/internal/lifecycle"
	"github.com/sells-group/foresight/internal/model"
	"github.com/sells-group/foresight/internal/scheduler"
	"github.com/sells-group/foresight/internal/store"
)

// Fetcher is the fetch seam; satisfied by *fetcher.Dispatcher and by test
// stubs.
type Fetcher interface {
	Fetch(ctx context.Context, src model.Source) ([]fetcher.Item, error)
}

// Pipeline runs crawl passes and article evaluations over one tenant.
type Pipeline struct {
	store  store.Store
	sched  *scheduler.Scheduler
	fetch  Fetcher
	dedup  *dedup.Engine
	eval   *ensemble.Evaluator
	life   *lifecycle.Manager
	tenant string
	now    func() time.Time
}

// New assembles a Pipeline.
func New(st store.Store, sched *scheduler.Scheduler, fetch Fetcher, eng *dedup.Engine, eval *ensemble.Evaluator, life *lifecycle.Manager, tenant string) *Pipeline {
	return &Pipeline{
		store:  st,
		sched:  sched,
		fetch:  fetch,
		dedup:  eng,
		eval:   eval,
		life:   life,
		tenant: tenant,
		now:    func() time.Time { return time.Now().UTC() },
	}
}
