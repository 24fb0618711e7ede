// Package worker runs claim-lease processing over shared pending queues.
// Workers stamp their identity and a claim timestamp before processing;
// claims within the lease window are skipped by other workers, and a
// reaper reclaims leases that expired without completion. Handlers must be
// idempotent: claim races in rare failure windows can still double-process.
package worker

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Queue is a claimable pending queue. Claim must atomically stamp the
// worker id and timestamp on the oldest unclaimed (or lease-expired) item
// and return ok=false when nothing is claimable. Retry records a failed
// attempt without clearing the claim stamp, so the lease window doubles
// as retry backoff. Fail moves an item to a terminal failed state that
// Claim never returns.
type Queue interface {
	Name() string
	Claim(ctx context.Context, workerID string, now time.Time, lease time.Duration) (itemID string, ok bool, err error)
	Retry(ctx context.Context, itemID string) (attempts int, err error)
	Fail(ctx context.Context, itemID string) error
	ReapExpired(ctx context.Context, now time.Time, lease time.Duration) (int, error)
}

// Handler processes one claimed item. Completion (status change past
// pending) is the handler's responsibility so an abandoned claim leaves
// the item reclaimable.
type Handler func(ctx context.Context, itemID string) error

// Config tunes a pool.
type Config struct {
	Workers      int           `yaml:"workers" mapstructure:"workers"`
	Lease        time.Duration `yaml:"lease" mapstructure:"lease"`
	PollInterval time.Duration `yaml:"poll_interval" mapstructure:"poll_interval"`
	ReapInterval time.Duration `yaml:"reap_interval" mapstructure:"reap_interval"`
	// MaxAttempts is the number of handler failures before an item is
	// moved to the failed state instead of retried.
	MaxAttempts int `yaml:"max_attempts" mapstructure:"max_attempts"`
}

// DefaultConfig returns standard pool tuning.
func DefaultConfig() Config {
	return Config{
		Workers:      4,
		Lease:        5 * time.Minute,
		PollInterval: 2 * time.Second,
		ReapInterval: time.Minute,
		MaxAttempts:  3,
	}
}

// Pool pulls items from one queue with several independent workers.
type Pool struct {
	cfg     Config
	queue   Queue
	handler Handler
}

// NewPool creates a Pool. Zero config fields fall back to defaults.
func NewPool(cfg Config, queue Queue, handler Handler) *Pool {
	def := DefaultConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.Lease <= 0 {
		cfg.Lease = def.Lease
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.ReapInterval <= 0 {
		cfg.ReapInterval = def.ReapInterval
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	return &Pool{cfg: cfg, queue: queue, handler: handler}
}

// Run blocks until ctx is cancelled, processing items with the configured
// worker count plus one reaper goroutine.
func (p *Pool) Run(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	host, _ := os.Hostname()
	for i := 0; i < p.cfg.Workers; i++ {
		workerID := fmt.Sprintf("%s-%s", host, uuid.New().String()[:8])
		g.Go(func() error {
			return p.workLoop(gCtx, workerID)
		})
	}
	g.Go(func() error {
		return p.reapLoop(gCtx)
	})

	err := g.Wait()
	if err != nil && !eris.Is(err, context.Canceled) {
		return eris.Wrapf(err, "worker: pool %s", p.queue.Name())
	}
	return nil
}

// Drain processes items until the queue is empty, with a single worker.
// Used by one-shot CLI commands.
func (p *Pool) Drain(ctx context.Context) (int, error) {
	workerID := fmt.Sprintf("drain-%s", uuid.New().String()[:8])
	processed := 0
	for {
		ok, err := p.processOne(ctx, workerID)
		if err != nil {
			return processed, err
		}
		if !ok {
			return processed, nil
		}
		processed++
	}
}

func (p *Pool) workLoop(ctx context.Context, workerID string) error {
	log := zap.L().With(
		zap.String("queue", p.queue.Name()),
		zap.String("worker_id", workerID),
	)
	log.Info("worker: started")

	for {
		ok, err := p.processOne(ctx, workerID)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// Queue errors are transient from the pool's perspective.
			log.Warn("worker: claim cycle failed", zap.Error(err))
		}
		if !ok {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.cfg.PollInterval):
			}
		}
	}
}

// processOne claims and handles a single item. Returns ok=false when the
// queue had nothing claimable.
func (p *Pool) processOne(ctx context.Context, workerID string) (bool, error) {
	itemID, ok, err := p.queue.Claim(ctx, workerID, time.Now().UTC(), p.cfg.Lease)
	if err != nil {
		return false, eris.Wrap(err, "claim")
	}
	if !ok {
		return false, nil
	}

	if err := p.handler(ctx, itemID); err != nil {
		// The claim stamp stays in place so the item is not claimable
		// again until the lease expires. Without that hold a persistently
		// failing oldest item would be re-claimed immediately and starve
		// the rest of the queue.
		attempts, retryErr := p.queue.Retry(ctx, itemID)
		if retryErr != nil {
			return true, eris.Wrap(retryErr, "record failed attempt")
		}
		if attempts >= p.cfg.MaxAttempts {
			if failErr := p.queue.Fail(ctx, itemID); failErr != nil {
				return true, eris.Wrap(failErr, "move item to failed")
			}
			zap.L().Warn("worker: item failed permanently",
				zap.String("queue", p.queue.Name()),
				zap.String("item_id", itemID),
				zap.Int("attempts", attempts),
				zap.Error(err),
			)
			return true, nil
		}
		zap.L().Warn("worker: item failed, holding lease for retry backoff",
			zap.String("queue", p.queue.Name()),
			zap.String("item_id", itemID),
			zap.Int("attempts", attempts),
			zap.Error(err),
		)
		return true, nil
	}
	return true, nil
}

func (p *Pool) reapLoop(ctx context.Context) error {
	ticker := time.NewTicker(p.cfg.ReapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			n, err := p.queue.ReapExpired(ctx, time.Now().UTC(), p.cfg.Lease)
			if err != nil {
				zap.L().Warn("worker: reap failed",
					zap.String("queue", p.queue.Name()),
					zap.Error(err),
				)
				continue
			}
			if n > 0 {
				// Expected steady-state crash recovery, not an error.
				zap.L().Info("worker: reclaimed expired leases",
					zap.String("queue", p.queue.Name()),
					zap.Int("count", n),
				)
			}
		}
	}
}
