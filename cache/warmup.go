package cache

import (
	"context"
	"sync"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	apperrors "tiercache/common/errors"
	"tiercache/common/logging"
)

const defaultWarmupBatchSize = 10

// ScheduleID identifies a recurring warmup registration.
type ScheduleID = cron.EntryID

type warmupOptions struct {
	batchSize int
}

// WarmupOption customizes a warmup run.
type WarmupOption func(*warmupOptions)

// WithBatchSize bounds the number of loader calls running concurrently.
func WithBatchSize(n int) WarmupOption {
	return func(o *warmupOptions) {
		o.batchSize = n
	}
}

// WarmupScheduler preloads entries in concurrency-bounded batches and can
// re-run a warmup on a cron schedule. Runs are idempotent against keys that
// are already cached, so repeated invocations never stampede the loader.
type WarmupScheduler struct {
	coord *Coordinator
	log   logging.Logger

	mu   sync.Mutex
	cron *cron.Cron
}

func newWarmupScheduler(coord *Coordinator, log logging.Logger) *WarmupScheduler {
	if log == nil {
		log = logging.GetGlobalLogger()
	}
	return &WarmupScheduler{coord: coord, log: log}
}

// Warmup processes keys in batches, running loader calls within a batch
// concurrently and waiting for the batch before starting the next. Keys
// already present in the cache are skipped. Per-key loader failures are
// logged and skipped; only context cancellation aborts the run.
func (w *WarmupScheduler) Warmup(ctx context.Context, keys []string, loader LoaderFunc, opts ...WarmupOption) error {
	o := warmupOptions{batchSize: defaultWarmupBatchSize}
	for _, opt := range opts {
		opt(&o)
	}
	if o.batchSize < 1 {
		o.batchSize = defaultWarmupBatchSize
	}

	for start := 0; start < len(keys); start += o.batchSize {
		if err := ctx.Err(); err != nil {
			return err
		}

		end := start + o.batchSize
		if end > len(keys) {
			end = len(keys)
		}

		g, gctx := errgroup.WithContext(ctx)
		for _, key := range keys[start:end] {
			key := key
			g.Go(func() error {
				return w.warmOne(gctx, key, loader)
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
	}

	w.log.Info("warmup complete", logging.Int("keys", len(keys)))
	return nil
}

// warmOne loads a single key unless it is already cached. Loader failures
// are isolated here so they never abort the batch.
func (w *WarmupScheduler) warmOne(ctx context.Context, key string, loader LoaderFunc) error {
	if _, found := w.coord.Get(ctx, key); found {
		w.log.Debug("warmup skipped, already cached", logging.String("key", key))
		return nil
	}

	value, err := loader(ctx, key)
	if err != nil {
		w.log.Warn("warmup loader failed",
			logging.String("key", key),
			logging.Err(err),
		)
		return nil
	}

	if err := w.coord.Set(ctx, key, value); err != nil {
		w.log.Warn("warmup set failed",
			logging.String("key", key),
			logging.Err(err),
		)
	}
	return nil
}

// Schedule registers a recurring warmup using a cron expression (including
// descriptors like "@every 5m"). The cron runner starts on first use and is
// stopped by Stop.
func (w *WarmupScheduler) Schedule(spec string, keys []string, loader LoaderFunc, opts ...WarmupOption) (ScheduleID, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.cron == nil {
		w.cron = cron.New()
		w.cron.Start()
	}

	id, err := w.cron.AddFunc(spec, func() {
		if err := w.Warmup(context.Background(), keys, loader, opts...); err != nil {
			w.log.Warn("scheduled warmup aborted", logging.Err(err))
		}
	})
	if err != nil {
		return 0, apperrors.ConfigError("invalid warmup schedule").WithContext("spec", spec).WithContext("cause", err.Error())
	}

	w.log.Info("warmup scheduled",
		logging.String("spec", spec),
		logging.Int("keys", len(keys)),
	)
	return id, nil
}

// Unschedule removes a previously registered schedule.
func (w *WarmupScheduler) Unschedule(id ScheduleID) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.cron != nil {
		w.cron.Remove(id)
	}
}

// Stop halts the cron runner and waits for any in-flight scheduled run.
func (w *WarmupScheduler) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.cron != nil {
		<-w.cron.Stop().Done()
		w.cron = nil
	}
}
