// Package reaper removes image renditions after the rows referencing them are
// gone. Work is queued by request handlers and executed on the reaper's own
// goroutines, so a failed or slow delete never reaches the caller.
package reaper

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/reapears/reapears-backend/pkg/logger"
	"github.com/reapears/reapears-backend/pkg/storage"
)

// ShutdownMode controls what happens to queued jobs on Shutdown.
type ShutdownMode int

const (
	// DrainWait finishes queued and in-flight jobs until the shutdown
	// context expires.
	DrainWait ShutdownMode = iota
	// DrainAbandon stops workers immediately; queued and overflowed jobs are dropped.
	DrainAbandon
)

// ParseShutdownMode maps the configured mode name.
func ParseShutdownMode(value string) (ShutdownMode, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "wait":
		return DrainWait, nil
	case "abandon":
		return DrainAbandon, nil
	default:
		return DrainWait, fmt.Errorf("unknown reaper shutdown mode %q", value)
	}
}

var ErrClosed = errors.New("reaper is shut down")

type Metrics interface {
	IncJob(outcome string)
	AddFiles(result string, n int)
	SetQueueDepth(n int)
}

type Options struct {
	Store       storage.Store
	Logger      *logger.Logger
	Metrics     Metrics
	Dirs        map[Kind]string
	Formats     []string
	Workers     int
	QueueSize   int
	Parallelism int
}

// Result tallies rendition delete attempts.
type Result struct {
	Deleted int
	Missing int
	Failed  int
}

type Reaper struct {
	store       storage.Store
	logg        *logger.Logger
	metrics     Metrics
	dirs        map[Kind]string
	formats     []string
	parallelism int

	queue chan Job
	// overflow bounds how many jobs run outside the queue at once.
	overflow chan struct{}
	ctx      context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// New validates opts and starts the workers.
func New(opts Options) (*Reaper, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("storage required")
	}
	if opts.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if len(opts.Formats) == 0 {
		return nil, fmt.Errorf("image formats required")
	}
	if opts.Workers <= 0 {
		return nil, fmt.Errorf("workers must be positive")
	}
	if opts.QueueSize <= 0 {
		return nil, fmt.Errorf("queue size must be positive")
	}
	parallelism := opts.Parallelism
	if parallelism <= 0 {
		parallelism = 1
	}
	dirs := map[Kind]string{
		KindHarvest:  string(KindHarvest),
		KindFarmLogo: string(KindFarmLogo),
	}
	for kind, dir := range opts.Dirs {
		if dir != "" {
			dirs[kind] = dir
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	ctx = opts.Logger.WithComponent(ctx, "reaper")

	r := &Reaper{
		store:       opts.Store,
		logg:        opts.Logger,
		metrics:     opts.Metrics,
		dirs:        dirs,
		formats:     append([]string(nil), opts.Formats...),
		parallelism: parallelism,
		queue:       make(chan Job, opts.QueueSize),
		overflow:    make(chan struct{}, opts.Workers),
		ctx:         ctx,
		cancel:      cancel,
	}
	for i := 0; i < opts.Workers; i++ {
		r.wg.Add(1)
		go r.work()
	}
	return r, nil
}

// Submit hands job to the reaper without blocking. When the queue is full
// the job runs in a detached task that waits for an overflow slot. It
// reports false only once the reaper is shut down. The caller's context only contributes log fields.
func (r *Reaper) Submit(ctx context.Context, job Job) bool {
	if job.Empty() {
		return true
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	logCtx := r.logg.WithComponent(r.logg.Detach(ctx), "reaper")
	if r.closed {
		r.logg.Warn(r.logg.WithField(logCtx, "paths", job.PathCount()), "reaper closed; image cleanup dropped")
		r.incJob("dropped")
		return false
	}

	select {
	case r.queue <- job:
		r.setDepth()
	default:
		r.logg.Warn(r.logg.WithField(logCtx, "paths", job.PathCount()), "reaper queue full; image cleanup overflowed")
		r.incJob("overflowed")
		r.wg.Add(1)
		go r.runOverflow(job)
	}
	return true
}

func (r *Reaper) runOverflow(job Job) {
	defer r.wg.Done()
	select {
	case r.overflow <- struct{}{}:
	case <-r.ctx.Done():
		r.incJob("abandoned")
		return
	}
	defer func() { <-r.overflow }()

	if r.ctx.Err() != nil {
		r.incJob("abandoned")
		return
	}
	r.Reap(r.ctx, job)
	r.incJob("completed")
}

func (r *Reaper) work() {
	defer r.wg.Done()
	for job := range r.queue {
		r.setDepth()
		if r.ctx.Err() != nil {
			r.incJob("abandoned")
			continue
		}
		r.Reap(r.ctx, job)
		r.incJob("completed")
	}
}

// Reap deletes every rendition of job synchronously. Each path set runs in
// its own task; a failing set never cancels its siblings.
func (r *Reaper) Reap(ctx context.Context, job Job) Result {
	var deleted, missing, failed atomic.Int64

	var g errgroup.Group
	g.SetLimit(r.parallelism)
	for _, set := range job.Sets {
		g.Go(func() error {
			res := r.reapSet(ctx, set)
			deleted.Add(int64(res.Deleted))
			missing.Add(int64(res.Missing))
			failed.Add(int64(res.Failed))
			return nil
		})
	}
	_ = g.Wait()

	res := Result{
		Deleted: int(deleted.Load()),
		Missing: int(missing.Load()),
		Failed:  int(failed.Load()),
	}
	if r.metrics != nil {
		r.metrics.AddFiles("deleted", res.Deleted)
		r.metrics.AddFiles("missing", res.Missing)
		r.metrics.AddFiles("failed", res.Failed)
	}
	return res
}

func (r *Reaper) reapSet(ctx context.Context, set PathSet) Result {
	var (
		res  Result
		errs error
	)
	dir := r.dirs[set.Kind]
	if dir == "" {
		dir = string(set.Kind)
	}
	for _, p := range set.Paths {
		for _, name := range Renditions(dir, p, r.formats) {
			err := r.store.Delete(ctx, name)
			switch {
			case err == nil:
				res.Deleted++
			case storage.IsNotExist(err):
				res.Missing++
			default:
				res.Failed++
				errs = multierr.Append(errs, err)
			}
		}
	}
	if errs != nil {
		logCtx := r.logg.WithFields(ctx, map[string]any{
			"kind":   string(set.Kind),
			"owner":  set.Owner,
			"failed": res.Failed,
		})
		r.logg.Error(logCtx, "failed to delete image renditions", errs)
	}
	return res
}

// Shutdown stops accepting jobs. In DrainWait mode queued and overflowed
// jobs still run until ctx expires, at which point in-flight deletes are
// canceled.
func (r *Reaper) Shutdown(ctx context.Context, mode ShutdownMode) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	r.closed = true
	if mode == DrainAbandon {
		r.cancel()
	}
	close(r.queue)
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.cancel()
		return nil
	case <-ctx.Done():
		r.cancel()
		<-done
		return fmt.Errorf("reaper drain: %w", ctx.Err())
	}
}

// Pending reports the number of queued jobs.
func (r *Reaper) Pending() int {
	return len(r.queue)
}

func (r *Reaper) incJob(outcome string) {
	if r.metrics != nil {
		r.metrics.IncJob(outcome)
	}
}

func (r *Reaper) setDepth() {
	if r.metrics != nil {
		r.metrics.SetQueueDepth(len(r.queue))
	}
}
