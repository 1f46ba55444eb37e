package cron

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/multierr"

	"github.com/reapears/reapears-backend/internal/reaper"
	"github.com/reapears/reapears-backend/pkg/clock"
	"github.com/reapears/reapears-backend/pkg/logger"
	"github.com/reapears/reapears-backend/pkg/storage"
)

const defaultOrphanGrace = 24 * time.Hour

type sweepMetrics interface {
	AddFiles(result string, n int)
}

type OrphanImageSweepJobParams struct {
	Logger  *logger.Logger
	Store   storage.Store
	Refs    imageReferenceReader
	Dirs    map[reaper.Kind]string
	Clock   clock.Clock
	Grace   time.Duration
	DryRun  bool
	Metrics sweepMetrics
}

// NewOrphanImageSweepJob builds the job that removes image files no row
// references anymore, such as renditions left behind when the reaper queue
// was full or the process stopped before a job ran. Files younger than the
// grace period are kept since their row may not be committed yet.
func NewOrphanImageSweepJob(params OrphanImageSweepJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Store == nil {
		return nil, fmt.Errorf("media store required")
	}
	if params.Refs == nil {
		return nil, fmt.Errorf("image reference reader required")
	}
	if len(params.Dirs) == 0 {
		return nil, fmt.Errorf("at least one media directory required")
	}
	grace := params.Grace
	if grace <= 0 {
		grace = defaultOrphanGrace
	}
	clk := params.Clock
	if clk == nil {
		clk = clock.Real{}
	}
	return &orphanImageSweepJob{
		logg:    params.Logger,
		store:   params.Store,
		refs:    params.Refs,
		dirs:    params.Dirs,
		clock:   clk,
		grace:   grace,
		dryRun:  params.DryRun,
		metrics: params.Metrics,
	}, nil
}

type orphanImageSweepJob struct {
	logg    *logger.Logger
	store   storage.Store
	refs    imageReferenceReader
	dirs    map[reaper.Kind]string
	clock   clock.Clock
	grace   time.Duration
	dryRun  bool
	metrics sweepMetrics
}

type sweepTally struct {
	scanned    int
	referenced int
	young      int
	orphaned   int
	deleted    int
	missing    int
	failed     int
}

func (j *orphanImageSweepJob) Name() string { return "orphan-image-sweep" }

func (j *orphanImageSweepJob) Run(ctx context.Context) error {
	refs, err := j.refs.ReferencedImages(ctx)
	if err != nil {
		return fmt.Errorf("load image references: %w", err)
	}
	cutoff := j.clock.Now().Add(-j.grace)

	var (
		tally sweepTally
		errs  error
	)
	for _, kind := range sortedKinds(j.dirs) {
		dir := j.dirs[kind]
		objects, err := j.store.List(ctx, dir)
		if err != nil {
			return fmt.Errorf("list %s: %w", dir, err)
		}
		keep := stemSet(refs[kind])

		for _, obj := range objects {
			tally.scanned++
			if _, ok := keep[reaper.Stem(obj.Name)]; ok {
				tally.referenced++
				continue
			}
			if obj.UpdatedAt.After(cutoff) {
				tally.young++
				continue
			}
			tally.orphaned++
			if j.dryRun {
				j.logg.Debug(j.logg.WithField(ctx, "path", obj.Name), "orphaned image (dry run)")
				continue
			}
			if err := j.store.Delete(ctx, obj.Name); err != nil {
				if storage.IsNotExist(err) {
					tally.missing++
					continue
				}
				tally.failed++
				errs = multierr.Append(errs, err)
				continue
			}
			tally.deleted++
		}
	}

	if j.metrics != nil {
		j.metrics.AddFiles("swept", tally.deleted)
		j.metrics.AddFiles("missing", tally.missing)
		j.metrics.AddFiles("failed", tally.failed)
	}
	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"cutoff":     cutoff,
		"dry_run":    j.dryRun,
		"scanned":    tally.scanned,
		"referenced": tally.referenced,
		"young":      tally.young,
		"orphaned":   tally.orphaned,
		"deleted":    tally.deleted,
		"missing":    tally.missing,
		"failed":     tally.failed,
	}), "orphan image sweep complete")

	if errs != nil {
		return fmt.Errorf("orphan sweep: %d deletes failed: %w", tally.failed, errs)
	}
	return nil
}

func stemSet(paths []string) map[string]struct{} {
	out := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		if stem := reaper.Stem(p); stem != "" {
			out[stem] = struct{}{}
		}
	}
	return out
}

func sortedKinds(dirs map[reaper.Kind]string) []reaper.Kind {
	kinds := make([]reaper.Kind, 0, len(dirs))
	for kind := range dirs {
		kinds = append(kinds, kind)
	}
	sort.Slice(kinds, func(i, k int) bool { return kinds[i] < kinds[k] })
	return kinds
}
