// Package cascade removes farms, locations and harvests together with their
// descendants. Each request runs as one transaction: rows that buyers have
// already seen are archived, the rest are hard-deleted, and the image files of
// every affected harvest are handed to the reaper after commit.
package cascade

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/reapears/reapears-backend/internal/archive"
	"github.com/reapears/reapears-backend/internal/reaper"
	"github.com/reapears/reapears-backend/pkg/clock"
	"github.com/reapears/reapears-backend/pkg/db/models"
	pkgerrors "github.com/reapears/reapears-backend/pkg/errors"
	"github.com/reapears/reapears-backend/pkg/logger"
)

type Resource string

const (
	ResourceFarm     Resource = "farm"
	ResourceLocation Resource = "location"
	ResourceHarvest  Resource = "harvest"
)

// Outcome reports what a cascade did. Decision applies to the root resource.
type Outcome struct {
	Resource          Resource         `json:"resource"`
	ID                uuid.UUID        `json:"id"`
	Decision          archive.Decision `json:"decision"`
	HarvestsArchived  int64            `json:"harvests_archived"`
	HarvestsDeleted   int64            `json:"harvests_deleted"`
	LocationsArchived int64            `json:"locations_archived"`
	LocationsDeleted  int64            `json:"locations_deleted"`
	ImagesScheduled   int              `json:"images_scheduled"`
	OwnerDemoted      bool             `json:"owner_demoted,omitempty"`
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type assetReaper interface {
	Submit(ctx context.Context, job reaper.Job) bool
}

type cascadeMetrics interface {
	IncCascade(resource, result string)
	AddRows(table, decision string, n int64)
}

// Service exposes the lifecycle operations.
type Service interface {
	DeleteFarm(ctx context.Context, farmID uuid.UUID) (*Outcome, error)
	DeleteLocation(ctx context.Context, locationID uuid.UUID) (*Outcome, error)
	DeleteHarvest(ctx context.Context, harvestID uuid.UUID) (*Outcome, error)
	DeleteFarmLogo(ctx context.Context, farmID uuid.UUID) error
}

type ServiceParams struct {
	Repo    Repository
	Tx      txRunner
	Reaper  assetReaper
	Clock   clock.Clock
	Policy  archive.Policy
	Logger  *logger.Logger
	Metrics cascadeMetrics
}

type service struct {
	repo    Repository
	tx      txRunner
	reaper  assetReaper
	clock   clock.Clock
	policy  archive.Policy
	logg    *logger.Logger
	metrics cascadeMetrics
}

// NewService constructs the cascade orchestrator.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("cascade repository required")
	}
	if params.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Reaper == nil {
		return nil, fmt.Errorf("asset reaper required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	clk := params.Clock
	if clk == nil {
		clk = clock.Real{}
	}
	return &service{
		repo:    params.Repo,
		tx:      params.Tx,
		reaper:  params.Reaper,
		clock:   clk,
		policy:  params.Policy,
		logg:    params.Logger,
		metrics: params.Metrics,
	}, nil
}

func (s *service) DeleteHarvest(ctx context.Context, harvestID uuid.UUID) (*Outcome, error) {
	ctx = s.logg.WithHarvestID(ctx, harvestID.String())
	out := &Outcome{Resource: ResourceHarvest, ID: harvestID}

	cutoff, err := s.cutoff()
	if err != nil {
		return nil, s.fail(ctx, out.Resource, err)
	}

	var job reaper.Job
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		harvest, err := repo.FindActiveHarvest(ctx, harvestID)
		if err != nil {
			return lookupError(err, ResourceHarvest)
		}
		rows := harvestsOf(harvest)
		snapshotHarvests(&job, rows)

		archiveIDs, deleteIDs := classify(cutoff, rows)
		if err := applyHarvests(ctx, repo, cutoff.Now(), archiveIDs, deleteIDs, out); err != nil {
			return err
		}
		out.Decision = archive.Delete
		if len(archiveIDs) > 0 {
			out.Decision = archive.Archive
		}
		return nil
	})
	if err != nil {
		return nil, s.fail(ctx, out.Resource, err)
	}

	s.finish(ctx, out, job)
	return out, nil
}

func (s *service) DeleteLocation(ctx context.Context, locationID uuid.UUID) (*Outcome, error) {
	ctx = s.logg.WithLocationID(ctx, locationID.String())
	out := &Outcome{Resource: ResourceLocation, ID: locationID}

	cutoff, err := s.cutoff()
	if err != nil {
		return nil, s.fail(ctx, out.Resource, err)
	}

	var job reaper.Job
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		location, err := repo.FindActiveLocation(ctx, locationID)
		if err != nil {
			return lookupError(err, ResourceLocation)
		}
		if err := ensureLocationRemovable(ctx, repo, location); err != nil {
			return err
		}

		ids := []uuid.UUID{location.ID}
		harvests, err := repo.ListActiveHarvests(ctx, ids)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list location harvests")
		}
		snapshotHarvests(&job, harvests)

		archiveIDs, deleteIDs := classify(cutoff, harvests)
		if err := applyHarvests(ctx, repo, cutoff.Now(), archiveIDs, deleteIDs, out); err != nil {
			return err
		}

		archived, err := applyLocations(ctx, repo, cutoff.Now(), ids, out)
		if err != nil {
			return err
		}
		out.Decision = archive.Delete
		if len(archived) > 0 {
			out.Decision = archive.Archive
		}
		return nil
	})
	if err != nil {
		return nil, s.fail(ctx, out.Resource, err)
	}

	s.finish(ctx, out, job)
	return out, nil
}

func (s *service) DeleteFarm(ctx context.Context, farmID uuid.UUID) (*Outcome, error) {
	ctx = s.logg.WithFarmID(ctx, farmID.String())
	out := &Outcome{Resource: ResourceFarm, ID: farmID}

	cutoff, err := s.cutoff()
	if err != nil {
		return nil, s.fail(ctx, out.Resource, err)
	}

	var job reaper.Job
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		farm, err := repo.FindActiveFarm(ctx, farmID)
		if err != nil {
			return lookupError(err, ResourceFarm)
		}

		locations, err := repo.ListActiveLocations(ctx, farm.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list farm locations")
		}
		ids := locationIDs(locations)

		harvests, err := repo.ListActiveHarvests(ctx, ids)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list farm harvests")
		}
		snapshotHarvests(&job, harvests)

		archiveIDs, deleteIDs := classify(cutoff, harvests)
		if err := applyHarvests(ctx, repo, cutoff.Now(), archiveIDs, deleteIDs, out); err != nil {
			return err
		}
		if _, err := applyLocations(ctx, repo, cutoff.Now(), ids, out); err != nil {
			return err
		}

		remaining, err := repo.CountArchivedHarvestsForFarm(ctx, farm.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "count archived farm harvests")
		}
		if remaining > 0 {
			if err := repo.ArchiveFarm(ctx, farm.ID, cutoff.Now()); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "archive farm")
			}
			out.Decision = archive.Archive
		} else {
			if err := repo.DeleteFarm(ctx, farm.ID); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "delete farm")
			}
			out.Decision = archive.Delete
			if farm.Logo != nil {
				job.Add(reaper.KindFarmLogo, farm.ID.String(), []string{*farm.Logo})
			}
		}

		others, err := repo.CountOtherActiveFarms(ctx, farm.OwnerID, farm.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "count owner farms")
		}
		if others == 0 {
			if err := repo.ClearFarmerFlag(ctx, farm.OwnerID); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "clear farmer flag")
			}
			out.OwnerDemoted = true
		}
		return nil
	})
	if err != nil {
		return nil, s.fail(ctx, out.Resource, err)
	}

	s.finish(ctx, out, job)
	return out, nil
}

// DeleteFarmLogo clears the logo of an active farm and reaps its renditions.
// A farm without a logo is left untouched.
func (s *service) DeleteFarmLogo(ctx context.Context, farmID uuid.UUID) error {
	ctx = s.logg.WithFarmID(ctx, farmID.String())

	var job reaper.Job
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		farm, err := repo.FindActiveFarm(ctx, farmID)
		if err != nil {
			return lookupError(err, ResourceFarm)
		}
		if farm.Logo == nil {
			return nil
		}
		if err := repo.ClearFarmLogo(ctx, farm.ID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "clear farm logo")
		}
		job.Add(reaper.KindFarmLogo, farm.ID.String(), []string{*farm.Logo})
		return nil
	})
	if err != nil {
		return s.fail(ctx, ResourceFarm, err)
	}
	if !job.Empty() {
		s.reaper.Submit(ctx, job)
	}
	return nil
}

func (s *service) cutoff() (archive.Cutoff, error) {
	cutoff, err := s.policy.At(s.clock.Now())
	if err != nil {
		return archive.Cutoff{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "evaluate archive window")
	}
	return cutoff, nil
}

func applyHarvests(ctx context.Context, repo Repository, now time.Time, archiveIDs, deleteIDs []uuid.UUID, out *Outcome) error {
	archived, err := repo.ArchiveHarvests(ctx, archiveIDs, now)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "archive harvests")
	}
	deleted, err := repo.DeleteHarvests(ctx, deleteIDs)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "delete harvests")
	}
	out.HarvestsArchived += archived
	out.HarvestsDeleted += deleted
	return nil
}

// applyLocations archives locations still holding archived harvests and
// deletes the rest. It runs after the harvest statements so the counts
// include rows archived by this cascade.
func applyLocations(ctx context.Context, repo Repository, now time.Time, ids []uuid.UUID, out *Outcome) ([]uuid.UUID, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	counts, err := repo.CountArchivedHarvests(ctx, ids)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "count archived harvests")
	}

	var archiveIDs, deleteIDs []uuid.UUID
	for _, id := range ids {
		if counts[id] > 0 {
			archiveIDs = append(archiveIDs, id)
			continue
		}
		deleteIDs = append(deleteIDs, id)
	}

	archived, err := repo.ArchiveLocations(ctx, archiveIDs, now)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "archive locations")
	}
	deleted, err := repo.DeleteLocations(ctx, deleteIDs)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "delete locations")
	}
	out.LocationsArchived += archived
	out.LocationsDeleted += deleted
	return archiveIDs, nil
}

// finish runs after commit. Reaper failures never reach the caller.
func (s *service) finish(ctx context.Context, out *Outcome, job reaper.Job) {
	if !job.Empty() {
		out.ImagesScheduled = job.PathCount()
		s.reaper.Submit(ctx, job)
	}

	if s.metrics != nil {
		s.metrics.IncCascade(string(out.Resource), out.Decision.String())
		s.metrics.AddRows("harvests", archive.Archive.String(), out.HarvestsArchived)
		s.metrics.AddRows("harvests", archive.Delete.String(), out.HarvestsDeleted)
		s.metrics.AddRows("locations", archive.Archive.String(), out.LocationsArchived)
		s.metrics.AddRows("locations", archive.Delete.String(), out.LocationsDeleted)
	}

	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"resource":           string(out.Resource),
		"decision":           out.Decision.String(),
		"harvests_archived":  out.HarvestsArchived,
		"harvests_deleted":   out.HarvestsDeleted,
		"locations_archived": out.LocationsArchived,
		"locations_deleted":  out.LocationsDeleted,
		"images_scheduled":   out.ImagesScheduled,
	}), "cascade committed")
}

func (s *service) fail(ctx context.Context, resource Resource, err error) error {
	code := pkgerrors.CodeOf(err)
	if s.metrics != nil {
		s.metrics.IncCascade(string(resource), string(code))
	}
	if code == pkgerrors.CodeInternal {
		s.logg.Error(s.logg.WithFields(ctx, pkgerrors.Dump(err).Fields()), "cascade rolled back", err)
	}
	return err
}

func harvestsOf(h ...*models.Harvest) []models.Harvest {
	out := make([]models.Harvest, 0, len(h))
	for _, item := range h {
		out = append(out, *item)
	}
	return out
}
