package cascade

import (
	"context"

	"github.com/google/uuid"

	"github.com/reapears/reapears-backend/internal/archive"
	"github.com/reapears/reapears-backend/internal/reaper"
	"github.com/reapears/reapears-backend/pkg/db"
	"github.com/reapears/reapears-backend/pkg/db/models"
	pkgerrors "github.com/reapears/reapears-backend/pkg/errors"
)

// minActiveLocations is the number of active locations a farm keeps no
// matter what; a direct location delete needs one more than this.
const minActiveLocations = 1

// ErrOnlyLocation rejects removing the last active location of a farm.
var ErrOnlyLocation = pkgerrors.Conflict("farm must keep at least one active location")

// ensureLocationRemovable runs before any mutation of a direct location
// delete. Farm deletes remove every location and skip it. The farm row stays
// locked until commit so two deletes on one farm cannot both pass the count.
func ensureLocationRemovable(ctx context.Context, repo Repository, location *models.Location) error {
	if err := repo.LockFarm(ctx, location.FarmID); err != nil {
		if db.IsNotFound(err) {
			return pkgerrors.NotFound(string(ResourceFarm))
		}
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lock farm")
	}
	count, err := repo.CountActiveLocations(ctx, location.FarmID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "count active locations")
	}
	if count <= minActiveLocations {
		return ErrOnlyLocation
	}
	return nil
}

// lookupError maps a failed active-row lookup. Missing and already archived
// rows are both reported as not found.
func lookupError(err error, resource Resource) error {
	if db.IsNotFound(err) {
		return pkgerrors.NotFound(string(resource))
	}
	return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load "+string(resource))
}

// snapshotHarvests records the image paths of harvests about to be mutated.
// It must run before the archive statement clears them.
func snapshotHarvests(job *reaper.Job, harvests []models.Harvest) {
	for _, h := range harvests {
		job.Add(reaper.KindHarvest, h.ID.String(), h.Images)
	}
}

// classify splits harvests by the age policy.
func classify(cutoff archive.Cutoff, harvests []models.Harvest) (archiveIDs, deleteIDs []uuid.UUID) {
	for _, h := range harvests {
		if cutoff.Decide(h.CreatedAt, h.AvailableAt) == archive.Archive {
			archiveIDs = append(archiveIDs, h.ID)
			continue
		}
		deleteIDs = append(deleteIDs, h.ID)
	}
	return archiveIDs, deleteIDs
}

func locationIDs(locations []models.Location) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(locations))
	for _, l := range locations {
		ids = append(ids, l.ID)
	}
	return ids
}
