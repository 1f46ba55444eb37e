package cascade

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/reapears/reapears-backend/internal/archive"
	"github.com/reapears/reapears-backend/internal/reaper"
	"github.com/reapears/reapears-backend/pkg/clock"
	"github.com/reapears/reapears-backend/pkg/db"
	"github.com/reapears/reapears-backend/pkg/db/models"
	pkgerrors "github.com/reapears/reapears-backend/pkg/errors"
	"github.com/reapears/reapears-backend/pkg/logger"
)

func TestDeleteHarvest_FutureListingIsRemoved(t *testing.T) {
	f := newFixture(t)
	owner := f.user(t)
	farm := f.farm(t, owner, nil)
	loc := f.location(t, farm)
	a := f.harvest(t, loc, day(2024, 1, 9), day(2024, 1, 20), "a1.jpg", "a2.webp")

	out, err := f.svc.DeleteHarvest(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, archive.Delete, out.Decision)
	assert.EqualValues(t, 1, out.HarvestsDeleted)
	assert.Equal(t, 2, out.ImagesScheduled)

	_, found := f.loadHarvest(t, a.ID)
	assert.False(t, found)
	assert.Equal(t, []string{"a1.jpg", "a2.webp"}, f.reaper.ownersOf(reaper.KindHarvest)[a.ID.String()])
}

func TestDeleteHarvest_SeenListingIsArchived(t *testing.T) {
	f := newFixture(t)
	owner := f.user(t)
	farm := f.farm(t, owner, nil)
	loc := f.location(t, farm)
	b := f.harvest(t, loc, day(2024, 1, 1), day(2024, 1, 5), "b1.jpg")

	out, err := f.svc.DeleteHarvest(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, archive.Archive, out.Decision)
	assert.EqualValues(t, 1, out.HarvestsArchived)

	got, found := f.loadHarvest(t, b.ID)
	require.True(t, found)
	requireArchived(t, got, jan10)
	assert.Equal(t, []string{"b1.jpg"}, f.reaper.ownersOf(reaper.KindHarvest)[b.ID.String()])
}

func TestDeleteHarvest_MissingOrArchivedIsNotFound(t *testing.T) {
	f := newFixture(t)
	owner := f.user(t)
	farm := f.farm(t, owner, nil)
	loc := f.location(t, farm)
	old := f.archivedHarvest(t, loc)

	for _, id := range []uuid.UUID{uuid.New(), old.ID} {
		_, err := f.svc.DeleteHarvest(context.Background(), id)
		require.Error(t, err)
		assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
	}
	assert.Empty(t, f.reaper.submitted())
}

func TestDeleteHarvest_CanceledRequestChangesNothing(t *testing.T) {
	f := newFixture(t)
	owner := f.user(t)
	farm := f.farm(t, owner, nil)
	loc := f.location(t, farm)
	h := f.harvest(t, loc, day(2024, 1, 9), day(2024, 1, 9), "x.jpg")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.svc.DeleteHarvest(ctx, h.ID)
	require.Error(t, err)

	_, found := f.loadHarvest(t, h.ID)
	assert.True(t, found)
	assert.Empty(t, f.reaper.submitted())
}

func TestDeleteLocation_OnlyLocationIsRejected(t *testing.T) {
	f := newFixture(t)
	owner := f.user(t)
	farm := f.farm(t, owner, nil)
	loc := f.location(t, farm)
	recent := f.harvest(t, loc, day(2024, 1, 9), day(2024, 1, 9), "r.jpg")
	seen := f.harvest(t, loc, day(2024, 1, 1), day(2024, 1, 2), "s.jpg")

	_, err := f.svc.DeleteLocation(context.Background(), loc.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrOnlyLocation)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))

	got, found := f.loadLocation(t, loc.ID)
	require.True(t, found)
	assert.False(t, got.Deleted)
	for _, id := range []uuid.UUID{recent.ID, seen.ID} {
		h, found := f.loadHarvest(t, id)
		require.True(t, found)
		assert.False(t, h.Finished)
		assert.NotEmpty(t, h.Images)
	}
	assert.Empty(t, f.reaper.submitted())
}

func TestDeleteLocation_LocksFarmBeforeCounting(t *testing.T) {
	f := newFixture(t)
	owner := f.user(t)
	farm := f.farm(t, owner, nil)
	loc := f.location(t, farm)
	f.location(t, farm)

	var (
		mu     sync.Mutex
		tables []string
	)
	record := func(tx *gorm.DB) {
		mu.Lock()
		defer mu.Unlock()
		entry := tx.Statement.Table
		if _, ok := tx.Statement.Clauses["FOR"]; ok {
			entry += " FOR UPDATE"
		}
		tables = append(tables, entry)
	}
	require.NoError(t, f.db.Callback().Query().Before("gorm:query").Register("test:record_queries", record))
	t.Cleanup(func() { _ = f.db.Callback().Query().Remove("test:record_queries") })

	_, err := f.svc.DeleteLocation(context.Background(), loc.ID)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Contains(t, tables, "farms FOR UPDATE")
	lockAt, countAt := -1, -1
	for i, entry := range tables {
		if entry == "farms FOR UPDATE" && lockAt < 0 {
			lockAt = i
		}
		if entry == activeLocations && countAt < 0 {
			countAt = i
		}
	}
	require.GreaterOrEqual(t, countAt, 0)
	assert.Less(t, lockAt, countAt)
}

type lockFailingRepo struct {
	Repository
	err error
}

func (r lockFailingRepo) WithTx(tx *gorm.DB) Repository {
	return lockFailingRepo{Repository: r.Repository.WithTx(tx), err: r.err}
}

func (r lockFailingRepo) LockFarm(context.Context, uuid.UUID) error {
	return r.err
}

func TestDeleteLocation_FarmLockFailureChangesNothing(t *testing.T) {
	f := newFixture(t)
	owner := f.user(t)
	farm := f.farm(t, owner, nil)
	loc := f.location(t, farm)
	f.location(t, farm)
	h := f.harvest(t, loc, day(2024, 1, 9), day(2024, 1, 9), "r.jpg")

	svc, err := NewService(ServiceParams{
		Repo:   lockFailingRepo{Repository: NewRepository(f.db), err: errors.New("lock timeout")},
		Tx:     db.NewFromConn(f.db),
		Reaper: f.reaper,
		Clock:  f.clock,
		Policy: archive.NewPolicy(archive.DefaultMaxAge),
		Logger: logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
	})
	require.NoError(t, err)

	_, err = svc.DeleteLocation(context.Background(), loc.ID)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInternal))
	assert.Contains(t, err.Error(), "lock farm")

	got, found := f.loadLocation(t, loc.ID)
	require.True(t, found)
	assert.False(t, got.Deleted)
	_, found = f.loadHarvest(t, h.ID)
	assert.True(t, found)
	assert.Empty(t, f.reaper.submitted())
}

func TestDeleteLocation_ArchivedWhenAnyHarvestIsKept(t *testing.T) {
	f := newFixture(t)
	owner := f.user(t)
	farm := f.farm(t, owner, nil)
	loc := f.location(t, farm)
	other := f.location(t, farm)
	a := f.harvest(t, loc, day(2024, 1, 9), day(2024, 1, 20), "a.jpg")
	b := f.harvest(t, loc, day(2024, 1, 1), day(2024, 1, 5), "b.jpg", "b2.jpg")
	untouched := f.harvest(t, other, day(2024, 1, 1), day(2024, 1, 5), "u.jpg")

	out, err := f.svc.DeleteLocation(context.Background(), loc.ID)
	require.NoError(t, err)
	assert.Equal(t, archive.Archive, out.Decision)
	assert.EqualValues(t, 1, out.HarvestsArchived)
	assert.EqualValues(t, 1, out.HarvestsDeleted)
	assert.EqualValues(t, 1, out.LocationsArchived)
	assert.EqualValues(t, 0, out.LocationsDeleted)

	_, found := f.loadHarvest(t, a.ID)
	assert.False(t, found)
	kept, found := f.loadHarvest(t, b.ID)
	require.True(t, found)
	requireArchived(t, kept, jan10)

	archivedLoc, found := f.loadLocation(t, loc.ID)
	require.True(t, found)
	assert.True(t, archivedLoc.Deleted)
	require.NotNil(t, archivedLoc.DeletedAt)
	assert.True(t, archivedLoc.DeletedAt.Equal(jan10))

	stillActive, found := f.loadHarvest(t, untouched.ID)
	require.True(t, found)
	assert.False(t, stillActive.Finished)

	owners := f.reaper.ownersOf(reaper.KindHarvest)
	assert.Equal(t, []string{"a.jpg"}, owners[a.ID.String()])
	assert.Equal(t, []string{"b.jpg", "b2.jpg"}, owners[b.ID.String()])
	assert.NotContains(t, owners, untouched.ID.String())
}

func TestDeleteLocation_DeletedWhenNothingIsKept(t *testing.T) {
	f := newFixture(t)
	owner := f.user(t)
	farm := f.farm(t, owner, nil)
	loc := f.location(t, farm)
	f.location(t, farm)
	h1 := f.harvest(t, loc, day(2024, 1, 9), day(2024, 1, 9))
	h2 := f.harvest(t, loc, day(2023, 1, 1), day(2024, 6, 1), "future.jpg")

	out, err := f.svc.DeleteLocation(context.Background(), loc.ID)
	require.NoError(t, err)
	assert.Equal(t, archive.Delete, out.Decision)
	assert.EqualValues(t, 2, out.HarvestsDeleted)
	assert.EqualValues(t, 1, out.LocationsDeleted)

	_, found := f.loadLocation(t, loc.ID)
	assert.False(t, found)
	for _, id := range []uuid.UUID{h1.ID, h2.ID} {
		_, found := f.loadHarvest(t, id)
		assert.False(t, found)
	}
	assert.Equal(t, 1, out.ImagesScheduled)
}

func TestDeleteLocation_PreviouslyArchivedHarvestsKeepLocation(t *testing.T) {
	f := newFixture(t)
	owner := f.user(t)
	farm := f.farm(t, owner, nil)
	loc := f.location(t, farm)
	f.location(t, farm)
	old := f.archivedHarvest(t, loc)
	recent := f.harvest(t, loc, day(2024, 1, 9), day(2024, 1, 9))

	out, err := f.svc.DeleteLocation(context.Background(), loc.ID)
	require.NoError(t, err)
	assert.Equal(t, archive.Archive, out.Decision)
	assert.EqualValues(t, 0, out.HarvestsArchived)
	assert.EqualValues(t, 1, out.HarvestsDeleted)

	got, found := f.loadLocation(t, loc.ID)
	require.True(t, found)
	assert.True(t, got.Deleted)
	_, found = f.loadHarvest(t, old.ID)
	assert.True(t, found)
	_, found = f.loadHarvest(t, recent.ID)
	assert.False(t, found)
}

func TestDeleteFarm_MixedHarvestsArchiveFarm(t *testing.T) {
	f := newFixture(t)
	owner := f.user(t)
	farm := f.farm(t, owner, strPtr("logo.jpg"))
	north := f.location(t, farm)
	south := f.location(t, farm)

	keepA := f.harvest(t, north, day(2024, 1, 1), day(2024, 1, 5), "ka.jpg")
	dropA := f.harvest(t, north, day(2024, 1, 9), day(2024, 1, 20), "da.jpg")
	dropB := f.harvest(t, south, day(2024, 1, 8), day(2024, 1, 8), "db.jpg")
	keepB := f.harvest(t, north, day(2024, 1, 2), day(2024, 1, 3))

	out, err := f.svc.DeleteFarm(context.Background(), farm.ID)
	require.NoError(t, err)
	assert.Equal(t, archive.Archive, out.Decision)
	assert.EqualValues(t, 2, out.HarvestsArchived)
	assert.EqualValues(t, 2, out.HarvestsDeleted)
	assert.EqualValues(t, 1, out.LocationsArchived)
	assert.EqualValues(t, 1, out.LocationsDeleted)
	assert.True(t, out.OwnerDemoted)

	var remaining []models.Harvest
	require.NoError(t, f.db.Find(&remaining).Error)
	require.Len(t, remaining, 2)
	for i := range remaining {
		requireArchived(t, &remaining[i], jan10)
	}
	for _, id := range []uuid.UUID{dropA.ID, dropB.ID} {
		_, found := f.loadHarvest(t, id)
		assert.False(t, found)
	}
	for _, id := range []uuid.UUID{keepA.ID, keepB.ID} {
		_, found := f.loadHarvest(t, id)
		assert.True(t, found)
	}

	northLoc, found := f.loadLocation(t, north.ID)
	require.True(t, found)
	assert.True(t, northLoc.Deleted)
	_, found = f.loadLocation(t, south.ID)
	assert.False(t, found)

	archivedFarm, found := f.loadFarm(t, farm.ID)
	require.True(t, found)
	assert.True(t, archivedFarm.Deleted)
	require.NotNil(t, archivedFarm.DeletedAt)
	assert.True(t, archivedFarm.DeletedAt.Equal(jan10))

	var reloaded models.User
	require.NoError(t, f.db.Take(&reloaded, "id = ?", owner.ID).Error)
	assert.False(t, reloaded.IsFarmer)

	assert.Empty(t, f.reaper.ownersOf(reaper.KindFarmLogo), "archived farm keeps its logo")
	assert.Len(t, f.reaper.ownersOf(reaper.KindHarvest), 3)
}

func TestDeleteFarm_AllRecentHarvestsDeleteFarm(t *testing.T) {
	f := newFixture(t)
	owner := f.user(t)
	farm := f.farm(t, owner, strPtr("farm_logo/brand.webp"))
	f.farm(t, owner, nil)
	loc := f.location(t, farm)
	h := f.harvest(t, loc, day(2024, 1, 9), day(2024, 1, 9), "h.jpg")

	out, err := f.svc.DeleteFarm(context.Background(), farm.ID)
	require.NoError(t, err)
	assert.Equal(t, archive.Delete, out.Decision)
	assert.False(t, out.OwnerDemoted)
	assert.EqualValues(t, 1, out.LocationsDeleted)

	_, found := f.loadFarm(t, farm.ID)
	assert.False(t, found)
	_, found = f.loadLocation(t, loc.ID)
	assert.False(t, found)
	_, found = f.loadHarvest(t, h.ID)
	assert.False(t, found)

	var reloaded models.User
	require.NoError(t, f.db.Take(&reloaded, "id = ?", owner.ID).Error)
	assert.True(t, reloaded.IsFarmer, "owner still has another active farm")

	assert.Equal(t, []string{"farm_logo/brand.webp"}, f.reaper.ownersOf(reaper.KindFarmLogo)[farm.ID.String()])
	assert.Equal(t, 2, out.ImagesScheduled)
}

func TestDeleteFarm_LateFailureRollsBackEverything(t *testing.T) {
	f := newFixture(t)
	owner := f.user(t)
	farm := f.farm(t, owner, nil)
	north := f.location(t, farm)
	south := f.location(t, farm)
	keep := f.harvest(t, north, day(2024, 1, 1), day(2024, 1, 5), "k.jpg")
	drop := f.harvest(t, south, day(2024, 1, 9), day(2024, 1, 9), "d.jpg")

	require.NoError(t, f.db.Exec(`CREATE TRIGGER refuse_farm_archive BEFORE UPDATE ON farms
BEGIN
  SELECT RAISE(ABORT, 'farm archive refused');
END`).Error)

	_, err := f.svc.DeleteFarm(context.Background(), farm.ID)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInternal))
	assert.Contains(t, err.Error(), "archive farm")

	got, found := f.loadHarvest(t, keep.ID)
	require.True(t, found)
	assert.False(t, got.Finished)
	assert.Equal(t, []string{"k.jpg"}, []string(got.Images))
	_, found = f.loadHarvest(t, drop.ID)
	assert.True(t, found)

	for _, id := range []uuid.UUID{north.ID, south.ID} {
		l, found := f.loadLocation(t, id)
		require.True(t, found)
		assert.False(t, l.Deleted)
	}
	farmRow, found := f.loadFarm(t, farm.ID)
	require.True(t, found)
	assert.False(t, farmRow.Deleted)

	var reloaded models.User
	require.NoError(t, f.db.Take(&reloaded, "id = ?", owner.ID).Error)
	assert.True(t, reloaded.IsFarmer)
	assert.Empty(t, f.reaper.submitted())
}

func TestDeleteFarm_NotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.DeleteFarm(context.Background(), uuid.New())
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestDeleteFarmLogo(t *testing.T) {
	f := newFixture(t)
	owner := f.user(t)
	withLogo := f.farm(t, owner, strPtr("brand.jpg"))
	withoutLogo := f.farm(t, owner, nil)

	require.NoError(t, f.svc.DeleteFarmLogo(context.Background(), withLogo.ID))
	got, found := f.loadFarm(t, withLogo.ID)
	require.True(t, found)
	assert.Nil(t, got.Logo)
	assert.Equal(t, []string{"brand.jpg"}, f.reaper.ownersOf(reaper.KindFarmLogo)[withLogo.ID.String()])

	require.NoError(t, f.svc.DeleteFarmLogo(context.Background(), withoutLogo.ID))
	assert.Len(t, f.reaper.submitted(), 1)

	err := f.svc.DeleteFarmLogo(context.Background(), uuid.New())
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

type countingTx struct {
	calls int
}

func (c *countingTx) WithTx(_ context.Context, fn func(tx *gorm.DB) error) error {
	c.calls++
	return fn(nil)
}

func TestWindowUnderflowFailsBeforeTransaction(t *testing.T) {
	tx := &countingTx{}
	rp := &fakeReaper{}
	svc, err := NewService(ServiceParams{
		Repo:   NewRepository(nil),
		Tx:     tx,
		Reaper: rp,
		Clock:  clock.NewStub(time.Time{}.Add(time.Hour)),
		Logger: logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
	})
	require.NoError(t, err)

	_, err = svc.DeleteFarm(context.Background(), uuid.New())
	require.Error(t, err)
	assert.True(t, errors.Is(err, archive.ErrWindowUnderflow))
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInternal))
	assert.Zero(t, tx.calls)
	assert.Empty(t, rp.submitted())
}

func TestNewServiceRequiresDependencies(t *testing.T) {
	log := logger.New(logger.Options{Output: io.Discard})
	_, err := NewService(ServiceParams{Tx: &countingTx{}, Reaper: &fakeReaper{}, Logger: log})
	assert.Error(t, err)
	_, err = NewService(ServiceParams{Repo: NewRepository(nil), Reaper: &fakeReaper{}, Logger: log})
	assert.Error(t, err)
	_, err = NewService(ServiceParams{Repo: NewRepository(nil), Tx: &countingTx{}, Logger: log})
	assert.Error(t, err)
	_, err = NewService(ServiceParams{Repo: NewRepository(nil), Tx: &countingTx{}, Reaper: &fakeReaper{}})
	assert.Error(t, err)
}
