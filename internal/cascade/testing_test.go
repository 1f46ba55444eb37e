package cascade

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/reapears/reapears-backend/internal/archive"
	"github.com/reapears/reapears-backend/internal/reaper"
	"github.com/reapears/reapears-backend/pkg/clock"
	"github.com/reapears/reapears-backend/pkg/db"
	"github.com/reapears/reapears-backend/pkg/db/models"
	dbtypes "github.com/reapears/reapears-backend/pkg/db/types"
	"github.com/reapears/reapears-backend/pkg/logger"
)

var jan10 = time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC)

const schema = `
CREATE TABLE users (
  id TEXT PRIMARY KEY,
  first_name TEXT NOT NULL,
  last_name TEXT,
  email TEXT NOT NULL,
  is_farmer BOOLEAN NOT NULL DEFAULT 0,
  created_at DATETIME
);
CREATE TABLE farms (
  id TEXT PRIMARY KEY,
  owner_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
  name TEXT NOT NULL,
  logo TEXT,
  registered_on DATE NOT NULL,
  deleted BOOLEAN NOT NULL DEFAULT 0,
  deleted_at DATETIME
);
CREATE TABLE locations (
  id TEXT PRIMARY KEY,
  farm_id TEXT NOT NULL REFERENCES farms(id) ON DELETE CASCADE,
  place_name TEXT NOT NULL,
  region_id TEXT,
  country_id TEXT NOT NULL,
  description TEXT,
  deleted BOOLEAN NOT NULL DEFAULT 0,
  deleted_at DATETIME,
  created_at DATETIME
);
CREATE TABLE harvests (
  id TEXT PRIMARY KEY,
  location_id TEXT NOT NULL REFERENCES locations(id) ON DELETE CASCADE,
  cultivar_id TEXT NOT NULL,
  price NUMERIC NOT NULL,
  type TEXT,
  description TEXT,
  images TEXT,
  available_at DATE NOT NULL,
  created_at DATETIME NOT NULL,
  updated_at DATETIME,
  finished BOOLEAN NOT NULL DEFAULT 0,
  finished_at DATETIME
);
CREATE VIEW active_farms AS SELECT * FROM farms WHERE deleted = 0;
CREATE VIEW active_locations AS SELECT * FROM locations WHERE deleted = 0;
CREATE VIEW active_harvests AS SELECT * FROM harvests WHERE finished = 0;
`

func setupCascadeDB(t *testing.T) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_foreign_keys=1", name)
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{SkipDefaultTransaction: true})
	require.NoError(t, err)

	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		require.NoError(t, conn.Exec(stmt).Error)
	}
	return conn
}

type fakeReaper struct {
	mu   sync.Mutex
	jobs []reaper.Job
}

func (f *fakeReaper) Submit(_ context.Context, job reaper.Job) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs = append(f.jobs, job)
	return true
}

func (f *fakeReaper) submitted() []reaper.Job {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]reaper.Job(nil), f.jobs...)
}

// ownersOf flattens submitted jobs to owner -> paths.
func (f *fakeReaper) ownersOf(kind reaper.Kind) map[string][]string {
	out := map[string][]string{}
	for _, job := range f.submitted() {
		for _, set := range job.Sets {
			if set.Kind == kind {
				out[set.Owner] = append(out[set.Owner], set.Paths...)
			}
		}
	}
	return out
}

type fixture struct {
	db     *gorm.DB
	svc    Service
	reaper *fakeReaper
	clock  *clock.Stub
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	conn := setupCascadeDB(t)
	rp := &fakeReaper{}
	clk := clock.NewStub(jan10)
	svc, err := NewService(ServiceParams{
		Repo:   NewRepository(conn),
		Tx:     db.NewFromConn(conn),
		Reaper: rp,
		Clock:  clk,
		Policy: archive.NewPolicy(archive.DefaultMaxAge),
		Logger: logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
	})
	require.NoError(t, err)
	return &fixture{db: conn, svc: svc, reaper: rp, clock: clk}
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func (f *fixture) user(t *testing.T) *models.User {
	t.Helper()
	u := &models.User{ID: uuid.New(), FirstName: "Thandi", Email: uuid.NewString() + "@example.com", IsFarmer: true}
	require.NoError(t, f.db.Create(u).Error)
	return u
}

func (f *fixture) farm(t *testing.T, owner *models.User, logo *string) *models.Farm {
	t.Helper()
	farm := &models.Farm{ID: uuid.New(), OwnerID: owner.ID, Name: "Green Acres", Logo: logo, RegisteredOn: day(2023, 5, 1)}
	require.NoError(t, f.db.Create(farm).Error)
	return farm
}

func (f *fixture) location(t *testing.T, farm *models.Farm) *models.Location {
	t.Helper()
	loc := &models.Location{
		ID:        uuid.New(),
		FarmID:    farm.ID,
		PlaceName: "North field",
		CountryID: uuid.New(),
		CreatedAt: day(2023, 6, 1),
	}
	require.NoError(t, f.db.Create(loc).Error)
	return loc
}

func (f *fixture) harvest(t *testing.T, loc *models.Location, createdAt, availableAt time.Time, images ...string) *models.Harvest {
	t.Helper()
	h := &models.Harvest{
		ID:          uuid.New(),
		LocationID:  loc.ID,
		CultivarID:  uuid.New(),
		Price:       decimal.RequireFromString("12.50"),
		Images:      dbtypes.ImagePaths(images),
		AvailableAt: availableAt,
		CreatedAt:   createdAt,
	}
	require.NoError(t, f.db.Create(h).Error)
	return h
}

// archivedHarvest seeds a harvest archived by an earlier cascade.
func (f *fixture) archivedHarvest(t *testing.T, loc *models.Location) *models.Harvest {
	t.Helper()
	h := f.harvest(t, loc, day(2023, 7, 1), day(2023, 7, 2))
	finishedAt := day(2023, 8, 1)
	require.NoError(t, f.db.Model(&models.Harvest{}).Where("id = ?", h.ID).
		UpdateColumns(map[string]any{"finished": true, "images": nil, "finished_at": finishedAt}).Error)
	return h
}

func (f *fixture) loadHarvest(t *testing.T, id uuid.UUID) (*models.Harvest, bool) {
	t.Helper()
	var h models.Harvest
	err := f.db.Take(&h, "id = ?", id).Error
	if db.IsNotFound(err) {
		return nil, false
	}
	require.NoError(t, err)
	return &h, true
}

func (f *fixture) loadLocation(t *testing.T, id uuid.UUID) (*models.Location, bool) {
	t.Helper()
	var l models.Location
	err := f.db.Take(&l, "id = ?", id).Error
	if db.IsNotFound(err) {
		return nil, false
	}
	require.NoError(t, err)
	return &l, true
}

func (f *fixture) loadFarm(t *testing.T, id uuid.UUID) (*models.Farm, bool) {
	t.Helper()
	var farm models.Farm
	err := f.db.Take(&farm, "id = ?", id).Error
	if db.IsNotFound(err) {
		return nil, false
	}
	require.NoError(t, err)
	return &farm, true
}

func requireArchived(t *testing.T, h *models.Harvest, now time.Time) {
	t.Helper()
	require.True(t, h.Finished, "harvest should be finished")
	require.Nil(t, h.Images, "archived harvest keeps no images")
	require.NotNil(t, h.FinishedAt)
	require.True(t, h.FinishedAt.Equal(now), "finished_at %v != %v", h.FinishedAt, now)
}

func strPtr(s string) *string { return &s }
