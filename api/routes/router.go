package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/reapears/reapears-backend/api/controllers"
	"github.com/reapears/reapears-backend/api/middleware"
	"github.com/reapears/reapears-backend/internal/cascade"
	"github.com/reapears/reapears-backend/pkg/config"
	"github.com/reapears/reapears-backend/pkg/db"
	"github.com/reapears/reapears-backend/pkg/logger"
)

type reaperStatus interface {
	Pending() int
}

// RouterParams carries the dependencies the HTTP surface needs.
type RouterParams struct {
	Config   *config.Config
	Logger   *logger.Logger
	DB       db.Pinger
	Cascade  cascade.Service
	Reaper   reaperStatus
	Gatherer prometheus.Gatherer
}

func NewRouter(p RouterParams) http.Handler {
	cfg, logg := p.Config, p.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, p.DB, p.Reaper))
	})

	if p.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(p.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		if cfg.App.RequestTimeout > 0 {
			r.Use(chimw.Timeout(cfg.App.RequestTimeout))
		}

		r.Route("/farms/{farmId}", func(r chi.Router) {
			r.Delete("/", controllers.DeleteFarm(p.Cascade, logg))
			r.Delete("/logo", controllers.DeleteFarmLogo(p.Cascade, logg))
		})
		r.Delete("/locations/{locationId}", controllers.DeleteLocation(p.Cascade, logg))
		r.Delete("/harvests/{harvestId}", controllers.DeleteHarvest(p.Cascade, logg))
	})

	return r
}
