package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/reapears/reapears-backend/api/responses"
	"github.com/reapears/reapears-backend/pkg/config"
	"github.com/reapears/reapears-backend/pkg/db"
	pkgerrors "github.com/reapears/reapears-backend/pkg/errors"
	"github.com/reapears/reapears-backend/pkg/logger"
)

const readinessTimeout = 2 * time.Second

// reaperStatus reports how many cleanup jobs are waiting.
type reaperStatus interface {
	Pending() int
}

func HealthLive(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Reapears-Env", cfg.App.Env)
		responses.WriteSuccess(w, map[string]string{"status": "live"})
	}
}

// HealthReady pings the database. The reaper backlog is reported but never
// fails the probe.
func HealthReady(cfg *config.Config, logg *logger.Logger, dbP db.Pinger, reaper reaperStatus) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Reapears-Env", cfg.App.Env)

		if dbP != nil {
			ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
			defer cancel()
			if err := dbP.Ping(ctx); err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "database unavailable"))
				return
			}
		}

		body := map[string]any{"status": "ready"}
		if reaper != nil {
			body["reaper_pending"] = reaper.Pending()
		}
		responses.WriteSuccess(w, body)
	}
}
