package instance

import (
	"os"

	"github.com/reapears/reapears-backend/pkg/env"
)

// GetID returns the process instance identifier used in startup logs. An
// explicit id wins over the platform dyno name, which wins over the hostname.
func GetID() string {
	if id := env.First("REAPEARS_INSTANCE_ID", "DYNO"); id != "" {
		return id
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "local"
}
