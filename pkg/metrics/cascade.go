package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// CascadeMetrics counts lifecycle cascades and the rows they touched.
type CascadeMetrics struct {
	cascades *prometheus.CounterVec
	rows     *prometheus.CounterVec
}

// NewCascadeMetrics registers the cascade metrics on the provided registerer.
func NewCascadeMetrics(reg prometheus.Registerer) *CascadeMetrics {
	if reg == nil {
		return &CascadeMetrics{}
	}
	cascades := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cascade_total",
		Help: "Lifecycle cascades by root resource and result.",
	}, []string{"resource", "result"})
	rows := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cascade_rows_total",
		Help: "Rows archived or deleted by lifecycle cascades.",
	}, []string{"table", "decision"})
	reg.MustRegister(cascades, rows)
	return &CascadeMetrics{
		cascades: cascades,
		rows:     rows,
	}
}

// IncCascade counts one cascade rooted at resource. result is the decision
// taken on the root or the error code.
func (c *CascadeMetrics) IncCascade(resource, result string) {
	if c == nil || c.cascades == nil {
		return
	}
	c.cascades.WithLabelValues(normalizeLabel(resource), normalizeLabel(result)).Inc()
}

// AddRows adds n rows of table handled with decision.
func (c *CascadeMetrics) AddRows(table, decision string, n int64) {
	if c == nil || c.rows == nil || n <= 0 {
		return
	}
	c.rows.WithLabelValues(normalizeLabel(table), normalizeLabel(decision)).Add(float64(n))
}
