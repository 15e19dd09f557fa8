package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/solarproa/powersim/pkg/network"
	"github.com/solarproa/powersim/pkg/solver"
	"github.com/solarproa/powersim/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, c *Collector) string {
	t.Helper()
	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	b, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(b)
}

func TestCollector(t *testing.T) {
	t.Run("Observe Solve", func(t *testing.T) {
		c, err := NewCollector(prometheus.NewRegistry())
		require.NoError(t, err)

		c.ObserveSolve(solver.OutcomeOK, 2*time.Millisecond, 3, 12)
		c.ObserveSolve(solver.OutcomeSingular, time.Millisecond, 0, 4)

		assert.Equal(t, 1.0, testutil.ToFloat64(c.Solves.WithLabelValues(solver.OutcomeOK)))
		assert.Equal(t, 1.0, testutil.ToFloat64(c.Solves.WithLabelValues(solver.OutcomeSingular)))
		assert.Equal(t, 4.0, testutil.ToFloat64(c.NetworkUnknowns))

		body := scrape(t, c)
		assert.Contains(t, body, "powersim_solve_duration_seconds_count 2")
		assert.Contains(t, body, "powersim_solve_iterations_sum 3")
	})

	t.Run("Observe Run", func(t *testing.T) {
		c, err := NewCollector(prometheus.NewRegistry())
		require.NoError(t, err)
		c.ObserveRun("voyage")
		c.ObserveRun("voyage")
		assert.Equal(t, 2.0, testutil.ToFloat64(c.Runs.WithLabelValues("voyage")))
	})

	t.Run("Solver Reports Into Collector", func(t *testing.T) {
		c, err := NewCollector(prometheus.NewRegistry())
		require.NoError(t, err)
		s := solver.New(types.DefaultConstants())
		s.Observer = c

		require.NoError(t, solver.SelfCheck(context.Background(), s))
		_, err = s.Solve(context.Background(), network.New("empty"))
		require.NoError(t, err)
		assert.Equal(t, 2.0, testutil.ToFloat64(c.Solves.WithLabelValues(solver.OutcomeOK)))
	})

	t.Run("Registers Twice", func(t *testing.T) {
		reg := prometheus.NewRegistry()
		first, err := NewCollector(reg)
		require.NoError(t, err)
		second, err := NewCollector(reg)
		require.NoError(t, err)
		first.ObserveRun("operating_point")
		assert.Equal(t, 1.0, testutil.ToFloat64(second.Runs.WithLabelValues("operating_point")))
	})

	t.Run("Nil Collector", func(t *testing.T) {
		var c *Collector
		assert.NotPanics(t, func() {
			c.ObserveSolve(solver.OutcomeOK, 0, 0, 0)
			c.ObserveRun("voyage")
		})
	})
}
