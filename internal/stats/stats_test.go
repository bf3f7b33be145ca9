package stats

import (
	"expvar"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStatsUpdater(t *testing.T) {
	// expvar names are process-global, so one updater serves every subtest
	mux := http.NewServeMux()
	su := NewStatsUpdater(mux)
	su.Run()
	defer su.Stop()

	su.RegisterMetric("TestCounter")

	t.Run("registers counters", func(t *testing.T) {
		v, ok := su.vars.Get("TestCounter").(*expvar.Int)
		assert.True(t, ok, "expected an integer counter")
		assert.Equal(t, int64(0), v.Value(), "expected a zero initial value")
	})

	t.Run("applies increments and decrements", func(t *testing.T) {
		su.Incr("TestCounter")
		su.Incr("TestCounter")
		su.Decr("TestCounter")

		v := su.vars.Get("TestCounter").(*expvar.Int)
		assert.Eventually(t, func() bool {
			return v.Value() == 1
		}, time.Second, 10*time.Millisecond, "expected the applier to settle at 1")
	})

	t.Run("discards updates for unknown counters", func(t *testing.T) {
		su.Incr("NeverRegistered")

		v := su.vars.Get("TestCounter").(*expvar.Int)
		assert.Eventually(t, func() bool {
			return v.Value() == 1
		}, time.Second, 10*time.Millisecond, "expected known counters to be unaffected")
	})

	t.Run("serves a snapshot", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/debug/vars", nil)
		rr := httptest.NewRecorder()
		mux.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code, "expected ok")
		assert.Contains(t, rr.Body.String(), "TestCounter", "expected the counter in the snapshot")
		assert.Contains(t, rr.Body.String(), "Uptime", "expected the uptime metric in the snapshot")
	})

	// last: parks the applier, so no subtest after this sees updates land
	t.Run("updates racing a stop are safe", func(t *testing.T) {
		su.Stop()
		su.Stop() // repeated stop must not panic

		// late decrements from disconnecting clients must not panic either
		for i := 0; i < cap(su.deltas)+1; i++ {
			su.Decr("TestCounter")
		}
	})
}
