package stats

import (
	"encoding/json"
	"expvar"
	"net/http"
	"sync"
	"time"
)

// StatsProvider is the counter surface the rest of the server writes to.
// Incr and Decr must be safe to call from any goroutine and must never
// block a caller's hot path.
type StatsProvider interface {
	Incr(name string)
	Decr(name string)
	RegisterMetric(name string)
	Run()
}

type counterDelta struct {
	name  string
	delta int64
}

// StatsUpdater funnels counter updates through a buffered channel onto a
// single applier goroutine, keeping expvar writes off the delivery paths.
// The channel stays open for the life of the process so updates racing a
// shutdown land in the buffer instead of panicking; Stop only parks the
// applier.
type StatsUpdater struct {
	vars     *expvar.Map
	deltas   chan counterDelta
	done     chan struct{}
	stopOnce sync.Once
	started  time.Time
}

func NewStatsUpdater(mux *http.ServeMux) *StatsUpdater {
	su := &StatsUpdater{
		vars:    expvar.NewMap("converse-stats"),
		deltas:  make(chan counterDelta, 512),
		done:    make(chan struct{}),
		started: time.Now(),
	}

	su.vars.Set("Uptime", expvar.Func(func() any {
		return time.Since(su.started).Milliseconds()
	}))

	mux.Handle("GET /debug/vars", http.HandlerFunc(su.serveVars))

	return su
}

func (su *StatsUpdater) serveVars(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")

	snapshot := make(map[string]any)
	su.vars.Do(func(kv expvar.KeyValue) {
		var v any
		if err := json.Unmarshal([]byte(kv.Value.String()), &v); err == nil {
			snapshot[kv.Key] = v
		}
	})

	json.NewEncoder(w).Encode(snapshot)
}

// RegisterMetric publishes a counter. Counters must be registered before the
// first Incr or Decr for their name; updates to unknown names are discarded.
func (su *StatsUpdater) RegisterMetric(name string) {
	su.vars.Set(name, expvar.NewInt(name))
}

func (su *StatsUpdater) Incr(name string) {
	su.update(counterDelta{name: name, delta: 1})
}

func (su *StatsUpdater) Decr(name string) {
	su.update(counterDelta{name: name, delta: -1})
}

// update never blocks a caller; a full buffer drops the delta.
func (su *StatsUpdater) update(d counterDelta) {
	select {
	case su.deltas <- d:
	default:
	}
}

func (su *StatsUpdater) Run() {
	go func() {
		for {
			select {
			case d := <-su.deltas:
				v, ok := su.vars.Get(d.name).(*expvar.Int)
				if !ok {
					continue
				}
				v.Add(d.delta)
			case <-su.done:
				return
			}
		}
	}()
}

func (su *StatsUpdater) Stop() {
	su.stopOnce.Do(func() {
		close(su.done)
	})
}
