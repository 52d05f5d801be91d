package main

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nasa-jpl/qcloop/daq"
	"github.com/nasa-jpl/qcloop/fsm"
	"github.com/nasa-jpl/qcloop/generichttp"
	"github.com/nasa-jpl/qcloop/monitor"
	"github.com/nasa-jpl/qcloop/server/middleware/locker"
)

// BuildMux mounts the control loop at /fsm and the monitor at /monitor.
// The loop routes are behind a lock; the monitor is read only and is not.
// The root serves /endpoints, a JSON map of mount point to routes, and
// /metrics from reg.
func BuildMux(loop *fsm.ControlLoop, mon *monitor.Monitor, reg *prometheus.Registry) chi.Router {
	root := chi.NewRouter()
	root.Use(middleware.Logger)
	supergraph := map[string][]string{}

	hl := fsm.NewHTTPControlLoop(loop)
	lock := locker.New()
	locker.Inject(hl, lock)
	r := chi.NewRouter()
	r.Use(lock.Check)
	hl.RT().Bind(r)
	root.Mount("/fsm", r)
	supergraph["/fsm"] = hl.RT().Endpoints()

	var httper generichttp.HTTPer = mon
	r = chi.NewRouter()
	httper.RT().Bind(r)
	root.Mount("/monitor", r)
	supergraph["/monitor"] = httper.RT().Endpoints()

	root.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	root.Get("/endpoints", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		err := json.NewEncoder(w).Encode(supergraph)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
	return root
}

// registerMetrics exposes the loop snapshot and the board fault counts
func registerMetrics(reg prometheus.Registerer, loop *fsm.ControlLoop, guard *daq.Guard) error {
	err := monitor.Register(reg, loop)
	if err != nil {
		return err
	}
	err = reg.Register(prometheus.NewCounterFunc(prometheus.CounterOpts{
		Subsystem: "daq",
		Name:      "read_faults_total",
		Help:      "Board reads that failed or timed out and were replaced by zero.",
	}, func() float64 {
		r, _ := guard.Faults()
		return float64(r)
	}))
	if err != nil {
		return err
	}
	return reg.Register(prometheus.NewCounterFunc(prometheus.CounterOpts{
		Subsystem: "daq",
		Name:      "write_faults_total",
		Help:      "Board writes that failed or timed out and were skipped.",
	}, func() float64 {
		_, w := guard.Faults()
		return float64(w)
	}))
}
