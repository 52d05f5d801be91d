package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Register adds gauges for the latest loop snapshot of src to reg, under
// the fsm subsystem.  Values are read from the snapshot at scrape time.
func Register(reg prometheus.Registerer, src SnapshotSource) error {
	gauge := func(name, help string, f func() float64) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Subsystem: "fsm",
			Name:      name,
			Help:      help,
		}, f)
	}
	counter := func(name, help string, f func() float64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Subsystem: "fsm",
			Name:      name,
			Help:      help,
		}, f)
	}
	collectors := []prometheus.Collector{
		gauge("position_x", "Most recent x position estimate from the quad cell.",
			func() float64 { return src.Snapshot().X.Position }),
		gauge("position_y", "Most recent y position estimate from the quad cell.",
			func() float64 { return src.Snapshot().Y.Position }),
		gauge("voltage_x_volts", "Voltage driving the x axis of the mirror.",
			func() float64 { return src.Snapshot().X.Voltage }),
		gauge("voltage_y_volts", "Voltage driving the y axis of the mirror.",
			func() float64 { return src.Snapshot().Y.Voltage }),
		gauge("running", "1 if the loop is driving the mirror, else 0.",
			func() float64 {
				if src.Snapshot().Running {
					return 1
				}
				return 0
			}),
		counter("ticks_total", "Control loop iterations since startup.",
			func() float64 { return float64(src.Snapshot().Tick) }),
		counter("resets_x_total", "Times the x axis was reset to the safe voltage.",
			func() float64 { return float64(src.Snapshot().X.Resets) }),
		counter("resets_y_total", "Times the y axis was reset to the safe voltage.",
			func() float64 { return float64(src.Snapshot().Y.Resets) }),
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
