/*Package monitor contains the machinery for the display side of the loop.

It captures a snapshot of the control loop every <duration> and stores up to
N of them to return over HTTP, either as JSON arrays for live plots or as a
FITS file for offline analysis.
*/
package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/astrogo/fitsio"

	"github.com/nasa-jpl/qcloop/fsm"
	"github.com/nasa-jpl/qcloop/generichttp"
	"github.com/nasa-jpl/qcloop/util"
)

// ErrNoSamples is returned when there is nothing recorded to write
var ErrNoSamples = errors.New("no samples recorded")

// SnapshotSource produces loop snapshots without blocking the loop
type SnapshotSource interface {
	Snapshot() fsm.Snapshot
}

// ring is a fixed capacity ring buffer.  It is not concurrent safe.
type ring struct {
	buf    []sample
	cursor int
	filled bool
}

type sample struct {
	t            time.Time
	x, y, vx, vy float64
}

func (r *ring) append(s sample) {
	r.buf[r.cursor] = s
	r.cursor++
	if r.cursor == len(r.buf) {
		r.cursor = 0
		r.filled = true
	}
}

// contiguous returns the samples from least to most recent
func (r *ring) contiguous() []sample {
	if !r.filled {
		out := make([]sample, r.cursor)
		copy(out, r.buf[:r.cursor])
		return out
	}
	out := make([]sample, 0, len(r.buf))
	out = append(out, r.buf[r.cursor:]...)
	return append(out, r.buf[:r.cursor]...)
}

// Monitor periodically records snapshots of a control loop
type Monitor struct {
	src  SnapshotSource
	tick time.Duration

	mu     sync.Mutex
	hist   ring
	last   fsm.Snapshot
	lastOK bool
}

// History is the recorded time series, oldest first
type History struct {
	Time     []time.Time `json:"timestamp"`
	X        []float64   `json:"x"`
	Y        []float64   `json:"y"`
	VoltageX []float64   `json:"voltage_x"`
	VoltageY []float64   `json:"voltage_y"`
}

// MarshalJSON writes non-finite samples as null
func (h History) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Time     []time.Time      `json:"timestamp"`
		X        []util.JSONFloat `json:"x"`
		Y        []util.JSONFloat `json:"y"`
		VoltageX []util.JSONFloat `json:"voltage_x"`
		VoltageY []util.JSONFloat `json:"voltage_y"`
	}{
		Time:     h.Time,
		X:        util.JSONFloats(h.X),
		Y:        util.JSONFloats(h.Y),
		VoltageX: util.JSONFloats(h.VoltageX),
		VoltageY: util.JSONFloats(h.VoltageY)})
}

// Errors holds the error windows of each axis at the latest sample
type Errors struct {
	X []float64 `json:"x"`
	Y []float64 `json:"y"`
}

// MarshalJSON writes non-finite errors as null
func (e Errors) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		X []util.JSONFloat `json:"x"`
		Y []util.JSONFloat `json:"y"`
	}{util.JSONFloats(e.X), util.JSONFloats(e.Y)})
}

// New creates a new Monitor that samples src every tick and keeps capacity
// samples
func New(src SnapshotSource, tick time.Duration, capacity int) *Monitor {
	if capacity < 1 {
		capacity = 1
	}
	return &Monitor{
		src:  src,
		tick: tick,
		hist: ring{buf: make([]sample, capacity)}}
}

// Sample records one snapshot from the source
func (m *Monitor) Sample() {
	s := m.src.Snapshot()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hist.append(sample{
		t:  s.Time,
		x:  s.X.Position,
		y:  s.Y.Position,
		vx: s.X.Voltage,
		vy: s.Y.Voltage})
	m.last = s
	m.lastOK = true
}

// Run samples the source every tick until ctx is cancelled
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.Sample()
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// History returns a copy of the recorded time series
func (m *Monitor) History() History {
	m.mu.Lock()
	samples := m.hist.contiguous()
	m.mu.Unlock()
	h := History{
		Time:     make([]time.Time, len(samples)),
		X:        make([]float64, len(samples)),
		Y:        make([]float64, len(samples)),
		VoltageX: make([]float64, len(samples)),
		VoltageY: make([]float64, len(samples))}
	for i, s := range samples {
		h.Time[i] = s.t
		h.X[i] = s.x
		h.Y[i] = s.y
		h.VoltageX[i] = s.vx
		h.VoltageY[i] = s.vy
	}
	return h
}

// Errors returns the per-axis error windows at the latest sample
func (m *Monitor) Errors() Errors {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.lastOK {
		return Errors{X: []float64{}, Y: []float64{}}
	}
	// snapshot slices are never written after publication
	return Errors{X: m.last.X.History, Y: m.last.Y.History}
}

// HTTPHistory returns the recorded time series as JSON
func (m *Monitor) HTTPHistory(w http.ResponseWriter, r *http.Request) {
	generichttp.ReplyJSON(w, m.History())
}

// HTTPErrors returns the latest error windows as JSON
func (m *Monitor) HTTPErrors(w http.ResponseWriter, r *http.Request) {
	generichttp.ReplyJSON(w, m.Errors())
}

// HTTPHistoryFITS returns the recorded time series as a FITS file
func (m *Monitor) HTTPHistoryFITS(w http.ResponseWriter, r *http.Request) {
	h := m.History()
	if len(h.Time) == 0 {
		http.Error(w, ErrNoSamples.Error(), http.StatusNotFound)
		return
	}
	hdr := w.Header()
	hdr.Set("Content-Type", "image/fits")
	hdr.Set("Content-Disposition", "attachment; filename=history.fits")
	err := WriteFits(w, h)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// RT returns the routes of the monitor
func (m *Monitor) RT() generichttp.RouteTable {
	return generichttp.RouteTable{
		{Method: http.MethodGet, Path: "/history"}:      m.HTTPHistory,
		{Method: http.MethodGet, Path: "/history.fits"}: m.HTTPHistoryFITS,
		{Method: http.MethodGet, Path: "/errors"}:       m.HTTPErrors,
	}
}

// fitsColumns is the column order of the FITS image
var fitsColumns = []string{"T", "X", "Y", "VX", "VY"}

// WriteFits streams h to w as a 64 bit float FITS image with one row per
// sample and columns t (seconds since the first sample), x, y, vx, vy
func WriteFits(w io.Writer, h History) error {
	nrows := len(h.Time)
	ncols := len(fitsColumns)
	if nrows == 0 {
		return ErrNoSamples
	}
	fits, err := fitsio.Create(w)
	if err != nil {
		return err
	}
	defer fits.Close()
	// NAXIS1 is the fastest varying axis
	im := fitsio.NewImage(-64, []int{ncols, nrows})
	defer im.Close()
	cards := []fitsio.Card{{Name: "ORIGIN", Value: "fsmsrv", Comment: "quad cell steering mirror loop"}}
	for i, c := range fitsColumns {
		cards = append(cards, fitsio.Card{Name: fmt.Sprintf("COL%d", i+1), Value: c})
	}
	cards = append(cards, fitsio.Card{Name: "T0", Value: h.Time[0].UTC().Format(time.RFC3339Nano), Comment: "time of first sample"})
	err = im.Header().Append(cards...)
	if err != nil {
		return err
	}
	buf := make([]float64, 0, nrows*ncols)
	for i := 0; i < nrows; i++ {
		buf = append(buf, h.Time[i].Sub(h.Time[0]).Seconds(), h.X[i], h.Y[i], h.VoltageX[i], h.VoltageY[i])
	}
	err = im.Write(buf)
	if err != nil {
		return err
	}
	return fits.Write(im)
}
