package monitor

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/astrogo/fitsio"
	"github.com/google/go-cmp/cmp"

	"github.com/nasa-jpl/qcloop/fsm"
)

// counter is a SnapshotSource whose position advances by one per snapshot
type counter struct {
	n  float64
	t0 time.Time
}

func (c *counter) Snapshot() fsm.Snapshot {
	c.n++
	return fsm.Snapshot{
		Time: c.t0.Add(time.Duration(c.n) * time.Second),
		X:    fsm.AxisState{Position: c.n, Voltage: 7.5, History: []float64{c.n - 1, c.n}},
		Y:    fsm.AxisState{Position: -c.n, Voltage: 7.5, History: []float64{1 - c.n, -c.n}},
	}
}

func TestHistoryNeverExceedsCapacity(t *testing.T) {
	m := New(&counter{}, time.Second, 3)
	for i := 0; i < 5; i++ {
		m.Sample()
		if l := len(m.History().X); l > 3 {
			t.Fatalf("history length %d exceeds capacity 3", l)
		}
	}
	h := m.History()
	if diff := cmp.Diff([]float64{3, 4, 5}, h.X); diff != "" {
		t.Errorf("expected the three most recent samples, oldest first (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]float64{-3, -4, -5}, h.Y); diff != "" {
		t.Errorf("y mismatch (-want +got):\n%s", diff)
	}
}

func TestHistoryBeforeFull(t *testing.T) {
	m := New(&counter{}, time.Second, 10)
	m.Sample()
	m.Sample()
	if diff := cmp.Diff([]float64{1, 2}, m.History().X); diff != "" {
		t.Errorf("history mismatch (-want +got):\n%s", diff)
	}
}

func TestErrorsAreLatestWindows(t *testing.T) {
	m := New(&counter{}, time.Second, 10)
	if e := m.Errors(); len(e.X) != 0 {
		t.Errorf("expected empty errors before the first sample, got %v", e.X)
	}
	m.Sample()
	m.Sample()
	if diff := cmp.Diff(Errors{X: []float64{1, 2}, Y: []float64{-1, -2}}, m.Errors()); diff != "" {
		t.Errorf("errors mismatch (-want +got):\n%s", diff)
	}
}

func TestRunSamplesUntilCancelled(t *testing.T) {
	m := New(&counter{}, time.Millisecond, 1000)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err := m.Run(ctx)
	if err != context.DeadlineExceeded {
		t.Errorf("expected DeadlineExceeded got %v", err)
	}
	if len(m.History().X) == 0 {
		t.Error("expected at least one sample")
	}
}

func TestHTTPHistory(t *testing.T) {
	m := New(&counter{}, time.Second, 10)
	m.Sample()
	rec := httptest.NewRecorder()
	m.HTTPHistory(rec, httptest.NewRequest(http.MethodGet, "/history", nil))
	var h History
	if err := json.NewDecoder(rec.Body).Decode(&h); err != nil {
		t.Fatal(err)
	}
	if len(h.X) != 1 || h.X[0] != 1 {
		t.Errorf("expected one sample at x=1, got %v", h.X)
	}
}

func TestHTTPHistoryFITSEmpty(t *testing.T) {
	m := New(&counter{}, time.Second, 10)
	rec := httptest.NewRecorder()
	m.HTTPHistoryFITS(rec, httptest.NewRequest(http.MethodGet, "/history.fits", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 with no samples, got %d", rec.Code)
	}
}

func TestWriteFitsRoundTrip(t *testing.T) {
	m := New(&counter{}, time.Second, 10)
	for i := 0; i < 4; i++ {
		m.Sample()
	}
	var buf bytes.Buffer
	if err := WriteFits(&buf, m.History()); err != nil {
		t.Fatal(err)
	}
	f, err := fitsio.Open(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	img := f.HDU(0).(fitsio.Image)
	axes := img.Header().Axes()
	if diff := cmp.Diff([]int{5, 4}, axes); diff != "" {
		t.Errorf("axes mismatch (-want +got):\n%s", diff)
	}
	data := make([]float64, 20)
	if err := img.Read(&data); err != nil {
		t.Fatal(err)
	}
	// row 2: t=2s after the first sample, x=3, y=-3
	if data[10] != 2 || data[11] != 3 || data[12] != -3 {
		t.Errorf("unexpected third row %v", data[10:15])
	}
}

// diverged is a SnapshotSource whose x axis has gone non-finite
type diverged struct{}

func (diverged) Snapshot() fsm.Snapshot {
	return fsm.Snapshot{
		Time: time.Unix(0, 0),
		X:    fsm.AxisState{Position: math.NaN(), Voltage: 7.5, History: []float64{1, math.NaN()}},
		Y:    fsm.AxisState{Position: 0.5, Voltage: math.Inf(1), History: []float64{0, 0.5}},
	}
}

func TestHTTPHistoryWithNonFiniteSamples(t *testing.T) {
	m := New(diverged{}, time.Second, 10)
	m.Sample()
	rec := httptest.NewRecorder()
	m.HTTPHistory(rec, httptest.NewRequest(http.MethodGet, "/history", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rec.Code, rec.Body.String())
	}
	var h map[string][]interface{}
	if err := json.NewDecoder(rec.Body).Decode(&h); err != nil {
		t.Fatal(err)
	}
	if h["x"][0] != nil || h["voltage_y"][0] != nil {
		t.Errorf("expected NaN and Inf to be null, got x=%v voltage_y=%v", h["x"], h["voltage_y"])
	}
	if h["y"][0] != 0.5 {
		t.Errorf("expected y 0.5 got %v", h["y"][0])
	}
}

func TestHTTPErrorsWithNonFiniteWindow(t *testing.T) {
	m := New(diverged{}, time.Second, 10)
	m.Sample()
	rec := httptest.NewRecorder()
	m.HTTPErrors(rec, httptest.NewRequest(http.MethodGet, "/errors", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rec.Code, rec.Body.String())
	}
	var e map[string][]interface{}
	if err := json.NewDecoder(rec.Body).Decode(&e); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]interface{}{1., nil}, e["x"]); diff != "" {
		t.Errorf("x window mismatch (-want +got):\n%s", diff)
	}
}
