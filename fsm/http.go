package fsm

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/nasa-jpl/qcloop/generichttp"
	"github.com/nasa-jpl/qcloop/pid"
	"github.com/nasa-jpl/qcloop/util"
)

// HTTPControlLoop is an HTTPer that exposes an HTTP interface to a control loop
type HTTPControlLoop struct {
	c *ControlLoop

	RouteTable generichttp.RouteTable
}

// GainsT is the JSON body of the gains routes
type GainsT struct {
	X pid.Gains `json:"x"`
	Y pid.Gains `json:"y"`
}

// PositionT is the JSON body of GET /position
type PositionT struct {
	X util.JSONFloat `json:"x"`
	Y util.JSONFloat `json:"y"`
}

// NewHTTPControlLoop creates an HTTP wrapper around a control loop
// with pre-populated route table
func NewHTTPControlLoop(c *ControlLoop) HTTPControlLoop {
	h := HTTPControlLoop{c: c}
	rt := generichttp.RouteTable{
		{Method: http.MethodPost, Path: "/start"}:    generichttp.Action(h.Start),
		{Method: http.MethodPost, Path: "/stop"}:     generichttp.Action(h.Stop),
		{Method: http.MethodGet, Path: "/running"}:   generichttp.GetBool(h.Running),
		{Method: http.MethodPost, Path: "/running"}:  generichttp.SetBool(h.SetRunning),
		{Method: http.MethodGet, Path: "/gains"}:     h.GetGains,
		{Method: http.MethodPost, Path: "/gains"}:    h.SetGains,
		{Method: http.MethodGet, Path: "/position"}:  h.Position,
		{Method: http.MethodGet, Path: "/snapshot"}:  h.Snapshot,
		{Method: http.MethodPost, Path: "/center"}:   h.Center,
		{Method: http.MethodGet, Path: "/interval"}:  generichttp.GetString(h.GetInterval),
		{Method: http.MethodPost, Path: "/interval"}: generichttp.SetString(h.SetInterval),
	}
	h.RouteTable = rt
	return h
}

// RT makes HTTPControlLoop conform to generichttp.HTTPer
func (h HTTPControlLoop) RT() generichttp.RouteTable {
	return h.RouteTable
}

// Start lets the loop drive the mirror
func (h HTTPControlLoop) Start() error {
	h.c.Start()
	return nil
}

// Stop stops the loop from driving the mirror
func (h HTTPControlLoop) Stop() error {
	h.c.Stop()
	return nil
}

// Running reports if the loop is driving the mirror, as {"bool": running}
func (h HTTPControlLoop) Running() (bool, error) {
	return h.c.Running(), nil
}

// SetRunning starts or stops the loop from {"bool": running}
func (h HTTPControlLoop) SetRunning(b bool) error {
	if b {
		h.c.Start()
	} else {
		h.c.Stop()
	}
	return nil
}

// GetGains returns the gains of both axes
func (h HTTPControlLoop) GetGains(w http.ResponseWriter, r *http.Request) {
	x, y := h.c.Gains()
	generichttp.ReplyJSON(w, GainsT{X: x, Y: y})
}

// SetGains replaces the controllers of both axes.  Invalid gains are
// rejected with 400 and the controllers in effect are kept.
func (h HTTPControlLoop) SetGains(w http.ResponseWriter, r *http.Request) {
	var g GainsT
	err := json.NewDecoder(r.Body).Decode(&g)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	err = h.c.Reconfigure(g.X, g.Y)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// Position returns the most recent position estimate
func (h HTTPControlLoop) Position(w http.ResponseWriter, r *http.Request) {
	s := h.c.Snapshot()
	generichttp.ReplyJSON(w, PositionT{X: util.JSONFloat(s.X.Position), Y: util.JSONFloat(s.Y.Position)})
}

// Snapshot returns the full state at the end of the most recent tick
func (h HTTPControlLoop) Snapshot(w http.ResponseWriter, r *http.Request) {
	generichttp.ReplyJSON(w, h.c.Snapshot())
}

// Center resets both axes to the safe voltage
func (h HTTPControlLoop) Center(w http.ResponseWriter, r *http.Request) {
	h.c.Center(r.Context())
	w.WriteHeader(http.StatusOK)
}

// GetInterval returns the loop period as a duration string, e.g. {"str": "2ms"}
func (h HTTPControlLoop) GetInterval() (string, error) {
	return h.c.Period().String(), nil
}

// SetInterval sets the loop period from a duration string, e.g. {"str": "2ms"}
func (h HTTPControlLoop) SetInterval(s string) error {
	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	return h.c.SetPeriod(dur)
}
