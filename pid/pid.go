/*Package pid implements a discrete time PID controller.

The integral term is not an unbounded running sum; it is the mean of the most
recent WindowLength errors, held in a ring buffer that starts out full of
zeros.  This bounds the growth of the output under a persistent bias, and
the controller is sometimes called PSD (proportional-sum-difference) in this
form.

A Controller is not safe for concurrent use.  Callers that share one between
goroutines must serialize access.
*/
package pid

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/nasa-jpl/qcloop/util"
)

// ErrInvalidGains is returned when a set of gains can not be used to build a
// controller
var ErrInvalidGains = errors.New("invalid gains")

// Gains holds the tunable parameters of a controller
type Gains struct {
	// WindowLength is the number of past errors averaged by the integral term
	WindowLength int `json:"window_length" yaml:"WindowLength" koanf:"WindowLength"`

	// Kp is the proportional gain
	Kp float64 `json:"kp" yaml:"Kp" koanf:"Kp"`

	// Ki is the integral gain
	Ki float64 `json:"ki" yaml:"Ki" koanf:"Ki"`

	// Kd is the derivative gain
	Kd float64 `json:"kd" yaml:"Kd" koanf:"Kd"`
}

// Validate returns an error wrapping ErrInvalidGains if g can not be used
func (g Gains) Validate() error {
	if g.WindowLength <= 0 {
		return fmt.Errorf("%w: window length must be positive, got %d", ErrInvalidGains, g.WindowLength)
	}
	for _, f := range []float64{g.Kp, g.Ki, g.Kd} {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("%w: gains must be finite, got kp=%v ki=%v kd=%v", ErrInvalidGains, g.Kp, g.Ki, g.Kd)
		}
	}
	return nil
}

// Terms holds the pieces of the most recent update, for diagnostics
type Terms struct {
	Error      float64 `json:"error"`
	Derivative float64 `json:"derivative"`
	Integral   float64 `json:"integral"`
	P          float64 `json:"p"`
	I          float64 `json:"i"`
	D          float64 `json:"d"`
	Output     float64 `json:"output"`
}

// Finite returns true if none of the terms is NaN or infinite
func (t Terms) Finite() bool {
	return util.AllFinite(t.Error, t.Derivative, t.Integral, t.P, t.I, t.D, t.Output)
}

// MarshalJSON writes non-finite terms as null, so a diverged controller can
// still be inspected
func (t Terms) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Error      util.JSONFloat `json:"error"`
		Derivative util.JSONFloat `json:"derivative"`
		Integral   util.JSONFloat `json:"integral"`
		P          util.JSONFloat `json:"p"`
		I          util.JSONFloat `json:"i"`
		D          util.JSONFloat `json:"d"`
		Output     util.JSONFloat `json:"output"`
	}{
		util.JSONFloat(t.Error),
		util.JSONFloat(t.Derivative),
		util.JSONFloat(t.Integral),
		util.JSONFloat(t.P),
		util.JSONFloat(t.I),
		util.JSONFloat(t.D),
		util.JSONFloat(t.Output)})
}

// Controller is a PID controller with a moving-average integral term
type Controller struct {
	// NominalDT is used in place of dt when Update is given a non-positive or
	// non-finite time step
	NominalDT float64

	gains   Gains
	history window
	last    float64
	hasLast bool
	terms   Terms
}

// New returns a new controller with a zeroed error history
func New(g Gains) (*Controller, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return &Controller{
		NominalDT: 1,
		gains:     g,
		history:   newWindow(g.WindowLength)}, nil
}

// Update feeds the latest error sample to the controller and returns the
// control output
//
//	u = kp*e + kd*(e - e_prev)/dt + ki*mean(e_{n-N+1}..e_n)
//
// The first call after construction has zero derivative.  NaN and Inf are
// not masked and propagate to the output.
func (c *Controller) Update(err, dt float64) float64 {
	if !c.hasLast {
		c.last = err
		c.hasLast = true
	}
	if !(dt > 0) || math.IsInf(dt, 0) {
		dt = c.NominalDT
	}
	derivative := (err - c.last) / dt
	c.history.push(err)
	integral := c.history.mean()
	c.last = err

	t := Terms{
		Error:      err,
		Derivative: derivative,
		Integral:   integral,
		P:          c.gains.Kp * err,
		I:          c.gains.Ki * integral,
		D:          c.gains.Kd * derivative,
	}
	t.Output = t.P + t.D + t.I
	c.terms = t
	return t.Output
}

// Gains returns the gains the controller was built with
func (c *Controller) Gains() Gains {
	return c.gains
}

// History returns a copy of the error history from oldest to newest.
// It always has WindowLength elements.
func (c *Controller) History() []float64 {
	return c.history.contiguous()
}

// Terms returns the terms computed by the most recent Update
func (c *Controller) Terms() Terms {
	return c.terms
}
