// Package fsm provides a system for operating a fast steering mirror control system at high speed
//
// A quad cell photodiode is sampled through four analog inputs, the spot
// position is estimated from them, and one PID controller per axis computes a
// correction that is accumulated into the voltage driving that axis of the
// mirror.
package fsm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/nasa-jpl/qcloop/daq"
	"github.com/nasa-jpl/qcloop/pid"
	"github.com/nasa-jpl/qcloop/util"
)

// Axis indices
const (
	X = 0
	Y = 1
)

var axisNames = [2]string{"x", "y"}

// ErrConfig is returned by New for a configuration that can not be run
var ErrConfig = errors.New("invalid control loop configuration")

// QuadCell estimates the spot position on a 2x2 detector laid out as
//
//	d1 d2
//	d3 d4
func QuadCell(d1, d2, d3, d4 float64) (x, y float64) {
	return d4 + d2 - d3 - d1, d1 + d2 - d3 - d4
}

// Channels maps the detector quadrants and mirror axes to board channels
type Channels struct {
	// Inputs are the analog inputs for quadrants d1..d4
	Inputs [4]int `yaml:"Inputs" koanf:"Inputs"`

	// OutX and OutY are the analog outputs driving each mirror axis
	OutX int `yaml:"OutX" koanf:"OutX"`
	OutY int `yaml:"OutY" koanf:"OutY"`
}

// Config holds the parameters of a ControlLoop
type Config struct {
	Channels Channels `yaml:"Channels" koanf:"Channels"`

	// Scale converts output voltages to actuator codes
	Scale daq.Scale `yaml:"Scale" koanf:"Scale"`

	// SafeVoltage is the neutral voltage the accumulators start at, and are
	// reset to when they leave Safety
	SafeVoltage float64 `yaml:"SafeVoltage" koanf:"SafeVoltage"`

	// Safety is the open interval the accumulators must stay inside
	Safety util.Limiter `yaml:"Safety" koanf:"Safety"`

	// Period is the minimum time between ticks.  Zero runs as fast as the
	// board allows
	Period time.Duration `yaml:"Period" koanf:"Period"`

	// NominalDT is the time step, in seconds, given to the controllers when
	// Period is zero
	NominalDT float64 `yaml:"NominalDT" koanf:"NominalDT"`

	// X and Y are the initial gains of each axis
	X pid.Gains `yaml:"X" koanf:"X"`
	Y pid.Gains `yaml:"Y" koanf:"Y"`
}

// DefaultConfig returns the configuration of the bench the loop was first
// built for: a 12 bit +/-15V board, quadrants on inputs 1-4, x on output 1
// and y on output 0
func DefaultConfig() Config {
	return Config{
		Channels: Channels{
			Inputs: [4]int{1, 2, 3, 4},
			OutX:   1,
			OutY:   0},
		Scale: daq.Scale{
			ZeroCode:   2048,
			SpanCounts: 410,
			SpanVolts:  3,
			MinCode:    0,
			MaxCode:    4095},
		SafeVoltage: 7.5,
		Safety:      util.Limiter{Min: -15, Max: 15},
		NominalDT:   1,
		X:           pid.Gains{WindowLength: 10, Kp: 1},
		Y:           pid.Gains{WindowLength: 10, Kp: -1},
	}
}

// Validate returns an error wrapping ErrConfig if c can not be run
func (c Config) Validate() error {
	if !c.Scale.Valid() {
		return fmt.Errorf("%w: scale %+v is not usable", ErrConfig, c.Scale)
	}
	if !c.Safety.Valid() {
		return fmt.Errorf("%w: safety interval (%v, %v) is empty", ErrConfig, c.Safety.Min, c.Safety.Max)
	}
	if !c.Safety.Check(c.SafeVoltage) {
		return fmt.Errorf("%w: safe voltage %v is outside the safety interval (%v, %v)",
			ErrConfig, c.SafeVoltage, c.Safety.Min, c.Safety.Max)
	}
	if c.Period < 0 {
		return fmt.Errorf("%w: period must not be negative, got %v", ErrConfig, c.Period)
	}
	if c.Period == 0 && !(c.NominalDT > 0) {
		return fmt.Errorf("%w: nominal dt must be positive when period is zero, got %v", ErrConfig, c.NominalDT)
	}
	if err := c.X.Validate(); err != nil {
		return fmt.Errorf("x axis: %w", err)
	}
	if err := c.Y.Validate(); err != nil {
		return fmt.Errorf("y axis: %w", err)
	}
	return nil
}

// pair is an immutable pair of controllers.  It is replaced wholesale on
// reconfiguration, never modified in place by anyone but the loop.
type pair [2]*pid.Controller

func newPair(x, y pid.Gains, dt float64) (*pair, error) {
	cx, err := pid.New(x)
	if err != nil {
		return nil, fmt.Errorf("x axis: %w", err)
	}
	cy, err := pid.New(y)
	if err != nil {
		return nil, fmt.Errorf("y axis: %w", err)
	}
	cx.NominalDT = dt
	cy.NominalDT = dt
	return &pair{cx, cy}, nil
}

// AxisState is the state of one axis at the end of a tick
type AxisState struct {
	// Position is the position estimate fed to the controller
	Position float64 `json:"position"`

	// Voltage is the accumulated actuator voltage
	Voltage float64 `json:"voltage"`

	// Code is Voltage converted to the actuator's units
	Code int `json:"code"`

	// Terms holds the pieces of the last controller update
	Terms pid.Terms `json:"terms"`

	// History is the controller's error window, oldest first
	History []float64 `json:"history"`

	// Gains are the gains of the controller that produced Terms
	Gains pid.Gains `json:"gains"`

	// Resets counts the fail-to-neutral resets of this axis
	Resets uint64 `json:"resets"`

	// Diverged is true if any term of the last update was NaN or infinite
	Diverged bool `json:"diverged"`
}

// MarshalJSON writes non-finite values as null
func (a AxisState) MarshalJSON() ([]byte, error) {
	type plain AxisState
	return json.Marshal(struct {
		plain
		Position util.JSONFloat   `json:"position"`
		Voltage  util.JSONFloat   `json:"voltage"`
		History  []util.JSONFloat `json:"history"`
	}{
		plain:    plain(a),
		Position: util.JSONFloat(a.Position),
		Voltage:  util.JSONFloat(a.Voltage),
		History:  util.JSONFloats(a.History)})
}

// Snapshot is a consistent copy of the loop state.  Snapshots are immutable
// once published; the slices they hold are never written again.
type Snapshot struct {
	Time    time.Time  `json:"time"`
	Tick    uint64     `json:"tick"`
	Running bool       `json:"running"`
	Raw     [4]float64 `json:"raw"`
	X       AxisState  `json:"x"`
	Y       AxisState  `json:"y"`
}

// MarshalJSON writes non-finite values as null
func (s Snapshot) MarshalJSON() ([]byte, error) {
	type plain Snapshot
	var raw [4]util.JSONFloat
	for i, f := range s.Raw {
		raw[i] = util.JSONFloat(f)
	}
	return json.Marshal(struct {
		plain
		Raw [4]util.JSONFloat `json:"raw"`
	}{plain: plain(s), Raw: raw})
}

// ControlLoop is a struct which operates a control loop
type ControlLoop struct {
	sampler  daq.Sampler
	actuator daq.Actuator
	cfg      Config

	ctls    atomic.Value // *pair
	snap    atomic.Value // *Snapshot
	running int32
	period  int64 // time.Duration
	limiter *rate.Limiter
	logs    *rate.Limiter

	// actMu serializes accumulation and writes to the actuator between the
	// loop and Center
	actMu   sync.Mutex
	voltage [2]float64
	resets  [2]uint64
	ticks   uint64
}

// New creates a new ControlLoop.  The accumulators start at the safe voltage
// and the loop starts stopped.
func New(s daq.Sampler, a daq.Actuator, cfg Config) (*ControlLoop, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c := &ControlLoop{
		sampler:  s,
		actuator: a,
		cfg:      cfg,
		period:   int64(cfg.Period),
		limiter:  rate.NewLimiter(limitFor(cfg.Period), 1),
		logs:     rate.NewLimiter(rate.Every(time.Second), 5),
		voltage:  [2]float64{cfg.SafeVoltage, cfg.SafeVoltage}}
	p, err := newPair(cfg.X, cfg.Y, c.dt())
	if err != nil {
		return nil, err
	}
	c.ctls.Store(p)
	c.snap.Store(&Snapshot{
		X: AxisState{Voltage: cfg.SafeVoltage, Code: cfg.Scale.Code(cfg.SafeVoltage), History: p[X].History(), Gains: cfg.X},
		Y: AxisState{Voltage: cfg.SafeVoltage, Code: cfg.Scale.Code(cfg.SafeVoltage), History: p[Y].History(), Gains: cfg.Y},
	})
	return c, nil
}

func limitFor(period time.Duration) rate.Limit {
	if period <= 0 {
		return rate.Inf
	}
	return rate.Every(period)
}

func (c *ControlLoop) logf(format string, args ...interface{}) {
	if c.logs.Allow() {
		log.Printf(format, args...)
	}
}

// dt is the time step handed to the controllers
func (c *ControlLoop) dt() float64 {
	if p := c.Period(); p > 0 {
		return p.Seconds()
	}
	return c.cfg.NominalDT
}

// Config returns the configuration the loop was created with
func (c *ControlLoop) Config() Config {
	return c.cfg
}

// Start allows the loop to drive the actuator.  Accumulators and controller
// history are untouched.
func (c *ControlLoop) Start() {
	atomic.StoreInt32(&c.running, 1)
}

// Stop prevents the loop from driving the actuator.  The controllers keep
// being updated so that a later Start does not produce a derivative spike.
//
// Stop waits for a write already in flight, so no tick writes to the
// actuator after it returns.
func (c *ControlLoop) Stop() {
	c.actMu.Lock()
	atomic.StoreInt32(&c.running, 0)
	c.actMu.Unlock()
}

// Running returns true if the loop is driving the actuator
func (c *ControlLoop) Running() bool {
	return atomic.LoadInt32(&c.running) == 1
}

// Period returns the minimum time between ticks
func (c *ControlLoop) Period() time.Duration {
	return time.Duration(atomic.LoadInt64(&c.period))
}

// SetPeriod changes the minimum time between ticks.  Zero is unthrottled.
// The time step of the controllers follows the period from the next tick.
func (c *ControlLoop) SetPeriod(d time.Duration) error {
	if d < 0 {
		return fmt.Errorf("%w: period must not be negative, got %v", ErrConfig, d)
	}
	if d == 0 && !(c.cfg.NominalDT > 0) {
		return fmt.Errorf("%w: nominal dt must be positive to run unthrottled", ErrConfig)
	}
	atomic.StoreInt64(&c.period, int64(d))
	c.limiter.SetLimit(limitFor(d))
	return nil
}

// Gains returns the gains of the controllers in effect
func (c *ControlLoop) Gains() (x, y pid.Gains) {
	p := c.ctls.Load().(*pair)
	return p[X].Gains(), p[Y].Gains()
}

// Reconfigure replaces both controllers with new ones built from x and y.
// Both are validated first; if either is invalid, nothing changes.  The new
// controllers start with an empty history, the actuator voltages carry over.
func (c *ControlLoop) Reconfigure(x, y pid.Gains) error {
	p, err := newPair(x, y, c.dt())
	if err != nil {
		return err
	}
	c.ctls.Store(p)
	log.Printf("fsm: controllers reconfigured, x=%+v y=%+v", x, y)
	return nil
}

// Snapshot returns the state at the end of the most recent tick.  It never
// blocks the loop.
func (c *ControlLoop) Snapshot() Snapshot {
	s := *c.snap.Load().(*Snapshot)
	s.Running = c.Running()
	return s
}

func (c *ControlLoop) read(ctx context.Context) [4]float64 {
	var d [4]float64
	for i, ch := range c.cfg.Channels.Inputs {
		_, v, err := c.sampler.ReadChannel(ctx, ch)
		if err != nil {
			c.logf("fsm: read of channel %d failed, substituting 0: %v", ch, err)
			v = 0
		}
		d[i] = v
	}
	return d
}

func (c *ControlLoop) write(ctx context.Context, codes [2]int) {
	outs := [2]int{c.cfg.Channels.OutX, c.cfg.Channels.OutY}
	for i, ch := range outs {
		if err := c.actuator.WriteChannel(ctx, ch, codes[i]); err != nil {
			c.logf("fsm: write of code %d to channel %d failed, skipped: %v", codes[i], ch, err)
		}
	}
}

// Tick turns the crank on the control loop once: sample the detector,
// update both controllers, and if running, accumulate their outputs into
// the actuator voltages and write them out.
//
// An accumulator that would leave the safety interval is reset to the safe
// voltage instead.
func (c *ControlLoop) Tick(ctx context.Context) {
	raw := c.read(ctx)
	var pos [2]float64
	pos[X], pos[Y] = QuadCell(raw[0], raw[1], raw[2], raw[3])

	ctls := c.ctls.Load().(*pair)
	dt := c.dt()
	var out [2]float64
	var terms [2]pid.Terms
	for ax := range ctls {
		out[ax] = ctls[ax].Update(pos[ax], dt)
		terms[ax] = ctls[ax].Terms()
		if !terms[ax].Finite() {
			c.logf("fsm: %s axis diverged, terms %+v", axisNames[ax], terms[ax])
		}
	}

	c.actMu.Lock()
	running := c.Running()
	if running {
		for ax := range out {
			v := c.voltage[ax] + out[ax]
			if !c.cfg.Safety.Check(v) {
				c.logf("fsm: %s axis voltage %v outside (%v, %v), reset to %v",
					axisNames[ax], v, c.cfg.Safety.Min, c.cfg.Safety.Max, c.cfg.SafeVoltage)
				v = c.cfg.SafeVoltage
				c.resets[ax]++
			}
			c.voltage[ax] = v
		}
	}
	volts := c.voltage
	resets := c.resets
	codes := [2]int{c.cfg.Scale.Code(volts[X]), c.cfg.Scale.Code(volts[Y])}
	if running {
		c.write(ctx, codes)
	}
	c.ticks++

	// published under actMu so Center can not be overwritten by a stale tick
	s := &Snapshot{Time: time.Now(), Tick: c.ticks, Running: running, Raw: raw}
	axes := [2]*AxisState{&s.X, &s.Y}
	for ax, st := range axes {
		*st = AxisState{
			Position: pos[ax],
			Voltage:  volts[ax],
			Code:     codes[ax],
			Terms:    terms[ax],
			History:  ctls[ax].History(),
			Gains:    ctls[ax].Gains(),
			Resets:   resets[ax],
			Diverged: !terms[ax].Finite()}
	}
	c.snap.Store(s)
	c.actMu.Unlock()
}

// Run ticks the loop until ctx is cancelled, no faster than Period.
// It returns ctx.Err().
func (c *ControlLoop) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := c.limiter.Wait(ctx); err != nil {
			// the wait would outlast the deadline on ctx
			<-ctx.Done()
			return ctx.Err()
		}
		c.Tick(ctx)
	}
}

// Center resets both accumulators to the safe voltage and writes them to
// the actuator, whether or not the loop is running
func (c *ControlLoop) Center(ctx context.Context) {
	c.actMu.Lock()
	defer c.actMu.Unlock()
	c.voltage = [2]float64{c.cfg.SafeVoltage, c.cfg.SafeVoltage}
	code := c.cfg.Scale.Code(c.cfg.SafeVoltage)
	c.write(ctx, [2]int{code, code})

	prev := c.snap.Load().(*Snapshot)
	s := *prev
	s.Time = time.Now()
	s.X.Voltage, s.Y.Voltage = c.cfg.SafeVoltage, c.cfg.SafeVoltage
	s.X.Code, s.Y.Code = code, code
	c.snap.Store(&s)
}
