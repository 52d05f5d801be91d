package main

import (
	"sync"

	"github.com/nasa-jpl/qcloop/daq"
	"github.com/nasa-jpl/qcloop/fsm"
)

// plant simulates a steering mirror imaging a spot onto the quad cell.
// The spot moves linearly with the mirror voltages about the safe voltage,
// with a fixed misalignment so the loop has something to correct.
type plant struct {
	m   *daq.Mock
	cfg fsm.Config

	mu sync.Mutex
	v  [2]float64

	// gain is the spot displacement per volt of mirror drive
	gain [2]float64

	// offset is the spot position with the mirror at the safe voltage
	offset [2]float64

	// bias is the signal on every quadrant with the spot centered
	bias float64
}

// newPlant returns a mock board wired to a simulated mirror.  The plant
// gains have the sign that the default loop gains correct.
func newPlant(cfg fsm.Config, in daq.Scale) *daq.Mock {
	p := &plant{
		m:      daq.NewMock(in),
		cfg:    cfg,
		v:      [2]float64{cfg.SafeVoltage, cfg.SafeVoltage},
		gain:   [2]float64{-0.5, 0.5},
		offset: [2]float64{0.2, -0.1},
		bias:   1}
	p.m.OnWrite = p.onWrite
	p.update()
	return p.m
}

func (p *plant) onWrite(channel, code int) {
	p.mu.Lock()
	switch channel {
	case p.cfg.Channels.OutX:
		p.v[fsm.X] = p.cfg.Scale.Volts(code)
	case p.cfg.Channels.OutY:
		p.v[fsm.Y] = p.cfg.Scale.Volts(code)
	default:
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()
	p.update()
}

// spot returns the position of the spot for the current mirror voltages
func (p *plant) spot() (x, y float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	x = p.offset[fsm.X] + p.gain[fsm.X]*(p.v[fsm.X]-p.cfg.SafeVoltage)
	y = p.offset[fsm.Y] + p.gain[fsm.Y]*(p.v[fsm.Y]-p.cfg.SafeVoltage)
	return x, y
}

// update presents the quadrant signals of the current spot on the inputs
func (p *plant) update() {
	x, y := p.spot()
	d := [4]float64{
		p.bias - (x-y)/4,
		p.bias + (x+y)/4,
		p.bias - (x+y)/4,
		p.bias + (x-y)/4}
	in := make(map[int]float64, 4)
	for i, ch := range p.cfg.Channels.Inputs {
		in[ch] = d[i]
	}
	p.m.SetInputs(in)
}
