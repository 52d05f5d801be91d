package daq

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrClosed is returned by a Mock after Close
var ErrClosed = errors.New("board closed")

// Mock is an in-memory Board.  Inputs are set with SetInput, outputs are
// recorded and can be read back with Output.  Faults and latency may be
// injected per channel.
type Mock struct {
	sync.Mutex

	// InScale converts input volts to the raw codes returned by ReadChannel
	InScale Scale

	// Latency is slept (or until ctx expires) on every call
	Latency time.Duration

	// OnWrite, if not nil, is called with the board unlocked after every
	// successful write.  It may call SetInput to model a plant.
	OnWrite func(channel, code int)

	inputs    map[int]float64
	outputs   map[int]int
	writes    map[int]int
	readErrs  map[int]error
	writeErrs map[int]error
	closed    bool
}

// NewMock returns a Mock whose inputs convert with scale
func NewMock(scale Scale) *Mock {
	return &Mock{
		InScale:   scale,
		inputs:    make(map[int]float64),
		outputs:   make(map[int]int),
		writes:    make(map[int]int),
		readErrs:  make(map[int]error),
		writeErrs: make(map[int]error)}
}

func (m *Mock) wait(ctx context.Context) error {
	if m.Latency <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(m.Latency)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SetInput sets the voltage presented on an input channel
func (m *Mock) SetInput(channel int, volts float64) {
	m.Lock()
	defer m.Unlock()
	m.inputs[channel] = volts
}

// SetInputs sets several input channels at once
func (m *Mock) SetInputs(volts map[int]float64) {
	m.Lock()
	defer m.Unlock()
	for ch, v := range volts {
		m.inputs[ch] = v
	}
}

// FailRead makes reads of channel return err.  A nil err clears the fault
func (m *Mock) FailRead(channel int, err error) {
	m.Lock()
	defer m.Unlock()
	if err == nil {
		delete(m.readErrs, channel)
		return
	}
	m.readErrs[channel] = err
}

// FailWrite makes writes to channel return err.  A nil err clears the fault
func (m *Mock) FailWrite(channel int, err error) {
	m.Lock()
	defer m.Unlock()
	if err == nil {
		delete(m.writeErrs, channel)
		return
	}
	m.writeErrs[channel] = err
}

// Output returns the last code written to a channel and whether any write
// has happened
func (m *Mock) Output(channel int) (int, bool) {
	m.Lock()
	defer m.Unlock()
	code, ok := m.outputs[channel]
	return code, ok
}

// Writes returns the number of successful writes to a channel
func (m *Mock) Writes(channel int) int {
	m.Lock()
	defer m.Unlock()
	return m.writes[channel]
}

// ReadChannel satisfies Sampler
func (m *Mock) ReadChannel(ctx context.Context, channel int) (int, float64, error) {
	if err := m.wait(ctx); err != nil {
		return 0, 0, err
	}
	m.Lock()
	defer m.Unlock()
	if m.closed {
		return 0, 0, ErrClosed
	}
	if err := m.readErrs[channel]; err != nil {
		return 0, 0, err
	}
	v := m.inputs[channel]
	return m.InScale.Code(v), v, nil
}

// WriteChannel satisfies Actuator
func (m *Mock) WriteChannel(ctx context.Context, channel int, code int) error {
	if err := m.wait(ctx); err != nil {
		return err
	}
	m.Lock()
	if m.closed {
		m.Unlock()
		return ErrClosed
	}
	if err := m.writeErrs[channel]; err != nil {
		m.Unlock()
		return err
	}
	m.outputs[channel] = code
	m.writes[channel]++
	hook := m.OnWrite
	m.Unlock()
	if hook != nil {
		hook(channel, code)
	}
	return nil
}

// Close satisfies io.Closer
func (m *Mock) Close() error {
	m.Lock()
	defer m.Unlock()
	m.closed = true
	return nil
}
