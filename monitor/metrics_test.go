package monitor

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nasa-jpl/qcloop/fsm"
)

type fixed fsm.Snapshot

func (f fixed) Snapshot() fsm.Snapshot { return fsm.Snapshot(f) }

func TestRegisterExposesSnapshot(t *testing.T) {
	src := fixed{
		Tick:    7,
		Running: true,
		X:       fsm.AxisState{Position: 0.25, Voltage: 7.5, Resets: 2},
		Y:       fsm.AxisState{Position: -0.5, Voltage: 8}}
	reg := prometheus.NewRegistry()
	require.NoError(t, Register(reg, src))

	n, err := testutil.GatherAndCount(reg)
	require.NoError(t, err)
	assert.Equal(t, 8, n)

	mfs, err := reg.Gather()
	require.NoError(t, err)
	got := map[string]float64{}
	for _, mf := range mfs {
		m := mf.GetMetric()[0]
		if g := m.GetGauge(); g != nil {
			got[mf.GetName()] = g.GetValue()
		} else {
			got[mf.GetName()] = m.GetCounter().GetValue()
		}
	}
	assert.Equal(t, 0.25, got["fsm_position_x"])
	assert.Equal(t, -0.5, got["fsm_position_y"])
	assert.Equal(t, 8., got["fsm_voltage_y_volts"])
	assert.Equal(t, 1., got["fsm_running"])
	assert.Equal(t, 7., got["fsm_ticks_total"])
	assert.Equal(t, 2., got["fsm_resets_x_total"])
}

func TestRegisterTwiceFails(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, Register(reg, fixed{}))
	assert.Error(t, Register(reg, fixed{}))
}
