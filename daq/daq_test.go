package daq

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"
)

func TestNewScaleTwelveBitFifteenVolt(t *testing.T) {
	s := NewScale(12, -15, 15)
	if s.ZeroCode != 2048 {
		t.Errorf("expected zero code 2048 got %d", s.ZeroCode)
	}
	if s.SpanCounts != 4096 || s.SpanVolts != 30 {
		t.Errorf("expected 4096 counts per 30 V got %v per %v", s.SpanCounts, s.SpanVolts)
	}
	if s.MinCode != 0 || s.MaxCode != 4095 {
		t.Errorf("expected code range [0, 4095] got [%d, %d]", s.MinCode, s.MaxCode)
	}
}

func TestScaleCode(t *testing.T) {
	s := NewScale(12, -15, 15)
	cases := []struct {
		volts float64
		code  int
	}{
		{0, 2048},
		{1, 2184},  // floor(2048 + 136.53)
		{-1, 1911}, // floor(2048 - 136.53)
		{7.4, 3058},
		{-15, 0},
		{15, 4095},
		{100, 4095},
		{-100, 0},
	}
	for _, c := range cases {
		if got := s.Code(c.volts); got != c.code {
			t.Errorf("expected %v V to map to code %d, got %d", c.volts, c.code, got)
		}
	}
}

func TestScaleCodeExplicitCalibration(t *testing.T) {
	// hand calibrated 12 bit part, 410 counts per 3 V.  The codes are those
	// the bench has always written, 2048 + (v*410) floor-divided by 3,
	// including 8.7 and -9.3 where v*410 lands just below an integer.
	s := Scale{ZeroCode: 2048, SpanCounts: 410, SpanVolts: 3, MinCode: 0, MaxCode: 4095}
	cases := []struct {
		volts float64
		code  int
	}{
		{1, 2184},
		{-1, 1911},
		{0.1, 2061},
		{3.3, 2499},
		{7.4, 3059},
		{7.5, 3073},
		{-7.5, 1023},
		{8.7, 3236},
		{-9.3, 776},
		{14.99, 4095},
	}
	for _, c := range cases {
		if got := s.Code(c.volts); got != c.code {
			t.Errorf("expected %v V to map to code %d, got %d", c.volts, c.code, got)
		}
	}
}

func TestScaleCodeNaNIsZeroCode(t *testing.T) {
	s := NewScale(12, -10, 10)
	if got := s.Code(math.NaN()); got != s.ZeroCode {
		t.Errorf("expected NaN to map to zero code %d, got %d", s.ZeroCode, got)
	}
}

func TestScaleVolts(t *testing.T) {
	s := NewScale(16, -10, 10)
	if v := s.Volts(s.ZeroCode); v != 0 {
		t.Errorf("expected zero code to be 0 V, got %v", v)
	}
	if v := s.Volts(s.Code(5)); math.Abs(v-5) > 1/s.CountsPerVolt() {
		t.Errorf("expected 5 V to round trip within one count, got %v", v)
	}
}

func TestScaleValid(t *testing.T) {
	if (Scale{}).Valid() {
		t.Error("expected zero Scale to be invalid")
	}
	if !NewScale(12, -10, 10).Valid() {
		t.Error("expected derived Scale to be valid")
	}
}

func TestMockReadWrite(t *testing.T) {
	ctx := context.Background()
	m := NewMock(NewScale(12, -15, 15))
	m.SetInput(2, 1)
	raw, v, err := m.ReadChannel(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if raw != 2184 || v != 1 {
		t.Errorf("expected (2184, 1) got (%d, %v)", raw, v)
	}
	if err := m.WriteChannel(ctx, 1, 1234); err != nil {
		t.Fatal(err)
	}
	if code, ok := m.Output(1); !ok || code != 1234 {
		t.Errorf("expected output 1234 on channel 1, got %d (written=%v)", code, ok)
	}
}

func TestMockOnWriteModelsPlant(t *testing.T) {
	ctx := context.Background()
	m := NewMock(NewScale(12, -15, 15))
	m.OnWrite = func(ch, code int) {
		m.SetInput(ch+10, float64(code))
	}
	m.WriteChannel(ctx, 0, 42)
	_, v, _ := m.ReadChannel(ctx, 10)
	if v != 42 {
		t.Errorf("expected plant hook to set input 42, got %v", v)
	}
}

func TestGuardSubstitutesZeroOnReadFault(t *testing.T) {
	m := NewMock(NewScale(12, -15, 15))
	m.SetInput(1, 3)
	m.FailRead(1, errors.New("UL error"))
	g := NewGuard(m, 0)
	raw, v, err := g.ReadChannel(context.Background(), 1)
	if err != nil || raw != 0 || v != 0 {
		t.Errorf("expected neutral (0, 0, nil) got (%d, %v, %v)", raw, v, err)
	}
	reads, _ := g.Faults()
	if reads != 1 {
		t.Errorf("expected 1 read fault got %d", reads)
	}
}

func TestGuardTimesOutHungRead(t *testing.T) {
	m := NewMock(NewScale(12, -15, 15))
	m.SetInput(1, 3)
	m.Latency = time.Second
	g := NewGuard(m, 5*time.Millisecond)
	start := time.Now()
	_, v, err := g.ReadChannel(context.Background(), 1)
	if err != nil || v != 0 {
		t.Errorf("expected neutral reading after timeout, got %v, %v", v, err)
	}
	if el := time.Since(start); el > 500*time.Millisecond {
		t.Errorf("expected read to be bounded by the timeout, took %v", el)
	}
}

func TestGuardSwallowsWriteFault(t *testing.T) {
	m := NewMock(NewScale(12, -15, 15))
	m.FailWrite(0, errors.New("UL error"))
	g := NewGuard(m, 0)
	if err := g.WriteChannel(context.Background(), 0, 2048); err != nil {
		t.Errorf("expected write fault to be swallowed, got %v", err)
	}
	if _, writes := g.Faults(); writes != 1 {
		t.Errorf("expected 1 write fault got %d", writes)
	}
	if m.Writes(0) != 0 {
		t.Error("expected no successful writes")
	}
}

func TestOpenRetriesUntilSuccess(t *testing.T) {
	attempts := 0
	opener := func() (Board, error) {
		attempts++
		if attempts < 3 {
			return nil, errors.New("no DACs detected")
		}
		return NewMock(NewScale(12, -10, 10)), nil
	}
	p := RetryPolicy{InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond, MaxElapsedTime: time.Second}
	notified := 0
	b, err := Open(context.Background(), opener, p, func(error, time.Duration) { notified++ })
	if err != nil {
		t.Fatal(err)
	}
	if b == nil {
		t.Fatal("expected a board")
	}
	if attempts != 3 || notified != 2 {
		t.Errorf("expected 3 attempts and 2 notifications, got %d and %d", attempts, notified)
	}
}

func TestOpenGivesUp(t *testing.T) {
	opener := func() (Board, error) { return nil, errors.New("no DACs detected") }
	p := RetryPolicy{InitialInterval: time.Millisecond, MaxInterval: time.Millisecond, MaxElapsedTime: 10 * time.Millisecond}
	_, err := Open(context.Background(), opener, p, nil)
	if err == nil {
		t.Error("expected an error after retries are exhausted")
	}
}
