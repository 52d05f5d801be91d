package daq

import (
	"context"
	"errors"
	"log"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

var (
	// ErrBusy is returned by a Guard when a previous call to the board has
	// not yet returned
	ErrBusy = errors.New("board busy, previous call still outstanding")
)

// DefaultTimeout bounds each hardware call made through a Guard
const DefaultTimeout = 50 * time.Millisecond

// Guard wraps a Board.  Every call is bounded by Timeout; a failed read
// yields the neutral reading (0, 0) and a nil error, a failed write is
// dropped.  Faults are counted and logged, at most a few times per second.
//
// Only one call is outstanding on the underlying board at a time.  If a call
// hangs past its deadline, subsequent calls fail fast with ErrBusy until it
// returns.
type Guard struct {
	Board Board

	// Timeout bounds each call.  Zero means DefaultTimeout
	Timeout time.Duration

	readFaults  uint64
	writeFaults uint64
	busy        chan struct{}
	logs        *rate.Limiter
}

// NewGuard returns a Guard around b
func NewGuard(b Board, timeout time.Duration) *Guard {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Guard{
		Board:   b,
		Timeout: timeout,
		busy:    make(chan struct{}, 1),
		logs:    rate.NewLimiter(rate.Every(time.Second), 5)}
}

func (g *Guard) do(ctx context.Context, f func(context.Context) error) error {
	select {
	case g.busy <- struct{}{}:
	default:
		return ErrBusy
	}
	ctx, cancel := context.WithTimeout(ctx, g.Timeout)
	defer cancel()
	done := make(chan error, 1)
	go func() {
		defer func() { <-g.busy }()
		done <- f(ctx)
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *Guard) logf(format string, args ...interface{}) {
	if g.logs.Allow() {
		log.Printf(format, args...)
	}
}

// ReadChannel reads a channel, substituting zero for any failure
func (g *Guard) ReadChannel(ctx context.Context, channel int) (int, float64, error) {
	var (
		raw   int
		volts float64
	)
	err := g.do(ctx, func(ctx context.Context) error {
		var err error
		raw, volts, err = g.Board.ReadChannel(ctx, channel)
		return err
	})
	if err != nil {
		atomic.AddUint64(&g.readFaults, 1)
		g.logf("daq: read of channel %d failed, substituting 0: %v", channel, err)
		return 0, 0, nil
	}
	return raw, volts, nil
}

// WriteChannel writes a channel.  Failures are logged and dropped
func (g *Guard) WriteChannel(ctx context.Context, channel int, code int) error {
	err := g.do(ctx, func(ctx context.Context) error {
		return g.Board.WriteChannel(ctx, channel, code)
	})
	if err != nil {
		atomic.AddUint64(&g.writeFaults, 1)
		g.logf("daq: write of code %d to channel %d failed, skipped: %v", code, channel, err)
	}
	return nil
}

// Close closes the underlying board
func (g *Guard) Close() error {
	return g.Board.Close()
}

// Faults returns the number of failed reads and writes so far
func (g *Guard) Faults() (reads, writes uint64) {
	return atomic.LoadUint64(&g.readFaults), atomic.LoadUint64(&g.writeFaults)
}
