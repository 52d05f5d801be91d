package daq

import (
	"context"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/pkg/errors"
)

// Opener connects to a board
type Opener func() (Board, error)

// RetryPolicy describes how hard Open tries before giving up
type RetryPolicy struct {
	InitialInterval time.Duration `yaml:"InitialInterval" koanf:"InitialInterval"`
	MaxInterval     time.Duration `yaml:"MaxInterval" koanf:"MaxInterval"`
	MaxElapsedTime  time.Duration `yaml:"MaxElapsedTime" koanf:"MaxElapsedTime"`
}

// DefaultRetryPolicy is used when fields of a RetryPolicy are zero
var DefaultRetryPolicy = RetryPolicy{
	InitialInterval: 100 * time.Millisecond,
	MaxInterval:     2 * time.Second,
	MaxElapsedTime:  15 * time.Second}

// Open calls open with exponential backoff until it succeeds, the policy's
// elapsed time runs out, or ctx is cancelled.  notify, if not nil, is called
// after each failed attempt with the error and the wait before the next one.
func Open(ctx context.Context, open Opener, p RetryPolicy, notify func(error, time.Duration)) (Board, error) {
	if p.InitialInterval <= 0 {
		p.InitialInterval = DefaultRetryPolicy.InitialInterval
	}
	if p.MaxInterval <= 0 {
		p.MaxInterval = DefaultRetryPolicy.MaxInterval
	}
	if p.MaxElapsedTime <= 0 {
		p.MaxElapsedTime = DefaultRetryPolicy.MaxElapsedTime
	}
	var board Board
	op := func() error {
		b, err := open()
		if err != nil {
			return err
		}
		board = b
		return nil
	}
	bo := &backoff.ExponentialBackOff{
		InitialInterval:     p.InitialInterval,
		RandomizationFactor: 0.,
		Multiplier:          2.,
		MaxInterval:         p.MaxInterval,
		MaxElapsedTime:      p.MaxElapsedTime,
		Clock:               backoff.SystemClock}
	bo.Reset()
	err := backoff.RetryNotify(op, backoff.WithContext(bo, ctx), notify)
	if err != nil {
		return nil, errors.Wrap(err, "opening DAQ board")
	}
	return board, nil
}
