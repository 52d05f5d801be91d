//go:build !uldaq
// +build !uldaq

// Package mccdaq provides A Go interface to MCC DACs and ADCs
package mccdaq

import (
	"context"
	"errors"

	"github.com/nasa-jpl/qcloop/daq"
)

// ErrNotSupported is returned by Open when the binary was built without
// libuldaq, i.e. without -tags uldaq
var ErrNotSupported = errors.New("mccdaq: built without libuldaq support, rebuild with -tags uldaq")

// Board is an interface to an MCC board with analog inputs and outputs.
// Without libuldaq it can not be opened.
type Board struct{}

// Open always fails without libuldaq
func Open(boardNum int, rng string, scale daq.Scale) (*Board, error) {
	return nil, ErrNotSupported
}

// ReadChannel always fails without libuldaq
func (b *Board) ReadChannel(ctx context.Context, channel int) (int, float64, error) {
	return 0, 0, ErrNotSupported
}

// WriteChannel always fails without libuldaq
func (b *Board) WriteChannel(ctx context.Context, channel int, code int) error {
	return ErrNotSupported
}

// Close is a no-op without libuldaq
func (b *Board) Close() error {
	return nil
}
