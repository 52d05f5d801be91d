//go:build !uldaq
// +build !uldaq

package mccdaq

import (
	"errors"
	"testing"

	"github.com/nasa-jpl/qcloop/daq"
)

func TestOpenWithoutLibraryIsNotSupported(t *testing.T) {
	_, err := Open(0, "BIP15VOLTS", daq.NewScale(12, -15, 15))
	if !errors.Is(err, ErrNotSupported) {
		t.Errorf("expected ErrNotSupported got %v", err)
	}
}

var _ daq.Board = (*Board)(nil)
