//go:build uldaq
// +build uldaq

// Package mccdaq provides A Go interface to MCC DACs and ADCs
package mccdaq

/*
#cgo CFLAGS: -I/usr/local/include
#cgo LDFLAGS: -L/usr/local/lib -luldaq
#include <stdlib.h>
#include <uldaq.h>

*/
import "C"
import (
	"context"
	"fmt"
	"sync"
	"unsafe"

	"github.com/pkg/errors"

	"github.com/nasa-jpl/qcloop/daq"
)

// Board is an interface to an MCC board with analog inputs and outputs
type Board struct {
	handle C.DaqDeviceHandle
	rng    C.Range
	scale  daq.Scale

	// the library is not reentrant for a single handle
	mu sync.Mutex
}

func ulErr(op string, code C.UlError) error {
	if code == C.ERR_NO_ERROR {
		return nil
	}
	buf := (*C.char)(C.malloc(C.ERR_MSG_LEN))
	defer C.free(unsafe.Pointer(buf))
	C.ulGetErrMsg(code, buf)
	return fmt.Errorf("%s: UL error %d: %s", op, int(code), C.GoString(buf))
}

func parseRange(rng string) (C.Range, error) {
	switch rng {
	case "BIP15VOLTS", "-15,15":
		return C.BIP15VOLTS, nil
	case "BIP10VOLTS", "-10,10":
		return C.BIP10VOLTS, nil
	case "BIP5VOLTS", "-5,5":
		return C.BIP5VOLTS, nil
	case "UNI10VOLTS", "0,10":
		return C.UNI10VOLTS, nil
	case "UNI5VOLTS", "0,5":
		return C.UNI5VOLTS, nil
	}
	return 0, fmt.Errorf("unknown range %q", rng)
}

// Open opens a new connection to board number boardNum in the device
// inventory.  rng is the analog range used for both input and output, e.g.
// "BIP15VOLTS".  scale converts raw input counts to volts.
func Open(boardNum int, rng string, scale daq.Scale) (*Board, error) {
	// this function is largely "copy/pasted" (transpiled to C/Go) from the example on
	// github.com/mccdaq/uldaq under "Usage"
	const maxDevs = 16
	var (
		ary     [maxDevs]C.DaqDeviceDescriptor
		numdevs C.uint = maxDevs
	)
	r, err := parseRange(rng)
	if err != nil {
		return nil, err
	}
	if err := ulErr("ulGetDaqDeviceInventory", C.ulGetDaqDeviceInventory(C.ANY_IFC, &ary[0], &numdevs)); err != nil {
		return nil, err
	}
	if int(numdevs) <= boardNum {
		return nil, fmt.Errorf("board %d not detected, %d MCC devices present", boardNum, int(numdevs))
	}
	b := &Board{rng: r, scale: scale}
	b.handle = C.ulCreateDaqDevice(ary[boardNum])
	if b.handle == 0 {
		return nil, fmt.Errorf("connection to board %d not opened properly", boardNum)
	}
	if err := ulErr("ulConnectDaqDevice", C.ulConnectDaqDevice(b.handle)); err != nil {
		C.ulReleaseDaqDevice(b.handle)
		return nil, errors.Wrapf(err, "connecting to board %d", boardNum)
	}
	return b, nil
}

// ReadChannel reads a single sample from an analog input channel
func (b *Board) ReadChannel(ctx context.Context, channel int) (int, float64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var data C.double
	err := ulErr("ulAIn", C.ulAIn(b.handle, C.int(channel), C.AI_SINGLE_ENDED, b.rng, C.AIN_FF_NOSCALEDATA, &data))
	if err != nil {
		return 0, 0, err
	}
	raw := int(data)
	return raw, b.scale.Volts(raw), nil
}

// WriteChannel sends a raw code to an analog output channel
func (b *Board) WriteChannel(ctx context.Context, channel int, code int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	// AOUT_FF_NOSCALEDATA, data is in counts, not volts
	return ulErr("ulAOut", C.ulAOut(b.handle, C.int(channel), b.rng, C.AOUT_FF_NOSCALEDATA, C.double(code)))
}

// Close removes the connection to the board and releases the device
func (b *Board) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	C.ulDisconnectDaqDevice(b.handle)
	C.ulReleaseDaqDevice(b.handle)
	return nil
}
