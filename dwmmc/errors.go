package dwmmc

import (
	"errors"
	"fmt"
)

// TimeoutError reports a bounded wait that expired, and where in the protocol
// it stalled.
type TimeoutError struct {
	Wait string
}

func (e *TimeoutError) Error() string { return "dwmmc: timeout waiting for " + e.Wait }

func (e *TimeoutError) Timeout() bool { return true }

var (
	ErrWaitCmdLine  = &TimeoutError{"command line"}
	ErrWaitDataLine = &TimeoutError{"data line"}
	ErrWaitCmdDone  = &TimeoutError{"command done"}
	ErrWaitReset    = &TimeoutError{"controller reset"}
	ErrWaitPowerUp  = &TimeoutError{"card power up"}
)

// Errors derived from the raw interrupt status.
var (
	ErrResponseTimeout = errors.New("dwmmc: response timeout")
	ErrResponse        = errors.New("dwmmc: response error")
	ErrResponseCRC     = errors.New("dwmmc: response CRC error")
	ErrData            = errors.New("dwmmc: data error")
	ErrHardwareLocked  = errors.New("dwmmc: hardware locked write error")
)

// Protocol errors.
var (
	ErrVoltagePattern      = errors.New("dwmmc: unexpected voltage or check pattern")
	ErrDataTransferTimeout = errors.New("dwmmc: data transfer timeout")
	ErrCardStatus          = errors.New("dwmmc: card status error")
)

// DataError reports data phase faults raised by the controller. It matches
// ErrData with errors.Is.
type DataError struct {
	Status Interrupt
}

func (e *DataError) Error() string {
	return fmt.Sprintf("%v: %v", ErrData, e.Status)
}

func (e *DataError) Is(target error) bool { return target == ErrData }

const responseErrors = IntRTO | IntRE | IntRCRC

// classify maps raw interrupt status to an error. Response timeout wins over
// every other bit since the response registers hold garbage in that case.
func classify(mask Interrupt) error {
	switch {
	case mask&IntRTO != 0:
		return ErrResponseTimeout
	case mask&IntRE != 0:
		return ErrResponse
	case mask&IntRCRC != 0:
		return ErrResponseCRC
	case mask&intErrors != 0:
		return &DataError{mask & intErrors}
	}
	return nil
}
