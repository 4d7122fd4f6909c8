package sd

import (
	"fmt"

	"golang.org/x/exp/slog"
)

// CheckPattern is the echo pattern sent with CMD8.
const CheckPattern = 0xaa

// CIC is the R7 response to SEND_IF_COND (CMD8).
type CIC uint32

// VoltageAccepted returns the accepted supply voltage range, 0x1 for 2.7-3.6V.
func (r CIC) VoltageAccepted() uint8 { return uint8(r>>8) & 0xf }

// Pattern returns the echoed check pattern.
func (r CIC) Pattern() uint8 { return uint8(r) }

func (r CIC) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Uint64("voltage", uint64(r.VoltageAccepted())),
		slog.Uint64("pattern", uint64(r.Pattern())),
	)
}

// OCR is the operation conditions register, returned in the R3 response to
// SD_SEND_OP_COND (ACMD41).
type OCR uint32

const (
	OCRVoltageWindow OCR = 0x00ff8000 // 2.7-3.6V
	OCRS18A          OCR = 1 << 24    // switching to 1.8V accepted
	OCRUHS2          OCR = 1 << 29
	OCRCCS           OCR = 1 << 30 // card capacity status
	OCRPowerUp       OCR = 1 << 31 // cleared while the card is busy
)

// IsBusy reports whether the card is still running its power up routine.
func (r OCR) IsBusy() bool { return r&OCRPowerUp == 0 }

// HighCapacity reports an SDHC or SDXC card. Only valid once not busy.
func (r OCR) HighCapacity() bool { return r&OCRCCS != 0 }

func (r OCR) UHS2() bool { return r&OCRUHS2 != 0 }

// V18Allowed reports that the card accepted the switch to 1.8V signaling.
func (r OCR) V18Allowed() bool { return r&OCRS18A != 0 }

// VoltageWindow returns bits 23:15, one bit per 100mV step from 2.7V.
func (r OCR) VoltageWindow() uint16 { return uint16((r & OCRVoltageWindow) >> 15) }

func (r OCR) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Bool("busy", r.IsBusy()),
		slog.Bool("ccs", r.HighCapacity()),
		slog.Bool("s18a", r.V18Allowed()),
		slog.String("window", fmt.Sprintf("%#03x", r.VoltageWindow())),
	)
}

// RCA is the R6 response to SEND_RELATIVE_ADDR (CMD3).
type RCA uint32

// Address returns the published relative card address.
func (r RCA) Address() uint16 { return uint16(r >> 16) }

// Status expands the compressed card status bits of R6 into a CardStatus.
func (r RCA) Status() CardStatus {
	s := CardStatus(r & 0x1fff)
	if bit(uint32(r), 13) {
		s |= StatusError
	}
	if bit(uint32(r), 14) {
		s |= StatusIllegalCommand
	}
	if bit(uint32(r), 15) {
		s |= StatusComCRCError
	}
	return s
}

func (r RCA) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("rca", fmt.Sprintf("%#04x", r.Address())),
		slog.Any("status", r.Status()),
	)
}

// CardStatus is the 32-bit card status of an R1 response.
type CardStatus uint32

const (
	StatusAKESeqError      CardStatus = 1 << 3
	StatusAppCmd           CardStatus = 1 << 5
	StatusFXEvent          CardStatus = 1 << 6
	StatusReadyForData     CardStatus = 1 << 8
	StatusEraseReset       CardStatus = 1 << 13
	StatusCardECCDisabled  CardStatus = 1 << 14
	StatusWPEraseSkip      CardStatus = 1 << 15
	StatusCSDOverwrite     CardStatus = 1 << 16
	StatusError            CardStatus = 1 << 19
	StatusCCError          CardStatus = 1 << 20
	StatusCardECCFailed    CardStatus = 1 << 21
	StatusIllegalCommand   CardStatus = 1 << 22
	StatusComCRCError      CardStatus = 1 << 23
	StatusLockUnlockFailed CardStatus = 1 << 24
	StatusCardIsLocked     CardStatus = 1 << 25
	StatusWPViolation      CardStatus = 1 << 26
	StatusEraseParam       CardStatus = 1 << 27
	StatusEraseSeqError    CardStatus = 1 << 28
	StatusBlockLenError    CardStatus = 1 << 29
	StatusAddressError     CardStatus = 1 << 30
	StatusOutOfRange       CardStatus = 1 << 31
	statusStateMask        CardStatus = 0xf << 9
	StatusErrorMask        CardStatus = 0xfdf98008
)

// State is the card's current state in the data transfer state machine.
type State uint8

const (
	StateIdle State = iota
	StateReady
	StateIdent
	StateStby
	StateTran
	StateData
	StateRcv
	StatePrg
	StateDis
)

var stateNames = [...]string{"idle", "ready", "ident", "stby", "tran", "data", "rcv", "prg", "dis"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("reserved(%d)", uint8(s))
}

func (s CardStatus) State() State { return State((s & statusStateMask) >> 9) }

func (s CardStatus) ReadyForData() bool { return s&StatusReadyForData != 0 }

func (s CardStatus) AppCmd() bool { return s&StatusAppCmd != 0 }

// Errors returns only the error bits of the status.
func (s CardStatus) Errors() CardStatus { return s & StatusErrorMask }

func (s CardStatus) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("state", s.State().String()),
		slog.Bool("ready", s.ReadyForData()),
		slog.Bool("app", s.AppCmd()),
		slog.String("errors", fmt.Sprintf("%#08x", uint32(s.Errors()))),
	)
}

// NewCardStatus builds a status word in the given state, as a card would
// report it.
func NewCardStatus(state State, flags CardStatus) CardStatus {
	return flags&^statusStateMask | CardStatus(state)<<9
}
