package dwmmc

import (
	"strings"
)

// Reg is a register offset from the controller's base address.
type Reg uintptr

const (
	RegCTRL    Reg = 0x000 // control
	RegPWREN   Reg = 0x004 // power enable
	RegCLKDIV  Reg = 0x008 // clock divider
	RegCLKSRC  Reg = 0x00c // clock source
	RegCLKENA  Reg = 0x010 // clock enable
	RegTMOUT   Reg = 0x014 // response and data read timeout
	RegCTYPE   Reg = 0x018 // card bus width
	RegBLKSIZ  Reg = 0x01c // block size
	RegBYTCNT  Reg = 0x020 // byte count
	RegINTMASK Reg = 0x024
	RegCMDARG  Reg = 0x028
	RegCMD     Reg = 0x02c
	RegRESP0   Reg = 0x030
	RegRESP1   Reg = 0x034
	RegRESP2   Reg = 0x038
	RegRESP3   Reg = 0x03c
	RegMINTSTS Reg = 0x040 // masked interrupt status
	RegRINTSTS Reg = 0x044 // raw interrupt status, write 1 to clear
	RegSTATUS  Reg = 0x048
	RegFIFOTH  Reg = 0x04c // FIFO threshold watermark
	RegCDETECT Reg = 0x050 // card detect
	RegWRTPRT  Reg = 0x054 // write protect
	RegTCBCNT  Reg = 0x05c // transferred CIU card byte count
	RegTBBCNT  Reg = 0x060 // transferred host to BIU-FIFO byte count
	RegVERID   Reg = 0x06c
	RegHCON    Reg = 0x070 // hardware configuration, read only
	RegUHS     Reg = 0x074
	RegBMOD    Reg = 0x080 // internal DMAC bus mode
	RegIDSTS   Reg = 0x08c // internal DMAC status
	RegIDINTEN Reg = 0x090 // internal DMAC interrupt enable
	RegDATA    Reg = 0x200 // data FIFO window
)

type Control uint32

const (
	CtrlReset Control = 1 << iota // controller reset
	CtrlFIFOReset
	CtrlDMAReset
	_
	CtrlIntEnable
	CtrlDMAEnable
	CtrlReadWait
	CtrlSendIRQResponse
	CtrlAbortReadData
	CtrlSendCCSD
	CtrlSendAutoStopCCSD
	CtrlCEATAIntEnable

	CtrlUseIDMAC Control = 1 << 25

	ctrlAllResets = CtrlReset | CtrlFIFOReset | CtrlDMAReset
)

// Interrupt is the layout of the RINTSTS, MINTSTS and INTMASK registers.
type Interrupt uint32

const (
	IntCD   Interrupt = 1 << iota // card detect
	IntRE                         // response error
	IntCMD                        // command done
	IntDTO                        // data transfer over
	IntTXDR                       // transmit FIFO data request
	IntRXDR                       // receive FIFO data request
	IntRCRC                       // response CRC error
	IntDCRC                       // data CRC error
	IntRTO                        // response timeout
	IntDRTO                       // data read timeout
	IntHTO                        // data starvation by host timeout
	IntFRUN                       // FIFO underrun/overrun
	IntHLE                        // hardware locked write error
	IntSBE                        // start bit error
	IntACD                        // auto command done
	IntEBE                        // end bit error

	IntAll Interrupt = 0xffff_ffff

	// Faults checked while a data transfer is in progress.
	intErrors = IntRE | IntRCRC | IntDCRC | IntRTO | IntDRTO | IntHTO | IntFRUN | IntHLE | IntSBE | IntEBE
)

var intNames = [...]string{"CD", "RE", "CMD", "DTO", "TXDR", "RXDR", "RCRC", "DCRC",
	"RTO", "DRTO", "HTO", "FRUN", "HLE", "SBE", "ACD", "EBE"}

func (f Interrupt) String() string {
	var s []string
	for i, name := range intNames {
		if f&(1<<i) != 0 {
			s = append(s, name)
		}
	}
	if f>>16 != 0 {
		s = append(s, "SDIO")
	}
	if len(s) == 0 {
		return "0"
	}
	return strings.Join(s, "|")
}

// CmdFlag is the layout of the CMD register without the command index.
type CmdFlag uint32

const (
	CmdRespExpect   CmdFlag = 1 << (iota + 6) // response expected
	CmdRespLong                               // 136-bit response
	CmdCheckRespCRC                           // check response CRC
	CmdDataExpected                           // data transfer follows
	CmdWrite                                  // data direction is write
	CmdStreamMode                             // stream instead of block transfer
	CmdSendAutoStop                           // send STOP_TRANSMISSION after transfer
	CmdWaitPrvData                            // wait for previous data transfer
	CmdStopAbort                              // stop or abort the current transfer
	CmdSendInit                               // send 80 initialization clocks first
	_
	_
	_
	_
	_
	CmdUpdateClockOnly // update clock registers, nothing sent to card
	CmdReadCEATA
	CmdCCSExpected
	CmdEnableBoot
	CmdExpectBootAck
	CmdDisableBoot
	CmdBootMode
	CmdVoltSwitch
	CmdUseHoldReg
	_
	CmdStart // cleared by the controller once the command is taken

	cmdIndexMask = 0x3f
)

// Status is the layout of the read-only STATUS register.
type Status uint32

const (
	StatusFIFORxWatermark Status = 1 << iota
	StatusFIFOTxWatermark
	StatusFIFOEmpty
	StatusFIFOFull

	StatusData3     Status = 1 << 8
	StatusDataBusy  Status = 1 << 9  // card data line busy
	StatusMCBusy    Status = 1 << 10 // data state machine busy
	statusFIFOShift        = 17
	statusFIFOMask         = 0x1fff
)

// FIFOCount returns the number of filled FIFO locations.
func (s Status) FIFOCount() int {
	return int(s>>statusFIFOShift) & statusFIFOMask
}

// StatusWithFIFOCount replaces the FIFO count field of s.
func StatusWithFIFOCount(s Status, n int) Status {
	return s&^(statusFIFOMask<<statusFIFOShift) | Status(n&statusFIFOMask)<<statusFIFOShift
}

// DMAInt is the layout of IDSTS and IDINTEN.
type DMAInt uint32

const (
	DMATransmit       DMAInt = 1 << 0 // TI
	DMAReceive        DMAInt = 1 << 1 // RI
	DMAFatalBusError  DMAInt = 1 << 2
	DMADescUnavail    DMAInt = 1 << 4
	DMACardErrSummary DMAInt = 1 << 5
	DMANormalSummary  DMAInt = 1 << 8
	DMAAbnormalSumary DMAInt = 1 << 9
)

// BusMode is the layout of BMOD.
type BusMode uint32

const (
	BusModeSoftReset  BusMode = 1 << 0
	BusModeFixedBurst BusMode = 1 << 1
	BusModeDMAEnable  BusMode = 1 << 7
)
