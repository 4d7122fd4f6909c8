package dwmmc

import (
	"fmt"

	"golang.org/x/exp/slog"
)

// Command is a single protocol operation as programmed into the CMD and CMDARG
// registers. Whether a response is expected, its length and whether a data
// phase follows are fixed when the Command is built and select what the
// transport waits for.
type Command struct {
	index uint8
	arg   uint32
	flags CmdFlag
}

// Command indices of the SD physical layer specification.
const (
	CmdGoIdleState       = 0
	CmdAllSendCID        = 2
	CmdSendRelativeAddr  = 3
	CmdSwitchFunc        = 6
	CmdSelectCard        = 7
	CmdSendIfCond        = 8
	CmdSendCSD           = 9
	CmdStopTransmission  = 12
	CmdSendStatus        = 13
	CmdReadSingleBlock   = 17
	CmdReadMultipleBlock = 18
	CmdWriteBlock        = 24
	CmdWriteMultiBlock   = 25
	CmdAppCmd            = 55

	// Application commands, valid after CmdAppCmd.
	ACmdSetBusWidth  = 6
	ACmdSDSendOpCond = 41
)

// Bus widths for SetBusWidth.
const (
	BusWidth1 = 0
	BusWidth4 = 2
)

// Argument bits of SD_SEND_OP_COND.
const (
	opCondHCS  = 1 << 30 // host capacity support
	opCondS18R = 1 << 24 // switch to 1.8V request

	opCondVoltageWindow = 0x00ff8000
)

// HighSpeedSwitch is the CMD6 argument to switch to high speed access mode,
// leaving every other function group unchanged.
const HighSpeedSwitch = 0x00ff_fff1

const cmdDefault = CmdStart | CmdUseHoldReg | CmdWaitPrvData

const (
	flagsR1   = CmdRespExpect | CmdCheckRespCRC
	flagsR2   = CmdRespExpect | CmdRespLong | CmdCheckRespCRC
	flagsR3   = CmdRespExpect // OCR carries no valid CRC
	flagsData = CmdDataExpected
)

func newCommand(index uint8, arg uint32, flags CmdFlag) Command {
	return Command{index: index & cmdIndexMask, arg: arg, flags: cmdDefault | flags}
}

func (c Command) Index() uint8 { return c.index }

func (c Command) Arg() uint32 { return c.arg }

func (c Command) Flags() CmdFlag { return c.flags }

func (c Command) RespExpected() bool { return c.flags&CmdRespExpect != 0 }

// RespLong reports a 136-bit response.
func (c Command) RespLong() bool { return c.flags&CmdRespLong != 0 }

func (c Command) DataExpected() bool { return c.flags&CmdDataExpected != 0 }

// Word returns the value written to the CMD register.
func (c Command) Word() uint32 { return uint32(c.flags) | uint32(c.index) }

func (c Command) String() string {
	return fmt.Sprintf("CMD%d(%#08x)", c.index, c.arg)
}

func (c Command) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("index", int(c.index)),
		slog.String("arg", fmt.Sprintf("%#08x", c.arg)),
		slog.String("cmd", fmt.Sprintf("%#08x", c.Word())),
	)
}

// GoIdle resets the card to idle state (CMD0). The controller sends the
// initialization clock sequence first.
func GoIdle() Command {
	return newCommand(CmdGoIdleState, 0, CmdSendInit)
}

// SendIfCond checks the card's operating voltage (CMD8). The card echoes vhs
// and pattern in an R7 response.
func SendIfCond(vhs uint8, pattern uint8) Command {
	return newCommand(CmdSendIfCond, uint32(vhs&0xf)<<8|uint32(pattern), flagsR1)
}

// AppCmd announces that the next command is an application command (CMD55).
func AppCmd(rca uint16) Command {
	return newCommand(CmdAppCmd, uint32(rca)<<16, flagsR1)
}

// SDSendOpCond starts the card's power up routine and returns the OCR
// (ACMD41).
func SDSendOpCond(hcs, s18r bool) Command {
	arg := uint32(opCondVoltageWindow)
	if hcs {
		arg |= opCondHCS
	}
	if s18r {
		arg |= opCondS18R
	}
	return newCommand(ACmdSDSendOpCond, arg, flagsR3)
}

// AllSendCID asks every card on the bus to send its CID (CMD2).
func AllSendCID() Command {
	return newCommand(CmdAllSendCID, 0, flagsR2)
}

// SendRelativeAddr asks the card to publish a new RCA (CMD3).
func SendRelativeAddr() Command {
	return newCommand(CmdSendRelativeAddr, 0, flagsR1)
}

// SendCSD asks the addressed card for its CSD (CMD9).
func SendCSD(rca uint16) Command {
	return newCommand(CmdSendCSD, uint32(rca)<<16, flagsR2)
}

// SelectCard moves the addressed card into transfer state (CMD7).
func SelectCard(rca uint16) Command {
	return newCommand(CmdSelectCard, uint32(rca)<<16, flagsR1)
}

// SwitchFunction checks or switches card functions (CMD6). The card answers
// with a 64 byte status block on the data lines.
func SwitchFunction(arg uint32) Command {
	return newCommand(CmdSwitchFunc, arg, flagsR1|flagsData)
}

// SetBusWidth selects the card's data bus width (ACMD6).
func SetBusWidth(width uint8) Command {
	return newCommand(ACmdSetBusWidth, uint32(width&0x3), flagsR1)
}

// SendStatus asks the addressed card for its card status (CMD13).
func SendStatus(rca uint16) Command {
	return newCommand(CmdSendStatus, uint32(rca)<<16, flagsR1)
}

// UpdateClock makes the controller latch CLKDIV, CLKSRC and CLKENA. Nothing
// is sent to the card.
func UpdateClock() Command {
	return newCommand(0, 0, CmdUpdateClockOnly)
}

// ReadSingleBlock reads one block at addr (CMD17). addr is a block number for
// high capacity cards and a byte offset otherwise.
func ReadSingleBlock(addr uint32) Command {
	return newCommand(CmdReadSingleBlock, addr, flagsR1|flagsData)
}

// ReadMultipleBlock reads consecutive blocks starting at addr (CMD18). The
// controller ends the transfer with an automatic stop command.
func ReadMultipleBlock(addr uint32) Command {
	return newCommand(CmdReadMultipleBlock, addr, flagsR1|flagsData|CmdSendAutoStop)
}

// WriteSingleBlock writes one block at addr (CMD24).
func WriteSingleBlock(addr uint32) Command {
	return newCommand(CmdWriteBlock, addr, flagsR1|flagsData|CmdWrite)
}

// WriteMultipleBlock writes consecutive blocks starting at addr (CMD25).
func WriteMultipleBlock(addr uint32) Command {
	return newCommand(CmdWriteMultiBlock, addr, flagsR1|flagsData|CmdWrite|CmdSendAutoStop)
}

// StopTransmission ends an open ended or aborted data transfer (CMD12).
func StopTransmission() Command {
	return Command{
		index: CmdStopTransmission,
		flags: CmdStart | CmdUseHoldReg | CmdStopAbort | flagsR1,
	}
}
