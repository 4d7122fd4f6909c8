// Package dwmmcsim simulates a DesignWare mobile storage host controller with
// one SD card attached. Controller implements dwmmc.Bus, so a dwmmc.Host can
// run unmodified against it. Commands execute synchronously when the CMD
// register is written, the data phase advances each time RINTSTS is read.
//
// The exported fields of Controller inject faults into the next operations.
package dwmmcsim

import (
	"context"
	"io"

	"golang.org/x/exp/slog"

	"github.com/clktmr/dwmmc/dwmmc"
)

const (
	FIFODepth = 128 // bytes

	// DefaultHardConfig describes an SD/MMC controller for one card on a
	// 32-bit AHB bus with hold register and internal FIFO RAM.
	DefaultHardConfig dwmmc.HardConfig = 0x6430c1
)

// App marks an application command index in Controller.CmdFaults.
func App(index uint8) uint8 { return index | 0x40 }

const responseFaults = dwmmc.IntRTO | dwmmc.IntRE | dwmmc.IntRCRC

// Issued is a command accepted by the controller.
type Issued struct {
	Index uint8
	App   bool
	Arg   uint32
	Flags dwmmc.CmdFlag
}

// ClockUpdate reports whether the command only latched the clock registers.
func (i Issued) ClockUpdate() bool { return i.Flags&dwmmc.CmdUpdateClockOnly != 0 }

// Access is a 32-bit register write.
type Access struct {
	Reg   dwmmc.Reg
	Value uint32
}

type Controller struct {
	Card       *Card
	HardConfig dwmmc.HardConfig

	// CmdFaults raises interrupt bits together with the response of the
	// command with the given index. Use App for application commands.
	CmdFaults map[uint8]dwmmc.Interrupt

	// DataFaults are raised once DataFaultAfter bytes of the next data phase
	// were moved, and then cleared.
	DataFaults     dwmmc.Interrupt
	DataFaultAfter int

	EarlyDTO      bool // raise DTO as soon as the data phase starts
	StallData     bool // data phase never progresses
	StuckCmdLine  bool // CMD start bit is never cleared
	StuckDataBusy bool // STATUS reports the card busy
	StuckReset    bool // CTRL reset bits are never cleared
	NoCmdDone     bool // commands never raise command done
	LockedStops   int  // stop commands answered with HLE

	regs    map[dwmmc.Reg]uint32
	rintsts dwmmc.Interrupt
	fifo    []byte
	pending *transfer
	active  *transfer

	issued []Issued
	stores []Access
	loads  map[dwmmc.Reg]int

	log *slog.Logger
}

// New returns a powered down controller with card inserted.
func New(card *Card, log *slog.Logger) *Controller {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Controller{
		Card:       card,
		HardConfig: DefaultHardConfig,
		CmdFaults:  make(map[uint8]dwmmc.Interrupt),
		regs:       make(map[dwmmc.Reg]uint32),
		loads:      make(map[dwmmc.Reg]int),
		log:        log,
	}
}

func (c *Controller) Load32(r dwmmc.Reg) uint32 {
	c.loads[r]++
	switch r {
	case dwmmc.RegRINTSTS:
		c.stepData()
		return uint32(c.rintsts)
	case dwmmc.RegMINTSTS:
		return uint32(c.rintsts) & c.regs[dwmmc.RegINTMASK]
	case dwmmc.RegSTATUS:
		return uint32(c.status())
	case dwmmc.RegHCON:
		return uint32(c.HardConfig)
	case dwmmc.RegCMD:
		if c.StuckCmdLine {
			return c.regs[r] | uint32(dwmmc.CmdStart)
		}
	}
	return c.regs[r]
}

func (c *Controller) Store32(r dwmmc.Reg, v uint32) {
	c.stores = append(c.stores, Access{r, v})
	switch r {
	case dwmmc.RegRINTSTS:
		c.rintsts &^= dwmmc.Interrupt(v)
	case dwmmc.RegCTRL:
		c.control(dwmmc.Control(v))
	case dwmmc.RegCMD:
		c.regs[r] = v
		if dwmmc.CmdFlag(v)&dwmmc.CmdStart == 0 || c.StuckCmdLine {
			return
		}
		c.execute(v)
		c.regs[r] &^= uint32(dwmmc.CmdStart)
	case dwmmc.RegBYTCNT:
		c.regs[r] = v
		c.startData(int(v))
	case dwmmc.RegHCON, dwmmc.RegSTATUS, dwmmc.RegMINTSTS:
		// read only
	default:
		c.regs[r] = v
	}
}

func (c *Controller) Load8(r dwmmc.Reg) uint8 {
	if r != dwmmc.RegDATA {
		return uint8(c.Load32(r &^ 3))
	}
	if len(c.fifo) == 0 {
		c.rintsts |= dwmmc.IntFRUN
		return 0
	}
	b := c.fifo[0]
	c.fifo = c.fifo[1:]
	return b
}

func (c *Controller) Store8(r dwmmc.Reg, v uint8) {
	if r != dwmmc.RegDATA {
		c.Store32(r&^3, uint32(v))
		return
	}
	if len(c.fifo) >= FIFODepth {
		c.rintsts |= dwmmc.IntFRUN
		return
	}
	c.fifo = append(c.fifo, v)
}

func (c *Controller) control(v dwmmc.Control) {
	if v&dwmmc.CtrlReset != 0 {
		c.rintsts = 0
		c.pending, c.active = nil, nil
	}
	if v&(dwmmc.CtrlReset|dwmmc.CtrlFIFOReset) != 0 {
		c.fifo = nil
	}
	if !c.StuckReset {
		v &^= dwmmc.CtrlReset | dwmmc.CtrlFIFOReset | dwmmc.CtrlDMAReset
	}
	c.regs[dwmmc.RegCTRL] = uint32(v)
}

func (c *Controller) status() dwmmc.Status {
	var s dwmmc.Status
	if len(c.fifo) == 0 {
		s |= dwmmc.StatusFIFOEmpty
	}
	if len(c.fifo) >= FIFODepth {
		s |= dwmmc.StatusFIFOFull
	}
	if c.StuckDataBusy {
		s |= dwmmc.StatusDataBusy
	}
	if c.active != nil {
		s |= dwmmc.StatusMCBusy
	}
	return dwmmc.StatusWithFIFOCount(s, len(c.fifo))
}

func (c *Controller) execute(word uint32) {
	flags := dwmmc.CmdFlag(word) &^ 0x3f
	index := uint8(word & 0x3f)
	arg := c.regs[dwmmc.RegCMDARG]

	if flags&dwmmc.CmdUpdateClockOnly != 0 {
		c.issued = append(c.issued, Issued{Index: index, Arg: arg, Flags: flags})
		return
	}

	if index == dwmmc.CmdStopTransmission && c.LockedStops > 0 {
		c.LockedStops--
		c.rintsts |= dwmmc.IntHLE
		return
	}

	app := c.Card.app
	c.Card.app = false
	c.issued = append(c.issued, Issued{index, app, arg, flags})
	c.pending, c.active = nil, nil

	c.log.LogAttrs(context.Background(), slog.LevelDebug, "sim command",
		slog.Int("index", int(index)), slog.Bool("app", app),
		slog.String("state", c.Card.State().String()))

	if c.NoCmdDone {
		return
	}

	key := index
	if app {
		key = App(index)
	}
	faults := c.CmdFaults[key]
	resp, ok, x := c.Card.command(index, app, arg)

	if flags&dwmmc.CmdRespExpect != 0 {
		if !ok {
			faults |= dwmmc.IntRTO
		}
		if faults&dwmmc.IntRTO != 0 {
			resp = [4]uint32{0xdead_beef, 0xdead_beef, 0xdead_beef, 0xdead_beef}
		}
		c.regs[dwmmc.RegRESP0] = resp[0]
		if flags&dwmmc.CmdRespLong != 0 {
			c.regs[dwmmc.RegRESP1] = resp[1]
			c.regs[dwmmc.RegRESP2] = resp[2]
			c.regs[dwmmc.RegRESP3] = resp[3]
		}
	}
	if x != nil && flags&dwmmc.CmdDataExpected != 0 && faults&responseFaults == 0 {
		c.pending = x
	}
	c.rintsts |= dwmmc.IntCMD | faults
}

func (c *Controller) startData(size int) {
	x := c.pending
	if x == nil {
		return
	}
	c.pending = nil
	if err := c.Card.start(x, size); err != nil {
		c.log.LogAttrs(context.Background(), slog.LevelDebug, "sim storage",
			slog.String("err", err.Error()))
		c.rintsts |= dwmmc.IntDRTO
		return
	}
	c.active = x
	if c.EarlyDTO && !x.write {
		c.rintsts |= dwmmc.IntDTO
	}
}

// stepData moves the active data phase forward by up to one FIFO.
func (c *Controller) stepData() {
	x := c.active
	if x == nil || c.StallData {
		return
	}
	if c.DataFaults != 0 && x.done >= c.DataFaultAfter {
		c.rintsts |= c.DataFaults
		c.DataFaults = 0
		c.active = nil
		return
	}

	if x.write {
		n := copy(x.buf[x.done:], c.fifo)
		x.done += n
		c.fifo = c.fifo[:0]
		if x.done < x.size {
			c.rintsts |= dwmmc.IntTXDR
			return
		}
	} else {
		n := min(FIFODepth-len(c.fifo), x.size-x.done)
		c.fifo = append(c.fifo, x.buf[x.done:x.done+n]...)
		x.done += n
		if len(c.fifo) > 0 {
			c.rintsts |= dwmmc.IntRXDR
		}
		if x.done < x.size {
			return
		}
	}

	c.active = nil
	if err := c.Card.finish(x); err != nil {
		c.rintsts |= dwmmc.IntDCRC
		return
	}
	c.rintsts |= dwmmc.IntDTO
	if x.multi {
		c.rintsts |= dwmmc.IntACD
	}
}

// Issued returns every command accepted so far, clock updates included.
func (c *Controller) Issued() []Issued { return c.issued }

// Count returns how often the command with index was issued. Use App for
// application commands.
func (c *Controller) Count(index uint8) (n int) {
	for _, i := range c.issued {
		key := i.Index
		if i.App {
			key = App(i.Index)
		}
		if key == index && !i.ClockUpdate() {
			n++
		}
	}
	return
}

// Stores returns every 32-bit register write in order.
func (c *Controller) Stores() []Access { return c.stores }

// Loads returns how often r was read.
func (c *Controller) Loads(r dwmmc.Reg) int { return c.loads[r] }

// ResetLog forgets issued commands and register accesses.
func (c *Controller) ResetLog() {
	c.issued, c.stores = nil, nil
	c.loads = make(map[dwmmc.Reg]int)
}
