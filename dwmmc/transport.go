package dwmmc

import (
	"time"

	"golang.org/x/exp/slog"

	"github.com/clktmr/dwmmc/dwmmc/sd"
	"github.com/clktmr/dwmmc/timer"
)

// WaitFor polls pred until it returns true or budget expires. Expiry is
// checked before each call of pred, so a zero budget never calls it. Returns
// false on timeout.
func (h *Host) WaitFor(budget time.Duration, pred func() bool) bool {
	c := timer.NewCountDown(h.tick, budget)
	for {
		if c.Expired() {
			return false
		}
		if pred() {
			return true
		}
	}
}

func (h *Host) waitCmdLine() error {
	ok := h.WaitFor(cmdLineTimeout, func() bool {
		return CmdFlag(h.bus.Load32(RegCMD))&CmdStart == 0
	})
	if !ok {
		return ErrWaitCmdLine
	}
	return nil
}

func (h *Host) waitDataLine() error {
	ok := h.WaitFor(h.cfg.DataTimeout, func() bool {
		return Status(h.bus.Load32(RegSTATUS))&StatusDataBusy == 0
	})
	if !ok {
		return ErrWaitDataLine
	}
	return nil
}

func (h *Host) waitCmdDone() error {
	ok := h.WaitFor(cmdDoneTimeout, func() bool {
		return Interrupt(h.bus.Load32(RegRINTSTS))&IntCMD != 0
	})
	if !ok {
		return ErrWaitCmdDone
	}
	return nil
}

// WaitReset waits for the controller to clear the reset bits in mask.
func (h *Host) WaitReset(mask Control) error {
	ok := h.WaitFor(resetTimeout, func() bool {
		return Control(h.bus.Load32(RegCTRL))&mask == 0
	})
	if !ok {
		return ErrWaitReset
	}
	return nil
}

func (h *Host) issue(cmd Command) {
	h.bus.Store32(RegCMDARG, cmd.Arg())
	h.bus.Store32(RegCMD, cmd.Word())
}

// Send issues cmd and waits for its completion. If cmd expects a response,
// the raw interrupt status is checked for response faults before the response
// registers are read. After a command with a data phase the FIFO is reset, the
// data itself must be moved with ReadData or WriteData.
func (h *Host) Send(cmd Command) (Response, error) {
	if err := h.waitCmdLine(); err != nil {
		return Response{}, err
	}
	h.bus.Store32(RegRINTSTS, uint32(IntAll))

	if cmd.DataExpected() {
		if err := h.waitDataLine(); err != nil {
			return Response{}, err
		}
	}

	h.issue(cmd)
	if err := h.waitCmdDone(); err != nil {
		return Response{}, err
	}

	var resp Response
	if cmd.RespExpected() {
		mask := Interrupt(h.bus.Load32(RegRINTSTS))
		if err := classify(mask & responseErrors); err != nil {
			h.logAttrs(slog.LevelError, "command failed",
				slog.Any("cmd", cmd), slog.String("rintsts", mask.String()))
			h.bus.Store32(RegRINTSTS, uint32(mask))
			return Response{}, err
		}
		if cmd.RespLong() {
			resp.kind = Resp136
			resp.words = [4]uint32{
				h.bus.Load32(RegRESP0),
				h.bus.Load32(RegRESP1),
				h.bus.Load32(RegRESP2),
				h.bus.Load32(RegRESP3),
			}
		} else {
			resp.kind = Resp48
			resp.words[0] = h.bus.Load32(RegRESP0)
		}
	}

	if cmd.DataExpected() {
		h.bus.Store32(RegCTRL, h.bus.Load32(RegCTRL)|uint32(CtrlFIFOReset))
		if err := h.WaitReset(CtrlFIFOReset); err != nil {
			return Response{}, err
		}
	}

	h.delay.SpinMicros(settleMicros)
	h.debug("command", slog.Any("cmd", cmd), slog.Any("resp", resp.words))
	return resp, nil
}

// ResetClock gates the card clock, programs divider and makes the controller
// latch it. The clock stays off unless enable is set.
func (h *Host) ResetClock(enable bool, divider uint32) error {
	upd := UpdateClock()

	if err := h.waitCmdLine(); err != nil {
		return err
	}
	h.bus.Store32(RegCLKENA, 0)
	h.bus.Store32(RegCLKDIV, divider)
	h.issue(upd)
	if !enable {
		return nil
	}

	if err := h.waitCmdLine(); err != nil {
		return err
	}
	h.issue(upd)

	if err := h.waitCmdLine(); err != nil {
		return err
	}
	h.bus.Store32(RegCLKENA, 1)
	h.issue(upd)

	h.debug("card clock", slog.Uint64("div", uint64(divider)))
	return nil
}

// StopTransmission sends CMD12 to bring the card back to transfer state after
// a failed or aborted data transfer. The command is reissued while the
// controller reports a hardware locked error, for at most the command budget.
func (h *Host) StopTransmission() error {
	cmd := StopTransmission()
	c := timer.NewCountDown(h.tick, cmdDoneTimeout)
	for {
		if err := h.waitCmdLine(); err != nil {
			return err
		}
		h.bus.Store32(RegRINTSTS, uint32(IntAll))
		h.issue(cmd)
		if Interrupt(h.bus.Load32(RegRINTSTS))&IntHLE == 0 {
			break
		}
		if c.Expired() {
			return ErrHardwareLocked
		}
	}

	status := sd.CardStatus(h.bus.Load32(RegRESP0))
	h.debug("stop transmission", slog.Any("status", status))

	return h.waitCmdDone()
}
