package dwmmc

import (
	"io"

	"golang.org/x/exp/slog"

	"github.com/clktmr/dwmmc/debug"
	"github.com/clktmr/dwmmc/timer"
)

// ReadData moves blocks*blockSize bytes of the data phase of the last command
// from the FIFO into buf. It returns once everything was received and the
// controller reported data transfer over.
func (h *Host) ReadData(buf []byte, blocks, blockSize uint32) error {
	debug.Assert(blockSize > 0, "dwmmc: zero block size")
	size := int(blocks * blockSize)
	if len(buf) < size {
		return io.ErrShortBuffer
	}

	h.bus.Store32(RegBLKSIZ, blockSize)
	h.bus.Store32(RegBYTCNT, blocks*blockSize)

	offset := 0
	c := timer.NewCountDown(h.tick, h.cfg.DataTimeout)
	for {
		mask := Interrupt(h.bus.Load32(RegRINTSTS))
		if offset == size && mask&IntDTO != 0 {
			break
		}
		if err := h.checkData(mask); err != nil {
			return err
		}
		h.delay.SpinMicros(pollMicros)
		if c.Expired() {
			return ErrDataTransferTimeout
		}
		if mask&(IntRXDR|IntDTO) != 0 {
			for offset < size && Status(h.bus.Load32(RegSTATUS)).FIFOCount() != 0 {
				buf[offset] = h.bus.Load8(RegDATA)
				offset++
			}
			h.bus.Store32(RegRINTSTS, uint32(IntRXDR))
		}
	}
	h.bus.Store32(RegRINTSTS, h.bus.Load32(RegRINTSTS))
	return nil
}

// WriteData moves blocks*blockSize bytes from buf into the FIFO for the data
// phase of the last command. Unlike ReadData it returns as soon as the
// controller reports data transfer over.
func (h *Host) WriteData(buf []byte, blocks, blockSize uint32) error {
	debug.Assert(blockSize > 0, "dwmmc: zero block size")
	size := int(blocks * blockSize)
	if len(buf) < size {
		return io.ErrShortBuffer
	}

	h.bus.Store32(RegBLKSIZ, blockSize)
	h.bus.Store32(RegBYTCNT, blocks*blockSize)

	offset := 0
	c := timer.NewCountDown(h.tick, h.cfg.DataTimeout)
	for {
		mask := Interrupt(h.bus.Load32(RegRINTSTS))
		if mask&IntDTO != 0 {
			break
		}
		if err := h.checkData(mask); err != nil {
			return err
		}
		h.delay.SpinMicros(pollMicros)
		if c.Expired() {
			return ErrDataTransferTimeout
		}
		if mask&IntTXDR != 0 {
			for offset < size && Status(h.bus.Load32(RegSTATUS))&StatusFIFOFull == 0 {
				h.bus.Store8(RegDATA, buf[offset])
				offset++
			}
			h.bus.Store32(RegRINTSTS, uint32(IntTXDR))
		}
	}
	h.bus.Store32(RegRINTSTS, h.bus.Load32(RegRINTSTS))
	return nil
}

func (h *Host) checkData(mask Interrupt) error {
	err := classify(mask)
	if err != nil {
		h.logAttrs(slog.LevelError, "data transfer failed", slog.String("rintsts", mask.String()))
	}
	return err
}
