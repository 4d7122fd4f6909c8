package dwmmc

import (
	"fmt"

	"golang.org/x/exp/slog"

	"github.com/clktmr/dwmmc/dwmmc/sd"
	"github.com/clktmr/dwmmc/timer"
)

// Init resets the controller and enumerates the card. On success the card's
// identity is cached and returned by Card. On failure the cached identity is
// cleared and the error of the failing step is returned.
func (h *Host) Init() error {
	h.card, h.ready = Card{}, false

	h.hcon = HardConfig(h.bus.Load32(RegHCON))
	h.debug("hardware config", slog.Any("hcon", h.hcon))

	if err := h.resetController(); err != nil {
		return err
	}
	card, err := h.Enumerate()
	if err != nil {
		h.logAttrs(slog.LevelError, "card init failed", slog.String("err", err.Error()))
		return err
	}
	h.card, h.ready = card, true
	h.logAttrs(slog.LevelInfo, "card ready", slog.Any("card", card))
	return nil
}

func (h *Host) resetController() error {
	h.bus.Store32(RegCTRL, uint32(ctrlAllResets))
	if err := h.WaitReset(ctrlAllResets); err != nil {
		return err
	}

	h.bus.Store32(RegPWREN, 1)
	if err := h.ResetClock(true, h.cfg.InitDivider); err != nil {
		return err
	}

	h.bus.Store32(RegTMOUT, 0xffff_ffff)
	h.bus.Store32(RegRINTSTS, uint32(IntAll))
	h.bus.Store32(RegINTMASK, 0)
	h.bus.Store32(RegCTYPE, 1)
	h.bus.Store32(RegIDINTEN, 0)
	h.bus.Store32(RegBMOD, uint32(BusModeSoftReset))
	return nil
}

// Enumerate walks a freshly powered card from idle to transfer state at full
// clock speed and 4-bit bus width. The controller must have been reset.
func (h *Host) Enumerate() (Card, error) {
	if _, err := h.Send(GoIdle()); err != nil {
		return Card{}, err
	}
	h.delay.SpinMillis(stepMillis)

	var card Card
	var err error
	if card.CIC, err = h.checkVersion(); err != nil {
		return Card{}, err
	}
	if card.OCR, err = h.waitPowerUp(); err != nil {
		return Card{}, err
	}
	if card.CID, err = h.checkCID(); err != nil {
		return Card{}, err
	}
	if card.RCA, err = h.checkRCA(); err != nil {
		return Card{}, err
	}
	rca := card.RCA.Address()
	if card.CSD, err = h.checkCSD(rca); err != nil {
		return Card{}, err
	}
	if err = h.step(SelectCard(rca)); err != nil {
		return Card{}, err
	}
	if err = h.step(SwitchFunction(h.cfg.SwitchArg)); err != nil {
		return Card{}, err
	}
	if err = h.setBusWidth(rca); err != nil {
		return Card{}, err
	}

	if err = h.ResetClock(true, h.cfg.FullDivider); err != nil {
		return Card{}, err
	}
	h.bus.Store32(RegIDINTEN, uint32(DMAReceive|DMATransmit))
	return card, nil
}

// step sends cmd and lets the card settle.
func (h *Host) step(cmd Command) error {
	resp, err := h.Send(cmd)
	if err != nil {
		return err
	}
	h.debug("card status", slog.Any("cmd", cmd), slog.Any("status", resp.CardStatus()))
	h.delay.SpinMillis(stepMillis)
	return nil
}

func (h *Host) checkVersion() (sd.CIC, error) {
	resp, err := h.Send(SendIfCond(1, sd.CheckPattern))
	if err != nil {
		return 0, err
	}
	cic := resp.CIC()
	h.debug("interface condition", slog.Any("cic", cic))
	if cic.VoltageAccepted() != 1 || cic.Pattern() != sd.CheckPattern {
		return 0, fmt.Errorf("%w: %#03x", ErrVoltagePattern, uint32(cic)&0xfff)
	}
	h.delay.SpinMillis(stepMillis)
	return cic, nil
}

// waitPowerUp repeats ACMD41 until the card leaves its power up routine.
func (h *Host) waitPowerUp() (sd.OCR, error) {
	c := timer.NewCountDown(h.tick, h.cfg.PowerUpTimeout)
	for {
		if _, err := h.Send(AppCmd(0)); err != nil {
			return 0, err
		}
		resp, err := h.Send(SDSendOpCond(true, true))
		if err != nil {
			return 0, err
		}
		ocr := resp.OCR()
		if !ocr.IsBusy() {
			h.debug("operation conditions", slog.Any("ocr", ocr))
			h.delay.SpinMillis(stepMillis)
			return ocr, nil
		}
		if c.Expired() {
			return 0, ErrWaitPowerUp
		}
		h.delay.SpinMillis(stepMillis)
	}
}

func (h *Host) checkCID() (sd.CID, error) {
	resp, err := h.Send(AllSendCID())
	if err != nil {
		return sd.CID{}, err
	}
	cid := resp.CID()
	h.debug("card identification", slog.Any("cid", cid))
	h.delay.SpinMillis(stepMillis)
	return cid, nil
}

func (h *Host) checkRCA() (sd.RCA, error) {
	resp, err := h.Send(SendRelativeAddr())
	if err != nil {
		return 0, err
	}
	rca := resp.RCA()
	h.debug("relative address", slog.Any("rca", rca))
	h.delay.SpinMillis(stepMillis)
	return rca, nil
}

func (h *Host) checkCSD(rca uint16) (sd.CSD, error) {
	resp, err := h.Send(SendCSD(rca))
	if err != nil {
		return sd.CSD{}, err
	}
	csd := resp.CSD()
	h.debug("card specific data", slog.Any("csd", csd))
	h.delay.SpinMillis(stepMillis)
	return csd, nil
}

func (h *Host) setBusWidth(rca uint16) error {
	if _, err := h.Send(AppCmd(rca)); err != nil {
		return err
	}
	return h.step(SetBusWidth(BusWidth4))
}
