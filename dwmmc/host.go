// Package dwmmc drives a DesignWare mobile storage host controller with a
// single SD card attached. Commands are issued and data is moved by polling
// the controller's registers and FIFO, no interrupts or DMA are used.
//
// A Host is not safe for concurrent use.
package dwmmc

import (
	"context"
	"io"
	"time"

	"golang.org/x/exp/slog"

	"github.com/clktmr/dwmmc/dwmmc/sd"
	"github.com/clktmr/dwmmc/timer"
)

const (
	cmdLineTimeout = 0xff * time.Millisecond
	cmdDoneTimeout = 0xff * time.Millisecond
	resetTimeout   = 10 * time.Millisecond

	settleMicros = 100 // after each command
	pollMicros   = 10  // between FIFO polls
	stepMillis   = 10  // between enumeration steps
)

type Config struct {
	DataTimeout    time.Duration // data line and data transfer budget
	PowerUpTimeout time.Duration // how long the card may stay busy after ACMD41
	InitDivider    uint32        // card clock divider during enumeration
	FullDivider    uint32        // card clock divider after enumeration
	SwitchArg      uint32        // argument of SWITCH_FUNC (CMD6), 0 selects HighSpeedSwitch

	// Logger receives register and command traces. Nil discards them.
	Logger *slog.Logger
}

func DefaultConfig() Config {
	return Config{
		DataTimeout:    500 * time.Millisecond,
		PowerUpTimeout: time.Second,
		InitDivider:    62,
		FullDivider:    1,
		SwitchArg:      HighSpeedSwitch,
	}
}

// withDefaults replaces zero fields with their DefaultConfig values, so a zero
// SwitchArg cannot be configured.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.DataTimeout == 0 {
		c.DataTimeout = d.DataTimeout
	}
	if c.PowerUpTimeout == 0 {
		c.PowerUpTimeout = d.PowerUpTimeout
	}
	if c.InitDivider == 0 {
		c.InitDivider = d.InitDivider
	}
	if c.FullDivider == 0 {
		c.FullDivider = d.FullDivider
	}
	if c.SwitchArg == 0 {
		c.SwitchArg = d.SwitchArg
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return c
}

// Card is the identity of an enumerated card.
type Card struct {
	CIC sd.CIC
	OCR sd.OCR
	CID sd.CID
	CSD sd.CSD
	RCA sd.RCA
}

// HighCapacity reports whether the card is addressed in blocks rather than
// bytes.
func (c Card) HighCapacity() bool { return c.OCR.HighCapacity() }

func (c Card) Blocks() uint64 { return c.CSD.Blocks() }

func (c Card) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Uint64("rca", uint64(c.RCA.Address())),
		slog.Any("cid", c.CID),
		slog.Any("csd", c.CSD),
		slog.Bool("sdhc", c.HighCapacity()),
	)
}

type Host struct {
	bus   Bus
	tick  timer.Ticker
	delay timer.Delay
	cfg   Config
	log   *slog.Logger

	hcon  HardConfig
	card  Card
	ready bool
}

// New returns a Host for the controller behind bus. The controller is not
// touched until Init is called.
func New(bus Bus, ticker timer.Ticker, cfg Config) *Host {
	cfg = cfg.withDefaults()
	return &Host{
		bus:   bus,
		tick:  ticker,
		delay: timer.NewDelay(ticker),
		cfg:   cfg,
		log:   cfg.Logger,
	}
}

func (h *Host) Config() Config { return h.cfg }

// HardConfig returns the HCON snapshot taken by the last Init.
func (h *Host) HardConfig() HardConfig { return h.hcon }

// Card returns the identity cached by the last successful Init. The second
// result is false if no card has been enumerated.
func (h *Host) Card() (Card, bool) { return h.card, h.ready }

func (h *Host) logAttrs(level slog.Level, msg string, attrs ...slog.Attr) {
	h.log.LogAttrs(context.Background(), level, msg, attrs...)
}

func (h *Host) debug(msg string, attrs ...slog.Attr) {
	h.logAttrs(slog.LevelDebug, msg, attrs...)
}
