package dwmmc

import (
	"golang.org/x/exp/slog"
)

// HardConfig is the controller's synthesis configuration as reported by the
// read-only HCON register.
type HardConfig uint32

func (c HardConfig) field(lo, width uint) uint32 {
	return uint32(c>>lo) & (1<<width - 1)
}

// CardType returns 0 for MMC only and 1 for SD/MMC.
func (c HardConfig) CardType() uint8 { return uint8(c.field(0, 1)) }

func (c HardConfig) NumCards() int { return int(c.field(1, 5)) + 1 }

// BusType returns 0 for APB and 1 for AHB.
func (c HardConfig) BusType() uint8 { return uint8(c.field(6, 1)) }

// DataWidth returns the host data bus width in bits.
func (c HardConfig) DataWidth() int { return 16 << c.field(7, 3) }

func (c HardConfig) AddrWidth() int { return int(c.field(10, 6)) + 1 }

// DMAInterface returns 0 for none, 1 DesignWare, 2 generic, 3 non-DW.
func (c HardConfig) DMAInterface() uint8 { return uint8(c.field(16, 2)) }

func (c HardConfig) DMADataWidth() int { return 16 << c.field(18, 3) }

func (c HardConfig) FIFORAMInside() bool { return c.field(21, 1) != 0 }

func (c HardConfig) HoldReg() bool { return c.field(22, 1) != 0 }

func (c HardConfig) ClkFalsePath() bool { return c.field(23, 1) != 0 }

func (c HardConfig) NumClkDividers() int { return int(c.field(24, 2)) + 1 }

func (c HardConfig) AreaOptimized() bool { return c.field(26, 1) != 0 }

// Addr64 reports a 64-bit internal DMAC address configuration.
func (c HardConfig) Addr64() bool { return c.field(27, 1) != 0 }

func (c HardConfig) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("card_type", int(c.CardType())),
		slog.Int("cards", c.NumCards()),
		slog.Int("bus_type", int(c.BusType())),
		slog.Int("data_width", c.DataWidth()),
		slog.Int("addr_width", c.AddrWidth()),
		slog.Int("dma", int(c.DMAInterface())),
		slog.Int("dma_width", c.DMADataWidth()),
		slog.Bool("fifo_ram_inside", c.FIFORAMInside()),
		slog.Bool("hold_reg", c.HoldReg()),
		slog.Int("clk_dividers", c.NumClkDividers()),
		slog.Bool("area_optimized", c.AreaOptimized()),
		slog.Bool("addr64", c.Addr64()),
	)
}
