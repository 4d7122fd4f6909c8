// Package testing provides a simulated controller setup shared by the driver
// tests.
package testing

import (
	"io"
	"os"
	"testing"
	"time"

	"golang.org/x/exp/slog"

	"github.com/clktmr/dwmmc/dwmmc"
	"github.com/clktmr/dwmmc/dwmmc/dwmmcsim"
	"github.com/clktmr/dwmmc/timer"
)

// TraceEnv enables debug logging of the host and the simulator if set.
const TraceEnv = "DWMMC_TRACE"

var logger = slog.New(slog.NewTextHandler(io.Discard, nil))

// TestMain should be used as TestMain for tests running against the
// simulator.
func TestMain(m *testing.M) {
	if os.Getenv(TraceEnv) != "" {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		}))
	}
	os.Exit(m.Run())
}

func Logger() *slog.Logger { return logger }

// Setup is a host driving a simulated controller with a RAM backed card. The
// clock only advances when it is read.
type Setup struct {
	Mem   dwmmcsim.Memory
	Card  *dwmmcsim.Card
	Sim   *dwmmcsim.Controller
	Clock *timer.Fake
	Host  *dwmmc.Host
}

// NewSetup returns a Setup with a card of the given number of blocks, filled
// with a recognizable pattern. cfg may be nil for the default configuration.
func NewSetup(blocks uint64, cfg func(*dwmmc.Config)) *Setup {
	s := &Setup{
		Mem:   dwmmcsim.NewMemory(blocks),
		Clock: &timer.Fake{Step: time.Microsecond},
	}
	for i := range s.Mem {
		s.Mem[i] = byte(i/dwmmcsim.BlockSize) ^ byte(i)
	}
	s.Card = dwmmcsim.NewCard(s.Mem, blocks)
	s.Sim = dwmmcsim.New(s.Card, logger)

	c := dwmmc.Config{Logger: logger}
	if cfg != nil {
		cfg(&c)
	}
	s.Host = dwmmc.New(s.Sim, s.Clock, c)
	return s
}

// Block returns the backing memory of block lba.
func (s *Setup) Block(lba int) []byte {
	return s.Mem[lba*dwmmcsim.BlockSize : (lba+1)*dwmmcsim.BlockSize]
}
