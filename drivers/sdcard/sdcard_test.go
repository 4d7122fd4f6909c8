package sdcard_test

import (
	"bytes"
	"errors"
	"io"
	"math"
	"testing"
	"time"

	"github.com/clktmr/dwmmc/drivers/sdcard"
	"github.com/clktmr/dwmmc/dwmmc"
	"github.com/clktmr/dwmmc/dwmmc/dwmmcsim"
	dwtesting "github.com/clktmr/dwmmc/testing"
	"github.com/clktmr/dwmmc/timer"
)

func TestMain(m *testing.M) { dwtesting.TestMain(m) }

const testBlocks = 2048

func setup(t *testing.T) (*dwtesting.Setup, *sdcard.Device) {
	s := dwtesting.NewSetup(testBlocks, nil)
	dev := sdcard.New(s.Host)
	if err := dev.Init(); err != nil {
		t.Fatal("init:", err)
	}
	s.Sim.ResetLog()
	return s, dev
}

func TestGeometry(t *testing.T) {
	_, dev := setup(t)
	if dev.PhysicalBlockSize() != 512 {
		t.Fatalf("expected 512, got %v", dev.PhysicalBlockSize())
	}
	if dev.SectorSize() != sdcard.Lb512 {
		t.Fatalf("expected %v, got %v", sdcard.Lb512, dev.SectorSize())
	}
	if dev.DeviceType() != sdcard.TypeBlock {
		t.Fatalf("expected block device")
	}
	if n := dev.NumBlocks(); n != testBlocks {
		t.Fatalf("expected %v blocks, got %v", testBlocks, n)
	}
}

func TestStatus(t *testing.T) {
	s := dwtesting.NewSetup(testBlocks, nil)
	dev := sdcard.New(s.Host)
	if st := dev.Status(); st != sdcard.StatusUninitialized {
		t.Fatalf("expected %v, got %v", sdcard.StatusUninitialized, st)
	}
	if err := dev.ReadBlock(0, make([]byte, 512)); err != sdcard.ErrNotReady {
		t.Fatalf("expected %v, got %v", sdcard.ErrNotReady, err)
	}

	s.Card.Pattern = 0x55
	if err := dev.Init(); !errors.Is(err, dwmmc.ErrVoltagePattern) {
		t.Fatalf("expected %v, got %v", dwmmc.ErrVoltagePattern, err)
	}
	if st := dev.Status(); st != sdcard.StatusError {
		t.Fatalf("expected %v, got %v", sdcard.StatusError, st)
	}

	s.Card.Pattern = 0
	if err := dev.Reinit(); err != nil {
		t.Fatal(err)
	}
	if st := dev.Status(); st != sdcard.StatusReady {
		t.Fatalf("expected %v, got %v", sdcard.StatusReady, st)
	}
	if st := dev.ErrorHandle(); st != sdcard.StatusReady {
		t.Fatalf("expected %v, got %v", sdcard.StatusReady, st)
	}

	dev.Close()
	if st := dev.Status(); st != sdcard.StatusClosed {
		t.Fatalf("expected %v, got %v", sdcard.StatusClosed, st)
	}
	if err := dev.WriteBlock(0, make([]byte, 512)); err != sdcard.ErrNotReady {
		t.Fatalf("expected %v, got %v", sdcard.ErrNotReady, err)
	}
}

func TestReadBlock(t *testing.T) {
	tests := map[string]struct {
		lba    uint64
		blocks int
		cmd    uint8
	}{
		"single":   {17, 1, dwmmc.CmdReadSingleBlock},
		"multiple": {64, 8, dwmmc.CmdReadMultipleBlock},
		"split":    {1000, 300, dwmmc.CmdReadMultipleBlock},
		"last":     {testBlocks - 1, 1, dwmmc.CmdReadSingleBlock},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			s, dev := setup(t)
			buf := make([]byte, tc.blocks*sdcard.BlockSize)
			if err := dev.ReadBlock(tc.lba, buf); err != nil {
				t.Fatal(err)
			}
			if !bytes.Equal(buf, s.Mem[tc.lba*512:][:len(buf)]) {
				t.Fatalf("data differs at lba %v", tc.lba)
			}
			if s.Sim.Count(tc.cmd) == 0 {
				t.Fatalf("expected CMD%v", tc.cmd)
			}
			if n := s.Sim.Count(dwmmc.CmdStopTransmission); n != 0 {
				t.Fatalf("expected no stop command, got %v", n)
			}
		})
	}
}

func TestWriteBlock(t *testing.T) {
	tests := map[string]struct {
		lba    uint64
		blocks int
		cmd    uint8
	}{
		"single":   {3, 1, dwmmc.CmdWriteBlock},
		"multiple": {500, 16, dwmmc.CmdWriteMultiBlock},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			s, dev := setup(t)
			buf := bytes.Repeat([]byte{0xa5, 0x5a, 0x00, 0xff}, tc.blocks*sdcard.BlockSize/4)
			if err := dev.WriteBlock(tc.lba, buf); err != nil {
				t.Fatal(err)
			}
			if !bytes.Equal(buf, s.Mem[tc.lba*512:][:len(buf)]) {
				t.Fatalf("block %v not written", tc.lba)
			}
			if s.Sim.Count(tc.cmd) != 1 {
				t.Fatalf("expected one CMD%v, got %v", tc.cmd, s.Sim.Count(tc.cmd))
			}
		})
	}
}

func TestStandardCapacity(t *testing.T) {
	s := dwtesting.NewSetup(testBlocks, nil)
	s.Card.StandardCapacity = true
	dev := sdcard.New(s.Host)
	if err := dev.Init(); err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, sdcard.BlockSize)
	if err := dev.ReadBlock(9, buf); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(buf, s.Block(9)) {
		t.Fatal("data differs at lba 9")
	}
	issued := s.Sim.Issued()
	if last := issued[len(issued)-1]; last.Arg != 9*512 {
		t.Fatalf("expected byte address %v, got %v", 9*512, last.Arg)
	}
}

// sparseStorage records writes by offset and reads back zeros.
type sparseStorage map[int64]int

func (m sparseStorage) ReadAt(p []byte, off int64) (int, error) {
	clear(p)
	return len(p), nil
}

func (m sparseStorage) WriteAt(p []byte, off int64) (int, error) {
	m[off] += len(p)
	return len(p), nil
}

func TestStandardCapacityAddressLimit(t *testing.T) {
	const blocks = 16 << 20 // 8GiB, beyond 32-bit byte addresses
	mem := sparseStorage{}
	card := dwmmcsim.NewCard(mem, blocks)
	card.StandardCapacity = true
	sim := dwmmcsim.New(card, dwtesting.Logger())
	host := dwmmc.New(sim, &timer.Fake{Step: time.Microsecond}, dwmmc.Config{Logger: dwtesting.Logger()})
	dev := sdcard.New(host)
	if err := dev.Init(); err != nil {
		t.Fatal(err)
	}
	if n := dev.NumBlocks(); n != blocks {
		t.Fatalf("expected %v blocks, got %v", blocks, n)
	}
	sim.ResetLog()

	const limit = 1 << 32 / sdcard.BlockSize
	tests := map[string]struct {
		lba uint64
		len int
	}{
		"first":    {limit, 512},
		"crossing": {limit - 1, 1024},
		"wrapping": {limit + 1, 512},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			err := dev.WriteBlock(tc.lba, make([]byte, tc.len))
			if !errors.Is(err, sdcard.ErrIO) {
				t.Fatalf("expected %v, got %v", sdcard.ErrIO, err)
			}
			if n := len(sim.Issued()); n != 0 {
				t.Fatalf("expected no commands, got %v", n)
			}
		})
	}
	if len(mem) != 0 {
		t.Fatalf("expected no writes, got %v", mem)
	}

	if err := dev.WriteBlock(limit-1, make([]byte, 512)); err != nil {
		t.Fatal(err)
	}
	if n := mem[(limit-1)*sdcard.BlockSize]; n != 512 {
		t.Fatalf("expected 512 bytes at the last addressable block, got %v (writes %v)", n, mem)
	}
}

func TestReadBlockCRCError(t *testing.T) {
	s, dev := setup(t)
	s.Sim.CmdFaults[dwmmc.CmdReadSingleBlock] = dwmmc.IntRCRC
	err := dev.ReadBlock(1, make([]byte, sdcard.BlockSize))
	if !errors.Is(err, sdcard.ErrIO) || !errors.Is(err, dwmmc.ErrResponseCRC) {
		t.Fatalf("expected %v wrapping %v, got %v", sdcard.ErrIO, dwmmc.ErrResponseCRC, err)
	}
	if n := s.Sim.Count(dwmmc.CmdStopTransmission); n != 1 {
		t.Fatalf("expected one stop command, got %v", n)
	}
	if n := s.Sim.Count(dwmmc.CmdReadSingleBlock); n != 1 {
		t.Fatalf("expected no retry, got %v reads", n)
	}
	if st := dev.ErrorHandle(); st != sdcard.StatusError {
		t.Fatalf("expected %v, got %v", sdcard.StatusError, st)
	}
	if st := dev.Status(); st != sdcard.StatusReady {
		t.Fatalf("expected %v after recovery, got %v", sdcard.StatusReady, st)
	}
}

func TestTransferFault(t *testing.T) {
	tests := map[string]struct {
		write  bool
		faults dwmmc.Interrupt
	}{
		"readCRC":       {false, dwmmc.IntDCRC},
		"readTimeout":   {false, dwmmc.IntDRTO},
		"writeCRC":      {true, dwmmc.IntDCRC},
		"writeUnderrun": {true, dwmmc.IntFRUN},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			s, dev := setup(t)
			s.Sim.DataFaults = tc.faults
			s.Sim.DataFaultAfter = 100

			buf := make([]byte, 2*sdcard.BlockSize)
			var err error
			if tc.write {
				err = dev.WriteBlock(4, buf)
			} else {
				err = dev.ReadBlock(4, buf)
			}
			if !errors.Is(err, sdcard.ErrIO) || !errors.Is(err, dwmmc.ErrData) {
				t.Fatalf("expected %v wrapping %v, got %v", sdcard.ErrIO, dwmmc.ErrData, err)
			}
			if n := s.Sim.Count(dwmmc.CmdStopTransmission); n != 1 {
				t.Fatalf("expected one stop command, got %v", n)
			}
			if s.Card.State().String() != "tran" {
				t.Fatalf("expected card in transfer state, got %v", s.Card.State())
			}
		})
	}
}

func TestRecoveryFailure(t *testing.T) {
	s, dev := setup(t)
	s.Clock.Step *= 100
	s.Sim.DataFaults = dwmmc.IntDCRC
	s.Sim.LockedStops = math.MaxInt
	err := dev.ReadBlock(0, make([]byte, sdcard.BlockSize))
	if !errors.Is(err, sdcard.ErrIO) || !errors.Is(err, dwmmc.ErrData) || !errors.Is(err, dwmmc.ErrHardwareLocked) {
		t.Fatalf("expected recovery error, got %v", err)
	}
	if st := dev.Status(); st != sdcard.StatusError {
		t.Fatalf("expected %v, got %v", sdcard.StatusError, st)
	}
	s.Sim.LockedStops = 0
	if err := dev.Reinit(); err != nil {
		t.Fatal(err)
	}
	if err := dev.ReadBlock(0, make([]byte, sdcard.BlockSize)); err != nil {
		t.Fatal(err)
	}
}

func TestCardStatusError(t *testing.T) {
	s, dev := setup(t)
	s.Card.Blocks = 16 // card smaller than its CSD claims
	err := dev.ReadBlock(20, make([]byte, sdcard.BlockSize))
	if !errors.Is(err, sdcard.ErrIO) || !errors.Is(err, dwmmc.ErrCardStatus) {
		t.Fatalf("expected %v wrapping %v, got %v", sdcard.ErrIO, dwmmc.ErrCardStatus, err)
	}
	if n := s.Sim.Count(dwmmc.CmdStopTransmission); n != 1 {
		t.Fatalf("expected one stop command, got %v", n)
	}
}

func TestBadRequest(t *testing.T) {
	tests := map[string]struct {
		lba uint64
		len int
		err error
	}{
		"empty":      {0, 0, sdcard.ErrBufferSize},
		"partial":    {0, 100, sdcard.ErrBufferSize},
		"outOfRange": {testBlocks, 512, sdcard.ErrIO},
		"overlap":    {testBlocks - 1, 1024, sdcard.ErrIO},
		"wrap":       {math.MaxUint64, 1024, sdcard.ErrIO},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			s, dev := setup(t)
			err := dev.ReadBlock(tc.lba, make([]byte, tc.len))
			if !errors.Is(err, tc.err) {
				t.Fatalf("expected %v, got %v", tc.err, err)
			}
			if n := len(s.Sim.Issued()); n != 0 {
				t.Fatalf("expected no commands, got %v", n)
			}
		})
	}
}

func TestReadWriteAt(t *testing.T) {
	s, dev := setup(t)
	data := []byte("unaligned write crossing a block boundary")
	off := int64(3*sdcard.BlockSize - 10)
	n, err := dev.WriteAt(data, off)
	if err != nil || n != len(data) {
		t.Fatalf("expected %v bytes written, got %v: %v", len(data), n, err)
	}
	if !bytes.Equal(s.Mem[off:][:len(data)], data) {
		t.Fatal("data not written")
	}
	if s.Mem[off-1] != byte(2)^byte(off-1) {
		t.Fatal("write clobbered preceding byte")
	}

	buf := make([]byte, 2*sdcard.BlockSize+len(data))
	if _, err := dev.ReadAt(buf, off-sdcard.BlockSize); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(buf, s.Mem[off-sdcard.BlockSize:][:len(buf)]) {
		t.Fatal("read data differs")
	}

	size := dev.Size()
	n, err = dev.ReadAt(buf, size-100)
	if err != io.EOF || n != 100 {
		t.Fatalf("expected 100 bytes and EOF, got %v and %v", n, err)
	}
	n, err = dev.WriteAt(buf, size-100)
	if err != io.ErrShortWrite || n != 100 {
		t.Fatalf("expected 100 bytes and %v, got %v and %v", io.ErrShortWrite, n, err)
	}
	if _, err = dev.ReadAt(buf, size); err != io.EOF {
		t.Fatalf("expected EOF, got %v", err)
	}
}
