// Package sdcard exposes an SD card behind a dwmmc.Host as a block device.
package sdcard

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"golang.org/x/exp/slog"

	"github.com/clktmr/dwmmc/debug"
	"github.com/clktmr/dwmmc/dwmmc"
)

const BlockSize = 512

// maxTransferBlocks limits a single data command, larger requests are split.
const maxTransferBlocks = 128

var (
	ErrIO         = errors.New("sdcard: i/o error")
	ErrNotReady   = errors.New("sdcard: device not ready")
	ErrBufferSize = errors.New("sdcard: buffer size not a multiple of block size")
)

type DeviceStatus uint8

const (
	StatusUninitialized DeviceStatus = iota
	StatusReady
	StatusError
	StatusClosed
)

var statusNames = [...]string{"uninitialized", "ready", "error", "closed"}

func (s DeviceStatus) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("DeviceStatus(%d)", uint8(s))
}

type DeviceType uint8

const (
	TypeBlock DeviceType = iota
	TypeChar
)

// SectorSize is the logical sector size in bytes.
type SectorSize uint16

const (
	Lb512  SectorSize = 512
	Lb4096 SectorSize = 4096
)

// Device is a block device on an SD card. It implements io.ReaderAt and
// io.WriterAt on top of the block interface.
//
// Device is safe for concurrent use.
type Device struct {
	host    *dwmmc.Host
	log     *slog.Logger
	status  DeviceStatus
	lastErr error
	blk     [BlockSize]byte

	mtx sync.Mutex
}

func New(host *dwmmc.Host) *Device {
	return &Device{host: host, log: host.Config().Logger}
}

// Init resets the controller and enumerates the card. Errors of the host are
// returned unchanged.
func (d *Device) Init() error {
	d.mtx.Lock()
	defer d.mtx.Unlock()

	err := d.host.Init()
	d.lastErr = err
	if err != nil {
		d.status = StatusError
		return err
	}
	d.status = StatusReady
	return nil
}

// Reinit is the same as Init. It recovers a device from any error.
func (d *Device) Reinit() error { return d.Init() }

func (d *Device) Close() error {
	d.mtx.Lock()
	defer d.mtx.Unlock()
	d.status = StatusClosed
	return nil
}

func (d *Device) Status() DeviceStatus {
	d.mtx.Lock()
	defer d.mtx.Unlock()
	return d.status
}

// ErrorHandle returns StatusError if the last operation failed, and the
// current status otherwise.
func (d *Device) ErrorHandle() DeviceStatus {
	d.mtx.Lock()
	defer d.mtx.Unlock()
	if d.lastErr != nil {
		return StatusError
	}
	return d.status
}

// Err returns the error of the last operation.
func (d *Device) Err() error {
	d.mtx.Lock()
	defer d.mtx.Unlock()
	return d.lastErr
}

func (d *Device) DeviceType() DeviceType { return TypeBlock }

func (d *Device) PhysicalBlockSize() int { return BlockSize }

func (d *Device) SectorSize() SectorSize { return Lb512 }

// Card returns the identity of the enumerated card.
func (d *Device) Card() (dwmmc.Card, bool) {
	d.mtx.Lock()
	defer d.mtx.Unlock()
	return d.host.Card()
}

// NumBlocks returns the card's capacity in blocks, 0 if not initialized.
func (d *Device) NumBlocks() uint64 {
	d.mtx.Lock()
	defer d.mtx.Unlock()
	return d.numBlocks()
}

func (d *Device) numBlocks() uint64 {
	card, ok := d.host.Card()
	if !ok {
		return 0
	}
	return card.Blocks()
}

// Size returns the card's capacity in bytes.
func (d *Device) Size() int64 {
	return int64(d.NumBlocks()) * BlockSize
}

// ReadBlock reads len(buf)/BlockSize consecutive blocks starting at lba.
func (d *Device) ReadBlock(lba uint64, buf []byte) error {
	d.mtx.Lock()
	defer d.mtx.Unlock()
	return d.blocks(lba, buf, false)
}

// WriteBlock writes len(buf)/BlockSize consecutive blocks starting at lba.
func (d *Device) WriteBlock(lba uint64, buf []byte) error {
	d.mtx.Lock()
	defer d.mtx.Unlock()
	return d.blocks(lba, buf, true)
}

func (d *Device) blocks(lba uint64, buf []byte, write bool) (err error) {
	defer func() { d.lastErr = err }()

	if d.status != StatusReady {
		return ErrNotReady
	}
	if len(buf) == 0 || len(buf)%BlockSize != 0 {
		return ErrBufferSize
	}
	n := uint64(len(buf) / BlockSize)
	if total := d.numBlocks(); n > total || lba > total-n {
		return fmt.Errorf("%w: blocks %d+%d out of range", ErrIO, lba, n)
	}
	if lba+n > d.addressable() {
		return fmt.Errorf("%w: blocks %d+%d not addressable", ErrIO, lba, n)
	}

	for len(buf) > 0 {
		nn := min(len(buf), maxTransferBlocks*BlockSize)
		if err = d.transfer(lba, buf[:nn], write); err != nil {
			return
		}
		buf = buf[nn:]
		lba += uint64(nn / BlockSize)
	}
	return
}

// addressable returns the number of blocks a 32-bit data command argument can
// reach. Standard capacity cards take byte addresses.
func (d *Device) addressable() uint64 {
	card, _ := d.host.Card()
	if card.HighCapacity() {
		return 1 << 32
	}
	return 1 << 32 / BlockSize
}

func (d *Device) command(lba uint64, blocks uint32, write bool) dwmmc.Command {
	card, _ := d.host.Card()
	addr := uint32(lba)
	if !card.HighCapacity() {
		addr = uint32(lba * BlockSize)
	}
	switch {
	case write && blocks > 1:
		return dwmmc.WriteMultipleBlock(addr)
	case write:
		return dwmmc.WriteSingleBlock(addr)
	case blocks > 1:
		return dwmmc.ReadMultipleBlock(addr)
	}
	return dwmmc.ReadSingleBlock(addr)
}

func (d *Device) transfer(lba uint64, buf []byte, write bool) error {
	blocks := uint32(len(buf) / BlockSize)
	debug.Assertf(blocks > 0 && blocks <= maxTransferBlocks, "sdcard: transfer of %d blocks", blocks)

	cmd := d.command(lba, blocks, write)
	d.log.LogAttrs(context.Background(), slog.LevelDebug, "transfer",
		slog.Uint64("lba", lba), slog.Any("cmd", cmd), slog.Int("blocks", int(blocks)))

	resp, err := d.host.Send(cmd)
	if err == nil {
		if status := resp.CardStatus(); status.Errors() != 0 {
			err = fmt.Errorf("%w: %#08x", dwmmc.ErrCardStatus, uint32(status.Errors()))
		}
	}
	if err == nil {
		if write {
			err = d.host.WriteData(buf, blocks, BlockSize)
		} else {
			err = d.host.ReadData(buf, blocks, BlockSize)
		}
	}
	if err != nil {
		return d.recover(err)
	}
	return nil
}

// recover stops the failed transfer and wraps cause in ErrIO. If stopping
// fails too, the device needs Reinit.
func (d *Device) recover(cause error) error {
	d.log.LogAttrs(context.Background(), slog.LevelDebug, "transfer failed",
		slog.String("err", cause.Error()))
	if err := d.host.StopTransmission(); err != nil {
		d.status = StatusError
		return fmt.Errorf("%w: %w, recovery failed: %w", ErrIO, cause, err)
	}
	return fmt.Errorf("%w: %w", ErrIO, cause)
}

func (d *Device) ReadAt(p []byte, off int64) (n int, err error) {
	d.mtx.Lock()
	defer d.mtx.Unlock()

	size := int64(d.numBlocks()) * BlockSize
	if off < 0 {
		return 0, fmt.Errorf("%w: negative offset", ErrIO)
	}
	if off >= size {
		return 0, io.EOF
	}
	var eof error
	if int64(len(p)) > size-off {
		p = p[:size-off]
		eof = io.EOF
	}

	for len(p) > 0 {
		lba, start := uint64(off/BlockSize), int(off%BlockSize)
		var nn int
		if start == 0 && len(p) >= BlockSize {
			nn = len(p) - len(p)%BlockSize
			err = d.blocks(lba, p[:nn], false)
		} else {
			err = d.blocks(lba, d.blk[:], false)
			nn = copy(p, d.blk[start:])
		}
		if err != nil {
			return
		}
		n += nn
		p = p[nn:]
		off += int64(nn)
	}
	return n, eof
}

func (d *Device) WriteAt(p []byte, off int64) (n int, err error) {
	d.mtx.Lock()
	defer d.mtx.Unlock()

	size := int64(d.numBlocks()) * BlockSize
	if off < 0 {
		return 0, fmt.Errorf("%w: negative offset", ErrIO)
	}
	var short error
	if int64(len(p)) > size-off {
		p = p[:max(0, size-off)]
		short = io.ErrShortWrite
	}

	for len(p) > 0 {
		lba, start := uint64(off/BlockSize), int(off%BlockSize)
		var nn int
		if start == 0 && len(p) >= BlockSize {
			nn = len(p) - len(p)%BlockSize
			err = d.blocks(lba, p[:nn], true)
		} else {
			if err = d.blocks(lba, d.blk[:], false); err != nil {
				return
			}
			nn = copy(d.blk[start:], p)
			err = d.blocks(lba, d.blk[:], true)
		}
		if err != nil {
			return
		}
		n += nn
		p = p[nn:]
		off += int64(nn)
	}
	return n, short
}
