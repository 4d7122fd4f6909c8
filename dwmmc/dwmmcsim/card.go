package dwmmcsim

import (
	"io"

	"github.com/clktmr/dwmmc/dwmmc"
	"github.com/clktmr/dwmmc/dwmmc/sd"
)

const (
	BlockSize  = 512
	DefaultRCA = 0xb368
)

// Storage is the card's backing memory.
type Storage interface {
	io.ReaderAt
	io.WriterAt
}

// Memory is a Storage held in RAM.
type Memory []byte

func NewMemory(blocks uint64) Memory {
	return make(Memory, blocks*BlockSize)
}

func (m Memory) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off >= int64(len(m)) {
		return 0, io.EOF
	}
	n := copy(p, m[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (m Memory) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 || off+int64(len(p)) > int64(len(m)) {
		return 0, io.ErrShortWrite
	}
	return copy(m[off:], p), nil
}

// Card simulates an SD card in SD mode. The exported fields may be changed
// between commands to shape its answers.
type Card struct {
	Storage Storage
	Blocks  uint64

	CID sd.CID
	CSD sd.CSD
	RCA uint16

	// StandardCapacity makes the card report CCS cleared in its OCR and
	// expect byte addresses in data commands.
	StandardCapacity bool

	// BusyPolls is the number of ACMD41 answers with the power up bit
	// cleared before the card reports ready. Negative keeps it busy forever.
	BusyPolls int

	// Pattern, if nonzero, is echoed in the R7 response instead of the
	// check pattern sent by the host.
	Pattern uint8

	state sd.State
	app   bool
	polls int
	width uint32
}

// NewCard returns a high capacity card backed by s.
func NewCard(s Storage, blocks uint64) *Card {
	return &Card{
		Storage: s,
		Blocks:  blocks,
		CID: sd.NewCID(sd.CIDFields{
			ManufacturerID: 0x03,
			OEMID:          "SD",
			ProductName:    "SIM01",
			Major:          1,
			Serial:         0x1234_5678,
			Year:           2023,
			Month:          6,
		}),
		CSD: sd.NewCSDv2(blocks),
		RCA: DefaultRCA,
	}
}

func (d *Card) State() sd.State { return d.state }

// BusWidth returns the width selected with ACMD6, 0 for 1-bit and 2 for 4-bit.
func (d *Card) BusWidth() uint32 { return d.width }

func (d *Card) status(flags sd.CardStatus) sd.CardStatus {
	if d.state == sd.StateTran {
		flags |= sd.StatusReadyForData
	}
	if d.app {
		flags |= sd.StatusAppCmd
	}
	return sd.NewCardStatus(d.state, flags)
}

func (d *Card) ocr() sd.OCR {
	ocr := sd.OCRVoltageWindow | sd.OCRPowerUp
	if !d.StandardCapacity {
		ocr |= sd.OCRCCS
	}
	return ocr
}

func (d *Card) addressed(arg uint32) bool { return uint16(arg>>16) == d.RCA }

// offset converts a data command argument to a byte offset into Storage.
func (d *Card) offset(arg uint32) (int64, bool) {
	off := int64(arg) * BlockSize
	if d.StandardCapacity {
		off = int64(arg)
	}
	return off, off < int64(d.Blocks)*BlockSize
}

func r1(s sd.CardStatus) [4]uint32 { return [4]uint32{uint32(s)} }

// command executes one command. ok is false if the card stays silent, x is
// the data phase the command started.
func (d *Card) command(index uint8, app bool, arg uint32) (resp [4]uint32, ok bool, x *transfer) {
	status := d.status(0)

	if app {
		switch index {
		case dwmmc.ACmdSDSendOpCond:
			ocr := d.ocr()
			if d.BusyPolls < 0 || d.polls < d.BusyPolls {
				d.polls++
				ocr &^= sd.OCRPowerUp
			} else {
				d.state = sd.StateReady
			}
			return [4]uint32{uint32(ocr)}, true, nil
		case dwmmc.ACmdSetBusWidth:
			d.width = arg & 0x3
			return r1(status), true, nil
		}
	}

	switch index {
	case dwmmc.CmdGoIdleState:
		d.state, d.polls, d.width = sd.StateIdle, 0, 0
		return resp, true, nil
	case dwmmc.CmdSendIfCond:
		pattern := uint8(arg)
		if d.Pattern != 0 {
			pattern = d.Pattern
		}
		return [4]uint32{arg&0xf00 | uint32(pattern)}, true, nil
	case dwmmc.CmdAppCmd:
		d.app = true
		return r1(d.status(0)), true, nil
	case dwmmc.CmdAllSendCID:
		if d.state != sd.StateReady {
			return resp, false, nil
		}
		d.state = sd.StateIdent
		return d.CID, true, nil
	case dwmmc.CmdSendRelativeAddr:
		d.state = sd.StateStby
		return [4]uint32{uint32(d.RCA)<<16 | uint32(status)&0x1fff}, true, nil
	case dwmmc.CmdSendCSD:
		if !d.addressed(arg) {
			return resp, false, nil
		}
		return d.CSD, true, nil
	case dwmmc.CmdSelectCard:
		if !d.addressed(arg) {
			d.state = sd.StateStby
			return resp, false, nil
		}
		d.state = sd.StateTran
		return r1(status), true, nil
	case dwmmc.CmdSendStatus:
		if !d.addressed(arg) {
			return resp, false, nil
		}
		return r1(status), true, nil
	case dwmmc.CmdSwitchFunc:
		return r1(status), true, &transfer{buf: make([]byte, 64), size: 64}
	case dwmmc.CmdReadSingleBlock, dwmmc.CmdReadMultipleBlock:
		off, valid := d.offset(arg)
		if !valid {
			return r1(status | sd.StatusOutOfRange), true, nil
		}
		d.state = sd.StateData
		return r1(status), true, &transfer{offset: off, multi: index == dwmmc.CmdReadMultipleBlock}
	case dwmmc.CmdWriteBlock, dwmmc.CmdWriteMultiBlock:
		off, valid := d.offset(arg)
		if !valid {
			return r1(status | sd.StatusOutOfRange), true, nil
		}
		d.state = sd.StateRcv
		return r1(status), true, &transfer{write: true, offset: off, multi: index == dwmmc.CmdWriteMultiBlock}
	case dwmmc.CmdStopTransmission:
		if d.state == sd.StateData || d.state == sd.StateRcv {
			d.state = sd.StateTran
		}
		return r1(status), true, nil
	}
	return resp, false, nil
}

// transfer is the data phase of a command.
type transfer struct {
	write  bool
	multi  bool
	offset int64
	size   int
	done   int
	buf    []byte
}

func (d *Card) start(x *transfer, size int) error {
	x.size = size
	if x.buf != nil {
		x.buf = x.buf[:min(len(x.buf), size)]
		x.size = len(x.buf)
		return nil
	}
	x.buf = make([]byte, size)
	if x.write {
		return nil
	}
	_, err := d.Storage.ReadAt(x.buf, x.offset)
	return err
}

func (d *Card) finish(x *transfer) (err error) {
	if x.write {
		_, err = d.Storage.WriteAt(x.buf, x.offset)
	}
	if d.state == sd.StateData || d.state == sd.StateRcv {
		d.state = sd.StateTran
	}
	return
}
