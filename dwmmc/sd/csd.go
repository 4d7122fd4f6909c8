package sd

import (
	"fmt"

	"golang.org/x/exp/slog"
)

// CSD is the 128-bit card specific data register, returned by SEND_CSD (CMD9).
type CSD [4]uint32

// CSD structure versions
const (
	CSDv1 = iota // standard capacity
	CSDv2        // high and extended capacity
	CSDv3        // ultra capacity
)

func (r CSD) Structure() uint8 { return uint8(field(r, 126, 2)) }

// TAAC returns the data read access time byte.
func (r CSD) TAAC() uint8 { return uint8(field(r, 112, 8)) }

func (r CSD) NSAC() uint8 { return uint8(field(r, 104, 8)) }

// TranSpeed returns the encoded maximum data transfer rate, 0x32 for 25MHz and
// 0x5a for 50MHz.
func (r CSD) TranSpeed() uint8 { return uint8(field(r, 96, 8)) }

// CommandClasses returns the CCC bitmask.
func (r CSD) CommandClasses() uint16 { return uint16(field(r, 84, 12)) }

func (r CSD) ReadBlockLen() uint8 { return uint8(field(r, 80, 4)) }

func (r CSD) ReadBlockPartial() bool { return field(r, 79, 1) != 0 }

func (r CSD) WriteBlockMisalign() bool { return field(r, 78, 1) != 0 }

func (r CSD) ReadBlockMisalign() bool { return field(r, 77, 1) != 0 }

func (r CSD) DSRImplemented() bool { return field(r, 76, 1) != 0 }

// CSize returns the device size field, whose layout depends on Structure.
func (r CSD) CSize() uint32 {
	switch r.Structure() {
	case CSDv1:
		return field(r, 62, 12)
	case CSDv2:
		return field(r, 48, 22)
	default:
		return field(r, 48, 28)
	}
}

// CSizeMult is only defined for CSDv1.
func (r CSD) CSizeMult() uint8 { return uint8(field(r, 47, 3)) }

func (r CSD) EraseBlockEnable() bool { return field(r, 46, 1) != 0 }

func (r CSD) SectorSize() uint8 { return uint8(field(r, 39, 7)) }

func (r CSD) WPGroupSize() uint8 { return uint8(field(r, 32, 7)) }

func (r CSD) WPGroupEnable() bool { return field(r, 31, 1) != 0 }

func (r CSD) R2WFactor() uint8 { return uint8(field(r, 26, 3)) }

func (r CSD) WriteBlockLen() uint8 { return uint8(field(r, 22, 4)) }

func (r CSD) WriteBlockPartial() bool { return field(r, 21, 1) != 0 }

func (r CSD) Copy() bool { return field(r, 14, 1) != 0 }

func (r CSD) PermWriteProtect() bool { return field(r, 13, 1) != 0 }

func (r CSD) TmpWriteProtect() bool { return field(r, 12, 1) != 0 }

func (r CSD) FileFormat() uint8 { return uint8(field(r, 15, 1)<<2 | field(r, 10, 2)) }

func (r CSD) CRC() uint8 { return uint8(field(r, 1, 7)) }

// CRCValid reports whether the stored CRC7 matches the register contents.
func (r CSD) CRCValid() bool { return r.CRC() == registerCRC(r) }

func (r CSD) Bytes() [16]byte { return registerBytes(r) }

// Capacity returns the user data area size in bytes.
func (r CSD) Capacity() uint64 {
	switch r.Structure() {
	case CSDv1:
		mult := uint64(1) << (r.CSizeMult() + 2)
		return (uint64(r.CSize()) + 1) * mult << r.ReadBlockLen()
	default:
		return (uint64(r.CSize()) + 1) * 512 * 1024
	}
}

// Blocks returns the capacity in 512 byte blocks.
func (r CSD) Blocks() uint64 { return r.Capacity() / 512 }

func (r CSD) String() string {
	return fmt.Sprintf("v%d %d bytes tran %#02x ccc %#03x", r.Structure()+1, r.Capacity(), r.TranSpeed(), r.CommandClasses())
}

func (r CSD) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("version", int(r.Structure())+1),
		slog.Uint64("capacity", r.Capacity()),
		slog.Uint64("read_bl_len", uint64(r.ReadBlockLen())),
		slog.String("tran_speed", fmt.Sprintf("%#02x", r.TranSpeed())),
		slog.String("ccc", fmt.Sprintf("%#03x", r.CommandClasses())),
		slog.Bool("crc", r.CRCValid()),
	)
}

// NewCSDv2 encodes a high capacity CSD for a card of the given number of 512
// byte blocks, rounded down to the 512KiB granularity of C_SIZE.
func NewCSDv2(blocks uint64) CSD {
	var w [4]uint32
	csize := blocks / 1024
	if csize > 0 {
		csize -= 1
	}
	setField(&w, 126, 2, CSDv2)
	setField(&w, 112, 8, 0x0e)
	setField(&w, 96, 8, 0x32)
	setField(&w, 84, 12, 0x5b5)
	setField(&w, 80, 4, 9)
	setField(&w, 48, 22, uint32(csize))
	setField(&w, 46, 1, 1)
	setField(&w, 39, 7, 0x7f)
	setField(&w, 26, 3, 2)
	setField(&w, 22, 4, 9)
	setField(&w, 1, 7, uint32(registerCRC(w)))
	setField(&w, 0, 1, 1)
	return CSD(w)
}
