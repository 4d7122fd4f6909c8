package sd

import (
	"fmt"
	"strings"

	"golang.org/x/exp/slog"
	"golang.org/x/text/transform"
)

// CID is the 128-bit card identification register, returned by ALL_SEND_CID
// (CMD2) and SEND_CID (CMD10).
type CID [4]uint32

// ManufacturerID returns the MID assigned by the SD card association.
func (r CID) ManufacturerID() uint8 { return uint8(field(r, 120, 8)) }

// OEMID returns the two character OEM/application ID.
func (r CID) OEMID() string {
	b := registerBytes(r)
	return decodeText(b[1:3])
}

// ProductName returns the five character product name.
func (r CID) ProductName() string {
	b := registerBytes(r)
	return decodeText(b[3:8])
}

// Revision returns the product revision as major and minor BCD digits.
func (r CID) Revision() (major, minor uint8) {
	prv := field(r, 56, 8)
	return uint8(prv >> 4), uint8(prv & 0xf)
}

func (r CID) Serial() uint32 { return field(r, 24, 32) }

// ManufacturingDate returns the year and month the card was produced.
func (r CID) ManufacturingDate() (year int, month int) {
	return 2000 + int(field(r, 12, 8)), int(field(r, 8, 4))
}

func (r CID) CRC() uint8 { return uint8(field(r, 1, 7)) }

// CRCValid reports whether the stored CRC7 matches the register contents.
func (r CID) CRCValid() bool { return r.CRC() == registerCRC(r) }

// Bytes returns the register in the card's big-endian bit order.
func (r CID) Bytes() [16]byte { return registerBytes(r) }

func (r CID) String() string {
	major, minor := r.Revision()
	year, month := r.ManufacturingDate()
	return fmt.Sprintf("%02x/%s %s rev %d.%d sn %08x %04d-%02d",
		r.ManufacturerID(), r.OEMID(), r.ProductName(), major, minor, r.Serial(), year, month)
}

func (r CID) LogValue() slog.Value {
	major, minor := r.Revision()
	year, month := r.ManufacturingDate()
	return slog.GroupValue(
		slog.Uint64("mid", uint64(r.ManufacturerID())),
		slog.String("oid", r.OEMID()),
		slog.String("pnm", r.ProductName()),
		slog.String("prv", fmt.Sprintf("%d.%d", major, minor)),
		slog.String("psn", fmt.Sprintf("%08x", r.Serial())),
		slog.String("mdt", fmt.Sprintf("%04d-%02d", year, month)),
		slog.Bool("crc", r.CRCValid()),
	)
}

// CIDFields describes a card identity for NewCID.
type CIDFields struct {
	ManufacturerID uint8
	OEMID          string // 2 characters
	ProductName    string // 5 characters
	Major, Minor   uint8
	Serial         uint32
	Year, Month    int
}

// NewCID encodes f into a CID register including a valid CRC7.
func NewCID(f CIDFields) CID {
	var w [4]uint32
	setField(&w, 120, 8, uint32(f.ManufacturerID))
	oid := encodeText(f.OEMID, 2)
	setField(&w, 104, 16, uint32(oid[0])<<8|uint32(oid[1]))
	pnm := encodeText(f.ProductName, 5)
	for i, c := range pnm {
		setField(&w, uint(96-8*i), 8, uint32(c))
	}
	setField(&w, 56, 8, uint32(f.Major&0xf)<<4|uint32(f.Minor&0xf))
	setField(&w, 24, 32, f.Serial)
	setField(&w, 12, 8, uint32(max(0, f.Year-2000)))
	setField(&w, 8, 4, uint32(f.Month))
	setField(&w, 1, 7, uint32(registerCRC(w)))
	setField(&w, 0, 1, 1)
	return CID(w)
}

func decodeText(b []byte) string {
	s, _, err := transform.String(Charset.NewDecoder(), string(b))
	if err != nil {
		return ""
	}
	return strings.TrimRight(s, "\x00 ")
}

// encodeText returns exactly n bytes, padded with spaces.
func encodeText(s string, n int) []byte {
	e, _, err := transform.String(Charset.NewEncoder(), s)
	if err != nil {
		e = ""
	}
	b := []byte(e + strings.Repeat(" ", n))
	return b[:n]
}
