package sd

import "github.com/sigurn/crc8"

// CRC7 polynomial x^7+x^3+1 computed as an 8-bit CRC with the polynomial
// shifted left by one. The result holds the CRC in its upper seven bits.
var crc7 = crc8.MakeTable(crc8.Params{
	Poly:  0x12,
	Check: 0xea,
	Name:  "CRC-7/MMC<<1",
})

// CRC7 returns the 7-bit CRC used on the SD command line.
func CRC7(data []byte) uint8 {
	csum := crc8.Init(crc7)
	csum = crc8.Update(csum, data, crc7)
	csum = crc8.Complete(csum, crc7)
	return csum >> 1
}

// CommandCRC returns the CRC7 of a command token as the card expects it.
func CommandCRC(index uint8, arg uint32) uint8 {
	return CRC7([]byte{0x40 | index&0x3f, byte(arg >> 24), byte(arg >> 16), byte(arg >> 8), byte(arg)})
}

func registerCRC(w [4]uint32) uint8 {
	b := registerBytes(w)
	return CRC7(b[:15])
}
