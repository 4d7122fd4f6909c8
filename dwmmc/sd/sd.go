// Package sd decodes the card registers returned in SD command responses.
//
// Every type is a fixed-width view over the raw response words. Decoding never
// fails: any bit pattern is a valid, if meaningless, register. Checking values
// such as the CMD8 echo pattern is left to the caller.
//
// 136-bit responses are stored as [4]uint32 with index 0 holding bits 31:0,
// which is the order the controller's response registers present them.
package sd

// field extracts width bits starting at bit lo from a 128-bit register.
func field(w [4]uint32, lo, width uint) uint32 {
	i, s := lo/32, lo%32
	v := uint64(w[i]) >> s
	if s+width > 32 && i < 3 {
		v |= uint64(w[i+1]) << (32 - s)
	}
	return uint32(v & (1<<width - 1))
}

func setField(w *[4]uint32, lo, width uint, val uint32) {
	for b := uint(0); b < width; b++ {
		pos := lo + b
		bit := uint32(1) << (pos % 32)
		if val&(1<<b) != 0 {
			w[pos/32] |= bit
		} else {
			w[pos/32] &^= bit
		}
	}
}

// registerBytes returns the big-endian image of a 128-bit register, the order
// in which the card shifts it out on the CMD line.
func registerBytes(w [4]uint32) (b [16]byte) {
	for i := range 4 {
		v := w[3-i]
		b[i*4+0] = byte(v >> 24)
		b[i*4+1] = byte(v >> 16)
		b[i*4+2] = byte(v >> 8)
		b[i*4+3] = byte(v)
	}
	return
}

func bit(v uint32, n uint) bool {
	return v&(1<<n) != 0
}
