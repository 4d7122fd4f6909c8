package sd

import (
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/transform"
)

const (
	rcd = '�' // decoding replacement character
	rce = '?' // encoding replacement character
)

type charset struct{}

// Charset is the 7-bit ASCII subset used by the CID OEM and product name
// fields. Non-printable bytes decode to U+FFFD, NUL padding decodes to NUL.
var Charset encoding.Encoding = &charset{}

func (m *charset) NewDecoder() *encoding.Decoder {
	return &encoding.Decoder{Transformer: &decoder{}}
}

func (m *charset) NewEncoder() *encoding.Encoder {
	return &encoding.Encoder{Transformer: &encoder{}}
}

func printable(c rune) bool {
	return c == 0 || (c >= 0x20 && c < 0x7f)
}

type decoder struct{}

func (d *decoder) Transform(dst, src []byte, atEOF bool) (nDst, nSrc int, err error) {
	for _, c := range src {
		r := rune(c)
		if !printable(r) {
			r = rcd
		}
		if utf8.RuneLen(r) > len(dst)-nDst {
			err = transform.ErrShortDst
			break
		}
		nDst += utf8.EncodeRune(dst[nDst:], r)
		nSrc += 1
	}
	return
}

func (d *decoder) Reset() {}

type encoder struct{}

func (e *encoder) Transform(dst, src []byte, atEOF bool) (nDst, nSrc int, err error) {
	for nSrc < len(src) {
		if !atEOF && !utf8.FullRune(src[nSrc:]) {
			err = transform.ErrShortSrc
			break
		}
		if nDst >= len(dst) {
			err = transform.ErrShortDst
			break
		}
		r, size := utf8.DecodeRune(src[nSrc:])
		if !printable(r) {
			r = rce
		}
		dst[nDst] = byte(r)
		nDst += 1
		nSrc += size
	}
	return
}

func (e *encoder) Reset() {}
