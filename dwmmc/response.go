package dwmmc

import (
	"github.com/clktmr/dwmmc/dwmmc/sd"
)

type RespKind uint8

const (
	RespNone RespKind = iota
	Resp48
	Resp136
)

// Response holds the raw response words of a command. The accessors
// reinterpret the words as card registers without modifying them, so a
// Response can be decoded more than one way.
type Response struct {
	kind  RespKind
	words [4]uint32 // words[0] from RESP0
}

func (r Response) Kind() RespKind { return r.kind }

// Words returns the raw response, RESP0 first.
func (r Response) Words() [4]uint32 { return r.words }

func (r Response) CIC() sd.CIC               { return sd.CIC(r.words[0]) }
func (r Response) OCR() sd.OCR               { return sd.OCR(r.words[0]) }
func (r Response) RCA() sd.RCA               { return sd.RCA(r.words[0]) }
func (r Response) CardStatus() sd.CardStatus { return sd.CardStatus(r.words[0]) }
func (r Response) CID() sd.CID               { return sd.CID(r.words) }
func (r Response) CSD() sd.CSD               { return sd.CSD(r.words) }
