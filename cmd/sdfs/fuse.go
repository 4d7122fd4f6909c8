package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"rsc.io/rsc/fuse"

	"github.com/clktmr/dwmmc/drivers/sdcard"
)

const imageName = "card.img"

// FS implements the file system and the root dir Node. The root holds the
// card's raw blocks and a text file per card register.
type FS struct {
	dev *sdcard.Device
}

var mountTime = time.Now()

func (p *FS) Root() (fuse.Node, fuse.Error) {
	return p, nil
}

func (p *FS) Attr() fuse.Attr {
	return fuse.Attr{
		Mode:  os.ModeDir | 0o555,
		Mtime: mountTime,
	}
}

func (p *FS) registers() map[string]func() string {
	return map[string]func() string{
		"cid": func() string {
			card, _ := p.dev.Card()
			return card.CID.String()
		},
		"csd": func() string {
			card, _ := p.dev.Card()
			return card.CSD.String()
		},
		"ocr": func() string {
			card, _ := p.dev.Card()
			return fmt.Sprintf("%#08x", uint32(card.OCR))
		},
		"status": func() string {
			return fmt.Sprintf("%v %v", p.dev.Status(), p.dev.Err())
		},
	}
}

func (p *FS) Lookup(name string, intr fuse.Intr) (fuse.Node, fuse.Error) {
	if name == imageName {
		return &Image{p.dev}, nil
	}
	if text, ok := p.registers()[name]; ok {
		return &Register{text}, nil
	}
	return nil, fuse.ENOENT
}

func (p *FS) ReadDir(intr fuse.Intr) ([]fuse.Dirent, fuse.Error) {
	entries := []fuse.Dirent{{Name: imageName}}
	for name := range p.registers() {
		entries = append(entries, fuse.Dirent{Name: name})
	}
	return entries, nil
}

// Image implements both Node and Handle for the card's blocks.
type Image struct {
	dev *sdcard.Device
}

func (p *Image) Attr() fuse.Attr {
	return fuse.Attr{
		Mode:  0o644,
		Mtime: mountTime,
		Size:  uint64(p.dev.Size()),
	}
}

func (p *Image) ReadAll(intr fuse.Intr) ([]byte, fuse.Error) {
	b := make([]byte, p.dev.Size())
	_, err := p.dev.ReadAt(b, 0)
	if err != io.EOF && err != nil {
		return nil, fuse.EIO
	}
	return b, nil
}

// Only WriteAll is supported, the data replaces the card's content from the
// first block on.
func (p *Image) WriteAll(data []byte, intr fuse.Intr) fuse.Error {
	_, err := p.dev.WriteAt(data, 0)
	if err != nil {
		return fuse.EIO
	}
	return nil
}

func (p *Image) Fsync(req *fuse.FsyncRequest, intr fuse.Intr) fuse.Error {
	return nil
}

// Register is a read-only text rendering of a card register.
type Register struct {
	text func() string
}

func (p *Register) Attr() fuse.Attr {
	return fuse.Attr{
		Mode:  0o444,
		Mtime: mountTime,
		Size:  uint64(len(p.text()) + 1),
	}
}

func (p *Register) ReadAll(intr fuse.Intr) ([]byte, fuse.Error) {
	return []byte(p.text() + "\n"), nil
}
