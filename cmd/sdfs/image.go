package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	diskfs "github.com/diskfs/go-diskfs"
	"github.com/diskfs/go-diskfs/disk"
	"github.com/diskfs/go-diskfs/filesystem"
	"github.com/diskfs/go-diskfs/partition/mbr"

	"github.com/clktmr/dwmmc/drivers/sdcard"
	"github.com/clktmr/dwmmc/dwmmc/dwmmcsim"
)

const (
	partitionStart = 2048     // first sector of the FAT partition
	minImageSize   = 40 << 20 // FAT32 needs at least 65525 clusters
)

const readme = `This card image was created by sdfs mkimage.
`

func mkimage(image string, size int64) error {
	if size < minImageSize {
		return fmt.Errorf("%s: image needs at least %d MiB", image, minImageSize>>20)
	}
	d, err := diskfs.Create(image, size, diskfs.Raw, diskfs.SectorSizeDefault)
	if err != nil {
		return err
	}

	sectors := uint32(size / dwmmcsim.BlockSize)
	table := &mbr.Table{
		LogicalSectorSize:  dwmmcsim.BlockSize,
		PhysicalSectorSize: dwmmcsim.BlockSize,
		Partitions: []*mbr.Partition{{
			Bootable: false,
			Type:     mbr.Fat32LBA,
			Start:    partitionStart,
			Size:     sectors - partitionStart,
		}},
	}
	if err = d.Partition(table); err != nil {
		return err
	}

	fs, err := d.CreateFilesystem(disk.FilesystemSpec{
		Partition:   1,
		FSType:      filesystem.TypeFat32,
		VolumeLabel: "SDCARD",
	})
	if err != nil {
		return err
	}
	f, err := fs.OpenFile("/README.TXT", os.O_CREATE|os.O_RDWR)
	if err != nil {
		return err
	}
	if _, err = f.Write([]byte(readme)); err != nil {
		return err
	}
	return f.Close()
}

func info(w io.Writer, image string, dev *sdcard.Device, sim *dwmmcsim.Controller) error {
	card, ok := dev.Card()
	if !ok {
		return sdcard.ErrNotReady
	}
	tw := tabwriter.NewWriter(w, 0, 8, 1, ' ', 0)

	hcon := sim.HardConfig
	fmt.Fprintf(tw, "controller:\t%d card(s), %d-bit data, FIFO RAM inside %v\n",
		hcon.NumCards(), hcon.DataWidth(), hcon.FIFORAMInside())

	major, minor := card.CID.Revision()
	year, month := card.CID.ManufacturingDate()
	fmt.Fprintf(tw, "manufacturer:\t%#02x %q\n", card.CID.ManufacturerID(), card.CID.OEMID())
	fmt.Fprintf(tw, "product:\t%q rev %d.%d\n", card.CID.ProductName(), major, minor)
	fmt.Fprintf(tw, "serial:\t%#08x\n", card.CID.Serial())
	fmt.Fprintf(tw, "date:\t%04d-%02d\n", year, month)
	fmt.Fprintf(tw, "cid crc:\t%v\n", card.CID.CRCValid())
	fmt.Fprintf(tw, "rca:\t%#04x\n", card.RCA.Address())
	fmt.Fprintf(tw, "high capacity:\t%v\n", card.HighCapacity())
	fmt.Fprintf(tw, "1.8V accepted:\t%v\n", card.OCR.V18Allowed())
	fmt.Fprintf(tw, "csd version:\t%d\n", card.CSD.Structure()+1)
	fmt.Fprintf(tw, "capacity:\t%d bytes, %d blocks\n", card.CSD.Capacity(), card.Blocks())
	fmt.Fprintf(tw, "csd crc:\t%v\n", card.CSD.CRCValid())
	if err := tw.Flush(); err != nil {
		return err
	}

	return partitions(w, image, dev)
}

// partitions lists the MBR partitions of image and checks their boot sectors
// as read through the driver.
func partitions(w io.Writer, image string, dev *sdcard.Device) error {
	d, err := diskfs.Open(image)
	if err != nil {
		return err
	}
	table, err := d.GetPartitionTable()
	if err != nil {
		fmt.Fprintln(w, "no partition table:", err)
		return nil
	}

	buf := make([]byte, sdcard.BlockSize)
	for i, p := range table.GetPartitions() {
		if p.GetSize() == 0 {
			continue
		}
		lba := uint64(p.GetStart() / sdcard.BlockSize)
		if err := dev.ReadBlock(lba, buf); err != nil {
			return err
		}
		valid := buf[510] == 0x55 && buf[511] == 0xaa
		fmt.Fprintf(w, "partition %d: start %d, %d bytes, boot signature %v\n",
			i+1, lba, p.GetSize(), valid)
	}
	return nil
}

var errCount = errors.New("block count out of range")

func dump(w io.Writer, dev *sdcard.Device, lba, count uint64) error {
	if count == 0 || lba+count > dev.NumBlocks() {
		return errCount
	}
	buf := make([]byte, count*sdcard.BlockSize)
	if err := dev.ReadBlock(lba, buf); err != nil {
		return err
	}
	d := hex.Dumper(w)
	if _, err := d.Write(buf); err != nil {
		return err
	}
	return d.Close()
}
