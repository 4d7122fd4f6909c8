package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"strconv"

	"golang.org/x/exp/slog"
	"rsc.io/rsc/fuse"

	"github.com/clktmr/dwmmc/drivers/sdcard"
	"github.com/clktmr/dwmmc/dwmmc"
	"github.com/clktmr/dwmmc/dwmmc/dwmmcsim"
	"github.com/clktmr/dwmmc/timer"
)

func must[T any](ret T, err error) T {
	check(err)
	return ret
}

func check(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

const usageString = `SD card image utility.

The image is attached to a simulated DesignWare MMC controller and accessed
through the SD card driver.

Usage:

	%s [flags] <command> [arguments]

The commands are:

	mkimage <image> <MiB>		create an MBR partitioned image with a FAT32 partition
	info <image>			enumerate the card and print its registers
	dump <image> <lba> [count]	hex dump blocks
	shell <image>			interactive block access
	mount <image> <dir>		serve the card via fuse

The flags are:

`

var (
	trace = flag.Bool("trace", false, "log register level traces to stderr")
	sdsc  = flag.Bool("sdsc", false, "simulate a standard capacity card")
	busy  = flag.Int("busy", 0, "number of ACMD41 polls the card stays busy")
)

func usage() {
	fmt.Fprintf(flag.CommandLine.Output(), usageString, os.Args[0])
	flag.PrintDefaults()
}

func logger() *slog.Logger {
	if !*trace {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// attach opens image as the storage of a simulated card and initializes the
// driver.
func attach(image string) (*sdcard.Device, *dwmmcsim.Controller) {
	f := must(os.OpenFile(image, os.O_RDWR, 0))
	stat := must(f.Stat())
	if stat.Size() < 1<<20 {
		check(fmt.Errorf("%s: image smaller than 1 MiB", image))
	}

	log := logger()
	card := dwmmcsim.NewCard(f, uint64(stat.Size()/dwmmcsim.BlockSize))
	card.StandardCapacity = *sdsc
	card.BusyPolls = *busy
	sim := dwmmcsim.New(card, log)
	host := dwmmc.New(sim, timer.System, dwmmc.Config{Logger: log})

	dev := sdcard.New(host)
	check(dev.Init())
	return dev, sim
}

func parseUint(s string) uint64 {
	return must(strconv.ParseUint(s, 0, 64))
}

func main() {
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 2 {
		flag.Usage()
		os.Exit(1)
	}
	image := flag.Arg(1)

	switch flag.Arg(0) {
	case "mkimage":
		if flag.NArg() < 3 {
			flag.Usage()
			os.Exit(1)
		}
		check(mkimage(image, int64(parseUint(flag.Arg(2)))<<20))
	case "info":
		dev, sim := attach(image)
		check(info(os.Stdout, image, dev, sim))
	case "dump":
		if flag.NArg() < 3 {
			flag.Usage()
			os.Exit(1)
		}
		count := uint64(1)
		if flag.NArg() > 3 {
			count = parseUint(flag.Arg(3))
		}
		dev, _ := attach(image)
		check(dump(os.Stdout, dev, parseUint(flag.Arg(2)), count))
	case "shell":
		dev, sim := attach(image)
		check(newShell(image, dev, sim, os.Stdin, os.Stdout).run())
	case "mount":
		if flag.NArg() < 3 {
			flag.Usage()
			os.Exit(1)
		}
		sigintr := make(chan os.Signal, 1)
		signal.Notify(sigintr, os.Interrupt)

		dir := flag.Arg(2)
		dev, _ := attach(image)
		c := must(fuse.Mount(dir))

		go c.Serve(&FS{dev})
		<-sigintr

		cmd := exec.Command("/bin/umount", dir)
		must(cmd.CombinedOutput())
	default:
		fmt.Fprintf(flag.CommandLine.Output(), "%s: unknown command\n", flag.Arg(0))
		flag.Usage()
		os.Exit(1)
	}
}
