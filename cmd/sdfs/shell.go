package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/buildkite/shellwords"

	"github.com/clktmr/dwmmc/drivers/sdcard"
	"github.com/clktmr/dwmmc/dwmmc"
	"github.com/clktmr/dwmmc/dwmmc/dwmmcsim"
)

const shellHelp = `commands:
  read <lba> [count]	hex dump blocks
  write <lba> <text>	write text, padded with zeros to a block
  fill <lba> <count> <byte>	fill blocks with a byte value
  info			print card registers
  status		print device status and the last error
  fault <cmd> <bits>	raise interrupt bits with the response of cmd
  datafault <bits> <n>	raise interrupt bits after n bytes of the next transfer
  clear			remove all injected faults
  reinit		reinitialize the card
  help			show this help
  quit
`

var errArgs = errors.New("wrong number of arguments")

type shell struct {
	image string
	dev   *sdcard.Device
	sim   *dwmmcsim.Controller
	in    *bufio.Scanner
	out   io.Writer
}

func newShell(image string, dev *sdcard.Device, sim *dwmmcsim.Controller, in io.Reader, out io.Writer) *shell {
	return &shell{image, dev, sim, bufio.NewScanner(in), out}
}

func (s *shell) run() error {
	for {
		fmt.Fprint(s.out, "sd> ")
		if !s.in.Scan() {
			fmt.Fprintln(s.out)
			return s.in.Err()
		}
		args, err := shellwords.SplitPosix(s.in.Text())
		if err != nil {
			fmt.Fprintln(s.out, err)
			continue
		}
		if len(args) == 0 {
			continue
		}
		if args[0] == "quit" || args[0] == "exit" {
			return nil
		}
		if err := s.exec(args[0], args[1:]); err != nil {
			fmt.Fprintln(s.out, "error:", err)
		}
	}
}

func uintArg(s string, bits int) (uint64, error) {
	return strconv.ParseUint(s, 0, bits)
}

func (s *shell) exec(cmd string, args []string) error {
	switch cmd {
	case "read":
		if len(args) < 1 || len(args) > 2 {
			return errArgs
		}
		lba, err := uintArg(args[0], 64)
		if err != nil {
			return err
		}
		count := uint64(1)
		if len(args) == 2 {
			if count, err = uintArg(args[1], 64); err != nil {
				return err
			}
		}
		return dump(s.out, s.dev, lba, count)
	case "write":
		if len(args) != 2 {
			return errArgs
		}
		lba, err := uintArg(args[0], 64)
		if err != nil {
			return err
		}
		buf := make([]byte, sdcard.BlockSize)
		if len(args[1]) > len(buf) {
			return fmt.Errorf("text longer than %d bytes", len(buf))
		}
		copy(buf, args[1])
		return s.dev.WriteBlock(lba, buf)
	case "fill":
		if len(args) != 3 {
			return errArgs
		}
		lba, err := uintArg(args[0], 64)
		if err != nil {
			return err
		}
		count, err := uintArg(args[1], 16)
		if err != nil {
			return err
		}
		b, err := uintArg(args[2], 8)
		if err != nil {
			return err
		}
		buf := make([]byte, count*sdcard.BlockSize)
		for i := range buf {
			buf[i] = byte(b)
		}
		return s.dev.WriteBlock(lba, buf)
	case "info":
		return info(s.out, s.image, s.dev, s.sim)
	case "status":
		fmt.Fprintf(s.out, "%v (%v)\n", s.dev.Status(), s.dev.ErrorHandle())
		if err := s.dev.Err(); err != nil {
			fmt.Fprintln(s.out, "last error:", err)
		}
		return nil
	case "fault":
		if len(args) != 2 {
			return errArgs
		}
		index, err := uintArg(args[0], 8)
		if err != nil {
			return err
		}
		bits, err := uintArg(args[1], 32)
		if err != nil {
			return err
		}
		s.sim.CmdFaults[uint8(index)] = dwmmc.Interrupt(bits)
		return nil
	case "datafault":
		if len(args) != 2 {
			return errArgs
		}
		bits, err := uintArg(args[0], 32)
		if err != nil {
			return err
		}
		after, err := uintArg(args[1], 32)
		if err != nil {
			return err
		}
		s.sim.DataFaults, s.sim.DataFaultAfter = dwmmc.Interrupt(bits), int(after)
		return nil
	case "clear":
		clear(s.sim.CmdFaults)
		s.sim.DataFaults = 0
		return nil
	case "reinit":
		return s.dev.Reinit()
	case "help":
		fmt.Fprint(s.out, shellHelp)
		return nil
	}
	return fmt.Errorf("%s: unknown command, try help", cmd)
}
