package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/clktmr/dwmmc/drivers/sdcard"
	dwtesting "github.com/clktmr/dwmmc/testing"
)

func TestMain(m *testing.M) { dwtesting.TestMain(m) }

func runShell(t *testing.T, script string) (string, *dwtesting.Setup) {
	s := dwtesting.NewSetup(2048, nil)
	dev := sdcard.New(s.Host)
	if err := dev.Init(); err != nil {
		t.Fatal(err)
	}
	var out bytes.Buffer
	sh := newShell("", dev, s.Sim, strings.NewReader(script), &out)
	if err := sh.run(); err != nil {
		t.Fatal(err)
	}
	return out.String(), s
}

func TestShellReadWrite(t *testing.T) {
	out, s := runShell(t, "write 5 'hello world'\nread 5\nquit\n")
	if !strings.Contains(out, "68 65 6c 6c 6f 20 77 6f  72 6c 64") {
		t.Fatalf("expected written text in dump, got:\n%s", out)
	}
	if !bytes.HasPrefix(s.Block(5), []byte("hello world\x00")) {
		t.Fatalf("block 5 not written")
	}
	if strings.Contains(out, "sd> error:") {
		t.Fatalf("unexpected error in output:\n%s", out)
	}
}

func TestShellFill(t *testing.T) {
	_, s := runShell(t, "fill 10 2 0xee\n")
	for _, b := range s.Mem[10*512 : 12*512] {
		if b != 0xee {
			t.Fatalf("expected 0xee, got %#02x", b)
		}
	}
}

func TestShellFault(t *testing.T) {
	script := strings.Join([]string{
		"fault 17 0x40",
		"read 1",
		"status",
		"clear",
		"read 1",
		"bogus",
		"read",
	}, "\n")
	out, s := runShell(t, script)
	if n := strings.Count(out, "sd> error:"); n != 3 {
		t.Fatalf("expected 3 errors, got %v:\n%s", n, out)
	}
	if !strings.Contains(out, "response CRC error") {
		t.Fatalf("expected CRC error in output:\n%s", out)
	}
	if !strings.Contains(out, "ready (error)") {
		t.Fatalf("expected error status in output:\n%s", out)
	}
	if n := s.Sim.Count(12); n != 1 {
		t.Fatalf("expected one stop command, got %v", n)
	}
}
