package dwmmc_test

import (
	"errors"
	"math"
	"slices"
	"testing"
	"time"

	"github.com/clktmr/dwmmc/dwmmc"
	"github.com/clktmr/dwmmc/dwmmc/dwmmcsim"
	"github.com/clktmr/dwmmc/dwmmc/sd"
	dwtesting "github.com/clktmr/dwmmc/testing"
	"github.com/clktmr/dwmmc/timer"
)

func TestMain(m *testing.M) { dwtesting.TestMain(m) }

const testBlocks = 4096

func initialized(t *testing.T) *dwtesting.Setup {
	s := dwtesting.NewSetup(testBlocks, nil)
	if err := s.Host.Init(); err != nil {
		t.Fatal("init:", err)
	}
	s.Sim.ResetLog()
	return s
}

func TestWaitFor(t *testing.T) {
	tests := map[string]struct {
		budget time.Duration
		trueAt int // call of pred returning true, 0 for never
		ok     bool
		calls  int
	}{
		"immediate":    {5 * time.Millisecond, 1, true, 1},
		"beforeExpiry": {5 * time.Millisecond, 4, true, 4},
		"atExpiry":     {5 * time.Millisecond, 5, false, 4},
		"never":        {5 * time.Millisecond, 0, false, 4},
		"zeroBudget":   {0, 1, false, 0},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			clock := &timer.Fake{Step: time.Millisecond}
			h := dwmmc.New(nil, clock, dwmmc.Config{})
			calls := 0
			ok := h.WaitFor(tc.budget, func() bool {
				calls++
				return calls == tc.trueAt
			})
			if ok != tc.ok {
				t.Fatalf("expected %v, got %v", tc.ok, ok)
			}
			if calls != tc.calls {
				t.Fatalf("expected %v predicate calls, got %v", tc.calls, calls)
			}
		})
	}
}

func TestSendNoResponse(t *testing.T) {
	s := dwtesting.NewSetup(testBlocks, nil)
	resp, err := s.Host.Send(dwmmc.GoIdle())
	if err != nil {
		t.Fatal(err)
	}
	if resp.Kind() != dwmmc.RespNone {
		t.Fatalf("expected %v, got %v", dwmmc.RespNone, resp.Kind())
	}
	for _, r := range []dwmmc.Reg{dwmmc.RegRESP0, dwmmc.RegRESP1, dwmmc.RegRESP2, dwmmc.RegRESP3} {
		if n := s.Sim.Loads(r); n != 0 {
			t.Fatalf("expected no reads of %#x, got %v", r, n)
		}
	}
}

func TestSendResponseWords(t *testing.T) {
	s := initialized(t)
	rca := s.Card.RCA

	resp, err := s.Host.Send(dwmmc.SendCSD(rca))
	if err != nil {
		t.Fatal(err)
	}
	if resp.Kind() != dwmmc.Resp136 {
		t.Fatalf("expected %v, got %v", dwmmc.Resp136, resp.Kind())
	}
	if resp.CSD() != s.Card.CSD {
		t.Fatalf("expected %v, got %v", s.Card.CSD, resp.CSD())
	}
	for _, r := range []dwmmc.Reg{dwmmc.RegRESP0, dwmmc.RegRESP1, dwmmc.RegRESP2, dwmmc.RegRESP3} {
		if n := s.Sim.Loads(r); n != 1 {
			t.Fatalf("expected one read of %#x, got %v", r, n)
		}
	}

	s.Sim.ResetLog()
	resp, err = s.Host.Send(dwmmc.SendStatus(rca))
	if err != nil {
		t.Fatal(err)
	}
	if resp.Kind() != dwmmc.Resp48 {
		t.Fatalf("expected %v, got %v", dwmmc.Resp48, resp.Kind())
	}
	if state := resp.CardStatus().State(); state != sd.StateTran {
		t.Fatalf("expected %v, got %v", sd.StateTran, state)
	}
	if s.Sim.Loads(dwmmc.RegRESP0) != 1 || s.Sim.Loads(dwmmc.RegRESP1) != 0 {
		t.Fatalf("expected exactly one response word read")
	}
}

func TestSendClassify(t *testing.T) {
	tests := map[string]struct {
		faults dwmmc.Interrupt
		err    error
	}{
		"timeoutAndCRC": {dwmmc.IntRTO | dwmmc.IntRCRC, dwmmc.ErrResponseTimeout},
		"all":           {dwmmc.IntRTO | dwmmc.IntRE | dwmmc.IntRCRC, dwmmc.ErrResponseTimeout},
		"errorAndCRC":   {dwmmc.IntRE | dwmmc.IntRCRC, dwmmc.ErrResponse},
		"crc":           {dwmmc.IntRCRC, dwmmc.ErrResponseCRC},
		"dataOnly":      {dwmmc.IntDCRC, nil},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			s := dwtesting.NewSetup(testBlocks, nil)
			s.Sim.CmdFaults[dwmmc.CmdSendIfCond] = tc.faults
			resp, err := s.Host.Send(dwmmc.SendIfCond(1, sd.CheckPattern))
			if err != tc.err {
				t.Fatalf("expected %v, got %v", tc.err, err)
			}
			if err != nil && s.Sim.Loads(dwmmc.RegRESP0) != 0 {
				t.Fatalf("response read after %v", err)
			}
			if err == nil && resp.CIC().Pattern() != sd.CheckPattern {
				t.Fatalf("expected pattern %#x, got %#x", sd.CheckPattern, resp.CIC().Pattern())
			}
		})
	}
}

func TestSendTimeout(t *testing.T) {
	tests := map[string]struct {
		fault func(*dwmmcsim.Controller)
		cmd   dwmmc.Command
		err   error
	}{
		"cmdLine":  {func(c *dwmmcsim.Controller) { c.StuckCmdLine = true }, dwmmc.GoIdle(), dwmmc.ErrWaitCmdLine},
		"dataLine": {func(c *dwmmcsim.Controller) { c.StuckDataBusy = true }, dwmmc.SwitchFunction(0), dwmmc.ErrWaitDataLine},
		"cmdDone":  {func(c *dwmmcsim.Controller) { c.NoCmdDone = true }, dwmmc.GoIdle(), dwmmc.ErrWaitCmdDone},
		"reset":    {func(c *dwmmcsim.Controller) { c.StuckReset = true }, dwmmc.SwitchFunction(0), dwmmc.ErrWaitReset},
		"noData":   {func(c *dwmmcsim.Controller) { c.StuckDataBusy = true }, dwmmc.GoIdle(), nil},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			s := dwtesting.NewSetup(testBlocks, nil)
			tc.fault(s.Sim)
			_, err := s.Host.Send(tc.cmd)
			if err != tc.err {
				t.Fatalf("expected %v, got %v", tc.err, err)
			}
			var te *dwmmc.TimeoutError
			if err != nil && !errors.As(err, &te) {
				t.Fatalf("expected a timeout error, got %T", err)
			}
		})
	}
}

func TestSendOrder(t *testing.T) {
	s := dwtesting.NewSetup(testBlocks, nil)
	cmd := dwmmc.SendIfCond(1, sd.CheckPattern)
	if _, err := s.Host.Send(cmd); err != nil {
		t.Fatal(err)
	}
	expected := []dwmmcsim.Access{
		{Reg: dwmmc.RegRINTSTS, Value: uint32(dwmmc.IntAll)},
		{Reg: dwmmc.RegCMDARG, Value: cmd.Arg()},
		{Reg: dwmmc.RegCMD, Value: cmd.Word()},
	}
	if got := s.Sim.Stores(); !slices.Equal(got, expected) {
		t.Fatalf("expected %v, got %v", expected, got)
	}
}

func TestResetClock(t *testing.T) {
	tests := map[string]struct {
		enable  bool
		updates int
	}{
		"enable":  {true, 3},
		"disable": {false, 1},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			s := dwtesting.NewSetup(testBlocks, nil)
			if err := s.Host.ResetClock(tc.enable, 4); err != nil {
				t.Fatal(err)
			}
			updates := 0
			for _, i := range s.Sim.Issued() {
				if i.ClockUpdate() {
					updates++
				}
			}
			if updates != tc.updates {
				t.Fatalf("expected %v clock updates, got %v", tc.updates, updates)
			}
			if div := s.Sim.Load32(dwmmc.RegCLKDIV); div != 4 {
				t.Fatalf("expected divider 4, got %v", div)
			}
			ena := s.Sim.Load32(dwmmc.RegCLKENA)
			if (ena == 1) != tc.enable {
				t.Fatalf("unexpected CLKENA %v", ena)
			}
		})
	}
}

func TestStopTransmission(t *testing.T) {
	s := initialized(t)
	s.Sim.LockedStops = 3
	if err := s.Host.StopTransmission(); err != nil {
		t.Fatal(err)
	}
	if n := s.Sim.Count(dwmmc.CmdStopTransmission); n != 1 {
		t.Fatalf("expected one accepted stop command, got %v", n)
	}
	if s.Sim.LockedStops != 0 {
		t.Fatalf("expected stop to be reissued until accepted")
	}
}

func TestStopTransmissionLocked(t *testing.T) {
	s := initialized(t)
	s.Clock.Step = 100 * time.Microsecond
	s.Sim.LockedStops = math.MaxInt
	err := s.Host.StopTransmission()
	if err != dwmmc.ErrHardwareLocked {
		t.Fatalf("expected %v, got %v", dwmmc.ErrHardwareLocked, err)
	}
}
