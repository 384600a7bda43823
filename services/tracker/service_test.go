package tracker

import (
	"context"
	"strings"
	"testing"
	"time"

	"stagetrack/bus"
	"stagetrack/types"
)

func request(t *testing.T, conn *bus.Connection, action string) types.LoopReply {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	rep, err := conn.RequestWait(ctx, conn.NewMessage(TopicCtrl, types.LoopControl{Action: action}, false))
	if err != nil {
		t.Fatalf("%s request: %v", action, err)
	}
	r, ok := rep.Payload.(types.LoopReply)
	if !ok {
		t.Fatalf("reply payload type %T", rep.Payload)
	}
	return r
}

func waitState(t *testing.T, b *bus.Bus, want types.LoopLevel) types.LoopStats {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if m, ok := b.Retained(TopicState); ok {
			if st := m.Payload.(types.LoopStats); st.Level == want {
				return st
			}
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("tracker state never reached %q", want)
	return types.LoopStats{}
}

func startService(t *testing.T) (*bus.Bus, *bus.Connection, *fakeActuator) {
	t.Helper()
	b := bus.NewBus(16)
	act := &fakeActuator{}
	svc := NewService(b.NewConnection("tracker"), &fakeRegisters{}, act, nil)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go svc.Run(ctx)

	waitState(t, b, types.LoopIdle)
	return b, b.NewConnection("test"), act
}

func section() types.TrackerConfig {
	return types.TrackerConfig{
		ActuatorID:   "101",
		UpdatePeriod: 0.005,
		Smoothing:    0.2,
		Pan:          types.AxisRange{Min: 0, Max: 540},
		Tilt:         types.AxisRange{Min: 0, Max: 270, Invert: true},
	}
}

func TestService_StartWithoutConfigFails(t *testing.T) {
	_, conn, _ := startService(t)

	r := request(t, conn, "start")
	if r.OK || !strings.Contains(r.Error, "invalid_config") {
		t.Fatalf("unexpected reply: %+v", r)
	}
}

func TestService_StartStopStatus(t *testing.T) {
	b, conn, act := startService(t)
	conn.Publish(conn.NewMessage(TopicConfig, section(), true))

	// Config alone does not start the loop unless auto_start is set.
	time.Sleep(20 * time.Millisecond)
	if r := request(t, conn, "status"); r.Stats.Level != types.LoopIdle {
		t.Fatalf("status before start = %+v", r.Stats)
	}

	if r := request(t, conn, "start"); !r.OK {
		t.Fatalf("start failed: %+v", r)
	}
	waitState(t, b, types.LoopRunning)

	if r := request(t, conn, "start"); r.OK || !strings.Contains(r.Error, "already_running") {
		t.Fatalf("second start should fail: %+v", r)
	}

	deadline := time.Now().Add(time.Second)
	for len(act.commands(types.AxisPan)) < 2 && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	if len(act.commands(types.AxisPan)) < 2 {
		t.Fatal("loop did not emit commands")
	}

	r := request(t, conn, "stop")
	if !r.OK || r.Stats.Level != types.LoopStopped {
		t.Fatalf("stop reply: %+v", r)
	}
	// Stopping again is a no-op, like Loop.Deactivate.
	if r := request(t, conn, "stop"); !r.OK || r.Stats.Level != types.LoopStopped {
		t.Fatalf("second stop: %+v", r)
	}

	// A fresh activation is allowed after a stop.
	if r := request(t, conn, "start"); !r.OK {
		t.Fatalf("restart failed: %+v", r)
	}
	waitState(t, b, types.LoopRunning)
}

func TestService_AutoStartAndInvalidConfig(t *testing.T) {
	b, conn, _ := startService(t)

	bad := section()
	bad.AutoStart = true
	bad.Smoothing = 1.5
	conn.Publish(conn.NewMessage(TopicConfig, bad, true))

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		m, _ := b.Retained(TopicState)
		if st := m.Payload.(types.LoopStats); strings.Contains(st.LastError, "smoothing") {
			break
		}
		time.Sleep(2 * time.Millisecond)
	}
	if st := request(t, conn, "status").Stats; st.Level != types.LoopIdle {
		t.Fatalf("invalid config must not start the loop: %+v", st)
	}

	good := section()
	good.AutoStart = true
	conn.Publish(conn.NewMessage(TopicConfig, good, true))
	waitState(t, b, types.LoopRunning)
}

func TestService_UnknownAction(t *testing.T) {
	_, conn, _ := startService(t)
	if r := request(t, conn, "dance"); r.OK || !strings.Contains(r.Error, "unsupported") {
		t.Fatalf("unexpected reply: %+v", r)
	}
}

func TestService_StopWhenIdleIsNoop(t *testing.T) {
	_, conn, _ := startService(t)
	if r := request(t, conn, "stop"); !r.OK || r.Stats.Level != types.LoopIdle {
		t.Fatalf("stop while idle: %+v", r)
	}
}

// settledRig runs the service with registers at (100, 0) and waits until pan
// has converged on the top of its range.
func settledRig(t *testing.T) (*bus.Connection, *fakeActuator, types.TrackerConfig) {
	t.Helper()
	b := bus.NewBus(16)
	regs := &fakeRegisters{}
	regs.set(100, 0)
	act := &fakeActuator{}
	svc := NewService(b.NewConnection("tracker"), regs, act, nil)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go svc.Run(ctx)
	waitState(t, b, types.LoopIdle)

	conn := b.NewConnection("test")
	sec := section()
	sec.AutoStart = true
	conn.Publish(conn.NewMessage(TopicConfig, sec, true))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if pan := act.commands(types.AxisPan); len(pan) > 0 && pan[len(pan)-1].deg > 539.9 {
			return conn, act, sec
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("pan never settled at 540")
	return nil, nil, sec
}

func waitCommands(t *testing.T, act *fakeActuator, n int) []sentCommand {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if pan := act.commands(types.AxisPan); len(pan) >= n {
			return pan
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("fewer than %d pan commands", n)
	return nil
}

func TestService_IdenticalConfigKeepsRunningLoop(t *testing.T) {
	conn, act, sec := settledRig(t)
	before := request(t, conn, "status").Stats
	n := len(act.commands(types.AxisPan))

	conn.Publish(conn.NewMessage(TopicConfig, sec, true))

	pan := waitCommands(t, act, n+20)
	for i, c := range pan[n:] {
		if c.deg < 539.9 {
			t.Fatalf("pan dipped to %.3f at command %d after republish", c.deg, n+i)
		}
	}
	after := request(t, conn, "status").Stats
	if after.Level != types.LoopRunning || after.Cycles <= before.Cycles {
		t.Fatalf("loop was restarted: before %+v after %+v", before, after)
	}
}

func TestService_ChangedConfigSeedsFromLastPosition(t *testing.T) {
	conn, act, sec := settledRig(t)
	n := len(act.commands(types.AxisPan))

	sec.Pan.Max = 360
	conn.Publish(conn.NewMessage(TopicConfig, sec, true))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if st := request(t, conn, "status").Stats; st.Level == types.LoopRunning && st.Commanded.Pan == 360 {
			break
		}
		time.Sleep(2 * time.Millisecond)
	}
	pan := waitCommands(t, act, n+5)
	// Old-loop commands sit at 540; the new loop starts at the clamped 360
	// rather than easing in from the 180 midpoint.
	for i, c := range pan[n:] {
		if c.deg < 359.9 {
			t.Fatalf("pan jumped to %.3f at command %d after reconfigure", c.deg, n+i)
		}
	}
	if last := pan[len(pan)-1].deg; last != 360 {
		t.Fatalf("last pan = %.3f, want 360", last)
	}
}
