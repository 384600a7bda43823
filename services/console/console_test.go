package console

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stagetrack/bus"
	"stagetrack/errcode"
	"stagetrack/services/fixture/logonly"
	"stagetrack/services/tracker"
	"stagetrack/services/varstore"
	"stagetrack/types"
)

type rig struct {
	bus   *bus.Bus
	store *varstore.Store
	act   *logonly.Actuator
	con   *Console
	out   *bytes.Buffer
}

func newRig(t *testing.T) *rig {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	b := bus.NewBus(16)
	store := varstore.New(b.NewConnection("vars"), types.RegistersConfig{})
	act := logonly.New("101", nil)
	go tracker.NewService(b.NewConnection("tracker"), store, act, nil).Run(ctx)

	cfg := b.NewConnection("config")
	cfg.Publish(cfg.NewMessage(tracker.TopicConfig, types.TrackerConfig{
		ActuatorID:   "101",
		UpdatePeriod: 0.005,
		Smoothing:    0,
		Pan:          types.AxisRange{Min: 0, Max: 540},
		Tilt:         types.AxisRange{Min: 0, Max: 270, Invert: true},
	}, true))

	out := &bytes.Buffer{}
	con := New(b.NewConnection("console"), store, out, types.ConsoleConfig{}, nil)

	// The tracker publishes its first state after subscribing.
	require.Eventually(t, func() bool {
		_, ok := b.Retained(tracker.TopicState)
		return ok
	}, time.Second, time.Millisecond)
	// Ready once it answers with its configured actuator.
	require.Eventually(t, func() bool {
		res, err := con.Exec(context.Background(), "status")
		return err == nil && strings.Contains(res, "actuator=101")
	}, 3*time.Second, 10*time.Millisecond)

	return &rig{bus: b, store: store, act: act, out: out, con: con}
}

func TestSetAndGet(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()

	res, err := r.con.Exec(ctx, "set x 75")
	require.NoError(t, err)
	assert.Equal(t, "person1_x = 75", res)

	_, err = r.con.Exec(ctx, `set Y "12.5"`)
	require.NoError(t, err)

	res, err = r.con.Exec(ctx, "get")
	require.NoError(t, err)
	assert.Equal(t, "person1_x = 75\nperson1_y = 12.5", res)

	res, err = r.con.Exec(ctx, "get y")
	require.NoError(t, err)
	assert.Equal(t, "person1_y = 12.5", res)
}

func TestRejectsBadInput(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()
	for _, line := range []string{"set z 1", "set x 101", "set x -1", "set x abc", "set x", "get x y", `set x "unterminated`} {
		_, err := r.con.Exec(ctx, line)
		assert.ErrorIs(t, err, errcode.InvalidParams, line)
	}
	_, err := r.con.Exec(ctx, "dance")
	assert.ErrorIs(t, err, errcode.Unsupported)

	res, err := r.con.Exec(ctx, "   ")
	assert.NoError(t, err)
	assert.Empty(t, res)
}

func TestStartStatusStop(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()

	_, err := r.con.Exec(ctx, "set x 100")
	require.NoError(t, err)
	_, err = r.con.Exec(ctx, "set y 0")
	require.NoError(t, err)

	res, err := r.con.Exec(ctx, "start")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(res, "running actuator=101"), res)

	require.Eventually(t, func() bool {
		return r.act.Last() == types.PanTilt{Pan: 540, Tilt: 270}
	}, 2*time.Second, 5*time.Millisecond)

	res, err = r.con.Exec(ctx, "status")
	require.NoError(t, err)
	assert.Contains(t, res, "pan=540.00 tilt=270.00")

	_, err = r.con.Exec(ctx, "start")
	assert.ErrorContains(t, err, "already_running")

	res, err = r.con.Exec(ctx, "stop")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(res, "stopped"), res)

	res, err = r.con.Exec(ctx, "stop")
	require.NoError(t, err, "stopping twice is a no-op")
	assert.True(t, strings.HasPrefix(res, "stopped"), res)
}

func TestRunReadsUntilQuit(t *testing.T) {
	r := newRig(t)
	r.con.prompt = "> "
	in := strings.NewReader("help\nset x 10\nbogus\nquit\nset x 99\n")

	require.NoError(t, r.con.Run(context.Background(), in))

	out := r.out.String()
	assert.Contains(t, out, "commands:")
	assert.Contains(t, out, "person1_x = 10")
	assert.Contains(t, out, "error: console: unsupported")
	v, _ := r.store.Get("person1_x")
	assert.Equal(t, 10.0, v, "input after quit is not executed")
}

func TestFormatStats(t *testing.T) {
	s := FormatStats(types.LoopStats{
		ActuatorID: "7", Level: types.LoopRunning, Cycles: 3, Failures: 1,
		Commanded:    types.PanTilt{Pan: 1, Tilt: 2},
		LastFailStep: "read_x", LastError: "boom",
	})
	assert.Equal(t, "running actuator=7 cycles=3 failures=1 pan=1.00 tilt=2.00 last_fail=read_x (boom)", s)
}
