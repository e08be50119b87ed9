package control

import (
	"math"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codeberg.org/mutker/robotctl/internal/bus"
	"codeberg.org/mutker/robotctl/internal/frame"
	"codeberg.org/mutker/robotctl/internal/logger"
	"codeberg.org/mutker/robotctl/internal/observation"
	"codeberg.org/mutker/robotctl/internal/policy"
	"codeberg.org/mutker/robotctl/internal/telemetry"
)

func TestMain(m *testing.M) {
	logger.Init(false, false, true)
	os.Exit(m.Run())
}

func TestHandoffLatestWins(t *testing.T) {
	var h Handoff

	_, ok := h.Latest()
	assert.False(t, ok)

	h.Put(Result{Action: []float32{1}})
	h.Put(Result{Action: []float32{2}})
	h.Put(Result{Action: []float32{3}})

	res, ok := h.Latest()
	require.True(t, ok)
	assert.Equal(t, []float32{3}, res.Action)
	assert.Equal(t, uint64(3), res.Seq)

	// Reading does not consume.
	again, ok := h.Latest()
	require.True(t, ok)
	assert.Equal(t, res.Seq, again.Seq)
}

func TestIntentConsumeOnce(t *testing.T) {
	var s intentState

	s.push(InputSample{Gestures: []Gesture{GestureForward, GestureForward}})

	intent := s.consume()
	assert.InDelta(t, 0.2, intent.X, 1e-9)
	assert.Equal(t, GestureForward, intent.LastGesture)

	// No new input: a second consume applies nothing.
	intent = s.consume()
	assert.InDelta(t, 0.2, intent.X, 1e-9)
}

func TestIntentAxesAndStop(t *testing.T) {
	var s intentState

	s.push(InputSample{Axes: &Axes{X: 0.5, Y: -0.2, Yaw: 0.1}})
	intent := s.consume()
	assert.InDelta(t, 0.5, intent.X, 1e-9)
	assert.InDelta(t, -0.2, intent.Y, 1e-9)
	assert.InDelta(t, 0.1, intent.Yaw, 1e-9)

	// Axes updates are absolute, not additive.
	s.push(InputSample{Axes: &Axes{X: 0.3}})
	intent = s.consume()
	assert.InDelta(t, 0.3, intent.X, 1e-9)
	assert.Zero(t, intent.Y)

	s.push(InputSample{Gestures: []Gesture{GestureStop}})
	intent = s.consume()
	assert.Zero(t, intent.X)
	assert.Zero(t, intent.Y)
	assert.Zero(t, intent.Yaw)
}

func TestIntentNavigationToggle(t *testing.T) {
	var s intentState

	s.push(InputSample{Gestures: []Gesture{GestureNavToggle}})
	assert.True(t, s.consume().NavigationMode)

	s.push(InputSample{Gestures: []Gesture{GestureNavToggle}})
	assert.False(t, s.consume().NavigationMode)
}

func TestProjectedGravity(t *testing.T) {
	// Identity orientation: gravity straight down.
	g := projectedGravity([4]float64{1, 0, 0, 0})
	assert.InDelta(t, 0, g[0], 1e-9)
	assert.InDelta(t, 0, g[1], 1e-9)
	assert.InDelta(t, -1, g[2], 1e-9)

	// Upside down (180 degree roll): gravity points up in the body frame.
	g = projectedGravity([4]float64{0, 1, 0, 0})
	assert.InDelta(t, 0, g[0], 1e-9)
	assert.InDelta(t, 0, g[1], 1e-9)
	assert.InDelta(t, 1, g[2], 1e-9)

	// Pure yaw leaves the gravity direction unchanged.
	half := math.Pi / 8
	g = projectedGravity([4]float64{math.Cos(half), 0, 0, math.Sin(half)})
	assert.InDelta(t, 0, g[0], 1e-9)
	assert.InDelta(t, 0, g[1], 1e-9)
	assert.InDelta(t, -1, g[2], 1e-9)

	// 90 degree pitch: gravity along the body x axis.
	quarter := math.Pi / 4
	g = projectedGravity([4]float64{math.Cos(quarter), 0, math.Sin(quarter), 0})
	assert.InDelta(t, 1, g[0], 1e-9)
	assert.InDelta(t, 0, g[1], 1e-9)
	assert.InDelta(t, 0, g[2], 1e-9)
}

func TestValidateLayout(t *testing.T) {
	tests := []struct {
		name    string
		layout  observation.Layout
		joints  int
		wantErr bool
	}{
		{
			name: "valid",
			layout: observation.Layout{Groups: []observation.Group{
				{Name: "ang_vel", Width: 3},
				{Name: "dof_pos", Width: 4},
				{Name: "phase", Width: 1},
			}},
			joints: 4,
		},
		{
			name: "unknown group",
			layout: observation.Layout{Groups: []observation.Group{
				{Name: "lidar", Width: 16},
			}},
			joints:  4,
			wantErr: true,
		},
		{
			name: "wrong width",
			layout: observation.Layout{Groups: []observation.Group{
				{Name: "dof_pos", Width: 3},
			}},
			joints:  4,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateLayout(tt.layout, tt.joints)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

// stubEngine is a loaded backend returning a fixed action.
type stubEngine struct {
	action []float32
	calls  int
	fail   bool
}

func (e *stubEngine) LoadModel(string) error { return nil }
func (e *stubEngine) Loaded() bool           { return true }
func (e *stubEngine) Inputs() []policy.TensorInfo {
	return []policy.TensorInfo{{Name: "input_0"}}
}

func (e *stubEngine) Outputs() []policy.TensorInfo {
	return []policy.TensorInfo{{Name: "output_0"}}
}

func (e *stubEngine) Forward(obs []float32, _ float32) ([]policy.Tensor, error) {
	e.calls++
	if e.fail {
		return nil, assert.AnError
	}

	out := policy.FloatTensor("output_0", []int64{1, int64(len(e.action))}, e.action)

	return []policy.Tensor{out}, nil
}

type memRepo struct {
	records []telemetry.SessionRecord
}

func (r *memRepo) Archive(rec telemetry.SessionRecord) error {
	r.records = append(r.records, rec)
	return nil
}

func (r *memRepo) Close() error { return nil }

func testConfig(joints int) Config {
	pose := make([]float64, joints)
	gains := make([]float64, joints)
	damping := make([]float64, joints)
	for i := range pose {
		pose[i] = 0.1 * float64(i)
		gains[i] = 40
		damping[i] = 1
	}

	return Config{
		ControlPeriod: 2 * time.Millisecond,
		InputPeriod:   50 * time.Millisecond,
		Decimation:    5,
		NumJoints:     joints,
		DefaultPose:   pose,
		Kp:            gains,
		Kd:            damping,
		ActionScale:   0.25,
		Observation: observation.Layout{Groups: []observation.Group{
			{Name: "ang_vel", Width: 3},
			{Name: "dof_pos", Width: joints},
			{Name: "dof_vel", Width: joints},
		}},
		RefSlots: policy.DisabledRefSlots(),
	}
}

func testMapping(joints int) []int {
	m := make([]int, joints)
	for i := range m {
		m[i] = i
	}

	return m
}

func newTestOrchestrator(t *testing.T, cfg Config, engine policy.Engine, session *telemetry.Session) (*Orchestrator, *bus.Loopback, chan []byte) {
	t.Helper()

	codec, err := frame.NewCodec(testMapping(cfg.NumJoints))
	require.NoError(t, err)

	hwbus := bus.NewLoopback()
	t.Cleanup(func() { hwbus.Close() })

	cmdCh := make(chan []byte, 256)
	require.NoError(t, hwbus.Subscribe(bus.TopicCommand, "test", cmdCh))

	o, err := NewOrchestrator(cfg, codec, hwbus, engine, nil, session, nil)
	require.NoError(t, err)
	o.startTime = time.Now()
	o.lastTick = o.startTime

	return o, hwbus, cmdCh
}

func publishState(t *testing.T, hwbus *bus.Loopback, q float32) {
	t.Helper()

	var f frame.StateFrame
	f.Quaternion = [4]float32{1, 0, 0, 0}
	for i := range f.Motors {
		f.Motors[i].Q = q
	}
	require.NoError(t, hwbus.Publish(bus.TopicState, f.Marshal()))
}

func TestControlTickPublishesWithoutInference(t *testing.T) {
	cfg := testConfig(4)
	o, hwbus, cmdCh := newTestOrchestrator(t, cfg, &stubEngine{action: []float32{0, 0, 0, 0}}, nil)

	publishState(t, hwbus, 0.5)
	o.controlTick()

	// The fast loop publishes the default pose even though inference has
	// never produced a result.
	select {
	case buf := <-cmdCh:
		cmd, err := frame.UnmarshalCommand(buf)
		require.NoError(t, err)
		for i := 0; i < cfg.NumJoints; i++ {
			assert.InDelta(t, cfg.DefaultPose[i], float64(cmd.Motors[i].Q), 1e-6)
			assert.Equal(t, frame.MotorEnable, cmd.Motors[i].Mode)
		}
	default:
		t.Fatal("no command frame published")
	}
}

func TestActiveTickAppliesScaledAction(t *testing.T) {
	cfg := testConfig(4)
	engine := &stubEngine{action: []float32{1, -1, 2, 0}}
	o, hwbus, cmdCh := newTestOrchestrator(t, cfg, engine, nil)

	publishState(t, hwbus, 0)
	o.SetActive(true)
	o.controlTick()
	o.inferenceTick()
	o.controlTick()

	require.Equal(t, 1, engine.calls)

	var last []byte
	for len(cmdCh) > 0 {
		last = <-cmdCh
	}
	cmd, err := frame.UnmarshalCommand(last)
	require.NoError(t, err)

	for i, a := range engine.action {
		want := cfg.DefaultPose[i] + float64(a)*cfg.ActionScale
		assert.InDelta(t, want, float64(cmd.Motors[i].Q), 1e-6)
	}
}

func TestInferenceFailureKeepsPreviousAction(t *testing.T) {
	cfg := testConfig(2)
	engine := &stubEngine{action: []float32{1, 1}}
	o, hwbus, cmdCh := newTestOrchestrator(t, cfg, engine, nil)

	publishState(t, hwbus, 0)
	o.SetActive(true)
	o.controlTick()
	o.inferenceTick()

	engine.fail = true
	o.inferenceTick()
	o.controlTick()

	var last []byte
	for len(cmdCh) > 0 {
		last = <-cmdCh
	}
	cmd, err := frame.UnmarshalCommand(last)
	require.NoError(t, err)

	// The failed pass left the earlier action in the handoff slot.
	want := cfg.DefaultPose[0] + 1*cfg.ActionScale
	assert.InDelta(t, want, float64(cmd.Motors[0].Q), 1e-6)
}

func TestInvalidStateFrameRetainsPrevious(t *testing.T) {
	cfg := testConfig(2)
	o, hwbus, _ := newTestOrchestrator(t, cfg, &stubEngine{action: []float32{0, 0}}, nil)

	publishState(t, hwbus, 0.75)
	o.controlTick()
	require.InDelta(t, 0.75, o.snapshotState().Q[0], 1e-6)

	var f frame.StateFrame
	f.Motors[0].Q = 9
	buf := f.Marshal()
	buf[10] ^= 0xFF // flip bits so the checksum no longer matches
	require.NoError(t, hwbus.Publish(bus.TopicState, buf))

	o.controlTick()
	assert.InDelta(t, 0.75, o.snapshotState().Q[0], 1e-6)
}

func TestScenarioFiftyTicks(t *testing.T) {
	cfg := testConfig(4)
	cfg.HistorySteps = 3
	cfg.HistoryOffsets = []int{0, 1, 2}

	recorder := telemetry.NewRecorder(nil)
	repo := &memRepo{}
	session, err := telemetry.NewSession(telemetry.Config{OutputDir: t.TempDir()}, recorder, repo)
	require.NoError(t, err)

	engine := &stubEngine{action: []float32{0.5, 0.5, 0.5, 0.5}}
	o, hwbus, cmdCh := newTestOrchestrator(t, cfg, engine, session)

	for i := 0; i < 50; i++ {
		o.SetActive(i >= 10 && i < 40)

		publishState(t, hwbus, float32(i)*0.01)
		o.controlTick()
		if i%cfg.Decimation == 0 {
			o.inferenceTick()
		}
	}
	require.NoError(t, session.Close())

	// Every published frame carries a valid checksum.
	frames := 0
	for len(cmdCh) > 0 {
		_, err := frame.UnmarshalCommand(<-cmdCh)
		require.NoError(t, err)
		frames++
	}
	assert.Equal(t, 50, frames)

	// Exactly one session covering the 30 active ticks.
	require.Len(t, repo.records, 1)
	assert.Equal(t, 30, repo.records[0].Rows)
	assert.FileExists(t, repo.records[0].FilePath)

	// Inference ran only while active: ticks 10, 15, ..., 35.
	assert.Equal(t, 6, engine.calls)

	stats := hwbus.Stats()
	assert.Zero(t, stats.Dropped)
}
