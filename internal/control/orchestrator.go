package control

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"codeberg.org/mutker/robotctl/internal/bus"
	"codeberg.org/mutker/robotctl/internal/errors"
	"codeberg.org/mutker/robotctl/internal/frame"
	"codeberg.org/mutker/robotctl/internal/logger"
	"codeberg.org/mutker/robotctl/internal/observation"
	"codeberg.org/mutker/robotctl/internal/policy"
	"codeberg.org/mutker/robotctl/internal/telemetry"
)

const stateChanDepth = 8

// Config carries every tunable of the control loops. Validate is called by
// NewOrchestrator; a config that passes it cannot fail later for structural
// reasons.
type Config struct {
	ControlPeriod time.Duration
	InputPeriod   time.Duration
	Decimation    int

	NumJoints   int
	DefaultPose []float64
	Kp          []float64
	Kd          []float64
	ActionScale float64

	ClipLower []float64
	ClipUpper []float64

	Observation    observation.Layout
	HistorySteps   int
	HistoryOffsets []int

	// PhaseCycle is the duration of one gait cycle. Zero pins the phase
	// observation to zero for policies without a clock input.
	PhaseCycle time.Duration

	RefSlots    policy.RefSlots
	ModePR      uint8
	ModeMachine uint8
	Scales      ObservationScales
	JointNames  []string
}

func (c Config) Validate() error {
	errFactory := errors.New()

	if c.ControlPeriod <= 0 || c.InputPeriod <= 0 {
		return errFactory.New(ErrInvalidPeriod)
	}
	if c.Decimation < 1 {
		return errFactory.WithData(ErrInvalidDecimation, c.Decimation)
	}
	if c.NumJoints < 1 || c.NumJoints > frame.NumChannels {
		return errFactory.WithData(ErrInvalidJoints, c.NumJoints)
	}
	for _, s := range [][]float64{c.DefaultPose, c.Kp, c.Kd} {
		if len(s) != c.NumJoints {
			return errFactory.WithData(ErrInvalidJoints, len(s))
		}
	}

	return validateLayout(c.Observation, c.NumJoints)
}

// InferencePeriod is the policy cadence: one inference pass every Decimation
// control ticks.
func (c Config) InferencePeriod() time.Duration {
	return c.ControlPeriod * time.Duration(c.Decimation)
}

// Orchestrator owns the three loops of the controller: the input loop
// polling the operator, the fast loop exchanging hardware frames at the
// control cadence, and the inference loop running the policy at the
// decimated cadence. The loops never block on each other; they meet only at
// the intent queue and the action handoff slot.
type Orchestrator struct {
	cfg     Config
	codec   *frame.Codec
	hwbus   bus.Bus
	primary policy.Engine
	backup  policy.Engine
	buffer  *observation.Buffer
	session *telemetry.Session
	source  Source

	handoff Handoff
	intents intentState

	active    atomic.Bool
	needReset atomic.Bool

	stateMu   sync.RWMutex
	state     RobotState
	haveState bool

	stateCh chan []byte

	// Inference loop owned.
	lastAction  []float32
	episodeStep int64

	// Fast loop owned.
	startTime   time.Time
	lastTick    time.Time
	motionTicks int64

	lastInferNanos atomic.Int64
	episodeLen     atomic.Int64
}

// NewOrchestrator wires the loops to their collaborators and subscribes to
// the hardware state topic. The fallback engine may be nil.
func NewOrchestrator(cfg Config, codec *frame.Codec, hwbus bus.Bus, primary, fallback policy.Engine,
	session *telemetry.Session, source Source,
) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := &Orchestrator{
		cfg:     cfg,
		codec:   codec,
		hwbus:   hwbus,
		primary: primary,
		backup:  fallback,
		session: session,
		source:  source,
		stateCh: make(chan []byte, stateChanDepth),
	}
	o.cfg.Scales = normalizeScales(cfg.Scales)

	if len(cfg.HistoryOffsets) > 0 {
		buf, err := observation.NewBuffer(1, cfg.HistorySteps, cfg.Observation)
		if err != nil {
			return nil, err
		}
		o.buffer = buf
	}

	if err := hwbus.Subscribe(bus.TopicState, "orchestrator", o.stateCh); err != nil {
		return nil, err
	}

	return o, nil
}

func normalizeScales(s ObservationScales) ObservationScales {
	if s.AngVel == 0 {
		s.AngVel = 1
	}
	if s.DofPos == 0 {
		s.DofPos = 1
	}
	if s.DofVel == 0 {
		s.DofVel = 1
	}

	return s
}

// SetActive arms or disarms the policy. Arming resets the episode so the
// history buffer refills from the first fresh observation.
func (o *Orchestrator) SetActive(active bool) {
	was := o.active.Swap(active)
	if was == active {
		return
	}

	if active {
		atomic.StoreInt64(&o.episodeStep, 0)
		o.needReset.Store(true)
		logger.Info().Msg("Policy control enabled")
	} else {
		logger.Info().Msg("Policy control disabled, holding default pose")
	}
}

// Active reports whether the policy currently drives the robot.
func (o *Orchestrator) Active() bool {
	return o.active.Load()
}

// Run drives all three loops until the context is cancelled. It blocks.
// Before the loops start, one neutral frame with every channel enabled and
// zeroed targets primes the actuators.
func (o *Orchestrator) Run(ctx context.Context) {
	o.startTime = time.Now()
	o.lastTick = o.startTime

	neutral := o.codec.NeutralCommand(o.cfg.ModePR, o.cfg.ModeMachine, frame.MotorEnable)
	if err := o.hwbus.Publish(bus.TopicCommand, neutral.Marshal()); err != nil {
		logger.Debug().Err(err).Msg("Failed to publish neutral frame")
	}

	var wg sync.WaitGroup
	wg.Add(3)
	go o.loop(ctx, &wg, o.cfg.InputPeriod, o.inputTick)
	go o.loop(ctx, &wg, o.cfg.ControlPeriod, o.controlTick)
	go o.loop(ctx, &wg, o.cfg.InferencePeriod(), o.inferenceTick)
	wg.Wait()
}

func (o *Orchestrator) loop(ctx context.Context, wg *sync.WaitGroup, period time.Duration, tick func()) {
	defer wg.Done()

	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tick()
		}
	}
}

func (o *Orchestrator) inputTick() {
	if o.source == nil {
		return
	}
	o.intents.push(o.source.Poll())
}

// controlTick is one pass of the fast loop: ingest the freshest state frame,
// apply pending operator input, synthesize joint targets from the latest
// completed inference, and publish a command frame. It runs at the control
// cadence no matter what the inference loop is doing.
func (o *Orchestrator) controlTick() {
	now := time.Now()
	loopTime := now.Sub(o.lastTick)
	o.lastTick = now
	o.motionTicks++

	o.ingestState()
	intent := o.intents.consume()

	cmd := o.synthesize()
	o.publish(cmd)

	active := o.active.Load()
	if active {
		o.episodeLen.Store(atomic.LoadInt64(&o.episodeStep))
	}

	if o.session != nil {
		state := o.snapshotState()
		o.session.Observe(active, func(r *telemetry.Recorder) {
			o.recordTick(r, now, loopTime, intent, state, cmd)
		})
	}
}

// ingestState drains the state channel and decodes the most recent frame.
// A frame that fails length or checksum validation is dropped and the
// previous state is retained.
func (o *Orchestrator) ingestState() {
	var raw []byte
	for {
		select {
		case buf := <-o.stateCh:
			raw = buf
		default:
			if raw == nil {
				return
			}

			f, err := frame.UnmarshalState(raw)
			if err != nil {
				logger.Debug().Err(err).Msg("Dropping invalid state frame")
				return
			}
			decoded := o.codec.DecodeState(f)

			o.stateMu.Lock()
			o.state = RobotState{
				Quaternion:    decoded.Quaternion,
				Gyroscope:     decoded.Gyroscope,
				Accelerometer: decoded.Accelerometer,
				Q:             decoded.Q,
				Dq:            decoded.Dq,
				TauEst:        decoded.TauEst,
			}
			o.haveState = true
			o.stateMu.Unlock()

			if sink, ok := o.source.(RemoteSink); ok {
				sink.UpdateRemote(decoded.WirelessRemote)
			}

			return
		}
	}
}

func (o *Orchestrator) snapshotState() RobotState {
	o.stateMu.RLock()
	defer o.stateMu.RUnlock()

	s := o.state
	if !o.haveState {
		n := o.cfg.NumJoints
		s.Q = make([]float64, n)
		s.Dq = make([]float64, n)
		s.TauEst = make([]float64, n)
	}

	return s
}

// synthesize produces the per-joint targets for this tick. While the policy
// is active the latest handed-off action offsets the default pose; otherwise
// the robot holds the default pose under the same gains.
func (o *Orchestrator) synthesize() RobotCommand {
	n := o.cfg.NumJoints
	cmd := RobotCommand{
		Q:   make([]float64, n),
		Dq:  make([]float64, n),
		Tau: make([]float64, n),
		Kp:  make([]float64, n),
		Kd:  make([]float64, n),
	}
	copy(cmd.Q, o.cfg.DefaultPose)
	copy(cmd.Kp, o.cfg.Kp)
	copy(cmd.Kd, o.cfg.Kd)

	if !o.active.Load() {
		return cmd
	}

	res, ok := o.handoff.Latest()
	if !ok {
		return cmd
	}

	for i := 0; i < n && i < len(res.Action); i++ {
		cmd.Q[i] = o.cfg.DefaultPose[i] + float64(res.Action[i])*o.cfg.ActionScale
	}

	return cmd
}

func (o *Orchestrator) publish(cmd RobotCommand) {
	f, err := o.codec.EncodeCommand(o.cfg.ModePR, o.cfg.ModeMachine, cmd.Q, cmd.Dq, cmd.Kp, cmd.Kd, cmd.Tau)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to encode command frame")
		return
	}
	if err := o.hwbus.Publish(bus.TopicCommand, f.Marshal()); err != nil {
		logger.Debug().Err(err).Msg("Failed to publish command frame")
	}
}

// inferenceTick is one pass of the slow loop: assemble an observation,
// run the selected backend, post-process, and hand the result to the fast
// loop. Any failure leaves the previous handoff in place so the fast loop
// keeps publishing.
func (o *Orchestrator) inferenceTick() {
	if !o.active.Load() {
		o.lastInferNanos.Store(0)
		return
	}

	start := time.Now()
	state := o.snapshotState()
	intent := o.intents.snapshot()
	step := atomic.AddInt64(&o.episodeStep, 1)

	obs := o.buildObservation(state, intent, o.lastAction, o.phase(step))

	vec := obs
	if o.buffer != nil {
		if o.needReset.Swap(false) {
			if err := o.buffer.Reset([]int{0}, obs); err != nil {
				logger.Error().Err(err).Msg("Failed to reset observation history")
				return
			}
		}
		if err := o.buffer.Insert(obs); err != nil {
			logger.Error().Err(err).Msg("Failed to insert observation")
			return
		}
		v, err := o.buffer.ObsVec(o.cfg.HistoryOffsets)
		if err != nil {
			logger.Error().Err(err).Msg("Failed to assemble observation history")
			return
		}
		vec = v
	}

	engine, err := policy.Select(o.primary, o.backup)
	if err != nil {
		logger.Warn().Err(err).Msg("No inference backend available")
		return
	}

	outputs, err := engine.Forward(vec, float32(step))
	if err != nil {
		logger.Warn().Err(err).Msg("Inference failed, keeping previous action")
		return
	}

	action, err := policy.ExtractAction(outputs)
	if err != nil {
		logger.Warn().Err(err).Msg("Policy output missing action tensor")
		return
	}
	action = policy.ClipAction(action, o.cfg.ClipLower, o.cfg.ClipUpper)

	refs, err := policy.ExtractReferences(outputs, o.cfg.RefSlots)
	if err != nil {
		logger.Debug().Err(err).Msg("Reference extraction failed, action kept")
		refs = policy.References{}
	}

	o.lastAction = action
	dur := time.Since(start)
	o.lastInferNanos.Store(int64(dur))

	o.handoff.Put(Result{Action: action, Refs: refs, Duration: dur})
}

// phase maps the episode step onto [0, 1) over one gait cycle.
func (o *Orchestrator) phase(step int64) float64 {
	if o.cfg.PhaseCycle <= 0 {
		return 0
	}

	t := float64(step) * o.cfg.InferencePeriod().Seconds()
	cycle := o.cfg.PhaseCycle.Seconds()

	return math.Mod(t, cycle) / cycle
}

const radToDeg = 180 / math.Pi

func (o *Orchestrator) recordTick(r *telemetry.Recorder, now time.Time, loopTime time.Duration,
	intent ControlIntent, state RobotState, cmd RobotCommand,
) {
	r.Record("timestamp", float64(now.UnixNano())/1e9)
	r.Record("loop_time", loopTime.Seconds())
	r.Record("motion_time", now.Sub(o.startTime).Seconds())
	r.Record("motion_tick", float64(o.motionTicks))
	r.Record("inference_time", float64(o.lastInferNanos.Load())/1e9)
	r.Record("episode_length", float64(o.episodeLen.Load()))
	r.Record("active", boolToFloat(o.active.Load()))

	r.Record("control_x", intent.X)
	r.Record("control_y", intent.Y)
	r.Record("control_yaw", intent.Yaw)
	r.Record("navigation_mode", boolToFloat(intent.NavigationMode))

	r.Record("imu_quat_w", state.Quaternion[0])
	r.Record("imu_quat_x", state.Quaternion[1])
	r.Record("imu_quat_y", state.Quaternion[2])
	r.Record("imu_quat_z", state.Quaternion[3])
	for i := 0; i < 3; i++ {
		r.Record("imu_gyro_"+axisName(i), state.Gyroscope[i])
		r.Record("imu_acc_"+axisName(i), state.Accelerometer[i])
	}

	for i := 0; i < o.cfg.NumJoints; i++ {
		r.RecordJoint(i,
			cmd.Q[i]*radToDeg,
			state.Q[i]*radToDeg,
			state.Dq[i]*radToDeg,
			cmd.Kp[i],
			cmd.Kd[i],
			state.TauEst[i])
	}
}

func axisName(i int) string {
	return [...]string{"x", "y", "z"}[i]
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}

	return 0
}

// Shutdown publishes a disable frame so every actuator goes passive, then
// unsubscribes from the state topic. The loops must already have stopped.
func (o *Orchestrator) Shutdown() {
	neutral := o.codec.NeutralCommand(o.cfg.ModePR, o.cfg.ModeMachine, frame.MotorDisable)
	if err := o.hwbus.Publish(bus.TopicCommand, neutral.Marshal()); err != nil {
		logger.Debug().Err(err).Msg("Failed to publish disable frame")
	}

	if err := o.hwbus.Unsubscribe(bus.TopicState, "orchestrator"); err != nil {
		logger.Debug().Err(err).Msg("Failed to unsubscribe from state topic")
	}
}
