package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"codeberg.org/mutker/robotctl/internal/bus"
	"codeberg.org/mutker/robotctl/internal/config"
	"codeberg.org/mutker/robotctl/internal/control"
	"codeberg.org/mutker/robotctl/internal/frame"
	"codeberg.org/mutker/robotctl/internal/input"
	"codeberg.org/mutker/robotctl/internal/logger"
	"codeberg.org/mutker/robotctl/internal/observation"
	"codeberg.org/mutker/robotctl/internal/pid"
	"codeberg.org/mutker/robotctl/internal/policy"
	"codeberg.org/mutker/robotctl/internal/telemetry"
)

var cfg *config.Config

func init() {
	var err error
	cfg, err = config.Load()
	if err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.Debug, cfg.Verbose, logger.IsService())
	logger.Debug().Msg("Config loaded")
}

func main() {
	if err := pid.Write(); err != nil {
		logger.Fatal().Err(err).Msg("failed to acquire instance lock")
	}
	defer func() {
		if err := pid.Remove(); err != nil {
			logger.Error().Err(err).Msg("failed to remove PID file")
		}
	}()

	codec, err := frame.NewCodec(cfg.JointMapping)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid joint mapping")
	}

	primary, fallback := loadEngines()
	session := openTelemetry()
	hwbus := bus.NewLoopback()

	orchestrator, err := control.NewOrchestrator(controlConfig(), codec, hwbus,
		primary, fallback, session, inputSource())
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize control loops")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go handleSignals(cancel)

	orchestrator.SetActive(true)
	orchestrator.Run(ctx)

	cleanup(orchestrator, session, hwbus)
}

// loadEngines opens the configured backends. A primary that fails to load is
// a warning as long as the fallback loads; no loaded backend at all is
// fatal.
func loadEngines() (primary, fallback policy.Engine) {
	var loaded int

	if cfg.Policy.ModelPath != "" {
		onnx := policy.NewONNXEngine(cfg.Policy.OrtLibrary)
		if err := onnx.LoadModel(cfg.Policy.ModelPath); err != nil {
			logger.Warn().Err(err).Str("path", cfg.Policy.ModelPath).
				Msg("Primary backend unavailable")
		} else {
			loaded++
		}
		primary = onnx
	}

	if cfg.Policy.FallbackPath != "" {
		script := policy.NewScriptEngine()
		if err := script.LoadModel(cfg.Policy.FallbackPath); err != nil {
			logger.Warn().Err(err).Str("path", cfg.Policy.FallbackPath).
				Msg("Fallback backend unavailable")
		} else {
			loaded++
		}
		fallback = script
	}

	if loaded == 0 {
		logger.Fatal().Msg("no inference backend could be loaded")
	}

	return primary, fallback
}

func openTelemetry() *telemetry.Session {
	if !cfg.Telemetry.Enabled {
		return nil
	}

	var repo telemetry.Repository
	if cfg.Telemetry.Database != "" {
		var err error
		repo, err = telemetry.NewRepository(cfg.Telemetry.Database)
		if err != nil {
			logger.Error().Err(err).Msg("session archive unavailable, capture continues")
		}
	}

	session, err := telemetry.NewSession(telemetry.Config{
		OutputDir: cfg.Telemetry.OutputDir,
		DBPath:    cfg.Telemetry.Database,
	}, telemetry.NewRecorder(cfg.JointNames), repo)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize telemetry")
	}

	return session
}

// inputSource prefers the gamepad riding in state frames; a keyboard reader
// covers bench runs with an attached terminal.
func inputSource() control.Source {
	if logger.IsService() {
		return input.NewGamepad()
	}

	return input.NewKeyboard(os.Stdin)
}

func controlConfig() control.Config {
	groups := make([]observation.Group, len(cfg.Observation.Groups))
	for i, g := range cfg.Observation.Groups {
		groups[i] = observation.Group{Name: g.Name, Width: g.Width}
	}

	return control.Config{
		ControlPeriod: cfg.ControlPeriod(),
		InputPeriod:   cfg.InputPeriod(),
		Decimation:    cfg.Decimation,
		NumJoints:     len(cfg.JointMapping),
		DefaultPose:   cfg.DefaultPose,
		Kp:            cfg.Kp,
		Kd:            cfg.Kd,
		ActionScale:   cfg.ActionScale,
		ClipLower:     cfg.ClipLower,
		ClipUpper:     cfg.ClipUpper,
		Observation: observation.Layout{
			Groups: groups,
			Tail:   cfg.Observation.TailGroups,
		},
		HistorySteps:   cfg.Observation.HistorySteps,
		HistoryOffsets: cfg.Observation.HistoryOffsets,
		PhaseCycle:     cfg.PhaseCycle(),
		RefSlots: policy.RefSlots{
			PositionSlot: cfg.Policy.PositionRefSlot,
			VelocitySlot: cfg.Policy.VelocityRefSlot,
			QuatSlot:     cfg.Policy.QuatRefSlot,
			QuatOffset:   cfg.Policy.QuatOffset,
			QuatLen:      cfg.Policy.QuatLen,
		},
		ModePR:      uint8(cfg.ModePR),
		ModeMachine: uint8(cfg.ModeMachine),
		Scales: control.ObservationScales{
			AngVel: cfg.Scales.AngVel,
			DofPos: cfg.Scales.DofPos,
			DofVel: cfg.Scales.DofVel,
		},
		JointNames: cfg.JointNames,
	}
}

func handleSignals(cancel context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs
	logger.Info().Msg("Received termination signal.")
	cancel()
}

// cleanup runs after every loop has stopped: actuators go passive, the open
// telemetry session flushes, and the bus shuts down.
func cleanup(orchestrator *control.Orchestrator, session *telemetry.Session, hwbus bus.Bus) {
	orchestrator.Shutdown()
	if session != nil {
		if err := session.Close(); err != nil {
			logger.Error().Err(err).Msg("failed to close telemetry session")
		}
	}
	if err := hwbus.Close(); err != nil {
		logger.Error().Err(err).Msg("failed to close bus")
	}
	logger.Info().Msg("Exiting...")
}
