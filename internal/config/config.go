package config

import (
	"flag"
	"os"
	"time"

	"github.com/spf13/viper"

	"codeberg.org/mutker/robotctl/internal/errors"
)

const (
	defaultControlPeriodMS = 2
	defaultInputPeriodMS   = 50
	defaultDecimation      = 10
	defaultActionScale     = 0.25
	defaultOutputDir       = "log"
)

// Group is one named slice of the observation vector.
type Group struct {
	Name  string `mapstructure:"name"`
	Width int    `mapstructure:"width"`
}

// ObservationConfig describes the observation vector layout and the
// optional history stacking.
type ObservationConfig struct {
	Groups         []Group  `mapstructure:"groups"`
	TailGroups     []string `mapstructure:"tail_groups"`
	HistorySteps   int      `mapstructure:"history_steps"`
	HistoryOffsets []int    `mapstructure:"history_offsets"`
}

// PolicyConfig points at the model artifacts and declares which output
// slots carry reference trajectories.
type PolicyConfig struct {
	ModelPath    string `mapstructure:"model_path"`
	FallbackPath string `mapstructure:"fallback_path"`
	OrtLibrary   string `mapstructure:"ort_library"`

	PositionRefSlot int `mapstructure:"position_ref_slot"`
	VelocityRefSlot int `mapstructure:"velocity_ref_slot"`
	QuatRefSlot     int `mapstructure:"quat_ref_slot"`
	QuatOffset      int `mapstructure:"quat_offset"`
	QuatLen         int `mapstructure:"quat_len"`
}

// TelemetryConfig controls session capture and the sqlite archive.
type TelemetryConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	OutputDir string `mapstructure:"output_dir"`
	Database  string `mapstructure:"database"`
}

// ScalesConfig holds the observation normalization multipliers.
type ScalesConfig struct {
	AngVel float64 `mapstructure:"ang_vel"`
	DofPos float64 `mapstructure:"dof_pos"`
	DofVel float64 `mapstructure:"dof_vel"`
}

type Config struct {
	Debug   bool
	Verbose bool

	ControlPeriodMS int `mapstructure:"control_period_ms"`
	InputPeriodMS   int `mapstructure:"input_period_ms"`
	Decimation      int `mapstructure:"decimation"`
	PhaseCycleMS    int `mapstructure:"phase_cycle_ms"`

	JointMapping []int     `mapstructure:"joint_mapping"`
	JointNames   []string  `mapstructure:"joint_names"`
	DefaultPose  []float64 `mapstructure:"default_pose"`
	Kp           []float64 `mapstructure:"kp"`
	Kd           []float64 `mapstructure:"kd"`
	ActionScale  float64   `mapstructure:"action_scale"`
	ClipLower    []float64 `mapstructure:"clip_lower"`
	ClipUpper    []float64 `mapstructure:"clip_upper"`

	ModePR      int `mapstructure:"mode_pr"`
	ModeMachine int `mapstructure:"mode_machine"`

	Observation ObservationConfig `mapstructure:"observation"`
	Policy      PolicyConfig      `mapstructure:"policy"`
	Telemetry   TelemetryConfig   `mapstructure:"telemetry"`
	Scales      ScalesConfig      `mapstructure:"scales"`
}

// Load reads configuration from the config file, then overrides file values
// with any command line flags that were explicitly set.
func Load() (*Config, error) {
	return load(os.Args[1:])
}

func load(args []string) (*Config, error) {
	errFactory := errors.New()
	config := &Config{}

	fs := flag.NewFlagSet("robotctl", flag.ContinueOnError)
	debugFlag := fs.Bool("debug", false, "Enable debugging mode")
	verboseFlag := fs.Bool("verbose", false, "Enable verbose logging")
	fs.Int("control-period", defaultControlPeriodMS, "Control loop period in milliseconds")
	fs.Int("decimation", defaultDecimation, "Control ticks per inference pass")
	fs.String("model", "", "Path to the policy model")
	fs.String("fallback", "", "Path to the fallback policy model")
	fs.Bool("telemetry", false, "Enable telemetry capture")

	if err := fs.Parse(args); err != nil {
		return nil, errFactory.Wrap(ErrParseConfig, err)
	}

	config.Debug = *debugFlag
	config.Verbose = *verboseFlag

	v := viper.New()
	v.SetDefault("control_period_ms", defaultControlPeriodMS)
	v.SetDefault("input_period_ms", defaultInputPeriodMS)
	v.SetDefault("decimation", defaultDecimation)
	v.SetDefault("action_scale", defaultActionScale)
	v.SetDefault("telemetry.output_dir", defaultOutputDir)
	v.SetDefault("policy.position_ref_slot", -1)
	v.SetDefault("policy.velocity_ref_slot", -1)
	v.SetDefault("policy.quat_ref_slot", -1)
	v.SetDefault("scales.ang_vel", 1.0)
	v.SetDefault("scales.dof_pos", 1.0)
	v.SetDefault("scales.dof_vel", 1.0)

	// Load configuration from file
	if path := os.Getenv("ROBOTCTL_CONFIG"); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("robotctl.conf")
		v.SetConfigType("toml")
		v.AddConfigPath("/etc")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, errFactory.Wrap(ErrReadConfig, err)
		}
	}

	// Override config file values with command line flags
	v.Set("debug", config.Debug)
	v.Set("verbose", config.Verbose)
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "control-period":
			v.Set("control_period_ms", f.Value.String())
		case "model":
			v.Set("policy.model_path", f.Value.String())
		case "fallback":
			v.Set("policy.fallback_path", f.Value.String())
		case "telemetry":
			v.Set("telemetry.enabled", f.Value.String())
		default:
			v.Set(f.Name, f.Value.String())
		}
	})

	if err := v.Unmarshal(config); err != nil {
		return nil, errFactory.Wrap(ErrParseConfig, err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate checks structural consistency so the control layer can trust the
// loaded values. It fails fast on anything a running loop could not recover
// from.
func (c *Config) Validate() error {
	errFactory := errors.New()

	if c.ControlPeriodMS < 1 || c.InputPeriodMS < 1 {
		return errFactory.New(ErrInvalidPeriod)
	}
	if c.Decimation < 1 {
		return errFactory.WithData(ErrInvalidPeriod, c.Decimation)
	}

	n := len(c.JointMapping)
	if n == 0 {
		return errFactory.New(ErrInvalidMapping)
	}
	seen := make(map[int]bool, n)
	for _, ch := range c.JointMapping {
		if ch < 0 || seen[ch] {
			return errFactory.WithData(ErrInvalidMapping, ch)
		}
		seen[ch] = true
	}

	for _, s := range [][]float64{c.DefaultPose, c.Kp, c.Kd} {
		if len(s) != n {
			return errFactory.WithData(ErrLengthMismatch, len(s))
		}
	}
	if len(c.JointNames) != 0 && len(c.JointNames) != n {
		return errFactory.WithData(ErrLengthMismatch, len(c.JointNames))
	}

	for _, bounds := range [][]float64{c.ClipLower, c.ClipUpper} {
		if l := len(bounds); l != 0 && l != 1 && l != n {
			return errFactory.WithData(ErrInvalidClipping, l)
		}
	}

	if len(c.Observation.Groups) == 0 {
		return errFactory.New(ErrInvalidGroup)
	}
	for _, g := range c.Observation.Groups {
		if g.Name == "" || g.Width < 1 {
			return errFactory.WithData(ErrInvalidGroup, g)
		}
	}

	if len(c.Observation.HistoryOffsets) > 0 {
		if c.Observation.HistorySteps < 1 {
			return errFactory.WithData(ErrInvalidHistory, c.Observation.HistorySteps)
		}
		for _, id := range c.Observation.HistoryOffsets {
			if id < 0 || id >= c.Observation.HistorySteps {
				return errFactory.WithData(ErrInvalidHistory, id)
			}
		}
	}

	if c.Policy.ModelPath == "" && c.Policy.FallbackPath == "" {
		return errFactory.New(ErrMissingModel)
	}

	return nil
}

// ControlPeriod returns the fast loop period.
func (c *Config) ControlPeriod() time.Duration {
	return time.Duration(c.ControlPeriodMS) * time.Millisecond
}

// InputPeriod returns the input polling period.
func (c *Config) InputPeriod() time.Duration {
	return time.Duration(c.InputPeriodMS) * time.Millisecond
}

// PhaseCycle returns the gait cycle duration, zero when unset.
func (c *Config) PhaseCycle() time.Duration {
	return time.Duration(c.PhaseCycleMS) * time.Millisecond
}
