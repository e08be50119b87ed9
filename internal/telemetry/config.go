package telemetry

import "codeberg.org/mutker/robotctl/internal/errors"

const (
	defaultDirPerm   = 0o755
	defaultOutputDir = "log"
)

type Config struct {
	// OutputDir receives one CSV file per recorded session.
	OutputDir string

	// DBPath optionally points at the sqlite session archive; empty
	// disables archiving.
	DBPath string
}

func DefaultConfig() Config {
	return Config{
		OutputDir: defaultOutputDir,
	}
}

func (c Config) Validate() error {
	errFactory := errors.New()
	if c.OutputDir == "" {
		return errFactory.New(ErrInvalidOutputDir)
	}
	return nil
}
