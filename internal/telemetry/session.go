package telemetry

import (
	"sync"
	"time"

	"codeberg.org/mutker/robotctl/internal/logger"
)

// Session gates recording on the control system's activation signal. It is
// Idle until the signal's false-to-true edge, records every observed tick
// while the signal holds, and emits the accumulated samples as one file on
// the true-to-false edge or at teardown.
type Session struct {
	mu        sync.Mutex
	cfg       Config
	recorder  *Recorder
	repo      Repository
	recording bool
	prev      bool
	startedAt time.Time
	now       func() time.Time
}

// NewSession creates an idle session. repo may be nil to disable archiving.
func NewSession(cfg Config, recorder *Recorder, repo Repository) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &Session{
		cfg:      cfg,
		recorder: recorder,
		repo:     repo,
		now:      time.Now,
	}, nil
}

// Observe advances the session state machine with the current activation
// signal and, while recording, invokes record with the recorder. Called once
// per fast-loop tick; emission happens only on the deactivation edge.
func (s *Session) Observe(active bool, record func(*Recorder)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case !s.recording && active && !s.prev:
		logger.Info().Msg("Starting telemetry capture")
		s.recorder.Clear()
		s.startedAt = s.now()
		s.recording = true

	case s.recording && !active && s.prev:
		logger.Info().Msg("Stopping telemetry capture")
		if err := s.flushLocked(); err != nil {
			logger.Error().Err(err).Msg("failed to emit telemetry session")
		}
		s.recording = false
	}

	if s.recording && record != nil {
		record(s.recorder)
	}

	s.prev = active
}

// Recording reports whether a session is currently open.
func (s *Session) Recording() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.recording
}

// StartedAt returns the open session's start time.
func (s *Session) StartedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.startedAt
}

// Close flushes a still-open session and releases the archive. Called during
// process teardown, after the loops have stopped.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var err error
	if s.recording && s.recorder.HasData() {
		logger.Info().Msg("Saving telemetry before exit")
		err = s.flushLocked()
		s.recording = false
	}

	if s.repo != nil {
		if closeErr := s.repo.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}

	return err
}

// flushLocked emits the session file, archives the summary, and clears the
// recorder. On emit failure the samples stay in memory for a teardown retry.
func (s *Session) flushLocked() error {
	if !s.recorder.HasData() {
		logger.Warn().Msg("No telemetry data to save")
		return nil
	}

	rows := s.recorder.Rows()
	columns, _ := s.recorder.snapshot()

	path, err := s.recorder.SaveCSV(s.cfg.OutputDir, "", s.startedAt)
	if err != nil {
		return err
	}

	logger.Info().Str("path", path).Int("rows", rows).Int("columns", len(columns)).
		Msg("Telemetry session saved")

	if s.repo != nil {
		record := SessionRecord{
			StartedAt: s.startedAt,
			Duration:  s.now().Sub(s.startedAt),
			Rows:      rows,
			Columns:   len(columns),
			FilePath:  path,
		}
		if err := s.repo.Archive(record); err != nil {
			logger.Error().Err(err).Msg("failed to archive telemetry session")
		}
	}

	s.recorder.Clear()

	return nil
}
