// Package observation maintains the temporal observation window that feeds
// the policy. The order in which feature groups are concatenated by ObsVec
// is a training-time contract of the policy model: a reordering produces
// silently wrong actions with no error signal, so the layout is explicit
// configuration and is locked down by tests.
package observation

import (
	"sort"

	"codeberg.org/mutker/robotctl/internal/errors"
)

const (
	ErrInvalidLayout   = errors.ErrorCode("observation_invalid_layout")
	ErrWidthMismatch   = errors.ErrorCode("observation_width_mismatch")
	ErrInvalidHistory  = errors.ErrorCode("observation_invalid_history")
	ErrOffsetRange     = errors.ErrorCode("observation_offset_out_of_range")
	ErrEnvIndexRange   = errors.ErrorCode("observation_env_index_out_of_range")
	ErrObservationSize = errors.ErrorCode("observation_size_mismatch")
)

// Group is one named feature slice of an observation vector.
type Group struct {
	Name  string
	Width int
}

// Layout fixes how a flat observation vector decomposes into feature groups,
// and which groups' current-offset slices are emitted after the history
// block instead of before it.
type Layout struct {
	Groups []Group
	Tail   []string
}

// Width returns the total observation width described by the layout.
func (l Layout) Width() int {
	w := 0
	for _, g := range l.Groups {
		w += g.Width
	}

	return w
}

// Validate checks the layout for structural errors: empty or non-positive
// groups, duplicate names, and tail entries naming unknown groups.
func (l Layout) Validate() error {
	errFactory := errors.New()

	if len(l.Groups) == 0 {
		return errFactory.WithMessage(ErrInvalidLayout, "no feature groups defined")
	}

	names := make(map[string]bool, len(l.Groups))
	for _, g := range l.Groups {
		if g.Name == "" || g.Width <= 0 {
			return errFactory.WithData(ErrInvalidLayout, g)
		}
		if names[g.Name] {
			return errFactory.WithData(ErrInvalidLayout, g.Name)
		}
		names[g.Name] = true
	}
	for _, name := range l.Tail {
		if !names[name] {
			return errFactory.WithData(ErrInvalidLayout, name)
		}
	}

	return nil
}

func (l Layout) isTail(name string) bool {
	for _, t := range l.Tail {
		if t == name {
			return true
		}
	}

	return false
}

// Buffer is a sliding window of the last T observation vectors per
// environment. Slot 0 is the oldest, slot T-1 the newest. Deployment uses a
// single environment; the batch dimension matches the training-side buffer.
type Buffer struct {
	numEnvs      int
	numObs       int
	historySteps int
	layout       Layout
	groupStart   map[string]int
	buf          []float32
}

// NewBuffer allocates a zeroed window of historySteps observations per env.
func NewBuffer(numEnvs, historySteps int, layout Layout) (*Buffer, error) {
	errFactory := errors.New()

	if numEnvs <= 0 || historySteps <= 0 {
		return nil, errFactory.WithData(ErrInvalidHistory, historySteps)
	}
	if err := layout.Validate(); err != nil {
		return nil, err
	}

	starts := make(map[string]int, len(layout.Groups))
	off := 0
	for _, g := range layout.Groups {
		starts[g.Name] = off
		off += g.Width
	}

	return &Buffer{
		numEnvs:      numEnvs,
		numObs:       off,
		historySteps: historySteps,
		layout:       layout,
		groupStart:   starts,
		buf:          make([]float32, numEnvs*off*historySteps),
	}, nil
}

// NumObs returns the width of a single observation vector.
func (b *Buffer) NumObs() int {
	return b.numObs
}

// HistorySteps returns the window capacity T.
func (b *Buffer) HistorySteps() int {
	return b.historySteps
}

// Reset broadcasts obs across every history slot of the given environments,
// so the first real observation fills the whole window.
func (b *Buffer) Reset(envs []int, obs []float32) error {
	errFactory := errors.New()

	if len(obs) != b.numObs {
		return errFactory.WithData(ErrObservationSize, len(obs))
	}
	for _, env := range envs {
		if env < 0 || env >= b.numEnvs {
			return errFactory.WithData(ErrEnvIndexRange, env)
		}
		base := env * b.numObs * b.historySteps
		for slot := 0; slot < b.historySteps; slot++ {
			copy(b.buf[base+slot*b.numObs:base+(slot+1)*b.numObs], obs)
		}
	}

	return nil
}

// Insert shifts the window one step older and stores obs in the newest slot.
// obs holds one row per environment, concatenated.
func (b *Buffer) Insert(obs []float32) error {
	errFactory := errors.New()

	if len(obs) != b.numEnvs*b.numObs {
		return errFactory.WithData(ErrObservationSize, len(obs))
	}
	for env := 0; env < b.numEnvs; env++ {
		base := env * b.numObs * b.historySteps
		row := b.buf[base : base+b.numObs*b.historySteps]
		copy(row[:b.numObs*(b.historySteps-1)], row[b.numObs:])
		copy(row[b.numObs*(b.historySteps-1):], obs[env*b.numObs:(env+1)*b.numObs])
	}

	return nil
}

// ObsVec assembles the policy input for the requested temporal offsets,
// where 0 is the newest observation and historySteps-1 the oldest. The
// concatenation order is fixed: current-offset head groups in declared
// order, then each feature group's history slices from most recent to
// oldest, then current-offset tail groups. One row per environment.
func (b *Buffer) ObsVec(ids []int) ([]float32, error) {
	errFactory := errors.New()

	hasCurrent := false
	history := make([]int, 0, len(ids))
	for _, id := range ids {
		if id < 0 || id >= b.historySteps {
			return nil, errFactory.WithData(ErrOffsetRange, id)
		}
		if id == 0 {
			hasCurrent = true
		} else {
			history = append(history, id)
		}
	}
	sort.Ints(history)

	out := make([]float32, 0, b.numEnvs*b.VecWidth(ids))
	for env := 0; env < b.numEnvs; env++ {
		base := env * b.numObs * b.historySteps

		if hasCurrent {
			for _, g := range b.layout.Groups {
				if b.layout.isTail(g.Name) {
					continue
				}
				out = append(out, b.slice(base, 0, g)...)
			}
		}
		for _, g := range b.layout.Groups {
			for _, id := range history {
				out = append(out, b.slice(base, id, g)...)
			}
		}
		if hasCurrent {
			for _, g := range b.layout.Groups {
				if !b.layout.isTail(g.Name) {
					continue
				}
				out = append(out, b.slice(base, 0, g)...)
			}
		}
	}

	return out, nil
}

// VecWidth returns the per-environment width ObsVec produces for ids.
func (b *Buffer) VecWidth(ids []int) int {
	return b.numObs * len(ids)
}

func (b *Buffer) slice(base, id int, g Group) []float32 {
	slot := b.historySteps - 1 - id
	start := base + slot*b.numObs + b.groupStart[g.Name]

	return b.buf[start : start+g.Width]
}
