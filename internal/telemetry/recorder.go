// Package telemetry captures per-tick control metrics into memory while the
// control system is active and emits them as one CSV file per session. All
// file I/O happens at session boundaries, never inside the fast loop.
package telemetry

import (
	"fmt"
	"sort"
	"sync"
)

// Recorder accumulates an append-only sequence of scalar samples per metric
// key. Safe for a recording goroutine and a flushing goroutine.
type Recorder struct {
	mu         sync.Mutex
	data       map[string][]float64
	jointNames []string
}

// NewRecorder creates an empty recorder. jointNames maps joint index to the
// metric key prefix used by RecordJoint; missing entries fall back to
// "joint_<i>".
func NewRecorder(jointNames []string) *Recorder {
	return &Recorder{
		data:       make(map[string][]float64),
		jointNames: jointNames,
	}
}

// Record appends one scalar sample for key.
func (r *Recorder) Record(key string, value float64) {
	r.mu.Lock()
	r.data[key] = append(r.data[key], value)
	r.mu.Unlock()
}

// RecordJoint appends the fixed per-joint sample set under the joint's
// metric key prefix.
func (r *Recorder) RecordJoint(joint int, target, actual, dq, kp, kd, tauEst float64) {
	name := r.jointName(joint)
	r.Record(name+"_target", target)
	r.Record(name+"_actual", actual)
	r.Record(name+"_dq", dq)
	r.Record(name+"_kp", kp)
	r.Record(name+"_kd", kd)
	r.Record(name+"_tau_est", tauEst)
}

// HasData reports whether any samples have been recorded.
func (r *Recorder) HasData() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.data) > 0
}

// Rows returns the longest sample sequence, which is the row count of the
// emitted file.
func (r *Recorder) Rows() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	rows := 0
	for _, samples := range r.data {
		if len(samples) > rows {
			rows = len(samples)
		}
	}

	return rows
}

// Clear drops all recorded samples.
func (r *Recorder) Clear() {
	r.mu.Lock()
	r.data = make(map[string][]float64)
	r.mu.Unlock()
}

// snapshot returns the sorted column names and a copy of the sample table.
func (r *Recorder) snapshot() ([]string, map[string][]float64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	columns := make([]string, 0, len(r.data))
	table := make(map[string][]float64, len(r.data))
	for key, samples := range r.data {
		columns = append(columns, key)
		table[key] = append([]float64(nil), samples...)
	}
	sort.Strings(columns)

	return columns, table
}

func (r *Recorder) jointName(joint int) string {
	if joint >= 0 && joint < len(r.jointNames) && r.jointNames[joint] != "" {
		return r.jointNames[joint]
	}

	return fmt.Sprintf("joint_%d", joint)
}
