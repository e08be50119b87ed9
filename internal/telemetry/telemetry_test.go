package telemetry_test

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"codeberg.org/mutker/robotctl/internal/logger"
	"codeberg.org/mutker/robotctl/internal/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	logger.Init(false, false, true)
	os.Exit(m.Run())
}

func TestRecorderAccumulatesAndClears(t *testing.T) {
	rec := telemetry.NewRecorder([]string{"L_hip_pitch"})
	assert.False(t, rec.HasData())

	rec.Record("timestamp", 0.01)
	rec.Record("timestamp", 0.02)
	rec.RecordJoint(0, 1, 2, 3, 40, 1, 0.5)
	rec.RecordJoint(7, 0, 0, 0, 0, 0, 0)

	assert.True(t, rec.HasData())
	assert.Equal(t, 2, rec.Rows())

	rec.Clear()
	assert.False(t, rec.HasData())
	assert.Equal(t, 0, rec.Rows())
}

func TestSaveCSVShape(t *testing.T) {
	dir := t.TempDir()
	rec := telemetry.NewRecorder(nil)

	// "short" has fewer samples than "long"; its trailing cells are blank.
	rec.Record("long", 1)
	rec.Record("long", 2)
	rec.Record("long", 3)
	rec.Record("short", 10)

	started := time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)
	path, err := rec.SaveCSV(dir, "", started)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "robot_control_20250314_092653.csv"), path)

	file, err := os.Open(path)
	require.NoError(t, err)
	defer file.Close()

	records, err := csv.NewReader(file).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 4, "header plus one row per tick")
	assert.Equal(t, []string{"long", "short"}, records[0], "header is the sorted key set")
	assert.Equal(t, []string{"1", "10"}, records[1])
	assert.Equal(t, []string{"2", ""}, records[2])
	assert.Equal(t, []string{"3", ""}, records[3])
}

func TestSaveCSVWithoutData(t *testing.T) {
	rec := telemetry.NewRecorder(nil)
	_, err := rec.SaveCSV(t.TempDir(), "", time.Now())
	assert.Error(t, err)
}

func TestSessionEmitsOneFilePerActiveInterval(t *testing.T) {
	dir := t.TempDir()
	rec := telemetry.NewRecorder(nil)
	sess, err := telemetry.NewSession(telemetry.Config{OutputDir: dir}, rec, nil)
	require.NoError(t, err)

	tick := 0
	record := func(r *telemetry.Recorder) {
		r.Record("tick", float64(tick))
	}

	// Inactive ticks record nothing.
	for ; tick < 5; tick++ {
		sess.Observe(false, record)
	}
	assert.False(t, sess.Recording())
	assert.False(t, rec.HasData())

	// Activation edge opens the session; each active tick records one row.
	for ; tick < 15; tick++ {
		sess.Observe(true, record)
	}
	assert.True(t, sess.Recording())
	assert.Equal(t, 10, rec.Rows())

	// Deactivation edge emits exactly one file and clears the recorder.
	sess.Observe(false, record)
	assert.False(t, sess.Recording())
	assert.False(t, rec.HasData())

	files, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, files, 1)

	file, err := os.Open(filepath.Join(dir, files[0].Name()))
	require.NoError(t, err)
	defer file.Close()

	records, err := csv.NewReader(file).ReadAll()
	require.NoError(t, err)
	assert.Len(t, records, 11, "header plus ten active ticks")
	assert.Equal(t, []string{"5"}, records[1], "first row is the first active tick")
}

func TestSessionCloseFlushesOpenSession(t *testing.T) {
	dir := t.TempDir()
	rec := telemetry.NewRecorder(nil)
	sess, err := telemetry.NewSession(telemetry.Config{OutputDir: dir}, rec, nil)
	require.NoError(t, err)

	sess.Observe(true, func(r *telemetry.Recorder) { r.Record("tick", 1) })
	require.True(t, sess.Recording())

	require.NoError(t, sess.Close())

	files, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, files, 1, "teardown emits the open session")
}

func TestSessionArchivesToRepository(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "sessions.db")

	repo, err := telemetry.NewRepository(dbPath)
	require.NoError(t, err)

	rec := telemetry.NewRecorder(nil)
	sess, err := telemetry.NewSession(telemetry.Config{OutputDir: dir, DBPath: dbPath}, rec, repo)
	require.NoError(t, err)

	sess.Observe(true, func(r *telemetry.Recorder) { r.Record("tick", 0) })
	sess.Observe(true, func(r *telemetry.Recorder) { r.Record("tick", 1) })
	sess.Observe(false, nil)
	require.NoError(t, sess.Close())

	_, err = os.Stat(dbPath)
	assert.NoError(t, err, "archive database created")
}

func TestNewSessionRejectsInvalidConfig(t *testing.T) {
	_, err := telemetry.NewSession(telemetry.Config{}, telemetry.NewRecorder(nil), nil)
	assert.Error(t, err)
}
