package telemetry

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"codeberg.org/mutker/robotctl/internal/errors"
)

// SaveCSV writes every recorded sample to one CSV file under dir and returns
// the file path. The header row holds the sorted metric keys; each data row
// is one tick, with blank cells where a key has fewer samples than the row
// count. filename may be empty, in which case it derives from startedAt.
func (r *Recorder) SaveCSV(dir, filename string, startedAt time.Time) (string, error) {
	errFactory := errors.New()

	columns, table := r.snapshot()
	if len(columns) == 0 {
		return "", errFactory.New(ErrNoData)
	}

	if err := os.MkdirAll(dir, defaultDirPerm); err != nil {
		return "", errFactory.Wrap(ErrEmitFailed, err)
	}
	if filename == "" {
		filename = fmt.Sprintf("robot_control_%s.csv", startedAt.Format("20060102_150405"))
	}
	path := filepath.Join(dir, filename)

	file, err := os.Create(path)
	if err != nil {
		return "", errFactory.Wrap(ErrEmitFailed, err)
	}
	defer file.Close()

	w := csv.NewWriter(file)
	if err := w.Write(columns); err != nil {
		return "", errFactory.Wrap(ErrEmitFailed, err)
	}

	rows := 0
	for _, samples := range table {
		if len(samples) > rows {
			rows = len(samples)
		}
	}

	record := make([]string, len(columns))
	for row := 0; row < rows; row++ {
		for i, key := range columns {
			samples := table[key]
			if row < len(samples) {
				record[i] = strconv.FormatFloat(samples[row], 'g', -1, 64)
			} else {
				record[i] = ""
			}
		}
		if err := w.Write(record); err != nil {
			return "", errFactory.Wrap(ErrEmitFailed, err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return "", errFactory.Wrap(ErrEmitFailed, err)
	}

	return path, nil
}
