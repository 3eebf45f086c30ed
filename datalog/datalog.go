/*Package datalog persists experiment artifacts on disk.

Each experiment gets its own directory under a root, named for its
start time:

	<root>/experiment_20260825_153000/
	    temperature_log.csv
	    metadata.json
	    sweep_data/
	        sweep_001_24.3C_20260825_153105.csv
	        sweep_002_24.3C_20260825_153205.csv

The temperature log is appended and flushed one row at a time so a
killed process loses at most the row in flight.  Sweep files are whole
file writes keyed by sequence number, temperature and timestamp.  The
metadata record is written once, at the end.
*/
package datalog

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/phaselab/thermosweep/experiment"
	"github.com/phaselab/thermosweep/sparam"
)

const (
	dirTimeFormat  = "20060102_150405"
	metadataFile   = "metadata.json"
	temperatureLog = "temperature_log.csv"
	sweepSubdir    = "sweep_data"
)

var temperatureHeader = []string{
	"Timestamp",
	"Elapsed_Time_s",
	"Target_Temp_C",
	"Sensor_Temp_1_C",
	"Sensor_Temp_2_C",
	"Current_Step",
}

// Logger owns one experiment directory and implements experiment.Sink.
// It is safe for the foreground loop and the sampler to write through
// it concurrently.
type Logger struct {
	mu       sync.Mutex
	dir      string
	sweepDir string
	tempF    *os.File
	tempW    *csv.Writer
}

// New creates the experiment directory under root and opens the
// temperature log with its header already written.
func New(root string, start time.Time) (*Logger, error) {
	dir := filepath.Join(root, "experiment_"+start.Format(dirTimeFormat))
	sweepDir := filepath.Join(dir, sweepSubdir)
	if err := os.MkdirAll(sweepDir, 0755); err != nil {
		return nil, errors.Wrap(err, "datalog: could not create experiment directory")
	}
	f, err := os.Create(filepath.Join(dir, temperatureLog))
	if err != nil {
		return nil, errors.Wrap(err, "datalog: could not create temperature log")
	}
	w := csv.NewWriter(f)
	if err := w.Write(temperatureHeader); err != nil {
		f.Close()
		return nil, errors.Wrap(err, "datalog: could not write temperature log header")
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return nil, errors.Wrap(err, "datalog: could not write temperature log header")
	}
	return &Logger{dir: dir, sweepDir: sweepDir, tempF: f, tempW: w}, nil
}

// Dir returns the experiment directory path.
func (l *Logger) Dir() string {
	return l.dir
}

// AppendRow writes one temperature log row and flushes it.  The step
// index is recorded one based, matching how steps are reported.
func (l *Logger) AppendRow(r experiment.Row) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.tempW == nil {
		return errors.New("datalog: logger is closed")
	}
	rec := []string{
		r.Time.Format(sparam.TimestampLayout),
		strconv.FormatFloat(r.Elapsed, 'f', 1, 64),
		strconv.FormatFloat(r.Setpoint, 'f', 2, 64),
		strconv.FormatFloat(r.Primary, 'f', 2, 64),
		strconv.FormatFloat(r.Secondary, 'f', 2, 64),
		strconv.Itoa(r.Step + 1),
	}
	if err := l.tempW.Write(rec); err != nil {
		return errors.Wrap(err, "datalog: temperature row write failed")
	}
	l.tempW.Flush()
	return errors.Wrap(l.tempW.Error(), "datalog: temperature row flush failed")
}

// SaveSweep writes one sweep record to its own file under sweep_data.
func (l *Logger) SaveSweep(rec sparam.Record) error {
	name := fmt.Sprintf("sweep_%03d_%.1fC_%s.csv",
		rec.Index, rec.Temperature, rec.Time.Format(dirTimeFormat))
	f, err := os.Create(filepath.Join(l.sweepDir, name))
	if err != nil {
		return errors.Wrap(err, "datalog: could not create sweep file")
	}
	if err := rec.EncodeCSV(f); err != nil {
		f.Close()
		return errors.Wrapf(err, "datalog: could not encode sweep %d", rec.Index)
	}
	return errors.Wrap(f.Close(), "datalog: could not close sweep file")
}

// WriteMetadata persists the closing metadata record.
func (l *Logger) WriteMetadata(md experiment.Metadata) error {
	out := Meta{
		Start:       md.Start.Format(sparam.TimestampLayout),
		End:         md.End.Format(sparam.TimestampLayout),
		Targets:     md.Targets,
		RampMode:    md.RampMode,
		Rate:        md.RateCPerMin,
		ControlMode: md.ControlMode,
		Overshoot:   md.OvershootEnabled,
		OvershootC:  md.OvershootC,
		TotalSweeps: md.TotalSweeps,
		Completed:   md.Completed,
	}
	buf, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return errors.Wrap(err, "datalog: could not encode metadata")
	}
	err = os.WriteFile(filepath.Join(l.dir, metadataFile), buf, 0644)
	return errors.Wrap(err, "datalog: could not write metadata")
}

// Close flushes and closes the temperature log.  The Logger is not
// usable afterward.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.tempW == nil {
		return nil
	}
	l.tempW.Flush()
	err := l.tempW.Error()
	if cerr := l.tempF.Close(); err == nil {
		err = cerr
	}
	l.tempW = nil
	l.tempF = nil
	return errors.Wrap(err, "datalog: temperature log close failed")
}
