package datalog

import (
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/phaselab/thermosweep/experiment"
	"github.com/phaselab/thermosweep/sparam"
)

// Meta is the metadata record as stored on disk.
type Meta struct {
	Start       string    `json:"experiment_start"`
	End         string    `json:"experiment_end"`
	Targets     []float64 `json:"temperature_targets"`
	RampMode    string    `json:"ramp_mode"`
	Rate        float64   `json:"ramp_rate_C_per_min"`
	ControlMode string    `json:"control_mode"`
	Overshoot   bool      `json:"overshoot_enabled"`
	OvershootC  float64   `json:"overshoot_amount_C"`
	TotalSweeps int       `json:"total_sweeps"`
	Completed   bool      `json:"completed"`
}

// ExperimentData is one experiment directory read back into memory.
type ExperimentData struct {
	Dir    string
	Meta   Meta
	Rows   []experiment.Row
	Sweeps []sparam.Record
}

// Name returns the experiment directory's base name.
func (d *ExperimentData) Name() string {
	return filepath.Base(d.Dir)
}

// Load reads one experiment directory.  A missing metadata file is an
// error, missing rows or sweeps are not, an interrupted run may hold
// either.
func Load(dir string) (*ExperimentData, error) {
	data := &ExperimentData{Dir: dir}
	buf, err := os.ReadFile(filepath.Join(dir, metadataFile))
	if err != nil {
		return nil, errors.Wrap(err, "datalog: could not read metadata")
	}
	if err := json.Unmarshal(buf, &data.Meta); err != nil {
		return nil, errors.Wrap(err, "datalog: could not parse metadata")
	}
	data.Rows, err = readRows(filepath.Join(dir, temperatureLog))
	if err != nil {
		return nil, err
	}
	data.Sweeps, err = readSweeps(filepath.Join(dir, sweepSubdir))
	if err != nil {
		return nil, err
	}
	return data, nil
}

// LoadAll reads every experiment directory under root, oldest first.
// Directories that fail to load are skipped rather than failing the lot.
func LoadAll(root string) ([]*ExperimentData, error) {
	matches, err := filepath.Glob(filepath.Join(root, "experiment_*"))
	if err != nil {
		return nil, errors.Wrap(err, "datalog: bad experiment root")
	}
	sort.Strings(matches)
	var out []*ExperimentData
	for _, dir := range matches {
		fi, err := os.Stat(dir)
		if err != nil || !fi.IsDir() {
			continue
		}
		data, err := Load(dir)
		if err != nil {
			continue
		}
		out = append(out, data)
	}
	return out, nil
}

func readRows(path string) ([]experiment.Row, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "datalog: could not open temperature log")
	}
	defer f.Close()
	recs, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, errors.Wrap(err, "datalog: could not parse temperature log")
	}
	if len(recs) < 2 {
		return nil, nil
	}
	rows := make([]experiment.Row, 0, len(recs)-1)
	for _, rec := range recs[1:] {
		if len(rec) != len(temperatureHeader) {
			return nil, errors.Errorf("datalog: temperature row has %d fields, want %d",
				len(rec), len(temperatureHeader))
		}
		var r experiment.Row
		r.Time, err = time.Parse(sparam.TimestampLayout, rec[0])
		if err != nil {
			return nil, errors.Wrap(err, "datalog: bad row timestamp")
		}
		if r.Elapsed, err = strconv.ParseFloat(rec[1], 64); err != nil {
			return nil, errors.Wrap(err, "datalog: bad row elapsed time")
		}
		if r.Setpoint, err = strconv.ParseFloat(rec[2], 64); err != nil {
			return nil, errors.Wrap(err, "datalog: bad row setpoint")
		}
		if r.Primary, err = strconv.ParseFloat(rec[3], 64); err != nil {
			return nil, errors.Wrap(err, "datalog: bad row primary temperature")
		}
		if r.Secondary, err = strconv.ParseFloat(rec[4], 64); err != nil {
			return nil, errors.Wrap(err, "datalog: bad row secondary temperature")
		}
		step, err := strconv.Atoi(rec[5])
		if err != nil {
			return nil, errors.Wrap(err, "datalog: bad row step")
		}
		r.Step = step - 1
		rows = append(rows, r)
	}
	return rows, nil
}

func readSweeps(dir string) ([]sparam.Record, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "sweep_*.csv"))
	if err != nil {
		return nil, errors.Wrap(err, "datalog: bad sweep directory")
	}
	// zero padded sequence numbers make the lexical order the
	// acquisition order
	sort.Strings(matches)
	out := make([]sparam.Record, 0, len(matches))
	for _, path := range matches {
		f, err := os.Open(path)
		if err != nil {
			return nil, errors.Wrap(err, "datalog: could not open sweep file")
		}
		rec, err := sparam.DecodeCSV(f)
		f.Close()
		if err != nil {
			return nil, errors.Wrapf(err, "datalog: could not decode %s", filepath.Base(path))
		}
		rec.Index = sweepIndexFromName(filepath.Base(path))
		out = append(out, rec)
	}
	return out, nil
}

// sweepIndexFromName recovers the sequence number from names like
// sweep_001_24.3C_20260825_153105.csv.  Unparseable names yield zero.
func sweepIndexFromName(name string) int {
	parts := strings.Split(name, "_")
	if len(parts) < 2 {
		return 0
	}
	n, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0
	}
	return n
}
