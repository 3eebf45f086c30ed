// Package sparam provides type definitions and derived quantities for
// scattering parameter sweeps
package sparam

import (
	"bufio"
	"encoding/csv"
	"errors"
	"io"
	"math"
	"strconv"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// TimestampLayout is the wall clock format used in sweep artifacts
const TimestampLayout = "2006-01-02 15:04:05"

// ErrRaggedSweep is generated when the frequency, real, and imaginary
// arrays of a sweep are not index-aligned
var ErrRaggedSweep = errors.New("sweep arrays are not of equal nonzero length")

// Sweep is one S11 acquisition, parallel arrays of frequency and the
// real and imaginary parts of the reflection coefficient
type Sweep struct {
	Freq []float64 `json:"freq"`
	Real []float64 `json:"real"`
	Imag []float64 `json:"imag"`
}

// Len returns the number of points in the sweep
func (s Sweep) Len() int {
	return len(s.Freq)
}

// Validate returns ErrRaggedSweep unless the three arrays have equal,
// nonzero length
func (s Sweep) Validate() error {
	l := len(s.Freq)
	if l == 0 || len(s.Real) != l || len(s.Imag) != l {
		return ErrRaggedSweep
	}
	return nil
}

// MagnitudeDB computes 20*log10|S11| per point
func (s Sweep) MagnitudeDB() []float64 {
	out := make([]float64, len(s.Real))
	for i := range s.Real {
		mag := math.Hypot(s.Real[i], s.Imag[i])
		out[i] = 20 * math.Log10(mag)
	}
	return out
}

// PhaseDeg computes the phase angle of S11 per point in degrees
func (s Sweep) PhaseDeg() []float64 {
	out := make([]float64, len(s.Real))
	for i := range s.Real {
		out[i] = math.Atan2(s.Imag[i], s.Real[i]) * 180 / math.Pi
	}
	return out
}

// Summary holds scalar statistics of one sweep, used for dashboards and
// live monitoring
type Summary struct {
	Points     int     `json:"points"`
	MinDB      float64 `json:"minDB"`
	ResonantHz float64 `json:"resonantHz"`
	MeanDB     float64 `json:"meanDB"`
	StdDB      float64 `json:"stdDB"`
}

// Summarize computes the summary statistics of the sweep.  The resonant
// frequency is taken as the frequency of minimum |S11|.
func (s Sweep) Summarize() Summary {
	db := s.MagnitudeDB()
	idx := floats.MinIdx(db)
	return Summary{
		Points:     len(db),
		MinDB:      db[idx],
		ResonantHz: s.Freq[idx],
		MeanDB:     stat.Mean(db, nil),
		StdDB:      stat.StdDev(db, nil),
	}
}

// Record is a sweep annotated with its acquisition context
type Record struct {
	Sweep

	// Index is the 1-based sequence number of the sweep within its experiment
	Index int

	// Time is the wall clock time at acquisition
	Time time.Time

	// Temperature is the shared temperature snapshot at acquisition
	Temperature float64
}

// EncodeCSV writes the record to w in the sweep artifact layout, one row
// per point, in streaming fashion
func (r Record) EncodeCSV(w io.Writer) error {
	bw := bufio.NewWriter(w)
	cw := csv.NewWriter(bw)
	err := cw.Write([]string{"Point_Index", "Sweep_Timestamp", "Temperature_C", "Frequency_Hz", "Real_S11", "Imag_S11"})
	if err != nil {
		return err
	}
	ts := r.Time.Format(TimestampLayout)
	temp := strconv.FormatFloat(r.Temperature, 'f', 2, 64)
	row := make([]string, 6)
	for i := 0; i < r.Len(); i++ {
		row[0] = strconv.Itoa(i)
		row[1] = ts
		row[2] = temp
		row[3] = strconv.FormatFloat(r.Freq[i], 'G', -1, 64)
		row[4] = strconv.FormatFloat(r.Real[i], 'G', -1, 64)
		row[5] = strconv.FormatFloat(r.Imag[i], 'G', -1, 64)
		err = cw.Write(row)
		if err != nil {
			return err
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return err
	}
	return bw.Flush()
}

// DecodeCSV reads one sweep artifact back from r.  The sequence index is
// not stored in the file and is left zero for the caller to assign.
func DecodeCSV(r io.Reader) (Record, error) {
	var rec Record
	cr := csv.NewReader(r)
	rows, err := cr.ReadAll()
	if err != nil {
		return rec, err
	}
	if len(rows) < 2 {
		return rec, errors.New("sweep artifact has no data rows")
	}
	rows = rows[1:] // drop header
	rec.Freq = make([]float64, len(rows))
	rec.Real = make([]float64, len(rows))
	rec.Imag = make([]float64, len(rows))
	for i, row := range rows {
		if len(row) != 6 {
			return rec, errors.New("sweep artifact row does not have 6 fields")
		}
		if i == 0 {
			rec.Time, err = time.Parse(TimestampLayout, row[1])
			if err != nil {
				return rec, err
			}
			rec.Temperature, err = strconv.ParseFloat(row[2], 64)
			if err != nil {
				return rec, err
			}
		}
		rec.Freq[i], err = strconv.ParseFloat(row[3], 64)
		if err != nil {
			return rec, err
		}
		rec.Real[i], err = strconv.ParseFloat(row[4], 64)
		if err != nil {
			return rec, err
		}
		rec.Imag[i], err = strconv.ParseFloat(row[5], 64)
		if err != nil {
			return rec, err
		}
	}
	return rec, nil
}
