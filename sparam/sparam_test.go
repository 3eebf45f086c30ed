package sparam_test

import (
	"bytes"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/phaselab/thermosweep/sparam"
)

// lorentzian builds a synthetic resonance dip centered at f0
func lorentzian(n int, f0 float64) sparam.Sweep {
	s := sparam.Sweep{
		Freq: make([]float64, n),
		Real: make([]float64, n),
		Imag: make([]float64, n),
	}
	for i := 0; i < n; i++ {
		f := 1e9 + float64(i)*1e6
		depth := 1 - 0.9/(1+math.Pow((f-f0)/5e6, 2))
		s.Freq[i] = f
		s.Real[i] = depth
		s.Imag[i] = 0
	}
	return s
}

func TestValidateCatchesRaggedArrays(t *testing.T) {
	s := sparam.Sweep{Freq: []float64{1, 2}, Real: []float64{1}, Imag: []float64{1, 2}}
	if err := s.Validate(); err == nil {
		t.Error("expected ragged sweep to fail validation")
	}
	if err := (sparam.Sweep{}).Validate(); err == nil {
		t.Error("expected empty sweep to fail validation")
	}
	ok := sparam.Sweep{Freq: []float64{1}, Real: []float64{1}, Imag: []float64{1}}
	if err := ok.Validate(); err != nil {
		t.Errorf("expected aligned sweep to validate, got %v", err)
	}
}

func TestMagnitudeDB(t *testing.T) {
	s := sparam.Sweep{Freq: []float64{1e9}, Real: []float64{0.1}, Imag: []float64{0}}
	db := s.MagnitudeDB()
	if math.Abs(db[0]-(-20)) > 1e-9 {
		t.Errorf("expected |S11|=0.1 to be -20 dB, got %f", db[0])
	}
}

func TestSummarizeFindsResonance(t *testing.T) {
	f0 := 1.1e9
	s := lorentzian(201, f0)
	sum := s.Summarize()
	if sum.Points != 201 {
		t.Errorf("expected 201 points, got %d", sum.Points)
	}
	if math.Abs(sum.ResonantHz-f0) > 1e6 {
		t.Errorf("expected resonance near %G, got %G", f0, sum.ResonantHz)
	}
	if sum.MinDB >= sum.MeanDB {
		t.Errorf("expected dip minimum %f below mean %f", sum.MinDB, sum.MeanDB)
	}
}

func TestEncodeDecodeCSV(t *testing.T) {
	rec := sparam.Record{
		Sweep:       lorentzian(11, 1.005e9),
		Index:       3,
		Time:        time.Date(2025, 6, 1, 12, 30, 0, 0, time.UTC),
		Temperature: 24.3,
	}
	buf := &bytes.Buffer{}
	if err := rec.EncodeCSV(buf); err != nil {
		t.Fatal(err)
	}
	first := strings.SplitN(buf.String(), "\n", 2)[0]
	if first != "Point_Index,Sweep_Timestamp,Temperature_C,Frequency_Hz,Real_S11,Imag_S11" {
		t.Errorf("unexpected header %q", first)
	}
	back, err := sparam.DecodeCSV(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatal(err)
	}
	if back.Len() != rec.Len() {
		t.Fatalf("expected %d points back, got %d", rec.Len(), back.Len())
	}
	if back.Temperature != rec.Temperature {
		t.Errorf("expected temperature %f, got %f", rec.Temperature, back.Temperature)
	}
	if !back.Time.Equal(rec.Time) {
		t.Errorf("expected timestamp %v, got %v", rec.Time, back.Time)
	}
	for i := range back.Freq {
		if back.Freq[i] != rec.Freq[i] {
			t.Fatalf("frequency mismatch at %d: %G != %G", i, back.Freq[i], rec.Freq[i])
		}
	}
}
