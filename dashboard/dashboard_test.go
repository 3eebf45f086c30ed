package dashboard

import (
	"bytes"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/phaselab/thermosweep/datalog"
	"github.com/phaselab/thermosweep/experiment"
	"github.com/phaselab/thermosweep/sparam"
)

// syntheticExperiment builds in-memory data with a resonance that
// shifts with temperature, the shape a real run produces.
func syntheticExperiment(sweeps int) *datalog.ExperimentData {
	start := time.Date(2026, 8, 25, 15, 30, 0, 0, time.UTC)
	data := &datalog.ExperimentData{
		Dir: "experiment_20260825_153000",
		Meta: datalog.Meta{
			Start:       "2026-08-25 15:30:00",
			Targets:     []float64{24.3, 30},
			RampMode:    "Controlled Linear",
			Rate:        2,
			TotalSweeps: sweeps,
			Completed:   true,
		},
	}
	for i := 0; i < 60; i++ {
		data.Rows = append(data.Rows, experiment.Row{
			Time:      start.Add(time.Duration(i) * 5 * time.Second),
			Elapsed:   float64(i) * 5,
			Setpoint:  20 + float64(i)*0.1,
			Primary:   20 + float64(i)*0.098,
			Secondary: 20.3 + float64(i)*0.1,
			Step:      0,
		})
	}
	for k := 0; k < sweeps; k++ {
		temp := 20 + float64(k)
		// shift by one grid step per degree so the discrete minimum moves
		center := 1.1e9 + float64(k)*5e6
		rec := sparam.Record{
			Index:       k + 1,
			Time:        start.Add(time.Duration(k) * time.Minute),
			Temperature: temp,
		}
		for i := 0; i < 51; i++ {
			f := 1e9 + float64(i)*5e6
			x := (f - center) / 1e7
			mag := 1 - 0.9/(1+x*x)
			rec.Freq = append(rec.Freq, f)
			rec.Real = append(rec.Real, mag)
			rec.Imag = append(rec.Imag, 0)
		}
		data.Sweeps = append(data.Sweeps, rec)
	}
	return data
}

func TestRenderProducesCharts(t *testing.T) {
	var buf bytes.Buffer
	if err := Render(syntheticExperiment(12), &buf); err != nil {
		t.Fatalf("render failed: %v", err)
	}
	html := buf.String()
	if !strings.Contains(html, "echarts") {
		t.Error("page does not embed echarts")
	}
	for _, want := range []string{"setpoint", "sensor 1", "sensor 2", "resonance", "depth"} {
		if !strings.Contains(html, want) {
			t.Errorf("page missing series %q", want)
		}
	}
}

func TestRenderEmptyExperimentDoesNotPanic(t *testing.T) {
	data := &datalog.ExperimentData{Dir: "experiment_x", Meta: datalog.Meta{}}
	var buf bytes.Buffer
	if err := Render(data, &buf); err != nil {
		t.Fatalf("render failed on empty data: %v", err)
	}
	if buf.Len() == 0 {
		t.Error("empty experiment rendered nothing at all")
	}
}

func TestSelectSweepsSpansTemperatureRange(t *testing.T) {
	data := syntheticExperiment(20)
	sel := selectSweeps(data.Sweeps, maxTraces)
	if len(sel) != maxTraces {
		t.Fatalf("selected %d sweeps, want %d", len(sel), maxTraces)
	}
	if sel[0].Temperature != 20 {
		t.Errorf("coldest selected %g, want 20", sel[0].Temperature)
	}
	if sel[len(sel)-1].Temperature != 39 {
		t.Errorf("hottest selected %g, want 39", sel[len(sel)-1].Temperature)
	}
	for i := 1; i < len(sel); i++ {
		if sel[i].Temperature <= sel[i-1].Temperature {
			t.Fatalf("selection not temperature ordered: %v", sel)
		}
	}
}

func TestSelectSweepsFewerThanLimit(t *testing.T) {
	data := syntheticExperiment(3)
	sel := selectSweeps(data.Sweeps, maxTraces)
	if len(sel) != 3 {
		t.Fatalf("selected %d sweeps, want all 3", len(sel))
	}
}

func TestSummariesTrackResonanceShift(t *testing.T) {
	data := syntheticExperiment(5)
	_, summaries := summariesByTemperature(data.Sweeps)
	if len(summaries) != 5 {
		t.Fatalf("%d summaries, want 5", len(summaries))
	}
	for i := 1; i < len(summaries); i++ {
		if summaries[i].ResonantHz <= summaries[i-1].ResonantHz {
			t.Fatalf("resonance did not shift upward with temperature: %v", summaries)
		}
	}
	if math.Abs(summaries[0].ResonantHz-1.1e9) > 5e6 {
		t.Errorf("resonance %g, want near 1.1e9", summaries[0].ResonantHz)
	}
}

func TestWriteAllEmitsPagesAndIndex(t *testing.T) {
	out := t.TempDir()
	all := []*datalog.ExperimentData{syntheticExperiment(4)}
	if err := WriteAll(all, out); err != nil {
		t.Fatalf("writeall failed: %v", err)
	}
	page := filepath.Join(out, "experiment_20260825_153000.html")
	if _, err := os.Stat(page); err != nil {
		t.Errorf("page missing: %v", err)
	}
	buf, err := os.ReadFile(filepath.Join(out, "index.html"))
	if err != nil {
		t.Fatalf("index missing: %v", err)
	}
	html := string(buf)
	if !strings.Contains(html, `href="experiment_20260825_153000.html"`) {
		t.Error("index does not link the experiment page")
	}
	if !strings.Contains(html, "Controlled Linear") {
		t.Error("index missing the ramp mode")
	}
}
