package monitor

import (
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/phaselab/thermosweep/experiment"
	"github.com/phaselab/thermosweep/sparam"
)

type fakeSource struct {
	state experiment.State
	step  int
	temp  float64
	count int
}

func (f *fakeSource) State() experiment.State { return f.state }
func (f *fakeSource) StepIndex() int          { return f.step }
func (f *fakeSource) Temperature() float64    { return f.temp }
func (f *fakeSource) SweepCount() int         { return f.count }

// countSink verifies the tee forwards everything downstream.
type countSink struct {
	rows, sweeps, metas int
}

func (c *countSink) AppendRow(experiment.Row) error          { c.rows++; return nil }
func (c *countSink) SaveSweep(sparam.Record) error           { c.sweeps++; return nil }
func (c *countSink) WriteMetadata(experiment.Metadata) error { c.metas++; return nil }

func get(t *testing.T, m *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	m.Routes().ServeHTTP(w, httptest.NewRequest("GET", path, nil))
	return w
}

func TestStatusIdleBeforeAnyExperiment(t *testing.T) {
	m := New(16)
	w := get(t, m, "/status")
	if w.Code != 200 {
		t.Fatalf("status code %d", w.Code)
	}
	var st Status
	if err := json.Unmarshal(w.Body.Bytes(), &st); err != nil {
		t.Fatalf("bad json: %v", err)
	}
	if st.State != "Idle" || st.Step != 0 {
		t.Errorf("status %+v, want idle with step 0", st)
	}
}

func TestStatusReflectsObservedExperiment(t *testing.T) {
	m := New(16)
	m.Observe(&fakeSource{
		state: experiment.Running,
		step:  1,
		temp:  24.18,
		count: 7,
	}, []float64{24.3, 30})

	var st Status
	if err := json.Unmarshal(get(t, m, "/status").Body.Bytes(), &st); err != nil {
		t.Fatalf("bad json: %v", err)
	}
	if st.State != "Running" {
		t.Errorf("state %q, want Running", st.State)
	}
	if st.Step != 2 {
		t.Errorf("step %d, want the one based 2", st.Step)
	}
	if st.TemperatureC != 24.18 || st.Sweeps != 7 {
		t.Errorf("status %+v", st)
	}
	if len(st.Targets) != 2 {
		t.Errorf("targets %v", st.Targets)
	}
}

func TestTemperaturesEmptyThenLimited(t *testing.T) {
	m := New(16)
	type history struct {
		Times    []time.Time `json:"times"`
		PrimaryC []float64   `json:"primaryC"`
	}
	var h history
	if err := json.Unmarshal(get(t, m, "/temperatures").Body.Bytes(), &h); err != nil {
		t.Fatalf("bad json: %v", err)
	}
	if len(h.PrimaryC) != 0 {
		t.Fatalf("expected no history, got %v", h.PrimaryC)
	}

	next := &countSink{}
	sink := m.Tee(next)
	base := time.Date(2026, 8, 25, 15, 30, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		err := sink.AppendRow(experiment.Row{
			Time:    base.Add(time.Duration(i) * time.Second),
			Primary: 20 + float64(i),
		})
		if err != nil {
			t.Fatalf("append failed: %v", err)
		}
	}
	if next.rows != 5 {
		t.Errorf("tee forwarded %d rows, want 5", next.rows)
	}

	if err := json.Unmarshal(get(t, m, "/temperatures?n=2").Body.Bytes(), &h); err != nil {
		t.Fatalf("bad json: %v", err)
	}
	if len(h.PrimaryC) != 2 {
		t.Fatalf("got %d rows, want 2", len(h.PrimaryC))
	}
	// newest last
	if h.PrimaryC[0] != 23 || h.PrimaryC[1] != 24 {
		t.Errorf("primary history %v, want [23 24]", h.PrimaryC)
	}

	if w := get(t, m, "/temperatures?n=potato"); w.Code != 400 {
		t.Errorf("bad n gave status %d, want 400", w.Code)
	}
}

func TestTemperaturesWrapsAtDepth(t *testing.T) {
	m := New(3)
	sink := m.Tee(&countSink{})
	for i := 0; i < 5; i++ {
		sink.AppendRow(experiment.Row{Primary: float64(i)})
	}
	var h struct {
		PrimaryC []float64 `json:"primaryC"`
	}
	if err := json.Unmarshal(get(t, m, "/temperatures").Body.Bytes(), &h); err != nil {
		t.Fatalf("bad json: %v", err)
	}
	if len(h.PrimaryC) != 3 {
		t.Fatalf("ring held %d rows, want the depth 3", len(h.PrimaryC))
	}
	if h.PrimaryC[0] != 2 || h.PrimaryC[2] != 4 {
		t.Errorf("history %v, want the newest three [2 3 4]", h.PrimaryC)
	}
}

func TestLatestSweep(t *testing.T) {
	m := New(16)
	if w := get(t, m, "/sweep/latest"); w.Code != 404 {
		t.Fatalf("status %d before any sweep, want 404", w.Code)
	}

	next := &countSink{}
	sink := m.Tee(next)
	err := sink.SaveSweep(sparam.Record{
		Sweep: sparam.Sweep{
			Freq: []float64{1e9, 1.1e9, 1.2e9},
			Real: []float64{0.9, 0.05, 0.9},
			Imag: []float64{0, 0, 0},
		},
		Index:       3,
		Time:        time.Date(2026, 8, 25, 15, 31, 0, 0, time.UTC),
		Temperature: 24.3,
	})
	if err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if next.sweeps != 1 {
		t.Errorf("tee forwarded %d sweeps, want 1", next.sweeps)
	}

	w := get(t, m, "/sweep/latest")
	if w.Code != 200 {
		t.Fatalf("status %d, want 200", w.Code)
	}
	var got struct {
		Index        int            `json:"index"`
		TemperatureC float64        `json:"temperatureC"`
		Summary      sparam.Summary `json:"summary"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("bad json: %v", err)
	}
	if got.Index != 3 || got.TemperatureC != 24.3 {
		t.Errorf("latest sweep %+v", got)
	}
	if got.Summary.ResonantHz != 1.1e9 {
		t.Errorf("resonance %g, want 1.1e9", got.Summary.ResonantHz)
	}
}
