/*Package monitor exposes a live view of a running experiment over HTTP.

It keeps ring buffers of recent temperature rows and the latest sweep,
fed by wrapping the experiment's sink with Tee, and serves them as JSON:

	GET /status        lifecycle state, step, temperature, sweep count
	GET /temperatures  recent rows, ?n= limits to the newest n
	GET /sweep/latest  the most recent sweep with its summary

The rings are bounded so a days-long experiment cannot grow the
process, history beyond the ring depth lives only on disk.
*/
package monitor

import (
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/brandondube/ringo"
	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"

	"github.com/phaselab/thermosweep/experiment"
	"github.com/phaselab/thermosweep/sparam"
)

// Source is the live experiment being observed.
type Source interface {
	State() experiment.State
	StepIndex() int
	Temperature() float64
	SweepCount() int
}

// Status is the payload served at /status.  Step is one based and zero
// when nothing is running.
type Status struct {
	State        string    `json:"state"`
	Step         int       `json:"step"`
	Targets      []float64 `json:"targets"`
	TemperatureC float64   `json:"temperatureC"`
	Sweeps       int       `json:"sweeps"`
}

// Server accumulates recent history and serves it.  All methods are
// safe for concurrent use.
type Server struct {
	mu      sync.Mutex
	src     Source
	targets []float64
	count   int
	times   ringo.CircleTime
	setp    ringo.CircleF64
	prim    ringo.CircleF64
	sec     ringo.CircleF64
	latest  *sparam.Record
}

// New creates a monitor holding up to depth temperature rows.
func New(depth int) *Server {
	m := &Server{}
	m.times.Init(depth)
	m.setp.Init(depth)
	m.prim.Init(depth)
	m.sec.Init(depth)
	return m
}

// Observe points the monitor at an experiment.  Call it before each run,
// the previous run's history is retained until rows wrap it out.
func (m *Server) Observe(src Source, targets []float64) {
	m.mu.Lock()
	m.src = src
	m.targets = targets
	m.mu.Unlock()
}

// Tee wraps next so artifacts flow to it unchanged while the monitor
// keeps its bounded copy.
func (m *Server) Tee(next experiment.Sink) experiment.Sink {
	return &teeSink{m: m, next: next}
}

type teeSink struct {
	m    *Server
	next experiment.Sink
}

func (t *teeSink) AppendRow(r experiment.Row) error {
	t.m.noteRow(r)
	return t.next.AppendRow(r)
}

func (t *teeSink) SaveSweep(rec sparam.Record) error {
	t.m.noteSweep(rec)
	return t.next.SaveSweep(rec)
}

func (t *teeSink) WriteMetadata(md experiment.Metadata) error {
	return t.next.WriteMetadata(md)
}

func (m *Server) noteRow(r experiment.Row) {
	m.mu.Lock()
	m.times.Append(r.Time)
	m.setp.Append(r.Setpoint)
	m.prim.Append(r.Primary)
	m.sec.Append(r.Secondary)
	m.count++
	m.mu.Unlock()
}

func (m *Server) noteSweep(rec sparam.Record) {
	m.mu.Lock()
	m.latest = &rec
	m.mu.Unlock()
}

// Routes returns the monitor's HTTP surface.
func (m *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Get("/status", m.HTTPStatus)
	r.Get("/temperatures", m.HTTPTemperatures)
	r.Get("/sweep/latest", m.HTTPLatestSweep)
	return r
}

// HTTPStatus serves the current Status.
func (m *Server) HTTPStatus(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	st := Status{State: experiment.Idle.String(), Targets: m.targets}
	if m.src != nil {
		st.State = m.src.State().String()
		st.TemperatureC = m.src.Temperature()
		st.Sweeps = m.src.SweepCount()
		if m.src.State() == experiment.Running {
			st.Step = m.src.StepIndex() + 1
		}
	}
	m.mu.Unlock()
	yieldJSON(w, st)
}

// HTTPTemperatures serves recent temperature rows, newest last.  The
// optional query parameter n limits the response to the newest n rows.
func (m *Server) HTTPTemperatures(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	payload := struct {
		Times      []time.Time `json:"times"`
		SetpointC  []float64   `json:"setpointC"`
		PrimaryC   []float64   `json:"primaryC"`
		SecondaryC []float64   `json:"secondaryC"`
	}{[]time.Time{}, []float64{}, []float64{}, []float64{}}
	if m.count > 0 {
		// copy under the lock, an unfilled ring's Contiguous aliases
		// its live buffer
		payload.Times = append(payload.Times, m.times.Contiguous()...)
		payload.SetpointC = append(payload.SetpointC, m.setp.Contiguous()...)
		payload.PrimaryC = append(payload.PrimaryC, m.prim.Contiguous()...)
		payload.SecondaryC = append(payload.SecondaryC, m.sec.Contiguous()...)
	}
	m.mu.Unlock()
	if s := r.URL.Query().Get("n"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			http.Error(w, "n must be a non-negative integer", http.StatusBadRequest)
			return
		}
		if n < len(payload.Times) {
			drop := len(payload.Times) - n
			payload.Times = payload.Times[drop:]
			payload.SetpointC = payload.SetpointC[drop:]
			payload.PrimaryC = payload.PrimaryC[drop:]
			payload.SecondaryC = payload.SecondaryC[drop:]
		}
	}
	yieldJSON(w, payload)
}

// HTTPLatestSweep serves the most recent sweep and its summary, or 404
// when none has been acquired yet.
func (m *Server) HTTPLatestSweep(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	rec := m.latest
	m.mu.Unlock()
	if rec == nil {
		http.Error(w, "no sweep acquired yet", http.StatusNotFound)
		return
	}
	payload := struct {
		Index        int            `json:"index"`
		Time         time.Time      `json:"time"`
		TemperatureC float64        `json:"temperatureC"`
		Summary      sparam.Summary `json:"summary"`
		Sweep        sparam.Sweep   `json:"sweep"`
	}{rec.Index, rec.Time, rec.Temperature, rec.Summarize(), rec.Sweep}
	yieldJSON(w, payload)
}

func yieldJSON(w http.ResponseWriter, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
