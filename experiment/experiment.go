/*Package experiment contains the temperature ramp orchestration and
concurrent sweep sampling core.

An Experiment walks a temperature controller through an ordered sequence
of target temperatures.  Each target is approached either along a
planned linear ramp of one degree setpoints or directly under the
controller's own PID loop, optionally with a deliberate overshoot past
the target, and is held until the measured temperature has stayed inside
a tolerance band for a minimum continuous duration.  While the
foreground loop does this, a background Sampler acquires S-parameter
sweeps from a network analyzer on its own fixed cadence, annotating each
with the most recent temperature.

The two tasks share a Snapshot, a single temperature scalar with atomic
load and store, and nothing else.  Rows, sweeps and the closing metadata
record flow out through the Sink interface so the core stays ignorant of
file formats and directory layout.
*/
package experiment

import (
	"context"
	"log"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/phaselab/thermosweep/sparam"
)

// how long finalization waits for the sampler to observe its stop signal
const stopGrace = 5 * time.Second

// TemperatureController is the device the orchestrator drives.
type TemperatureController interface {
	Temperature() (float64, error)
	SecondaryTemperature() (float64, error)
	SetSetpoint(float64) error
	OutputPower() (float64, error)
	Idle() error
}

// SweepSource is the instrument the sampler acquires from.
type SweepSource interface {
	AcquireSweep() (sparam.Sweep, error)
}

// Sink receives experiment artifacts as they are produced.  Implementations
// decide how rows, sweeps and metadata are persisted.
type Sink interface {
	AppendRow(Row) error
	SaveSweep(sparam.Record) error
	WriteMetadata(Metadata) error
}

// Snapshot is a temperature scalar shared between the foreground ramp
// loop, which stores it, and the background sampler, which loads it.
// Staleness of one tick is acceptable, torn reads are not.
type Snapshot struct {
	bits uint64
}

// Store replaces the held value.
func (s *Snapshot) Store(v float64) {
	atomic.StoreUint64(&s.bits, math.Float64bits(v))
}

// Load returns the most recently stored value.
func (s *Snapshot) Load() float64 {
	return math.Float64frombits(atomic.LoadUint64(&s.bits))
}

// Row is one line of the temperature log.  Setpoint is whatever was
// commanded at the time, which during an overshoot phase is the
// exaggerated value rather than the true target.
type Row struct {
	Time      time.Time
	Elapsed   float64
	Setpoint  float64
	Primary   float64
	Secondary float64
	Step      int
}

// Metadata summarizes one experiment.  It is written exactly once, when
// the experiment ends for any reason.
type Metadata struct {
	Start            time.Time
	End              time.Time
	Targets          []float64
	RampMode         string
	RateCPerMin      float64
	ControlMode      string
	OvershootEnabled bool
	OvershootC       float64
	TotalSweeps      int
	Completed        bool
}

// State labels where an experiment is in its lifecycle.
type State int

// experiment lifecycle states
const (
	Idle State = iota
	Running
	Completed
	Interrupted
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Running:
		return "Running"
	case Completed:
		return "Completed"
	case Interrupted:
		return "Interrupted"
	case Failed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// Config holds the already-validated knobs for one experiment.  Zero
// durations and magnitudes are replaced with the usual bench defaults,
// see ApplyDefaults.
type Config struct {
	// Targets are visited in order.  One to eight of them.
	Targets []float64

	// Rate is the controlled ramp rate in degrees C per minute.  It is
	// ignored in fast mode and must be positive otherwise.
	Rate float64

	// FastMode skips ramp planning and lets the controller's PID loop
	// pull straight to each target.
	FastMode bool

	// Overshoot commands a setpoint OvershootC degrees beyond each
	// target until the measured temperature first crosses the target.
	Overshoot  bool
	OvershootC float64

	// OvershootTimeout bounds how long the crossing is awaited.  Zero
	// means wait forever.
	OvershootTimeout time.Duration

	// Tolerance and HoldFor define stabilization, within Tolerance of
	// the target continuously for HoldFor.
	Tolerance float64
	HoldFor   time.Duration

	// PollEvery is the stabilization and overshoot polling period.
	PollEvery time.Duration

	// SampleEvery is the logging period while dwelling on a ramp step.
	SampleEvery time.Duration

	// SweepEvery is the background sweep acquisition period and
	// RetryAfter the pause before retrying a failed acquisition.
	SweepEvery time.Duration
	RetryAfter time.Duration

	// ControlMode is recorded in the metadata, informational only.
	ControlMode string
}

// ApplyDefaults fills unset fields with the bench defaults.
func (c *Config) ApplyDefaults() {
	if c.OvershootC == 0 {
		c.OvershootC = 10
	}
	if c.Tolerance == 0 {
		c.Tolerance = 0.5
	}
	if c.HoldFor == 0 {
		c.HoldFor = 5 * time.Second
	}
	if c.PollEvery == 0 {
		c.PollEvery = 2 * time.Second
	}
	if c.SampleEvery == 0 {
		c.SampleEvery = 5 * time.Second
	}
	if c.SweepEvery == 0 {
		c.SweepEvery = 60 * time.Second
	}
	if c.RetryAfter == 0 {
		c.RetryAfter = 5 * time.Second
	}
	if c.ControlMode == "" {
		c.ControlMode = "PID"
	}
}

// Experiment sequences one run of targets.  Create with New, drive with
// Run.  An Experiment is single use.
type Experiment struct {
	cfg     Config
	ctrl    TemperatureController
	sink    Sink
	snap    *Snapshot
	sampler *Sampler

	mu        sync.Mutex
	state     State
	step      int
	start     time.Time
	finalized bool
}

// New assembles an experiment from its collaborators.  The sampler is
// created but not started, Run owns its lifecycle.
func New(cfg Config, ctrl TemperatureController, src SweepSource, sink Sink) *Experiment {
	cfg.ApplyDefaults()
	snap := new(Snapshot)
	return &Experiment{
		cfg:     cfg,
		ctrl:    ctrl,
		sink:    sink,
		snap:    snap,
		sampler: NewSampler(src, sink, snap, cfg.SweepEvery, cfg.RetryAfter),
	}
}

// Run executes the experiment.  It blocks until every target has
// stabilized or ctx is cancelled.  Whatever the outcome, the sampler is
// stopped, the controller idled and the metadata written exactly once
// before Run returns.
func (e *Experiment) Run(ctx context.Context) (err error) {
	if n := len(e.cfg.Targets); n == 0 || n > 8 {
		return errors.Errorf("experiment: %d targets, want 1 to 8", n)
	}
	if !e.cfg.FastMode && e.cfg.Rate <= 0 {
		return errors.Errorf("experiment: ramp rate %g C/min is not positive", e.cfg.Rate)
	}
	current, err := e.ctrl.Temperature()
	if err != nil {
		return errors.Wrap(err, "experiment: initial temperature read failed")
	}
	e.snap.Store(current)

	e.mu.Lock()
	e.start = time.Now()
	e.state = Running
	e.step = 0
	e.mu.Unlock()

	e.sampler.Start()
	defer e.finalize(&err)

	log.Printf("experiment started at %.2f C, %d targets", current, len(e.cfg.Targets))
	for i, target := range e.cfg.Targets {
		e.setStep(i)
		if err = e.runTarget(ctx, i, target); err != nil {
			return err
		}
	}
	e.setState(Completed)
	return nil
}

// finalize is the exactly-once shutdown path.  It classifies the outcome,
// stops the sampler with a bounded join, idles the controller and writes
// the metadata.  Failures here are logged and surfaced through errp only
// if nothing else already went wrong.
func (e *Experiment) finalize(errp *error) {
	e.mu.Lock()
	if e.finalized {
		e.mu.Unlock()
		return
	}
	e.finalized = true
	if e.state == Running {
		if errors.Is(*errp, context.Canceled) || errors.Is(*errp, context.DeadlineExceeded) {
			e.state = Interrupted
		} else {
			e.state = Failed
		}
	}
	state := e.state
	e.mu.Unlock()

	if !e.sampler.Stop(stopGrace) {
		log.Printf("sampler did not stop within %s, proceeding", stopGrace)
	}
	if err := e.ctrl.Idle(); err != nil {
		log.Printf("failed to idle the controller: %v", err)
		if *errp == nil {
			*errp = err
		}
	}
	if err := e.sink.WriteMetadata(e.metadata(state)); err != nil {
		log.Printf("failed to write metadata: %v", err)
		if *errp == nil {
			*errp = err
		}
	}
	log.Printf("experiment %s, %d sweeps captured", state, e.sampler.Count())
}

func (e *Experiment) metadata(state State) Metadata {
	mode := "Controlled Linear"
	if e.cfg.FastMode {
		mode = "Fast PID"
	}
	e.mu.Lock()
	start := e.start
	e.mu.Unlock()
	return Metadata{
		Start:            start,
		End:              time.Now(),
		Targets:          e.cfg.Targets,
		RampMode:         mode,
		RateCPerMin:      e.cfg.Rate,
		ControlMode:      e.cfg.ControlMode,
		OvershootEnabled: e.cfg.Overshoot,
		OvershootC:       e.cfg.OvershootC,
		TotalSweeps:      e.sampler.Count(),
		Completed:        state == Completed,
	}
}

// pollAndLog reads both sensors, refreshes the shared snapshot and
// appends one temperature log row.  It returns the primary reading.
func (e *Experiment) pollAndLog(setpoint float64, step int) (float64, error) {
	primary, err := e.ctrl.Temperature()
	if err != nil {
		return 0, errors.Wrap(err, "experiment: temperature read failed")
	}
	e.snap.Store(primary)
	secondary, err := e.ctrl.SecondaryTemperature()
	if err != nil {
		return 0, errors.Wrap(err, "experiment: secondary temperature read failed")
	}
	e.mu.Lock()
	elapsed := time.Since(e.start).Seconds()
	e.mu.Unlock()
	row := Row{
		Time:      time.Now(),
		Elapsed:   elapsed,
		Setpoint:  setpoint,
		Primary:   primary,
		Secondary: secondary,
		Step:      step,
	}
	if err := e.sink.AppendRow(row); err != nil {
		return 0, errors.Wrap(err, "experiment: temperature log append failed")
	}
	return primary, nil
}

// logDrive prints the ramp-phase status line.  Output drive is console
// only, it is not kept in the log rows, so a failed read is reported
// and skipped rather than ending the run.
func (e *Experiment) logDrive(step int, setpoint, measured float64) {
	power, err := e.ctrl.OutputPower()
	if err != nil {
		log.Printf("step %d: output power read failed: %v", step+1, err)
		return
	}
	log.Printf("step %d: setpoint %.2f C, measured %.2f C, drive %.1f%%",
		step+1, setpoint, measured, power)
}

func (e *Experiment) setStep(i int) {
	e.mu.Lock()
	e.step = i
	e.mu.Unlock()
}

func (e *Experiment) setState(s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

// State returns the experiment's lifecycle state.
func (e *Experiment) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// StepIndex returns the zero based index of the target being worked.
func (e *Experiment) StepIndex() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.step
}

// Temperature returns the last temperature stored in the shared snapshot.
func (e *Experiment) Temperature() float64 {
	return e.snap.Load()
}

// SweepCount returns how many sweeps the sampler has acquired so far.
func (e *Experiment) SweepCount() int {
	return e.sampler.Count()
}

// Config returns a copy of the experiment's configuration.
func (e *Experiment) Config() Config {
	return e.cfg
}

// sleepCtx waits for d or for ctx to be cancelled, whichever is first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
