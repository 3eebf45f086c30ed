package experiment

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newBenchExperiment(cfg Config, fc *fakeController) (*Experiment, *memorySink) {
	sink := &memorySink{}
	e := New(cfg, fc, &fakeSource{sweep: testSweep()}, sink)
	e.start = time.Now()
	return e, sink
}

func TestStabilizeResetsOnBandExit(t *testing.T) {
	cfg := quickConfig()
	cfg.HoldFor = 80 * time.Millisecond
	cfg.PollEvery = 10 * time.Millisecond
	// enters the band, bounces out, then re-enters for good
	fc := &fakeController{temps: []float64{25, 26, 25}, secondary: 25}
	e, sink := newBenchExperiment(cfg, fc)

	since, err := e.stabilize(context.Background(), 0, 25)
	if err != nil {
		t.Fatalf("stabilize failed: %v", err)
	}
	reads := fc.reads()
	if len(reads) < 3 {
		t.Fatalf("only %d reads, scripted bounce never played out", len(reads))
	}
	// the winning window must have opened at the second entry, after
	// the out-of-band reading, not at the first
	if !since.After(reads[1]) {
		t.Errorf("window start %v predates the band exit at %v", since, reads[1])
	}
	if held := time.Since(since); held < cfg.HoldFor {
		t.Errorf("declared stable after only %s in band, want at least %s", held, cfg.HoldFor)
	}
	if sink.rowCount() != len(reads) {
		t.Errorf("%d rows logged for %d polls, want one row per poll", sink.rowCount(), len(reads))
	}
}

func TestStabilizeCancellable(t *testing.T) {
	cfg := quickConfig()
	fc := &fakeController{temps: []float64{99}, secondary: 99} // never in band
	e, _ := newBenchExperiment(cfg, fc)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()
	_, err := e.stabilize(ctx, 0, 25)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("stabilize returned %v, want context.Canceled", err)
	}
}

func TestOvershootCoolingCrossesThenRestoresTarget(t *testing.T) {
	cfg := quickConfig()
	cfg.Overshoot = true
	cfg.OvershootC = 5
	// direction read sees 30, then polls walk down through the target
	fc := &fakeController{temps: []float64{30, 30, 20, 11, 9}, secondary: 30}
	e, sink := newBenchExperiment(cfg, fc)

	if err := e.overshoot(context.Background(), 0, 10); err != nil {
		t.Fatalf("overshoot failed: %v", err)
	}
	want := []float64{5, 10}
	got := fc.commanded()
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("commanded %v, want %v", got, want)
	}
	// all 5 scripted readings consumed, exit exactly on the 9
	if len(fc.reads()) != 5 {
		t.Errorf("%d reads, want 5, crossing should end polling immediately", len(fc.reads()))
	}
	// rows written during the maneuver carry the overshoot setpoint
	for _, r := range sink.rows {
		if r.Setpoint != 5 {
			t.Errorf("row setpoint %g, want the overshoot value 5", r.Setpoint)
		}
	}
	if sink.rowCount() != 4 {
		t.Errorf("%d rows, want 4, one per poll", sink.rowCount())
	}
}

func TestOvershootHeating(t *testing.T) {
	cfg := quickConfig()
	cfg.Overshoot = true
	cfg.OvershootC = 3
	fc := &fakeController{temps: []float64{5, 5, 8, 10.1}, secondary: 5}
	e, _ := newBenchExperiment(cfg, fc)

	if err := e.overshoot(context.Background(), 0, 10); err != nil {
		t.Fatalf("overshoot failed: %v", err)
	}
	got := fc.commanded()
	if len(got) != 2 || got[0] != 13 || got[1] != 10 {
		t.Fatalf("commanded %v, want [13 10]", got)
	}
}

func TestOvershootAlreadyPastTargetExitsAfterOnePoll(t *testing.T) {
	cfg := quickConfig()
	cfg.Overshoot = true
	cfg.OvershootC = 5
	// cooling toward 10 but the first poll already reads below it
	fc := &fakeController{temps: []float64{10.2, 9.8}, secondary: 10}
	e, sink := newBenchExperiment(cfg, fc)

	if err := e.overshoot(context.Background(), 0, 10); err != nil {
		t.Fatalf("overshoot failed: %v", err)
	}
	got := fc.commanded()
	if len(got) != 2 || got[0] != 5 || got[1] != 10 {
		t.Fatalf("commanded %v, want [5 10]", got)
	}
	if sink.rowCount() != 1 {
		t.Errorf("%d rows, want exactly 1 poll before exit", sink.rowCount())
	}
}

func TestOvershootTimeoutRestoresTarget(t *testing.T) {
	cfg := quickConfig()
	cfg.Overshoot = true
	cfg.OvershootC = 5
	cfg.OvershootTimeout = 30 * time.Millisecond
	fc := &fakeController{temps: []float64{30}, secondary: 30} // never crosses
	e, _ := newBenchExperiment(cfg, fc)

	start := time.Now()
	if err := e.overshoot(context.Background(), 0, 10); err != nil {
		t.Fatalf("overshoot failed: %v", err)
	}
	if waited := time.Since(start); waited < cfg.OvershootTimeout {
		t.Errorf("gave up after %s, before the %s timeout", waited, cfg.OvershootTimeout)
	}
	got := fc.commanded()
	if len(got) < 2 || got[len(got)-1] != 10 {
		t.Fatalf("commanded %v, want the true target restored last", got)
	}
}
