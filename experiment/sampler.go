package experiment

import (
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/phaselab/thermosweep/sparam"
)

// Sampler acquires sweeps on a fixed cadence, independent of whatever
// phase the ramp loop is in.  Each acquisition is stamped with the next
// sequence number, the shared snapshot temperature and the wall clock,
// then handed to the sink.  Acquisition failures are logged and retried
// after a fixed pause, they never kill the task.
//
// Exactly one Sampler runs per experiment.  Start launches it, Stop
// signals it and waits a bounded time for it to exit.
type Sampler struct {
	src    SweepSource
	sink   Sink
	snap   *Snapshot
	period time.Duration
	retry  time.Duration

	seq      uint64
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	started  bool
}

// NewSampler wires a sampler to its instrument, sink and shared snapshot.
func NewSampler(src SweepSource, sink Sink, snap *Snapshot, period, retry time.Duration) *Sampler {
	return &Sampler{
		src:    src,
		sink:   sink,
		snap:   snap,
		period: period,
		retry:  retry,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Start launches the sampling loop.  Call it once.
func (s *Sampler) Start() {
	s.started = true
	go s.run()
}

// Stop signals the loop to exit and waits up to wait for it to do so.
// It reports whether the loop was observed to finish.  Stop may be
// called more than once.
func (s *Sampler) Stop(wait time.Duration) bool {
	s.stopOnce.Do(func() { close(s.stop) })
	if !s.started {
		return true
	}
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-s.done:
		return true
	case <-t.C:
		return false
	}
}

// Count returns how many sweeps have been assigned sequence numbers.
func (s *Sampler) Count() int {
	return int(atomic.LoadUint64(&s.seq))
}

func (s *Sampler) run() {
	defer close(s.done)
	ticker := time.NewTicker(s.period)
	defer ticker.Stop()
	for {
		// the stop check sits at the top of the cycle, a sweep in
		// flight is never abandoned halfway
		select {
		case <-s.stop:
			return
		default:
		}
		if err := s.sample(); err != nil {
			log.Printf("sweep acquisition failed: %v, retrying in %s", err, s.retry)
			select {
			case <-s.stop:
				return
			case <-time.After(s.retry):
			}
			continue
		}
		select {
		case <-s.stop:
			return
		case <-ticker.C:
		}
	}
}

// sample performs one acquire-stamp-persist cycle.  The sequence number
// is taken only after a successful acquisition, so the assigned numbers
// stay contiguous.
func (s *Sampler) sample() error {
	temp := s.snap.Load()
	sw, err := s.src.AcquireSweep()
	if err != nil {
		return err
	}
	n := atomic.AddUint64(&s.seq, 1)
	rec := sparam.Record{
		Sweep:       sw,
		Index:       int(n),
		Time:        time.Now(),
		Temperature: temp,
	}
	return s.sink.SaveSweep(rec)
}
