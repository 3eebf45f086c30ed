package keysight

import (
	"math"
	"math/rand"
	"sync"

	"github.com/phaselab/thermosweep/sparam"
)

// MockVNA is a fake network analyzer which synthesizes a single
// resonance dip.  It can be used in place of a real analyzer for
// development away from the bench
type MockVNA struct {
	sync.Mutex
	points   int
	startHz  float64
	stepHz   float64
	centerHz float64
	widthHz  float64
}

// NewMockVNA creates a mock analyzer producing n point sweeps spanning
// 1 to 1.2 GHz with a resonance near the middle of the span
func NewMockVNA(n int) *MockVNA {
	return &MockVNA{
		points:   n,
		startHz:  1e9,
		stepHz:   1e6,
		centerHz: 1e9 + float64(n)/2*1e6,
		widthHz:  5e6,
	}
}

// Identification mimics the *IDN? response of the real instrument
func (m *MockVNA) Identification() (string, error) {
	return "Keysight Technologies,P5004A,MY00000000,A.15.20.08", nil
}

// Setup does nothing, the mock has no acquisition state to configure
func (m *MockVNA) Setup(points int) error {
	m.Lock()
	defer m.Unlock()
	m.points = points
	return nil
}

// AcquireSweep synthesizes an S11 trace with a Lorentzian dip and a
// little measurement noise
func (m *MockVNA) AcquireSweep() (sparam.Sweep, error) {
	m.Lock()
	defer m.Unlock()
	n := m.points
	s := sparam.Sweep{
		Freq: make([]float64, n),
		Real: make([]float64, n),
		Imag: make([]float64, n),
	}
	center := m.centerHz + (rand.Float64()-0.5)*2e5
	for i := 0; i < n; i++ {
		f := m.startHz + float64(i)*m.stepHz
		x := (f - center) / m.widthHz
		mag := 1 - 0.9/(1+x*x)
		phase := -math.Atan2(1, x)
		s.Freq[i] = f
		s.Real[i] = mag*math.Cos(phase) + (rand.Float64()-0.5)*1e-3
		s.Imag[i] = mag*math.Sin(phase) + (rand.Float64()-0.5)*1e-3
	}
	return s, nil
}
