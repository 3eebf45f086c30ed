package tc720

import (
	"math/rand"
	"sync"
	"time"

	"github.com/phaselab/thermosweep/util"
)

// Mock simulates a TC-720 driving a plate with first-order thermal
// response.  It offers the same method set as Controller and can stand in
// for one during bench-less runs.
type Mock struct {
	sync.Mutex
	setpoint float64
	temp     float64
	ambient  float64
	enabled  bool
	last     time.Time
}

// NewMock returns a mock controller with the plate and ambient at start
func NewMock(start float64) *Mock {
	return &Mock{
		setpoint: start,
		temp:     start,
		ambient:  start,
		enabled:  true,
		last:     time.Now(),
	}
}

// advance integrates the plate temperature over dt seconds.  The driven
// time constant is ~8s; passive drift toward ambient is much slower.
func (m *Mock) advance(dt float64) {
	if m.enabled {
		m.temp += (m.setpoint - m.temp) * dt / 8
	} else {
		m.temp += (m.ambient - m.temp) * dt / 120
	}
}

func (m *Mock) step() {
	now := time.Now()
	dt := now.Sub(m.last).Seconds()
	m.last = now
	m.advance(dt)
}

// Temperature returns the simulated primary sensor reading
func (m *Mock) Temperature() (float64, error) {
	m.Lock()
	defer m.Unlock()
	m.step()
	return m.temp + (rand.Float64()-0.5)*0.04, nil
}

// SecondaryTemperature returns the simulated secondary sensor reading,
// offset a little from the plate
func (m *Mock) SecondaryTemperature() (float64, error) {
	m.Lock()
	defer m.Unlock()
	m.step()
	return m.temp + 0.3, nil
}

// OutputPower returns a proportional drive estimate as a percentage
func (m *Mock) OutputPower() (float64, error) {
	m.Lock()
	defer m.Unlock()
	m.step()
	if !m.enabled {
		return 0, nil
	}
	return util.Clamp((m.setpoint-m.temp)*25, -100, 100), nil
}

// SetSetpoint commands the simulated control setting
func (m *Mock) SetSetpoint(t float64) error {
	m.Lock()
	defer m.Unlock()
	m.step()
	m.setpoint = t
	m.enabled = true
	return nil
}

// Idle disables the simulated output drive
func (m *Mock) Idle() error {
	m.Lock()
	defer m.Unlock()
	m.step()
	m.enabled = false
	return nil
}
