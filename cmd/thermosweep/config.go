package main

import (
	"github.com/phaselab/thermosweep/experiment"
	"github.com/phaselab/thermosweep/util"
)

// Config is the complete configuration of the program.  Durations are
// plain seconds in the file.
type Config struct {
	Controller ControllerConfig `koanf:"controller" yaml:"controller"`
	VNA        VNAConfig        `koanf:"vna" yaml:"vna"`
	Run        RunConfig        `koanf:"run" yaml:"run"`
	Monitor    MonitorConfig    `koanf:"monitor" yaml:"monitor"`

	// Mock swaps both instruments for simulated ones, no bench needed.
	Mock bool `koanf:"mock" yaml:"mock"`
}

// ControllerConfig locates the TC-720 temperature controller.
type ControllerConfig struct {
	Port string `koanf:"port" yaml:"port"`
}

// VNAConfig locates the network analyzer and sets the sweep density.
type VNAConfig struct {
	Addr   string `koanf:"addr" yaml:"addr"`
	Points int    `koanf:"points" yaml:"points"`
}

// OvershootConfig describes the optional overshoot maneuver.
type OvershootConfig struct {
	Enabled bool    `koanf:"enabled" yaml:"enabled"`
	Amount  float64 `koanf:"amount" yaml:"amount"`
	// Timeout bounds the crossing wait in seconds, zero waits forever.
	Timeout float64 `koanf:"timeout" yaml:"timeout"`
}

// RunConfig is the experiment plan and its timing knobs.  An empty
// target list makes the run command prompt for the plan interactively.
type RunConfig struct {
	Targets       []float64       `koanf:"targets" yaml:"targets"`
	RampRate      float64         `koanf:"rampRate" yaml:"rampRate"`
	FastMode      bool            `koanf:"fastMode" yaml:"fastMode"`
	Overshoot     OvershootConfig `koanf:"overshoot" yaml:"overshoot"`
	Tolerance     float64         `koanf:"tolerance" yaml:"tolerance"`
	HoldSeconds   float64         `koanf:"holdDuration" yaml:"holdDuration"`
	PollSeconds   float64         `koanf:"pollPeriod" yaml:"pollPeriod"`
	SampleSeconds float64         `koanf:"samplePeriod" yaml:"samplePeriod"`
	SweepSeconds  float64         `koanf:"sweepPeriod" yaml:"sweepPeriod"`
	RetrySeconds  float64         `koanf:"retryBackoff" yaml:"retryBackoff"`
	OutputRoot    string          `koanf:"outputRoot" yaml:"outputRoot"`
}

// MonitorConfig controls the live HTTP monitor.  An empty address
// disables it.
type MonitorConfig struct {
	Addr    string `koanf:"addr" yaml:"addr"`
	History int    `koanf:"history" yaml:"history"`
}

// defaultConfig mirrors the values the bench has always used.
func defaultConfig() Config {
	return Config{
		Controller: ControllerConfig{Port: "/dev/ttyUSB0"},
		VNA:        VNAConfig{Addr: "192.168.1.50:5025", Points: 201},
		Run: RunConfig{
			RampRate:      1,
			Overshoot:     OvershootConfig{Amount: 10},
			Tolerance:     0.5,
			HoldSeconds:   5,
			PollSeconds:   2,
			SampleSeconds: 5,
			SweepSeconds:  60,
			RetrySeconds:  5,
			OutputRoot:    "experiments",
		},
		Monitor: MonitorConfig{Addr: ":8089", History: 4096},
	}
}

// ExperimentConfig converts the run section into the core's terms.
func (c Config) ExperimentConfig() experiment.Config {
	r := c.Run
	return experiment.Config{
		Targets:          r.Targets,
		Rate:             r.RampRate,
		FastMode:         r.FastMode,
		Overshoot:        r.Overshoot.Enabled,
		OvershootC:       r.Overshoot.Amount,
		OvershootTimeout: util.SecsToDuration(r.Overshoot.Timeout),
		Tolerance:        r.Tolerance,
		HoldFor:          util.SecsToDuration(r.HoldSeconds),
		PollEvery:        util.SecsToDuration(r.PollSeconds),
		SampleEvery:      util.SecsToDuration(r.SampleSeconds),
		SweepEvery:       util.SecsToDuration(r.SweepSeconds),
		RetryAfter:       util.SecsToDuration(r.RetrySeconds),
	}
}
