package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/pkg/errors"
	"github.com/theckman/yacspin"
	yml "gopkg.in/yaml.v2"

	"github.com/phaselab/thermosweep/datalog"
	"github.com/phaselab/thermosweep/experiment"
	"github.com/phaselab/thermosweep/keysight"
	"github.com/phaselab/thermosweep/monitor"
	"github.com/phaselab/thermosweep/tc720"
)

var (
	// Version is the version number.  Typically injected via ldflags with git build
	Version = "1"

	// ConfigFileName is what it sounds like
	ConfigFileName = "thermosweep.yml"
	k              = koanf.New(".")
)

func setupconfig() {
	k.Load(structs.Provider(defaultConfig(), "koanf"), nil)
	if err := k.Load(file.Provider(ConfigFileName), yaml.Parser()); err != nil {
		errtxt := err.Error()
		if !strings.Contains(errtxt, "no such") { // file missing, who cares
			log.Fatalf("error loading config: %v", err)
		}
	}
}

func root() {
	str := `thermosweep drives a TC-720 temperature controller through a sequence of
setpoints while a network analyzer captures S11 sweeps on a fixed cadence.
Each experiment writes a temperature log, one CSV per sweep, and a metadata
record into its own directory.

Usage:
	thermosweep <command>

Commands:
	run
	help
	mkconf
	conf
	version`
	fmt.Println(str)
}

func help() {
	str := `thermosweep is amenable to configuration via its .yaml file.  For a primer
on YAML, see https://yaml.org/start.html

Without a configuration the built-in defaults are used and the run command
prompts for the experiment plan (targets, mode, rate, overshoot) on stdin.
Pinning run.targets in the file skips the prompts and runs exactly once,
which suits cron and remote invocation.

The controller is a TE Technology TC-720 on a serial port.  The analyzer
is a Keysight Streamline VNA reachable over socket SCPI, usually port
5025.  Set mock: true to develop without either.

While an experiment runs, a small HTTP monitor (monitor.addr, default
:8089) serves /status, /temperatures?n=N and /sweep/latest as JSON.

Interrupting a run (ctrl+c) shuts the experiment down in an orderly way,
the controller is idled and the metadata is finalized with
completed=false.  A second experiment can then be started from the same
process.

Sweep artifacts are rendered to HTML after the fact by the sweepdash
command, see its -help.`
	fmt.Println(str)
}

func mkconf() {
	c := Config{}
	err := k.Unmarshal("", &c)
	if err != nil {
		log.Fatal(err)
	}
	f, err := os.Create(ConfigFileName)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()
	err = yml.NewEncoder(f).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func printconf() {
	c := Config{}
	k.Unmarshal("", &c)
	err := yml.NewEncoder(os.Stdout).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func pversion() {
	fmt.Printf("thermosweep version %v\n", Version)
}

// sweepInstrument is what run needs from the analyzer beyond raw sweeps.
type sweepInstrument interface {
	experiment.SweepSource
	Identification() (string, error)
	Setup(points int) error
}

// step runs fn behind a spinner so slow device bringup reads as alive.
// The spinner is cosmetic, any failure creating it falls back to plain
// execution.
func step(msg string, fn func() error) error {
	cfg := yacspin.Config{
		Frequency:         100 * time.Millisecond,
		CharSet:           yacspin.CharSets[14],
		Suffix:            " " + msg,
		StopCharacter:     "ok",
		StopColors:        []string{"fgGreen"},
		StopFailCharacter: "failed",
		StopFailColors:    []string{"fgRed"},
	}
	s, err := yacspin.New(cfg)
	if err != nil {
		return fn()
	}
	s.Start()
	if err := fn(); err != nil {
		s.StopFail()
		return err
	}
	s.Stop()
	return nil
}

// connect brings up both instruments, or their mocks.  The returned
// func releases the controller's serial port.
func connect(c Config) (experiment.TemperatureController, sweepInstrument, func(), error) {
	if c.Mock {
		log.Println("mock mode, no hardware will be touched")
		return tc720.NewMock(21.5), keysight.NewMockVNA(c.VNA.Points), func() {}, nil
	}
	var ctrl *tc720.Controller
	err := step("connecting to TC-720 at "+c.Controller.Port, func() error {
		var err error
		ctrl, err = tc720.New(c.Controller.Port)
		return err
	})
	if err != nil {
		return nil, nil, nil, errors.Wrap(err, "temperature controller unreachable")
	}
	var vna *keysight.VNA
	err = step("connecting to VNA at "+c.VNA.Addr, func() error {
		vna = keysight.NewVNA(c.VNA.Addr)
		idn, err := vna.Identification()
		if err != nil {
			return err
		}
		log.Printf("analyzer: %s", idn)
		return vna.Setup(c.VNA.Points)
	})
	if err != nil {
		ctrl.Close()
		return nil, nil, nil, errors.Wrap(err, "network analyzer unreachable")
	}
	closer := func() {
		if err := ctrl.Close(); err != nil {
			log.Printf("controller close: %v", err)
		}
	}
	return ctrl, vna, closer, nil
}

// runOne executes a single experiment inside its own signal scope, so
// an interrupt cancels the run in flight instead of killing the
// process.
func runOne(cfg Config, ctrl experiment.TemperatureController, vna sweepInstrument, mon *monitor.Server) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger, err := datalog.New(cfg.Run.OutputRoot, time.Now())
	if err != nil {
		return err
	}
	defer logger.Close()
	var sink experiment.Sink = logger
	if mon != nil {
		sink = mon.Tee(logger)
	}
	e := experiment.New(cfg.ExperimentConfig(), ctrl, vna, sink)
	if mon != nil {
		mon.Observe(e, cfg.Run.Targets)
	}
	log.Printf("writing to %s", logger.Dir())
	err = e.Run(ctx)
	if errors.Is(err, context.Canceled) {
		// an operator interrupt is a first class outcome, not a failure
		log.Println("experiment interrupted, shut down cleanly")
		return nil
	}
	if err != nil {
		return err
	}
	log.Printf("experiment complete, artifacts in %s", logger.Dir())
	return nil
}

func run() {
	c := Config{}
	err := k.Unmarshal("", &c)
	if err != nil {
		log.Fatal(err)
	}
	ctrl, vna, closeDevices, err := connect(c)
	if err != nil {
		// nothing to recover without both instruments
		log.Fatalf("device bringup failed: %v", err)
	}
	defer closeDevices()

	var mon *monitor.Server
	if c.Monitor.Addr != "" {
		mon = monitor.New(c.Monitor.History)
		go func() {
			log.Printf("monitor listening at %s", c.Monitor.Addr)
			if err := http.ListenAndServe(c.Monitor.Addr, mon.Routes()); err != nil {
				log.Printf("monitor server: %v", err)
			}
		}()
	}

	rd := bufio.NewReader(os.Stdin)
	batch := len(c.Run.Targets) > 0
	for {
		cfg := c
		if !batch {
			if err := promptPlan(rd, &cfg.Run); err != nil {
				log.Printf("no experiment plan: %v", err)
				return
			}
		}
		if err := runOne(cfg, ctrl, vna, mon); err != nil {
			// recoverable at the process level, the experiment's own
			// shutdown already ran
			log.Printf("experiment failed: %v", err)
		}
		if batch {
			return
		}
		fmt.Print("Press enter to start another experiment, ctrl+c to exit: ")
		if _, err := rd.ReadString('\n'); err != nil {
			fmt.Println()
			return
		}
	}
}

func main() {
	var cmd string
	args := os.Args
	if len(args) == 1 {
		root()
		return
	}
	setupconfig()
	cmd = args[1]
	cmd = strings.ToLower(cmd)
	switch cmd {
	case "help":
		help()
		return
	case "mkconf":
		mkconf()
		return
	case "conf":
		printconf()
		return
	case "run":
		run()
		return
	case "version":
		pversion()
		return
	default:
		log.Fatal("unknown command")
	}
}
