package main

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// promptPlan fills the run section interactively, used when the config
// file does not pin a target list.  Invalid input re-prompts, EOF on
// stdin aborts.
func promptPlan(rd *bufio.Reader, run *RunConfig) error {
	for {
		line, err := askString(rd, "Target temperatures in C, comma separated (1 to 8): ")
		if err != nil {
			return err
		}
		targets, err := parseTargets(line)
		if err != nil {
			fmt.Println(err)
			continue
		}
		run.Targets = targets
		break
	}
	mode, err := askString(rd, "Ramp mode, [c]ontrolled linear or [f]ast PID (default c): ")
	if err != nil {
		return err
	}
	run.FastMode = strings.HasPrefix(strings.ToLower(mode), "f")
	if !run.FastMode {
		for {
			rate, err := askFloat(rd, fmt.Sprintf("Ramp rate in C/min (default %g): ", run.RampRate), run.RampRate)
			if err != nil {
				return err
			}
			if rate <= 0 {
				fmt.Printf("ramp rate %g must be positive\n", rate)
				continue
			}
			run.RampRate = rate
			break
		}
	}
	run.Overshoot.Enabled, err = askYesNo(rd, "Enable overshoot? [y/N]: ", false)
	if err != nil {
		return err
	}
	if run.Overshoot.Enabled {
		for {
			amount, err := askFloat(rd, fmt.Sprintf("Overshoot amount in C (default %g): ", run.Overshoot.Amount), run.Overshoot.Amount)
			if err != nil {
				return err
			}
			if amount <= 0 {
				fmt.Printf("overshoot amount %g must be positive\n", amount)
				continue
			}
			run.Overshoot.Amount = amount
			break
		}
	}
	return nil
}

// parseTargets splits a comma separated list of temperatures.
func parseTargets(line string) ([]float64, error) {
	fields := strings.Split(line, ",")
	out := make([]float64, 0, len(fields))
	for _, f := range fields {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, errors.Errorf("%q is not a temperature", f)
		}
		out = append(out, v)
	}
	if len(out) == 0 || len(out) > 8 {
		return nil, errors.Errorf("%d targets given, want 1 to 8", len(out))
	}
	return out, nil
}

func askString(rd *bufio.Reader, prompt string) (string, error) {
	fmt.Print(prompt)
	line, err := rd.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func askFloat(rd *bufio.Reader, prompt string, def float64) (float64, error) {
	for {
		line, err := askString(rd, prompt)
		if err != nil {
			return 0, err
		}
		if line == "" {
			return def, nil
		}
		v, err := strconv.ParseFloat(line, 64)
		if err == nil {
			return v, nil
		}
		fmt.Printf("%q is not a number\n", line)
	}
}

func askYesNo(rd *bufio.Reader, prompt string, def bool) (bool, error) {
	line, err := askString(rd, prompt)
	if err != nil {
		return false, err
	}
	switch strings.ToLower(line) {
	case "":
		return def, nil
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}
