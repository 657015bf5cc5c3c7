package sim

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

var errArgs = errors.New("wrong number of arguments")

// Limits on the clock settings. A STEP event runs DTMULT/DT steps, so these
// keep one event from stalling the loop.
const (
	minSimDT  = 1e-3
	maxDTMult = 1e3
)

const utcLayout = "2006-01-02 15:04:05"

func (s *Simulation) registerCommands() {
	cmds := []struct {
		name  string
		usage string
		fn    func(args []string) (string, error)
	}{
		{"OP", "OP", s.cmdOp},
		{"HOLD", "HOLD", s.cmdHold},
		{"RESET", "RESET", s.cmdReset},
		{"DT", "DT [dt]", s.cmdDT},
		{"DTMULT", "DTMULT multiplier", s.cmdDTMult},
		{"FF", "FF [seconds]", s.cmdFF},
		{"QUIT", "QUIT", s.cmdQuit},
		{"ECHO", "ECHO text", s.cmdEcho},
		{"UTC", "UTC [RUN|REAL|UTC|hh:mm:ss[.frac]|day month year [hh:mm:ss[.frac]]]", s.cmdUTC},
	}
	for _, c := range cmds {
		s.stack.Register(c.name, c.fn)
		s.usage[c.name] = c.usage
	}
}

func (s *Simulation) cmdOp([]string) (string, error) {
	s.op()
	return "", nil
}

func (s *Simulation) cmdHold([]string) (string, error) {
	s.pause()
	return "", nil
}

func (s *Simulation) cmdReset([]string) (string, error) {
	s.reset()
	return "", nil
}

func (s *Simulation) cmdDT(args []string) (string, error) {
	switch len(args) {
	case 0:
		return fmt.Sprintf("Simulation timestep is %g s", s.simdt), nil
	case 1:
		dt, err := parseFloat(args[0])
		if err != nil {
			return "", err
		}
		if dt == 0 {
			return "", errors.New("timestep must be non-zero")
		}
		if math.Abs(dt) < minSimDT {
			return "", fmt.Errorf("timestep must be at least %g s", minSimDT)
		}
		s.setDT(dt)
		return "", nil
	}
	return "", errArgs
}

func (s *Simulation) cmdDTMult(args []string) (string, error) {
	if len(args) != 1 {
		return "", errArgs
	}
	mult, err := parseFloat(args[0])
	if err != nil {
		return "", err
	}
	if mult <= 0 {
		return "", errors.New("multiplier must be positive")
	}
	if mult > maxDTMult {
		return "", fmt.Errorf("multiplier must be at most %g", maxDTMult)
	}
	s.setDTMult(mult)
	return "", nil
}

func (s *Simulation) cmdFF(args []string) (string, error) {
	switch len(args) {
	case 0:
		s.fastForward(0, false)
		return "", nil
	case 1:
		nsec, err := parseFloat(args[0])
		if err != nil {
			return "", err
		}
		s.fastForward(nsec, true)
		return "", nil
	}
	return "", errArgs
}

func (s *Simulation) cmdQuit([]string) (string, error) {
	s.stop()
	return "", nil
}

func (s *Simulation) cmdEcho(args []string) (string, error) {
	if len(args) == 0 {
		return "", errArgs
	}
	return strings.Join(args, " "), nil
}

// cmdUTC queries or sets the simulated clock. RUN is today at midnight UTC,
// REAL the local wall clock and UTC the current UTC time. A bare time of day
// keeps the simulated date.
func (s *Simulation) cmdUTC(args []string) (string, error) {
	switch len(args) {
	case 0:
	case 1:
		switch strings.ToUpper(args[0]) {
		case "RUN":
			s.utc = midnight(s.now())
		case "REAL":
			s.utc = s.now().Local().Truncate(time.Second)
		case "UTC":
			s.utc = s.now().UTC().Truncate(time.Second)
		default:
			tod, err := time.Parse("15:04:05", args[0])
			if err != nil {
				return "", errors.New("input time invalid")
			}
			y, m, d := s.utc.Date()
			s.utc = time.Date(y, m, d, tod.Hour(), tod.Minute(), tod.Second(), tod.Nanosecond(), s.utc.Location())
		}
	case 3, 4:
		layout, value := "2 1 2006", strings.Join(args[:3], " ")
		if len(args) == 4 {
			layout, value = layout+" 15:04:05", value+" "+args[3]
		}
		t, err := time.Parse(layout, value)
		if err != nil {
			return "", errors.New("input date invalid")
		}
		s.utc = t
	default:
		return "", errArgs
	}
	return "Simulation UTC " + s.utc.Format(utcLayout), nil
}

func parseFloat(arg string) (float64, error) {
	f, err := strconv.ParseFloat(arg, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%q is not a number", arg)
	}
	return f, nil
}
