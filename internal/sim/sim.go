// Package sim is the simulation side of a worker node without the physics:
// simulation clock, run state, command stack, scenario playback and
// telemetry. A *Simulation is the node.Handler of the worker binary.
package sim

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/dreamware/simnode/internal/codec"
	"github.com/dreamware/simnode/internal/protocol"
	"github.com/dreamware/simnode/internal/stack"
	"github.com/dreamware/simnode/internal/timer"
)

// State is the simulation run state. The numeric values are part of the
// STATECHANGE and SIMINFO payloads.
type State int

const (
	Init State = iota
	Hold
	Op
	End
)

func (s State) String() string {
	switch s {
	case Init:
		return "INIT"
	case Hold:
		return "HOLD"
	case Op:
		return "OP"
	case End:
		return "END"
	}
	return "State(" + strconv.Itoa(int(s)) + ")"
}

// Event names handled or emitted by the simulation.
const (
	StackCmd    protocol.Name = "STACKCMD"
	StepEvent   protocol.Name = "STEP"
	GetSimState protocol.Name = "GETSIMSTATE"
	SimState    protocol.Name = "SIMSTATE"
	Batch       protocol.Name = "BATCH"
	StateChange protocol.Name = "STATECHANGE"
	Echo        protocol.Name = "ECHO"

	// InfoTopic is the stream topic of the periodic telemetry.
	InfoTopic = "SIMINFO"
)

// DefaultSimDT is the simulation time step in seconds.
const DefaultSimDT = 0.05

// minSleep is the smallest pacing delay worth sleeping for.
const minSleep = time.Millisecond

// maxEventSteps caps the steps run for a single STEP event.
const maxEventSteps = 100000

// Network is what the simulation needs from its node.
type Network interface {
	SendEvent(target protocol.Route, name protocol.Name, payload codec.Value) error
	SendStream(topic string, payload codec.Value) error
	Quit()
}

type offline struct{}

func (offline) SendEvent(protocol.Route, protocol.Name, codec.Value) error { return nil }
func (offline) SendStream(string, codec.Value) error                       { return nil }

func (offline) Quit() {}

// Option configures a Simulation.
type Option func(*Simulation)

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(s *Simulation) { s.log = log }
}

// WithClock replaces time.Now and time.Sleep, for tests.
func WithClock(now func() time.Time, sleep func(time.Duration)) Option {
	return func(s *Simulation) {
		s.now = now
		s.sleep = sleep
	}
}

// WithSimDT sets the default time step in seconds.
func WithSimDT(dt float64) Option {
	return func(s *Simulation) { s.defaultDT = dt }
}

// WithInfoInterval sets the SIMINFO period. Zero disables telemetry.
func WithInfoInterval(d time.Duration) Option {
	return func(s *Simulation) { s.infoInterval = d }
}

type scenarioCmd struct {
	at   float64
	line string
}

// Simulation implements node.Handler.
//
// All methods must be called from the node loop goroutine.
type Simulation struct {
	net    Network
	stack  *stack.Stack
	timers *timer.Registry
	log    *zap.Logger
	now    func() time.Time
	sleep  func(time.Duration)

	defaultDT    float64
	infoInterval time.Duration
	usage        map[string]string

	state     State
	prevState State
	syst      time.Time // wall clock deadline of the next step, zero until INIT runs
	simt      float64
	simdt     float64
	dtmult    float64
	sysdt     time.Duration
	ffmode    bool
	ffstop    float64
	hasFFStop bool
	utc       time.Time
	scenario  []scenarioCmd
}

// New creates a simulation in state INIT. Attach a Network before the node
// starts; until then outbound messages are discarded.
func New(opts ...Option) *Simulation {
	s := &Simulation{
		net:          offline{},
		log:          zap.NewNop(),
		now:          time.Now,
		sleep:        time.Sleep,
		defaultDT:    DefaultSimDT,
		infoInterval: time.Second,
		usage:        make(map[string]string),
		prevState:    -1,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	s.timers = timer.NewRegistry(timer.WithClock(s.now))
	s.stack = stack.New(s.echo)
	s.registerCommands()

	s.state = Init
	s.simdt = s.defaultDT
	s.dtmult = 1
	s.updateSysDT()
	s.utc = midnight(s.now())

	if s.infoInterval > 0 {
		s.timers.Every(s.infoInterval, s.sendInfo)
	}
	return s
}

// Attach connects the simulation to its node.
func (s *Simulation) Attach(net Network) {
	if net == nil {
		net = offline{}
	}
	s.net = net
}

// Stack is the command stack; pass it to node.WithSenderRoute so replies
// reach the issuer of the current command.
func (s *Simulation) Stack() *stack.Stack { return s.stack }

// Timers is the timer registry; pass it to node.WithTimers.
func (s *Simulation) Timers() *timer.Registry { return s.timers }

// State returns the run state.
func (s *Simulation) State() State { return s.state }

// SimTime returns the simulated time in seconds.
func (s *Simulation) SimTime() float64 { return s.simt }

// SimDT returns the simulation time step in seconds.
func (s *Simulation) SimDT() float64 { return s.simdt }

// DTMult returns the speed multiplier.
func (s *Simulation) DTMult() float64 { return s.dtmult }

// UTC returns the simulated clock time.
func (s *Simulation) UTC() time.Time { return s.utc }

// FastForward reports whether the simulation runs as fast as possible.
func (s *Simulation) FastForward() bool { return s.ffmode }

// Step advances the simulation by one iteration.
func (s *Simulation) Step() { s.step(false) }

func (s *Simulation) step(eventStep bool) {
	// Real-time pacing applies unless fast-forwarding in OP, or stepping on
	// request. A single step never sleeps longer than sysdt.
	if (!s.ffmode || s.state != Op) && !eventStep {
		if !s.syst.IsZero() {
			if remainder := s.syst.Sub(s.now()); remainder > minSleep {
				s.sleep(min(remainder, s.sysdt))
			}
		}
	} else if s.hasFFStop && s.simt >= s.ffstop {
		s.op()
	}

	if s.state == Init {
		if s.syst.IsZero() {
			s.syst = s.now()
		}
		if len(s.scenario) > 0 || s.stack.Len() > 0 {
			s.log.Debug("INIT -> OP")
			s.op()
		}
	}

	if s.state == Op {
		s.checkScenario()
	}
	s.stack.Process()

	if s.state == Op {
		s.simt += s.simdt
		s.utc = s.utc.Add(seconds(s.simdt))
	}

	if !s.syst.IsZero() {
		s.syst = s.syst.Add(s.sysdt)
	}

	if s.state != s.prevState {
		s.sendState()
		s.prevState = s.state
	}
}

// checkScenario moves due scenario commands onto the stack.
func (s *Simulation) checkScenario() {
	n := 0
	for n < len(s.scenario) && s.scenario[n].at <= s.simt {
		s.stack.Push(s.scenario[n].line, nil)
		n++
	}
	s.scenario = s.scenario[n:]
}

// OnEvent handles events routed to the simulation.
func (s *Simulation) OnEvent(name protocol.Name, payload codec.Value, route protocol.Route) {
	s.log.Debug("sim event", zap.String("event", string(name)), zap.Stringer("route", route))

	switch name {
	case StackCmd:
		line, ok := text(payload)
		if !ok {
			s.log.Warn("STACKCMD without a command line", zap.Stringer("payload", payload))
			return
		}
		s.stack.Push(line, route)

	case StepEvent:
		// one DTMULT worth of time steps, then hold
		s.op()
		for i := 0; i < s.eventSteps(); i++ {
			s.step(true)
		}
		s.pause()
		s.send(route, StepEvent, codec.Bytes([]byte("Ok")))

	case Batch:
		s.reset()
		if err := s.loadScenario(payload); err != nil {
			s.log.Warn("invalid BATCH", zap.Error(err))
			return
		}
		s.op()

	case protocol.Quit:
		// a node consumes QUIT itself; this serves handlers driven directly
		s.stop()

	case GetSimState:
		s.send(route, SimState, s.simState())

	default:
		s.log.Info("unhandled event", zap.String("event", string(name)))
	}
}

// loadScenario reads {scentime: [t...], scencmd: [line...]}.
func (s *Simulation) loadScenario(payload codec.Value) error {
	cmdsV, ok := payload.Get("scencmd")
	if !ok {
		return fmt.Errorf("sim: BATCH payload has no scencmd")
	}
	cmds, ok := cmdsV.AsList()
	if !ok {
		return fmt.Errorf("sim: scencmd is %s, want list", cmdsV.Kind())
	}
	var times []codec.Value
	if timesV, ok := payload.Get("scentime"); ok {
		times, _ = timesV.AsList()
	}

	scenario := make([]scenarioCmd, 0, len(cmds))
	for i, c := range cmds {
		line, ok := text(c)
		if !ok {
			return fmt.Errorf("sim: scencmd[%d] is %s, want string", i, c.Kind())
		}
		cmd := scenarioCmd{line: line}
		if i < len(times) {
			cmd.at, _ = times[i].AsNumber()
		}
		scenario = append(scenario, cmd)
	}
	s.scenario = scenario
	return nil
}

func (s *Simulation) simState() codec.Value {
	cmds := make(map[string]codec.Value, len(s.usage))
	for name, usage := range s.usage {
		cmds[name] = codec.String(usage)
	}
	return codec.Map(map[string]codec.Value{
		"stackcmds": codec.Map(cmds),
		"shapes":    codec.List(),
		"state":     codec.Int(int64(s.state)),
		"simt":      codec.Float(s.simt),
	})
}

func (s *Simulation) sendInfo() {
	info := codec.Map(map[string]codec.Value{
		"simt":   codec.Float(s.simt),
		"simdt":  codec.Float(s.simdt),
		"dtmult": codec.Float(s.dtmult),
		"state":  codec.Int(int64(s.state)),
		"utc":    codec.String(s.utc.Format(utcLayout)),
	})
	if err := s.net.SendStream(InfoTopic, info); err != nil {
		s.log.Warn("send SIMINFO", zap.Error(err))
	}
}

func (s *Simulation) sendState() {
	s.send(nil, StateChange, codec.Int(int64(s.state)))
}

func (s *Simulation) send(target protocol.Route, name protocol.Name, payload codec.Value) {
	if err := s.net.SendEvent(target, name, payload); err != nil {
		s.log.Warn("send event", zap.String("event", string(name)), zap.Error(err))
	}
}

// echo is the stack reply callback. The empty target resolves to the sender
// of the executing command.
func (s *Simulation) echo(msg string) {
	s.send(nil, Echo, codec.String(msg))
}

func (s *Simulation) op() {
	s.syst = s.now()
	s.ffmode = false
	s.state = Op
}

func (s *Simulation) pause() {
	s.syst = s.now()
	s.state = Hold
}

func (s *Simulation) stop() {
	s.log.Info("simulation stopped", zap.Float64("simt", s.simt))
	s.state = End
	s.net.Quit()
}

func (s *Simulation) reset() {
	s.state = Init
	s.syst = time.Time{}
	s.simt = 0
	s.simdt = s.defaultDT
	s.utc = midnight(s.now())
	s.ffmode = false
	s.hasFFStop = false
	s.setDTMult(1)
	s.stack.Reset()
	s.scenario = nil
}

// eventSteps is the number of steps one STEP event runs: one DTMULT worth
// of simulated time, capped at maxEventSteps.
func (s *Simulation) eventSteps() int {
	n := s.dtmult / s.simdt
	if math.IsNaN(n) || n < 0 {
		return 0
	}
	return int(min(n, maxEventSteps))
}

func (s *Simulation) setDT(dt float64) {
	if dt < 0 {
		dt = -dt
	}
	s.simdt = dt
	s.updateSysDT()
}

func (s *Simulation) setDTMult(mult float64) {
	s.dtmult = mult
	s.updateSysDT()
}

func (s *Simulation) updateSysDT() {
	s.sysdt = seconds(s.simdt / s.dtmult)
}

func (s *Simulation) fastForward(nsec float64, bounded bool) {
	s.ffmode = true
	s.hasFFStop = bounded
	if bounded {
		s.ffstop = s.simt + nsec
	}
}

func seconds(f float64) time.Duration {
	return time.Duration(f * float64(time.Second))
}

func midnight(t time.Time) time.Time {
	return t.UTC().Truncate(24 * time.Hour)
}

// text extracts a command line from a String or Bytes value.
func text(v codec.Value) (string, bool) {
	if str, ok := v.AsString(); ok {
		return strings.TrimSpace(str), true
	}
	if b, ok := v.AsBytes(); ok {
		return strings.TrimSpace(string(b)), true
	}
	return "", false
}
