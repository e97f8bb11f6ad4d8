// Package machine is the orchestrating controller: it consumes
// interpreter-resolved commands one at a time, applies modal state,
// builds and transforms moves, gates every move through the safety
// validator and hands it to the dispatch boundary.
package machine

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/Thomas-Heisig/MODAX-sub001/coord"
	"github.com/Thomas-Heisig/MODAX-sub001/gcode"
	"github.com/Thomas-Heisig/MODAX-sub001/interp"
	"github.com/Thomas-Heisig/MODAX-sub001/level"
	"github.com/Thomas-Heisig/MODAX-sub001/motion"
	"github.com/Thomas-Heisig/MODAX-sub001/tool"
	"github.com/Thomas-Heisig/MODAX-sub001/wcs"
)

// Mode is the controller's top-level state.
type Mode int

const (
	Manual Mode = iota
	MDI
	Home
	Auto
	Stopped
)

func (m Mode) String() string {
	switch m {
	case Manual:
		return "MANUAL"
	case MDI:
		return "MDI"
	case Home:
		return "HOME"
	case Auto:
		return "AUTO"
	case Stopped:
		return "STOPPED"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

var (
	// ErrSafetyVeto means the safety validator rejected or timed
	// out on a move. Recoverable by operator intervention.
	ErrSafetyVeto = errors.New("safety veto")

	// ErrEmergencyStopped means the machine is in STOPPED and needs
	// an explicit reset plus re-homing.
	ErrEmergencyStopped = errors.New("emergency stopped; reset and home required")

	ErrNotHomed     = errors.New("machine not homed")
	ErrNoProgram    = errors.New("no program loaded")
	ErrNoDispatcher = errors.New("no dispatcher configured")
	ErrHalted       = errors.New("halted on previous error; reset required")
)

// ModeChangeError reports a rejected mode transition.
type ModeChangeError struct {
	From, To Mode
	Reason   string
}

func (e ModeChangeError) Error() string {
	return fmt.Sprintf("cannot switch %s -> %s: %s", e.From, e.To, e.Reason)
}

// LimitError reports a move endpoint outside the software limits.
type LimitError struct {
	Axis  byte
	Value float64
	Min   float64
	Max   float64
}

func (e LimitError) Error() string {
	return fmt.Sprintf("%c=%.3f outside software limits [%.3f, %.3f]", e.Axis, e.Value, e.Min, e.Max)
}

// Dispatcher is the field-layer boundary. Dispatch blocks until the
// move is accepted; Abort cancels a move in progress and reports the
// truncated position if one was running.
type Dispatcher interface {
	Dispatch(motion.Move) error
	Abort() (coord.Point, bool)
}

// Validator is the injected safety collaborator, called once per
// motion command before dispatch.
type Validator interface {
	IsSafe(motion.Move) bool
}

// Limits are software position limits in machine coordinates.
type Limits struct {
	Min, Max coord.Point
}

// Config assembles a Controller. Dispatcher is required for any
// motion; the rest have working defaults.
type Config struct {
	Dispatcher Dispatcher
	Validator  Validator
	Frames     *wcs.Manager
	Tools      *tool.Manager
	Leveler    *level.Leveler

	// SafetyTimeout bounds one IsSafe call; a timeout counts as
	// unsafe. Default 250ms.
	SafetyTimeout time.Duration

	// MaxSpindleRPM validates SetSpindleSpeed. Default 24000.
	MaxSpindleRPM float64

	// Limits enables software limit checking when non-nil.
	Limits *Limits

	// Interp configures the program interpreter.
	Interp interp.Config
}

// Controller owns all state of one machine instance. Except for
// EmergencyStop, which may be called from any goroutine, it is not
// safe for concurrent use.
type Controller struct {
	cfg Config

	mode   Mode
	homed  bool
	paused bool
	halted error // runtime error sub-state, nil when healthy

	estop   int32             // set asynchronously, checked at command boundaries
	abortCh chan coord.Point // truncated position handed over from EmergencyStop

	prog *gcode.Program
	itp  *interp.Interpreter
	done bool

	modal      ModalState
	machinePos coord.Point // machine coordinates
	workPos    coord.Point // logical program coordinates

	feedOverride    float64
	rapidOverride   float64
	spindleOverride float64
}

func New(cfg Config) *Controller {
	if cfg.SafetyTimeout == 0 {
		cfg.SafetyTimeout = 250 * time.Millisecond
	}
	if cfg.MaxSpindleRPM == 0 {
		cfg.MaxSpindleRPM = 24000
	}
	if cfg.Frames == nil {
		cfg.Frames = wcs.NewManager()
	}
	return &Controller{
		cfg:             cfg,
		mode:            Manual,
		abortCh:         make(chan coord.Point, 1),
		modal:           newModalState(),
		feedOverride:    100,
		rapidOverride:   100,
		spindleOverride: 100,
	}
}

// Mode reports a latched emergency stop as STOPPED even before the
// controller goroutine has observed it.
func (c *Controller) Mode() Mode {
	if atomic.LoadInt32(&c.estop) != 0 {
		return Stopped
	}
	return c.mode
}

func (c *Controller) Homed() bool                  { return c.homed }
func (c *Controller) MachinePosition() coord.Point { return c.machinePos }
func (c *Controller) WorkPosition() coord.Point    { return c.workPos }
func (c *Controller) Frames() *wcs.Manager         { return c.cfg.Frames }

// Halted returns the runtime error that halted execution, if any.
func (c *Controller) Halted() error { return c.halted }

func (c *Controller) stopped() bool {
	return c.mode == Stopped || atomic.LoadInt32(&c.estop) != 0
}

// LoadProgram parses no text itself; it takes a parsed program and
// builds a fresh interpreter for it. Rejected while STOPPED or while
// a program is running in AUTO.
func (c *Controller) LoadProgram(prog *gcode.Program) error {
	if c.stopped() {
		return ErrEmergencyStopped
	}
	c.prog = prog
	c.itp = interp.New(prog, c.cfg.Interp)
	c.done = false
	c.halted = nil
	return nil
}

// Interpreter exposes the loaded program's interpreter for variable
// pre-seeding and log inspection.
func (c *Controller) Interpreter() *interp.Interpreter { return c.itp }

// ExecutionLog returns the interpreter trace, empty when no program is
// loaded.
func (c *Controller) ExecutionLog() []string {
	if c.itp == nil {
		return nil
	}
	return c.itp.ExecutionLog()
}

// SetMode switches the controller mode. AUTO requires a loaded
// program, a configured coordinate frame and a homed machine. STOPPED
// cannot be entered directly (use EmergencyStop) nor left directly
// (use Reset).
func (c *Controller) SetMode(m Mode) error {
	if m == c.mode {
		return nil
	}
	if m == Stopped {
		return ModeChangeError{From: c.mode, To: m, Reason: "STOPPED is entered via emergency stop only"}
	}
	if c.stopped() {
		return ModeChangeError{From: Stopped, To: m, Reason: "reset and home required"}
	}
	if c.halted != nil {
		return ModeChangeError{From: c.mode, To: m, Reason: "halted on error; reset required"}
	}
	if m == Auto {
		if c.prog == nil {
			return ModeChangeError{From: c.mode, To: m, Reason: ErrNoProgram.Error()}
		}
		if !c.homed {
			return ModeChangeError{From: c.mode, To: m, Reason: ErrNotHomed.Error()}
		}
		active := c.cfg.Frames.Active()
		if active == "" || !c.cfg.Frames.Configured(active) {
			return ModeChangeError{From: c.mode, To: m, Reason: wcs.ErrCoordinateSystemNotSet.Error()}
		}
	}
	c.mode = m
	return nil
}

// EmergencyStop preempts execution: it latches the stop flag and
// aborts any move already in progress. It touches nothing but the
// flag and the dispatcher, so it is safe to call from any goroutine;
// the controller adopts the truncated position and enters STOPPED at
// its next command boundary. Recovery requires Reset followed by
// HomeAll.
func (c *Controller) EmergencyStop() {
	atomic.StoreInt32(&c.estop, 1)
	if c.cfg.Dispatcher != nil {
		if pos, aborted := c.cfg.Dispatcher.Abort(); aborted {
			select {
			case c.abortCh <- pos:
			default:
			}
		}
	}
}

// observeStop runs on the controller's own goroutine once the stop
// latch is seen: it adopts the truncated position and enters STOPPED.
func (c *Controller) observeStop() {
	select {
	case pos := <-c.abortCh:
		c.machinePos = pos
	default:
	}
	c.mode = Stopped
	c.homed = false
	c.paused = false
}

// Reset clears the emergency-stop latch and any error sub-state and
// returns the controller to MANUAL. It does not re-home; AUTO stays
// unreachable until HomeAll runs.
func (c *Controller) Reset() {
	if atomic.LoadInt32(&c.estop) != 0 {
		c.observeStop()
	}
	atomic.StoreInt32(&c.estop, 0)
	c.mode = Manual
	c.halted = nil
	c.paused = false
	if c.itp != nil {
		c.itp.Reset()
		c.done = false
	}
}

// HomeAll runs the homing cycle: all axes to machine zero.
func (c *Controller) HomeAll() error {
	if c.stopped() {
		return ErrEmergencyStopped
	}
	prev := c.mode
	c.mode = Home
	c.machinePos = coord.Point{}
	c.workPos = coord.Point{}
	c.homed = true
	c.mode = prev
	return nil
}

// Pause suspends Run at the next command boundary. Call-stack and
// variable state are kept.
func (c *Controller) Pause() { c.paused = true }

// Resume clears a pause.
func (c *Controller) Resume() { c.paused = false }

func (c *Controller) Paused() bool { return c.paused }

// SetSpindleSpeed validates rpm against the configured maximum. While
// STOPPED it is a no-op.
func (c *Controller) SetSpindleSpeed(rpm float64) error {
	if c.stopped() {
		return nil
	}
	if rpm < 0 || rpm > c.cfg.MaxSpindleRPM {
		return fmt.Errorf("spindle speed %.0f outside [0, %.0f]", rpm, c.cfg.MaxSpindleRPM)
	}
	c.modal.SpindleSpeed = rpm
	return nil
}

// SetFeedOverride scales programmed feed, percent in [0, 200].
func (c *Controller) SetFeedOverride(pct float64) error {
	return setOverride(&c.feedOverride, pct)
}

// SetRapidOverride scales rapid traverse, percent in [0, 200].
func (c *Controller) SetRapidOverride(pct float64) error {
	return setOverride(&c.rapidOverride, pct)
}

// SetSpindleOverride scales spindle speed, percent in [0, 200].
func (c *Controller) SetSpindleOverride(pct float64) error {
	return setOverride(&c.spindleOverride, pct)
}

func setOverride(dst *float64, pct float64) error {
	if pct < 0 || pct > 200 {
		return fmt.Errorf("override %.0f%% outside [0, 200]", pct)
	}
	*dst = pct
	return nil
}

// Step executes one interpreter-resolved command. It returns true
// when the program has ended. Runtime errors put the controller into
// an error-halted sub-state; EmergencyStop wins over everything.
func (c *Controller) Step() (bool, error) {
	if atomic.LoadInt32(&c.estop) != 0 || c.mode == Stopped {
		c.observeStop()
		return false, ErrEmergencyStopped
	}
	if c.halted != nil {
		return false, ErrHalted
	}
	if c.mode != Auto {
		return false, fmt.Errorf("step requires AUTO mode, in %s", c.mode)
	}
	if c.itp == nil {
		return false, ErrNoProgram
	}
	if c.done {
		return true, nil
	}

	cmd, cont, err := c.itp.Step()
	if err != nil {
		c.halted = err
		return false, err
	}
	if cmd != nil {
		if err := c.execute(cmd); err != nil {
			c.halted = err
			return false, err
		}
	}
	if !cont {
		c.done = true
		return true, nil
	}
	return false, nil
}

// Run drives the program until it ends, a pause or stop intervenes,
// or an error halts execution.
func (c *Controller) Run() error {
	for {
		if c.paused {
			return nil
		}
		done, err := c.Step()
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
}

// ExecuteBlock parses and executes one command line immediately.
// Only allowed in MDI mode; MANUAL keeps Jog for hand moves.
func (c *Controller) ExecuteBlock(line string) error {
	if c.stopped() {
		return ErrEmergencyStopped
	}
	if c.halted != nil {
		return ErrHalted
	}
	if c.mode != MDI {
		return fmt.Errorf("immediate blocks require MDI mode, in %s", c.mode)
	}
	p := gcode.Parser{}
	cmd, err := p.ParseLine(line, 0)
	if err != nil {
		return err
	}
	if cmd == nil {
		return nil
	}
	if err := c.execute(cmd); err != nil {
		c.halted = err
		return err
	}
	return nil
}

// Jog issues a manual straight move by a relative delta, bypassing
// the program but not the safety gate.
func (c *Controller) Jog(delta coord.Point, feed float64) error {
	if c.stopped() {
		return ErrEmergencyStopped
	}
	if c.mode != Manual {
		return fmt.Errorf("jog requires MANUAL mode, in %s", c.mode)
	}
	target := c.machinePos.Add(delta)
	rapid := feed <= 0
	mv, err := motion.LinearMove(c.machinePos, target, feed, rapid)
	if err != nil {
		return err
	}
	if err := c.dispatch(mv); err != nil {
		return err
	}
	c.machinePos = target
	return nil
}

// Status is a point-in-time snapshot for external observers.
type Status struct {
	Mode   string      `json:"mode"`
	Error  string      `json:"error,omitempty"`
	Paused bool        `json:"paused"`
	Homed  bool        `json:"homed"`
	Done   bool        `json:"done"`
	MPos   coord.Point `json:"mpos"`
	WPos   coord.Point `json:"wpos"`

	ProgramLoaded bool `json:"program_loaded"`
	PC            int  `json:"pc"`

	Frame        string  `json:"frame,omitempty"`
	Tool         int     `json:"tool"`
	FeedRate     float64 `json:"feed_rate"`
	SpindleSpeed float64 `json:"spindle_speed"`
	Coolant      bool    `json:"coolant"`

	FeedOverride    float64 `json:"feed_override"`
	RapidOverride   float64 `json:"rapid_override"`
	SpindleOverride float64 `json:"spindle_override"`
}

func (c *Controller) Status() Status {
	s := Status{
		Mode:            c.Mode().String(),
		Paused:          c.paused,
		Homed:           c.homed,
		Done:            c.done,
		MPos:            c.machinePos,
		WPos:            c.workPos,
		ProgramLoaded:   c.prog != nil,
		Frame:           c.cfg.Frames.Active(),
		Tool:            c.modal.Tool,
		FeedRate:        c.modal.FeedRate,
		SpindleSpeed:    c.modal.SpindleSpeed,
		Coolant:         c.modal.Coolant,
		FeedOverride:    c.feedOverride,
		RapidOverride:   c.rapidOverride,
		SpindleOverride: c.spindleOverride,
	}
	if c.halted != nil {
		s.Error = c.halted.Error()
	}
	if c.itp != nil {
		s.PC = c.itp.PC()
	}
	return s
}
