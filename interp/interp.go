package interp

import (
	"fmt"

	"github.com/Thomas-Heisig/MODAX-sub001/gcode"
)

// ConditionFunc evaluates the bracket text of an IF [...] GOTO line
// against the live variable store.
type ConditionFunc func(cond string, vars map[string]float64) (bool, error)

// Config tunes one interpreter instance. The zero value gives the
// defaults noted per field.
type Config struct {
	// MaxCalls bounds GOSUB/macro nesting depth. Default 8.
	MaxCalls int

	// MaxCommands bounds a Run when the caller passes 0.
	// Default 100000.
	MaxCommands int

	// StrictReturn makes a top-level M99 an error instead of a
	// program end.
	StrictReturn bool

	// KeepVariables preserves the variable store across Reset, for
	// hosts that pre-seed #-variables.
	KeepVariables bool

	// Condition evaluates IF [...] GOTO conditions. Leaving it nil
	// makes conditional lines fail with ErrConditionalUnsupported.
	Condition ConditionFunc
}

// Status is the interpreter run status.
type Status int

const (
	StatusReady Status = iota
	StatusRunning
	StatusDone
	StatusError
)

// Interpreter owns a Program and drives its control flow: program
// counter, call stack, variable store and execution log. It is not
// safe for concurrent use; each machine instance owns exactly one.
type Interpreter struct {
	prog *gcode.Program
	cfg  Config

	pc     int
	stack  []int
	vars   map[string]float64
	log    []string
	count  int
	status Status

	// modal macro state (G66/G67)
	modalMacro  string
	modalParams map[byte]float64
	inModalCall bool
	modalReturn int
}

func New(prog *gcode.Program, cfg Config) *Interpreter {
	if cfg.MaxCalls == 0 {
		cfg.MaxCalls = 8
	}
	if cfg.MaxCommands == 0 {
		cfg.MaxCommands = 100000
	}
	return &Interpreter{
		prog: prog,
		cfg:  cfg,
		vars: make(map[string]float64),
	}
}

func (it *Interpreter) Status() Status { return it.status }
func (it *Interpreter) PC() int        { return it.pc }
func (it *Interpreter) Depth() int     { return len(it.stack) }

// Variable returns the value of a named variable (e.g. "#100").
func (it *Interpreter) Variable(name string) (float64, bool) {
	v, ok := it.vars[name]
	return v, ok
}

func (it *Interpreter) SetVariable(name string, val float64) {
	it.vars[name] = val
}

// ExecutionLog returns the ordered trace of executed commands.
func (it *Interpreter) ExecutionLog() []string {
	out := make([]string, len(it.log))
	copy(out, it.log)
	return out
}

// Reset clears the program counter, call stack, execution log and
// counters. Variables are cleared too unless Config.KeepVariables.
func (it *Interpreter) Reset() {
	it.pc = 0
	it.stack = it.stack[:0]
	it.log = nil
	it.count = 0
	it.status = StatusReady
	it.modalMacro = ""
	it.modalParams = nil
	it.inModalCall = false
	it.modalReturn = 0
	if !it.cfg.KeepVariables {
		it.vars = make(map[string]float64)
	}
}

// Step executes one interpreter step: it resolves variable references,
// applies control-flow effects and returns the effective command for
// the caller to process. cont is false when the program has ended.
//
// Pure control-flow results (GOTO, GOSUB, labels) are still returned
// so callers can trace them; they carry no motion words.
func (it *Interpreter) Step() (cmd *gcode.Command, cont bool, err error) {
	it.count++
	if it.count > it.cfg.MaxCommands {
		it.status = StatusError
		return nil, false, ErrExecutionLimit
	}

	if it.pc >= it.prog.Len() {
		it.status = StatusDone
		return nil, false, nil
	}
	it.status = StatusRunning

	src := it.prog.Commands[it.pc]
	it.trace(src)

	if src.Condition != "" {
		return it.stepConditional(src)
	}
	if src.IsControlFlow() {
		return it.stepControlFlow(src)
	}
	if src.IsLabel() {
		it.pc++
		return src, true, nil
	}
	if src.Words.HasG(65) {
		return it.callMacro(src)
	}
	if src.Words.HasG(66) {
		// arm the modal macro; it runs before each following motion
		// block until G67
		it.modalMacro = src.Macro
		it.modalParams = src.MacroParams
		it.pc++
		return src, true, nil
	}
	if src.Words.HasG(67) {
		it.modalMacro = ""
		it.modalParams = nil
		it.pc++
		return src, true, nil
	}
	if src.IsMacroCall() {
		// standalone O-header acts as a label
		it.pc++
		return src, true, nil
	}

	if src.Words.HasM(99) {
		return it.stepReturn(src)
	}

	if isMotionBlock(src) && it.modalMacro != "" && !it.inModalCall {
		// modal macro fires before the motion block executes; the
		// block itself runs after the macro returns here
		return it.invokeModal(src)
	}

	pc := it.pc
	eff := it.resolve(src)
	it.pc++

	// the armed motion block has run; motion blocks inside the macro
	// body must not clear the flag or the macro would re-arm against
	// its own block
	if it.inModalCall && pc == it.modalReturn {
		it.inModalCall = false
	}

	if src.Words.HasM(30) || src.Words.HasM(2) {
		it.status = StatusDone
		return eff, false, nil
	}

	return eff, true, nil
}

func (it *Interpreter) stepConditional(src *gcode.Command) (*gcode.Command, bool, error) {
	if it.cfg.Condition == nil {
		it.status = StatusError
		return nil, false, fmt.Errorf("line %d: %w", src.Line, ErrConditionalUnsupported)
	}
	taken, err := it.cfg.Condition(src.Condition, it.vars)
	if err != nil {
		it.status = StatusError
		return nil, false, fmt.Errorf("line %d: %w", src.Line, err)
	}
	if !taken {
		it.pc++
		return src, true, nil
	}
	return it.jump(src, src.Goto)
}

func (it *Interpreter) stepControlFlow(src *gcode.Command) (*gcode.Command, bool, error) {
	if src.Goto != "" {
		return it.jump(src, src.Goto)
	}

	// GOSUB
	idx, ok := it.prog.Lookup(src.Gosub)
	if !ok {
		it.status = StatusError
		return nil, false, LabelNotFoundError{Line: src.Line, Target: src.Gosub}
	}
	if err := it.push(it.pc + 1); err != nil {
		return nil, false, err
	}
	it.pc = idx
	return src, true, nil
}

func (it *Interpreter) jump(src *gcode.Command, target string) (*gcode.Command, bool, error) {
	idx, ok := it.prog.Lookup(target)
	if !ok {
		it.status = StatusError
		return nil, false, LabelNotFoundError{Line: src.Line, Target: target}
	}
	it.pc = idx
	return src, true, nil
}

func (it *Interpreter) push(ret int) error {
	if len(it.stack) >= it.cfg.MaxCalls {
		it.status = StatusError
		return ErrCallStackOverflow
	}
	it.stack = append(it.stack, ret)
	return nil
}

func (it *Interpreter) callMacro(src *gcode.Command) (*gcode.Command, bool, error) {
	idx, ok := it.prog.Lookup(src.Macro)
	if !ok {
		it.status = StatusError
		return nil, false, LabelNotFoundError{Line: src.Line, Target: src.Macro}
	}
	it.bind(src.MacroParams)
	if err := it.push(it.pc + 1); err != nil {
		return nil, false, err
	}
	it.pc = idx
	return src, true, nil
}

func (it *Interpreter) invokeModal(src *gcode.Command) (*gcode.Command, bool, error) {
	idx, ok := it.prog.Lookup(it.modalMacro)
	if !ok {
		it.status = StatusError
		return nil, false, LabelNotFoundError{Line: src.Line, Target: it.modalMacro}
	}
	it.bind(it.modalParams)
	// return to this same motion block once the macro returns
	if err := it.push(it.pc); err != nil {
		return nil, false, err
	}
	it.inModalCall = true
	it.modalReturn = it.pc
	it.pc = idx
	return src, true, nil
}

// isMotionBlock also covers bare-coordinate blocks that continue the
// sticky motion mode.
func isMotionBlock(c *gcode.Command) bool {
	return c.HasMotion() || (len(c.GCodes()) == 0 && c.HasCoordinates())
}

// bind stores macro arguments as #-variables under their letter names.
func (it *Interpreter) bind(params map[byte]float64) {
	for letter, val := range params {
		it.vars["#"+string(letter)] = val
	}
}

func (it *Interpreter) stepReturn(src *gcode.Command) (*gcode.Command, bool, error) {
	if len(it.stack) == 0 {
		if it.cfg.StrictReturn {
			it.status = StatusError
			return nil, false, fmt.Errorf("line %d: %w", src.Line, ErrReturnWithoutGosub)
		}
		it.status = StatusDone
		return src, false, nil
	}
	it.pc = it.stack[len(it.stack)-1]
	it.stack = it.stack[:len(it.stack)-1]
	return src, true, nil
}

// resolve substitutes #-variable parameter references from the store.
// Unset variables read as 0, matching vacant macro variables.
func (it *Interpreter) resolve(src *gcode.Command) *gcode.Command {
	if len(src.VarRefs) == 0 {
		return src
	}
	eff := src.Clone()
	for letter, name := range eff.VarRefs {
		eff.Params[letter] = it.vars[name]
	}
	eff.VarRefs = nil
	return eff
}

func (it *Interpreter) trace(src *gcode.Command) {
	it.log = append(it.log, fmt.Sprintf("line %d: %s", src.Line, src.Raw))
}

// Run executes until program end or until maxCommands steps have run
// (0 means Config.MaxCommands). It returns the effective commands in
// execution order; on error the partial list and log are still valid.
func (it *Interpreter) Run(maxCommands int) ([]*gcode.Command, error) {
	if maxCommands <= 0 {
		maxCommands = it.cfg.MaxCommands
	}

	var executed []*gcode.Command
	for {
		if len(executed) >= maxCommands {
			it.status = StatusError
			return executed, ErrExecutionLimit
		}
		cmd, cont, err := it.Step()
		if err != nil {
			return executed, err
		}
		if cmd != nil {
			executed = append(executed, cmd)
		}
		if !cont {
			return executed, nil
		}
	}
}
