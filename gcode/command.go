package gcode

import (
	"strings"
)

// Command is the structured form of one program line.
//
// A Command is built once by the parser and never mutated afterwards;
// the interpreter works on copies when it substitutes variables.
type Command struct {
	// Line is the 1-based source line number.
	Line int
	Raw  string

	Comment string

	// Words holds the G and M words in written order.
	Words Block

	// Params maps known parameter letters to their numeric values.
	Params map[byte]float64

	// VarRefs maps parameter letters written as #-variable references
	// (e.g. X#100) to the referenced variable name. The interpreter
	// resolves these against its variable store at execution time.
	VarRefs map[byte]string

	// N is the N-number, or -1 when absent.
	N int

	// Tool is the T word, or -1 when absent.
	Tool int

	// Label is set for label-only lines (":START" or bare "START").
	Label string

	Goto  string
	Gosub string

	// Condition holds the raw bracket text of an IF [...] GOTO line.
	// The core never evaluates it; see interp.ConditionFunc.
	Condition string

	// Macro is the O-number of a G65/G66 call target, or of a
	// standalone O-header line.
	Macro string

	// MacroParams holds the named arguments of a G65/G66 call.
	MacroParams map[byte]float64
}

// GCodes returns the G words in written order.
func (c *Command) GCodes() []Word {
	var res []Word
	for _, w := range c.Words {
		if w.W == 'G' {
			res = append(res, w)
		}
	}
	return res
}

// MCodes returns the M words in written order.
func (c *Command) MCodes() []Word {
	var res []Word
	for _, w := range c.Words {
		if w.W == 'M' {
			res = append(res, w)
		}
	}
	return res
}

// HasMotion reports whether the command contains a motion G word.
func (c *Command) HasMotion() bool {
	for _, w := range c.Words {
		if w.W == 'G' && w.ModalGroup() == ModalGroupMotion {
			return true
		}
	}
	return false
}

// HasCoordinates reports whether any axis parameter is present,
// either numeric or as a variable reference.
func (c *Command) HasCoordinates() bool {
	for p := range c.Params {
		if (Word{W: p}).IsAxis() {
			return true
		}
	}
	for p := range c.VarRefs {
		if (Word{W: p}).IsAxis() {
			return true
		}
	}
	return false
}

// TargetAxes returns the axis parameters of the command.
func (c *Command) TargetAxes() map[byte]float64 {
	res := make(map[byte]float64)
	for p, v := range c.Params {
		if (Word{W: p}).IsAxis() {
			res[p] = v
		}
	}
	return res
}

func (c *Command) IsControlFlow() bool { return c.Goto != "" || c.Gosub != "" }
func (c *Command) IsLabel() bool       { return c.Label != "" }

// IsMacroCall reports whether the command invokes a macro (G65/G66)
// or is a standalone O-header.
func (c *Command) IsMacroCall() bool { return c.Macro != "" }

// FeedRate returns the F parameter if present.
func (c *Command) FeedRate() (bool, float64) {
	v, ok := c.Params['F']
	return ok, v
}

// SpindleSpeed returns the S parameter if present.
func (c *Command) SpindleSpeed() (bool, float64) {
	v, ok := c.Params['S']
	return ok, v
}

// Clone returns a deep copy. Used by the interpreter before variable
// substitution so the loaded program stays untouched.
func (c *Command) Clone() *Command {
	cp := *c
	cp.Words = c.Words.Clone()
	cp.Params = make(map[byte]float64, len(c.Params))
	for k, v := range c.Params {
		cp.Params[k] = v
	}
	if c.VarRefs != nil {
		cp.VarRefs = make(map[byte]string, len(c.VarRefs))
		for k, v := range c.VarRefs {
			cp.VarRefs[k] = v
		}
	}
	if c.MacroParams != nil {
		cp.MacroParams = make(map[byte]float64, len(c.MacroParams))
		for k, v := range c.MacroParams {
			cp.MacroParams[k] = v
		}
	}
	return &cp
}

func (c *Command) String() string {
	var parts []string
	parts = append(parts, c.Raw)
	if c.Label != "" {
		parts = append(parts, "label="+c.Label)
	}
	if c.Goto != "" {
		parts = append(parts, "goto="+c.Goto)
	}
	if c.Gosub != "" {
		parts = append(parts, "gosub="+c.Gosub)
	}
	if c.Macro != "" {
		parts = append(parts, "macro="+c.Macro)
	}
	return strings.Join(parts, " ")
}
