package interp

import (
	"errors"
	"fmt"
)

var (
	// ErrCallStackOverflow is returned when GOSUB/macro nesting
	// exceeds the configured depth.
	ErrCallStackOverflow = errors.New("call stack overflow")

	// ErrExecutionLimit is returned when a run exceeds its command
	// limit; the execution log up to that point is preserved.
	ErrExecutionLimit = errors.New("execution limit exceeded")

	// ErrReturnWithoutGosub is returned for a top-level RETURN/M99
	// when Config.StrictReturn is set. The default policy treats it
	// as a normal program end.
	ErrReturnWithoutGosub = errors.New("return with empty call stack")

	// ErrConditionalUnsupported is returned when the program uses
	// IF [...] GOTO and no ConditionFunc was injected. Expression
	// evaluation is an extension point, not part of the core.
	ErrConditionalUnsupported = errors.New("conditional execution not supported")
)

// LabelNotFoundError is a fatal runtime error naming the line whose
// GOTO/GOSUB/macro target has no label table entry.
type LabelNotFoundError struct {
	Line   int
	Target string
}

func (e LabelNotFoundError) Error() string {
	return fmt.Sprintf("line %d: label %s not found", e.Line, e.Target)
}
