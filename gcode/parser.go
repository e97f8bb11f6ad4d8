package gcode

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ParseError is a fatal syntax error. Parse errors always prevent a
// program from loading.
type ParseError struct {
	Line int
	Col  int
	Msg  string
}

func (e ParseError) Error() string {
	return fmt.Sprintf("line %d:%d: %s", e.Line, e.Col, e.Msg)
}

// Parser parses ISO 6983-style programs plus the common control-flow
// extensions (labels, GOTO/GOSUB/RETURN, O-headers, G65/G66 macros).
type Parser struct {
	// Strict promotes unknown G/M codes from warnings to fatal errors.
	Strict bool

	// Warnings collects non-fatal findings from the last ParseProgram.
	Warnings []string
}

var (
	rxIfGoto = regexp.MustCompile(`^IF\s*\[([^\]]*)\]\s*GOTO\s+([A-Z0-9_]+)\s*$`)
	rxGoto   = regexp.MustCompile(`GOTO\s+([A-Z0-9_]+)`)
	rxGosub  = regexp.MustCompile(`GOSUB\s+([A-Z0-9_]+)`)
	rxLabel  = regexp.MustCompile(`^:?([A-Z][A-Z0-9_]*):?$`)
	rxCode   = regexp.MustCompile(`^[GMNO]\d`)
	rxOnum   = regexp.MustCompile(`^O(\d+)$`)
)

// paramLetters are the recognized parameter letters: the axis set plus
// arc offsets, macro/cycle arguments, feed and spindle speed.
const paramLetters = "XYZABCUVWIJKRPQDHLEFS"

func isParamLetter(c byte) bool {
	return strings.IndexByte(paramLetters, c) >= 0
}

// ParseLine parses one program line. It returns (nil, nil) for empty
// and comment-only lines.
func (p *Parser) ParseLine(line string, num int) (*Command, error) {
	cmd := &Command{
		Line:   num,
		Raw:    strings.TrimSpace(line),
		N:      -1,
		Tool:   -1,
		Params: make(map[byte]float64),
	}

	// Strip comments; both parenthetical and line-trailing styles.
	if i := strings.IndexByte(line, '('); i >= 0 {
		j := strings.IndexByte(line[i:], ')')
		if j < 0 {
			return nil, ParseError{Line: num, Col: i + 1, Msg: "unterminated comment"}
		}
		cmd.Comment = strings.TrimSpace(line[i+1 : i+j])
		line = line[:i] + line[i+j+1:]
	} else if i := strings.IndexByte(line, ';'); i >= 0 {
		cmd.Comment = strings.TrimSpace(line[i+1:])
		line = line[:i]
	}

	line = strings.ToUpper(strings.TrimSpace(line))
	if line == "" {
		return nil, nil
	}

	if line == "RETURN" {
		// keyword form of M99
		cmd.Words = Block{{W: 'M', Arg: 99}}
		return cmd, nil
	}

	if m := rxIfGoto.FindStringSubmatch(line); m != nil {
		cmd.Condition = strings.TrimSpace(m[1])
		cmd.Goto = m[2]
		return cmd, nil
	}
	if m := rxGoto.FindStringSubmatch(line); m != nil {
		cmd.Goto = m[1]
		line = strings.TrimSpace(strings.Replace(line, m[0], "", 1))
	}
	if m := rxGosub.FindStringSubmatch(line); m != nil {
		cmd.Gosub = m[1]
		line = strings.TrimSpace(strings.Replace(line, m[0], "", 1))
	}
	if line == "" {
		return cmd, nil
	}

	// Standalone labels; G/M/N/O codes are never labels.
	if m := rxLabel.FindStringSubmatch(line); m != nil && !rxCode.MatchString(m[1]) {
		cmd.Label = m[1]
		return cmd, nil
	}

	// Standalone O-header (program/macro number).
	if m := rxOnum.FindStringSubmatch(line); m != nil {
		cmd.Macro = "O" + m[1]
		return cmd, nil
	}

	if err := p.scanWords(cmd, line); err != nil {
		return nil, err
	}

	// G65/G66 call the macro named by the P word; the remaining
	// parameters become its named arguments.
	if cmd.Words.HasG(65) || cmd.Words.HasG(66) {
		pn, ok := cmd.Params['P']
		if !ok {
			return nil, ParseError{Line: num, Col: 1, Msg: "macro call requires P number"}
		}
		cmd.Macro = "O" + strconv.Itoa(int(pn))
		cmd.MacroParams = make(map[byte]float64)
		for k, v := range cmd.Params {
			if k != 'P' {
				cmd.MacroParams[k] = v
			}
		}
	}

	return cmd, nil
}

// scanWords tokenizes letter/value pairs, filling words, parameters
// and variable references.
func (p *Parser) scanWords(cmd *Command, s string) error {
	i := 0
	for i < len(s) {
		c := s[i]
		if c == ' ' || c == '\t' {
			i++
			continue
		}
		if c < 'A' || c > 'Z' {
			return ParseError{Line: cmd.Line, Col: i + 1, Msg: fmt.Sprintf("unexpected character %q", c)}
		}
		letter := c
		i++

		if i < len(s) && s[i] == '#' {
			// variable reference, e.g. X#100
			j := i + 1
			for j < len(s) && (isAlnum(s[j]) || s[j] == '_') {
				j++
			}
			if j == i+1 {
				return ParseError{Line: cmd.Line, Col: i + 1, Msg: "empty variable reference"}
			}
			if !isParamLetter(letter) {
				return ParseError{Line: cmd.Line, Col: i, Msg: fmt.Sprintf("variable reference on %q", letter)}
			}
			if cmd.VarRefs == nil {
				cmd.VarRefs = make(map[byte]string)
			}
			cmd.VarRefs[letter] = s[i:j]
			i = j
			continue
		}

		j := i
		if j < len(s) && (s[j] == '+' || s[j] == '-') {
			j++
		}
		for j < len(s) && (isDigit(s[j]) || s[j] == '.') {
			j++
		}
		if j == i || (j == i+1 && !isDigit(s[i])) {
			return ParseError{Line: cmd.Line, Col: i, Msg: fmt.Sprintf("missing value for %q", letter)}
		}
		val, err := strconv.ParseFloat(s[i:j], 64)
		if err != nil {
			return ParseError{Line: cmd.Line, Col: i + 1, Msg: "malformed number " + s[i:j]}
		}

		switch {
		case letter == 'G' || letter == 'M':
			cmd.Words = append(cmd.Words, Word{W: letter, Arg: val})
		case letter == 'N':
			if cmd.N < 0 {
				cmd.N = int(val)
			}
		case letter == 'T':
			cmd.Tool = int(val)
		case isParamLetter(letter):
			cmd.Params[letter] = val
		default:
			return ParseError{Line: cmd.Line, Col: i, Msg: fmt.Sprintf("unrecognized parameter letter %q", letter)}
		}
		i = j
	}
	return nil
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }
func isAlnum(c byte) bool {
	return isDigit(c) || (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z')
}

// ParseProgram parses a complete program and builds its label table in
// one pass. Warnings (unknown codes, unresolved targets, block
// conflicts) are collected on the parser; any syntax error aborts the
// load.
func (p *Parser) ParseProgram(text string) (*Program, error) {
	p.Warnings = nil

	prog := &Program{Labels: make(map[string]int)}
	for num, line := range strings.Split(text, "\n") {
		cmd, err := p.ParseLine(line, num+1)
		if err != nil {
			return nil, err
		}
		if cmd == nil {
			continue
		}

		_, warns := Validate(cmd)
		for _, w := range warns {
			if p.Strict && strings.HasPrefix(w, "unknown") {
				return nil, ParseError{Line: cmd.Line, Col: 1, Msg: w}
			}
			p.Warnings = append(p.Warnings, fmt.Sprintf("line %d: %s", cmd.Line, w))
		}

		idx := len(prog.Commands)
		if cmd.Label != "" {
			if _, dup := prog.Labels[cmd.Label]; dup {
				return nil, ParseError{Line: cmd.Line, Col: 1, Msg: "duplicate label " + cmd.Label}
			}
			prog.Labels[cmd.Label] = idx
		}
		if cmd.N >= 0 {
			name := "N" + strconv.Itoa(cmd.N)
			if _, dup := prog.Labels[name]; dup {
				return nil, ParseError{Line: cmd.Line, Col: 1, Msg: "duplicate line number " + name}
			}
			prog.Labels[name] = idx
		}
		// standalone O-headers label the subprogram start
		if cmd.Macro != "" && len(cmd.Words) == 0 && cmd.Gosub == "" {
			if _, dup := prog.Labels[cmd.Macro]; dup {
				return nil, ParseError{Line: cmd.Line, Col: 1, Msg: "duplicate program number " + cmd.Macro}
			}
			prog.Labels[cmd.Macro] = idx
		}
		prog.Commands = append(prog.Commands, cmd)
	}

	for _, w := range prog.UnresolvedTargets() {
		p.Warnings = append(p.Warnings, w)
	}

	return prog, nil
}

// Parse is a convenience wrapper for parsing a complete program.
func Parse(text string) (*Program, error) {
	var p Parser
	return p.ParseProgram(text)
}

// MustParse parses text or panics. Intended for tests and fixtures.
func MustParse(text string) *Program {
	prog, err := Parse(text)
	if err != nil {
		panic(err)
	}
	return prog
}
