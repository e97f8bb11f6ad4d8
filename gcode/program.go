package gcode

import (
	"fmt"
	"sort"
)

// Program is a parsed program: a flat, index-addressed command
// sequence plus the label table built at load time. Labels cover
// explicit labels, N-numbers and O-headers.
//
// A Program is owned by exactly one interpreter instance.
type Program struct {
	Commands []*Command
	Labels   map[string]int
}

func (p *Program) Len() int { return len(p.Commands) }

// Lookup resolves a label to its command index.
func (p *Program) Lookup(label string) (int, bool) {
	idx, ok := p.Labels[label]
	return idx, ok
}

// UnresolvedTargets reports GOTO/GOSUB/macro targets referenced
// anywhere in the program that have no label table entry. These are
// load-time warnings, not errors: hitting one during execution is what
// fails.
func (p *Program) UnresolvedTargets() []string {
	var res []string
	add := func(line int, kind, target string) {
		if target == "" {
			return
		}
		if _, ok := p.Labels[target]; !ok {
			res = append(res, fmt.Sprintf("line %d: %s target %s not defined", line, kind, target))
		}
	}
	for _, c := range p.Commands {
		add(c.Line, "GOTO", c.Goto)
		add(c.Line, "GOSUB", c.Gosub)
		if c.Words.HasG(65) || c.Words.HasG(66) {
			add(c.Line, "macro", c.Macro)
		}
	}
	sort.Strings(res)
	return res
}
