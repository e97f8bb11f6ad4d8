package gcode

import (
	"strconv"
	"strings"
)

// Word is a single letter/value pair from a program block.
type Word struct {
	W   byte
	Arg float64
}

func (w Word) IsAxis() bool {
	switch w.W {
	case 'X', 'Y', 'Z', 'A', 'B', 'C', 'U', 'V', 'W':
		return true
	}
	return false
}

func (w Word) IsValid() bool {
	return w.W >= 'A' && w.W <= 'Z'
}

func formatFloat(f float64, prec int) string {
	s := strconv.FormatFloat(f, 'f', prec, 64)
	if strings.ContainsRune(s, '.') {
		s = strings.TrimRight(s, "0")
	}
	return strings.TrimRight(s, ".")
}

func (w Word) String() string {
	return string(w.W) + formatFloat(w.Arg, 3)
}

// Name returns the canonical zero-padded code name, e.g. G1 -> "G01",
// M3 -> "M03", G54.1 -> "G54.1".
func (w Word) Name() string {
	if w.Arg < 10 && w.Arg == float64(int(w.Arg)) {
		return string(w.W) + "0" + formatFloat(w.Arg, 3)
	}
	return string(w.W) + formatFloat(w.Arg, 3)
}

// Block is an ordered list of words as written in one program line.
type Block []Word

func (b Block) Arg(w byte) (bool, float64) {
	for _, g := range b {
		if g.W == w {
			return true, g.Arg
		}
	}
	return false, 0
}

func (b Block) Clone() Block {
	c := make(Block, len(b))
	copy(c, b)
	return c
}

// HasG reports whether the block contains the given G number.
func (b Block) HasG(n float64) bool {
	for _, g := range b {
		if g.W == 'G' && g.Arg == n {
			return true
		}
	}
	return false
}

// HasM reports whether the block contains the given M number.
func (b Block) HasM(n float64) bool {
	for _, g := range b {
		if g.W == 'M' && g.Arg == n {
			return true
		}
	}
	return false
}

func (b Block) String() string {
	var sb strings.Builder
	for _, g := range b {
		sb.WriteString(g.String())
	}
	return sb.String()
}
