package gcode

import (
	"fmt"
	"strconv"
	"strings"
)

// gCodeDefs describes the recognized G codes by canonical name.
var gCodeDefs = map[string]string{
	"G00": "Rapid positioning",
	"G01": "Linear interpolation",
	"G02": "Circular interpolation CW",
	"G03": "Circular interpolation CCW",
	"G04": "Dwell",
	"G09": "Exact stop",
	"G10": "Programmable data input",
	"G15": "Polar coordinate cancel",
	"G16": "Polar coordinate",
	"G17": "XY plane",
	"G18": "ZX plane",
	"G19": "YZ plane",
	"G20": "Inch units",
	"G21": "Metric units",
	"G22": "Work area limit on",
	"G23": "Work area limit off",
	"G28": "Return to home position",
	"G30": "Return to alternate home position",
	"G31": "Skip function / probe",
	"G33": "Thread cutting constant lead",
	"G36": "Auto tool offset measurement",
	"G37": "Auto tool length measurement",
	"G38": "Tool diameter measurement",
	"G38.2": "Probe toward workpiece",
	"G40": "Tool radius compensation off",
	"G41": "Tool radius compensation left",
	"G42": "Tool radius compensation right",
	"G43": "Tool length compensation +",
	"G44": "Tool length compensation -",
	"G49": "Tool length compensation cancel",
	"G50": "Scaling cancel",
	"G51": "Scaling",
	"G52": "Local coordinate system",
	"G53": "Machine coordinate system",
	"G54": "Work coordinate system 1",
	"G54.1": "Extended work coordinate system",
	"G55": "Work coordinate system 2",
	"G56": "Work coordinate system 3",
	"G57": "Work coordinate system 4",
	"G58": "Work coordinate system 5",
	"G59": "Work coordinate system 6",
	"G59.1": "Work coordinate system 7",
	"G59.2": "Work coordinate system 8",
	"G59.3": "Work coordinate system 9",
	"G61": "Exact stop mode",
	"G64": "Continuous path mode",
	"G65": "Macro call",
	"G66": "Macro modal call",
	"G67": "Macro modal call cancel",
	"G68": "Coordinate rotation",
	"G69": "Coordinate rotation cancel",
	"G73": "High-speed peck drilling",
	"G74": "Left-hand tapping",
	"G76": "Fine boring cycle",
	"G80": "Cancel canned cycle",
	"G81": "Drilling cycle",
	"G82": "Drilling cycle with dwell",
	"G83": "Peck drilling cycle",
	"G84": "Tapping cycle",
	"G85": "Boring cycle",
	"G86": "Boring cycle with spindle stop",
	"G87": "Back boring cycle",
	"G88": "Boring cycle with manual retract",
	"G89": "Boring cycle with dwell",
	"G90": "Absolute positioning",
	"G91": "Incremental positioning",
	"G92": "Coordinate system offset",
	"G93": "Inverse time feed",
	"G94": "Feed per minute",
	"G95": "Feed per revolution",
	"G96": "Constant surface speed",
	"G97": "RPM mode",
	"G98": "Return to initial point in canned cycle",
	"G99": "Return to R point in canned cycle",
}

// mCodeDefs describes the recognized M codes.
var mCodeDefs = map[string]string{
	"M00": "Program stop",
	"M01": "Optional stop",
	"M02": "Program end",
	"M03": "Spindle on CW",
	"M04": "Spindle on CCW",
	"M05": "Spindle stop",
	"M06": "Tool change",
	"M07": "Coolant mist on",
	"M08": "Coolant flood on",
	"M09": "Coolant off",
	"M19": "Spindle orientation",
	"M29": "Rigid tapping mode",
	"M30": "Program end and reset",
	"M60": "Pallet change",
	"M98": "Subprogram call",
	"M99": "Subprogram return",
}

// Describe returns the human-readable description of a canonical code
// name, e.g. "G01" or "M30".
func Describe(code string) string {
	if d, ok := gCodeDefs[code]; ok {
		return d
	}
	if d, ok := mCodeDefs[code]; ok {
		return d
	}
	if strings.HasPrefix(code, "M") {
		if n, err := strconv.Atoi(code[1:]); err == nil && n >= 100 && n < 200 {
			return fmt.Sprintf("User macro %d", n)
		}
	}
	return "Unknown code"
}

// Vendor returns the controller dialect a code belongs to, or "" for
// standard codes.
func Vendor(code string) string {
	switch code {
	case "G05", "G107":
		return "Siemens Sinumerik"
	case "G05.1":
		return "Heidenhain TNC"
	case "G54.1", "G65", "G66", "G67":
		return "Fanuc Macro B"
	case "G47", "G71", "G72":
		return "Haas"
	}
	return ""
}

func known(w Word) bool {
	if w.W == 'G' {
		_, ok := gCodeDefs[w.Name()]
		return ok
	}
	if w.W == 'M' {
		if _, ok := mCodeDefs[w.Name()]; ok {
			return true
		}
		// user macro range
		return w.Arg >= 100 && w.Arg < 200
	}
	return false
}

// Validate checks one parsed command for block-level conflicts. It
// returns false plus warnings when the block must not execute;
// unknown-code findings are warnings only and leave the flag true
// (the parser's Strict mode promotes them to fatal).
func Validate(c *Command) (bool, []string) {
	var warns []string
	ok := true

	var seen [256]bool
	for _, w := range c.Words {
		if !known(w) {
			warns = append(warns, "unknown code "+w.Name())
		}
		mg := w.ModalGroup()
		if mg == ModalGroupNone {
			continue
		}
		if seen[mg] {
			ok = false
			if mg == ModalGroupMotion {
				warns = append(warns, "multiple motion commands in one block")
			} else {
				warns = append(warns, "conflicting modal codes in one block ("+w.Name()+")")
			}
		}
		seen[mg] = true
	}

	if c.HasMotion() && !c.HasCoordinates() {
		ok = false
		warns = append(warns, "motion command without coordinate parameters")
	}

	if c.Words.HasG(2) || c.Words.HasG(3) {
		_, hasI := c.Params['I']
		_, hasJ := c.Params['J']
		_, hasK := c.Params['K']
		_, hasR := c.Params['R']
		if !hasI && !hasJ && !hasK && !hasR {
			ok = false
			warns = append(warns, "circular interpolation requires I/J/K or R")
		}
	}

	return ok, warns
}
