package machine

import (
	"fmt"
	"math"

	"github.com/Thomas-Heisig/MODAX-sub001/coord"
	"github.com/Thomas-Heisig/MODAX-sub001/gcode"
	"github.com/Thomas-Heisig/MODAX-sub001/motion"
	"github.com/Thomas-Heisig/MODAX-sub001/wcs"
)

// MotionMode is the persistent G-group-1 motion command.
type MotionMode int

const (
	MotionRapid MotionMode = iota
	MotionLinear
	MotionCW
	MotionCCW
	MotionCycle
	MotionNone
)

// ModalState holds the settings that persist across command lines.
// Owned by the Controller and mutated only by executing modal
// commands.
type ModalState struct {
	Motion   MotionMode
	Absolute bool
	Metric   bool
	Plane    motion.Plane

	FeedRate     float64
	SpindleSpeed float64
	SpindleOn    bool
	SpindleCW    bool

	Tool    int
	Coolant bool

	// CutterComp is the G40/41/42 state: 0 off, 1 left, 2 right.
	CutterComp int

	// Cycle is the active canned-cycle code (81, 82, 83, 85), 0 when
	// none. R/Z/P/Q stay sticky across the blocks that repeat it.
	Cycle  float64
	CycleR float64
	CycleZ float64
	CycleP float64
	CycleQ float64
}

func newModalState() ModalState {
	return ModalState{
		Motion:   MotionNone,
		Absolute: true,
		Metric:   true,
		Plane:    motion.PlaneXY,
		Tool:     -1,
	}
}

const inchToMM = 25.4

// unit converts a programmed value into millimeters.
func (m ModalState) unit(v float64) float64 {
	if m.Metric {
		return v
	}
	return v * inchToMM
}

// execute applies one interpreter-resolved command: modal-state
// changes directly, then the motion pipeline for motion commands.
func (c *Controller) execute(cmd *gcode.Command) error {
	if cmd.IsLabel() || cmd.IsControlFlow() || cmd.IsMacroCall() {
		return nil
	}

	if ok, f := cmd.FeedRate(); ok {
		c.modal.FeedRate = c.modal.unit(f)
	}
	if ok, s := cmd.SpindleSpeed(); ok {
		if err := c.SetSpindleSpeed(s); err != nil {
			return err
		}
	}

	hasMotion := false
	for _, w := range cmd.GCodes() {
		switch w.Arg {
		case 0:
			c.modal.Motion = MotionRapid
			hasMotion = true
		case 1:
			c.modal.Motion = MotionLinear
			hasMotion = true
		case 2, 3:
			if w.Arg == 2 {
				c.modal.Motion = MotionCW
			} else {
				c.modal.Motion = MotionCCW
			}
			hasMotion = true
		case 4:
			return c.dwell(cmd)
		case 81, 82, 83, 85:
			c.modal.Motion = MotionCycle
			c.modal.Cycle = w.Arg
			hasMotion = true
		case 80:
			c.modal.Motion = MotionNone
			c.modal.Cycle = 0
		case 33, 38.2, 38.3, 38.4, 38.5, 73, 76, 84, 86, 87, 88, 89:
			return fmt.Errorf("line %d: %s not supported", cmd.Line, w.Name())
		case 17:
			c.modal.Plane = motion.PlaneXY
		case 18:
			c.modal.Plane = motion.PlaneZX
		case 19:
			c.modal.Plane = motion.PlaneYZ
		case 20:
			c.modal.Metric = false
		case 21:
			c.modal.Metric = true
		case 28:
			return c.HomeAll()
		case 40:
			c.modal.CutterComp = 0
		case 41:
			c.modal.CutterComp = 1
		case 42:
			c.modal.CutterComp = 2
		case 52:
			c.cfg.Frames.SetLocalOffset(c.axisPoint(cmd, coord.Point{}))
		case 90:
			c.modal.Absolute = true
		case 91:
			c.modal.Absolute = false
		case 92:
			// shift so the current position reads as the given
			// coordinates
			want := c.axisPoint(cmd, c.workPos)
			c.cfg.Frames.SetShift(c.workPos.Sub(want))
		default:
			if id, ok := wcs.FrameForGCode(w.Arg, cmd.Params['P']); ok {
				if err := c.cfg.Frames.SetActive(id); err != nil {
					return err
				}
			}
		}
	}

	// T selects before M6 acts, even in the same block
	if cmd.Tool >= 0 {
		c.modal.Tool = cmd.Tool
	}

	for _, w := range cmd.MCodes() {
		if err := c.executeM(w.Arg, cmd); err != nil {
			return err
		}
	}

	if hasMotion || (len(cmd.GCodes()) == 0 && cmd.HasCoordinates()) {
		return c.executeMotion(cmd)
	}
	return nil
}

func (c *Controller) executeM(m float64, cmd *gcode.Command) error {
	switch m {
	case 0, 1:
		c.paused = true
	case 3, 4:
		c.modal.SpindleOn = true
		c.modal.SpindleCW = m == 3
	case 5:
		c.modal.SpindleOn = false
	case 6:
		return c.changeTool()
	case 7, 8:
		c.modal.Coolant = true
	case 9:
		c.modal.Coolant = false
	case 2, 30:
		c.modal.SpindleOn = false
		c.modal.Coolant = false
	case 98, 99:
		// subroutine flow, handled upstream
	}
	return nil
}

func (c *Controller) changeTool() error {
	if c.cfg.Tools == nil {
		return nil
	}
	if c.modal.Tool < 0 {
		return fmt.Errorf("M6 without a selected tool")
	}
	return c.cfg.Tools.Change(c.modal.Tool)
}

// axisPoint resolves the command's axis words into a point, starting
// from base for axes the command leaves out.
func (c *Controller) axisPoint(cmd *gcode.Command, base coord.Point) coord.Point {
	p := base
	for axis, v := range cmd.TargetAxes() {
		v = c.modal.unit(v)
		switch axis {
		case 'X':
			p.X = v
		case 'Y':
			p.Y = v
		case 'Z':
			p.Z = v
		}
	}
	return p
}

// target computes the motion target in work coordinates per the
// distance mode.
func (c *Controller) target(cmd *gcode.Command) coord.Point {
	if c.modal.Absolute {
		return c.axisPoint(cmd, c.workPos)
	}
	delta := c.axisPoint(cmd, coord.Point{})
	return c.workPos.Add(delta)
}

func (c *Controller) dwell(cmd *gcode.Command) error {
	seconds, ok := cmd.Params['P']
	if !ok {
		seconds = cmd.Params['X']
	}
	if seconds <= 0 {
		return fmt.Errorf("line %d: dwell without a positive duration", cmd.Line)
	}
	mv := motion.DwellMove(c.machinePos, seconds)
	return c.dispatch(mv)
}

// executeMotion builds the geometric move, transforms it to machine
// coordinates, gates it through safety and limits, and dispatches.
func (c *Controller) executeMotion(cmd *gcode.Command) error {
	target := c.target(cmd)

	var mv motion.Move
	var err error
	switch c.modal.Motion {
	case MotionNone:
		return fmt.Errorf("line %d: coordinates without an active motion mode", cmd.Line)
	case MotionCycle:
		return c.executeCycle(cmd)
	case MotionRapid:
		mv, err = motion.LinearMove(c.workPos, target, 0, true)
	case MotionLinear:
		mv, err = motion.LinearMove(c.workPos, target, c.modal.FeedRate, false)
	case MotionCW, MotionCCW:
		params := motion.ArcParams{}
		var has bool
		if v, ok := cmd.Params['I']; ok {
			params.I, params.HasIJK, has = c.modal.unit(v), true, true
		}
		if v, ok := cmd.Params['J']; ok {
			params.J, params.HasIJK, has = c.modal.unit(v), true, true
		}
		if v, ok := cmd.Params['K']; ok {
			params.K, params.HasIJK, has = c.modal.unit(v), true, true
		}
		if v, ok := cmd.Params['R']; ok && !has {
			params.R, params.HasR = c.modal.unit(v), true
		}
		mv, err = motion.CircularMove(c.workPos, target, params, c.modal.FeedRate, c.modal.Motion == MotionCW, c.modal.Plane)
	}
	if err != nil {
		return fmt.Errorf("line %d: %w", cmd.Line, err)
	}

	if err := c.dispatchWork(mv, target); err != nil {
		return fmt.Errorf("line %d: %w", cmd.Line, err)
	}
	return nil
}

// dispatchWork maps a work-coordinate move to machine coordinates,
// runs it through the gate sequence and advances both positions.
func (c *Controller) dispatchWork(mv motion.Move, target coord.Point) error {
	machineMv, err := c.toMachine(mv)
	if err != nil {
		return err
	}
	if err := c.dispatch(machineMv); err != nil {
		return err
	}
	c.workPos = target
	c.machinePos = machineMv.End
	return nil
}

// canned-cycle defaults
const (
	defaultCycleDwell   = 0.5
	defaultPeckDepth    = 5.0
	defaultPeckClearing = 2.0
)

// executeCycle expands the active drilling cycle at the block's XY
// position: rapid to the hole, rapid to the R plane, feed to depth
// (pecked for G83), dwell for G82, retract (at feed for G85). R, Z,
// P and Q stay sticky so following coordinate blocks repeat the
// cycle at new positions.
func (c *Controller) executeCycle(cmd *gcode.Command) error {
	if v, ok := cmd.Params['R']; ok {
		c.modal.CycleR = c.modal.unit(v)
	}
	if v, ok := cmd.Params['Q']; ok {
		c.modal.CycleQ = c.modal.unit(v)
	}
	if v, ok := cmd.Params['P']; ok {
		c.modal.CycleP = v
	}

	pos := c.target(cmd)
	if _, ok := cmd.TargetAxes()['Z']; ok {
		c.modal.CycleZ = pos.Z
	}
	bottom := c.modal.CycleZ
	r := c.modal.CycleR

	step := func(to coord.Point, rapid bool) error {
		mv, err := motion.LinearMove(c.workPos, to, c.modal.FeedRate, rapid)
		if err != nil {
			return fmt.Errorf("line %d: %w", cmd.Line, err)
		}
		if err := c.dispatchWork(mv, to); err != nil {
			return fmt.Errorf("line %d: %w", cmd.Line, err)
		}
		return nil
	}

	// rapid to the hole position, then down to the R plane
	if err := step(coord.Point{X: pos.X, Y: pos.Y, Z: c.workPos.Z}, true); err != nil {
		return err
	}
	if err := step(coord.Point{X: pos.X, Y: pos.Y, Z: r}, true); err != nil {
		return err
	}

	if c.modal.Cycle == 83 {
		peck := c.modal.CycleQ
		if peck <= 0 {
			peck = defaultPeckDepth
		}
		depth := r
		for depth > bottom {
			next := math.Max(bottom, depth-peck)
			if err := step(coord.Point{X: pos.X, Y: pos.Y, Z: next}, false); err != nil {
				return err
			}
			if next > bottom {
				// retract for chip clearing, then back down
				if err := step(coord.Point{X: pos.X, Y: pos.Y, Z: next + defaultPeckClearing}, true); err != nil {
					return err
				}
				if err := step(coord.Point{X: pos.X, Y: pos.Y, Z: next + 1.0}, true); err != nil {
					return err
				}
			}
			depth = next
		}
	} else {
		if err := step(coord.Point{X: pos.X, Y: pos.Y, Z: bottom}, false); err != nil {
			return err
		}
	}

	if c.modal.Cycle == 82 {
		seconds := c.modal.CycleP
		if seconds <= 0 {
			seconds = defaultCycleDwell
		}
		if err := c.dispatch(motion.DwellMove(c.machinePos, seconds)); err != nil {
			return fmt.Errorf("line %d: %w", cmd.Line, err)
		}
	}

	// G85 bores out at feed to keep the surface finish
	return step(coord.Point{X: pos.X, Y: pos.Y, Z: r}, c.modal.Cycle != 85)
}

// toMachine maps a move's endpoints (and arc center) from work to
// machine coordinates via the active frame.
func (c *Controller) toMachine(mv motion.Move) (motion.Move, error) {
	frames := c.cfg.Frames
	start, err := frames.ToMachine(mv.Start, "")
	if err != nil {
		return motion.Move{}, err
	}
	end, err := frames.ToMachine(mv.End, "")
	if err != nil {
		return motion.Move{}, err
	}
	out := mv
	out.Start = start
	out.End = end
	if mv.Kind == motion.Circular || mv.Kind == motion.Helical {
		center, err := frames.ToMachine(mv.Center, "")
		if err != nil {
			return motion.Move{}, err
		}
		out.Center = center
	}
	return out, nil
}
