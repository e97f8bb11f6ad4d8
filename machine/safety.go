package machine

import (
	"fmt"
	"time"

	"github.com/Thomas-Heisig/MODAX-sub001/motion"
)

// isSafe consults the injected safety validator with the configured
// timeout. No validator means every move passes; a present validator
// that answers late or not at all counts as unsafe.
func (c *Controller) isSafe(mv motion.Move) bool {
	v := c.cfg.Validator
	if v == nil {
		return true
	}

	ch := make(chan bool, 1)
	go func() { ch <- v.IsSafe(mv) }()

	select {
	case ok := <-ch:
		return ok
	case <-time.After(c.cfg.SafetyTimeout):
		return false
	}
}

// checkLimits verifies a machine-coordinate endpoint against the
// software limits, when configured.
func (c *Controller) checkLimits(mv motion.Move) error {
	l := c.cfg.Limits
	if l == nil {
		return nil
	}
	p := mv.End
	switch {
	case p.X < l.Min.X || p.X > l.Max.X:
		return LimitError{Axis: 'X', Value: p.X, Min: l.Min.X, Max: l.Max.X}
	case p.Y < l.Min.Y || p.Y > l.Max.Y:
		return LimitError{Axis: 'Y', Value: p.Y, Min: l.Min.Y, Max: l.Max.Y}
	case p.Z < l.Min.Z || p.Z > l.Max.Z:
		return LimitError{Axis: 'Z', Value: p.Z, Min: l.Min.Z, Max: l.Max.Z}
	}
	return nil
}

// applyOverrides scales a move's rate and duration by the active
// override percentages.
func (c *Controller) applyOverrides(mv motion.Move) motion.Move {
	pct := c.feedOverride
	if mv.Kind == motion.Rapid {
		pct = c.rapidOverride
	}
	if pct == 100 || pct <= 0 || mv.Kind == motion.Dwell {
		return mv
	}
	mv.Feed = mv.Feed * pct / 100
	mv.Duration = mv.Duration * 100 / pct
	return mv
}

// dispatch runs the gate sequence for one machine-coordinate move:
// zero-length moves are dropped, then limits, then the safety veto,
// then surface leveling, then the field dispatcher.
func (c *Controller) dispatch(mv motion.Move) error {
	if mv.Kind != motion.Dwell && mv.Distance == 0 {
		return nil
	}
	if c.cfg.Dispatcher == nil {
		return ErrNoDispatcher
	}

	if err := c.checkLimits(mv); err != nil {
		return err
	}
	if !c.isSafe(mv) {
		return fmt.Errorf("%w: move to %s rejected", ErrSafetyVeto, mv.End)
	}

	mv = c.applyOverrides(mv)

	if c.cfg.Leveler != nil {
		for _, seg := range c.cfg.Leveler.Apply(mv) {
			if err := c.cfg.Dispatcher.Dispatch(seg); err != nil {
				return err
			}
		}
		return nil
	}
	return c.cfg.Dispatcher.Dispatch(mv)
}
