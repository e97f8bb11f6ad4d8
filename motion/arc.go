package motion

import (
	"fmt"
	"math"

	"github.com/Thomas-Heisig/MODAX-sub001/coord"
)

// ArcTolerance is the max allowed difference between the start and end
// radii of an arc, mm. Beyond it the arc geometry is inconsistent and
// executing it would cut a wrong path, so the move is refused.
const ArcTolerance = 0.01

// ArcGeometryError reports an arc whose start and end are not
// equidistant from the derived center, or whose radius cannot span the
// chord.
type ArcGeometryError struct {
	StartRadius float64
	EndRadius   float64
	Msg         string
}

func (e ArcGeometryError) Error() string {
	if e.Msg != "" {
		return "arc geometry: " + e.Msg
	}
	return fmt.Sprintf("arc geometry: start radius %.4f != end radius %.4f", e.StartRadius, e.EndRadius)
}

// ArcParams carry the center specification of a circular block:
// either IJK offsets (relative to the start point) or an R radius.
type ArcParams struct {
	I, J, K float64
	HasIJK  bool

	// R selects the arc by radius; its sign picks the solution:
	// positive for the minor arc (sweep <= 180°), negative for the
	// major arc.
	R    float64
	HasR bool
}

// CircularMove computes a circular or helical move in the given plane.
// The sweep angle is normalized per the clockwise flag; movement along
// the plane normal makes the move helical, with the normal axis
// interpolated linearly across the sweep.
func CircularMove(start, target coord.Point, p ArcParams, feed float64, clockwise bool, plane Plane) (Move, error) {
	if feed <= 0 {
		return Move{}, ErrInvalidFeedRate
	}

	su, sv, sw := plane.uvw(start)
	eu, ev, ew := plane.uvw(target)

	var cu, cv float64
	if p.HasR {
		var err error
		cu, cv, err = centerFromRadius(su, sv, eu, ev, p.R, clockwise)
		if err != nil {
			return Move{}, err
		}
	} else {
		du, dv := plane.offsets(p.I, p.J, p.K)
		cu = su + du
		cv = sv + dv
	}

	rStart := math.Hypot(su-cu, sv-cv)
	rEnd := math.Hypot(eu-cu, ev-cv)
	if math.Abs(rStart-rEnd) > ArcTolerance {
		return Move{}, ArcGeometryError{StartRadius: rStart, EndRadius: rEnd}
	}

	startAngle := math.Atan2(sv-cv, su-cu)
	endAngle := math.Atan2(ev-cv, eu-cu)

	var sweep float64
	if clockwise {
		sweep = startAngle - endAngle
	} else {
		sweep = endAngle - startAngle
	}
	if sweep <= 0 {
		// identical start/end is a full circle
		sweep += 2 * math.Pi
	}

	arcLen := sweep * rStart
	wDelta := ew - sw
	kind := Circular
	if math.Abs(wDelta) > coord.Epsilon {
		kind = Helical
	}
	total := math.Hypot(arcLen, wDelta)

	rate := feed
	if rate > MaxFeedRate {
		rate = MaxFeedRate
	}

	return Move{
		Kind:      kind,
		Start:     start,
		End:       target,
		Distance:  total,
		Duration:  total / rate * 60,
		Feed:      rate,
		Center:    plane.point(cu, cv, sw),
		Radius:    rStart,
		Sweep:     sweep,
		Clockwise: clockwise,
	}, nil
}

// centerFromRadius solves the arc center for the R form. Of the two
// circles through start and end with radius |r|, the sign of r and the
// arc direction pick one: positive r gives the minor arc.
func centerFromRadius(su, sv, eu, ev, r float64, clockwise bool) (cu, cv float64, err error) {
	d := math.Hypot(eu-su, ev-sv)
	if d < coord.Epsilon {
		return 0, 0, ArcGeometryError{Msg: "R-form arc with coincident start and end"}
	}
	if d > 2*math.Abs(r)+ArcTolerance {
		return 0, 0, ArcGeometryError{Msg: fmt.Sprintf("radius %.4f cannot span chord %.4f", r, d)}
	}

	// midpoint of the chord and the half-chord-to-center distance
	mu := (su + eu) / 2
	mv := (sv + ev) / 2
	h2 := r*r - (d/2)*(d/2)
	if h2 < 0 {
		h2 = 0
	}
	h := math.Sqrt(h2)

	// unit vector along the chord
	du := (eu - su) / d
	dv := (ev - sv) / d

	if (clockwise && r > 0) || (!clockwise && r < 0) {
		return mu + h*dv, mv - h*du, nil
	}
	return mu - h*dv, mv + h*du, nil
}
