package motion

import (
	"github.com/Thomas-Heisig/MODAX-sub001/coord"
)

// Kind is the closed set of move variants. The controller matches it
// exhaustively.
type Kind int

const (
	Rapid Kind = iota
	Linear
	Circular
	Helical
	Dwell
)

func (k Kind) String() string {
	switch k {
	case Rapid:
		return "rapid"
	case Linear:
		return "linear"
	case Circular:
		return "circular"
	case Helical:
		return "helical"
	case Dwell:
		return "dwell"
	}
	return "unknown"
}

// Move is one concrete motion produced from a target plus modal state.
// It is produced fresh per motion command and consumed exactly once at
// the dispatch boundary; nothing mutates it after construction.
type Move struct {
	Kind Kind

	Start coord.Point
	End   coord.Point

	// Distance is the path length, mm.
	Distance float64

	// Duration is the programmed time, seconds.
	Duration float64

	// Feed is the effective rate, mm/min.
	Feed float64

	// Arc geometry; valid for Circular and Helical.
	Center    coord.Point
	Radius    float64
	Sweep     float64 // radians
	Clockwise bool
}

// Plane selects the arc working plane (G17/G18/G19).
type Plane byte

const (
	PlaneXY Plane = iota // G17
	PlaneZX              // G18
	PlaneYZ              // G19
)

// uvw projects p onto the plane: u,v span the plane, w is normal.
func (pl Plane) uvw(p coord.Point) (u, v, w float64) {
	switch pl {
	case PlaneZX:
		return p.Z, p.X, p.Y
	case PlaneYZ:
		return p.Y, p.Z, p.X
	}
	return p.X, p.Y, p.Z
}

func (pl Plane) point(u, v, w float64) coord.Point {
	switch pl {
	case PlaneZX:
		return coord.Point{X: v, Y: w, Z: u}
	case PlaneYZ:
		return coord.Point{X: w, Y: u, Z: v}
	}
	return coord.Point{X: u, Y: v, Z: w}
}

// offsets returns the IJK center offsets mapped into plane u,v order.
func (pl Plane) offsets(i, j, k float64) (du, dv float64) {
	switch pl {
	case PlaneZX:
		return k, i
	case PlaneYZ:
		return j, k
	}
	return i, j
}
