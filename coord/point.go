package coord

import (
	"fmt"
	"math"
)

// Epsilon is the max error when comparing positions.
const (
	Epsilon   = 0.001
	epsilonSq = Epsilon * Epsilon
)

type Point struct{ X, Y, Z float64 }

func (p Point) String() string {
	return fmt.Sprintf("(%.3f,%.3f,%.3f)", p.X, p.Y, p.Z)
}

func (p Point) Equal(b Point) bool {
	return math.Abs(p.X-b.X) < Epsilon &&
		math.Abs(p.Y-b.Y) < Epsilon &&
		math.Abs(p.Z-b.Z) < Epsilon
}

func (p Point) Cross(op Point) Point {
	return Point{
		p.Y*op.Z - p.Z*op.Y,
		p.Z*op.X - p.X*op.Z,
		p.X*op.Y - p.Y*op.X,
	}
}

func (p Point) Dot(op Point) float64 {
	return p.X*op.X + p.Y*op.Y + p.Z*op.Z
}

func (p Point) Mul(val float64) Point {
	p.X *= val
	p.Y *= val
	p.Z *= val
	return p
}

func (p Point) Div(val float64) Point {
	p.X /= val
	p.Y /= val
	p.Z /= val
	return p
}

// Add will add the target values to p.
func (p Point) Add(target Point) Point {
	p.X += target.X
	p.Y += target.Y
	p.Z += target.Z
	return p
}

// Sub will subtract the target values from p.
func (p Point) Sub(target Point) Point {
	p.X -= target.X
	p.Y -= target.Y
	p.Z -= target.Z
	return p
}

// Norm returns the Euclidean length of p.
func (p Point) Norm() float64 {
	return math.Sqrt(p.X*p.X + p.Y*p.Y + p.Z*p.Z)
}

// Distance returns the Euclidean distance from p to target.
func (p Point) Distance(target Point) float64 {
	return target.Sub(p).Norm()
}

// DistanceXY will return the 2D distance to p from (x,y).
func (p Point) DistanceXY(x, y float64) float64 {
	return math.Sqrt(math.Pow(x-p.X, 2) + math.Pow(y-p.Y, 2))
}

// RotateXY rotates p about (cx,cy) in the XY plane by angle radians.
// Z passes through unchanged.
func (p Point) RotateXY(cx, cy, angle float64) Point {
	sin, cos := math.Sincos(angle)
	dx := p.X - cx
	dy := p.Y - cy
	return Point{
		X: cx + dx*cos - dy*sin,
		Y: cy + dx*sin + dy*cos,
		Z: p.Z,
	}
}
