package level

import (
	"math"

	"github.com/Thomas-Heisig/MODAX-sub001/coord"
	"github.com/Thomas-Heisig/MODAX-sub001/motion"
)

type Config struct {
	ZOffsetter ZOffsetter

	// Granularity is the max XY segment length when splitting a
	// straight move across the mesh, in mm. Default 1.
	Granularity float64
}

// Leveler rewrites straight moves so their Z tracks the probed
// surface. Moves that leave the probed area, and arcs, pass through
// unchanged.
type Leveler struct {
	offsetter   ZOffsetter
	granularity float64
}

func New(cfg Config) *Leveler {
	if cfg.Granularity <= 0 {
		cfg.Granularity = 1
	}
	l := &Leveler{
		offsetter:   cfg.ZOffsetter,
		granularity: cfg.Granularity,
	}
	if l.offsetter == nil {
		l.offsetter = dummyOffsetter{}
	}
	return l
}

type dummyOffsetter struct{}

func (dummyOffsetter) OffsetZ(x, y float64) (bool, float64) { return false, 0 }

// Apply splits a rapid or linear move into segments no longer than the
// granularity in XY and offsets each segment's endpoint Z by the mesh
// deviation there. If either endpoint falls outside the probed area
// the move is returned as-is.
func (l *Leveler) Apply(mv motion.Move) []motion.Move {
	if mv.Kind != motion.Rapid && mv.Kind != motion.Linear {
		return []motion.Move{mv}
	}
	ok, _ := l.offsetter.OffsetZ(mv.Start.X, mv.Start.Y)
	if !ok {
		return []motion.Move{mv}
	}
	if ok, _ = l.offsetter.OffsetZ(mv.End.X, mv.End.Y); !ok {
		return []motion.Move{mv}
	}

	distXY := mv.Start.DistanceXY(mv.End.X, mv.End.Y)
	n := int(math.Ceil(distXY / l.granularity))
	if n < 1 {
		n = 1
	}

	rapid := mv.Kind == motion.Rapid
	out := make([]motion.Move, 0, n)
	prev := mv.Start
	for i := 1; i <= n; i++ {
		f := float64(i) / float64(n)
		target := coord.Point{
			X: mv.Start.X + (mv.End.X-mv.Start.X)*f,
			Y: mv.Start.Y + (mv.End.Y-mv.Start.Y)*f,
			Z: mv.Start.Z + (mv.End.Z-mv.Start.Z)*f,
		}
		if ok, off := l.offsetter.OffsetZ(target.X, target.Y); ok {
			target.Z += off
		}
		seg, err := motion.LinearMove(prev, target, mv.Feed, rapid)
		if err != nil {
			// feed was validated when mv was built
			return []motion.Move{mv}
		}
		out = append(out, seg)
		prev = target
	}
	return out
}
