package coord

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTriangle_ContainsXY(t *testing.T) {
	tr := Triangle{
		A: Point{X: 0, Y: 0},
		B: Point{X: 10, Y: 0},
		C: Point{X: 0, Y: 10},
	}

	assert.True(t, tr.ContainsXY(1, 1))
	assert.True(t, tr.ContainsXY(0, 0))
	assert.False(t, tr.ContainsXY(10, 10))

	// containment holds for both vertex windings
	rev := Triangle{A: tr.C, B: tr.B, C: tr.A}
	assert.True(t, rev.ContainsXY(1, 1))
	assert.False(t, rev.ContainsXY(10, 10))
}

func TestTriangle_Z(t *testing.T) {
	tr := Triangle{
		A: Point{X: 0, Y: 0, Z: 0},
		B: Point{X: 10, Y: 0, Z: 10},
		C: Point{X: 0, Y: 10, Z: 0},
	}

	assert.InDelta(t, 5, tr.Z(5, 0), 1e-9)
	assert.InDelta(t, 5, tr.Z(5, 5), 1e-9)
}
