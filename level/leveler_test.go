package level

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thomas-Heisig/MODAX-sub001/coord"
	"github.com/Thomas-Heisig/MODAX-sub001/motion"
)

func TestMeshOffsetZ(t *testing.T) {
	// surface rises 30mm over 100mm of X
	probes := []coord.Point{
		{X: 0, Y: 0, Z: 0},
		{X: 0, Y: 100, Z: 0},
		{X: 100, Y: 0, Z: 30},
		{X: 100, Y: 100, Z: 30},
	}
	mesh, err := NewMesh(probes)
	require.NoError(t, err)

	ok, z := mesh.OffsetZ(50, 50)
	assert.True(t, ok)
	assert.InDelta(t, 15, z, 1e-9)

	ok, _ = mesh.OffsetZ(150, 50)
	assert.False(t, ok)
}

func TestNewMesh_TooFewPoints(t *testing.T) {
	_, err := NewMesh([]coord.Point{{}, {X: 1}})
	assert.Error(t, err)
}

func TestOffsetFrom(t *testing.T) {
	p := OffsetFrom(-60, []coord.Point{{Z: -50}, {Z: -80}})
	assert.Equal(t, 10.0, p[0].Z)
	assert.Equal(t, -20.0, p[1].Z)
}

func TestLevelerApply(t *testing.T) {
	probes := []coord.Point{
		{X: 0, Y: -50, Z: 0},
		{X: 0, Y: 50, Z: 0},
		{X: 100, Y: -50, Z: 30},
		{X: 100, Y: 50, Z: 30},
	}
	mesh, err := NewMesh(probes)
	require.NoError(t, err)

	l := New(Config{ZOffsetter: mesh, Granularity: 1})

	mv, err := motion.LinearMove(coord.Point{}, coord.Point{X: 3}, 100, false)
	require.NoError(t, err)

	segs := l.Apply(mv)
	require.Len(t, segs, 3)
	// .3mm of Z for every 1mm of X
	assert.InDelta(t, 0.3, segs[0].End.Z, 1e-9)
	assert.InDelta(t, 0.6, segs[1].End.Z, 1e-9)
	assert.InDelta(t, 0.9, segs[2].End.Z, 1e-9)
	assert.Equal(t, segs[0].End, segs[1].Start)
	assert.Equal(t, 100.0, segs[0].Feed)
}

func TestLevelerApply_OutsideMesh(t *testing.T) {
	mesh, err := NewMesh([]coord.Point{
		{X: 0, Y: 0}, {X: 10, Y: 0}, {X: 0, Y: 10},
	})
	require.NoError(t, err)
	l := New(Config{ZOffsetter: mesh})

	mv, err := motion.LinearMove(coord.Point{X: 50}, coord.Point{X: 60}, 100, false)
	require.NoError(t, err)
	segs := l.Apply(mv)
	require.Len(t, segs, 1)
	assert.Equal(t, mv, segs[0])
}

func TestLevelerApply_PassesArcsThrough(t *testing.T) {
	l := New(Config{})
	mv, err := motion.CircularMove(coord.Point{}, coord.Point{X: 10}, motion.ArcParams{I: 5, HasIJK: true}, 100, true, motion.PlaneXY)
	require.NoError(t, err)

	segs := l.Apply(mv)
	require.Len(t, segs, 1)
	assert.Equal(t, mv, segs[0])
}
