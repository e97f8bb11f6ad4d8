package motion

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thomas-Heisig/MODAX-sub001/coord"
)

func TestLinearMove(t *testing.T) {
	// G01 X100 F500 from origin
	m, err := LinearMove(coord.Point{}, coord.Point{X: 100}, 500, false)
	require.NoError(t, err)

	assert.Equal(t, Linear, m.Kind)
	assert.Equal(t, 100.0, m.Distance)
	assert.Equal(t, 12.0, m.Duration)
	assert.Equal(t, 500.0, m.Feed)
}

func TestLinearMove_DurationProperty(t *testing.T) {
	cases := []struct {
		target coord.Point
		feed   float64
	}{
		{coord.Point{X: 3, Y: 4}, 100},
		{coord.Point{X: 1, Y: 1, Z: 1}, 1250},
		{coord.Point{Z: -42}, 7.5},
	}
	for _, tc := range cases {
		m, err := LinearMove(coord.Point{}, tc.target, tc.feed, false)
		require.NoError(t, err)
		assert.Equal(t, tc.target.Norm(), m.Distance)
		assert.InDelta(t, m.Distance/tc.feed*60, m.Duration, 1e-9)
	}
}

func TestLinearMove_InvalidFeedRate(t *testing.T) {
	_, err := LinearMove(coord.Point{}, coord.Point{X: 10}, 0, false)
	assert.Equal(t, ErrInvalidFeedRate, err)

	_, err = LinearMove(coord.Point{}, coord.Point{X: 10}, -5, false)
	assert.Equal(t, ErrInvalidFeedRate, err)
}

func TestLinearMove_Rapid(t *testing.T) {
	// rapids ignore feed and use the traverse constant
	m, err := LinearMove(coord.Point{}, coord.Point{X: 500}, 0, true)
	require.NoError(t, err)
	assert.Equal(t, Rapid, m.Kind)
	assert.Equal(t, RapidRate, m.Feed)
	assert.InDelta(t, 500.0/RapidRate*60, m.Duration, 1e-9)
}

func TestLinearMove_FeedClamp(t *testing.T) {
	m, err := LinearMove(coord.Point{}, coord.Point{X: 100}, 99999, false)
	require.NoError(t, err)
	assert.Equal(t, MaxFeedRate, m.Feed)
}

func TestCircularMove_IJK(t *testing.T) {
	// G02 X10 Y0 I5 J0 from origin: half circle, center (5,0), r=5
	m, err := CircularMove(coord.Point{}, coord.Point{X: 10}, ArcParams{I: 5, HasIJK: true}, 100, true, PlaneXY)
	require.NoError(t, err)

	assert.Equal(t, Circular, m.Kind)
	assert.Equal(t, coord.Point{X: 5}, m.Center)
	assert.Equal(t, 5.0, m.Radius)
	assert.InDelta(t, math.Pi, m.Sweep, 1e-9)
	assert.InDelta(t, math.Pi*5, m.Distance, 1e-9)
	assert.True(t, m.Clockwise)
}

func TestCircularMove_FullCircle(t *testing.T) {
	m, err := CircularMove(coord.Point{}, coord.Point{}, ArcParams{I: 5, HasIJK: true}, 100, true, PlaneXY)
	require.NoError(t, err)
	assert.InDelta(t, 2*math.Pi, m.Sweep, 1e-9)
}

func TestCircularMove_SweepDirection(t *testing.T) {
	// quarter circle from (5,0) to (0,5) about origin
	start := coord.Point{X: 5}
	end := coord.Point{Y: 5}
	p := ArcParams{I: -5, HasIJK: true}

	ccw, err := CircularMove(start, end, p, 100, false, PlaneXY)
	require.NoError(t, err)
	assert.InDelta(t, math.Pi/2, ccw.Sweep, 1e-9)

	cw, err := CircularMove(start, end, p, 100, true, PlaneXY)
	require.NoError(t, err)
	assert.InDelta(t, 3*math.Pi/2, cw.Sweep, 1e-9)
}

func TestCircularMove_GeometryError(t *testing.T) {
	// center equidistance violated well past tolerance
	_, err := CircularMove(coord.Point{}, coord.Point{X: 10}, ArcParams{I: 3, HasIJK: true}, 100, true, PlaneXY)
	require.Error(t, err)
	_, ok := err.(ArcGeometryError)
	assert.True(t, ok)

	// exactly equidistant input never errors
	_, err = CircularMove(coord.Point{}, coord.Point{X: 10}, ArcParams{I: 5, HasIJK: true}, 100, true, PlaneXY)
	assert.NoError(t, err)
}

func TestCircularMove_RForm(t *testing.T) {
	// half circle by radius
	m, err := CircularMove(coord.Point{}, coord.Point{X: 10}, ArcParams{R: 5, HasR: true}, 100, true, PlaneXY)
	require.NoError(t, err)
	assert.InDelta(t, 5.0, m.Radius, 1e-9)
	assert.InDelta(t, math.Pi, m.Sweep, 1e-6)

	// positive R picks the minor arc
	m, err = CircularMove(coord.Point{}, coord.Point{X: 10}, ArcParams{R: 10, HasR: true}, 100, true, PlaneXY)
	require.NoError(t, err)
	assert.True(t, m.Sweep <= math.Pi+1e-9)

	// negative R picks the major arc
	m, err = CircularMove(coord.Point{}, coord.Point{X: 10}, ArcParams{R: -10, HasR: true}, 100, true, PlaneXY)
	require.NoError(t, err)
	assert.True(t, m.Sweep > math.Pi)
}

func TestCircularMove_RTooSmall(t *testing.T) {
	_, err := CircularMove(coord.Point{}, coord.Point{X: 10}, ArcParams{R: 2, HasR: true}, 100, true, PlaneXY)
	require.Error(t, err)
	_, ok := err.(ArcGeometryError)
	assert.True(t, ok)
}

func TestCircularMove_Helical(t *testing.T) {
	// half circle with a 3mm Z rise
	m, err := CircularMove(coord.Point{}, coord.Point{X: 10, Z: 3}, ArcParams{I: 5, HasIJK: true}, 100, true, PlaneXY)
	require.NoError(t, err)

	assert.Equal(t, Helical, m.Kind)
	arc := math.Pi * 5
	assert.InDelta(t, math.Hypot(arc, 3), m.Distance, 1e-9)
}

func TestCircularMove_Planes(t *testing.T) {
	// same half circle expressed in the ZX plane (G18): u=Z, v=X
	m, err := CircularMove(coord.Point{}, coord.Point{Z: 10}, ArcParams{K: 5, HasIJK: true}, 100, true, PlaneZX)
	require.NoError(t, err)
	assert.Equal(t, coord.Point{Z: 5}, m.Center)
	assert.InDelta(t, math.Pi, m.Sweep, 1e-9)
}

func TestCircularMove_InvalidFeed(t *testing.T) {
	_, err := CircularMove(coord.Point{}, coord.Point{X: 10}, ArcParams{I: 5, HasIJK: true}, 0, true, PlaneXY)
	assert.Equal(t, ErrInvalidFeedRate, err)
}

func TestDwellMove(t *testing.T) {
	m := DwellMove(coord.Point{X: 1}, 2.5)
	assert.Equal(t, Dwell, m.Kind)
	assert.Equal(t, 2.5, m.Duration)
	assert.Equal(t, m.Start, m.End)
}
