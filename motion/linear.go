package motion

import (
	"errors"

	"github.com/Thomas-Heisig/MODAX-sub001/coord"
)

const (
	// RapidRate is the fixed traverse rate for G00 moves, mm/min.
	RapidRate = 30000.0

	// MaxFeedRate clamps programmed feed rates, mm/min.
	MaxFeedRate = 15000.0
)

// ErrInvalidFeedRate is returned for non-rapid moves with feed <= 0.
var ErrInvalidFeedRate = errors.New("invalid feed rate")

// LinearMove computes a straight move from start to target. Distance
// is the Euclidean norm over the axes; duration is distance over the
// effective rate, in seconds. Rapid moves ignore feed and use the
// fixed traverse rate.
func LinearMove(start, target coord.Point, feed float64, rapid bool) (Move, error) {
	dist := start.Distance(target)

	var rate float64
	kind := Linear
	if rapid {
		rate = RapidRate
		kind = Rapid
	} else {
		if feed <= 0 {
			return Move{}, ErrInvalidFeedRate
		}
		rate = feed
		if rate > MaxFeedRate {
			rate = MaxFeedRate
		}
	}

	return Move{
		Kind:     kind,
		Start:    start,
		End:      target,
		Distance: dist,
		Duration: dist / rate * 60,
		Feed:     rate,
	}, nil
}

// DwellMove represents a G04 pause of the given duration in seconds.
func DwellMove(start coord.Point, seconds float64) Move {
	return Move{
		Kind:     Dwell,
		Start:    start,
		End:      start,
		Duration: seconds,
	}
}
