// Package wcs manages work coordinate systems: per-frame work offsets,
// the G52 local offset, the G92 position shift, tool compensation and
// the probe-derived rotation used to tolerate imprecise workpiece
// alignment. It transforms logical program coordinates into machine
// coordinates.
package wcs

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/Thomas-Heisig/MODAX-sub001/coord"
)

// ErrCoordinateSystemNotSet is returned when a transform is requested
// against a frame that has never been configured.
var ErrCoordinateSystemNotSet = errors.New("coordinate system not set")

// ErrAlignmentUnderdefined is returned when fewer than two usable
// probe points are supplied for rotation alignment.
var ErrAlignmentUnderdefined = errors.New("alignment requires two or more distinct probe points")

// InvalidFrameError reports a frame identifier outside G54–G59.3 and
// P1–P300.
type InvalidFrameError struct {
	ID string
}

func (e InvalidFrameError) Error() string {
	return fmt.Sprintf("invalid coordinate frame %q", e.ID)
}

type frame struct {
	offset   coord.Point
	rotation float64 // radians, about the frame origin in XY
	set      bool
}

// Manager holds the coordinate frames of a single machine instance.
// It is not safe for concurrent use.
type Manager struct {
	frames map[string]*frame
	active string

	local coord.Point // G52
	shift coord.Point // G92

	toolLength float64
	toolRadius float64
}

func NewManager() *Manager {
	return &Manager{frames: map[string]*frame{}}
}

// ValidFrame reports whether id names a supported frame: G54–G59,
// G59.1–G59.3, or extended P1–P300.
func ValidFrame(id string) bool {
	switch id {
	case "G54", "G55", "G56", "G57", "G58", "G59",
		"G59.1", "G59.2", "G59.3":
		return true
	}
	if strings.HasPrefix(id, "P") {
		n, err := strconv.Atoi(id[1:])
		return err == nil && n >= 1 && n <= 300
	}
	return false
}

// FrameForGCode maps a coordinate-select G-code to a frame id. G54.1
// selects an extended frame by its P parameter.
func FrameForGCode(g, p float64) (string, bool) {
	switch g {
	case 54, 55, 56, 57, 58, 59:
		return fmt.Sprintf("G%d", int(g)), true
	case 59.1, 59.2, 59.3:
		return fmt.Sprintf("G59.%d", int(math.Round((g-59)*10))), true
	case 54.1:
		id := fmt.Sprintf("P%d", int(p))
		return id, ValidFrame(id)
	}
	return "", false
}

func (m *Manager) frameFor(id string) (*frame, error) {
	if !ValidFrame(id) {
		return nil, InvalidFrameError{ID: id}
	}
	f, ok := m.frames[id]
	if !ok {
		f = &frame{}
		m.frames[id] = f
	}
	return f, nil
}

// SetWorkOffset sets one axis of a frame's work offset and marks the
// frame configured.
func (m *Manager) SetWorkOffset(id string, axis byte, value float64) error {
	f, err := m.frameFor(id)
	if err != nil {
		return err
	}
	switch axis {
	case 'X':
		f.offset.X = value
	case 'Y':
		f.offset.Y = value
	case 'Z':
		f.offset.Z = value
	default:
		return fmt.Errorf("unknown axis %q", string(axis))
	}
	f.set = true
	return nil
}

// WorkOffset returns a frame's work offset.
func (m *Manager) WorkOffset(id string) (coord.Point, error) {
	if !ValidFrame(id) {
		return coord.Point{}, InvalidFrameError{ID: id}
	}
	f, ok := m.frames[id]
	if !ok || !f.set {
		return coord.Point{}, ErrCoordinateSystemNotSet
	}
	return f.offset, nil
}

// SetActive selects the frame used when ToMachine is called with an
// empty frame id. The frame does not need to be configured yet.
func (m *Manager) SetActive(id string) error {
	if !ValidFrame(id) {
		return InvalidFrameError{ID: id}
	}
	m.active = id
	return nil
}

// Active returns the selected frame id, or "" if none was selected.
func (m *Manager) Active() string { return m.active }

// Configured reports whether the frame has a work offset set.
func (m *Manager) Configured(id string) bool {
	f, ok := m.frames[id]
	return ok && f.set
}

// SetLocalOffset sets the G52 local offset, added on top of the work
// offset of every frame.
func (m *Manager) SetLocalOffset(p coord.Point) { m.local = p }

// ClearLocalOffset cancels G52.
func (m *Manager) ClearLocalOffset() { m.local = coord.Point{} }

// SetShift sets the G92 position shift.
func (m *Manager) SetShift(p coord.Point) { m.shift = p }

// ClearShift cancels G92.
func (m *Manager) ClearShift() { m.shift = coord.Point{} }

// SetToolOffset records the active tool's length and radius
// compensation. Length is applied along Z during ToMachine.
func (m *Manager) SetToolOffset(length, radius float64) {
	m.toolLength = length
	m.toolRadius = radius
}

// ToolOffset returns the active tool compensation.
func (m *Manager) ToolOffset() (length, radius float64) {
	return m.toolLength, m.toolRadius
}

// SetRotation sets a frame's XY rotation compensation directly, in
// radians.
func (m *Manager) SetRotation(id string, angle float64) error {
	f, err := m.frameFor(id)
	if err != nil {
		return err
	}
	f.rotation = angle
	return nil
}

// Rotation returns a frame's XY rotation compensation in radians.
func (m *Manager) Rotation(id string) (float64, error) {
	if !ValidFrame(id) {
		return 0, InvalidFrameError{ID: id}
	}
	f, ok := m.frames[id]
	if !ok {
		return 0, nil
	}
	return f.rotation, nil
}

// AlignFromProbes derives a frame's rotation compensation from probed
// reference points. The points are probed positions of features that
// nominally lie along the frame's +X axis; the rotation is the angle
// of the line from the first to the last point. At least two distinct
// points are required.
func (m *Manager) AlignFromProbes(id string, points []coord.Point) error {
	f, err := m.frameFor(id)
	if err != nil {
		return err
	}
	if len(points) < 2 {
		return ErrAlignmentUnderdefined
	}
	first, last := points[0], points[len(points)-1]
	dx := last.X - first.X
	dy := last.Y - first.Y
	if math.Hypot(dx, dy) < coord.Epsilon {
		return ErrAlignmentUnderdefined
	}
	f.rotation = math.Atan2(dy, dx)
	return nil
}

// ToMachine transforms a logical program position into machine
// coordinates: the frame rotation is applied about the frame origin,
// then the work offset, G52 local offset, G92 shift and the active
// tool's length offset. An empty id uses the active frame. The frame
// must have been configured.
func (m *Manager) ToMachine(p coord.Point, id string) (coord.Point, error) {
	if id == "" {
		id = m.active
	}
	if id == "" {
		return coord.Point{}, ErrCoordinateSystemNotSet
	}
	if !ValidFrame(id) {
		return coord.Point{}, InvalidFrameError{ID: id}
	}
	f, ok := m.frames[id]
	if !ok || !f.set {
		return coord.Point{}, ErrCoordinateSystemNotSet
	}

	out := p
	if f.rotation != 0 {
		out = out.RotateXY(0, 0, f.rotation)
	}
	out = out.Add(f.offset).Add(m.local).Add(m.shift)
	out.Z += m.toolLength
	return out, nil
}
