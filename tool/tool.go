// Package tool manages the tool magazine: the tool table, atomic
// tool-change sequencing against the field layer, and probe-based
// tool measurement.
package tool

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// MagazineSlots is the fixed magazine capacity.
const MagazineSlots = 24

// DefaultMeasureTimeout bounds a probe request.
const DefaultMeasureTimeout = 5 * time.Second

var (
	ErrInvalidToolNumber     = errors.New("invalid tool number")
	ErrMagazineFull          = errors.New("tool magazine full")
	ErrToolBroken            = errors.New("tool is flagged broken")
	ErrToolMeasurementFailed = errors.New("tool measurement failed")
	ErrNoMotionPort          = errors.New("no motion port configured")
	ErrNoProber              = errors.New("no prober configured")
)

// ToolNotFoundError reports a tool number with no magazine entry.
type ToolNotFoundError struct {
	Number int
}

func (e ToolNotFoundError) Error() string {
	return fmt.Sprintf("tool T%d not found", e.Number)
}

// Tool is one magazine entry.
type Tool struct {
	Number       int
	Type         string
	Diameter     float64
	Length       float64
	LengthOffset float64
	RadiusOffset float64

	// CuttingMinutes accumulates recorded cutting time for wear
	// tracking.
	CuttingMinutes float64
	Broken         bool
	Available      bool
}

// MotionPort is the field-layer collaborator that physically executes
// the tool-change sequence. Each call blocks until the motion
// completes or fails.
type MotionPort interface {
	RetractZ() error
	MoveToChangePosition() error
	ReleaseTool() error
	LoadTool(number int) error
}

// Measurement is a probed tool geometry.
type Measurement struct {
	Length   float64
	Diameter float64
}

// Prober issues a tool-probe request to the field layer. Probe blocks
// until the probe cycle reports, which may be never; the Manager
// enforces the timeout.
type Prober interface {
	Probe(number int) (Measurement, error)
}

// OffsetSink receives the active tool's compensation after a
// successful change. *wcs.Manager satisfies it.
type OffsetSink interface {
	SetToolOffset(length, radius float64)
}

// Config for a Manager. Zero values select the defaults.
type Config struct {
	Port    MotionPort
	Prober  Prober
	Offsets OffsetSink

	MeasureTimeout time.Duration
}

// Manager owns the tool table of one machine instance. It is not safe
// for concurrent use.
type Manager struct {
	cfg     Config
	tools   map[int]*Tool
	current int
	events  []string
}

func NewManager(cfg Config) *Manager {
	if cfg.MeasureTimeout == 0 {
		cfg.MeasureTimeout = DefaultMeasureTimeout
	}
	return &Manager{
		cfg:     cfg,
		tools:   map[int]*Tool{},
		current: -1,
	}
}

// Get returns the magazine entry for a tool number.
func (m *Manager) Get(number int) (*Tool, error) {
	if number <= 0 {
		return nil, ErrInvalidToolNumber
	}
	t, ok := m.tools[number]
	if !ok {
		return nil, ToolNotFoundError{Number: number}
	}
	return t, nil
}

// Add registers a tool. The magazine holds at most MagazineSlots
// entries; re-adding an existing number replaces it.
func (m *Manager) Add(t Tool) error {
	if t.Number <= 0 {
		return ErrInvalidToolNumber
	}
	if _, exists := m.tools[t.Number]; !exists && len(m.tools) >= MagazineSlots {
		return ErrMagazineFull
	}
	t.Available = true
	cp := t
	m.tools[t.Number] = &cp
	return nil
}

// Remove drops a tool from the magazine.
func (m *Manager) Remove(number int) error {
	if _, err := m.Get(number); err != nil {
		return err
	}
	delete(m.tools, number)
	if m.current == number {
		m.current = -1
	}
	return nil
}

// Numbers returns the registered tool numbers in ascending order.
func (m *Manager) Numbers() []int {
	out := make([]int, 0, len(m.tools))
	for n := range m.tools {
		out = append(out, n)
	}
	sort.Ints(out)
	return out
}

// Current returns the loaded tool number, or -1 if the spindle is
// empty.
func (m *Manager) Current() int { return m.current }

// Events returns the tool-change event log.
func (m *Manager) Events() []string { return m.events }

func (m *Manager) logf(format string, args ...interface{}) {
	m.events = append(m.events, fmt.Sprintf(format, args...))
}

// Change executes the atomic tool-change sequence: retract to safe Z,
// move to the change position, release the current tool, load the new
// one, apply its compensation and log the event. An invalid or
// unknown tool number short-circuits before any motion. A failure
// before the load completes leaves the machine retracted at the
// change position, never with a half-changed tool.
func (m *Manager) Change(number int) error {
	t, err := m.Get(number)
	if err != nil {
		return err
	}
	if t.Broken || !t.Available {
		return fmt.Errorf("T%d: %w", number, ErrToolBroken)
	}
	if number == m.current {
		return nil
	}
	port := m.cfg.Port
	if port == nil {
		return ErrNoMotionPort
	}

	if err := port.RetractZ(); err != nil {
		return fmt.Errorf("tool change T%d: retract: %w", number, err)
	}
	if err := port.MoveToChangePosition(); err != nil {
		return fmt.Errorf("tool change T%d: position: %w", number, err)
	}
	if m.current >= 0 {
		if err := port.ReleaseTool(); err != nil {
			return fmt.Errorf("tool change T%d: release: %w", number, err)
		}
		m.current = -1
		if m.cfg.Offsets != nil {
			m.cfg.Offsets.SetToolOffset(0, 0)
		}
	}
	if err := port.LoadTool(number); err != nil {
		return fmt.Errorf("tool change T%d: load: %w", number, err)
	}

	m.current = number
	if m.cfg.Offsets != nil {
		m.cfg.Offsets.SetToolOffset(t.LengthOffset, t.RadiusOffset)
	}
	m.logf("tool change: loaded T%d (%s)", number, t.Type)
	return nil
}

// Measure probes a tool and updates its recorded length and diameter.
// The probe is bounded by the configured timeout; a timed-out or
// failed probe returns ErrToolMeasurementFailed.
func (m *Manager) Measure(number int) (Measurement, error) {
	t, err := m.Get(number)
	if err != nil {
		return Measurement{}, err
	}
	if m.cfg.Prober == nil {
		return Measurement{}, ErrNoProber
	}

	type result struct {
		meas Measurement
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		meas, err := m.cfg.Prober.Probe(number)
		ch <- result{meas, err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			return Measurement{}, fmt.Errorf("%w: %v", ErrToolMeasurementFailed, r.err)
		}
		t.Length = r.meas.Length
		t.Diameter = r.meas.Diameter
		m.logf("tool measure: T%d length=%.3f diameter=%.3f", number, r.meas.Length, r.meas.Diameter)
		return r.meas, nil
	case <-time.After(m.cfg.MeasureTimeout):
		return Measurement{}, fmt.Errorf("%w: probe timeout after %s", ErrToolMeasurementFailed, m.cfg.MeasureTimeout)
	}
}

// RecordCutting accumulates cutting time against a tool for wear
// tracking.
func (m *Manager) RecordCutting(number int, minutes float64) error {
	t, err := m.Get(number)
	if err != nil {
		return err
	}
	t.CuttingMinutes += minutes
	return nil
}

// MarkBroken flags a tool broken; a broken tool cannot be loaded
// until replaced.
func (m *Manager) MarkBroken(number int) error {
	t, err := m.Get(number)
	if err != nil {
		return err
	}
	t.Broken = true
	t.Available = false
	m.logf("tool broken: T%d", number)
	return nil
}
