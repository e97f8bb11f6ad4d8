package tool

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePort records the tool-change sequence and can fail at a chosen
// step.
type fakePort struct {
	calls  []string
	failAt string
}

func (p *fakePort) step(name string) error {
	p.calls = append(p.calls, name)
	if p.failAt == name {
		return errors.New(name + " failed")
	}
	return nil
}

func (p *fakePort) RetractZ() error             { return p.step("retract") }
func (p *fakePort) MoveToChangePosition() error { return p.step("position") }
func (p *fakePort) ReleaseTool() error          { return p.step("release") }
func (p *fakePort) LoadTool(number int) error   { return p.step("load") }

type fakeOffsets struct {
	length, radius float64
}

func (o *fakeOffsets) SetToolOffset(length, radius float64) {
	o.length, o.radius = length, radius
}

func newTestManager(port *fakePort) (*Manager, *fakeOffsets) {
	off := &fakeOffsets{}
	m := NewManager(Config{Port: port, Offsets: off})
	m.Add(Tool{Number: 1, Type: "endmill", Diameter: 6, LengthOffset: 42.1, RadiusOffset: 3})
	m.Add(Tool{Number: 2, Type: "drill", Diameter: 3, LengthOffset: 55.0, RadiusOffset: 1.5})
	return m, off
}

func TestGet(t *testing.T) {
	m, _ := newTestManager(&fakePort{})

	tl, err := m.Get(1)
	require.NoError(t, err)
	assert.Equal(t, "endmill", tl.Type)

	_, err = m.Get(9)
	assert.Equal(t, ToolNotFoundError{Number: 9}, err)

	_, err = m.Get(0)
	assert.Equal(t, ErrInvalidToolNumber, err)
	_, err = m.Get(-3)
	assert.Equal(t, ErrInvalidToolNumber, err)
}

func TestAdd_MagazineFull(t *testing.T) {
	m := NewManager(Config{})
	for i := 1; i <= MagazineSlots; i++ {
		require.NoError(t, m.Add(Tool{Number: i}))
	}
	assert.Equal(t, ErrMagazineFull, m.Add(Tool{Number: 99}))

	// replacing an existing slot is still allowed
	assert.NoError(t, m.Add(Tool{Number: 5, Type: "tap"}))
}

func TestChange_Sequence(t *testing.T) {
	port := &fakePort{}
	m, off := newTestManager(port)

	require.NoError(t, m.Change(1))
	assert.Equal(t, []string{"retract", "position", "load"}, port.calls)
	assert.Equal(t, 1, m.Current())
	assert.Equal(t, 42.1, off.length)
	assert.Equal(t, 3.0, off.radius)

	// swapping tools releases the old one first
	port.calls = nil
	require.NoError(t, m.Change(2))
	assert.Equal(t, []string{"retract", "position", "release", "load"}, port.calls)
	assert.Equal(t, 2, m.Current())
	assert.Equal(t, 55.0, off.length)

	require.Len(t, m.Events(), 2)
}

func TestChange_InvalidNumberShortCircuits(t *testing.T) {
	port := &fakePort{}
	m, _ := newTestManager(port)
	require.NoError(t, m.Change(1))
	port.calls = nil

	err := m.Change(42)
	assert.Equal(t, ToolNotFoundError{Number: 42}, err)
	// no physical motion was attempted and the old tool stays loaded
	assert.Empty(t, port.calls)
	assert.Equal(t, 1, m.Current())
}

func TestChange_FailureBeforeLoadStaysSafe(t *testing.T) {
	port := &fakePort{failAt: "position"}
	m, _ := newTestManager(port)
	require.NoError(t, m.Add(Tool{Number: 3}))

	err := m.Change(3)
	require.Error(t, err)
	// the current tool was never released
	assert.Equal(t, -1, m.Current())
	assert.NotContains(t, port.calls, "release")
	assert.NotContains(t, port.calls, "load")
}

func TestChange_LoadFailureLeavesSpindleEmpty(t *testing.T) {
	port := &fakePort{}
	m, off := newTestManager(port)
	require.NoError(t, m.Change(1))

	port.failAt = "load"
	err := m.Change(2)
	require.Error(t, err)
	// old tool released, new one never loaded: spindle empty,
	// offsets cleared, machine retracted
	assert.Equal(t, -1, m.Current())
	assert.Equal(t, 0.0, off.length)
}

func TestChange_Broken(t *testing.T) {
	port := &fakePort{}
	m, _ := newTestManager(port)
	require.NoError(t, m.MarkBroken(1))

	err := m.Change(1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrToolBroken))
	assert.Empty(t, port.calls)
}

type fakeProber struct {
	meas  Measurement
	err   error
	delay time.Duration
}

func (p *fakeProber) Probe(number int) (Measurement, error) {
	if p.delay > 0 {
		time.Sleep(p.delay)
	}
	return p.meas, p.err
}

func TestMeasure(t *testing.T) {
	m := NewManager(Config{Prober: &fakeProber{meas: Measurement{Length: 101.2, Diameter: 5.98}}})
	require.NoError(t, m.Add(Tool{Number: 1}))

	meas, err := m.Measure(1)
	require.NoError(t, err)
	assert.Equal(t, 101.2, meas.Length)

	tl, _ := m.Get(1)
	assert.Equal(t, 101.2, tl.Length)
	assert.Equal(t, 5.98, tl.Diameter)
}

func TestMeasure_Timeout(t *testing.T) {
	m := NewManager(Config{
		Prober:         &fakeProber{delay: 200 * time.Millisecond},
		MeasureTimeout: 10 * time.Millisecond,
	})
	require.NoError(t, m.Add(Tool{Number: 1}))

	_, err := m.Measure(1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrToolMeasurementFailed))
}

func TestMeasure_ProbeError(t *testing.T) {
	m := NewManager(Config{Prober: &fakeProber{err: errors.New("no contact")}})
	require.NoError(t, m.Add(Tool{Number: 1}))

	_, err := m.Measure(1)
	assert.True(t, errors.Is(err, ErrToolMeasurementFailed))
}

func TestRecordCutting(t *testing.T) {
	m := NewManager(Config{})
	require.NoError(t, m.Add(Tool{Number: 1}))

	require.NoError(t, m.RecordCutting(1, 12.5))
	require.NoError(t, m.RecordCutting(1, 2.5))
	tl, _ := m.Get(1)
	assert.Equal(t, 15.0, tl.CuttingMinutes)
}

func TestNumbers(t *testing.T) {
	m := NewManager(Config{})
	m.Add(Tool{Number: 7})
	m.Add(Tool{Number: 2})
	m.Add(Tool{Number: 11})
	assert.Equal(t, []int{2, 7, 11}, m.Numbers())

	require.NoError(t, m.Remove(7))
	assert.Equal(t, []int{2, 11}, m.Numbers())
}
