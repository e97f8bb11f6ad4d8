package machine

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thomas-Heisig/MODAX-sub001/coord"
	"github.com/Thomas-Heisig/MODAX-sub001/gcode"
	"github.com/Thomas-Heisig/MODAX-sub001/motion"
	"github.com/Thomas-Heisig/MODAX-sub001/tool"
)

type fakeDispatcher struct {
	moves    []motion.Move
	err      error
	abortPos coord.Point
	aborted  bool
}

func (d *fakeDispatcher) Dispatch(mv motion.Move) error {
	if d.err != nil {
		return d.err
	}
	d.moves = append(d.moves, mv)
	return nil
}

func (d *fakeDispatcher) Abort() (coord.Point, bool) {
	d.aborted = true
	return d.abortPos, true
}

type fakeValidator struct {
	safe  bool
	delay time.Duration
}

func (v *fakeValidator) IsSafe(motion.Move) bool {
	if v.delay > 0 {
		time.Sleep(v.delay)
	}
	return v.safe
}

func newAutoController(t *testing.T, text string, cfg Config) (*Controller, *fakeDispatcher) {
	t.Helper()
	disp := &fakeDispatcher{}
	if cfg.Dispatcher == nil {
		cfg.Dispatcher = disp
	}
	c := New(cfg)
	require.NoError(t, c.Frames().SetWorkOffset("G54", 'X', 0))
	require.NoError(t, c.Frames().SetActive("G54"))
	require.NoError(t, c.HomeAll())
	require.NoError(t, c.LoadProgram(gcode.MustParse(text)))
	require.NoError(t, c.SetMode(Auto))
	return c, disp
}

func TestSetModeAuto_Preconditions(t *testing.T) {
	c := New(Config{Dispatcher: &fakeDispatcher{}})

	err := c.SetMode(Auto)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no program")

	require.NoError(t, c.LoadProgram(gcode.MustParse("M30")))
	err = c.SetMode(Auto)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not homed")

	require.NoError(t, c.HomeAll())
	err = c.SetMode(Auto)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "coordinate system")

	require.NoError(t, c.Frames().SetWorkOffset("G54", 'X', 0))
	require.NoError(t, c.Frames().SetActive("G54"))
	assert.NoError(t, c.SetMode(Auto))
}

func TestRun_LinearProgram(t *testing.T) {
	c, disp := newAutoController(t, `
G90 G21
G01 X100 F500
M30
`, Config{})

	require.NoError(t, c.Run())
	require.Len(t, disp.moves, 1)
	assert.Equal(t, 100.0, disp.moves[0].Distance)
	assert.Equal(t, 12.0, disp.moves[0].Duration)
	assert.Equal(t, coord.Point{X: 100}, c.MachinePosition())
	assert.True(t, c.Status().Done)
}

func TestRun_WorkOffsetApplied(t *testing.T) {
	c, disp := newAutoController(t, "G01 X10 F100\nM30", Config{})
	require.NoError(t, c.Frames().SetWorkOffset("G54", 'X', 50))

	require.NoError(t, c.Run())
	require.Len(t, disp.moves, 1)
	assert.Equal(t, coord.Point{X: 60}, disp.moves[0].End)
	// work position stays in program coordinates
	assert.Equal(t, coord.Point{X: 10}, c.WorkPosition())
}

func TestRun_IncrementalMode(t *testing.T) {
	c, disp := newAutoController(t, `
G91
G01 X10 F100
G01 X10
M30
`, Config{})

	require.NoError(t, c.Run())
	require.Len(t, disp.moves, 2)
	assert.Equal(t, coord.Point{X: 20}, c.WorkPosition())
}

func TestRun_ArcProgram(t *testing.T) {
	c, disp := newAutoController(t, "G02 X10 Y0 I5 J0 F100\nM30", Config{})

	require.NoError(t, c.Run())
	require.Len(t, disp.moves, 1)
	assert.Equal(t, motion.Circular, disp.moves[0].Kind)
	assert.Equal(t, 5.0, disp.moves[0].Radius)
	assert.Equal(t, coord.Point{X: 5}, disp.moves[0].Center)
}

func TestRun_ArcGeometryErrorHalts(t *testing.T) {
	c, _ := newAutoController(t, "G02 X10 Y0 I3 F100\nM30", Config{})

	err := c.Run()
	require.Error(t, err)
	var geo motion.ArcGeometryError
	assert.True(t, errors.As(err, &geo))
	assert.Contains(t, c.Status().Error, "arc geometry")

	// error sub-state: further steps refuse until reset
	_, err = c.Step()
	assert.Equal(t, ErrHalted, err)
}

func TestRun_ZeroDistanceMoveSkipped(t *testing.T) {
	c, disp := newAutoController(t, "G01 X0 F100\nM30", Config{})
	require.NoError(t, c.Run())
	assert.Empty(t, disp.moves)
}

func TestSafetyVeto(t *testing.T) {
	c, disp := newAutoController(t, "G01 X10 F100\nM30", Config{
		Validator: &fakeValidator{safe: false},
	})

	err := c.Run()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSafetyVeto))
	assert.Empty(t, disp.moves)
	// recoverable: reset clears the halt
	c.Reset()
	assert.NoError(t, c.Halted())
}

func TestSafetyTimeoutFailsClosed(t *testing.T) {
	c, disp := newAutoController(t, "G01 X10 F100\nM30", Config{
		Validator:     &fakeValidator{safe: true, delay: 100 * time.Millisecond},
		SafetyTimeout: 5 * time.Millisecond,
	})

	err := c.Run()
	assert.True(t, errors.Is(err, ErrSafetyVeto))
	assert.Empty(t, disp.moves)
}

func TestEmergencyStop(t *testing.T) {
	disp := &fakeDispatcher{abortPos: coord.Point{X: 42.5}}
	c, _ := newAutoController(t, "G01 X100 F100\nG01 X200\nM30", Config{Dispatcher: disp})

	c.EmergencyStop()
	assert.Equal(t, Stopped, c.Mode())
	assert.True(t, disp.aborted)

	_, err := c.Step()
	assert.Equal(t, ErrEmergencyStopped, err)
	// position reflects the truncation point, not the target
	assert.Equal(t, coord.Point{X: 42.5}, c.MachinePosition())

	// AUTO stays unreachable without reset + rehome
	err = c.SetMode(Auto)
	require.Error(t, err)

	c.Reset()
	err = c.SetMode(Auto)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not homed")

	require.NoError(t, c.HomeAll())
	assert.NoError(t, c.SetMode(Auto))
}

// blockingDispatcher parks the first Dispatch until released, so a
// stop can be issued while a run is mid-move.
type blockingDispatcher struct {
	once     sync.Once
	started  chan struct{}
	release  chan struct{}
	abortPos coord.Point
}

func (d *blockingDispatcher) Dispatch(mv motion.Move) error {
	d.once.Do(func() {
		close(d.started)
		<-d.release
	})
	return nil
}

func (d *blockingDispatcher) Abort() (coord.Point, bool) {
	return d.abortPos, true
}

func TestEmergencyStop_DuringRun(t *testing.T) {
	disp := &blockingDispatcher{
		started:  make(chan struct{}),
		release:  make(chan struct{}),
		abortPos: coord.Point{X: 42.5},
	}
	c, _ := newAutoController(t, "G01 X100 F100\nG01 X200\nM30", Config{Dispatcher: disp})

	errCh := make(chan error, 1)
	go func() { errCh <- c.Run() }()

	<-disp.started
	c.EmergencyStop()
	assert.Equal(t, Stopped, c.Mode())
	close(disp.release)

	err := <-errCh
	assert.Equal(t, ErrEmergencyStopped, err)
	assert.Equal(t, coord.Point{X: 42.5}, c.MachinePosition())
	assert.False(t, c.Homed())
}

func TestEmergencyStop_DirectModeChangeRejected(t *testing.T) {
	c := New(Config{Dispatcher: &fakeDispatcher{}})
	err := c.SetMode(Stopped)
	require.Error(t, err)
}

func TestSetSpindleSpeed(t *testing.T) {
	c := New(Config{Dispatcher: &fakeDispatcher{}, MaxSpindleRPM: 10000})

	require.NoError(t, c.SetSpindleSpeed(8000))
	assert.Equal(t, 8000.0, c.Status().SpindleSpeed)

	err := c.SetSpindleSpeed(12000)
	require.Error(t, err)

	// no-op while stopped
	c.EmergencyStop()
	assert.NoError(t, c.SetSpindleSpeed(5000))
	assert.Equal(t, 8000.0, c.Status().SpindleSpeed)
}

func TestSoftwareLimits(t *testing.T) {
	c, disp := newAutoController(t, "G01 X500 F100\nM30", Config{
		Limits: &Limits{Min: coord.Point{X: -100, Y: -100, Z: -100}, Max: coord.Point{X: 100, Y: 100, Z: 100}},
	})

	err := c.Run()
	require.Error(t, err)
	var lim LimitError
	require.True(t, errors.As(err, &lim))
	assert.Equal(t, byte('X'), lim.Axis)
	assert.Empty(t, disp.moves)
}

func TestOverrides(t *testing.T) {
	c, disp := newAutoController(t, "G01 X100 F500\nM30", Config{})
	require.NoError(t, c.SetFeedOverride(50))

	require.NoError(t, c.Run())
	require.Len(t, disp.moves, 1)
	assert.Equal(t, 250.0, disp.moves[0].Feed)
	assert.Equal(t, 24.0, disp.moves[0].Duration)

	assert.Error(t, c.SetFeedOverride(250))
	assert.Error(t, c.SetRapidOverride(-1))
}

func TestPauseResume(t *testing.T) {
	c, disp := newAutoController(t, `
G01 X10 F100
G01 X20
M30
`, Config{})

	c.Pause()
	require.NoError(t, c.Run())
	assert.Empty(t, disp.moves)
	assert.True(t, c.Paused())

	c.Resume()
	require.NoError(t, c.Run())
	assert.Len(t, disp.moves, 2)
}

func TestExecuteBlock_MDI(t *testing.T) {
	disp := &fakeDispatcher{}
	c := New(Config{Dispatcher: disp})
	require.NoError(t, c.Frames().SetWorkOffset("G54", 'X', 0))
	require.NoError(t, c.Frames().SetActive("G54"))
	require.NoError(t, c.SetMode(MDI))

	require.NoError(t, c.ExecuteBlock("G01 X5 F100"))
	require.Len(t, disp.moves, 1)
	assert.Equal(t, coord.Point{X: 5}, disp.moves[0].End)

	// immediate blocks are an MDI-only surface
	require.NoError(t, c.SetMode(Manual))
	err := c.ExecuteBlock("G01 X10 F100")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MDI")
}

func TestJog(t *testing.T) {
	disp := &fakeDispatcher{}
	c := New(Config{Dispatcher: disp})

	require.NoError(t, c.Jog(coord.Point{X: 10}, 0))
	require.Len(t, disp.moves, 1)
	assert.Equal(t, motion.Rapid, disp.moves[0].Kind)
	assert.Equal(t, coord.Point{X: 10}, c.MachinePosition())

	require.NoError(t, c.SetMode(MDI))
	assert.Error(t, c.Jog(coord.Point{X: 1}, 0))
}

func TestDwell(t *testing.T) {
	c, disp := newAutoController(t, "G04 P2.5\nM30", Config{})
	require.NoError(t, c.Run())
	require.Len(t, disp.moves, 1)
	assert.Equal(t, motion.Dwell, disp.moves[0].Kind)
	assert.Equal(t, 2.5, disp.moves[0].Duration)
}

func TestCannedCycle_Drill(t *testing.T) {
	c, disp := newAutoController(t, "G81 X10 Y10 Z-5 R2 F100\nM30", Config{})
	require.NoError(t, c.Run())

	// rapid to the hole, rapid to R, feed to depth, rapid retract
	require.Len(t, disp.moves, 4)
	assert.Equal(t, motion.Rapid, disp.moves[0].Kind)
	assert.Equal(t, coord.Point{X: 10, Y: 10}, disp.moves[0].End)
	assert.Equal(t, coord.Point{X: 10, Y: 10, Z: 2}, disp.moves[1].End)
	assert.Equal(t, motion.Linear, disp.moves[2].Kind)
	assert.Equal(t, 100.0, disp.moves[2].Feed)
	assert.Equal(t, coord.Point{X: 10, Y: 10, Z: -5}, disp.moves[2].End)
	assert.Equal(t, motion.Rapid, disp.moves[3].Kind)
	assert.Equal(t, coord.Point{X: 10, Y: 10, Z: 2}, c.MachinePosition())
}

func TestCannedCycle_StickyRepeat(t *testing.T) {
	c, disp := newAutoController(t, "G81 X10 Z-5 R2 F100\nX20\nM30", Config{})
	require.NoError(t, c.Run())

	// the bare X20 block repeats the cycle with the sticky Z and R;
	// its rapid-to-R leg starts at R and is dropped as zero-length
	require.Len(t, disp.moves, 7)
	assert.Equal(t, coord.Point{X: 20, Z: -5}, disp.moves[5].End)
	assert.Equal(t, coord.Point{X: 20, Z: 2}, c.MachinePosition())
}

func TestCannedCycle_PeckDrill(t *testing.T) {
	c, disp := newAutoController(t, "G83 Z-10 R2 Q4 F100\nM30", Config{})
	require.NoError(t, c.Run())

	var depths []float64
	for _, mv := range disp.moves {
		if mv.Kind == motion.Linear && mv.End.Z < mv.Start.Z {
			depths = append(depths, mv.End.Z)
		}
	}
	assert.Equal(t, []float64{-2, -6, -10}, depths)
	assert.Equal(t, coord.Point{Z: 2}, c.MachinePosition())
}

func TestCannedCycle_DwellAndBore(t *testing.T) {
	c, disp := newAutoController(t, "G82 Z-3 R2 P1 F100\nM30", Config{})
	require.NoError(t, c.Run())
	var dwell *motion.Move
	for i := range disp.moves {
		if disp.moves[i].Kind == motion.Dwell {
			dwell = &disp.moves[i]
		}
	}
	require.NotNil(t, dwell)
	assert.Equal(t, 1.0, dwell.Duration)

	c, disp = newAutoController(t, "G85 Z-3 R2 F100\nM30", Config{})
	require.NoError(t, c.Run())
	last := disp.moves[len(disp.moves)-1]
	assert.Equal(t, motion.Linear, last.Kind)
	assert.Equal(t, 2.0, last.End.Z)
}

func TestUnsupportedMotionCodeHalts(t *testing.T) {
	c, _ := newAutoController(t, "G84 Z-5 R2 F100\nM30", Config{})
	err := c.Run()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "G84 not supported")
	assert.NotNil(t, c.Halted())
}

type nopPort struct{}

func (nopPort) RetractZ() error             { return nil }
func (nopPort) MoveToChangePosition() error { return nil }
func (nopPort) ReleaseTool() error          { return nil }
func (nopPort) LoadTool(int) error          { return nil }

func TestToolChange(t *testing.T) {
	tools := tool.NewManager(tool.Config{Port: nopPort{}})
	require.NoError(t, tools.Add(tool.Tool{Number: 3, LengthOffset: 10}))

	c, _ := newAutoController(t, "T3 M06\nM30", Config{Tools: tools})
	require.NoError(t, c.Run())
	assert.Equal(t, 3, tools.Current())
	assert.Equal(t, 3, c.Status().Tool)
}

func TestToolChange_UnknownToolHalts(t *testing.T) {
	tools := tool.NewManager(tool.Config{Port: nopPort{}})
	c, _ := newAutoController(t, "T9 M06\nM30", Config{Tools: tools})

	err := c.Run()
	require.Error(t, err)
	var nf tool.ToolNotFoundError
	assert.True(t, errors.As(err, &nf))
}

func TestInchUnits(t *testing.T) {
	c, disp := newAutoController(t, "G20\nG01 X1 F100\nM30", Config{})
	require.NoError(t, c.Run())
	require.Len(t, disp.moves, 1)
	assert.InDelta(t, 25.4, disp.moves[0].End.X, 1e-9)
}
