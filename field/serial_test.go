package field

import (
	"bufio"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thomas-Heisig/MODAX-sub001/coord"
	"github.com/Thomas-Heisig/MODAX-sub001/motion"
)

func TestEncodeMove(t *testing.T) {
	mv, err := motion.LinearMove(coord.Point{}, coord.Point{X: 100}, 500, false)
	require.NoError(t, err)
	assert.Equal(t, "L X100.000 Y0.000 Z0.000 F500.0\n", string(EncodeMove(mv)))

	mv, err = motion.LinearMove(coord.Point{}, coord.Point{Z: -5}, 0, true)
	require.NoError(t, err)
	assert.Equal(t, "R X0.000 Y0.000 Z-5.000\n", string(EncodeMove(mv)))

	dw := motion.DwellMove(coord.Point{}, 1.5)
	assert.Equal(t, "P1.500\n", string(EncodeMove(dw)))

	arc, err := motion.CircularMove(coord.Point{}, coord.Point{X: 10}, motion.ArcParams{I: 5, HasIJK: true}, 100, true, motion.PlaneXY)
	require.NoError(t, err)
	line := string(EncodeMove(arc))
	assert.True(t, strings.HasPrefix(line, "C X10.000"))
	assert.Contains(t, line, "I5.000")
	assert.Contains(t, line, "D1")
}

// fakeDevice acks every received line and answers '!' with a
// truncated-position report.
func fakeDevice(t *testing.T, conn net.Conn, lines chan<- string) {
	t.Helper()
	buf := make([]byte, 1024)
	var pending []byte
	for {
		n, err := conn.Read(buf)
		if err != nil {
			return
		}
		for _, b := range buf[:n] {
			if b == '!' {
				conn.Write([]byte("abort:42.500,0.000,1.000\n"))
				continue
			}
			pending = append(pending, b)
			if b == '\n' {
				lines <- string(pending)
				pending = nil
				conn.Write([]byte("ok\n"))
			}
		}
	}
}

func TestSerialDispatcher(t *testing.T) {
	host, device := net.Pipe()
	lines := make(chan string, 100)
	go fakeDevice(t, device, lines)

	d := NewSerialDispatcher(host)
	defer d.Close()

	mv, err := motion.LinearMove(coord.Point{}, coord.Point{X: 10}, 100, false)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		require.NoError(t, d.Dispatch(mv))
	}

	for i := 0; i < 10; i++ {
		select {
		case line := <-lines:
			assert.True(t, strings.HasPrefix(line, "L X10.000"))
		case <-time.After(time.Second):
			t.Fatal("device did not receive dispatched line")
		}
	}
}

func TestSerialDispatcher_Abort(t *testing.T) {
	host, device := net.Pipe()
	lines := make(chan string, 100)
	go fakeDevice(t, device, lines)

	d := NewSerialDispatcher(host)
	defer d.Close()

	pos, ok := d.Abort()
	require.True(t, ok)
	assert.Equal(t, coord.Point{X: 42.5, Z: 1}, pos)
}

func TestSerialDispatcher_DeviceError(t *testing.T) {
	host, device := net.Pipe()
	go func() {
		r := bufio.NewReader(device)
		for {
			if _, err := r.ReadString('\n'); err != nil {
				return
			}
			device.Write([]byte("error:9 hard limit\n"))
		}
	}()

	d := NewSerialDispatcher(host)
	defer d.Close()

	mv, err := motion.LinearMove(coord.Point{}, coord.Point{X: 10}, 100, false)
	require.NoError(t, err)

	// fill the device buffer; the next write drains acks and sees
	// the error
	var got error
	for i := 0; i < 20; i++ {
		if got = d.Dispatch(mv); got != nil {
			break
		}
	}
	require.Error(t, got)
	assert.Contains(t, got.Error(), "error:9")
}

func TestParseCoords(t *testing.T) {
	p, err := parseCoords("1.5,-2,0.25")
	require.NoError(t, err)
	assert.Equal(t, coord.Point{X: 1.5, Y: -2, Z: 0.25}, p)

	_, err = parseCoords("1,2")
	assert.Error(t, err)
	_, err = parseCoords("a,b,c")
	assert.Error(t, err)
}
