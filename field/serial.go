// Package field holds the dispatch-boundary collaborators: adapters
// that carry abstract moves to the field layer over a serial line or a
// websocket, and report completion and abort status back.
package field

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Thomas-Heisig/MODAX-sub001/coord"
	"github.com/Thomas-Heisig/MODAX-sub001/motion"
)

// bufferSize is the field controller's line buffer in bytes; writes
// block until acked lines free enough space.
const bufferSize = 128

// ErrFieldReset is returned from pending writes when the field
// controller reports a reset.
var ErrFieldReset = errors.New("field controller reset")

// SerialDispatcher speaks the line-framed move protocol over a serial
// port (or any ReadWriter). Each move is one line; the controller
// acks every consumed line with "ok", reports errors as "error:..."
// and answers the '!' realtime abort byte with its truncated
// position.
type SerialDispatcher struct {
	rw io.ReadWriter

	ackCh   chan error
	abortCh chan coord.Point
	resetCh chan struct{}
	closeCh chan struct{}

	mx  sync.Mutex
	wMx sync.Mutex

	deviceBuf int
	lineSize  []int
}

func NewSerialDispatcher(rw io.ReadWriter) *SerialDispatcher {
	d := &SerialDispatcher{
		rw:      rw,
		ackCh:   make(chan error, 64),
		abortCh: make(chan coord.Point, 1),
		resetCh: make(chan struct{}, 1),
		closeCh: make(chan struct{}),
	}
	go d.readLoop()
	return d
}

// Close aborts pending writes and closes the port if it is a Closer.
func (d *SerialDispatcher) Close() error {
	close(d.closeCh)
	if closer, ok := d.rw.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

func (d *SerialDispatcher) readLoop() {
	scan := bufio.NewScanner(d.rw)
	for scan.Scan() {
		line := strings.TrimSpace(scan.Text())
		switch {
		case line == "ok":
			select {
			case d.ackCh <- nil:
			case <-d.closeCh:
				return
			}
		case strings.HasPrefix(line, "error:"):
			select {
			case d.ackCh <- errors.New(line):
			case <-d.closeCh:
				return
			}
		case strings.HasPrefix(line, "abort:"):
			p, err := parseCoords(strings.TrimPrefix(line, "abort:"))
			if err != nil {
				continue
			}
			select {
			case d.abortCh <- p:
			default:
			}
		case line == "reset":
			select {
			case d.resetCh <- struct{}{}:
			default:
			}
		}
	}
}

func parseCoords(data string) (p coord.Point, err error) {
	parts := strings.Split(strings.TrimSpace(data), ",")
	if len(parts) != 3 {
		return p, errors.New("invalid number of elements")
	}
	p.X, err = strconv.ParseFloat(parts[0], 64)
	if err != nil {
		return p, err
	}
	p.Y, err = strconv.ParseFloat(parts[1], 64)
	if err != nil {
		return p, err
	}
	p.Z, err = strconv.ParseFloat(parts[2], 64)
	if err != nil {
		return p, err
	}
	return p, nil
}

func (d *SerialDispatcher) next() error {
	select {
	case <-d.closeCh:
		return io.ErrClosedPipe
	default:
	}

	select {
	case <-d.closeCh:
		return io.ErrClosedPipe
	case <-d.resetCh:
		d.deviceBuf = 0
		d.lineSize = nil
		return ErrFieldReset
	case err := <-d.ackCh:
		if len(d.lineSize) > 0 {
			d.deviceBuf -= d.lineSize[0]
			d.lineSize = d.lineSize[1:]
		}
		return err
	}
}

func (d *SerialDispatcher) waitForBufferSpace(n int) error {
	for d.deviceBuf+n > bufferSize {
		if err := d.next(); err != nil {
			return err
		}
	}
	return nil
}

func (d *SerialDispatcher) writeLine(line []byte) error {
	d.wMx.Lock()
	defer d.wMx.Unlock()

	if err := d.waitForBufferSpace(len(line)); err != nil {
		return err
	}
	d.mx.Lock()
	_, err := d.rw.Write(line)
	d.mx.Unlock()
	if err != nil {
		return err
	}
	d.deviceBuf += len(line)
	d.lineSize = append(d.lineSize, len(line))
	return nil
}

// EncodeMove renders one move as a protocol line.
func EncodeMove(mv motion.Move) []byte {
	var b strings.Builder
	switch mv.Kind {
	case motion.Rapid:
		fmt.Fprintf(&b, "R X%.3f Y%.3f Z%.3f", mv.End.X, mv.End.Y, mv.End.Z)
	case motion.Linear:
		fmt.Fprintf(&b, "L X%.3f Y%.3f Z%.3f F%.1f", mv.End.X, mv.End.Y, mv.End.Z, mv.Feed)
	case motion.Circular, motion.Helical:
		dir := 0
		if mv.Clockwise {
			dir = 1
		}
		fmt.Fprintf(&b, "C X%.3f Y%.3f Z%.3f I%.3f J%.3f K%.3f S%.5f D%d F%.1f",
			mv.End.X, mv.End.Y, mv.End.Z,
			mv.Center.X, mv.Center.Y, mv.Center.Z,
			mv.Sweep, dir, mv.Feed)
	case motion.Dwell:
		fmt.Fprintf(&b, "P%.3f", mv.Duration)
	}
	b.WriteByte('\n')
	return []byte(b.String())
}

// Dispatch writes the move and blocks until the controller has buffer
// space for it.
func (d *SerialDispatcher) Dispatch(mv motion.Move) error {
	return d.writeLine(EncodeMove(mv))
}

// Abort sends the realtime abort byte, bypassing the line buffer, and
// waits briefly for the truncated-position report.
func (d *SerialDispatcher) Abort() (coord.Point, bool) {
	d.mx.Lock()
	_, err := d.rw.Write([]byte{'!'})
	d.mx.Unlock()
	if err != nil {
		return coord.Point{}, false
	}

	select {
	case p := <-d.abortCh:
		return p, true
	case <-time.After(time.Second):
		return coord.Point{}, false
	}
}
