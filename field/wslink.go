package field

import (
	"encoding/json"
	"log"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Thomas-Heisig/MODAX-sub001/coord"
	"github.com/Thomas-Heisig/MODAX-sub001/motion"
)

// WSLink bridges the dispatch boundary to a networked field
// controller (e.g. an ESP32) over a websocket. It reconnects forever
// and resends nothing: a dropped connection surfaces as a failed
// dispatch.
type WSLink struct {
	url string

	outgoing chan wsMessage
	incoming chan interface{}
	abortPos chan coord.Point
}

type wsMessage struct {
	done    chan error
	payload []byte
}

// MoveFrame is one dispatched move on the wire.
type MoveFrame struct {
	Type      string      `json:"type"`
	Target    coord.Point `json:"target"`
	Center    coord.Point `json:"center,omitempty"`
	Sweep     float64     `json:"sweep,omitempty"`
	Clockwise bool        `json:"cw,omitempty"`
	Feed      float64     `json:"feed,omitempty"`
	Seconds   float64     `json:"seconds,omitempty"`
}

// StateFrame is a periodic position/status report from the field
// controller.
type StateFrame struct {
	Status string      `json:"status"`
	MPos   coord.Point `json:"mpos"`
}

// AbortFrame acknowledges an abort with the truncated position.
type AbortFrame struct {
	Aborted bool        `json:"aborted"`
	MPos    coord.Point `json:"mpos"`
}

func NewWSLink(url string) *WSLink {
	l := &WSLink{
		url:      url,
		outgoing: make(chan wsMessage, 1000),
		incoming: make(chan interface{}, 1000),
		abortPos: make(chan coord.Point, 1),
	}
	go l.loop()
	return l
}

// Messages returns the stream of decoded inbound frames.
func (l *WSLink) Messages() chan interface{} {
	return l.incoming
}

func parseFrame(data []byte) (interface{}, error) {
	var probe struct {
		Aborted *bool  `json:"aborted"`
		Status  string `json:"status"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, err
	}
	if probe.Aborted != nil {
		var f AbortFrame
		err := json.Unmarshal(data, &f)
		return &f, err
	}
	var f StateFrame
	err := json.Unmarshal(data, &f)
	return &f, err
}

func (l *WSLink) readLoop(ws *websocket.Conn, done chan struct{}) {
	defer close(done)
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			log.Println("ERROR: read:", err)
			return
		}
		val, err := parseFrame(data)
		if err != nil {
			log.Println("ERROR: parse:", err)
			continue
		}
		if f, ok := val.(*AbortFrame); ok && f.Aborted {
			select {
			case l.abortPos <- f.MPos:
			default:
			}
		}
		select {
		case l.incoming <- val:
		default:
		}
	}
}

func (l *WSLink) loop() {
	var nextUp wsMessage

reconnect:
	for {
		log.Println("Connecting to", l.url)
		ws, _, err := websocket.DefaultDialer.Dial(l.url, nil)
		if err != nil {
			log.Println("ERROR: connect:", err)
			time.Sleep(3 * time.Second)
			continue
		}
		log.Println("Connected.")
		ch := make(chan struct{})
		go l.readLoop(ws, ch)

		for {
			if nextUp.done != nil {
				err = ws.WriteMessage(websocket.TextMessage, nextUp.payload)
				if err != nil {
					log.Println("ERROR: send:", err)
					nextUp.done <- err
					nextUp.done = nil
					continue reconnect
				}
				nextUp.done <- nil
				nextUp.done = nil
			}

			select {
			case <-ch:
				continue reconnect
			case nextUp = <-l.outgoing:
			}
		}
	}
}

func (l *WSLink) send(payload []byte) error {
	ch := make(chan error, 1)
	l.outgoing <- wsMessage{done: ch, payload: payload}
	return <-ch
}

// Dispatch encodes the move as a JSON frame and blocks until it is
// written.
func (l *WSLink) Dispatch(mv motion.Move) error {
	f := MoveFrame{Target: mv.End, Feed: mv.Feed}
	switch mv.Kind {
	case motion.Rapid:
		f.Type = "rapid"
	case motion.Linear:
		f.Type = "linear"
	case motion.Circular:
		f.Type = "arc"
	case motion.Helical:
		f.Type = "helix"
	case motion.Dwell:
		f.Type = "dwell"
		f.Seconds = mv.Duration
	}
	if mv.Kind == motion.Circular || mv.Kind == motion.Helical {
		f.Center = mv.Center
		f.Sweep = mv.Sweep
		f.Clockwise = mv.Clockwise
	}
	data, err := json.Marshal(f)
	if err != nil {
		// shouldn't happen since we control everything that's sent out
		log.Panicln("ERROR: dispatch (marshal):", err)
	}
	return l.send(data)
}

// Abort sends an abort frame and waits briefly for the truncated
// position.
func (l *WSLink) Abort() (coord.Point, bool) {
	data, _ := json.Marshal(MoveFrame{Type: "abort"})
	if err := l.send(data); err != nil {
		return coord.Point{}, false
	}
	select {
	case p := <-l.abortPos:
		return p, true
	case <-time.After(time.Second):
		return coord.Point{}, false
	}
}
