package main

import (
	"flag"
	"log"
	"net/http"
	"time"

	"github.com/tarm/serial"

	"github.com/Thomas-Heisig/MODAX-sub001/field"
	"github.com/Thomas-Heisig/MODAX-sub001/interp"
	"github.com/Thomas-Heisig/MODAX-sub001/machine"
	"github.com/Thomas-Heisig/MODAX-sub001/tool"
	"github.com/Thomas-Heisig/MODAX-sub001/wcs"
)

func main() {
	log.SetFlags(log.Lshortfile)

	port := flag.String("port", "/dev/ttyUSB0", "Serial port of the field controller.")
	baud := flag.Int("baud", 115200, "Serial baud rate.")
	wsURL := flag.String("ws", "", "Websocket URL of a networked field controller; overrides -port.")
	addr := flag.String("addr", ":9091", "Address to bind the MODAX server to.")
	dir := flag.String("dir", "./data", "Data directory for program files.")
	maxRPM := flag.Float64("max-rpm", 24000, "Spindle speed limit.")
	flag.Parse()

	var dispatcher machine.Dispatcher
	if *wsURL != "" {
		dispatcher = field.NewWSLink(*wsURL)
	} else {
		s, err := serial.OpenPort(&serial.Config{
			Name:        *port,
			Baud:        *baud,
			ReadTimeout: 10 * time.Second,
		})
		if err != nil {
			log.Fatal("open serial port: ", err)
		}
		dispatcher = field.NewSerialDispatcher(s)
	}

	frames := wcs.NewManager()
	tools := tool.NewManager(tool.Config{Offsets: frames})

	ctl := machine.New(machine.Config{
		Dispatcher:    dispatcher,
		Frames:        frames,
		Tools:         tools,
		MaxSpindleRPM: *maxRPM,
		Interp:        interp.Config{},
	})

	api := newAPI(ctl, *dir)

	err := http.ListenAndServe(*addr, http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "*")
		log.Printf("%s %s - %s", req.Method, req.URL.Path, req.RemoteAddr)
		api.ServeHTTP(w, req)
	}))
	if err != nil {
		log.Fatal(err)
	}
}
