package main

import (
	"encoding/json"
	"io"
	"io/ioutil"
	"log"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	sse "github.com/alexandrevicenzi/go-sse"
	"github.com/gorilla/mux"

	"github.com/Thomas-Heisig/MODAX-sub001/gcode"
	"github.com/Thomas-Heisig/MODAX-sub001/machine"
)

type api struct {
	http.Handler

	mx  sync.Mutex
	ctl *machine.Controller

	dataDir string
	sse     *sse.Server
}

func newAPI(ctl *machine.Controller, dir string) *api {
	r := mux.NewRouter()

	a := &api{
		Handler: r,
		ctl:     ctl,
		dataDir: dir,
		sse: sse.NewServer(&sse.Options{
			Logger: log.New(ioutil.Discard, "", 0),
		}),
	}

	r.HandleFunc("/api/program", a.program).Methods("POST")
	r.HandleFunc("/api/check", a.check).Methods("POST")
	r.HandleFunc("/api/run", a.run).Methods("POST")
	r.HandleFunc("/api/step", a.step).Methods("POST")
	r.HandleFunc("/api/stop", a.stop).Methods("POST")
	r.HandleFunc("/api/reset", a.reset).Methods("POST")
	r.HandleFunc("/api/home", a.home).Methods("POST")
	r.HandleFunc("/api/mode", a.mode).Methods("POST")
	r.HandleFunc("/api/mdi", a.mdi).Methods("POST")
	r.HandleFunc("/api/status", a.status).Methods("GET")
	r.HandleFunc("/api/log", a.execLog).Methods("GET")

	fs := http.FileServer(http.Dir(dir))
	r.PathPrefix("/data/").Handler(http.StripPrefix("/data", http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		switch req.Method {
		case "GET":
			fs.ServeHTTP(w, req)
		case "PUT":
			a.putFile(w, req)
		case "DELETE":
			a.deleteFile(w, req)
		default:
			http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		}
	})))

	r.PathPrefix("/events/").Handler(a.sse)
	go a.publishState()

	return a
}

// publishState streams controller status snapshots to SSE clients.
func (a *api) publishState() {
	for range time.NewTicker(500 * time.Millisecond).C {
		a.mx.Lock()
		st := a.ctl.Status()
		a.mx.Unlock()
		data, err := json.Marshal(st)
		if err != nil {
			log.Printf("ERROR: marshal json: %+v", err)
			continue
		}
		a.sse.SendMessage("/events/state", sse.SimpleMessage(string(data)))
	}
}

func readProgramText(a *api, req *http.Request) (string, error) {
	if name := req.FormValue("file"); name != "" {
		ok, full := safePath(a.dataDir, name)
		if !ok {
			return "", os.ErrNotExist
		}
		data, err := ioutil.ReadFile(full)
		return string(data), err
	}
	data, err := ioutil.ReadAll(req.Body)
	return string(data), err
}

func (a *api) program(w http.ResponseWriter, req *http.Request) {
	text, err := readProgramText(a, req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	p := gcode.Parser{Strict: req.FormValue("strict") == "1"}
	prog, err := p.ParseProgram(text)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	a.mx.Lock()
	err = a.ctl.LoadProgram(prog)
	a.mx.Unlock()
	if err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}

	json.NewEncoder(w).Encode(map[string]interface{}{
		"lines":    prog.Len(),
		"warnings": p.Warnings,
	})
}

type checkLine struct {
	Line     int      `json:"line"`
	Text     string   `json:"text"`
	Codes    []string `json:"codes,omitempty"`
	Describe []string `json:"describe,omitempty"`
	Vendor   []string `json:"vendor,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
	OK       bool     `json:"ok"`
}

// check parses a program without loading it and reports per-line code
// descriptions, dialect tags and validation warnings.
func (a *api) check(w http.ResponseWriter, req *http.Request) {
	text, err := readProgramText(a, req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	p := gcode.Parser{}
	prog, err := p.ParseProgram(text)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	report := make([]checkLine, 0, prog.Len())
	for _, cmd := range prog.Commands {
		cl := checkLine{Line: cmd.Line, Text: cmd.Raw}
		for _, word := range cmd.Words {
			name := word.Name()
			cl.Codes = append(cl.Codes, name)
			cl.Describe = append(cl.Describe, gcode.Describe(name))
			cl.Vendor = append(cl.Vendor, gcode.Vendor(name))
		}
		cl.OK, cl.Warnings = gcode.Validate(cmd)
		report = append(report, cl)
	}
	json.NewEncoder(w).Encode(map[string]interface{}{
		"lines":    report,
		"warnings": p.Warnings,
	})
}

func (a *api) run(w http.ResponseWriter, req *http.Request) {
	a.mx.Lock()
	defer a.mx.Unlock()

	if err := a.ctl.SetMode(machine.Auto); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	if err := a.ctl.Run(); err != nil {
		log.Printf("ERROR: run: %+v", err)
		http.Error(w, err.Error(), 500)
		return
	}
	json.NewEncoder(w).Encode(a.ctl.Status())
}

func (a *api) step(w http.ResponseWriter, req *http.Request) {
	a.mx.Lock()
	defer a.mx.Unlock()

	if err := a.ctl.SetMode(machine.Auto); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	done, err := a.ctl.Step()
	if err != nil {
		log.Printf("ERROR: step: %+v", err)
		http.Error(w, err.Error(), 500)
		return
	}
	json.NewEncoder(w).Encode(map[string]interface{}{
		"done":   done,
		"status": a.ctl.Status(),
	})
}

// stop is the emergency stop. It takes no lock: it must preempt a
// run in progress.
func (a *api) stop(w http.ResponseWriter, req *http.Request) {
	a.ctl.EmergencyStop()
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) reset(w http.ResponseWriter, req *http.Request) {
	a.mx.Lock()
	a.ctl.Reset()
	a.mx.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) home(w http.ResponseWriter, req *http.Request) {
	a.mx.Lock()
	err := a.ctl.HomeAll()
	a.mx.Unlock()
	if err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) mode(w http.ResponseWriter, req *http.Request) {
	var want machine.Mode
	switch strings.ToUpper(req.FormValue("mode")) {
	case "MANUAL":
		want = machine.Manual
	case "MDI":
		want = machine.MDI
	case "AUTO":
		want = machine.Auto
	default:
		http.Error(w, "unknown mode", http.StatusBadRequest)
		return
	}

	a.mx.Lock()
	err := a.ctl.SetMode(want)
	a.mx.Unlock()
	if err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// mdi executes one immediate block.
func (a *api) mdi(w http.ResponseWriter, req *http.Request) {
	data, err := ioutil.ReadAll(req.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	a.mx.Lock()
	err = a.ctl.ExecuteBlock(strings.TrimSpace(string(data)))
	a.mx.Unlock()
	if err != nil {
		log.Printf("ERROR: mdi: %+v", err)
		http.Error(w, err.Error(), 500)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) status(w http.ResponseWriter, req *http.Request) {
	a.mx.Lock()
	st := a.ctl.Status()
	a.mx.Unlock()
	json.NewEncoder(w).Encode(st)
}

func (a *api) execLog(w http.ResponseWriter, req *http.Request) {
	a.mx.Lock()
	lines := a.ctl.ExecutionLog()
	a.mx.Unlock()
	json.NewEncoder(w).Encode(lines)
}

func safePath(base, name string) (bool, string) {
	if filepath.Separator != '/' && strings.ContainsRune(name, filepath.Separator) {
		log.Println("invalid path '" + name + "'")
		return false, ""
	}
	dir := base
	if dir == "" {
		dir = "."
	}
	fullName := filepath.Join(dir, filepath.FromSlash(path.Clean("/"+name)))
	return true, fullName
}

func (a *api) putFile(w http.ResponseWriter, req *http.Request) {
	ok, name := safePath(a.dataDir, req.URL.Path)
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	os.MkdirAll(filepath.Dir(name), 0755)
	f, err := os.Create(name)
	if err != nil {
		log.Printf("ERROR: create '%s': %+v", name, err)
		http.Error(w, err.Error(), 500)
		return
	}
	defer f.Close()
	_, err = io.Copy(f, req.Body)
	if err != nil {
		log.Printf("ERROR: write '%s': %+v", name, err)
		http.Error(w, err.Error(), 500)
		return
	}
}

func (a *api) deleteFile(w http.ResponseWriter, req *http.Request) {
	ok, name := safePath(a.dataDir, req.URL.Path)
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	err := os.Remove(name)
	if err != nil {
		log.Printf("ERROR: delete '%s': %+v", name, err)
		http.Error(w, err.Error(), 500)
		return
	}
}
