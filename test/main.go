// Cross-check tool: runs the same program through our controller and
// through the gocnc reference VM, then prints both final positions.
package main

import (
	"flag"
	"fmt"
	"io/ioutil"
	"log"
	"os"
	"strings"

	refgcode "github.com/joushou/gocnc/gcode"
	"github.com/joushou/gocnc/vm"

	"github.com/Thomas-Heisig/MODAX-sub001/coord"
	"github.com/Thomas-Heisig/MODAX-sub001/gcode"
	"github.com/Thomas-Heisig/MODAX-sub001/machine"
	"github.com/Thomas-Heisig/MODAX-sub001/motion"
)

type captureDispatcher struct {
	last coord.Point
}

func (d *captureDispatcher) Dispatch(mv motion.Move) error {
	d.last = mv.End
	return nil
}

func (d *captureDispatcher) Abort() (coord.Point, bool) { return d.last, false }

func main() {
	log.SetFlags(log.Lshortfile)
	file := flag.String("f", "", "Program file; stdin when empty.")
	flag.Parse()

	var text string
	if *file != "" {
		data, err := ioutil.ReadFile(*file)
		if err != nil {
			log.Fatal(err)
		}
		text = string(data)
	} else {
		data, err := ioutil.ReadAll(os.Stdin)
		if err != nil {
			log.Fatal(err)
		}
		text = string(data)
	}
	text = strings.TrimSpace(text)

	disp := &captureDispatcher{}
	ctl := machine.New(machine.Config{Dispatcher: disp})
	if err := ctl.Frames().SetWorkOffset("G54", 'X', 0); err != nil {
		log.Fatal(err)
	}
	if err := ctl.Frames().SetActive("G54"); err != nil {
		log.Fatal(err)
	}
	if err := ctl.HomeAll(); err != nil {
		log.Fatal(err)
	}
	if err := ctl.LoadProgram(gcode.MustParse(text)); err != nil {
		log.Fatal(err)
	}
	if err := ctl.SetMode(machine.Auto); err != nil {
		log.Fatal(err)
	}
	if err := ctl.Run(); err != nil {
		log.Fatal("run: ", err)
	}

	fmt.Println("modax:", ctl.MachinePosition())

	doc, err := refgcode.Parse(text)
	if err != nil {
		log.Fatal("reference parse: ", err)
	}
	var m vm.Machine
	m.Init()
	m.Process(doc)
	m.Dump()
}
