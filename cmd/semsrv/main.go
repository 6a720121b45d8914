package main

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/theckman/yacspin"

	yml "gopkg.in/yaml.v2"

	"github.com/sembeam/sembeam/comedi"
	"github.com/sembeam/sembeam/daq"
)

var (
	// Version is the version number.  Typically injected via ldflags with git build
	Version = "1"

	// ConfigFileName is what it sounds like
	ConfigFileName = "semsrv.yml"
	k              = koanf.New(".")
)

func setupconfig() {
	k.Load(structs.Provider(Config{
		Addr:   ":8000",
		Device: "/dev/comedi0",
		Recorder: RecorderSetup{
			Root:   "frames",
			Prefix: "sem-",
		}}, "koanf"), nil)
	if err := k.Load(file.Provider(ConfigFileName), yaml.Parser()); err != nil {
		errtxt := err.Error()
		if !strings.Contains(errtxt, "no such") { // file missing, who cares
			log.Fatalf("error loading config: %v", err)
		}
	}
}

func root() {
	str := `semsrv drives a DAQ card as an SEM beam scanner and exposes an HTTP
interface to it.  Outputs steer the beam, inputs digitize the detector, and
acquired frames can be recorded to disk as FITS.

Usage:
	semsrv <command>

Commands:
	run
	scan
	help
	mkconf
	conf
	version`
	fmt.Println(str)
}

func help() {
	str := `semsrv is amenable to configuration via its .yaml file.  For a primer on
YAML, see https://yaml.org/start.html

The Device field names the comedi device node of the card, e.g. /dev/comedi0.
Use "semsrv scan" to list the cards on this machine capable of beam scanning
(at least one analog input and two analog outputs).

With Mock: true the server runs against a simulated card, useful for
developing clients away from the microscope.

The Recorder section controls saving acquired frames to disk; frames land
under Root/yyyy-mm-dd/ with incrementing filenames.  The recorder can also be
reconfigured at runtime through the /autowrite routes.`
	fmt.Println(str)
}

func mkconf() {
	c := Config{}
	err := k.Unmarshal("", &c)
	if err != nil {
		log.Fatal(err)
	}
	f, err := os.Create(ConfigFileName)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()
	err = yml.NewEncoder(f).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func printconf() {
	c := Config{}
	k.Unmarshal("", &c)
	err := yml.NewEncoder(os.Stdout).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func pversion() {
	fmt.Printf("semsrv version %v\n", Version)
}

func scan() {
	cfg := yacspin.Config{
		Frequency:     100 * time.Millisecond,
		CharSet:       yacspin.CharSets[59],
		Suffix:        " scanning for DAQ devices",
		StopCharacter: "✓",
		StopColors:    []string{"fgGreen"},
	}
	spinner, err := yacspin.New(cfg)
	if err != nil {
		log.Fatal(err)
	}
	spinner.Start()
	found := daq.Enumerate("", func(device string) (daq.Card, error) {
		return comedi.Open(device)
	})
	spinner.Stop()
	if len(found) == 0 {
		fmt.Println("no scanning-capable DAQ devices found")
		return
	}
	for _, d := range found {
		fmt.Printf("%s\t%s\n", d.Device, d.Name)
	}
}

func run() {
	c := Config{}
	err := k.Unmarshal("", &c)
	if err != nil {
		log.Fatal(err)
	}
	mux := BuildMux(c)
	log.Println("now listening for requests at ", c.Addr)
	log.Fatal(http.ListenAndServe(c.Addr, mux))
}

func main() {
	var cmd string
	args := os.Args
	if len(args) == 1 {
		root()
		return
	}
	setupconfig()
	cmd = args[1]
	cmd = strings.ToLower(cmd)
	switch cmd {
	case "help":
		help()
		return
	case "mkconf":
		mkconf()
		return
	case "conf":
		printconf()
		return
	case "run":
		run()
		return
	case "scan":
		scan()
		return
	case "version":
		pversion()
		return
	default:
		log.Fatal("unknown command")
	}
}
