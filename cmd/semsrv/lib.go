package main

import (
	"log"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	goji "goji.io"

	"github.com/sembeam/sembeam/comedi"
	"github.com/sembeam/sembeam/daq"
	"github.com/sembeam/sembeam/imgrec"
	"github.com/sembeam/sembeam/server/middleware/locker"
)

// RecorderSetup holds the initialization parameters of the frame recorder.
type RecorderSetup struct {
	// Root is the folder recordings are saved under
	Root string `yaml:"Root"`

	// Prefix is the filename prefix for each frame
	Prefix string `yaml:"Prefix"`

	Enabled bool `yaml:"Enabled"`
}

// Config holds the initialization parameters of the server.  It is populated
// from the yaml config file.
type Config struct {
	// Addr is the address to listen at
	Addr string `yaml:"Addr"`

	// Device is the device file of the DAQ card, e.g. /dev/comedi0
	Device string `yaml:"Device"`

	// Mock replaces the hardware with a simulated card
	Mock bool `yaml:"Mock"`

	Recorder RecorderSetup `yaml:"Recorder"`
}

// BuildMux opens the card described by the config and wires its HTTP
// interface, lock middleware, and recorder controls into a router.
func BuildMux(c Config) chi.Router {
	var (
		card daq.Card
		err  error
	)
	if c.Mock {
		card = daq.NewMockCard()
	} else {
		card, err = comedi.Open(c.Device)
		if err != nil {
			log.Fatal(err)
		}
	}
	d, err := daq.New(card)
	if err != nil {
		log.Fatal(err)
	}
	rec := &imgrec.Recorder{
		Root:    c.Recorder.Root,
		Prefix:  c.Recorder.Prefix,
		Enabled: c.Recorder.Enabled,
	}

	httper := daq.NewHTTPWrapper(d, rec)
	imgrec.NewHTTPWrapper(rec).Inject(httper)
	lock := locker.New()
	locker.Inject(httper, lock)

	mux := goji.NewMux()
	mux.Use(lock.Check)
	httper.RT().Bind(mux)

	root := chi.NewRouter()
	root.Use(middleware.Logger)
	root.Mount("/", mux)
	return root
}
