package daq

import (
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff"
)

// Discovered describes a candidate DAQ device suitable for beam scanning.
type Discovered struct {
	// Name is a displayable name including the board model
	Name string

	// Device is the device file to pass to the opener
	Device string
}

// An Opener opens a card by device file path.
type Opener func(device string) (Card, error)

// Enumerate lists the devices matching the glob pattern (default
// "/dev/comedi?", which does not catch the per-subdevice files) that expose
// at least one analog input channel and two analog output channels.  A
// candidate that cannot be opened or inspected is skipped, not fatal to the
// whole enumeration.  Opens are retried briefly: cards are released
// asynchronously by other processes and can be transiently busy.
func Enumerate(pattern string, open Opener) []Discovered {
	if pattern == "" {
		pattern = "/dev/comedi?"
	}
	names, err := filepath.Glob(pattern)
	if err != nil {
		return nil
	}

	var found []Discovered
	for _, n := range names {
		var card Card
		op := func() error {
			c, err := open(n)
			if err != nil {
				return err
			}
			card = c
			return nil
		}
		err := backoff.Retry(op, &backoff.ExponentialBackOff{
			InitialInterval:     10 * time.Millisecond,
			RandomizationFactor: 0.5,
			Multiplier:          2,
			MaxInterval:         100 * time.Millisecond,
			MaxElapsedTime:      500 * time.Millisecond,
			Clock:               backoff.SystemClock})
		if err != nil {
			continue
		}
		if d, ok := inspect(card, n); ok {
			found = append(found, d)
		}
		card.Close()
	}
	return found
}

// inspect checks one open card for the scanning capability set.
func inspect(card Card, device string) (Discovered, bool) {
	ai, err := card.SubdeviceByType(AnalogInput)
	if err != nil {
		return Discovered{}, false
	}
	n, err := card.NChannels(ai)
	if err != nil || n < 1 {
		return Discovered{}, false
	}
	ao, err := card.SubdeviceByType(AnalogOutput)
	if err != nil {
		return Discovered{}, false
	}
	n, err = card.NChannels(ao)
	if err != nil || n < 2 {
		return Discovered{}, false
	}
	return Discovered{Name: "SEM/" + card.BoardName(), Device: device}, true
}
