package daq

import (
	"log"
	"math"

	"github.com/sembeam/sembeam/util"
)

// convKey identifies a cached converter.  Direction is implicit in which
// cache the entry lives in.
type convKey struct {
	subdevice int
	channel   int
	rng       int
}

// initCalibration loads the device calibration if possible, and is required
// for converter resolution to use calibrated conversion.  A device with no
// soft-calibrated subdevice is simply uncalibrated; a soft-calibrated device
// whose calibration file cannot be resolved or parsed degrades to the same
// state with a warning, and remains usable through the linear fallback.
func (d *DAQ) initCalibration() {
	soft := false
	for i := 0; i < d.card.NSubdevices(); i++ {
		flags, err := d.card.SubdeviceFlags(i)
		if err != nil {
			continue
		}
		if flags&FlagSoftCalibrated != 0 {
			soft = true
			break
		}
	}
	if !soft {
		return
	}

	path, err := d.card.DefaultCalibrationPath()
	if err != nil {
		log.Printf("failed to read calibration information: %v", err)
		return
	}
	cal, err := d.card.ParseCalibration(path)
	if err != nil {
		log.Printf("failed to read calibration information, you might want to calibrate the device with: sudo comedi_soft_calibrate -f %s (%v)", d.name, err)
		return
	}
	d.cal = cal
}

// calibratedPoly resolves a calibration polynomial for the key, or ok=false
// if the device is uncalibrated for the key and conversion should fall back
// to the linear approximation.
func (d *DAQ) calibratedPoly(subdevice, channel, rng int, dir ConversionDirection) (Polynomial, bool) {
	flags, err := d.card.SubdeviceFlags(subdevice)
	if err != nil {
		log.Printf("failed to get subdevice %d flags: %v", subdevice, err)
		return Polynomial{}, false
	}
	if flags&FlagSoftCalibrated == 0 {
		// hardware-calibrated
		p, err := d.card.HardcalConverter(subdevice, channel, rng, dir)
		if err != nil {
			log.Printf("failed to get converter from calibration: %v", err)
			return Polynomial{}, false
		}
		return p, true
	}
	if d.cal != nil {
		// soft-calibrated.  The lookup fails when asking for the direction
		// opposite to how the polynomial was fit, for fits of order > 1
		// (e.g. AI on the NI PCI-6251); the linear fallback covers that
		// direction.
		p, err := d.cal.Converter(subdevice, channel, rng, dir)
		if err != nil {
			log.Printf("failed to get converter from calibration: %v", err)
			return Polynomial{}, false
		}
		return p, true
	}
	return Polynomial{}, false
}

// converterToPhys returns the raw -> volts converter for the key, creating
// and caching it on first use.  Cached converters are valid for the life of
// the session; ranges and calibration are session-static.
func (d *DAQ) converterToPhys(subdevice, channel, rng int) (func(uint32) float64, error) {
	key := convKey{subdevice, channel, rng}
	if f, ok := d.toPhys[key]; ok {
		return f, nil
	}
	var f func(uint32) float64
	if p, ok := d.calibratedPoly(subdevice, channel, rng, ToPhysical); ok {
		f = func(raw uint32) float64 { return p.Eval(float64(raw)) }
	} else {
		maxdata, rinfo, err := d.linearInfo(subdevice, channel, rng)
		if err != nil {
			return nil, err
		}
		f = func(raw uint32) float64 { return toPhys(raw, rinfo, maxdata) }
	}
	d.toPhys[key] = f
	return f, nil
}

// converterFromPhys returns the volts -> raw converter for the key, creating
// and caching it on first use.
func (d *DAQ) converterFromPhys(subdevice, channel, rng int) (func(float64) uint32, error) {
	key := convKey{subdevice, channel, rng}
	if f, ok := d.fromPhys[key]; ok {
		return f, nil
	}
	var f func(float64) uint32
	if p, ok := d.calibratedPoly(subdevice, channel, rng, FromPhysical); ok {
		f = func(v float64) uint32 { return uint32(math.Round(p.Eval(v))) }
	} else {
		maxdata, rinfo, err := d.linearInfo(subdevice, channel, rng)
		if err != nil {
			return nil, err
		}
		f = func(v float64) uint32 { return fromPhys(v, rinfo, maxdata) }
	}
	d.fromPhys[key] = f
	return f, nil
}

// linearInfo gathers what the linear converter of last resort needs.
func (d *DAQ) linearInfo(subdevice, channel, rng int) (uint32, Range, error) {
	maxdata, err := d.card.Maxdata(subdevice, channel)
	if err != nil {
		return 0, Range{}, err
	}
	rinfo, err := d.card.RangeInfo(subdevice, channel, rng)
	if err != nil {
		return 0, Range{}, err
	}
	return maxdata, rinfo, nil
}

// toPhys linearly interpolates a raw code over the range.  Codes beyond
// maxdata convert to NaN, matching the out-of-range behavior configured at
// session start.
func toPhys(raw uint32, r Range, maxdata uint32) float64 {
	if raw > maxdata {
		return math.NaN()
	}
	return r.Min + float64(raw)/float64(maxdata)*r.Span()
}

// fromPhys inverts toPhys, clamping to the range and rounding to the nearest
// code.
func fromPhys(v float64, r Range, maxdata uint32) uint32 {
	if math.IsNaN(v) {
		return 0
	}
	v = util.Clamp(v, r.Min, r.Max)
	return uint32(math.Round((v - r.Min) / r.Span() * float64(maxdata)))
}
