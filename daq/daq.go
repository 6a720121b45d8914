/*Package daq drives a scanning electron microscope through the "external
X/Y" line of the column: a DAQ card generates the two-axis beam position
waveform on its analog outputs while the analog inputs digitize the detector
intensity.  The card is handled through the comedi streaming interface.

The package is organized around a single owned session:

 card, err := comedi.Open("/dev/comedi0")
 if err != nil {
 	log.Fatal(err)
 }
 d, err := daq.New(card)
 if err != nil {
 	log.Fatal(err)
 }
 defer d.Close()

 // read 300 intensity samples at 10 kHz
 samples, err := d.Acquire(0, 100*time.Microsecond, 300)

 // raster the beam over a 512x512 grid spanning +/-5 V on both axes
 traj := daq.Raster(512, 512, [2][2]float64{{-5, 5}, {-5, 5}})
 err = d.Generate([]int{0, 1}, 100*time.Microsecond, daq.Matrix(traj))

All conversion between raw codes and volts goes through a per
(subdevice, channel, range, direction) converter cache backed by the device
calibration, falling back to a linear approximation when no calibration
applies.
*/
package daq

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"time"

	"golang.org/x/time/rate"
)

var (
	// ErrNoFittingRange is generated when a requested voltage window exceeds
	// every range the hardware offers on an output channel
	ErrNoFittingRange = errors.New("data range is too wide for hardware")

	// ErrCommandRejected is generated when the two-pass command test does
	// not converge, i.e. the hardware refused the streaming command
	ErrCommandRejected = errors.New("device rejected streaming command")

	// ErrGenerationTimeout is generated when an output command's running
	// flag never clears in time; the generated waveform may be incomplete
	ErrGenerationTimeout = errors.New("output command stopped due to timeout")
)

// completion polling is millisecond-granularity against a wall-clock
// deadline of the expected duration plus ten percent plus one second
const (
	pollInterval    = time.Millisecond
	timeoutSlack    = time.Second
	timeoutFraction = 10 // denominator: expected/10 = +10%
)

// DAQ is one open session on a DAQ card, owning its streaming state, its
// calibration, and the converter caches.  It is not safe for concurrent use;
// callers serialize access (the HTTP layer does so with a locker).
type DAQ struct {
	card Card
	name string

	ai int
	ao int

	cal Calibration

	toPhys   map[convKey]func(uint32) float64
	fromPhys map[convKey]func(float64) uint32
}

// New builds a session on an opened card.  The card must expose at least one
// analog input and one analog output subdevice; a card without either is
// returned as an error with nothing left open on the session.  Calibration
// is loaded once here and is read-only afterward.
func New(card Card) (*DAQ, error) {
	ai, err := card.SubdeviceByType(AnalogInput)
	if err != nil {
		return nil, fmt.Errorf("failed to find an analog input subdevice: %w", err)
	}
	ao, err := card.SubdeviceByType(AnalogOutput)
	if err != nil {
		return nil, fmt.Errorf("failed to find an analog output subdevice: %w", err)
	}
	d := &DAQ{
		card:     card,
		name:     card.BoardName(),
		ai:       ai,
		ao:       ao,
		toPhys:   make(map[convKey]func(uint32) float64),
		fromPhys: make(map[convKey]func(float64) uint32),
	}
	d.initCalibration()
	return d, nil
}

// HwName returns a displayable string for the hardware.
func (d *DAQ) HwName() string {
	return d.card.BoardName()
}

// SwVersion returns a displayable driver name and version.
func (d *DAQ) SwVersion() string {
	v := d.card.VersionCode()
	return fmt.Sprintf("%s v%d.%d.%d", d.card.DriverName(), (v>>16)&0xff, (v>>8)&0xff, v&0xff)
}

// Close releases the calibration and then the card.  It may be called
// multiple times; the session must not be used afterward.
func (d *DAQ) Close() error {
	if d.cal != nil {
		d.cal.Close()
		d.cal = nil
	}
	if d.card != nil {
		err := d.card.Close()
		d.card = nil
		return err
	}
	return nil
}

// sampleWidth returns the byte width of one raw sample on the subdevice.
// Width comes only from the subdevice's reported sample flag, never from an
// assumption about the board.
func (d *DAQ) sampleWidth(subdevice int) (int, error) {
	flags, err := d.card.SubdeviceFlags(subdevice)
	if err != nil {
		return 0, fmt.Errorf("failed to get subdevice %d flags: %w", subdevice, err)
	}
	if flags&FlagLongSample != 0 {
		return 4, nil
	}
	return 2, nil
}

// findRange returns the index of the tightest range on (subdevice, channel)
// that covers [min, max] volts.
func (d *DAQ) findRange(subdevice, channel int, min, max float64) (int, error) {
	n, err := d.card.NRanges(subdevice, channel)
	if err != nil {
		return -1, err
	}
	best := -1
	var bestSpan float64
	for i := 0; i < n; i++ {
		r, err := d.card.RangeInfo(subdevice, channel, i)
		if err != nil {
			return -1, err
		}
		if r.Min > min || r.Max < max {
			continue
		}
		if best < 0 || r.Span() < bestSpan {
			best = i
			bestSpan = r.Span()
		}
	}
	if best < 0 {
		return -1, fmt.Errorf("no range on subdevice %d channel %d covers %g to %g V", subdevice, channel, min, max)
	}
	return best, nil
}

// timedCommand builds a validated streaming command for the channel set at
// the given scan period.  The card supplies a generic skeleton which is then
// overwritten with the caller's channel list, a fixed-count stop condition,
// and optionally an internal start trigger.  The first test pass may adjust
// parameters to hardware constraints; the second pass must report the
// command clean or it is rejected as unsatisfiable.
func (d *DAQ) timedCommand(subdevice int, chans []ChanSpec, period time.Duration, nscans uint32, softStart bool) (Command, error) {
	// the hardware takes the scan period as 32 bits of nanoseconds
	if ns := period.Nanoseconds(); ns <= 0 || ns > math.MaxUint32 {
		return Command{}, fmt.Errorf("scan period %s is outside the commandable 1 ns to %s window", period, time.Duration(math.MaxUint32))
	}
	cmd, err := d.card.GenericTimedCommand(subdevice, len(chans), uint32(period.Nanoseconds()))
	if err != nil {
		return Command{}, fmt.Errorf("failed to build generic timed command: %w", err)
	}
	cmd.Chanlist = chans
	cmd.ScanEndSrc = TrigCount
	cmd.ScanEndArg = uint32(len(chans))
	cmd.StopSrc = TrigCount
	cmd.StopArg = nscans
	if softStart {
		// start only on the manual trigger, so data can be staged before
		// motion begins
		cmd.StartSrc = TrigInt
		cmd.StartArg = 0
	}

	if _, err := d.card.TestCommand(&cmd); err != nil {
		return Command{}, fmt.Errorf("command test failed: %w", err)
	}
	code, err := d.card.TestCommand(&cmd)
	if err != nil {
		return Command{}, fmt.Errorf("command test failed: %w", err)
	}
	if code != 0 {
		return Command{}, fmt.Errorf("%w: test still adjusting after two passes (code %d)", ErrCommandRejected, code)
	}
	return cmd, nil
}

// Acquire reads n samples from the given analog input channel at the given
// sample period and returns them in volts.  A range covering 0-10 V is
// selected by nearest fit; if fewer samples than requested arrive, a warning
// is logged and the partial result is returned.  The input subdevice is
// always cancelled afterward to release its streaming state.
func (d *DAQ) Acquire(channel int, period time.Duration, n int) ([]float64, error) {
	if n <= 0 {
		return nil, fmt.Errorf("sample count must be positive, got %d", n)
	}

	rng, err := d.findRange(d.ai, channel, 0, 10)
	if err != nil {
		log.Printf("couldn't find a fitting input range, using range 0: %v", err)
		rng = 0
	}
	chans := []ChanSpec{{Channel: channel, Range: rng, Aref: ArefGround}}

	cmd, err := d.timedCommand(d.ai, chans, period, uint32(n), false)
	if err != nil {
		return nil, err
	}
	if err := d.card.ExecCommand(cmd); err != nil {
		return nil, fmt.Errorf("failed to start acquisition: %w", err)
	}
	defer func() {
		if err := d.card.Cancel(d.ai); err != nil {
			log.Printf("failed to cancel command on AI: %v", err)
		}
	}()

	width, err := d.sampleWidth(d.ai)
	if err != nil {
		return nil, err
	}
	want := n * len(chans) * width
	buf := make([]byte, want)
	got, err := io.ReadFull(d.card.Stream(), buf)
	if err != nil && got == 0 {
		return nil, fmt.Errorf("failed to read acquisition stream: %w", err)
	}
	samples := got / width
	if samples < n {
		log.Printf("got %d samples instead of the %d expected", samples, n)
	}

	conv, err := d.converterToPhys(d.ai, channel, rng)
	if err != nil {
		return nil, err
	}
	out := make([]float64, samples)
	for i := 0; i < samples; i++ {
		out[i] = conv(decodeSample(buf[i*width:], width))
	}
	return out, nil
}

// Generate plays the waveform in data on the given analog output channels.
// data is time-major: data[t][c] is the voltage of channels[c] at scan t.
// For each channel the tightest range covering that channel's actual span is
// selected; a span too wide for any range is a capability error.  The device
// ring buffer is preloaded before the internal trigger fires, then the
// remainder is streamed, and the call blocks until the hardware reports
// completion or the timeout deadline passes.
func (d *DAQ) Generate(channels []int, period time.Duration, data [][]float64) error {
	nscans := len(data)
	if nscans == 0 {
		return fmt.Errorf("sample count must be positive")
	}
	nchans := len(data[0])
	if len(channels) != nchans {
		return fmt.Errorf("got %d channels for data of scan width %d", len(channels), nchans)
	}
	for t, row := range data {
		if len(row) != nchans {
			return fmt.Errorf("scan %d has %d values, want %d", t, len(row), nchans)
		}
	}

	// tightest fitting range per channel, over the data actually sent
	chans := make([]ChanSpec, nchans)
	for i, ch := range channels {
		lo, hi := columnLimits(data, i)
		rng, err := d.findRange(d.ao, ch, lo, hi)
		if err != nil {
			return fmt.Errorf("%w: %g to %g V on channel %d", ErrNoFittingRange, lo, hi, ch)
		}
		chans[i] = ChanSpec{Channel: ch, Range: rng, Aref: ArefGround}
	}

	cmd, err := d.timedCommand(d.ao, chans, period, uint32(nscans), true)
	if err != nil {
		return err
	}
	// readying the subdevice with the command; must happen before anything
	// is written to the stream
	if err := d.card.ExecCommand(cmd); err != nil {
		return fmt.Errorf("failed to arm output command: %w", err)
	}

	width, err := d.sampleWidth(d.ao)
	if err != nil {
		return err
	}
	buf := make([]byte, nscans*nchans*width)
	convs := make([]func(float64) uint32, nchans)
	for i := range convs {
		convs[i], err = d.converterFromPhys(d.ao, channels[i], chans[i].Range)
		if err != nil {
			return err
		}
	}
	for t := 0; t < nscans; t++ {
		for c := 0; c < nchans; c++ {
			encodeSample(buf[(t*nchans+c)*width:], convs[c](data[t][c]), width)
		}
	}

	// preload as much as the device ring buffer holds, fire the manual
	// trigger, then stream the rest.  Reordering any of this causes
	// command rejection or underrun at start.
	devBytes, err := d.card.BufferSize(d.ao)
	if err != nil {
		return fmt.Errorf("failed to get output buffer size: %w", err)
	}
	preload := devBytes - devBytes%width
	if preload > len(buf) {
		preload = len(buf)
	}
	stream := d.card.Stream()
	if _, err := stream.Write(buf[:preload]); err != nil {
		return fmt.Errorf("failed to preload output buffer: %w", err)
	}

	start := time.Now()
	if err := d.card.InternalTrigger(d.ao); err != nil {
		return fmt.Errorf("failed to trigger output command: %w", err)
	}
	if _, err := stream.Write(buf[preload:]); err != nil {
		return fmt.Errorf("failed to stream output data: %w", err)
	}

	// sleep out the expected duration, then poll the running flag until it
	// clears or the deadline passes
	expected := time.Duration(nscans) * period
	time.Sleep(time.Until(start.Add(expected)))
	var (
		deadline   = start.Add(expected + expected/timeoutFraction + timeoutSlack)
		limiter    = rate.NewLimiter(rate.Every(pollInterval), 1)
		hadTimeout = true
		flagsErr   error
	)
	for time.Now().Before(deadline) {
		flags, err := d.card.SubdeviceFlags(d.ao)
		if err != nil {
			flagsErr = fmt.Errorf("failed to get subdevice %d flags: %w", d.ao, err)
			break
		}
		if flags&FlagRunning == 0 {
			hadTimeout = false
			break
		}
		limiter.Wait(context.Background())
	}

	// finishing a streamed write fully requires a cancel to clear the busy
	// state, whether or not completion was observed
	if err := d.card.Cancel(d.ao); err != nil {
		log.Printf("failed to cancel command on AO, might be impossible to write more data: %v", err)
	}
	if flagsErr != nil {
		return flagsErr
	}
	if hadTimeout {
		return fmt.Errorf("%w after %s", ErrGenerationTimeout, time.Since(start).Round(time.Millisecond))
	}
	return nil
}

// Temperature reads the SCB-68 connector block temperature sensor, wired
// differentially on AI channel 0.  The sensor outputs 10 mV/degC, so
// T = 100 * V.
func (d *DAQ) Temperature() (float64, error) {
	const channel = 0
	rng, err := d.findRange(d.ai, channel, 0, 1)
	if err != nil {
		log.Printf("couldn't find a fitting range, using range 0: %v", err)
		rng = 0
	}
	raw, err := d.card.DataRead(d.ai, channel, rng, ArefDiff)
	if err != nil {
		return 0, fmt.Errorf("failed to read temperature: %w", err)
	}
	conv, err := d.converterToPhys(d.ai, channel, rng)
	if err != nil {
		return 0, err
	}
	return conv(raw) * 100, nil
}

// columnLimits returns the min and max of column c of a time-major matrix.
func columnLimits(data [][]float64, c int) (float64, float64) {
	lo, hi := data[0][c], data[0][c]
	for _, row := range data {
		v := row[c]
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return lo, hi
}

// decodeSample reads one raw sample from b.  Wide samples are taken
// directly; narrow ones are widened to the converter's input type.
func decodeSample(b []byte, width int) uint32 {
	if width == 4 {
		return binary.LittleEndian.Uint32(b)
	}
	return uint32(binary.LittleEndian.Uint16(b))
}

// encodeSample writes one raw sample to b.
func encodeSample(b []byte, v uint32, width int) {
	if width == 4 {
		binary.LittleEndian.PutUint32(b, v)
		return
	}
	binary.LittleEndian.PutUint16(b, uint16(v))
}
