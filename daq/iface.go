package daq

import "io"

// SubdeviceType identifies the function of a subdevice on a DAQ card.
type SubdeviceType int

const (
	// AnalogInput is an A/D conversion subdevice
	AnalogInput SubdeviceType = iota

	// AnalogOutput is a D/A conversion subdevice
	AnalogOutput
)

// SubdeviceFlags is the capability bitfield reported by a subdevice.
// The values mirror the comedi kernel interface.
type SubdeviceFlags uint32

const (
	// FlagSoftCalibrated means conversion uses a calibration file parsed in
	// user space rather than coefficients burned into the board
	FlagSoftCalibrated SubdeviceFlags = 0x2000

	// FlagRunning means a streaming command is executing on the subdevice
	FlagRunning SubdeviceFlags = 0x08000000

	// FlagLongSample means raw samples are 32 bits wide instead of 16
	FlagLongSample SubdeviceFlags = 0x10000000
)

// trigger sources for streaming commands, mirroring comedi's TRIG_* values
const (
	// TrigNone never triggers
	TrigNone uint32 = 0x01

	// TrigNow triggers immediately on submission
	TrigNow uint32 = 0x02

	// TrigFollow triggers on completion of the enclosing event
	TrigFollow uint32 = 0x04

	// TrigTimer triggers on a periodic clock; the argument is the period in ns
	TrigTimer uint32 = 0x10

	// TrigCount triggers after a number of occurrences; as a stop source the
	// argument is the total scan count
	TrigCount uint32 = 0x20

	// TrigExt triggers on an external line
	TrigExt uint32 = 0x40

	// TrigInt triggers on a software-generated internal event, allowing a
	// command to be armed and then started manually
	TrigInt uint32 = 0x80
)

// analog reference modes
const (
	// ArefGround measures against analog ground
	ArefGround = 0

	// ArefCommon measures against the common reference
	ArefCommon = 1

	// ArefDiff measures differentially between a channel pair
	ArefDiff = 2
)

// ConversionDirection selects which way a converter runs.
type ConversionDirection int

const (
	// ToPhysical converts raw codes to physical units (volts)
	ToPhysical ConversionDirection = iota

	// FromPhysical converts physical units to raw codes
	FromPhysical
)

// Range is a physical voltage window a channel can digitize or generate
// within.  Min and Max are in volts.
type Range struct {
	Min float64
	Max float64
}

// Span is the width of the range in volts.
func (r Range) Span() float64 {
	return r.Max - r.Min
}

// ChanSpec selects a channel, its range, and its analog reference for one
// slot of a command's scan.  It is the unpacked form of comedi's CR_PACK.
type ChanSpec struct {
	Channel int
	Range   int
	Aref    int
}

// Command describes a timed streaming operation executed autonomously by the
// card: which channels to scan, how fast, when to start, and when to stop.
// Commands are built fresh for each operation and must survive the two-pass
// test protocol before submission.
type Command struct {
	Subdevice int

	StartSrc uint32
	StartArg uint32

	ScanBeginSrc uint32
	ScanBeginArg uint32

	ConvertSrc uint32
	ConvertArg uint32

	ScanEndSrc uint32
	ScanEndArg uint32

	StopSrc uint32
	StopArg uint32

	Chanlist []ChanSpec
}

// Polynomial is a calibration polynomial expanded about Origin, i.e.
// p(x) = sum_i Coefficients[i] * (x - Origin)^i.
type Polynomial struct {
	Coefficients []float64
	Origin       float64
}

// Eval evaluates the polynomial at x.
func (p Polynomial) Eval(x float64) float64 {
	var (
		sum  float64
		term = 1.0
	)
	for _, c := range p.Coefficients {
		sum += c * term
		term *= x - p.Origin
	}
	return sum
}

// Calibration is a parsed software calibration: a table of per
// (subdevice, channel, range, direction) polynomials.  It is read-only after
// parse and must be released with Close when the session ends.
type Calibration interface {
	// Converter returns the polynomial fit for the given key.  It fails if
	// no fit exists, notably when asking for the direction opposite to how
	// an order > 1 polynomial was fit.
	Converter(subdevice, channel, rng int, dir ConversionDirection) (Polynomial, error)

	// Close releases the parsed calibration
	Close() error
}

// Card is the hardware surface the acquisition engine drives.  The comedi
// package provides the real implementation; MockCard provides a simulated
// one for tests and development without the card installed.
type Card interface {
	// BoardName returns the hardware model name
	BoardName() string

	// DriverName returns the kernel driver name
	DriverName() string

	// VersionCode returns the packed driver version (three bytes, major
	// in the third-lowest)
	VersionCode() uint32

	// NSubdevices returns the number of subdevices on the card
	NSubdevices() int

	// SubdeviceByType finds the first subdevice of the given type
	SubdeviceByType(typ SubdeviceType) (int, error)

	// SubdeviceFlags returns the capability bitfield of a subdevice
	SubdeviceFlags(subdevice int) (SubdeviceFlags, error)

	// NChannels returns the channel count of a subdevice
	NChannels(subdevice int) (int, error)

	// Maxdata returns the maximum raw code of a channel
	Maxdata(subdevice, channel int) (uint32, error)

	// NRanges returns the number of selectable ranges on a channel
	NRanges(subdevice, channel int) (int, error)

	// RangeInfo returns the physical window of a range index
	RangeInfo(subdevice, channel, rng int) (Range, error)

	// DataRead performs a single synchronous conversion
	DataRead(subdevice, channel, rng, aref int) (uint32, error)

	// GenericTimedCommand asks the card for a command skeleton suited to
	// scanning nchans channels with the given scan period
	GenericTimedCommand(subdevice, nchans int, periodNS uint32) (Command, error)

	// TestCommand validates a command in place.  A nonzero return means the
	// card adjusted or objected to part of the command; zero means it will
	// be accepted as-is.
	TestCommand(cmd *Command) (int, error)

	// ExecCommand submits a command.  Input commands with an immediate
	// start begin streaming; output commands with an internal trigger are
	// armed and wait for InternalTrigger.
	ExecCommand(cmd Command) error

	// InternalTrigger fires the software start trigger on a subdevice
	InternalTrigger(subdevice int) error

	// Cancel stops any command on the subdevice and releases it
	Cancel(subdevice int) error

	// BufferSize returns the size in bytes of the subdevice's ring buffer
	BufferSize(subdevice int) (int, error)

	// HardcalConverter returns the board-reported conversion polynomial for
	// hardware-calibrated subdevices
	HardcalConverter(subdevice, channel, rng int, dir ConversionDirection) (Polynomial, error)

	// DefaultCalibrationPath resolves the conventional location of the
	// device's software calibration file
	DefaultCalibrationPath() (string, error)

	// ParseCalibration parses a software calibration file
	ParseCalibration(path string) (Calibration, error)

	// Stream is the raw byte channel used for bulk sample transfer.  Reads
	// and writes must be in exact multiples of sample width times channel
	// count.
	Stream() io.ReadWriter

	// Close releases the card.  The card must not be used afterward.
	Close() error
}
