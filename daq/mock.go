package daq

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"
)

// mock subdevice layout
const (
	mockSubAI = 0
	mockSubAO = 1
)

// mockClockNS is the simulated timing clock; scan periods that are not a
// multiple are rounded down on the first command test pass.
const mockClockNS = 50

// CalKey identifies one polynomial in a MockCalibration table.
type CalKey struct {
	Subdevice int
	Channel   int
	Range     int
	Direction ConversionDirection
}

// MockCalibration is a parsed software calibration for the mock card.
type MockCalibration struct {
	Polynomials map[CalKey]Polynomial
}

// Converter looks up the polynomial fit for the key.
func (m *MockCalibration) Converter(subdevice, channel, rng int, dir ConversionDirection) (Polynomial, error) {
	p, ok := m.Polynomials[CalKey{subdevice, channel, rng, dir}]
	if !ok {
		return Polynomial{}, fmt.Errorf("no polynomial fit for s%dc%dr%d direction %d", subdevice, channel, rng, dir)
	}
	return p, nil
}

// Close satisfies Calibration; there is nothing to release.
func (m *MockCalibration) Close() error { return nil }

// MockCard is a simulated DAQ card: subdevice 0 is analog input, subdevice 1
// is analog output.  Input commands synthesize a deterministic ramp; output
// commands count the bytes streamed to them and report running until the
// full count arrives after the trigger.  Zero-value knobs give an
// uncalibrated 12-bit card.
type MockCard struct {
	// MaxData is the maximum raw code on every channel
	MaxData uint32

	// LongSamples selects 32-bit raw samples instead of 16
	LongSamples bool

	// AIRanges and AORanges are the selectable windows per side
	AIRanges []Range
	AORanges []Range

	AIChannels int
	AOChannels int

	// DeviceBufferBytes is the simulated ring buffer capacity
	DeviceBufferBytes int

	// AISample synthesizes input data; nil means raw = scan index
	AISample func(scan, chanIdx int) uint32

	// ShortScans makes acquisitions deliver this many fewer scans than
	// commanded, to exercise the short-read path
	ShortScans int

	// RejectCommands makes every command test pass keep adjusting, so the
	// two-pass protocol never converges
	RejectCommands bool

	// HangOutput keeps the output running flag set forever after trigger
	HangOutput bool

	// SoftCal marks the card software-calibrated and serves this table
	SoftCal *MockCalibration

	// CalUnparseable marks the card software-calibrated but makes the
	// calibration file fail to parse
	CalUnparseable bool

	mu          sync.Mutex
	rd          bytes.Buffer
	events      []string
	aoArmed     bool
	aoTriggered bool
	aoExpected  int
	aoReceived  int
}

// NewMockCard returns a mock resembling a 12-bit, 2-output-channel card
// with a handful of input and output ranges.
func NewMockCard() *MockCard {
	return &MockCard{
		MaxData:           4095,
		AIRanges:          []Range{{-10, 10}, {0, 10}, {0, 5}, {0, 1}},
		AORanges:          []Range{{-10, 10}, {-5, 5}, {0, 10}},
		AIChannels:        16,
		AOChannels:        2,
		DeviceBufferBytes: 32768,
	}
}

// BoardName returns the simulated hardware name.
func (c *MockCard) BoardName() string { return "mock-6251" }

// DriverName returns the simulated driver name.
func (c *MockCard) DriverName() string { return "mock" }

// VersionCode returns a fixed packed version.
func (c *MockCard) VersionCode() uint32 { return 0x00_08_01 }

// NSubdevices returns 2: one AI, one AO.
func (c *MockCard) NSubdevices() int { return 2 }

// SubdeviceByType resolves the fixed mock layout.
func (c *MockCard) SubdeviceByType(typ SubdeviceType) (int, error) {
	switch typ {
	case AnalogInput:
		if c.AIChannels > 0 {
			return mockSubAI, nil
		}
	case AnalogOutput:
		if c.AOChannels > 0 {
			return mockSubAO, nil
		}
	}
	return -1, fmt.Errorf("no subdevice of type %d", typ)
}

// SubdeviceFlags reports sample width, calibration mode, and whether an
// output command is still running.
func (c *MockCard) SubdeviceFlags(subdevice int) (SubdeviceFlags, error) {
	if subdevice != mockSubAI && subdevice != mockSubAO {
		return 0, fmt.Errorf("no subdevice %d", subdevice)
	}
	var flags SubdeviceFlags
	if c.LongSamples {
		flags |= FlagLongSample
	}
	if c.SoftCal != nil || c.CalUnparseable {
		flags |= FlagSoftCalibrated
	}
	if subdevice == mockSubAO {
		c.mu.Lock()
		if c.aoTriggered && (c.HangOutput || c.aoReceived < c.aoExpected) {
			flags |= FlagRunning
		}
		c.mu.Unlock()
	}
	return flags, nil
}

// NChannels returns the channel count per side.
func (c *MockCard) NChannels(subdevice int) (int, error) {
	switch subdevice {
	case mockSubAI:
		return c.AIChannels, nil
	case mockSubAO:
		return c.AOChannels, nil
	}
	return 0, fmt.Errorf("no subdevice %d", subdevice)
}

// Maxdata returns the maximum raw code.
func (c *MockCard) Maxdata(subdevice, channel int) (uint32, error) { return c.MaxData, nil }

// NRanges returns the number of selectable ranges.
func (c *MockCard) NRanges(subdevice, channel int) (int, error) {
	rs, err := c.ranges(subdevice)
	if err != nil {
		return 0, err
	}
	return len(rs), nil
}

// RangeInfo returns one selectable range.
func (c *MockCard) RangeInfo(subdevice, channel, rng int) (Range, error) {
	rs, err := c.ranges(subdevice)
	if err != nil {
		return Range{}, err
	}
	if rng < 0 || rng >= len(rs) {
		return Range{}, fmt.Errorf("no range %d on subdevice %d", rng, subdevice)
	}
	return rs[rng], nil
}

func (c *MockCard) ranges(subdevice int) ([]Range, error) {
	switch subdevice {
	case mockSubAI:
		return c.AIRanges, nil
	case mockSubAO:
		return c.AORanges, nil
	}
	return nil, fmt.Errorf("no subdevice %d", subdevice)
}

// DataRead performs a single synchronous conversion from the synthesized
// input source.
func (c *MockCard) DataRead(subdevice, channel, rng, aref int) (uint32, error) {
	if subdevice != mockSubAI {
		return 0, errors.New("synchronous reads only supported on analog input")
	}
	return c.sample(0, channel), nil
}

// GenericTimedCommand returns a command skeleton with an immediate start,
// timer-paced scans, and no stop condition.
func (c *MockCard) GenericTimedCommand(subdevice, nchans int, periodNS uint32) (Command, error) {
	if subdevice != mockSubAI && subdevice != mockSubAO {
		return Command{}, fmt.Errorf("no subdevice %d", subdevice)
	}
	if nchans < 1 {
		return Command{}, errors.New("scan width must be at least 1")
	}
	return Command{
		Subdevice:    subdevice,
		StartSrc:     TrigNow,
		ScanBeginSrc: TrigTimer,
		ScanBeginArg: periodNS,
		ConvertSrc:   TrigTimer,
		ConvertArg:   periodNS / uint32(nchans),
		ScanEndSrc:   TrigCount,
		ScanEndArg:   uint32(nchans),
		StopSrc:      TrigNone,
	}, nil
}

// TestCommand validates a command in place the way comedi does: the first
// pass may round timing to the clock, the second should find nothing left
// to adjust.
func (c *MockCard) TestCommand(cmd *Command) (int, error) {
	if cmd.Subdevice != mockSubAI && cmd.Subdevice != mockSubAO {
		return -1, fmt.Errorf("no subdevice %d", cmd.Subdevice)
	}
	if len(cmd.Chanlist) == 0 {
		return -1, errors.New("empty channel list")
	}
	if c.RejectCommands {
		cmd.ScanBeginArg++
		return 4, nil
	}
	ret := 0
	if cmd.StartSrc != TrigNow && cmd.StartSrc != TrigInt {
		cmd.StartSrc = TrigNow
		ret = 1
	}
	if cmd.ScanBeginArg%mockClockNS != 0 {
		cmd.ScanBeginArg -= cmd.ScanBeginArg % mockClockNS
		ret = 4
	}
	return ret, nil
}

// ExecCommand starts input streaming immediately, or arms an output command
// to wait for the internal trigger.
func (c *MockCard) ExecCommand(cmd Command) error {
	width := c.width()
	c.mu.Lock()
	defer c.mu.Unlock()
	switch cmd.Subdevice {
	case mockSubAI:
		scans := int(cmd.StopArg) - c.ShortScans
		if scans < 0 {
			scans = 0
		}
		tmp := make([]byte, width)
		for s := 0; s < scans; s++ {
			for ci := range cmd.Chanlist {
				encodeSample(tmp, c.sample(s, ci), width)
				c.rd.Write(tmp)
			}
		}
		c.events = append(c.events, "ai-start")
		return nil
	case mockSubAO:
		c.aoArmed = true
		c.aoTriggered = false
		c.aoExpected = int(cmd.StopArg) * len(cmd.Chanlist) * width
		c.aoReceived = 0
		c.events = append(c.events, "arm")
		return nil
	}
	return fmt.Errorf("no subdevice %d", cmd.Subdevice)
}

// InternalTrigger starts an armed output command.
func (c *MockCard) InternalTrigger(subdevice int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if subdevice != mockSubAO || !c.aoArmed {
		return errors.New("no armed command to trigger")
	}
	c.aoTriggered = true
	c.events = append(c.events, "trigger")
	return nil
}

// Cancel stops streaming and clears the subdevice state.
func (c *MockCard) Cancel(subdevice int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch subdevice {
	case mockSubAI:
		c.rd.Reset()
		c.events = append(c.events, "cancel-ai")
	case mockSubAO:
		c.aoArmed = false
		c.aoTriggered = false
		c.events = append(c.events, "cancel-ao")
	default:
		return fmt.Errorf("no subdevice %d", subdevice)
	}
	return nil
}

// BufferSize returns the simulated ring buffer capacity.
func (c *MockCard) BufferSize(subdevice int) (int, error) {
	return c.DeviceBufferBytes, nil
}

// HardcalConverter always fails; the mock has no on-board calibration.
func (c *MockCard) HardcalConverter(subdevice, channel, rng int, dir ConversionDirection) (Polynomial, error) {
	return Polynomial{}, errors.New("device is not calibrated")
}

// DefaultCalibrationPath resolves only when a soft calibration exists.
func (c *MockCard) DefaultCalibrationPath() (string, error) {
	if c.SoftCal == nil && !c.CalUnparseable {
		return "", errors.New("no calibration file")
	}
	return "/var/lib/comedi/calibrations/mock", nil
}

// ParseCalibration serves the configured table.
func (c *MockCard) ParseCalibration(path string) (Calibration, error) {
	if c.CalUnparseable || c.SoftCal == nil {
		return nil, fmt.Errorf("failed to parse calibration file %s", path)
	}
	return c.SoftCal, nil
}

// Stream returns the simulated sample byte channel.
func (c *MockCard) Stream() io.ReadWriter { return mockStream{c} }

// Close satisfies Card; there is no OS resource behind the mock.
func (c *MockCard) Close() error { return nil }

// Events returns the ordered record of streaming operations, for asserting
// the preload/trigger/stream sequence in tests.
func (c *MockCard) Events() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.events))
	copy(out, c.events)
	return out
}

func (c *MockCard) width() int {
	if c.LongSamples {
		return 4
	}
	return 2
}

func (c *MockCard) sample(scan, chanIdx int) uint32 {
	if c.AISample != nil {
		return c.AISample(scan, chanIdx) % (c.MaxData + 1)
	}
	return uint32(scan) % (c.MaxData + 1)
}

// mockStream adapts the card's buffers to io.ReadWriter.
type mockStream struct {
	c *MockCard
}

// Read drains pending input samples; an exhausted buffer reads as EOF,
// which surfaces as a short read upstream.
func (s mockStream) Read(p []byte) (int, error) {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()
	return s.c.rd.Read(p)
}

// Write accepts output samples for an armed command, recording whether they
// arrived before (preload) or after (stream) the trigger.
func (s mockStream) Write(p []byte) (int, error) {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()
	if !s.c.aoArmed {
		return 0, errors.New("write with no armed command")
	}
	s.c.aoReceived += len(p)
	if s.c.aoTriggered {
		s.c.events = append(s.c.events, fmt.Sprintf("stream %d", len(p)))
	} else {
		s.c.events = append(s.c.events, fmt.Sprintf("preload %d", len(p)))
	}
	return len(p), nil
}
