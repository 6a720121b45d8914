// Package comedi binds comedilib to the daq.Card interface.  It requires
// comedilib headers and library at build time and a comedi kernel device at
// run time; everything that does not need the hardware lives in package daq.
package comedi

/*
#cgo LDFLAGS: -lcomedi
#include <stdlib.h>
#include <unistd.h>
#include <comedilib.h>
*/
import "C"
import (
	"errors"
	"fmt"
	"io"
	"os"
	"unsafe"

	"github.com/sembeam/sembeam/daq"
)

// procErr converts a comedilib return code into a Go error carrying the
// procedure name and comedilib's description of its errno.
func procErr(ret C.int, procedure string) error {
	if ret >= 0 {
		return nil
	}
	return fmt.Errorf("%s: %s", procedure, C.GoString(C.comedi_strerror(C.comedi_errno())))
}

func crPack(cs daq.ChanSpec) C.uint {
	return C.uint((uint32(cs.Channel) & 0xffff) | (uint32(cs.Range)&0xff)<<16 | (uint32(cs.Aref)&0x3)<<24)
}

func cDirection(dir daq.ConversionDirection) C.enum_comedi_conversion_direction {
	if dir == daq.FromPhysical {
		return C.COMEDI_FROM_PHYSICAL
	}
	return C.COMEDI_TO_PHYSICAL
}

func polyFromC(cp C.comedi_polynomial_t) daq.Polynomial {
	coefs := make([]float64, int(cp.order)+1)
	for i := range coefs {
		coefs[i] = float64(cp.coefficients[i])
	}
	return daq.Polynomial{Coefficients: coefs, Origin: float64(cp.expansion_origin)}
}

// Card is a comedi device open for streaming acquisition and generation.
type Card struct {
	dev *C.comedi_t

	path string

	// file wraps a dup of the device fd for bulk sample transfer, so its
	// lifetime is independent of the fd comedi_close releases.
	file *os.File
}

// Open opens a comedi device node, e.g. /dev/comedi0.  Out of range samples
// are mapped to NaN rather than clipped so they are visible downstream.
func Open(path string) (*Card, error) {
	cs := C.CString(path)
	defer C.free(unsafe.Pointer(cs))
	dev := C.comedi_open(cs)
	if dev == nil {
		return nil, fmt.Errorf("comedi_open %s: %s", path, C.GoString(C.comedi_strerror(C.comedi_errno())))
	}
	C.comedi_set_global_oor_behavior(C.COMEDI_OOR_NAN)
	fd, err := C.dup(C.comedi_fileno(dev))
	if fd < 0 {
		C.comedi_close(dev)
		return nil, fmt.Errorf("dup %s: %w", path, err)
	}
	f := os.NewFile(uintptr(fd), path)
	return &Card{dev: dev, path: path, file: f}, nil
}

// BoardName returns the hardware model name, e.g. "pci-6251".
func (c *Card) BoardName() string {
	return C.GoString(C.comedi_get_board_name(c.dev))
}

// DriverName returns the kernel driver name, e.g. "ni_pcimio".
func (c *Card) DriverName() string {
	return C.GoString(C.comedi_get_driver_name(c.dev))
}

// VersionCode returns the packed kernel driver version.
func (c *Card) VersionCode() uint32 {
	return uint32(C.comedi_get_version_code(c.dev))
}

// NSubdevices returns the number of subdevices on the card.
func (c *Card) NSubdevices() int {
	return int(C.comedi_get_n_subdevices(c.dev))
}

// SubdeviceByType finds the first subdevice of the given type.
func (c *Card) SubdeviceByType(typ daq.SubdeviceType) (int, error) {
	var ct C.int
	switch typ {
	case daq.AnalogInput:
		ct = C.COMEDI_SUBD_AI
	case daq.AnalogOutput:
		ct = C.COMEDI_SUBD_AO
	default:
		return 0, fmt.Errorf("unknown subdevice type %d", typ)
	}
	idx := C.comedi_find_subdevice_by_type(c.dev, ct, 0)
	if idx < 0 {
		return 0, procErr(idx, "comedi_find_subdevice_by_type")
	}
	return int(idx), nil
}

// SubdeviceFlags returns the capability bitfield of a subdevice.
func (c *Card) SubdeviceFlags(subdevice int) (daq.SubdeviceFlags, error) {
	flags := C.comedi_get_subdevice_flags(c.dev, C.uint(subdevice))
	if flags < 0 {
		return 0, procErr(flags, "comedi_get_subdevice_flags")
	}
	return daq.SubdeviceFlags(flags), nil
}

// NChannels returns the channel count of a subdevice.
func (c *Card) NChannels(subdevice int) (int, error) {
	n := C.comedi_get_n_channels(c.dev, C.uint(subdevice))
	if n < 0 {
		return 0, procErr(n, "comedi_get_n_channels")
	}
	return int(n), nil
}

// Maxdata returns the maximum raw code of a channel.
func (c *Card) Maxdata(subdevice, channel int) (uint32, error) {
	m := C.comedi_get_maxdata(c.dev, C.uint(subdevice), C.uint(channel))
	if m == 0 {
		return 0, errors.New("comedi_get_maxdata: returned zero")
	}
	return uint32(m), nil
}

// NRanges returns the number of selectable ranges on a channel.
func (c *Card) NRanges(subdevice, channel int) (int, error) {
	n := C.comedi_get_n_ranges(c.dev, C.uint(subdevice), C.uint(channel))
	if n < 0 {
		return 0, procErr(n, "comedi_get_n_ranges")
	}
	return int(n), nil
}

// RangeInfo returns the physical window of a range index.
func (c *Card) RangeInfo(subdevice, channel, rng int) (daq.Range, error) {
	ri := C.comedi_get_range(c.dev, C.uint(subdevice), C.uint(channel), C.uint(rng))
	if ri == nil {
		return daq.Range{}, errors.New("comedi_get_range: no such range")
	}
	return daq.Range{Min: float64(ri.min), Max: float64(ri.max)}, nil
}

// DataRead performs a single synchronous conversion.
func (c *Card) DataRead(subdevice, channel, rng, aref int) (uint32, error) {
	var data C.lsampl_t
	ret := C.comedi_data_read(c.dev, C.uint(subdevice), C.uint(channel), C.uint(rng), C.uint(aref), &data)
	if ret < 0 {
		return 0, procErr(ret, "comedi_data_read")
	}
	return uint32(data), nil
}

// cmdToC converts a command to comedilib's representation.  The returned
// chanlist is C-allocated and must be freed by the caller.
func cmdToC(cmd *daq.Command) (C.comedi_cmd, *C.uint) {
	var cc C.comedi_cmd
	cc.subdev = C.uint(cmd.Subdevice)
	cc.start_src = C.uint(cmd.StartSrc)
	cc.start_arg = C.uint(cmd.StartArg)
	cc.scan_begin_src = C.uint(cmd.ScanBeginSrc)
	cc.scan_begin_arg = C.uint(cmd.ScanBeginArg)
	cc.convert_src = C.uint(cmd.ConvertSrc)
	cc.convert_arg = C.uint(cmd.ConvertArg)
	cc.scan_end_src = C.uint(cmd.ScanEndSrc)
	cc.scan_end_arg = C.uint(cmd.ScanEndArg)
	cc.stop_src = C.uint(cmd.StopSrc)
	cc.stop_arg = C.uint(cmd.StopArg)
	n := len(cmd.Chanlist)
	var list *C.uint
	if n > 0 {
		list = (*C.uint)(C.malloc(C.size_t(n) * C.sizeof_uint))
		slc := unsafe.Slice(list, n)
		for i, cs := range cmd.Chanlist {
			slc[i] = crPack(cs)
		}
	}
	cc.chanlist = list
	cc.chanlist_len = C.uint(n)
	return cc, list
}

func cmdFromC(cc C.comedi_cmd, cmd *daq.Command) {
	cmd.Subdevice = int(cc.subdev)
	cmd.StartSrc = uint32(cc.start_src)
	cmd.StartArg = uint32(cc.start_arg)
	cmd.ScanBeginSrc = uint32(cc.scan_begin_src)
	cmd.ScanBeginArg = uint32(cc.scan_begin_arg)
	cmd.ConvertSrc = uint32(cc.convert_src)
	cmd.ConvertArg = uint32(cc.convert_arg)
	cmd.ScanEndSrc = uint32(cc.scan_end_src)
	cmd.ScanEndArg = uint32(cc.scan_end_arg)
	cmd.StopSrc = uint32(cc.stop_src)
	cmd.StopArg = uint32(cc.stop_arg)
}

// GenericTimedCommand asks the card for a command skeleton suited to scanning
// nchans channels with the given scan period.
func (c *Card) GenericTimedCommand(subdevice, nchans int, periodNS uint32) (daq.Command, error) {
	var cc C.comedi_cmd
	ret := C.comedi_get_cmd_generic_timed(c.dev, C.uint(subdevice), &cc, C.uint(nchans), C.uint(periodNS))
	if ret < 0 {
		return daq.Command{}, procErr(ret, "comedi_get_cmd_generic_timed")
	}
	var cmd daq.Command
	cmdFromC(cc, &cmd)
	return cmd, nil
}

// TestCommand validates a command in place.  Nonzero means the card adjusted
// or objected to part of the command; the adjusted values are written back.
func (c *Card) TestCommand(cmd *daq.Command) (int, error) {
	cc, list := cmdToC(cmd)
	defer C.free(unsafe.Pointer(list))
	ret := C.comedi_command_test(c.dev, &cc)
	if ret < 0 {
		return 0, procErr(ret, "comedi_command_test")
	}
	chanlist := cmd.Chanlist
	cmdFromC(cc, cmd)
	cmd.Chanlist = chanlist
	return int(ret), nil
}

// ExecCommand submits a command to the card.
func (c *Card) ExecCommand(cmd daq.Command) error {
	cc, list := cmdToC(&cmd)
	defer C.free(unsafe.Pointer(list))
	ret := C.comedi_command(c.dev, &cc)
	return procErr(ret, "comedi_command")
}

// InternalTrigger fires the software start trigger on a subdevice.
func (c *Card) InternalTrigger(subdevice int) error {
	ret := C.comedi_internal_trigger(c.dev, C.uint(subdevice), 0)
	return procErr(ret, "comedi_internal_trigger")
}

// Cancel stops any command running on the subdevice.
func (c *Card) Cancel(subdevice int) error {
	ret := C.comedi_cancel(c.dev, C.uint(subdevice))
	return procErr(ret, "comedi_cancel")
}

// BufferSize returns the size in bytes of the subdevice's ring buffer.
func (c *Card) BufferSize(subdevice int) (int, error) {
	ret := C.comedi_get_buffer_size(c.dev, C.uint(subdevice))
	if ret < 0 {
		return 0, procErr(ret, "comedi_get_buffer_size")
	}
	return int(ret), nil
}

// HardcalConverter returns the board-reported conversion polynomial for
// hardware-calibrated subdevices.
func (c *Card) HardcalConverter(subdevice, channel, rng int, dir daq.ConversionDirection) (daq.Polynomial, error) {
	var poly C.comedi_polynomial_t
	ret := C.comedi_get_hardcal_converter(c.dev, C.uint(subdevice), C.uint(channel), C.uint(rng), cDirection(dir), &poly)
	if ret < 0 {
		return daq.Polynomial{}, procErr(ret, "comedi_get_hardcal_converter")
	}
	return polyFromC(poly), nil
}

// DefaultCalibrationPath resolves the conventional location of the device's
// software calibration file.
func (c *Card) DefaultCalibrationPath() (string, error) {
	p := C.comedi_get_default_calibration_path(c.dev)
	if p == nil {
		return "", errors.New("comedi_get_default_calibration_path: no path")
	}
	defer C.free(unsafe.Pointer(p))
	return C.GoString(p), nil
}

// calibration wraps a parsed comedilib calibration file.
type calibration struct {
	cal *C.comedi_calibration_t
}

// ParseCalibration parses a software calibration file.
func (c *Card) ParseCalibration(path string) (daq.Calibration, error) {
	cs := C.CString(path)
	defer C.free(unsafe.Pointer(cs))
	cal := C.comedi_parse_calibration_file(cs)
	if cal == nil {
		return nil, fmt.Errorf("comedi_parse_calibration_file %s: %s", path, C.GoString(C.comedi_strerror(C.comedi_errno())))
	}
	return &calibration{cal: cal}, nil
}

func (cal *calibration) Converter(subdevice, channel, rng int, dir daq.ConversionDirection) (daq.Polynomial, error) {
	var poly C.comedi_polynomial_t
	ret := C.comedi_get_softcal_converter(C.uint(subdevice), C.uint(channel), C.uint(rng), cDirection(dir), cal.cal, &poly)
	if ret < 0 {
		return daq.Polynomial{}, procErr(ret, "comedi_get_softcal_converter")
	}
	return polyFromC(poly), nil
}

func (cal *calibration) Close() error {
	if cal.cal != nil {
		C.comedi_cleanup_calibration(cal.cal)
		cal.cal = nil
	}
	return nil
}

// Stream is the raw byte channel used for bulk sample transfer.
func (c *Card) Stream() io.ReadWriter {
	return c.file
}

// Close releases the stream dup and then the card.
func (c *Card) Close() error {
	if c.dev == nil {
		return nil
	}
	c.file.Close()
	c.file = nil
	ret := C.comedi_close(c.dev)
	c.dev = nil
	return procErr(ret, "comedi_close")
}
