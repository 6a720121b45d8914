package daq

import (
	"io"

	"github.com/astrogo/fitsio"
)

// WriteFrame streams a FITS image of physical samples to w.  samples is
// row-major: the first cols values are the first line of the frame.
func WriteFrame(w io.Writer, metadata []fitsio.Card, samples []float64, cols, rows int) error {
	fits, err := fitsio.Create(w)
	if err != nil {
		return err
	}
	defer fits.Close()
	im := fitsio.NewImage(-64, []int{cols, rows})
	defer im.Close()
	err = im.Header().Append(metadata...)
	if err != nil {
		return err
	}
	err = im.Write(samples)
	if err != nil {
		return err
	}
	return fits.Write(im)
}
