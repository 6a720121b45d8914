// Package imgrec contains a frame recorder used to automatically save
// acquired scan frames to disk with incrementing filenames in yyyy-mm-dd
// subfolders.
package imgrec

import (
	"fmt"
	"os"
	"path"
	"strconv"
	"strings"
	"time"
)

// Recorder writes FITS frames under Root/yyyy-mm-dd/Prefix<counter>.fits.
// It is not thread safe.
type Recorder struct {
	counter int

	timeFldr string

	// Root is the folder recordings live under
	Root string

	// Prefix is the filename prefix for each frame
	Prefix string

	// Enabled is a flag consumers use to skip recording without rewiring
	Enabled bool
}

// updateFolder refreshes the dated subfolder name from the current time.
func (r *Recorder) updateFolder() {
	now := time.Now()
	r.timeFldr = fmt.Sprintf("%04d-%02d-%02d", now.Year(), now.Month(), now.Day())
}

// mkDir ensures the dated folder exists and returns it.
func (r *Recorder) mkDir() (string, error) {
	fldr := path.Join(r.Root, r.timeFldr)
	err := os.MkdirAll(fldr, 0777)
	return fldr, err
}

// Write implements io.Writer, appending to the current frame file.
func (r *Recorder) Write(p []byte) (int, error) {
	r.updateFolder()
	fldr, err := r.mkDir()
	if err != nil {
		return 0, err
	}
	fn := path.Join(fldr, fmt.Sprintf("%s%06d.fits", r.Prefix, r.counter))
	fid, err := os.OpenFile(fn, os.O_APPEND|os.O_WRONLY, 0666)
	if err != nil && os.IsNotExist(err) {
		fid, err = os.Create(fn)
	}
	if err != nil {
		return 0, err
	}
	defer fid.Close()
	return fid.Write(p)
}

// Incr advances the filename counter past any frames already on disk.  If
// the folder cannot be scanned the counter is left alone.
func (r *Recorder) Incr() {
	dn, _ := r.mkDir()
	entries, err := os.ReadDir(dn)
	if err != nil {
		return
	}
	count := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		fn := entry.Name()
		if !strings.HasSuffix(fn, ".fits") || !strings.HasPrefix(fn, r.Prefix) {
			continue
		}
		bit := strings.TrimPrefix(fn, r.Prefix)
		bit = strings.TrimSuffix(bit, ".fits")
		n, err := strconv.Atoi(bit)
		if err != nil {
			continue
		}
		if n >= count {
			count = n + 1
		}
	}
	r.counter = count
}
