package daq

import (
	"encoding/json"
	"errors"
	"go/types"
	"io"
	"net/http"

	"github.com/astrogo/fitsio"
	"goji.io/pat"

	"github.com/sembeam/sembeam/imgrec"
	"github.com/sembeam/sembeam/server"
	"github.com/sembeam/sembeam/util"
)

// HTTPWrapper exposes a DAQ session over HTTP.  Periods on the wire are
// floating point seconds.
type HTTPWrapper struct {
	*DAQ

	// Rec optionally records acquired frames to disk
	Rec *imgrec.Recorder

	RouteTable server.RouteTable
}

// NewHTTPWrapper returns an HTTP wrapper with the route table pre-configured.
func NewHTTPWrapper(d *DAQ, rec *imgrec.Recorder) HTTPWrapper {
	w := HTTPWrapper{DAQ: d, Rec: rec}
	rt := server.RouteTable{
		pat.Post("/acquire"):  w.HTTPAcquire,
		pat.Post("/generate"): w.HTTPGenerate,
		pat.Post("/raster"):   w.HTTPRaster,
		pat.Post("/frame"):    w.HTTPFrame,

		pat.Get("/temperature"): w.HTTPTemperature,
		pat.Get("/version"):     w.HTTPVersion,
		pat.Get("/hw-name"):     w.HTTPHwName,
	}
	w.RouteTable = rt
	return w
}

// RT satisfies server.HTTPer.
func (h HTTPWrapper) RT() server.RouteTable {
	return h.RouteTable
}

// errStatus maps engine errors to HTTP statuses: capability errors and
// rejected commands are the client's problem, everything else is ours.
func errStatus(err error) int {
	if errors.Is(err, ErrNoFittingRange) || errors.Is(err, ErrCommandRejected) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

type acquireRequest struct {
	Channel int `json:"channel"`

	Period float64 `json:"period"`

	Samples int `json:"samples"`
}

type samplesResponse struct {
	Samples []float64 `json:"samples"`
}

// HTTPAcquire reads samples from an input channel and replies with them in
// volts.
func (h HTTPWrapper) HTTPAcquire(w http.ResponseWriter, r *http.Request) {
	var req acquireRequest
	err := json.NewDecoder(r.Body).Decode(&req)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	data, err := h.DAQ.Acquire(req.Channel, util.SecsToDuration(req.Period), req.Samples)
	if err != nil {
		http.Error(w, err.Error(), errStatus(err))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	err = json.NewEncoder(w).Encode(samplesResponse{Samples: data})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

type generateRequest struct {
	Channels []int `json:"channels"`

	Period float64 `json:"period"`

	// Data is time-major: Data[t][c] is the voltage of Channels[c] at scan t
	Data [][]float64 `json:"data"`
}

// HTTPGenerate plays a caller-supplied waveform on the output channels.
func (h HTTPWrapper) HTTPGenerate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	err := json.NewDecoder(r.Body).Decode(&req)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	err = h.DAQ.Generate(req.Channels, util.SecsToDuration(req.Period), req.Data)
	if err != nil {
		http.Error(w, err.Error(), errStatus(err))
		return
	}
	w.WriteHeader(http.StatusOK)
}

type rasterRequest struct {
	Channels []int `json:"channels"`

	Period float64 `json:"period"`

	Rows int `json:"rows"`

	Cols int `json:"cols"`

	// Limits[0] bounds axis 0 (rows, slow), Limits[1] axis 1 (cols, fast)
	Limits [2][2]float64 `json:"limits"`
}

// HTTPRaster generates a raster trajectory and plays it on two output
// channels (0 and 1 unless overridden).
func (h HTTPWrapper) HTTPRaster(w http.ResponseWriter, r *http.Request) {
	var req rasterRequest
	err := json.NewDecoder(r.Body).Decode(&req)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Rows < 1 || req.Cols < 1 {
		http.Error(w, "rows and cols must be positive", http.StatusBadRequest)
		return
	}
	if len(req.Channels) == 0 {
		req.Channels = []int{0, 1}
	}
	traj := Raster(req.Rows, req.Cols, req.Limits)
	err = h.DAQ.Generate(req.Channels, util.SecsToDuration(req.Period), Matrix(traj))
	if err != nil {
		http.Error(w, err.Error(), errStatus(err))
		return
	}
	w.WriteHeader(http.StatusOK)
}

type frameRequest struct {
	Channel int `json:"channel"`

	Period float64 `json:"period"`

	Rows int `json:"rows"`

	Cols int `json:"cols"`
}

// HTTPFrame acquires rows*cols samples from a detector channel and replies
// with them as a FITS image, teeing a copy to the recorder when enabled.  A
// short acquisition pads the remainder of the frame with zeros.
func (h HTTPWrapper) HTTPFrame(w http.ResponseWriter, r *http.Request) {
	var req frameRequest
	err := json.NewDecoder(r.Body).Decode(&req)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Rows < 1 || req.Cols < 1 {
		http.Error(w, "rows and cols must be positive", http.StatusBadRequest)
		return
	}
	data, err := h.DAQ.Acquire(req.Channel, util.SecsToDuration(req.Period), req.Rows*req.Cols)
	if err != nil {
		http.Error(w, err.Error(), errStatus(err))
		return
	}
	for len(data) < req.Rows*req.Cols {
		data = append(data, 0)
	}

	var out io.Writer = w
	if h.Rec != nil && h.Rec.Enabled {
		out = io.MultiWriter(w, h.Rec)
		defer h.Rec.Incr()
	}
	meta := []fitsio.Card{
		{Name: "HWNAME", Value: h.HwName()},
		{Name: "DRIVER", Value: h.SwVersion()},
	}
	w.Header().Set("Content-Type", "image/fits")
	err = WriteFrame(out, meta, data, req.Cols, req.Rows)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// HTTPTemperature replies with the connector block temperature in Celsius.
func (h HTTPWrapper) HTTPTemperature(w http.ResponseWriter, r *http.Request) {
	t, err := h.DAQ.Temperature()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	hp := server.HumanPayload{T: types.Float64, Float: t}
	hp.EncodeAndRespond(w, r)
}

// HTTPVersion replies with the driver name and version.
func (h HTTPWrapper) HTTPVersion(w http.ResponseWriter, r *http.Request) {
	hp := server.HumanPayload{T: types.String, String: h.SwVersion()}
	hp.EncodeAndRespond(w, r)
}

// HTTPHwName replies with the board name.
func (h HTTPWrapper) HTTPHwName(w http.ResponseWriter, r *http.Request) {
	hp := server.HumanPayload{T: types.String, String: h.HwName()}
	hp.EncodeAndRespond(w, r)
}
