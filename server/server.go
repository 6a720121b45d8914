// Package server contains shared plumbing for exposing devices over HTTP:
// a goji-pattern route table and the single-value JSON payload types.
package server

import (
	"encoding/json"
	"go/types"
	"log"
	"net/http"

	"goji.io"
)

// RouteTable maps goji patterns to the handlers serving them.
type RouteTable map[goji.Pattern]http.HandlerFunc

// Bind attaches every route in the table to the mux.
func (rt RouteTable) Bind(mux *goji.Mux) {
	for ptrn, handler := range rt {
		mux.HandleFunc(ptrn, handler)
	}
}

// Endpoints lists the route patterns in the table.
func (rt RouteTable) Endpoints() []goji.Pattern {
	routes := make([]goji.Pattern, 0, len(rt))
	for k := range rt {
		routes = append(routes, k)
	}
	return routes
}

// HTTPer is a type which exposes its route table for binding or decoration.
type HTTPer interface {
	// RT yields the route table of the HTTPer
	RT() RouteTable
}

// HumanPayload is a single scalar value tagged with its type, so it can be
// rendered as the appropriate one-key JSON object.
type HumanPayload struct {
	// T holds the type of the data
	T types.BasicKind

	// Bool holds a boolean
	Bool bool

	// Int holds an int
	Int int

	// Float holds a float64
	Float float64

	// String holds a string
	String string
}

// EncodeAndRespond writes the payload to w as JSON.
func (hp HumanPayload) EncodeAndRespond(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	var (
		obj interface{}
		err error
	)
	switch hp.T {
	case types.Bool:
		obj = BoolT{Bool: hp.Bool}
	case types.Int:
		obj = IntT{Int: hp.Int}
	case types.Float64:
		obj = FloatT{F64: hp.Float}
	case types.String:
		obj = StrT{Str: hp.String}
	default:
		http.Error(w, "unknown payload type", http.StatusInternalServerError)
		return
	}
	err = json.NewEncoder(w).Encode(obj)
	if err != nil {
		log.Println(err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// FloatT is a struct with a single field, F64, used for json requests/responses.
type FloatT struct {
	F64 float64 `json:"f64"`
}

// IntT is a struct with a single field, Int, used for json requests/responses.
type IntT struct {
	Int int `json:"int"`
}

// BoolT is a struct with a single field, Bool, used for json requests/responses.
type BoolT struct {
	Bool bool `json:"bool"`
}

// StrT is a struct with a single field, Str, used for json requests/responses.
type StrT struct {
	Str string `json:"str"`
}
