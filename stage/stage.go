// Package stage adapts a two-axis positioner into a rotated, scaled, and
// offset virtual frame so that beam coordinates and sample coordinates can
// share an axis convention.
package stage

import (
	"errors"
	"math"
	"sync"
)

// ErrNotImplemented is returned for motions the adapter cannot express,
// such as absolute moves through a relative-only child.
var ErrNotImplemented = errors.New("stage: operation not implemented")

// TwoAxis is the motion interface the adapter wraps.  NotifyPosition
// registers a callback invoked whenever the child's position changes.
type TwoAxis interface {
	// MoveRel translates by (dx, dy) in the child's frame
	MoveRel(dx, dy float64) error

	// Stop halts motion immediately
	Stop() error

	// NotifyPosition registers a position observer
	NotifyPosition(func(x, y float64))
}

// Converted presents a child stage in a virtual frame related to the
// child's by v_child = L.R.(v - offset), with R a rotation and L a
// per-axis scale.  Relative moves drop the offset term.
type Converted struct {
	child TwoAxis

	r, rInv [2][2]float64
	l, lInv [2][2]float64
	offset  [2]float64

	mu  sync.Mutex
	pos [2]float64
}

// New wraps child.  rotation is in degrees, scale and offset are per axis.
// The scale factors must be nonzero.
func New(child TwoAxis, rotation float64, scale, offset [2]float64) (*Converted, error) {
	if scale[0] == 0 || scale[1] == 0 {
		return nil, errors.New("stage: scale factors must be nonzero")
	}
	rad := rotation * math.Pi / 180
	sin, cos := math.Sin(rad), math.Cos(rad)
	c := &Converted{
		child:  child,
		r:      [2][2]float64{{cos, -sin}, {sin, cos}},
		rInv:   [2][2]float64{{cos, sin}, {-sin, cos}},
		l:      [2][2]float64{{scale[0], 0}, {0, scale[1]}},
		lInv:   [2][2]float64{{1 / scale[0], 0}, {0, 1 / scale[1]}},
		offset: offset,
	}
	child.NotifyPosition(c.updatePosition)
	return c, nil
}

func matVec(m [2][2]float64, v [2]float64) [2]float64 {
	return [2]float64{
		m[0][0]*v[0] + m[0][1]*v[1],
		m[1][0]*v[0] + m[1][1]*v[1],
	}
}

// MoveRel translates by (dx, dy) in the virtual frame.
func (c *Converted) MoveRel(dx, dy float64) error {
	q := matVec(c.l, matVec(c.r, [2]float64{dx, dy}))
	return c.child.MoveRel(q[0], q[1])
}

// MoveAbs is not supported: the child only exposes relative motion, so an
// absolute target cannot be honored without trusting the mirrored position.
func (c *Converted) MoveAbs(x, y float64) error {
	return ErrNotImplemented
}

// Stop halts the child immediately.
func (c *Converted) Stop() error {
	return c.child.Stop()
}

// Position returns the last reported position in the virtual frame.
func (c *Converted) Position() (float64, float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pos[0], c.pos[1]
}

// NotifyPosition registers an observer of the virtual-frame position.
func (c *Converted) NotifyPosition(fn func(x, y float64)) {
	c.child.NotifyPosition(func(x, y float64) {
		v := c.toVirtual(x, y)
		fn(v[0], v[1])
	})
}

func (c *Converted) toVirtual(x, y float64) [2]float64 {
	v := matVec(c.rInv, matVec(c.lInv, [2]float64{x, y}))
	return [2]float64{v[0] + c.offset[0], v[1] + c.offset[1]}
}

func (c *Converted) updatePosition(x, y float64) {
	v := c.toVirtual(x, y)
	c.mu.Lock()
	c.pos = v
	c.mu.Unlock()
}
