package stage

import (
	"errors"
	"math"
	"testing"
)

// fakeStage records motion commands and lets the test drive the position
// feedback callback.
type fakeStage struct {
	dx, dy  float64
	stopped bool
	notify  func(x, y float64)
}

func (f *fakeStage) MoveRel(dx, dy float64) error {
	f.dx += dx
	f.dy += dy
	if f.notify != nil {
		f.notify(f.dx, f.dy)
	}
	return nil
}

func (f *fakeStage) Stop() error {
	f.stopped = true
	return nil
}

func (f *fakeStage) NotifyPosition(fn func(x, y float64)) {
	f.notify = fn
}

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestNewRejectsZeroScale(t *testing.T) {
	_, err := New(&fakeStage{}, 0, [2]float64{0, 1}, [2]float64{})
	if err == nil {
		t.Error("expected error for a zero scale factor")
	}
}

func TestMoveRelIdentityForwards(t *testing.T) {
	child := &fakeStage{}
	s, err := New(child, 0, [2]float64{1, 1}, [2]float64{})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.MoveRel(2, 0); err != nil {
		t.Fatal(err)
	}
	if !approx(child.dx, 2) || !approx(child.dy, 0) {
		t.Errorf("expected child move (2, 0), got (%g, %g)", child.dx, child.dy)
	}
}

func TestMoveRelRotatesAndScales(t *testing.T) {
	child := &fakeStage{}
	s, err := New(child, 90, [2]float64{2, 3}, [2]float64{})
	if err != nil {
		t.Fatal(err)
	}
	// a unit x move in the virtual frame lands on the child's scaled y axis
	if err := s.MoveRel(1, 0); err != nil {
		t.Fatal(err)
	}
	if !approx(child.dx, 0) || !approx(child.dy, 3) {
		t.Errorf("expected child move (0, 3), got (%g, %g)", child.dx, child.dy)
	}
}

func TestPositionMirrorsInverse(t *testing.T) {
	child := &fakeStage{}
	s, err := New(child, 90, [2]float64{2, 3}, [2]float64{})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.MoveRel(1, 0); err != nil {
		t.Fatal(err)
	}
	x, y := s.Position()
	if !approx(x, 1) || !approx(y, 0) {
		t.Errorf("expected mirrored position (1, 0), got (%g, %g)", x, y)
	}
}

func TestPositionAppliesOffset(t *testing.T) {
	child := &fakeStage{}
	s, err := New(child, 0, [2]float64{1, 1}, [2]float64{10, -4})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.MoveRel(1, 2); err != nil {
		t.Fatal(err)
	}
	x, y := s.Position()
	if !approx(x, 11) || !approx(y, -2) {
		t.Errorf("expected position (11, -2), got (%g, %g)", x, y)
	}
}

func TestMoveAbsNotImplemented(t *testing.T) {
	s, err := New(&fakeStage{}, 0, [2]float64{1, 1}, [2]float64{})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.MoveAbs(1, 1); !errors.Is(err, ErrNotImplemented) {
		t.Errorf("expected ErrNotImplemented, got %v", err)
	}
}

func TestStopForwards(t *testing.T) {
	child := &fakeStage{}
	s, err := New(child, 45, [2]float64{1, 1}, [2]float64{})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Stop(); err != nil {
		t.Fatal(err)
	}
	if !child.stopped {
		t.Error("expected stop to reach the child")
	}
}
