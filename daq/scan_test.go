package daq

import "testing"

func TestRasterSize(t *testing.T) {
	traj := Raster(7, 5, [2][2]float64{{-1, 1}, {-2, 2}})
	if len(traj) != 35 {
		t.Errorf("expected 35 points, got %d", len(traj))
	}
}

func TestRasterFastAxisSweepsFirst(t *testing.T) {
	rows, cols := 3, 4
	traj := Raster(rows, cols, [2][2]float64{{0, 2}, {0, 3}})
	// axis 1 sweeps its full span within the first row
	for c := 0; c < cols; c++ {
		if traj[c][1] != float64(c) {
			t.Errorf("expected axis 1 value %d at point %d, got %g", c, c, traj[c][1])
		}
		if traj[c][0] != 0 {
			t.Errorf("expected axis 0 to hold at 0 during first line, got %g", traj[c][0])
		}
	}
	// axis 0 advances only at row boundaries
	for r := 0; r < rows; r++ {
		want := traj[r*cols][0]
		for c := 1; c < cols; c++ {
			if traj[r*cols+c][0] != want {
				t.Errorf("axis 0 changed mid-line at row %d col %d", r, c)
			}
		}
	}
	if traj[cols][0] != 1 {
		t.Errorf("expected axis 0 value 1 at second row, got %g", traj[cols][0])
	}
}

func TestRasterEndpointsInclusive(t *testing.T) {
	traj := Raster(2, 2, [2][2]float64{{-5, 5}, {-3, 3}})
	last := traj[len(traj)-1]
	if last[0] != 5 || last[1] != 3 {
		t.Errorf("expected final point (5, 3), got (%g, %g)", last[0], last[1])
	}
}

func TestRasterIntegerLimits(t *testing.T) {
	traj := Raster(2, 3, [2][2]int{{0, 10}, {0, 4}})
	if traj[1][1] != 2 {
		t.Errorf("expected midpoint 2, got %d", traj[1][1])
	}
	if traj[5][0] != 10 || traj[5][1] != 4 {
		t.Errorf("expected final point (10, 4), got (%d, %d)", traj[5][0], traj[5][1])
	}
}

func TestRasterSinglePoint(t *testing.T) {
	traj := Raster(1, 1, [2][2]float64{{-7, 7}, {3, 9}})
	if len(traj) != 1 {
		t.Fatalf("expected 1 point, got %d", len(traj))
	}
	if traj[0][0] != -7 || traj[0][1] != 3 {
		t.Errorf("expected single point at the lower limits, got (%g, %g)", traj[0][0], traj[0][1])
	}
}

func TestMatrixIsTimeMajor(t *testing.T) {
	m := Matrix([][2]float64{{1, 2}, {3, 4}})
	if len(m) != 2 || len(m[0]) != 2 {
		t.Fatalf("expected 2x2 matrix, got %dx%d", len(m), len(m[0]))
	}
	if m[1][0] != 3 || m[1][1] != 4 {
		t.Errorf("expected second scan (3, 4), got (%g, %g)", m[1][0], m[1][1])
	}
}
