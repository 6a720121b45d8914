package daq

// Number constrains raster trajectory element types; the output type follows
// the limits' type so integer limits do not silently become floats.
type Number interface {
	~int | ~int32 | ~int64 | ~float32 | ~float64
}

// Raster generates the flattened trajectory to scan a 2D area, using linear
// interpolation between the limits on each axis independently.  limits[0] is
// the [min, max] of axis 0 (interpolated over rows) and limits[1] of axis 1
// (interpolated over cols).  Axis 1 varies fastest: the beam sweeps a full
// line of cols before advancing one row, so the axis 0 value changes only
// every cols entries.  The result has exactly rows*cols coordinate pairs.
func Raster[T Number](rows, cols int, limits [2][2]T) [][2]T {
	out := make([][2]T, rows*cols)
	for r := 0; r < rows; r++ {
		x := interp(limits[0][0], limits[0][1], r, rows)
		for c := 0; c < cols; c++ {
			out[r*cols+c] = [2]T{x, interp(limits[1][0], limits[1][1], c, cols)}
		}
	}
	return out
}

// interp returns the i-th of n points evenly spaced over [lo, hi], inclusive
// of both endpoints.  A single point degenerates to lo.
func interp[T Number](lo, hi T, i, n int) T {
	if n <= 1 {
		return lo
	}
	return lo + T(float64(hi-lo)*float64(i)/float64(n-1))
}

// Matrix expands a trajectory into the time-major float matrix Generate
// consumes, one scan per trajectory point with the pair as two channels.
func Matrix[T Number](traj [][2]T) [][]float64 {
	out := make([][]float64, len(traj))
	for i, p := range traj {
		out[i] = []float64{float64(p[0]), float64(p[1])}
	}
	return out
}
