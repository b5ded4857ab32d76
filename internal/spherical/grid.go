package spherical

import "math"

// LatLongGrid returns the longitude S and latitude T of every pixel centre of
// an h×w equirectangular image. S spans (-π, π) left to right and T spans
// (π/2, -π/2) top to bottom; both are indexed [row][col].
func LatLongGrid(h, w int) (S, T [][]float64) {
	S = make([][]float64, h)
	T = make([][]float64, h)
	for i := 0; i < h; i++ {
		S[i] = make([]float64, w)
		T[i] = make([]float64, w)
		lat := Latitude(i, h)
		for j := 0; j < w; j++ {
			S[i][j] = Longitude(j, w)
			T[i][j] = lat
		}
	}
	return S, T
}

// Longitude of the centre of column j in a w-wide equirectangular image.
func Longitude(j, w int) float64 {
	return -math.Pi + (float64(j)+0.5)*2*math.Pi/float64(w)
}

// Latitude of the centre of row i in an h-high equirectangular image.
func Latitude(i, h int) float64 {
	return math.Pi/2 - (float64(i)+0.5)*math.Pi/float64(h)
}

// equirectPixel maps longitude and latitude to fractional (row, col)
// coordinates of an h×w equirectangular image.
func equirectPixel(s, t float64, h, w int) (row, col float64) {
	col = (s+math.Pi)/(2*math.Pi)*float64(w) - 0.5
	row = (math.Pi/2-t)/math.Pi*float64(h) - 0.5
	return row, col
}

// RowsPerRadian is the number of rows one radian of latitude spans in an
// h-high equirectangular image.
func RowsPerRadian(h int) float64 {
	return float64(h) / math.Pi
}
