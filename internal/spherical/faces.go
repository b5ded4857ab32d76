// Package spherical converts between equirectangular (latitude/longitude)
// images and the six gnomonic faces of a cubemap.
package spherical

import (
	"math"

	"github.com/golang/geo/r3"
)

// Face identifies one cubemap face. The numeric order is the face order used
// everywhere: network invocation, projection and seam tie-breaking.
type Face int

const (
	Front  Face = iota // +Z
	Right              // +X
	Back               // -Z
	Left               // -X
	Top                // +Y
	Bottom             // -Y
)

// NumFaces is the size of a cubemap face set.
const NumFaces = 6

// Faces lists every face in order.
var Faces = [NumFaces]Face{Front, Right, Back, Left, Top, Bottom}

var faceNames = [NumFaces]string{"front", "right", "back", "left", "top", "bottom"}

func (f Face) String() string {
	if f < 0 || int(f) >= NumFaces {
		return "unknown"
	}
	return faceNames[f]
}

// basis is the viewing frame of a face: the optical axis and the directions
// of increasing image column (right) and decreasing image row (up).
type basis struct {
	forward, right, up r3.Vector
}

var faceBasis = [NumFaces]basis{
	Front:  {forward: r3.Vector{X: 0, Y: 0, Z: 1}, right: r3.Vector{X: 1, Y: 0, Z: 0}, up: r3.Vector{X: 0, Y: 1, Z: 0}},
	Right:  {forward: r3.Vector{X: 1, Y: 0, Z: 0}, right: r3.Vector{X: 0, Y: 0, Z: -1}, up: r3.Vector{X: 0, Y: 1, Z: 0}},
	Back:   {forward: r3.Vector{X: 0, Y: 0, Z: -1}, right: r3.Vector{X: -1, Y: 0, Z: 0}, up: r3.Vector{X: 0, Y: 1, Z: 0}},
	Left:   {forward: r3.Vector{X: -1, Y: 0, Z: 0}, right: r3.Vector{X: 0, Y: 0, Z: 1}, up: r3.Vector{X: 0, Y: 1, Z: 0}},
	Top:    {forward: r3.Vector{X: 0, Y: 1, Z: 0}, right: r3.Vector{X: 1, Y: 0, Z: 0}, up: r3.Vector{X: 0, Y: 0, Z: -1}},
	Bottom: {forward: r3.Vector{X: 0, Y: -1, Z: 0}, right: r3.Vector{X: 1, Y: 0, Z: 0}, up: r3.Vector{X: 0, Y: 0, Z: 1}},
}

// Direction returns the unit viewing direction for longitude s and latitude t
// (radians). Longitude 0 looks down +Z, positive longitude turns towards +X and
// positive latitude towards +Y.
func Direction(s, t float64) r3.Vector {
	ct := math.Cos(t)
	return r3.Vector{X: ct * math.Sin(s), Y: math.Sin(t), Z: ct * math.Cos(s)}
}

// Angles returns the longitude and latitude of direction d.
func Angles(d r3.Vector) (s, t float64) {
	return math.Atan2(d.X, d.Z), math.Atan2(d.Y, math.Hypot(d.X, d.Z))
}

// FaceOf returns the face whose optical axis is closest to d. Directions on a
// seam resolve to the earliest face in face order.
func FaceOf(d r3.Vector) Face {
	best := Front
	bestDot := d.Dot(faceBasis[Front].forward)
	for _, f := range Faces[1:] {
		if dot := d.Dot(faceBasis[f].forward); dot > bestDot {
			best, bestDot = f, dot
		}
	}
	return best
}

// PlaneCoords projects d onto the image plane of face f at unit distance and
// returns the plane coordinates (u along right, v along up). Both are in
// [-1, 1] for directions that belong to the face.
func PlaneCoords(f Face, d r3.Vector) (u, v float64) {
	b := faceBasis[f]
	z := d.Dot(b.forward)
	return d.Dot(b.right) / z, d.Dot(b.up) / z
}

// PixelDirection returns the (non-normalised) ray through the centre of pixel
// (row, col) of a size×size face.
func PixelDirection(f Face, row, col, size int) r3.Vector {
	u, v := pixelPlane(row, col, size)
	b := faceBasis[f]
	return b.forward.Add(b.right.Mul(u)).Add(b.up.Mul(v))
}

// pixelPlane returns the plane coordinates of a face pixel centre.
func pixelPlane(row, col, size int) (u, v float64) {
	n := float64(size)
	u = 2*(float64(col)+0.5)/n - 1
	v = 1 - 2*(float64(row)+0.5)/n
	return u, v
}

// planePixel is the inverse of pixelPlane with fractional results.
func planePixel(u, v float64, size int) (row, col float64) {
	n := float64(size)
	col = (u+1)*n/2 - 0.5
	row = (1-v)*n/2 - 0.5
	return row, col
}
