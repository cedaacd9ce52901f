package froxel

import (
	"github.com/go-gl/mathgl/mgl32"
)

// Froxel is the bounding volume of one grid cell: six view-space planes,
// indexed by PlaneLeft .. PlaneFar, with normals pointing outward (away
// from the cell interior). It is a cheap value composed on demand from the
// Froxelizer's cached per-axis boundary planes; adjacent froxels along an
// axis share a bit-identical boundary plane.
type Froxel struct {
	Planes [planeCount]mgl32.Vec4
}
