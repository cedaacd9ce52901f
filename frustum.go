package froxel

import (
	"github.com/go-gl/mathgl/mgl32"
)

// Plane indices shared by Frustum and Froxel.
const (
	PlaneLeft = iota
	PlaneRight
	PlaneTop
	PlaneBottom
	PlaneNear
	PlaneFar
	planeCount
)

// Planes are stored as mgl32.Vec4 (nx, ny, nz, d) encoding n.x + d = 0.
// The positive half-space n.x + d > 0 is "inside".

// planeFromClip maps a clip-space half-space to view (or world) space by
// multiplying with the transpose of the clip matrix. Both the Frustum and
// the Froxelizer boundary planes go through this helper so that planes
// derived from the same matrix and clip coefficients are bit-identical.
func planeFromClip(m mgl32.Mat4, clip mgl32.Vec4) mgl32.Vec4 {
	return normalizePlane(m.Transpose().Mul4x1(clip))
}

func normalizePlane(p mgl32.Vec4) mgl32.Vec4 {
	n := p.Vec3().Len()
	if n == 0 {
		return p
	}
	return p.Mul(1 / n)
}

// planeDistance returns the signed distance of v to the plane. Positive
// means v is on the inside half-space.
func planeDistance(p mgl32.Vec4, v mgl32.Vec3) float32 {
	return p[0]*v[0] + p[1]*v[1] + p[2]*v[2] + p[3]
}

// Box is an axis-aligned box given as center and half-extent.
type Box struct {
	Center     mgl32.Vec3
	HalfExtent mgl32.Vec3
}

// TranslateTo returns the same box moved to a new center.
func (b Box) TranslateTo(center mgl32.Vec3) Box {
	return Box{Center: center, HalfExtent: b.HalfExtent}
}

// Sphere is a bounding sphere. A zero Radius is a valid degenerate sphere.
type Sphere struct {
	Center mgl32.Vec3
	Radius float32
}

// Frustum holds the six half-space planes of a view volume, extracted once
// from a projection (optionally premultiplied by a view) matrix. Planes are
// normalized and oriented inside-positive. Immutable after construction.
type Frustum struct {
	planes [planeCount]mgl32.Vec4
}

// NewFrustum extracts the frustum planes from a clip matrix using the
// standard row-combination method. The matrix follows the GL clip volume
// convention (ndc z in [-1, 1]), which is what mgl32.Perspective and
// mgl32.Frustum produce.
func NewFrustum(pv mgl32.Mat4) Frustum {
	var f Frustum
	f.planes[PlaneLeft] = planeFromClip(pv, mgl32.Vec4{1, 0, 0, 1})
	f.planes[PlaneRight] = planeFromClip(pv, mgl32.Vec4{-1, 0, 0, 1})
	f.planes[PlaneTop] = planeFromClip(pv, mgl32.Vec4{0, -1, 0, 1})
	f.planes[PlaneBottom] = planeFromClip(pv, mgl32.Vec4{0, 1, 0, 1})
	f.planes[PlaneNear] = planeFromClip(pv, mgl32.Vec4{0, 0, 1, 1})
	f.planes[PlaneFar] = planeFromClip(pv, mgl32.Vec4{0, 0, -1, 1})
	return f
}

// Plane returns one of the six planes (PlaneLeft .. PlaneFar).
func (f *Frustum) Plane(i int) mgl32.Vec4 {
	return f.planes[i]
}

// Intersects reports whether the box touches the frustum. The test is
// conservative: each plane is evaluated independently, so a box that is
// outside the volume but straddles the outer boundary of two or three
// planes near an edge or corner can be reported as intersecting. A box
// fully outside any single plane is never missed.
func (f *Frustum) Intersects(b Box) bool {
	for _, p := range f.planes {
		// projection radius of the box onto the plane normal
		r := mgl32.Abs(p[0])*b.HalfExtent[0] +
			mgl32.Abs(p[1])*b.HalfExtent[1] +
			mgl32.Abs(p[2])*b.HalfExtent[2]
		if planeDistance(p, b.Center) < -r {
			return false
		}
	}
	return true
}

// IntersectsSphere reports whether the sphere touches the frustum. Like
// the box test it checks each plane independently and shares the same
// corner false-positive region, though a smaller one since a sphere's
// extent along a plane normal does not depend on orientation.
func (f *Frustum) IntersectsSphere(s Sphere) bool {
	for _, p := range f.planes {
		if planeDistance(p, s.Center) < -s.Radius {
			return false
		}
	}
	return true
}
