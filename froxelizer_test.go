package froxel

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// view-port size is chosen so the viewport divides evenly into froxel
// columns, which pins the exact orientation of the outermost planes for a
// 90-deg horizontal FOV camera.
func prepareTestFroxelizer(t *testing.T, cfg FroxelizerConfig) (*Froxelizer, *FrameArena) {
	t.Helper()
	fz := NewFroxelizer(cfg)
	fz.SetOptions(5, 100)
	arena := NewFrameArena(8 << 20)
	vp := Viewport{Width: 1280, Height: 640}
	proj := mgl32.Perspective(mgl32.DegToRad(90), 1.0, 0.1, 100)
	fz.Prepare(vp, proj, 0.1, 100, arena)
	return fz, arena
}

func TestFroxelizerGridPlanes(t *testing.T) {
	fz, _ := prepareTestFroxelizer(t, DefaultFroxelizerConfig())

	require.Equal(t, 80, fz.FroxelCountX())
	require.Equal(t, 40, fz.FroxelCountY())
	require.Equal(t, 16, fz.FroxelCountZ())

	sqrt2over2 := float32(math.Sqrt2 / 2)
	f := fz.GetFroxelAt(0, 0, 0)

	// 45-deg plane, normal pointing outward to the left
	assert.InDelta(t, -sqrt2over2, f.Planes[PlaneLeft].X(), 1e-6)
	assert.InDelta(t, 0, f.Planes[PlaneLeft].Y(), 1e-6)
	assert.InDelta(t, sqrt2over2, f.Planes[PlaneLeft].Z(), 1e-6)

	// the right side of froxel 0 is a near 45-deg plane pointing outward
	// to the right
	assert.Greater(t, f.Planes[PlaneRight].X(), float32(0))
	assert.InDelta(t, 0, f.Planes[PlaneRight].Y(), 1e-6)
	assert.Less(t, f.Planes[PlaneRight].Z(), float32(0))

	// right side of the last horizontal froxel is a 45-deg plane pointing
	// outward to the right
	g := fz.GetFroxelAt(fz.FroxelCountX()-1, 0, 0)
	assert.InDelta(t, sqrt2over2, g.Planes[PlaneRight].X(), 1e-6)
	assert.InDelta(t, 0, g.Planes[PlaneRight].Y(), 1e-6)
	assert.InDelta(t, sqrt2over2, g.Planes[PlaneRight].Z(), 1e-6)

	// first froxel near plane faces the camera, far plane points away
	assert.Equal(t, mgl32.Vec4{0, 0, 1, 0}, f.Planes[PlaneNear])
	assert.Equal(t, float32(-1), f.Planes[PlaneFar].Z())

	// first slice: near distance always 0, far distance always zLightNear
	assert.Equal(t, float32(0), f.Planes[PlaneNear].W())
	assert.Equal(t, float32(-5), f.Planes[PlaneFar].W())

	// farthest slice: far distance always zLightFar
	l := fz.GetFroxelAt(0, 0, fz.FroxelCountZ()-1)
	assert.Equal(t, float32(-100), l.Planes[PlaneFar].W())
}

func TestFroxelizerSharedBoundaryPlanes(t *testing.T) {
	fz, _ := prepareTestFroxelizer(t, DefaultFroxelizerConfig())

	// the leftmost froxel's LEFT plane is the frustum's own left plane
	// (flipped to point outward), bit for bit
	fr := fz.Frustum()
	f := fz.GetFroxelAt(0, 0, 0)
	require.Equal(t, fr.Plane(PlaneLeft).Mul(-1), f.Planes[PlaneLeft])

	// adjacent froxels share a bit-identical boundary plane
	a := fz.GetFroxelAt(3, 7, 2)
	b := fz.GetFroxelAt(4, 7, 2)
	require.Equal(t, a.Planes[PlaneRight], b.Planes[PlaneLeft].Mul(-1))
	c := fz.GetFroxelAt(3, 8, 2)
	require.Equal(t, a.Planes[PlaneTop], c.Planes[PlaneBottom].Mul(-1))
	d := fz.GetFroxelAt(3, 7, 3)
	require.Equal(t, a.Planes[PlaneFar].W(), -d.Planes[PlaneNear].W())
}

func TestFroxelizerDepthSlices(t *testing.T) {
	fz, _ := prepareTestFroxelizer(t, DefaultFroxelizerConfig())

	// slice boundaries are monotonically increasing
	prev := float32(0)
	for z := 0; z < fz.FroxelCountZ(); z++ {
		f := fz.GetFroxelAt(0, 0, z)
		near := f.Planes[PlaneNear].W()
		far := -f.Planes[PlaneFar].W()
		require.Equal(t, prev, near, "slice %d near must meet previous far", z)
		require.Greater(t, far, near, "slice %d must have positive depth", z)
		prev = far
	}
	require.Equal(t, float32(100), prev)
}

func TestFroxelizeSingleLight(t *testing.T) {
	fz, arena := prepareTestFroxelizer(t, DefaultFroxelizerConfig())

	lights := NewLightSoa()
	lights.Append(mgl32.Vec4{0, 0, -5, 1}, LightTypePoint, uuid.New())

	// light straddles the zLightNear boundary: it must land in slice 0
	// and slice 1
	fz.FroxelizeLights(lights)
	pointCount := 0
	perSlice := make([]int, fz.FroxelCountZ())
	sliceCells := fz.FroxelCountX() * fz.FroxelCountY()
	for c, entry := range fz.FroxelBufferUser() {
		assert.LessOrEqual(t, entry.PointLightCount, uint8(1))
		assert.Equal(t, uint8(0), entry.SpotLightCount)
		pointCount += int(entry.PointLightCount)
		perSlice[c/sliceCells] += int(entry.PointLightCount)
	}
	require.Greater(t, pointCount, 0)
	assert.Greater(t, perSlice[0], 0, "light reaches in front of the boundary")
	assert.Greater(t, perSlice[1], 0, "light reaches behind the boundary")

	// every lit cell's record points at light index 1
	records := fz.RecordBufferUser()
	for _, entry := range fz.FroxelBufferUser() {
		if entry.PointLightCount > 0 {
			assert.Equal(t, uint8(1), records[entry.RecordOffset])
		}
	}

	// light fully inside one slice still lands somewhere
	lights.PositionRadius[1] = mgl32.Vec4{0, 0, -3, 1}
	arena.Reset()
	fz.Prepare(Viewport{Width: 1280, Height: 640},
		mgl32.Perspective(mgl32.DegToRad(90), 1.0, 0.1, 100), 0.1, 100, arena)
	fz.FroxelizeLights(lights)
	pointCount = 0
	for _, entry := range fz.FroxelBufferUser() {
		assert.LessOrEqual(t, entry.PointLightCount, uint8(1))
		assert.Equal(t, uint8(0), entry.SpotLightCount)
		pointCount += int(entry.PointLightCount)
	}
	require.Greater(t, pointCount, 0)
}

func TestFroxelizeSentinelOnly(t *testing.T) {
	fz, _ := prepareTestFroxelizer(t, DefaultFroxelizerConfig())

	fz.FroxelizeLights(NewLightSoa())
	for _, entry := range fz.FroxelBufferUser() {
		require.Equal(t, uint8(0), entry.PointLightCount)
		require.Equal(t, uint8(0), entry.SpotLightCount)
	}
	require.Empty(t, fz.RecordBufferUser())
}

func TestFroxelizePointAndSpot(t *testing.T) {
	fz, _ := prepareTestFroxelizer(t, DefaultFroxelizerConfig())

	lights := NewLightSoa()
	lights.Append(mgl32.Vec4{0, 0, -20, 2}, LightTypePoint, uuid.New())
	lights.Append(mgl32.Vec4{0, 0, -20, 2}, LightTypeSpot, uuid.New())
	// directional and ambient lights are not froxelized
	lights.Append(mgl32.Vec4{0, 0, -20, 2}, LightTypeDirectional, uuid.New())
	lights.Append(mgl32.Vec4{0, 0, -20, 2}, LightTypeAmbient, uuid.New())

	fz.FroxelizeLights(lights)
	records := fz.RecordBufferUser()
	lit := 0
	for _, entry := range fz.FroxelBufferUser() {
		if entry.PointLightCount == 0 && entry.SpotLightCount == 0 {
			continue
		}
		lit++
		// both lights are coincident, so every lit cell has both, point
		// records first
		require.Equal(t, uint8(1), entry.PointLightCount)
		require.Equal(t, uint8(1), entry.SpotLightCount)
		require.Equal(t, uint8(1), records[entry.RecordOffset])
		require.Equal(t, uint8(2), records[entry.RecordOffset+1])
	}
	require.Greater(t, lit, 0)
}

func TestFroxelizePerCellCapacity(t *testing.T) {
	cfg := DefaultFroxelizerConfig()
	cfg.MaxLightsPerCell = 2
	fz, _ := prepareTestFroxelizer(t, cfg)

	lights := NewLightSoa()
	for i := 0; i < 4; i++ {
		lights.Append(mgl32.Vec4{0, 0, -20, 2}, LightTypePoint, uuid.New())
	}

	fz.FroxelizeLights(lights)
	lit := 0
	for _, entry := range fz.FroxelBufferUser() {
		assert.LessOrEqual(t, entry.PointLightCount, uint8(2))
		if entry.PointLightCount > 0 {
			lit++
			require.Equal(t, uint8(2), entry.PointLightCount)
		}
	}
	require.Greater(t, lit, 0)
}

func TestFroxelizeOffscreenLight(t *testing.T) {
	fz, _ := prepareTestFroxelizer(t, DefaultFroxelizerConfig())

	lights := NewLightSoa()
	// behind the camera, beyond zLightFar, and far out left
	lights.Append(mgl32.Vec4{0, 0, 10, 1}, LightTypePoint, uuid.New())
	lights.Append(mgl32.Vec4{0, 0, -200, 1}, LightTypePoint, uuid.New())
	lights.Append(mgl32.Vec4{-500, 0, -20, 1}, LightTypePoint, uuid.New())

	fz.FroxelizeLights(lights)
	for _, entry := range fz.FroxelBufferUser() {
		require.Equal(t, uint8(0), entry.PointLightCount)
	}
}

type captureSink struct {
	froxelUploads int
	recordUploads int
	froxelRanges  []BufferRange
	recordRanges  []BufferRange
	released      bool
}

func (s *captureSink) UploadFroxels(data []byte, ranges []BufferRange) {
	s.froxelUploads++
	s.froxelRanges = append([]BufferRange{}, ranges...)
}

func (s *captureSink) UploadRecords(data []byte, ranges []BufferRange) {
	s.recordUploads++
	s.recordRanges = append([]BufferRange{}, ranges...)
}

func (s *captureSink) Release() { s.released = true }

func TestFroxelizerDirtyRangeUploads(t *testing.T) {
	fz, arena := prepareTestFroxelizer(t, DefaultFroxelizerConfig())
	sink := &captureSink{}
	fz.SetBufferSink(sink)

	reprepare := func() {
		arena.Reset()
		fz.Prepare(Viewport{Width: 1280, Height: 640},
			mgl32.Perspective(mgl32.DegToRad(90), 1.0, 0.1, 100), 0.1, 100, arena)
	}

	lights := NewLightSoa()
	lights.Append(mgl32.Vec4{0, 0, -20, 2}, LightTypePoint, uuid.New())

	// first frame uploads everything: the grid allocation marks the whole
	// buffers dirty
	fz.FroxelizeLights(lights)
	require.Equal(t, 1, sink.froxelUploads)
	require.NotEmpty(t, sink.froxelRanges)

	// an identical second frame has nothing to upload
	reprepare()
	fz.FroxelizeLights(lights)
	require.Equal(t, 1, sink.froxelUploads)
	require.Equal(t, 1, sink.recordUploads)

	// moving the light dirties only the affected entries
	lights.PositionRadius[1] = mgl32.Vec4{5, 0, -40, 2}
	reprepare()
	fz.FroxelizeLights(lights)
	require.Equal(t, 2, sink.froxelUploads)
	require.NotEmpty(t, sink.froxelRanges)
	total := 0
	for _, r := range sink.froxelRanges {
		require.Less(t, r.Start, r.End)
		total += r.End - r.Start
	}
	cells := fz.FroxelCountX() * fz.FroxelCountY() * fz.FroxelCountZ()
	require.Less(t, total, cells*FroxelEntrySize, "partial update must not cover the whole buffer")

	fz.Terminate()
	require.True(t, sink.released)
}

func TestFroxelizerPreconditions(t *testing.T) {
	assert.Panics(t, func() { NewFroxelizer(FroxelizerConfig{}) })
	cfg := DefaultFroxelizerConfig()
	cfg.MaxLightsPerCell = 300
	assert.Panics(t, func() { NewFroxelizer(cfg) })

	fz := NewFroxelizer(DefaultFroxelizerConfig())
	assert.Panics(t, func() { fz.SetOptions(10, 5) })
	assert.Panics(t, func() { fz.SetOptions(-1, 5) })
	assert.Panics(t, func() { fz.GetFroxelAt(0, 0, 0) })
	assert.Panics(t, func() { fz.FroxelizeLights(NewLightSoa()) })

	arena := NewFrameArena(1 << 20)
	proj := mgl32.Perspective(mgl32.DegToRad(60), 1.0, 0.1, 100)
	assert.Panics(t, func() { fz.Prepare(Viewport{Width: 0, Height: 64}, proj, 0.1, 100, arena) })
	assert.Panics(t, func() { fz.Prepare(Viewport{Width: 64, Height: 64}, proj, 100, 0.1, arena) })
	assert.Panics(t, func() { fz.Prepare(Viewport{Width: 64, Height: 64}, proj, 0.1, 100, nil) })

	fz.Prepare(Viewport{Width: 64, Height: 64}, proj, 0.1, 100, arena)
	assert.Panics(t, func() { fz.GetFroxelAt(-1, 0, 0) })
	assert.Panics(t, func() { fz.GetFroxelAt(4, 0, 0) })

	tooMany := NewLightSoa()
	for i := 0; i < maxTrackedLights; i++ {
		tooMany.Append(mgl32.Vec4{0, 0, -10, 1}, LightTypePoint, uuid.Nil)
	}
	assert.Panics(t, func() { fz.FroxelizeLights(tooMany) })
}

func TestDumpOccupancy(t *testing.T) {
	cfg := DefaultFroxelizerConfig()
	fz := NewFroxelizer(cfg)
	fz.SetOptions(1, 50)
	arena := NewFrameArena(1 << 20)
	proj := mgl32.Perspective(mgl32.DegToRad(60), 1.0, 0.1, 100)
	fz.Prepare(Viewport{Width: 64, Height: 64}, proj, 0.1, 100, arena)

	lights := NewLightSoa()
	lights.Append(mgl32.Vec4{0, 0, -10, 2}, LightTypePoint, uuid.New())
	fz.FroxelizeLights(lights)

	dir := t.TempDir()
	require.NoError(t, fz.DumpOccupancy(dir, 4))
	files, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, files, fz.FroxelCountZ())
	require.Equal(t, "froxel_slice_00.png", filepath.Base(files[0].Name()))
}
