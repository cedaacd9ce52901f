package froxel

import (
	"fmt"
	"math"
	"math/bits"
	"sort"
	"unsafe"

	"github.com/go-gl/mathgl/mgl32"
)

// Viewport is the pixel rectangle the froxel grid covers.
type Viewport struct {
	X, Y          int
	Width, Height int
}

// DepthDistribution selects how the light depth range is split into slices.
type DepthDistribution int

const (
	// DepthExponential spaces slice boundaries geometrically between
	// zLightNear and zLightFar, roughly equalizing perceptual depth per
	// slice. This is the default.
	DepthExponential DepthDistribution = iota
	// DepthLinear spaces slice boundaries evenly.
	DepthLinear
)

// maxTrackedLights bounds the light list length the Froxelizer accepts,
// sentinel included. Record entries are single bytes, so light indices must
// fit in 8 bits.
const maxTrackedLights = 256

// the dirty-range trackers stay compact; merging absorbs fragmentation
const dirtyRangeCapacity = 16

// FroxelEntry is one cell of the froxel buffer as uploaded to the GPU:
// per-kind light counts and the cell's offset into the record buffer.
type FroxelEntry struct {
	RecordOffset    uint32
	PointLightCount uint8
	SpotLightCount  uint8
	_               [2]uint8
}

// FroxelEntrySize is the byte size of one FroxelEntry in the froxel buffer.
var FroxelEntrySize = int(unsafe.Sizeof(FroxelEntry{}))

// FroxelizerConfig carries the grid resolution and packing policies. The
// depth distribution and the per-cell capacity are deliberately exposed
// here rather than hard-coded.
type FroxelizerConfig struct {
	// TileSize is the edge length in pixels of one froxel column/row.
	TileSize int
	// SliceCount is the froxel count along Z. Must be at least 2.
	SliceCount int
	// MaxLightsPerCell caps the point and the spot light count of a cell
	// independently. Lights past the cap are silently dropped for that
	// cell only. At most 255.
	MaxLightsPerCell int
	// RecordBufferSize is the total light-index record capacity. Cells
	// that do not fit are emitted empty. Must be a multiple of 4 so the
	// buffer can be uploaded with aligned queue writes.
	RecordBufferSize int
	Distribution     DepthDistribution
	Logger           Logger
}

// DefaultFroxelizerConfig mirrors the grid resolution commonly used for
// clustered shading: 16px tiles, 16 depth slices.
func DefaultFroxelizerConfig() FroxelizerConfig {
	return FroxelizerConfig{
		TileSize:         16,
		SliceCount:       16,
		MaxLightsPerCell: 255,
		RecordBufferSize: 1 << 16,
		Distribution:     DepthExponential,
	}
}

// Froxelizer partitions the camera frustum into a froxel grid and assigns
// lights to cells. It is a long-lived, single-owner object; the per-frame
// calls (Prepare, FroxelizeLights) are not reentrant and must run on one
// goroutine per instance.
type Froxelizer struct {
	cfg FroxelizerConfig
	log Logger

	zLightNear float32
	zLightFar  float32

	viewport Viewport
	proj     mgl32.Mat4
	frustum  Frustum

	countX, countY, countZ int

	// ordered per-axis boundary planes, arena-backed, valid for the
	// current frame only. planesX has countX+1 entries with normals
	// oriented right-positive; planesY countY+1, up-positive;
	// boundariesZ countZ+1 ascending distances along -Z.
	planesX     []mgl32.Vec4
	planesY     []mgl32.Vec4
	boundariesZ []float32

	arena    *FrameArena
	prepared bool

	froxelBuffer []FroxelEntry
	recordBuffer []uint8
	recordLen    int

	froxelDirty *RangeSet
	recordDirty *RangeSet

	sink BufferSink
}

// NewFroxelizer validates the configuration and creates a Froxelizer.
// Panics on invalid configuration; that is a programming error, not a
// runtime condition.
func NewFroxelizer(cfg FroxelizerConfig) *Froxelizer {
	if cfg.TileSize <= 0 {
		panic(fmt.Sprintf("froxel: TileSize must be positive, got %d", cfg.TileSize))
	}
	if cfg.SliceCount < 2 {
		panic(fmt.Sprintf("froxel: SliceCount must be at least 2, got %d", cfg.SliceCount))
	}
	if cfg.MaxLightsPerCell <= 0 || cfg.MaxLightsPerCell > 255 {
		panic(fmt.Sprintf("froxel: MaxLightsPerCell must be in 1..255, got %d", cfg.MaxLightsPerCell))
	}
	if cfg.RecordBufferSize <= 0 || cfg.RecordBufferSize%4 != 0 {
		panic(fmt.Sprintf("froxel: RecordBufferSize must be a positive multiple of 4, got %d", cfg.RecordBufferSize))
	}
	log := cfg.Logger
	if log == nil {
		log = NewNopLogger()
	}
	return &Froxelizer{
		cfg:         cfg,
		log:         log,
		zLightNear:  5,
		zLightFar:   100,
		froxelDirty: NewRangeSet(dirtyRangeCapacity),
		recordDirty: NewRangeSet(dirtyRangeCapacity),
	}
}

// SetOptions records the light-relevant depth range. It does not recompute
// anything; the boundary planes are rebuilt on the next Prepare. Panics on
// an inverted or non-positive range.
func (f *Froxelizer) SetOptions(zLightNear, zLightFar float32) {
	if !(zLightNear > 0 && zLightFar > zLightNear) {
		panic(fmt.Sprintf("froxel: invalid light depth range [%g, %g]", zLightNear, zLightFar))
	}
	f.zLightNear = zLightNear
	f.zLightFar = zLightFar
}

// SetBufferSink attaches the driver-facing sink that receives buffer
// contents after each FroxelizeLights. May be nil.
func (f *Froxelizer) SetBufferSink(sink BufferSink) { f.sink = sink }

// Prepare rebuilds the per-axis boundary planes for this frame from the
// viewport and projection. Scratch is drawn from the caller's arena and is
// valid only until the arena resets. Must be called before GetFroxelAt or
// FroxelizeLights each frame.
func (f *Froxelizer) Prepare(vp Viewport, projection mgl32.Mat4, cameraNear, cameraFar float32, arena *FrameArena) {
	if vp.Width <= 0 || vp.Height <= 0 {
		panic(fmt.Sprintf("froxel: invalid viewport %dx%d", vp.Width, vp.Height))
	}
	if !(cameraNear > 0 && cameraFar > cameraNear) {
		panic(fmt.Sprintf("froxel: invalid camera depth range [%g, %g]", cameraNear, cameraFar))
	}
	if arena == nil {
		panic("froxel: Prepare needs a frame arena")
	}

	f.viewport = vp
	f.proj = projection
	f.frustum = NewFrustum(projection)
	f.arena = arena

	tile := f.cfg.TileSize
	f.countX = (vp.Width + tile - 1) / tile
	f.countY = (vp.Height + tile - 1) / tile
	f.countZ = f.cfg.SliceCount

	f.planesX = ArenaAlloc[mgl32.Vec4](arena, f.countX+1)
	f.planesY = ArenaAlloc[mgl32.Vec4](arena, f.countY+1)
	f.boundariesZ = ArenaAlloc[float32](arena, f.countZ+1)

	// Vertical boundary planes, ordered left to right. Every boundary is
	// a plane through the camera origin; the outermost two fall out of
	// the same clip-plane arithmetic the Frustum uses, so they are
	// bit-identical to the frustum's left/right planes.
	for i := 0; i <= f.countX; i++ {
		px := i * tile
		if px > vp.Width {
			px = vp.Width
		}
		c := 2*float32(px)/float32(vp.Width) - 1
		f.planesX[i] = planeFromClip(projection, mgl32.Vec4{1, 0, 0, -c})
	}

	// Horizontal boundary planes, ordered bottom to top.
	for i := 0; i <= f.countY; i++ {
		py := i * tile
		if py > vp.Height {
			py = vp.Height
		}
		c := 2*float32(py)/float32(vp.Height) - 1
		f.planesY[i] = planeFromClip(projection, mgl32.Vec4{0, 1, 0, -c})
	}

	// Depth slice boundaries as positive distances along -Z. The first
	// slice always starts at 0 and ends at zLightNear, so lights between
	// the camera and the light range still land in slice 0; the last
	// boundary is exactly zLightFar.
	f.boundariesZ[0] = 0
	f.boundariesZ[1] = f.zLightNear
	f.boundariesZ[f.countZ] = f.zLightFar
	for k := 2; k < f.countZ; k++ {
		t := float32(k-1) / float32(f.countZ-1)
		switch f.cfg.Distribution {
		case DepthLinear:
			f.boundariesZ[k] = f.zLightNear + (f.zLightFar-f.zLightNear)*t
		default:
			f.boundariesZ[k] = f.zLightNear * float32(math.Pow(float64(f.zLightFar/f.zLightNear), float64(t)))
		}
	}

	cells := f.countX * f.countY * f.countZ
	if len(f.froxelBuffer) != cells {
		f.froxelBuffer = make([]FroxelEntry, cells)
		f.recordBuffer = make([]uint8, f.cfg.RecordBufferSize)
		f.recordLen = 0
		f.froxelDirty.Clear()
		f.recordDirty.Clear()
		f.froxelDirty.Set(0, cells*FroxelEntrySize)
		f.recordDirty.Set(0, len(f.recordBuffer))
	}
	f.prepared = true
}

// FroxelCountX returns the grid column count of the last Prepare.
func (f *Froxelizer) FroxelCountX() int { return f.countX }

// FroxelCountY returns the grid row count of the last Prepare.
func (f *Froxelizer) FroxelCountY() int { return f.countY }

// FroxelCountZ returns the depth slice count.
func (f *Froxelizer) FroxelCountZ() int { return f.countZ }

// GetFroxelAt composes the bounding planes of cell (x, y, z) from the
// cached per-axis boundaries. Normals point outward. Panics when called
// before Prepare or with out-of-range coordinates.
func (f *Froxelizer) GetFroxelAt(x, y, z int) Froxel {
	if !f.prepared {
		panic("froxel: GetFroxelAt before Prepare")
	}
	if x < 0 || x >= f.countX || y < 0 || y >= f.countY || z < 0 || z >= f.countZ {
		panic(fmt.Sprintf("froxel: froxel (%d,%d,%d) out of %dx%dx%d grid", x, y, z, f.countX, f.countY, f.countZ))
	}
	var fr Froxel
	fr.Planes[PlaneLeft] = f.planesX[x].Mul(-1)
	fr.Planes[PlaneRight] = f.planesX[x+1]
	fr.Planes[PlaneBottom] = f.planesY[y].Mul(-1)
	fr.Planes[PlaneTop] = f.planesY[y+1]
	fr.Planes[PlaneNear] = mgl32.Vec4{0, 0, 1, f.boundariesZ[z]}
	fr.Planes[PlaneFar] = mgl32.Vec4{0, 0, -1, -f.boundariesZ[z+1]}
	return fr
}

// Frustum returns the camera frustum of the last Prepare.
func (f *Froxelizer) Frustum() Frustum { return f.frustum }

// lightBits is one froxel's scratch set of light indices.
type lightBits [maxTrackedLights / 64]uint64

// FroxelizeLights assigns every light to the froxels its bounding sphere
// touches and finalizes the froxel and record buffers. Index 0 of the list
// is the sentinel and is skipped, as are directional and ambient lights.
// When a sink is attached, the byte ranges that changed since the previous
// frame are uploaded through it.
func (f *Froxelizer) FroxelizeLights(lights *LightSoa) {
	if !f.prepared {
		panic("froxel: FroxelizeLights before Prepare")
	}
	if lights == nil || lights.Len() == 0 {
		panic("froxel: light list must contain at least the sentinel")
	}
	if lights.Len() > maxTrackedLights {
		panic(fmt.Sprintf("froxel: light list too long: %d > %d", lights.Len(), maxTrackedLights))
	}
	if len(lights.Kind) != lights.Len() || len(lights.Handle) != lights.Len() {
		panic("froxel: light SoA arrays out of sync")
	}

	cells := f.countX * f.countY * f.countZ
	records := ArenaAlloc[lightBits](f.arena, cells)

	for li := 1; li < lights.Len(); li++ {
		kind := lights.Kind[li]
		if kind != LightTypePoint && kind != LightTypeSpot {
			continue
		}
		pr := lights.PositionRadius[li]
		center := pr.Vec3()
		radius := pr.W()

		x0, x1 := froxelRangePlanes(f.planesX, center, radius)
		if x1 <= x0 {
			continue
		}
		y0, y1 := froxelRangePlanes(f.planesY, center, radius)
		if y1 <= y0 {
			continue
		}
		z0, z1 := froxelRangeDepth(f.boundariesZ, -center.Z(), radius)
		if z1 <= z0 {
			continue
		}

		word, bit := li/64, uint(li%64)
		for z := z0; z < z1; z++ {
			for y := y0; y < y1; y++ {
				row := (z*f.countY + y) * f.countX
				for x := x0; x < x1; x++ {
					records[row+x][word] |= 1 << bit
				}
			}
		}
	}

	f.finalize(records, lights)

	if f.sink != nil {
		if !f.froxelDirty.IsEmpty() {
			f.sink.UploadFroxels(froxelEntryBytes(f.froxelBuffer), f.froxelDirty.Ranges())
			f.froxelDirty.Clear()
		}
		if !f.recordDirty.IsEmpty() {
			f.sink.UploadRecords(f.recordBuffer, f.recordDirty.Ranges())
			f.recordDirty.Clear()
		}
	}
}

// finalize turns the per-cell index sets into the packed froxel buffer and
// the record buffer, point indices first, then spot, contiguous per cell in
// cell order. Per-kind counts are capped; record overflow empties the
// affected cells.
func (f *Froxelizer) finalize(records []lightBits, lights *LightSoa) {
	maxPer := f.cfg.MaxLightsPerCell
	points := ArenaAlloc[uint8](f.arena, maxPer)
	spots := ArenaAlloc[uint8](f.arena, maxPer)

	offset := 0
	dropped := 0
	overflowed := false

	for c := range records {
		np, ns := 0, 0
		for w, word := range records[c] {
			for word != 0 {
				li := w*64 + bits.TrailingZeros64(word)
				word &= word - 1
				if lights.Kind[li] == LightTypePoint {
					if np < maxPer {
						points[np] = uint8(li)
						np++
					} else {
						dropped++
					}
				} else {
					if ns < maxPer {
						spots[ns] = uint8(li)
						ns++
					} else {
						dropped++
					}
				}
			}
		}

		entry := FroxelEntry{}
		if n := np + ns; n > 0 {
			if offset+n > len(f.recordBuffer) {
				overflowed = true
			} else {
				entry = FroxelEntry{
					RecordOffset:    uint32(offset),
					PointLightCount: uint8(np),
					SpotLightCount:  uint8(ns),
				}
				f.writeRecords(offset, points[:np], spots[:ns])
				offset += n
			}
		}
		if f.froxelBuffer[c] != entry {
			f.froxelBuffer[c] = entry
			f.froxelDirty.Set(c*FroxelEntrySize, FroxelEntrySize)
		}
	}
	f.recordLen = offset

	if dropped > 0 {
		f.log.Debugf("froxelizer: dropped %d per-cell light records over the %d cap", dropped, maxPer)
	}
	if overflowed {
		f.log.Warnf("froxelizer: record buffer full (%d), some cells emitted empty", len(f.recordBuffer))
	}
}

func (f *Froxelizer) writeRecords(offset int, points, spots []uint8) {
	pos := offset
	for _, li := range points {
		if f.recordBuffer[pos] != li {
			f.recordBuffer[pos] = li
			f.recordDirty.Set(pos, 1)
		}
		pos++
	}
	for _, li := range spots {
		if f.recordBuffer[pos] != li {
			f.recordBuffer[pos] = li
			f.recordDirty.Set(pos, 1)
		}
		pos++
	}
}

// FroxelBufferUser returns the finalized froxel buffer, one entry per cell
// in cell order. Read-only for the shading stage; valid until the next
// FroxelizeLights.
func (f *Froxelizer) FroxelBufferUser() []FroxelEntry { return f.froxelBuffer }

// RecordBufferUser returns the finalized record buffer, light indices
// contiguous per cell, addressed via each entry's RecordOffset. Read-only.
func (f *Froxelizer) RecordBufferUser() []uint8 {
	return f.recordBuffer[:f.recordLen]
}

// Terminate releases GPU-facing resources. The Froxelizer must not be used
// afterwards.
func (f *Froxelizer) Terminate() {
	if f.sink != nil {
		f.sink.Release()
		f.sink = nil
	}
	f.froxelBuffer = nil
	f.recordBuffer = nil
	f.prepared = false
}

// froxelRangePlanes brackets the sphere between the ordered boundary
// planes of one axis and returns the touched cell interval [lo, hi).
// Signed distance to the boundaries decreases monotonically with the
// boundary index, which keeps this a pair of binary searches.
func froxelRangePlanes(planes []mgl32.Vec4, center mgl32.Vec3, radius float32) (lo, hi int) {
	n := len(planes)
	lo = sort.Search(n, func(i int) bool { return planeDistance(planes[i], center) < radius }) - 1
	if lo < 0 {
		lo = 0
	}
	hi = sort.Search(n, func(i int) bool { return planeDistance(planes[i], center) <= -radius })
	if hi > n-1 {
		hi = n - 1
	}
	return lo, hi
}

// froxelRangeDepth brackets [d-radius, d+radius] between the ascending
// slice boundaries and returns the touched slice interval [lo, hi).
func froxelRangeDepth(boundaries []float32, d, radius float32) (lo, hi int) {
	n := len(boundaries)
	lo = sort.Search(n, func(i int) bool { return boundaries[i] > d-radius }) - 1
	if lo < 0 {
		lo = 0
	}
	hi = sort.Search(n, func(i int) bool { return boundaries[i] >= d+radius })
	if hi > n-1 {
		hi = n - 1
	}
	return lo, hi
}

func froxelEntryBytes(entries []FroxelEntry) []byte {
	if len(entries) == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(&entries[0])), len(entries)*FroxelEntrySize)
}
