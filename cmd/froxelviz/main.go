// froxelviz opens a window, creates a wgpu device and runs the froxelizer
// every frame over a set of orbiting lights, uploading the froxel and
// record buffers through the wgpu sink. It is a wiring demo for the
// culling core, not a renderer; nothing is drawn.
package main

import (
	"math"
	"runtime"
	"time"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/cogentcore/webgpu/wgpuglfw"
	"github.com/go-gl/glfw/v3.3/glfw"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/google/uuid"

	"github.com/gekko3d/froxel"
)

const (
	windowWidth  = 1280
	windowHeight = 720
	lightCount   = 64
)

func main() {
	runtime.LockOSThread()
	log := froxel.NewDefaultLogger("froxelviz", false)

	if err := glfw.Init(); err != nil {
		panic(err)
	}
	defer glfw.Terminate()

	glfw.WindowHint(glfw.ClientAPI, glfw.NoAPI)
	glfw.WindowHint(glfw.Resizable, glfw.False)
	win, err := glfw.CreateWindow(windowWidth, windowHeight, "froxelviz", nil, nil)
	if err != nil {
		panic(err)
	}
	defer win.Destroy()

	instance := wgpu.CreateInstance(nil)
	defer instance.Release()
	surface := instance.CreateSurface(wgpuglfw.GetSurfaceDescriptor(win))
	adapter, err := instance.RequestAdapter(&wgpu.RequestAdapterOptions{
		CompatibleSurface: surface,
		PowerPreference:   wgpu.PowerPreferenceHighPerformance,
	})
	if err != nil {
		panic(err)
	}
	device, err := adapter.RequestDevice(&wgpu.DeviceDescriptor{
		Label: "Froxelviz Device",
	})
	if err != nil {
		panic(err)
	}
	queue := device.GetQueue()

	cfg := froxel.DefaultFroxelizerConfig()
	cfg.Logger = log
	fz := froxel.NewFroxelizer(cfg)
	fz.SetOptions(1, 100)

	cells := cellCount(windowWidth, windowHeight, cfg)
	sink := froxel.NewWgpuBufferSink(device, queue, cells*froxel.FroxelEntrySize, cfg.RecordBufferSize)
	fz.SetBufferSink(sink)

	arena := froxel.NewFrameArena(8 << 20)
	lights := makeLights()

	vp := froxel.Viewport{Width: windowWidth, Height: windowHeight}
	proj := mgl32.Perspective(mgl32.DegToRad(60), float32(windowWidth)/float32(windowHeight), 0.1, 100)

	start := time.Now()
	lastStats := start
	frames := 0

	for !win.ShouldClose() {
		glfw.PollEvents()
		t := float32(time.Since(start).Seconds())
		animateLights(lights, t)

		arena.Reset()
		fz.Prepare(vp, proj, 0.1, 100, arena)
		fz.FroxelizeLights(lights)
		frames++

		if time.Since(lastStats) >= time.Second {
			occupied := 0
			for _, e := range fz.FroxelBufferUser() {
				if e.PointLightCount > 0 || e.SpotLightCount > 0 {
					occupied++
				}
			}
			log.Infof("%d fps, grid %dx%dx%d, %d lit froxels, %d records, arena %d/%d",
				frames, fz.FroxelCountX(), fz.FroxelCountY(), fz.FroxelCountZ(),
				occupied, len(fz.RecordBufferUser()), arena.Used(), arena.Size())
			frames = 0
			lastStats = time.Now()
		}
	}

	fz.Terminate()
}

func cellCount(w, h int, cfg froxel.FroxelizerConfig) int {
	cx := (w + cfg.TileSize - 1) / cfg.TileSize
	cy := (h + cfg.TileSize - 1) / cfg.TileSize
	return cx * cy * cfg.SliceCount
}

func makeLights() *froxel.LightSoa {
	lights := froxel.NewLightSoa()
	for i := 0; i < lightCount; i++ {
		kind := froxel.LightTypePoint
		if i%4 == 0 {
			kind = froxel.LightTypeSpot
		}
		lights.Append(mgl32.Vec4{0, 0, -30, 3}, kind, uuid.New())
	}
	return lights
}

func animateLights(lights *froxel.LightSoa, t float32) {
	n := lights.Len() - 1
	for i := 1; i < lights.Len(); i++ {
		phase := float64(t) + 2*math.Pi*float64(i)/float64(n)
		ring := 5 + float32(i%5)*3
		lights.PositionRadius[i] = mgl32.Vec4{
			ring * float32(math.Cos(phase)),
			ring * 0.4 * float32(math.Sin(2*phase)),
			-20 - 15*float32(math.Sin(phase*0.3)+1),
			3,
		}
	}
}
