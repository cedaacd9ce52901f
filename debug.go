package froxel

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"

	xdraw "golang.org/x/image/draw"
)

// DumpOccupancy writes one PNG per depth slice visualizing how many lights
// landed in each froxel after the last FroxelizeLights: red encodes the
// point light count, green the spot light count, scaled against the
// per-cell cap. scale enlarges each cell to scale x scale pixels with
// nearest-neighbor sampling so individual froxels stay readable.
func (f *Froxelizer) DumpOccupancy(dir string, scale int) error {
	if !f.prepared {
		return fmt.Errorf("froxel: DumpOccupancy before Prepare")
	}
	if scale < 1 {
		scale = 1
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	maxPer := float64(f.cfg.MaxLightsPerCell)
	for z := 0; z < f.countZ; z++ {
		img := image.NewRGBA(image.Rect(0, 0, f.countX, f.countY))
		for y := 0; y < f.countY; y++ {
			for x := 0; x < f.countX; x++ {
				e := f.froxelBuffer[(z*f.countY+y)*f.countX+x]
				img.SetRGBA(x, f.countY-1-y, color.RGBA{
					R: occupancyByte(float64(e.PointLightCount), maxPer),
					G: occupancyByte(float64(e.SpotLightCount), maxPer),
					A: 255,
				})
			}
		}

		out := img
		if scale > 1 {
			out = image.NewRGBA(image.Rect(0, 0, f.countX*scale, f.countY*scale))
			xdraw.NearestNeighbor.Scale(out, out.Bounds(), img, img.Bounds(), xdraw.Src, nil)
		}

		path := filepath.Join(dir, fmt.Sprintf("froxel_slice_%02d.png", z))
		file, err := os.Create(path)
		if err != nil {
			return err
		}
		if err := png.Encode(file, out); err != nil {
			file.Close()
			return err
		}
		if err := file.Close(); err != nil {
			return err
		}
	}
	return nil
}

func occupancyByte(n, max float64) uint8 {
	if n <= 0 {
		return 0
	}
	v := n / max
	if v > 1 {
		v = 1
	}
	// keep single-light cells visible
	return uint8(64 + v*191)
}
