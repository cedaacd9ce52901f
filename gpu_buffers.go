package froxel

import (
	"fmt"

	"github.com/cogentcore/webgpu/wgpu"
)

// BufferSink receives the finalized froxel and record buffer contents.
// data is the full buffer; ranges lists the byte regions that changed
// since the previous upload, ascending and disjoint. An implementation
// must touch every reported range and may skip everything else.
type BufferSink interface {
	UploadFroxels(data []byte, ranges []BufferRange)
	UploadRecords(data []byte, ranges []BufferRange)
	Release()
}

// WgpuBufferSink owns the two GPU-visible storage buffers the shading
// stage binds and uploads dirty ranges with queue writes.
type WgpuBufferSink struct {
	queue     *wgpu.Queue
	froxelBuf *wgpu.Buffer
	recordBuf *wgpu.Buffer
}

// NewWgpuBufferSink creates the froxel and record storage buffers with the
// given byte sizes. Sizes must cover the largest grid the Froxelizer will
// produce; uploads past the end panic.
func NewWgpuBufferSink(device *wgpu.Device, queue *wgpu.Queue, froxelBytes, recordBytes int) *WgpuBufferSink {
	froxelBuf, err := device.CreateBufferInit(&wgpu.BufferInitDescriptor{
		Label:    "Froxel Buffer",
		Contents: make([]byte, froxelBytes),
		Usage:    wgpu.BufferUsageStorage | wgpu.BufferUsageCopyDst,
	})
	if err != nil {
		panic(err)
	}
	recordBuf, err := device.CreateBufferInit(&wgpu.BufferInitDescriptor{
		Label:    "Froxel Record Buffer",
		Contents: make([]byte, recordBytes),
		Usage:    wgpu.BufferUsageStorage | wgpu.BufferUsageCopyDst,
	})
	if err != nil {
		panic(err)
	}
	return &WgpuBufferSink{queue: queue, froxelBuf: froxelBuf, recordBuf: recordBuf}
}

// FroxelBuffer exposes the GPU buffer for bind group creation.
func (s *WgpuBufferSink) FroxelBuffer() *wgpu.Buffer { return s.froxelBuf }

// RecordBuffer exposes the GPU buffer for bind group creation.
func (s *WgpuBufferSink) RecordBuffer() *wgpu.Buffer { return s.recordBuf }

func (s *WgpuBufferSink) UploadFroxels(data []byte, ranges []BufferRange) {
	writeRanges(s.queue, s.froxelBuf, data, ranges)
}

func (s *WgpuBufferSink) UploadRecords(data []byte, ranges []BufferRange) {
	writeRanges(s.queue, s.recordBuf, data, ranges)
}

func (s *WgpuBufferSink) Release() {
	if s.froxelBuf != nil {
		s.froxelBuf.Release()
		s.froxelBuf = nil
	}
	if s.recordBuf != nil {
		s.recordBuf.Release()
		s.recordBuf = nil
	}
}

func writeRanges(queue *wgpu.Queue, buf *wgpu.Buffer, data []byte, ranges []BufferRange) {
	for _, r := range ranges {
		// queue writes need 4-byte aligned offset and size; widening the
		// range just rewrites bytes that did not change
		r.Start &^= 3
		r.End = (r.End + 3) &^ 3
		if r.End > len(data) {
			r.End = len(data)
		}
		if r.Start >= r.End {
			continue
		}
		if err := queue.WriteBuffer(buf, uint64(r.Start), data[r.Start:r.End]); err != nil {
			panic(fmt.Sprintf("froxel: buffer write failed: %v", err))
		}
	}
}
