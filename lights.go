package froxel

import (
	"github.com/go-gl/mathgl/mgl32"
	"github.com/google/uuid"
)

type LightType uint32

const (
	LightTypePoint       LightType = 0
	LightTypeDirectional LightType = 1
	LightTypeSpot        LightType = 2
	LightTypeAmbient     LightType = 3
)

// LightSoa is the structure-of-arrays light list handed to the Froxelizer
// each frame. The three arrays are parallel: PositionRadius packs the
// view-space light position in xyz and the influence radius in w, Kind is
// the light type tag, Handle is the opaque id minted by whoever owns the
// light. Index 0 is a reserved sentinel and is always skipped.
//
// Only point and spot lights participate in froxelization; directional and
// ambient lights affect the whole view and carry no useful bounds.
type LightSoa struct {
	PositionRadius []mgl32.Vec4
	Kind           []LightType
	Handle         []uuid.UUID
}

// NewLightSoa returns a list with the sentinel already in place at index 0.
func NewLightSoa() *LightSoa {
	s := &LightSoa{}
	s.PositionRadius = append(s.PositionRadius, mgl32.Vec4{})
	s.Kind = append(s.Kind, LightTypePoint)
	s.Handle = append(s.Handle, uuid.Nil)
	return s
}

// Append adds a light and returns its index.
func (s *LightSoa) Append(posRadius mgl32.Vec4, kind LightType, handle uuid.UUID) int {
	s.PositionRadius = append(s.PositionRadius, posRadius)
	s.Kind = append(s.Kind, kind)
	s.Handle = append(s.Handle, handle)
	return len(s.PositionRadius) - 1
}

// Len returns the number of entries, sentinel included.
func (s *LightSoa) Len() int { return len(s.PositionRadius) }

// Clear drops every light but keeps the sentinel.
func (s *LightSoa) Clear() {
	s.PositionRadius = s.PositionRadius[:1]
	s.Kind = s.Kind[:1]
	s.Handle = s.Handle[:1]
}
