// Package temporal smooths a stream of disparity maps with a per-pixel median over the last
// few frames, dropping the history when the scene changes.
package temporal

import (
	"github.com/pkg/errors"

	"go.viam.com/stereodepth/disparity"
)

const (
	// SceneChangeDelta is the Q4.4 disparity jump (5 pixels) that counts a pixel as changed.
	SceneChangeDelta = 5 * disparity.Scale
	// SceneChangeFraction is the share of changed pixels that signals a new scene.
	SceneChangeFraction = 0.30
	// SceneChangeMinPixels is how many pixels must be valid in both frames before a scene
	// change can be declared.
	SceneChangeMinPixels = 100
)

// Stabilizer keeps a ring of the most recent frames. It is not safe for concurrent use.
type Stabilizer struct {
	width, height int
	ring          [][]int16
	cursor        int
	count         int
	samples       []int16
	sceneChange   bool
}

// New returns a stabilizer for width x height maps that keeps depth frames, depth >= 2.
func New(width, height, depth int) (*Stabilizer, error) {
	if width <= 0 || height <= 0 {
		return nil, disparity.NewError(disparity.ClassConfig, "temporal",
			errors.Wrapf(disparity.ErrDimensionMismatch, "frame %dx%d", width, height))
	}
	if depth < 2 {
		return nil, disparity.NewError(disparity.ClassConfig, "temporal",
			errors.Wrapf(disparity.ErrInvalidParams, "history depth %d must be at least 2", depth))
	}
	ring := make([][]int16, depth)
	for i := range ring {
		ring[i] = make([]int16, width*height)
	}
	return &Stabilizer{
		width:   width,
		height:  height,
		ring:    ring,
		samples: make([]int16, 0, depth),
	}, nil
}

// Depth is the history capacity.
func (s *Stabilizer) Depth() int {
	return len(s.ring)
}

// Len is the number of retained frames.
func (s *Stabilizer) Len() int {
	return s.count
}

// Warm reports whether at least two frames are retained, so that Push emits a true median.
func (s *Stabilizer) Warm() bool {
	return s.count >= 2
}

// LastSceneChange reports whether the latest Push dropped the history.
func (s *Stabilizer) LastSceneChange() bool {
	return s.sceneChange
}

// Reset discards the history.
func (s *Stabilizer) Reset() {
	s.cursor, s.count = 0, 0
}

// latest returns the most recently pushed frame, or nil.
func (s *Stabilizer) latest() []int16 {
	if s.count == 0 {
		return nil
	}
	return s.ring[(s.cursor+len(s.ring)-1)%len(s.ring)]
}

// Push adds frame to the history and writes the per-pixel median of the retained frames into
// out. frame is copied; neither buffer is retained.
func (s *Stabilizer) Push(frame, out []int16) error {
	n := s.width * s.height
	if len(frame) != n || len(out) != n {
		return disparity.NewError(disparity.ClassFrame, "temporal push", errors.Wrapf(disparity.ErrDimensionMismatch,
			"frame %d out %d, want %d", len(frame), len(out), n))
	}

	s.sceneChange = false
	if prev := s.latest(); prev != nil && isSceneChange(prev, frame) {
		s.Reset()
		s.sceneChange = true
	}
	copy(s.ring[s.cursor], frame)
	s.cursor = (s.cursor + 1) % len(s.ring)
	if s.count < len(s.ring) {
		s.count++
	}

	for i := range out {
		samples := s.samples[:0]
		for k := 0; k < s.count; k++ {
			if v := s.ring[k][i]; disparity.IsValid(v) {
				samples = append(samples, v)
			}
		}
		out[i] = median(samples)
	}
	return nil
}

// isSceneChange compares two frames over the pixels valid in both.
func isSceneChange(prev, next []int16) bool {
	common, changed := 0, 0
	for i, a := range prev {
		b := next[i]
		if !disparity.IsValid(a) || !disparity.IsValid(b) {
			continue
		}
		common++
		d := int(a) - int(b)
		if d > SceneChangeDelta || d < -SceneChangeDelta {
			changed++
		}
	}
	return common >= SceneChangeMinPixels && float64(changed) > SceneChangeFraction*float64(common)
}

// median sorts v in place and returns its median; even counts average the middle pair, rounding
// a half step up, and an empty slice is invalid.
func median(v []int16) int16 {
	switch len(v) {
	case 0:
		return disparity.InvalidDisparity
	case 1:
		return v[0]
	}
	for i := 1; i < len(v); i++ {
		for j := i; j > 0 && v[j] < v[j-1]; j-- {
			v[j], v[j-1] = v[j-1], v[j]
		}
	}
	mid := len(v) / 2
	if len(v)%2 == 1 {
		return v[mid]
	}
	// Half-step means round up to the next Q4.4 step; the arithmetic shift floors for any sign.
	return int16((int32(v[mid-1]) + int32(v[mid]) + 1) >> 1)
}
