package roi

import (
	"errors"
	"fmt"

	"github.com/cyclopcam/trafficcount/pkg/nn"
)

// Preset zone names
const (
	PresetRoad    = "road"
	PresetTrees   = "trees"
	ZoneRoad      = "road"
	ZoneTreeLeft  = "tree_left"
	ZoneTreeRight = "tree_right"
)

var ErrUnknownPreset = errors.New("Unknown ROI preset")

// Typical road area in the middle of a frame
func RoadPreset(width, height int) []nn.Point {
	return []nn.Point{
		{X: scale(width, 0.1), Y: scale(height, 0.3)},
		{X: scale(width, 0.9), Y: scale(height, 0.3)},
		{X: scale(width, 0.9), Y: scale(height, 0.8)},
		{X: scale(width, 0.1), Y: scale(height, 0.8)},
	}
}

// Typical trees at the top left of a frame
func TreeLeftPreset(width, height int) []nn.Point {
	return []nn.Point{
		{X: 0, Y: 0},
		{X: scale(width, 0.15), Y: 0},
		{X: scale(width, 0.1), Y: scale(height, 0.4)},
		{X: 0, Y: scale(height, 0.3)},
	}
}

// Typical trees at the top right of a frame
func TreeRightPreset(width, height int) []nn.Point {
	return []nn.Point{
		{X: scale(width, 0.85), Y: 0},
		{X: width, Y: 0},
		{X: width, Y: scale(height, 0.3)},
		{X: scale(width, 0.9), Y: scale(height, 0.4)},
	}
}

// AddRoadPreset adds the road inclusion zone, sized for the current frame dimensions
func (f *Filter) AddRoadPreset() error {
	w, h := f.FrameDimensions()
	return f.AddInclusionZone(ZoneRoad, RoadPreset(w, h))
}

// AddTreePresets adds the left and right tree exclusion zones, sized for the current frame dimensions
func (f *Filter) AddTreePresets() error {
	w, h := f.FrameDimensions()
	if err := f.AddExclusionZone(ZoneTreeLeft, TreeLeftPreset(w, h)); err != nil {
		return err
	}
	return f.AddExclusionZone(ZoneTreeRight, TreeRightPreset(w, h))
}

// ApplyPreset adds a preset by name ("road" or "trees")
func (f *Filter) ApplyPreset(name string) error {
	switch name {
	case PresetRoad:
		return f.AddRoadPreset()
	case PresetTrees:
		return f.AddTreePresets()
	}
	return fmt.Errorf("%w '%v'", ErrUnknownPreset, name)
}

func scale(size int, fraction float64) int {
	return int(float64(size) * fraction)
}
