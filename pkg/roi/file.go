package roi

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Config is the on-disk representation of a Filter
type Config struct {
	FrameDimensions [2]int `json:"frame_dimensions"`
	InclusionZones  []Zone `json:"inclusion_zones"`
	ExclusionZones  []Zone `json:"exclusion_zones"`
	VideoPath       string `json:"video_path,omitempty"`
	Anchor          Anchor `json:"anchor,omitempty"`
}

func (c *Config) Validate() error {
	if c.FrameDimensions[0] <= 0 || c.FrameDimensions[1] <= 0 {
		return fmt.Errorf("Invalid frame dimensions %v", c.FrameDimensions)
	}
	for i := range c.InclusionZones {
		if c.InclusionZones[i].Type == "" {
			c.InclusionZones[i].Type = KindInclusion
		}
		if c.InclusionZones[i].Type != KindInclusion {
			return fmt.Errorf("%w (zone '%v' is in the inclusion list)", ErrInvalidKind, c.InclusionZones[i].Name)
		}
		if err := c.InclusionZones[i].Validate(); err != nil {
			return err
		}
	}
	for i := range c.ExclusionZones {
		if c.ExclusionZones[i].Type == "" {
			c.ExclusionZones[i].Type = KindExclusion
		}
		if c.ExclusionZones[i].Type != KindExclusion {
			return fmt.Errorf("%w (zone '%v' is in the exclusion list)", ErrInvalidKind, c.ExclusionZones[i].Name)
		}
		if err := c.ExclusionZones[i].Validate(); err != nil {
			return err
		}
	}
	for _, list := range [][]Zone{c.InclusionZones, c.ExclusionZones} {
		names := map[string]bool{}
		for i := range list {
			if names[list[i].Name] {
				return fmt.Errorf("%w ('%v')", ErrDuplicateZone, list[i].Name)
			}
			names[list[i].Name] = true
		}
	}
	if c.Anchor != "" && c.Anchor != AnchorCenter && c.Anchor != AnchorBase {
		return fmt.Errorf("%w (got '%v')", ErrInvalidAnchor, c.Anchor)
	}
	return nil
}

// Config returns a snapshot of the filter
func (f *Filter) Config() Config {
	f.lock.RLock()
	defer f.lock.RUnlock()
	c := Config{
		FrameDimensions: [2]int{f.frameWidth, f.frameHeight},
		InclusionZones:  []Zone{},
		ExclusionZones:  []Zone{},
		VideoPath:       f.videoPath,
		Anchor:          f.anchor,
	}
	for i := range f.inclusion {
		c.InclusionZones = append(c.InclusionZones, f.inclusion[i].clone())
	}
	for i := range f.exclusion {
		c.ExclusionZones = append(c.ExclusionZones, f.exclusion[i].clone())
	}
	return c
}

// SetConfig replaces the entire state of the filter
func (f *Filter) SetConfig(c Config) error {
	if err := c.Validate(); err != nil {
		return err
	}
	f.lock.Lock()
	defer f.lock.Unlock()
	f.frameWidth = c.FrameDimensions[0]
	f.frameHeight = c.FrameDimensions[1]
	f.videoPath = c.VideoPath
	if c.Anchor != "" {
		f.anchor = c.Anchor
	}
	f.inclusion = nil
	f.exclusion = nil
	for i := range c.InclusionZones {
		f.inclusion = append(f.inclusion, c.InclusionZones[i].clone())
	}
	for i := range c.ExclusionZones {
		f.exclusion = append(f.exclusion, c.ExclusionZones[i].clone())
	}
	return nil
}

// Save the zones to a JSON file. The directory is created if necessary.
func (f *Filter) Save(filename string) error {
	c := f.Config()
	raw, err := json.MarshalIndent(&c, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(filename), 0755); err != nil {
		return err
	}
	if err := os.WriteFile(filename, raw, 0644); err != nil {
		return err
	}
	f.log.Infof("Saved ROI zones to %v", filename)
	return nil
}

// Load zones from a JSON file, replacing all existing zones.
// The frame dimensions are taken from the file. Use Rescale afterwards
// if the video has a different size.
func (f *Filter) Load(filename string) error {
	raw, err := os.ReadFile(filename)
	if err != nil {
		return err
	}
	c := Config{}
	if err := json.Unmarshal(raw, &c); err != nil {
		return fmt.Errorf("Invalid ROI file '%v': %w", filename, err)
	}
	if err := f.SetConfig(c); err != nil {
		return fmt.Errorf("Invalid ROI file '%v': %w", filename, err)
	}
	f.log.Infof("Loaded ROI zones from %v: %v inclusion, %v exclusion", filename, len(c.InclusionZones), len(c.ExclusionZones))
	return nil
}

// LoadForFrame loads zones from a JSON file, and rescales them to the given frame dimensions
func (f *Filter) LoadForFrame(filename string, width, height int) error {
	if err := f.Load(filename); err != nil {
		return err
	}
	f.Rescale(width, height)
	return nil
}
