package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/trafficcount/pkg/roi"
	"gopkg.in/yaml.v3"
)

const DefaultFilename = "config/config.yaml"

var ErrKeyNotFound = errors.New("Configuration key not found")

type Model struct {
	Name         string  `yaml:"name"`          // eg yolov8n.pt. Only recorded, we don't run the model ourselves.
	Confidence   float32 `yaml:"confidence"`    // Minimum detection confidence
	IoUThreshold float32 `yaml:"iou_threshold"` // Minimum IoU for merging overlapping detections of similar classes
	Device       string  `yaml:"device"`
}

type Video struct {
	InputDir    string `yaml:"input_dir"`    // Where videos and their label files live
	OutputDir   string `yaml:"output_dir"`   // Analysis and verification exports
	CacheDir    string `yaml:"cache_dir"`    // Scratch space (eg the result database)
	FPSAnalysis int    `yaml:"fps_analysis"` // Process one out of every N frames
	ResizeWidth int    `yaml:"resize_width"` // Accepted for compatibility with older settings files. Unused.
	SkipFrames  int    `yaml:"skip_frames"`
	MaxFrames   int    `yaml:"max_frames"` // 0 = no limit
}

type ROI struct {
	File   string     `yaml:"file"`   // JSON zone file
	Anchor roi.Anchor `yaml:"anchor"` // center or base
}

type Tracking struct {
	Enabled bool   `yaml:"enabled"`
	Method  string `yaml:"method"`
	Sanity  bool   `yaml:"sanity"` // Plausibility checks on shape, position and motion
}

type Logging struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

type Server struct {
	Listen string `yaml:"listen"`
	DB     string `yaml:"db"`
}

// Config is the settings file
type Config struct {
	Model            Model            `yaml:"model"`
	DetectionClasses map[string][]int `yaml:"detection_classes"` // Class name -> COCO class IDs
	Video            Video            `yaml:"video"`
	ROI              ROI              `yaml:"roi"`
	Tracking         Tracking         `yaml:"tracking"`
	Logging          Logging          `yaml:"logging"`
	Server           Server           `yaml:"server"`
}

// Sections that a settings file should have. We warn if any are missing.
var requiredSections = []string{"model", "detection_classes", "video"}

func DefaultConfig() *Config {
	return &Config{
		Model: Model{
			Name:         "yolov8n.pt",
			Confidence:   0.5,
			IoUThreshold: 0.45,
			Device:       "auto",
		},
		DetectionClasses: map[string][]int{
			"car":    {2},
			"truck":  {7},
			"bus":    {5},
			"person": {0},
		},
		Video: Video{
			InputDir:    "test_camera",
			OutputDir:   "data/output",
			CacheDir:    "data/cache",
			FPSAnalysis: 5,
			ResizeWidth: 640,
		},
		ROI: ROI{
			File:   "data/roi.json",
			Anchor: roi.AnchorCenter,
		},
		Tracking: Tracking{
			Enabled: true,
			Method:  "centroid",
		},
		Logging: Logging{
			Level: "INFO",
			File:  "logs/trafficcount.log",
		},
		Server: Server{
			Listen: ":8080",
			DB:     "data/cache/trafficcount.sqlite",
		},
	}
}

// Load a settings file.
// If the file does not exist, the defaults are returned, and a warning is logged.
// Keys that are absent from the file keep their default value.
func Load(log logs.Log, filename string) (*Config, error) {
	if filename == "" {
		filename = DefaultFilename
	}
	cfg := DefaultConfig()
	raw, err := os.ReadFile(filename)
	if errors.Is(err, os.ErrNotExist) {
		log.Warnf("Settings file %v not found, using defaults", filename)
		return cfg, nil
	} else if err != nil {
		return nil, err
	}
	sections := map[string]any{}
	if err := yaml.Unmarshal(raw, &sections); err != nil {
		return nil, fmt.Errorf("Error parsing settings file %v: %w", filename, err)
	}
	for _, s := range requiredSections {
		if _, ok := sections[s]; !ok {
			log.Warnf("Settings file %v is missing section '%v'", filename, s)
		}
	}
	// yaml merges into existing maps, and a file's class list replaces the default list
	if _, ok := sections["detection_classes"]; ok {
		cfg.DetectionClasses = nil
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("Error parsing settings file %v: %w", filename, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("Invalid settings file %v: %w", filename, err)
	}
	log.Infof("Settings loaded from %v", filename)
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Model.Confidence < 0 || c.Model.Confidence > 1 {
		return fmt.Errorf("model.confidence must be between 0 and 1 (%v)", c.Model.Confidence)
	}
	if c.Model.IoUThreshold < 0 || c.Model.IoUThreshold > 1 {
		return fmt.Errorf("model.iou_threshold must be between 0 and 1 (%v)", c.Model.IoUThreshold)
	}
	if c.Video.FPSAnalysis < 1 {
		return fmt.Errorf("video.fps_analysis must be at least 1 (%v)", c.Video.FPSAnalysis)
	}
	if c.Video.SkipFrames < 0 || c.Video.MaxFrames < 0 {
		return fmt.Errorf("video.skip_frames and video.max_frames may not be negative")
	}
	if len(c.EnabledClassIDs()) == 0 {
		return fmt.Errorf("detection_classes must name at least one class")
	}
	switch c.ROI.Anchor {
	case "", roi.AnchorCenter, roi.AnchorBase:
	default:
		return fmt.Errorf("roi.anchor must be '%v' or '%v' (%v)", roi.AnchorCenter, roi.AnchorBase, c.ROI.Anchor)
	}
	return nil
}

// CreateDirs creates the output and cache directories
func (c *Config) CreateDirs() error {
	for _, dir := range []string{c.Video.OutputDir, c.Video.CacheDir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return nil
}

// EnabledClassIDs returns the set of COCO class IDs named in detection_classes
func (c *Config) EnabledClassIDs() map[int]bool {
	set := map[int]bool{}
	for _, ids := range c.DetectionClasses {
		for _, id := range ids {
			set[id] = true
		}
	}
	return set
}

// Save writes the settings as YAML. The directory is created if necessary.
func (c *Config) Save(filename string) error {
	raw, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(filename), 0755); err != nil {
		return err
	}
	return os.WriteFile(filename, raw, 0644)
}

// Clone returns a deep copy
func (c *Config) Clone() *Config {
	raw, err := yaml.Marshal(c)
	if err != nil {
		panic(err)
	}
	clone := &Config{}
	if err := yaml.Unmarshal(raw, clone); err != nil {
		panic(err)
	}
	return clone
}

// The settings as a generic tree, with the same keys as the YAML file
func (c *Config) tree() (map[string]any, error) {
	raw, err := yaml.Marshal(c)
	if err != nil {
		return nil, err
	}
	tree := map[string]any{}
	if err := yaml.Unmarshal(raw, &tree); err != nil {
		return nil, err
	}
	return tree, nil
}

// Get returns the value at a dotted key path such as "model.confidence".
// Sections are returned as map[string]any.
func (c *Config) Get(keyPath string) (any, error) {
	tree, err := c.tree()
	if err != nil {
		return nil, err
	}
	var value any = tree
	for _, key := range strings.Split(keyPath, ".") {
		m, ok := value.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: %v", ErrKeyNotFound, keyPath)
		}
		value, ok = m[key]
		if !ok {
			return nil, fmt.Errorf("%w: %v", ErrKeyNotFound, keyPath)
		}
	}
	return value, nil
}

// Set changes the value at a dotted key path, such as Set("model.confidence", "0.6").
// value is parsed as YAML, so "0.6", "true", "[2, 7]" and "{car: [2]}" all work.
// Unknown keys, values of the wrong type, and values that fail Validate() are rejected,
// and leave the settings untouched.
func (c *Config) Set(keyPath, value string) error {
	var parsed any
	if err := yaml.Unmarshal([]byte(value), &parsed); err != nil {
		return fmt.Errorf("Invalid value for %v: %w", keyPath, err)
	}
	tree, err := c.tree()
	if err != nil {
		return err
	}
	keys := strings.Split(keyPath, ".")
	node := tree
	for _, key := range keys[:len(keys)-1] {
		child, ok := node[key].(map[string]any)
		if !ok {
			return fmt.Errorf("%w: %v", ErrKeyNotFound, keyPath)
		}
		node = child
	}
	last := keys[len(keys)-1]
	// detection_classes is the only open-ended map. Everywhere else, the key must already exist.
	if _, ok := node[last]; !ok && !(len(keys) == 2 && keys[0] == "detection_classes") {
		return fmt.Errorf("%w: %v", ErrKeyNotFound, keyPath)
	}
	node[last] = parsed

	raw, err := yaml.Marshal(tree)
	if err != nil {
		return err
	}
	updated := &Config{}
	if err := yaml.Unmarshal(raw, updated); err != nil {
		return fmt.Errorf("Invalid value for %v: %w", keyPath, err)
	}
	if err := updated.Validate(); err != nil {
		return err
	}
	*c = *updated
	return nil
}
