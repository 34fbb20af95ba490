package roi

import (
	"encoding/base64"
	"errors"

	"github.com/cyclopcam/trafficcount/pkg/nn"
)

var ErrMaskDecode = errors.New("ROI mask decode error")

const maskVersion = 0
const maskHeadingSize = 3
const MaxMaskSize = 248

// Mask is a coarse bitmap of the region of interest, for drawing an overlay in a UI
// without shipping the polygons and the decision rules.
// We make sure that the width is a multiple of 8, so that it's easy to manipulate bits on a row-by-row
// basis.
type Mask struct {
	Width  int    // Must be a multiple of 8
	Height int    // Number of rows
	Bits   []byte // Bitmap of Width * Height bits. If bit is 1, then detections in that cell are kept.
}

func NewMask(width, height int) *Mask {
	if width&7 != 0 {
		panic("width must be a multiple of 8")
	}
	return &Mask{
		Width:  width,
		Height: height,
		Bits:   make([]byte, width*height/8),
	}
}

// Mask rasterizes the filter's decision onto a width x height grid, by testing the center of each cell.
func (f *Filter) Mask(width, height int) *Mask {
	m := NewMask(width, height)
	f.lock.RLock()
	defer f.lock.RUnlock()
	cellW := float64(f.frameWidth) / float64(width)
	cellH := float64(f.frameHeight) / float64(height)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			p := nn.Point{
				X: int((float64(x) + 0.5) * cellW),
				Y: int((float64(y) + 0.5) * cellH),
			}
			if f.decidePoint(p).Keep {
				m.Set(x, y, true)
			}
		}
	}
	return m
}

func (m *Mask) Get(x, y int) bool {
	bit := y*m.Width + x
	return m.Bits[bit>>3]&(1<<(bit&7)) != 0
}

func (m *Mask) Set(x, y int, on bool) {
	bit := y*m.Width + x
	if on {
		m.Bits[bit>>3] |= 1 << (bit & 7)
	} else {
		m.Bits[bit>>3] &^= 1 << (bit & 7)
	}
}

// Allows returns true if the cell containing p is on.
// p is in the coordinate space of a frame of frameWidth x frameHeight.
func (m *Mask) Allows(p nn.Point, frameWidth, frameHeight int) bool {
	if frameWidth <= 0 || frameHeight <= 0 || p.X < 0 || p.Y < 0 || p.X >= frameWidth || p.Y >= frameHeight {
		return false
	}
	x := p.X * m.Width / frameWidth
	y := p.Y * m.Height / frameHeight
	return m.Get(x, y)
}

func (m *Mask) EncodeBytes() []byte {
	outBuf := make([]byte, maskHeadingSize+len(m.Bits))
	outBuf[0] = byte(maskVersion) // version of this data structure
	outBuf[1] = byte(m.Width)
	outBuf[2] = byte(m.Height)
	copy(outBuf[maskHeadingSize:], m.Bits)
	return outBuf
}

func (m *Mask) EncodeBase64() string {
	return base64.StdEncoding.EncodeToString(m.EncodeBytes())
}

func DecodeMaskBase64(maskBase64 string) (*Mask, error) {
	raw, err := base64.StdEncoding.DecodeString(maskBase64)
	if err != nil {
		return nil, err
	}
	return DecodeMaskBytes(raw)
}

func DecodeMaskBytes(raw []byte) (*Mask, error) {
	if len(raw) < maskHeadingSize {
		return nil, ErrMaskDecode
	}
	version := int(raw[0])
	if version != maskVersion {
		return nil, ErrMaskDecode
	}
	width := int(raw[1])
	height := int(raw[2])
	if width&7 != 0 || width > MaxMaskSize || height > MaxMaskSize {
		return nil, ErrMaskDecode
	}
	if len(raw)-maskHeadingSize != width*height/8 {
		return nil, ErrMaskDecode
	}
	return &Mask{
		Width:  width,
		Height: height,
		Bits:   append([]byte(nil), raw[maskHeadingSize:]...),
	}, nil
}
