package render

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"strings"

	"github.com/cyclopcam/trafficcount/pkg/gen"
	"github.com/cyclopcam/trafficcount/pkg/nn"
	"github.com/cyclopcam/trafficcount/pkg/roi"
	"github.com/cyclopcam/trafficcount/pkg/tracker"
	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font/gofont/goregular"
)

// Package render draws zones, detections and tracks onto video frames, for humans to look at.

var font *truetype.Font

func init() {
	var err error
	font, err = truetype.Parse(goregular.TTF)
	if err != nil {
		panic(err)
	}
}

var (
	White      = color.RGBA{255, 255, 255, 255}
	Gray       = color.RGBA{128, 128, 128, 255}
	Red        = color.RGBA{255, 0, 0, 255}
	Green      = color.RGBA{0, 255, 0, 255}
	Orange     = color.RGBA{255, 165, 0, 255}
	Yellow     = color.RGBA{255, 255, 0, 255}
	Cyan       = color.RGBA{0, 255, 255, 255}
	Magenta    = color.RGBA{255, 0, 255, 255}
	Background = color.RGBA{0, 0, 0, 255}
)

var classColors = map[string]color.RGBA{
	"car":        Green,
	"truck":      Red,
	"bus":        Orange,
	"person":     Yellow,
	"bicycle":    Cyan,
	"motorcycle": Magenta,
}

// Margin of the white focus rectangle around an annotated detection
const FocusMargin = 20

// ClassColor returns the color that we draw objects of the given class with
func ClassColor(class string) color.RGBA {
	if c, ok := classColors[class]; ok {
		return c
	}
	return Gray
}

// Canvas is a frame that we draw onto
type Canvas struct {
	dc *gg.Context
}

// NewCanvas creates a blank (black) canvas
func NewCanvas(width, height int) *Canvas {
	dc := gg.NewContext(width, height)
	dc.SetColor(Background)
	dc.Clear()
	return &Canvas{dc: dc}
}

// NewCanvasFromImage draws on top of a copy of img
func NewCanvasFromImage(img image.Image) *Canvas {
	return &Canvas{dc: gg.NewContextForImage(img)}
}

func (c *Canvas) Width() int {
	return c.dc.Width()
}

func (c *Canvas) Height() int {
	return c.dc.Height()
}

func (c *Canvas) Image() image.Image {
	return c.dc.Image()
}

// PNG encodes the canvas
func (c *Canvas) PNG() ([]byte, error) {
	buf := bytes.Buffer{}
	if err := c.dc.EncodePNG(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (c *Canvas) setFontSize(size float64) {
	c.dc.SetFontFace(truetype.NewFace(font, &truetype.Options{Size: size}))
}

func (c *Canvas) polygonPath(p roi.Polygon) {
	c.dc.NewSubPath()
	for i, pt := range p {
		if i == 0 {
			c.dc.MoveTo(float64(pt.X), float64(pt.Y))
		} else {
			c.dc.LineTo(float64(pt.X), float64(pt.Y))
		}
	}
	c.dc.ClosePath()
}

// DrawZones draws the active zones of the filter. Exclusion zones are red and inclusion zones are green.
// The filter's zones must be in the canvas' coordinate space.
func (c *Canvas) DrawZones(zones []roi.Zone) {
	for _, z := range zones {
		if !z.Active || len(z.Polygon) < 3 {
			continue
		}
		col := Green
		if z.Type == roi.KindExclusion {
			col = Red
		}
		c.polygonPath(z.Polygon)
		c.dc.SetRGBA255(int(col.R), int(col.G), int(col.B), 77)
		c.dc.FillPreserve()
		c.dc.SetColor(col)
		c.dc.SetLineWidth(2)
		c.dc.Stroke()

		center := z.Polygon.Centroid()
		c.setFontSize(14)
		c.dc.SetColor(col)
		c.dc.DrawStringAnchored(fmt.Sprintf("%v: %v", strings.ToUpper(string(z.Type)), z.Name), float64(center.X), float64(center.Y), 0.5, 0.5)
	}
}

// Draw a box with a filled label above its top-left corner
func (c *Canvas) labelledBox(box nn.Rect, col color.RGBA, lineWidth float64, label string, fontSize, padding float64) {
	c.dc.SetColor(col)
	c.dc.SetLineWidth(lineWidth)
	c.dc.DrawRectangle(float64(box.X), float64(box.Y), float64(box.Width), float64(box.Height))
	c.dc.Stroke()

	c.setFontSize(fontSize)
	tw, th := c.dc.MeasureString(label)
	x := float64(box.X)
	y := float64(box.Y)
	c.dc.DrawRectangle(x, y-th-2*padding, tw+2*padding, th+2*padding)
	c.dc.Fill()
	c.dc.SetColor(White)
	c.dc.DrawStringAnchored(label, x+padding, y-padding, 0, 0)
}

// DrawDetections draws every detection with its class color, labelled with class and confidence
func (c *Canvas) DrawDetections(detections []nn.Detection) {
	for i := range detections {
		d := &detections[i]
		label := fmt.Sprintf("%v: %.2f", d.Class, d.Confidence)
		c.labelledBox(d.Box(), ClassColor(d.Class), 2, label, 16, 4)
	}
}

// AnnotateDetection highlights a single detection for manual verification.
// videoTime is shown in the caption, next to the frame number.
func (c *Canvas) AnnotateDetection(d nn.Detection, videoTime string) {
	box := d.Box()
	col := ClassColor(d.Class)

	x1 := gen.Clamp(box.X-FocusMargin, 0, c.Width())
	y1 := gen.Clamp(box.Y-FocusMargin, 0, c.Height())
	x2 := gen.Clamp(box.X2()+FocusMargin, 0, c.Width())
	y2 := gen.Clamp(box.Y2()+FocusMargin, 0, c.Height())
	c.dc.SetColor(White)
	c.dc.SetLineWidth(1)
	c.dc.DrawRectangle(float64(x1), float64(y1), float64(x2-x1), float64(y2-y1))
	c.dc.Stroke()

	label := fmt.Sprintf("%v: %.2f", strings.ToUpper(d.Class), d.Confidence)
	c.labelledBox(box, col, 3, label, 20, 6)

	c.setFontSize(18)
	c.dc.SetColor(White)
	c.dc.DrawStringAnchored(Caption(d.FrameNumber, videoTime), 10, 30, 0, 0)
}

// Caption is the text at the top left of an annotated detection
func Caption(frame int, videoTime string) string {
	return fmt.Sprintf("Frame: %v | Time: %v", frame, videoTime)
}

// DrawTracks draws the recent path and ID of every active track
func (c *Canvas) DrawTracks(tracks []tracker.Track) {
	c.setFontSize(14)
	for i := range tracks {
		t := &tracks[i]
		path := t.Positions()
		if !t.Active || len(path) < 2 {
			continue
		}
		col := ClassColor(t.Class)
		c.dc.SetColor(col)
		c.dc.SetLineWidth(2)
		for j, p := range path {
			if j == 0 {
				c.dc.MoveTo(float64(p.X), float64(p.Y))
			} else {
				c.dc.LineTo(float64(p.X), float64(p.Y))
			}
		}
		c.dc.Stroke()
		c.dc.DrawCircle(float64(t.Center.X), float64(t.Center.Y), 5)
		c.dc.Fill()
		c.dc.DrawString(fmt.Sprintf("ID:%v", t.ID), float64(t.Center.X+10), float64(t.Center.Y-10))
	}
}

// DrawCountingLines draws the first line in cyan, and the rest in magenta
func (c *Canvas) DrawCountingLines(lines []tracker.CountingLine) {
	c.dc.SetLineWidth(2)
	for i, l := range lines {
		if i == 0 {
			c.dc.SetColor(Cyan)
		} else {
			c.dc.SetColor(Magenta)
		}
		c.dc.DrawLine(float64(l.A.X), float64(l.A.Y), float64(l.B.X), float64(l.B.Y))
		c.dc.Stroke()
	}
}

// ZonesPNG renders the zones of the filter on a blank canvas of the filter's frame size
func ZonesPNG(filter *roi.Filter) ([]byte, error) {
	w, h := filter.FrameDimensions()
	c := NewCanvas(w, h)
	c.DrawZones(filter.Zones())
	return c.PNG()
}
