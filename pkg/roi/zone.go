package roi

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cyclopcam/trafficcount/pkg/nn"
)

// Kind is either inclusion or exclusion
type Kind string

const (
	KindInclusion Kind = "inclusion" // Detections are only kept inside inclusion zones
	KindExclusion Kind = "exclusion" // Detections inside exclusion zones are dropped (eg trees)
)

var ErrTooFewPoints = errors.New("A zone polygon needs at least 3 points")
var ErrInvalidKind = errors.New("Zone type must be 'inclusion' or 'exclusion'")

// Polygon is an ordered list of vertices. The last vertex connects back to the first.
// On disk, a polygon is a list of [x,y] pairs.
type Polygon []nn.Point

// Zone is a named polygon that either includes or excludes detections.
type Zone struct {
	Name    string  `json:"name"`
	Type    Kind    `json:"type"`
	Polygon Polygon `json:"polygon"`
	Active  bool    `json:"active"`
}

func (z *Zone) Validate() error {
	if z.Type != KindInclusion && z.Type != KindExclusion {
		return fmt.Errorf("%w (zone '%v' has type '%v')", ErrInvalidKind, z.Name, z.Type)
	}
	if len(z.Polygon) < 3 {
		return fmt.Errorf("%w (zone '%v' has %v)", ErrTooFewPoints, z.Name, len(z.Polygon))
	}
	return nil
}

func (z *Zone) Contains(p nn.Point) bool {
	return ContainsPoint(z.Polygon, p)
}

func (z *Zone) clone() Zone {
	c := *z
	c.Polygon = append(Polygon(nil), z.Polygon...)
	return c
}

// ContainsPoint returns true if p is inside the polygon, using ray casting.
// A point on an edge is inside if the edge is on the right or bottom of the polygon,
// and outside if the edge is on the left or top.
// Polygons with fewer than 3 vertices contain nothing.
func ContainsPoint(polygon Polygon, p nn.Point) bool {
	n := len(polygon)
	if n < 3 {
		return false
	}
	x := float64(p.X)
	y := float64(p.Y)
	inside := false
	j := n - 1
	for i := 0; i < n; i++ {
		xi, yi := float64(polygon[i].X), float64(polygon[i].Y)
		xj, yj := float64(polygon[j].X), float64(polygon[j].Y)
		if y > min(yi, yj) && y <= max(yi, yj) && x <= max(xi, xj) {
			// yi != yj is guaranteed by the two comparisons above
			if xi == xj || x <= (y-yi)*(xj-xi)/(yj-yi)+xi {
				inside = !inside
			}
		}
		j = i
	}
	return inside
}

// Centroid is the mean of the vertices (used for placing labels)
func (p Polygon) Centroid() nn.Point {
	if len(p) == 0 {
		return nn.Point{}
	}
	sx, sy := 0, 0
	for _, v := range p {
		sx += v.X
		sy += v.Y
	}
	return nn.Point{X: sx / len(p), Y: sy / len(p)}
}

// Bounds returns the bounding rectangle of the polygon
func (p Polygon) Bounds() nn.Rect {
	if len(p) == 0 {
		return nn.Rect{}
	}
	x1, y1 := p[0].X, p[0].Y
	x2, y2 := x1, y1
	for _, v := range p[1:] {
		x1 = min(x1, v.X)
		y1 = min(y1, v.Y)
		x2 = max(x2, v.X)
		y2 = max(y2, v.Y)
	}
	return nn.RectFromXYXY(x1, y1, x2, y2)
}

func (p Polygon) MarshalJSON() ([]byte, error) {
	pairs := make([][2]int, len(p))
	for i, v := range p {
		pairs[i] = [2]int{v.X, v.Y}
	}
	return json.Marshal(pairs)
}

func (p *Polygon) UnmarshalJSON(b []byte) error {
	pairs := [][2]int{}
	if err := json.Unmarshal(b, &pairs); err != nil {
		return err
	}
	*p = make(Polygon, len(pairs))
	for i, v := range pairs {
		(*p)[i] = nn.Point{X: v[0], Y: v[1]}
	}
	return nil
}
