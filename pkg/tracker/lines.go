package tracker

import "github.com/cyclopcam/trafficcount/pkg/nn"

// Direction of travel when crossing a counting line, or the frame edge through which an object entered or left
type Direction string

const (
	North Direction = "north"
	South Direction = "south"
	East  Direction = "east"
	West  Direction = "west"
)

var AllDirections = []Direction{North, South, East, West}

// Which component of motion a counting line measures
type Axis string

const (
	AxisVertical   Axis = "vertical"   // Line is horizontal, and counts north/south motion
	AxisHorizontal Axis = "horizontal" // Line is vertical, and counts east/west motion
)

// CountingLine is a segment that objects are counted crossing
type CountingLine struct {
	Name string   `json:"name"`
	A    nn.Point `json:"a"`
	B    nn.Point `json:"b"`
	Axis Axis     `json:"axis"`
}

// DefaultCountingLines returns a horizontal and a vertical line through the middle of the frame
func DefaultCountingLines(width, height int) []CountingLine {
	cx := width / 2
	cy := height / 2
	return []CountingLine{
		{
			Name: "horizontal",
			A:    nn.Point{X: 0, Y: cy},
			B:    nn.Point{X: width, Y: cy},
			Axis: AxisVertical,
		},
		{
			Name: "vertical",
			A:    nn.Point{X: cx, Y: 0},
			B:    nn.Point{X: cx, Y: height},
			Axis: AxisHorizontal,
		},
	}
}

// Crosses returns true if the motion from 'from' to 'to' crosses the line
func (l *CountingLine) Crosses(from, to nn.Point) bool {
	return segmentsIntersect(from, to, l.A, l.B)
}

// CrossingDirection returns the direction of travel across the line
func (l *CountingLine) CrossingDirection(from, to nn.Point) Direction {
	if l.Axis == AxisVertical {
		if to.Y < from.Y {
			return North
		}
		return South
	}
	if to.X > from.X {
		return East
	}
	return West
}

func ccw(a, b, c nn.Point) bool {
	return int64(c.Y-a.Y)*int64(b.X-a.X) > int64(b.Y-a.Y)*int64(c.X-a.X)
}

// Returns true if segment p1-p2 intersects segment p3-p4
func segmentsIntersect(p1, p2, p3, p4 nn.Point) bool {
	return ccw(p1, p3, p4) != ccw(p2, p3, p4) && ccw(p1, p2, p3) != ccw(p1, p2, p4)
}

// NearestEdge returns the edge of the frame that is closest to p
func NearestEdge(p nn.Point, width, height int) Direction {
	best := North
	bestDist := p.Y
	if d := height - p.Y; d < bestDist {
		best, bestDist = South, d
	}
	if d := p.X; d < bestDist {
		best, bestDist = West, d
	}
	if d := width - p.X; d < bestDist {
		best = East
	}
	return best
}
