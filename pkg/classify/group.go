package classify

import (
	flatbush "github.com/bmharper/flatbush-go"
	"github.com/chewxy/math32"
	"github.com/cyclopcam/trafficcount/pkg/nn"
)

type GroupType string

const (
	GroupIndividual GroupType = "individual"
	GroupPair       GroupType = "pair"
	GroupSmall      GroupType = "small_group"
	GroupMedium     GroupType = "medium_group"
	GroupLarge      GroupType = "large_group"
)

func GroupTypeOf(size int) GroupType {
	switch {
	case size <= 1:
		return GroupIndividual
	case size == 2:
		return GroupPair
	case size <= 4:
		return GroupSmall
	case size <= 8:
		return GroupMedium
	default:
		return GroupLarge
	}
}

// Person is the detailed classification of a person in one frame
type Person struct {
	Detection     int       `json:"detection"` // Index into the frame's detections
	GroupID       int       `json:"group_id"`  // -1 if walking alone
	GroupSize     int       `json:"group_size"`
	GroupType     GroupType `json:"group_type"`
	HasCompanion  bool      `json:"has_companion"`
	CompanionType string    `json:"companion_type,omitempty"` // "person" or "bicycle"
}

// GroupAnalyzer finds people who are close enough together to be walking as a group.
// Two people belong to the same group when there is a chain of people between them,
// with each step no further than MaxGroupDistance.
type GroupAnalyzer struct {
	MaxGroupDistance     float32 // Pixels between the centers of neighbouring group members
	MaxCompanionDistance float32 // Pixels between a person and another person or bicycle, for it to be a companion

	candidates []int
}

func NewGroupAnalyzer() GroupAnalyzer {
	return GroupAnalyzer{
		MaxGroupDistance:     60,
		MaxCompanionDistance: 80,
	}
}

// Analyze returns the people in the detections of a single frame
func (g *GroupAnalyzer) Analyze(detections []nn.Detection) []Person {
	// Index people and bicycles, which are the only possible companions
	indexed := []int{}
	for i := range detections {
		if detections[i].Class == "person" || detections[i].Class == "bicycle" {
			indexed = append(indexed, i)
		}
	}
	if len(indexed) == 0 {
		return nil
	}
	fb := flatbush.NewFlatbush[int32]()
	fb.Reserve(len(indexed))
	for _, i := range indexed {
		c := detections[i].Center
		fb.Add(int32(c.X), int32(c.Y), int32(c.X), int32(c.Y))
	}
	fb.Finish()

	// Union-find over indices into 'indexed'
	parent := make([]int, len(indexed))
	for i := range parent {
		parent[i] = i
	}
	find := func(i int) int {
		for parent[i] != i {
			parent[i] = parent[parent[i]]
			i = parent[i]
		}
		return i
	}

	people := []Person{}
	slot := map[int]int{} // index into 'indexed' -> index into people
	r := int32(math32.Ceil(max(g.MaxGroupDistance, g.MaxCompanionDistance)))
	for a, i := range indexed {
		d := &detections[i]
		if d.Class != "person" {
			continue
		}
		p := Person{Detection: i, GroupID: -1, GroupSize: 1}
		c := d.Center
		g.candidates = fb.SearchFast(int32(c.X)-r, int32(c.Y)-r, int32(c.X)+r, int32(c.Y)+r, g.candidates)
		for _, b := range g.candidates {
			if b == a {
				continue
			}
			other := &detections[indexed[b]]
			dist := c.Distance(other.Center)
			if dist < g.MaxCompanionDistance && (p.CompanionType == "" || other.Class == "person") {
				// A person companion takes precedence over a bicycle
				p.HasCompanion = true
				p.CompanionType = other.Class
			}
			if other.Class == "person" && dist <= g.MaxGroupDistance {
				parent[find(a)] = find(b)
			}
		}
		slot[a] = len(people)
		people = append(people, p)
	}

	// Number the groups in order of first appearance, so that results are stable
	sizes := map[int]int{}
	for a := range slot {
		sizes[find(a)]++
	}
	ids := map[int]int{}
	for a, i := range indexed {
		if detections[i].Class != "person" {
			continue
		}
		p := &people[slot[a]]
		root := find(a)
		p.GroupSize = sizes[root]
		p.GroupType = GroupTypeOf(p.GroupSize)
		if p.GroupSize > 1 {
			id, ok := ids[root]
			if !ok {
				id = len(ids)
				ids[root] = id
			}
			p.GroupID = id
		}
	}
	return people
}
