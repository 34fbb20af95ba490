package classify

type VehicleSummary struct {
	Total         int                  `json:"total"`
	ByType        map[string]int       `json:"by_type"` // Refined class -> count
	BySize        map[SizeCategory]int `json:"by_size"`
	AverageLength map[string]float64   `json:"average_length"` // Refined class -> meters
}

type PersonSummary struct {
	Total          int               `json:"total"`
	WithCompanions int               `json:"with_companions"`
	InGroups       int               `json:"in_groups"`
	ByGroupType    map[GroupType]int `json:"by_group_type"`
}

// Summary counts detailed classifications over many frames.
// Every detection is counted, so a vehicle that is visible for 10 frames counts 10 times.
type Summary struct {
	Vehicles VehicleSummary `json:"vehicles"`
	Persons  PersonSummary  `json:"persons"`

	lengthSum map[string]float64
}

func NewSummary() *Summary {
	return &Summary{
		Vehicles: VehicleSummary{
			ByType:        map[string]int{},
			BySize:        map[SizeCategory]int{},
			AverageLength: map[string]float64{},
		},
		Persons: PersonSummary{
			ByGroupType: map[GroupType]int{},
		},
		lengthSum: map[string]float64{},
	}
}

func (s *Summary) addVehicle(v Vehicle) {
	s.Vehicles.Total++
	s.Vehicles.ByType[v.Class]++
	s.Vehicles.BySize[v.Size]++
	s.lengthSum[v.Class] += v.EstimatedLength
	s.Vehicles.AverageLength[v.Class] = s.lengthSum[v.Class] / float64(s.Vehicles.ByType[v.Class])
}

func (s *Summary) addPerson(p Person) {
	s.Persons.Total++
	if p.HasCompanion {
		s.Persons.WithCompanions++
	}
	if p.GroupSize > 1 {
		s.Persons.InGroups++
	}
	s.Persons.ByGroupType[p.GroupType]++
}

// Clone returns a deep copy
func (s *Summary) Clone() *Summary {
	c := NewSummary()
	c.Vehicles.Total = s.Vehicles.Total
	c.Persons.Total = s.Persons.Total
	c.Persons.WithCompanions = s.Persons.WithCompanions
	c.Persons.InGroups = s.Persons.InGroups
	for k, v := range s.Vehicles.ByType {
		c.Vehicles.ByType[k] = v
	}
	for k, v := range s.Vehicles.BySize {
		c.Vehicles.BySize[k] = v
	}
	for k, v := range s.Vehicles.AverageLength {
		c.Vehicles.AverageLength[k] = v
	}
	for k, v := range s.lengthSum {
		c.lengthSum[k] = v
	}
	for k, v := range s.Persons.ByGroupType {
		c.Persons.ByGroupType[k] = v
	}
	return c
}
