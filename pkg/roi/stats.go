package roi

type Statistics struct {
	InclusionZonesCount  int    `json:"inclusion_zones_count"`
	ExclusionZonesCount  int    `json:"exclusion_zones_count"`
	ActiveInclusionZones int    `json:"active_inclusion_zones"`
	ActiveExclusionZones int    `json:"active_exclusion_zones"`
	FrameDimensions      [2]int `json:"frame_dimensions"`
	Anchor               Anchor `json:"anchor"`
}

func (f *Filter) Statistics() Statistics {
	f.lock.RLock()
	defer f.lock.RUnlock()
	s := Statistics{
		InclusionZonesCount: len(f.inclusion),
		ExclusionZonesCount: len(f.exclusion),
		FrameDimensions:     [2]int{f.frameWidth, f.frameHeight},
		Anchor:              f.anchor,
	}
	for i := range f.inclusion {
		if f.inclusion[i].Active {
			s.ActiveInclusionZones++
		}
	}
	for i := range f.exclusion {
		if f.exclusion[i].Active {
			s.ActiveExclusionZones++
		}
	}
	return s
}
