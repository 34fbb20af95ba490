package tracker

type ClassStatistics struct {
	Created   int               `json:"created"`
	Active    int               `json:"active"`
	Completed int               `json:"completed"`
	Crossings map[Direction]int `json:"crossings"`
}

type Statistics struct {
	ActiveTracks       int                        `json:"active_tracks"`
	CompletedTracks    int                        `json:"completed_tracks"`
	TotalTracksCreated int                        `json:"total_tracks_created"`
	CrossingCounts     map[Direction]int          `json:"crossing_counts"`
	ClassStatistics    map[string]ClassStatistics `json:"class_statistics"`
	AverageTrackLength float64                    `json:"average_track_length"` // Mean number of frames of completed tracks
}

func (t *Tracker) Statistics() Statistics {
	t.lock.Lock()
	defer t.lock.Unlock()

	s := Statistics{
		CompletedTracks:    t.nCompleted,
		TotalTracksCreated: int(t.nextID.Count()),
		CrossingCounts:     map[Direction]int{},
		ClassStatistics:    map[string]ClassStatistics{},
	}
	for k, v := range t.crossingCounts {
		s.CrossingCounts[k] = v
	}
	for class, cs := range t.classCounts {
		c := *cs
		c.Active = 0
		c.Crossings = map[Direction]int{}
		for k, v := range cs.Crossings {
			c.Crossings[k] = v
		}
		s.ClassStatistics[class] = c
	}
	for _, tr := range t.tracks {
		if tr.Active {
			s.ActiveTracks++
			c := s.ClassStatistics[tr.Class]
			c.Active++
			s.ClassStatistics[tr.Class] = c
		}
	}
	if t.nCompleted != 0 {
		s.AverageTrackLength = float64(t.sumCompletedLen) / float64(t.nCompleted)
	}
	return s
}
