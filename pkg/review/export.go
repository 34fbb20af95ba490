package review

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/cyclopcam/trafficcount/pkg/analysis"
)

type ClassStatistics struct {
	Total            int     `json:"total"`
	Verified         int     `json:"verified"`
	Rejected         int     `json:"rejected"`
	Pending          int     `json:"pending"`
	VerificationRate float64 `json:"verification_rate"` // (verified + rejected) / total
}

// Export is the JSON document that records the outcome of a review
type Export struct {
	VideoPath             string                     `json:"video_path"`
	VerificationTimestamp string                     `json:"verification_timestamp"`
	VerificationResults   map[string]ClassResults    `json:"verification_results"`
	Statistics            map[string]ClassStatistics `json:"statistics"`
}

func (s *Session) Statistics() map[string]ClassStatistics {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.statistics()
}

func (s *Session) statistics() map[string]ClassStatistics {
	stats := map[string]ClassStatistics{}
	for class, r := range s.results {
		c := ClassStatistics{
			Total:    len(s.byClass[class]),
			Verified: len(r.Verified),
			Rejected: len(r.Rejected),
			Pending:  len(r.Pending),
		}
		if c.Total > 0 {
			c.VerificationRate = float64(c.Verified+c.Rejected) / float64(c.Total)
		}
		stats[class] = c
	}
	return stats
}

func (s *Session) MakeExport(now time.Time) *Export {
	s.lock.Lock()
	defer s.lock.Unlock()
	return &Export{
		VideoPath:             s.VideoPath,
		VerificationTimestamp: now.Format(time.RFC3339),
		VerificationResults:   s.copyResults(),
		Statistics:            s.statistics(),
	}
}

// ExportTo writes the review outcome as indented JSON
func (s *Session) ExportTo(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(s.MakeExport(time.Now()))
}

// ExportFilename returns verification_<video stem>_<YYYYMMDD_HHMMSS>.json
func ExportFilename(videoPath string, now time.Time) string {
	return fmt.Sprintf("verification_%v_%v.json", analysis.VideoStem(videoPath), now.Format("20060102_150405"))
}

// Export writes the review outcome into dir, and returns the full path of the new file
func (s *Session) Export(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	now := time.Now()
	filename := filepath.Join(dir, ExportFilename(s.VideoPath, now))
	raw, err := json.MarshalIndent(s.MakeExport(now), "", "  ")
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(filename, raw, 0644); err != nil {
		return "", err
	}
	s.log.Infof("Verification results exported to %v", filename)
	return filename, nil
}

func LoadExport(filename string) (*Export, error) {
	raw, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	e := &Export{}
	if err := json.Unmarshal(raw, e); err != nil {
		return nil, fmt.Errorf("Invalid verification file '%v': %w", filename, err)
	}
	return e, nil
}
