package review

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/trafficcount/pkg/analysis"
	"github.com/cyclopcam/trafficcount/pkg/gen"
	"github.com/cyclopcam/trafficcount/pkg/nn"
)

var ErrUnknownClass = errors.New("Unknown class")
var ErrOutOfRange = errors.New("Detection number out of range")
var ErrNoDetections = errors.New("No detections to review")
var ErrInvalidStatus = errors.New("Invalid verification status")

type Status string

const (
	StatusVerified Status = "verified"
	StatusRejected Status = "rejected"
	StatusPending  Status = "pending"
)

func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusVerified, StatusRejected, StatusPending:
		return Status(s), nil
	case "valid":
		return StatusVerified, nil
	}
	return "", fmt.Errorf("%w '%v'", ErrInvalidStatus, s)
}

// Record is a detection under review
type Record struct {
	nn.Detection
	VideoTime string `json:"video_time"` // MM:SS
	Index     int    `json:"index"`      // Position within the class list (0-based)
	Status    Status `json:"status"`
}

// ClassResults holds the indices of every record of a class, split by status.
// Every index is in exactly one of the three lists.
type ClassResults struct {
	Verified []int `json:"verified"`
	Rejected []int `json:"rejected"`
	Pending  []int `json:"pending"`
}

func (c *ClassResults) list(s Status) *[]int {
	switch s {
	case StatusVerified:
		return &c.Verified
	case StatusRejected:
		return &c.Rejected
	}
	return &c.Pending
}

func (c *ClassResults) statusOf(index int) Status {
	if slices.Contains(c.Verified, index) {
		return StatusVerified
	} else if slices.Contains(c.Rejected, index) {
		return StatusRejected
	}
	return StatusPending
}

// Session walks a human through the detections of an analysis, one class at a time.
// A Session is safe for use from multiple goroutines.
type Session struct {
	VideoPath string

	log     logs.Log
	lock    sync.Mutex
	byClass map[string][]nn.Detection
	results map[string]*ClassResults
	class   string
	index   map[string]int
}

// VideoTime formats seconds as MM:SS
func VideoTime(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	s := int(seconds)
	return fmt.Sprintf("%02d:%02d", s/60, s%60)
}

func NewSession(log logs.Log, result *analysis.Result) *Session {
	return NewSessionFromDetections(log, result.VideoInfo.Path, result.AllDetections())
}

func NewSessionFromDetections(log logs.Log, videoPath string, detections []nn.Detection) *Session {
	s := &Session{
		VideoPath: videoPath,
		log:       log,
		byClass:   map[string][]nn.Detection{},
		results:   map[string]*ClassResults{},
		index:     map[string]int{},
	}
	for _, d := range detections {
		s.byClass[d.Class] = append(s.byClass[d.Class], d)
	}
	for class, list := range s.byClass {
		sort.SliceStable(list, func(i, j int) bool {
			return list[i].FrameNumber < list[j].FrameNumber
		})
		r := &ClassResults{
			Verified: []int{},
			Rejected: []int{},
			Pending:  make([]int, len(list)),
		}
		for i := range list {
			r.Pending[i] = i
		}
		s.results[class] = r
		log.Infof("Review %v: %v detections", class, len(list))
	}
	classes := s.classes()
	if len(classes) != 0 {
		s.class = classes[0]
	}
	return s
}

// Classes returns the names of all classes that have detections, sorted
func (s *Session) Classes() []string {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.classes()
}

func (s *Session) classes() []string {
	return gen.SortedKeys(s.byClass)
}

func (s *Session) CurrentClass() string {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.class
}

// SelectClass switches to another class, and rewinds to its first detection
func (s *Session) SelectClass(class string) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if _, ok := s.byClass[class]; !ok {
		return fmt.Errorf("%w '%v'", ErrUnknownClass, class)
	}
	s.class = class
	s.index[class] = 0
	return nil
}

// Current returns the detection under review
func (s *Session) Current() (Record, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	list := s.byClass[s.class]
	if len(list) == 0 {
		return Record{}, ErrNoDetections
	}
	return s.record(s.class, s.index[s.class]), nil
}

func (s *Session) record(class string, i int) Record {
	d := s.byClass[class][i]
	return Record{
		Detection: d,
		VideoTime: VideoTime(d.Timestamp),
		Index:     i,
		Status:    s.results[class].statusOf(i),
	}
}

// Records returns every record of a class, in frame order
func (s *Session) Records(class string) ([]Record, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	list, ok := s.byClass[class]
	if !ok {
		return nil, fmt.Errorf("%w '%v'", ErrUnknownClass, class)
	}
	all := make([]Record, len(list))
	for i := range list {
		all[i] = s.record(class, i)
	}
	return all, nil
}

// Next moves forward. Returns false if we're already at the last detection.
func (s *Session) Next() bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.next()
}

func (s *Session) next() bool {
	i := s.index[s.class]
	if i >= len(s.byClass[s.class])-1 {
		return false
	}
	s.index[s.class] = i + 1
	return true
}

// Previous moves back. Returns false if we're already at the first detection.
func (s *Session) Previous() bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	i := s.index[s.class]
	if i == 0 {
		return false
	}
	s.index[s.class] = i - 1
	return true
}

// Goto jumps to the n-th detection of the current class (1-based)
func (s *Session) Goto(n int) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if n < 1 || n > len(s.byClass[s.class]) {
		return fmt.Errorf("%w (%v, valid range is 1..%v)", ErrOutOfRange, n, len(s.byClass[s.class]))
	}
	s.index[s.class] = n - 1
	return nil
}

// Accept marks the current detection as verified, and moves to the next
func (s *Session) Accept() error {
	return s.markAndAdvance(StatusVerified)
}

// Reject marks the current detection as a false positive, and moves to the next
func (s *Session) Reject() error {
	return s.markAndAdvance(StatusRejected)
}

// Skip moves to the next detection without changing the status of the current one
func (s *Session) Skip() bool {
	return s.Next()
}

func (s *Session) markAndAdvance(status Status) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if err := s.mark(s.class, s.index[s.class], status); err != nil {
		return err
	}
	s.next()
	return nil
}

// Mark sets the status of the index-th (0-based) detection of the current class
func (s *Session) Mark(index int, status Status) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.mark(s.class, index, status)
}

// MarkClass sets the status of the index-th (0-based) detection of any class
func (s *Session) MarkClass(class string, index int, status Status) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if _, ok := s.results[class]; !ok {
		return fmt.Errorf("%w '%v'", ErrUnknownClass, class)
	}
	return s.mark(class, index, status)
}

func (s *Session) mark(class string, index int, status Status) error {
	r, ok := s.results[class]
	if !ok {
		return ErrNoDetections
	}
	if index < 0 || index >= len(s.byClass[class]) {
		return fmt.Errorf("%w (%v)", ErrOutOfRange, index)
	}
	status, err := ParseStatus(string(status))
	if err != nil {
		return err
	}
	for _, st := range []Status{StatusVerified, StatusRejected, StatusPending} {
		lst := r.list(st)
		if i := slices.Index(*lst, index); i != -1 {
			*lst = slices.Delete(*lst, i, i+1)
		}
	}
	lst := r.list(status)
	*lst = append(*lst, index)
	s.log.Debugf("%v detection %v marked %v", class, index, status)
	return nil
}

// Position returns the 1-based position within the current class, and the number of detections in the class
func (s *Session) Position() (current, total int) {
	s.lock.Lock()
	defer s.lock.Unlock()
	total = len(s.byClass[s.class])
	if total == 0 {
		return 0, 0
	}
	return s.index[s.class] + 1, total
}

// Results returns a copy of the status lists of every class
func (s *Session) Results() map[string]ClassResults {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.copyResults()
}

func (s *Session) copyResults() map[string]ClassResults {
	out := map[string]ClassResults{}
	for class, r := range s.results {
		out[class] = ClassResults{
			Verified: slices.Clone(r.Verified),
			Rejected: slices.Clone(r.Rejected),
			Pending:  slices.Clone(r.Pending),
		}
	}
	return out
}

// Status of every detection of the class, in the same order as Records()
func (s *Session) Statuses(class string) []Status {
	s.lock.Lock()
	defer s.lock.Unlock()
	r, ok := s.results[class]
	if !ok {
		return nil
	}
	out := make([]Status, len(s.byClass[class]))
	for i := range out {
		out[i] = r.statusOf(i)
	}
	return out
}
