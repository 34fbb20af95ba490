package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/trafficcount/pkg/analysis"
	"github.com/cyclopcam/trafficcount/pkg/nn"
	"github.com/cyclopcam/trafficcount/pkg/review"
	"github.com/cyclopcam/trafficcount/server/resultdb"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	t      *testing.T
	s      *Server
	http   *httptest.Server
	tmpDir string
}

// 2 seconds of video at 10 fps, with a car in every frame
func writeLabels(t *testing.T, filename string) {
	labels := &nn.VideoLabels{
		VideoPath:   "street.mp4",
		Width:       640,
		Height:      480,
		FPS:         10,
		TotalFrames: 20,
	}
	for i := 0; i < 20; i++ {
		labels.Frames = append(labels.Frames, &nn.ImageLabels{
			Frame: i,
			Objects: []nn.ObjectDetection{
				{Class: nn.COCOCar, Confidence: 0.9, Box: nn.Rect{X: 300, Y: 400 - i*5, Width: 80, Height: 40}},
			},
		})
	}
	raw, err := json.Marshal(labels)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filename, raw, 0644))
}

func newTestServer(t *testing.T) *testServer {
	tmp := t.TempDir()
	inputDir := filepath.Join(tmp, "input")
	require.NoError(t, os.MkdirAll(inputDir, 0755))
	writeLabels(t, filepath.Join(inputDir, "street.json"))

	cfg := fmt.Sprintf(`
model:
  confidence: 0.5
detection_classes:
  car: [2]
  truck: [7]
video:
  input_dir: %v
  output_dir: %v
  cache_dir: %v
  fps_analysis: 5
roi:
  file: %v
server:
  db: %v
`, inputDir, filepath.Join(tmp, "output"), filepath.Join(tmp, "cache"), filepath.Join(tmp, "roi.json"), filepath.Join(tmp, "cache", "test.sqlite"))
	cfgFile := filepath.Join(tmp, "config.yaml")
	require.NoError(t, os.WriteFile(cfgFile, []byte(cfg), 0644))

	s, err := NewServer(logs.NewTestingLog(t), cfgFile, "")
	require.NoError(t, err)
	ts := &testServer{
		t:      t,
		s:      s,
		http:   httptest.NewServer(s.httpRouter),
		tmpDir: tmp,
	}
	t.Cleanup(func() {
		ts.http.Close()
		s.Shutdown()
		<-s.ShutdownComplete
	})
	return ts
}

func (ts *testServer) do(method, path string, body any) (int, []byte) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(ts.t, err)
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, ts.http.URL+path, reader)
	require.NoError(ts.t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(ts.t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(ts.t, err)
	return resp.StatusCode, raw
}

// Perform a request that must succeed, and decode the JSON response into out (if not nil)
func (ts *testServer) json(method, path string, body, out any) {
	code, raw := ts.do(method, path, body)
	require.Equal(ts.t, http.StatusOK, code, "%v %v: %v", method, path, string(raw))
	if out != nil {
		require.NoError(ts.t, json.Unmarshal(raw, out))
	}
}

func (ts *testServer) waitForJob(id string) *jobJSON {
	start := time.Now()
	for time.Since(start) < 10*time.Second {
		j := &jobJSON{}
		ts.json("GET", "/api/job/"+id, nil, j)
		if j.AnalysisID != 0 || j.Error != "" {
			return j
		}
		time.Sleep(20 * time.Millisecond)
	}
	require.Fail(ts.t, "Timeout waiting for analysis job")
	return nil
}

func (ts *testServer) runAnalysis() int64 {
	j := &jobJSON{}
	ts.json("POST", "/api/analysis", map[string]any{"label_file": "street.json", "use_roi": false}, j)
	require.NotEmpty(ts.t, j.ID)
	j = ts.waitForJob(j.ID)
	require.Empty(ts.t, j.Error)
	require.Equal(ts.t, analysis.StateCompleted, j.Progress.State)
	require.FileExists(ts.t, j.OutputFile)
	return j.AnalysisID
}

func TestPing(t *testing.T) {
	ts := newTestServer(t)
	code, raw := ts.do("GET", "/api/ping", nil)
	require.Equal(t, http.StatusOK, code)
	require.Contains(t, string(raw), "time")
}

func TestSettings(t *testing.T) {
	ts := newTestServer(t)
	var v float64
	ts.json("GET", "/api/settings?key=model.confidence", nil, &v)
	require.InDelta(t, 0.5, v, 1e-6)

	ts.json("POST", "/api/settings?key=model.confidence&value=0.7", nil, nil)
	ts.json("GET", "/api/settings?key=model.confidence", nil, &v)
	require.InDelta(t, 0.7, v, 1e-6)

	// Persisted
	raw, err := os.ReadFile(filepath.Join(ts.tmpDir, "config.yaml"))
	require.NoError(t, err)
	require.Contains(t, string(raw), "confidence: 0.7")

	code, _ := ts.do("POST", "/api/settings?key=model.confidence&value=3", nil)
	require.Equal(t, http.StatusBadRequest, code)
	code, _ = ts.do("POST", "/api/settings?key=model.flavour&value=3", nil)
	require.Equal(t, http.StatusBadRequest, code)
	code, _ = ts.do("GET", "/api/settings?key=model.flavour", nil)
	require.Equal(t, http.StatusNotFound, code)
}

func TestROI(t *testing.T) {
	ts := newTestServer(t)
	r := &roiJSON{}
	ts.json("POST", "/api/roi/preset/road", nil, r)
	require.Len(t, r.Config.InclusionZones, 1)
	require.FileExists(t, filepath.Join(ts.tmpDir, "roi.json"))

	code, _ := ts.do("POST", "/api/roi/preset/river", nil)
	require.Equal(t, http.StatusBadRequest, code)

	name := r.Config.InclusionZones[0].Name
	ts.json("POST", "/api/roi/zone/"+name+"/active?active=false", nil, r)
	require.False(t, r.Config.InclusionZones[0].Active)

	mask := struct {
		Width  int    `json:"width"`
		Height int    `json:"height"`
		Mask   string `json:"mask"`
	}{}
	ts.json("GET", "/api/roi/mask?width=30&height=20", nil, &mask)
	require.Equal(t, 32, mask.Width)
	require.Equal(t, 20, mask.Height)
	require.NotEmpty(t, mask.Mask)

	code, raw := ts.do("GET", "/api/roi/image", nil)
	require.Equal(t, http.StatusOK, code)
	require.True(t, bytes.HasPrefix(raw, []byte("\x89PNG")))

	ts.json("DELETE", "/api/roi/zone/"+name, nil, r)
	require.Len(t, r.Config.InclusionZones, 0)
	code, _ = ts.do("DELETE", "/api/roi/zone/"+name, nil)
	require.Equal(t, http.StatusNotFound, code)
}

func TestAnalysis(t *testing.T) {
	ts := newTestServer(t)
	id := ts.runAnalysis()

	result := &analysis.Result{}
	ts.json("GET", fmt.Sprintf("/api/analysis/%v", id), nil, result)
	// Frames 0, 5, 10, 15
	require.Equal(t, 4, result.TotalDetections)
	require.Equal(t, 4, result.DetectionSummary.Counts["car"])
	require.Len(t, result.AllDetections(), 4)

	var list []*resultdb.Analysis
	ts.json("GET", "/api/analyses", nil, &list)
	require.Len(t, list, 1)
	require.Equal(t, id, list[0].ID)

	code, _ := ts.do("POST", "/api/analysis", map[string]any{"label_file": "missing.json"})
	require.Equal(t, http.StatusBadRequest, code)
	code, _ = ts.do("GET", "/api/job/nope", nil)
	require.Equal(t, http.StatusNotFound, code)

	ts.json("DELETE", fmt.Sprintf("/api/analysis/%v", id), nil, nil)
	code, _ = ts.do("GET", fmt.Sprintf("/api/analysis/%v", id), nil)
	require.Equal(t, http.StatusNotFound, code)
}

func TestProgressWebSocket(t *testing.T) {
	ts := newTestServer(t)
	j := &jobJSON{}
	ts.json("POST", "/api/analysis", map[string]any{"label_file": "street.json"}, j)

	url := "ws" + strings.TrimPrefix(ts.http.URL, "http") + "/api/analysis/" + j.ID + "/progress"
	c, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer c.Close()

	// The server closes the socket after sending the final state
	var last analysis.Progress
	for {
		p := analysis.Progress{}
		if err := c.ReadJSON(&p); err != nil {
			break
		}
		last = p
	}
	require.Equal(t, analysis.StateCompleted, last.State)
	require.Equal(t, 4, last.Counts["car"])
}

func TestReview(t *testing.T) {
	ts := newTestServer(t)
	id := ts.runAnalysis()

	rv := &reviewJSON{}
	ts.json("POST", fmt.Sprintf("/api/review/%v", id), nil, rv)
	require.Equal(t, []string{"car"}, rv.Classes)
	require.Equal(t, 1, rv.Position)
	require.Equal(t, 4, rv.Total)
	require.Equal(t, "00:00", rv.Current.VideoTime)

	base := "/api/review/" + rv.ID
	ts.json("POST", base+"/accept", nil, rv)
	ts.json("POST", base+"/reject", nil, rv)
	require.Equal(t, 3, rv.Position)
	require.Equal(t, "00:01", rv.Current.VideoTime)
	ts.json("POST", base+"/prev", nil, rv)
	require.Equal(t, review.StatusRejected, rv.Current.Status)
	ts.json("POST", base+"/goto?n=4", nil, rv)
	require.Equal(t, 4, rv.Position)

	code, _ := ts.do("POST", base+"/goto?n=5", nil)
	require.Equal(t, http.StatusBadRequest, code)
	code, _ = ts.do("POST", base+"/select?class=bus", nil)
	require.Equal(t, http.StatusBadRequest, code)
	code, _ = ts.do("POST", base+"/dance", nil)
	require.Equal(t, http.StatusBadRequest, code)

	code, raw := ts.do("GET", base+"/image", nil)
	require.Equal(t, http.StatusOK, code)
	require.True(t, bytes.HasPrefix(raw, []byte("\x89PNG")))

	ts.json("POST", base+"/save", nil, rv)
	exports, err := filepath.Glob(filepath.Join(ts.tmpDir, "output", "verification_street_*.json"))
	require.NoError(t, err)
	require.Len(t, exports, 1)

	export := &review.Export{}
	ts.json("GET", base+"/export", nil, export)
	require.Equal(t, []int{0}, export.VerificationResults["car"].Verified)
	require.Equal(t, []int{1}, export.VerificationResults["car"].Rejected)
	require.Equal(t, 2, export.Statistics["car"].Pending)

	// A new session restores the saved statuses
	ts.json("POST", fmt.Sprintf("/api/review/%v", id), nil, rv)
	require.Equal(t, review.StatusVerified, rv.Current.Status)
	require.Equal(t, 1, rv.Statistics["car"].Rejected)
}
