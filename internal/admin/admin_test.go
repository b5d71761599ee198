package admin

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/scip2/internal/scan"
	"github.com/banshee-data/scip2/internal/scip2"
	"github.com/banshee-data/scip2/internal/session"
)

type fakeSource struct {
	pipeline *scan.Pipeline
	state    session.State
}

func (f *fakeSource) ID() string               { return "5f0c6f8e-0000-4000-8000-000000000001" }
func (f *fakeSource) Target() string           { return "/dev/ttyACM0" }
func (f *fakeSource) Bitrate() int             { return 115200 }
func (f *fakeSource) State() session.State     { return f.state }
func (f *fakeSource) Pipeline() *scan.Pipeline { return f.pipeline }

var testParams = session.Parameters{DistMin: 20, DistMax: 5600}

// localHostRequest builds a request that passes tsweb's debug access check.
func localHostRequest(method, path string) *http.Request {
	req := httptest.NewRequest(method, path, nil)
	req.RemoteAddr = "127.0.0.1:12345"
	return req
}

func newTestRoutes(t *testing.T) (*http.ServeMux, *FrameStore) {
	t.Helper()
	src := &fakeSource{pipeline: scan.NewPipeline(), state: session.StateStreaming}
	t.Cleanup(func() { src.pipeline.Close() })

	frames := &FrameStore{}
	mux := http.NewServeMux()
	NewRoutes(src, frames, testParams).AttachAdminRoutes(mux)
	return mux, frames
}

func TestRoutes_Status(t *testing.T) {
	mux, _ := newTestRoutes(t)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, localHostRequest(http.MethodGet, "/debug/scip2-status"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var got Status
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	want := Status{
		Session: "5f0c6f8e-0000-4000-8000-000000000001",
		Target:  "/dev/ttyACM0",
		Bitrate: 115200,
		State:   "streaming",
		Failure: "none",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("status mismatch (-want +got):\n%s", diff)
	}
}

func TestRoutes_MethodNotAllowed(t *testing.T) {
	mux, _ := newTestRoutes(t)

	for _, path := range []string{"/debug/scip2-status", "/debug/scip2-frame"} {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, localHostRequest(http.MethodPost, path))
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code, path)
	}
}

func TestRoutes_Frame(t *testing.T) {
	mux, frames := newTestRoutes(t)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, localHostRequest(http.MethodGet, "/debug/scip2-frame"))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	host := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	frames.Update(&scan.Scan{
		Start:     44,
		End:       47,
		Group:     1,
		Encoding:  scip2.Encoding2,
		Timestamp: 1234,
		Samples:   []uint32{1000, 2000, 3000, 10},
	}, host)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, localHostRequest(http.MethodGet, "/debug/scip2-frame"))
	require.Equal(t, http.StatusOK, rec.Code)

	var got FrameReport
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.Equal(t, 44, got.Start)
	assert.Equal(t, uint32(1234), got.Timestamp)
	assert.True(t, host.Equal(got.Host))
	assert.Equal(t, 4, got.Summary.Steps)
	assert.Equal(t, 3, got.Summary.Valid)
	assert.InDelta(t, 2000, got.Summary.Mean, 1e-9)
}

func TestFrameStore_CopiesSamples(t *testing.T) {
	var fs FrameStore
	_, ok := fs.Latest()
	assert.False(t, ok)

	s := &scan.Scan{Samples: []uint32{1, 2, 3}}
	fs.Update(s, time.Time{})
	s.Samples[0] = 99

	f, ok := fs.Latest()
	require.True(t, ok)
	assert.Equal(t, []uint32{1, 2, 3}, f.Samples)
}

func TestSummarize(t *testing.T) {
	tests := []struct {
		name  string
		frame Frame
		valid func(uint32) bool
		want  Summary
	}{
		{
			name:  "filters error codes",
			frame: Frame{Encoding: scip2.Encoding2, Samples: []uint32{1000, 2000, 3000, 10}},
			valid: testParams.ValidRange,
			want:  Summary{Steps: 4, Valid: 3, Min: 1000, Max: 3000, Mean: 2000, StdDev: 1000},
		},
		{
			name:  "doubled encoding skips intensities",
			frame: Frame{Encoding: scip2.Encoding3x2, Samples: []uint32{1000, 7, 3000, 9}},
			want:  Summary{Steps: 2, Valid: 2, Min: 1000, Max: 3000, Mean: 2000, StdDev: 1414.2135623730951},
		},
		{
			name:  "single value",
			frame: Frame{Encoding: scip2.Encoding3, Samples: []uint32{500}},
			want:  Summary{Steps: 1, Valid: 1, Min: 500, Max: 500, Mean: 500},
		},
		{
			name:  "nothing valid",
			frame: Frame{Encoding: scip2.Encoding2, Samples: []uint32{1, 2}},
			valid: testParams.ValidRange,
			want:  Summary{Steps: 2},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Summarize(tt.frame, tt.valid)
			assert.Equal(t, tt.want.Steps, got.Steps)
			assert.Equal(t, tt.want.Valid, got.Valid)
			assert.InDelta(t, tt.want.Min, got.Min, 1e-9)
			assert.InDelta(t, tt.want.Max, got.Max, 1e-9)
			assert.InDelta(t, tt.want.Mean, got.Mean, 1e-9)
			assert.InDelta(t, tt.want.StdDev, got.StdDev, 1e-6)
		})
	}
}
