// Package admin serves debug pages describing a running SCIP2.0 session.
// The routes sit under /debug/ and are reachable from localhost or over
// Tailscale only.
package admin

import (
	"encoding/json"
	"net/http"

	"tailscale.com/tsweb"

	"github.com/banshee-data/scip2/internal/monitoring"
	"github.com/banshee-data/scip2/internal/scan"
	"github.com/banshee-data/scip2/internal/session"
)

// Source is the session state the routes report.
type Source interface {
	ID() string
	Target() string
	Bitrate() int
	State() session.State
	Pipeline() *scan.Pipeline
}

// Status is the body of /debug/scip2-status.
type Status struct {
	Session   string `json:"session"`
	Target    string `json:"target"`
	Bitrate   int    `json:"bitrate"`
	State     string `json:"state"`
	Running   bool   `json:"running"`
	Failure   string `json:"failure"`
	LastError string `json:"last_error,omitempty"`
	Frames    uint64 `json:"frames"`
	Failures  uint64 `json:"failures"`
	Discarded uint64 `json:"discarded"`
	Timestamp uint32 `json:"last_timestamp"`
}

// FrameReport is the body of /debug/scip2-frame.
type FrameReport struct {
	Frame
	Summary Summary `json:"summary"`
}

// Routes reports on one session.
type Routes struct {
	src    Source
	frames *FrameStore
	params session.Parameters
	tap    *LineTap
}

// NewRoutes reports on src. params bounds the ranges counted as valid; a
// zero Parameters counts every range.
func NewRoutes(src Source, frames *FrameStore, params session.Parameters) *Routes {
	return &Routes{src: src, frames: frames, params: params}
}

// SetTap enables /debug/scip2-tail, a live feed of the lines tap sees.
func (rt *Routes) SetTap(tap *LineTap) {
	rt.tap = tap
}

// Status snapshots the session and its pipeline.
func (rt *Routes) Status() Status {
	p := rt.src.Pipeline()
	stats := p.Stats()
	st := Status{
		Session:   rt.src.ID(),
		Target:    rt.src.Target(),
		Bitrate:   rt.src.Bitrate(),
		State:     rt.src.State().String(),
		Running:   p.Running(),
		Failure:   p.Failure().String(),
		Frames:    stats.Frames,
		Failures:  stats.Failures,
		Discarded: stats.Discarded,
		Timestamp: stats.LastTimestamp,
	}
	if err := p.Err(); err != nil {
		st.LastError = err.Error()
	}
	return st
}

func (rt *Routes) validRange() func(uint32) bool {
	if rt.params.DistMax == 0 {
		return nil
	}
	return rt.params.ValidRange
}

// AttachAdminRoutes registers the debug pages on mux.
func (rt *Routes) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	debug.KVFunc("SCIP2 session", func() any {
		return rt.src.ID() + " on " + rt.src.Target()
	})
	debug.KVFunc("SCIP2 frames", func() any {
		return rt.src.Pipeline().Stats().Frames
	})

	debug.Handle("scip2-status", "SCIP2.0 link and pipeline state", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		writeJSON(w, http.StatusOK, rt.Status())
	}))

	debug.Handle("scip2-frame", "Latest scan with range statistics", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		f, ok := rt.frames.Latest()
		if !ok {
			writeJSONError(w, http.StatusNotFound, "no frame received yet")
			return
		}
		writeJSON(w, http.StatusOK, FrameReport{Frame: f, Summary: Summarize(f, rt.validRange())})
	}))

	if rt.tap != nil {
		// Event stream of every line read from the device.
		debug.HandleSilent("scip2-tail", http.HandlerFunc(rt.tap.serveTail))
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		monitoring.Logf("admin: encode response: %v", err)
	}
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
