package web

import (
	"encoding/json"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/mikeyg42/motioncam/internal/event"
	"github.com/mikeyg42/motioncam/internal/snapshot"
)

type regionJSON struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

type episodeJSON struct {
	ID        string       `json:"id"`
	StartedAt time.Time    `json:"started_at"`
	EndedAt   *time.Time   `json:"ended_at,omitempty"`
	PeakScore float64      `json:"peak_score"`
	Regions   []regionJSON `json:"regions"`
	Snapshot  string       `json:"snapshot,omitempty"`
	ImageURL  string       `json:"image_url,omitempty"`
}

func (s *Server) episodeDTO(ep *event.Episode) *episodeJSON {
	out := &episodeJSON{
		ID:        ep.ID,
		StartedAt: ep.StartedAt,
		PeakScore: ep.PeakScore,
		Regions:   make([]regionJSON, len(ep.Regions)),
	}
	if ep.Closed() {
		ended := ep.EndedAt
		out.EndedAt = &ended
	}
	for i, r := range ep.Regions {
		out.Regions[i] = regionJSON{X: r.Min.X, Y: r.Min.Y, Width: r.Dx(), Height: r.Dy()}
	}
	if path := ep.Snapshot(); path != "" {
		name := filepath.Base(path)
		out.Snapshot = name
		out.ImageURL = "/frames/" + name
	}
	return out
}

// handleEvents returns up to ?limit recent finalized episodes, newest first.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	episodes := s.history.List(limit)
	dtos := make([]*episodeJSON, len(episodes))
	for i, ep := range episodes {
		dtos[i] = s.episodeDTO(ep)
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": dtos})
}

type configJSON struct {
	Sensitivity    *int      `json:"sensitivity,omitempty"`
	MinArea        *int      `json:"min_area,omitempty"`
	TargetSubjects *[]string `json:"target_subjects,omitempty"`
	CameraIndex    *int      `json:"camera_index,omitempty"`
}

// handleConfig exposes the runtime-tunable detection settings. Camera
// changes need a restart and are rejected.
func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		sensitivity, minArea := s.tuner.Tuning()
		targets := s.targets.Targets()
		writeJSON(w, http.StatusOK, configJSON{
			Sensitivity:    &sensitivity,
			MinArea:        &minArea,
			TargetSubjects: &targets,
		})

	case http.MethodPost:
		var req configJSON
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		if req.CameraIndex != nil {
			http.Error(w, "camera_index requires a restart", http.StatusConflict)
			return
		}

		sensitivity, minArea := s.tuner.Tuning()
		if req.Sensitivity != nil {
			if *req.Sensitivity < 1 || *req.Sensitivity > 255 {
				http.Error(w, "sensitivity must be in [1,255]", http.StatusBadRequest)
				return
			}
			sensitivity = *req.Sensitivity
		}
		if req.MinArea != nil {
			if *req.MinArea < 1 {
				http.Error(w, "min_area must be >= 1", http.StatusBadRequest)
				return
			}
			minArea = *req.MinArea
		}
		s.tuner.SetTuning(sensitivity, minArea)
		if req.TargetSubjects != nil {
			s.targets.SetTargets(*req.TargetSubjects)
		}

		s.log.Infow("runtime config updated",
			"sensitivity", sensitivity, "min_area", minArea)
		targets := s.targets.Targets()
		writeJSON(w, http.StatusOK, configJSON{
			Sensitivity:    &sensitivity,
			MinArea:        &minArea,
			TargetSubjects: &targets,
		})

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleFrame serves snapshot images. Only canonical snapshot names are
// served; anything else (including traversal attempts) is rejected.
func (s *Server) handleFrame(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	name := strings.TrimPrefix(r.URL.Path, "/frames/")
	if name == "" || name != filepath.Base(name) || !snapshot.Matches(name) {
		http.NotFound(w, r)
		return
	}
	http.ServeFile(w, r, filepath.Join(s.store.Dir(), name))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
