package server

import (
	"net/http"

	"github.com/n0madic/go-claudebridge/internal/limits"
)

type healthResponse struct {
	Status     string           `json:"status"`
	Model      string           `json:"model"`
	RateLimits *limits.Snapshot `json:"rate_limits,omitempty"`
	Exhausted  []string         `json:"exhausted,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Model: s.Catalog.Upstream}
	if s.Limits != nil {
		if snap := s.Limits.Last(); snap != nil {
			resp.RateLimits = snap
			resp.Exhausted = snap.Exhausted()
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
