package health

import (
	"encoding/json"
	"net/http"
)

type statusBody struct {
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

func probeHandler(p Probe, okStatus string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.Header().Set("Cache-Control", "no-store")
		if p != nil {
			if err := p.Check(r.Context()); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				_ = json.NewEncoder(w).Encode(statusBody{Status: "unavailable", Reason: err.Error()})
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(statusBody{Status: okStatus})
	}
}

// HealthzHandler answers 200 {"status":"ok"} when p passes, 503 with the
// reason otherwise. A nil probe always passes.
func HealthzHandler(p Probe) http.HandlerFunc { return probeHandler(p, "ok") }

// ReadyzHandler is HealthzHandler reporting "ready".
func ReadyzHandler(p Probe) http.HandlerFunc { return probeHandler(p, "ready") }
