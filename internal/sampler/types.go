package sampler

import (
	"time"

	"github.com/CU-BIC/S3/internal/geo"
)

// RunStatus enumerates pipeline run lifecycle states.
type RunStatus string

const (
	// RunStatusRunning marks a run still collecting.
	RunStatusRunning RunStatus = "running"
	// RunStatusCompleted marks a run whose cursor reached the end.
	RunStatusCompleted RunStatus = "completed"
	// RunStatusFailed marks a run stopped by a fatal error.
	RunStatusFailed RunStatus = "failed"
	// RunStatusCanceled marks a run aborted between cycles.
	RunStatusCanceled RunStatus = "canceled"
)

// Mode selects how far each batch is enriched.
type Mode string

const (
	// ModeImages snaps, resolves panoramas, and downloads images.
	ModeImages Mode = "images"
	// ModePanoramas snaps and resolves panoramas only.
	ModePanoramas Mode = "panoramas"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	return m == ModeImages || m == ModePanoramas
}

// Summary is the terminal result of a run. Processed and Rejected only
// contain points from committed cycles, in commit order.
type Summary struct {
	RunID        string       `json:"run_id"`
	Status       RunStatus    `json:"status"`
	Reason       string       `json:"reason,omitempty"`
	Processed    []Coordinate `json:"processed"`
	Rejected     []Coordinate `json:"rejected"`
	TotalVisited int          `json:"total_visited"`
	Batches      int          `json:"batches"`
	Rotations    int          `json:"rotations"`
	Rollbacks    int          `json:"rollbacks"`
	StartedAt    time.Time    `json:"started_at"`
	FinishedAt   time.Time    `json:"finished_at"`
}

// BatchRecord is handed to sinks once per committed cycle.
type BatchRecord struct {
	RunID       string       `json:"run_id"`
	Sequence    int          `json:"sequence"`
	Accepted    []Coordinate `json:"accepted"`
	Rejected    []Coordinate `json:"rejected"`
	Visited     int          `json:"visited"`
	PersistedAt time.Time    `json:"persisted_at"`
}

// Progress is a point-in-time snapshot of a running pipeline.
type Progress struct {
	RunID           string     `json:"run_id"`
	Status          RunStatus  `json:"status"`
	Position        geo.LatLng `json:"position"`
	Visited         int        `json:"visited"`
	Accepted        int        `json:"accepted"`
	Rejected        int        `json:"rejected"`
	Batches         int        `json:"batches"`
	Rotations       int        `json:"rotations"`
	Rollbacks       int        `json:"rollbacks"`
	CredentialIndex int        `json:"credential_index"`
	EstimatedTotal  int        `json:"estimated_total"`
}

// PercentComplete returns visited/estimated as a percentage, or 0 without an estimate.
func (p Progress) PercentComplete() float64 {
	if p.EstimatedTotal <= 0 {
		return 0
	}
	return float64(p.Visited) / float64(p.EstimatedTotal) * 100
}
