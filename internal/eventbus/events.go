package eventbus

import (
	"time"

	"github.com/fieldops/rove/core/model"
)

// VisitEvent is published after every completed visit attempt.
type VisitEvent struct {
	WorkerID  int           `json:"worker_id"`
	Point     model.Point   `json:"point"`
	SpawnID   string        `json:"spawn_id,omitempty"`
	Known     bool          `json:"known"`
	Bootstrap bool          `json:"bootstrap,omitempty"`
	Found     bool          `json:"found"`
	Seen      int           `json:"seen"`
	Latency   time.Duration `json:"latency_ns"`
}

// SwapEvent is published when a worker's credential is rotated.
type SwapEvent struct {
	WorkerID int    `json:"worker_id"`
	Reason   string `json:"reason"` // "underperformer" or "stale"
	Old      string `json:"old"`
	New      string `json:"new"`
	Routed   string `json:"routed"` // queue the old account was returned to
}

// PauseEvent is published when the dispatch loop pauses or resumes on
// verification-queue backpressure.
type PauseEvent struct {
	Paused    bool          `json:"paused"`
	QueueSize int           `json:"queue_size"`
	Waited    time.Duration `json:"waited_ns,omitempty"`
}

// BootstrapEvent marks the start or end of a bootstrap phase.
type BootstrapEvent struct {
	Phase int    `json:"phase"`
	State string `json:"state"` // "start" or "done"
	Tasks int    `json:"tasks"`
}
