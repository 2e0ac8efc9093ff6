package semantic

import "fmt"

// Status is the lifecycle state of a VectorIndex handle.
type Status int

const (
	StatusPending  Status = iota // not yet initialized
	StatusReady                  // collection exists, calls go through
	StatusDisabled               // unreachable; calls are no-ops
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusReady:
		return "ready"
	case StatusDisabled:
		return "disabled"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Match is a single similarity search hit.
type Match struct {
	ID       string         `json:"id"` // caller-supplied record id
	PointID  string         `json:"point_id"`
	Score    float32        `json:"score"`
	Metadata map[string]any `json:"metadata"`
}

// UpsertResult counts the outcome of one Upsert call.
type UpsertResult struct {
	Batches       int `json:"batches"`
	FailedBatches int `json:"failed_batches"`
	Upserted      int `json:"upserted"`
	Failed        int `json:"failed"` // rejected records plus records in failed batches
}

// Add accumulates other into r.
func (r *UpsertResult) Add(other UpsertResult) {
	r.Batches += other.Batches
	r.FailedBatches += other.FailedBatches
	r.Upserted += other.Upserted
	r.Failed += other.Failed
}
