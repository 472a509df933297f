package runstore

// Status is the lifecycle state of a run.
type Status string

const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
	StatusAborted Status = "aborted"
)

// Terminal reports whether the status is final. A run never leaves a
// terminal status.
func (s Status) Terminal() bool {
	switch s {
	case StatusSuccess, StatusError, StatusAborted:
		return true
	}
	return false
}
