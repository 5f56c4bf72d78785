package domain

// BatchStatus tracks the lifecycle of the single active batch run.
type BatchStatus string

const (
	BatchStatusIdle       BatchStatus = "idle"
	BatchStatusConverting BatchStatus = "converting"
	BatchStatusMerging    BatchStatus = "merging"
	BatchStatusCancelling BatchStatus = "cancelling"
	BatchStatusDone       BatchStatus = "done"
	BatchStatusFailed     BatchStatus = "failed"
	BatchStatusCancelled  BatchStatus = "cancelled"
)

// Batch stores the current run identity and lifecycle status.
type Batch struct {
	ID     string      `json:"id"`
	Status BatchStatus `json:"status"`
	Total  int         `json:"total"`
	Done   int         `json:"done"`
}
