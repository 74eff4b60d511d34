package backup

import "time"

// Outcome is the kind of a backup attempt result.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeSkipped Outcome = "skipped"
	OutcomeFailed  Outcome = "error"
)

// Run is the result of one Executor.Run call. It is not persisted.
type Run struct {
	ID        string    `json:"run_id"`
	Outcome   Outcome   `json:"status"`
	FileID    string    `json:"file_id,omitempty"`
	FileName  string    `json:"file_name,omitempty"`
	Timestamp time.Time `json:"timestamp,omitzero"`
	Category  Category  `json:"category,omitempty"`
	Message   string    `json:"message"`
	Pruned    int       `json:"pruned,omitempty"`
}

func success(id, fileID, fileName string, at time.Time, pruned int) Run {
	return Run{ID: id, Outcome: OutcomeSuccess, FileID: fileID, FileName: fileName, Timestamp: at, Pruned: pruned, Message: StatusSuccess}
}

func skipped(id string, category Category, reason string) Run {
	return Run{ID: id, Outcome: OutcomeSkipped, Category: category, Message: reason}
}

func failed(id string, category Category, message string) Run {
	return Run{ID: id, Outcome: OutcomeFailed, Category: category, Message: message}
}

// Status strings stored in the settings row.
const (
	StatusSuccess      = "Success"
	StatusConnected    = "Connected"
	StatusDisconnected = "Not connected"
)
