package models

import "time"

type Phase string

const (
	PhaseIdle           Phase = "idle"
	PhaseInitializing   Phase = "initializing"
	PhaseCountingRows   Phase = "counting_rows"
	PhaseCreatingTables Phase = "creating_tables"
	PhaseTransferring   Phase = "transferring"
	PhaseVerifying      Phase = "verifying"
	PhaseCompleted      Phase = "completed"
	PhaseFailed         Phase = "failed"
	PhaseStopped        Phase = "stopped"
)

// phaseOrder ranks the forward path. Failed and stopped sit outside it.
var phaseOrder = map[Phase]int{
	PhaseIdle:           0,
	PhaseInitializing:   1,
	PhaseCountingRows:   2,
	PhaseCreatingTables: 3,
	PhaseTransferring:   4,
	PhaseVerifying:      5,
	PhaseCompleted:      6,
}

func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseFailed || p == PhaseStopped
}

// Running is true for every phase a worker may still be executing.
func (p Phase) Running() bool {
	return p != PhaseIdle && !p.Terminal()
}

// CanAdvanceTo reports whether p -> next is a legal transition.
func (p Phase) CanAdvanceTo(next Phase) bool {
	if !p.Running() {
		return false
	}
	if next == PhaseFailed || next == PhaseStopped {
		return true
	}
	cur, ok1 := phaseOrder[p]
	nxt, ok2 := phaseOrder[next]
	return ok1 && ok2 && nxt > cur
}

// TransferSnapshot is a point-in-time copy of the job slot.
type TransferSnapshot struct {
	ID                  string
	Phase               Phase
	Spec                TransferSpec
	TotalRows           int64 // -1 until counted
	TransferredRows     int64
	CurrentBatch        int
	StartedAt           *time.Time
	CompletedAt         *time.Time
	EstimatedCompletion *time.Time
	ErrorMessage        string
	Logs                []string
}

func (s TransferSnapshot) ProgressPercentage() float64 {
	if s.TotalRows < 0 {
		return 0
	}
	if s.TotalRows == 0 {
		if s.Phase == PhaseCompleted {
			return 100
		}
		return 0
	}
	pct := float64(s.TransferredRows) / float64(s.TotalRows) * 100
	if pct > 100 {
		pct = 100
	}
	return float64(int64(pct*100+0.5)) / 100
}

type StartTransferResponse struct {
	Message    string `json:"message"`
	TransferID string `json:"transfer_id"`
	Status     string `json:"status"`
}

type TransferStatusResponse struct {
	IsRunning           bool     `json:"is_running"`
	CurrentBatch        int      `json:"current_batch"`
	TotalRows           int64    `json:"total_rows"`
	TransferredRows     int64    `json:"transferred_rows"`
	ProgressPercentage  float64  `json:"progress_percentage"`
	StartTime           *string  `json:"start_time"`
	EstimatedCompletion *string  `json:"estimated_completion"`
	Status              string   `json:"status"`
	ErrorMessage        *string  `json:"error_message"`
	Logs                []string `json:"logs"`
}

// StatusResponse renders s for the wire keeping only the last tail log lines (tail <= 0 keeps all).
func (s TransferSnapshot) StatusResponse(tail int) TransferStatusResponse {
	resp := TransferStatusResponse{
		IsRunning:          s.Phase.Running(),
		CurrentBatch:       s.CurrentBatch,
		TransferredRows:    s.TransferredRows,
		ProgressPercentage: s.ProgressPercentage(),
		Status:             string(s.Phase),
		Logs:               s.Logs,
	}
	if s.TotalRows > 0 {
		resp.TotalRows = s.TotalRows
	}
	if tail > 0 && len(resp.Logs) > tail {
		resp.Logs = resp.Logs[len(resp.Logs)-tail:]
	}
	if resp.Logs == nil {
		resp.Logs = []string{}
	}
	if s.StartedAt != nil {
		v := s.StartedAt.Format(time.RFC3339)
		resp.StartTime = &v
	}
	if s.EstimatedCompletion != nil {
		v := s.EstimatedCompletion.Format(time.RFC3339)
		resp.EstimatedCompletion = &v
	}
	if s.ErrorMessage != "" {
		v := s.ErrorMessage
		resp.ErrorMessage = &v
	}
	return resp
}
