package task

// RunStats 聚合运行状态的统计信息。
type RunStats struct {
	Total           int   `json:"total"`
	Pending         int   `json:"pending"`
	Running         int   `json:"running"`
	Succeeded       int   `json:"succeeded"`
	Failed          int   `json:"failed"`
	OldestUpdatedAt int64 `json:"oldest_updated_at,omitempty"`
	NewestUpdatedAt int64 `json:"newest_updated_at,omitempty"`
}

func (s *RunStats) add(run *Run) {
	s.Total++
	switch run.Status {
	case StatusPending:
		s.Pending++
	case StatusRunning:
		s.Running++
	case StatusSucceeded:
		s.Succeeded++
	case StatusFailed:
		s.Failed++
	}
	if run.UpdatedAt > s.NewestUpdatedAt {
		s.NewestUpdatedAt = run.UpdatedAt
	}
	if s.OldestUpdatedAt == 0 || (run.UpdatedAt != 0 && run.UpdatedAt < s.OldestUpdatedAt) {
		s.OldestUpdatedAt = run.UpdatedAt
	}
}
