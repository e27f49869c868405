package invocation

// Stats 聚合了调用状态的统计信息，常用于健康检查。
type Stats struct {
	Total           int   `json:"total"`
	Pending         int   `json:"pending"`
	Running         int   `json:"running"`
	Succeeded       int   `json:"succeeded"`
	Failed          int   `json:"failed"`
	OldestUpdatedAt int64 `json:"oldest_updated_at,omitempty"`
	NewestUpdatedAt int64 `json:"newest_updated_at,omitempty"`
}

func (s *Stats) add(inv *Invocation) {
	s.Total++
	switch inv.Status {
	case StatusPending:
		s.Pending++
	case StatusRunning:
		s.Running++
	case StatusSucceeded:
		s.Succeeded++
	case StatusFailed:
		s.Failed++
	}
	if inv.UpdatedAt > s.NewestUpdatedAt {
		s.NewestUpdatedAt = inv.UpdatedAt
	}
	if s.OldestUpdatedAt == 0 || (inv.UpdatedAt != 0 && inv.UpdatedAt < s.OldestUpdatedAt) {
		s.OldestUpdatedAt = inv.UpdatedAt
	}
}
