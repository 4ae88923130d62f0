package collab

import "time"

// TripOpEvent 已应用操作的对外事件，经 Kafka 按 tripId 分区投递。
// 下游（通知服务、审计）消费；协作核心只管生产。
type TripOpEvent struct {
	EventType       string    `json:"eventType"` // 固定 "OP_APPLIED"
	TripID          string    `json:"tripId"`
	OpID            string    `json:"opId"`
	AppliedRevision uint64    `json:"appliedRevision"`
	AuthorID        uint64    `json:"authorId"`
	Kind            OpKind    `json:"kind"`
	Path            string    `json:"path,omitempty"`
	List            string    `json:"list,omitempty"`
	ItemID          string    `json:"itemId,omitempty"`
	AppliedAt       time.Time `json:"appliedAt"`
}

func eventFromEntry(entry LogEntry) TripOpEvent {
	return TripOpEvent{
		EventType:       "OP_APPLIED",
		TripID:          entry.Op.TripID,
		OpID:            entry.Op.OpID,
		AppliedRevision: entry.AppliedRevision,
		AuthorID:        entry.AuthorID,
		Kind:            entry.Op.Kind,
		Path:            entry.Op.Path,
		List:            entry.Op.List,
		ItemID:          entry.Op.ItemID,
		AppliedAt:       entry.AppliedAt,
	}
}
