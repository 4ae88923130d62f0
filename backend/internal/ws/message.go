package ws

import (
	"encoding/json"
	"time"

	"planoraCollab/backend/internal/collab"
)

// 入站消息统一一个结构，Type 决定哪些字段有效：
//   - heartbeat:      （无字段，刷新在线 TTL）
//   - create_trip:    TripTitle
//   - join_trip:      TripID 或 TripTitle；LastSeenRevision 可选（重连补发用）
//   - op_submit:      Op
//   - cursor_update:  TripID + Path
//   - leave_trip:     TripID
//   - save_trip:      TripID
//   - load_trip:      TripID
//   - show_alive_members: TripID
type ClientMessage struct {
	Type             string            `json:"type"`
	TripID           string            `json:"tripId,omitempty"`
	TripTitle        string            `json:"tripTitle,omitempty"`
	LastSeenRevision *uint64           `json:"lastSeenRevision,omitempty"`
	Path             string            `json:"path,omitempty"`
	Op               *collab.Operation `json:"op,omitempty"`
}

type PresenceMember struct {
	ParticipantID uint64 `json:"participantId"`
	Username      string `json:"username,omitempty"`
	Cursor        string `json:"cursor,omitempty"`
}

// 通用下行消息（presence / cursor / error / feedback 等轻量类型）
type ServerMessage struct {
	Type          string           `json:"type"`
	TripID        string           `json:"tripId,omitempty"`
	ParticipantID uint64           `json:"participantId,omitempty"`
	Revision      uint64           `json:"revision,omitempty"`
	Members       []PresenceMember `json:"members,omitempty"`
	Path          string           `json:"path,omitempty"`
	Content       string           `json:"content,omitempty"`
}

// 接入成功。Snapshot 与 Entries 二选一：
// Entries 非空是增量补发，否则 Snapshot 携带完整文档。
type JoinedMessage struct {
	Type         string            `json:"type"` // 固定 "joined"
	TripID       string            `json:"tripId"`
	Revision     uint64            `json:"revision"`
	Snapshot     json.RawMessage   `json:"snapshot,omitempty"`
	Entries      []collab.LogEntry `json:"entries,omitempty"`
	Participants []PresenceMember  `json:"participants,omitempty"`
}

// 给提交者的确认
type OpAppliedMessage struct {
	Type            string `json:"type"` // 固定 "op_applied"
	TripID          string `json:"tripId"`
	OpID            string `json:"opId"`
	BaseRevision    uint64 `json:"baseRevision"`
	AppliedRevision uint64 `json:"appliedRevision"`
}

// 广播给同行程房间内其他连接的“已应用操作”事件
// - 与 op_applied(ack) 区分：这里用于把变更推送给其他协作者（包括同用户的其他标签页）
// - 前端收到后在本地应用 op，并把本地 revision 对齐到 revision
type OpBroadcastMessage struct {
	Type      string           `json:"type"` // 固定 "op_broadcast"
	TripID    string           `json:"tripId"`
	Revision  uint64           `json:"revision"` // 服务端已应用后的最新版本
	AuthorID  uint64           `json:"authorId"`
	Op        collab.Operation `json:"op"`
	AppliedAt time.Time        `json:"appliedAt,omitempty"`
}

// 提交被拒。Reason 是 collab 的错误码（CONFLICT_REJECTED / INVALID_REVISION ...），
// 客户端据此决定是否基于新快照重做。
type OpRejectedMessage struct {
	Type   string `json:"type"` // 固定 "op_rejected"
	TripID string `json:"tripId"`
	OpID   string `json:"opId"`
	Reason string `json:"reason"`
}

type FullSnapshotMessage struct {
	Type     string          `json:"type"` // 固定 "full_snapshot"
	TripID   string          `json:"tripId"`
	Revision uint64          `json:"revision"`
	Snapshot json.RawMessage `json:"snapshot"`
}

// 出站消息接口
type OutboundMessage interface {
	MessageType() string
}

func (m ServerMessage) MessageType() string       { return m.Type }
func (m JoinedMessage) MessageType() string       { return m.Type }
func (m OpAppliedMessage) MessageType() string    { return m.Type }
func (m OpBroadcastMessage) MessageType() string  { return m.Type }
func (m OpRejectedMessage) MessageType() string   { return m.Type }
func (m FullSnapshotMessage) MessageType() string { return m.Type }
