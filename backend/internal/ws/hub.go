package ws

import (
	"sync"

	"planoraCollab/backend/internal/cache"
	"planoraCollab/backend/internal/collab"
)

type Hub struct {
	// 外部在线状态（redis），供其他服务/实例查看
	presence cache.PresenceCache
	// 保护 rooms 的并发读写
	mu sync.RWMutex
	// tripID -> set of connections
	// 房间存连接而不是 userID：一个用户可开多个标签页/设备，广播要逐连接发
	rooms map[string]map[*Conn]struct{}
}

func NewHub(p cache.PresenceCache) *Hub {
	return &Hub{presence: p, rooms: make(map[string]map[*Conn]struct{})}
}

// Join 将连接加入指定行程房间
func (h *Hub) Join(tripID string, c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rooms[tripID] == nil {
		h.rooms[tripID] = make(map[*Conn]struct{})
	}
	h.rooms[tripID][c] = struct{}{}
}

// Leave 将连接从指定行程房间移除
func (h *Hub) Leave(tripID string, c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if conns, ok := h.rooms[tripID]; ok {
		delete(conns, c)
		if len(conns) == 0 {
			delete(h.rooms, tripID)
		}
	}
}

// BroadcastApplied 把已应用的操作推给房间内除提交者外的所有连接。
// 由 Coordinator 在会话锁内调用（collab.Broadcaster），入队即返回：
// 所有连接的 send 通道里的操作顺序就是版本号顺序。
// origin 是提交者的连接（该用户的其他标签页照常收到广播）。
func (h *Hub) BroadcastApplied(tripID string, origin any, entry collab.LogEntry) {
	h.mu.RLock()
	conns := h.rooms[tripID]
	h.mu.RUnlock()
	msg := OpBroadcastMessage{
		Type:      "op_broadcast",
		TripID:    tripID,
		Revision:  entry.AppliedRevision,
		AuthorID:  entry.AuthorID,
		Op:        entry.Op,
		AppliedAt: entry.AppliedAt,
	}
	except, _ := origin.(*Conn)
	for c := range conns {
		if c == except && except != nil {
			continue
		}
		c.SendMessage_Enqueue(msg)
	}
}

func (h *Hub) BroadcastPresence(tripID string, participants []collab.Participant) {
	h.mu.RLock()
	conns := h.rooms[tripID]
	h.mu.RUnlock()
	msg := ServerMessage{Type: "presence", TripID: tripID, Members: toMembers(participants)}
	for c := range conns {
		c.SendMessage_Enqueue(msg)
	}
}

func (h *Hub) BroadcastCursor(tripID string, participantID uint64, path string) {
	h.mu.RLock()
	conns := h.rooms[tripID]
	h.mu.RUnlock()
	msg := ServerMessage{Type: "cursor", TripID: tripID, ParticipantID: participantID, Path: path}
	for c := range conns {
		c.SendMessage_Enqueue(msg)
	}
}

// BroadcastServer 房间级通知（如会话故障后的 resync_required）
func (h *Hub) BroadcastServer(tripID string, msg ServerMessage) {
	h.mu.RLock()
	conns := h.rooms[tripID]
	h.mu.RUnlock()
	for c := range conns {
		c.SendMessage_Enqueue(msg)
	}
}

func toMembers(participants []collab.Participant) []PresenceMember {
	members := make([]PresenceMember, len(participants))
	for i, p := range participants {
		members[i] = PresenceMember{ParticipantID: p.ParticipantID, Username: p.Username, Cursor: p.Cursor}
	}
	return members
}
