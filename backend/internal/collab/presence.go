package collab

type ConnectionState string

const (
	StateConnected    ConnectionState = "connected"
	StateReconnecting ConnectionState = "reconnecting"
	StateDisconnected ConnectionState = "disconnected"
)

// Participant 会话里的一个参与者。Cursor 是其聚焦的字段路径（可空）。
type Participant struct {
	ParticipantID    uint64          `json:"participantId"`
	Username         string          `json:"username,omitempty"`
	State            ConnectionState `json:"state"`
	LastSeenRevision uint64          `json:"lastSeenRevision"`
	Cursor           string          `json:"cursor,omitempty"`
}

// PresenceTracker 跟踪一个会话的参与者和光标。
// 不走冲突解析、不进操作日志（presence 是瞬态的，按参与者 last-write-wins）。
// 与 Document/OperationLog 一样由 Session 串行化保护。
type PresenceTracker struct {
	members map[uint64]*Participant
}

func NewPresenceTracker() *PresenceTracker {
	return &PresenceTracker{members: make(map[uint64]*Participant)}
}

func (p *PresenceTracker) Join(id uint64, username string, lastSeen uint64) *Participant {
	m := p.members[id]
	if m == nil {
		m = &Participant{ParticipantID: id, Username: username}
		p.members[id] = m
	}
	m.State = StateConnected
	if lastSeen > m.LastSeenRevision {
		m.LastSeenRevision = lastSeen
	}
	return m
}

func (p *PresenceTracker) Leave(id uint64) {
	if m := p.members[id]; m != nil {
		m.State = StateDisconnected
		m.Cursor = ""
	}
	delete(p.members, id)
}

func (p *PresenceTracker) UpdateCursor(id uint64, path string) error {
	m := p.members[id]
	if m == nil {
		return ErrParticipantNotFound
	}
	m.Cursor = path
	return nil
}

// MarkSeen 参与者已确认收到某个版本。日志裁剪以全体的最小值为界。
func (p *PresenceTracker) MarkSeen(id uint64, revision uint64) {
	if m := p.members[id]; m != nil && revision > m.LastSeenRevision {
		m.LastSeenRevision = revision
	}
}

func (p *PresenceTracker) ActiveParticipants() []Participant {
	out := make([]Participant, 0, len(p.members))
	for _, m := range p.members {
		if m.State == StateConnected {
			out = append(out, *m)
		}
	}
	return out
}

// ConnectedCount 在线人数，会话 Empty→Draining 的判据。
func (p *PresenceTracker) ConnectedCount() int {
	n := 0
	for _, m := range p.members {
		if m.State == StateConnected {
			n++
		}
	}
	return n
}

// MinSeenRevision 所有被跟踪参与者的最小已确认版本。没有参与者时返回 current。
func (p *PresenceTracker) MinSeenRevision(current uint64) uint64 {
	min := current
	for _, m := range p.members {
		if m.LastSeenRevision < min {
			min = m.LastSeenRevision
		}
	}
	return min
}
