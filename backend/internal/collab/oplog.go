package collab

import (
	"fmt"
	"time"
)

// LogEntry 已接受的操作 + 它产生的版本号。
type LogEntry struct {
	Op              Operation `json:"op"`
	AppliedRevision uint64    `json:"appliedRevision"`
	AppliedAt       time.Time `json:"appliedAt"`
	AuthorID        uint64    `json:"authorId"`
}

// OperationLog 单个行程的 append-only 操作日志。
// 用途：冲突检测（回看 baseRevision 之后动了什么）、重连补发、按 opId 幂等去重。
// 容量有界：超过容量或所有在线参与者都已追平的旧条目可以被裁掉。
// 不加锁，和 TripDocument 一样依赖 Session 串行化。
type OperationLog struct {
	entries []LogEntry
	cap     int
	// 裁剪后仍记住最后一条的版本，保证 Append 的连续性校验不因裁剪失效
	lastApplied uint64
	// 所有在线参与者都已确认的最高版本（Prune 时更新）。
	// 容量淘汰也只允许淘到这条水位线，之上的条目参与者可能还要用
	minSeen uint64
}

const defaultLogCap = 1024

func NewOperationLog(startRevision uint64) *OperationLog {
	return &OperationLog{cap: defaultLogCap, lastApplied: startRevision}
}

func (l *OperationLog) LastApplied() uint64 { return l.lastApplied }

// Append 追加一条。版本必须严格连续（last+1），否则 ErrOutOfOrder。
// 容量满时只淘汰水位线（minSeen）之下的最老条目；没有可淘汰的就继续增长——
// 重连补发和 opId 去重都依赖“连接中的参与者需要的版本绝不被丢”。
func (l *OperationLog) Append(entry LogEntry) error {
	if entry.AppliedRevision != l.lastApplied+1 {
		return fmt.Errorf("%w: got revision %d, want %d", ErrOutOfOrder, entry.AppliedRevision, l.lastApplied+1)
	}
	if l.cap > 0 && len(l.entries) >= l.cap && l.entries[0].AppliedRevision <= l.minSeen {
		copy(l.entries, l.entries[1:])
		l.entries = l.entries[:len(l.entries)-1]
	}
	l.entries = append(l.entries, entry)
	l.lastApplied = entry.AppliedRevision
	return nil
}

// EntriesSince 返回 revision 之后（不含）的全部条目，按应用顺序。
// 返回的是拷贝，重连补发可以对不同参与者反复调用。
func (l *OperationLog) EntriesSince(revision uint64) []LogEntry {
	i := 0
	for i < len(l.entries) && l.entries[i].AppliedRevision <= revision {
		i++
	}
	out := make([]LogEntry, len(l.entries)-i)
	copy(out, l.entries[i:])
	return out
}

// OldestRetained 当前窗口里最老条目的版本；窗口为空时返回 lastApplied。
// reconnect 时用来判断 lastSeenRevision 是否还在窗口内。
func (l *OperationLog) OldestRetained() uint64 {
	if len(l.entries) == 0 {
		return l.lastApplied
	}
	return l.entries[0].AppliedRevision
}

// EntriesBetween 冲突检测的窗口 (base, upto]。
func (l *OperationLog) EntriesBetween(base, upto uint64) []LogEntry {
	var out []LogEntry
	for _, e := range l.entries {
		if e.AppliedRevision > base && e.AppliedRevision <= upto {
			out = append(out, e)
		}
	}
	return out
}

// Lookup 在保留窗口里找同 opId 的条目（幂等重试）。
func (l *OperationLog) Lookup(opID string) (LogEntry, bool) {
	for i := len(l.entries) - 1; i >= 0; i-- {
		if l.entries[i].Op.OpID == opID {
			return l.entries[i], true
		}
	}
	return LogEntry{}, false
}

// Prune 丢弃所有在线参与者都已看过的条目（appliedRevision <= minSeen）。
// 永远不裁掉某个已连接参与者可能还需要的版本。
func (l *OperationLog) Prune(minSeen uint64) {
	if minSeen > l.minSeen {
		l.minSeen = minSeen
	}
	i := 0
	for i < len(l.entries) && l.entries[i].AppliedRevision <= minSeen {
		i++
	}
	if i > 0 {
		l.entries = append(l.entries[:0], l.entries[i:]...)
	}
}

func (l *OperationLog) Len() int { return len(l.entries) }
