package collab

import (
	"sync"
	"time"
)

type sessionState int

const (
	sessionActive sessionState = iota
	sessionDraining
)

// Session 一个行程的活跃协作状态：文档 + 操作日志 + 参与者。
// 三者只归本 Session 所有，所有变更都必须拿着 s.mu 进来——
// 这是冲突解析的正确性前提（resolver 假设自己每次面对的是一个一致的版本）。
// 不同行程各有各的 Session，互相完全并行。
type Session struct {
	mu       sync.Mutex
	tripID   string
	doc      *TripDocument
	log      *OperationLog
	presence *PresenceTracker

	state      sessionState
	graceTimer *time.Timer
	// 已被回收，持有旧指针的调用方不得再用
	defunct bool
}

func newSession(doc *TripDocument) *Session {
	return &Session{
		tripID:   doc.TripID(),
		doc:      doc,
		log:      NewOperationLog(doc.Revision()),
		presence: NewPresenceTracker(),
		state:    sessionActive,
	}
}

// applyOperation 把一个已被 resolver 接受的操作落到文档上。调用方持锁。
func (s *Session) applyOperation(op Operation) (uint64, error) {
	switch op.Kind {
	case KindSetField:
		return s.doc.ApplyField(op.Path, op.Value)
	case KindInsertItem:
		// resolver 已拦截空身份的插入，这里兜底
		if op.Item == nil {
			return 0, ErrInvalidOperation
		}
		return s.doc.ApplyListInsert(op.List, op.Index, *op.Item)
	case KindRemoveItem:
		return s.doc.ApplyListRemove(op.List, op.Index, op.ItemID)
	case KindMoveItem:
		return s.doc.ApplyListMove(op.List, op.Index, op.ToIndex, op.ItemID)
	}
	return 0, ErrConflictRejected
}

// cancelDrain 参与者在宽限期内回来了，取消回收。调用方持锁。
func (s *Session) cancelDrain() {
	if s.graceTimer != nil {
		s.graceTimer.Stop()
		s.graceTimer = nil
	}
	s.state = sessionActive
}
