package collab

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"
)

// SnapshotStore 持久化协作方。只在会话创建时读一次、回收时写一次，
// 编辑热路径上绝不碰它。
type SnapshotStore interface {
	// 无快照时返回 (0, "", nil)
	LoadTripSnapshot(ctx context.Context, tripID string) (uint64, string, error)
	SaveTripSnapshot(ctx context.Context, tripID string, revision uint64, payload string) error
}

// TripStore 行程元数据（建行程 / 标题查 ID）。
type TripStore interface {
	GetTripID(ctx context.Context, title string) (string, error)
	CreateTrip(ctx context.Context, ownerID uint64, title string) (string, error)
}

// Broadcaster 把一条已接受的操作推给行程房间里除 origin 之外的所有连接。
// 在会话锁内调用，房间里每个客户端看到的操作顺序就是应用顺序——
// 实现必须只做入队，不得阻塞。origin 是发起连接的标识，可为 nil。
type Broadcaster interface {
	BroadcastApplied(tripID string, origin any, entry LogEntry)
}

type CoordinatorOptions struct {
	// 最后一个参与者离开后，会话在内存里多活多久
	GraceDelay time.Duration
	// 回收落库失败的重试
	SaveMaxRetry    int
	SaveBaseBackoff time.Duration
}

// Coordinator 按 tripId 管理 Session 的生命周期：
// Empty -> Active（首个 join，从 store 加载快照）-> Draining（无人在线，计时）-> Empty（落库并释放）。
// 同一行程的所有变更经由该行程 Session 的互斥串行化；跨行程无共享可变状态。
type Coordinator struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	store SnapshotStore
	trips TripStore
	// 可为 nil（测试、或未接 Kafka 的部署）
	dispatcher *EventDispatcher
	// 可为 nil（测试）
	broadcaster Broadcaster

	opt CoordinatorOptions
}

func NewCoordinator(store SnapshotStore, trips TripStore, dispatcher *EventDispatcher, broadcaster Broadcaster, opt CoordinatorOptions) *Coordinator {
	if opt.GraceDelay <= 0 {
		opt.GraceDelay = 30 * time.Second
	}
	if opt.SaveMaxRetry <= 0 {
		opt.SaveMaxRetry = 3
	}
	if opt.SaveBaseBackoff <= 0 {
		opt.SaveBaseBackoff = 100 * time.Millisecond
	}
	return &Coordinator{
		sessions:    make(map[string]*Session),
		store:       store,
		trips:       trips,
		dispatcher:  dispatcher,
		broadcaster: broadcaster,
		opt:         opt,
	}
}

// JoinResult 下发给刚接入的参与者。
// Entries 非 nil 表示增量补发（resync）；否则 Snapshot 携带完整状态。
type JoinResult struct {
	Revision     uint64
	Snapshot     string
	Entries      []LogEntry
	Participants []Participant
}

type SubmitResult struct {
	Entry LogEntry
	// 幂等命中：同 opId 之前已应用，Entry 是当初的记录，文档没有再动
	Replayed bool
}

// getOrLoadSession 取指定行程的会话，没有则从持久层加载快照新建（Empty -> Active）。
func (c *Coordinator) getOrLoadSession(ctx context.Context, tripID string) (*Session, error) {
	c.mu.RLock()
	s := c.sessions[tripID]
	c.mu.RUnlock()
	if s != nil {
		return s, nil
	}

	// 预先加载，不拿着写锁做 IO
	rev, payload, err := c.store.LoadTripSnapshot(ctx, tripID)
	if err != nil {
		return nil, errors.Join(ErrPersistenceUnavailable, err)
	}
	doc, err := DocumentFromSnapshot(tripID, rev, payload)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	// double check：并发 join 可能已经建好了
	if s = c.sessions[tripID]; s == nil {
		s = newSession(doc)
		c.sessions[tripID] = s
	}
	return s, nil
}

// Join 参与者接入（或重连）。hasLastSeen 为真时尝试按 lastSeen 增量补发，
// 追不平（超出日志保留窗口）就退回完整快照。
func (c *Coordinator) Join(ctx context.Context, tripID string, participantID uint64, username string, lastSeen uint64, hasLastSeen bool) (JoinResult, error) {
	s, err := c.getOrLoadSession(ctx, tripID)
	if err != nil {
		return JoinResult{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.defunct {
		// 在我们拿到指针和拿到锁之间被回收了，重走一遍加载
		return c.Join(ctx, tripID, participantID, username, lastSeen, hasLastSeen)
	}
	s.cancelDrain()
	s.presence.Join(participantID, username, lastSeen)

	res := JoinResult{
		Revision:     s.doc.Revision(),
		Participants: s.presence.ActiveParticipants(),
	}

	if hasLastSeen {
		entries := s.log.EntriesSince(lastSeen)
		// 只有日志能严丝合缝补到当前版本才走增量，否则全量
		if lastSeen+uint64(len(entries)) == s.doc.Revision() {
			res.Entries = entries
			if res.Entries == nil {
				res.Entries = []LogEntry{}
			}
			return res, nil
		}
	}

	_, payload, err := s.snapshotLocked()
	if err != nil {
		return JoinResult{}, err
	}
	res.Snapshot = payload
	return res, nil
}

// Leave 参与者离开，返回余下的在线参与者（给调用方广播 presence 变更）。
// 最后一个在线者走掉后进入 Draining，起宽限计时。
func (c *Coordinator) Leave(tripID string, participantID uint64) []Participant {
	c.mu.RLock()
	s := c.sessions[tripID]
	c.mu.RUnlock()
	if s == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.defunct {
		return nil
	}
	s.presence.Leave(participantID)
	remaining := s.presence.ActiveParticipants()
	if len(remaining) == 0 && s.state != sessionDraining {
		s.state = sessionDraining
		s.graceTimer = time.AfterFunc(c.opt.GraceDelay, func() { c.evict(s) })
	}
	return remaining
}

// Submit 提交一个操作。整个 解析→应用→记日志→裁剪→广播→发事件 在会话锁内完成，
// 同一行程严格一次一个——房间广播也在锁内入队，保证所有连接看到的顺序
// 就是版本号顺序。origin 是发起连接，广播时跳过（它单独收 ack）。
func (c *Coordinator) Submit(ctx context.Context, authorID uint64, origin any, op Operation) (SubmitResult, error) {
	s, err := c.getOrLoadSession(ctx, op.TripID)
	if err != nil {
		return SubmitResult{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.defunct {
		return c.Submit(ctx, authorID, origin, op)
	}

	res, err := Resolve(op, s.doc, s.log)
	if err != nil {
		return SubmitResult{}, err
	}
	if res.Replayed {
		return SubmitResult{Entry: res.Prev, Replayed: true}, nil
	}

	newRev, err := s.applyOperation(res.Op)
	if err != nil {
		return SubmitResult{}, err
	}

	entry := LogEntry{
		Op:              res.Op,
		AppliedRevision: newRev,
		AppliedAt:       time.Now(),
		AuthorID:        authorID,
	}
	if err := s.log.Append(entry); err != nil {
		// 内部一致性已破坏：会话级故障。丢弃内存态，下一次 join 从快照重建。
		log.Printf("oplog append failed, tearing down session trip=%s: %v", s.tripID, err)
		c.removeSession(s)
		return SubmitResult{}, err
	}

	// 作者确认看过的只有 baseRevision；新版本要等广播回执（MarkSeen）。
	// 否则独自编辑时条目刚写进日志就被裁掉，ack 丢失后的重发没法去重。
	s.presence.MarkSeen(authorID, res.Op.BaseRevision)
	s.log.Prune(s.presence.MinSeenRevision(newRev))

	// 幂等命中在上面就返回了，走到这里的都是真实应用过的操作
	if c.broadcaster != nil {
		c.broadcaster.BroadcastApplied(s.tripID, origin, entry)
	}
	if c.dispatcher != nil {
		// 非阻塞：队列满就丢，绝不拖住编辑主链路
		if err := c.dispatcher.TryEnqueue(eventFromEntry(entry)); err != nil {
			log.Printf("drop op event trip=%s op=%s: %v", s.tripID, entry.Op.OpID, err)
		}
	}

	return SubmitResult{Entry: entry}, nil
}

// UpdateCursor presence 变更，不过冲突解析、不进日志。
// 返回当前参与者列表给调用方广播。
func (c *Coordinator) UpdateCursor(tripID string, participantID uint64, path string) ([]Participant, error) {
	c.mu.RLock()
	s := c.sessions[tripID]
	c.mu.RUnlock()
	if s == nil {
		return nil, ErrSessionNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.presence.UpdateCursor(participantID, path); err != nil {
		return nil, err
	}
	return s.presence.ActiveParticipants(), nil
}

// MarkSeen 参与者确认已收到某版本（广播送达回执）。驱动日志裁剪水位。
func (c *Coordinator) MarkSeen(tripID string, participantID uint64, revision uint64) {
	c.mu.RLock()
	s := c.sessions[tripID]
	c.mu.RUnlock()
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.presence.MarkSeen(participantID, revision)
	s.log.Prune(s.presence.MinSeenRevision(s.doc.Revision()))
}

func (c *Coordinator) CurrentRevision(tripID string) (uint64, bool) {
	c.mu.RLock()
	s := c.sessions[tripID]
	c.mu.RUnlock()
	if s == nil {
		return 0, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.Revision(), true
}

// Snapshot 活跃会话的当前状态（save_trip / load_trip 用）。
func (c *Coordinator) Snapshot(tripID string) (uint64, string, error) {
	c.mu.RLock()
	s := c.sessions[tripID]
	c.mu.RUnlock()
	if s == nil {
		return 0, "", ErrSessionNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// SaveSnapshot 显式落库（客户端 save_trip）。与回收走同一条快照路径。
func (c *Coordinator) SaveSnapshot(ctx context.Context, tripID string) error {
	rev, payload, err := c.Snapshot(tripID)
	if err != nil {
		return err
	}
	if err := c.store.SaveTripSnapshot(ctx, tripID, rev, payload); err != nil {
		return errors.Join(ErrPersistenceUnavailable, err)
	}
	return nil
}

func (c *Coordinator) GetTripID(ctx context.Context, title string) (string, error) {
	return c.trips.GetTripID(ctx, title)
}

func (c *Coordinator) CreateTrip(ctx context.Context, ownerID uint64, title string) (string, error) {
	return c.trips.CreateTrip(ctx, ownerID, title)
}

// evict 宽限计时到点。仍无人在线就落库并释放内存态。
// 落库带退避重试；重试耗尽只打日志，状态照样释放（已知的数据丢失风险，有意为之）。
func (c *Coordinator) evict(s *Session) {
	s.mu.Lock()
	if s.defunct || s.state != sessionDraining || s.presence.ConnectedCount() > 0 {
		s.mu.Unlock()
		return
	}
	rev, payload, err := s.snapshotLocked()
	c.removeSession(s)
	s.mu.Unlock()

	if err != nil {
		log.Printf("snapshot on evict failed trip=%s: %v", s.tripID, err)
		return
	}

	for attempt := 0; attempt <= c.opt.SaveMaxRetry; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err = c.store.SaveTripSnapshot(ctx, s.tripID, rev, payload)
		cancel()
		if err == nil {
			return
		}
		if attempt == c.opt.SaveMaxRetry {
			break
		}
		backoff := c.opt.SaveBaseBackoff * time.Duration(1<<attempt)
		time.Sleep(backoff)
	}
	log.Printf("save snapshot failed after retries, state discarded trip=%s rev=%d: %v", s.tripID, rev, err)
}

// removeSession 标记 defunct 并从 map 摘除。调用方持 s.mu。
func (c *Coordinator) removeSession(s *Session) {
	s.defunct = true
	if s.graceTimer != nil {
		s.graceTimer.Stop()
		s.graceTimer = nil
	}
	c.mu.Lock()
	if c.sessions[s.tripID] == s {
		delete(c.sessions, s.tripID)
	}
	c.mu.Unlock()
}

func (s *Session) snapshotLocked() (uint64, string, error) {
	return s.doc.Snapshot()
}
