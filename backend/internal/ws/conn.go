package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"gorm.io/gorm"

	"planoraCollab/backend/internal/collab"
)

const presenceTTL = 600 * time.Second

type Conn struct {
	ws       *websocket.Conn
	hub      *Hub
	tripID   string
	userID   uint64
	username string
	// goroutine 间的出站队列，writeLoop 独占消费
	send chan OutboundMessage
	// 会话协调器
	coord *collab.Coordinator
	// 信号量控制
	sem *collab.SemaphoreControl
}

func NewConn(ws *websocket.Conn, hub *Hub, userID uint64, username string, coord *collab.Coordinator, sem *collab.SemaphoreControl) *Conn {
	return &Conn{ws: ws, hub: hub, userID: userID, username: username, send: make(chan OutboundMessage, 32), coord: coord, sem: sem}
}

func (c *Conn) SendMessage_Enqueue(msg OutboundMessage) {
	select {
	case c.send <- msg:
	default:
		// 队列满了就丢。补发靠重连时的 resync，不靠这条队列
	}
}

func (c *Conn) handleOpSubmit(ctx context.Context, op collab.Operation) {
	submitCtx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
	defer cancel()

	if err := c.sem.Acquire(submitCtx); err != nil {
		c.SendMessage_Enqueue(ServerMessage{Type: "error", Content: err.Error()})
		return
	}
	defer c.sem.Release()

	// 房间广播由 Coordinator 在会话锁内完成（顺序与版本号一致），这里只回 ack
	res, err := c.coord.Submit(submitCtx, c.userID, c, op)
	if err != nil {
		c.handleSubmitError(op, err)
		return
	}

	c.SendMessage_Enqueue(OpAppliedMessage{
		Type:            "op_applied",
		TripID:          op.TripID,
		OpID:            res.Entry.Op.OpID,
		BaseRevision:    op.BaseRevision,
		AppliedRevision: res.Entry.AppliedRevision,
	})
}

func (c *Conn) handleSubmitError(op collab.Operation, err error) {
	switch {
	case errors.Is(err, collab.ErrConflictRejected):
		// 只打给提交者，其他参与者不受影响
		c.SendMessage_Enqueue(OpRejectedMessage{Type: "op_rejected", TripID: op.TripID, OpID: op.OpID, Reason: "CONFLICT_REJECTED"})

	case errors.Is(err, collab.ErrInvalidOperation):
		c.SendMessage_Enqueue(OpRejectedMessage{Type: "op_rejected", TripID: op.TripID, OpID: op.OpID, Reason: "INVALID_OPERATION"})

	case errors.Is(err, collab.ErrInvalidRevision):
		// 协议违规（客户端 bug 或重放），回一条后断开该连接
		c.SendMessage_Enqueue(OpRejectedMessage{Type: "op_rejected", TripID: op.TripID, OpID: op.OpID, Reason: "INVALID_REVISION"})
		_ = c.ws.Close()

	case errors.Is(err, collab.ErrOutOfOrder):
		// 会话级故障：内存态已被丢弃，通知整个房间重新接入
		log.Printf("session torn down trip=%s op=%s: %v", op.TripID, op.OpID, err)
		c.hub.BroadcastServer(op.TripID, ServerMessage{Type: "resync_required", TripID: op.TripID})

	case errors.Is(err, collab.ErrPersistenceUnavailable):
		c.SendMessage_Enqueue(OpRejectedMessage{Type: "op_rejected", TripID: op.TripID, OpID: op.OpID, Reason: "PERSISTENCE_UNAVAILABLE"})

	default:
		c.SendMessage_Enqueue(ServerMessage{Type: "error", Content: err.Error()})
	}
}

func (c *Conn) handleJoin(ctx context.Context, msg ClientMessage) {
	tripID := msg.TripID
	if tripID == "" && msg.TripTitle != "" {
		id, err := c.coord.GetTripID(ctx, msg.TripTitle)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.SendMessage_Enqueue(ServerMessage{Type: "error", Content: "TRIP_NOT_FOUND"})
				return
			}
			log.Printf("get trip id error: %v", err)
			c.SendMessage_Enqueue(ServerMessage{Type: "error", Content: "GET_TRIPID_FAILED"})
			return
		}
		tripID = id
	}
	if tripID == "" {
		c.SendMessage_Enqueue(ServerMessage{Type: "error", Content: "missing tripId"})
		return
	}

	var lastSeen uint64
	hasLastSeen := msg.LastSeenRevision != nil
	if hasLastSeen {
		lastSeen = *msg.LastSeenRevision
	}

	res, err := c.coord.Join(ctx, tripID, c.userID, c.username, lastSeen, hasLastSeen)
	if err != nil {
		if errors.Is(err, collab.ErrPersistenceUnavailable) {
			c.SendMessage_Enqueue(ServerMessage{Type: "error", TripID: tripID, Content: "PERSISTENCE_UNAVAILABLE"})
			return
		}
		log.Printf("join error (user=%d, trip=%s): %v", c.userID, tripID, err)
		c.SendMessage_Enqueue(ServerMessage{Type: "error", TripID: tripID, Content: "JOIN_FAILED"})
		return
	}

	if c.tripID != "" && c.tripID != tripID {
		// 先离开旧房间
		c.hub.Leave(c.tripID, c)
		c.coord.Leave(c.tripID, c.userID)
	}
	c.tripID = tripID
	c.hub.Join(tripID, c)
	if err := c.hub.presence.AddMember(ctx, tripID, c.userID, c.username, presenceTTL); err != nil {
		log.Printf("add presence member error: %v", err)
	}

	joined := JoinedMessage{
		Type:         "joined",
		TripID:       tripID,
		Revision:     res.Revision,
		Participants: toMembers(res.Participants),
	}
	if res.Entries != nil {
		joined.Entries = res.Entries
	} else {
		joined.Snapshot = json.RawMessage(res.Snapshot)
	}
	c.SendMessage_Enqueue(joined)

	// 补发送达即视为追平到当前版本
	c.coord.MarkSeen(tripID, c.userID, res.Revision)
	c.hub.BroadcastPresence(tripID, res.Participants)
}

func (c *Conn) leaveCurrent(ctx context.Context) {
	if c.tripID == "" {
		return
	}
	tripID := c.tripID
	c.tripID = ""
	c.hub.Leave(tripID, c)
	remaining := c.coord.Leave(tripID, c.userID)
	if err := c.hub.presence.RemoveMember(ctx, tripID, c.userID); err != nil {
		log.Printf("remove presence member error: %v", err)
	}
	c.hub.BroadcastPresence(tripID, remaining)
}

func (c *Conn) readLoop(ctx context.Context) {
	defer close(c.send)
	// 连接断掉也要把参与者从会话里摘出去，否则 Draining 永远不会开始
	defer c.leaveCurrent(context.Background())

	for {
		var clientMessage ClientMessage
		if err := c.ws.ReadJSON(&clientMessage); err != nil {
			log.Printf("read json error (user=%d, trip=%s): %v", c.userID, c.tripID, err)
			return
		}
		switch clientMessage.Type {
		case "heartbeat":
			if c.tripID != "" {
				if err := c.hub.presence.AddMember(ctx, c.tripID, c.userID, c.username, presenceTTL); err != nil {
					log.Printf("refresh presence error: %v", err)
				}
			}
			c.SendMessage_Enqueue(ServerMessage{Type: "feedback", Content: "Heartbeat received"})

		case "create_trip":
			tripID, err := c.coord.CreateTrip(ctx, c.userID, clientMessage.TripTitle)
			if err != nil {
				log.Printf("create trip error: %v", err)
				c.SendMessage_Enqueue(ServerMessage{Type: "error", Content: "CREATE_TRIP_FAILED"})
				continue
			}
			c.SendMessage_Enqueue(ServerMessage{Type: "create_trip", TripID: tripID,
				Content: "Trip " + tripID + " created by user " + strconv.FormatUint(c.userID, 10)})

		case "join_trip":
			c.handleJoin(ctx, clientMessage)

		case "op_submit":
			if clientMessage.Op == nil {
				c.SendMessage_Enqueue(ServerMessage{Type: "error", Content: "missing op"})
				continue
			}
			op := *clientMessage.Op
			if op.TripID == "" {
				op.TripID = c.tripID
			}
			if op.OpID == "" {
				// 客户端没给 opId 就没法幂等重试，服务端兜底生成一个
				op.OpID = uuid.NewString()
			}
			if op.Kind == collab.KindInsertItem && op.Item != nil && op.Item.ItemID == "" {
				op.Item.ItemID = uuid.NewString()
			}
			c.handleOpSubmit(ctx, op)

		case "cursor_update":
			tripID := clientMessage.TripID
			if tripID == "" {
				tripID = c.tripID
			}
			if _, err := c.coord.UpdateCursor(tripID, c.userID, clientMessage.Path); err != nil {
				log.Printf("cursor update error (user=%d, trip=%s): %v", c.userID, tripID, err)
				continue
			}
			if b, err := json.Marshal(map[string]string{"path": clientMessage.Path}); err == nil {
				_ = c.hub.presence.SetCursor(ctx, tripID, c.userID, b, presenceTTL)
			}
			c.hub.BroadcastCursor(tripID, c.userID, clientMessage.Path)

		case "leave_trip":
			c.leaveCurrent(ctx)
			c.SendMessage_Enqueue(ServerMessage{Type: "leave_trip", Content: "left"})

		case "save_trip":
			tripID := clientMessage.TripID
			if tripID == "" {
				tripID = c.tripID
			}
			if err := c.coord.SaveSnapshot(ctx, tripID); err != nil {
				log.Printf("save trip error: %v", err)
				c.SendMessage_Enqueue(ServerMessage{Type: "save_trip", TripID: tripID, Content: "Trip " + tripID + " save failed"})
				continue
			}
			c.SendMessage_Enqueue(ServerMessage{Type: "save_trip", TripID: tripID, Content: "Trip " + tripID + " saved"})

		case "load_trip":
			tripID := clientMessage.TripID
			if tripID == "" {
				tripID = c.tripID
			}
			rev, payload, err := c.coord.Snapshot(tripID)
			if err != nil {
				log.Printf("load trip error: %v", err)
				c.SendMessage_Enqueue(ServerMessage{Type: "error", TripID: tripID, Content: "LOAD_TRIP_FAILED"})
				continue
			}
			c.SendMessage_Enqueue(FullSnapshotMessage{Type: "full_snapshot", TripID: tripID, Revision: rev, Snapshot: json.RawMessage(payload)})

		case "show_alive_members":
			tripID := clientMessage.TripID
			if tripID == "" {
				tripID = c.tripID
			}
			members, err := c.hub.presence.GetAliveMembersWithNames(ctx, tripID)
			if err != nil {
				log.Printf("get alive members with names error: %v", err)
			}
			memberList := make([]PresenceMember, len(members))
			for i, m := range members {
				memberList[i] = PresenceMember{ParticipantID: m.ParticipantID, Username: m.Username}
			}
			c.SendMessage_Enqueue(ServerMessage{Type: "show_alive_members", TripID: tripID, Members: memberList})

		default:
			// 忽略未知类型，回一条提示
			c.SendMessage_Enqueue(ServerMessage{Type: "ignored", Content: "Unknown message type"})
		}
	}
}

func (c *Conn) writeLoop() {
	// 持续消费通道里的出站消息
	for msg := range c.send {
		_ = c.ws.WriteJSON(msg)
	}
}
