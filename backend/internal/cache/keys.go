package cache

import "fmt"

// 键语义：
// - roomKey(tripID):   行程房间在线成员（ZSet<participantId, expireAtUnix>，score=expireAt）
// - namesKey(tripID):  房间内 participantId→username 映射（Hash）
// - cursorKey(...):    参与者光标（String，JSON，带 TTL）

const (
	keyRoomFmt   = "presence:trip:{tripID:%s}"       // ZSet<participantId, expireAtUnix>
	keyNamesFmt  = "presence:trip:names:{tripID:%s}" // Hash<participantId -> username>
	keyCursorFmt = "presence:cursor:%s:%d"
)

func roomKey(tripID string) string  { return fmt.Sprintf(keyRoomFmt, tripID) }
func namesKey(tripID string) string { return fmt.Sprintf(keyNamesFmt, tripID) }
func cursorKey(tripID string, participantID uint64) string {
	return fmt.Sprintf(keyCursorFmt, tripID, participantID)
}
