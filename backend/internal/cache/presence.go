package cache

import (
	"context"
	"strconv"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// PresenceCache 跨实例可见的在线状态镜像。
// 会话内的 PresenceTracker 是权威，这里只是给其他服务（通知、社交统计）
// 和多实例部署看的视图，全部带 TTL，掉线自然过期。
type PresenceCache interface {
	AddMember(ctx context.Context, tripID string, participantID uint64, username string, ttl time.Duration) error
	RemoveMember(ctx context.Context, tripID string, participantID uint64) error
	GetTrips(ctx context.Context) ([]string, error)
	GetAliveMembersWithNames(ctx context.Context, tripID string) ([]PresenceMember, error)
	SetCursor(ctx context.Context, tripID string, participantID uint64, jsonData []byte, ttl time.Duration) error
	GetCursor(ctx context.Context, tripID string, participantID uint64) ([]byte, error)
}

// 具体实现：基于 redis 的 PresenceCache
type redisPresence struct {
	rdb redis.UniversalClient
}

type PresenceMember struct {
	ParticipantID uint64
	Username      string
}

func NewRedisPresence(rdb redis.UniversalClient) PresenceCache {
	return &redisPresence{rdb: rdb}
}

func (p *redisPresence) AddMember(ctx context.Context, tripID string, participantID uint64, username string, ttl time.Duration) error {
	// 刷新 TTL 也直接调用 AddMember 即可
	tx := p.rdb.TxPipeline()
	// ZSET score 使用 expireAt（Unix 秒），表达“逻辑 TTL”
	expireAt := time.Now().Add(ttl).Unix()
	tx.ZAdd(ctx, roomKey(tripID), redis.Z{Score: float64(expireAt), Member: participantID})
	// 名字表（Hash）
	tx.HSet(ctx, namesKey(tripID), participantID, username)
	_, err := tx.Exec(ctx)
	return err
}

func (p *redisPresence) RemoveMember(ctx context.Context, tripID string, participantID uint64) error {
	tx := p.rdb.TxPipeline()
	tx.ZRem(ctx, roomKey(tripID), participantID)
	tx.HDel(ctx, namesKey(tripID), strconv.FormatUint(participantID, 10))
	tx.Del(ctx, cursorKey(tripID, participantID))
	_, err := tx.Exec(ctx)
	return err
}

func (p *redisPresence) GetTrips(ctx context.Context) ([]string, error) {
	var trips []string
	iter := p.rdb.Scan(ctx, 0, "presence:trip:*", 0).Iterator()
	for iter.Next(ctx) {
		k := iter.Val()
		// namesKey 也以 presence:trip: 开头（presence:trip:names:{tripID:...}），要过滤掉
		if strings.Contains(k, ":names:") {
			continue
		}
		// 键形如 presence:trip:{tripID:xxx}，取出 xxx
		rest := strings.TrimPrefix(k, "presence:trip:")
		if !strings.HasPrefix(rest, "{tripID:") || !strings.HasSuffix(rest, "}") {
			continue
		}
		if tripID := rest[len("{tripID:") : len(rest)-1]; tripID != "" {
			trips = append(trips, tripID)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return trips, nil
}

func (p *redisPresence) SetCursor(ctx context.Context, tripID string, participantID uint64, jsonData []byte, ttl time.Duration) error {
	if err := p.rdb.Set(ctx, cursorKey(tripID, participantID), jsonData, ttl).Err(); err != nil {
		return err
	}
	return nil
}

func (p *redisPresence) GetCursor(ctx context.Context, tripID string, participantID uint64) ([]byte, error) {
	cursor, err := p.rdb.Get(ctx, cursorKey(tripID, participantID)).Bytes()
	if err != nil {
		return nil, err
	}
	return cursor, nil
}

func (p *redisPresence) GetAliveMembersWithNames(ctx context.Context, tripID string) ([]PresenceMember, error) {
	// step1: 清理过期成员
	// 约定：score=expireAt（Unix 秒），expireAt <= now 视为过期
	now := time.Now().Unix()
	luaScript := `
	-- KEYS[1] = roomKey(tripID)   e.g. presence:trip:{tripID}
	-- KEYS[2] = namesKey(tripID)  e.g. presence:trip:names:{tripID}
	-- ARGV[1] = now (unix seconds)

	local expired = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1])
	if #expired > 0 then
		redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", ARGV[1])
		redis.call("HDEL", KEYS[2], unpack(expired))
	end
	return #expired
	`

	script := redis.NewScript(luaScript)
	_, err := script.Run(ctx, p.rdb, []string{roomKey(tripID), namesKey(tripID)}, now).Int()
	if err != nil && err != redis.Nil {
		return nil, err
	}

	// step2: 查询在线成员
	aliveIDs, err := p.rdb.ZRangeByScore(ctx, roomKey(tripID), &redis.ZRangeBy{
		Min: "(" + strconv.FormatInt(now, 10), // > now
		Max: "+inf",
	}).Result()
	if err != nil && err != redis.Nil {
		return nil, err
	}
	if len(aliveIDs) == 0 {
		return nil, nil
	}
	// ZRangeByScore 返回 member 的字符串形式，解析回 uint64
	aliveIDsUint64 := make([]uint64, 0, len(aliveIDs))
	for _, aliveID := range aliveIDs {
		pid, err := strconv.ParseUint(aliveID, 10, 64)
		if err != nil {
			return nil, err
		}
		aliveIDsUint64 = append(aliveIDsUint64, pid)
	}

	// step3: 批量获取名字
	names, err := p.rdb.HMGet(ctx, namesKey(tripID), aliveIDs...).Result()
	if err != nil && err != redis.Nil {
		return nil, err
	}
	members := make([]PresenceMember, 0, len(aliveIDsUint64))
	for i, v := range names {
		name := ""
		if v != nil {
			name, _ = v.(string)
		}
		members = append(members, PresenceMember{ParticipantID: aliveIDsUint64[i], Username: name})
	}
	return members, nil
}
