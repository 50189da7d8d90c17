package cache

import "fmt"

// 键语义：
// - roomKey(roomID):  房间在线成员（ZSet<userId, expireAtUnix>，score=expireAt 表示"逻辑 TTL"）
// - namesKey(roomID): 房间内 userId→username 映射（Hash）

const (
	keyRoomFmt  = "presence:room:{roomID:%s}"       // ZSet<userId, expireAtUnix>
	keyNamesFmt = "presence:room:names:{roomID:%s}" // Hash<userId -> username>
)

func roomKey(roomID string) string  { return fmt.Sprintf(keyRoomFmt, roomID) }
func namesKey(roomID string) string { return fmt.Sprintf(keyNamesFmt, roomID) }
