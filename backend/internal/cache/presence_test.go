package cache

import (
	"context"
	"testing"
	"time"

	redis "github.com/redis/go-redis/v9"
)

func newTestPresence(t *testing.T) (PresenceCache, *redis.Client) {
	t.Helper()
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:6379"})
	// 若 Redis 未启动则跳过
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		t.Skipf("skip: redis not available: %v", err)
	}
	return NewRedisPresence(rdb), rdb
}

func TestPresence_AddAndGetAlive(t *testing.T) {
	p, rdb := newTestPresence(t)
	ctx := context.Background()
	roomID := "room-presence-test"
	defer p.FlushRoom(ctx, roomID)
	defer rdb.Close()

	if err := p.AddMember(ctx, roomID, 1, "alice", 60*time.Second); err != nil {
		t.Fatalf("AddMember error: %v", err)
	}
	if err := p.AddMember(ctx, roomID, 2, "bob", 60*time.Second); err != nil {
		t.Fatalf("AddMember error: %v", err)
	}

	members, err := p.GetAliveMembersWithNames(ctx, roomID)
	if err != nil {
		t.Fatalf("GetAliveMembersWithNames error: %v", err)
	}
	if len(members) != 2 {
		t.Fatalf("alive members = %d, want 2", len(members))
	}
	names := map[uint64]string{}
	for _, m := range members {
		names[m.UserID] = m.Username
	}
	if names[1] != "alice" || names[2] != "bob" {
		t.Fatalf("member names = %v, want alice/bob", names)
	}
}

func TestPresence_ExpiredMemberIsCleaned(t *testing.T) {
	p, rdb := newTestPresence(t)
	ctx := context.Background()
	roomID := "room-presence-expire-test"
	defer p.FlushRoom(ctx, roomID)
	defer rdb.Close()

	// 逻辑 TTL 已经过去，lua 清理脚本应当把它删掉
	if err := p.AddMember(ctx, roomID, 3, "ghost", -1*time.Second); err != nil {
		t.Fatalf("AddMember error: %v", err)
	}

	members, err := p.GetAliveMembersWithNames(ctx, roomID)
	if err != nil {
		t.Fatalf("GetAliveMembersWithNames error: %v", err)
	}
	if len(members) != 0 {
		t.Fatalf("alive members = %v, want none", members)
	}
}

func TestPresence_RemoveMember(t *testing.T) {
	p, rdb := newTestPresence(t)
	ctx := context.Background()
	roomID := "room-presence-remove-test"
	defer p.FlushRoom(ctx, roomID)
	defer rdb.Close()

	if err := p.AddMember(ctx, roomID, 4, "carol", 60*time.Second); err != nil {
		t.Fatalf("AddMember error: %v", err)
	}
	if err := p.RemoveMember(ctx, roomID, 4); err != nil {
		t.Fatalf("RemoveMember error: %v", err)
	}
	members, err := p.GetAliveMembersWithNames(ctx, roomID)
	if err != nil {
		t.Fatalf("GetAliveMembersWithNames error: %v", err)
	}
	if len(members) != 0 {
		t.Fatalf("alive members = %v, want none after remove", members)
	}
}
